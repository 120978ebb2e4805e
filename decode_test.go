package busgate

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/busgate/busgate/fragments"
	"github.com/google/go-cmp/cmp"
)

func roundTrip(t *testing.T, sig string, args []any) []any {
	t.Helper()
	body, err := marshalBody(sig, args)
	if err != nil {
		t.Fatalf("marshalBody(%q, %v): %v", sig, args, err)
	}
	d := &fragments.Decoder{
		Order: fragments.NativeEndian,
		In:    bytes.NewBuffer(body),
	}
	got, err := readBody(d, sig)
	if err != nil {
		t.Fatalf("readBody(%q): %v", sig, err)
	}
	return got
}

func TestReadBodyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		in   []any
		want []any
	}{
		{
			"scalars",
			"sybqniuxtd",
			[]any{
				"hello",
				json.Number("7"),
				json.Number("513"),
				json.Number("99"),
				json.Number("-3"),
				json.Number("-70000"),
				json.Number("70000"),
				json.Number("-5"),
				json.Number("5"),
				json.Number("1.5"),
			},
			[]any{
				"hello",
				uint8(7),
				true,
				uint16(99),
				int16(-3),
				int32(-70000),
				uint32(70000),
				int64(-5),
				uint64(5),
				float64(1.5),
			},
		},
		{
			"string array",
			"as",
			[]any{[]any{"a", "bc", "def"}},
			[]any{[]any{"a", "bc", "def"}},
		},
		{
			"struct array",
			"a(sy)",
			[]any{[]any{
				[]any{"a", json.Number("1")},
				[]any{"b", json.Number("2")},
			}},
			[]any{[]any{
				[]any{"a", uint8(1)},
				[]any{"b", uint8(2)},
			}},
		},
		{
			"bare struct",
			"(sis)",
			[]any{[]any{"up", json.Number("3"), "down"}},
			[]any{[]any{"up", int32(3), "down"}},
		},
		{
			"nested struct",
			"(s(yy))",
			[]any{[]any{"pair", []any{json.Number("1"), json.Number("2")}}},
			[]any{[]any{"pair", []any{uint8(1), uint8(2)}}},
		},
		{
			"string triple array",
			"a(sss)",
			[]any{[]any{
				[]any{"assoc", "endpoint", "/xyz/a"},
				[]any{"assoc", "endpoint", "/xyz/b"},
			}},
			[]any{[]any{
				[]any{"assoc", "endpoint", "/xyz/a"},
				[]any{"assoc", "endpoint", "/xyz/b"},
			}},
		},
		{
			"empty array",
			"ai",
			[]any{[]any{}},
			[]any{[]any{}},
		},
		{
			"dict of variants",
			"a{sv}",
			[]any{map[string]any{
				"Name":  Variant{Sig: "s", Value: "eth0"},
				"Speed": Variant{Sig: "u", Value: json.Number("1000")},
			}},
			[]any{map[string]any{
				"Name":  Variant{Sig: "s", Value: "eth0"},
				"Speed": Variant{Sig: "u", Value: uint32(1000)},
			}},
		},
		{
			"object path and signature",
			"og",
			[]any{"/a/b", "a{sv}"},
			[]any{"/a/b", "a{sv}"},
		},
		{
			"nested variant",
			"v",
			[]any{Variant{Sig: "as", Value: []any{"x"}}},
			[]any{Variant{Sig: "as", Value: []any{"x"}}},
		},
	}

	for _, tc := range tests {
		got := roundTrip(t, tc.sig, tc.in)
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("%s: round trip diff (-got+want):\n%s", tc.name, diff)
		}
	}
}

func TestKeyString(t *testing.T) {
	// Non-string dict keys become JSON object keys by formatting.
	if got := keyString(uint8(250)); got != "250" {
		t.Errorf("keyString(250) = %q", got)
	}
	if got := keyString(true); got != "true" {
		t.Errorf("keyString(true) = %q", got)
	}
	if got := keyString("x"); got != "x" {
		t.Errorf("keyString(%q) = %q", "x", got)
	}
}

func TestLegacyValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"true becomes 1", true, 1},
		{"false becomes 0", false, 0},
		{"variant unwraps", Variant{Sig: "b", Value: true}, 1},
		{"scalars pass through", int32(-4), int32(-4)},
		{
			"recursive",
			map[string]any{
				"Enabled": Variant{Sig: "b", Value: true},
				"Names":   []any{"a", Variant{Sig: "b", Value: false}},
			},
			map[string]any{
				"Enabled": 1,
				"Names":   []any{"a", 0},
			},
		},
	}

	for _, tc := range tests {
		if diff := cmp.Diff(legacyValue(tc.in), tc.want); diff != "" {
			t.Errorf("%s: diff (-got+want):\n%s", tc.name, diff)
		}
	}
}
