package busgate

import (
	"encoding/json"
	"testing"

	"github.com/busgate/busgate/fragments"
	"github.com/google/go-cmp/cmp"
)

func TestAppendValueWire(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		in   any
		want []byte
	}{
		{"string", "s", "foo", []byte{
			0, 0, 0, 3, 'f', 'o', 'o', 0,
		}},
		{"object path", "o", "/a/b", []byte{
			0, 0, 0, 4, '/', 'a', '/', 'b', 0,
		}},
		{"signature", "g", "a{sv}", []byte{
			5, 'a', '{', 's', 'v', '}', 0,
		}},
		{"int32", "i", json.Number("42"), []byte{
			0, 0, 0, 42,
		}},
		{"negative int32", "i", json.Number("-1"), []byte{
			0xff, 0xff, 0xff, 0xff,
		}},
		{"byte", "y", json.Number("255"), []byte{
			0xff,
		}},
		{"uint16", "q", json.Number("513"), []byte{
			0x02, 0x01,
		}},
		{"int64", "x", json.Number("-2"), []byte{
			0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe,
		}},
		{"integer widens to double", "d", json.Number("2"), []byte{
			0x40, 0x00, 0, 0, 0, 0, 0, 0,
		}},
		{"bool true", "b", true, []byte{
			0, 0, 0, 1,
		}},
		{"bool from integer", "b", json.Number("1"), []byte{
			0, 0, 0, 1,
		}},
		{"bool from zero", "b", json.Number("0"), []byte{
			0, 0, 0, 0,
		}},
		{"bool from string", "b", "true", []byte{
			0, 0, 0, 1,
		}},
		{"bool from other string", "b", "nope", []byte{
			0, 0, 0, 0,
		}},
		{"string array", "as", []any{"fo", "obar"}, []byte{
			0, 0, 0, 17, // array length
			0, 0, 0, 2, 'f', 'o', 0,
			0, // pad
			0, 0, 0, 4, 'o', 'b', 'a', 'r', 0,
		}},
		{"struct", "(yq)", []any{json.Number("1"), json.Number("2")}, []byte{
			1,
			0, // pad
			0, 2,
		}},
		{"variant with declared type", "v", Variant{Sig: "y", Value: json.Number("7")}, []byte{
			1, 'y', 0,
			7,
		}},
		{"variant inferred string", "v", "hi", []byte{
			1, 's', 0,
			0, // pad
			0, 0, 0, 2, 'h', 'i', 0,
		}},
		{"dict sorts keys", "a{sy}", map[string]any{
			"b": json.Number("2"),
			"a": json.Number("1"),
		}, []byte{
			0, 0, 0, 15, // array length
			0, 0, 0, 0, // struct padding
			0, 0, 0, 1, 'a', 0,
			1,
			0, // pad to next entry
			0, 0, 0, 1, 'b', 0,
			2,
		}},
	}

	for _, tc := range tests {
		e := &fragments.Encoder{Order: fragments.BigEndian}
		if err := AppendValue(e, tc.sig, tc.in); err != nil {
			t.Errorf("%s: AppendValue(%q, %v): %v", tc.name, tc.sig, tc.in, err)
			continue
		}
		if diff := cmp.Diff(e.Out, tc.want); diff != "" {
			t.Errorf("%s: wire diff (-got+want):\n%s", tc.name, diff)
		}
	}
}

func TestAppendValueMultiToken(t *testing.T) {
	e := &fragments.Encoder{Order: fragments.BigEndian}
	err := AppendValue(e, "sy", []any{"a", json.Number("7")})
	if err != nil {
		t.Fatalf("AppendValue: %v", err)
	}
	want := []byte{
		0, 0, 0, 1, 'a', 0,
		7,
	}
	if diff := cmp.Diff(e.Out, want); diff != "" {
		t.Errorf("wire diff (-got+want):\n%s", diff)
	}
}

func TestMarshalBodyErrors(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		args []any
	}{
		{"bool from double", "b", []any{json.Number("3.14")}},
		{"int from double", "i", []any{json.Number("3.5")}},
		{"string from number", "s", []any{json.Number("1")}},
		{"number from string", "u", []any{"1"}},
		{"array from scalar", "as", []any{"x"}},
		{"dict from array", "a{sv}", []any{[]any{}}},
		{"struct missing member", "(ss)", []any{[]any{"only"}}},
		{"fewer args than tokens", "ss", []any{"one"}},
		{"bad signature", "z", []any{"x"}},
		{"unbalanced signature", "(s", []any{[]any{"x"}}},
		{"variant with composite signature", "v", []any{Variant{Sig: "ss", Value: []any{"a", "b"}}}},
	}

	for _, tc := range tests {
		if _, err := marshalBody(tc.sig, tc.args); err == nil {
			t.Errorf("%s: marshalBody(%q, %v) unexpectedly succeeded", tc.name, tc.sig, tc.args)
		}
	}
}

func TestNumberCoercion(t *testing.T) {
	// An unsigned value may stand in for a signed slot and vice
	// versa; a double fits neither integer slot, and integers widen
	// to doubles.
	if _, err := marshalBody("x", []any{json.Number("18446744073709551615")}); err != nil {
		t.Errorf("uint64 max into signed slot: %v", err)
	}
	if _, err := marshalBody("t", []any{json.Number("-1")}); err != nil {
		t.Errorf("negative into unsigned slot: %v", err)
	}
	if _, err := marshalBody("d", []any{json.Number("9007199254740993")}); err != nil {
		t.Errorf("large integer into double slot: %v", err)
	}
	if _, err := marshalBody("x", []any{json.Number("0.5")}); err == nil {
		t.Error("double into signed slot unexpectedly succeeded")
	}
}
