package busgate

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/busgate/busgate/fragments"
	"github.com/google/go-cmp/cmp"
)

func TestMessageRoundTrip(t *testing.T) {
	body, err := marshalBody("su", []any{"GetObject", json.Number("42")})
	if err != nil {
		t.Fatalf("marshalBody: %v", err)
	}
	h := &header{
		Type:        msgTypeCall,
		Serial:      7,
		Path:        "/xyz/openbmc_project/object_mapper",
		Interface:   "xyz.openbmc_project.ObjectMapper",
		Member:      "GetObject",
		Destination: "xyz.openbmc_project.ObjectMapper",
		Signature:   "su",
	}
	bs, err := marshalMsg(h, body)
	if err != nil {
		t.Fatalf("marshalMsg: %v", err)
	}

	d := &fragments.Decoder{Order: fragments.NativeEndian, In: bytes.NewBuffer(bs)}
	got, err := readHeader(d)
	if err != nil {
		t.Fatalf("readHeader: %v", err)
	}
	if got.Length != uint32(len(body)) {
		t.Errorf("Length = %d, want %d", got.Length, len(body))
	}
	if got.Order == nil {
		t.Error("Order not recorded from the byte order flag")
	}
	got.Order = nil
	want := &header{
		Type:        msgTypeCall,
		Length:      uint32(len(body)),
		Serial:      7,
		Path:        h.Path,
		Interface:   h.Interface,
		Member:      h.Member,
		Destination: h.Destination,
		Signature:   h.Signature,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("header diff (-got+want):\n%s", diff)
	}

	args, err := readBody(d, got.Signature)
	if err != nil {
		t.Fatalf("readBody: %v", err)
	}
	wantArgs := []any{"GetObject", uint32(42)}
	if diff := cmp.Diff(args, wantArgs); diff != "" {
		t.Errorf("body diff (-got+want):\n%s", diff)
	}
}

func TestMessageEmptyBody(t *testing.T) {
	h := &header{
		Type:   msgTypeReturn,
		Serial: 3,

		ReplySerial: 7,
		Destination: ":1.42",
	}
	bs, err := marshalMsg(h, nil)
	if err != nil {
		t.Fatalf("marshalMsg: %v", err)
	}
	if len(bs)%8 != 0 {
		t.Errorf("empty-body message length %d is not 8-aligned", len(bs))
	}

	d := &fragments.Decoder{Order: fragments.NativeEndian, In: bytes.NewBuffer(bs)}
	got, err := readHeader(d)
	if err != nil {
		t.Fatalf("readHeader: %v", err)
	}
	if got.Length != 0 {
		t.Errorf("Length = %d, want 0", got.Length)
	}
	if got.ReplySerial != 7 {
		t.Errorf("ReplySerial = %d, want 7", got.ReplySerial)
	}
}

func TestHeaderValid(t *testing.T) {
	tests := []struct {
		name    string
		h       header
		wantErr bool
	}{
		{"zero serial", header{Type: msgTypeCall, Path: "/a", Member: "M"}, true},
		{"zero type", header{Serial: 1}, true},
		{"call ok", header{Type: msgTypeCall, Serial: 1, Path: "/a", Member: "M"}, false},
		{"call no path", header{Type: msgTypeCall, Serial: 1, Member: "M"}, true},
		{"call no member", header{Type: msgTypeCall, Serial: 1, Path: "/a"}, true},
		{"return ok", header{Type: msgTypeReturn, Serial: 1, ReplySerial: 2}, false},
		{"return no reply serial", header{Type: msgTypeReturn, Serial: 1}, true},
		{"error ok", header{Type: msgTypeError, Serial: 1, ReplySerial: 2, ErrName: "org.Err"}, false},
		{"error no name", header{Type: msgTypeError, Serial: 1, ReplySerial: 2}, true},
		{"signal ok", header{Type: msgTypeSignal, Serial: 1, Path: "/a", Interface: "org.I", Member: "S"}, false},
		{"signal no interface", header{Type: msgTypeSignal, Serial: 1, Path: "/a", Member: "S"}, true},
		{"unknown type ok", header{Type: 9, Serial: 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.h.Valid()
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Errorf("Valid() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHeaderWantReply(t *testing.T) {
	h := header{Type: msgTypeCall}
	if !h.WantReply() {
		t.Error("call without noreply flag should want a reply")
	}
	h.Flags = 0x1
	if h.WantReply() {
		t.Error("call with noreply flag should not want a reply")
	}
	s := header{Type: msgTypeSignal}
	if s.WantReply() {
		t.Error("signal should never want a reply")
	}
}
