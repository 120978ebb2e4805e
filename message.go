package busgate

import (
	"fmt"

	"github.com/busgate/busgate/fragments"
)

// msgType is the type of a DBus message.
type msgType byte

const (
	msgTypeCall msgType = iota + 1
	msgTypeReturn
	msgTypeError
	msgTypeSignal
)

// protoVersion is the DBus protocol version the gateway speaks.
const protoVersion = 1

// Header field keys, in wire order.
const (
	fieldPath = iota + 1
	fieldInterface
	fieldMember
	fieldErrName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
	fieldNumFDs
)

// header is a DBus message header.
type header struct {
	// Order is the byte order the message was encoded with.
	Order fragments.ByteOrder
	// Type is the message's type.
	Type msgType
	// Flags is the message's flag byte.
	Flags byte
	// Length is the length of the message body, not including the
	// header or padding between header and body.
	Length uint32
	// Serial is the serial for this message. It must be non-zero.
	Serial uint32

	// Path is the target object for a call, or the source object
	// for a signal.
	Path ObjectPath
	// Interface is the interface to target for a call, or the
	// source interface for a signal.
	Interface string
	// Member is the method name for a call, or signal name for a
	// signal.
	Member string
	// ErrName is the name of the error that occurred. Required for
	// msgTypeError.
	ErrName string
	// ReplySerial is the message serial to which this message is
	// replying. Required for msgTypeReturn and msgTypeError.
	ReplySerial uint32
	// Destination is the target for a message.
	Destination string
	// Sender is the client ID of the message sender.
	Sender string
	// Signature is the type signature of the message body.
	Signature string
	// NumFDs is the number of file descriptors attached to this
	// message.
	NumFDs uint32
}

// Valid checks that the message header is valid for its message type.
func (h *header) Valid() error {
	if h.Serial == 0 {
		return fmt.Errorf("invalid message with zero Serial")
	}
	switch h.Type {
	case 0:
		return fmt.Errorf("invalid message with Type 0")
	case msgTypeCall:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if h.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	case msgTypeReturn:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
	case msgTypeError:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
		if h.ErrName == "" {
			return fmt.Errorf("missing required header field ErrName")
		}
	case msgTypeSignal:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if h.Interface == "" {
			return fmt.Errorf("missing required header field Interface")
		}
		if h.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	default:
		// Unknown message types are suspect, but the spec requires us
		// to gracefully allow them.
	}
	return nil
}

// WantReply reports whether this message requires a response.
func (h *header) WantReply() bool {
	return h.Type == msgTypeCall && h.Flags&0x1 == 0
}

// marshalMsg encodes a complete message, header and body. The body
// must already be encoded in native byte order, with offsets counted
// from the start of the body.
func marshalMsg(h *header, body []byte) ([]byte, error) {
	e := &fragments.Encoder{Order: fragments.NativeEndian}
	e.ByteOrderFlag()
	e.Uint8(byte(h.Type))
	e.Uint8(h.Flags)
	e.Uint8(protoVersion)
	e.Uint32(uint32(len(body)))
	e.Uint32(h.Serial)
	field := func(key uint8, sig string, write func()) error {
		return e.Struct(func() error {
			e.Uint8(key)
			e.Signature(sig)
			write()
			return nil
		})
	}
	err := e.Array(true, func() error {
		if h.Path != "" {
			field(fieldPath, "o", func() { e.String(string(h.Path)) })
		}
		if h.Interface != "" {
			field(fieldInterface, "s", func() { e.String(h.Interface) })
		}
		if h.Member != "" {
			field(fieldMember, "s", func() { e.String(h.Member) })
		}
		if h.ErrName != "" {
			field(fieldErrName, "s", func() { e.String(h.ErrName) })
		}
		if h.ReplySerial != 0 {
			field(fieldReplySerial, "u", func() { e.Uint32(h.ReplySerial) })
		}
		if h.Destination != "" {
			field(fieldDestination, "s", func() { e.String(h.Destination) })
		}
		if h.Signature != "" {
			field(fieldSignature, "g", func() { e.Signature(h.Signature) })
		}
		if h.NumFDs != 0 {
			field(fieldNumFDs, "u", func() { e.Uint32(h.NumFDs) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// The header is padded to an 8 byte boundary, so that body
	// offsets are also counted from a message offset that is a
	// multiple of 8.
	e.Pad(8)
	e.Write(body)
	return e.Out, nil
}

// readHeader decodes a message header, including the trailing
// padding that precedes the body. d must be positioned at the start
// of a message; after readHeader returns, it is positioned at the
// start of the body, whose length is [header.Length].
func readHeader(d *fragments.Decoder) (*header, error) {
	var h header
	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}
	t, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	h.Type = msgType(t)
	if h.Flags, err = d.Uint8(); err != nil {
		return nil, err
	}
	version, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	if version != protoVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", version)
	}
	if h.Length, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.Serial, err = d.Uint32(); err != nil {
		return nil, err
	}
	_, err = d.Array(true, func(int) error {
		return d.Struct(func() error {
			key, err := d.Uint8()
			if err != nil {
				return err
			}
			v, err := readVariant(d)
			if err != nil {
				return err
			}
			return h.setField(key, v.(Variant).Value)
		})
	})
	if err != nil {
		return nil, err
	}
	if err := d.Pad(8); err != nil {
		return nil, err
	}
	h.Order = d.Order
	return &h, nil
}

func (h *header) setField(key uint8, v any) error {
	bad := func() error {
		return fmt.Errorf("header field %d has unexpected type %T", key, v)
	}
	switch key {
	case fieldPath:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.Path = ObjectPath(s)
	case fieldInterface:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.Interface = s
	case fieldMember:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.Member = s
	case fieldErrName:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.ErrName = s
	case fieldReplySerial:
		u, ok := v.(uint32)
		if !ok {
			return bad()
		}
		h.ReplySerial = u
	case fieldDestination:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.Destination = s
	case fieldSender:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.Sender = s
	case fieldSignature:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		h.Signature = s
	case fieldNumFDs:
		u, ok := v.(uint32)
		if !ok {
			return bad()
		}
		h.NumFDs = u
	default:
		// Unknown header fields must be ignored.
	}
	return nil
}
