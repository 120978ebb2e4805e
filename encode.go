package busgate

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"

	"github.com/busgate/busgate/fragments"
)

// AppendValue encodes value to e against the type signature sig.
//
// When sig holds a single top-level type, value is encoded as that
// type. When it holds several, value must be an array whose elements
// are consumed in lock-step with the signature's tokens; supplying
// fewer elements than tokens is a TypeError.
//
// Numeric coercion is one-directional and cumulative: an unsigned
// value may stand in for a signed one, and either may stand in for a
// double, but an explicit double is never coerced back into an
// integer code.
func AppendValue(e *fragments.Encoder, sig string, value any) error {
	tokens, err := SplitSignature(sig)
	if err != nil {
		return err
	}
	if len(tokens) == 1 {
		return appendOne(e, tokens[0], value)
	}
	arr, ok := value.([]any)
	if !ok {
		return TypeError{sig, value, "composite signature requires an array value"}
	}
	return appendTokens(e, sig, tokens, arr)
}

// marshalBody encodes one argument per signature token into a fresh
// native-endian message body.
func marshalBody(sig string, args []any) ([]byte, error) {
	tokens, err := SplitSignature(sig)
	if err != nil {
		return nil, err
	}
	e := &fragments.Encoder{Order: fragments.NativeEndian}
	if err := appendTokens(e, sig, tokens, args); err != nil {
		return nil, err
	}
	return e.Out, nil
}

func appendTokens(e *fragments.Encoder, sig string, tokens []string, args []any) error {
	if len(args) < len(tokens) {
		return TypeError{sig, args, "fewer values than signature tokens"}
	}
	for i, tok := range tokens {
		if err := appendOne(e, tok, args[i]); err != nil {
			return err
		}
	}
	return nil
}

func appendOne(e *fragments.Encoder, tok string, v any) error {
	switch tok[0] {
	case 's', 'o':
		s, ok := v.(string)
		if !ok {
			return TypeError{tok, v, "not a string"}
		}
		e.String(s)
	case 'g':
		s, ok := v.(string)
		if !ok {
			return TypeError{tok, v, "not a string"}
		}
		e.Signature(s)
	case 'x', 'i', 'n':
		n, ok := numberOf(v)
		if !ok {
			return TypeError{tok, v, "not a number"}
		}
		i, ok := n.signed()
		if !ok {
			return TypeError{tok, v, "not representable as a signed integer"}
		}
		switch tok[0] {
		case 'x':
			e.Int64(i)
		case 'i':
			e.Int32(int32(i))
		case 'n':
			e.Int16(int16(i))
		}
	case 't', 'u', 'q', 'y':
		n, ok := numberOf(v)
		if !ok {
			return TypeError{tok, v, "not a number"}
		}
		u, ok := n.unsigned()
		if !ok {
			return TypeError{tok, v, "not representable as an unsigned integer"}
		}
		switch tok[0] {
		case 't':
			e.Uint64(u)
		case 'u':
			e.Uint32(uint32(u))
		case 'q':
			e.Uint16(uint16(u))
		case 'y':
			e.Uint8(uint8(u))
		}
	case 'd':
		n, ok := numberOf(v)
		if !ok {
			return TypeError{tok, v, "not a number"}
		}
		f, ok := n.double()
		if !ok {
			return TypeError{tok, v, "not representable as a double"}
		}
		e.Double(f)
	case 'b':
		return appendBool(e, tok, v)
	case 'a':
		return appendArray(e, tok, v)
	case 'v':
		return appendVariant(e, tok, v)
	case '(':
		return appendStruct(e, tok, v)
	default:
		return SignatureError{tok, "unknown type code"}
	}
	return nil
}

// appendBool encodes a boolean. Booleans arrive in several shapes;
// in priority order: an integer (non-zero is true), a native bool,
// or a string (contents starting with t or T mean true).
func appendBool(e *fragments.Encoder, tok string, v any) error {
	if n, ok := numberOf(v); ok && n.isInteger() {
		e.Bool(n.i != 0 || n.u != 0)
		return nil
	}
	if b, ok := v.(bool); ok {
		e.Bool(b)
		return nil
	}
	if s, ok := v.(string); ok {
		e.Bool(len(s) > 0 && (s[0] == 't' || s[0] == 'T'))
		return nil
	}
	return TypeError{tok, v, "not a boolean"}
}

func appendArray(e *fragments.Encoder, tok string, v any) error {
	elem := tok[1:]
	if elem == "" {
		return SignatureError{tok, "array with no element type"}
	}
	if elem[0] == '{' {
		return appendDict(e, tok, elem, v)
	}
	arr, ok := v.([]any)
	if !ok {
		return TypeError{tok, v, "not an array"}
	}
	containsStructs := elem[0] == '('
	return e.Array(containsStructs, func() error {
		for _, el := range arr {
			if err := appendOne(e, elem, el); err != nil {
				return err
			}
		}
		return nil
	})
}

func appendDict(e *fragments.Encoder, tok, elem string, v any) error {
	obj, ok := v.(map[string]any)
	if !ok {
		return TypeError{tok, v, "not an object"}
	}
	contained := elem[1 : len(elem)-1]
	kv, err := SplitSignature(contained)
	if err != nil {
		return err
	}
	if len(kv) != 2 {
		return SignatureError{tok, "dict entry must contain exactly a key and a value type"}
	}
	return e.Array(true, func() error {
		// Deterministic wire output regardless of map iteration order.
		for _, key := range slices.Sorted(maps.Keys(obj)) {
			err := e.Struct(func() error {
				if err := appendOne(e, kv[0], key); err != nil {
					return err
				}
				return appendOne(e, kv[1], obj[key])
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func appendVariant(e *fragments.Encoder, tok string, v any) error {
	contained := tok[1:]
	if vr, ok := v.(Variant); ok {
		if contained == "" {
			contained = vr.Sig
		}
		v = vr.Value
	}
	if contained == "" {
		contained = inferSignature(v)
	}
	inner, err := SplitSignature(contained)
	if err != nil {
		return err
	}
	if len(inner) != 1 {
		return SignatureError{contained, "variant must contain exactly one complete type"}
	}
	e.Signature(contained)
	return appendOne(e, inner[0], v)
}

func appendStruct(e *fragments.Encoder, tok string, v any) error {
	arr, ok := v.([]any)
	if !ok {
		return TypeError{tok, v, "not an array"}
	}
	members, err := SplitSignature(tok[1 : len(tok)-1])
	if err != nil {
		return err
	}
	return e.Struct(func() error {
		for i, m := range members {
			if i >= len(arr) {
				return TypeError{tok, v, "fewer elements than struct members"}
			}
			if err := appendOne(e, m, arr[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// inferSignature guesses a contained type for a bare variant from the
// value's JSON shape.
func inferSignature(v any) string {
	switch v := v.(type) {
	case string:
		return "s"
	case bool:
		return "b"
	case map[string]any:
		return "a{sv}"
	case []any:
		return "av"
	default:
		if n, ok := numberOf(v); ok {
			switch {
			case n.hasI:
				return "x"
			case n.hasU:
				return "t"
			default:
				return "d"
			}
		}
		return "s"
	}
}

// number is the numeric reading of a JSON value. The has flags
// record which representations the raw value itself admits; the
// coercion chain is applied by the accessors.
type number struct {
	i    int64
	u    uint64
	f    float64
	hasI bool
	hasU bool
	hasF bool
}

func numberOf(v any) (number, bool) {
	var n number
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n.i, n.hasI = i, true
		}
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			n.u, n.hasU = u, true
		}
		if f, err := v.Float64(); err == nil && !n.hasI && !n.hasU {
			n.f, n.hasF = f, true
		}
	case int:
		n.i, n.hasI = int64(v), true
	case int8:
		n.i, n.hasI = int64(v), true
	case int16:
		n.i, n.hasI = int64(v), true
	case int32:
		n.i, n.hasI = int64(v), true
	case int64:
		n.i, n.hasI = v, true
	case uint:
		n.u, n.hasU = uint64(v), true
	case uint8:
		n.u, n.hasU = uint64(v), true
	case uint16:
		n.u, n.hasU = uint64(v), true
	case uint32:
		n.u, n.hasU = uint64(v), true
	case uint64:
		n.u, n.hasU = v, true
	case float32:
		n.f, n.hasF = float64(v), true
	case float64:
		n.f, n.hasF = v, true
	}
	return n, n.hasI || n.hasU || n.hasF
}

func (n number) isInteger() bool { return n.hasI || n.hasU }

// signed returns the value as a signed integer. A raw unsigned value
// is reinterpreted; a double is not.
func (n number) signed() (int64, bool) {
	switch {
	case n.hasI:
		return n.i, true
	case n.hasU:
		return int64(n.u), true
	}
	return 0, false
}

// unsigned returns the value as an unsigned integer. A raw signed
// value is reinterpreted; a double is not.
func (n number) unsigned() (uint64, bool) {
	switch {
	case n.hasU:
		return n.u, true
	case n.hasI:
		return uint64(n.i), true
	}
	return 0, false
}

// double returns the value as a double, widening integers as needed.
func (n number) double() (float64, bool) {
	switch {
	case n.hasF:
		return n.f, true
	case n.hasU:
		return float64(n.u), true
	case n.hasI:
		return float64(n.i), true
	}
	return 0, false
}
