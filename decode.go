package busgate

import (
	"fmt"

	"github.com/busgate/busgate/fragments"
)

// readBody decodes a message body against its type signature,
// returning one value per top-level signature token.
func readBody(d *fragments.Decoder, sig string) ([]any, error) {
	tokens, err := SplitSignature(sig)
	if err != nil {
		return nil, err
	}
	ret := make([]any, 0, len(tokens))
	for _, tok := range tokens {
		v, err := readOne(d, tok)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	return ret, nil
}

// readOne decodes a single complete type. Wire variants come back
// wrapped in a [Variant], dicts as map[string]any, and arrays and
// structs as []any.
func readOne(d *fragments.Decoder, tok string) (any, error) {
	switch tok[0] {
	case 'y':
		return d.Uint8()
	case 'q':
		return d.Uint16()
	case 'u', 'h':
		return d.Uint32()
	case 't':
		return d.Uint64()
	case 'n':
		return d.Int16()
	case 'i':
		return d.Int32()
	case 'x':
		return d.Int64()
	case 'd':
		return d.Double()
	case 'b':
		return d.Bool()
	case 's', 'o':
		return d.String()
	case 'g':
		return d.Signature()
	case 'v':
		return readVariant(d)
	case 'a':
		return readArray(d, tok)
	case '(':
		return readStruct(d, tok)
	default:
		return nil, SignatureError{tok, "unknown type code"}
	}
}

func readVariant(d *fragments.Decoder) (any, error) {
	sig, err := d.Signature()
	if err != nil {
		return nil, err
	}
	inner, err := SplitSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(inner) != 1 {
		return nil, SignatureError{sig, "variant must contain exactly one complete type"}
	}
	v, err := readOne(d, inner[0])
	if err != nil {
		return nil, err
	}
	return Variant{sig, v}, nil
}

func readArray(d *fragments.Decoder, tok string) (any, error) {
	elem := tok[1:]
	if elem == "" {
		return nil, SignatureError{tok, "array with no element type"}
	}
	if elem[0] == '{' {
		return readDict(d, tok, elem)
	}
	ret := []any{}
	containsStructs := elem[0] == '('
	_, err := d.Array(containsStructs, func(int) error {
		v, err := readOne(d, elem)
		if err != nil {
			return err
		}
		ret = append(ret, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func readDict(d *fragments.Decoder, tok, elem string) (any, error) {
	kv, err := SplitSignature(elem[1 : len(elem)-1])
	if err != nil {
		return nil, err
	}
	if len(kv) != 2 {
		return nil, SignatureError{tok, "dict entry must contain exactly a key and a value type"}
	}
	ret := map[string]any{}
	_, err = d.Array(true, func(int) error {
		return d.Struct(func() error {
			k, err := readOne(d, kv[0])
			if err != nil {
				return err
			}
			v, err := readOne(d, kv[1])
			if err != nil {
				return err
			}
			ret[keyString(k)] = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func readStruct(d *fragments.Decoder, tok string) (any, error) {
	members, err := SplitSignature(tok[1 : len(tok)-1])
	if err != nil {
		return nil, err
	}
	ret := make([]any, 0, len(members))
	err = d.Struct(func() error {
		for _, m := range members {
			v, err := readOne(d, m)
			if err != nil {
				return err
			}
			ret = append(ret, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// keyString renders a decoded dict key as a JSON object key.
func keyString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}

// legacyValue rewrites a decoded value for the JSON response
// contract: variants flatten to their contained value, and booleans
// become the integers 1 and 0, which is what long-standing clients
// of the original REST daemon expect.
func legacyValue(v any) any {
	switch v := v.(type) {
	case Variant:
		return legacyValue(v.Value)
	case bool:
		if v {
			return 1
		}
		return 0
	case []any:
		ret := make([]any, len(v))
		for i, el := range v {
			ret[i] = legacyValue(el)
		}
		return ret
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, el := range v {
			ret[k] = legacyValue(el)
		}
		return ret
	default:
		return v
	}
}
