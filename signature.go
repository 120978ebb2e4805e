package busgate

// SplitSignature splits a composite DBus type signature into its
// top-level single complete types. Concatenating the result
// reproduces the input, and every element is itself a balanced,
// complete signature.
//
// An array prefix 'a' does not close the current token; the array's
// element signature is appended to the same token, so "a{sv}i" splits
// into ["a{sv}", "i"] and "aai" into ["aai"]. Signatures with
// unbalanced containers, or a trailing array prefix with no element
// type, are rejected.
func SplitSignature(sig string) ([]string, error) {
	if sig == "" {
		return nil, nil
	}
	var (
		ret   []string
		cur   []byte
		depth int
	)
	for i := 0; i < len(sig); i++ {
		c := sig[i]
		switch c {
		case 'a':
			cur = append(cur, c)
		case '(', '{':
			cur = append(cur, c)
			depth++
		case ')', '}':
			cur = append(cur, c)
			depth--
			if depth < 0 {
				return nil, SignatureError{sig, "unbalanced container close"}
			}
			if depth == 0 {
				ret = append(ret, string(cur))
				cur = cur[:0]
			}
		default:
			cur = append(cur, c)
			if depth == 0 {
				ret = append(ret, string(cur))
				cur = cur[:0]
			}
		}
	}
	if depth != 0 {
		return nil, SignatureError{sig, "unterminated container"}
	}
	if len(cur) != 0 {
		// Only an array prefix with no element type can be left over.
		return nil, SignatureError{sig, "array prefix with no element type"}
	}
	return ret, nil
}
