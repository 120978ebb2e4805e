package busgate

import "fmt"

// SignatureError is the error returned when a type signature is
// malformed or uses a type code the gateway does not support.
type SignatureError struct {
	// Sig is the offending signature.
	Sig string
	// Reason is an explanation of what is wrong with it.
	Reason string
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("unsupported signature %q: %s", e.Sig, e.Reason)
}

// TypeError is the error returned when a JSON value cannot be
// encoded against a declared wire type.
type TypeError struct {
	// Sig is the signature the value was encoded against.
	Sig string
	// Value is the value that could not be encoded.
	Value any
	// Reason is an explanation of the mismatch.
	Reason string
}

func (e TypeError) Error() string {
	return fmt.Sprintf("cannot encode %T as %q: %s", e.Value, e.Sig, e.Reason)
}

// CallError is the error returned from failed bus method calls.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}
