// Package fragments provides low-level encoding and decoding helpers
// to construct and parse DBus wire format messages.
//
// The encoder and decoder handle alignment, byte order and container
// framing, but carry no type semantics of their own. Callers drive
// them against a type signature to produce or consume complete
// messages.
package fragments
