// Package busgate bridges a DBus message bus to an HTTP/JSON API.
//
// The package discovers the shape of bus objects by introspecting
// them at request time, encodes JSON arguments into the DBus wire
// format against the introspected type signatures, and renders typed
// replies back to JSON. All bus calls are asynchronous; a request
// that fans out into several calls is tied together by a refcounted
// [Transaction] which produces exactly one response when the last
// outstanding call completes.
//
// The HTTP surface lives in the rest subpackage; this package holds
// the signature tokenizer, the JSON/wire value codec, the transaction
// primitive, the introspection-driven resolver, and the bus
// connection itself.
package busgate
