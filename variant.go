package busgate

// Variant is a self-describing wire container: a type signature plus
// one decoded value of that type.
//
// The decoder wraps every wire variant in a Variant so that callers
// can check the contained type before trusting the value. The
// encoder accepts a Variant wherever a signature token 'v' appears,
// using Sig as the contained type; a bare value under 'v' has its
// contained type inferred from its JSON shape instead.
type Variant struct {
	Sig   string
	Value any
}
