package busgate

// An ObjectPath names an object on the bus.
type ObjectPath string

func (p ObjectPath) String() string { return string(p) }

// Child returns the path of elem nested under p.
func (p ObjectPath) Child(elem string) ObjectPath {
	if p == "/" || p == "" {
		return ObjectPath("/" + elem)
	}
	return p + ObjectPath("/"+elem)
}

// A Reply is the successful result of a bus method call.
type Reply struct {
	// Sig is the type signature of the reply body.
	Sig string
	// Body holds one decoded value per top-level type in Sig.
	Body []any
}

// Arg returns the i-th reply argument, or nil if the reply has fewer
// arguments than that.
func (r Reply) Arg(i int) any {
	if i < 0 || i >= len(r.Body) {
		return nil
	}
	return r.Body[i]
}

// A ReplyFunc receives the outcome of an asynchronous method call.
// Exactly one of reply and err is meaningful. ReplyFuncs are invoked
// on their own goroutines and may block.
type ReplyFunc func(reply Reply, err error)

// A Caller issues method calls on a bus. It is the only capability
// the request-handling layers hold; they never see the underlying
// connection.
type Caller interface {
	// Call invokes member on the iface interface of the object at
	// path, hosted by the dest connection. args are encoded against
	// sig, one value per top-level type. The outcome is delivered
	// asynchronously to reply.
	Call(dest string, path ObjectPath, iface, member, sig string, args []any, reply ReplyFunc)
}
