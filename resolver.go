package busgate

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
)

// A Resolver turns gateway-level operations into bus calls, using
// the object mapper to locate hosting connections and introspection
// to bind JSON arguments to concrete method signatures.
//
// Every operation takes ownership of the transaction it is handed:
// it shares further references for the bus calls it fans out,
// releases them as replies arrive, and releases the caller's
// reference when its own work is done. The response is written when
// the last reference drops.
type Resolver struct {
	// Bus issues the method calls.
	Bus Caller
	// Mapper locates the object mapper. The zero value selects
	// [DefaultMapper].
	Mapper MapperConfig
	// Log receives diagnostics for the partial failures that do not
	// fail a whole request. nil means slog.Default.
	Log *slog.Logger
}

func (r *Resolver) mapper() MapperConfig {
	if r.Mapper == (MapperConfig{}) {
		return DefaultMapper
	}
	return r.Mapper
}

func (r *Resolver) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// getObject asks the mapper which connections host path.
func (r *Resolver) getObject(path ObjectPath, reply ReplyFunc) {
	m := r.mapper()
	r.Bus.Call(m.Service, m.Path, m.Interface, "GetObject", "sas", []any{string(path), []any{}}, reply)
}

// Action invokes the named method on the object at path, binding
// args against the method's introspected input signature. Every
// connection hosting the object is searched; the first interface in
// document order that declares the method receives the call. If no
// connection declares it, the response is a 404.
func (r *Resolver) Action(tx *Transaction, path ObjectPath, method string, args []any) {
	defer tx.Release()
	tx.SetFallback(http.StatusNotFound, ErrorEnvelope(http.StatusNotFound, "Method not found: "+method))

	tx.Share()
	r.getObject(path, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusNotFound, "Object not found: "+string(path))
			return
		}
		owners, err := ownersFromReply(reply)
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		if len(owners) == 0 {
			tx.Fail(http.StatusNotFound, "Object not found: "+string(path))
			return
		}
		for _, conn := range sortedKeys(owners) {
			tx.Share()
			r.findActionOnConnection(tx, conn, path, method, args)
		}
	})
}

// findActionOnConnection introspects one hosting connection and
// dispatches the method call if the object declares the method. It
// consumes one transaction reference.
func (r *Resolver) findActionOnConnection(tx *Transaction, conn string, path ObjectPath, method string, args []any) {
	r.Bus.Call(conn, path, ifaceIntrospectable, "Introspect", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			// One connection failing to introspect doesn't doom the
			// request; another may still serve the method.
			r.logger().Warn("introspect failed", "conn", conn, "path", path, "err", err)
			return
		}
		doc, _ := reply.Arg(0).(string)
		desc, err := ParseObjectDescription(doc)
		if err != nil {
			r.logger().Warn("bad introspection data", "conn", conn, "path", path, "err", err)
			return
		}
		plan, err := planMethodCall(desc, method, args)
		if errors.Is(err, errNoMatch) {
			return
		}
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		plan.Dest = conn
		plan.Path = path
		tx.Share()
		r.dispatch(tx, plan)
	})
}

// errNoMatch reports that an object's description declares no
// method under the requested name.
var errNoMatch = errors.New("no matching method")

// A callPlan is a fully bound method call: destination, member and
// encodable arguments. Plans are produced by pure planning functions
// and executed separately, so planning is testable without a bus.
type callPlan struct {
	Dest   string
	Path   ObjectPath
	Iface  string
	Member string
	Sig    string
	Args   []any
}

// planMethodCall binds args to the first method named method in
// desc, scanning interfaces in document order. Surplus arguments are
// ignored; too few is an error. The binding is validated by a trial
// encoding, so a returned plan is known to be sendable.
func planMethodCall(desc *ObjectDescription, method string, args []any) (callPlan, error) {
	for _, iface := range desc.Interfaces {
		m := iface.Method(method)
		if m == nil {
			continue
		}
		in := m.In()
		if len(args) < len(in) {
			return callPlan{}, fmt.Errorf("method %s.%s takes %d arguments, got %d", iface.Name, method, len(in), len(args))
		}
		args = args[:len(in)]
		sig := m.InSignature()
		if _, err := marshalBody(sig, args); err != nil {
			return callPlan{}, err
		}
		return callPlan{Iface: iface.Name, Member: method, Sig: sig, Args: args}, nil
	}
	return callPlan{}, errNoMatch
}

// dispatch executes a plan and records its outcome. It consumes one
// transaction reference.
func (r *Resolver) dispatch(tx *Transaction, p callPlan) {
	r.Bus.Call(p.Dest, p.Path, p.Iface, p.Member, p.Sig, p.Args, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		switch len(reply.Body) {
		case 0:
			tx.SetData(nil)
		case 1:
			tx.SetData(legacyValue(reply.Body[0]))
		default:
			tx.SetData(legacyValue(reply.Body))
		}
	})
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
