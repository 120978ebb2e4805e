// Package busgatetest provides an in-memory bus fake for exercising
// the gateway without a bus daemon.
//
// The fake implements [busgate.Caller] over a declared object tree:
// registered connections host objects whose interfaces carry
// properties, callable methods and signals. The standard services
// the gateway depends on -- the bus daemon's ListNames, the object
// mapper, Introspectable, Properties and ObjectManager -- are
// synthesized from the declared tree. Replies are delivered on their
// own goroutines, like real ones.
package busgatetest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/busgate/busgate"
)

// Arg declares a method or signal argument.
type Arg struct {
	Name string
	Type string
}

// Method declares a callable method. Handler receives the bound
// input arguments and returns the output arguments; a nil Handler
// returns no output.
type Method struct {
	Name    string
	In      []Arg
	Out     []Arg
	Handler func(args []any) ([]any, error)
}

// Signal declares a signal, for introspection only.
type Signal struct {
	Name string
	Args []Arg
}

// Property declares a property with its type signature and current
// value. Values travel as-is; give them the shapes the wire decoder
// would produce.
type Property struct {
	Name  string
	Type  string
	Value any
}

// Interface declares one interface of an object. Declaration order
// is preserved in introspection data.
type Interface struct {
	Name       string
	Methods    []Method
	Properties []Property
	Signals    []Signal
}

type object struct {
	ifaces []*Interface
}

// Bus is the in-memory fake. The zero value is not usable; call
// [New].
type Bus struct {
	mapper busgate.MapperConfig

	mu    sync.Mutex
	conns map[string]map[string]*object // conn -> path -> object
}

// New returns an empty fake bus using the default mapper location.
func New() *Bus {
	return &Bus{
		mapper: busgate.DefaultMapper,
		conns:  map[string]map[string]*object{},
	}
}

// AddObject declares an object hosted by conn at path. Calling it
// again for the same object adds further interfaces.
func (b *Bus) AddObject(conn string, path busgate.ObjectPath, ifaces ...Interface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	objs := b.conns[conn]
	if objs == nil {
		objs = map[string]*object{}
		b.conns[conn] = objs
	}
	obj := objs[string(path)]
	if obj == nil {
		obj = &object{}
		objs[string(path)] = obj
	}
	for i := range ifaces {
		iface := ifaces[i]
		obj.ifaces = append(obj.ifaces, &iface)
	}
}

// Property returns the current value of a declared property, for
// asserting on writes.
func (b *Bus) Property(conn string, path busgate.ObjectPath, iface, name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj := b.object(conn, string(path))
	if obj == nil {
		return nil, false
	}
	for _, id := range obj.ifaces {
		if id.Name != iface {
			continue
		}
		for i := range id.Properties {
			if id.Properties[i].Name == name {
				return id.Properties[i].Value, true
			}
		}
	}
	return nil, false
}

// Call implements [busgate.Caller].
func (b *Bus) Call(dest string, path busgate.ObjectPath, iface, member, sig string, args []any, reply busgate.ReplyFunc) {
	go func() {
		r, err := b.call(dest, path, iface, member, args)
		reply(r, err)
	}()
}

func (b *Bus) call(dest string, path busgate.ObjectPath, iface, member string, args []any) (busgate.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dest == busgate.BusService {
		return b.busDaemonCall(member)
	}
	if dest == b.mapper.Service && path == b.mapper.Path && iface == b.mapper.Interface {
		return b.mapperCall(member, args)
	}
	// Object managers answer for whole subtrees, including roots the
	// connection exports no object at.
	if iface == "org.freedesktop.DBus.ObjectManager" && member == "GetManagedObjects" {
		return b.managedObjects(dest, string(path)), nil
	}

	obj := b.object(dest, string(path))
	if obj == nil {
		return busgate.Reply{}, busgate.CallError{
			Name:   "org.freedesktop.DBus.Error.UnknownObject",
			Detail: fmt.Sprintf("no object at %s on %s", path, dest),
		}
	}
	switch iface {
	case "org.freedesktop.DBus.Introspectable":
		if member == "Introspect" {
			return busgate.Reply{Sig: "s", Body: []any{b.introspect(dest, string(path), obj)}}, nil
		}
	case "org.freedesktop.DBus.Properties":
		return b.propertiesCall(obj, member, args)
	}
	return b.methodCall(obj, iface, member, args)
}

func (b *Bus) object(conn, path string) *object {
	return b.conns[conn][path]
}

func (b *Bus) busDaemonCall(member string) (busgate.Reply, error) {
	if member != "ListNames" {
		return busgate.Reply{}, busgate.CallError{Name: "org.freedesktop.DBus.Error.UnknownMethod"}
	}
	names := []any{busgate.BusService}
	for conn := range b.conns {
		names = append(names, conn)
	}
	return busgate.Reply{Sig: "as", Body: []any{names}}, nil
}

func (b *Bus) mapperCall(member string, args []any) (busgate.Reply, error) {
	root, _ := args[0].(string)
	switch member {
	case "GetObject":
		owners := map[string]any{}
		for conn, objs := range b.conns {
			obj := objs[root]
			if obj == nil {
				continue
			}
			ifaces := []any{}
			for _, id := range obj.ifaces {
				ifaces = append(ifaces, id.Name)
			}
			owners[conn] = ifaces
		}
		if len(owners) == 0 {
			return busgate.Reply{}, busgate.CallError{
				Name:   "xyz.openbmc_project.Common.Error.ResourceNotFound",
				Detail: root,
			}
		}
		return busgate.Reply{Sig: "a{sas}", Body: []any{owners}}, nil

	case "GetSubTree":
		subtree := map[string]any{}
		for conn, objs := range b.conns {
			for p, obj := range objs {
				if !inSubtree(p, root) {
					continue
				}
				owners, _ := subtree[p].(map[string]any)
				if owners == nil {
					owners = map[string]any{}
					subtree[p] = owners
				}
				ifaces := []any{}
				for _, id := range obj.ifaces {
					ifaces = append(ifaces, id.Name)
				}
				owners[conn] = ifaces
			}
		}
		return busgate.Reply{Sig: "a{sa{sas}}", Body: []any{subtree}}, nil

	case "GetSubTreePaths":
		seen := map[string]bool{}
		paths := []any{}
		for _, objs := range b.conns {
			for p := range objs {
				if inSubtree(p, root) && !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
		}
		return busgate.Reply{Sig: "as", Body: []any{paths}}, nil
	}
	return busgate.Reply{}, busgate.CallError{Name: "org.freedesktop.DBus.Error.UnknownMethod"}
}

func (b *Bus) propertiesCall(obj *object, member string, args []any) (busgate.Reply, error) {
	switch member {
	case "GetAll":
		iface, _ := args[0].(string)
		props := map[string]any{}
		found := false
		for _, id := range obj.ifaces {
			if id.Name != iface {
				continue
			}
			found = true
			for _, p := range id.Properties {
				props[p.Name] = busgate.Variant{Sig: p.Type, Value: p.Value}
			}
		}
		if !found {
			return busgate.Reply{}, busgate.CallError{
				Name:   "org.freedesktop.DBus.Error.UnknownInterface",
				Detail: iface,
			}
		}
		return busgate.Reply{Sig: "a{sv}", Body: []any{props}}, nil

	case "Set":
		iface, _ := args[0].(string)
		name, _ := args[1].(string)
		value := args[2]
		if v, ok := value.(busgate.Variant); ok {
			value = v.Value
		}
		for _, id := range obj.ifaces {
			if id.Name != iface {
				continue
			}
			for i := range id.Properties {
				if id.Properties[i].Name == name {
					id.Properties[i].Value = value
					return busgate.Reply{}, nil
				}
			}
		}
		return busgate.Reply{}, busgate.CallError{
			Name:   "org.freedesktop.DBus.Error.UnknownProperty",
			Detail: name,
		}
	}
	return busgate.Reply{}, busgate.CallError{Name: "org.freedesktop.DBus.Error.UnknownMethod"}
}

func (b *Bus) managedObjects(conn, root string) busgate.Reply {
	ret := map[string]any{}
	for p, obj := range b.conns[conn] {
		if !inSubtree(p, root) {
			continue
		}
		ifaces := map[string]any{}
		for _, id := range obj.ifaces {
			props := map[string]any{}
			for _, prop := range id.Properties {
				props[prop.Name] = busgate.Variant{Sig: prop.Type, Value: prop.Value}
			}
			ifaces[id.Name] = props
		}
		ret[p] = ifaces
	}
	return busgate.Reply{Sig: "a{oa{sa{sv}}}", Body: []any{ret}}
}

func (b *Bus) methodCall(obj *object, iface, member string, args []any) (busgate.Reply, error) {
	for _, id := range obj.ifaces {
		if iface != "" && id.Name != iface {
			continue
		}
		for _, m := range id.Methods {
			if m.Name != member {
				continue
			}
			if m.Handler == nil {
				return busgate.Reply{}, nil
			}
			out, err := m.Handler(args)
			if err != nil {
				return busgate.Reply{}, busgate.CallError{
					Name:   "org.freedesktop.DBus.Error.Failed",
					Detail: err.Error(),
				}
			}
			var sig strings.Builder
			for _, a := range m.Out {
				sig.WriteString(a.Type)
			}
			return busgate.Reply{Sig: sig.String(), Body: out}, nil
		}
	}
	return busgate.Reply{}, busgate.CallError{
		Name:   "org.freedesktop.DBus.Error.UnknownMethod",
		Detail: member,
	}
}

// introspect synthesizes the introspection document for one object,
// including child node stubs derived from the connection's other
// registered paths.
func (b *Bus) introspect(conn, path string, obj *object) string {
	var sb strings.Builder
	sb.WriteString("<node>\n")
	for _, id := range obj.ifaces {
		fmt.Fprintf(&sb, "  <interface name=%q>\n", id.Name)
		for _, m := range id.Methods {
			fmt.Fprintf(&sb, "    <method name=%q>\n", m.Name)
			for _, a := range m.In {
				fmt.Fprintf(&sb, "      <arg name=%q type=%q direction=\"in\"/>\n", a.Name, a.Type)
			}
			for _, a := range m.Out {
				fmt.Fprintf(&sb, "      <arg name=%q type=%q direction=\"out\"/>\n", a.Name, a.Type)
			}
			sb.WriteString("    </method>\n")
		}
		for _, p := range id.Properties {
			fmt.Fprintf(&sb, "    <property name=%q type=%q access=\"readwrite\"/>\n", p.Name, p.Type)
		}
		for _, s := range id.Signals {
			fmt.Fprintf(&sb, "    <signal name=%q>\n", s.Name)
			for _, a := range s.Args {
				fmt.Fprintf(&sb, "      <arg name=%q type=%q/>\n", a.Name, a.Type)
			}
			sb.WriteString("    </signal>\n")
		}
		sb.WriteString("  </interface>\n")
	}
	for _, child := range b.children(conn, path) {
		fmt.Fprintf(&sb, "  <node name=%q/>\n", child)
	}
	sb.WriteString("</node>\n")
	return sb.String()
}

// children returns the distinct next path elements below path among
// conn's registered objects.
func (b *Bus) children(conn, path string) []string {
	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var ret []string
	for p := range b.conns[conn] {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		elem, _, _ := strings.Cut(rest, "/")
		if !seen[elem] {
			seen[elem] = true
			ret = append(ret, elem)
		}
	}
	sort.Strings(ret)
	return ret
}

func inSubtree(obj, root string) bool {
	if root == "/" || obj == root {
		return true
	}
	return strings.HasPrefix(obj, root+"/")
}
