package busgate

import (
	"net/http"
	"slices"
	"strings"
)

// ListNames responds with the sorted names of every connection on
// the bus, rendered as {"status":"ok","objects":[{"name":...}]}.
func (r *Resolver) ListNames(tx *Transaction) {
	defer tx.Release()
	tx.SetRender(func(data any) (int, any) {
		names, _ := data.([]any)
		objects := make([]any, 0, len(names))
		for _, n := range names {
			objects = append(objects, map[string]any{"name": n})
		}
		return http.StatusOK, map[string]any{"status": "ok", "objects": objects}
	})
	tx.Share()
	r.Bus.Call(BusService, BusPath, BusService, "ListNames", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		names, err := stringsFromReply(reply)
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		slices.Sort(names)
		arr := make([]any, 0, len(names))
		for _, n := range names {
			arr = append(arr, n)
		}
		tx.SetData(arr)
	})
}

// IntrospectObjects walks conn's whole object tree from the root via
// recursive introspection, collecting a {"path":...} entry per
// object.
func (r *Resolver) IntrospectObjects(tx *Transaction, conn string) {
	defer tx.Release()
	tx.SetData([]any{})
	tx.SetRender(func(data any) (int, any) {
		return http.StatusOK, map[string]any{
			"status":   "ok",
			"bus_name": conn,
			"objects":  data,
		}
	})
	tx.Share()
	r.introspectNode(tx, conn, "/")
}

// introspectNode records one object and recurses into its children.
// It consumes one transaction reference.
func (r *Resolver) introspectNode(tx *Transaction, conn string, path ObjectPath) {
	r.Bus.Call(conn, path, ifaceIntrospectable, "Introspect", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			r.logger().Warn("introspect failed", "conn", conn, "path", path, "err", err)
			return
		}
		doc, _ := reply.Arg(0).(string)
		desc, err := ParseObjectDescription(doc)
		if err != nil {
			r.logger().Warn("bad introspection data", "conn", conn, "path", path, "err", err)
			return
		}
		tx.Append(map[string]any{"path": string(path)})
		for _, child := range desc.Children {
			// Children may be multi-component relative paths.
			next := path
			for _, elem := range strings.Split(child, "/") {
				if elem != "" {
					next = next.Child(elem)
				}
			}
			tx.Share()
			r.introspectNode(tx, conn, next)
		}
	})
}

// ObjectInterfaces responds with the names of the interfaces the
// object at path exposes on conn.
func (r *Resolver) ObjectInterfaces(tx *Transaction, conn string, path ObjectPath) {
	defer tx.Release()
	tx.Share()
	r.Bus.Call(conn, path, ifaceIntrospectable, "Introspect", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusNotFound, "Object not found: "+string(path))
			return
		}
		doc, _ := reply.Arg(0).(string)
		desc, err := ParseObjectDescription(doc)
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		ifaces := make([]any, 0, len(desc.Interfaces))
		for _, iface := range desc.Interfaces {
			ifaces = append(ifaces, map[string]any{"name": iface.Name})
		}
		tx.SetData(ifaces)
		tx.SetRender(func(data any) (int, any) {
			return http.StatusOK, map[string]any{
				"status":     "ok",
				"bus_name":   conn,
				"interfaces": data,
			}
		})
	})
}

// InterfaceDetail responds with the methods, signals and property
// names of one interface of the object at path on conn. Method
// entries carry the URI that invokes them through the gateway.
func (r *Resolver) InterfaceDetail(tx *Transaction, conn string, path ObjectPath, iface string) {
	defer tx.Release()
	tx.Share()
	r.Bus.Call(conn, path, ifaceIntrospectable, "Introspect", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusNotFound, "Object not found: "+string(path))
			return
		}
		doc, _ := reply.Arg(0).(string)
		desc, err := ParseObjectDescription(doc)
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		id := desc.Interface(iface)
		if id == nil {
			tx.Fail(http.StatusNotFound, "Interface not found: "+iface)
			return
		}

		methods := make([]any, 0, len(id.Methods))
		for _, m := range id.Methods {
			args := make([]any, 0, len(m.Args))
			for _, a := range m.Args {
				args = append(args, map[string]any{
					"name":      a.Name,
					"type":      a.Type,
					"direction": a.Direction,
				})
			}
			methods = append(methods, map[string]any{
				"name": m.Name,
				"uri":  "/bus/system/" + conn + string(path) + "/" + iface + "/" + m.Name,
				"args": args,
			})
		}
		signals := make([]any, 0, len(id.Signals))
		for _, s := range id.Signals {
			args := make([]any, 0, len(s.Args))
			for _, a := range s.Args {
				args = append(args, map[string]any{
					"name": a.Name,
					"type": a.Type,
				})
			}
			signals = append(signals, map[string]any{
				"name": s.Name,
				"args": args,
			})
		}
		properties := map[string]any{}
		for _, p := range id.Properties {
			properties[p.Name] = map[string]any{}
		}

		tx.SetData(nil)
		tx.SetRender(func(any) (int, any) {
			return http.StatusOK, map[string]any{
				"status":     "ok",
				"bus_name":   conn,
				"interface":  iface,
				"methods":    methods,
				"signals":    signals,
				"properties": properties,
			}
		})
	})
}
