package busgate

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/creachadair/mds/mapset"
)

// Enumerate reads the full object subtree rooted at path: every
// descendant object with every property of every interface, keyed by
// object path. Property name collisions across interfaces and
// connections merge deterministically, earliest lexical connection
// first.
func (r *Resolver) Enumerate(tx *Transaction, path ObjectPath) {
	defer tx.Release()
	// A subtree with no property-bearing objects reads as an empty
	// object.
	tx.Update(nil)
	m := newMerger()

	mc := r.mapper()
	tx.Share()
	r.Bus.Call(mc.Service, mc.Path, mc.Interface, "GetSubTree", "sias",
		[]any{string(path), int32(0), []any{}},
		func(reply Reply, err error) {
			defer tx.Release()
			if err != nil {
				tx.Fail(http.StatusInternalServerError, err.Error())
				return
			}
			subtree, err := subtreeFromReply(reply)
			if err != nil {
				tx.Fail(http.StatusInternalServerError, err.Error())
				return
			}
			conns := mapset.New[string]()
			for _, owners := range subtree {
				for conn := range owners {
					conns.Add(conn)
				}
			}
			if len(conns) == 0 {
				tx.Fail(http.StatusNotFound, "Object not found: "+string(path))
				return
			}
			for rank, conn := range slices.Sorted(maps.Keys(conns)) {
				tx.Share()
				r.enumerateConnection(tx, m, rank, conn, path)
			}
		})
}

// enumerateConnection fetches one connection's managed objects under
// path and merges them. It consumes one transaction reference.
func (r *Resolver) enumerateConnection(tx *Transaction, m *merger, rank int, conn string, path ObjectPath) {
	r.Bus.Call(conn, path, ifaceObjectManager, "GetManagedObjects", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			r.logger().Debug("GetManagedObjects failed", "conn", conn, "path", path, "err", err)
			return
		}
		objects, err := managedObjectsFromReply(reply)
		if err != nil {
			// One bad property drops the whole connection's
			// contribution, never a partial slice of it.
			r.logger().Warn("skipping managed objects", "conn", conn, "path", path, "err", err)
			return
		}
		tx.Update(func(data map[string]any) {
			for _, objPath := range sortedKeys(objects) {
				if !underPath(objPath, path) {
					continue
				}
				for _, iface := range sortedKeys(objects[objPath]) {
					props := objects[objPath][iface]
					for _, name := range sortedKeys(props) {
						if !m.claim(objPath+"\x00"+name, rank) {
							continue
						}
						obj, ok := data[objPath].(map[string]any)
						if !ok {
							obj = map[string]any{}
							data[objPath] = obj
						}
						obj[name] = legacyValue(props[name])
					}
				}
			}
		})
	})
}

// List responds with the paths of every object below path, to any
// depth, as a flat sorted array.
func (r *Resolver) List(tx *Transaction, path ObjectPath) {
	defer tx.Release()
	mc := r.mapper()
	tx.Share()
	r.Bus.Call(mc.Service, mc.Path, mc.Interface, "GetSubTreePaths", "sias",
		[]any{string(path), int32(listDepth), []any{}},
		func(reply Reply, err error) {
			defer tx.Release()
			if err != nil {
				tx.Fail(http.StatusInternalServerError, err.Error())
				return
			}
			paths, err := stringsFromReply(reply)
			if err != nil {
				tx.Fail(http.StatusInternalServerError, err.Error())
				return
			}
			slices.Sort(paths)
			sorted := make([]any, 0, len(paths))
			for _, p := range paths {
				sorted = append(sorted, p)
			}
			tx.SetData(sorted)
		})
}

// listDepth bounds mapper subtree queries for List. The mapper has
// no "unbounded" depth, so use one deeper than any sane object tree.
const listDepth = 99

// managedObjectsFromReply unpacks a GetManagedObjects reply into
// object path to interface to property map, checking every property
// against the supported type set.
func managedObjectsFromReply(r Reply) (map[string]map[string]map[string]any, error) {
	m, ok := r.Arg(0).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected managed objects reply signature %q", r.Sig)
	}
	ret := make(map[string]map[string]map[string]any, len(m))
	for objPath, v := range m {
		ifaces, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected managed objects reply signature %q", r.Sig)
		}
		ret[objPath] = make(map[string]map[string]any, len(ifaces))
		for iface, pv := range ifaces {
			props, err := propertiesFromReply(Reply{Sig: r.Sig, Body: []any{pv}})
			if err != nil {
				return nil, err
			}
			ret[objPath][iface] = props
		}
	}
	return ret, nil
}

// underPath reports whether obj is path itself or a descendant of
// it.
func underPath(obj string, path ObjectPath) bool {
	if obj == string(path) || path == "/" {
		return true
	}
	return strings.HasPrefix(obj, string(path)+"/")
}
