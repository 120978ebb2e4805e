package busgate

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/creachadair/mds/mapset"
)

// GetProperty reads properties of the object at path. With a name it
// responds with that property's value; with an empty name it
// responds with an object holding every property of every interface,
// merged.
//
// Several connections may host the object, and several interfaces
// may declare the same property name. The merge is deterministic:
// the property claimed by the earliest (connection, interface) pair,
// ordered lexically, wins, regardless of which reply arrives first.
func (r *Resolver) GetProperty(tx *Transaction, path ObjectPath, name string) {
	defer tx.Release()
	if name == "" {
		// An object with no properties reads as an empty object, not
		// an error.
		tx.Update(nil)
	} else {
		tx.SetFallback(http.StatusNotFound, ErrorEnvelope(http.StatusNotFound, "Property not found: "+name))
	}
	m := newMerger()
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
		rank := 0
		for _, conn := range sortedKeys(owners) {
			for _, iface := range slices.Sorted(slices.Values(owners[conn])) {
				tx.Share()
				r.fetchProperties(tx, m, rank, conn, path, iface, name)
				rank++
			}
		}
	})
}

// fetchProperties issues one GetAll and merges its results. It
// consumes one transaction reference.
func (r *Resolver) fetchProperties(tx *Transaction, m *merger, rank int, conn string, path ObjectPath, iface, name string) {
	r.Bus.Call(conn, path, ifaceProperties, "GetAll", "s", []any{iface}, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			// Interfaces that don't actually implement
			// org.freedesktop.DBus.Properties error out here; they
			// simply contribute nothing.
			r.logger().Debug("GetAll failed", "conn", conn, "path", path, "iface", iface, "err", err)
			return
		}
		props, err := propertiesFromReply(reply)
		if err != nil {
			r.logger().Warn("skipping properties", "conn", conn, "path", path, "iface", iface, "err", err)
			return
		}
		if name != "" {
			v, ok := props[name]
			if !ok {
				return
			}
			if m.claim(name, rank) {
				tx.SetData(legacyValue(v))
			}
			return
		}
		tx.Update(func(data map[string]any) {
			for _, k := range sortedKeys(props) {
				if m.claim(k, rank) {
					data[k] = legacyValue(props[k])
				}
			}
		})
	})
}

// SetProperty writes a property of the object at path. Introspection
// locates the interface declaring the property; if no hosting
// connection declares it, the response is a 403.
func (r *Resolver) SetProperty(tx *Transaction, path ObjectPath, name string, value any) {
	defer tx.Release()
	tx.SetFallback(http.StatusForbidden,
		ErrorEnvelope(http.StatusForbidden, "The specified property cannot be created: "+name))

	tx.Share()
	r.getObject(path, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
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
			r.setPropertyOnConnection(tx, conn, path, name, value)
		}
	})
}

// setPropertyOnConnection introspects one hosting connection and
// dispatches the write if the object declares the property. It
// consumes one transaction reference.
func (r *Resolver) setPropertyOnConnection(tx *Transaction, conn string, path ObjectPath, name string, value any) {
	r.Bus.Call(conn, path, ifaceIntrospectable, "Introspect", "", nil, func(reply Reply, err error) {
		defer tx.Release()
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		doc, _ := reply.Arg(0).(string)
		desc, err := ParseObjectDescription(doc)
		if err != nil {
			tx.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		plan, err := planPropertySet(desc, name, value)
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

// planPropertySet binds a property write to the first interface in
// desc declaring the property, wrapping the new value in a variant
// of the property's declared type.
func planPropertySet(desc *ObjectDescription, name string, value any) (callPlan, error) {
	for _, iface := range desc.Interfaces {
		p := iface.Property(name)
		if p == nil {
			continue
		}
		args := []any{iface.Name, name, Variant{Sig: p.Type, Value: value}}
		if _, err := marshalBody("ssv", args); err != nil {
			return callPlan{}, err
		}
		return callPlan{Iface: ifaceProperties, Member: "Set", Sig: "ssv", Args: args}, nil
	}
	return callPlan{}, errNoMatch
}

// propertyShapes is the closed set of property types the gateway
// relays. A property outside the set fails its whole interface
// fetch, so a response never silently mixes relayed and dropped
// properties.
var propertyShapes = mapset.New("a(sss)", "s", "x", "t", "d", "i", "u", "n", "q", "y", "b")

// propertiesFromReply unpacks a GetAll reply and checks every
// property against the supported type set.
func propertiesFromReply(r Reply) (map[string]any, error) {
	m, ok := r.Arg(0).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected properties reply signature %q", r.Sig)
	}
	for name, v := range m {
		vr, ok := v.(Variant)
		if !ok {
			return nil, fmt.Errorf("property %s is not a variant", name)
		}
		if !propertyShapes.Has(vr.Sig) {
			return nil, fmt.Errorf("property %s has unsupported type %q", name, vr.Sig)
		}
	}
	return m, nil
}

// A merger resolves races between concurrent writers of the same
// response keys: the claim with the lowest rank wins, so the merged
// result does not depend on reply arrival order.
type merger struct {
	mu   sync.Mutex
	rank map[string]int
}

func newMerger() *merger {
	return &merger{rank: map[string]int{}}
}

// claim reports whether a writer with the given rank currently owns
// key, recording the claim if so.
func (m *merger) claim(key string, rank int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rank[key]; ok && cur <= rank {
		return false
	}
	m.rank[key] = rank
	return true
}
