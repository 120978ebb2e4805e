package busgate

import "fmt"

const (
	// BusService is the bus daemon's own service name.
	BusService = "org.freedesktop.DBus"
	// BusPath is the object path the bus daemon's API lives at.
	BusPath ObjectPath = "/org/freedesktop/DBus"

	ifaceIntrospectable = "org.freedesktop.DBus.Introspectable"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifaceObjectManager  = "org.freedesktop.DBus.ObjectManager"
)

// A MapperConfig locates the object mapper, the service that indexes
// which connections host which objects.
type MapperConfig struct {
	// Service is the mapper's bus name.
	Service string
	// Path is the object the mapper's API lives at.
	Path ObjectPath
	// Interface is the mapper's query interface.
	Interface string
}

// DefaultMapper is the object mapper conventionally present on
// OpenBMC systems.
var DefaultMapper = MapperConfig{
	Service:   "xyz.openbmc_project.ObjectMapper",
	Path:      "/xyz/openbmc_project/object_mapper",
	Interface: "xyz.openbmc_project.ObjectMapper",
}

// ownersFromReply unpacks a mapper GetObject reply: a map from
// hosting connection name to the interfaces that connection
// implements on the queried object.
func ownersFromReply(r Reply) (map[string][]string, error) {
	m, ok := r.Arg(0).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected mapper reply signature %q", r.Sig)
	}
	ret := make(map[string][]string, len(m))
	for conn, v := range m {
		ifaces, err := stringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("mapper entry for %s: %w", conn, err)
		}
		ret[conn] = ifaces
	}
	return ret, nil
}

// subtreeFromReply unpacks a mapper GetSubTree reply: object path to
// hosting connection to implemented interfaces.
func subtreeFromReply(r Reply) (map[string]map[string][]string, error) {
	m, ok := r.Arg(0).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected mapper reply signature %q", r.Sig)
	}
	ret := make(map[string]map[string][]string, len(m))
	for path, v := range m {
		owners, err := ownersFromReply(Reply{Sig: r.Sig, Body: []any{v}})
		if err != nil {
			return nil, fmt.Errorf("mapper entry for %s: %w", path, err)
		}
		ret[path] = owners
	}
	return ret, nil
}

// stringsFromReply unpacks a reply whose first argument is an array
// of strings.
func stringsFromReply(r Reply) ([]string, error) {
	ret, err := stringSlice(r.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("unexpected reply signature %q: %w", r.Sig, err)
	}
	return ret, nil
}

func stringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not a string array: %T", v)
	}
	ret := make([]string, 0, len(arr))
	for _, el := range arr {
		s, ok := el.(string)
		if !ok {
			return nil, fmt.Errorf("not a string array: contains %T", el)
		}
		ret = append(ret, s)
	}
	return ret, nil
}
