package busgate

import (
	"encoding/xml"
	"strings"
)

// ObjectDescription describes a bus object's exported interfaces and
// child objects.
//
// Descriptions are provided by the peer hosting the object, and may
// not accurately reflect the actual exposed API or object structure.
type ObjectDescription struct {
	// Interfaces describes the object's interfaces, in document
	// order.
	Interfaces []InterfaceDescription
	// Children is the relative paths to child objects under this
	// object. The relative paths may contain multiple path
	// components.
	Children []string
}

// ParseObjectDescription parses the introspection XML returned by
// org.freedesktop.DBus.Introspectable.Introspect.
func ParseObjectDescription(doc string) (*ObjectDescription, error) {
	var ret ObjectDescription
	if err := xml.Unmarshal([]byte(doc), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (o *ObjectDescription) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Interfaces []InterfaceDescription `xml:"interface"`
		Children   []struct {
			Name string `xml:"name,attr"`
		} `xml:"node"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	o.Interfaces = raw.Interfaces
	o.Children = make([]string, 0, len(raw.Children))
	for _, v := range raw.Children {
		o.Children = append(o.Children, v.Name)
	}
	return nil
}

// Interface returns the description of the named interface, or nil
// if the object does not describe it.
func (o *ObjectDescription) Interface(name string) *InterfaceDescription {
	for i := range o.Interfaces {
		if o.Interfaces[i].Name == name {
			return &o.Interfaces[i]
		}
	}
	return nil
}

// InterfaceDescription describes one interface of a bus object.
// Members are kept in document order, which is load-bearing for
// method dispatch: when several methods share a name, the first
// declared wins.
type InterfaceDescription struct {
	Name       string                `xml:"name,attr"`
	Methods    []MethodDescription   `xml:"method"`
	Signals    []SignalDescription   `xml:"signal"`
	Properties []PropertyDescription `xml:"property"`
}

// Method returns the first declared method with the given name, or
// nil.
func (i *InterfaceDescription) Method(name string) *MethodDescription {
	for m := range i.Methods {
		if i.Methods[m].Name == name {
			return &i.Methods[m]
		}
	}
	return nil
}

// Property returns the named property's description, or nil.
func (i *InterfaceDescription) Property(name string) *PropertyDescription {
	for p := range i.Properties {
		if i.Properties[p].Name == name {
			return &i.Properties[p]
		}
	}
	return nil
}

// MethodDescription describes one method of an interface.
type MethodDescription struct {
	Name string           `xml:"name,attr"`
	Args []ArgDescription `xml:"arg"`
}

// In returns the method's input arguments, in declaration order. An
// argument with no declared direction is an input, per the wire
// protocol's default.
func (m *MethodDescription) In() []ArgDescription {
	var ret []ArgDescription
	for _, a := range m.Args {
		if a.Direction == "in" || a.Direction == "" {
			ret = append(ret, a)
		}
	}
	return ret
}

// InSignature returns the concatenated signature of the method's
// input arguments.
func (m *MethodDescription) InSignature() string {
	var sb strings.Builder
	for _, a := range m.In() {
		sb.WriteString(a.Type)
	}
	return sb.String()
}

// SignalDescription describes one signal of an interface.
type SignalDescription struct {
	Name string           `xml:"name,attr"`
	Args []ArgDescription `xml:"arg"`
}

// PropertyDescription describes one property of an interface.
type PropertyDescription struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

// ArgDescription describes a method or signal argument.
type ArgDescription struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr"`
}
