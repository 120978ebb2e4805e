package busgate

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleIntrospection = `
<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node>
  <interface name="com.example.Item">
    <method name="Rename">
      <arg name="to" type="s" direction="in"/>
      <arg name="force" type="b"/>
      <arg name="old" type="s" direction="out"/>
    </method>
    <property name="Value" type="s" access="readwrite"/>
    <signal name="Renamed">
      <arg name="old" type="s"/>
    </signal>
  </interface>
  <interface name="org.freedesktop.DBus.Properties">
    <method name="Get">
      <arg name="interface" type="s" direction="in"/>
      <arg name="name" type="s" direction="in"/>
      <arg name="value" type="v" direction="out"/>
    </method>
  </interface>
  <node name="child"/>
  <node name="deep/grandchild"/>
</node>
`

func TestParseObjectDescription(t *testing.T) {
	desc, err := ParseObjectDescription(sampleIntrospection)
	if err != nil {
		t.Fatalf("ParseObjectDescription: %v", err)
	}

	// Interfaces keep document order.
	var names []string
	for _, i := range desc.Interfaces {
		names = append(names, i.Name)
	}
	wantNames := []string{"com.example.Item", "org.freedesktop.DBus.Properties"}
	if diff := cmp.Diff(names, wantNames); diff != "" {
		t.Errorf("interface names diff (-got+want):\n%s", diff)
	}

	if diff := cmp.Diff(desc.Children, []string{"child", "deep/grandchild"}); diff != "" {
		t.Errorf("children diff (-got+want):\n%s", diff)
	}

	if desc.Interface("com.example.Missing") != nil {
		t.Error("Interface returned a description for an undeclared name")
	}

	iface := desc.Interface("com.example.Item")
	if iface == nil {
		t.Fatal("Interface(com.example.Item) = nil")
	}
	if p := iface.Property("Value"); p == nil || p.Type != "s" || p.Access != "readwrite" {
		t.Errorf("Property(Value) = %+v", p)
	}
}

func TestMethodInSignature(t *testing.T) {
	desc, err := ParseObjectDescription(sampleIntrospection)
	if err != nil {
		t.Fatalf("ParseObjectDescription: %v", err)
	}
	m := desc.Interface("com.example.Item").Method("Rename")
	if m == nil {
		t.Fatal("Method(Rename) = nil")
	}

	// An arg with no direction is an input.
	in := m.In()
	if len(in) != 2 || in[0].Name != "to" || in[1].Name != "force" {
		t.Errorf("In() = %+v, want to and force", in)
	}
	if got := m.InSignature(); got != "sb" {
		t.Errorf("InSignature() = %q, want %q", got, "sb")
	}
}

func TestParseObjectDescriptionBadXML(t *testing.T) {
	if _, err := ParseObjectDescription("<node><interface"); err == nil {
		t.Error("malformed document did not error")
	}
}
