package chord

import "testing"

func TestTranslatorRegisterAndLocal(t *testing.T) {
	tr := NewTranslator(func(d Descriptor) NodeRef {
		t.Fatalf("dial should not be called for a locally registered node, got %v", d)
		return nil
	})
	n := newTestNode(t, 10, 8)
	tr.RegisterLocal(n)

	got, ok := tr.Local(n.ID())
	if !ok || got != NodeRef(n) {
		t.Fatalf("Local(%v) = (%v, %v), want (%v, true)", n.ID(), got, ok, n)
	}

	resolved := tr.FromDescriptor(n.Descriptor())
	if resolved != NodeRef(n) {
		t.Errorf("FromDescriptor(local) = %v, want %v", resolved, n)
	}
}

func TestTranslatorUnregisterLocal(t *testing.T) {
	tr := NewTranslator(func(d Descriptor) NodeRef { return nil })
	n := newTestNode(t, 10, 8)
	tr.RegisterLocal(n)
	tr.UnregisterLocal(n)

	if _, ok := tr.Local(n.ID()); ok {
		t.Error("Local still reports the node present after UnregisterLocal")
	}
}

func TestTranslatorDialsForUnknownDescriptor(t *testing.T) {
	dialed := false
	remote := newTestNode(t, 99, 8)
	tr := NewTranslator(func(d Descriptor) NodeRef {
		dialed = true
		return remote
	})
	d := Descriptor{ID: bigInt(123), URL: "somewhere:1234"}
	got := tr.FromDescriptor(d)
	if !dialed {
		t.Error("dial callback not invoked for a descriptor naming no local node")
	}
	if got != NodeRef(remote) {
		t.Errorf("FromDescriptor(unknown) = %v, want %v", got, remote)
	}
}

func TestTranslatorLocalNilID(t *testing.T) {
	tr := NewTranslator(func(d Descriptor) NodeRef { return nil })
	if _, ok := tr.Local(nil); ok {
		t.Error("Local(nil) reported a match")
	}
}

func TestDescriptorString(t *testing.T) {
	d := Descriptor{ID: bigInt(7), URL: "host:1"}
	if got, want := d.String(), "7@host:1"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	empty := Descriptor{URL: "host:2"}
	if got, want := empty.String(), "<nil>@host:2"; got != want {
		t.Errorf("String() with nil ID = %q, want %q", got, want)
	}
}
