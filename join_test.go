package chord

import (
	"errors"
	"testing"
)

func TestPrependNodeRejectsDuplicateID(t *testing.T) {
	n := newTestNode(t, 10, 8)
	n.Bootstrap()
	dup := newTestNode(t, 10, 8)
	if err := n.PrependNode(testContext(), dup); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("PrependNode with duplicate id: err = %v, want ErrDuplicateID", err)
	}
}

func TestPrependNodeRejectsOutOfArc(t *testing.T) {
	nodes := newRing(t, 8, 10, 100)
	n100 := nodes[1]
	// n100's predecessor is n10; a join target outside (10,100] is invalid.
	outOfArc := newTestNode(t, 150, 8)
	if err := n100.PrependNode(testContext(), outOfArc); !errors.Is(err, ErrInvalidJoinArc) {
		t.Fatalf("PrependNode out of arc: err = %v, want ErrInvalidJoinArc", err)
	}
}

func TestPrependNodeInstallsPredecessorAndSuccessor(t *testing.T) {
	nodes := newRing(t, 8, 10, 100)
	n10, n100 := nodes[0], nodes[1]

	if n10.predecessor.ID().Cmp(n100.ID()) != 0 {
		t.Errorf("n10 predecessor = %v, want n100", n10.predecessor.ID())
	}
	if n100.predecessor.ID().Cmp(n10.ID()) != 0 {
		t.Errorf("n100 predecessor = %v, want n10", n100.predecessor.ID())
	}
	succ, err := n10.GetNext(testContext())
	if err != nil {
		t.Fatalf("GetNext: %v", err)
	}
	if succ.ID().Cmp(n100.ID()) != 0 {
		t.Errorf("n10 successor = %v, want n100", succ.ID())
	}
}

func TestPrependNodeDelegatesOwnedData(t *testing.T) {
	n10 := newTestNode(t, 10, 8)
	n10.Bootstrap()
	// n10 is solo, so it owns every key; store one that the joining node
	// at id 100 should take over: key "50" falls in (10,100].
	if err := n10.Store(testContext(), "50", []byte("v")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	n100 := newTestNode(t, 100, 8)
	if err := n10.PrependNode(testContext(), n100); err != nil {
		t.Fatalf("PrependNode: %v", err)
	}

	got, err := n100.Lookup(testContext(), "50")
	if err != nil {
		t.Fatalf("Lookup on new owner: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Lookup = %q, want %q", got, "v")
	}
}

func TestSetupMarksNodeInitialized(t *testing.T) {
	n := newTestNode(t, 10, 8)
	pred := newTestNode(t, 5, 8)
	pred.Bootstrap()
	fingers, err := pred.GetFingers(testContext())
	if err != nil {
		t.Fatalf("GetFingers: %v", err)
	}
	// key "7" hashes to 7 under the trivial metric, which falls in n's
	// arc (pred.id=5, n.id=10].
	if err := n.Setup(testContext(), pred, fingers, map[string][]byte{"7": []byte("v")}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := n.checkInitialized(); err != nil {
		t.Errorf("checkInitialized after Setup: %v", err)
	}
	if n.predecessor.ID().Cmp(pred.ID()) != 0 {
		t.Errorf("predecessor = %v, want %v", n.predecessor.ID(), pred.ID())
	}
	got, err := n.Lookup(testContext(), "7")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Lookup = %q, want %q", got, "v")
	}
}
