package chord

import (
	"math/big"
	"testing"
)

func TestGetNextAndGetPredecessor(t *testing.T) {
	nodes := newRing(t, 8, 10, 100, 200)
	n10, n100, n200 := nodes[0], nodes[1], nodes[2]

	succ, err := n10.GetNext(testContext())
	if err != nil {
		t.Fatalf("GetNext: %v", err)
	}
	if succ.ID().Cmp(n100.ID()) != 0 {
		t.Errorf("n10 successor = %v, want n100", succ.ID())
	}

	pred, err := n10.GetPredecessor(testContext())
	if err != nil {
		t.Fatalf("GetPredecessor: %v", err)
	}
	if pred.ID().Cmp(n200.ID()) != 0 {
		t.Errorf("n10 predecessor = %v, want n200", pred.ID())
	}
}

// SetNext installs v in slot 0 and also overwrites any other slot that was
// pointing closer than v — such an entry can only be a stale reference to
// a successor v has just superseded, since nothing should resolve closer
// than the immediate successor. Slots pointing farther than v are left
// alone. Grounded on node.py's set_next.
func TestSetNextCorrectsStaleCloserFingers(t *testing.T) {
	n := newTestNode(t, 10, 8)
	n.Bootstrap()
	stale := newTestNode(t, 15, 8)     // distance 5 from n
	v := newTestNode(t, 20, 8)         // distance 10 from n: the new successor
	farther := newTestNode(t, 200, 8)  // distance 190 from n

	n.fingers.Set(0, stale)
	n.fingers.Set(1, farther)
	n.fingers.Set(2, stale)
	n.fingers.Set(3, farther)

	if err := n.SetNext(testContext(), v); err != nil {
		t.Fatalf("SetNext: %v", err)
	}
	if got := n.fingers.Get(0); got != NodeRef(v) {
		t.Errorf("finger 0 = %v, want %v (slot 0 always takes the new successor)", got, v)
	}
	if got := n.fingers.Get(1); got != NodeRef(farther) {
		t.Errorf("finger 1 = %v, want %v (unchanged: farther than v)", got, farther)
	}
	if got := n.fingers.Get(2); got != NodeRef(v) {
		t.Errorf("finger 2 = %v, want %v (corrected: was closer than v)", got, v)
	}
	if got := n.fingers.Get(3); got != NodeRef(farther) {
		t.Errorf("finger 3 = %v, want %v (unchanged: farther than v)", got, farther)
	}
}

func TestFindNodeAcrossRing(t *testing.T) {
	nodes := newRing(t, 8, 10, 100, 200)
	n10 := nodes[0]

	// key hashing to 150 is owned by whichever node's arc covers it:
	// (100,200] -> node200.
	target, err := FindNode(testContext(), n10, bigInt(150))
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	if target.ID().Cmp(nodes[2].ID()) != 0 {
		t.Errorf("FindNode(150) = %v, want node200", target.ID())
	}

	target, err = FindNode(testContext(), n10, bigInt(50))
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	if target.ID().Cmp(nodes[1].ID()) != 0 {
		t.Errorf("FindNode(50) = %v, want node100", target.ID())
	}
}

func TestGetFingersSnapshot(t *testing.T) {
	nodes := newRing(t, 8, 10, 100)
	n10 := nodes[0]
	fingers, err := n10.GetFingers(testContext())
	if err != nil {
		t.Fatalf("GetFingers: %v", err)
	}
	if len(fingers) != n10.fingers.Len() {
		t.Errorf("GetFingers returned %d entries, want %d", len(fingers), n10.fingers.Len())
	}
	for i := 0; i < n10.fingers.Len(); i++ {
		step := n10.fingers.Step(i).String()
		if _, ok := fingers[step]; !ok {
			t.Errorf("GetFingers missing step %s", step)
		}
	}
}

func TestUpdateFingersOnLeaveReplacesLeavingNode(t *testing.T) {
	n := newTestNode(t, 10, 8)
	leaving := newTestNode(t, 20, 8)
	successor := newTestNode(t, 30, 8)
	n.fingers.FillAll(leaving)

	if err := n.UpdateFingersOnLeave(testContext(), leaving, successor); err != nil {
		t.Fatalf("UpdateFingersOnLeave: %v", err)
	}
	for i := 0; i < n.fingers.Len(); i++ {
		step := n.fingers.Step(i)
		distToLeaving := Distance(n.id, leaving.ID(), n.hashBits)
		if step.Cmp(distToLeaving) > 0 {
			break
		}
		if n.fingers.Get(i) != NodeRef(successor) {
			t.Errorf("finger %d not replaced: got %v, want %v", i, n.fingers.Get(i), successor)
		}
	}
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }
