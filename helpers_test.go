package chord

import (
	"context"
	"fmt"
	"math/big"
	"testing"
)

func testContext() context.Context { return context.Background() }

// newTestNode builds a solitary, uninitialized LocalNode over the
// trivial metric (ids are decimal key values mod 2^bits), with no
// translator — tests wire nodes together directly as NodeRef, never
// crossing a transport.
func newTestNode(t *testing.T, id int64, bits uint) *LocalNode {
	t.Helper()
	n := NewLocalNode(big.NewInt(id), fmt.Sprintf("node-%d", id), NewTrivialMetric(bits), 1, 4, nil, nil)
	return n
}

// newRing builds a ring of n nodes with the given ids over a bits-bit
// trivial metric, bootstraps the first as a solitary ring, then joins
// the rest one at a time via PrependNode at their correct successor
// (found by FindNode from the bootstrap node). Grounded on
// original_source/dyschord/server.py's start() join sequence.
func newRing(t *testing.T, bits uint, ids ...int64) []*LocalNode {
	t.Helper()
	if len(ids) == 0 {
		t.Fatal("newRing requires at least one id")
	}
	ctx := testContext()
	nodes := make([]*LocalNode, 0, len(ids))

	first := newTestNode(t, ids[0], bits)
	first.Bootstrap()
	nodes = append(nodes, first)

	for _, id := range ids[1:] {
		n := newTestNode(t, id, bits)
		successor, err := FindNode(ctx, first, n.ID())
		if err != nil {
			t.Fatalf("FindNode for id %d: %v", id, err)
		}
		if err := successor.(*LocalNode).PrependNode(ctx, n); err != nil {
			t.Fatalf("PrependNode for id %d: %v", id, err)
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// deadNode wraps a LocalNode and reports itself unreachable, so repair
// tests can simulate a dead predecessor/finger without standing up a
// real transport.
type deadNode struct {
	*LocalNode
}

func (d deadNode) Ping(context.Context) (bool, error) { return false, ErrTransport }

// fakeNode is a minimal, fully scripted NodeRef test double used to drive
// RepairPredecessor/RepairFingers/RepairSuccessor without the entanglement
// of a real multi-node ring's finger tables. Only ID, Ping, GetNext and
// SuccessorLeaving (which counts its calls) are meaningful; every other
// method returns a zero value. GetNext (not GetPredecessor) is what
// RepairPredecessor's candidate-chain walk calls: it walks forward via
// successors from a responsive finger toward the dead predecessor.
type fakeNode struct {
	id    *big.Int
	alive bool
	next  NodeRef

	successorLeavingCalls int
}

func (f *fakeNode) ID() *big.Int       { return f.id }
func (f *fakeNode) URL() string        { return f.id.String() }
func (f *fakeNode) Descriptor() Descriptor { return Descriptor{ID: f.id, URL: f.URL()} }
func (f *fakeNode) Ping(context.Context) (bool, error) {
	if f.alive {
		return true, nil
	}
	return false, ErrTransport
}
func (f *fakeNode) Lookup(context.Context, string) ([]byte, error)                { return nil, nil }
func (f *fakeNode) Store(context.Context, string, []byte) error                   { return nil }
func (f *fakeNode) StoreBackup(context.Context, string, []byte, Descriptor) error  { return nil }
func (f *fakeNode) UpdateBackup(context.Context, map[string][]byte) error          { return nil }
func (f *fakeNode) GetNext(context.Context) (NodeRef, error)                       { return f.next, nil }
func (f *fakeNode) SetNext(context.Context, NodeRef) error                         { return nil }
func (f *fakeNode) GetPredecessor(context.Context) (NodeRef, error)                { return nil, nil }
func (f *fakeNode) GetFingers(context.Context) (map[string]NodeRef, error)         { return nil, nil }
func (f *fakeNode) FindNode(context.Context, *big.Int) (NodeRef, error)            { return nil, nil }
func (f *fakeNode) ClosestPrecedingNode(context.Context, *big.Int) (NodeRef, error) {
	return nil, nil
}
func (f *fakeNode) UpdateFingersOnInsert(context.Context, NodeRef) error { return nil }
func (f *fakeNode) UpdateFingersOnLeave(context.Context, NodeRef, NodeRef) error {
	return nil
}
func (f *fakeNode) PrependNode(context.Context, NodeRef) error { return nil }
func (f *fakeNode) Setup(context.Context, NodeRef, map[string]NodeRef, map[string][]byte) error {
	return nil
}
func (f *fakeNode) SuccessorLeaving(context.Context, NodeRef) error {
	f.successorLeavingCalls++
	return nil
}
func (f *fakeNode) PredecessorLeaving(context.Context, NodeRef, map[string][]byte) error {
	return nil
}
func (f *fakeNode) RepairFingers(context.Context) error     { return nil }
func (f *fakeNode) RepairPredecessor(context.Context) error { return nil }
func (f *fakeNode) Leave(context.Context) error              { return nil }
