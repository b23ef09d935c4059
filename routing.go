package chord

import (
	"context"
	"math/big"
)

// ClosestPrecedingNode returns the currently-known node closest to but not
// past h, scanning the finger table from the largest offset down.
// Grounded on node.py's closest_preceding_node (spec.md §4.2).
func (n *LocalNode) ClosestPrecedingNode(ctx context.Context, h *big.Int) (NodeRef, error) {
	if err := n.checkInitialized(); err != nil {
		return nil, err
	}
	n.fingerLock.RLock()
	defer n.fingerLock.RUnlock()

	fwd := Distance(n.id, h, n.hashBits)
	if fwd.Sign() == 0 {
		return n.predecessor, nil
	}
	back := Distance(h, n.id, n.hashBits)

	for i := n.fingers.Len() - 1; i >= 0; i-- {
		finger := n.fingers.Get(i)
		if finger == nil {
			continue
		}
		step := n.fingers.Step(i)
		if step.Cmp(fwd) >= 0 {
			continue
		}
		if finger.ID().Cmp(h) == 0 {
			return finger.GetPredecessor(ctx)
		}
		if Distance(h, finger.ID(), n.hashBits).Cmp(back) > 0 {
			return finger, nil
		}
	}
	return n, nil
}

// FindPredecessor repeatedly asks ClosestPrecedingNode starting at start,
// advancing until a fixpoint. Tracks visited ids and fails with
// ErrRingBroken on a repeat rather than looping forever (supplements
// spec.md §8 property 6 with an explicit failure mode).
func FindPredecessor(ctx context.Context, start NodeRef, h *big.Int) (NodeRef, error) {
	current := start
	seen := make(map[string]bool)
	for {
		key := current.ID().String()
		if seen[key] {
			return nil, ErrRingBroken
		}
		seen[key] = true

		next, err := current.ClosestPrecedingNode(ctx, h)
		if err != nil {
			return nil, err
		}
		if next.ID().Cmp(current.ID()) == 0 {
			return current, nil
		}
		current = next
	}
}

// FindNode finds the node responsible for h, starting the search at start.
func FindNode(ctx context.Context, start NodeRef, h *big.Int) (NodeRef, error) {
	pred, err := FindPredecessor(ctx, start, h)
	if err != nil {
		return nil, err
	}
	return pred.GetNext(ctx)
}

// FindNode finds the node responsible for h, starting the search at n —
// the NodeRef-level entry point spec.md §4.2 describes as
// find_node(start, h), with start bound to the receiver.
func (n *LocalNode) FindNode(ctx context.Context, h *big.Int) (NodeRef, error) {
	return FindNode(ctx, n, h)
}

// GetNext returns the immediate successor (finger 0).
func (n *LocalNode) GetNext(_ context.Context) (NodeRef, error) {
	n.fingerLock.RLock()
	defer n.fingerLock.RUnlock()
	return n.fingers.Successor(), nil
}

// SetNext installs v as the immediate successor, and additionally replaces
// any other finger entry that pointed closer (clockwise) than v now does.
// Grounded on node.py's set_next, which performs the same whole-table
// sweep rather than touching only slot 0.
func (n *LocalNode) SetNext(_ context.Context, v NodeRef) error {
	n.fingerLock.Lock()
	defer n.fingerLock.Unlock()
	n.fingers.Set(0, v)
	for i := 0; i < n.fingers.Len(); i++ {
		cur := n.fingers.Get(i)
		if cur == nil {
			continue
		}
		if Distance(n.id, cur.ID(), n.hashBits).Cmp(Distance(n.id, v.ID(), n.hashBits)) < 0 {
			n.fingers.Set(i, v)
		}
	}
	return nil
}

// GetPredecessor returns the node's current predecessor.
func (n *LocalNode) GetPredecessor(_ context.Context) (NodeRef, error) {
	n.fingerLock.RLock()
	defer n.fingerLock.RUnlock()
	return n.predecessor, nil
}

// GetFingers returns a snapshot of the finger table keyed by the decimal
// string of each offset (wire-map keys must be strings; spec.md §6).
func (n *LocalNode) GetFingers(_ context.Context) (map[string]NodeRef, error) {
	if err := n.checkInitialized(); err != nil {
		return nil, err
	}
	n.fingerLock.RLock()
	defer n.fingerLock.RUnlock()
	out := make(map[string]NodeRef, n.fingers.Len())
	for i := 0; i < n.fingers.Len(); i++ {
		out[n.fingers.Step(i).String()] = n.fingers.Get(i)
	}
	return out, nil
}

// UpdateFingers refreshes every finger entry via FindNode, grounded on
// node.py's update_fingers.
func (n *LocalNode) UpdateFingers(ctx context.Context) error {
	n.fingerLock.Lock()
	defer n.fingerLock.Unlock()
	for i := 0; i < n.fingers.Len(); i++ {
		old := n.fingers.Get(i)
		if old == nil {
			old = n
		}
		target := addMod(n.id, n.fingers.Step(i), n.hashBits)
		// FindNode may route back through n itself, so fingerLock is
		// released for the lookup.
		n.fingerLock.Unlock()
		updated, err := FindNode(ctx, old, target)
		n.fingerLock.Lock()
		if err != nil {
			return err
		}
		n.fingers.Set(i, updated)
	}
	return nil
}

// UpdateFingersOnInsert refreshes only the fingers that could plausibly
// now resolve through newnode, stopping the scan once a refresh leaves a
// finger unchanged. Grounded on node.py's update_fingers_on_insert.
func (n *LocalNode) UpdateFingersOnInsert(ctx context.Context, newnode NodeRef) error {
	if newnode.ID().Cmp(n.id) == 0 {
		return n.UpdateFingers(ctx)
	}
	n.fingerLock.Lock()
	defer n.fingerLock.Unlock()

	var lastChanged NodeRef
	for i := 0; i < n.fingers.Len(); i++ {
		old := n.fingers.Get(i)
		if old == nil {
			old = n
		}
		if old.ID().Cmp(newnode.ID()) == 0 {
			continue
		}
		if Distance(n.id, old.ID(), n.hashBits).Cmp(Distance(n.id, newnode.ID(), n.hashBits)) < 0 {
			continue
		}
		if lastChanged != nil && old.ID().Cmp(lastChanged.ID()) != 0 {
			break
		}
		target := addMod(n.id, n.fingers.Step(i), n.hashBits)
		// FindNode may route back through n itself, so fingerLock is
		// released for the lookup.
		n.fingerLock.Unlock()
		updated, err := FindNode(ctx, old, target)
		n.fingerLock.Lock()
		if err != nil {
			return err
		}
		n.fingers.Set(i, updated)
		if updated.ID().Cmp(old.ID()) == 0 {
			break
		}
		lastChanged = old
	}
	return nil
}

// UpdateFingersOnLeave replaces any finger pointing at leaving with
// successorOfLeaving, stopping once the offset exceeds the distance to
// the leaving node. Grounded on node.py's update_fingers_on_leave.
func (n *LocalNode) UpdateFingersOnLeave(_ context.Context, leaving, successorOfLeaving NodeRef) error {
	n.fingerLock.Lock()
	defer n.fingerLock.Unlock()
	distToLeaving := Distance(n.id, leaving.ID(), n.hashBits)
	for i := 0; i < n.fingers.Len(); i++ {
		if n.fingers.Step(i).Cmp(distToLeaving) > 0 {
			break
		}
		cur := n.fingers.Get(i)
		if cur != nil && cur.ID().Cmp(leaving.ID()) == 0 {
			n.fingers.Set(i, successorOfLeaving)
		}
	}
	return nil
}
