package chord

import (
	"context"

	"github.com/afoglia/dyschord/internal/logger"
)

// PrependNode is executed on the would-be successor to admit newnode into
// the ring immediately before it. Grounded on node.py's prepend_node.
//
// Lock order is dataLock outer, fingerLock inner, matching spec.md §5's
// stated global order ("data_lock before finger_lock") — see DESIGN.md
// for why this differs from the Python original's own (inconsistent)
// nesting in this one method.
func (n *LocalNode) PrependNode(ctx context.Context, newnode NodeRef) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}

	n.dataLock.Lock()
	n.fingerLock.Lock()

	oldPredecessor := n.predecessor
	if newnode.ID().Cmp(n.id) == 0 {
		n.fingerLock.Unlock()
		n.dataLock.Unlock()
		return ErrDuplicateID
	}
	distNew := Distance(n.id, newnode.ID(), n.hashBits)
	distPred := Distance(n.id, oldPredecessor.ID(), n.hashBits)
	switch distNew.Cmp(distPred) {
	case -1:
		n.fingerLock.Unlock()
		n.dataLock.Unlock()
		return ErrInvalidJoinArc
	case 0:
		n.fingerLock.Unlock()
		n.dataLock.Unlock()
		return ErrDuplicateID
	}

	delegated := make(map[string][]byte)
	toDelete := make([]string, 0)
	for k, v := range n.data {
		h := n.metric.HashKey([]byte(k))
		if Distance(h, newnode.ID(), n.hashBits).Cmp(Distance(h, n.id, n.hashBits)) < 0 {
			cp := make([]byte, len(v))
			copy(cp, v)
			delegated[k] = cp
			if Distance(h, oldPredecessor.ID(), n.hashBits).Cmp(Distance(h, newnode.ID(), n.hashBits)) < 0 {
				toDelete = append(toDelete, k)
			}
		}
	}

	// A solo node is its own old predecessor; its finger table is read
	// directly, since GetFingers would re-enter the held fingerLock.
	var fingers map[string]NodeRef
	if oldPredecessor.ID().Cmp(n.id) == 0 {
		fingers = make(map[string]NodeRef, n.fingers.Len())
		for i := 0; i < n.fingers.Len(); i++ {
			fingers[n.fingers.Step(i).String()] = n.fingers.Get(i)
		}
	} else {
		var err error
		fingers, err = oldPredecessor.GetFingers(ctx)
		if err != nil {
			n.fingerLock.Unlock()
			n.dataLock.Unlock()
			return err
		}
	}

	if err := newnode.Setup(ctx, oldPredecessor, fingers, delegated); err != nil {
		n.fingerLock.Unlock()
		n.dataLock.Unlock()
		return err
	}

	n.predecessor = newnode
	n.fingerLock.Unlock()
	n.dataLock.Unlock()

	if err := oldPredecessor.SetNext(ctx, newnode); err != nil {
		return err
	}

	if err := announce(ctx, newnode); err != nil {
		return err
	}

	go n.cleanupDelegated(toDelete)
	return nil
}

// cleanupDelegated asynchronously removes keys that were handed off as
// part of a join and are no longer this node's responsibility to back up.
// Resolves Open Question (i): failures are logged, not retried, since the
// deletion only trims an already-duplicated superset (see SPEC_FULL.md
// §4.4) — losing the race leaves stale backup data, not lost data.
func (n *LocalNode) cleanupDelegated(keys []string) {
	n.dataLock.Lock()
	defer n.dataLock.Unlock()
	for _, k := range keys {
		delete(n.data, k)
	}
	n.logger.Debug("cleaned up delegated keys", logger.F("count", len(keys)))
}

// Setup installs predecessor, the finger entries of the given table whose
// offsets match this node's (PrependNode passes the old predecessor's
// table), and handed-off data, then marks the node initialized.
// Grounded on node.py's setup.
func (n *LocalNode) Setup(_ context.Context, predecessor NodeRef, fingers map[string]NodeRef, data map[string][]byte) error {
	n.fingerLock.Lock()
	n.predecessor = predecessor
	for i := 0; i < n.fingers.Len(); i++ {
		if f, ok := fingers[n.fingers.Step(i).String()]; ok && f != nil {
			n.fingers.Set(i, f)
		} else {
			n.fingers.Set(i, n)
		}
	}
	n.fingerLock.Unlock()

	n.dataLock.Lock()
	for k, v := range data {
		n.data[k] = v
	}
	n.dataLock.Unlock()

	n.initialized.Store(true)
	n.logger.Info("joined ring", logger.F("predecessor", predecessor.ID().String()))
	return nil
}

// announce walks the ring forward from newnode.next, calling
// UpdateFingersOnInsert(newnode) on each node until the walk returns to
// newnode. Matches spec.md §4.4 step 5's literal wording: newnode itself
// is not visited (its own fingers were already installed by Setup).
func announce(ctx context.Context, newnode NodeRef) error {
	node, err := newnode.GetNext(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for node.ID().Cmp(newnode.ID()) != 0 {
		key := node.ID().String()
		if seen[key] {
			return ErrRingBroken
		}
		seen[key] = true

		if err := node.UpdateFingersOnInsert(ctx, newnode); err != nil {
			return err
		}
		next, err := node.GetNext(ctx)
		if err != nil {
			return err
		}
		node = next
	}
	return nil
}
