package chord

import "context"

// Leave gracefully removes this node from the ring, handing its data to
// its successor and notifying both neighbors. Grounded on node.py's
// leave. Lock order matches PrependNode: dataLock outer, fingerLock inner
// (already the Python original's own order for this method too).
func (n *LocalNode) Leave(ctx context.Context) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}

	n.dataLock.Lock()
	defer n.dataLock.Unlock()
	n.fingerLock.RLock()
	successor := n.fingers.Successor()
	predecessor := n.predecessor
	n.fingerLock.RUnlock()

	if successor != nil && successor.ID().Cmp(n.id) != 0 {
		dataCopy := make(map[string][]byte, len(n.data))
		for k, v := range n.data {
			cp := make([]byte, len(v))
			copy(cp, v)
			dataCopy[k] = cp
		}
		if err := successor.PredecessorLeaving(ctx, predecessor, dataCopy); err != nil {
			return err
		}
	}
	if predecessor != nil && predecessor.ID().Cmp(n.id) != 0 {
		if err := predecessor.SuccessorLeaving(ctx, successor); err != nil {
			return err
		}
	}

	if n.translator != nil {
		n.translator.UnregisterLocal(n)
	}
	n.initialized.Store(false)
	n.logger.Info("left ring")
	return nil
}

// PredecessorLeaving is invoked on a node's successor when that node
// leaves: merges the departing node's data, adopts its predecessor, clears
// any finger entry that pointed at the departing node, and propagates the
// merged data as backup to its own successor. Grounded on node.py's
// predecessor_leaving.
//
// The backup propagation target is the caller's own successor
// (n.next.UpdateBackup), not the caller itself — see SPEC_FULL.md §4.6:
// the Python original calls self.update_backup(data), which only
// re-applies data already merged and cannot be what "propagate ... to the
// new successor" means.
func (n *LocalNode) PredecessorLeaving(ctx context.Context, newPredecessor NodeRef, data map[string][]byte) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}

	n.dataLock.Lock()
	oldPredecessor := n.predecessor
	n.fingerLock.Lock()
	for k, v := range data {
		n.data[k] = v
	}
	n.predecessor = newPredecessor
	for i := n.fingers.Len() - 1; i >= 0; i-- {
		cur := n.fingers.Get(i)
		if cur == nil {
			continue
		}
		if cur.ID().Cmp(oldPredecessor.ID()) == 0 {
			n.fingers.Set(i, n)
		} else if cur.ID().Cmp(n.id) != 0 {
			break
		}
	}
	n.fingerLock.Unlock()
	n.dataLock.Unlock()

	next, err := n.GetNext(ctx)
	if err == nil && next != nil && next.ID().Cmp(n.id) != 0 {
		_ = next.UpdateBackup(ctx, data)
	}
	return nil
}

// SuccessorLeaving is invoked on a node's predecessor when that node
// leaves: replaces the old successor with newSuccessor in every finger
// slot that held it, walks the ring notifying peers to do the same, and
// backs up this node's owned keys to the new successor. Grounded on
// node.py's successor_leaving.
func (n *LocalNode) SuccessorLeaving(ctx context.Context, newSuccessor NodeRef) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}

	n.fingerLock.Lock()
	oldSuccessor := n.fingers.Get(0)
	for i := 0; i < n.fingers.Len(); i++ {
		cur := n.fingers.Get(i)
		if cur != nil && oldSuccessor != nil && cur.ID().Cmp(oldSuccessor.ID()) == 0 {
			n.fingers.Set(i, newSuccessor)
		}
	}
	n.fingerLock.Unlock()

	node := newSuccessor
	seen := make(map[string]bool)
	for node != nil && node.ID().Cmp(n.id) != 0 {
		key := node.ID().String()
		if seen[key] {
			return ErrRingBroken
		}
		seen[key] = true
		if err := node.UpdateFingersOnLeave(ctx, oldSuccessor, newSuccessor); err != nil {
			return err
		}
		next, err := node.GetNext(ctx)
		if err != nil {
			return err
		}
		node = next
	}

	n.dataLock.RLock()
	n.fingerLock.RLock()
	predID := n.predecessor.ID()
	n.fingerLock.RUnlock()
	toBackup := make(map[string][]byte)
	for k, v := range n.data {
		h := n.metric.HashKey([]byte(k))
		if Distance(h, n.id, n.hashBits).Cmp(Distance(h, predID, n.hashBits)) < 0 {
			cp := make([]byte, len(v))
			copy(cp, v)
			toBackup[k] = cp
		}
	}
	n.dataLock.RUnlock()

	return newSuccessor.UpdateBackup(ctx, toBackup)
}

// UpdateBackup merges data into this node's local store as backup content
// on behalf of its predecessor.
func (n *LocalNode) UpdateBackup(_ context.Context, data map[string][]byte) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}
	n.dataLock.Lock()
	defer n.dataLock.Unlock()
	for k, v := range data {
		n.data[k] = v
	}
	return nil
}
