package chord

import "context"

// RepairSuccessor walks the predecessor chain starting at the current
// successor until it finds a node that considers this node its
// predecessor, and adopts that node as the successor. Grounded on
// node.py's repair_successor.
func (n *LocalNode) RepairSuccessor(ctx context.Context) error {
	n.fingerLock.Lock()
	defer n.fingerLock.Unlock()

	succ := n.fingers.Get(0)
	seen := make(map[string]bool)
	for succ != nil && succ.ID().Cmp(n.id) != 0 {
		predOfSucc, err := succ.GetPredecessor(ctx)
		if err != nil {
			return err
		}
		if predOfSucc.ID().Cmp(n.id) == 0 {
			break
		}
		key := succ.ID().String()
		if seen[key] {
			return ErrRingBroken
		}
		seen[key] = true
		succ = predOfSucc
	}
	n.fingers.Set(0, succ)
	return nil
}

// RepairFingers pings every finger, replacing unresponsive ones with the
// closest known-good finger ahead of them, then refreshes the table and
// repairs the successor pointer. Grounded on node.py's repair_fingers.
func (n *LocalNode) RepairFingers(ctx context.Context) error {
	n.fingerLock.Lock()
	var furthestKnown NodeRef
	for i := 0; i < n.fingers.Len(); i++ {
		f := n.fingers.Get(i)
		var alive bool
		if f != nil {
			ok, err := f.Ping(ctx)
			alive = err == nil && ok
		}
		if !alive {
			n.fingers.Set(i, furthestKnown)
			continue
		}
		if furthestKnown == nil {
			for j := 0; j < i; j++ {
				n.fingers.Set(j, f)
			}
		}
		furthestKnown = f
	}
	n.fingerLock.Unlock()

	if err := n.UpdateFingers(ctx); err != nil {
		return err
	}
	return n.RepairSuccessor(ctx)
}

// RepairPredecessor pings the current predecessor; if it is unresponsive,
// it scans the finger table backward for a responsive node, walks that
// node's successor chain toward the dead predecessor, and adopts the
// closest responsive node found as the new predecessor, notifying it.
// Grounded on node.py's repair_predecessor.
func (n *LocalNode) RepairPredecessor(ctx context.Context) error {
	n.fingerLock.Lock()
	pred := n.predecessor
	var alive bool
	if pred != nil {
		ok, err := pred.Ping(ctx)
		alive = err == nil && ok
	}
	if alive {
		n.fingerLock.Unlock()
		return nil
	}

	var furthestKnown NodeRef = n
	for i := n.fingers.Len() - 1; i >= 0; i-- {
		f := n.fingers.Get(i)
		if f == nil || f.ID().Cmp(n.id) == 0 {
			continue
		}
		if pred != nil && f.ID().Cmp(pred.ID()) == 0 {
			n.fingers.Set(i, n)
			continue
		}
		ok, err := f.Ping(ctx)
		if err == nil && ok {
			furthestKnown = f
			break
		}
	}

	if furthestKnown.ID().Cmp(n.id) == 0 {
		n.predecessor = n
		n.fingerLock.Unlock()
		return nil
	}

	var known []NodeRef
	cur := furthestKnown
	for pred == nil || cur.ID().Cmp(pred.ID()) != 0 {
		known = append(known, cur)
		next, err := cur.GetNext(ctx)
		if err != nil {
			n.fingerLock.Unlock()
			return err
		}
		if next.ID().Cmp(cur.ID()) == 0 || next.ID().Cmp(n.id) == 0 {
			break
		}
		cur = next
	}

	var newPred NodeRef
	for len(known) > 0 {
		candidate := known[len(known)-1]
		known = known[:len(known)-1]
		ok, err := candidate.Ping(ctx)
		if err == nil && ok {
			newPred = candidate
			break
		}
	}

	if newPred == nil {
		n.predecessor = n
	} else {
		n.predecessor = newPred
	}
	n.fingerLock.Unlock()

	if newPred != nil {
		return newPred.SuccessorLeaving(ctx, n)
	}
	return nil
}
