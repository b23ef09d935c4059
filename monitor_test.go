package chord

import (
	"testing"
	"time"
)

func TestCheckPredecessorNoopWhenAlive(t *testing.T) {
	n := newTestNode(t, 50, 8)
	n.Bootstrap()
	alivePred := &fakeNode{id: bigInt(40), alive: true}
	n.predecessor = alivePred

	m := NewPredecessorMonitor(n, time.Hour, nil)
	m.checkPredecessor()

	if n.predecessor.ID().Cmp(alivePred.ID()) != 0 {
		t.Errorf("predecessor changed to %v despite answering pings", n.predecessor.ID())
	}
}

// checkPredecessor repairs a dead predecessor and notifies the replacement,
// mirroring checkPredecessor's three-step sequence in server.py: ping, repair,
// then tell the new predecessor about us via SuccessorLeaving.
func TestCheckPredecessorRepairsDeadPredecessorAndNotifiesReplacement(t *testing.T) {
	n := newTestNode(t, 50, 8)
	n.Bootstrap()

	deadPred := &fakeNode{id: bigInt(40), alive: false}
	replacement := &fakeNode{id: bigInt(45), alive: true, next: deadPred}
	n.predecessor = deadPred
	n.fingers.Set(3, replacement)

	m := NewPredecessorMonitor(n, time.Hour, nil)
	m.checkPredecessor()

	if n.predecessor.ID().Cmp(replacement.ID()) != 0 {
		t.Fatalf("predecessor = %v, want %v (repaired)", n.predecessor.ID(), replacement.ID())
	}
	if replacement.successorLeavingCalls == 0 {
		t.Error("replacement predecessor was not notified via SuccessorLeaving")
	}
}

func TestMonitorStartStopRunsHeartbeatLoop(t *testing.T) {
	n := newTestNode(t, 50, 8)
	n.Bootstrap()
	n.predecessor = &fakeNode{id: bigInt(40), alive: true}

	m := NewPredecessorMonitor(n, 5*time.Millisecond, nil)
	m.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return; heartbeat loop failed to exit")
	}
}

func TestMonitorStopBeforeFirstHeartbeatReturnsPromptly(t *testing.T) {
	n := newTestNode(t, 50, 8)
	n.Bootstrap()
	n.predecessor = &fakeNode{id: bigInt(40), alive: true}

	m := NewPredecessorMonitor(n, time.Hour, nil)
	m.Start()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly even though the heartbeat timer had not fired")
	}
}
