package chord

import (
	"errors"
	"testing"
)

func TestLookupNotReadyBeforeBootstrap(t *testing.T) {
	n := newTestNode(t, 1, 8)
	if _, err := n.Lookup(testContext(), "k"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Lookup before Bootstrap: err = %v, want ErrNotReady", err)
	}
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	n := newTestNode(t, 100, 8)
	n.Bootstrap()

	key := "42" // trivial metric: hashes to 42, which is < n.id (100), so n owns it
	if err := n.Store(testContext(), key, []byte("value")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := n.Lookup(testContext(), key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Lookup = %q, want %q", got, "value")
	}
}

func TestLookupMissingKey(t *testing.T) {
	n := newTestNode(t, 100, 8)
	n.Bootstrap()
	if _, err := n.Lookup(testContext(), "7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup of missing key: err = %v, want ErrNotFound", err)
	}
}

func TestStoreNotResponsible(t *testing.T) {
	nodes := newRing(t, 8, 50, 150)
	// key "200" hashes to 200, which falls in (150, 50] wrapping through 0,
	// i.e. owned by node 50, not node 150.
	n150 := nodes[1]
	if err := n150.Store(testContext(), "200", []byte("x")); !errors.Is(err, ErrNotResponsible) {
		t.Fatalf("Store on wrong owner: err = %v, want ErrNotResponsible", err)
	}
}

func TestStoreReplicatesToBackup(t *testing.T) {
	nodes := newRing(t, 8, 50, 150)
	n50, n150 := nodes[0], nodes[1]

	// key "200" is owned by n50 (arc (150,50]); n50's successor is n150.
	if err := n50.Store(testContext(), "200", []byte("v")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	n150.dataLock.RLock()
	backup, ok := n150.data["200"]
	n150.dataLock.RUnlock()
	if !ok {
		t.Fatal("backup not replicated to successor")
	}
	if string(backup) != "v" {
		t.Errorf("backup value = %q, want %q", backup, "v")
	}
}

func TestStoreBackupRejectsWrongPredecessor(t *testing.T) {
	n := newTestNode(t, 100, 8)
	n.Bootstrap()
	other := newTestNode(t, 5, 8)
	if err := n.StoreBackup(testContext(), "1", []byte("v"), other.Descriptor()); !errors.Is(err, ErrRingBroken) {
		t.Fatalf("StoreBackup with wrong predecessor: err = %v, want ErrRingBroken", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	n := newTestNode(t, 100, 8)
	n.Bootstrap()
	if err := n.Store(testContext(), "1", []byte("v")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := n.Delete(testContext(), "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := n.Lookup(testContext(), "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after Delete: err = %v, want ErrNotFound", err)
	}
}

func TestLenAndIterKeysCountOnlyOwnedKeys(t *testing.T) {
	nodes := newRing(t, 8, 50, 150)
	n50 := nodes[0]

	if err := n50.Store(testContext(), "200", []byte("a")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := n50.Store(testContext(), "10", []byte("b")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	count, err := n50.Len(testContext())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if count != 2 {
		t.Errorf("Len() = %d, want 2", count)
	}

	seen := map[string]bool{}
	for k := range n50.IterKeys() {
		seen[k] = true
	}
	if len(seen) != 2 || !seen["200"] || !seen["10"] {
		t.Errorf("IterKeys yielded %v, want {200,10}", seen)
	}
}
