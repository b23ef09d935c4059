package client

import (
	"context"
	"errors"
	"math/big"
	"testing"

	chord "github.com/afoglia/dyschord"
	"github.com/afoglia/dyschord/internal/logger"
)

// mockPeer is a minimal chord.NodeRef test double. Only the methods the
// convenience client actually calls (Ping, Lookup, Store, GetFingers,
// URL, ID) are meaningful; the rest satisfy the interface with no-ops.
type mockPeer struct {
	url       string
	lookupErr error
	lookupVal []byte
	storeErr  error
	fingers   map[string]chord.NodeRef
	stored    map[string][]byte
}

func (m *mockPeer) ID() *big.Int          { return big.NewInt(0) }
func (m *mockPeer) URL() string           { return m.url }
func (m *mockPeer) Descriptor() chord.Descriptor {
	return chord.Descriptor{URL: m.url}
}
func (m *mockPeer) Ping(context.Context) (bool, error) { return true, nil }
func (m *mockPeer) Lookup(context.Context, string) ([]byte, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	return m.lookupVal, nil
}
func (m *mockPeer) Store(_ context.Context, key string, value []byte) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	if m.stored == nil {
		m.stored = make(map[string][]byte)
	}
	m.stored[key] = value
	return nil
}
func (m *mockPeer) StoreBackup(context.Context, string, []byte, chord.Descriptor) error {
	return nil
}
func (m *mockPeer) UpdateBackup(context.Context, map[string][]byte) error { return nil }
func (m *mockPeer) GetNext(context.Context) (chord.NodeRef, error)       { return nil, nil }
func (m *mockPeer) SetNext(context.Context, chord.NodeRef) error         { return nil }
func (m *mockPeer) GetPredecessor(context.Context) (chord.NodeRef, error) {
	return nil, nil
}
func (m *mockPeer) GetFingers(context.Context) (map[string]chord.NodeRef, error) {
	return m.fingers, nil
}
func (m *mockPeer) FindNode(context.Context, *big.Int) (chord.NodeRef, error) {
	return nil, nil
}
func (m *mockPeer) ClosestPrecedingNode(context.Context, *big.Int) (chord.NodeRef, error) {
	return nil, nil
}
func (m *mockPeer) UpdateFingersOnInsert(context.Context, chord.NodeRef) error { return nil }
func (m *mockPeer) UpdateFingersOnLeave(context.Context, chord.NodeRef, chord.NodeRef) error {
	return nil
}
func (m *mockPeer) PrependNode(context.Context, chord.NodeRef) error { return nil }
func (m *mockPeer) Setup(context.Context, chord.NodeRef, map[string]chord.NodeRef, map[string][]byte) error {
	return nil
}
func (m *mockPeer) SuccessorLeaving(context.Context, chord.NodeRef) error { return nil }
func (m *mockPeer) PredecessorLeaving(context.Context, chord.NodeRef, map[string][]byte) error {
	return nil
}
func (m *mockPeer) RepairFingers(context.Context) error     { return nil }
func (m *mockPeer) RepairPredecessor(context.Context) error { return nil }
func (m *mockPeer) Leave(context.Context) error              { return nil }

func newTestClient(minConnections int, peers ...*mockPeer) *Client {
	cloud := make(map[string]chord.NodeRef, len(peers))
	for _, p := range peers {
		cloud[p.url] = p
	}
	return &Client{cloud: cloud, minConnections: minConnections, logger: logger.NopLogger{}}
}

func TestLookupDecodesJSON(t *testing.T) {
	p := &mockPeer{url: "a", lookupVal: []byte(`{"x":1}`)}
	c := newTestClient(1, p)

	got, err := c.Lookup(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["x"] != float64(1) {
		t.Errorf("Lookup = %v, want map[x:1]", got)
	}
}

func TestStoreEncodesJSON(t *testing.T) {
	p := &mockPeer{url: "a"}
	c := newTestClient(1, p)

	if err := c.Store(context.Background(), "k", map[string]int{"x": 1}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if string(p.stored["k"]) != `{"x":1}` {
		t.Errorf("stored value = %q, want %q", p.stored["k"], `{"x":1}`)
	}
}

func TestWithPeerDropsTransportFailingPeerAndRetries(t *testing.T) {
	bad := &mockPeer{url: "bad", lookupErr: chord.ErrTransport}
	good := &mockPeer{url: "good", lookupVal: []byte(`"ok"`)}
	c := newTestClient(1, bad, good)

	// Peers are tried in random order, so look up repeatedly until the bad
	// peer has been tried; every lookup must still succeed via the good one.
	for i := 0; i < 64; i++ {
		got, err := c.Lookup(context.Background(), "k")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if got != "ok" {
			t.Errorf("Lookup = %v, want %q", got, "ok")
		}
		if _, stillThere := c.cloud["bad"]; !stillThere {
			break
		}
	}
	if _, stillThere := c.cloud["bad"]; stillThere {
		t.Error("peer that failed with a transport error was not dropped from the pool")
	}
}

func TestWithPeerPropagatesNonTransportError(t *testing.T) {
	p := &mockPeer{url: "a", lookupErr: chord.ErrNotFound}
	c := newTestClient(1, p)

	_, err := c.Lookup(context.Background(), "k")
	if !errors.Is(err, chord.ErrNotFound) {
		t.Fatalf("Lookup err = %v, want ErrNotFound", err)
	}
	if _, stillThere := c.cloud["a"]; !stillThere {
		t.Error("peer dropped from pool despite a non-transport error")
	}
}

func TestWithPeerEmptyPoolReturnsErrNoPeers(t *testing.T) {
	c := newTestClient(1)
	err := c.withPeer(func(chord.NodeRef) error { return nil })
	if !errors.Is(err, chord.ErrNoPeers) {
		t.Fatalf("withPeer on empty pool: err = %v, want ErrNoPeers", err)
	}
}

func TestFindConnectionsReplenishesFromFingers(t *testing.T) {
	extra := &mockPeer{url: "extra"}
	seed := &mockPeer{url: "seed", fingers: map[string]chord.NodeRef{"1": extra}}
	c := newTestClient(2, seed)

	c.findConnections(context.Background())
	if _, ok := c.cloud["extra"]; !ok {
		t.Errorf("findConnections did not pick up peer discovered via GetFingers; cloud = %v", c.cloud)
	}
}
