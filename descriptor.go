package chord

import (
	"fmt"
	"math/big"
	"sync"
)

// Descriptor is the wire-form node reference: { id, url }. It is what
// crosses the RPC boundary in place of a full node handle (spec.md §6).
type Descriptor struct {
	ID  *big.Int
	URL string
}

func (d Descriptor) String() string {
	if d.ID == nil {
		return "<nil>@" + d.URL
	}
	return fmt.Sprintf("%s@%s", d.ID.String(), d.URL)
}

// Translator is the process-wide proxy translator described in
// SPEC_FULL.md §9: it maps descriptors either to an in-process NodeRef
// (when the id names a node hosted in this process) or to a freshly
// dialed RemoteNode. Grounded on
// original_source/dyschord/client.py's ProxyTranslation, and on
// armon-go-chord/transport.go's LocalTransport local-first dispatch.
//
// Updated only at server startup and at join/leave (SPEC_FULL.md §5);
// otherwise read-only, so the mutex only ever sees brief critical
// sections.
type Translator struct {
	mu    sync.RWMutex
	local map[string]NodeRef // keyed by id.String()
	dial  func(Descriptor) NodeRef
}

// NewTranslator creates a Translator. dial is called to build a NodeRef
// for a descriptor that does not name a locally registered node.
func NewTranslator(dial func(Descriptor) NodeRef) *Translator {
	return &Translator{local: make(map[string]NodeRef), dial: dial}
}

// RegisterLocal records n as hosted in this process, so that descriptors
// naming n.ID() translate back to n itself instead of a RemoteNode proxy
// of n (avoiding a node ever being wrapped in a proxy of itself).
func (t *Translator) RegisterLocal(n NodeRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local[n.ID().String()] = n
}

// UnregisterLocal removes a node previously registered with RegisterLocal,
// used when a node leaves the ring.
func (t *Translator) UnregisterLocal(n NodeRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.local, n.ID().String())
}

// ToDescriptor builds the wire form of a NodeRef.
func (t *Translator) ToDescriptor(n NodeRef) Descriptor {
	if n == nil {
		return Descriptor{}
	}
	return n.Descriptor()
}

// Local looks up a descriptor's id among locally registered nodes only,
// without falling back to dialing out. Used on the serve side of a
// transport, where an incoming request names a node that must already be
// hosted in this process.
func (t *Translator) Local(id *big.Int) (NodeRef, bool) {
	if id == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.local[id.String()]
	return n, ok
}

// FromDescriptor resolves a wire-form descriptor back to a NodeRef,
// preferring a locally registered node over dialing out.
func (t *Translator) FromDescriptor(d Descriptor) NodeRef {
	if d.ID != nil {
		t.mu.RLock()
		if n, ok := t.local[d.ID.String()]; ok {
			t.mu.RUnlock()
			return n
		}
		t.mu.RUnlock()
	}
	return t.dial(d)
}
