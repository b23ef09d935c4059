package chord

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/afoglia/dyschord/internal/logger"
)

// LocalNode is one in-process ring member: a 128-bit identifier, a
// predecessor pointer, a finger table, and the data it owns plus backup
// data held on behalf of its predecessor. Grounded on node.py's Node
// class and armon-go-chord/vnode.go's localVnode struct shape.
type LocalNode struct {
	id       *big.Int
	url      string
	metric   Metric
	hashBits uint
	nBackups int

	fingerLock  *RWLock
	predecessor NodeRef
	fingers     *FingerTable

	dataLock *RWLock
	data     map[string][]byte

	initialized atomic.Bool

	translator *Translator
	logger     logger.Logger
}

// NewLocalNode constructs an uninitialized, solitary node: predecessor and
// every finger point to itself. Call Bootstrap to become the first node of
// a new ring, or have a successor call Setup (via PrependNode) to join an
// existing one.
func NewLocalNode(id *big.Int, url string, metric Metric, nBackups, fingerTableSize int, translator *Translator, lg logger.Logger) *LocalNode {
	if lg == nil {
		lg = logger.NopLogger{}
	}
	n := &LocalNode{
		id:         id,
		url:        url,
		metric:     metric,
		hashBits:   metric.HashBits(),
		nBackups:   nBackups,
		fingerLock: NewRWLock(),
		fingers:    NewFingerTable(metric.HashBits(), fingerTableSize),
		dataLock:   NewRWLock(),
		data:       make(map[string][]byte),
		translator: translator,
		logger:     lg.Named("node").With(logger.F("id", id.String())),
	}
	n.predecessor = n
	n.fingers.FillAll(n)
	if translator != nil {
		translator.RegisterLocal(n)
	}
	return n
}

// Bootstrap marks this node initialized as the sole member of a new ring.
func (n *LocalNode) Bootstrap() {
	n.initialized.Store(true)
	n.logger.Info("bootstrapped as sole ring member")
}

// ID returns the node's immutable identifier.
func (n *LocalNode) ID() *big.Int { return n.id }

// URL returns the node's advertised transport address.
func (n *LocalNode) URL() string { return n.url }

// Descriptor returns the wire-form reference to this node.
func (n *LocalNode) Descriptor() Descriptor { return Descriptor{ID: n.id, URL: n.url} }

// HashKey applies this node's configured metric to key. Grounded on
// node.py's hash_key, which delegates the same way to self.metric.
func (n *LocalNode) HashKey(key []byte) *big.Int { return n.metric.HashKey(key) }

// Ping reports liveness; always true for a reachable local node.
func (n *LocalNode) Ping(_ context.Context) (bool, error) { return true, nil }

func (n *LocalNode) checkInitialized() error {
	if !n.initialized.Load() {
		return ErrNotReady
	}
	return nil
}
