package chord

import (
	"context"
	"math/big"
)

// NodeRef is the single capability set shared by local and remote ring
// members (SPEC_FULL.md §9 "Polymorphism between local and remote
// nodes"). *LocalNode and *RemoteNode both implement it; every routing,
// join, leave, and repair algorithm in this package is written purely in
// terms of NodeRef and never branches on the concrete variant.
//
// Grounded on armon-go-chord/chord.go's VnodeRPC interface, generalized
// from per-host vnode RPCs to this spec's full per-node operation set
// (data ops, join/leave, repair) — and on spec.md §6's RPC surface, which
// is this interface's method set made concrete.
type NodeRef interface {
	ID() *big.Int
	URL() string
	Descriptor() Descriptor

	Ping(ctx context.Context) (bool, error)

	// Data operations (spec.md §4.3).
	Lookup(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	StoreBackup(ctx context.Context, key string, value []byte, predecessor Descriptor) error
	UpdateBackup(ctx context.Context, data map[string][]byte) error

	// Routing (spec.md §4.2, §4.5).
	GetNext(ctx context.Context) (NodeRef, error)
	SetNext(ctx context.Context, next NodeRef) error
	GetPredecessor(ctx context.Context) (NodeRef, error)
	GetFingers(ctx context.Context) (map[string]NodeRef, error)
	FindNode(ctx context.Context, h *big.Int) (NodeRef, error)
	ClosestPrecedingNode(ctx context.Context, h *big.Int) (NodeRef, error)
	UpdateFingersOnInsert(ctx context.Context, newnode NodeRef) error
	UpdateFingersOnLeave(ctx context.Context, leaving, successorOfLeaving NodeRef) error

	// Join (spec.md §4.4).
	PrependNode(ctx context.Context, newnode NodeRef) error
	Setup(ctx context.Context, predecessor NodeRef, fingers map[string]NodeRef, data map[string][]byte) error

	// Leave and repair (spec.md §4.6).
	SuccessorLeaving(ctx context.Context, newSuccessor NodeRef) error
	PredecessorLeaving(ctx context.Context, newPredecessor NodeRef, data map[string][]byte) error
	RepairFingers(ctx context.Context) error
	RepairPredecessor(ctx context.Context) error
	Leave(ctx context.Context) error
}
