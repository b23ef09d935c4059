package chord

import (
	"context"
	"math/big"
)

// ClientTransport is the dial side of the concrete RPC transport: every
// operation in NodeRef's wire-facing subset, expressed in terms of
// Descriptor rather than NodeRef (descriptors are what actually cross the
// wire; RemoteNode does the NodeRef<->Descriptor translation around each
// call). See tcptransport.go for the concrete gob-over-TCP implementation.
type ClientTransport interface {
	Ping(ctx context.Context, d Descriptor) (bool, error)

	Lookup(ctx context.Context, d Descriptor, key string) ([]byte, error)
	Store(ctx context.Context, d Descriptor, key string, value []byte) error
	StoreBackup(ctx context.Context, d Descriptor, key string, value []byte, predecessor Descriptor) error
	UpdateBackup(ctx context.Context, d Descriptor, data map[string][]byte) error

	GetNext(ctx context.Context, d Descriptor) (Descriptor, error)
	SetNext(ctx context.Context, d Descriptor, next Descriptor) error
	GetPredecessor(ctx context.Context, d Descriptor) (Descriptor, error)
	GetFingers(ctx context.Context, d Descriptor) (map[string]Descriptor, error)
	FindNode(ctx context.Context, d Descriptor, h *big.Int) (Descriptor, error)
	ClosestPrecedingNode(ctx context.Context, d Descriptor, h *big.Int) (Descriptor, error)
	UpdateFingersOnInsert(ctx context.Context, d Descriptor, newnode Descriptor) error
	UpdateFingersOnLeave(ctx context.Context, d Descriptor, leaving, successorOfLeaving Descriptor) error

	PrependNode(ctx context.Context, d Descriptor, newnode Descriptor) error
	Setup(ctx context.Context, d Descriptor, predecessor Descriptor, fingers map[string]Descriptor, data map[string][]byte) error

	SuccessorLeaving(ctx context.Context, d Descriptor, newSuccessor Descriptor) error
	PredecessorLeaving(ctx context.Context, d Descriptor, newPredecessor Descriptor, data map[string][]byte) error
	RepairFingers(ctx context.Context, d Descriptor) error
	RepairPredecessor(ctx context.Context, d Descriptor) error
	Leave(ctx context.Context, d Descriptor) error
}

// RemoteNode is a NodeRef backed by a descriptor and a ClientTransport —
// the "NodeProxy" of SPEC_FULL.md §9. Grounded on
// original_source/dyschord/client.py's NodeProxy: one-to-one method
// forwarding, with every argument/return NodeRef translated to/from
// Descriptor via the shared Translator.
type RemoteNode struct {
	descr      Descriptor
	transport  ClientTransport
	translator *Translator
}

// NewRemoteNode builds a proxy for the node named by d.
func NewRemoteNode(d Descriptor, transport ClientTransport, translator *Translator) *RemoteNode {
	return &RemoteNode{descr: d, transport: transport, translator: translator}
}

func (r *RemoteNode) ID() *big.Int       { return r.descr.ID }
func (r *RemoteNode) URL() string        { return r.descr.URL }
func (r *RemoteNode) Descriptor() Descriptor { return r.descr }

// resolveID pings the node if the descriptor was built from a bare URL.
// It does not fetch or store the id: Ping carries no id, so r.descr.ID
// stays nil.
func (r *RemoteNode) resolveID(ctx context.Context) error {
	if r.descr.ID != nil {
		return nil
	}
	ok, err := r.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return wrapTransport(ErrTransport)
	}
	return nil
}

func (r *RemoteNode) Ping(ctx context.Context) (bool, error) {
	ok, err := r.transport.Ping(ctx, r.descr)
	if err != nil {
		return false, wrapTransport(err)
	}
	return ok, nil
}

func (r *RemoteNode) Lookup(ctx context.Context, key string) ([]byte, error) {
	v, err := r.transport.Lookup(ctx, r.descr, key)
	if err != nil {
		return nil, translateRemoteErr(err)
	}
	return v, nil
}

func (r *RemoteNode) Store(ctx context.Context, key string, value []byte) error {
	return translateRemoteErr(r.transport.Store(ctx, r.descr, key, value))
}

func (r *RemoteNode) StoreBackup(ctx context.Context, key string, value []byte, predecessor Descriptor) error {
	return translateRemoteErr(r.transport.StoreBackup(ctx, r.descr, key, value, predecessor))
}

func (r *RemoteNode) UpdateBackup(ctx context.Context, data map[string][]byte) error {
	return translateRemoteErr(r.transport.UpdateBackup(ctx, r.descr, data))
}

func (r *RemoteNode) GetNext(ctx context.Context) (NodeRef, error) {
	d, err := r.transport.GetNext(ctx, r.descr)
	if err != nil {
		return nil, translateRemoteErr(err)
	}
	return r.translator.FromDescriptor(d), nil
}

func (r *RemoteNode) SetNext(ctx context.Context, next NodeRef) error {
	return translateRemoteErr(r.transport.SetNext(ctx, r.descr, r.translator.ToDescriptor(next)))
}

func (r *RemoteNode) GetPredecessor(ctx context.Context) (NodeRef, error) {
	d, err := r.transport.GetPredecessor(ctx, r.descr)
	if err != nil {
		return nil, translateRemoteErr(err)
	}
	return r.translator.FromDescriptor(d), nil
}

func (r *RemoteNode) GetFingers(ctx context.Context) (map[string]NodeRef, error) {
	m, err := r.transport.GetFingers(ctx, r.descr)
	if err != nil {
		return nil, translateRemoteErr(err)
	}
	out := make(map[string]NodeRef, len(m))
	for step, d := range m {
		out[step] = r.translator.FromDescriptor(d)
	}
	return out, nil
}

func (r *RemoteNode) FindNode(ctx context.Context, h *big.Int) (NodeRef, error) {
	d, err := r.transport.FindNode(ctx, r.descr, h)
	if err != nil {
		return nil, translateRemoteErr(err)
	}
	return r.translator.FromDescriptor(d), nil
}

func (r *RemoteNode) ClosestPrecedingNode(ctx context.Context, h *big.Int) (NodeRef, error) {
	d, err := r.transport.ClosestPrecedingNode(ctx, r.descr, h)
	if err != nil {
		return nil, translateRemoteErr(err)
	}
	return r.translator.FromDescriptor(d), nil
}

func (r *RemoteNode) UpdateFingersOnInsert(ctx context.Context, newnode NodeRef) error {
	return translateRemoteErr(r.transport.UpdateFingersOnInsert(ctx, r.descr, r.translator.ToDescriptor(newnode)))
}

func (r *RemoteNode) UpdateFingersOnLeave(ctx context.Context, leaving, successorOfLeaving NodeRef) error {
	return translateRemoteErr(r.transport.UpdateFingersOnLeave(ctx, r.descr,
		r.translator.ToDescriptor(leaving), r.translator.ToDescriptor(successorOfLeaving)))
}

func (r *RemoteNode) PrependNode(ctx context.Context, newnode NodeRef) error {
	return translateRemoteErr(r.transport.PrependNode(ctx, r.descr, r.translator.ToDescriptor(newnode)))
}

func (r *RemoteNode) Setup(ctx context.Context, predecessor NodeRef, fingers map[string]NodeRef, data map[string][]byte) error {
	wireFingers := make(map[string]Descriptor, len(fingers))
	for step, f := range fingers {
		wireFingers[step] = r.translator.ToDescriptor(f)
	}
	return translateRemoteErr(r.transport.Setup(ctx, r.descr, r.translator.ToDescriptor(predecessor), wireFingers, data))
}

func (r *RemoteNode) SuccessorLeaving(ctx context.Context, newSuccessor NodeRef) error {
	return translateRemoteErr(r.transport.SuccessorLeaving(ctx, r.descr, r.translator.ToDescriptor(newSuccessor)))
}

func (r *RemoteNode) PredecessorLeaving(ctx context.Context, newPredecessor NodeRef, data map[string][]byte) error {
	return translateRemoteErr(r.transport.PredecessorLeaving(ctx, r.descr, r.translator.ToDescriptor(newPredecessor), data))
}

func (r *RemoteNode) RepairFingers(ctx context.Context) error {
	return translateRemoteErr(r.transport.RepairFingers(ctx, r.descr))
}

func (r *RemoteNode) RepairPredecessor(ctx context.Context) error {
	return translateRemoteErr(r.transport.RepairPredecessor(ctx, r.descr))
}

func (r *RemoteNode) Leave(ctx context.Context) error {
	return translateRemoteErr(r.transport.Leave(ctx, r.descr))
}

// translateRemoteErr passes known sentinel errors through unchanged and
// wraps anything else as a transport error, per spec.md §7's propagation
// policy.
func translateRemoteErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == ErrNotFound, err == ErrNotReady, err == ErrNotResponsible,
		err == ErrRingBroken, err == ErrDuplicateID, err == ErrInvalidJoinArc:
		return err
	}
	return wrapTransport(err)
}
