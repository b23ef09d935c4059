package chord

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/afoglia/dyschord/internal/logger"
)

// ServiceAdapter binds a transport's serve side to the local nodes
// registered with a Translator, satisfying Handler. Grounded on
// original_source/dyschord/server.py's DyschordService: each method
// resolves the addressed node, translates Descriptor arguments back to
// NodeRef, and forwards to the matching LocalNode operation — with the
// same "ntries=2, repair then retry" loop server.py's lookup and
// closest_preceding_node use around a dead finger/predecessor.
type ServiceAdapter struct {
	translator *Translator
	logger     logger.Logger
}

// NewServiceAdapter builds a ServiceAdapter serving every node registered
// with translator.
func NewServiceAdapter(translator *Translator, lg logger.Logger) *ServiceAdapter {
	if lg == nil {
		lg = logger.NopLogger{}
	}
	return &ServiceAdapter{translator: translator, logger: lg.Named("service")}
}

// resolve finds the LocalNode a request addresses. Only locally
// registered nodes are servable here; a RemoteNode reaching this far
// would mean this process answered for an id it doesn't host.
func (s *ServiceAdapter) resolve(d Descriptor) (*LocalNode, error) {
	ref, ok := s.translator.Local(d.ID)
	if !ok {
		return nil, ErrNotReady
	}
	ln, ok := ref.(*LocalNode)
	if !ok {
		return nil, wrapTransport(fmt.Errorf("registered node %s is not local", d))
	}
	return ln, nil
}

// repairAndRetry runs the repair pair server.py's lookup/closest_preceding_node
// fall back to whenever a transport error suggests a stale pointer.
func (s *ServiceAdapter) repairAndRetry(ctx context.Context, node *LocalNode) {
	s.logger.Error("node pointer corruption, repairing")
	if err := node.RepairPredecessor(ctx); err != nil {
		s.logger.Warn("repair predecessor failed", logger.F("error", err.Error()))
	}
	if err := node.RepairFingers(ctx); err != nil {
		s.logger.Warn("repair fingers failed", logger.F("error", err.Error()))
	}
}

func (s *ServiceAdapter) Ping(ctx context.Context, d Descriptor) (bool, error) {
	node, err := s.resolve(d)
	if err != nil {
		return false, err
	}
	return node.Ping(ctx)
}

// Lookup mirrors DyschordService.lookup's retry loop: try the local
// value if responsible, else route to the owning node, repairing and
// retrying once more if a transport error suggests the pointer is stale.
func (s *ServiceAdapter) Lookup(ctx context.Context, d Descriptor, key string) ([]byte, error) {
	node, err := s.resolve(d)
	if err != nil {
		return nil, err
	}
	h := node.HashKey([]byte(key))

	ntries := 2
	for ntries > 0 {
		ntries--
		if node.responsibleFor(h) {
			return node.Lookup(ctx, key)
		}

		target, ferr := FindNode(ctx, node, h)
		if ferr != nil {
			if errors.Is(ferr, ErrTransport) && ntries > 0 {
				s.repairAndRetry(ctx, node)
				continue
			}
			return nil, ferr
		}
		v, lerr := target.Lookup(ctx, key)
		if lerr != nil {
			if errors.Is(lerr, ErrTransport) && ntries > 0 {
				s.repairAndRetry(ctx, node)
				continue
			}
			return nil, lerr
		}
		return v, nil
	}
	return nil, ErrRingBroken
}

// Store mirrors DyschordService.store: a single attempt, no retry loop
// (the original doesn't retry store either).
func (s *ServiceAdapter) Store(ctx context.Context, d Descriptor, key string, value []byte) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	h := node.HashKey([]byte(key))
	if node.responsibleFor(h) {
		return node.Store(ctx, key, value)
	}
	target, err := FindNode(ctx, node, h)
	if err != nil {
		return err
	}
	return target.Store(ctx, key, value)
}

func (s *ServiceAdapter) StoreBackup(ctx context.Context, d Descriptor, key string, value []byte, predecessor Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.StoreBackup(ctx, key, value, predecessor)
}

func (s *ServiceAdapter) UpdateBackup(ctx context.Context, d Descriptor, data map[string][]byte) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.UpdateBackup(ctx, data)
}

func (s *ServiceAdapter) GetNext(ctx context.Context, d Descriptor) (Descriptor, error) {
	node, err := s.resolve(d)
	if err != nil {
		return Descriptor{}, err
	}
	next, err := node.GetNext(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	return s.translator.ToDescriptor(next), nil
}

func (s *ServiceAdapter) SetNext(ctx context.Context, d Descriptor, next Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.SetNext(ctx, s.translator.FromDescriptor(next))
}

func (s *ServiceAdapter) GetPredecessor(ctx context.Context, d Descriptor) (Descriptor, error) {
	node, err := s.resolve(d)
	if err != nil {
		return Descriptor{}, err
	}
	pred, err := node.GetPredecessor(ctx)
	if err != nil {
		return Descriptor{}, err
	}
	return s.translator.ToDescriptor(pred), nil
}

func (s *ServiceAdapter) GetFingers(ctx context.Context, d Descriptor) (map[string]Descriptor, error) {
	node, err := s.resolve(d)
	if err != nil {
		return nil, err
	}
	fingers, err := node.GetFingers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Descriptor, len(fingers))
	for step, f := range fingers {
		out[step] = s.translator.ToDescriptor(f)
	}
	return out, nil
}

func (s *ServiceAdapter) FindNode(ctx context.Context, d Descriptor, h *big.Int) (Descriptor, error) {
	node, err := s.resolve(d)
	if err != nil {
		return Descriptor{}, err
	}
	target, err := FindNode(ctx, node, h)
	if err != nil {
		return Descriptor{}, err
	}
	return s.translator.ToDescriptor(target), nil
}

// ClosestPrecedingNode mirrors DyschordService.closest_preceding_node's
// ntries=2 repair-and-retry loop.
func (s *ServiceAdapter) ClosestPrecedingNode(ctx context.Context, d Descriptor, h *big.Int) (Descriptor, error) {
	node, err := s.resolve(d)
	if err != nil {
		return Descriptor{}, err
	}
	ntries := 2
	for ntries > 0 {
		ntries--
		cpn, err := node.ClosestPrecedingNode(ctx, h)
		if err == nil {
			return s.translator.ToDescriptor(cpn), nil
		}
		if !errors.Is(err, ErrTransport) || ntries == 0 {
			return Descriptor{}, err
		}
		s.repairAndRetry(ctx, node)
	}
	return Descriptor{}, ErrRingBroken
}

func (s *ServiceAdapter) UpdateFingersOnInsert(ctx context.Context, d Descriptor, newnode Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.UpdateFingersOnInsert(ctx, s.translator.FromDescriptor(newnode))
}

func (s *ServiceAdapter) UpdateFingersOnLeave(ctx context.Context, d Descriptor, leaving, successorOfLeaving Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.UpdateFingersOnLeave(ctx, s.translator.FromDescriptor(leaving), s.translator.FromDescriptor(successorOfLeaving))
}

func (s *ServiceAdapter) PrependNode(ctx context.Context, d Descriptor, newnode Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	s.logger.Debug("trying to prepend node", logger.F("newnode", newnode.String()))
	if err := node.PrependNode(ctx, s.translator.FromDescriptor(newnode)); err != nil {
		return err
	}
	s.logger.Debug("successfully prepended node")
	return nil
}

func (s *ServiceAdapter) Setup(ctx context.Context, d Descriptor, predecessor Descriptor, fingers map[string]Descriptor, data map[string][]byte) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	fingerRefs := make(map[string]NodeRef, len(fingers))
	for step, f := range fingers {
		fingerRefs[step] = s.translator.FromDescriptor(f)
	}
	if err := node.Setup(ctx, s.translator.FromDescriptor(predecessor), fingerRefs, data); err != nil {
		return err
	}
	s.logger.Debug("successfully setup node")
	return nil
}

func (s *ServiceAdapter) SuccessorLeaving(ctx context.Context, d Descriptor, newSuccessor Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.SuccessorLeaving(ctx, s.translator.FromDescriptor(newSuccessor))
}

func (s *ServiceAdapter) PredecessorLeaving(ctx context.Context, d Descriptor, newPredecessor Descriptor, data map[string][]byte) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.PredecessorLeaving(ctx, s.translator.FromDescriptor(newPredecessor), data)
}

func (s *ServiceAdapter) RepairFingers(ctx context.Context, d Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.RepairFingers(ctx)
}

func (s *ServiceAdapter) RepairPredecessor(ctx context.Context, d Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	return node.RepairPredecessor(ctx)
}

func (s *ServiceAdapter) Leave(ctx context.Context, d Descriptor) error {
	node, err := s.resolve(d)
	if err != nil {
		return err
	}
	s.logger.Info("shutting down")
	return node.Leave(ctx)
}
