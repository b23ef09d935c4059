package chord

import "errors"

// Sentinel errors for every error kind named in the specification. Tested
// with errors.Is, following the teacher's plain-sentinel style rather than
// a custom error-code type.
var (
	// ErrNotReady is returned when a ring-facing operation is attempted
	// before the node has completed Setup or solo bootstrap.
	ErrNotReady = errors.New("dyschord: node not initialized")

	// ErrNotResponsible is returned when a key's hash does not fall in
	// this node's arc; the caller should re-route via FindNode.
	ErrNotResponsible = errors.New("dyschord: not responsible for key")

	// ErrNotFound is returned when a key is absent from the owner's data.
	ErrNotFound = errors.New("dyschord: key not found")

	// ErrRingBroken signals a structural invariant violation: a
	// duplicate id seen during a ring walk, or a backup write whose
	// claimed predecessor does not match the real one.
	ErrRingBroken = errors.New("dyschord: ring invariant broken")

	// ErrTransport wraps RPC timeouts and socket failures.
	ErrTransport = errors.New("dyschord: transport error")

	// ErrNoPeers is returned by the convenience client when its peer
	// pool is empty.
	ErrNoPeers = errors.New("dyschord: no peers available")

	// ErrDuplicateID is returned by PrependNode when the joining node's
	// id collides with an existing ring member.
	ErrDuplicateID = errors.New("dyschord: duplicate node id")

	// ErrInvalidJoinArc is returned by PrependNode when the joining
	// node does not fall within (old_predecessor, self).
	ErrInvalidJoinArc = errors.New("dyschord: joining node outside predecessor arc")
)

// wrapTransport marks err as a TransportError while preserving it for
// errors.Is/errors.Unwrap.
func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	return &transportError{cause: err}
}

type transportError struct{ cause error }

func (e *transportError) Error() string { return "dyschord: transport error: " + e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }
func (e *transportError) Is(target error) bool { return target == ErrTransport }
