package chord

import (
	"context"
	"time"

	"github.com/afoglia/dyschord/internal/logger"
)

// PredecessorMonitor periodically pings a node's predecessor and triggers
// repair when it stops answering. Grounded on
// original_source/dyschord/server.py's PredecessorMonitor thread; the
// Python original uses a threading.Condition so that a stop request
// interrupts the sleep immediately rather than waiting out the next
// heartbeat — here the same property comes from selecting on a timer
// against a channel closed by Stop.
type PredecessorMonitor struct {
	node      *LocalNode
	heartbeat time.Duration
	logger    logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPredecessorMonitor builds a monitor for node, checking every
// heartbeat interval. Call Start to begin.
func NewPredecessorMonitor(node *LocalNode, heartbeat time.Duration, lg logger.Logger) *PredecessorMonitor {
	if lg == nil {
		lg = logger.NopLogger{}
	}
	return &PredecessorMonitor{
		node:      node,
		heartbeat: heartbeat,
		logger:    lg.Named("predecessor-monitor"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the monitor loop in its own goroutine.
func (m *PredecessorMonitor) Start() {
	go m.run()
}

// Stop requests the loop exit and blocks until it has.
func (m *PredecessorMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *PredecessorMonitor) run() {
	defer close(m.doneCh)
	timer := time.NewTimer(m.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-timer.C:
			m.checkPredecessor()
			timer.Reset(m.heartbeat)
		}
	}
}

func (m *PredecessorMonitor) checkPredecessor() {
	ctx := context.Background()
	m.logger.Debug("checking predecessor")

	pred, err := m.node.GetPredecessor(ctx)
	if err != nil {
		m.logger.Warn("unable to read predecessor", logger.F("error", err.Error()))
		return
	}
	if ok, err := pred.Ping(ctx); err == nil && ok {
		return
	}

	m.logger.Warn("predecessor non-responsive", logger.F("predecessor", pred.ID().String()))
	if err := m.node.RepairPredecessor(ctx); err != nil {
		m.logger.Warn("repair predecessor failed", logger.F("error", err.Error()))
		return
	}

	newPred, err := m.node.GetPredecessor(ctx)
	if err != nil {
		m.logger.Warn("unable to read repaired predecessor", logger.F("error", err.Error()))
		return
	}
	m.logger.Info("replaced predecessor", logger.F("predecessor", newPred.ID().String()))
	if err := newPred.SuccessorLeaving(ctx, m.node); err != nil {
		m.logger.Warn("notifying new predecessor failed", logger.F("error", err.Error()))
	}
}
