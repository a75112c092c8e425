package processor

import (
	"context"
	"time"

	"curator/internal/logging"
)

func (m *Manager) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	// Completions must still be recorded while draining after ctx ends.
	workCtx := context.WithoutCancel(ctx)

	poll := m.cfg.PollInterval()
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	timer := time.NewTimer(poll)
	defer timer.Stop()

	ctxDone := ctx.Done()
	var (
		draining bool
		deadline time.Time
		killed   bool
	)
	beginDrain := func(reason string) {
		if draining {
			return
		}
		draining = true
		deadline = time.Now().Add(m.cfg.DrainTimeout())
		m.mu.Lock()
		m.draining = true
		m.mu.Unlock()
		m.logger.Info("worker pool draining", logging.String("reason", reason), logging.Int("busy", m.busySlots()))
	}

	for {
		progressed := false
		for _, slot := range m.slots {
			if slot.FinishExecute(workCtx) {
				progressed = true
			}
			if !draining && slot.BeginExecute(workCtx) {
				m.dispatched.Add(1)
				progressed = true
			}
		}
		busy := m.busySlots()
		m.metrics.SetBusySlots(busy)

		if draining {
			if busy == 0 {
				break
			}
			if !killed && time.Now().After(deadline) {
				logging.WarnWithContext(m.logger, "drain timeout expired; killing workers", "drain_timeout",
					logging.Int("busy", busy),
					logging.Duration("drain_timeout", m.cfg.DrainTimeout()),
					logging.String(logging.FieldImpact, "in-flight assets are marked as transform errors"),
					logging.String(logging.FieldErrorHint, "raise workers.drain_timeout for long transforms"))
				for _, slot := range m.slots {
					if slot.Busy() {
						slot.Kill()
					}
				}
				killed = true
			}
		}
		if progressed {
			continue
		}

		timer.Reset(poll)
		select {
		case <-stop:
			stop = nil
			beginDrain("stop requested")
		case <-ctxDone:
			ctxDone = nil
			beginDrain("context cancelled")
		case <-m.wake:
		case <-m.cur.WorkAvailable():
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	m.shutdownSlots()
	m.metrics.SetBusySlots(0)
	m.mu.Lock()
	m.running = false
	m.draining = false
	m.mu.Unlock()
	m.logger.Info("worker pool stopped", logging.Uint64("dispatched", m.dispatched.Load()))
}

func (m *Manager) busySlots() int {
	n := 0
	for _, slot := range m.slots {
		if slot.Busy() {
			n++
		}
	}
	return n
}

func (m *Manager) shutdownSlots() {
	grace := m.cfg.ShutdownGrace()
	for _, slot := range m.slots {
		if err := slot.Shutdown(grace); err != nil {
			m.logger.Warn("worker shutdown", logging.Slot(slot.ID()), logging.Error(err))
		}
	}
}
