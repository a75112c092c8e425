package processor

import "curator/internal/worker"

// Status is a point-in-time view of the worker pool.
type Status struct {
	Running        bool                `json:"running"`
	Draining       bool                `json:"draining"`
	Platform       string              `json:"platform"`
	Slots          []worker.SlotStatus `json:"slots"`
	Dispatched     uint64              `json:"dispatched"`
	DroppedLogs    uint64              `json:"dropped_logs"`
	LastError      string              `json:"last_error,omitempty"`
	LastCompletion *Completion         `json:"last_completion,omitempty"`
}

// Status returns the latest pool information.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{
		Running:   m.running,
		Draining:  m.draining,
		LastError: m.lastErr,
	}
	if m.lastDone != nil {
		done := *m.lastDone
		st.LastCompletion = &done
	}
	m.mu.RUnlock()

	st.Platform = m.cur.Platform()
	st.Dispatched = m.dispatched.Load()
	st.DroppedLogs = m.droppedLogs.Load()
	for _, slot := range m.slots {
		st.Slots = append(st.Slots, slot.Status())
	}
	return st
}
