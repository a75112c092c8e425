// Package events fans curator notifications out to observers without ever
// blocking the publisher.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
)

// Kind names an event variant.
type Kind string

const (
	AssetAdded              Kind = "asset_added"
	AssetRemoved            Kind = "asset_removed"
	AssetUpdated            Kind = "asset_updated"
	AssetListReset          Kind = "asset_list_reset"
	ProcessTaskStateChanged Kind = "process_task_state_changed"
	ActivePlatformChanged   Kind = "active_platform_changed"
	WorkerLog               Kind = "worker_log"
)

// Event is a single notification. Asset is a detached copy and may be nil
// for variants that do not concern one asset.
type Event struct {
	Kind     Kind        `json:"kind"`
	Time     time.Time   `json:"time"`
	AssetID  uuid.UUID   `json:"asset_id,omitzero"`
	Asset    *asset.Info `json:"asset,omitempty"`
	Slot     int         `json:"slot,omitempty"`
	Task     string      `json:"task_state,omitempty"`
	Platform string      `json:"platform,omitempty"`

	// Log is set for WorkerLog events.
	Log *asset.LogEntry `json:"log,omitempty"`
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(Event)
}

// Hub delivers events to subscribers through bounded buffers. A full buffer
// drops the event for that subscriber and counts the drop.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Publish implements Publisher.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, hub: h, ch: make(chan Event, buffer)}
	h.subs[sub.id] = sub
	return sub
}

// Dropped reports the total number of events dropped across subscribers.
func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	id      uint64
	hub     *Hub
	ch      chan Event
	once    sync.Once
	dropped atomic.Uint64
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
