package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is a structured log line retained by the StreamHub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	AssetID       string            `json:"asset_id,omitempty"`
	Path          string            `json:"path,omitempty"`
	Slot          int               `json:"slot,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogQuery narrows the events returned by Fetch. Empty fields match everything.
type LogQuery struct {
	Since     uint64
	Limit     int
	AssetID   string
	Component string
	MinLevel  string
	Wait      bool
}

func (q LogQuery) matches(evt LogEvent) bool {
	if q.AssetID != "" && evt.AssetID != q.AssetID {
		return false
	}
	if q.Component != "" && !strings.EqualFold(evt.Component, q.Component) {
		return false
	}
	if q.MinLevel != "" && ParseLevel(evt.Level) < ParseLevel(q.MinLevel) {
		return false
	}
	return true
}

// StreamHub keeps a bounded window of recent events. Readers waiting for
// new events block on the changed channel, which Publish closes and
// replaces.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	start   int
	count   int
	lastSeq uint64
	changed chan struct{}
}

// NewStreamHub constructs a hub retaining at most capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{ring: make([]LogEvent, capacity), changed: make(chan struct{})}
}

// at returns the i-th oldest retained event.
func (h *StreamHub) at(i int) LogEvent {
	return h.ring[(h.start+i)%len(h.ring)]
}

// Publish assigns the next sequence number and stores evt, evicting the
// oldest event once the window is full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	if h.count == len(h.ring) {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % len(h.ring)
	} else {
		h.ring[(h.start+h.count)%len(h.ring)] = evt
		h.count++
	}
	close(h.changed)
	h.changed = make(chan struct{})
}

// Fetch returns matching events newer than q.Since along with the latest
// sequence number. With q.Wait set it blocks until something matches or ctx
// ends.
func (h *StreamHub) Fetch(ctx context.Context, q LogQuery) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, q.Since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if q.Limit <= 0 || q.Limit > len(h.ring) {
		q.Limit = len(h.ring)
	}
	for {
		h.mu.Lock()
		events := h.collectLocked(q)
		last, changed := h.lastSeq, h.changed
		h.mu.Unlock()

		if len(events) > 0 || !q.Wait {
			return events, last, ctx.Err()
		}
		// Nothing newer than last matched, so later passes only need to
		// look past it.
		q.Since = last
		select {
		case <-ctx.Done():
			return nil, last, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the most recent limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	out := make([]LogEvent, limit)
	for i := range out {
		out[i] = h.at(h.count - limit + i)
	}
	return out, h.lastSeq
}

// FirstSequence reports the oldest retained sequence number.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return h.lastSeq
	}
	return h.at(0).Sequence
}

func (h *StreamHub) collectLocked(q LogQuery) []LogEvent {
	var out []LogEvent
	for i := 0; i < h.count && len(out) < q.Limit; i++ {
		if evt := h.at(i); evt.Sequence > q.Since && q.matches(evt) {
			out = append(out, evt)
		}
	}
	return out
}

// streamHandler tees records into a StreamHub before passing them on.
type streamHandler struct {
	next  slog.Handler
	hub   *StreamHub
	bound []field
	group string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(h.event(ctx, record))
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.next = h.next.WithAttrs(attrs)
	next.bound = appendFields(append([]field(nil), h.bound...), h.group, attrs...)
	return &next
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.next = h.next.WithGroup(name)
	next.group = joinKey(h.group, name)
	return &next
}

func (h *streamHandler) event(ctx context.Context, record slog.Record) LogEvent {
	event := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}

	fields := appendFields(nil, "", ContextFields(ctx)...)
	fields = append(fields, h.bound...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFields(fields, h.group, attr)
		return true
	})

	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			event.Component = attrString(f.value)
		case FieldAssetID:
			event.AssetID = attrString(f.value)
		case FieldPath:
			event.Path = attrString(f.value)
		case FieldSlot:
			if f.value.Kind() == slog.KindInt64 {
				event.Slot = int(f.value.Int64())
			}
		case FieldCorrelationID:
			event.CorrelationID = attrString(f.value)
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[f.key] = attrString(f.value)
		}
	}
	return event
}
