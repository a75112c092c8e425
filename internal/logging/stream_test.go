package logging_test

import (
	"context"
	"testing"
	"time"

	"curator/internal/logging"
)

func TestStreamHubEvictsOldest(t *testing.T) {
	hub := logging.NewStreamHub(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		hub.Publish(logging.LogEvent{Message: msg})
	}

	events, last := hub.Tail(10)
	if last != 5 {
		t.Fatalf("expected last sequence 5, got %d", last)
	}
	if len(events) != 3 || events[0].Message != "c" || events[2].Message != "e" {
		t.Fatalf("unexpected window: %+v", events)
	}
	if first := hub.FirstSequence(); first != 3 {
		t.Fatalf("expected first sequence 3, got %d", first)
	}
}

func TestStreamHubFetchFilters(t *testing.T) {
	hub := logging.NewStreamHub(10)
	hub.Publish(logging.LogEvent{Message: "one", Level: "INFO", AssetID: "x"})
	hub.Publish(logging.LogEvent{Message: "two", Level: "WARN", AssetID: "y"})
	hub.Publish(logging.LogEvent{Message: "three", Level: "ERROR", AssetID: "x"})

	events, _, err := hub.Fetch(context.Background(), logging.LogQuery{AssetID: "x"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for asset x, got %d", len(events))
	}

	events, _, _ = hub.Fetch(context.Background(), logging.LogQuery{MinLevel: "warn"})
	if len(events) != 2 || events[0].Message != "two" {
		t.Fatalf("unexpected level filter result: %+v", events)
	}

	events, _, _ = hub.Fetch(context.Background(), logging.LogQuery{Since: 2})
	if len(events) != 1 || events[0].Message != "three" {
		t.Fatalf("unexpected since result: %+v", events)
	}
}

func TestStreamHubFetchWaitsForEvent(t *testing.T) {
	hub := logging.NewStreamHub(4)
	done := make(chan []logging.LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), logging.LogQuery{Wait: true})
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(logging.LogEvent{Message: "late"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "late" {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake")
	}
}

func TestStreamHubFetchHonorsCancel(t *testing.T) {
	hub := logging.NewStreamHub(4)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := hub.Fetch(ctx, logging.LogQuery{Wait: true})
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestLoggerPublishesToStream(t *testing.T) {
	hub := logging.NewStreamHub(8)
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{t.TempDir() + "/out.log"}, Stream: hub})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	logger.Info("dispatched", logging.AssetID("id-1"), logging.Slot(4), logging.String("mode", "transform"))

	events, _ := hub.Tail(1)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	evt := events[0]
	if evt.Component != "scheduler" || evt.AssetID != "id-1" || evt.Slot != 4 {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Fields["mode"] != "transform" {
		t.Fatalf("expected extra field, got %+v", evt.Fields)
	}
}
