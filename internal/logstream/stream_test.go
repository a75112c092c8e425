package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"curator/internal/api"
	"curator/internal/ipc"
	"curator/internal/logging"
	"curator/internal/logs"
)

type fakeTail struct {
	requests []ipc.LogTailRequest
	lines    []string
}

func (f *fakeTail) LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	f.requests = append(f.requests, req)
	return &ipc.LogTailResponse{Lines: f.lines, Offset: 128}, nil
}

func TestStreamPrefersAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("component") != "processor" {
			t.Errorf("component filter not forwarded: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(api.LogStreamResponse{
			Events: []logging.LogEvent{{Sequence: 1, Timestamp: time.Now(), Level: "info", Message: "slot ready"}},
			Next:   2,
		})
	}))
	defer srv.Close()
	client, err := logs.NewStreamClient(srv.URL)
	if err != nil {
		t.Fatalf("NewStreamClient: %v", err)
	}

	tail := &fakeTail{}
	var got []logging.LogEvent
	printed, err := Stream(context.Background(), client, tail, Options{Lines: 10, Filters: Filters{Component: "processor"}},
		func(evt logging.LogEvent) { got = append(got, evt) }, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed || len(got) != 1 || got[0].Message != "slot ready" {
		t.Fatalf("unexpected events: %+v", got)
	}
	if len(tail.requests) != 0 {
		t.Fatal("fallback should not be used when the API answers")
	}
}

func TestStreamFallsBackToTail(t *testing.T) {
	tail := &fakeTail{lines: []string{"a", "b"}}
	var lines []string
	printed, err := Stream(context.Background(), nil, tail, Options{Lines: 2}, nil,
		func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed || len(lines) != 2 {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if tail.requests[0].Offset != -1 || tail.requests[0].Limit != 2 {
		t.Fatalf("unexpected tail request: %+v", tail.requests[0])
	}
}

func TestStreamFiltersRequireAPI(t *testing.T) {
	_, err := Stream(context.Background(), nil, &fakeTail{}, Options{Filters: Filters{AssetID: "x"}}, nil, nil)
	if !errors.Is(err, ErrFiltersRequireAPI) {
		t.Fatalf("expected ErrFiltersRequireAPI, got %v", err)
	}
}

type cancellingTail struct {
	fakeTail
	after  int
	cancel context.CancelFunc
}

func (c *cancellingTail) LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	resp, err := c.fakeTail.LogTail(req)
	if len(c.requests) >= c.after {
		c.cancel()
	}
	return resp, err
}

func TestStreamFollowAdvancesTailOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tail := &cancellingTail{fakeTail: fakeTail{lines: []string{"x"}}, after: 2, cancel: cancel}

	printed, err := Stream(ctx, nil, tail, Options{Lines: 5, Follow: true}, nil, func(string) {})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed || len(tail.requests) != 2 {
		t.Fatalf("expected two tail requests, got %+v", tail.requests)
	}
	second := tail.requests[1]
	if second.Offset != 128 || second.Limit != 0 || !second.Follow {
		t.Fatalf("follow request should resume from the returned offset: %+v", second)
	}
}
