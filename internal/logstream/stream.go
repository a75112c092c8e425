package logstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"curator/internal/ipc"
	"curator/internal/logging"
	"curator/internal/logs"
)

// ErrFiltersRequireAPI is returned when filters are set but only the file fallback is reachable.
var ErrFiltersRequireAPI = errors.New("log filters require API access")

// TailClient captures the IPC log tail contract used for fallback streaming.
type TailClient interface {
	LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error)
}

// Filters narrows the structured stream. The raw file fallback cannot apply
// them, so any non-empty filter requires the HTTP API.
type Filters struct {
	AssetID   string
	Component string
	Level     string
}

func (f Filters) empty() bool {
	return strings.TrimSpace(f.AssetID) == "" &&
		strings.TrimSpace(f.Component) == "" &&
		strings.TrimSpace(f.Level) == ""
}

// Options controls stream behavior.
type Options struct {
	Lines   int
	Follow  bool
	Filters Filters
}

// Stream emits structured events from the HTTP API when available and falls
// back to tailing the daemon log file over IPC.
// It returns true when at least one line/event was emitted.
func Stream(
	ctx context.Context,
	apiClient *logs.StreamClient,
	legacy TailClient,
	opts Options,
	onEvent func(logging.LogEvent),
	onLine func(string),
) (bool, error) {
	printed, err := streamAPI(ctx, apiClient, opts, onEvent)
	if err == nil {
		return printed, nil
	}
	if !logs.IsAPIUnavailable(err) {
		return printed, err
	}
	if !opts.Filters.empty() {
		return false, fmt.Errorf("%w: %w", ErrFiltersRequireAPI, logs.ErrAPIUnavailable)
	}
	if legacy == nil {
		return false, logs.ErrAPIUnavailable
	}
	return streamLegacy(ctx, legacy, opts, onLine)
}

// followPage bounds each fetch after the initial backlog.
const followPage = 200

func streamAPI(
	ctx context.Context,
	client *logs.StreamClient,
	opts Options,
	onEvent func(logging.LogEvent),
) (bool, error) {
	query := logs.StreamQuery{
		Limit:     opts.Lines,
		Tail:      true,
		AssetID:   opts.Filters.AssetID,
		Component: opts.Filters.Component,
		Level:     opts.Filters.Level,
	}
	if query.Limit <= 0 {
		query.Limit = followPage
	}

	var emitted int
	for {
		resp, err := client.Fetch(ctx, query)
		switch {
		case err != nil && ctx.Err() != nil && emitted > 0:
			return true, nil
		case err != nil:
			return emitted > 0, err
		}
		for _, evt := range resp.Events {
			if onEvent != nil {
				onEvent(evt)
			}
		}
		emitted += len(resp.Events)
		if !opts.Follow {
			return emitted > 0, nil
		}
		query = logs.StreamQuery{
			Since:     resp.Next,
			Limit:     followPage,
			Follow:    true,
			AssetID:   query.AssetID,
			Component: query.Component,
			Level:     query.Level,
		}
	}
}

// tailCursor tracks the IPC fallback position. A negative offset asks the
// daemon for the last limit lines instead of reading from a byte position.
type tailCursor struct {
	offset int64
	limit  int
}

func newTailCursor(lines int) tailCursor {
	if lines <= 0 {
		return tailCursor{offset: 0}
	}
	return tailCursor{offset: -1, limit: lines}
}

func streamLegacy(ctx context.Context, client TailClient, opts Options, onLine func(string)) (bool, error) {
	cur := newTailCursor(opts.Lines)
	var emitted int
	for {
		resp, err := client.LogTail(ipc.LogTailRequest{
			Offset:     cur.offset,
			Limit:      cur.limit,
			Follow:     opts.Follow,
			WaitMillis: 1000,
		})
		if err != nil {
			return emitted > 0, fmt.Errorf("tail logs: %w", err)
		}
		if resp == nil {
			return emitted > 0, errors.New("log tail response missing")
		}
		for _, line := range resp.Lines {
			if onLine != nil {
				onLine(line)
			}
		}
		emitted += len(resp.Lines)
		cur = tailCursor{offset: resp.Offset}
		if !opts.Follow || ctx.Err() != nil {
			return emitted > 0, nil
		}
	}
}
