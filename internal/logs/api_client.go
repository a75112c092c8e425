package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"curator/internal/api"
)

// ErrAPIUnavailable reports that the daemon HTTP API cannot be reached.
var ErrAPIUnavailable = errors.New("log API unavailable")

// StreamClient reads the structured log stream over HTTP.
type StreamClient struct {
	base *url.URL
	http *http.Client
}

// StreamQuery mirrors the /api/logs query parameters.
type StreamQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	AssetID   string
	Component string
	Level     string
}

// NewStreamClient returns nil when bind is empty.
func NewStreamClient(bind string) (*StreamClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &StreamClient{
		base: base,
		// No timeout - follow mode blocks waiting for events until caller cancels.
		http: &http.Client{},
	}, nil
}

// Encode renders q as the /api/logs query string.
func (q StreamQuery) Encode() string {
	values := url.Values{}
	if q.Since > 0 {
		values.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	flags := map[string]bool{"follow": q.Follow, "tail": q.Tail}
	for key, on := range flags {
		if on {
			values.Set(key, "1")
		}
	}
	filters := map[string]string{"asset": q.AssetID, "component": q.Component, "level": q.Level}
	for key, value := range filters {
		if value = strings.TrimSpace(value); value != "" {
			values.Set(key, value)
		}
	}
	return values.Encode()
}

// Fetch returns one page of log events. A nil client and a daemon without the
// log route both report ErrAPIUnavailable so callers can fall back to the file.
func (c *StreamClient) Fetch(ctx context.Context, q StreamQuery) (api.LogStreamResponse, error) {
	var payload api.LogStreamResponse
	if c == nil {
		return payload, ErrAPIUnavailable
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: "/api/logs", RawQuery: q.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return payload, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return payload, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return payload, fmt.Errorf("%w: /api/logs not served", ErrAPIUnavailable)
	case resp.StatusCode >= 400:
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return payload, fmt.Errorf("log api: %s (status %d)", body.Error, resp.StatusCode)
		}
		return payload, fmt.Errorf("log api returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return payload, fmt.Errorf("decode log events: %w", err)
	}
	return payload, nil
}

// IsAPIUnavailable reports whether err means the daemon API could not be
// reached at all, as opposed to answering with an error.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
