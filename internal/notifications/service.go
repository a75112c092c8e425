package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/services"
)

const userAgent = "Curator/0.1.0"

// Service defines the alerts emitted by the curator and its worker pool.
type Service interface {
	NotifyFullTransformCompleted(ctx context.Context, assets, failed int, elapsed time.Duration) error
	NotifyWorkerCrashed(ctx context.Context, slot int, relPath, reason string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Noop()
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		topicURL: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
	}
}

// Noop returns a Service that discards every alert.
func Noop() Service {
	return noopService{}
}

// ntfy priorities; the server default is left implicit.
const (
	priorityLow  = "low"
	priorityHigh = "high"
)

// alert is one ntfy message. Every alert is tagged "curator" ahead of tags.
type alert struct {
	title    string
	body     string
	tags     []string
	priority string
}

func (a alert) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Title", "Curator - "+a.title)
	h.Set("Tags", strings.Join(append([]string{"curator"}, a.tags...), ","))
	if a.priority != "" {
		h.Set("Priority", a.priority)
	}
	return h
}

type ntfyService struct {
	topicURL string
	client   *http.Client
}

func (n *ntfyService) NotifyFullTransformCompleted(ctx context.Context, assets, failed int, elapsed time.Duration) error {
	took := max(elapsed.Round(time.Second), 0)
	if failed == 0 {
		return n.post(ctx, alert{
			title: "Full Transform Complete",
			body:  fmt.Sprintf("Transformed %d assets in %s", assets, took),
			tags:  []string{"transform", "completed"},
		})
	}
	return n.post(ctx, alert{
		title:    "Full Transform Complete (with errors)",
		body:     fmt.Sprintf("Transformed %d assets in %s, %d failed", assets, took, failed),
		tags:     []string{"transform", "errors"},
		priority: priorityHigh,
	})
}

func (n *ntfyService) NotifyWorkerCrashed(ctx context.Context, slot int, relPath, reason string) error {
	body := fmt.Sprintf("Worker %d crashed", slot)
	if p := strings.TrimSpace(relPath); p != "" {
		body += " while transforming " + p
	}
	if r := strings.TrimSpace(reason); r != "" {
		body += "\n" + r
	}
	return n.post(ctx, alert{title: "Worker Crashed", body: body, tags: []string{"worker", "crash"}, priority: priorityHigh})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, during string) error {
	cause := "unknown"
	if err != nil {
		cause = strings.TrimSpace(err.Error())
	}
	body := "Error: " + cause
	if d := strings.TrimSpace(during); d != "" {
		body = "Error during " + d + ": " + cause
	}
	return n.post(ctx, alert{title: "Error", body: body, tags: []string{"error", "alert"}, priority: priorityHigh})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.post(ctx, alert{title: "Test", body: "Notification system test", tags: []string{"test"}, priority: priorityLow})
}

// post delivers a to the topic. Network failures are transient; a non-2xx
// answer is reported with the start of the response body.
func (n *ntfyService) post(ctx context.Context, a alert) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(a.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header = a.header()

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "notifications", "send", a.title, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode/100 != 2 {
		detail := fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		return services.Wrap(services.ErrExternalTool, "notifications", "send", detail, nil)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyFullTransformCompleted(context.Context, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyWorkerCrashed(context.Context, int, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
