package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tokenwatch/internal/config"
)

const userAgent = "Tokenwatch-Go/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventWorkerRestarted  Event = "worker_restarted"
	EventRestartSuspended Event = "restart_suspended"
	EventRestartFailed    Event = "restart_failed"
	EventTest             Event = "test"
)

// Payload carries event fields keyed by name.
type Payload map[string]any

// Service publishes watchdog events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventWorkerRestarted:  cfg.Notifications.Restarts,
			EventRestartSuspended: cfg.Notifications.Suspensions,
			EventRestartFailed:    cfg.Notifications.Failures,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventWorkerRestarted:
		body := fmt.Sprintf("🔄 Worker restarted: %s", payload.text("worker", "worker"))
		if pid := payload.text("pid", ""); pid != "" {
			body += fmt.Sprintf(" (pid %s)", pid)
		}
		if reason := payload.text("reason", ""); reason != "" {
			body += fmt.Sprintf("\nReason: %s", reason)
		}
		return message{
			title: "Tokenwatch - Worker Restarted",
			body:  body,
			tags:  []string{"tokenwatch", "worker", "restarted"},
		}, true
	case EventRestartSuspended:
		return message{
			title:    "Tokenwatch - Restart Suspended",
			body:     fmt.Sprintf("⏸️ Restart of %s deferred: process lock held", payload.text("worker", "worker")),
			tags:     []string{"tokenwatch", "lock", "suspended"},
			priority: "low",
		}, true
	case EventRestartFailed:
		return message{
			title:    "Tokenwatch - Restart Failed",
			body:     fmt.Sprintf("❌ Restart of %s failed: %s", payload.text("worker", "worker"), payload.text("error", "unknown")),
			tags:     []string{"tokenwatch", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Tokenwatch - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"tokenwatch", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key, fallback string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" {
		return fallback
	}
	return text
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
