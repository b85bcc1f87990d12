package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tokenwatch/internal/config"
	"tokenwatch/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventWorkerRestarted, notifications.Payload{"worker": "monitoring.py"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "worker restarted",
			event: notifications.EventWorkerRestarted,
			payload: notifications.Payload{
				"worker": "monitoring.py",
				"pid":    4242,
				"reason": "data file change",
			},
			expectTitle:   "Tokenwatch - Worker Restarted",
			expectMessage: "🔄 Worker restarted: monitoring.py (pid 4242)\nReason: data file change",
			expectTags:    "tokenwatch,worker,restarted",
		},
		{
			name:           "restart suspended",
			event:          notifications.EventRestartSuspended,
			payload:        notifications.Payload{"worker": "monitoring.py"},
			expectTitle:    "Tokenwatch - Restart Suspended",
			expectMessage:  "⏸️ Restart of monitoring.py deferred: process lock held",
			expectTags:     "tokenwatch,lock,suspended",
			expectPriority: "low",
		},
		{
			name:  "restart failed",
			event: notifications.EventRestartFailed,
			payload: notifications.Payload{
				"worker": "monitoring.py",
				"error":  "exec: \"python3\": executable file not found in $PATH",
			},
			expectTitle:    "Tokenwatch - Restart Failed",
			expectMessage:  "❌ Restart of monitoring.py failed: exec: \"python3\": executable file not found in $PATH",
			expectTags:     "tokenwatch,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Tokenwatch - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "tokenwatch,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Suspensions = false
	cfg.Notifications.Restarts = false

	svc := notifications.NewService(&cfg)
	disabled := []notifications.Event{
		notifications.EventRestartSuspended,
		notifications.EventWorkerRestarted,
		notifications.Event("unknown"),
	}
	for _, event := range disabled {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"worker": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic is reserved", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic is reserved") {
		t.Fatalf("unexpected error: %v", err)
	}
}
