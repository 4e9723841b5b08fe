package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxseedlab/racenotif/internal/webhook"
)

func TestSendAlert_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendAlert(context.Background(), webhook.Alert{Kind: "tick_failed"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendAlert_Success(t *testing.T) {
	var got webhook.Alert

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	occurredAt := time.Date(2026, 3, 6, 11, 20, 0, 0, time.UTC)
	sender := NewHTTPSender(server.URL)
	err := sender.SendAlert(context.Background(), webhook.Alert{
		Kind:       "send_failed",
		Message:    "notification send failed",
		Error:      "boom",
		Attributes: map[string]string{"session_id": "42", "tier": "10m"},
		OccurredAt: occurredAt,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.SchemaVersion != webhook.AlertSchemaVersion {
		t.Fatalf("expected schema version to be filled, got %d", got.SchemaVersion)
	}
	if got.Kind != "send_failed" || got.Error != "boom" || got.Attributes["tier"] != "10m" {
		t.Fatalf("unexpected alert payload: %+v", got)
	}
	if !got.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurred_at: %v", got.OccurredAt)
	}
}

func TestSendAlert_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendAlert(context.Background(), webhook.Alert{Kind: "tick_failed"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
