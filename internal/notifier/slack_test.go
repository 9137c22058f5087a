package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSlackNotifierPostsToWebhook(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(srv.URL)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := n.Notify(context.Background(), "#it-alerts", "web-01 is offline"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Channel != "#it-alerts" || got.Text != "web-01 is offline" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestSlackNotifierReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n, _ := NewSlackNotifier(srv.URL)
	if err := n.Notify(context.Background(), "#it-alerts", "hello"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestNewSlackNotifierRequiresURL(t *testing.T) {
	if _, err := NewSlackNotifier(""); err == nil {
		t.Fatal("expected error for empty webhook URL")
	}
}
