package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rowjay/restorekit/internal/config"
)

func TestWebhookPostsEvent(t *testing.T) {
	var got Event
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Token")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := Webhook{Name: "ops", URL: srv.URL, Headers: map[string]string{"X-Token": "abc"}}
	err := hook.Notify(context.Background(), Event{Type: "restore", RunID: "r1", Status: "success", Succeeded: 10})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.RunID != "r1" || got.Succeeded != 10 || header != "abc" {
		t.Fatalf("unexpected delivery: %+v header=%q", got, header)
	}
}

func TestMultiReportsFailures(t *testing.T) {
	var text string
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		text = payload["text"]
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	multi := FromConfig(config.NotificationsConfig{
		Mattermost: []config.MattermostHook{{Name: "chat", URL: ok.URL}},
		Webhooks:   []config.WebhookConfig{{Name: "broken", URL: bad.URL}},
	})
	err := multi.Notify(context.Background(), Event{Status: "partial", Message: "restore finished", Backup: "prod", Failed: 2})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected failure from broken webhook, got %v", err)
	}
	if !strings.Contains(text, "[partial] restore finished") || !strings.Contains(text, "2 failed") {
		t.Fatalf("unexpected mattermost text %q", text)
	}
}
