// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentria/internal/models"
)

func testAlert() *models.Alert {
	return &models.Alert{
		ID:        "alert-1",
		Kind:      "suspicious_ip",
		Severity:  models.SeverityHigh,
		Source:    "203.0.113.1",
		Title:     "Suspicious Activity from IP 203.0.113.1",
		Timestamp: time.Now().UTC(),
	}
}

func TestSendPushNotificationPostsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received webhookPayload
		gotType  string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhook(WebhookConfig{URL: srv.URL})
	if err := n.SendPushNotification(context.Background(), testAlert()); err != nil {
		t.Fatalf("SendPushNotification: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if received.Severity != "high" || received.Source != "203.0.113.1" {
		t.Errorf("payload = %+v", received)
	}
	if !strings.Contains(received.Text, "HIGH") {
		t.Errorf("text %q missing upper-cased severity", received.Text)
	}
}

func TestSendPushNotificationErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhook(WebhookConfig{URL: srv.URL})
	if err := n.SendPushNotification(context.Background(), testAlert()); err == nil {
		t.Error("no error for a 502 response")
	}
}

func TestUnconfiguredNotifierIsNoop(t *testing.T) {
	n := NewWebhook(WebhookConfig{})
	if err := n.SendPushNotification(context.Background(), testAlert()); err != nil {
		t.Errorf("unconfigured notifier returned %v", err)
	}
}

func TestSendPushNotificationHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's client-disconnect watcher starts;
		// only then does the client timing out cancel r.Context().
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	n := NewWebhook(WebhookConfig{URL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := n.SendPushNotification(ctx, testAlert()); err == nil {
		t.Error("no error when the context deadline passed")
	}
}
