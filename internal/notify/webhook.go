// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package notify delivers alert push notifications to an external webhook
// (Slack, Discord, Teams, or any JSON endpoint). Delivery failures are the
// caller's to observe; the pipeline treats them as non-fatal.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentria/internal/models"
)

// WebhookConfig holds the push notification endpoint settings.
type WebhookConfig struct {
	// URL is the webhook endpoint. Empty disables notifications.
	URL string `koanf:"url" validate:"omitempty,url"`

	// Timeout bounds one delivery attempt.
	Timeout time.Duration `koanf:"timeout"`
}

// DefaultWebhookConfig returns production defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout: 10 * time.Second,
	}
}

// WebhookNotifier posts alert notifications as JSON.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig) *WebhookNotifier {
	def := DefaultWebhookConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &WebhookNotifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// webhookPayload is the wire shape posted to the endpoint. The text field
// renders in chat integrations; the structured fields serve programmatic
// receivers.
type webhookPayload struct {
	Text     string    `json:"text"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Source   string    `json:"source"`
	Time     time.Time `json:"time"`
}

// SendPushNotification delivers one alert. An unconfigured notifier is a
// no-op. A non-2xx response is an error.
func (n *WebhookNotifier) SendPushNotification(ctx context.Context, alert *models.Alert) error {
	if n.cfg.URL == "" {
		return nil
	}

	payload := webhookPayload{
		Text: fmt.Sprintf("Security Alert: %s\n%s\nSource: %s",
			strings.ToUpper(string(alert.Severity)), alert.Title, alert.Source),
		Kind:     alert.Kind,
		Severity: string(alert.Severity),
		Source:   alert.Source,
		Time:     alert.Timestamp,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}
