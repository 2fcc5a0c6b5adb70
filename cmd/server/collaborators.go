// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/models"
	"github.com/tomtom215/sentria/internal/notify"
	"github.com/tomtom215/sentria/internal/response"
)

// eventJournal is the default EventSink. Sentria owns no database;
// deployments that want durable storage implement the sink against
// their own store. This one writes the audit trail to the log stream.
type eventJournal struct{}

func (eventJournal) LogSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	logging.Ctx(ctx).Info().
		Str("type", event.Type).
		Str("severity", string(event.Severity)).
		Str("source", event.Source).
		Str("message", event.Message).
		Msg("security event")
	return nil
}

func (eventJournal) CreateAlert(ctx context.Context, alert *models.Alert) error {
	logging.Ctx(ctx).Warn().
		Str("alert_id", alert.ID).
		Str("kind", alert.Kind).
		Str("severity", string(alert.Severity)).
		Str("source", alert.Source).
		Str("title", alert.Title).
		Msg("security alert")
	return nil
}

// incidentJournal persists incidents through the log stream.
type incidentJournal struct{}

func (incidentJournal) LogIncident(ctx context.Context, inc *response.Incident) error {
	logging.Ctx(ctx).Warn().
		Str("incident_id", inc.ID).
		Str("type", inc.Type).
		Str("severity", string(inc.Severity)).
		Str("source", inc.Source).
		Str("playbook", inc.PlaybookID).
		Str("status", inc.Status).
		Int("steps", len(inc.Steps)).
		Msg("incident")
	return nil
}

// logEnforcer records enforcement decisions without touching the
// network. Real blocking lives behind this interface at the edge
// (reverse proxy, WAF, firewall controller).
type logEnforcer struct{}

func (logEnforcer) BlockSource(ctx context.Context, source string, duration time.Duration) error {
	logging.Ctx(ctx).Warn().
		Str("source", source).
		Dur("duration", duration).
		Msg("enforcement: block source")
	return nil
}

func (logEnforcer) BlockEgress(ctx context.Context, source string) error {
	logging.Ctx(ctx).Warn().
		Str("source", source).
		Msg("enforcement: block egress")
	return nil
}

func (logEnforcer) QuarantineArtifacts(ctx context.Context, source string, artifacts []string) error {
	logging.Ctx(ctx).Warn().
		Str("source", source).
		Strs("artifacts", artifacts).
		Msg("enforcement: quarantine artifacts")
	return nil
}

// logForensics records capture requests. Evidence collection against a
// live host needs deployment-specific tooling behind this interface.
type logForensics struct{}

func (logForensics) SnapshotState(ctx context.Context, inc *response.Incident) error {
	logging.Ctx(ctx).Info().
		Str("incident_id", inc.ID).
		Str("source", inc.Source).
		Msg("forensics: state snapshot requested")
	return nil
}

func (logForensics) CollectEvidence(ctx context.Context, inc *response.Incident) error {
	logging.Ctx(ctx).Info().
		Str("incident_id", inc.ID).
		Str("source", inc.Source).
		Msg("forensics: evidence collection requested")
	return nil
}

// webhookOperatorNotifier delivers incident notifications through the
// push webhook.
type webhookOperatorNotifier struct {
	webhook *notify.WebhookNotifier
}

func (n *webhookOperatorNotifier) NotifyOperator(ctx context.Context, inc *response.Incident) error {
	return n.webhook.SendPushNotification(ctx, incidentAlert(inc, false))
}

func (n *webhookOperatorNotifier) Escalate(ctx context.Context, inc *response.Incident) error {
	return n.webhook.SendPushNotification(ctx, incidentAlert(inc, true))
}

func incidentAlert(inc *response.Incident, escalated bool) *models.Alert {
	title := fmt.Sprintf("Incident %s from %s", strings.ReplaceAll(inc.Type, "_", " "), inc.Source)
	if escalated {
		title = "ESCALATION: " + title
	}
	return &models.Alert{
		ID:          inc.ID,
		Kind:        "incident",
		Severity:    inc.Severity,
		Source:      inc.Source,
		Title:       title,
		Description: fmt.Sprintf("Playbook %s executed %d steps (confidence %.0f%%)", inc.PlaybookName, len(inc.Steps), inc.Confidence*100),
		Timestamp:   inc.StartTime,
	}
}
