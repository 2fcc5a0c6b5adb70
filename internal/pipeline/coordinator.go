// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package pipeline contains the Coordinator, the sole entry point for
// security events. Each event passes through persistence, threshold alert
// rules, correlation, behavior analytics, reputation enrichment, response
// orchestration, and live broadcast. Stages are isolated: a failure or
// panic in one is logged and counted, and the remaining stages still run.
// The caller never sees an error; serving the originating HTTP request must
// not be delayed or failed by analytics faults.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/sentria/internal/behavior"
	"github.com/tomtom215/sentria/internal/correlation"
	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
	"github.com/tomtom215/sentria/internal/response"
	"github.com/tomtom215/sentria/internal/threatintel"
)

// Correlator matches multi-step attack patterns.
type Correlator interface {
	Ingest(ctx context.Context, event *models.SecurityEvent) ([]*correlation.AttackPattern, error)
}

// BehaviorAnalyzer scores activities against learned entity baselines.
type BehaviorAnalyzer interface {
	Observe(ctx context.Context, act behavior.Activity) (*behavior.AnomalyResult, error)
}

// Responder executes playbooks for incident seeds.
type Responder interface {
	Handle(ctx context.Context, seed response.Seed) (*response.Incident, error)
}

// Enricher annotates events with reputation intelligence.
type Enricher interface {
	Enrich(ctx context.Context, event *models.SecurityEvent) (*threatintel.Enrichment, error)
}

// EventSink persists events and alerts. The pipeline never owns a database
// connection; it only shapes and calls.
type EventSink interface {
	LogSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// PushNotifier delivers alerts to an external channel. Failures are
// observability-only.
type PushNotifier interface {
	SendPushNotification(ctx context.Context, alert *models.Alert) error
}

// Publisher puts envelopes on the alert bus.
type Publisher interface {
	Publish(kind string, data interface{}) error
}

// Deps are the Coordinator's collaborators. A nil collaborator disables its
// stage; the rest of the pipeline still runs.
type Deps struct {
	Correlator Correlator
	Behavior   BehaviorAnalyzer
	Responder  Responder
	Enricher   Enricher
	Events     EventSink
	Notifier   PushNotifier
	Publisher  Publisher
}

// Config holds the Coordinator's own tunables.
type Config struct {
	// AlertRules are the threshold rules evaluated on every event.
	// Empty means DefaultAlertRules.
	AlertRules []AlertRule `koanf:"alert_rules"`

	// DefaultSeedConfidence is assumed for events whose collector did not
	// attach a confidence detail.
	DefaultSeedConfidence float64 `koanf:"default_seed_confidence"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AlertRules:            DefaultAlertRules(),
		DefaultSeedConfidence: 0.7,
	}
}

// Coordinator routes each security event through the analytics stages.
type Coordinator struct {
	cfg   Config
	deps  Deps
	rules *RuleSet
}

// New creates a Coordinator. It fails only on invalid alert rules.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	def := DefaultConfig()
	if cfg.DefaultSeedConfidence <= 0 || cfg.DefaultSeedConfidence > 1 {
		cfg.DefaultSeedConfidence = def.DefaultSeedConfidence
	}
	if len(cfg.AlertRules) == 0 {
		cfg.AlertRules = def.AlertRules
	}

	rules, err := NewRuleSet(cfg.AlertRules)
	if err != nil {
		return nil, fmt.Errorf("alert rules: %w", err)
	}

	return &Coordinator{cfg: cfg, deps: deps, rules: rules}, nil
}

// ProcessSecurityEvent runs an event through every stage. Malformed events
// (missing source or type) are dropped and counted. Stage failures are
// logged and counted but never surface to the caller.
func (c *Coordinator) ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) {
	if event == nil || event.Source == "" || event.Type == "" {
		metrics.EventsMalformed.Inc()
		logging.Debug().Msg("dropping malformed security event")
		return
	}

	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if !event.Severity.Valid() {
		event.Severity = models.SeverityLow
	}
	metrics.RecordEvent(event.Type, string(event.Severity))

	seeds := []response.Seed{c.eventSeed(event)}

	c.runStage("log", func() error {
		if c.deps.Events == nil {
			return nil
		}
		return c.deps.Events.LogSecurityEvent(ctx, event)
	})

	c.runStage("alert_rules", func() error {
		for _, alert := range c.rules.Evaluate(event) {
			if err := c.raiseAlert(ctx, alert); err != nil {
				return err
			}
		}
		return nil
	})

	c.runStage("correlation", func() error {
		if c.deps.Correlator == nil {
			return nil
		}
		patterns, err := c.deps.Correlator.Ingest(ctx, event)
		if err != nil {
			return err
		}
		for _, pattern := range patterns {
			seeds = append(seeds, patternSeed(pattern))
			if err := c.handlePattern(ctx, pattern); err != nil {
				return err
			}
		}
		return nil
	})

	c.runStage("behavior", func() error {
		if c.deps.Behavior == nil {
			return nil
		}
		anomaly, err := c.deps.Behavior.Observe(ctx, behavior.ActivityFromEvent(event))
		if err != nil {
			if errors.Is(err, behavior.ErrMissingEntity) {
				return nil
			}
			return err
		}
		if anomaly == nil {
			return nil
		}
		seeds = append(seeds, anomalySeed(event, anomaly))
		return c.raiseAlert(ctx, anomalyAlert(event, anomaly))
	})

	c.runStage("enrichment", func() error {
		if c.deps.Enricher == nil {
			return nil
		}
		enrichment, err := c.deps.Enricher.Enrich(ctx, event)
		if err != nil {
			return err
		}
		if enrichment == nil || len(enrichment.Hits) == 0 {
			return nil
		}
		applyEnrichment(event, enrichment)
		return nil
	})

	c.runStage("response", func() error {
		if c.deps.Responder == nil {
			return nil
		}
		for _, seed := range seeds {
			// The raw-event seed carries the possibly escalated severity.
			if seed.Type == event.Type {
				seed.Severity = event.Severity
			}
			if _, err := c.deps.Responder.Handle(ctx, seed); err != nil {
				if expectedSeedError(err) {
					logging.Debug().Err(err).
						Str("seed_type", seed.Type).
						Str("source", seed.Source).
						Msg("incident seed not actioned")
					continue
				}
				return err
			}
		}
		return nil
	})

	c.runStage("publish", func() error {
		if c.deps.Publisher == nil {
			return nil
		}
		return c.deps.Publisher.Publish(models.EnvelopeSecurityEvent, event)
	})
}

// runStage isolates one stage: panics are recovered and both panics and
// errors are logged and counted without interrupting the remaining stages.
func (c *Coordinator) runStage(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordStageFailure(name)
			logging.Error().
				Str("stage", name).
				Interface("panic", r).
				Msg("pipeline stage panicked")
		}
	}()

	if err := fn(); err != nil {
		metrics.RecordStageFailure(name)
		logging.Error().Err(err).Str("stage", name).Msg("pipeline stage failed")
	}
}

// raiseAlert persists an alert, notifies the push channel, and broadcasts
// it. A notification failure is logged but does not fail the stage.
func (c *Coordinator) raiseAlert(ctx context.Context, alert *models.Alert) error {
	if c.deps.Notifier != nil {
		if err := c.deps.Notifier.SendPushNotification(ctx, alert); err != nil {
			logging.Warn().Err(err).Str("alert", alert.Kind).Msg("push notification failed")
		}
	}

	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.Publish(models.EnvelopeSecurityAlert, alert); err != nil {
			logging.Warn().Err(err).Str("alert", alert.Kind).Msg("alert broadcast failed")
		}
	}

	if c.deps.Events == nil {
		return nil
	}
	if err := c.deps.Events.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("create alert %s: %w", alert.Kind, err)
	}
	return nil
}

// handlePattern turns a detected attack pattern into a persisted alert and
// a correlation_alert broadcast.
func (c *Coordinator) handlePattern(ctx context.Context, pattern *correlation.AttackPattern) error {
	alert := &models.Alert{
		ID:       "correlation_" + pattern.ID,
		Kind:     "attack_pattern",
		Severity: pattern.Severity,
		Source:   pattern.Source,
		Title:    pattern.RuleName,
		Description: fmt.Sprintf("%s (confidence %.1f%%, %d events over %s)",
			pattern.Description,
			pattern.Confidence*100,
			len(pattern.Events),
			pattern.EndTime.Sub(pattern.StartTime).Round(time.Second)),
		Details: map[string]interface{}{
			"correlation_id": pattern.ID,
			"rule":           pattern.RuleID,
			"confidence":     pattern.Confidence,
			"event_count":    len(pattern.Events),
		},
		Timestamp: pattern.DetectedAt,
	}

	if c.deps.Publisher != nil {
		if err := c.deps.Publisher.Publish(models.EnvelopeCorrelationAlert, pattern); err != nil {
			logging.Warn().Err(err).Str("rule", pattern.RuleID).Msg("correlation broadcast failed")
		}
	}

	return c.raiseAlert(ctx, alert)
}

// eventSeed derives the response seed for the raw event.
func (c *Coordinator) eventSeed(event *models.SecurityEvent) response.Seed {
	confidence := c.cfg.DefaultSeedConfidence
	if event.Details != nil {
		if v, ok := event.Details["confidence"].(float64); ok && v > 0 && v <= 1 {
			confidence = v
		}
	}
	return response.Seed{
		Type:       event.Type,
		Severity:   event.Severity,
		Source:     event.Source,
		Confidence: confidence,
		Details:    event.Details,
	}
}

func patternSeed(pattern *correlation.AttackPattern) response.Seed {
	return response.Seed{
		Type:       pattern.RuleID,
		Severity:   pattern.Severity,
		Source:     pattern.Source,
		Confidence: pattern.Confidence,
		Details: map[string]interface{}{
			"rule_name":   pattern.RuleName,
			"pattern_id":  pattern.ID,
			"event_count": len(pattern.Events),
		},
	}
}

func anomalySeed(event *models.SecurityEvent, anomaly *behavior.AnomalyResult) response.Seed {
	return response.Seed{
		Type:       "user_behavior_anomaly",
		Severity:   anomaly.Severity,
		Source:     event.Source,
		Confidence: anomaly.Score,
		Details: map[string]interface{}{
			"entity_id": anomaly.EntityID,
			"score":     anomaly.Score,
		},
	}
}

func anomalyAlert(event *models.SecurityEvent, anomaly *behavior.AnomalyResult) *models.Alert {
	return &models.Alert{
		ID:          "anomaly_" + anomaly.EntityID + "_" + anomaly.Timestamp.UTC().Format(time.RFC3339Nano),
		Kind:        "behavior_anomaly",
		Severity:    anomaly.Severity,
		Source:      event.Source,
		Title:       fmt.Sprintf("Behavioral Anomaly for %s", anomaly.EntityID),
		Description: fmt.Sprintf("anomaly score %.2f across %d models", anomaly.Score, len(anomaly.Contributions)),
		Details: map[string]interface{}{
			"entity_id":        anomaly.EntityID,
			"score":            anomaly.Score,
			"top_contributors": anomaly.TopContributors,
		},
		Timestamp: anomaly.Timestamp,
	}
}

// applyEnrichment escalates the event severity and attaches the reputation
// context to its details.
func applyEnrichment(event *models.SecurityEvent, enrichment *threatintel.Enrichment) {
	if enrichment.Escalated() {
		logging.Info().
			Str("source", event.Source).
			Str("from", string(event.Severity)).
			Str("to", string(enrichment.FinalSeverity)).
			Msg("severity escalated by reputation enrichment")
	}
	event.Severity = enrichment.FinalSeverity

	if event.Details == nil {
		event.Details = make(map[string]interface{})
	}
	event.Details["threat_intelligence"] = map[string]interface{}{
		"risk_score":      enrichment.RiskScore,
		"indicators":      enrichment.Indicators,
		"recommendations": enrichment.Recommendations,
		"attack_patterns": enrichment.AttackPatterns,
		"mitre_tactics":   enrichment.MitreTactics,
	}
}

// expectedSeedError reports whether a responder error is part of normal
// operation rather than a stage failure.
func expectedSeedError(err error) bool {
	return errors.Is(err, response.ErrNoPlaybook) ||
		errors.Is(err, response.ErrCooldownActive) ||
		errors.Is(err, response.ErrSelfGenerated) ||
		errors.Is(err, response.ErrMissingSource)
}

// Sweep drops idle alert-rule counters. Run from the maintenance loop.
func (c *Coordinator) Sweep() {
	c.rules.Sweep()
}
