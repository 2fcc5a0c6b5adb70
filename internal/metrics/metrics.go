// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package metrics provides Prometheus instrumentation for the pipeline:
// ingest volume, stage failures, detections, incident outcomes, threat
// intelligence lookups, and the live subscriber population. All metrics are
// registered with the default registry and served on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_processed_total",
			Help: "Total number of security events accepted by the coordinator",
		},
		[]string{"type", "severity"},
	)

	EventsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_events_malformed_total",
			Help: "Total number of events dropped for missing source or type",
		},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_failures_total",
			Help: "Total number of isolated stage failures during event processing",
		},
		[]string{"stage"}, // "log", "alert_rules", "correlation", "behavior", "enrichment", "publish"
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "End-to-end duration of ProcessSecurityEvent",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	// Correlation metrics
	PatternsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correlation_patterns_detected_total",
			Help: "Total number of attack patterns detected",
		},
		[]string{"rule", "severity"},
	)

	PatternsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "correlation_patterns_suppressed_total",
			Help: "Total number of rule matches suppressed as duplicates of an already reported window",
		},
	)

	CorrelationBufferSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "correlation_buffer_sources",
			Help: "Current number of sources with buffered events",
		},
	)

	// Behavior analytics metrics
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "behavior_anomalies_detected_total",
			Help: "Total number of behavioral anomalies emitted",
		},
		[]string{"severity"},
	)

	ProfilesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "behavior_profiles_tracked",
			Help: "Current number of entity profiles",
		},
	)

	// Response orchestration metrics
	IncidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"playbook", "severity"},
	)

	IncidentsCoolingDown = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_incidents_cooldown_dropped_total",
			Help: "Total number of incidents dropped by the per-source playbook cooldown",
		},
	)

	ResponseStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_step_failures_total",
			Help: "Total number of failed automated playbook steps",
		},
		[]string{"action"},
	)

	ManualTasksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_manual_tasks_created_total",
			Help: "Total number of manual follow-up tasks created",
		},
	)

	// Threat intelligence metrics
	ThreatLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatintel_lookups_total",
			Help: "Total number of reputation lookups",
		},
		[]string{"kind", "result"}, // result: "hit", "miss", "cached"
	)

	ThreatFeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatintel_feed_errors_total",
			Help: "Total number of feed query failures (including breaker rejections)",
		},
		[]string{"feed"},
	)

	EnrichmentEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatintel_severity_escalations_total",
			Help: "Total number of events escalated by reputation enrichment",
		},
	)

	// Alert broadcast metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_published_total",
			Help: "Total number of envelopes published on the alert bus",
		},
		[]string{"kind"},
	)

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of live WebSocket subscribers",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of messages fanned out to subscribers",
		},
	)

	WSClientsDisconnected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_clients_disconnected_total",
			Help: "Total number of subscriber disconnects",
		},
		[]string{"reason"}, // "overflow", "closed", "error"
	)

	// HTTP surface metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records an API request with its outcome and duration.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordEvent records an accepted security event.
func RecordEvent(eventType, severity string) {
	EventsProcessed.WithLabelValues(eventType, severity).Inc()
}

// RecordStageFailure records an isolated pipeline stage failure.
func RecordStageFailure(stage string) {
	StageFailures.WithLabelValues(stage).Inc()
}
