// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package models defines the shared data model of the analytics pipeline:
// security events, severities, alerts, and the broadcast envelope.
package models

import (
	"time"
)

// Severity classifies how serious a detection or event is.
type Severity string

// Severity levels ordered from least to most serious.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Ordinal returns the numeric rank of the severity (low=1 .. critical=4).
// Unknown severities rank below low.
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// SeverityFromOrdinal converts a numeric rank back to a Severity.
// Out-of-range values clamp to the nearest level.
func SeverityFromOrdinal(n int) Severity {
	switch {
	case n <= 1:
		return SeverityLow
	case n == 2:
		return SeverityMedium
	case n == 3:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Max returns the more serious of the two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Ordinal() > s.Ordinal() {
		return other
	}
	return s
}

// Valid reports whether the severity is one of the four known levels.
func (s Severity) Valid() bool {
	return s.Ordinal() > 0
}

// SecurityEvent is the unit of work flowing through the pipeline. Events are
// produced by external collectors (request middleware, auth handlers, WAF
// probes) and pushed through the ingest API.
type SecurityEvent struct {
	// Type is the collector-assigned event type, e.g. "404_ERROR",
	// "AUTH_FAILED", "SQL_INJECTION_ATTEMPT".
	Type string `json:"type"`

	// Severity as assessed by the collector. Enrichment may escalate it.
	Severity Severity `json:"severity"`

	// Source is the originating address of the event, usually a client IP.
	Source string `json:"source"`

	// UserAgent of the client, if known.
	UserAgent string `json:"user_agent,omitempty"`

	// Message is a human-readable description of what happened.
	Message string `json:"message,omitempty"`

	// Details carries collector-specific payload fields such as "path",
	// "method", "status", "user_id".
	Details map[string]interface{} `json:"details,omitempty"`

	// Timestamp is when the event occurred. Zero means "now" at ingest.
	Timestamp time.Time `json:"timestamp"`
}

// DetailString returns a string-typed detail field, or "" when absent or
// not a string.
func (e *SecurityEvent) DetailString(key string) string {
	if e.Details == nil {
		return ""
	}
	if v, ok := e.Details[key].(string); ok {
		return v
	}
	return ""
}

// EntityID returns the identity key used for behavior profiling: the
// "user_id" detail when present, otherwise the source address.
func (e *SecurityEvent) EntityID() string {
	if id := e.DetailString("user_id"); id != "" {
		return id
	}
	return e.Source
}

// Alert is a human-facing detection summary raised by threshold rules,
// correlation matches, or behavioral anomalies.
type Alert struct {
	ID                 string                 `json:"id"`
	Kind               string                 `json:"kind"`
	Severity           Severity               `json:"severity"`
	Source             string                 `json:"source"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	AffectedResources  []string               `json:"affected_resources,omitempty"`
	RecommendedActions []string               `json:"recommended_actions,omitempty"`
	Details            map[string]interface{} `json:"details,omitempty"`
	Timestamp          time.Time              `json:"timestamp"`
}
