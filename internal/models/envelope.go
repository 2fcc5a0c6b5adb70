// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package models

import "time"

// Envelope kinds published on the alert bus and fanned out to WebSocket
// subscribers. The set is closed: sinks may rely on it being exhaustive.
const (
	EnvelopeSecurityEvent    = "security_event"
	EnvelopeSecurityAlert    = "security_alert"
	EnvelopeCorrelationAlert = "correlation_alert"
)

// Envelope is the wire shape delivered to live subscribers.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope wraps data in an envelope stamped with the current time.
func NewEnvelope(kind string, data interface{}) Envelope {
	return Envelope{Type: kind, Data: data, Timestamp: time.Now().UTC()}
}
