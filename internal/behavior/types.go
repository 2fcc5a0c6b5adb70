// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package behavior implements entity behavior analytics (UEBA): per-entity
// profiles learn a baseline of temporal, geographic, resource, volume,
// device, and sequence patterns, then score deviations with six weighted
// sub-models. It also scores form-interaction telemetry for automation
// signatures.
package behavior

import (
	"time"

	"github.com/tomtom215/sentria/internal/models"
)

// Activity is one observed action by an entity. The coordinator derives it
// from a SecurityEvent; path, method, and status come from event details.
type Activity struct {
	EntityID  string    `json:"entity_id"`
	Source    string    `json:"source"`
	UserAgent string    `json:"user_agent,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
	Status    int       `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelScore is one sub-model's verdict on an activity.
type ModelScore struct {
	Model        string  `json:"model"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// AnomalyResult is an emitted behavioral anomaly. Score is the weighted mean
// of the sub-model scores; failed sub-models are excluded and the weights
// renormalized over the remainder.
type AnomalyResult struct {
	EntityID        string                `json:"entity_id"`
	Score           float64               `json:"score"`
	Severity        models.Severity       `json:"severity"`
	Contributions   map[string]ModelScore `json:"contributions"`
	TopContributors []ModelScore          `json:"top_contributors"`
	Activity        Activity              `json:"activity"`
	Timestamp       time.Time             `json:"timestamp"`
}

// Weights holds the six sub-model weights. They are expected to sum to 1.0.
type Weights struct {
	Temporal    float64 `koanf:"temporal"`
	Geolocation float64 `koanf:"geolocation"`
	Resource    float64 `koanf:"resource"`
	Volume      float64 `koanf:"volume"`
	Device      float64 `koanf:"device"`
	Sequence    float64 `koanf:"sequence"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Temporal + w.Geolocation + w.Resource + w.Volume + w.Device + w.Sequence
}

// Thresholds maps anomaly scores to severity bands. Scores at or above
// Critical/High/Medium map to those severities; scores at or below Low are
// not emitted at all.
type Thresholds struct {
	Low      float64 `koanf:"low"`
	Medium   float64 `koanf:"medium"`
	High     float64 `koanf:"high"`
	Critical float64 `koanf:"critical"`
}

// Config holds behavior engine tuning.
type Config struct {
	Weights    Weights    `koanf:"weights"`
	Thresholds Thresholds `koanf:"thresholds"`

	// LearningPeriod is how long a new profile only learns its baseline.
	LearningPeriod time.Duration `koanf:"learning_period"`

	// MinLearningActivities keeps a profile in learning mode until it has
	// seen this many activities, regardless of age.
	MinLearningActivities int `koanf:"min_learning_activities"`

	// MaxActivityHistory bounds the per-entity activity history.
	MaxActivityHistory int `koanf:"max_activity_history"`

	// MaxAnomalyHistory bounds the per-entity anomaly history.
	MaxAnomalyHistory int `koanf:"max_anomaly_history"`

	// MaxHourlySamples bounds the per-entity hourly volume baseline.
	MaxHourlySamples int `koanf:"max_hourly_samples"`
}

// DefaultConfig returns the default behavior analytics configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Temporal:    0.25,
			Geolocation: 0.20,
			Resource:    0.20,
			Volume:      0.15,
			Device:      0.10,
			Sequence:    0.10,
		},
		Thresholds: Thresholds{
			Low:      0.3,
			Medium:   0.5,
			High:     0.7,
			Critical: 0.9,
		},
		LearningPeriod:        7 * 24 * time.Hour,
		MinLearningActivities: 100,
		MaxActivityHistory:    1000,
		MaxAnomalyHistory:     50,
		MaxHourlySamples:      168, // one week of hourly buckets
	}
}

// severityFor maps an anomaly score to a severity band.
func (t Thresholds) severityFor(score float64) models.Severity {
	switch {
	case score >= t.Critical:
		return models.SeverityCritical
	case score >= t.High:
		return models.SeverityHigh
	case score >= t.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// baseline holds the learned frequency counters for one entity.
type baseline struct {
	hours      [24]int
	days       [7]int
	countries  map[string]int
	cities     map[string]int
	paths      map[string]int
	methods    map[string]int
	userAgents map[string]int
	sources    map[string]int

	// hourlyCounts buckets learning-phase activity by epoch hour. The mean
	// of these samples is the "normal" hourly volume.
	hourlyCounts map[int64]int
}

func newBaseline() baseline {
	return baseline{
		countries:    make(map[string]int),
		cities:       make(map[string]int),
		paths:        make(map[string]int),
		methods:      make(map[string]int),
		userAgents:   make(map[string]int),
		sources:      make(map[string]int),
		hourlyCounts: make(map[int64]int),
	}
}
