// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package behavior

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
)

// ErrMissingEntity is returned when an activity carries neither an entity
// id nor a source address to fall back on.
var ErrMissingEntity = errors.New("activity has no entity identity")

// profile is the per-entity state. Each profile has its own lock; observing
// different entities never contends.
type profile struct {
	mu        sync.Mutex
	entityID  string
	createdAt time.Time

	activities []Activity
	baseline   baseline
	anomalies  []AnomalyResult

	totalActivities int64
	lastActivity    time.Time
	riskScore       float64
}

// RiskProfile is the read-only summary of one entity.
type RiskProfile struct {
	EntityID        string    `json:"entity_id"`
	RiskScore       float64   `json:"risk_score"`
	TotalActivities int64     `json:"total_activities"`
	AnomalyCount    int       `json:"anomaly_count"`
	LastActivity    time.Time `json:"last_activity"`
	Learning        bool      `json:"learning"`
}

// EngineStats aggregates anomaly counts across all profiles.
type EngineStats struct {
	TotalEntities    int            `json:"total_entities"`
	TotalAnomalies   int            `json:"total_anomalies"`
	BySeverity       map[string]int `json:"by_severity"`
	AverageRiskScore float64        `json:"average_risk_score"`
}

// modelFunc scores one activity against a profile baseline.
type modelFunc func(p *profile, act Activity) float64

type subModel struct {
	name   string
	weight float64
	score  modelFunc
}

// Engine analyzes entity behavior. Profiles are created on first sight and
// never evicted; activity and anomaly histories are bounded.
type Engine struct {
	cfg    Config
	models []subModel

	mu       sync.RWMutex
	profiles map[string]*profile

	clock func() time.Time
}

// New creates a behavior analytics engine.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Weights.Sum() == 0 {
		cfg.Weights = def.Weights
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.LearningPeriod <= 0 {
		cfg.LearningPeriod = def.LearningPeriod
	}
	if cfg.MinLearningActivities <= 0 {
		cfg.MinLearningActivities = def.MinLearningActivities
	}
	if cfg.MaxActivityHistory <= 0 {
		cfg.MaxActivityHistory = def.MaxActivityHistory
	}
	if cfg.MaxAnomalyHistory <= 0 {
		cfg.MaxAnomalyHistory = def.MaxAnomalyHistory
	}
	if cfg.MaxHourlySamples <= 0 {
		cfg.MaxHourlySamples = def.MaxHourlySamples
	}

	return &Engine{
		cfg: cfg,
		models: []subModel{
			{name: "temporal", weight: cfg.Weights.Temporal, score: scoreTemporal},
			{name: "geolocation", weight: cfg.Weights.Geolocation, score: scoreGeolocation},
			{name: "resource", weight: cfg.Weights.Resource, score: scoreResource},
			{name: "volume", weight: cfg.Weights.Volume, score: scoreVolume},
			{name: "device", weight: cfg.Weights.Device, score: scoreDevice},
			{name: "sequence", weight: cfg.Weights.Sequence, score: scoreSequence},
		},
		profiles: make(map[string]*profile),
		clock:    time.Now,
	}
}

// ActivityFromEvent derives an Activity from a security event, pulling
// path, method, and status from the event details when present.
func ActivityFromEvent(e *models.SecurityEvent) Activity {
	act := Activity{
		EntityID:  e.EntityID(),
		Source:    e.Source,
		UserAgent: e.UserAgent,
		Type:      e.Type,
		Message:   e.Message,
		Path:      e.DetailString("path"),
		Method:    e.DetailString("method"),
		Timestamp: e.Timestamp,
	}
	if e.Details != nil {
		switch v := e.Details["status"].(type) {
		case int:
			act.Status = v
		case float64:
			act.Status = int(v)
		}
	}
	if act.Timestamp.IsZero() {
		act.Timestamp = time.Now()
	}
	return act
}

// Observe records an activity and, once the entity has left its learning
// period, scores it. It returns a non-nil AnomalyResult only when the score
// exceeds the low threshold.
func (e *Engine) Observe(ctx context.Context, act Activity) (*AnomalyResult, error) {
	if act.EntityID == "" {
		act.EntityID = act.Source
	}
	if act.EntityID == "" {
		metrics.EventsMalformed.Inc()
		return nil, ErrMissingEntity
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if act.Timestamp.IsZero() {
		act.Timestamp = e.clock()
	}

	p := e.profile(act.EntityID)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.activities = append(p.activities, act)
	if len(p.activities) > e.cfg.MaxActivityHistory {
		drop := len(p.activities) - e.cfg.MaxActivityHistory
		p.activities = append(p.activities[:0:0], p.activities[drop:]...)
	}

	var result *AnomalyResult
	if e.learningLocked(p) {
		e.updateBaselineLocked(p, act)
	} else {
		result = e.scoreLocked(p, act)
	}

	p.totalActivities++
	p.lastActivity = e.clock()

	return result, nil
}

// profile returns the profile for an entity, creating it on first sight.
func (e *Engine) profile(entityID string) *profile {
	e.mu.RLock()
	p, ok := e.profiles[entityID]
	e.mu.RUnlock()
	if ok {
		return p
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok = e.profiles[entityID]; ok {
		return p
	}
	p = &profile{
		entityID:  entityID,
		createdAt: e.clock(),
		baseline:  newBaseline(),
	}
	e.profiles[entityID] = p
	metrics.ProfilesTracked.Set(float64(len(e.profiles)))
	return p
}

// learningLocked reports whether the profile is still building its baseline.
// Caller must hold p.mu.
func (e *Engine) learningLocked(p *profile) bool {
	age := e.clock().Sub(p.createdAt)
	return age < e.cfg.LearningPeriod || len(p.activities) < e.cfg.MinLearningActivities
}

// updateBaselineLocked folds an activity into the learned baseline.
// Caller must hold p.mu.
func (e *Engine) updateBaselineLocked(p *profile, act Activity) {
	b := &p.baseline

	b.hours[act.Timestamp.Hour()]++
	b.days[int(act.Timestamp.Weekday())]++

	if act.Source != "" {
		loc := locationFromIP(act.Source)
		b.countries[loc.Country]++
		b.cities[loc.City]++
		b.sources[act.Source]++
	}

	if act.Path != "" {
		b.paths[act.Path]++
	}
	method := act.Method
	if method == "" {
		method = "GET"
	}
	b.methods[method]++

	if act.UserAgent != "" {
		b.userAgents[act.UserAgent]++
	}

	epochHour := act.Timestamp.Unix() / 3600
	b.hourlyCounts[epochHour]++
	if len(b.hourlyCounts) > e.cfg.MaxHourlySamples {
		oldest := int64(0)
		for h := range b.hourlyCounts {
			if oldest == 0 || h < oldest {
				oldest = h
			}
		}
		delete(b.hourlyCounts, oldest)
	}
}

// scoreLocked runs the six sub-models and emits an anomaly when the weighted
// mean exceeds the low threshold. A panicking sub-model is excluded and the
// remaining weights renormalized. Caller must hold p.mu.
func (e *Engine) scoreLocked(p *profile, act Activity) *AnomalyResult {
	totalScore := 0.0
	totalWeight := 0.0
	contributions := make(map[string]ModelScore, len(e.models))

	for _, m := range e.models {
		score, ok := e.runModel(m, p, act)
		if !ok {
			continue
		}
		ms := ModelScore{
			Model:        m.name,
			Score:        score,
			Weight:       m.weight,
			Contribution: score * m.weight,
		}
		contributions[m.name] = ms
		totalScore += ms.Contribution
		totalWeight += m.weight
	}

	if totalWeight == 0 {
		return nil
	}
	final := totalScore / totalWeight

	if final <= e.cfg.Thresholds.Low {
		return nil
	}

	result := &AnomalyResult{
		EntityID:        p.entityID,
		Score:           final,
		Severity:        e.cfg.Thresholds.severityFor(final),
		Contributions:   contributions,
		TopContributors: topContributors(contributions, 3),
		Activity:        act,
		Timestamp:       e.clock(),
	}

	p.anomalies = append(p.anomalies, *result)
	if len(p.anomalies) > e.cfg.MaxAnomalyHistory {
		drop := len(p.anomalies) - e.cfg.MaxAnomalyHistory
		p.anomalies = append(p.anomalies[:0:0], p.anomalies[drop:]...)
	}
	if final > p.riskScore {
		p.riskScore = final
	}

	metrics.AnomaliesDetected.WithLabelValues(string(result.Severity)).Inc()
	logging.Warn().
		Str("component", "behavior").
		Str("entity", p.entityID).
		Float64("score", final).
		Str("severity", string(result.Severity)).
		Msg("Behavioral anomaly detected")

	return result
}

// runModel isolates a sub-model panic to that model's score.
func (e *Engine) runModel(m subModel, p *profile, act Activity) (score float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logging.Error().
				Str("component", "behavior").
				Str("model", m.name).
				Interface("panic", r).
				Msg("Sub-model panicked, excluding from score")
		}
	}()
	return m.score(p, act), true
}

// topContributors returns the n highest-contribution model scores.
func topContributors(contributions map[string]ModelScore, n int) []ModelScore {
	all := make([]ModelScore, 0, len(contributions))
	for _, ms := range contributions {
		all = append(all, ms)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Contribution != all[j].Contribution {
			return all[i].Contribution > all[j].Contribution
		}
		return all[i].Model < all[j].Model
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// RiskProfiles returns up to limit entity summaries, highest risk first.
func (e *Engine) RiskProfiles(limit int) []RiskProfile {
	e.mu.RLock()
	all := make([]*profile, 0, len(e.profiles))
	for _, p := range e.profiles {
		all = append(all, p)
	}
	e.mu.RUnlock()

	out := make([]RiskProfile, 0, len(all))
	for _, p := range all {
		p.mu.Lock()
		out = append(out, RiskProfile{
			EntityID:        p.entityID,
			RiskScore:       p.riskScore,
			TotalActivities: p.totalActivities,
			AnomalyCount:    len(p.anomalies),
			LastActivity:    p.lastActivity,
			Learning:        e.learningLocked(p),
		})
		p.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].EntityID < out[j].EntityID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats aggregates anomaly counts and average risk across all profiles.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	all := make([]*profile, 0, len(e.profiles))
	for _, p := range e.profiles {
		all = append(all, p)
	}
	e.mu.RUnlock()

	stats := EngineStats{
		TotalEntities: len(all),
		BySeverity:    map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0},
	}

	totalRisk := 0.0
	for _, p := range all {
		p.mu.Lock()
		stats.TotalAnomalies += len(p.anomalies)
		for _, a := range p.anomalies {
			stats.BySeverity[string(a.Severity)]++
		}
		totalRisk += p.riskScore
		p.mu.Unlock()
	}

	if len(all) > 0 {
		stats.AverageRiskScore = totalRisk / float64(len(all))
	}
	return stats
}
