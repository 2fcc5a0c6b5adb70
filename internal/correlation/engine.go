// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package correlation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/sentria/internal/cache"
	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
)

// ErrMissingSource is returned for events without a source address. Such
// events cannot be correlated and are dropped with a metric.
var ErrMissingSource = errors.New("event has no source")

// Config holds correlation engine tuning.
type Config struct {
	// BufferHorizon is how long events stay in a source's buffer.
	BufferHorizon time.Duration `koanf:"buffer_horizon"`

	// SweepInterval is how often empty and stale buffers are purged.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// MinEvents is the minimum buffered events before rules are checked.
	MinEvents int `koanf:"min_events"`

	// MaxRecentPatterns bounds the retained detection history.
	MaxRecentPatterns int `koanf:"max_recent_patterns"`

	// DedupCapacity bounds the duplicate-suppression cache.
	DedupCapacity int `koanf:"dedup_capacity"`

	// Rules is the active rule set. Empty means DefaultRules().
	Rules []Rule `koanf:"rules"`
}

// DefaultConfig returns the default correlation configuration.
func DefaultConfig() Config {
	return Config{
		BufferHorizon:     4 * time.Hour,
		SweepInterval:     30 * time.Minute,
		MinEvents:         2,
		MaxRecentPatterns: 200,
		DedupCapacity:     10000,
		Rules:             DefaultRules(),
	}
}

// AttackPattern is a detected multi-step attack sequence.
type AttackPattern struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	RuleID      string                 `json:"rule_id"`
	RuleName    string                 `json:"rule_name"`
	Severity    models.Severity        `json:"severity"`
	Description string                 `json:"description"`
	Confidence  float64                `json:"confidence"`
	Events      []models.SecurityEvent `json:"events"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	DetectedAt  time.Time              `json:"detected_at"`
}

// SourceStats summarizes the engine's view of a single source.
type SourceStats struct {
	TotalEvents    int        `json:"total_events"`
	AttackPatterns int        `json:"attack_patterns"`
	RiskScore      float64    `json:"risk_score"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// sourceBuffer holds one source's recent events behind its own lock, so
// ingest for different sources never contends.
type sourceBuffer struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

// Engine buffers events per source and matches correlation rules on every
// ingest. Detection fires at most once per matched event window.
type Engine struct {
	cfg   Config
	preds map[StepKind]StepPredicate

	bufMu   sync.RWMutex
	buffers map[string]*sourceBuffer

	dedup *cache.DedupCache

	patMu   sync.RWMutex
	recent  []*AttackPattern // newest last
	dropped int64
}

// New creates a correlation engine. It fails if any rule references an
// unregistered step kind or has an invalid window.
func New(cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.BufferHorizon <= 0 {
		cfg.BufferHorizon = def.BufferHorizon
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = def.MinEvents
	}
	if cfg.MaxRecentPatterns <= 0 {
		cfg.MaxRecentPatterns = def.MaxRecentPatterns
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = def.DedupCapacity
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}

	preds := snapshotPredicates()
	for _, rule := range cfg.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("correlation rule without id")
		}
		if len(rule.Pattern) == 0 {
			return nil, fmt.Errorf("rule %q has an empty pattern", rule.ID)
		}
		if rule.TimeWindow <= 0 {
			return nil, fmt.Errorf("rule %q has a non-positive time window", rule.ID)
		}
		if !rule.Severity.Valid() {
			return nil, fmt.Errorf("rule %q has unknown severity %q", rule.ID, rule.Severity)
		}
		for _, step := range rule.Pattern {
			if _, ok := preds[step]; !ok {
				return nil, fmt.Errorf("rule %q references unregistered step %q", rule.ID, step)
			}
		}
	}

	return &Engine{
		cfg:     cfg,
		preds:   preds,
		buffers: make(map[string]*sourceBuffer),
		dedup:   cache.NewDedupCache(cfg.DedupCapacity, cfg.BufferHorizon),
	}, nil
}

// Ingest adds an event to its source's buffer and returns any newly detected
// attack patterns. Events without a source are dropped with ErrMissingSource.
func (e *Engine) Ingest(ctx context.Context, event *models.SecurityEvent) ([]*AttackPattern, error) {
	if event == nil || event.Source == "" {
		metrics.EventsMalformed.Inc()
		return nil, ErrMissingSource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ev := *event
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	buf := e.buffer(event.Source)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.events = append(buf.events, ev)
	e.pruneLocked(buf, time.Now())

	if len(buf.events) < e.cfg.MinEvents {
		return nil, nil
	}

	return e.checkRulesLocked(event.Source, buf), nil
}

// buffer returns the buffer for source, creating it if needed.
func (e *Engine) buffer(source string) *sourceBuffer {
	e.bufMu.RLock()
	buf, ok := e.buffers[source]
	e.bufMu.RUnlock()
	if ok {
		return buf
	}

	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	if buf, ok = e.buffers[source]; ok {
		return buf
	}
	buf = &sourceBuffer{}
	e.buffers[source] = buf
	metrics.CorrelationBufferSources.Set(float64(len(e.buffers)))
	return buf
}

// pruneLocked drops events older than the buffer horizon.
// Caller must hold buf.mu.
func (e *Engine) pruneLocked(buf *sourceBuffer, now time.Time) {
	horizon := now.Add(-e.cfg.BufferHorizon)
	kept := buf.events[:0]
	for _, ev := range buf.events {
		if ev.Timestamp.After(horizon) {
			kept = append(kept, ev)
		}
	}
	buf.events = kept
}

// checkRulesLocked runs every rule against the source's buffer. A panicking
// predicate disables only that rule's check for this ingest; other rules
// still run. Caller must hold buf.mu.
func (e *Engine) checkRulesLocked(source string, buf *sourceBuffer) []*AttackPattern {
	var detected []*AttackPattern
	now := time.Now()

	for i := range e.cfg.Rules {
		rule := &e.cfg.Rules[i]
		match := e.matchRuleSafe(source, rule, buf.events, now)
		if match == nil {
			continue
		}

		key := windowKey(source, rule.ID, match.start, match.end)
		if e.dedup.IsDuplicate(key) {
			metrics.PatternsSuppressed.Inc()
			continue
		}

		pattern := &AttackPattern{
			ID:          fmt.Sprintf("%s_%s_%d", source, rule.ID, now.UnixMilli()),
			Source:      source,
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Severity:    rule.Severity,
			Description: rule.Description,
			Confidence:  match.confidence,
			Events:      match.events,
			StartTime:   match.start,
			EndTime:     match.end,
			DetectedAt:  now,
		}
		e.remember(pattern)
		metrics.PatternsDetected.WithLabelValues(rule.ID, string(rule.Severity)).Inc()

		logging.Warn().
			Str("component", "correlation").
			Str("rule", rule.ID).
			Str("source", source).
			Float64("confidence", pattern.Confidence).
			Int("events", len(pattern.Events)).
			Msg("Attack pattern detected")

		detected = append(detected, pattern)
	}

	return detected
}

type matchResult struct {
	events     []models.SecurityEvent
	start, end time.Time
	confidence float64
}

// matchRuleSafe isolates predicate panics to the rule being checked.
func (e *Engine) matchRuleSafe(source string, rule *Rule, events []models.SecurityEvent, now time.Time) (match *matchResult) {
	defer func() {
		if r := recover(); r != nil {
			match = nil
			logging.Error().
				Str("component", "correlation").
				Str("rule", rule.ID).
				Str("source", source).
				Interface("panic", r).
				Msg("Rule predicate panicked, skipping rule")
		}
	}()
	return e.matchRule(rule, events, now)
}

// matchRule finds the earliest contiguous run of events inside the rule's
// time window that satisfies every pattern step in order.
func (e *Engine) matchRule(rule *Rule, events []models.SecurityEvent, now time.Time) *matchResult {
	windowStart := now.Add(-rule.TimeWindow)

	recent := make([]models.SecurityEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Timestamp.Before(windowStart) {
			recent = append(recent, ev)
		}
	}
	if len(recent) < len(rule.Pattern) {
		return nil
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})

	for i := 0; i+len(rule.Pattern) <= len(recent); i++ {
		matched := true
		for j, step := range rule.Pattern {
			if !e.preds[step](&recent[i+j]) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		span := recent[i : i+len(rule.Pattern)]
		evs := make([]models.SecurityEvent, len(span))
		copy(evs, span)
		return &matchResult{
			events:     evs,
			start:      evs[0].Timestamp,
			end:        evs[len(evs)-1].Timestamp,
			confidence: confidence(evs, rule),
		}
	}

	return nil
}

// confidence scores a match: base 0.5, +0.1 when more events matched than
// the pattern requires, +0.2 when any matched event is high or critical,
// +0.15 when the mean gap between events is under a minute, capped at 1.0.
func confidence(events []models.SecurityEvent, rule *Rule) float64 {
	score := 0.5

	if len(events) > len(rule.Pattern) {
		score += 0.1
	}
	for _, ev := range events {
		if ev.Severity == models.SeverityHigh || ev.Severity == models.SeverityCritical {
			score += 0.2
			break
		}
	}

	if len(events) > 1 {
		var total time.Duration
		for i := 1; i < len(events); i++ {
			total += events[i].Timestamp.Sub(events[i-1].Timestamp)
		}
		if total/time.Duration(len(events)-1) < time.Minute {
			score += 0.15
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// windowKey identifies a matched window for duplicate suppression.
func windowKey(source, ruleID string, start, end time.Time) string {
	var b strings.Builder
	b.WriteString(source)
	b.WriteByte('|')
	b.WriteString(ruleID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(start.UnixNano(), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(end.UnixNano(), 10))
	return b.String()
}

// remember appends a pattern to the bounded detection history.
func (e *Engine) remember(p *AttackPattern) {
	e.patMu.Lock()
	defer e.patMu.Unlock()

	e.recent = append(e.recent, p)
	if len(e.recent) > e.cfg.MaxRecentPatterns {
		drop := len(e.recent) - e.cfg.MaxRecentPatterns
		e.recent = append(e.recent[:0:0], e.recent[drop:]...)
	}
}

// RecentPatterns returns up to limit detections, newest first.
func (e *Engine) RecentPatterns(limit int) []*AttackPattern {
	e.patMu.RLock()
	defer e.patMu.RUnlock()

	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]*AttackPattern, 0, limit)
	for i := len(e.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// SourceStats returns event count, pattern count, and a 0-100 risk score for
// a source. The score adds 2 per buffered event (capped at 50), a severity
// weight per detected pattern, and 20x confidence per pattern, capped at 100.
func (e *Engine) SourceStats(source string) SourceStats {
	var stats SourceStats

	e.bufMu.RLock()
	buf, ok := e.buffers[source]
	e.bufMu.RUnlock()

	if ok {
		buf.mu.Lock()
		stats.TotalEvents = len(buf.events)
		if n := len(buf.events); n > 0 {
			last := buf.events[n-1].Timestamp
			for _, ev := range buf.events {
				if ev.Timestamp.After(last) {
					last = ev.Timestamp
				}
			}
			stats.LastActivity = &last
		}
		buf.mu.Unlock()
	}

	score := float64(stats.TotalEvents) * 2
	if score > 50 {
		score = 50
	}

	e.patMu.RLock()
	for _, p := range e.recent {
		if p.Source != source {
			continue
		}
		stats.AttackPatterns++
		switch p.Severity {
		case models.SeverityCritical:
			score += 40
		case models.SeverityHigh:
			score += 25
		case models.SeverityMedium:
			score += 15
		case models.SeverityLow:
			score += 5
		}
		score += p.Confidence * 20
	}
	e.patMu.RUnlock()

	if score > 100 {
		score = 100
	}
	stats.RiskScore = score
	return stats
}

// TrackedSources returns the number of sources with buffered events.
func (e *Engine) TrackedSources() int {
	e.bufMu.RLock()
	defer e.bufMu.RUnlock()
	return len(e.buffers)
}

// RunWithContext periodically sweeps stale buffers until the context ends.
// It implements the suture service contract.
func (e *Engine) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep prunes every buffer and removes sources with no recent events.
func (e *Engine) Sweep() {
	now := time.Now()

	e.bufMu.Lock()
	for source, buf := range e.buffers {
		buf.mu.Lock()
		e.pruneLocked(buf, now)
		empty := len(buf.events) == 0
		buf.mu.Unlock()
		if empty {
			delete(e.buffers, source)
		}
	}
	tracked := len(e.buffers)
	e.bufMu.Unlock()

	removed := e.dedup.CleanupExpired()
	metrics.CorrelationBufferSources.Set(float64(tracked))

	logging.Debug().
		Str("component", "correlation").
		Int("tracked_sources", tracked).
		Int("dedup_expired", removed).
		Msg("Event buffer sweep completed")
}

// String identifies the engine in supervisor logs.
func (e *Engine) String() string {
	return "correlation-engine"
}
