// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package behavior

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/sentria/internal/models"
)

// trainedEngine returns an engine with one entity ("svc-account") past its
// learning period, trained on weekday-afternoon browsing from a single US
// source. The returned pointer controls the engine clock.
func trainedEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.LearningPeriod = time.Hour
	cfg.MinLearningActivities = 10
	e := New(cfg)

	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC) // Monday 14:00
	cur := &now
	e.clock = func() time.Time { return *cur }

	for i := 0; i < 20; i++ {
		_, err := e.Observe(context.Background(), Activity{
			EntityID:  "svc-account",
			Source:    "13.1.1.1",
			UserAgent: "Mozilla/5.0",
			Type:      "page_view",
			Path:      "/home",
			Method:    "GET",
			Timestamp: now.Add(-time.Duration(20-i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Observe during learning: %v", err)
		}
	}

	// Age the profile past its learning period.
	*cur = time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC) // Tuesday 03:00
	return e, cur
}

func TestLearningPhaseEmitsNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinLearningActivities = 10
	e := New(cfg)

	for i := 0; i < 9; i++ {
		result, err := e.Observe(context.Background(), Activity{
			EntityID:  "fresh",
			Source:    "120.9.9.9",
			UserAgent: "curl/8.0",
			Path:      "/admin/config",
			Method:    "POST",
			Message:   "login failed",
		})
		if err != nil {
			t.Fatalf("Observe: %v", err)
		}
		if result != nil {
			t.Fatalf("anomaly emitted during learning: %+v", result)
		}
	}
}

func TestAnomalousActivityScoredHigh(t *testing.T) {
	e, cur := trainedEngine(t)

	// Small-hours POST to an admin path from an unseen German source with an
	// automation agent.
	result, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "120.9.9.9",
		UserAgent: "curl/8.0",
		Type:      "http_request",
		Path:      "/admin/config",
		Method:    "POST",
		Message:   "login failed",
		Timestamp: *cur,
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if result == nil {
		t.Fatal("no anomaly emitted for clearly deviant activity")
	}

	if result.Score < 0.7 {
		t.Errorf("Score = %.2f, want >= 0.7", result.Score)
	}
	if result.Severity != models.SeverityHigh {
		t.Errorf("Severity = %q, want high", result.Severity)
	}
	if len(result.Contributions) != 6 {
		t.Errorf("got %d sub-model contributions, want 6", len(result.Contributions))
	}
	if len(result.TopContributors) != 3 {
		t.Fatalf("got %d top contributors, want 3", len(result.TopContributors))
	}
	for i := 1; i < len(result.TopContributors); i++ {
		if result.TopContributors[i].Contribution > result.TopContributors[i-1].Contribution {
			t.Error("top contributors not sorted by contribution")
		}
	}
}

func TestBaselineActivityNotEmitted(t *testing.T) {
	e, cur := trainedEngine(t)
	*cur = time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC) // Tuesday 14:00

	result, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "13.1.1.1",
		UserAgent: "Mozilla/5.0",
		Type:      "page_view",
		Path:      "/home",
		Method:    "GET",
		Timestamp: *cur,
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if result != nil {
		t.Errorf("baseline activity emitted anomaly with score %.2f", result.Score)
	}
}

func TestMissingEntityFallsBackToSource(t *testing.T) {
	e := New(DefaultConfig())

	if _, err := e.Observe(context.Background(), Activity{Source: "13.1.1.1"}); err != nil {
		t.Fatalf("Observe with source fallback: %v", err)
	}
	if len(e.RiskProfiles(0)) != 1 {
		t.Error("source-keyed profile not created")
	}

	_, err := e.Observe(context.Background(), Activity{})
	if !errors.Is(err, ErrMissingEntity) {
		t.Errorf("err = %v, want ErrMissingEntity", err)
	}
}

func TestRiskScoreIsRunningMax(t *testing.T) {
	e, cur := trainedEngine(t)

	first, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "120.9.9.9",
		UserAgent: "curl/8.0",
		Path:      "/admin/config",
		Method:    "POST",
		Message:   "login failed",
		Timestamp: *cur,
	})
	if err != nil || first == nil {
		t.Fatalf("first Observe = (%v, %v)", first, err)
	}

	// A milder deviation must not lower the recorded risk.
	*cur = cur.Add(time.Minute)
	if _, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "13.1.1.1",
		UserAgent: "Mozilla/5.0",
		Path:      "/home",
		Method:    "GET",
		Timestamp: *cur,
	}); err != nil {
		t.Fatalf("second Observe: %v", err)
	}

	profiles := e.RiskProfiles(0)
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(profiles))
	}
	if profiles[0].RiskScore != first.Score {
		t.Errorf("RiskScore = %.2f, want running max %.2f", profiles[0].RiskScore, first.Score)
	}
}

func TestPanickingSubModelExcluded(t *testing.T) {
	e, cur := trainedEngine(t)
	e.models = append(e.models, subModel{
		name:   "exploding",
		weight: 0.5,
		score:  func(*profile, Activity) float64 { panic("boom") },
	})

	result, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "120.9.9.9",
		UserAgent: "curl/8.0",
		Path:      "/admin/config",
		Method:    "POST",
		Message:   "login failed",
		Timestamp: *cur,
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if result == nil {
		t.Fatal("panicking sub-model suppressed the anomaly entirely")
	}
	if _, ok := result.Contributions["exploding"]; ok {
		t.Error("panicking sub-model contributed to the score")
	}
	// Renormalization over the six healthy models keeps the score in band.
	if result.Score < 0.7 {
		t.Errorf("Score = %.2f after renormalization, want >= 0.7", result.Score)
	}
}

func TestActivityHistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActivityHistory = 5
	e := New(cfg)

	for i := 0; i < 20; i++ {
		if _, err := e.Observe(context.Background(), Activity{EntityID: "bounded", Source: "13.1.1.1"}); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}

	p := e.profile("bounded")
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.activities) != 5 {
		t.Errorf("activity history length = %d, want 5", len(p.activities))
	}
	if p.totalActivities != 20 {
		t.Errorf("totalActivities = %d, want 20", p.totalActivities)
	}
}

func TestRiskProfilesSortedAndLimited(t *testing.T) {
	e, cur := trainedEngine(t)

	// A second, calmer entity.
	if _, err := e.Observe(context.Background(), Activity{EntityID: "quiet", Source: "13.1.1.1", Timestamp: *cur}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	if _, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "120.9.9.9",
		UserAgent: "curl/8.0",
		Path:      "/admin/config",
		Method:    "POST",
		Message:   "login failed",
		Timestamp: *cur,
	}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	profiles := e.RiskProfiles(0)
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	if profiles[0].EntityID != "svc-account" {
		t.Errorf("highest-risk profile = %q, want svc-account", profiles[0].EntityID)
	}
	if !profiles[1].Learning {
		t.Error("fresh entity not reported as learning")
	}

	if got := e.RiskProfiles(1); len(got) != 1 {
		t.Errorf("RiskProfiles(1) returned %d", len(got))
	}
}

func TestStatsAggregation(t *testing.T) {
	e, cur := trainedEngine(t)

	if _, err := e.Observe(context.Background(), Activity{
		EntityID:  "svc-account",
		Source:    "120.9.9.9",
		UserAgent: "curl/8.0",
		Path:      "/admin/config",
		Method:    "POST",
		Message:   "login failed",
		Timestamp: *cur,
	}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	stats := e.Stats()
	if stats.TotalEntities != 1 {
		t.Errorf("TotalEntities = %d, want 1", stats.TotalEntities)
	}
	if stats.TotalAnomalies != 1 {
		t.Errorf("TotalAnomalies = %d, want 1", stats.TotalAnomalies)
	}
	if stats.BySeverity["high"] != 1 {
		t.Errorf("BySeverity = %v, want one high", stats.BySeverity)
	}
	if stats.AverageRiskScore <= 0 {
		t.Errorf("AverageRiskScore = %.2f", stats.AverageRiskScore)
	}
}

func TestScoringIsDeterministic(t *testing.T) {
	act := Activity{
		EntityID:  "svc-account",
		Source:    "120.9.9.9",
		UserAgent: "curl/8.0",
		Path:      "/admin/config",
		Method:    "POST",
		Message:   "login failed",
	}

	e1, cur1 := trainedEngine(t)
	e2, cur2 := trainedEngine(t)
	act1, act2 := act, act
	act1.Timestamp = *cur1
	act2.Timestamp = *cur2

	r1, err := e1.Observe(context.Background(), act1)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	r2, err := e2.Observe(context.Background(), act2)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if r1 == nil || r2 == nil {
		t.Fatal("expected anomalies from both engines")
	}
	if r1.Score != r2.Score {
		t.Errorf("identical histories scored differently: %.4f vs %.4f", r1.Score, r2.Score)
	}
}

func TestActivityFromEvent(t *testing.T) {
	e := &models.SecurityEvent{
		Type:      "http_request",
		Source:    "203.0.113.5",
		UserAgent: "Mozilla/5.0",
		Message:   "request served",
		Details: map[string]interface{}{
			"user_id": "alice",
			"path":    "/api/keys",
			"method":  "POST",
			"status":  float64(403),
		},
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	act := ActivityFromEvent(e)
	if act.EntityID != "alice" {
		t.Errorf("EntityID = %q, want alice", act.EntityID)
	}
	if act.Path != "/api/keys" || act.Method != "POST" || act.Status != 403 {
		t.Errorf("request fields = %q %q %d", act.Path, act.Method, act.Status)
	}

	// Without a user_id detail, identity falls back to the source address.
	e.Details = nil
	e.Timestamp = time.Time{}
	act = ActivityFromEvent(e)
	if act.EntityID != "203.0.113.5" {
		t.Errorf("EntityID fallback = %q", act.EntityID)
	}
	if act.Timestamp.IsZero() {
		t.Error("zero event timestamp not defaulted")
	}
}
