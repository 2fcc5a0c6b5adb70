// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/sentria/internal/behavior"
	"github.com/tomtom215/sentria/internal/correlation"
	"github.com/tomtom215/sentria/internal/models"
	"github.com/tomtom215/sentria/internal/response"
	"github.com/tomtom215/sentria/internal/threatintel"
)

type mockCorrelator struct {
	mu       sync.Mutex
	patterns []*correlation.AttackPattern
	err      error
	panics   bool
	calls    int
}

func (m *mockCorrelator) Ingest(_ context.Context, _ *models.SecurityEvent) ([]*correlation.AttackPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.panics {
		panic("correlator exploded")
	}
	return m.patterns, m.err
}

type mockBehavior struct {
	mu     sync.Mutex
	result *behavior.AnomalyResult
	err    error
	calls  int
}

func (m *mockBehavior) Observe(_ context.Context, _ behavior.Activity) (*behavior.AnomalyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.result, m.err
}

type mockResponder struct {
	mu    sync.Mutex
	seeds []response.Seed
	err   error
}

func (m *mockResponder) Handle(_ context.Context, seed response.Seed) (*response.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = append(m.seeds, seed)
	if m.err != nil {
		return nil, m.err
	}
	return &response.Incident{ID: "inc-1", Source: seed.Source}, nil
}

func (m *mockResponder) seen() []response.Seed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]response.Seed(nil), m.seeds...)
}

type mockEnricher struct {
	mu         sync.Mutex
	enrichment *threatintel.Enrichment
	err        error
	calls      int
}

func (m *mockEnricher) Enrich(_ context.Context, _ *models.SecurityEvent) (*threatintel.Enrichment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.enrichment, m.err
}

type mockSink struct {
	mu       sync.Mutex
	events   []*models.SecurityEvent
	alerts   []*models.Alert
	logErr   error
	alertErr error
}

func (m *mockSink) LogSecurityEvent(_ context.Context, event *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.logErr
}

func (m *mockSink) CreateAlert(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.alertErr
}

func (m *mockSink) alertKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.alerts))
	for _, a := range m.alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

type mockPushNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (m *mockPushNotifier) SendPushNotification(_ context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.err
}

type published struct {
	kind string
	data interface{}
}

type mockPublisher struct {
	mu        sync.Mutex
	envelopes []published
	err       error
}

func (m *mockPublisher) Publish(kind string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, published{kind: kind, data: data})
	return m.err
}

func (m *mockPublisher) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]string, 0, len(m.envelopes))
	for _, p := range m.envelopes {
		kinds = append(kinds, p.kind)
	}
	return kinds
}

type testDeps struct {
	correlator *mockCorrelator
	behavior   *mockBehavior
	responder  *mockResponder
	enricher   *mockEnricher
	sink       *mockSink
	notifier   *mockPushNotifier
	publisher  *mockPublisher
}

func newTestCoordinator(t *testing.T) (*Coordinator, *testDeps) {
	t.Helper()

	deps := &testDeps{
		correlator: &mockCorrelator{},
		behavior:   &mockBehavior{},
		responder:  &mockResponder{},
		enricher:   &mockEnricher{},
		sink:       &mockSink{},
		notifier:   &mockPushNotifier{},
		publisher:  &mockPublisher{},
	}

	c, err := New(DefaultConfig(), Deps{
		Correlator: deps.correlator,
		Behavior:   deps.behavior,
		Responder:  deps.responder,
		Enricher:   deps.enricher,
		Events:     deps.sink,
		Notifier:   deps.notifier,
		Publisher:  deps.publisher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, deps
}

func testEvent(eventType, source string) *models.SecurityEvent {
	return &models.SecurityEvent{
		Type:     eventType,
		Severity: models.SeverityLow,
		Source:   source,
		Message:  "test event",
		Details:  map[string]interface{}{"path": "/login"},
	}
}

func TestMalformedEventDropped(t *testing.T) {
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	c.ProcessSecurityEvent(ctx, nil)
	c.ProcessSecurityEvent(ctx, &models.SecurityEvent{Type: "404_ERROR"})
	c.ProcessSecurityEvent(ctx, &models.SecurityEvent{Source: "203.0.113.1"})

	if deps.correlator.calls != 0 || deps.behavior.calls != 0 || deps.enricher.calls != 0 {
		t.Error("malformed event reached a pipeline stage")
	}
	if len(deps.sink.events) != 0 {
		t.Error("malformed event persisted")
	}
}

func TestEventFlowsThroughAllStages(t *testing.T) {
	c, deps := newTestCoordinator(t)

	event := testEvent("404_ERROR", "203.0.113.1")
	c.ProcessSecurityEvent(context.Background(), event)

	if len(deps.sink.events) != 1 {
		t.Errorf("logged %d events, want 1", len(deps.sink.events))
	}
	if deps.correlator.calls != 1 || deps.behavior.calls != 1 || deps.enricher.calls != 1 {
		t.Errorf("stage calls = correlation %d, behavior %d, enrichment %d, want 1 each",
			deps.correlator.calls, deps.behavior.calls, deps.enricher.calls)
	}

	kinds := deps.publisher.kinds()
	if len(kinds) != 1 || kinds[0] != models.EnvelopeSecurityEvent {
		t.Errorf("published kinds = %v, want [security_event]", kinds)
	}

	seeds := deps.responder.seen()
	if len(seeds) != 1 || seeds[0].Type != "404_ERROR" {
		t.Fatalf("responder seeds = %+v, want one raw-event seed", seeds)
	}
	if seeds[0].Confidence != 0.7 {
		t.Errorf("default seed confidence = %.2f, want 0.7", seeds[0].Confidence)
	}

	if event.Timestamp.IsZero() {
		t.Error("zero timestamp not backfilled")
	}
}

func TestStageErrorDoesNotStopRemainingStages(t *testing.T) {
	c, deps := newTestCoordinator(t)
	deps.correlator.err = errors.New("buffer corrupted")

	c.ProcessSecurityEvent(context.Background(), testEvent("404_ERROR", "203.0.113.1"))

	if deps.behavior.calls != 1 {
		t.Error("behavior stage skipped after correlation failure")
	}
	if deps.enricher.calls != 1 {
		t.Error("enrichment stage skipped after correlation failure")
	}
	if kinds := deps.publisher.kinds(); len(kinds) != 1 {
		t.Errorf("published kinds = %v, want the security_event despite stage failure", kinds)
	}
}

func TestStagePanicIsolated(t *testing.T) {
	c, deps := newTestCoordinator(t)
	deps.correlator.panics = true

	// Must not panic past the coordinator.
	c.ProcessSecurityEvent(context.Background(), testEvent("404_ERROR", "203.0.113.1"))

	if deps.behavior.calls != 1 || deps.enricher.calls != 1 {
		t.Error("stages after a panicking stage did not run")
	}
}

func TestAttackPatternRaisesAlertAndSeedsResponse(t *testing.T) {
	c, deps := newTestCoordinator(t)

	now := time.Now()
	deps.correlator.patterns = []*correlation.AttackPattern{{
		ID:         "pat-1",
		Source:     "203.0.113.1",
		RuleID:     "sql_injection_chain",
		RuleName:   "SQL Injection Attack Chain",
		Severity:   models.SeverityHigh,
		Confidence: 0.85,
		Events:     []models.SecurityEvent{{Type: "SQL_INJECTION_ATTEMPT"}},
		StartTime:  now.Add(-2 * time.Minute),
		EndTime:    now,
		DetectedAt: now,
	}}

	c.ProcessSecurityEvent(context.Background(), testEvent("SQL_INJECTION_ATTEMPT", "203.0.113.1"))

	kinds := deps.publisher.kinds()
	wantKinds := map[string]bool{
		models.EnvelopeCorrelationAlert: false,
		models.EnvelopeSecurityAlert:    false,
		models.EnvelopeSecurityEvent:    false,
	}
	for _, k := range kinds {
		wantKinds[k] = true
	}
	for kind, seen := range wantKinds {
		if !seen {
			t.Errorf("kind %q not published (got %v)", kind, kinds)
		}
	}

	alertKinds := deps.sink.alertKinds()
	if len(alertKinds) != 1 || alertKinds[0] != "attack_pattern" {
		t.Errorf("persisted alert kinds = %v, want [attack_pattern]", alertKinds)
	}

	var patternSeeds []response.Seed
	for _, seed := range deps.responder.seen() {
		if seed.Type == "sql_injection_chain" {
			patternSeeds = append(patternSeeds, seed)
		}
	}
	if len(patternSeeds) != 1 {
		t.Fatalf("pattern seeds = %d, want 1", len(patternSeeds))
	}
	if patternSeeds[0].Confidence != 0.85 || patternSeeds[0].Severity != models.SeverityHigh {
		t.Errorf("pattern seed = %+v", patternSeeds[0])
	}
}

func TestAnomalyRaisesAlertAndSeedsResponse(t *testing.T) {
	c, deps := newTestCoordinator(t)

	deps.behavior.result = &behavior.AnomalyResult{
		EntityID:  "user-42",
		Score:     0.82,
		Severity:  models.SeverityHigh,
		Timestamp: time.Now(),
	}

	c.ProcessSecurityEvent(context.Background(), testEvent("ACCESS", "203.0.113.1"))

	alertKinds := deps.sink.alertKinds()
	if len(alertKinds) != 1 || alertKinds[0] != "behavior_anomaly" {
		t.Fatalf("persisted alert kinds = %v, want [behavior_anomaly]", alertKinds)
	}

	var anomalySeeds []response.Seed
	for _, seed := range deps.responder.seen() {
		if seed.Type == "user_behavior_anomaly" {
			anomalySeeds = append(anomalySeeds, seed)
		}
	}
	if len(anomalySeeds) != 1 {
		t.Fatalf("anomaly seeds = %d, want 1", len(anomalySeeds))
	}
	if anomalySeeds[0].Confidence != 0.82 {
		t.Errorf("anomaly seed confidence = %.2f, want the anomaly score", anomalySeeds[0].Confidence)
	}
}

func TestEnrichmentEscalatesSeverityBeforeResponseAndPublish(t *testing.T) {
	c, deps := newTestCoordinator(t)

	deps.enricher.enrichment = &threatintel.Enrichment{
		RiskScore:        0.855,
		Hits:             []threatintel.Hit{{Subject: "203.0.113.1", Category: "botnet"}},
		Indicators:       []string{"ip: 203.0.113.1"},
		OriginalSeverity: models.SeverityLow,
		FinalSeverity:    models.SeverityCritical,
	}

	event := testEvent("ACCESS", "203.0.113.1")
	c.ProcessSecurityEvent(context.Background(), event)

	if event.Severity != models.SeverityCritical {
		t.Errorf("event severity = %q, want critical after enrichment", event.Severity)
	}
	if _, ok := event.Details["threat_intelligence"]; !ok {
		t.Error("threat_intelligence detail not attached")
	}

	// The raw-event seed fires after enrichment with the escalated severity.
	seeds := deps.responder.seen()
	if len(seeds) != 1 || seeds[0].Severity != models.SeverityCritical {
		t.Errorf("raw-event seed = %+v, want escalated severity", seeds)
	}
}

func TestNotificationFailureOnlyObservable(t *testing.T) {
	c, deps := newTestCoordinator(t)
	deps.notifier.err = errors.New("webhook down")
	deps.behavior.result = &behavior.AnomalyResult{
		EntityID:  "user-42",
		Score:     0.9,
		Severity:  models.SeverityHigh,
		Timestamp: time.Now(),
	}

	c.ProcessSecurityEvent(context.Background(), testEvent("ACCESS", "203.0.113.1"))

	if len(deps.sink.alerts) != 1 {
		t.Error("alert not persisted after notification failure")
	}
	if kinds := deps.publisher.kinds(); len(kinds) == 0 {
		t.Error("nothing published after notification failure")
	}
}

func TestExpectedResponderErrorsAreNotStageFailures(t *testing.T) {
	c, deps := newTestCoordinator(t)
	deps.responder.err = response.ErrNoPlaybook

	// Processing completes and still publishes.
	c.ProcessSecurityEvent(context.Background(), testEvent("404_ERROR", "203.0.113.1"))

	if kinds := deps.publisher.kinds(); len(kinds) != 1 || kinds[0] != models.EnvelopeSecurityEvent {
		t.Errorf("published kinds = %v", kinds)
	}
}

func TestThresholdRuleFiresThroughPipeline(t *testing.T) {
	c, deps := newTestCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		event := testEvent("SUSPICIOUS_REQUEST", "203.0.113.9")
		event.Details = map[string]interface{}{"url": "/admin/config"}
		c.ProcessSecurityEvent(ctx, event)
	}

	var ruleAlerts []*models.Alert
	for _, alert := range deps.sink.alerts {
		if alert.Kind == "suspicious_ip" {
			ruleAlerts = append(ruleAlerts, alert)
		}
	}
	if len(ruleAlerts) != 1 {
		t.Fatalf("suspicious_ip alerts = %d, want exactly 1 per window", len(ruleAlerts))
	}
	alert := ruleAlerts[0]
	if alert.Severity != models.SeverityHigh {
		t.Errorf("alert severity = %q, want high", alert.Severity)
	}
	if len(alert.AffectedResources) != 1 || alert.AffectedResources[0] != "/admin/config" {
		t.Errorf("affected resources = %v", alert.AffectedResources)
	}
	if len(alert.RecommendedActions) == 0 {
		t.Error("alert missing recommended actions")
	}
}

func TestNilCollaboratorsSkipStages(t *testing.T) {
	c, err := New(DefaultConfig(), Deps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Must not panic with every collaborator absent.
	c.ProcessSecurityEvent(context.Background(), testEvent("404_ERROR", "203.0.113.1"))
}

func TestNewRejectsInvalidAlertRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertRules = []AlertRule{{
		ID:        "bad",
		Match:     "no_such_kind",
		Threshold: 5,
		Window:    time.Minute,
		Severity:  models.SeverityHigh,
	}}

	if _, err := New(cfg, Deps{}); err == nil {
		t.Error("New accepted a rule with an unknown match kind")
	}
}
