// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package response

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
)

// Sentinel errors for dropped seeds. All are expected outcomes; callers log
// them at debug level and continue.
var (
	ErrMissingSource  = errors.New("incident seed has no source")
	ErrSelfGenerated  = errors.New("incident seed is orchestrator output")
	ErrNoPlaybook     = errors.New("no playbook matches incident")
	ErrCooldownActive = errors.New("playbook cooldown active for source")
)

// Enforcer applies blocking and containment decisions. A zero block duration
// means permanent.
type Enforcer interface {
	BlockSource(ctx context.Context, source string, duration time.Duration) error
	BlockEgress(ctx context.Context, source string) error
	QuarantineArtifacts(ctx context.Context, source string, artifacts []string) error
}

// Notifier delivers incident notifications to operators.
type Notifier interface {
	NotifyOperator(ctx context.Context, inc *Incident) error
	Escalate(ctx context.Context, inc *Incident) error
}

// IncidentLogger persists incident records through the external sink.
type IncidentLogger interface {
	LogIncident(ctx context.Context, inc *Incident) error
}

// Forensics captures state and evidence for later investigation.
type Forensics interface {
	SnapshotState(ctx context.Context, inc *Incident) error
	CollectEvidence(ctx context.Context, inc *Incident) error
}

// Deps are the action collaborators invoked by automated playbook steps.
type Deps struct {
	Enforcer  Enforcer
	Notifier  Notifier
	Logger    IncidentLogger
	Forensics Forensics
}

// Orchestrator selects and executes response playbooks. It owns incident and
// cooldown state exclusively; engines only hand it classified seeds.
type Orchestrator struct {
	cfg       Config
	deps      Deps
	selfTypes map[string]struct{}

	mu        sync.Mutex
	incidents []*Incident
	cooldowns map[string]time.Time

	clock func() time.Time
}

// New creates a response orchestrator and validates its playbooks and rules.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	def := DefaultConfig()
	if len(cfg.Playbooks) == 0 {
		cfg.Playbooks = def.Playbooks
	}
	if cfg.SelfTypes == nil {
		cfg.SelfTypes = def.SelfTypes
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.MaxIncidentHistory <= 0 {
		cfg.MaxIncidentHistory = def.MaxIncidentHistory
	}

	for _, pb := range cfg.Playbooks {
		if err := validatePlaybook(pb); err != nil {
			return nil, fmt.Errorf("playbook %q: %w", pb.ID, err)
		}
	}
	for _, rule := range cfg.AutomationRules {
		if rule.ID == "" {
			return nil, errors.New("automation rule missing id")
		}
		if !knownAction(rule.Action) {
			return nil, fmt.Errorf("automation rule %q: unknown action %q", rule.ID, rule.Action)
		}
	}

	selfTypes := make(map[string]struct{}, len(cfg.SelfTypes))
	for _, t := range cfg.SelfTypes {
		selfTypes[t] = struct{}{}
	}

	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		selfTypes: selfTypes,
		cooldowns: make(map[string]time.Time),
		clock:     time.Now,
	}, nil
}

func validatePlaybook(pb Playbook) error {
	if pb.ID == "" {
		return errors.New("missing id")
	}
	if pb.Name == "" {
		return errors.New("missing name")
	}
	if len(pb.Steps) == 0 {
		return errors.New("no steps")
	}
	if pb.Cooldown <= 0 {
		return errors.New("cooldown must be positive")
	}
	if len(pb.TriggerSeverities) == 0 {
		return errors.New("no trigger severities")
	}
	for _, sev := range pb.TriggerSeverities {
		if !sev.Valid() {
			return fmt.Errorf("invalid severity %q", sev)
		}
	}
	for _, step := range pb.Steps {
		if step.Action == "" {
			return errors.New("step missing action")
		}
		if step.Automated && !knownAction(step.Action) {
			return fmt.Errorf("unknown automated action %q", step.Action)
		}
	}
	return nil
}

func knownAction(action string) bool {
	switch action {
	case ActionBlockSource, ActionBlockEgress, ActionNotifyOperator,
		ActionEscalateToOperator, ActionLogIncident, ActionQuarantine,
		ActionSnapshotState, ActionCollectEvidence, ActionPermanentBlock:
		return true
	}
	return false
}

// Handle processes one classified incident seed. It returns the processed
// incident, or nil with a sentinel error when the seed is dropped.
func (o *Orchestrator) Handle(ctx context.Context, seed Seed) (*Incident, error) {
	if seed.Source == "" {
		return nil, ErrMissingSource
	}
	if _, self := o.selfTypes[seed.Type]; self {
		return nil, ErrSelfGenerated
	}

	pb, ok := o.matchPlaybook(seed)
	if !ok {
		return nil, ErrNoPlaybook
	}

	inc, err := o.admit(seed, pb)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("component", "response").
		Str("incident_id", inc.ID).
		Str("type", inc.Type).
		Str("playbook", pb.ID).
		Str("source", inc.Source).
		Msg("Executing response playbook")

	o.executePlaybook(ctx, inc, pb)
	o.applyAutomationRules(ctx, inc)

	metrics.IncidentsCreated.WithLabelValues(pb.ID, string(inc.Severity)).Inc()
	return inc, nil
}

// matchPlaybook returns the first playbook triggered by the seed's type and
// severity, falling back to a severity-only playbook for critical seeds.
func (o *Orchestrator) matchPlaybook(seed Seed) (Playbook, bool) {
	for _, pb := range o.cfg.Playbooks {
		if len(pb.TriggerTypes) == 0 {
			continue
		}
		if containsString(pb.TriggerTypes, seed.Type) && containsSeverity(pb.TriggerSeverities, seed.Severity) {
			return pb, true
		}
	}
	if seed.Severity == models.SeverityCritical {
		for _, pb := range o.cfg.Playbooks {
			if len(pb.TriggerTypes) == 0 && containsSeverity(pb.TriggerSeverities, seed.Severity) {
				return pb, true
			}
		}
	}
	return Playbook{}, false
}

// admit atomically checks the (source, playbook) cooldown and registers the
// new incident. The cooldown window opens at incident start; a second seed
// for the same pair inside the window is dropped.
func (o *Orchestrator) admit(seed Seed, pb Playbook) (*Incident, error) {
	now := o.clock()
	key := seed.Source + "|" + pb.ID

	o.mu.Lock()
	defer o.mu.Unlock()

	if start, exists := o.cooldowns[key]; exists {
		if now.Before(start.Add(pb.Cooldown)) {
			metrics.IncidentsCoolingDown.Inc()
			logging.Debug().
				Str("component", "response").
				Str("source", seed.Source).
				Str("playbook", pb.ID).
				Msg("Incident dropped by cooldown")
			return nil, ErrCooldownActive
		}
		delete(o.cooldowns, key)
	}
	o.cooldowns[key] = now

	inc := &Incident{
		ID:           uuid.NewString(),
		Type:         seed.Type,
		Severity:     seed.Severity,
		Source:       seed.Source,
		Confidence:   seed.Confidence,
		PlaybookID:   pb.ID,
		PlaybookName: pb.Name,
		Status:       StatusActive,
		Details:      seed.Details,
		StartTime:    now,
	}

	o.incidents = append(o.incidents, inc)
	if len(o.incidents) > o.cfg.MaxIncidentHistory {
		drop := len(o.incidents) - o.cfg.MaxIncidentHistory
		o.incidents = append(o.incidents[:0:0], o.incidents[drop:]...)
	}
	return inc, nil
}

// executePlaybook runs steps in ascending priority. A failing step is
// recorded and the remaining steps still run.
func (o *Orchestrator) executePlaybook(ctx context.Context, inc *Incident, pb Playbook) {
	steps := append([]PlaybookStep(nil), pb.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })

	for _, step := range steps {
		result := StepResult{
			Action:    step.Action,
			Automated: step.Automated,
			StartTime: o.clock(),
		}

		var task *ManualTask
		if step.Automated {
			if err := o.executeAction(ctx, step.Action, inc); err != nil {
				result.Status = StepFailed
				result.Error = err.Error()
				metrics.ResponseStepFailures.WithLabelValues(step.Action).Inc()
				logging.Error().
					Err(err).
					Str("component", "response").
					Str("incident_id", inc.ID).
					Str("action", step.Action).
					Msg("Automated step failed")
			} else {
				result.Status = StepCompleted
			}
		} else {
			t := o.createManualTask(step.Action, inc)
			task = &t
			result.Status = StepManualPending
			metrics.ManualTasksCreated.Inc()
		}

		result.EndTime = o.clock()

		// Concurrent readers snapshot incidents under the same lock.
		o.mu.Lock()
		if task != nil {
			inc.ManualTasks = append(inc.ManualTasks, *task)
		}
		inc.Steps = append(inc.Steps, result)
		o.mu.Unlock()
	}

	o.mu.Lock()
	inc.Status = StatusProcessed
	inc.EndTime = o.clock()
	o.mu.Unlock()
}

func (o *Orchestrator) executeAction(ctx context.Context, action string, inc *Incident) error {
	switch action {
	case ActionBlockSource:
		return o.deps.Enforcer.BlockSource(ctx, inc.Source, o.cfg.BlockDuration)
	case ActionPermanentBlock:
		return o.deps.Enforcer.BlockSource(ctx, inc.Source, 0)
	case ActionBlockEgress:
		return o.deps.Enforcer.BlockEgress(ctx, inc.Source)
	case ActionQuarantine:
		return o.deps.Enforcer.QuarantineArtifacts(ctx, inc.Source, artifactsFromDetails(inc.Details))
	case ActionNotifyOperator:
		return o.deps.Notifier.NotifyOperator(ctx, inc)
	case ActionEscalateToOperator:
		return o.deps.Notifier.Escalate(ctx, inc)
	case ActionLogIncident:
		return o.deps.Logger.LogIncident(ctx, inc)
	case ActionSnapshotState:
		return o.deps.Forensics.SnapshotState(ctx, inc)
	case ActionCollectEvidence:
		return o.deps.Forensics.CollectEvidence(ctx, inc)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// artifactsFromDetails pulls suspicious artifact names out of the seed
// details, tolerating both string and decoded-JSON slices.
func artifactsFromDetails(details map[string]interface{}) []string {
	if details == nil {
		return nil
	}
	switch v := details["suspicious_files"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (o *Orchestrator) createManualTask(action string, inc *Incident) ManualTask {
	return ManualTask{
		ID:          uuid.NewString(),
		Action:      action,
		IncidentID:  inc.ID,
		Priority:    taskPriority(inc.Severity),
		Description: taskDescription(action, inc),
		Status:      "pending",
		CreatedAt:   o.clock(),
	}
}

func taskDescription(action string, inc *Incident) string {
	switch action {
	case "analyze_logs":
		return fmt.Sprintf("Analyze logs for incident %s (%s)", inc.ID, inc.Type)
	case "update_firewall":
		return fmt.Sprintf("Update firewall rules based on incident %s", inc.ID)
	case "isolate_database":
		return fmt.Sprintf("Isolate database due to incident %s", inc.ID)
	case "forensic_analysis":
		return fmt.Sprintf("Perform forensic analysis for incident %s", inc.ID)
	case "incident_response":
		return fmt.Sprintf("Execute incident response plan for %s", inc.ID)
	case "manual_investigation":
		return fmt.Sprintf("Manual investigation required for incident %s", inc.ID)
	case "preserve_evidence":
		return fmt.Sprintf("Preserve evidence for incident %s", inc.ID)
	case "compliance_notification":
		return fmt.Sprintf("Send compliance notifications for incident %s", inc.ID)
	default:
		return fmt.Sprintf("Manual action required: %s for incident %s", action, inc.ID)
	}
}

// applyAutomationRules runs the post-playbook rule pass. Rule failures are
// logged and never abort the remaining rules.
func (o *Orchestrator) applyAutomationRules(ctx context.Context, inc *Incident) {
	for _, rule := range o.cfg.AutomationRules {
		if !rule.Enabled || !o.ruleMatches(rule, inc) {
			continue
		}
		logging.Info().
			Str("component", "response").
			Str("incident_id", inc.ID).
			Str("rule", rule.ID).
			Str("action", rule.Action).
			Msg("Automation rule fired")
		if err := o.executeAction(ctx, rule.Action, inc); err != nil {
			metrics.ResponseStepFailures.WithLabelValues(rule.Action).Inc()
			logging.Error().
				Err(err).
				Str("component", "response").
				Str("rule", rule.ID).
				Msg("Automation rule action failed")
		}
	}
}

func (o *Orchestrator) ruleMatches(rule AutomationRule, inc *Incident) bool {
	if rule.MinRecentIncidents > 0 {
		window := rule.RecentWindow
		if window <= 0 {
			window = time.Hour
		}
		if o.recentIncidentsBySource(inc.Source, window) < rule.MinRecentIncidents {
			return false
		}
	}
	if rule.Severity != "" && inc.Severity != rule.Severity {
		return false
	}
	if rule.MinConfidence > 0 && inc.Confidence <= rule.MinConfidence {
		return false
	}
	if rule.IncidentType != "" && inc.Type != rule.IncidentType {
		return false
	}
	return true
}

func (o *Orchestrator) recentIncidentsBySource(source string, window time.Duration) int {
	cutoff := o.clock().Add(-window)

	o.mu.Lock()
	defer o.mu.Unlock()

	count := 0
	for _, inc := range o.incidents {
		if inc.Source == source && inc.StartTime.After(cutoff) {
			count++
		}
	}
	return count
}

// RecentIncidents returns up to limit incident snapshots, newest first.
func (o *Orchestrator) RecentIncidents(limit int) []Incident {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Incident, 0, len(o.incidents))
	for i := len(o.incidents) - 1; i >= 0; i-- {
		out = append(out, *o.incidents[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Stats aggregates incident counts by status and severity.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Stats{
		Total:      len(o.incidents),
		BySeverity: map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0},
	}
	for _, inc := range o.incidents {
		switch inc.Status {
		case StatusActive:
			stats.Active++
		case StatusProcessed:
			stats.Processed++
		}
		stats.BySeverity[string(inc.Severity)]++
	}
	return stats
}

// Sweep drops expired cooldown entries. The supervisor runs this on the
// shared maintenance ticker.
func (o *Orchestrator) Sweep() {
	now := o.clock()
	maxCooldown := time.Duration(0)
	for _, pb := range o.cfg.Playbooks {
		if pb.Cooldown > maxCooldown {
			maxCooldown = pb.Cooldown
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for key, start := range o.cooldowns {
		if now.Sub(start) > maxCooldown {
			delete(o.cooldowns, key)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []models.Severity, s models.Severity) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
