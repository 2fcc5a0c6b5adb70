// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package response orchestrates automated incident response: classified
// incidents select a playbook, playbook steps execute in priority order
// through injected action collaborators, and a secondary automation-rule
// pass handles repeat offenders and escalations. The orchestrator owns its
// incident and cooldown state exclusively.
package response

import (
	"time"

	"github.com/tomtom215/sentria/internal/models"
)

// Automated playbook actions dispatched to the action collaborators.
const (
	ActionBlockSource        = "block_source"
	ActionBlockEgress        = "block_egress"
	ActionNotifyOperator     = "notify_operator"
	ActionEscalateToOperator = "escalate_to_operator"
	ActionLogIncident        = "log_incident"
	ActionQuarantine         = "quarantine_artifact"
	ActionSnapshotState      = "snapshot_state"
	ActionCollectEvidence    = "collect_evidence"
	ActionPermanentBlock     = "permanent_block"
)

// Step execution statuses.
const (
	StepCompleted     = "completed"
	StepManualPending = "manual_pending"
	StepFailed        = "failed"
)

// Incident statuses. Processed is terminal.
const (
	StatusActive    = "active"
	StatusProcessed = "processed"
)

// PlaybookStep is one action in a playbook. Automated steps dispatch to an
// action collaborator; manual steps create a follow-up task record.
type PlaybookStep struct {
	Action    string `koanf:"action" json:"action"`
	Priority  int    `koanf:"priority" json:"priority"`
	Automated bool   `koanf:"automated" json:"automated"`
}

// Playbook binds incident types and severities to an ordered response.
type Playbook struct {
	ID                string            `koanf:"id" json:"id"`
	Name              string            `koanf:"name" json:"name"`
	TriggerTypes      []string          `koanf:"trigger_types" json:"trigger_types"`
	TriggerSeverities []models.Severity `koanf:"trigger_severities" json:"trigger_severities"`
	Steps             []PlaybookStep    `koanf:"steps" json:"steps"`
	Cooldown          time.Duration     `koanf:"cooldown" json:"cooldown"`
}

// AutomationRule is a declarative condition/action pair evaluated after a
// playbook runs. A rule fires when every configured condition holds; zero
// values leave a condition unset.
type AutomationRule struct {
	ID      string `koanf:"id" json:"id"`
	Name    string `koanf:"name" json:"name"`
	Action  string `koanf:"action" json:"action"`
	Enabled bool   `koanf:"enabled" json:"enabled"`

	// MinRecentIncidents fires when the source has accumulated at least this
	// many incidents within RecentWindow, counting the current one.
	MinRecentIncidents int           `koanf:"min_recent_incidents" json:"min_recent_incidents,omitempty"`
	RecentWindow       time.Duration `koanf:"recent_window" json:"recent_window,omitempty"`

	// Severity and MinConfidence match the incident's classification.
	Severity      models.Severity `koanf:"severity" json:"severity,omitempty"`
	MinConfidence float64         `koanf:"min_confidence" json:"min_confidence,omitempty"`

	// IncidentType matches the incident type exactly.
	IncidentType string `koanf:"incident_type" json:"incident_type,omitempty"`
}

// Seed is the classification handed to the orchestrator by the coordinator.
type Seed struct {
	Type       string                 `json:"type"`
	Severity   models.Severity        `json:"severity"`
	Source     string                 `json:"source"`
	Confidence float64                `json:"confidence"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// StepResult records one executed playbook step.
type StepResult struct {
	Action    string    `json:"action"`
	Automated bool      `json:"automated"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ManualTask is a follow-up record for a non-automated playbook step.
type ManualTask struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	IncidentID  string    `json:"incident_id"`
	Priority    string    `json:"priority"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Incident is one orchestrated response. Steps and status mutate while the
// playbook runs; after that the record is read-only and retained for
// cooldown and repeat-offender lookups.
type Incident struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Severity     models.Severity        `json:"severity"`
	Source       string                 `json:"source"`
	Confidence   float64                `json:"confidence"`
	PlaybookID   string                 `json:"playbook_id"`
	PlaybookName string                 `json:"playbook_name"`
	Status       string                 `json:"status"`
	Steps        []StepResult           `json:"steps"`
	ManualTasks  []ManualTask           `json:"manual_tasks,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time"`
}

// Stats aggregates incident counts.
type Stats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Processed  int            `json:"processed"`
	BySeverity map[string]int `json:"by_severity"`
}

// Config holds orchestrator tuning.
type Config struct {
	Playbooks       []Playbook       `koanf:"playbooks"`
	AutomationRules []AutomationRule `koanf:"automation_rules"`

	// SelfTypes are incident types the orchestrator itself emits; seeds of
	// these types are dropped to prevent feedback loops.
	SelfTypes []string `koanf:"self_types"`

	// BlockDuration is the temporary block applied by block_source.
	BlockDuration time.Duration `koanf:"block_duration"`

	// MaxIncidentHistory bounds retained incident records.
	MaxIncidentHistory int `koanf:"max_incident_history"`
}

// DefaultConfig returns the default orchestration configuration.
func DefaultConfig() Config {
	return Config{
		Playbooks:          DefaultPlaybooks(),
		AutomationRules:    DefaultAutomationRules(),
		SelfTypes:          []string{"soar_incident", "automated_response"},
		BlockDuration:      24 * time.Hour,
		MaxIncidentHistory: 1000,
	}
}

// DefaultPlaybooks returns the built-in response playbooks.
func DefaultPlaybooks() []Playbook {
	return []Playbook{
		{
			ID:                "brute_force_response",
			Name:              "Brute Force Attack Response",
			TriggerTypes:      []string{"brute_force_escalation", "multiple_failed_logins"},
			TriggerSeverities: []models.Severity{models.SeverityHigh, models.SeverityCritical},
			Steps: []PlaybookStep{
				{Action: ActionBlockSource, Priority: 1, Automated: true},
				{Action: ActionNotifyOperator, Priority: 2, Automated: true},
				{Action: ActionLogIncident, Priority: 3, Automated: true},
				{Action: "analyze_logs", Priority: 4, Automated: false},
				{Action: "update_firewall", Priority: 5, Automated: false},
			},
			Cooldown: 5 * time.Minute,
		},
		{
			ID:                "sql_injection_response",
			Name:              "SQL Injection Attack Response",
			TriggerTypes:      []string{"sql_injection_chain", "database_compromise"},
			TriggerSeverities: []models.Severity{models.SeverityHigh, models.SeverityCritical},
			Steps: []PlaybookStep{
				{Action: ActionBlockSource, Priority: 1, Automated: true},
				{Action: "isolate_database", Priority: 2, Automated: false},
				{Action: ActionSnapshotState, Priority: 3, Automated: true},
				{Action: ActionNotifyOperator, Priority: 4, Automated: true},
				{Action: "forensic_analysis", Priority: 5, Automated: false},
			},
			Cooldown: 10 * time.Minute,
		},
		{
			ID:                "web_shell_response",
			Name:              "Web Shell Detection Response",
			TriggerTypes:      []string{"web_shell_upload", "suspicious_file_execution"},
			TriggerSeverities: []models.Severity{models.SeverityCritical},
			Steps: []PlaybookStep{
				{Action: ActionQuarantine, Priority: 1, Automated: true},
				{Action: ActionBlockSource, Priority: 2, Automated: true},
				{Action: ActionCollectEvidence, Priority: 3, Automated: true},
				{Action: ActionNotifyOperator, Priority: 4, Automated: true},
				{Action: "incident_response", Priority: 5, Automated: false},
			},
			Cooldown: 15 * time.Minute,
		},
		{
			ID:                "data_exfiltration_response",
			Name:              "Data Exfiltration Response",
			TriggerTypes:      []string{"data_exfiltration", "large_data_transfer"},
			TriggerSeverities: []models.Severity{models.SeverityCritical},
			Steps: []PlaybookStep{
				{Action: ActionBlockSource, Priority: 1, Automated: true},
				{Action: ActionBlockEgress, Priority: 2, Automated: true},
				{Action: ActionNotifyOperator, Priority: 3, Automated: true},
				{Action: "preserve_evidence", Priority: 4, Automated: false},
				{Action: "compliance_notification", Priority: 5, Automated: false},
			},
			Cooldown: 30 * time.Minute,
		},
		{
			ID:                "generic_critical_response",
			Name:              "Generic Critical Incident Response",
			TriggerTypes:      nil, // fallback, matched by severity only
			TriggerSeverities: []models.Severity{models.SeverityCritical},
			Steps: []PlaybookStep{
				{Action: ActionLogIncident, Priority: 1, Automated: true},
				{Action: ActionNotifyOperator, Priority: 2, Automated: true},
				{Action: ActionCollectEvidence, Priority: 3, Automated: true},
				{Action: "manual_investigation", Priority: 4, Automated: false},
			},
			Cooldown: 3 * time.Minute,
		},
	}
}

// DefaultAutomationRules returns the built-in post-playbook rules.
func DefaultAutomationRules() []AutomationRule {
	return []AutomationRule{
		{
			ID:                 "auto_block_repeat_offenders",
			Name:               "Auto-block Repeat Offenders",
			Action:             ActionPermanentBlock,
			Enabled:            true,
			MinRecentIncidents: 3,
			RecentWindow:       time.Hour,
		},
		{
			ID:            "auto_escalate_critical",
			Name:          "Auto-escalate Critical Incidents",
			Action:        ActionEscalateToOperator,
			Enabled:       true,
			Severity:      models.SeverityCritical,
			MinConfidence: 0.8,
		},
		{
			ID:           "auto_quarantine_uploads",
			Name:         "Auto-quarantine Uploaded Artifacts",
			Action:       ActionQuarantine,
			Enabled:      true,
			IncidentType: "web_shell_upload",
		},
	}
}

// taskPriority maps incident severity to a manual-task priority label.
func taskPriority(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return "urgent"
	case models.SeverityHigh:
		return "high"
	case models.SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}
