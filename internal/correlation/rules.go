// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package correlation detects multi-step attack sequences by buffering
// security events per source and matching rule-defined step patterns over a
// sliding time window.
package correlation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/sentria/internal/models"
)

// StepKind identifies one step of a correlation rule pattern. The set of
// kinds is closed: every kind used by a rule must have a registered
// predicate, and Engine construction fails otherwise.
type StepKind string

// Step kinds recognized by the built-in predicates.
const (
	Step404Scan             StepKind = "404_scan"
	StepAdminAccess         StepKind = "admin_access"
	StepExploitAttempt      StepKind = "exploit_attempt"
	StepFailedLogin         StepKind = "failed_login"
	StepSuccessfulLogin     StepKind = "successful_login"
	StepPrivilegeEscalation StepKind = "privilege_escalation"
	StepDatabaseAccess      StepKind = "database_access"
	StepLargeDownload       StepKind = "large_download"
	StepSuspiciousUpload    StepKind = "suspicious_upload"
	StepFileUpload          StepKind = "file_upload"
	StepSuspiciousFile      StepKind = "suspicious_file_access"
	StepRemoteCodeExecution StepKind = "remote_code_execution"
	StepSQLInjection        StepKind = "sql_injection_attempt"
	StepDatabaseError       StepKind = "database_error"
	StepDataExtraction      StepKind = "data_extraction"
)

// StepPredicate reports whether an event satisfies a pattern step.
// Predicates must be pure and must not retain the event.
type StepPredicate func(e *models.SecurityEvent) bool

var (
	stepMu    sync.RWMutex
	stepPreds = map[StepKind]StepPredicate{
		Step404Scan: func(e *models.SecurityEvent) bool {
			return e.Type == "404_ERROR" || strings.Contains(e.Message, "404")
		},
		StepAdminAccess: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "admin") || strings.Contains(e.Message, "/wp-admin")
		},
		StepExploitAttempt: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "exploit") || strings.Contains(e.Message, "payload")
		},
		StepFailedLogin: func(e *models.SecurityEvent) bool {
			return e.Type == "AUTH_FAILED" || strings.Contains(e.Message, "login failed")
		},
		StepSuccessfulLogin: func(e *models.SecurityEvent) bool {
			return e.Type == "AUTH_SUCCESS" || strings.Contains(e.Message, "login success")
		},
		StepPrivilegeEscalation: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "privilege") || strings.Contains(e.Message, "sudo")
		},
		StepDatabaseAccess: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "database") || strings.Contains(e.Message, "sql")
		},
		StepLargeDownload: func(e *models.SecurityEvent) bool {
			return e.Type == "LARGE_DOWNLOAD" || strings.Contains(e.Message, "download")
		},
		StepSuspiciousUpload: func(e *models.SecurityEvent) bool {
			return e.Type == "FILE_UPLOAD" || strings.Contains(e.Message, "upload")
		},
		StepFileUpload: func(e *models.SecurityEvent) bool {
			return e.Type == "FILE_UPLOAD"
		},
		StepSuspiciousFile: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, ".php") || strings.Contains(e.Message, ".jsp")
		},
		StepRemoteCodeExecution: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "exec") || strings.Contains(e.Message, "shell")
		},
		StepSQLInjection: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "sql injection") || strings.Contains(e.Message, "UNION SELECT")
		},
		StepDatabaseError: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "mysql error") || strings.Contains(e.Message, "sql error")
		},
		StepDataExtraction: func(e *models.SecurityEvent) bool {
			return strings.Contains(e.Message, "SELECT") || strings.Contains(e.Message, "dump")
		},
	}
)

// RegisterStep registers a predicate for a step kind. Registering a kind that
// already exists replaces its predicate. Registration must happen before
// engine construction to take effect.
func RegisterStep(kind StepKind, pred StepPredicate) error {
	if kind == "" {
		return fmt.Errorf("step kind must not be empty")
	}
	if pred == nil {
		return fmt.Errorf("predicate for step %q must not be nil", kind)
	}
	stepMu.Lock()
	defer stepMu.Unlock()
	stepPreds[kind] = pred
	return nil
}

// KnownStep reports whether a predicate is registered for the kind.
func KnownStep(kind StepKind) bool {
	stepMu.RLock()
	defer stepMu.RUnlock()
	_, ok := stepPreds[kind]
	return ok
}

// snapshotPredicates copies the registry for lock-free use by an engine.
func snapshotPredicates() map[StepKind]StepPredicate {
	stepMu.RLock()
	defer stepMu.RUnlock()
	preds := make(map[StepKind]StepPredicate, len(stepPreds))
	for k, v := range stepPreds {
		preds[k] = v
	}
	return preds
}

// Rule describes a multi-step attack sequence to correlate. The pattern must
// match as a contiguous subsequence of a source's time-ordered events within
// TimeWindow.
type Rule struct {
	// ID uniquely identifies the rule, e.g. "brute_force_escalation".
	// Incident playbooks trigger on rule IDs.
	ID string `koanf:"id" json:"id" validate:"required"`

	// Name is the human-readable rule name.
	Name string `koanf:"name" json:"name" validate:"required"`

	// Pattern is the ordered list of step kinds to match.
	Pattern []StepKind `koanf:"pattern" json:"pattern" validate:"required,min=1"`

	// TimeWindow bounds how far apart the first and last matched events may be.
	TimeWindow time.Duration `koanf:"time_window" json:"time_window" validate:"required"`

	// Severity assigned to patterns detected by this rule.
	Severity models.Severity `koanf:"severity" json:"severity"`

	// Description explains what the rule detects.
	Description string `koanf:"description" json:"description"`
}

// DefaultRules returns the built-in correlation rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "recon_to_exploit",
			Name:        "Reconnaissance to Exploitation",
			Pattern:     []StepKind{Step404Scan, StepAdminAccess, StepExploitAttempt},
			TimeWindow:  time.Hour,
			Severity:    models.SeverityHigh,
			Description: "Detected reconnaissance followed by exploitation attempt",
		},
		{
			ID:          "brute_force_escalation",
			Name:        "Brute Force Escalation",
			Pattern:     []StepKind{StepFailedLogin, StepFailedLogin, StepSuccessfulLogin, StepPrivilegeEscalation},
			TimeWindow:  30 * time.Minute,
			Severity:    models.SeverityCritical,
			Description: "Brute force attack followed by privilege escalation",
		},
		{
			ID:          "data_exfiltration",
			Name:        "Data Exfiltration Pattern",
			Pattern:     []StepKind{StepDatabaseAccess, StepLargeDownload, StepSuspiciousUpload},
			TimeWindow:  2 * time.Hour,
			Severity:    models.SeverityCritical,
			Description: "Potential data exfiltration detected",
		},
		{
			ID:          "web_shell_upload",
			Name:        "Web Shell Upload Attack",
			Pattern:     []StepKind{StepFileUpload, StepSuspiciousFile, StepRemoteCodeExecution},
			TimeWindow:  15 * time.Minute,
			Severity:    models.SeverityCritical,
			Description: "Web shell upload and execution detected",
		},
		{
			ID:          "sql_injection_chain",
			Name:        "SQL Injection Attack Chain",
			Pattern:     []StepKind{StepSQLInjection, StepDatabaseError, StepDataExtraction},
			TimeWindow:  20 * time.Minute,
			Severity:    models.SeverityHigh,
			Description: "SQL injection attack chain detected",
		},
	}
}
