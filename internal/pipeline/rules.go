// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/sentria/internal/cache"
	"github.com/tomtom215/sentria/internal/models"
)

// MatchKind names the event predicate a threshold rule counts. The set is
// closed: rules loaded from configuration must reference a known kind.
type MatchKind string

const (
	// MatchSuspicious counts any event whose type is tagged suspicious.
	MatchSuspicious MatchKind = "suspicious"

	// MatchBruteForce counts failed authentication attempts.
	MatchBruteForce MatchKind = "brute_force"

	// MatchTraversal counts directory traversal probes.
	MatchTraversal MatchKind = "directory_traversal"

	// MatchAdminScan counts admin panel access probes.
	MatchAdminScan MatchKind = "admin_scan"
)

// matchPredicates maps each kind to its event test.
var matchPredicates = map[MatchKind]func(e *models.SecurityEvent) bool{
	MatchSuspicious: func(e *models.SecurityEvent) bool {
		return strings.Contains(strings.ToLower(e.Type), "suspicious")
	},
	MatchBruteForce: func(e *models.SecurityEvent) bool {
		t := strings.ToLower(e.Type)
		return strings.Contains(t, "fail") &&
			(strings.Contains(t, "auth") || strings.Contains(t, "login"))
	},
	MatchTraversal: func(e *models.SecurityEvent) bool {
		return e.DetailString("suspicious_type") == "Directory Traversal"
	},
	MatchAdminScan: func(e *models.SecurityEvent) bool {
		return strings.Contains(e.DetailString("suspicious_type"), "Admin")
	},
}

// KnownMatch reports whether the match kind has a registered predicate.
func KnownMatch(kind MatchKind) bool {
	_, ok := matchPredicates[kind]
	return ok
}

// AlertRule raises an alert when its predicate matches Threshold times from
// one source inside Window.
type AlertRule struct {
	ID                 string          `koanf:"id"`
	Title              string          `koanf:"title"`
	Match              MatchKind       `koanf:"match"`
	Threshold          int             `koanf:"threshold"`
	Window             time.Duration   `koanf:"window"`
	Severity           models.Severity `koanf:"severity"`
	RecommendedActions []string        `koanf:"recommended_actions"`
}

// DefaultAlertRules returns the built-in threshold rules.
func DefaultAlertRules() []AlertRule {
	return []AlertRule{
		{
			ID:        "suspicious_ip",
			Title:     "Suspicious Activity from IP %s",
			Match:     MatchSuspicious,
			Threshold: 5,
			Window:    10 * time.Minute,
			Severity:  models.SeverityHigh,
			RecommendedActions: []string{
				"Block IP address",
				"Investigate user activity",
				"Review access logs",
				"Check for data exfiltration",
			},
		},
		{
			ID:        "brute_force",
			Title:     "Brute Force Attack from IP %s",
			Match:     MatchBruteForce,
			Threshold: 10,
			Window:    5 * time.Minute,
			Severity:  models.SeverityCritical,
			RecommendedActions: []string{
				"Block IP immediately",
				"Lock targeted accounts",
				"Review authentication logs",
				"Enable additional verification",
			},
		},
		{
			ID:        "directory_traversal",
			Title:     "Directory Traversal Attack from %s",
			Match:     MatchTraversal,
			Threshold: 3,
			Window:    2 * time.Minute,
			Severity:  models.SeverityHigh,
			RecommendedActions: []string{
				"Block IP immediately",
				"Review file system access",
				"Check for unauthorized file access",
				"Strengthen input validation",
			},
		},
		{
			ID:        "admin_scan",
			Title:     "Admin Panel Scanning from %s",
			Match:     MatchAdminScan,
			Threshold: 5,
			Window:    5 * time.Minute,
			Severity:  models.SeverityMedium,
			RecommendedActions: []string{
				"Monitor IP activity",
				"Review admin access logs",
				"Strengthen admin authentication",
				"Consider IP whitelisting",
			},
		},
	}
}

// ruleState holds one rule's per-source counters. The sliding window counts
// matches, the unique store collects touched resources, and the dedup cache
// suppresses repeat alerts for a source until the window has passed.
type ruleState struct {
	rule      AlertRule
	counts    *cache.SlidingWindowStore
	resources *cache.UniqueValueStore
	fired     *cache.DedupCache
}

// RuleSet evaluates every threshold rule against incoming events. Each rule
// keeps independent per-source windows, so sources never contend with each
// other beyond a map read.
type RuleSet struct {
	states []*ruleState
}

// Capacity bounds for per-rule source tracking.
const (
	maxRuleSources = 10000
	ruleNumBuckets = 10
	firedCacheCap  = 10000
)

// NewRuleSet validates the rules and builds their window state. It fails on
// an unknown match kind, a non-positive threshold, or an invalid window, so
// a bad configuration is rejected at startup rather than silently skipped.
func NewRuleSet(rules []AlertRule) (*RuleSet, error) {
	if len(rules) == 0 {
		rules = DefaultAlertRules()
	}

	states := make([]*ruleState, 0, len(rules))
	for _, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("alert rule with empty id")
		}
		if !KnownMatch(rule.Match) {
			return nil, fmt.Errorf("alert rule %s: unknown match kind %q", rule.ID, rule.Match)
		}
		if rule.Threshold <= 0 {
			return nil, fmt.Errorf("alert rule %s: threshold must be positive", rule.ID)
		}
		if rule.Window <= 0 {
			return nil, fmt.Errorf("alert rule %s: window must be positive", rule.ID)
		}
		if !rule.Severity.Valid() {
			return nil, fmt.Errorf("alert rule %s: invalid severity %q", rule.ID, rule.Severity)
		}

		states = append(states, &ruleState{
			rule:      rule,
			counts:    cache.NewSlidingWindowStore(rule.Window, ruleNumBuckets, maxRuleSources),
			resources: cache.NewUniqueValueStore(rule.Window, ruleNumBuckets, maxRuleSources),
			fired:     cache.NewDedupCache(firedCacheCap, rule.Window),
		})
	}

	return &RuleSet{states: states}, nil
}

// Evaluate counts the event against every matching rule and returns the
// alerts whose thresholds were crossed. A rule fires at most once per source
// per window.
func (rs *RuleSet) Evaluate(event *models.SecurityEvent) []*models.Alert {
	var alerts []*models.Alert

	for _, st := range rs.states {
		if !matchPredicates[st.rule.Match](event) {
			continue
		}

		st.counts.Increment(event.Source)
		if resource := eventResource(event); resource != "" {
			st.resources.Add(event.Source, resource)
		}

		count := st.counts.Count(event.Source)
		if count < int64(st.rule.Threshold) {
			continue
		}
		if st.fired.IsDuplicate(event.Source) {
			continue
		}
		st.fired.Record(event.Source)

		alerts = append(alerts, st.buildAlert(event.Source, count))
	}

	return alerts
}

func (st *ruleState) buildAlert(source string, count int64) *models.Alert {
	rule := st.rule
	return &models.Alert{
		ID:                 uuid.NewString(),
		Kind:               rule.ID,
		Severity:           rule.Severity,
		Source:             source,
		Title:              fmt.Sprintf(rule.Title, source),
		Description:        fmt.Sprintf("%d matching events detected in %s", count, rule.Window),
		AffectedResources:  st.resources.GetUnique(source),
		RecommendedActions: append([]string(nil), rule.RecommendedActions...),
		Details: map[string]interface{}{
			"rule":      rule.ID,
			"count":     count,
			"threshold": rule.Threshold,
			"window":    rule.Window.String(),
		},
		Timestamp: time.Now().UTC(),
	}
}

// eventResource extracts the resource touched by an event for the alert's
// affected-resources list.
func eventResource(event *models.SecurityEvent) string {
	if url := event.DetailString("url"); url != "" {
		return url
	}
	return event.DetailString("path")
}

// Sweep drops idle per-source counters. Run periodically from the
// maintenance loop.
func (rs *RuleSet) Sweep() {
	for _, st := range rs.states {
		st.counts.CleanupInactive()
		st.fired.CleanupExpired()
	}
}
