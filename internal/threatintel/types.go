// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package threatintel provides reputation lookups and event enrichment
// backed by a BadgerDB TTL cache and external-feed collaborators. Feed
// queries are rate limited, circuit-broken, and timeout bounded so a
// degraded feed never stalls event processing.
package threatintel

import (
	"time"

	"github.com/tomtom215/sentria/internal/models"
)

// IndicatorKind classifies a reputation subject.
type IndicatorKind string

const (
	KindIP     IndicatorKind = "ip"
	KindDomain IndicatorKind = "domain"
	KindHash   IndicatorKind = "hash"
)

// Indicator is one cached reputation record.
type Indicator struct {
	Subject    string        `json:"subject"`
	Kind       IndicatorKind `json:"kind"`
	Category   string        `json:"category"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source"`
	ObservedAt time.Time     `json:"observed_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// Category holds the severity and risk weight of a threat category.
type Category struct {
	Severity models.Severity `koanf:"severity"`
	Weight   float64         `koanf:"weight"`
}

// Feed describes one external threat intelligence source.
type Feed struct {
	ID             string        `koanf:"id"`
	Name           string        `koanf:"name"`
	Kind           IndicatorKind `koanf:"kind"`
	URL            string        `koanf:"url"`
	APIKeyEnv      string        `koanf:"api_key_env"`
	UpdateInterval time.Duration `koanf:"update_interval"`
	Enabled        bool          `koanf:"enabled"`
	Priority       string        `koanf:"priority"`
}

// Hit is one indicator match during enrichment.
type Hit struct {
	Subject    string          `json:"subject"`
	Kind       IndicatorKind   `json:"kind"`
	Category   string          `json:"category"`
	Confidence float64         `json:"confidence"`
	Weight     float64         `json:"weight"`
	RiskScore  float64         `json:"risk_score"`
	Severity   models.Severity `json:"severity"`
	Source     string          `json:"source"`
}

// Enrichment is the reputation verdict on one event.
type Enrichment struct {
	RiskScore        float64         `json:"risk_score"`
	Hits             []Hit           `json:"hits,omitempty"`
	Indicators       []string        `json:"indicators,omitempty"`
	Recommendations  []string        `json:"recommendations,omitempty"`
	AttackPatterns   []string        `json:"attack_patterns,omitempty"`
	MitreTactics     []string        `json:"mitre_tactics,omitempty"`
	OriginalSeverity models.Severity `json:"original_severity"`
	FinalSeverity    models.Severity `json:"final_severity"`
}

// Escalated reports whether enrichment raised the event severity.
func (e *Enrichment) Escalated() bool {
	return e.FinalSeverity.Ordinal() > e.OriginalSeverity.Ordinal()
}

// StoreConfig holds BadgerDB cache settings.
type StoreConfig struct {
	// Path is the on-disk location of the cache. Ignored when InMemory.
	Path string `koanf:"path"`

	// InMemory runs the cache without persistence, for tests and ephemeral
	// deployments.
	InMemory bool `koanf:"in_memory"`

	// TTL bounds how long an indicator is served before re-query.
	TTL time.Duration `koanf:"ttl"`
}

// Config holds threat intelligence service tuning.
type Config struct {
	Store      StoreConfig         `koanf:"store"`
	Categories map[string]Category `koanf:"categories"`
	Feeds      []Feed              `koanf:"feeds"`
	Seeds      []Indicator         `koanf:"seeds"`

	// LookupTimeout bounds a single external feed query.
	LookupTimeout time.Duration `koanf:"lookup_timeout"`

	// FeedQueriesPerSecond rate limits on-miss feed queries; excess lookups
	// are served cache-only.
	FeedQueriesPerSecond float64 `koanf:"feed_queries_per_second"`
	FeedQueryBurst       int     `koanf:"feed_query_burst"`

	// BreakerFailureThreshold opens the feed circuit after this many
	// consecutive query failures.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`

	// RefreshInterval is the cadence of the background feed refresh loop;
	// per-feed update intervals still apply on top.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// DefaultConfig returns the default threat intelligence configuration.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Path: "data/threatintel",
			TTL:  24 * time.Hour,
		},
		Categories:              DefaultCategories(),
		Feeds:                   DefaultFeeds(),
		Seeds:                   DefaultSeeds(),
		LookupTimeout:           2 * time.Second,
		FeedQueriesPerSecond:    10,
		FeedQueryBurst:          20,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
		RefreshInterval:         30 * time.Minute,
	}
}

// DefaultCategories returns the built-in category weights. Unknown
// categories fall back to medium severity with weight 0.5.
func DefaultCategories() map[string]Category {
	return map[string]Category{
		"malware":  {Severity: models.SeverityCritical, Weight: 1.0},
		"botnet":   {Severity: models.SeverityHigh, Weight: 0.9},
		"phishing": {Severity: models.SeverityHigh, Weight: 0.8},
		"spam":     {Severity: models.SeverityMedium, Weight: 0.5},
		"scanner":  {Severity: models.SeverityMedium, Weight: 0.6},
		"tor":      {Severity: models.SeverityLow, Weight: 0.3},
		"proxy":    {Severity: models.SeverityLow, Weight: 0.2},
	}
}

// defaultCategory is applied to categories absent from the table.
var defaultCategory = Category{Severity: models.SeverityMedium, Weight: 0.5}

// DefaultFeeds returns the built-in feed descriptors.
func DefaultFeeds() []Feed {
	return []Feed{
		{
			ID:             "malicious_ips",
			Name:           "Malicious IP Database",
			Kind:           KindIP,
			URL:            "https://api.example-threat-feed.com/ips",
			APIKeyEnv:      "THREAT_INTEL_API_KEY",
			UpdateInterval: 6 * time.Hour,
			Enabled:        true,
			Priority:       "high",
		},
		{
			ID:             "malware_domains",
			Name:           "Malware Domain List",
			Kind:           KindDomain,
			URL:            "https://api.example-malware-domains.com/domains",
			APIKeyEnv:      "MALWARE_DOMAIN_API_KEY",
			UpdateInterval: 12 * time.Hour,
			Enabled:        true,
			Priority:       "high",
		},
		{
			ID:             "file_hashes",
			Name:           "Malicious File Hashes",
			Kind:           KindHash,
			URL:            "https://api.example-hash-db.com/hashes",
			APIKeyEnv:      "HASH_DB_API_KEY",
			UpdateInterval: 24 * time.Hour,
			Enabled:        true,
			Priority:       "medium",
		},
		{
			ID:             "tor_nodes",
			Name:           "Tor Exit Nodes",
			Kind:           KindIP,
			URL:            "https://check.torproject.org/torbulkexitlist",
			UpdateInterval: 24 * time.Hour,
			Enabled:        true,
			Priority:       "low",
		},
	}
}

// DefaultSeeds returns locally-known indicators loaded into the cache at
// startup.
func DefaultSeeds() []Indicator {
	return []Indicator{
		{Subject: "198.51.100.10", Kind: KindIP, Category: "botnet", Confidence: 0.95, Source: "local_db"},
		{Subject: "203.0.113.45", Kind: KindIP, Category: "scanner", Confidence: 0.8, Source: "local_db"},
		{Subject: "192.0.2.100", Kind: KindIP, Category: "malware", Confidence: 0.9, Source: "local_db"},
		{Subject: "198.51.100.25", Kind: KindIP, Category: "phishing", Confidence: 0.85, Source: "local_db"},
		{Subject: "203.0.113.75", Kind: KindIP, Category: "spam", Confidence: 0.7, Source: "local_db"},
		{Subject: "malicious-site.example", Kind: KindDomain, Category: "malware", Confidence: 0.95, Source: "local_db"},
		{Subject: "phishing-bank.example", Kind: KindDomain, Category: "phishing", Confidence: 0.9, Source: "local_db"},
		{Subject: "spam-sender.example", Kind: KindDomain, Category: "spam", Confidence: 0.75, Source: "local_db"},
		{Subject: "a1b2c3d4e5f6789012345678901234567890abcd", Kind: KindHash, Category: "malware", Confidence: 0.98, Source: "local_db"},
		{Subject: "fedcba09876543210987654321098765432109fe", Kind: KindHash, Category: "trojan", Confidence: 0.92, Source: "local_db"},
	}
}

// Stats summarizes cache and feed state.
type Stats struct {
	Indicators int            `json:"indicators"`
	ByKind     map[string]int `json:"by_kind"`
	Feeds      int            `json:"feeds"`
	FeedsOn    int            `json:"feeds_enabled"`
}

// TopThreat is one entry of the highest-confidence indicator report.
type TopThreat struct {
	Kind       IndicatorKind `json:"kind"`
	Subject    string        `json:"subject"`
	Category   string        `json:"category"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source"`
}
