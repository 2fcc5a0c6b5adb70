// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package threatintel

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/metrics"
	"github.com/tomtom215/sentria/internal/models"
)

var (
	domainPattern = regexp.MustCompile(`([a-z0-9-]+\.)+[a-z]{2,}`)

	// MD5, SHA-1, SHA-256 hex digests.
	hashPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b[a-f0-9]{32}\b`),
		regexp.MustCompile(`(?i)\b[a-f0-9]{40}\b`),
		regexp.MustCompile(`(?i)\b[a-f0-9]{64}\b`),
	}
)

// Service answers reputation lookups and enriches events. The cache is the
// only state shared with other engines; it supports concurrent readers with
// per-subject writes on refresh.
type Service struct {
	cfg      Config
	store    *Store
	provider FeedProvider
	breaker  *gobreaker.CircuitBreaker[*Indicator]
	limiter  *rate.Limiter

	feedMu      sync.Mutex
	lastRefresh map[string]time.Time

	clock func() time.Time
}

// New creates the threat intelligence service, opens its cache, and loads
// the configured seed indicators.
func New(cfg Config, provider FeedProvider) (*Service, error) {
	def := DefaultConfig()
	if cfg.Categories == nil {
		cfg.Categories = def.Categories
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.FeedQueriesPerSecond <= 0 {
		cfg.FeedQueriesPerSecond = def.FeedQueriesPerSecond
	}
	if cfg.FeedQueryBurst <= 0 {
		cfg.FeedQueryBurst = def.FeedQueryBurst
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}

	store, err := NewStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker[*Indicator](gobreaker.Settings{
		Name:    "threat-feed",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})

	s := &Service{
		cfg:         cfg,
		store:       store,
		provider:    provider,
		breaker:     breaker,
		limiter:     rate.NewLimiter(rate.Limit(cfg.FeedQueriesPerSecond), cfg.FeedQueryBurst),
		lastRefresh: make(map[string]time.Time),
		clock:       time.Now,
	}

	for _, seed := range cfg.Seeds {
		ind := seed
		if err := store.Put(&ind); err != nil {
			store.Close()
			return nil, fmt.Errorf("seeding indicator %s: %w", seed.Subject, err)
		}
	}
	if len(cfg.Seeds) > 0 {
		logging.Info().
			Str("component", "threatintel").
			Int("seeds", len(cfg.Seeds)).
			Msg("Loaded local threat indicators")
	}

	return s, nil
}

// Close releases the cache.
func (s *Service) Close() error {
	return s.store.Close()
}

// Lookup resolves a subject's reputation. Cache hits are served directly;
// misses query the feed collaborator under the rate limiter, circuit
// breaker, and lookup timeout. Feed failures degrade to a nil result.
func (s *Service) Lookup(ctx context.Context, kind IndicatorKind, subject string) (*Indicator, error) {
	cached, err := s.store.Get(kind, subject)
	if err != nil {
		metrics.ThreatLookups.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	if cached != nil {
		metrics.ThreatLookups.WithLabelValues(string(kind), "cached").Inc()
		return cached, nil
	}

	if !s.limiter.Allow() {
		metrics.ThreatLookups.WithLabelValues(string(kind), "throttled").Inc()
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()

	ind, err := s.breaker.Execute(func() (*Indicator, error) {
		return s.provider.Query(queryCtx, kind, subject)
	})
	if err != nil {
		metrics.ThreatLookups.WithLabelValues(string(kind), "feed_error").Inc()
		metrics.ThreatFeedErrors.WithLabelValues("query").Inc()
		logging.Warn().
			Err(err).
			Str("component", "threatintel").
			Str("kind", string(kind)).
			Msg("Feed query failed, serving cache-only")
		return nil, nil
	}
	if ind == nil {
		metrics.ThreatLookups.WithLabelValues(string(kind), "miss").Inc()
		return nil, nil
	}

	if err := s.store.Put(ind); err != nil {
		logging.Error().
			Err(err).
			Str("component", "threatintel").
			Str("subject", ind.Subject).
			Msg("Failed to cache indicator")
	}
	metrics.ThreatLookups.WithLabelValues(string(kind), "hit").Inc()
	return ind, nil
}

// Enrich scans an event for reputation subjects (source address, embedded
// domains, hex digests), accumulates a risk score from the hits, and
// escalates the event severity accordingly. Severity is never lowered.
func (s *Service) Enrich(ctx context.Context, event *models.SecurityEvent) (*Enrichment, error) {
	enr := &Enrichment{
		OriginalSeverity: event.Severity,
		FinalSeverity:    event.Severity,
	}

	serialized, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("serializing event for subject scan: %w", err)
	}

	if event.Source != "" {
		ind, err := s.Lookup(ctx, KindIP, event.Source)
		if err != nil {
			return nil, err
		}
		if ind != nil {
			hit := s.makeHit(ind)
			enr.Hits = append(enr.Hits, hit)
			enr.RiskScore += hit.RiskScore
			enr.Indicators = append(enr.Indicators, fmt.Sprintf("Malicious IP: %s (%s)", ind.Subject, ind.Category))
			enr.Recommendations = append(enr.Recommendations, fmt.Sprintf("Block IP %s - Known %s", ind.Subject, ind.Category))
		}
	}

	for _, domain := range extractDomains(serialized) {
		ind, err := s.Lookup(ctx, KindDomain, domain)
		if err != nil {
			return nil, err
		}
		if ind != nil {
			hit := s.makeHit(ind)
			enr.Hits = append(enr.Hits, hit)
			enr.RiskScore += hit.RiskScore * 0.8 // domains weigh less than the source address
			enr.Indicators = append(enr.Indicators, fmt.Sprintf("Malicious domain: %s (%s)", ind.Subject, ind.Category))
			enr.Recommendations = append(enr.Recommendations, fmt.Sprintf("Block domain %s - Known %s", ind.Subject, ind.Category))
		}
	}

	for _, hash := range extractHashes(serialized) {
		ind, err := s.Lookup(ctx, KindHash, hash)
		if err != nil {
			return nil, err
		}
		if ind != nil {
			hit := s.makeHit(ind)
			enr.Hits = append(enr.Hits, hit)
			enr.RiskScore += hit.RiskScore
			enr.Indicators = append(enr.Indicators, fmt.Sprintf("Malicious file: %s (%s)", ind.Subject, ind.Category))
			enr.Recommendations = append(enr.Recommendations, fmt.Sprintf("Quarantine file with hash %s - Known %s", ind.Subject, ind.Category))
		}
	}

	enr.FinalSeverity = finalSeverity(enr.RiskScore, event.Severity)
	if enr.Escalated() {
		metrics.EnrichmentEscalations.Inc()
	}
	enr.AttackPatterns, enr.MitreTactics = threatContext(enr.Hits)

	return enr, nil
}

func (s *Service) makeHit(ind *Indicator) Hit {
	cat, ok := s.cfg.Categories[ind.Category]
	if !ok {
		cat = defaultCategory
	}
	return Hit{
		Subject:    ind.Subject,
		Kind:       ind.Kind,
		Category:   ind.Category,
		Confidence: ind.Confidence,
		Weight:     cat.Weight,
		RiskScore:  ind.Confidence * cat.Weight,
		Severity:   cat.Severity,
		Source:     ind.Source,
	}
}

// finalSeverity raises the original severity to the level implied by the
// cumulative risk score, never lowering it.
func finalSeverity(riskScore float64, original models.Severity) models.Severity {
	level := original.Ordinal()
	if level == 0 {
		level = 1
	}

	switch {
	case riskScore >= 0.9:
		if level < 4 {
			level = 4
		}
	case riskScore >= 0.7:
		if level < 3 {
			level = 3
		}
	case riskScore >= 0.5:
		if level < 2 {
			level = 2
		}
	}
	return models.SeverityFromOrdinal(level)
}

// extractDomains pulls candidate domains from the serialized event,
// skipping loopback references and trivially short matches.
func extractDomains(serialized []byte) []string {
	text := strings.ToLower(string(serialized))

	seen := make(map[string]struct{})
	var domains []string
	for _, match := range domainPattern.FindAllString(text, -1) {
		if len(match) <= 4 || strings.Contains(match, "localhost") || strings.Contains(match, "127.0.0.1") {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		domains = append(domains, match)
	}
	return domains
}

// extractHashes pulls MD5/SHA-1/SHA-256 hex digests from the serialized
// event, normalized to lowercase.
func extractHashes(serialized []byte) []string {
	text := string(serialized)

	seen := make(map[string]struct{})
	var hashes []string
	for _, re := range hashPatterns {
		for _, match := range re.FindAllString(text, -1) {
			match = strings.ToLower(match)
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			hashes = append(hashes, match)
		}
	}
	return hashes
}

// threatContext maps hit categories to attack patterns and MITRE tactics.
func threatContext(hits []Hit) (patterns, tactics []string) {
	categories := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		categories[hit.Category] = struct{}{}
	}

	if _, ok := categories["botnet"]; ok {
		patterns = append(patterns, "Botnet Activity")
		tactics = append(tactics, "Command and Control")
	}
	if _, ok := categories["scanner"]; ok {
		patterns = append(patterns, "Network Reconnaissance")
		tactics = append(tactics, "Discovery")
	}
	if _, ok := categories["phishing"]; ok {
		patterns = append(patterns, "Phishing Campaign")
		tactics = append(tactics, "Initial Access")
	}
	if _, ok := categories["malware"]; ok {
		patterns = append(patterns, "Malware Distribution")
		tactics = append(tactics, "Execution", "Persistence")
	}
	return patterns, tactics
}

// RefreshFeeds updates every enabled feed whose per-feed interval has
// elapsed. Failures are counted and logged; other feeds still refresh.
func (s *Service) RefreshFeeds(ctx context.Context) {
	now := s.clock()

	for _, feed := range s.cfg.Feeds {
		if !feed.Enabled {
			continue
		}

		s.feedMu.Lock()
		last, known := s.lastRefresh[feed.ID]
		s.feedMu.Unlock()
		if known && now.Sub(last) < feed.UpdateInterval {
			continue
		}

		refreshCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
		err := s.provider.Refresh(refreshCtx, feed)
		cancel()
		if err != nil {
			metrics.ThreatFeedErrors.WithLabelValues(feed.ID).Inc()
			logging.Error().
				Err(err).
				Str("component", "threatintel").
				Str("feed", feed.ID).
				Msg("Feed refresh failed")
			continue
		}

		s.feedMu.Lock()
		s.lastRefresh[feed.ID] = now
		s.feedMu.Unlock()
		logging.Debug().
			Str("component", "threatintel").
			Str("feed", feed.ID).
			Msg("Feed refreshed")
	}
}

// RunWithContext runs the periodic feed refresh loop until the context is
// cancelled.
func (s *Service) RunWithContext(ctx context.Context) error {
	s.RefreshFeeds(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RefreshFeeds(ctx)
		}
	}
}

// String identifies the service in supervisor logs.
func (s *Service) String() string {
	return "threatintel-service"
}

// Stats summarizes the cache and feed configuration.
func (s *Service) Stats() (Stats, error) {
	stats := Stats{
		ByKind: map[string]int{"ip": 0, "domain": 0, "hash": 0},
		Feeds:  len(s.cfg.Feeds),
	}
	for _, feed := range s.cfg.Feeds {
		if feed.Enabled {
			stats.FeedsOn++
		}
	}

	err := s.store.ForEach(func(ind *Indicator) {
		stats.Indicators++
		stats.ByKind[string(ind.Kind)]++
	})
	return stats, err
}

// TopThreats returns up to limit cached indicators, highest confidence
// first.
func (s *Service) TopThreats(limit int) ([]TopThreat, error) {
	var all []TopThreat
	err := s.store.ForEach(func(ind *Indicator) {
		all = append(all, TopThreat{
			Kind:       ind.Kind,
			Subject:    ind.Subject,
			Category:   ind.Category,
			Confidence: ind.Confidence,
			Source:     ind.Source,
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].Subject < all[j].Subject
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
