// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package threatintel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/sentria/internal/models"
)

type countingProvider struct {
	mu        sync.Mutex
	table     map[string]Indicator
	queryErr  error
	queries   int
	refreshes int
}

func (p *countingProvider) Query(_ context.Context, kind IndicatorKind, subject string) (*Indicator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if ind, ok := p.table[string(kind)+":"+subject]; ok {
		return &ind, nil
	}
	return nil, nil
}

func (p *countingProvider) Refresh(context.Context, Feed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return nil
}

func (p *countingProvider) queryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

func (p *countingProvider) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func newTestService(t *testing.T, cfg Config, provider FeedProvider) *Service {
	t.Helper()
	cfg.Store.InMemory = true
	s, err := New(cfg, provider)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLookupServedFromSeededCache(t *testing.T) {
	provider := &countingProvider{}
	s := newTestService(t, DefaultConfig(), provider)

	ind, err := s.Lookup(context.Background(), KindIP, "198.51.100.10")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ind == nil {
		t.Fatal("seeded indicator not found")
	}
	if ind.Category != "botnet" || ind.Confidence != 0.95 {
		t.Errorf("indicator = %+v", ind)
	}
	if provider.queryCount() != 0 {
		t.Errorf("feed queried %d times for a cached subject, want 0", provider.queryCount())
	}
}

func TestLookupMissQueriesFeedThenCaches(t *testing.T) {
	provider := &countingProvider{table: map[string]Indicator{
		"ip:10.0.0.1": {Subject: "10.0.0.1", Kind: KindIP, Category: "tor", Confidence: 0.6, Source: "tor_project"},
	}}
	s := newTestService(t, DefaultConfig(), provider)

	ind, err := s.Lookup(context.Background(), KindIP, "10.0.0.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ind == nil || ind.Category != "tor" {
		t.Fatalf("indicator = %+v", ind)
	}
	if provider.queryCount() != 1 {
		t.Fatalf("feed queried %d times, want 1", provider.queryCount())
	}
	if ind.ExpiresAt.IsZero() {
		t.Error("cached indicator missing expiry")
	}

	// Second lookup inside the TTL is served from cache without a feed call.
	if _, err := s.Lookup(context.Background(), KindIP, "10.0.0.1"); err != nil {
		t.Fatalf("second Lookup: %v", err)
	}
	if provider.queryCount() != 1 {
		t.Errorf("feed queried %d times after cache fill, want still 1", provider.queryCount())
	}
}

func TestLookupRequeriesFeedAfterExpiry(t *testing.T) {
	provider := &countingProvider{table: map[string]Indicator{
		"ip:10.0.0.9": {Subject: "10.0.0.9", Kind: KindIP, Category: "scanner", Confidence: 0.7, Source: "shodan_monitor"},
	}}
	cfg := DefaultConfig()
	cfg.Store.TTL = 50 * time.Millisecond
	s := newTestService(t, cfg, provider)

	first, err := s.Lookup(context.Background(), KindIP, "10.0.0.9")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if first == nil {
		t.Fatal("indicator not resolved on first lookup")
	}
	if provider.queryCount() != 1 {
		t.Fatalf("feed queried %d times, want 1", provider.queryCount())
	}

	// Past the cache TTL the stored indicator no longer counts as live and
	// the lookup goes back to the feed.
	time.Sleep(120 * time.Millisecond)

	second, err := s.Lookup(context.Background(), KindIP, "10.0.0.9")
	if err != nil {
		t.Fatalf("Lookup after expiry: %v", err)
	}
	if second == nil {
		t.Fatal("expired indicator not re-resolved from feed")
	}
	if provider.queryCount() != 2 {
		t.Errorf("feed queried %d times, want 2 after expiry", provider.queryCount())
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Errorf("re-cached expiry %v not past original %v", second.ExpiresAt, first.ExpiresAt)
	}
}

func TestLookupUnknownSubjectReturnsNil(t *testing.T) {
	s := newTestService(t, DefaultConfig(), &countingProvider{})

	ind, err := s.Lookup(context.Background(), KindIP, "192.0.2.222")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ind != nil {
		t.Errorf("unknown subject resolved to %+v", ind)
	}
}

func TestLookupFeedErrorDegradesToNil(t *testing.T) {
	provider := &countingProvider{queryErr: errors.New("feed unreachable")}
	s := newTestService(t, DefaultConfig(), provider)

	ind, err := s.Lookup(context.Background(), KindIP, "192.0.2.222")
	if err != nil {
		t.Fatalf("Lookup surfaced feed error: %v", err)
	}
	if ind != nil {
		t.Errorf("failed lookup resolved to %+v", ind)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	provider := &countingProvider{queryErr: errors.New("feed unreachable")}
	cfg := DefaultConfig()
	cfg.BreakerFailureThreshold = 3
	s := newTestService(t, cfg, provider)

	subjects := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3", "192.0.2.4", "192.0.2.5"}
	for _, subject := range subjects {
		if _, err := s.Lookup(context.Background(), KindIP, subject); err != nil {
			t.Fatalf("Lookup %s: %v", subject, err)
		}
	}

	// After three consecutive failures the breaker short-circuits and the
	// provider stops being called.
	if provider.queryCount() != 3 {
		t.Errorf("feed queried %d times, want 3 before breaker opened", provider.queryCount())
	}
}

func TestEnrichEscalatesSeverity(t *testing.T) {
	s := newTestService(t, DefaultConfig(), &countingProvider{})

	// Cached botnet hit: 0.95 confidence x 0.9 category weight = 0.855.
	enr, err := s.Enrich(context.Background(), &models.SecurityEvent{
		Type:     "ACCESS",
		Severity: models.SeverityLow,
		Source:   "198.51.100.10",
		Message:  "request served",
	})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if enr.RiskScore < 0.85 || enr.RiskScore > 0.86 {
		t.Errorf("RiskScore = %.3f, want 0.855", enr.RiskScore)
	}
	if enr.FinalSeverity != models.SeverityHigh {
		t.Errorf("FinalSeverity = %q, want high (0.855 >= 0.7)", enr.FinalSeverity)
	}
	if !enr.Escalated() {
		t.Error("Escalated() = false")
	}
	if len(enr.Hits) != 1 || enr.Hits[0].Category != "botnet" {
		t.Errorf("Hits = %+v", enr.Hits)
	}
	if len(enr.Indicators) != 1 || len(enr.Recommendations) != 1 {
		t.Errorf("indicators/recommendations = %v / %v", enr.Indicators, enr.Recommendations)
	}
	if len(enr.AttackPatterns) == 0 || enr.AttackPatterns[0] != "Botnet Activity" {
		t.Errorf("AttackPatterns = %v", enr.AttackPatterns)
	}
}

func TestEnrichFindsEmbeddedDomainsAndHashes(t *testing.T) {
	s := newTestService(t, DefaultConfig(), &countingProvider{})

	enr, err := s.Enrich(context.Background(), &models.SecurityEvent{
		Type:     "FILE_UPLOAD",
		Severity: models.SeverityLow,
		Source:   "203.0.113.200",
		Message:  "upload fetched from malicious-site.example",
		Details: map[string]interface{}{
			"sha1": "A1B2C3D4E5F6789012345678901234567890ABCD",
		},
	})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	// Domain hit 0.95 x 1.0 weighted x0.8 = 0.76; hash hit 0.98 x 1.0.
	if len(enr.Hits) != 2 {
		t.Fatalf("got %d hits, want 2 (domain + hash): %+v", len(enr.Hits), enr.Hits)
	}
	if enr.RiskScore < 1.7 {
		t.Errorf("RiskScore = %.3f, want >= 1.7", enr.RiskScore)
	}
	if enr.FinalSeverity != models.SeverityCritical {
		t.Errorf("FinalSeverity = %q, want critical", enr.FinalSeverity)
	}
}

func TestEnrichNeverLowersSeverity(t *testing.T) {
	s := newTestService(t, DefaultConfig(), &countingProvider{})

	enr, err := s.Enrich(context.Background(), &models.SecurityEvent{
		Type:     "AUDIT",
		Severity: models.SeverityCritical,
		Source:   "203.0.113.200", // no reputation
		Message:  "manual review",
	})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if enr.FinalSeverity != models.SeverityCritical {
		t.Errorf("FinalSeverity = %q, want critical preserved", enr.FinalSeverity)
	}
	if enr.Escalated() {
		t.Error("Escalated() = true without hits")
	}
}

func TestExtractDomains(t *testing.T) {
	text := []byte(`{"message":"seen evil.example and EVIL.EXAMPLE plus localhost.local and a.io","host":"evil.example"}`)
	domains := extractDomains(text)

	want := map[string]bool{"evil.example": false, "localhost.local": true, "a.io": true}
	for _, d := range domains {
		if _, ok := want[d]; !ok {
			continue
		}
		if want[d] {
			t.Errorf("excluded domain %q extracted", d)
		}
		want[d] = true
	}
	if !want["evil.example"] {
		t.Errorf("evil.example not extracted from %v", domains)
	}

	count := 0
	for _, d := range domains {
		if d == "evil.example" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("evil.example extracted %d times, want deduplicated to 1", count)
	}
}

func TestExtractHashes(t *testing.T) {
	text := []byte(`{"md5":"d41d8cd98f00b204e9800998ecf8427e","sha1":"A1B2C3D4E5F6789012345678901234567890ABCD"}`)
	hashes := extractHashes(text)

	found := make(map[string]bool)
	for _, h := range hashes {
		found[h] = true
	}
	if !found["d41d8cd98f00b204e9800998ecf8427e"] {
		t.Errorf("MD5 digest not extracted: %v", hashes)
	}
	if !found["a1b2c3d4e5f6789012345678901234567890abcd"] {
		t.Errorf("SHA-1 digest not extracted lowercase: %v", hashes)
	}
}

func TestStatsAndTopThreats(t *testing.T) {
	s := newTestService(t, DefaultConfig(), &countingProvider{})

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Indicators != 10 {
		t.Errorf("Indicators = %d, want 10 seeds", stats.Indicators)
	}
	if stats.ByKind["ip"] != 5 || stats.ByKind["domain"] != 3 || stats.ByKind["hash"] != 2 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
	if stats.Feeds != 4 || stats.FeedsOn != 4 {
		t.Errorf("Feeds = %d enabled %d", stats.Feeds, stats.FeedsOn)
	}

	top, err := s.TopThreats(3)
	if err != nil {
		t.Fatalf("TopThreats: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("TopThreats returned %d, want 3", len(top))
	}
	if top[0].Confidence != 0.98 {
		t.Errorf("top threat confidence = %.2f, want 0.98", top[0].Confidence)
	}
}

func TestRefreshFeedsHonorsPerFeedIntervals(t *testing.T) {
	provider := &countingProvider{}
	s := newTestService(t, DefaultConfig(), provider)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cur := &now
	s.clock = func() time.Time { return *cur }

	s.RefreshFeeds(context.Background())
	if provider.refreshCount() != 4 {
		t.Fatalf("initial refresh hit %d feeds, want 4", provider.refreshCount())
	}

	// Nothing is due yet.
	s.RefreshFeeds(context.Background())
	if provider.refreshCount() != 4 {
		t.Errorf("refresh count = %d after immediate re-run, want 4", provider.refreshCount())
	}

	// Seven hours later only the 6h feed is due.
	*cur = cur.Add(7 * time.Hour)
	s.RefreshFeeds(context.Background())
	if provider.refreshCount() != 5 {
		t.Errorf("refresh count = %d after 7h, want 5", provider.refreshCount())
	}
}
