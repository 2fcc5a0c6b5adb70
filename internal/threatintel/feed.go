// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package threatintel

import (
	"context"
	"sync"
)

// FeedProvider is the external threat-feed collaborator. Query returns nil
// for unknown subjects; Refresh pulls a feed's latest dataset.
type FeedProvider interface {
	Query(ctx context.Context, kind IndicatorKind, subject string) (*Indicator, error)
	Refresh(ctx context.Context, feed Feed) error
}

// StaticFeedProvider serves a fixed indicator table. It stands in for real
// feed integrations (AbuseIPDB, VirusTotal, the Tor bulk exit list) and
// backs tests.
type StaticFeedProvider struct {
	mu    sync.RWMutex
	table map[string]Indicator
}

// NewStaticFeedProvider creates a provider serving the given indicators.
func NewStaticFeedProvider(indicators []Indicator) *StaticFeedProvider {
	table := make(map[string]Indicator, len(indicators))
	for _, ind := range indicators {
		table[string(ind.Kind)+":"+ind.Subject] = ind
	}
	return &StaticFeedProvider{table: table}
}

// Query returns the indicator for a subject, or nil when unknown.
func (p *StaticFeedProvider) Query(ctx context.Context, kind IndicatorKind, subject string) (*Indicator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if ind, ok := p.table[string(kind)+":"+subject]; ok {
		return &ind, nil
	}
	return nil, nil
}

// Refresh is a no-op for the static table.
func (p *StaticFeedProvider) Refresh(ctx context.Context, feed Feed) error {
	return ctx.Err()
}

// Add inserts or replaces an indicator in the table.
func (p *StaticFeedProvider) Add(ind Indicator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table[string(ind.Kind)+":"+ind.Subject] = ind
}
