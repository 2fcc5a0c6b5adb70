// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package supervisor

import (
	"context"
	"time"
)

// Runner is the long-running contract every Sentria component exposes:
// block until the context ends, identify yourself for the supervisor.
type Runner interface {
	RunWithContext(ctx context.Context) error
	String() string
}

// Service adapts a Runner to suture.Service.
type Service struct {
	runner Runner
}

// Wrap makes a Runner supervisable.
func Wrap(runner Runner) *Service {
	return &Service{runner: runner}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *Service) String() string {
	return s.runner.String()
}

// SweepService calls a maintenance function on a fixed interval. It
// backs components that expose a Sweep method instead of their own loop.
type SweepService struct {
	name     string
	interval time.Duration
	sweep    func()
}

// NewSweepService builds a periodic sweep runner. A non-positive
// interval falls back to one minute.
func NewSweepService(name string, interval time.Duration, sweep func()) *SweepService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepService{name: name, interval: interval, sweep: sweep}
}

// Serve implements suture.Service.
func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep()
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *SweepService) String() string {
	return s.name
}
