// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package main is the entry point for the Sentria server.
//
// Sentria ingests security events from a web application, correlates
// them into multi-step attack patterns, scores entity behavior against
// learned baselines, enriches events with threat intelligence, runs
// response playbooks, and broadcasts alerts to live WebSocket
// subscribers.
//
// Startup order:
//
//  1. Configuration: koanf layering of defaults, config.yaml, and
//     SENTRIA_* environment variables
//  2. Logging: zerolog, configured from the loaded settings
//  3. Engines: correlation, behavior analytics, threat intelligence,
//     response orchestration, all constructed explicitly
//  4. Pipeline: the Coordinator wiring the engines behind interfaces
//  5. Supervision: a suture tree running the hub, alert forwarder,
//     background sweeps, and the HTTP server
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// listener drains in-flight requests, engines stop their loops, and the
// threat intelligence cache closes cleanly.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/sentria/internal/behavior"
	"github.com/tomtom215/sentria/internal/config"
	"github.com/tomtom215/sentria/internal/correlation"
	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/notify"
	"github.com/tomtom215/sentria/internal/pipeline"
	"github.com/tomtom215/sentria/internal/response"
	"github.com/tomtom215/sentria/internal/server"
	"github.com/tomtom215/sentria/internal/supervisor"
	"github.com/tomtom215/sentria/internal/threatintel"
	ws "github.com/tomtom215/sentria/internal/websocket"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging)
	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Int("correlation_rules", len(cfg.Correlation.Rules)).
		Int("playbooks", len(cfg.Response.Playbooks)).
		Int("alert_rules", len(cfg.Pipeline.AlertRules)).
		Msg("Starting Sentria")

	// Broadcast path: coordinator -> alert bus -> forwarder -> hub.
	hub := ws.NewHub()
	bus := pipeline.NewAlertBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing alert bus")
		}
	}()
	forwarder := pipeline.NewForwarder(bus, hub)

	correlator, err := correlation.New(cfg.Correlation)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build correlation engine")
	}

	behaviorEngine := behavior.New(cfg.Behavior)
	formAnalyzer := behavior.NewFormAnalyzer(cfg.FormAbuse)

	webhook := notify.NewWebhook(cfg.Webhook)

	orchestrator, err := response.New(cfg.Response, response.Deps{
		Enforcer:  logEnforcer{},
		Notifier:  &webhookOperatorNotifier{webhook: webhook},
		Logger:    incidentJournal{},
		Forensics: logForensics{},
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build response orchestrator")
	}

	// The feed provider is pluggable; the static provider re-serves the
	// configured seed indicators after cache expiry.
	provider := threatintel.NewStaticFeedProvider(cfg.ThreatIntel.Seeds)
	intel, err := threatintel.New(cfg.ThreatIntel, provider)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open threat intelligence store")
	}
	defer func() {
		if err := intel.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing threat intelligence store")
		}
	}()

	coordinator, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Correlator: correlator,
		Behavior:   behaviorEngine,
		Responder:  orchestrator,
		Enricher:   intel,
		Events:     eventJournal{},
		Notifier:   webhook,
		Publisher:  bus,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build pipeline coordinator")
	}

	srv := server.New(server.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Timeout: cfg.Server.Timeout,
	}, server.Deps{
		Pipeline:  coordinator,
		Patterns:  correlator,
		Incidents: orchestrator,
		Behavior:  behaviorEngine,
		Threats:   intel,
		Forms:     formAnalyzer,
		Hub:       hub,
	})

	// The slog adapter lets sutureslog write through zerolog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddEngineService(supervisor.Wrap(correlator))
	tree.AddEngineService(supervisor.Wrap(intel))
	tree.AddEngineService(supervisor.NewSweepService("response-sweeper", sweepInterval, orchestrator.Sweep))
	tree.AddEngineService(supervisor.NewSweepService("alert-rule-sweeper", sweepInterval, coordinator.Sweep))

	tree.AddMessagingService(supervisor.Wrap(hub))
	tree.AddMessagingService(supervisor.Wrap(forwarder))

	tree.AddAPIService(supervisor.Wrap(srv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("Sentria stopped")
}
