// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

// Package config loads the layered application configuration: struct
// defaults, then an optional YAML file, then environment variables.
// Correlation rules, playbooks, automation rules, UEBA weights and
// thresholds, threat categories, and feed seeds are all data here, not
// code.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/sentria/internal/behavior"
	"github.com/tomtom215/sentria/internal/correlation"
	"github.com/tomtom215/sentria/internal/logging"
	"github.com/tomtom215/sentria/internal/notify"
	"github.com/tomtom215/sentria/internal/pipeline"
	"github.com/tomtom215/sentria/internal/response"
	"github.com/tomtom215/sentria/internal/threatintel"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig         `koanf:"server"`
	Logging     logging.Config       `koanf:"logging"`
	Pipeline    pipeline.Config      `koanf:"pipeline"`
	Correlation correlation.Config   `koanf:"correlation"`
	Behavior    behavior.Config      `koanf:"behavior"`
	FormAbuse   behavior.FormConfig  `koanf:"form_abuse"`
	Response    response.Config      `koanf:"response"`
	ThreatIntel threatintel.Config   `koanf:"threat_intel"`
	Webhook     notify.WebhookConfig `koanf:"webhook"`
}

// defaultConfig returns the full default configuration. Every engine
// supplies its own defaults; the loader layers file and environment values
// on top.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Logging:     logging.DefaultConfig(),
		Pipeline:    pipeline.DefaultConfig(),
		Correlation: correlation.DefaultConfig(),
		Behavior:    behavior.DefaultConfig(),
		FormAbuse:   behavior.DefaultFormConfig(),
		Response:    response.DefaultConfig(),
		ThreatIntel: threatintel.DefaultConfig(),
		Webhook:     notify.DefaultWebhookConfig(),
	}
}

// Validate checks the loaded configuration. Engine constructors perform
// their own deeper validation; this catches structurally bad values before
// anything is built.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}

	for _, rule := range c.Correlation.Rules {
		for _, step := range rule.Pattern {
			if !correlation.KnownStep(step) {
				return fmt.Errorf("correlation rule %s: unknown step kind %q", rule.ID, step)
			}
		}
	}
	for _, rule := range c.Pipeline.AlertRules {
		if !pipeline.KnownMatch(rule.Match) {
			return fmt.Errorf("alert rule %s: unknown match kind %q", rule.ID, rule.Match)
		}
	}
	return nil
}
