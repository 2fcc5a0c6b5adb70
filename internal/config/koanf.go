// Sentria - Real-Time Security Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentria

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentria/config.yaml",
	"/etc/sentria/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces Sentria's environment variables.
const envPrefix = "SENTRIA_"

// Load builds the configuration from layered sources:
//  1. Struct defaults
//  2. Optional YAML config file
//  3. SENTRIA_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, honoring the
// CONFIG_PATH override.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps SENTRIA_* variables to koanf paths. Common settings
// get short aliases; anything else uses a double underscore as the section
// separator so multi-word keys stay unambiguous:
//
//	SENTRIA_LOG_LEVEL                     -> logging.level
//	SENTRIA_SERVER__PORT                  -> server.port
//	SENTRIA_THREAT_INTEL__LOOKUP_TIMEOUT  -> threat_intel.lookup_timeout
//
// Unmapped single-word keys are dropped to keep stray environment variables
// out of the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	aliases := map[string]string{
		"host":            "server.host",
		"port":            "server.port",
		"log_level":       "logging.level",
		"log_format":      "logging.format",
		"log_caller":      "logging.caller",
		"webhook_url":     "webhook.url",
		"webhook_timeout": "webhook.timeout",
	}
	if mapped, ok := aliases[key]; ok {
		return mapped
	}

	if strings.Contains(key, "__") {
		return strings.ReplaceAll(key, "__", ".")
	}
	return ""
}
