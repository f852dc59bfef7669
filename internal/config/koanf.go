// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/nfeproc/config.yaml",
	"/etc/nfeproc/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{
			WatchDir:     "./inbox",
			ProcessedDir: "./processed",
			ErrorDir:     "./errors",
			Recursive:    true,
			SettleDelay:  1 * time.Second,
			EventBuffer:  256,
		},
		Database: DatabaseConfig{
			Path:        "./nfeproc.db",
			BusyTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
			File: FileLogConfig{
				Enabled:    false,
				Path:       "./logs/nfeproc.log",
				MaxSizeMB:  10,
				MaxBackups: 7,
				MaxAgeDays: 7,
				Compress:   false,
			},
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config File: optional YAML file (if present)
//  3. Environment Variables: override any setting
//
// After unmarshaling, the configuration is validated and every filesystem
// path is resolved to absolute form.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: optional config file
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or "" if none exists.
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

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - WATCH_DIR -> processor.watch_dir
//   - DATABASE_PATH -> database.path
//   - LOG_LEVEL -> logging.level
//
// Unmapped variables return "" and are skipped, so unrelated environment
// variables cannot pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Processor mappings
		"watch_dir":      "processor.watch_dir",
		"processed_dir":  "processor.processed_dir",
		"error_dir":      "processor.error_dir",
		"recursive_scan": "processor.recursive",
		"settle_delay":   "processor.settle_delay",
		"event_buffer":   "processor.event_buffer",

		// Database mappings
		"database_path":         "database.path",
		"database_busy_timeout": "database.busy_timeout",

		// Logging mappings
		"log_level":            "logging.level",
		"log_format":           "logging.format",
		"log_caller":           "logging.caller",
		"log_file_enabled":     "logging.file.enabled",
		"log_file_path":        "logging.file.path",
		"log_file_max_size_mb": "logging.file.max_size_mb",
		"log_file_max_backups": "logging.file.max_backups",
		"log_file_max_age":     "logging.file.max_age_days",
		"log_file_compress":    "logging.file.compress",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
