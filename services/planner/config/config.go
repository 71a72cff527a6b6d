// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the planner service configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HTN_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the complete planner service configuration.
type Config struct {
	Planner       PlannerConfig       `json:"planner" yaml:"planner"`
	Grounding     GroundingConfig     `json:"grounding" yaml:"grounding"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// PlannerConfig bounds a single planning session.
type PlannerConfig struct {
	// MaxDepth is the decomposition recursion ceiling.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"min=1,max=10000"`

	// FailureBudget is the maximum nesting of failure branches (kMax).
	FailureBudget int `json:"failure_budget" yaml:"failure_budget" validate:"min=0,max=16"`

	// MaxNodes caps the plan graph arena.
	MaxNodes int `json:"max_nodes" yaml:"max_nodes" validate:"min=1"`

	// Timeout bounds one planning call. Zero means no deadline.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"min=0"`
}

// GroundingConfig controls the grounding search.
type GroundingConfig struct {
	// CountRole is the role whose parameters are counted for bucketing.
	CountRole string `json:"count_role" yaml:"count_role" validate:"required"`

	// Parallelism is the number of candidates evaluated concurrently.
	Parallelism int `json:"parallelism" yaml:"parallelism" validate:"min=1,max=64"`
}

// CacheConfig controls the plan cache.
type CacheConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	InMemory bool          `json:"in_memory" yaml:"in_memory"`
	Dir      string        `json:"dir" yaml:"dir"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" validate:"min=0"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"min=0"`
	Burst     int     `json:"burst" yaml:"burst" validate:"min=1"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// ObservabilityConfig controls logging, tracing and metrics.
type ObservabilityConfig struct {
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	LogLevel       string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `json:"log_format" yaml:"log_format" validate:"oneof=auto text json"`
	LogDir         string `json:"log_dir" yaml:"log_dir"`

	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Planner: PlannerConfig{
			MaxDepth:      200,
			FailureBudget: 2,
			MaxNodes:      100_000,
			Timeout:       10 * time.Second,
		},
		Grounding: GroundingConfig{
			CountRole:   "mob",
			Parallelism: 1,
		},
		Cache: CacheConfig{
			Enabled:  false,
			InMemory: true,
			TTL:      10 * time.Minute,
		},
		Server: ServerConfig{
			Addr:         ":8090",
			RateLimit:    50,
			Burst:        100,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			TracingEnabled: false,
			MetricsEnabled: true,
			LogLevel:       "info",
			LogFormat:      "auto",
			Telemetry:      telemetry.DefaultConfig(),
		},
	}
}

// Load builds the configuration with priority env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file. Empty or missing means defaults only.
//
// Outputs:
//   - Config: The loaded configuration (defaults filled in even on error).
//   - error: Non-nil if the file is unreadable or the result is invalid.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadEnv(cfg *Config) {
	envInt("MAX_DEPTH", &cfg.Planner.MaxDepth)
	envInt("FAILURE_BUDGET", &cfg.Planner.FailureBudget)
	envInt("MAX_NODES", &cfg.Planner.MaxNodes)
	envDuration("PLAN_TIMEOUT", &cfg.Planner.Timeout)

	envString("COUNT_ROLE", &cfg.Grounding.CountRole)
	envInt("PARALLELISM", &cfg.Grounding.Parallelism)

	envBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	envBool("CACHE_IN_MEMORY", &cfg.Cache.InMemory)
	envString("CACHE_DIR", &cfg.Cache.Dir)
	envDuration("CACHE_TTL", &cfg.Cache.TTL)

	envString("ADDR", &cfg.Server.Addr)
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = f
		}
	}
	envInt("BURST", &cfg.Server.Burst)

	envBool("TRACING_ENABLED", &cfg.Observability.TracingEnabled)
	envBool("METRICS_ENABLED", &cfg.Observability.MetricsEnabled)
	envString("LOG_LEVEL", &cfg.Observability.LogLevel)
	envString("LOG_FORMAT", &cfg.Observability.LogFormat)
	envString("LOG_DIR", &cfg.Observability.LogDir)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks struct tags and cross-field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Cache.Enabled && !c.Cache.InMemory && c.Cache.Dir == "" {
		return fmt.Errorf("%w: cache.dir is required for an on-disk cache", ErrInvalidConfig)
	}
	return nil
}
