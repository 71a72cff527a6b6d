// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/AleutianHTN/pkg/logging"
	"github.com/AleutianAI/AleutianHTN/services/planner/config"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domains/combat"
	"github.com/AleutianAI/AleutianHTN/services/planner/grounding"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

// app holds the loaded configuration and the process logger.
type app struct {
	cfg        config.Config
	configPath string
	logger     *logging.Logger
	log        *slog.Logger
}

// load reads the configuration and builds the logger.
func (a *app) load(opts *rootOptions, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Observability.LogLevel = opts.logLevel
	}
	a.cfg = cfg
	a.configPath = opts.configPath
	a.logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Observability.LogLevel),
		LogDir:  cfg.Observability.LogDir,
		Service: "htnplan",
		Format:  logging.Format(cfg.Observability.LogFormat),
		Output:  stderr,
	})
	a.log = a.logger.Slog()
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// engine is the wired planning stack.
type engine struct {
	registry *domain.Registry
	planner  *htn.Planner
	grounder *grounding.Grounder
}

// build wires the combat registry, planner and grounder from the config.
func (a *app) build() (*engine, error) {
	registry, err := combat.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("register %s domain: %w", combat.Name, err)
	}
	p, err := htn.New(registry, htn.Config{
		MaxDepth:      a.cfg.Planner.MaxDepth,
		FailureBudget: a.cfg.Planner.FailureBudget,
		MaxNodes:      a.cfg.Planner.MaxNodes,
	}, htn.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	g, err := grounding.New(p, combat.Vocabulary{}, grounding.Config{
		CountRole:   a.cfg.Grounding.CountRole,
		Parallelism: a.cfg.Grounding.Parallelism,
	}, grounding.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	return &engine{registry: registry, planner: p, grounder: g}, nil
}

// initTelemetry starts the exporters the config enables. Metric exporters
// only run for the server.
func (a *app) initTelemetry(ctx context.Context, serving bool) (func(context.Context) error, error) {
	tcfg := a.cfg.Observability.Telemetry
	if !a.cfg.Observability.TracingEnabled {
		tcfg.TraceExporter = "none"
	}
	if !serving || !a.cfg.Observability.MetricsEnabled {
		tcfg.MetricExporter = "none"
	}
	return telemetry.Init(ctx, tcfg)
}
