// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package htn implements the contingency HTN decomposition engine.
package htn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

const tracerName = "planner.htn"

// Config bounds a planning session.
type Config struct {
	// MaxDepth limits decomposition recursion.
	MaxDepth int

	// FailureBudget limits the nesting of contingency runs (kMax).
	FailureBudget int

	// MaxNodes limits the plan graph arena.
	MaxNodes int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxDepth:      200,
		FailureBudget: 2,
		MaxNodes:      100_000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: max depth must be >= 1", ErrInvalidConfig)
	}
	if c.FailureBudget < 0 {
		return fmt.Errorf("%w: failure budget must be >= 0", ErrInvalidConfig)
	}
	if c.MaxNodes < 1 {
		return fmt.Errorf("%w: max nodes must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger.With(slog.String("component", "htn"))
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(p *Planner) {
		if t != nil {
			p.tracer = t
		}
	}
}

// Planner produces contingency policy graphs from a sealed registry.
//
// Description:
//
//	Each Plan call creates its own Session (graph arena, memo table,
//	recursion counter), so one Planner serves concurrent callers as long as
//	the registry is no longer mutated.
//
// Thread Safety: Safe for concurrent use.
type Planner struct {
	registry *domain.Registry
	config   Config
	logger   *slog.Logger
	tracer   *telemetry.Tracer
}

// New creates a Planner.
//
// Outputs:
//   - *Planner: The planner.
//   - error: ErrInvalidConfig for unusable bounds.
func New(registry *domain.Registry, config Config, opts ...Option) (*Planner, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{
		registry: registry,
		config:   config,
		logger:   slog.Default().With(slog.String("component", "htn")),
		tracer:   telemetry.NewTracer(tracerName, true),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Registry returns the planner's registry.
func (p *Planner) Registry() *domain.Registry {
	return p.registry
}

// Config returns the planner's bounds.
func (p *Planner) Config() Config {
	return p.config
}

// Name returns the component name.
func (p *Planner) Name() string {
	return "htn"
}

// HealthCheck reports whether the planner can plan at all.
func (p *Planner) HealthCheck(_ context.Context) error {
	if err := p.config.Validate(); err != nil {
		return &PlanError{Operation: "HealthCheck", Err: err}
	}
	if err := p.registry.Validate(); err != nil {
		return &PlanError{Operation: "HealthCheck", Err: err}
	}
	return nil
}

// Plan decomposes the goal tasks from st into a contingency policy graph.
//
// Description:
//
//	Runs the decomposition search, links repeated states, plans
//	contingency runs from operator failure states, materializes branch
//	nodes, propagates expectations and sequences the nominal path.
//
// Inputs:
//   - ctx: Cancellation is checked at every decomposition step.
//   - st: The initial state. Not mutated.
//   - tasks: The goal tasks, decomposed left to right.
//
// Outputs:
//   - *Result: Found=false when no decomposition exists. Found=true with
//     no actions when the goal already holds.
//   - error: *PlanError for fatal conditions (configuration, ambiguous
//     binding, depth or node budget exceeded, cancellation).
//
// Thread Safety: Safe for concurrent use.
func (p *Planner) Plan(ctx context.Context, st *facts.State, tasks ...domain.Task) (*Result, error) {
	start := time.Now()
	factCount := 0
	if st != nil {
		factCount = st.Len()
	}
	ctx, span := p.tracer.Start(ctx, "htn.Plan",
		attribute.Int("htn.tasks", len(tasks)),
		attribute.Int("htn.facts", factCount),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, p.logger)

	res, err := p.plan(ctx, st, tasks)
	if err != nil {
		telemetry.RecordError(span, err)
		recordMetrics("error", Stats{Duration: time.Since(start)})
		logger.Warn("planning failed", slog.String("error", err.Error()))
		return nil, err
	}

	res.Stats.Duration = time.Since(start)
	outcome := "not_found"
	if res.Found {
		outcome = "found"
	}
	recordMetrics(outcome, res.Stats)
	span.SetAttributes(
		attribute.Bool("htn.found", res.Found),
		attribute.Int("htn.actions", len(res.Actions)),
		attribute.Int("htn.nodes", res.Stats.Nodes),
	)
	telemetry.SetSpanOK(span)
	logger.Debug("planning finished",
		slog.String("plan_id", res.ID),
		slog.Bool("found", res.Found),
		slog.Int("actions", len(res.Actions)),
		slog.Int("nodes", res.Stats.Nodes),
		slog.Int("backtracks", res.Stats.Backtracks),
		slog.Int("repeat_links", res.Stats.RepeatLinks),
		slog.Duration("elapsed", res.Stats.Duration),
	)
	return res, nil
}

func (p *Planner) plan(ctx context.Context, st *facts.State, tasks []domain.Task) (*Result, error) {
	if st == nil {
		return nil, &PlanError{Operation: "Plan", Err: ErrNilState}
	}
	if len(tasks) == 0 {
		return nil, &PlanError{Operation: "Plan", Err: ErrNoTasks}
	}
	if err := p.registry.Validate(); err != nil {
		return nil, &PlanError{Operation: "Plan", Err: err}
	}
	for _, t := range tasks {
		if _, ok := p.registry.Lookup(t.Name); !ok {
			return nil, &PlanError{Operation: "Plan", Task: t.String(), Err: domain.ErrUnknownTask}
		}
	}

	s := newSession(ctx, p, tasks)
	root, final, ok, err := s.run(st, 0)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:    uuid.NewString(),
		Tasks: append([]domain.Task(nil), tasks...),
		Stats: s.stats,
	}
	if !ok {
		res.Stats.Nodes = 0
		return res, nil
	}

	g := s.graph
	g.Root = root
	policy.Materialize(g)
	if err := policy.Propagate(g); err != nil {
		return nil, &PlanError{Operation: "Propagate", Err: err}
	}
	actions, err := policy.Sequence(g)
	if err != nil {
		return nil, &PlanError{Operation: "Sequence", Err: err}
	}

	res.Found = true
	res.Actions = actions
	res.Graph = g
	res.FinalState = final
	res.Stats.Nodes = g.Len()
	return res, nil
}
