// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding binds goal templates to concrete entities of a fact list
// and plans the first binding that decomposes.
package grounding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

const tracerName = "planner.grounding"

// Package-level error definitions.
var (
	// ErrUnresolvedParam indicates a template parameter whose name matches
	// no type of the vocabulary.
	ErrUnresolvedParam = errors.New("template parameter matches no entity type")

	// ErrInvalidConfig indicates an unusable grounding configuration.
	ErrInvalidConfig = errors.New("invalid grounding config")
)

// Config controls the grounding search.
type Config struct {
	// CountRole is the role whose parameters are counted for bucketing.
	CountRole string

	// Parallelism is the number of candidates planned concurrently. One
	// plans them sequentially.
	Parallelism int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{CountRole: "mob", Parallelism: 1}
}

// Candidate is one grounded goal task.
type Candidate struct {
	Template string      `json:"template" yaml:"template"`
	Task     domain.Task `json:"task" yaml:"task"`
}

// Option configures a Grounder.
type Option func(*Grounder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Grounder) {
		if logger != nil {
			g.logger = logger.With(slog.String("component", "grounding"))
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(g *Grounder) {
		if t != nil {
			g.tracer = t
		}
	}
}

// Grounder selects and plans root goals from raw facts.
//
// Thread Safety: Safe for concurrent use. Every candidate gets its own
// planning session.
type Grounder struct {
	planner *htn.Planner
	vocab   domain.Vocabulary
	config  Config
	logger  *slog.Logger
	tracer  *telemetry.Tracer
}

// New creates a Grounder.
func New(p *htn.Planner, vocab domain.Vocabulary, config Config, opts ...Option) (*Grounder, error) {
	if p == nil || vocab == nil {
		return nil, fmt.Errorf("%w: planner and vocabulary are required", ErrInvalidConfig)
	}
	if config.CountRole == "" {
		return nil, fmt.Errorf("%w: count role is required", ErrInvalidConfig)
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	g := &Grounder{
		planner: p,
		vocab:   vocab,
		config:  config,
		logger:  slog.Default().With(slog.String("component", "grounding")),
		tracer:  telemetry.NewTracer(tracerName, true),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// FindGroundedPlan parses atoms, grounds the templates and plans the first
// candidate that decomposes.
//
// Description:
//
//	Templates whose count-role parameter count differs from the live
//	population are skipped. Survivors are tried by name length, longest
//	first, then by name. Each parameter's entities are those of the type
//	its name contains. Bindings that reuse an entity or fail the template's
//	precondition are dropped. The first candidate in trial order with a
//	plan wins, also in parallel mode.
//
// Inputs:
//   - ctx: Cancellation is checked between candidates and inside planning.
//   - atoms: The raw fact list.
//   - templates: Candidate root goals. Nil uses the registry's templates.
//
// Outputs:
//   - *htn.Result: The winning plan. Found=false when every candidate
//     failed; the Tasks field is then empty.
//   - error: *facts.ParseError before any search, registry configuration
//     errors, ErrUnresolvedParam, or a fatal *htn.PlanError.
func (g *Grounder) FindGroundedPlan(ctx context.Context, atoms []string, templates []domain.Template) (*htn.Result, error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "grounding.FindGroundedPlan",
		attribute.Int("grounding.atoms", len(atoms)),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, g.logger)

	res, tried, err := g.find(ctx, atoms, templates)
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.RecordError(span, err)
		searchesTotal.WithLabelValues("error").Inc()
		logger.Warn("grounding failed", slog.String("error", err.Error()))
		return nil, err
	}

	outcome := "not_found"
	if res.Found {
		outcome = "found"
	}
	searchesTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.Int("grounding.tried", tried),
		attribute.Bool("grounding.found", res.Found),
	)
	telemetry.SetSpanOK(span)
	logger.Debug("grounding finished",
		slog.Bool("found", res.Found),
		slog.Int("tried", tried),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (g *Grounder) find(ctx context.Context, atoms []string, templates []domain.Template) (*htn.Result, int, error) {
	st, err := facts.ParseAtoms(atoms)
	if err != nil {
		return nil, 0, err
	}
	registry := g.planner.Registry()
	if err := registry.Validate(); err != nil {
		return nil, 0, err
	}
	if templates == nil {
		templates = registry.Templates()
	}

	candidates, err := g.Candidates(st, templates)
	if err != nil {
		return nil, 0, err
	}
	candidatesTotal.Add(float64(len(candidates)))

	if g.config.Parallelism > 1 && len(candidates) > 1 {
		return g.planParallel(ctx, st, candidates)
	}
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, i, err
		}
		res, err := g.planner.Plan(ctx, st, c.Task)
		if err != nil {
			return nil, i + 1, err
		}
		if res.Found {
			return res, i + 1, nil
		}
	}
	return notFound(), len(candidates), nil
}

// planParallel plans up to Parallelism candidates at once and keeps the
// earliest outcome in trial order. A success or a fatal error at index i
// cancels every candidate after i; candidates before i keep planning
// because one of them may still decide the search.
func (g *Grounder) planParallel(ctx context.Context, st *facts.State, candidates []Candidate) (*htn.Result, int, error) {
	results := make([]*htn.Result, len(candidates))
	errs := make([]error, len(candidates))
	cancels := make([]context.CancelFunc, len(candidates))
	var mu sync.Mutex
	var best atomic.Int64
	best.Store(int64(len(candidates)))
	var tried atomic.Int64

	settle := func(i int) {
		for {
			cur := best.Load()
			if int64(i) >= cur || best.CompareAndSwap(cur, int64(i)) {
				break
			}
		}
		mu.Lock()
		for k := i + 1; k < len(cancels); k++ {
			if cancels[k] != nil {
				cancels[k]()
			}
		}
		mu.Unlock()
	}

	var eg errgroup.Group
	eg.SetLimit(g.config.Parallelism)
	for i, c := range candidates {
		eg.Go(func() error {
			if int64(i) > best.Load() {
				return nil
			}
			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			mu.Lock()
			cancels[i] = cancel
			mu.Unlock()
			// settle may have run before the cancel func was registered.
			if int64(i) > best.Load() {
				return nil
			}

			tried.Add(1)
			res, err := g.planner.Plan(runCtx, st, c.Task)
			if err != nil {
				if runCtx.Err() != nil && ctx.Err() == nil {
					// Superseded by an earlier outcome.
					return nil
				}
				errs[i] = err
				settle(i)
				return err
			}
			results[i] = res
			if res.Found {
				settle(i)
			}
			return nil
		})
	}
	_ = eg.Wait()

	for i := range candidates {
		if errs[i] != nil {
			return nil, int(tried.Load()), errs[i]
		}
		if results[i] != nil && results[i].Found {
			return results[i], int(tried.Load()), nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, int(tried.Load()), err
	}
	return notFound(), int(tried.Load()), nil
}

// Candidates returns the grounded goal tasks for st in trial order.
//
// Outputs:
//   - []Candidate: Admissible (template, binding) pairs.
//   - error: ErrUnresolvedParam, or a fatal error from a precondition or
//     method check.
func (g *Grounder) Candidates(st *facts.State, templates []domain.Template) ([]Candidate, error) {
	types := sortedTypes(g.vocab.Types())
	population := g.vocab.Population(st)

	type resolved struct {
		tpl   domain.Template
		roles []string
	}
	var bucket []resolved
	for _, tpl := range templates {
		roles := make([]string, len(tpl.Params))
		count := 0
		for i, p := range tpl.Params {
			role, ok := InferRole(p, types)
			if !ok {
				return nil, fmt.Errorf("%w: %s(%s)", ErrUnresolvedParam, tpl.Name, p)
			}
			roles[i] = role
			if role == g.config.CountRole {
				count++
			}
		}
		if count == population {
			bucket = append(bucket, resolved{tpl: tpl, roles: roles})
		}
	}
	sort.SliceStable(bucket, func(i, j int) bool {
		a, b := bucket[i].tpl.Name, bucket[j].tpl.Name
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})

	var out []Candidate
	for _, b := range bucket {
		pools := make([][]string, len(b.roles))
		for i, role := range b.roles {
			pools[i] = g.vocab.Entities(st, role)
		}
		var err error
		product(pools, func(binding []string) bool {
			var ok bool
			ok, err = g.admissible(st, b.tpl, binding)
			if err != nil {
				return false
			}
			if ok {
				out = append(out, Candidate{
					Template: b.tpl.Name,
					Task:     domain.NewTask(b.tpl.Name, binding...),
				})
			}
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("grounding %s: %w", b.tpl.Name, err)
		}
	}
	return out, nil
}

// admissible applies the template's precondition. Without one, a binding
// is admissible when the task's operator or any of its methods applies.
func (g *Grounder) admissible(st *facts.State, tpl domain.Template, args []string) (bool, error) {
	if tpl.Precondition != nil {
		return tpl.Precondition(st, args)
	}
	entry, ok := g.planner.Registry().Lookup(tpl.Name)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrUnknownTask, tpl.Name)
	}
	if entry.Kind == domain.KindOperator {
		out, err := entry.Operator.Fn(st, args)
		return out != nil, err
	}
	for _, m := range entry.Methods {
		dec, err := m.Fn(st, args)
		if err != nil {
			return false, err
		}
		if dec != nil {
			return true, nil
		}
	}
	return false, nil
}

// InferRole returns the first type (longest first) contained in the
// parameter name.
func InferRole(param string, types []string) (string, bool) {
	p := strings.ToLower(param)
	for _, t := range sortedTypes(types) {
		if strings.Contains(p, strings.ToLower(t)) {
			return t, true
		}
	}
	return "", false
}

func sortedTypes(types []string) []string {
	out := append([]string(nil), types...)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// product visits the cartesian product of pools in lexicographic order,
// skipping tuples that reuse an entity. fn returns false to stop.
func product(pools [][]string, fn func([]string) bool) {
	binding := make([]string, len(pools))
	used := make(map[string]bool)
	var walk func(i int) bool
	walk = func(i int) bool {
		if i == len(pools) {
			return fn(append([]string(nil), binding...))
		}
		for _, e := range pools[i] {
			if used[e] {
				continue
			}
			used[e] = true
			binding[i] = e
			cont := walk(i + 1)
			used[e] = false
			if !cont {
				return false
			}
		}
		return true
	}
	walk(0)
}

func notFound() *htn.Result {
	return &htn.Result{ID: uuid.NewString(), Found: false}
}
