// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the planner over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/grounding"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/plancache"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

// Option configures Handlers.
type Option func(*Handlers)

// WithCache enables the plan cache.
func WithCache(s *plancache.Store) Option {
	return func(h *Handlers) { h.cache = s }
}

// WithTimeout bounds each planning request. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(h *Handlers) { h.SetTimeout(d) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger.With(slog.String("component", "api"))
		}
	}
}

// WithDomainName sets the domain name reported by GET /v1/htn/domain.
func WithDomainName(name string) Option {
	return func(h *Handlers) { h.domainName = name }
}

// Handlers serves the planner endpoints.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	planner    *htn.Planner
	grounder   *grounding.Grounder
	cache      *plancache.Store
	timeout    atomic.Int64
	domainName string
	logger     *slog.Logger
}

// NewHandlers creates the handlers.
func NewHandlers(p *htn.Planner, g *grounding.Grounder, opts ...Option) *Handlers {
	h := &Handlers{
		planner:  p,
		grounder: g,
		logger:   slog.Default().With(slog.String("component", "api")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetTimeout replaces the per-request planning deadline. It is safe to call
// while requests are in flight.
func (h *Handlers) SetTimeout(d time.Duration) {
	h.timeout.Store(int64(d))
}

// Timeout returns the current per-request planning deadline.
func (h *Handlers) Timeout() time.Duration {
	return time.Duration(h.timeout.Load())
}

// HandlePlan handles POST /v1/htn/plan.
//
// Description:
//
//	Parses the atoms and plans either the explicit task or the first
//	grounded template candidate. Unexplained requests are served from and
//	written to the plan cache when one is configured. A request with no
//	plan is a 200 with found=false.
//
// Request Body:
//
//	PlanRequest
//
// Response:
//
//	200 OK: PlanResponse
//	400 Bad Request: Invalid body, malformed atom, unknown task or template
//	422 Unprocessable Entity: Ambiguous binding or search limit hit
//	504 Gateway Timeout: Planning deadline exceeded
//	500 Internal Server Error: Domain definition or internal error
func (h *Handlers) HandlePlan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, h.logger).With(
		slog.String("request_id", requestID),
		slog.String("handler", "HandlePlan"),
	)

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "Invalid request body",
			Code:      "INVALID_REQUEST",
			RequestID: requestID,
		})
		return
	}

	st, err := facts.ParseAtoms(req.Atoms)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}
	templates, err := h.planner.Registry().TemplatesNamed(req.Templates...)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}

	ctx, cancel := h.withDeadline(ctx)
	defer cancel()

	key := plancache.Key(st, cacheGoals(req, templates)...)
	if h.cache != nil && !req.Explain {
		entry, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("plan cache read failed", slog.String("error", err.Error()))
		} else if ok {
			logger.Debug("plan cache hit", slog.String("plan_id", entry.ID))
			c.JSON(http.StatusOK, PlanResponse{
				RequestID: requestID,
				PlanID:    entry.ID,
				Found:     entry.Found,
				Tasks:     entry.Tasks,
				Actions:   entry.Actions,
				Stats:     entry.Stats,
				Cached:    true,
			})
			return
		}
	}

	res, err := h.solve(ctx, req.Atoms, st, req.Task, templates)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Put(ctx, key, plancache.FromResult(res)); err != nil {
			logger.Warn("plan cache write failed", slog.String("error", err.Error()))
		}
	}

	resp := PlanResponse{
		RequestID: requestID,
		PlanID:    res.ID,
		Found:     res.Found,
		Tasks:     res.Tasks,
		Actions:   res.Actions,
		Stats:     res.Stats,
	}
	if req.Explain {
		resp.Explain = res.Explain()
	}
	logger.Info("plan served",
		slog.String("plan_id", res.ID),
		slog.Bool("found", res.Found),
		slog.Int("actions", len(res.Actions)),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleDeviation handles POST /v1/htn/deviation.
//
// Description:
//
//	Rebuilds the plan for the request's atoms and goal, then scores the
//	observed world against the outcomes of one operator. The response
//	names the matching outcome, the next operator to run and whether its
//	precondition record holds in the observation. A request with no plan
//	is a 200 with found=false.
//
// Request Body:
//
//	DeviationRequest
//
// Response:
//
//	200 OK: DeviationResponse
//	400 Bad Request: Invalid body, malformed atom, unknown task, template,
//	    step or node
//	422 Unprocessable Entity: Ambiguous binding or search limit hit
//	504 Gateway Timeout: Planning deadline exceeded
//	500 Internal Server Error: Domain definition or internal error
func (h *Handlers) HandleDeviation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, h.logger).With(
		slog.String("request_id", requestID),
		slog.String("handler", "HandleDeviation"),
	)

	var req DeviationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "Invalid request body",
			Code:      "INVALID_REQUEST",
			RequestID: requestID,
		})
		return
	}

	st, err := facts.ParseAtoms(req.Atoms)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}
	observed, err := facts.ParseAtoms(req.Observed)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}
	templates, err := h.planner.Registry().TemplatesNamed(req.Templates...)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}

	ctx, cancel := h.withDeadline(ctx)
	defer cancel()
	res, err := h.solve(ctx, req.Atoms, st, req.Task, templates)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}

	resp := DeviationResponse{
		RequestID: requestID,
		PlanID:    res.ID,
		Found:     res.Found,
		Node:      policy.None,
	}
	if !res.Found {
		c.JSON(http.StatusOK, resp)
		return
	}

	id, err := stepNode(res.Graph, req.Step, req.Node)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}
	d, err := res.Graph.Deviation(id, observed)
	if err != nil {
		h.fail(c, logger, requestID, err)
		return
	}
	resp.Node = id
	resp.Action = res.Graph.Node(id).Label()
	resp.Deviation = &d
	if d.NextStep != policy.None {
		resp.NextAction = res.Graph.Node(d.NextStep).Label()
	}
	logger.Info("deviation served",
		slog.String("plan_id", res.ID),
		slog.String("action", resp.Action),
		slog.Int("outcome", d.Outcome),
		slog.Bool("ready", d.Ready),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/htn/health.
//
// Response:
//
//	200 OK: HealthResponse
//	503 Service Unavailable: The registry or planner bounds are unusable
func (h *Handlers) HandleHealth(c *gin.Context) {
	if err := h.planner.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Version: ServiceVersion,
			Error:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleDomain handles GET /v1/htn/domain.
func (h *Handlers) HandleDomain(c *gin.Context) {
	r := h.planner.Registry()
	resp := DomainResponse{
		Domain:    h.domainName,
		Operators: r.Names(domain.KindOperator),
		Compound:  r.Names(domain.KindMethods),
	}
	for _, t := range r.Templates() {
		resp.Templates = append(resp.Templates, TemplateInfo{Name: t.Name, Params: t.Params})
	}
	c.JSON(http.StatusOK, resp)
}

// withDeadline applies the per-request planning deadline, if any.
func (h *Handlers) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := h.Timeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// solve plans the explicit task, or grounds templates when there is none.
func (h *Handlers) solve(ctx context.Context, atoms []string, st *facts.State, task *TaskRequest, templates []domain.Template) (*htn.Result, error) {
	if task != nil {
		return h.planner.Plan(ctx, st, domain.NewTask(task.Name, task.Args...))
	}
	return h.grounder.FindGroundedPlan(ctx, atoms, templates)
}

// stepNode resolves the operator a deviation request refers to. An explicit
// node wins over a step index.
func stepNode(g *policy.Graph, step *int, node *policy.NodeID) (policy.NodeID, error) {
	if node != nil {
		return *node, nil
	}
	i := 0
	if step != nil {
		i = *step
	}
	path, err := policy.Path(g)
	if err != nil {
		return policy.None, err
	}
	if i >= len(path) {
		return policy.None, fmt.Errorf("%w: step %d of %d", policy.ErrNotOperator, i, len(path))
	}
	return path[i], nil
}

// cacheGoals names what a request plans for, so explicit tasks and
// template selections never share cache entries.
func cacheGoals(req PlanRequest, templates []domain.Template) []string {
	if req.Task != nil {
		return []string{"task:" + domain.NewTask(req.Task.Name, req.Task.Args...).String()}
	}
	if templates == nil {
		return []string{"templates:*"}
	}
	goals := make([]string, len(templates))
	for i, t := range templates {
		goals[i] = "template:" + t.Name
	}
	return goals
}

func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, requestID string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("plan failed", slog.String("code", code), slog.String("error", err.Error()))
	} else {
		logger.Warn("plan rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: requestID,
	})
}

// classify maps planner errors to an HTTP status and error code.
func classify(err error) (int, string) {
	var parseErr *facts.ParseError
	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, "INVALID_ATOM"
	case errors.Is(err, domain.ErrUnknownTemplate):
		return http.StatusBadRequest, "UNKNOWN_TEMPLATE"
	case errors.Is(err, domain.ErrUnknownTask):
		return http.StatusBadRequest, "UNKNOWN_TASK"
	case errors.Is(err, policy.ErrNotOperator):
		return http.StatusBadRequest, "INVALID_STEP"
	case errors.Is(err, policy.ErrNilObservation):
		return http.StatusBadRequest, "INVALID_OBSERVATION"
	case errors.Is(err, domain.ErrAmbiguousBinding):
		return http.StatusUnprocessableEntity, "AMBIGUOUS_BINDING"
	case errors.Is(err, htn.ErrDepthExceeded), errors.Is(err, htn.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity, "SEARCH_LIMIT"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "PLAN_TIMEOUT"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "CANCELLED"
	case errors.Is(err, domain.ErrNoOperators),
		errors.Is(err, domain.ErrNoMethods),
		errors.Is(err, domain.ErrKindConflict),
		errors.Is(err, grounding.ErrUnresolvedParam),
		errors.Is(err, htn.ErrUndeclaredEffect),
		errors.Is(err, htn.ErrNoSuccessState):
		return http.StatusInternalServerError, "DOMAIN_ERROR"
	default:
		return http.StatusInternalServerError, "PLAN_FAILED"
	}
}

// getOrCreateRequestID reads X-Request-ID or generates one, and echoes it.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	c.Set(requestIDKey, requestID)
	return requestID
}
