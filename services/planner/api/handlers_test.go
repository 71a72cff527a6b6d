// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianHTN/services/planner/domains/combat"
	"github.com/AleutianAI/AleutianHTN/services/planner/grounding"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/plancache"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var adjacent = []string{
	"agents-steve",
	"agent_at-steve-field",
	"agent_looking_at-steve-zombie1",
	"mobs-zombie1-hostile",
	"status-zombie1-alive",
	"agent_at-zombie1-field",
}

var farApart = []string{
	"agents-steve",
	"agent_at-steve-house",
	"mobs-zombie1-hostile",
	"status-zombie1-alive",
	"agent_at-zombie1-field",
}

func newHandlers(t *testing.T, opts ...Option) *Handlers {
	t.Helper()
	r, err := combat.NewRegistry()
	require.NoError(t, err)
	p, err := htn.New(r, htn.DefaultConfig())
	require.NoError(t, err)
	g, err := grounding.New(p, combat.Vocabulary{}, grounding.DefaultConfig())
	require.NoError(t, err)
	return NewHandlers(p, g, append([]Option{WithDomainName(combat.Name)}, opts...)...)
}

func setupTestRouter(t *testing.T, cfg RouterConfig, opts ...Option) *gin.Engine {
	t.Helper()
	return NewRouter(newHandlers(t, opts...), cfg)
}

func post(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	return postTo(t, router, "/v1/htn/plan", body)
}

func postTo(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/htn/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_HandleDomain(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/htn/domain", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DomainResponse](t, w)
	assert.Equal(t, combat.Name, resp.Domain)
	assert.Equal(t, []string{combat.OpAttack, combat.OpLookAt, combat.OpMoveTo}, resp.Operators)
	assert.Contains(t, resp.Compound, combat.TaskKill)
	assert.Len(t, resp.Templates, 3)
}

func TestHandlers_HandlePlan_Grounded(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	w := post(t, router, PlanRequest{Atoms: adjacent})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PlanResponse](t, w)
	assert.True(t, resp.Found)
	assert.False(t, resp.Cached)
	assert.NotEmpty(t, resp.PlanID)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "ATTACK(steve, zombie1)", resp.Actions[0].String())
	assert.Equal(t, w.Header().Get("X-Request-ID"), resp.RequestID)
	assert.Empty(t, resp.Explain)
}

func TestHandlers_HandlePlan_ExplicitTask(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	w := post(t, router, PlanRequest{
		Atoms:   farApart,
		Task:    &TaskRequest{Name: combat.TaskKill, Args: []string{"steve", "zombie1"}},
		Explain: true,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PlanResponse](t, w)
	require.True(t, resp.Found)
	require.Len(t, resp.Actions, 3)
	assert.Equal(t, combat.OpMoveTo, resp.Actions[0].Name)
	assert.NotEmpty(t, resp.Explain)
	assert.Positive(t, resp.Stats.Operators)
}

func TestHandlers_HandlePlan_NotFound(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	w := post(t, router, PlanRequest{
		Atoms: []string{"agents-steve", "mobs-zombie1-hostile", "status-zombie1-alive"},
		Task:  &TaskRequest{Name: combat.TaskKill, Args: []string{"steve", "zombie1"}},
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[PlanResponse](t, w)
	assert.False(t, resp.Found)
	assert.Empty(t, resp.Actions)
}

func TestHandlers_HandlePlan_Errors(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing atoms", map[string]any{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty atom", PlanRequest{Atoms: []string{""}}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"task without name", PlanRequest{Atoms: adjacent, Task: &TaskRequest{}}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed atom", PlanRequest{Atoms: []string{"foo"}}, http.StatusBadRequest, "INVALID_ATOM"},
		{"unknown task", PlanRequest{Atoms: adjacent, Task: &TaskRequest{Name: "dance"}}, http.StatusBadRequest, "UNKNOWN_TASK"},
		{"unknown template", PlanRequest{Atoms: adjacent, Templates: []string{"dance"}}, http.StatusBadRequest, "UNKNOWN_TEMPLATE"},
		{
			"ambiguous binding",
			PlanRequest{Atoms: adjacent, Task: &TaskRequest{Name: combat.TaskKill, Args: []string{"steve", "steve"}}},
			http.StatusUnprocessableEntity, "AMBIGUOUS_BINDING",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/htn/plan", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandlers_HandleDeviation(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	kill := &TaskRequest{Name: combat.TaskKill, Args: []string{"steve", "zombie1"}}
	step := func(i int) *int { return &i }

	t.Run("observation matches the nominal outcome", func(t *testing.T) {
		w := postTo(t, router, "/v1/htn/deviation", DeviationRequest{
			Atoms:    farApart,
			Task:     kill,
			Step:     step(1),
			Observed: adjacent,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[DeviationResponse](t, w)
		require.True(t, resp.Found)
		assert.NotEmpty(t, resp.PlanID)
		assert.Equal(t, "LOOKAT(steve, none, zombie1)", resp.Action)
		require.NotNil(t, resp.Deviation)
		assert.Equal(t, 0, resp.Deviation.Outcome)
		assert.Equal(t, 1.0, resp.Deviation.Score)
		assert.True(t, resp.Deviation.Ready)
		assert.Equal(t, "ATTACK(steve, zombie1)", resp.NextAction)
	})

	t.Run("next step not ready when the mob moved", func(t *testing.T) {
		observed := []string{
			"agents-steve",
			"agent_at-steve-field",
			"agent_looking_at-steve-zombie1",
			"mobs-zombie1-hostile",
			"status-zombie1-alive",
			"agent_at-zombie1-cave",
		}
		w := postTo(t, router, "/v1/htn/deviation", DeviationRequest{
			Atoms:    farApart,
			Task:     kill,
			Step:     step(1),
			Observed: observed,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[DeviationResponse](t, w)
		require.NotNil(t, resp.Deviation)
		assert.False(t, resp.Deviation.Ready)
		assert.Equal(t, "ATTACK(steve, zombie1)", resp.NextAction)
	})

	t.Run("failed attack matches the failure outcome", func(t *testing.T) {
		observed := append([]string{"status-steve-hurt"}, adjacent...)
		w := postTo(t, router, "/v1/htn/deviation", DeviationRequest{
			Atoms:    farApart,
			Task:     kill,
			Step:     step(2),
			Observed: observed,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[DeviationResponse](t, w)
		assert.Equal(t, "ATTACK(steve, zombie1)", resp.Action)
		require.NotNil(t, resp.Deviation)
		assert.Equal(t, 1, resp.Deviation.Outcome)
	})

	t.Run("grounded plan defaults to the first step", func(t *testing.T) {
		w := postTo(t, router, "/v1/htn/deviation", DeviationRequest{
			Atoms:    adjacent,
			Observed: adjacent,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[DeviationResponse](t, w)
		assert.Equal(t, "ATTACK(steve, zombie1)", resp.Action)
		assert.NotEqual(t, -1, int(resp.Node))
	})

	t.Run("no plan", func(t *testing.T) {
		w := postTo(t, router, "/v1/htn/deviation", DeviationRequest{
			Atoms:    []string{"agents-steve", "mobs-zombie1-hostile", "status-zombie1-alive"},
			Task:     kill,
			Observed: adjacent,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[DeviationResponse](t, w)
		assert.False(t, resp.Found)
		assert.Nil(t, resp.Deviation)
		assert.Equal(t, -1, int(resp.Node))
	})

	terminal := policy.NodeID(0)
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing observation", DeviationRequest{Atoms: farApart, Task: kill}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"negative step", DeviationRequest{Atoms: farApart, Task: kill, Step: step(-1), Observed: adjacent}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed observation", DeviationRequest{Atoms: farApart, Task: kill, Observed: []string{"foo"}}, http.StatusBadRequest, "INVALID_ATOM"},
		{"step past the plan", DeviationRequest{Atoms: farApart, Task: kill, Step: step(3), Observed: adjacent}, http.StatusBadRequest, "INVALID_STEP"},
		{"terminal node", DeviationRequest{Atoms: farApart, Task: kill, Node: &terminal, Observed: adjacent}, http.StatusBadRequest, "INVALID_STEP"},
		{"unknown task", DeviationRequest{Atoms: adjacent, Task: &TaskRequest{Name: "dance"}, Observed: adjacent}, http.StatusBadRequest, "UNKNOWN_TASK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postTo(t, router, "/v1/htn/deviation", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestHandlers_HandlePlan_Cache(t *testing.T) {
	store, err := plancache.Open(plancache.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	router := setupTestRouter(t, RouterConfig{}, WithCache(store))

	first := decode[PlanResponse](t, post(t, router, PlanRequest{Atoms: adjacent}))
	require.True(t, first.Found)
	assert.False(t, first.Cached)

	// Same world in a different atom order hits the cache.
	reordered := append([]string(nil), adjacent...)
	reordered[0], reordered[len(reordered)-1] = reordered[len(reordered)-1], reordered[0]
	second := decode[PlanResponse](t, post(t, router, PlanRequest{Atoms: reordered}))
	assert.True(t, second.Cached)
	assert.Equal(t, first.PlanID, second.PlanID)
	assert.Equal(t, first.Actions, second.Actions)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	// An explicit task is a different cache entry.
	third := decode[PlanResponse](t, post(t, router, PlanRequest{
		Atoms: adjacent,
		Task:  &TaskRequest{Name: combat.TaskKill, Args: []string{"steve", "zombie1"}},
	}))
	assert.False(t, third.Cached)

	// Explained requests always plan.
	fourth := decode[PlanResponse](t, post(t, router, PlanRequest{Atoms: adjacent, Explain: true}))
	assert.False(t, fourth.Cached)
	assert.NotEmpty(t, fourth.Explain)
}

func TestRouter_RequestID(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/htn/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestRouter_RateLimit(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{RateLimit: 0.001, Burst: 1})

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/htn/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusTooManyRequests, get())
}

func TestRouter_SharedLimiter(t *testing.T) {
	limiter := NewLimiter(0, 1)
	router := setupTestRouter(t, RouterConfig{Limiter: limiter})

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/v1/htn/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	for range 3 {
		require.Equal(t, http.StatusOK, get())
	}

	limiter.SetLimit(Limit(0.001))
	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusTooManyRequests, get())
}

func TestLimit(t *testing.T) {
	assert.Equal(t, rate.Inf, Limit(0))
	assert.Equal(t, rate.Inf, Limit(-1))
	assert.Equal(t, rate.Limit(2.5), Limit(2.5))
}

func TestHandlers_SetTimeout(t *testing.T) {
	h := newHandlers(t, WithTimeout(time.Second))
	assert.Equal(t, time.Second, h.Timeout())
	h.SetTimeout(0)
	assert.Zero(t, h.Timeout())
}

func TestRouter_Metrics(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{Metrics: true, RateLimit: 0.001, Burst: 1})

	w := post(t, router, PlanRequest{Atoms: adjacent})
	require.Equal(t, http.StatusOK, w.Code)

	// /metrics sits outside the limited /v1 group.
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Contains(t, w.Body.String(), "htn_api_requests_total")
	assert.Contains(t, w.Body.String(), "htn_grounding_searches_total")
}

func TestClassify(t *testing.T) {
	status, code := classify(htn.ErrDepthExceeded)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "SEARCH_LIMIT", code)

	status, code = classify(&htn.PlanError{Operation: "apply", Err: htn.ErrUndeclaredEffect})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "DOMAIN_ERROR", code)

	status, code = classify(policy.ErrNilObservation)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_OBSERVATION", code)

	status, code = classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "PLAN_FAILED", code)
}
