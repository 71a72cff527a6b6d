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
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// PlanRequest is the body of POST /v1/htn/plan.
type PlanRequest struct {
	// Atoms is the world as relation-entity[-value] strings.
	Atoms []string `json:"atoms" binding:"required,min=1,dive,required"`

	// Task plans an explicit goal instead of grounding templates.
	Task *TaskRequest `json:"task,omitempty"`

	// Templates restricts grounding to the named templates. Empty means all.
	Templates []string `json:"templates,omitempty" binding:"omitempty,dive,required"`

	// Explain adds per-node annotations. Explained requests bypass the cache.
	Explain bool `json:"explain,omitempty"`
}

// TaskRequest names an explicit goal task.
type TaskRequest struct {
	Name string   `json:"name" binding:"required"`
	Args []string `json:"args"`
}

// PlanResponse is the result of a planning request.
type PlanResponse struct {
	RequestID string           `json:"request_id"`
	PlanID    string           `json:"plan_id"`
	Found     bool             `json:"found"`
	Tasks     []domain.Task    `json:"tasks"`
	Actions   []policy.Action  `json:"actions"`
	Stats     htn.Stats        `json:"stats"`
	Cached    bool             `json:"cached"`
	Explain   []htn.Annotation `json:"explain,omitempty"`
}

// DeviationRequest is the body of POST /v1/htn/deviation.
//
// The plan is rebuilt from Atoms the same way POST /v1/htn/plan builds it,
// then the operator at Step (or Node) is compared with Observed.
type DeviationRequest struct {
	// Atoms is the world the plan starts from.
	Atoms []string `json:"atoms" binding:"required,min=1,dive,required"`

	// Task plans an explicit goal instead of grounding templates.
	Task *TaskRequest `json:"task,omitempty"`

	// Templates restricts grounding to the named templates. Empty means all.
	Templates []string `json:"templates,omitempty" binding:"omitempty,dive,required"`

	// Step indexes the nominal actions. Used when Node is unset; defaults
	// to the first action.
	Step *int `json:"step,omitempty" binding:"omitempty,min=0"`

	// Node names an operator node from an explained plan, which may lie on
	// a contingency branch.
	Node *policy.NodeID `json:"node,omitempty"`

	// Observed is the world seen after the operator ran.
	Observed []string `json:"observed" binding:"required,min=1,dive,required"`
}

// DeviationResponse reports how an observed world matches an operator's
// outcomes.
type DeviationResponse struct {
	RequestID string            `json:"request_id"`
	PlanID    string            `json:"plan_id"`
	Found     bool              `json:"found"`
	Node      policy.NodeID     `json:"node"`
	Action    string            `json:"action,omitempty"`
	Deviation *policy.Deviation `json:"deviation,omitempty"`

	// NextAction labels Deviation.NextStep. Empty when no step follows.
	NextAction string `json:"next_action,omitempty"`
}

// DomainResponse lists the registered domain.
type DomainResponse struct {
	Domain    string         `json:"domain"`
	Operators []string       `json:"operators"`
	Compound  []string       `json:"compound"`
	Templates []TemplateInfo `json:"templates"`
}

// TemplateInfo describes one grounding template.
type TemplateInfo struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

// HealthResponse is the body of GET /v1/htn/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// RequestID echoes the X-Request-ID header.
	RequestID string `json:"request_id,omitempty"`
}
