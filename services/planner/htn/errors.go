// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package htn

import "errors"

// Package-level error definitions.
var (
	// ErrDepthExceeded indicates the decomposition recursion ceiling was hit.
	ErrDepthExceeded = errors.New("decomposition depth exceeded")

	// ErrBudgetExceeded indicates the plan graph node budget was exhausted.
	ErrBudgetExceeded = errors.New("node budget exceeded")

	// ErrUndeclaredEffect indicates an operator changed a relation it did
	// not declare.
	ErrUndeclaredEffect = errors.New("operator changed an undeclared relation")

	// ErrNoTasks indicates a planning call without goal tasks.
	ErrNoTasks = errors.New("no goal tasks")

	// ErrNilState indicates a planning call without an initial state.
	ErrNilState = errors.New("nil initial state")

	// ErrInvalidConfig indicates an unusable planner configuration.
	ErrInvalidConfig = errors.New("invalid planner config")

	// ErrNoSuccessState indicates an operator outcome without a success state.
	ErrNoSuccessState = errors.New("operator outcome has no success state")
)

// PlanError wraps a fatal planning error with the operation and task that
// raised it. The partial graph is discarded.
type PlanError struct {
	Operation string
	Task      string
	Err       error
}

func (e *PlanError) Error() string {
	if e.Task == "" {
		return "htn." + e.Operation + ": " + e.Err.Error()
	}
	return "htn." + e.Operation + " " + e.Task + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PlanError) Unwrap() error {
	return e.Err
}
