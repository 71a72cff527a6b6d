// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Package-level error definitions.
var (
	// ErrNoOperators indicates a planning call against a registry with no operators.
	ErrNoOperators = errors.New("no operators registered")

	// ErrNoMethods indicates a planning call against a registry with no methods.
	ErrNoMethods = errors.New("no methods registered")

	// ErrKindConflict indicates a task name registered both as operator and method.
	ErrKindConflict = errors.New("task registered as both operator and method")

	// ErrSealed indicates a registration after the registry was sealed.
	ErrSealed = errors.New("registry is sealed")

	// ErrAmbiguousBinding indicates a method whose bound entities are not
	// pairwise distinct. This is a domain-definition bug, not a failed guard.
	ErrAmbiguousBinding = errors.New("ambiguous binding")

	// ErrUnknownTask indicates a task name with no registry entry.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownTemplate indicates a template name with no registration.
	ErrUnknownTemplate = errors.New("unknown template")
)

// Kind tags a registry entry as primitive or compound.
type Kind int

const (
	// KindOperator is a primitive, directly executable action.
	KindOperator Kind = iota

	// KindMethods is a compound task decomposed by ordered methods.
	KindMethods
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOperator:
		return "operator"
	case KindMethods:
		return "methods"
	default:
		return "unknown"
	}
}

// Task is a task name plus its positional arguments.
type Task struct {
	Name string   `json:"name" yaml:"name"`
	Args []string `json:"args" yaml:"args"`
}

// NewTask builds a Task.
func NewTask(name string, args ...string) Task {
	return Task{Name: name, Args: args}
}

// String renders the task as NAME(arg, ...).
func (t Task) String() string {
	return t.Name + "(" + strings.Join(t.Args, ", ") + ")"
}

// Outcome is what an operator produces when its preconditions hold.
type Outcome struct {
	// Success is the intended resulting state.
	Success *facts.State

	// Failures are alternative resulting states (the action misfired).
	Failures []*facts.State

	// Preconditions are the facts the operator consulted.
	Preconditions facts.Record
}

// OperatorFunc applies a primitive action.
//
// A nil Outcome with a nil error means the preconditions do not hold. The
// input state must not be mutated; implementations Clone it.
type OperatorFunc func(st *facts.State, args []string) (*Outcome, error)

// Decomposition is what a method produces when it applies.
//
// An empty Subtasks list means the method's postconditions already hold.
type Decomposition struct {
	Subtasks      []Task
	Preconditions facts.Record
}

// MethodFunc decomposes a compound task.
//
// A nil Decomposition with a nil error means the method does not apply.
// A non-nil error is fatal (see ErrAmbiguousBinding).
type MethodFunc func(st *facts.State, args []string) (*Decomposition, error)

// Operator describes a registered primitive.
type Operator struct {
	Name string
	Fn   OperatorFunc

	// Touches lists the relations the operator may change. Empty means
	// undeclared (not checked).
	Touches []string
}

// Method describes one decomposition alternative.
type Method struct {
	Name string

	// Params are the declared parameter names, used by grounding to infer
	// parameter roles.
	Params []string
	Fn     MethodFunc
}

// Entry is a tagged registry entry: Operator or Methods, never both.
type Entry struct {
	Kind     Kind
	Operator *Operator
	Methods  []Method
}

// Registry holds the operator and method libraries.
//
// Description:
//
//	Populated once at startup, then sealed. After Seal the registry is
//	read-only and may be shared by concurrent planning calls.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	order     []string
	templates []Template
	sealed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// RegisterOperator registers a primitive operator.
//
// Outputs:
//   - error: ErrKindConflict if name already has methods; ErrSealed after Seal.
func (r *Registry) RegisterOperator(name string, fn OperatorFunc, touches ...string) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register operator %q: name and function are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register operator %q: %w", name, ErrSealed)
	}
	if e, ok := r.entries[name]; ok && e.Kind != KindOperator {
		return fmt.Errorf("register operator %q: %w", name, ErrKindConflict)
	}
	if _, ok := r.entries[name]; !ok {
		r.order = append(r.order, name)
	}
	r.entries[name] = &Entry{
		Kind:     KindOperator,
		Operator: &Operator{Name: name, Fn: fn, Touches: append([]string(nil), touches...)},
	}
	return nil
}

// RegisterMethods appends decomposition methods for a task, in order.
//
// Outputs:
//   - error: ErrKindConflict if task is an operator; ErrSealed after Seal.
func (r *Registry) RegisterMethods(task string, methods ...Method) error {
	if task == "" || len(methods) == 0 {
		return fmt.Errorf("register methods %q: task name and at least one method are required", task)
	}
	for i, m := range methods {
		if m.Fn == nil {
			return fmt.Errorf("register methods %q: method %d has no function", task, i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register methods %q: %w", task, ErrSealed)
	}
	e, ok := r.entries[task]
	if ok && e.Kind != KindMethods {
		return fmt.Errorf("register methods %q: %w", task, ErrKindConflict)
	}
	if !ok {
		e = &Entry{Kind: KindMethods}
		r.entries[task] = e
		r.order = append(r.order, task)
	}
	for i := range methods {
		if methods[i].Name == "" {
			methods[i].Name = fmt.Sprintf("%s_m%d", task, len(e.Methods)+i)
		}
	}
	e.Methods = append(e.Methods, methods...)
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup resolves a task name to its entry.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Validate checks that the registry can plan at all.
//
// Outputs:
//   - error: ErrNoOperators or ErrNoMethods.
func (r *Registry) Validate() error {
	ops, methods := r.Counts()
	if ops == 0 {
		return ErrNoOperators
	}
	if methods == 0 {
		return ErrNoMethods
	}
	return nil
}

// Counts returns the number of operators and compound tasks.
func (r *Registry) Counts() (operators, compound int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Kind == KindOperator {
			operators++
		} else {
			compound++
		}
	}
	return operators, compound
}

// Names returns registered task names of the given kind, sorted.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if r.entries[name].Kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Methods returns the ordered methods of a compound task.
func (r *Registry) Methods(task string) []Method {
	e, ok := r.Lookup(task)
	if !ok || e.Kind != KindMethods {
		return nil
	}
	return e.Methods
}

// Distinct returns ErrAmbiguousBinding unless all entities are pairwise
// distinct. Methods call it on the entities they bind.
func Distinct(entities ...string) error {
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if _, dup := seen[e]; dup {
			return fmt.Errorf("%w: entity %q bound twice", ErrAmbiguousBinding, e)
		}
		seen[e] = struct{}{}
	}
	return nil
}
