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
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// PreconditionFunc reports whether a binding of a template is admissible.
type PreconditionFunc func(st *facts.State, args []string) (bool, error)

// Template is a candidate root goal with unbound parameters.
//
// The grounding search infers each parameter's role from its name and
// enumerates entities of that role.
type Template struct {
	// Name is the compound task name to plan for.
	Name string

	// Params are the parameter names, e.g. ["agent", "mob"].
	Params []string

	// Precondition is the governing guard. When nil, a binding is
	// admissible if any registered method of the task applies.
	Precondition PreconditionFunc
}

// RegisterTemplate records a root goal template.
func (r *Registry) RegisterTemplate(t Template) error {
	if t.Name == "" {
		return fmt.Errorf("register template: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register template %q: %w", t.Name, ErrSealed)
	}
	r.templates = append(r.templates, t)
	return nil
}

// Templates returns the registered templates in registration order.
func (r *Registry) Templates() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Template(nil), r.templates...)
}

// TemplatesNamed returns the named templates in the order given. No names
// returns nil, which callers treat as every template.
func (r *Registry) TemplatesNamed(names ...string) ([]Template, error) {
	if len(names) == 0 {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(names))
	for _, n := range names {
		i := slices.IndexFunc(r.templates, func(t Template) bool { return t.Name == n })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, n)
		}
		out = append(out, r.templates[i])
	}
	return out, nil
}
