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

import (
	"sort"
	"time"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

// Stats summarizes one planning call.
type Stats struct {
	Nodes         int           `json:"nodes" yaml:"nodes"`
	Operators     int           `json:"operators" yaml:"operators"`
	MethodsTried  int           `json:"methods_tried" yaml:"methods_tried"`
	Backtracks    int           `json:"backtracks" yaml:"backtracks"`
	RepeatLinks   int           `json:"repeat_links" yaml:"repeat_links"`
	BranchRuns    int           `json:"branch_runs" yaml:"branch_runs"`
	DepthReached  int           `json:"depth_reached" yaml:"depth_reached"`
	PrecondFailed int           `json:"precondition_failures" yaml:"precondition_failures"`
	Duration      time.Duration `json:"duration_ns" yaml:"duration"`
}

// Result is the outcome of a planning call.
type Result struct {
	// ID identifies the planning call in logs, traces and the plan cache.
	ID string `json:"id" yaml:"id"`

	// Found is false when no decomposition of the goals exists.
	Found bool `json:"found" yaml:"found"`

	// Tasks are the goal tasks that were planned for.
	Tasks []domain.Task `json:"tasks" yaml:"tasks"`

	// Actions is the nominal action sequence. Empty when the goals already
	// hold.
	Actions []policy.Action `json:"actions" yaml:"actions"`

	// Graph is the finished policy graph. Nil when Found is false.
	Graph *policy.Graph `json:"-" yaml:"-"`

	// FinalState is the state at the end of the nominal path.
	FinalState *facts.State `json:"-" yaml:"-"`

	Stats Stats `json:"stats" yaml:"stats"`
}

// Annotation describes one reachable node of a policy graph.
//
// Effect lists the facts the node changes. Preconditions lists the facts
// its operator or method consulted, which explains why the node was chosen.
type Annotation struct {
	Node          policy.NodeID      `json:"node" yaml:"node"`
	Kind          string             `json:"kind" yaml:"kind"`
	Action        string             `json:"action" yaml:"action"`
	BranchDepth   int                `json:"branch_depth" yaml:"branch_depth"`
	Preconditions []string           `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Effect        []string           `json:"effect,omitempty" yaml:"effect,omitempty"`
	Expect        map[string]float64 `json:"expect,omitempty" yaml:"expect,omitempty"`
	Next          policy.NodeID      `json:"next" yaml:"next"`
	Branches      map[int]int        `json:"branches,omitempty" yaml:"branches,omitempty"`

	// LinkedTo is set only on repeat-state links.
	LinkedTo *policy.NodeID `json:"linked_to,omitempty" yaml:"linked_to,omitempty"`
}

// Explain lists the reachable nodes of the policy graph in breadth-first
// order with their effects and refined expectations rendered as atoms.
//
// Returns nil when no plan was found.
func (r *Result) Explain() []Annotation {
	if r == nil || r.Graph == nil {
		return nil
	}
	g := r.Graph
	order, _ := g.Reachable()
	out := make([]Annotation, 0, len(order))
	for _, id := range order {
		n := g.Node(id)
		a := Annotation{
			Node:          n.ID,
			Kind:          n.Kind.String(),
			Action:        n.Label(),
			BranchDepth:   n.BranchDepth,
			Preconditions: recordAtoms(n.Preconditions),
			Effect:        expectationAtoms(n.Effect),
			Expect:        expectationProbs(n.Rexp),
			Next:          n.Next,
		}
		if n.LinkedTo != policy.None {
			target := n.LinkedTo
			a.LinkedTo = &target
		}
		if len(n.Branch) > 0 {
			a.Branches = make(map[int]int, len(n.Branch))
			for k, v := range n.Branch {
				a.Branches[k] = int(v)
			}
		}
		out = append(out, a)
	}
	return out
}

func expectationAtoms(e policy.Expectation) []string {
	var out []string
	e.Each(func(rel, ent string, d policy.Dist) {
		for _, v := range d.Values() {
			out = append(out, renderAtom(rel, ent, v))
		}
	})
	sort.Strings(out)
	return out
}

func recordAtoms(r facts.Record) []string {
	var out []string
	for _, rel := range r.Relations() {
		for ent, val := range r[rel] {
			out = append(out, renderAtom(rel, ent, val))
		}
	}
	sort.Strings(out)
	return out
}

func expectationProbs(e policy.Expectation) map[string]float64 {
	if e.Len() == 0 {
		return nil
	}
	out := make(map[string]float64)
	e.Each(func(rel, ent string, d policy.Dist) {
		for v, p := range d {
			out[renderAtom(rel, ent, v)] = p
		}
	})
	return out
}

// renderAtom prefixes removals with "!".
func renderAtom(rel, ent, val string) string {
	if val == facts.RemovedValue {
		return "!" + facts.FormatAtom(rel, ent, "")
	}
	return facts.FormatAtom(rel, ent, val)
}
