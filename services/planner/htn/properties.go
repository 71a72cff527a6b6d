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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/eval"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

const massEpsilon = 1e-9

var errNotAResult = errors.New("output is not a found *htn.Result")

// Properties returns the invariants every found plan satisfies.
//
// Each Check receives the initial *facts.State as input (unused by most)
// and the *Result as output. Results with Found=false pass vacuously.
func (p *Planner) Properties() []eval.Property {
	return []eval.Property{
		{
			Name:        "terminal_reachable",
			Description: "The nominal path from the root reaches the terminal node",
			Tags:        []string{"graph"},
			Check: withGraph(func(_ *Result, g *policy.Graph) error {
				_, err := policy.Sequence(g)
				return err
			}),
		},
		{
			Name:        "continuations",
			Description: "Every reachable non-terminal node has a successor",
			Tags:        []string{"graph"},
			Check: withGraph(func(_ *Result, g *policy.Graph) error {
				order, _ := g.Reachable()
				for _, id := range order {
					n := g.Node(id)
					if n.Kind != policy.KindTerminal && len(g.Continuations(id)) == 0 {
						return fmt.Errorf("node %d (%s) has no successor", id, n.Label())
					}
				}
				return nil
			}),
		},
		{
			Name:        "effect_in_refined",
			Description: "Every node's own effect holds at probability 1 in its refined expectation",
			Tags:        []string{"expectation"},
			Check: withGraph(func(_ *Result, g *policy.Graph) error {
				order, _ := g.Reachable()
				for _, id := range order {
					n := g.Node(id)
					var bad error
					n.Effect.Each(func(rel, ent string, d policy.Dist) {
						for v := range d {
							if bad == nil && n.Rexp.Prob(rel, ent, v) < 1-massEpsilon && !removal(n.Rexp, rel, ent, v) {
								bad = fmt.Errorf("node %d: effect %s-%s-%s missing from refined expectation", id, rel, ent, v)
							}
						}
					})
					if bad != nil {
						return bad
					}
				}
				return nil
			}),
		},
		{
			Name:        "bounded_mass",
			Description: "No distribution in any expectation carries more than unit mass",
			Tags:        []string{"expectation"},
			Check: withGraph(func(_ *Result, g *policy.Graph) error {
				order, _ := g.Reachable()
				for _, id := range order {
					n := g.Node(id)
					for _, e := range []policy.Expectation{n.Fexp, n.Bexp, n.Rexp} {
						var bad error
						e.Each(func(rel, ent string, d policy.Dist) {
							for _, prob := range d {
								if bad == nil && (prob < -massEpsilon || prob > 1+massEpsilon) {
									bad = fmt.Errorf("node %d: %s-%s has probability %v", id, rel, ent, prob)
								}
							}
						})
						if bad != nil {
							return bad
						}
					}
				}
				return nil
			}),
		},
		{
			Name:        "unique_state_nodes",
			Description: "No two reachable operator nodes share a prior state",
			Tags:        []string{"graph"},
			Check: withGraph(func(_ *Result, g *policy.Graph) error {
				for _, n := range g.Operators() {
					if c := g.CountByState(n.State); c != 1 {
						return fmt.Errorf("node %d shares its prior state with %d other operators", n.ID, c-1)
					}
				}
				return nil
			}),
		},
		{
			Name:        "actions_are_operators",
			Description: "Every sequenced action names a registered operator",
			Tags:        []string{"sequence"},
			Check: withGraph(func(r *Result, _ *policy.Graph) error {
				for _, a := range r.Actions {
					e, ok := p.registry.Lookup(a.Name)
					if !ok || e.Kind != domain.KindOperator {
						return fmt.Errorf("action %s is not a registered operator", a)
					}
				}
				return nil
			}),
		},
	}
}

func withGraph(fn func(r *Result, g *policy.Graph) error) func(input, output any) error {
	return func(_ any, output any) error {
		r, ok := output.(*Result)
		if !ok || r == nil {
			return errNotAResult
		}
		if !r.Found {
			return nil
		}
		if r.Graph == nil {
			return errNotAResult
		}
		return fn(r, r.Graph)
	}
}

// removal reports whether a removal effect was overwritten by a later
// value for the same pair, which Finish strips from the refined view.
func removal(e policy.Expectation, rel, ent, val string) bool {
	return val == facts.RemovedValue && e.Has(rel, ent)
}
