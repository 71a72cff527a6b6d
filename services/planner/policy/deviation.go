// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"fmt"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Deviation scores an observed world against the outcomes of an operator.
type Deviation struct {
	// Outcome is the best-matching outcome index (0 is success).
	Outcome int `json:"outcome"`

	// Next is the node that continues the matching outcome, or None.
	Next NodeID `json:"next"`

	// Score is the fraction of the outcome's effect that holds, in [0, 1].
	Score float64 `json:"score"`

	// Surprise is the probability mass of Rexp contradicted by the observed
	// world, averaged over the pairs the observation mentions.
	Surprise float64 `json:"surprise"`

	// NextStep is the first operator reached from Next, or None.
	NextStep NodeID `json:"next_step"`

	// Ready reports whether the precondition record of NextStep holds in
	// the observed world. True when there is no next step.
	Ready bool `json:"ready"`
}

// Deviation compares an observed state with what the graph expected after
// operator node id.
//
// Description:
//
//	Each outcome of the branch node following the operator is scored by the
//	fraction of its effect snapshot that holds in observed. Ties go to the
//	lower outcome index, so an observation matching nothing reports the
//	nominal continuation. Surprise measures how far the observation strays
//	from the operator's refined expectation. Ready checks the next
//	operator's precondition record, the facts it consulted when planned,
//	against the observation.
//
// Inputs:
//   - id: An operator node of a materialized graph.
//   - observed: The world state seen after executing the operator.
//
// Outputs:
//   - Deviation: The best-matching outcome.
//   - error: ErrNilObservation, or ErrNotOperator if id is not an operator
//     node.
func (g *Graph) Deviation(id NodeID, observed *facts.State) (Deviation, error) {
	if observed == nil {
		return Deviation{}, ErrNilObservation
	}
	n := g.Node(id)
	if n == nil || n.Kind != KindOperator {
		return Deviation{}, fmt.Errorf("deviation: %w: %d", ErrNotOperator, id)
	}

	best := Deviation{Outcome: 0, Next: n.Next, Score: -1}
	fork := g.Node(n.Next)
	if fork != nil && fork.Kind == KindBranch {
		best.Next = None
		for k, outcome := range fork.Outcomes {
			score := matchFraction(outcome, observed)
			if score > best.Score {
				best.Outcome = k
				best.Score = score
				best.Next = None
				if target, ok := fork.Branch[k]; ok {
					best.Next = target
				}
			}
		}
	}
	if best.Score < 0 {
		best.Score = matchFraction(n.Effect, observed)
	}
	best.Surprise = surprise(n.Rexp, observed)

	best.NextStep, best.Ready = None, true
	if step := g.nextOperator(best.Next); step != nil {
		best.NextStep = step.ID
		best.Ready = step.Preconditions.Satisfied(observed)
	}
	return best, nil
}

// nextOperator follows Next edges from id to the first operator node.
func (g *Graph) nextOperator(id NodeID) *Node {
	seen := make(map[NodeID]bool)
	for id != None && !seen[id] {
		seen[id] = true
		n := g.Node(id)
		if n == nil {
			return nil
		}
		if n.Kind == KindOperator {
			return n
		}
		id = n.Next
	}
	return nil
}

func matchFraction(e Expectation, observed *facts.State) float64 {
	total, held := 0, 0
	e.Each(func(rel, ent string, d Dist) {
		for v := range d {
			total++
			if holds(observed, rel, ent, v) {
				held++
			}
		}
	})
	if total == 0 {
		return 1.0
	}
	return float64(held) / float64(total)
}

func surprise(rexp Expectation, observed *facts.State) float64 {
	pairs := 0
	var mass float64
	rexp.Each(func(rel, ent string, d Dist) {
		got, ok := observed.Get(rel, ent)
		if !ok {
			return
		}
		pairs++
		for v, p := range d {
			if v != got {
				mass += p
			}
		}
	})
	if pairs == 0 {
		return 0
	}
	return capProb(mass / float64(pairs))
}

func holds(st *facts.State, rel, ent, val string) bool {
	got, ok := st.Get(rel, ent)
	if val == facts.RemovedValue {
		return !ok
	}
	return ok && got == val
}
