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

import "github.com/AleutianAI/AleutianHTN/services/planner/facts"

// Materialize inserts a synthetic branch node after every operator that has
// a successor or alternate outcomes.
//
// Description:
//
//	For a node n with Next = a and Branch = {0: b0, 1: b1, ...} a branch node
//	B is created with Branch = {0: a, 1: b0, 2: b1, ...} and Next = a. Outcome
//	0 is the nominal (success) continuation. B carries one effect snapshot
//	per outcome and the state existing at that point. n.Next becomes B and
//	n.Branch is cleared, so every fork in the graph has the same shape.
//
//	Materialize is idempotent: nodes already followed by a branch node are
//	skipped.
//
// Outputs:
//   - int: Number of branch nodes inserted.
func Materialize(g *Graph) int {
	order, _ := g.Reachable()
	inserted := 0
	for _, id := range order {
		n := g.Node(id)
		if n.Found || n.Kind != KindOperator {
			continue
		}
		if n.Next == None && len(n.Branch) == 0 {
			continue
		}
		if next := g.Node(n.Next); next != nil && next.Kind == KindBranch && len(n.Branch) == 0 {
			continue
		}

		b := g.NewNode(KindBranch, "branch", n.Args)
		b.Depth = n.Depth
		b.BranchDepth = n.BranchDepth
		b.State = n.PostState()
		b.Next = n.Next
		b.Outcomes = []Expectation{n.Effect.Clone()}
		if n.Next != None {
			b.Branch[0] = n.Next
		}
		for k := 0; k < len(n.Failures); k++ {
			b.Outcomes = append(b.Outcomes, failureEffect(n, k))
			if target, ok := n.Branch[k]; ok && target != None {
				b.Branch[k+1] = target
			}
		}
		for _, k := range sortedKeys(n.Branch) {
			if k >= len(n.Failures) {
				// A fork without a recorded failure state: keep the edge.
				for len(b.Outcomes) <= k+1 {
					b.Outcomes = append(b.Outcomes, Expectation{})
				}
				b.Branch[k+1] = n.Branch[k]
			}
		}

		n.Next = b.ID
		n.Branch = make(map[int]NodeID)
		inserted++
	}
	return inserted
}

func failureEffect(n *Node, k int) Expectation {
	if n.State == nil || n.Failures[k] == nil {
		return Expectation{}
	}
	return Singleton(facts.Diff(n.State, n.Failures[k]))
}
