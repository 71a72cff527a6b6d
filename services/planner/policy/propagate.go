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

// visit states for the memoized graph walks.
const (
	unvisited = iota
	onStack
	done
)

// Propagate annotates every reachable node with Fexp, Bexp and Rexp.
//
// Description:
//
//	Runs the four passes strictly in order: CompoundForward, Backward,
//	Refine, Finish. The graph should already be materialized so that forks
//	carry per-outcome effects.
//
// Thread Safety: Mutates the graph. Not safe for concurrent use.
func Propagate(g *Graph) error {
	if g.Root == None {
		return ErrNoRoot
	}
	CompoundForward(g)
	Backward(g)
	Refine(g)
	Finish(g)
	return nil
}

// CompoundForward computes Fexp(n) = Effect(n) ∪ Fexp(continuations).
//
// Values are membership markers (1.0). A positive value established after a
// removal marker for the same pair cancels the marker. Continuations still on
// the walk stack contribute nothing.
func CompoundForward(g *Graph) {
	state := make(map[NodeID]int)
	var walk func(id NodeID) Expectation
	walk = func(id NodeID) Expectation {
		n := g.Node(id)
		switch state[id] {
		case done:
			return n.Fexp
		case onStack:
			return nil
		}
		state[id] = onStack

		acc := n.Effect.Clone()
		if n.Kind == KindBranch {
			for k, outcome := range n.Outcomes {
				part := outcome.Clone()
				if target, ok := n.Branch[k]; ok && target != None {
					mergeLater(part, walk(target))
				}
				union(acc, part)
			}
		} else {
			for _, c := range g.Continuations(id) {
				mergeLater(acc, walk(c))
			}
		}

		n.Fexp = acc
		state[id] = done
		return acc
	}
	walk(g.Root)
}

// Backward computes Bexp for every reachable node in memoized post-order.
//
// Description:
//
//	contribution(c) is Bexp(c) with Effect(c) written at 1.0. For a branch
//	node each outcome's effect snapshot sits beneath the contribution of its
//	continuation. Bexp(n) averages the contributions of the open
//	continuations with weight 1/open, caps every value at 1.0 and drops the
//	pairs changed by Effect(n).
//
//	A continuation is open when its Bexp is finished. One still on the
//	walk stack (a back reference) is not. When no continuation is open the
//	walk falls back to Next alone and uses only its effect.
func Backward(g *Graph) {
	state := make(map[NodeID]int)
	var walk func(id NodeID)
	walk = func(id NodeID) {
		state[id] = onStack
		n := g.Node(id)
		if n.Kind == KindTerminal {
			n.Bexp = Expectation{}
			state[id] = done
			return
		}

		type edge struct {
			target NodeID
			effect Expectation
		}
		var edges []edge
		if n.Kind == KindBranch {
			for _, k := range sortedKeys(n.Branch) {
				var eff Expectation
				if k < len(n.Outcomes) {
					eff = n.Outcomes[k]
				}
				edges = append(edges, edge{target: n.Branch[k], effect: eff})
			}
			if len(edges) == 0 && n.Next != None {
				edges = append(edges, edge{target: n.Next})
			}
		} else {
			for _, c := range g.Continuations(id) {
				edges = append(edges, edge{target: c})
			}
		}

		for _, e := range edges {
			if state[e.target] == unvisited {
				walk(e.target)
			}
		}

		var open []edge
		for _, e := range edges {
			if state[e.target] == done {
				open = append(open, e)
			}
		}

		acc := Expectation{}
		if len(open) > 0 {
			w := 1.0 / float64(len(open))
			for _, e := range open {
				c := g.Node(e.target)
				contrib := c.Bexp.Clone()
				contrib.overlay(c.Effect)
				if e.effect != nil {
					contrib.underlay(e.effect)
				}
				acc.addWeighted(contrib, w)
			}
		} else if next := g.Node(n.Next); next != nil {
			acc.addWeighted(next.Effect, 1.0)
		}

		n.Bexp = acc.without(n.Effect)
		state[id] = done
	}
	walk(g.Root)
}

// Refine computes Rexp(n) = Bexp(n) with Effect(n) written at 1.0.
//
// The terminal gets the empty map. A repeat-linked node is refined but the
// walk does not continue past it; its target is refined through the path
// that created it.
func Refine(g *Graph) {
	seen := make(map[NodeID]bool)
	var walk func(id NodeID)
	walk = func(id NodeID) {
		if id == None || seen[id] {
			return
		}
		seen[id] = true
		n := g.Node(id)
		if n.Kind == KindTerminal {
			n.Rexp = Expectation{}
			return
		}
		r := n.Bexp.Clone()
		if r == nil {
			r = Expectation{}
		}
		r.overlay(n.Effect)
		n.Rexp = r
		if n.Found {
			return
		}
		for _, c := range g.Continuations(id) {
			walk(c)
		}
	}
	walk(g.Root)
}

// Finish repairs the annotations left incomplete by the earlier passes.
//
// Description:
//
//	In BFS order: an empty Bexp on a non-terminal node defaults to the
//	predecessor's (minus the pairs the node changes itself) and its Rexp is
//	rebuilt from the new Bexp so Rexp stays Bexp plus the own effect at 1.0;
//	removal markers coexisting with positive values are stripped; a missing
//	State is inherited from the predecessor's post state; nil maps become
//	empty maps. The terminal keeps empty expectations.
func Finish(g *Graph) {
	order, pred := g.Reachable()
	for _, id := range order {
		n := g.Node(id)
		p := g.Node(pred[id])

		if n.Kind != KindTerminal && len(n.Bexp) == 0 && p != nil && len(p.Bexp) > 0 {
			n.Bexp = p.Bexp.without(n.Effect)
			n.Rexp = n.Bexp.Clone()
			n.Rexp.overlay(n.Effect)
		}
		if n.State == nil && p != nil {
			n.State = p.PostState()
		}

		n.Effect = ensure(n.Effect)
		n.Fexp = stripRemovals(ensure(n.Fexp))
		n.Bexp = stripRemovals(ensure(n.Bexp))
		n.Rexp = stripRemovals(ensure(n.Rexp))
		if n.Preconditions == nil {
			n.Preconditions = facts.Record{}
		}
		if n.Branch == nil {
			n.Branch = make(map[int]NodeID)
		}
	}
}

// mergeLater folds a later expectation into acc. A positive later value
// cancels an earlier removal marker on the same pair.
func mergeLater(acc, later Expectation) {
	for rel, ents := range later {
		for ent, d := range ents {
			for v := range d {
				if cur := acc.Get(rel, ent); v != facts.RemovedValue && cur != nil {
					delete(cur, facts.RemovedValue)
				}
				acc.Set(rel, ent, v, 1.0)
			}
		}
	}
}

// union adds every value of src to acc at 1.0.
func union(acc, src Expectation) {
	for rel, ents := range src {
		for ent, d := range ents {
			for v := range d {
				acc.Set(rel, ent, v, 1.0)
			}
		}
	}
}

func stripRemovals(e Expectation) Expectation {
	for rel, ents := range e {
		for ent, d := range ents {
			if _, ok := d[facts.RemovedValue]; ok && len(d) > 1 {
				delete(d, facts.RemovedValue)
			}
			if len(d) == 0 {
				delete(ents, ent)
			}
		}
		if len(ents) == 0 {
			delete(e, rel)
		}
	}
	return e
}

func ensure(e Expectation) Expectation {
	if e == nil {
		return Expectation{}
	}
	return e
}
