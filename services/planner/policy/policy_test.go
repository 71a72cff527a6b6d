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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

func mustState(t *testing.T, atoms ...string) *facts.State {
	t.Helper()
	st, err := facts.ParseAtoms(atoms)
	require.NoError(t, err)
	return st
}

// forkGraph builds root -> A -> B -> terminal where A may fail into a state
// handled by a second (empty) run root.
type forkGraph struct {
	g          *Graph
	root       *Node
	a, b       *Node
	failRoot   *Node
	s0, s1, s2 *facts.State
	failed     *facts.State
}

func newForkGraph(t *testing.T) *forkGraph {
	t.Helper()
	f := &forkGraph{g: NewGraph()}
	f.s0 = mustState(t, "agents-steve", "status-steve-alive")
	f.s1 = f.s0.Clone()
	f.s1.Set("x", "a", "1")
	f.s2 = f.s1.Clone()
	f.s2.Set("y", "b", "2")
	f.failed = f.s0.Clone()
	f.failed.Set("status", "steve", "hurt")

	f.root = f.g.NewNode(KindRoot, "root", nil)
	f.g.Root = f.root.ID
	f.a = f.g.NewNode(KindOperator, "A", []string{"steve"})
	f.a.State, f.a.Result = f.s0, f.s1
	f.a.Effect = Singleton(facts.Diff(f.s0, f.s1))
	f.a.Failures = []*facts.State{f.failed}

	f.b = f.g.NewNode(KindOperator, "B", []string{"steve"})
	f.b.State, f.b.Result = f.s1, f.s2
	f.b.Effect = Singleton(facts.Diff(f.s1, f.s2))

	f.failRoot = f.g.NewNode(KindRoot, "root", nil)
	f.failRoot.State = f.failed
	f.failRoot.BranchDepth = 1
	f.failRoot.Next = f.g.Terminal

	f.root.State = f.s0
	f.root.Next = f.a.ID
	f.a.Next = f.b.ID
	f.a.Branch[0] = f.failRoot.ID
	f.b.Next = f.g.Terminal
	return f
}

func TestMaterialize(t *testing.T) {
	f := newForkGraph(t)

	inserted := Materialize(f.g)
	assert.Equal(t, 2, inserted)

	fork := f.g.Node(f.a.Next)
	require.NotNil(t, fork)
	assert.Equal(t, KindBranch, fork.Kind)
	assert.Empty(t, f.a.Branch)
	assert.Equal(t, f.b.ID, fork.Next)
	assert.Equal(t, f.b.ID, fork.Branch[0])
	assert.Equal(t, f.failRoot.ID, fork.Branch[1])
	require.Len(t, fork.Outcomes, 2)
	assert.Equal(t, 1.0, fork.Outcomes[0].Prob("x", "a", "1"))
	assert.Equal(t, 1.0, fork.Outcomes[1].Prob("status", "steve", "hurt"))
	assert.True(t, fork.State.Equal(f.s1), "branch node carries the operator's result state")

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, 0, Materialize(f.g))
	})
}

func TestPropagate(t *testing.T) {
	f := newForkGraph(t)
	Materialize(f.g)
	require.NoError(t, Propagate(f.g))

	t.Run("compound forward effect covers every continuation", func(t *testing.T) {
		assert.Equal(t, 1.0, f.a.Fexp.Prob("x", "a", "1"))
		assert.Equal(t, 1.0, f.a.Fexp.Prob("y", "b", "2"))
		assert.Equal(t, 1.0, f.a.Fexp.Prob("status", "steve", "hurt"))
		assert.Empty(t, f.g.Node(f.g.Terminal).Fexp)
	})

	t.Run("both open continuations weigh one half", func(t *testing.T) {
		fork := f.g.Node(f.a.Next)
		assert.InDelta(t, 0.5, fork.Bexp.Prob("y", "b", "2"), 1e-9)
		assert.InDelta(t, 0.5, fork.Bexp.Prob("status", "steve", "hurt"), 1e-9)
		assert.InDelta(t, 0.5, f.a.Bexp.Prob("y", "b", "2"), 1e-9)
	})

	t.Run("own effect excluded from backward expectation", func(t *testing.T) {
		assert.False(t, f.a.Bexp.Has("x", "a"))
	})

	t.Run("refined expectation contains own effect at certainty", func(t *testing.T) {
		order, _ := f.g.Reachable()
		for _, id := range order {
			n := f.g.Node(id)
			n.Effect.Each(func(rel, ent string, d Dist) {
				for v := range d {
					assert.Equal(t, 1.0, n.Rexp.Prob(rel, ent, v), "node %d %s-%s-%s", id, rel, ent, v)
				}
			})
		}
		assert.Empty(t, f.g.Node(f.g.Terminal).Rexp)
	})

	t.Run("empty backward expectation takes the predecessor's", func(t *testing.T) {
		fork := f.g.Node(f.a.Next)
		require.Equal(t, KindBranch, fork.Kind)

		// B only reaches the terminal, so Backward leaves it empty.
		assert.Equal(t, fork.Bexp.without(f.b.Effect), f.b.Bexp)
		assert.InDelta(t, 0.5, f.b.Bexp.Prob("status", "steve", "hurt"), 1e-9)
		assert.False(t, f.b.Bexp.Has("y", "b"), "own effect stays out of the inherited expectation")

		assert.InDelta(t, 0.5, f.b.Rexp.Prob("status", "steve", "hurt"), 1e-9, "Rexp rebuilt from the new Bexp")
		assert.Equal(t, 1.0, f.b.Rexp.Prob("y", "b", "2"))

		terminal := f.g.Node(f.g.Terminal)
		assert.Empty(t, terminal.Bexp)
		assert.Empty(t, terminal.Rexp)
	})

	t.Run("distribution mass bounded", func(t *testing.T) {
		order, _ := f.g.Reachable()
		for _, id := range order {
			n := f.g.Node(id)
			for _, e := range []Expectation{n.Bexp, n.Rexp} {
				e.Each(func(rel, ent string, d Dist) {
					assert.LessOrEqual(t, d.Sum(), 1.0+1e-9, "node %d %s-%s", id, rel, ent)
				})
			}
		}
	})

	t.Run("finish fills every annotation", func(t *testing.T) {
		order, _ := f.g.Reachable()
		for _, id := range order {
			n := f.g.Node(id)
			assert.NotNil(t, n.Fexp)
			assert.NotNil(t, n.Bexp)
			assert.NotNil(t, n.Rexp)
			assert.NotNil(t, n.State, "node %d", id)
		}
	})

	t.Run("no root", func(t *testing.T) {
		assert.ErrorIs(t, Propagate(NewGraph()), ErrNoRoot)
	})
}

func TestPropagate_BackReference(t *testing.T) {
	g := NewGraph()
	st := mustState(t, "agents-steve")
	root := g.NewNode(KindRoot, "root", nil)
	g.Root = root.ID
	op := g.NewNode(KindOperator, "WAIT", []string{"steve"})
	op.State, op.Result = st, st
	root.Next = op.ID

	// A failure that repeats the root state links back to the operator.
	link := g.NewNode(KindRoot, "link", nil)
	link.Found = true
	link.LinkedTo = op.ID
	link.Next = op.ID
	op.Failures = []*facts.State{st}
	op.Branch[0] = link.ID
	op.Next = g.Terminal

	Materialize(g)
	require.NoError(t, Propagate(g))

	for _, id := range []NodeID{root.ID, op.ID, link.ID} {
		n := g.Node(id)
		assert.NotNil(t, n.Rexp, "node %d", id)
		n.Bexp.Each(func(rel, ent string, d Dist) {
			assert.False(t, math.IsNaN(d.Sum()))
		})
	}
}

func TestMergeLater_CancelsRemoval(t *testing.T) {
	acc := Expectation{}
	acc.Set("agent_at", "steve", facts.RemovedValue, 1.0)
	later := Expectation{}
	later.Set("agent_at", "steve", "house", 1.0)

	mergeLater(acc, later)

	d := acc.Get("agent_at", "steve")
	assert.Equal(t, Dist{"house": 1.0}, d)
}

func TestStripRemovals(t *testing.T) {
	e := Expectation{}
	e.Set("status", "m", facts.RemovedValue, 0.5)
	e.Set("status", "m", "dead", 0.5)
	e.Set("agent_at", "steve", facts.RemovedValue, 1.0)

	stripRemovals(e)

	assert.Equal(t, Dist{"dead": 0.5}, e.Get("status", "m"))
	assert.Equal(t, Dist{facts.RemovedValue: 1.0}, e.Get("agent_at", "steve"), "a lone removal stays")
}

func TestSequence(t *testing.T) {
	t.Run("nominal path skips synthetic nodes", func(t *testing.T) {
		f := newForkGraph(t)
		Materialize(f.g)

		actions, err := Sequence(f.g)
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, "A(steve)", actions[0].String())
		assert.Equal(t, "B(steve)", actions[1].String())

		path, err := Path(f.g)
		require.NoError(t, err)
		assert.Equal(t, []NodeID{f.a.ID, f.b.ID}, path)
	})

	t.Run("empty plan", func(t *testing.T) {
		g := NewGraph()
		root := g.NewNode(KindRoot, "root", nil)
		g.Root = root.ID
		root.Next = g.Terminal

		actions, err := Sequence(g)
		require.NoError(t, err)
		assert.NotNil(t, actions)
		assert.Empty(t, actions)
	})

	t.Run("dangling path", func(t *testing.T) {
		g := NewGraph()
		root := g.NewNode(KindRoot, "root", nil)
		g.Root = root.ID

		_, err := Sequence(g)
		assert.ErrorIs(t, err, ErrNoTerminalPath)
	})

	t.Run("cycle", func(t *testing.T) {
		g := NewGraph()
		root := g.NewNode(KindRoot, "root", nil)
		g.Root = root.ID
		op := g.NewNode(KindOperator, "SPIN", nil)
		root.Next = op.ID
		op.Next = root.ID

		_, err := Sequence(g)
		assert.ErrorIs(t, err, ErrNoTerminalPath)
	})
}

func TestDeviation(t *testing.T) {
	f := newForkGraph(t)
	Materialize(f.g)
	require.NoError(t, Propagate(f.g))

	t.Run("success observation follows the nominal branch", func(t *testing.T) {
		d, err := f.g.Deviation(f.a.ID, f.s1)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Outcome)
		assert.Equal(t, f.b.ID, d.Next)
		assert.Equal(t, 1.0, d.Score)
		assert.InDelta(t, 0.25, d.Surprise, 1e-9, "status alive contradicts the hurt contingency")
	})

	t.Run("failure observation follows the contingency", func(t *testing.T) {
		d, err := f.g.Deviation(f.a.ID, f.failed)
		require.NoError(t, err)
		assert.Equal(t, 1, d.Outcome)
		assert.Equal(t, f.failRoot.ID, d.Next)
		assert.Equal(t, 1.0, d.Score)
	})

	t.Run("rejects non operators", func(t *testing.T) {
		_, err := f.g.Deviation(f.root.ID, f.s0)
		assert.ErrorIs(t, err, ErrNotOperator)
	})
}

func TestGraph_Truncate(t *testing.T) {
	g := NewGraph()
	mark := g.Mark()
	g.NewNode(KindOperator, "A", nil)
	g.NewNode(KindOperator, "B", nil)
	assert.Equal(t, 3, g.Len())

	g.Truncate(mark)
	assert.Equal(t, 1, g.Len())
	assert.Nil(t, g.Node(1))
	assert.Equal(t, KindTerminal, g.Node(g.Terminal).Kind)
}

func TestDeviation_NextStep(t *testing.T) {
	f := newForkGraph(t)
	f.b.Preconditions = facts.Record{}.Add("x", "a", "1")
	Materialize(f.g)
	require.NoError(t, Propagate(f.g))

	t.Run("nominal outcome with next step ready", func(t *testing.T) {
		dev, err := f.g.Deviation(f.a.ID, f.s1)
		require.NoError(t, err)
		assert.Equal(t, 0, dev.Outcome)
		assert.Equal(t, f.b.ID, dev.Next)
		assert.Equal(t, 1.0, dev.Score)
		assert.Equal(t, f.b.ID, dev.NextStep)
		assert.True(t, dev.Ready)
	})

	t.Run("next step precondition broken", func(t *testing.T) {
		dev, err := f.g.Deviation(f.a.ID, f.s0)
		require.NoError(t, err)
		assert.Equal(t, 0, dev.Outcome, "no outcome matches, nominal wins the tie")
		assert.Equal(t, f.b.ID, dev.NextStep)
		assert.False(t, dev.Ready)
	})

	t.Run("failure outcome without further steps", func(t *testing.T) {
		dev, err := f.g.Deviation(f.a.ID, f.failed)
		require.NoError(t, err)
		assert.Equal(t, 1, dev.Outcome)
		assert.Equal(t, f.failRoot.ID, dev.Next)
		assert.Equal(t, None, dev.NextStep)
		assert.True(t, dev.Ready)
	})

	t.Run("nil observation", func(t *testing.T) {
		_, err := f.g.Deviation(f.a.ID, nil)
		assert.ErrorIs(t, err, ErrNilObservation)
	})
}
