// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package combat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/eval"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

func world(t *testing.T, atoms ...string) *facts.State {
	t.Helper()
	st, err := facts.ParseAtoms(atoms)
	require.NoError(t, err)
	return st
}

func farApart(t *testing.T) *facts.State {
	return world(t,
		"agents-steve",
		"status-steve-alive",
		"agent_at-steve-house",
		"mobs-zombie1-hostile",
		"status-zombie1-alive",
		"agent_at-zombie1-field",
	)
}

func newPlanner(t *testing.T) *htn.Planner {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	p, err := htn.New(r, htn.DefaultConfig())
	require.NoError(t, err)
	return p
}

func labels(actions []policy.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.String()
	}
	return out
}

func TestRegister(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.True(t, r.Sealed())
	assert.NoError(t, r.Validate())
	assert.Equal(t, []string{OpAttack, OpLookAt, OpMoveTo}, r.Names(domain.KindOperator))
	assert.Len(t, r.Templates(), 3)

	e, ok := r.Lookup(OpAttack)
	require.True(t, ok)
	assert.Equal(t, []string{RelStatus}, e.Operator.Touches)

	t.Run("sealed registry", func(t *testing.T) {
		assert.ErrorIs(t, Register(r), domain.ErrSealed)
	})
}

func TestOperators(t *testing.T) {
	t.Run("moveto walks to the target", func(t *testing.T) {
		st := farApart(t)
		out, err := moveTo(st, []string{"steve", NoSource, "zombie1"})
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.True(t, out.Success.Has(RelAgentAt, "steve", "field"))
		assert.True(t, st.Has(RelAgentAt, "steve", "house"), "input state untouched")
		assert.Empty(t, out.Failures)
	})

	t.Run("moveto fails when already there", func(t *testing.T) {
		st := world(t, "agents-steve", "agent_at-steve-field", "agent_at-zombie1-field")
		out, err := moveTo(st, []string{"steve", NoSource, "zombie1"})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("moveto unknown target location", func(t *testing.T) {
		st := world(t, "agents-steve", "agent_at-steve-field")
		out, err := moveTo(st, []string{"steve", NoSource, "creeper"})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("lookat", func(t *testing.T) {
		st := farApart(t)
		out, err := lookAt(st, []string{"steve", NoSource, "zombie1"})
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.True(t, out.Success.Has(RelLookingAt, "steve", "zombie1"))

		again, err := lookAt(out.Success, []string{"steve", NoSource, "zombie1"})
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("attack needs position and facing", func(t *testing.T) {
		out, err := attack(farApart(t), []string{"steve", "zombie1"})
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("attack outcomes", func(t *testing.T) {
		st := world(t,
			"agents-steve", "agent_at-steve-field", "agent_looking_at-steve-zombie1",
			"mobs-zombie1-hostile", "status-zombie1-alive", "agent_at-zombie1-field",
		)
		out, err := attack(st, []string{"steve", "zombie1"})
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.True(t, out.Success.Has(RelStatus, "zombie1", Dead))
		require.Len(t, out.Failures, 1)
		assert.True(t, out.Failures[0].Has(RelStatus, "steve", Hurt))
		assert.True(t, out.Preconditions.Touches(RelLookingAt, "steve"))
	})

	t.Run("wrong arity is an error", func(t *testing.T) {
		_, err := attack(farApart(t), []string{"steve"})
		assert.Error(t, err)
		_, err = moveTo(farApart(t), []string{"steve", "zombie1"})
		assert.Error(t, err)
	})
}

func TestPlan_ApproachFaceAttack(t *testing.T) {
	p := newPlanner(t)
	st := farApart(t)

	res, err := p.Plan(context.Background(), st, domain.NewTask(TaskKill, "steve", "zombie1"))
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, []string{
		"MOVETO(steve, none, zombie1)",
		"LOOKAT(steve, none, zombie1)",
		"ATTACK(steve, zombie1)",
	}, labels(res.Actions))
	assert.True(t, res.FinalState.Has(RelStatus, "zombie1", Dead))
	assert.Equal(t, 1, res.Stats.BranchRuns)

	vr := eval.Verify(p, st, res)
	for _, f := range vr.FailedProperties() {
		t.Errorf("property %s failed: %v", f.Name, f.Error)
	}
}

func TestPlan_MissedAttackForks(t *testing.T) {
	p := newPlanner(t)
	res, err := p.Plan(context.Background(), farApart(t), domain.NewTask(TaskKill, "steve", "zombie1"))
	require.NoError(t, err)
	require.True(t, res.Found)

	g := res.Graph
	var strike *policy.Node
	for _, op := range g.Operators() {
		if op.Name == OpAttack && op.BranchDepth == 0 {
			strike = op
		}
	}
	require.NotNil(t, strike)

	fork := g.Node(strike.Next)
	require.Equal(t, policy.KindBranch, fork.Kind)
	require.Len(t, fork.Branch, 2, "success and miss continuations")
	assert.Equal(t, g.Terminal, fork.Branch[0])

	retry := g.Node(fork.Branch[1])
	require.Equal(t, policy.KindRoot, retry.Kind)
	assert.Equal(t, 1, retry.BranchDepth)

	// Both continuations kill the mob; only the miss hurts the agent.
	assert.InDelta(t, 1.0, fork.Bexp.Prob(RelStatus, "zombie1", Dead), 1e-9)
	assert.InDelta(t, 0.5, fork.Bexp.Prob(RelStatus, "steve", Hurt), 1e-9)
	fork.Bexp.Each(func(rel, ent string, d policy.Dist) {
		assert.LessOrEqual(t, d.Sum(), 1.0+1e-9, "%s-%s", rel, ent)
	})

	// The hurt agent retries the strike; a second miss leaves the world as
	// it was and links back to the retry.
	again := g.Node(retry.Next)
	require.Equal(t, OpAttack, again.Name)
	againFork := g.Node(again.Next)
	link := g.Node(againFork.Branch[1])
	require.NotNil(t, link)
	assert.True(t, link.Found)
	assert.Equal(t, again.ID, link.LinkedTo)

	t.Run("deviation after a miss", func(t *testing.T) {
		observed := world(t,
			"agents-steve", "status-steve-hurt", "agent_at-steve-field",
			"agent_looking_at-steve-zombie1",
			"mobs-zombie1-hostile", "status-zombie1-alive", "agent_at-zombie1-field",
		)
		dev, err := g.Deviation(strike.ID, observed)
		require.NoError(t, err)
		assert.Equal(t, 1, dev.Outcome)
		assert.Equal(t, retry.ID, dev.Next)
	})
}

func TestPlan_AlreadyDead(t *testing.T) {
	p := newPlanner(t)
	st := world(t, "agents-steve", "mobs-zombie1-hostile", "status-zombie1-dead", "agent_at-zombie1-field")

	res, err := p.Plan(context.Background(), st, domain.NewTask(TaskKill, "steve", "zombie1"))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Empty(t, res.Actions)
}

func TestPlan_PassiveMobIsNotAttacked(t *testing.T) {
	p := newPlanner(t)
	st := world(t,
		"agents-steve", "agent_at-steve-house",
		"mobs-cow-passive", "status-cow-alive", "agent_at-cow-field",
	)
	res, err := p.Plan(context.Background(), st, domain.NewTask(TaskKill, "steve", "cow"))
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestPlan_AmbiguousBinding(t *testing.T) {
	p := newPlanner(t)
	_, err := p.Plan(context.Background(), farApart(t), domain.NewTask(TaskKill, "steve", "steve"))
	assert.ErrorIs(t, err, domain.ErrAmbiguousBinding)
}

func TestPlan_ClosestMobFirst(t *testing.T) {
	p := newPlanner(t)
	st := world(t,
		"agents-steve", "agent_at-steve-house",
		"mobs-zombie1-hostile", "status-zombie1-alive", "agent_at-zombie1-field",
		"mobs-zombie2-hostile", "status-zombie2-alive", "agent_at-zombie2-barn",
		"closest_hostile_mob-steve-zombie2",
	)
	res, err := p.Plan(context.Background(), st, domain.NewTask(TaskKillTwoHostileMobs, "steve", "zombie1", "zombie2"))
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, []string{
		"MOVETO(steve, none, zombie2)",
		"LOOKAT(steve, none, zombie2)",
		"ATTACK(steve, zombie2)",
		"MOVETO(steve, none, zombie1)",
		"LOOKAT(steve, none, zombie1)",
		"ATTACK(steve, zombie1)",
	}, labels(res.Actions))
	assert.True(t, eval.Verify(p, st, res).Passed())
}

func TestVocabulary(t *testing.T) {
	st := world(t,
		"agents-steve", "agents-alex",
		"mobs-zombie1-hostile", "status-zombie1-alive",
		"mobs-zombie2-hostile", "status-zombie2-dead",
		"mobs-cow-passive",
		"mobs-skeleton-hostile",
	)
	v := Vocabulary{}
	assert.Equal(t, []string{TypeAgent, TypeMob}, v.Types())
	assert.Equal(t, []string{"alex", "steve"}, v.Entities(st, TypeAgent))
	assert.Equal(t, []string{"cow", "skeleton", "zombie1", "zombie2"}, v.Entities(st, TypeMob))
	assert.Nil(t, v.Entities(st, "villager"))
	// zombie1 and skeleton (unknown status counts as alive).
	assert.Equal(t, 2, v.Population(st))
}

func TestLiveHostile(t *testing.T) {
	st := world(t, "agents-steve", "mobs-zombie1-hostile", "mobs-cow-passive", "mobs-zombie2-hostile", "status-zombie2-dead")
	for _, tc := range []struct {
		args []string
		want bool
	}{
		{[]string{"steve", "zombie1"}, true},
		{[]string{"steve", "cow"}, false},
		{[]string{"steve", "zombie2"}, false},
		{[]string{"alex", "zombie1"}, false},
		{[]string{"steve"}, false},
	} {
		ok, err := liveHostile(st, tc.args)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "%v", tc.args)
	}
}
