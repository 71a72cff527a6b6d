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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

func noopOperator(st *facts.State, _ []string) (*Outcome, error) {
	return &Outcome{Success: st.Clone()}, nil
}

func noopMethod(_ *facts.State, _ []string) (*Decomposition, error) {
	return &Decomposition{}, nil
}

func TestTask_String(t *testing.T) {
	assert.Equal(t, "ATTACK(steve, zombie1)", NewTask("ATTACK", "steve", "zombie1").String())
	assert.Equal(t, "idle()", NewTask("idle").String())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "operator", KindOperator.String())
	assert.Equal(t, "methods", KindMethods.String())
	assert.Equal(t, "unknown", Kind(7).String())
}

func TestRegistry_Register(t *testing.T) {
	t.Run("operators and methods", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterOperator("MOVETO", noopOperator, "agent_at"))
		require.NoError(t, r.RegisterMethods("kill", Method{Name: "kill_it", Fn: noopMethod}))

		e, ok := r.Lookup("MOVETO")
		require.True(t, ok)
		assert.Equal(t, KindOperator, e.Kind)
		assert.Equal(t, []string{"agent_at"}, e.Operator.Touches)

		e, ok = r.Lookup("kill")
		require.True(t, ok)
		assert.Equal(t, KindMethods, e.Kind)
		require.Len(t, e.Methods, 1)
		assert.Equal(t, "kill_it", e.Methods[0].Name)

		_, ok = r.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("methods append in registration order", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterMethods("kill", Method{Name: "first", Fn: noopMethod}))
		require.NoError(t, r.RegisterMethods("kill", Method{Fn: noopMethod}, Method{Name: "third", Fn: noopMethod}))

		methods := r.Methods("kill")
		require.Len(t, methods, 3)
		assert.Equal(t, "first", methods[0].Name)
		assert.Equal(t, "kill_m1", methods[1].Name, "unnamed methods get a positional name")
		assert.Equal(t, "third", methods[2].Name)
		assert.Nil(t, r.Methods("missing"))
	})

	t.Run("re-registering an operator replaces it", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterOperator("LOOKAT", noopOperator))
		require.NoError(t, r.RegisterOperator("LOOKAT", noopOperator, "agent_looking_at"))
		e, _ := r.Lookup("LOOKAT")
		assert.Equal(t, []string{"agent_looking_at"}, e.Operator.Touches)
		assert.Equal(t, []string{"LOOKAT"}, r.Names(KindOperator))
	})

	t.Run("kind conflicts", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterOperator("ATTACK", noopOperator))
		require.NoError(t, r.RegisterMethods("kill", Method{Fn: noopMethod}))

		assert.ErrorIs(t, r.RegisterMethods("ATTACK", Method{Fn: noopMethod}), ErrKindConflict)
		assert.ErrorIs(t, r.RegisterOperator("kill", noopOperator), ErrKindConflict)
	})

	t.Run("rejects incomplete registrations", func(t *testing.T) {
		r := NewRegistry()
		assert.Error(t, r.RegisterOperator("", noopOperator))
		assert.Error(t, r.RegisterOperator("X", nil))
		assert.Error(t, r.RegisterMethods("kill"))
		assert.Error(t, r.RegisterMethods("kill", Method{Name: "no_fn"}))
		assert.Error(t, r.RegisterTemplate(Template{}))
	})

	t.Run("sealed registry is read-only", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterOperator("ATTACK", noopOperator))
		r.Seal()
		assert.True(t, r.Sealed())
		assert.ErrorIs(t, r.RegisterOperator("LOOKAT", noopOperator), ErrSealed)
		assert.ErrorIs(t, r.RegisterMethods("kill", Method{Fn: noopMethod}), ErrSealed)
		assert.ErrorIs(t, r.RegisterTemplate(Template{Name: "kill"}), ErrSealed)
	})
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Validate(), ErrNoOperators)

	require.NoError(t, r.RegisterOperator("ATTACK", noopOperator))
	assert.ErrorIs(t, r.Validate(), ErrNoMethods)

	require.NoError(t, r.RegisterMethods("kill", Method{Fn: noopMethod}))
	assert.NoError(t, r.Validate())

	ops, compound := r.Counts()
	assert.Equal(t, 1, ops)
	assert.Equal(t, 1, compound)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterOperator("MOVETO", noopOperator))
	require.NoError(t, r.RegisterOperator("ATTACK", noopOperator))
	require.NoError(t, r.RegisterMethods("kill", Method{Fn: noopMethod}))
	require.NoError(t, r.RegisterMethods("approach", Method{Fn: noopMethod}))

	assert.Equal(t, []string{"ATTACK", "MOVETO"}, r.Names(KindOperator))
	assert.Equal(t, []string{"approach", "kill"}, r.Names(KindMethods))
}

func TestRegistry_Templates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTemplate(Template{Name: "kill_hostile_mob", Params: []string{"agent", "mob"}}))
	require.NoError(t, r.RegisterTemplate(Template{Name: "patrol", Params: []string{"agent"}}))

	tpls := r.Templates()
	require.Len(t, tpls, 2)
	assert.Equal(t, "kill_hostile_mob", tpls[0].Name)

	// The returned slice is a copy.
	tpls[0].Name = "changed"
	assert.Equal(t, "kill_hostile_mob", r.Templates()[0].Name)

	named, err := r.TemplatesNamed("patrol", "kill_hostile_mob")
	require.NoError(t, err)
	require.Len(t, named, 2)
	assert.Equal(t, "patrol", named[0].Name)
	assert.Equal(t, "kill_hostile_mob", named[1].Name)

	none, err := r.TemplatesNamed()
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = r.TemplatesNamed("dance")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterOperator("ATTACK", noopOperator))
	require.NoError(t, r.RegisterMethods("kill", Method{Fn: noopMethod}))
	r.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := r.Lookup("ATTACK")
			assert.True(t, ok)
			assert.NoError(t, r.Validate())
		}()
	}
	wg.Wait()
}

func TestDistinct(t *testing.T) {
	assert.NoError(t, Distinct())
	assert.NoError(t, Distinct("steve", "zombie1", "zombie2"))

	err := Distinct("steve", "zombie1", "steve")
	assert.ErrorIs(t, err, ErrAmbiguousBinding)
	assert.Contains(t, err.Error(), `"steve"`)
}
