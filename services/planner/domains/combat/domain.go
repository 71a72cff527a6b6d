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
	"fmt"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Name identifies the domain in the CLI and the HTTP API.
const Name = "combat"

// Entity types.
const (
	TypeAgent = "agent"
	TypeMob   = "mob"
)

// Register adds the combat operators, methods and grounding templates to r.
//
// Description:
//
//	Operators declare the relations they touch so the engine rejects
//	accidental writes. Templates fall into the 0, 1 and 2 hostile mob
//	buckets used by the grounding prefilter.
//
// Outputs:
//   - error: Any registration error (sealed registry, kind conflict).
func Register(r *domain.Registry) error {
	ops := []struct {
		name    string
		fn      domain.OperatorFunc
		touches []string
	}{
		{OpMoveTo, moveTo, []string{RelAgentAt}},
		{OpLookAt, lookAt, []string{RelLookingAt}},
		{OpAttack, attack, []string{RelStatus}},
	}
	for _, op := range ops {
		if err := r.RegisterOperator(op.name, op.fn, op.touches...); err != nil {
			return fmt.Errorf("combat: %w", err)
		}
	}

	methods := []struct {
		task    string
		methods []domain.Method
	}{
		{TaskKill, []domain.Method{
			{Name: "kill_already_dead", Params: []string{"agent", "mob"}, Fn: killDone},
			{Name: "kill_engage", Params: []string{"agent", "mob"}, Fn: killEngage},
		}},
		{TaskApproach, []domain.Method{
			{Name: "approach_adjacent", Params: []string{"agent", "target"}, Fn: approachDone},
			{Name: "approach_move", Params: []string{"agent", "target"}, Fn: approachMove},
		}},
		{TaskFace, []domain.Method{
			{Name: "face_already", Params: []string{"agent", "target"}, Fn: faceDone},
			{Name: "face_turn", Params: []string{"agent", "target"}, Fn: faceTurn},
		}},
		{TaskPatrol, []domain.Method{
			{Name: "patrol_hold", Params: []string{"agent"}, Fn: patrolHold},
		}},
		{TaskKillHostileMob, []domain.Method{
			{Name: "kill_hostile_mob", Params: []string{"agent", "mob"}, Fn: killHostileMob},
		}},
		{TaskKillTwoHostileMobs, []domain.Method{
			{Name: "kill_closest_first", Params: []string{"agent", "mob1", "mob2"}, Fn: killTwo},
		}},
	}
	for _, m := range methods {
		if err := r.RegisterMethods(m.task, m.methods...); err != nil {
			return fmt.Errorf("combat: %w", err)
		}
	}

	templates := []domain.Template{
		{Name: TaskPatrol, Params: []string{"agent"}},
		{Name: TaskKillHostileMob, Params: []string{"agent", "mob"}, Precondition: liveHostile},
		{Name: TaskKillTwoHostileMobs, Params: []string{"agent", "mob1", "mob2"}, Precondition: liveHostile},
	}
	for _, t := range templates {
		if err := r.RegisterTemplate(t); err != nil {
			return fmt.Errorf("combat: %w", err)
		}
	}
	return nil
}

// NewRegistry returns a sealed registry holding only the combat domain.
func NewRegistry() (*domain.Registry, error) {
	r := domain.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	r.Seal()
	return r, nil
}

// Vocabulary enumerates agents and mobs for grounding.
type Vocabulary struct{}

// Types returns the entity types.
func (Vocabulary) Types() []string {
	return []string{TypeAgent, TypeMob}
}

// Entities returns the known agents or mobs of st.
func (Vocabulary) Entities(st *facts.State, typ string) []string {
	switch typ {
	case TypeAgent:
		return st.Entities(RelAgents)
	case TypeMob:
		return st.Entities(RelMobs)
	default:
		return nil
	}
}

// Population counts live hostile mobs.
func (Vocabulary) Population(st *facts.State) int {
	n := 0
	for _, mob := range st.Entities(RelMobs) {
		if st.Has(RelMobs, mob, Hostile) && alive(st, mob) {
			n++
		}
	}
	return n
}

var _ domain.Vocabulary = Vocabulary{}
