// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package combat is an example planning domain: agents approaching, facing
// and attacking hostile mobs.
//
// Facts use the relations agents, mobs (hostile/passive), status
// (alive/hurt/dead), agent_at, agent_looking_at and closest_hostile_mob.
package combat

import (
	"fmt"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Relation names.
const (
	RelAgents         = "agents"
	RelMobs           = "mobs"
	RelStatus         = "status"
	RelAgentAt        = "agent_at"
	RelLookingAt      = "agent_looking_at"
	RelClosestHostile = "closest_hostile_mob"
)

// Values.
const (
	Hostile = "hostile"
	Passive = "passive"
	Alive   = "alive"
	Hurt    = "hurt"
	Dead    = "dead"

	// NoSource is the placeholder "from" argument of MOVETO and LOOKAT.
	NoSource = "none"
)

// Operator names.
const (
	OpMoveTo = "MOVETO"
	OpLookAt = "LOOKAT"
	OpAttack = "ATTACK"
)

func arity(name string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", name, n, len(args))
	}
	return nil
}

// alive reports whether the entity is not known to be dead. An unknown
// status counts as alive.
func alive(st *facts.State, ent string) bool {
	s, ok := st.Get(RelStatus, ent)
	return !ok || s != Dead
}

// moveTo walks an agent to the location of target.
//
// Args: agent, from (ignored, NoSource), target.
func moveTo(st *facts.State, args []string) (*domain.Outcome, error) {
	if err := arity(OpMoveTo, args, 3); err != nil {
		return nil, err
	}
	agent, target := args[0], args[2]
	here, ok := st.Get(RelAgentAt, agent)
	if !ok || !alive(st, agent) {
		return nil, nil
	}
	there, ok := st.Get(RelAgentAt, target)
	if !ok || here == there {
		return nil, nil
	}

	next := st.Clone()
	next.Set(RelAgentAt, agent, there)
	pre := facts.Record{}.
		Observe(st, RelAgentAt, agent).
		Observe(st, RelAgentAt, target)
	return &domain.Outcome{Success: next, Preconditions: pre}, nil
}

// lookAt turns an agent towards target.
//
// Args: agent, from (ignored, NoSource), target.
func lookAt(st *facts.State, args []string) (*domain.Outcome, error) {
	if err := arity(OpLookAt, args, 3); err != nil {
		return nil, err
	}
	agent, target := args[0], args[2]
	if !st.Has(RelAgents, agent, "") || !alive(st, agent) {
		return nil, nil
	}
	if _, known := st.Get(RelAgentAt, target); !known {
		return nil, nil
	}
	if st.Has(RelLookingAt, agent, target) {
		return nil, nil
	}

	next := st.Clone()
	next.Set(RelLookingAt, agent, target)
	pre := facts.Record{}.
		Observe(st, RelAgentAt, target).
		Observe(st, RelLookingAt, agent)
	return &domain.Outcome{Success: next, Preconditions: pre}, nil
}

// attack strikes a mob the agent stands next to and looks at.
//
// The strike kills the mob. When it misses the mob hits back and the agent
// is hurt; a hurt agent that misses stays hurt.
func attack(st *facts.State, args []string) (*domain.Outcome, error) {
	if err := arity(OpAttack, args, 2); err != nil {
		return nil, err
	}
	agent, mob := args[0], args[1]
	if !alive(st, agent) || !alive(st, mob) {
		return nil, nil
	}
	here, ok := st.Get(RelAgentAt, agent)
	if !ok || !st.Has(RelAgentAt, mob, here) || !st.Has(RelLookingAt, agent, mob) {
		return nil, nil
	}

	success := st.Clone()
	success.Set(RelStatus, mob, Dead)
	failure := st.Clone()
	failure.Set(RelStatus, agent, Hurt)

	pre := facts.Record{}.
		Observe(st, RelAgentAt, agent).
		Observe(st, RelAgentAt, mob).
		Observe(st, RelLookingAt, agent).
		Observe(st, RelStatus, mob)
	return &domain.Outcome{
		Success:       success,
		Failures:      []*facts.State{failure},
		Preconditions: pre,
	}, nil
}
