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
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Compound task names.
const (
	TaskKill               = "kill"
	TaskApproach           = "approach"
	TaskFace               = "face"
	TaskPatrol             = "patrol"
	TaskKillHostileMob     = "kill_hostile_mob"
	TaskKillTwoHostileMobs = "kill_two_hostile_mobs"
)

func task(name string, args ...string) domain.Task {
	return domain.NewTask(name, args...)
}

// killDone is the no-op method of kill: the mob is already dead.
func killDone(st *facts.State, args []string) (*domain.Decomposition, error) {
	agent, mob := args[0], args[1]
	if err := domain.Distinct(agent, mob); err != nil {
		return nil, err
	}
	if !st.Has(RelStatus, mob, Dead) {
		return nil, nil
	}
	return &domain.Decomposition{Preconditions: facts.Record{}.Observe(st, RelStatus, mob)}, nil
}

// killEngage closes in on a live hostile mob and strikes it.
func killEngage(st *facts.State, args []string) (*domain.Decomposition, error) {
	agent, mob := args[0], args[1]
	if err := domain.Distinct(agent, mob); err != nil {
		return nil, err
	}
	if !st.Has(RelAgents, agent, "") || !st.Has(RelMobs, mob, Hostile) || !alive(st, mob) {
		return nil, nil
	}
	return &domain.Decomposition{
		Subtasks: []domain.Task{
			task(TaskApproach, agent, mob),
			task(TaskFace, agent, mob),
			task(OpAttack, agent, mob),
		},
		Preconditions: facts.Record{}.
			Observe(st, RelMobs, mob).
			Observe(st, RelStatus, mob),
	}, nil
}

func approachDone(st *facts.State, args []string) (*domain.Decomposition, error) {
	agent, target := args[0], args[1]
	here, ok := st.Get(RelAgentAt, agent)
	if !ok || !st.Has(RelAgentAt, target, here) {
		return nil, nil
	}
	return &domain.Decomposition{
		Preconditions: facts.Record{}.
			Observe(st, RelAgentAt, agent).
			Observe(st, RelAgentAt, target),
	}, nil
}

func approachMove(_ *facts.State, args []string) (*domain.Decomposition, error) {
	agent, target := args[0], args[1]
	return &domain.Decomposition{
		Subtasks: []domain.Task{task(OpMoveTo, agent, NoSource, target)},
	}, nil
}

func faceDone(st *facts.State, args []string) (*domain.Decomposition, error) {
	agent, target := args[0], args[1]
	if !st.Has(RelLookingAt, agent, target) {
		return nil, nil
	}
	return &domain.Decomposition{Preconditions: facts.Record{}.Observe(st, RelLookingAt, agent)}, nil
}

func faceTurn(_ *facts.State, args []string) (*domain.Decomposition, error) {
	agent, target := args[0], args[1]
	return &domain.Decomposition{
		Subtasks: []domain.Task{task(OpLookAt, agent, NoSource, target)},
	}, nil
}

// patrolHold keeps the agent where it is when nothing hostile is around.
func patrolHold(st *facts.State, args []string) (*domain.Decomposition, error) {
	if !st.Has(RelAgents, args[0], "") {
		return nil, nil
	}
	return &domain.Decomposition{}, nil
}

func killHostileMob(_ *facts.State, args []string) (*domain.Decomposition, error) {
	return &domain.Decomposition{Subtasks: []domain.Task{task(TaskKill, args[0], args[1])}}, nil
}

// killTwo fights the closest hostile mob first.
func killTwo(st *facts.State, args []string) (*domain.Decomposition, error) {
	agent, first, second := args[0], args[1], args[2]
	if err := domain.Distinct(agent, first, second); err != nil {
		return nil, err
	}
	if st.Has(RelClosestHostile, agent, second) {
		first, second = second, first
	}
	return &domain.Decomposition{
		Subtasks: []domain.Task{
			task(TaskKill, agent, first),
			task(TaskKill, agent, second),
		},
		Preconditions: facts.Record{}.Observe(st, RelClosestHostile, agent),
	}, nil
}

// liveHostile is the governing precondition of the kill templates: the
// agent is known and every bound mob is a live hostile.
func liveHostile(st *facts.State, args []string) (bool, error) {
	if len(args) < 2 || !st.Has(RelAgents, args[0], "") {
		return false, nil
	}
	for _, mob := range args[1:] {
		if !st.Has(RelMobs, mob, Hostile) || !alive(st, mob) {
			return false, nil
		}
	}
	return true, nil
}
