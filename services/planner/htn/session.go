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
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

// Session holds the mutable state of one top-level planning call.
//
// Description:
//
//	The graph arena, the memo table (state key to the first operator node
//	executed from that state) and the set of states on the current search
//	path live here. A Session is never shared between calls.
//
// Thread Safety: Not safe for concurrent use.
type Session struct {
	ctx     context.Context
	planner *Planner
	logger  *slog.Logger
	goals   []domain.Task

	graph *policy.Graph
	memo  map[string]policy.NodeID
	path  map[string]policy.NodeID
	stats Stats
}

func newSession(ctx context.Context, p *Planner, goals []domain.Task) *Session {
	return &Session{
		ctx:     ctx,
		planner: p,
		logger:  p.logger,
		goals:   goals,
		graph:   policy.NewGraph(),
		memo:    make(map[string]policy.NodeID),
		path:    make(map[string]policy.NodeID),
	}
}

// run plans the goal tasks from st as one planning run.
//
// Description:
//
//	Decomposes the goals left to right under a fresh root node. On success
//	the operator leaves are threaded into an execution line ending at the
//	terminal, registered in the memo table, and their failure states are
//	expanded into contingency runs while the failure budget allows. On
//	failure every node allocated by the run is discarded.
//
// Outputs:
//   - policy.NodeID: The run's root node.
//   - *facts.State: The state at the end of the nominal line.
//   - bool: False when no decomposition exists.
//   - error: Fatal errors only.
func (s *Session) run(st *facts.State, branchDepth int) (policy.NodeID, *facts.State, bool, error) {
	g := s.graph
	mark := g.Mark()

	root := g.NewNode(policy.KindRoot, "root", nil)
	root.State = st
	root.BranchDepth = branchDepth

	savedPath := s.path
	s.path = map[string]policy.NodeID{st.Key(): root.ID}
	defer func() { s.path = savedPath }()

	var ops []policy.NodeID
	cur := st
	for _, task := range s.goals {
		child, next, ok, err := s.decompose(cur, task, 1, branchDepth, &ops)
		if err != nil {
			return policy.None, nil, false, err
		}
		if !ok {
			g.Truncate(mark)
			return policy.None, nil, false, nil
		}
		root.Children = append(root.Children, child)
		cur = next
	}

	line := s.thread(root, ops)
	if branchDepth < s.planner.config.FailureBudget {
		if err := s.expandFailures(line, branchDepth); err != nil {
			return policy.None, nil, false, err
		}
	}
	return root.ID, cur, true, nil
}

// decompose expands one task from st.
//
// Outputs:
//   - policy.NodeID: The task or operator node.
//   - *facts.State: The state after the task.
//   - bool: False on precondition failure or exhausted methods.
//   - error: Fatal errors only.
func (s *Session) decompose(st *facts.State, task domain.Task, depth, branchDepth int, ops *[]policy.NodeID) (policy.NodeID, *facts.State, bool, error) {
	if err := s.ctx.Err(); err != nil {
		return policy.None, nil, false, &PlanError{Operation: "decompose", Task: task.String(), Err: err}
	}
	if depth > s.planner.config.MaxDepth {
		return policy.None, nil, false, &PlanError{Operation: "decompose", Task: task.String(), Err: ErrDepthExceeded}
	}
	if s.graph.Len() >= s.planner.config.MaxNodes {
		return policy.None, nil, false, &PlanError{Operation: "decompose", Task: task.String(), Err: ErrBudgetExceeded}
	}
	if depth > s.stats.DepthReached {
		s.stats.DepthReached = depth
	}

	entry, ok := s.planner.registry.Lookup(task.Name)
	if !ok {
		return policy.None, nil, false, &PlanError{Operation: "decompose", Task: task.String(), Err: domain.ErrUnknownTask}
	}
	if entry.Kind == domain.KindOperator {
		return s.apply(st, task, entry.Operator, depth, branchDepth, ops)
	}
	return s.expand(st, task, entry.Methods, depth, branchDepth, ops)
}

// apply executes a primitive operator hypothetically.
func (s *Session) apply(st *facts.State, task domain.Task, op *domain.Operator, depth, branchDepth int, ops *[]policy.NodeID) (policy.NodeID, *facts.State, bool, error) {
	out, err := op.Fn(st, task.Args)
	if err != nil {
		return policy.None, nil, false, &PlanError{Operation: "apply", Task: task.String(), Err: err}
	}
	if out == nil {
		s.stats.PrecondFailed++
		return policy.None, nil, false, nil
	}
	if out.Success == nil {
		return policy.None, nil, false, &PlanError{Operation: "apply", Task: task.String(), Err: ErrNoSuccessState}
	}

	diff := facts.Diff(st, out.Success)
	if err := checkTouches(op, diff); err != nil {
		return policy.None, nil, false, &PlanError{Operation: "apply", Task: task.String(), Err: err}
	}

	g := s.graph
	node := g.NewNode(policy.KindOperator, task.Name, task.Args)
	node.Depth = depth
	node.BranchDepth = branchDepth
	node.State = st
	node.Result = out.Success
	node.Failures = out.Failures
	node.Preconditions = out.Preconditions
	node.Effect = policy.Singleton(diff)

	key := out.Success.Key()
	if earlier, seen := s.path[key]; seen {
		// The result repeats a state on this path: link and fail the path.
		node.Found = true
		node.LinkedTo = earlier
		s.stats.RepeatLinks++
		s.logger.Debug("repeated state on search path",
			slog.String("task", task.String()),
			slog.Int("linked_to", int(earlier)),
		)
		g.Truncate(int(node.ID))
		return policy.None, nil, false, nil
	}

	s.path[key] = node.ID
	s.stats.Operators++
	*ops = append(*ops, node.ID)
	return node.ID, out.Success, true, nil
}

// expand tries the methods of a compound task in registration order.
func (s *Session) expand(st *facts.State, task domain.Task, methods []domain.Method, depth, branchDepth int, ops *[]policy.NodeID) (policy.NodeID, *facts.State, bool, error) {
	g := s.graph
	node := g.NewNode(policy.KindTask, task.Name, task.Args)
	node.Depth = depth
	node.BranchDepth = branchDepth
	node.State = st

	for _, m := range methods {
		s.stats.MethodsTried++
		dec, err := m.Fn(st, task.Args)
		if err != nil {
			return policy.None, nil, false, &PlanError{Operation: "expand." + m.Name, Task: task.String(), Err: err}
		}
		if dec == nil {
			continue
		}

		mark := g.Mark()
		opsLen := len(*ops)
		node.Method = m.Name
		node.Preconditions = dec.Preconditions
		node.Children = nil

		cur := st
		ok := true
		for _, sub := range dec.Subtasks {
			child, next, subOK, err := s.decompose(cur, sub, depth+1, branchDepth, ops)
			if err != nil {
				return policy.None, nil, false, err
			}
			if !subOK {
				ok = false
				break
			}
			node.Children = append(node.Children, child)
			cur = next
		}
		if ok {
			return node.ID, cur, true, nil
		}

		// Roll back to the snapshot taken before this method.
		for _, id := range (*ops)[opsLen:] {
			delete(s.path, g.Node(id).Result.Key())
		}
		*ops = (*ops)[:opsLen]
		g.Truncate(mark)
		s.stats.Backtracks++
	}

	g.Truncate(int(node.ID))
	return policy.None, nil, false, nil
}

// thread links the operator leaves of a successful run into an execution
// line from root to the terminal.
//
// The first operator whose prior state already has a node is replaced by a
// link to that node and the line stops there. Returns the operators that
// joined the line.
func (s *Session) thread(root *policy.Node, ops []policy.NodeID) []policy.NodeID {
	g := s.graph
	prev := root
	for i, id := range ops {
		op := g.Node(id)
		key := op.State.Key()
		if target, hit := s.memo[key]; hit {
			prev.Next = s.link(target, op.State, root.BranchDepth).ID
			return ops[:i]
		}
		s.memo[key] = id
		prev.Next = id
		prev = op
	}
	prev.Next = g.Terminal
	return ops
}

// expandFailures attaches a contingency to every failure outcome of the
// line's operators.
func (s *Session) expandFailures(line []policy.NodeID, branchDepth int) error {
	g := s.graph
	for _, id := range line {
		op := g.Node(id)
		for i, failed := range op.Failures {
			if failed == nil {
				continue
			}
			if target, hit := s.memo[failed.Key()]; hit {
				op.Branch[i] = s.link(target, failed, branchDepth+1).ID
				continue
			}

			root, _, ok, err := s.run(failed, branchDepth+1)
			if err != nil {
				return err
			}
			s.stats.BranchRuns++
			if !ok {
				s.logger.Debug("no contingency for failure outcome",
					slog.String("operator", op.Label()),
					slog.Int("outcome", i+1),
				)
				continue
			}
			op.Branch[i] = root
		}
	}
	return nil
}

// link allocates a repeat-state link node pointing at target.
func (s *Session) link(target policy.NodeID, st *facts.State, branchDepth int) *policy.Node {
	n := s.graph.NewNode(policy.KindRoot, "link", nil)
	n.Found = true
	n.LinkedTo = target
	n.Next = target
	n.State = st
	n.BranchDepth = branchDepth
	s.stats.RepeatLinks++
	return n
}

func checkTouches(op *domain.Operator, diff facts.Record) error {
	if len(op.Touches) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(op.Touches))
	for _, rel := range op.Touches {
		allowed[rel] = true
	}
	for _, rel := range diff.Relations() {
		if !allowed[rel] {
			return fmt.Errorf("%w: %s changed %q", ErrUndeclaredEffect, op.Name, rel)
		}
	}
	return nil
}
