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
	"strings"
)

// Action is one primitive step of a sequenced plan.
type Action struct {
	Name string   `json:"name" yaml:"name"`
	Args []string `json:"args" yaml:"args"`
}

// String renders NAME(arg, ...).
func (a Action) String() string {
	return a.Name + "(" + strings.Join(a.Args, ", ") + ")"
}

// Sequence linearizes the nominal execution path of a finished graph.
//
// Description:
//
//	Follows Next edges from the root to the canonical terminal and emits
//	every operator node on the way. Root, branch and terminal nodes are
//	skipped. Every node has exactly one nominal successor, so the path is
//	the longest simple root-to-terminal path over nominal edges.
//
// Outputs:
//   - []Action: The primitive actions in execution order. Empty (not nil)
//     when the goal already holds.
//   - error: ErrNoRoot, or ErrNoTerminalPath if the nominal path ends or
//     cycles before reaching the terminal.
func Sequence(g *Graph) ([]Action, error) {
	path, err := Path(g)
	if err != nil {
		return nil, err
	}
	actions := make([]Action, len(path))
	for i, id := range path {
		n := g.Node(id)
		actions[i] = Action{Name: n.Name, Args: append([]string(nil), n.Args...)}
	}
	return actions, nil
}

// Path returns the operator nodes of the nominal path, in the order
// Sequence emits their actions.
func Path(g *Graph) ([]NodeID, error) {
	if g.Root == None {
		return nil, ErrNoRoot
	}
	var path []NodeID
	visited := make(map[NodeID]bool)
	for id := g.Root; id != g.Terminal; {
		if id == None {
			return nil, ErrNoTerminalPath
		}
		if visited[id] {
			return nil, fmt.Errorf("%w: cycle at node %d", ErrNoTerminalPath, id)
		}
		visited[id] = true
		n := g.Node(id)
		if !n.Kind.Synthetic() {
			path = append(path, id)
		}
		id = n.Next
	}
	return path, nil
}
