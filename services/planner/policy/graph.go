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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
)

// Package-level error definitions.
var (
	// ErrNoTerminalPath indicates the nominal path never reaches the terminal.
	ErrNoTerminalPath = errors.New("nominal path does not reach the terminal node")

	// ErrNoRoot indicates a graph without a root node.
	ErrNoRoot = errors.New("graph has no root")

	// ErrNilObservation indicates a deviation check without an observed state.
	ErrNilObservation = errors.New("observed state is nil")

	// ErrNotOperator is returned when a node id does not name an operator.
	ErrNotOperator = errors.New("node is not an operator")
)

// NodeID addresses a node in the graph arena.
type NodeID int

// None is the absent node reference.
const None NodeID = -1

// NodeKind classifies plan nodes.
type NodeKind int

const (
	// KindRoot is the entry node of one planning run.
	KindRoot NodeKind = iota

	// KindTask is a compound task node; its Children are the decomposition.
	KindTask

	// KindOperator is a primitive action.
	KindOperator

	// KindBranch is a synthetic fork inserted by Materialize.
	KindBranch

	// KindTerminal is the canonical end of every execution path.
	KindTerminal
)

// String returns the kind name.
func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindTask:
		return "task"
	case KindOperator:
		return "operator"
	case KindBranch:
		return "branch"
	case KindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Synthetic reports whether the kind is skipped when sequencing actions.
func (k NodeKind) Synthetic() bool {
	return k == KindRoot || k == KindBranch || k == KindTerminal
}

// Node is one attempted task or action in the policy graph.
type Node struct {
	ID          NodeID
	Kind        NodeKind
	Name        string
	Args        []string
	Depth       int
	BranchDepth int

	// Method names the method that decomposed a task node.
	Method string

	// Children are the decomposition subtasks of a task or root node.
	Children []NodeID

	// Next is the nominal successor in execution order.
	Next NodeID

	// Branch maps an alternate-outcome index to the node that continues it.
	Branch map[int]NodeID

	// Effect is the node's own forward effect (success diff).
	Effect Expectation

	// Fexp is the compound forward effect of the node and everything after it.
	Fexp Expectation

	// Bexp is the backward expectation over facts established later.
	Bexp Expectation

	// Rexp is Bexp refined with the node's own effect at certainty.
	Rexp Expectation

	// Preconditions are the facts the operator or method consulted.
	Preconditions facts.Record

	// State is the state existing before the node executes.
	State *facts.State

	// Result is the intended post state of an operator.
	Result *facts.State

	// Failures are the alternative post states of an operator.
	Failures []*facts.State

	// Outcomes holds one effect snapshot per outcome on branch nodes.
	Outcomes []Expectation

	// Found marks a node whose state repeats an earlier node's.
	Found bool

	// LinkedTo is the earlier node a Found node points at.
	LinkedTo NodeID
}

// Label renders NAME(arg, ...).
func (n *Node) Label() string {
	return n.Name + "(" + strings.Join(n.Args, ", ") + ")"
}

// PostState returns the state after the node executes.
func (n *Node) PostState() *facts.State {
	if n.Kind == KindOperator && n.Result != nil {
		return n.Result
	}
	return n.State
}

// Graph is an arena of plan nodes addressed by NodeID.
//
// Description:
//
//	Nodes are never freed individually. Backtracking rolls the arena back
//	to a mark with Truncate. Linking a repeated state overwrites a successor
//	index, which makes the graph a DAG with possible back references.
//
// Thread Safety: Not safe for concurrent mutation. A finished graph is safe
// for concurrent reads.
type Graph struct {
	nodes    []*Node
	Root     NodeID
	Terminal NodeID
}

// NewGraph creates a graph holding only the canonical terminal node.
func NewGraph() *Graph {
	g := &Graph{Root: None}
	g.Terminal = g.NewNode(KindTerminal, "terminal", nil).ID
	return g
}

// NewNode allocates a node with no successors.
func (g *Graph) NewNode(kind NodeKind, name string, args []string) *Node {
	n := &Node{
		Kind:     kind,
		Name:     name,
		Args:     append([]string(nil), args...),
		Next:     None,
		LinkedTo: None,
	}
	g.Add(n)
	return n
}

// Add appends a node and assigns its ID. Callers building nodes by hand
// must set Next and LinkedTo (None when absent).
func (g *Graph) Add(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	if n.Branch == nil {
		n.Branch = make(map[int]NodeID)
	}
	if n.Effect == nil {
		n.Effect = Expectation{}
	}
	g.nodes = append(g.nodes, n)
	return n.ID
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Len returns the arena size, including unreachable nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Mark returns the current arena size for a later Truncate.
func (g *Graph) Mark() int {
	return len(g.nodes)
}

// Truncate discards every node allocated after mark.
func (g *Graph) Truncate(mark int) {
	if mark < 1 || mark > len(g.nodes) {
		return
	}
	for i := mark; i < len(g.nodes); i++ {
		g.nodes[i] = nil
	}
	g.nodes = g.nodes[:mark]
}

// Continuations returns the distinct successors of a node: Next first, then
// Branch targets in outcome order.
func (g *Graph) Continuations(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	seen := make(map[NodeID]bool)
	if n.Next != None {
		out = append(out, n.Next)
		seen[n.Next] = true
	}
	for _, k := range sortedKeys(n.Branch) {
		c := n.Branch[k]
		if c == None || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Reachable returns the execution nodes reachable from the root in BFS
// order, together with the first predecessor of each.
func (g *Graph) Reachable() ([]NodeID, map[NodeID]NodeID) {
	pred := make(map[NodeID]NodeID)
	if g.Root == None {
		return nil, pred
	}
	order := []NodeID{g.Root}
	pred[g.Root] = None
	for i := 0; i < len(order); i++ {
		for _, c := range g.Continuations(order[i]) {
			if _, seen := pred[c]; seen {
				continue
			}
			pred[c] = order[i]
			order = append(order, c)
		}
	}
	return order, pred
}

// CountByState counts reachable operator nodes whose prior state is st.
func (g *Graph) CountByState(st *facts.State) int {
	key := st.Key()
	order, _ := g.Reachable()
	n := 0
	for _, id := range order {
		node := g.Node(id)
		if node.Kind == KindOperator && node.State != nil && node.State.Key() == key {
			n++
		}
	}
	return n
}

// Operators returns the reachable operator nodes in BFS order.
func (g *Graph) Operators() []*Node {
	order, _ := g.Reachable()
	var out []*Node
	for _, id := range order {
		if n := g.Node(id); n.Kind == KindOperator {
			out = append(out, n)
		}
	}
	return out
}

// String renders a compact description of the execution graph.
func (g *Graph) String() string {
	var b strings.Builder
	order, _ := g.Reachable()
	for _, id := range order {
		n := g.Node(id)
		fmt.Fprintf(&b, "%d %s %s next=%d", n.ID, n.Kind, n.Label(), n.Next)
		for _, k := range sortedKeys(n.Branch) {
			fmt.Fprintf(&b, " b%d=%d", k, n.Branch[k])
		}
		if n.Found {
			fmt.Fprintf(&b, " found->%d", n.LinkedTo)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedKeys(m map[int]NodeID) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
