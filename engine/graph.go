//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"github.com/kianax/engine/routine"
)

// ExecutionGraph is an immutable, index-optimized view of a validated
// routine: nodes by id, edges by source and by target, variables collapsed
// to a mapping, trigger data attached. It gives the scheduler O(1) lookups.
type ExecutionGraph struct {
	routineID     string
	nodes         map[string]*routine.Node
	order         []string
	edgesBySource map[string][]*routine.Edge
	edgesByTarget map[string][]*routine.Edge
	variables     map[string]any
	triggerData   any
}

// BuildGraph constructs the execution graph from a validated routine. The
// routine must have passed validation; BuildGraph performs no checks of its
// own.
func BuildGraph(r *routine.Routine) *ExecutionGraph {
	g := &ExecutionGraph{
		routineID:     r.ID,
		nodes:         make(map[string]*routine.Node, len(r.Nodes)),
		edgesBySource: make(map[string][]*routine.Edge),
		edgesByTarget: make(map[string][]*routine.Edge),
		variables:     r.VariableMap(),
		triggerData:   r.TriggerData,
	}
	for i := range r.Nodes {
		node := &r.Nodes[i]
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}
	for i := range r.Connections {
		e := &r.Connections[i]
		g.edgesBySource[e.SourceNodeID] = append(g.edgesBySource[e.SourceNodeID], e)
		g.edgesByTarget[e.TargetNodeID] = append(g.edgesByTarget[e.TargetNodeID], e)
	}
	return g
}

// RoutineID returns the routine's stable identity.
func (g *ExecutionGraph) RoutineID() string { return g.routineID }

// Node returns the node with the given id, or nil.
func (g *ExecutionGraph) Node(id string) *routine.Node {
	return g.nodes[id]
}

// Nodes returns the node index.
func (g *ExecutionGraph) Nodes() map[string]*routine.Node {
	return g.nodes
}

// OutgoingEdges returns the edges whose source is the given node.
func (g *ExecutionGraph) OutgoingEdges(nodeID string) []*routine.Edge {
	return g.edgesBySource[nodeID]
}

// IncomingEdges returns the edges whose target is the given node.
func (g *ExecutionGraph) IncomingEdges(nodeID string) []*routine.Edge {
	return g.edgesByTarget[nodeID]
}

// Variable returns the routine variable with the given name.
func (g *ExecutionGraph) Variable(name string) (any, bool) {
	v, ok := g.variables[name]
	return v, ok
}

// Variables returns the collapsed variable mapping.
func (g *ExecutionGraph) Variables() map[string]any {
	return g.variables
}

// TriggerData returns the routine's trigger payload.
func (g *ExecutionGraph) TriggerData() any {
	return g.triggerData
}

// EntryNodes returns the ids of every enabled node with no incoming
// non-loop edge from an enabled source, in declaration order. Loop
// back-edges never gate seeding.
func (g *ExecutionGraph) EntryNodes() []string {
	var entries []string
	for _, id := range g.order {
		node := g.nodes[id]
		if node.Disabled {
			continue
		}
		gated := false
		for _, e := range g.edgesByTarget[id] {
			if e.IsLoop() {
				continue
			}
			src := g.nodes[e.SourceNodeID]
			if src != nil && src.Enabled() {
				gated = true
				break
			}
		}
		if !gated {
			entries = append(entries, id)
		}
	}
	return entries
}
