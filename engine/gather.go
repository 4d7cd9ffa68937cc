//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"fmt"

	"github.com/kianax/engine/routine"
)

// lookupOutput finds the nearest visible output for a node: the current
// context-key first, then walking the loop stack outward to the root. This
// lets a node inside a loop read a value produced once, above the loop.
func lookupOutput(state *ExecutionState, nodeID string, ctx ExecContext) (*NodeOutput, bool) {
	for {
		if out, ok := state.Output(ctx.Key(nodeID)); ok {
			return out, true
		}
		parent, ok := ctx.Parent()
		if !ok {
			return nil, false
		}
		ctx = parent
	}
}

// Gatherer assembles the record of named inputs passed to a plugin from
// upstream outputs, following incoming edges and their source/target
// handles.
type Gatherer struct {
	graph *ExecutionGraph
	state *ExecutionState
}

// NewGatherer creates a gatherer over the given graph and state.
func NewGatherer(graph *ExecutionGraph, state *ExecutionState) *Gatherer {
	return &Gatherer{graph: graph, state: state}
}

// Gather builds the inputs for a node about to execute in the given
// context. It returns the flattened input record handed to the plugin and
// the per-key items carrying lineage metadata. Sources without visible
// outputs are skipped; the scheduler's readiness check already guarantees
// eligibility, and an edge naming a port the plugin did not emit
// contributes no input.
func (g *Gatherer) Gather(nodeID string, ctx ExecContext) (map[string]any, map[string][]Item, *Error) {
	inputs := make(map[string]any)
	items := make(map[string][]Item)
	// origin tracks which edge first set each input key, to surface
	// conflicts instead of silently overwriting in edge iteration order.
	origin := make(map[string]string)

	for _, e := range g.graph.IncomingEdges(nodeID) {
		src := g.graph.Node(e.SourceNodeID)
		if src == nil || src.Disabled {
			continue
		}
		out, ok := lookupOutput(g.state, e.SourceNodeID, ctx)
		if !ok {
			continue
		}

		if e.SourceHandle != "" {
			portItems, ok := out.Ports[e.SourceHandle]
			if !ok || len(portItems) == 0 {
				// Soft-skip: the source never emitted this port.
				continue
			}
			value := portValue(portItems)
			if e.TargetHandle != "" {
				if err := setInput(inputs, origin, e.TargetHandle, value, e); err != nil {
					return nil, nil, err
				}
				items[e.TargetHandle] = stampItems(portItems, e.SourceNodeID, e.SourceHandle)
				continue
			}
			// No target handle: objects merge their keys, primitives and
			// arrays are wrapped under a source-derived key.
			if obj, isObj := value.(map[string]any); isObj {
				for k, v := range obj {
					if err := setInput(inputs, origin, k, v, e); err != nil {
						return nil, nil, err
					}
					items[k] = stampItems(portItems, e.SourceNodeID, e.SourceHandle)
				}
				continue
			}
			key := fmt.Sprintf("from_%s", e.SourceNodeID)
			if err := setInput(inputs, origin, key, value, e); err != nil {
				return nil, nil, err
			}
			items[key] = stampItems(portItems, e.SourceNodeID, e.SourceHandle)
			continue
		}

		// No source handle: forward the merged record of all ports.
		record := out.PortRecord()
		if e.TargetHandle != "" {
			if err := setInput(inputs, origin, e.TargetHandle, record, e); err != nil {
				return nil, nil, err
			}
			items[e.TargetHandle] = recordItems(out, e.SourceNodeID)
			continue
		}
		for port, value := range record {
			if err := setInput(inputs, origin, port, value, e); err != nil {
				return nil, nil, err
			}
			items[port] = stampItems(out.Ports[port], e.SourceNodeID, port)
		}
	}

	return inputs, items, nil
}

// setInput places value under key, raising INPUT_KEY_CONFLICT when another
// edge already set it.
func setInput(inputs map[string]any, origin map[string]string, key string, value any, e *routine.Edge) *Error {
	if prev, exists := origin[key]; exists {
		return newError(CodeInputKeyConflict, e.TargetNodeID,
			"input key %q set by edges %s and %s; rename a target handle to disambiguate",
			key, prev, e.ID)
	}
	origin[key] = e.ID
	inputs[key] = value
	return nil
}

// portValue flattens a port's items to the value handed to the plugin: a
// single item passes its data through, multiple items become a list.
func portValue(items []Item) any {
	if len(items) == 1 {
		return items[0].Data
	}
	values := make([]any, len(items))
	for i, item := range items {
		values[i] = item.Data
	}
	return values
}

// stampItems copies items with lineage metadata attached.
func stampItems(items []Item, sourceNode, sourcePort string) []Item {
	stamped := make([]Item, len(items))
	for i, item := range items {
		stamped[i] = Item{
			Data: item.Data,
			Metadata: ItemMetadata{
				SourceNode:      sourceNode,
				SourcePort:      sourcePort,
				SourceItemIndex: i,
			},
		}
	}
	return stamped
}

// recordItems flattens a full output record into one item per port.
func recordItems(out *NodeOutput, sourceNode string) []Item {
	var all []Item
	for port, portItems := range out.Ports {
		all = append(all, stampItems(portItems, sourceNode, port)...)
	}
	return all
}
