//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package routine defines the routine definition model: the nodes,
// connections, variables and trigger payload a user authors, plus the
// validator that rejects definitions the engine cannot execute
// deterministically. It only contains fields that are required for
// execution and intentionally avoids UI-only concepts beyond node
// positions, which editors round-trip through the definition.
package routine

// Routine represents a complete routine definition: an ordered sequence of
// nodes and a set of connections, plus optional variables and trigger data.
type Routine struct {
	// ID is the stable identity of the routine (optional, assigned by the
	// authoring layer).
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Name is the routine name.
	Name string `json:"name" yaml:"name"`

	// Nodes are the plugin invocation sites in this routine.
	Nodes []Node `json:"nodes" yaml:"nodes"`

	// Connections define the directed links between nodes.
	Connections []Edge `json:"connections" yaml:"connections"`

	// TriggerData is the opaque payload of the trigger that started the run.
	TriggerData any `json:"triggerData,omitempty" yaml:"triggerData,omitempty"`

	// Variables declares routine-level variables readable from expressions
	// via "{{ vars.NAME }}".
	Variables []Variable `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Variable declares a routine-level variable.
type Variable struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Variable type constants.
const (
	VariableTypeString  = "string"
	VariableTypeNumber  = "number"
	VariableTypeBoolean = "boolean"
	VariableTypeJSON    = "json"
)

// Node represents a single plugin invocation site within a routine.
type Node struct {
	// ID is unique within the routine.
	ID string `json:"id" yaml:"id"`

	// PluginID selects the executable plugin.
	PluginID string `json:"pluginId" yaml:"pluginId"`

	// Label is the human-readable display label.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Parameters is the plugin configuration; values may contain
	// "{{ … }}" expressions resolved at dispatch time.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Position is the editor position (round-tripped, not interpreted).
	Position *Position `json:"position,omitempty" yaml:"position,omitempty"`

	// CredentialMappings maps a plugin credential requirement key to a
	// stored credential id.
	CredentialMappings map[string]string `json:"credentialMappings,omitempty" yaml:"credentialMappings,omitempty"`

	// Disabled nodes are not dispatched and behave, for readiness purposes,
	// as absent producers of outputs.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Enabled reports whether the node participates in execution.
func (n *Node) Enabled() bool { return !n.Disabled }

// Position is an editor coordinate pair.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Edge represents a connection between two nodes. It may carry a branch
// condition, a default marker, or a loop marker.
type Edge struct {
	// ID is the unique edge identifier (auto-generated by the parser when
	// not provided).
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// SourceNodeID is the source node ID.
	SourceNodeID string `json:"sourceNodeId" yaml:"sourceNodeId"`

	// TargetNodeID is the target node ID.
	TargetNodeID string `json:"targetNodeId" yaml:"targetNodeId"`

	// SourceHandle names the output port read on the source node. When
	// empty, all of the source node's output ports are forwarded.
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`

	// TargetHandle names the input key written on the target node. When
	// empty, object values are shallow-merged into the target's inputs.
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`

	// Condition controls when the edge is followed. Nil edges are always
	// followed.
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// IsLoop reports whether the edge is a loop back-edge.
func (e *Edge) IsLoop() bool {
	return e.Condition != nil && e.Condition.Type == ConditionLoop
}

// IsBranch reports whether the edge carries a branch condition.
func (e *Edge) IsBranch() bool {
	return e.Condition != nil && e.Condition.Type == ConditionBranch
}

// ConditionType enumerates the kinds of edge conditions.
type ConditionType string

const (
	// ConditionBranch follows the edge only when the source node emits a
	// matching branch value.
	ConditionBranch ConditionType = "branch"
	// ConditionDefault always follows the edge.
	ConditionDefault ConditionType = "default"
	// ConditionLoop marks a loop back-edge; excluded from acyclicity checks
	// and drives re-entry with a new iteration context.
	ConditionLoop ConditionType = "loop"
)

// Condition is the routing condition attached to an edge.
type Condition struct {
	Type ConditionType `json:"type" yaml:"type"`

	// Value is the branch value matched against the source node's emitted
	// branch (only for ConditionBranch).
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// LoopConfig configures loop back-edges (only for ConditionLoop).
	LoopConfig *LoopConfig `json:"loopConfig,omitempty" yaml:"loopConfig,omitempty"`
}

// Loop iteration bounds.
const (
	MinLoopIterations = 1
	MaxLoopIterations = 1000
)

// LoopConfig configures a loop back-edge.
type LoopConfig struct {
	// MaxIterations bounds how many times the loop target may execute.
	// Must be within [MinLoopIterations, MaxLoopIterations].
	MaxIterations int `json:"maxIterations" yaml:"maxIterations"`

	// AccumulatorFields names output keys of the loop edge's source that
	// are copied into the loop accumulator after each iteration.
	AccumulatorFields []string `json:"accumulatorFields,omitempty" yaml:"accumulatorFields,omitempty"`
}

// Node returns the node with the given id, or nil.
func (r *Routine) Node(id string) *Node {
	for i := range r.Nodes {
		if r.Nodes[i].ID == id {
			return &r.Nodes[i]
		}
	}
	return nil
}

// VariableMap collapses the declared variables to a name → value mapping.
func (r *Routine) VariableMap() map[string]any {
	vars := make(map[string]any, len(r.Variables))
	for _, v := range r.Variables {
		vars[v.Name] = v.Value
	}
	return vars
}
