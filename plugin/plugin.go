//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package plugin defines the contract between the routine engine and the
// executable units it dispatches to. Plugins are values implementing the
// Plugin interface; a registry-by-id lookup resolves a node's pluginId to
// its implementation. No inheritance is required.
package plugin

import (
	"context"

	"github.com/kianax/engine/credential"
)

// Reserved output keys the scheduler interprets instead of treating them as
// ports.
const (
	// OutputKeyBranch selects a branch for conditional routing.
	OutputKeyBranch = "branch"
	// OutputKeySignal is the branch key inside the standardized
	// {data, signal} wrapping.
	OutputKeySignal = "signal"
	// OutputKeyData is the payload key inside the standardized
	// {data, signal} wrapping.
	OutputKeyData = "data"
)

// Plugin is an executable unit dispatched by the engine. Inputs and outputs
// are records of named ports carrying small, JSON-serializable values.
type Plugin interface {
	// ID returns the unique plugin identifier referenced by Node.PluginID.
	ID() string

	// Metadata describes the plugin for registries and pre-dispatch checks.
	Metadata() Metadata

	// Schemas declares the plugin's input and output ports. The engine
	// validates dispatched inputs and returned outputs against them.
	Schemas() Schemas

	// Execute runs the plugin. The returned record maps output port names
	// to values; the reserved "branch" key (or a {data, signal} wrapping)
	// selects conditional routing. Implementations must not retain
	// references to the invocation past the call.
	Execute(ctx context.Context, inv *Invocation) (map[string]any, error)
}

// Metadata describes a plugin.
type Metadata struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Tags    []string `json:"tags,omitempty"`

	// CredentialRequirements lists the credentials the plugin needs mapped
	// via Node.CredentialMappings.
	CredentialRequirements []CredentialRequirement `json:"credentialRequirements,omitempty"`
}

// CredentialRequirement declares one credential a plugin consumes.
type CredentialRequirement struct {
	// ID is the requirement key matched against Node.CredentialMappings.
	ID string `json:"id"`

	// Alias is the key under which the loaded record is exposed to the
	// plugin; defaults to ID.
	Alias string `json:"alias,omitempty"`

	// Required aborts dispatch with CREDENTIAL_LOAD_FAILED when no mapping
	// is present.
	Required bool `json:"required,omitempty"`
}

// Key returns the exposure key for the requirement.
func (c CredentialRequirement) Key() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.ID
}

// Schemas declares a plugin's ports.
type Schemas struct {
	// Inputs maps input port names to their schemas. Dispatched input keys
	// outside this set are rejected. A nil map declares an open contract
	// accepting any inputs.
	Inputs map[string]PortSchema `json:"inputs,omitempty"`

	// Outputs maps output port names to their schemas. Returned output keys
	// outside this set (reserved keys aside) are rejected. A nil map
	// declares an open contract.
	Outputs map[string]PortSchema `json:"outputs,omitempty"`

	// Config optionally describes the plugin's parameters as a JSON Schema.
	Config map[string]any `json:"config,omitempty"`
}

// PortSchema describes one named port.
type PortSchema struct {
	// Label is the human-readable port label.
	Label string `json:"label,omitempty"`

	// Schema is a JSON Schema the port's value must satisfy; nil skips
	// value validation for the port.
	Schema map[string]any `json:"schema,omitempty"`
}

// Invocation is the full call record passed to Execute.
type Invocation struct {
	// Inputs maps input port names to values gathered from upstream
	// outputs. Read-only.
	Inputs map[string]any

	// Config is the node's parameters with expressions resolved. Read-only.
	Config map[string]any

	// Context carries run identity, credentials and trigger data.
	// Read-only.
	Context *Context

	// State is the plugin's scoped handle to its per-node scratch bag and
	// the innermost loop frame. It is the only mutable surface a plugin
	// receives.
	State *NodeState
}

// Context is the read-only execution context for one plugin call.
type Context struct {
	UserID      string
	RoutineID   string
	ExecutionID string
	NodeID      string

	// Credentials maps requirement keys (or aliases) to immutable credential
	// snapshots valid for the duration of this call.
	Credentials map[string]credential.Record

	// TriggerData is the opaque trigger payload.
	TriggerData any
}

// NodeState is a plugin's scoped view of its scratch bag. The underlying
// map persists across iterations of the same node within one run; repeated
// dispatches of a node observe the same bag.
type NodeState struct {
	values map[string]any
	loop   *LoopContext
}

// NewNodeState wraps a scratch bag and the innermost loop frame. The engine
// calls this at dispatch time; plugins never construct NodeState.
func NewNodeState(values map[string]any, loop *LoopContext) *NodeState {
	if values == nil {
		values = make(map[string]any)
	}
	return &NodeState{values: values, loop: loop}
}

// Get reads a scratch value.
func (s *NodeState) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set writes a scratch value.
func (s *NodeState) Set(key string, value any) {
	s.values[key] = value
}

// Values exposes the scratch bag. The engine returns the same map on
// repeated calls for the same node; plugins may rely on identity.
func (s *NodeState) Values() map[string]any {
	return s.values
}

// LoopContext returns the innermost enclosing loop frame, or nil when the
// node executes outside any loop.
func (s *NodeState) LoopContext() *LoopContext {
	return s.loop
}

// LoopContext describes the innermost loop frame enclosing a dispatch.
type LoopContext struct {
	// EdgeID is the loop back-edge's id.
	EdgeID string

	// Iteration is the 1-based iteration the node is executing in.
	Iteration int

	// MaxIterations is the loop's configured bound.
	MaxIterations int

	// Accumulator holds the loop-scoped record projected from completer
	// outputs after each iteration.
	Accumulator map[string]any
}
