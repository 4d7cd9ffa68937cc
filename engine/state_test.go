//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func output(nodeID string, ports map[string]any) *NodeOutput {
	out := &NodeOutput{NodeID: nodeID, Ports: make(map[string][]Item, len(ports))}
	for name, value := range ports {
		out.Ports[name] = []Item{{Data: value, Metadata: ItemMetadata{SourceNode: nodeID, SourcePort: name}}}
	}
	return out
}

func TestStateMonotonicWrites(t *testing.T) {
	s := NewExecutionState()

	s.AddNodeResult("a", output("a", map[string]any{"value": 1}))
	s.AddNodeResult("a", output("a", map[string]any{"value": 2}))

	out, ok := s.Output("a")
	require.True(t, ok)
	assert.Equal(t, 1, out.PortRecord()["value"], "first write wins")
	assert.Equal(t, 1, s.RunIndex("a"))
	assert.Len(t, s.ExecutionPath(), 1)
}

func TestStateRunIndexAcrossContexts(t *testing.T) {
	s := NewExecutionState()

	s.AddNodeResult("work", output("work", nil))
	s.AddNodeResult("work|loop:1", output("work", nil))
	s.AddNodeResult("work|loop:2", output("work", nil))

	assert.Equal(t, 3, s.RunIndex("work"))

	path := s.ExecutionPath()
	require.Len(t, path, 3)
	assert.Equal(t, PathEntry{NodeID: "work", RunIndex: 1}, path[0])
	assert.Equal(t, PathEntry{NodeID: "work", RunIndex: 3}, path[2])
}

func TestStateRunningLifecycle(t *testing.T) {
	s := NewExecutionState()

	s.MarkRunning("a")
	assert.True(t, s.Running("a"))
	assert.False(t, s.Executed("a"))

	s.AddNodeResult("a", output("a", nil))
	assert.False(t, s.Running("a"))
	assert.True(t, s.Executed("a"))
}

func TestStateErrors(t *testing.T) {
	s := NewExecutionState()

	s.MarkRunning("b")
	s.RecordError("b", newError(CodePluginExecutionFailed, "b", "boom"))

	assert.True(t, s.Failed("b"))
	assert.False(t, s.Running("b"))
	assert.True(t, s.HasErrors())

	errs := s.Errors()
	require.Contains(t, errs, "b")
	assert.Equal(t, CodePluginExecutionFailed, errs["b"].Code)
}

func TestStateNodeStateIdentity(t *testing.T) {
	s := NewExecutionState()

	bag := s.NodeState("n")
	bag["counter"] = 1

	again := s.NodeState("n")
	assert.Equal(t, 1, again["counter"], "same bag across dispatches")
}

func TestStateLoopState(t *testing.T) {
	s := NewExecutionState()

	ls := s.LoopState("edge1", 5)
	assert.Equal(t, 0, ls.Iteration)
	assert.Equal(t, 5, ls.MaxIterations)

	ls.Iteration = 2
	ls.Accumulator["total"] = 10

	again := s.LoopState("edge1", 5)
	assert.Equal(t, 2, again.Iteration)
	assert.Equal(t, 10, again.Accumulator["total"])
}
