//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"sync"
	"time"
)

// Item is one value flowing through a port, with lineage metadata set by
// the input gatherer.
type Item struct {
	Data     any          `json:"data"`
	Metadata ItemMetadata `json:"metadata"`
}

// ItemMetadata records where an item came from.
type ItemMetadata struct {
	SourceNode      string `json:"sourceNode,omitempty"`
	SourcePort      string `json:"sourcePort,omitempty"`
	SourceItemIndex int    `json:"sourceItemIndex"`
}

// NodeOutput is one node execution's recorded output: a record of named
// ports plus the emitted branch, if any.
type NodeOutput struct {
	NodeID string `json:"nodeId"`

	// Ports maps output port names to their items.
	Ports map[string][]Item `json:"ports"`

	// Branch is the emitted branch value ("" when the node is
	// non-branching).
	Branch string `json:"branch,omitempty"`
}

// PortRecord flattens the output to port name → first item data, the shape
// expression lookups and merged input gathering use.
func (o *NodeOutput) PortRecord() map[string]any {
	record := make(map[string]any, len(o.Ports))
	for name, items := range o.Ports {
		if len(items) == 0 {
			continue
		}
		record[name] = items[0].Data
	}
	return record
}

// PathEntry is one completed node execution in completion order.
type PathEntry struct {
	NodeID   string `json:"nodeId"`
	RunIndex int    `json:"runIndex"`
}

// LoopState is the bookkeeping for one loop edge across a run.
type LoopState struct {
	EdgeID        string         `json:"edgeId"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"maxIterations"`
	Accumulator   map[string]any `json:"accumulator"`
	StartedAt     time.Time      `json:"startedAt"`
}

// ExecutionState is the sole mutable record of a run. The scheduler
// exclusively owns write access; plugins only ever see a scoped handle to
// their own scratch bag.
type ExecutionState struct {
	mu sync.Mutex

	outputs    map[string]*NodeOutput
	executed   map[string]bool
	running    map[string]bool
	failed     map[string]bool
	runCounts  map[string]int
	path       []PathEntry
	loops      map[string]*LoopState
	nodeStates map[string]map[string]any
	errors     map[string]*Error
}

// NewExecutionState creates an empty state.
func NewExecutionState() *ExecutionState {
	s := &ExecutionState{}
	s.reset()
	return s
}

func (s *ExecutionState) reset() {
	s.outputs = make(map[string]*NodeOutput)
	s.executed = make(map[string]bool)
	s.running = make(map[string]bool)
	s.failed = make(map[string]bool)
	s.runCounts = make(map[string]int)
	s.path = nil
	s.loops = make(map[string]*LoopState)
	s.nodeStates = make(map[string]map[string]any)
	s.errors = make(map[string]*Error)
}

// AddNodeResult records a successful node execution under the given
// context-key: increments the node's run index, appends to the execution
// path, and stores the output. Writes are monotonic — once a context-key
// has a recorded output it is never overwritten.
func (s *ExecutionState) AddNodeResult(key string, output *NodeOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, key)
	if s.executed[key] {
		// Monotonic write: the first result for a context-key wins.
		return
	}
	s.executed[key] = true
	s.runCounts[output.NodeID]++
	s.path = append(s.path, PathEntry{
		NodeID:   output.NodeID,
		RunIndex: s.runCounts[output.NodeID],
	})
	s.outputs[key] = output
}

// Output returns the recorded output for a context-key.
func (s *ExecutionState) Output(key string) (*NodeOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[key]
	return out, ok
}

// Executed reports whether the context-key completed successfully.
func (s *ExecutionState) Executed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed[key]
}

// MarkRunning moves a context-key into the running set.
func (s *ExecutionState) MarkRunning(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[key] = true
}

// Running reports whether the context-key is currently dispatched.
func (s *ExecutionState) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[key]
}

// RecordError marks a context-key failed and stores its error. A failed
// context-key is never re-enqueued.
func (s *ExecutionState) RecordError(key string, err *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
	s.failed[key] = true
	s.errors[key] = err
}

// Failed reports whether the context-key ended in error.
func (s *ExecutionState) Failed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[key]
}

// RunIndex returns the number of completed runs for a node across all
// contexts.
func (s *ExecutionState) RunIndex(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCounts[nodeID]
}

// ExecutionPath returns the completion-ordered path.
func (s *ExecutionState) ExecutionPath() []PathEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PathEntry, len(s.path))
	copy(out, s.path)
	return out
}

// NodeState returns the node's scratch bag, creating it on first use. The
// same map is returned on repeated calls; plugins rely on identity across
// iterations.
func (s *ExecutionState) NodeState(nodeID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	bag, ok := s.nodeStates[nodeID]
	if !ok {
		bag = make(map[string]any)
		s.nodeStates[nodeID] = bag
	}
	return bag
}

// LoopState returns the bookkeeping for a loop edge, creating it with the
// given bound on first use.
func (s *ExecutionState) LoopState(edgeID string, maxIterations int) *LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.loops[edgeID]
	if !ok {
		ls = &LoopState{
			EdgeID:        edgeID,
			MaxIterations: maxIterations,
			Accumulator:   make(map[string]any),
			StartedAt:     time.Now(),
		}
		s.loops[edgeID] = ls
	}
	return ls
}

// LoopStates returns the loop bookkeeping by edge id.
func (s *ExecutionState) LoopStates() map[string]*LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*LoopState, len(s.loops))
	for k, v := range s.loops {
		out[k] = v
	}
	return out
}

// HasErrors reports whether any task failed.
func (s *ExecutionState) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors) > 0
}

// Errors returns the recorded errors keyed by context-key.
func (s *ExecutionState) Errors() map[string]*Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Error, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// Outputs returns every recorded output keyed by context-key.
func (s *ExecutionState) Outputs() map[string]*NodeOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*NodeOutput, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// Clear resets the state. For tests.
func (s *ExecutionState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}
