//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package sink defines the persistence sink the scheduler publishes
// per-node state to, so external observers can render progress in real
// time. Sink failures are logged by the engine and never abort a run.
package sink

import (
	"context"
	"sync"
	"time"
)

// ExecutionRecord announces a new run.
type ExecutionRecord struct {
	RoutineID   string `json:"routineId"`
	UserID      string `json:"userId,omitempty"`
	WorkflowID  string `json:"workflowId"`
	RunID       string `json:"runId,omitempty"`
	TriggerType string `json:"triggerType,omitempty"`
	TriggerData any    `json:"triggerData,omitempty"`
}

// NodeResultRecord records one node execution's outcome.
type NodeResultRecord struct {
	WorkflowID  string     `json:"workflowId"`
	NodeID      string     `json:"nodeId"`
	Status      string     `json:"status"`
	Input       any        `json:"input,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StatusUpdate records a workflow-level status transition.
type StatusUpdate struct {
	WorkflowID    string     `json:"workflowId"`
	Status        string     `json:"status"`
	ExecutionPath []string   `json:"executionPath,omitempty"`
	Error         string     `json:"error,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Sink receives observable execution transitions. Implementations must be
// safe for concurrent use; node results arrive from parallel dispatches.
type Sink interface {
	CreateExecution(ctx context.Context, rec ExecutionRecord) error
	StoreNodeResult(ctx context.Context, rec NodeResultRecord) error
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// NoopSink discards everything.
type NoopSink struct{}

// NewNoopSink creates a sink that drops all records.
func NewNoopSink() *NoopSink { return &NoopSink{} }

// CreateExecution implements Sink.
func (*NoopSink) CreateExecution(context.Context, ExecutionRecord) error { return nil }

// StoreNodeResult implements Sink.
func (*NoopSink) StoreNodeResult(context.Context, NodeResultRecord) error { return nil }

// UpdateStatus implements Sink.
func (*NoopSink) UpdateStatus(context.Context, StatusUpdate) error { return nil }

// MemorySink retains records in memory, for dashboards backed by polling
// and for tests asserting on published transitions.
type MemorySink struct {
	mu          sync.Mutex
	executions  []ExecutionRecord
	nodeResults []NodeResultRecord
	updates     []StatusUpdate
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// CreateExecution implements Sink.
func (s *MemorySink) CreateExecution(_ context.Context, rec ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, rec)
	return nil
}

// StoreNodeResult implements Sink.
func (s *MemorySink) StoreNodeResult(_ context.Context, rec NodeResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeResults = append(s.nodeResults, rec)
	return nil
}

// UpdateStatus implements Sink.
func (s *MemorySink) UpdateStatus(_ context.Context, update StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

// Executions returns a copy of the recorded execution records.
func (s *MemorySink) Executions() []ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ExecutionRecord, len(s.executions))
	copy(out, s.executions)
	return out
}

// NodeResults returns a copy of the recorded node results.
func (s *MemorySink) NodeResults() []NodeResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeResultRecord, len(s.nodeResults))
	copy(out, s.nodeResults)
	return out
}

// Updates returns a copy of the recorded status updates.
func (s *MemorySink) Updates() []StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatusUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}
