//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package engine executes validated routines: it compiles a routine into an
// execution graph, schedules ready nodes through a bounded worker pool,
// dispatches plugins with resolved parameters, gathered inputs and loaded
// credentials, and records every transition in the run's execution state.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kianax/engine/expression"
	"github.com/kianax/engine/log"
	"github.com/kianax/engine/plugin"
	"github.com/kianax/engine/routine"
	"github.com/kianax/engine/sink"
)

// Run statuses reported in results and sink updates.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result is the outcome of one routine execution.
type Result struct {
	// ExecutionID is the run's unique id.
	ExecutionID string `json:"executionId"`

	// Status is StatusCompleted when every dispatched node succeeded,
	// StatusFailed otherwise.
	Status string `json:"status"`

	// NodeResults holds every recorded output keyed by context-key.
	NodeResults map[string]*NodeOutput `json:"nodeResults"`

	// ExecutionPath is the completion-ordered path.
	ExecutionPath []PathEntry `json:"executionPath"`

	// Errors holds the per-task errors keyed by context-key.
	Errors map[string]*Error `json:"errors,omitempty"`
}

// Engine executes routines against a plugin registry. An Engine is safe for
// concurrent use; each Execute call owns its run state.
type Engine struct {
	registry  *plugin.Registry
	validator *routine.Validator
	opts      Options
}

// New creates an engine bound to a plugin registry.
func New(registry *plugin.Registry, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Verbose {
		log.SetLevel(log.LevelDebug)
	}
	return &Engine{
		registry:  registry,
		validator: routine.NewValidator(),
		opts:      o,
	}
}

// Execute runs a routine to completion. It validates the definition, checks
// every referenced plugin is registered, then schedules the graph. A run
// whose nodes fail still returns a Result (with Status "failed") and a nil
// error; a non-nil error means the run could not start or was aborted as a
// whole.
func (e *Engine) Execute(ctx context.Context, r *routine.Routine, opts ...Option) (*Result, error) {
	o := e.opts
	for _, opt := range opts {
		opt(&o)
	}

	res := e.validator.Validate(r)
	if !res.Valid {
		return nil, &ValidationError{Result: res}
	}
	for _, w := range res.Warnings {
		log.Warnf("routine %s: %s", r.Name, w.String())
	}

	// Registry pre-check: reject unknown plugins before any sink events.
	for i := range r.Nodes {
		n := &r.Nodes[i]
		if n.Disabled {
			continue
		}
		if !e.registry.Has(n.PluginID) {
			return nil, newError(CodePluginNotFound, n.ID,
				"plugin %s not registered", n.PluginID)
		}
	}

	executionID := o.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	startedAt := time.Now()

	if o.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.MaxExecutionTime)
		defer cancel()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "routine.execute",
		trace.WithAttributes(
			attribute.String("kianax.routine.id", r.ID),
			attribute.String("kianax.routine.name", r.Name),
			attribute.String("kianax.execution.id", executionID),
		))
	defer span.End()

	snk := o.Sink
	if snk == nil {
		snk = sink.NewNoopSink()
	}
	if err := snk.CreateExecution(ctx, sink.ExecutionRecord{
		RoutineID:   r.ID,
		UserID:      o.UserID,
		WorkflowID:  executionID,
		RunID:       executionID,
		TriggerType: o.TriggerType,
		TriggerData: r.TriggerData,
	}); err != nil {
		log.Warnf("sink: creating execution record for %s failed: %v", executionID, err)
	}

	graph := BuildGraph(r)
	state := NewExecutionState()
	meta := expression.Meta{
		ID:        executionID,
		RoutineID: r.ID,
		StartedAt: startedAt,
	}
	d := newDispatcher(graph, state, e.registry, o.CredentialLoader, meta, o.UserID)
	sched := newScheduler(graph, state, d, snk, o.Callbacks, executionID,
		o.Parallelism, o.MaxExecutions)

	log.Infof("engine: executing routine %s (run %s)", r.Name, executionID)
	terminal := sched.run(ctx)

	result := &Result{
		ExecutionID:   executionID,
		Status:        StatusCompleted,
		NodeResults:   state.Outputs(),
		ExecutionPath: state.ExecutionPath(),
		Errors:        state.Errors(),
	}
	if terminal != nil || state.HasErrors() {
		result.Status = StatusFailed
	}

	completedAt := time.Now()
	path := make([]string, len(result.ExecutionPath))
	for i, entry := range result.ExecutionPath {
		path[i] = entry.NodeID
	}
	update := sink.StatusUpdate{
		WorkflowID:    executionID,
		Status:        result.Status,
		ExecutionPath: path,
		CompletedAt:   &completedAt,
	}
	if terminal != nil {
		update.Error = terminal.Error()
	} else if state.HasErrors() {
		update.Error = firstErrorMessage(state.Errors())
	}
	if err := snk.UpdateStatus(ctx, update); err != nil {
		log.Warnf("sink: updating status for %s failed: %v", executionID, err)
	}

	if terminal != nil {
		span.RecordError(terminal)
		log.Errorf("engine: run %s aborted: %v", executionID, terminal)
		return result, terminal
	}
	log.Infof("engine: run %s %s in %s (%d nodes)",
		executionID, result.Status, completedAt.Sub(startedAt), len(result.ExecutionPath))
	return result, nil
}

// firstErrorMessage picks a representative error for the status update.
func firstErrorMessage(errs map[string]*Error) string {
	for _, err := range errs {
		return err.Error()
	}
	return ""
}

// String renders a compact summary.
func (r *Result) String() string {
	return fmt.Sprintf("execution %s: %s (%d nodes, %d errors)",
		r.ExecutionID, r.Status, len(r.ExecutionPath), len(r.Errors))
}
