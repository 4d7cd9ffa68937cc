//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"time"

	"github.com/kianax/engine/credential"
	"github.com/kianax/engine/sink"
)

// Default execution bounds.
const (
	DefaultMaxExecutionTime = 10 * time.Minute
	DefaultMaxExecutions    = 1000
	DefaultParallelism      = 8
)

// Callbacks are the observability hooks invoked by the scheduler. Complete
// and error hooks fire with the result already recorded in state, so
// handlers can publish durable updates atomically with respect to internal
// state. All hooks are optional.
type Callbacks struct {
	OnNodeStart    func(nodeID string)
	OnNodeComplete func(nodeID string, result *NodeOutput)
	OnNodeError    func(nodeID string, err *Error)
}

// Options configures an engine or a single execution.
type Options struct {
	// MaxExecutionTime bounds the run's wall-clock time; exceeding it
	// aborts with TIMEOUT.
	MaxExecutionTime time.Duration

	// MaxExecutions bounds total plugin dispatches across all iterations;
	// exceeding it aborts with BUDGET_EXCEEDED.
	MaxExecutions int

	// Parallelism caps concurrent plugin dispatches. Ready tasks beyond the
	// cap wait in the queue without consuming worker slots.
	Parallelism int

	// Verbose raises the log level to debug.
	Verbose bool

	// UserID identifies the run's owner in plugin contexts and sink
	// records.
	UserID string

	// TriggerType labels what started the run ("manual", "cron", ...).
	TriggerType string

	// ExecutionID overrides the generated run id.
	ExecutionID string

	// CredentialLoader resolves Node.CredentialMappings. Optional unless a
	// dispatched plugin requires credentials.
	CredentialLoader credential.Loader

	// Sink receives observable transitions. Defaults to a no-op sink.
	Sink sink.Sink

	// Callbacks are the per-node observability hooks.
	Callbacks Callbacks
}

// Option configures Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxExecutionTime: DefaultMaxExecutionTime,
		MaxExecutions:    DefaultMaxExecutions,
		Parallelism:      DefaultParallelism,
		Sink:             sink.NewNoopSink(),
	}
}

// WithMaxExecutionTime sets the wall-clock bound for a run.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(o *Options) { o.MaxExecutionTime = d }
}

// WithMaxExecutions sets the total dispatch budget for a run.
func WithMaxExecutions(n int) Option {
	return func(o *Options) { o.MaxExecutions = n }
}

// WithParallelism sets the concurrent dispatch cap.
func WithParallelism(n int) Option {
	return func(o *Options) { o.Parallelism = n }
}

// WithVerbose raises the log level to debug for the run.
func WithVerbose(v bool) Option {
	return func(o *Options) { o.Verbose = v }
}

// WithUserID sets the run's owner.
func WithUserID(id string) Option {
	return func(o *Options) { o.UserID = id }
}

// WithTriggerType labels what started the run.
func WithTriggerType(t string) Option {
	return func(o *Options) { o.TriggerType = t }
}

// WithExecutionID overrides the generated run id.
func WithExecutionID(id string) Option {
	return func(o *Options) { o.ExecutionID = id }
}

// WithCredentialLoader sets the credential loader.
func WithCredentialLoader(l credential.Loader) Option {
	return func(o *Options) { o.CredentialLoader = l }
}

// WithSink sets the persistence sink.
func WithSink(s sink.Sink) Option {
	return func(o *Options) { o.Sink = s }
}

// WithCallbacks sets the observability hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(o *Options) { o.Callbacks = cb }
}
