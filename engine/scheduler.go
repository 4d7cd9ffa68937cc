//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kianax/engine/log"
	"github.com/kianax/engine/plugin"
	"github.com/kianax/engine/routine"
	"github.com/kianax/engine/sink"
)

// Node result statuses published to the sink.
const (
	nodeStatusRunning   = "running"
	nodeStatusCompleted = "completed"
	nodeStatusFailed    = "failed"
)

// task is one schedulable unit: a node in a specific loop context. The same
// node is only ever re-enqueued under a fresh context (loop iteration).
type task struct {
	nodeID string
	ctx    ExecContext
	key    string

	// loop is the innermost loop frame snapshot taken at submit time, so
	// plugins observe the accumulator as of their dispatch.
	loop *plugin.LoopContext
}

type taskResult struct {
	task      *task
	output    *NodeOutput
	inputs    map[string]any
	items     map[string][]Item
	err       *Error
	startedAt time.Time
}

// scheduler drives a run to completion: it seeds the ready set from entry
// nodes, dispatches ready tasks concurrently through a bounded pool,
// records results, and expands successors including loop re-entries.
type scheduler struct {
	graph      *ExecutionGraph
	state      *ExecutionState
	dispatcher *dispatcher
	sink       sink.Sink
	callbacks  Callbacks
	workflowID string

	parallelism   int
	maxExecutions int

	queue   []*task
	queued  map[string]bool
	results chan *taskResult

	// loopBodies maps each loop edge to the nodes reachable from its target
	// via non-loop edges: the set that re-executes on every pass.
	loopBodies map[string]map[string]bool

	dispatched  int
	stopEnqueue bool
	terminal    *Error
}

func newScheduler(
	graph *ExecutionGraph,
	state *ExecutionState,
	d *dispatcher,
	snk sink.Sink,
	cb Callbacks,
	workflowID string,
	parallelism, maxExecutions int,
) *scheduler {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &scheduler{
		graph:         graph,
		state:         state,
		dispatcher:    d,
		sink:          snk,
		callbacks:     cb,
		workflowID:    workflowID,
		parallelism:   parallelism,
		maxExecutions: maxExecutions,
		queued:        make(map[string]bool),
		results:       make(chan *taskResult, parallelism),
		loopBodies:    loopBodies(graph),
	}
}

func loopBodies(graph *ExecutionGraph) map[string]map[string]bool {
	bodies := make(map[string]map[string]bool)
	for nodeID := range graph.Nodes() {
		for _, e := range graph.OutgoingEdges(nodeID) {
			if !e.IsLoop() {
				continue
			}
			body := make(map[string]bool)
			stack := []string{e.TargetNodeID}
			for len(stack) > 0 {
				id := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if body[id] {
					continue
				}
				body[id] = true
				for _, out := range graph.OutgoingEdges(id) {
					if !out.IsLoop() {
						stack = append(stack, out.TargetNodeID)
					}
				}
			}
			bodies[e.ID] = body
		}
	}
	return bodies
}

// run executes the control loop until queue and in-flight work drain. It
// returns the terminal error for aborted runs (timeout, budget, cancel);
// per-task errors live in state.
func (s *scheduler) run(ctx context.Context) *Error {
	pool, err := ants.NewPool(s.parallelism)
	if err != nil {
		return &Error{Code: CodePluginExecutionFailed, Message: err.Error(), Err: err}
	}
	defer pool.Release()

	for _, nodeID := range s.graph.EntryNodes() {
		s.enqueue(nodeID, RootContext())
	}

	inFlight := 0
	done := ctx.Done()

	for {
		if !s.stopEnqueue {
			ready := s.takeReady()
			for i, t := range ready {
				if s.maxExecutions > 0 && s.dispatched >= s.maxExecutions {
					s.abort(newError(CodeBudgetExceeded, t.nodeID,
						"execution budget of %d dispatches exhausted", s.maxExecutions))
					break
				}
				if inFlight >= s.parallelism {
					// Every worker is busy. Requeue the remainder instead of
					// blocking in Submit; a blocked Submit would stop the
					// result drain below and wedge the pool.
					s.queue = append(s.queue, ready[i:]...)
					break
				}
				s.dispatched++
				inFlight++
				s.submit(ctx, pool, t)
			}
		}

		if inFlight == 0 {
			// Tasks left in the queue at this point are gated by failed or
			// dropped predecessors and can never become ready.
			break
		}

		select {
		case <-done:
			done = nil
			if ctx.Err() == context.DeadlineExceeded {
				s.abort(newError(CodeTimeout, "", "execution exceeded its time bound"))
			} else {
				s.abort(newError(CodeCancelled, "", "execution cancelled"))
			}
		case res := <-s.results:
			inFlight--
			s.handleResult(ctx, res)
		}
	}

	return s.terminal
}

// abort stops new dispatches; in-flight tasks are awaited so their results
// still land in state.
func (s *scheduler) abort(err *Error) {
	if s.terminal == nil {
		s.terminal = err
	}
	s.stopEnqueue = true
}

// enqueue adds a task unless its context-key already executed, failed, is
// running, or is queued.
func (s *scheduler) enqueue(nodeID string, ec ExecContext) {
	node := s.graph.Node(nodeID)
	if node == nil || node.Disabled {
		return
	}
	key := ec.Key(nodeID)
	if s.queued[key] || s.state.Executed(key) || s.state.Running(key) || s.state.Failed(key) {
		return
	}
	s.queued[key] = true
	s.queue = append(s.queue, &task{nodeID: nodeID, ctx: ec, key: key})
}

type predState int

const (
	predPending predState = iota
	predDone
	predFailed
)

// predecessorState resolves a predecessor's completion in the task's scope,
// walking the loop stack outward. The walk only falls back to an outer scope
// when the predecessor is not part of the enclosing loop's body: a body node
// re-executes on every pass, so its result for the current iteration is
// still outstanding and an older scope's result must not stand in for it.
func (s *scheduler) predecessorState(srcID string, ec ExecContext) predState {
	for {
		key := ec.Key(srcID)
		if s.state.Executed(key) {
			return predDone
		}
		if s.state.Failed(key) {
			return predFailed
		}
		frame, ok := ec.Innermost()
		if !ok {
			return predPending
		}
		if s.loopBodies[frame.EdgeID][srcID] {
			return predPending
		}
		ec, _ = ec.Parent()
	}
}

// takeReady removes and returns the ready subset of the queue. A task is
// ready when every incoming non-loop edge from an enabled source has an
// executed result in the task's scope. Tasks gated by a failed predecessor
// are dropped: descendants reachable only through a failed task never run.
func (s *scheduler) takeReady() []*task {
	var ready []*task
	var remaining []*task
	for _, t := range s.queue {
		switch s.readiness(t) {
		case predDone:
			ready = append(ready, t)
		case predFailed:
			log.Debugf("scheduler: dropping task %s gated by failed predecessor", t.key)
		default:
			remaining = append(remaining, t)
		}
	}
	s.queue = remaining
	return ready
}

func (s *scheduler) readiness(t *task) predState {
	for _, e := range s.graph.IncomingEdges(t.nodeID) {
		if e.IsLoop() {
			continue
		}
		src := s.graph.Node(e.SourceNodeID)
		if src == nil || src.Disabled {
			continue
		}
		switch s.predecessorState(e.SourceNodeID, t.ctx) {
		case predFailed:
			return predFailed
		case predPending:
			return predPending
		}
	}
	return predDone
}

// submit snapshots the task's loop context and hands it to the pool.
func (s *scheduler) submit(ctx context.Context, pool *ants.Pool, t *task) {
	t.loop = s.loopContextFor(t.ctx)
	s.state.MarkRunning(t.key)

	if s.callbacks.OnNodeStart != nil {
		s.callbacks.OnNodeStart(t.nodeID)
	}
	startedAt := time.Now()
	s.emitNodeResult(ctx, sink.NodeResultRecord{
		WorkflowID: s.workflowID,
		NodeID:     t.nodeID,
		Status:     nodeStatusRunning,
		StartedAt:  startedAt,
	})

	submitted := t
	if err := pool.Submit(func() {
		out, inputs, items, derr := s.dispatcher.dispatch(ctx, submitted)
		s.results <- &taskResult{
			task:      submitted,
			output:    out,
			inputs:    inputs,
			items:     items,
			err:       derr,
			startedAt: startedAt,
		}
	}); err != nil {
		// Pool rejected the task (released or overloaded); fail it inline.
		s.results <- &taskResult{
			task:      submitted,
			err:       wrapError(CodePluginExecutionFailed, submitted.nodeID, err),
			startedAt: startedAt,
		}
	}
}

// loopContextFor builds the plugin-visible view of the innermost loop
// frame, with the accumulator copied as of dispatch time.
func (s *scheduler) loopContextFor(ec ExecContext) *plugin.LoopContext {
	frame, ok := ec.Innermost()
	if !ok {
		return nil
	}
	edge := s.loopEdge(frame.EdgeID)
	if edge == nil || edge.Condition.LoopConfig == nil {
		return nil
	}
	ls := s.state.LoopState(frame.EdgeID, edge.Condition.LoopConfig.MaxIterations)
	acc := make(map[string]any, len(ls.Accumulator))
	for k, v := range ls.Accumulator {
		acc[k] = v
	}
	return &plugin.LoopContext{
		EdgeID:        frame.EdgeID,
		Iteration:     frame.Iteration + 1,
		MaxIterations: ls.MaxIterations,
		Accumulator:   acc,
	}
}

func (s *scheduler) loopEdge(edgeID string) *routine.Edge {
	for nodeID := range s.graph.Nodes() {
		for _, e := range s.graph.OutgoingEdges(nodeID) {
			if e.ID == edgeID && e.IsLoop() {
				return e
			}
		}
	}
	return nil
}

// handleResult records one completion and expands successors.
func (s *scheduler) handleResult(ctx context.Context, res *taskResult) {
	t := res.task
	completedAt := time.Now()

	if res.err != nil {
		s.state.RecordError(t.key, res.err)
		if s.callbacks.OnNodeError != nil {
			s.callbacks.OnNodeError(t.nodeID, res.err)
		}
		s.emitNodeResult(ctx, sink.NodeResultRecord{
			WorkflowID:  s.workflowID,
			NodeID:      t.nodeID,
			Status:      nodeStatusFailed,
			Input:       res.inputs,
			Error:       res.err.Error(),
			StartedAt:   res.startedAt,
			CompletedAt: &completedAt,
		})
		return
	}

	s.state.AddNodeResult(t.key, res.output)
	if s.callbacks.OnNodeComplete != nil {
		s.callbacks.OnNodeComplete(t.nodeID, res.output)
	}
	s.emitNodeResult(ctx, sink.NodeResultRecord{
		WorkflowID:  s.workflowID,
		NodeID:      t.nodeID,
		Status:      nodeStatusCompleted,
		Input:       res.inputs,
		Output:      res.output.PortRecord(),
		StartedAt:   res.startedAt,
		CompletedAt: &completedAt,
	})

	if s.stopEnqueue {
		return
	}
	s.expandSuccessors(ctx, t, res.output, res.startedAt)
}

// expandSuccessors enqueues the completed node's downstream tasks. Branch
// partitioning: when the output carries a branch and the node has
// branch-conditioned edges, only matching branch edges plus unconditional
// and default edges are followed. An emitted branch with no matching edge
// raises UNROUTED_BRANCH.
func (s *scheduler) expandSuccessors(ctx context.Context, t *task, out *NodeOutput, startedAt time.Time) {
	var regular, loops []*routine.Edge
	for _, e := range s.graph.OutgoingEdges(t.nodeID) {
		if e.IsLoop() {
			loops = append(loops, e)
		} else {
			regular = append(regular, e)
		}
	}

	var branchEdges []*routine.Edge
	for _, e := range regular {
		if e.IsBranch() {
			branchEdges = append(branchEdges, e)
		}
	}

	var followed []*routine.Edge
	if out.Branch != "" && len(branchEdges) > 0 {
		var matching []*routine.Edge
		for _, e := range branchEdges {
			if e.Condition.Value == out.Branch {
				matching = append(matching, e)
			}
		}
		if len(matching) == 0 {
			available := make([]string, 0, len(branchEdges))
			for _, e := range branchEdges {
				available = append(available, e.Condition.Value)
			}
			s.failBranching(ctx, t, out, available, startedAt)
			return
		}
		followed = matching
		for _, e := range regular {
			if !e.IsBranch() {
				followed = append(followed, e)
			}
		}
	} else {
		// No branch emitted (or no branch edges): branch filtering is
		// disabled entirely.
		followed = regular
	}

	for _, e := range followed {
		s.enqueue(e.TargetNodeID, t.ctx)
	}
	for _, e := range loops {
		s.advanceLoop(t, e, out)
	}
}

// failBranching records UNROUTED_BRANCH for the completer and stops its
// descendants. The sink sees the node fail even though its plugin ran to
// completion.
func (s *scheduler) failBranching(ctx context.Context, t *task, out *NodeOutput, available []string, startedAt time.Time) {
	err := newError(CodeUnroutedBranch, t.nodeID,
		"no outgoing edge matches branch %q (available branches: %s)",
		out.Branch, strings.Join(available, ", "))
	s.state.RecordError(t.key, err)
	if s.callbacks.OnNodeError != nil {
		s.callbacks.OnNodeError(t.nodeID, err)
	}
	completedAt := time.Now()
	s.emitNodeResult(ctx, sink.NodeResultRecord{
		WorkflowID:  s.workflowID,
		NodeID:      t.nodeID,
		Status:      nodeStatusFailed,
		Output:      out.PortRecord(),
		Error:       err.Error(),
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
	})
}

// advanceLoop applies the loop-progress rule: the per-edge iteration
// counter increments on every trigger; the target re-enters with a fresh
// context while the incremented value stays below the bound. The
// accumulator is projected from the completer's output on every trigger,
// before the re-entry decision.
func (s *scheduler) advanceLoop(t *task, e *routine.Edge, out *NodeOutput) {
	cfg := e.Condition.LoopConfig
	if cfg == nil {
		return
	}
	ls := s.state.LoopState(e.ID, cfg.MaxIterations)

	if len(cfg.AccumulatorFields) > 0 {
		record := out.PortRecord()
		for _, field := range cfg.AccumulatorFields {
			if v, ok := record[field]; ok {
				ls.Accumulator[field] = v
			}
		}
	}

	next := ls.Iteration + 1
	if next > cfg.MaxIterations {
		return
	}
	ls.Iteration = next
	if next < cfg.MaxIterations {
		s.enqueue(e.TargetNodeID, t.ctx.Enter(e.ID))
	}
}

// emitNodeResult publishes to the sink; sink failures are logged and never
// abort the run.
func (s *scheduler) emitNodeResult(ctx context.Context, rec sink.NodeResultRecord) {
	if s.sink == nil {
		return
	}
	if err := s.sink.StoreNodeResult(ctx, rec); err != nil {
		log.Warnf("sink: storing node result for %s failed: %v", rec.NodeID, err)
	}
}
