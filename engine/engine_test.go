//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kianax/engine/plugin"
	"github.com/kianax/engine/routine"
	"github.com/kianax/engine/sink"
)

// fakePlugin is a configurable test plugin with open schemas.
type fakePlugin struct {
	id      string
	execute func(ctx context.Context, inv *plugin.Invocation) (map[string]any, error)
}

func (p *fakePlugin) ID() string { return p.id }

func (p *fakePlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{ID: p.id, Name: p.id, Version: "0.0.0"}
}

func (p *fakePlugin) Schemas() plugin.Schemas { return plugin.Schemas{} }

func (p *fakePlugin) Execute(ctx context.Context, inv *plugin.Invocation) (map[string]any, error) {
	if p.execute == nil {
		return map[string]any{"ok": true}, nil
	}
	return p.execute(ctx, inv)
}

// echoRegistry registers a fake plugin per id.
func newTestRegistry(t *testing.T, plugins ...*fakePlugin) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, p := range plugins {
		require.NoError(t, reg.Register(p))
	}
	return reg
}

func chainRoutine(pluginID string, ids ...string) *routine.Routine {
	r := &routine.Routine{Name: "chain"}
	for _, id := range ids {
		r.Nodes = append(r.Nodes, routine.Node{ID: id, PluginID: pluginID})
	}
	for i := 1; i < len(ids); i++ {
		r.Connections = append(r.Connections, routine.Edge{
			ID: fmt.Sprintf("e%d", i), SourceNodeID: ids[i-1], TargetNodeID: ids[i],
		})
	}
	return r
}

func TestExecuteLinearChain(t *testing.T) {
	var mu sync.Mutex
	var order []string
	p := &fakePlugin{id: "echo", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		order = append(order, inv.Context.NodeID)
		mu.Unlock()
		return map[string]any{"node": inv.Context.NodeID}, nil
	}}

	e := New(newTestRegistry(t, p))
	res, err := e.Execute(context.Background(), chainRoutine("echo", "a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	require.Len(t, res.ExecutionPath, 3)
	assert.NotEmpty(t, res.ExecutionID)

	out, ok := res.NodeResults["c"]
	require.True(t, ok)
	assert.Equal(t, "c", out.PortRecord()["node"])
}

func TestExecuteParallelJoin(t *testing.T) {
	var mu sync.Mutex
	runs := map[string]int{}
	p := &fakePlugin{id: "echo", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		runs[inv.Context.NodeID]++
		mu.Unlock()
		return map[string]any{"from": inv.Context.NodeID}, nil
	}}

	r := &routine.Routine{
		Name: "join",
		Nodes: []routine.Node{
			{ID: "left", PluginID: "echo"},
			{ID: "right", PluginID: "echo"},
			{ID: "merge", PluginID: "echo"},
		},
		Connections: []routine.Edge{
			{ID: "e1", SourceNodeID: "left", TargetNodeID: "merge", SourceHandle: "from", TargetHandle: "l"},
			{ID: "e2", SourceNodeID: "right", TargetNodeID: "merge", SourceHandle: "from", TargetHandle: "r"},
		},
	}

	res, err := New(newTestRegistry(t, p)).Execute(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	// The join node runs exactly once, after both producers.
	assert.Equal(t, 1, runs["merge"])
	last := res.ExecutionPath[len(res.ExecutionPath)-1]
	assert.Equal(t, "merge", last.NodeID)
}

func TestExecuteConditionalBranch(t *testing.T) {
	var mu sync.Mutex
	var executed []string
	record := func(id string) {
		mu.Lock()
		executed = append(executed, id)
		mu.Unlock()
	}

	cond := &fakePlugin{id: "cond", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		record(inv.Context.NodeID)
		return map[string]any{"branch": "true", "checked": true}, nil
	}}
	echo := &fakePlugin{id: "echo", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		record(inv.Context.NodeID)
		return map[string]any{}, nil
	}}

	r := &routine.Routine{
		Name: "branching",
		Nodes: []routine.Node{
			{ID: "check", PluginID: "cond"},
			{ID: "yes", PluginID: "echo"},
			{ID: "no", PluginID: "echo"},
		},
		Connections: []routine.Edge{
			{ID: "e1", SourceNodeID: "check", TargetNodeID: "yes",
				Condition: &routine.Condition{Type: routine.ConditionBranch, Value: "true"}},
			{ID: "e2", SourceNodeID: "check", TargetNodeID: "no",
				Condition: &routine.Condition{Type: routine.ConditionBranch, Value: "false"}},
		},
	}

	res, err := New(newTestRegistry(t, cond, echo)).Execute(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Contains(t, executed, "yes")
	assert.NotContains(t, executed, "no")
}

func TestExecuteUnroutedBranch(t *testing.T) {
	cond := &fakePlugin{id: "cond", execute: func(context.Context, *plugin.Invocation) (map[string]any, error) {
		return map[string]any{"branch": "maybe"}, nil
	}}
	echo := &fakePlugin{id: "echo"}

	r := &routine.Routine{
		Name: "branching",
		Nodes: []routine.Node{
			{ID: "check", PluginID: "cond"},
			{ID: "yes", PluginID: "echo"},
			{ID: "no", PluginID: "echo"},
		},
		Connections: []routine.Edge{
			{ID: "e1", SourceNodeID: "check", TargetNodeID: "yes",
				Condition: &routine.Condition{Type: routine.ConditionBranch, Value: "true"}},
			{ID: "e2", SourceNodeID: "check", TargetNodeID: "no",
				Condition: &routine.Condition{Type: routine.ConditionBranch, Value: "false"}},
		},
	}

	res, err := New(newTestRegistry(t, cond, echo)).Execute(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Errors, "check")
	assert.Equal(t, CodeUnroutedBranch, res.Errors["check"].Code)
	assert.NotContains(t, res.NodeResults, "yes")
	assert.NotContains(t, res.NodeResults, "no")
}

func TestExecuteLoopWithAccumulator(t *testing.T) {
	var mu sync.Mutex
	var accumulators []map[string]any
	body := &fakePlugin{id: "body", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		if lc := inv.State.LoopContext(); lc != nil {
			accumulators = append(accumulators, lc.Accumulator)
		} else {
			accumulators = append(accumulators, nil)
		}
		count, _ := inv.State.Get("count")
		n, _ := count.(int)
		n++
		inv.State.Set("count", n)
		return map[string]any{"total": n * 10}, nil
	}}

	r := &routine.Routine{
		Name:  "looping",
		Nodes: []routine.Node{{ID: "body", PluginID: "body"}},
		Connections: []routine.Edge{
			{ID: "back", SourceNodeID: "body", TargetNodeID: "body",
				Condition: &routine.Condition{Type: routine.ConditionLoop,
					LoopConfig: &routine.LoopConfig{
						MaxIterations:     3,
						AccumulatorFields: []string{"total"},
					}}},
		},
	}

	res, err := New(newTestRegistry(t, body)).Execute(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.ExecutionPath, 3)

	// Root dispatch runs outside any loop frame; re-entries observe the
	// accumulator projected from the previous trigger.
	require.Len(t, accumulators, 3)
	assert.Nil(t, accumulators[0])
	assert.Equal(t, map[string]any{"total": 10}, accumulators[1])
	assert.Equal(t, map[string]any{"total": 20}, accumulators[2])

	out, ok := res.NodeResults["body|back:2"]
	require.True(t, ok)
	assert.Equal(t, 30, out.PortRecord()["total"])
}

func TestExecuteLoopSingleIteration(t *testing.T) {
	body := &fakePlugin{id: "body"}

	r := &routine.Routine{
		Name:  "looping",
		Nodes: []routine.Node{{ID: "body", PluginID: "body"}},
		Connections: []routine.Edge{
			{ID: "back", SourceNodeID: "body", TargetNodeID: "body",
				Condition: &routine.Condition{Type: routine.ConditionLoop,
					LoopConfig: &routine.LoopConfig{MaxIterations: 1}}},
		},
	}

	res, err := New(newTestRegistry(t, body)).Execute(context.Background(), r)
	require.NoError(t, err)

	// maxIterations 1 means the body runs exactly once.
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Len(t, res.ExecutionPath, 1)
}

func TestExecuteBudgetExceeded(t *testing.T) {
	body := &fakePlugin{id: "body"}

	r := &routine.Routine{
		Name:  "looping",
		Nodes: []routine.Node{{ID: "body", PluginID: "body"}},
		Connections: []routine.Edge{
			{ID: "back", SourceNodeID: "body", TargetNodeID: "body",
				Condition: &routine.Condition{Type: routine.ConditionLoop,
					LoopConfig: &routine.LoopConfig{MaxIterations: 100}}},
		},
	}

	res, err := New(newTestRegistry(t, body)).Execute(context.Background(), r,
		WithMaxExecutions(3))
	require.Error(t, err)

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, CodeBudgetExceeded, engineErr.Code)
	assert.Equal(t, StatusFailed, res.Status)
	assert.LessOrEqual(t, len(res.ExecutionPath), 3)
}

func TestExecuteTimeout(t *testing.T) {
	slow := &fakePlugin{id: "slow", execute: func(ctx context.Context, _ *plugin.Invocation) (map[string]any, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return map[string]any{}, nil
	}}

	res, err := New(newTestRegistry(t, slow)).Execute(context.Background(),
		chainRoutine("slow", "a", "b"),
		WithMaxExecutionTime(30*time.Millisecond))
	require.Error(t, err)

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, CodeTimeout, engineErr.Code)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestExecuteFailurePrunesDescendants(t *testing.T) {
	var mu sync.Mutex
	var executed []string
	failing := &fakePlugin{id: "failing", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		executed = append(executed, inv.Context.NodeID)
		mu.Unlock()
		if inv.Context.NodeID == "b" {
			return nil, errors.New("downstream service unavailable")
		}
		return map[string]any{}, nil
	}}

	res, err := New(newTestRegistry(t, failing)).Execute(context.Background(),
		chainRoutine("failing", "a", "b", "c"))
	require.NoError(t, err, "node failures do not abort the run as a whole")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"a", "b"}, executed)
	require.Contains(t, res.Errors, "b")
	assert.Equal(t, CodePluginExecutionFailed, res.Errors["b"].Code)
}

func TestExecutePanickingPlugin(t *testing.T) {
	panicky := &fakePlugin{id: "panicky", execute: func(context.Context, *plugin.Invocation) (map[string]any, error) {
		panic("nil dereference in plugin")
	}}

	res, err := New(newTestRegistry(t, panicky)).Execute(context.Background(),
		chainRoutine("panicky", "a"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	require.Contains(t, res.Errors, "a")
	assert.Equal(t, CodePluginExecutionFailed, res.Errors["a"].Code)
	assert.NotEmpty(t, res.Errors["a"].Stack)
}

func TestExecuteRejectsInvalidRoutine(t *testing.T) {
	r := chainRoutine("echo", "a", "b")
	r.Connections = append(r.Connections, routine.Edge{
		ID: "back", SourceNodeID: "b", TargetNodeID: "a",
	})

	_, err := New(newTestRegistry(t, &fakePlugin{id: "echo"})).Execute(context.Background(), r)
	require.Error(t, err)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestExecuteRejectsUnregisteredPlugin(t *testing.T) {
	snk := sink.NewMemorySink()
	_, err := New(newTestRegistry(t, &fakePlugin{id: "echo"})).Execute(context.Background(),
		chainRoutine("missing", "a"), WithSink(snk))
	require.Error(t, err)

	var engineErr *Error
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, CodePluginNotFound, engineErr.Code)
	// The pre-check fires before any sink events.
	assert.Empty(t, snk.Executions())
}

func TestExecutePublishesToSink(t *testing.T) {
	snk := sink.NewMemorySink()
	echo := &fakePlugin{id: "echo"}

	res, err := New(newTestRegistry(t, echo)).Execute(context.Background(),
		chainRoutine("echo", "a", "b"),
		WithSink(snk), WithUserID("user-1"), WithTriggerType("manual"))
	require.NoError(t, err)

	execs := snk.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, res.ExecutionID, execs[0].WorkflowID)
	assert.Equal(t, "user-1", execs[0].UserID)
	assert.Equal(t, "manual", execs[0].TriggerType)

	// Each node publishes a running and a completed record.
	assert.Len(t, snk.NodeResults(), 4)

	updates := snk.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, StatusCompleted, updates[0].Status)
	assert.Equal(t, []string{"a", "b"}, updates[0].ExecutionPath)
	require.NotNil(t, updates[0].CompletedAt)
}

func TestExecuteCallbacksFireAfterRecording(t *testing.T) {
	state := make(chan bool, 1)
	var eng *Engine

	var res *Result
	var err error
	cb := Callbacks{
		OnNodeComplete: func(nodeID string, out *NodeOutput) {
			state <- out != nil
		},
	}
	eng = New(newTestRegistry(t, &fakePlugin{id: "echo"}), WithCallbacks(cb))
	res, err = eng.Execute(context.Background(), chainRoutine("echo", "a"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, <-state)
}

func TestExecuteDisabledNodesSkipped(t *testing.T) {
	var mu sync.Mutex
	var executed []string
	echo := &fakePlugin{id: "echo", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		executed = append(executed, inv.Context.NodeID)
		mu.Unlock()
		return map[string]any{}, nil
	}}

	r := chainRoutine("echo", "a", "b", "c")
	r.Nodes[1].Disabled = true

	res, err := New(newTestRegistry(t, echo)).Execute(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotContains(t, executed, "b")
	// c's only gate is the disabled b, so it still runs.
	assert.Contains(t, executed, "c")
}

func TestExecuteWideFanIn(t *testing.T) {
	echo := &fakePlugin{id: "echo"}

	// Many sources feeding one join, dispatched through a pool narrower
	// than the ready batch. The run must drain without wedging.
	r := &routine.Routine{Name: "fanin"}
	r.Nodes = append(r.Nodes, routine.Node{ID: "join", PluginID: "echo"})
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("src%d", i)
		r.Nodes = append(r.Nodes, routine.Node{ID: id, PluginID: "echo"})
		r.Connections = append(r.Connections, routine.Edge{
			ID:           fmt.Sprintf("e%d", i),
			SourceNodeID: id,
			TargetNodeID: "join",
			SourceHandle: "ok",
			TargetHandle: fmt.Sprintf("t%d", i),
		})
	}

	res, err := New(newTestRegistry(t, echo)).Execute(context.Background(), r,
		WithParallelism(2),
		WithMaxExecutionTime(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.ExecutionPath, 11)
	assert.Equal(t, "join", res.ExecutionPath[len(res.ExecutionPath)-1].NodeID)
}

func TestExecuteLoopRefreshesBodyInputs(t *testing.T) {
	var mu sync.Mutex
	var observed []any

	producer := &fakePlugin{id: "producer", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		// Slow enough that the consumer's other gate is satisfied first.
		time.Sleep(20 * time.Millisecond)
		count, _ := inv.State.Get("count")
		n, _ := count.(int)
		n++
		inv.State.Set("count", n)
		return map[string]any{"bval": n}, nil
	}}
	consumer := &fakePlugin{id: "consumer", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		observed = append(observed, inv.Inputs["bval"])
		mu.Unlock()
		return map[string]any{}, nil
	}}
	echo := &fakePlugin{id: "echo"}

	// Diamond inside a loop: a fans out to b and c, b also feeds c, and c
	// loops back to a. Each pass must wait for that pass's b instead of
	// reusing an earlier iteration's value.
	r := &routine.Routine{
		Name: "loop-diamond",
		Nodes: []routine.Node{
			{ID: "a", PluginID: "echo"},
			{ID: "b", PluginID: "producer"},
			{ID: "c", PluginID: "consumer"},
		},
		Connections: []routine.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "a", TargetNodeID: "c"},
			{ID: "e3", SourceNodeID: "b", TargetNodeID: "c", SourceHandle: "bval", TargetHandle: "bval"},
			{ID: "back", SourceNodeID: "c", TargetNodeID: "a",
				Condition: &routine.Condition{Type: routine.ConditionLoop,
					LoopConfig: &routine.LoopConfig{MaxIterations: 3}}},
		},
	}

	res, err := New(newTestRegistry(t, producer, consumer, echo)).Execute(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []any{1, 2, 3}, observed)
}

func TestExecuteUnroutedBranchPublishesFailure(t *testing.T) {
	snk := sink.NewMemorySink()
	cond := &fakePlugin{id: "cond", execute: func(context.Context, *plugin.Invocation) (map[string]any, error) {
		return map[string]any{"branch": "maybe"}, nil
	}}
	echo := &fakePlugin{id: "echo"}

	r := &routine.Routine{
		Name: "branching",
		Nodes: []routine.Node{
			{ID: "check", PluginID: "cond"},
			{ID: "yes", PluginID: "echo"},
		},
		Connections: []routine.Edge{
			{ID: "e1", SourceNodeID: "check", TargetNodeID: "yes",
				Condition: &routine.Condition{Type: routine.ConditionBranch, Value: "true"}},
		},
	}

	res, err := New(newTestRegistry(t, cond, echo)).Execute(context.Background(), r, WithSink(snk))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	// The plugin ran, so the sink sees running and completed first; the
	// routing failure lands as a final failed record.
	var checkStatuses []string
	var last sink.NodeResultRecord
	for _, rec := range snk.NodeResults() {
		if rec.NodeID == "check" {
			checkStatuses = append(checkStatuses, rec.Status)
			last = rec
		}
	}
	require.Equal(t, []string{"running", "completed", "failed"}, checkStatuses)
	assert.Contains(t, last.Error, "UNROUTED_BRANCH")
	require.NotNil(t, last.CompletedAt)
}

func TestExecuteResolvesParameters(t *testing.T) {
	var seen map[string]any
	var mu sync.Mutex
	echo := &fakePlugin{id: "echo", execute: func(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
		mu.Lock()
		if inv.Context.NodeID == "b" {
			seen = inv.Config
		}
		mu.Unlock()
		return map[string]any{"region": "eu-west-1"}, nil
	}}

	r := chainRoutine("echo", "a", "b")
	r.Variables = []routine.Variable{{Name: "env", Value: "prod"}}
	r.Nodes[1].Parameters = map[string]any{
		"label":  "{{ vars.env }}",
		"region": "{{ nodes.a.region }}",
	}

	res, err := New(newTestRegistry(t, echo)).Execute(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	require.NotNil(t, seen)
	assert.Equal(t, "prod", seen["label"])
	assert.Equal(t, "eu-west-1", seen["region"])
}
