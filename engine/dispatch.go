//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kianax/engine/credential"
	"github.com/kianax/engine/expression"
	"github.com/kianax/engine/plugin"
	"github.com/kianax/engine/routine"
)

const tracerName = "kianax.engine"

// dispatcher performs the plugin dispatch contract for one ready task:
// resolve expressions, gather inputs, load credentials, invoke the plugin,
// and validate its output against the declared port schemas.
type dispatcher struct {
	graph       *ExecutionGraph
	state       *ExecutionState
	registry    *plugin.Registry
	gatherer    *Gatherer
	credentials credential.Loader
	meta        expression.Meta
	userID      string
	tracer      trace.Tracer
}

func newDispatcher(
	graph *ExecutionGraph,
	state *ExecutionState,
	registry *plugin.Registry,
	credentials credential.Loader,
	meta expression.Meta,
	userID string,
) *dispatcher {
	return &dispatcher{
		graph:       graph,
		state:       state,
		registry:    registry,
		gatherer:    NewGatherer(graph, state),
		credentials: credentials,
		meta:        meta,
		userID:      userID,
		tracer:      otel.Tracer(tracerName),
	}
}

// dispatch executes one task. It returns the normalized output on success,
// along with the gathered input items for observability records.
func (d *dispatcher) dispatch(ctx context.Context, t *task) (*NodeOutput, map[string]any, map[string][]Item, *Error) {
	node := d.graph.Node(t.nodeID)
	if node == nil {
		return nil, nil, nil, newError(CodePluginNotFound, t.nodeID, "node %s not in graph", t.nodeID)
	}

	ctx, span := d.tracer.Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("kianax.node.id", node.ID),
			attribute.String("kianax.plugin.id", node.PluginID),
			attribute.String("kianax.context.key", t.key),
		))
	defer span.End()

	resolved := expression.ResolveParameters(node.Parameters, d.expressionContext(t.ctx))

	inputs, items, gerr := d.gatherer.Gather(t.nodeID, t.ctx)
	if gerr != nil {
		span.RecordError(gerr)
		return nil, nil, nil, gerr
	}

	p, err := d.registry.Get(node.PluginID)
	if err != nil {
		return nil, inputs, items, newError(CodePluginNotFound, node.ID,
			"plugin %s not found", node.PluginID)
	}

	if err := d.registry.ValidateInputs(node.PluginID, inputs); err != nil {
		return nil, inputs, items, wrapError(CodeInputValidationFailed, node.ID, err)
	}

	creds, cerr := d.loadCredentials(ctx, node, p.Metadata())
	if cerr != nil {
		span.RecordError(cerr)
		return nil, inputs, items, cerr
	}

	inv := &plugin.Invocation{
		Inputs: inputs,
		Config: resolved,
		Context: &plugin.Context{
			UserID:      d.userID,
			RoutineID:   d.meta.RoutineID,
			ExecutionID: d.meta.ID,
			NodeID:      node.ID,
			Credentials: creds,
			TriggerData: d.graph.TriggerData(),
		},
		State: plugin.NewNodeState(d.state.NodeState(node.ID), t.loop),
	}

	raw, perr := d.invoke(ctx, p, inv)
	if perr != nil {
		span.RecordError(perr)
		return nil, inputs, items, perr
	}

	out, oerr := d.normalizeOutput(node, raw)
	if oerr != nil {
		span.RecordError(oerr)
		return nil, inputs, items, oerr
	}
	return out, inputs, items, nil
}

// expressionContext builds the resolver environment for a task's scope.
// Node lookups walk the loop stack outward, so a node inside a loop sees
// values produced once, above the loop.
func (d *dispatcher) expressionContext(ec ExecContext) *expression.Context {
	return &expression.Context{
		Variables: d.graph.Variables(),
		Trigger:   d.graph.TriggerData(),
		Execution: d.meta,
		NodeOutput: func(nodeID string) (map[string]any, bool) {
			out, ok := lookupOutput(d.state, nodeID, ec)
			if !ok {
				return nil, false
			}
			return out.PortRecord(), true
		},
	}
}

// loadCredentials resolves the node's credential mappings against the
// plugin's declared requirements, failing fast on missing required
// credentials.
func (d *dispatcher) loadCredentials(ctx context.Context, node *routine.Node, meta plugin.Metadata) (map[string]credential.Record, *Error) {
	if len(meta.CredentialRequirements) == 0 {
		return nil, nil
	}
	creds := make(map[string]credential.Record, len(meta.CredentialRequirements))
	for _, req := range meta.CredentialRequirements {
		credID, mapped := node.CredentialMappings[req.ID]
		if !mapped {
			if req.Required {
				return nil, newError(CodeCredentialLoadFailed, node.ID,
					"required credential %q has no mapping", req.ID)
			}
			continue
		}
		if d.credentials == nil {
			return nil, newError(CodeCredentialLoadFailed, node.ID,
				"credential %q mapped but no credential loader configured", req.ID)
		}
		rec, err := d.credentials.Load(ctx, credID)
		if err != nil {
			return nil, &Error{
				Code:    CodeCredentialLoadFailed,
				NodeID:  node.ID,
				Message: fmt.Sprintf("loading credential %q: %v", req.ID, err),
				Err:     err,
			}
		}
		creds[req.Key()] = rec
	}
	return creds, nil
}

// invoke calls the plugin with panic recovery; a panicking plugin fails its
// task rather than the scheduler.
func (d *dispatcher) invoke(ctx context.Context, p plugin.Plugin, inv *plugin.Invocation) (raw map[string]any, derr *Error) {
	defer func() {
		if r := recover(); r != nil {
			derr = &Error{
				Code:    CodePluginExecutionFailed,
				NodeID:  inv.Context.NodeID,
				Message: fmt.Sprintf("plugin %s panicked: %v", p.ID(), r),
				Stack:   string(debug.Stack()),
			}
		}
	}()

	out, err := p.Execute(ctx, inv)
	if err != nil {
		return nil, &Error{
			Code:    CodePluginExecutionFailed,
			NodeID:  inv.Context.NodeID,
			Message: err.Error(),
			Err:     err,
		}
	}
	return out, nil
}

// normalizeOutput validates the raw output and converts it to the port
// model. The reserved "branch" key (or the standardized {data, signal}
// wrapping) selects conditional routing and is not a port.
func (d *dispatcher) normalizeOutput(node *routine.Node, raw map[string]any) (*NodeOutput, *Error) {
	if raw == nil {
		raw = map[string]any{}
	}

	branch := ""
	payload := raw

	if sig, ok := raw[plugin.OutputKeySignal]; ok {
		if s, isStr := sig.(string); isStr {
			branch = s
		}
		if data, hasData := raw[plugin.OutputKeyData]; hasData {
			if record, isMap := data.(map[string]any); isMap {
				payload = record
			} else {
				payload = map[string]any{plugin.OutputKeyData: data}
			}
		} else {
			payload = map[string]any{}
		}
	} else if b, ok := raw[plugin.OutputKeyBranch].(string); ok {
		branch = b
	}

	if err := d.registry.ValidateOutputs(node.PluginID, payload); err != nil {
		return nil, wrapError(CodeOutputValidationFailed, node.ID, err)
	}

	ports := make(map[string][]Item, len(payload))
	for name, value := range payload {
		if name == plugin.OutputKeyBranch || name == plugin.OutputKeySignal {
			continue
		}
		ports[name] = []Item{{
			Data: value,
			Metadata: ItemMetadata{
				SourceNode: node.ID,
				SourcePort: name,
			},
		}}
	}

	return &NodeOutput{NodeID: node.ID, Ports: ports, Branch: branch}, nil
}
