//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	id      string
	schemas Schemas
}

func (p *stubPlugin) ID() string         { return p.id }
func (p *stubPlugin) Metadata() Metadata { return Metadata{ID: p.id, Name: p.id} }
func (p *stubPlugin) Schemas() Schemas   { return p.schemas }
func (p *stubPlugin) Execute(context.Context, *Invocation) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{id: "a"}))
	require.NoError(t, reg.Register(&stubPlugin{id: "b"}))

	p, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID())

	assert.True(t, reg.Has("b"))
	assert.False(t, reg.Has("c"))
	assert.Equal(t, []string{"a", "b"}, reg.List())

	_, err = reg.Get("c")
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicatesAndInvalid(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{id: "a"}))

	assert.Error(t, reg.Register(&stubPlugin{id: "a"}))
	assert.Error(t, reg.Register(&stubPlugin{id: ""}))
	assert.Error(t, reg.Register(nil))
}

func TestRegistryRejectsMalformedSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubPlugin{
		id: "bad",
		schemas: Schemas{
			Inputs: map[string]PortSchema{
				"x": {Schema: map[string]any{"type": 42}},
			},
		},
	})
	assert.Error(t, err, "schemas compile at registration, not dispatch")
}

func TestRegistryValidateInputs(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{
		id: "typed",
		schemas: Schemas{
			Inputs: map[string]PortSchema{
				"name":  {Schema: map[string]any{"type": "string"}},
				"loose": {},
			},
		},
	}))

	assert.NoError(t, reg.ValidateInputs("typed", map[string]any{"name": "ok"}))
	assert.NoError(t, reg.ValidateInputs("typed", map[string]any{"loose": []any{1.0}}))
	assert.Error(t, reg.ValidateInputs("typed", map[string]any{"name": 1.5}))
	assert.Error(t, reg.ValidateInputs("typed", map[string]any{"surprise": "x"}),
		"unknown keys rejected for closed contracts")

	require.NoError(t, reg.Register(&stubPlugin{id: "open"}))
	assert.NoError(t, reg.ValidateInputs("open", map[string]any{"anything": true}))
}

func TestRegistryValidateOutputs(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{
		id: "typed",
		schemas: Schemas{
			Outputs: map[string]PortSchema{
				"result": {Schema: map[string]any{"type": "boolean"}},
			},
		},
	}))

	assert.NoError(t, reg.ValidateOutputs("typed", map[string]any{"result": true}))
	assert.Error(t, reg.ValidateOutputs("typed", map[string]any{"result": "yes"}))
	assert.Error(t, reg.ValidateOutputs("typed", map[string]any{"extra": 1.0}))

	// Reserved routing keys bypass the declared port set.
	assert.NoError(t, reg.ValidateOutputs("typed", map[string]any{
		"result": true,
		"branch": "true",
	}))
}

func TestCredentialRequirementKey(t *testing.T) {
	assert.Equal(t, "openai", CredentialRequirement{ID: "openai"}.Key())
	assert.Equal(t, "llm", CredentialRequirement{ID: "openai", Alias: "llm"}.Key())
}

func TestNodeState(t *testing.T) {
	bag := map[string]any{}
	st := NewNodeState(bag, &LoopContext{EdgeID: "e", Iteration: 2, MaxIterations: 5})

	st.Set("count", 3)
	v, ok := st.Get("count")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, bag["count"], "writes land in the shared bag")

	lc := st.LoopContext()
	require.NotNil(t, lc)
	assert.Equal(t, 2, lc.Iteration)

	outside := NewNodeState(nil, nil)
	assert.Nil(t, outside.LoopContext())
	outside.Set("k", "v")
	assert.Equal(t, "v", outside.Values()["k"])
}
