//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package plugin

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaValidator holds the compiled port schemas of one plugin.
type schemaValidator struct {
	inputs  map[string]*jsonschema.Schema
	outputs map[string]*jsonschema.Schema

	// nil port maps declare open contracts and skip the unknown-key check.
	openInputs  bool
	openOutputs bool
}

// newSchemaValidator compiles the declared port schemas. Ports without a
// schema document get a nil entry and only participate in the known-key
// check.
func newSchemaValidator(pluginID string, schemas Schemas) (*schemaValidator, error) {
	v := &schemaValidator{
		inputs:      make(map[string]*jsonschema.Schema, len(schemas.Inputs)),
		outputs:     make(map[string]*jsonschema.Schema, len(schemas.Outputs)),
		openInputs:  schemas.Inputs == nil,
		openOutputs: schemas.Outputs == nil,
	}
	for name, port := range schemas.Inputs {
		compiled, err := compilePortSchema(pluginID, "input", name, port.Schema)
		if err != nil {
			return nil, err
		}
		v.inputs[name] = compiled
	}
	for name, port := range schemas.Outputs {
		compiled, err := compilePortSchema(pluginID, "output", name, port.Schema)
		if err != nil {
			return nil, err
		}
		v.outputs[name] = compiled
	}
	return v, nil
}

func compilePortSchema(pluginID, kind, port string, doc map[string]any) (*jsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	url := fmt.Sprintf("kianax://%s/%s/%s.json", pluginID, kind, port)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, normalizeSchemaDoc(doc)); err != nil {
		return nil, fmt.Errorf("add %s schema for port %s: %w", kind, port, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema for port %s: %w", kind, port, err)
	}
	return schema, nil
}

// normalizeSchemaDoc converts a schema document to the plain decoded-JSON
// shape the compiler expects.
func normalizeSchemaDoc(doc map[string]any) any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (v *schemaValidator) validateInputs(inputs map[string]any) error {
	for name, value := range inputs {
		schema, known := v.inputs[name]
		if !known {
			if v.openInputs {
				continue
			}
			return fmt.Errorf("unknown input %q", name)
		}
		if schema == nil {
			continue
		}
		if err := schema.Validate(value); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}
	return nil
}

func (v *schemaValidator) validateOutputs(outputs map[string]any) error {
	for name, value := range outputs {
		if name == OutputKeyBranch || name == OutputKeySignal || name == OutputKeyData {
			continue
		}
		schema, known := v.outputs[name]
		if !known {
			if v.openOutputs {
				continue
			}
			return fmt.Errorf("unknown output %q", name)
		}
		if schema == nil {
			continue
		}
		if err := schema.Validate(value); err != nil {
			return fmt.Errorf("output %q: %w", name, err)
		}
	}
	return nil
}
