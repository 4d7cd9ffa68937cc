//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package routine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser parses routine definitions from JSON or YAML.
type Parser struct {
	// Strict mode enables strict JSON parsing (disallow unknown fields).
	Strict bool
}

// NewParser creates a new routine parser.
func NewParser() *Parser {
	return &Parser{
		Strict: false,
	}
}

// NewStrictParser creates a new parser with strict mode enabled.
func NewStrictParser() *Parser {
	return &Parser{
		Strict: true,
	}
}

// Parse parses a JSON byte array into a Routine.
func (p *Parser) Parse(data []byte) (*Routine, error) {
	var r Routine

	decoder := json.NewDecoder(bytes.NewReader(data))
	if p.Strict {
		decoder.DisallowUnknownFields()
	}

	if err := decoder.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to parse routine: %w", err)
	}

	p.fillDefaults(&r)
	return &r, nil
}

// ParseYAML parses a YAML byte array into a Routine.
func (p *Parser) ParseYAML(data []byte) (*Routine, error) {
	var r Routine

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(p.Strict)

	if err := decoder.Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to parse routine: %w", err)
	}

	p.fillDefaults(&r)
	return &r, nil
}

// ParseFile parses a JSON or YAML file into a Routine, chosen by extension.
func (p *Parser) ParseFile(filename string) (*Routine, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		return p.ParseYAML(data)
	}
	return p.Parse(data)
}

// ParseString parses a JSON string into a Routine.
func (p *Parser) ParseString(jsonStr string) (*Routine, error) {
	return p.Parse([]byte(jsonStr))
}

// fillDefaults assigns deterministic edge IDs where none were provided and
// coerces declared variable values to their declared types.
func (p *Parser) fillDefaults(r *Routine) {
	for i := range r.Connections {
		if r.Connections[i].ID == "" {
			r.Connections[i].ID = fmt.Sprintf("edge_%d", i)
		}
	}
	for i := range r.Variables {
		v := &r.Variables[i]
		if v.Type != VariableTypeJSON {
			continue
		}
		// JSON variables authored as strings are stored decoded so that
		// expression path lookups see structured values.
		if s, ok := v.Value.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				v.Value = decoded
			}
		}
	}
}

// ToJSON serializes a Routine to JSON.
func ToJSON(r *Routine) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteToFile writes a Routine to a JSON file.
func WriteToFile(r *Routine, filename string) error {
	data, err := ToJSON(r)
	if err != nil {
		return fmt.Errorf("failed to serialize routine: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filename, err)
	}

	return nil
}
