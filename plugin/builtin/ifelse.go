//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kianax/engine/plugin"
)

// Comparison operators accepted by the condition plugin.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// Branch values emitted by the condition plugin.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// IfElse evaluates a comparison over its configured operands and emits a
// "true" or "false" branch, so downstream edges conditioned on either value
// route the run.
type IfElse struct{}

// NewIfElse creates the plugin.
func NewIfElse() *IfElse { return &IfElse{} }

// ID implements plugin.Plugin.
func (*IfElse) ID() string { return "kianax.logic.ifelse" }

// Metadata implements plugin.Plugin.
func (p *IfElse) Metadata() plugin.Metadata {
	return plugin.Metadata{
		ID:      p.ID(),
		Name:    "If / Else",
		Version: "1.0.0",
		Tags:    []string{"logic"},
	}
}

// Schemas implements plugin.Plugin.
func (*IfElse) Schemas() plugin.Schemas {
	return plugin.Schemas{
		Outputs: map[string]plugin.PortSchema{
			"result": {Label: "Result", Schema: map[string]any{"type": "boolean"}},
			"value":  {Label: "Compared Value"},
		},
		Config: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value":    map[string]any{},
				"operator": map[string]any{"type": "string"},
				"compare":  map[string]any{},
			},
			"required": []any{"operator"},
		},
	}
}

// Execute implements plugin.Plugin.
func (p *IfElse) Execute(_ context.Context, inv *plugin.Invocation) (map[string]any, error) {
	operator, _ := inv.Config["operator"].(string)
	if operator == "" {
		return nil, fmt.Errorf("ifelse: missing operator parameter")
	}

	value := inv.Config["value"]
	if value == nil {
		// Fall back to the sole gathered input when the parameter is not
		// configured.
		for _, v := range inv.Inputs {
			value = v
			break
		}
	}
	compare := inv.Config["compare"]

	result, err := evaluate(operator, value, compare)
	if err != nil {
		return nil, err
	}

	branch := BranchFalse
	if result {
		branch = BranchTrue
	}
	return map[string]any{
		plugin.OutputKeyBranch: branch,
		"result":               result,
		"value":                value,
	}, nil
}

func evaluate(operator string, value, compare any) (bool, error) {
	switch operator {
	case OpEquals:
		return equalValues(value, compare), nil
	case OpNotEquals:
		return !equalValues(value, compare), nil
	case OpGreaterThan, OpLessThan:
		a, aok := toNumber(value)
		b, bok := toNumber(compare)
		if !aok || !bok {
			return false, fmt.Errorf("ifelse: %s requires numeric operands", operator)
		}
		if operator == OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	case OpContains:
		return strings.Contains(fmt.Sprint(value), fmt.Sprint(compare)), nil
	case OpIsEmpty:
		return isEmpty(value), nil
	case OpIsNotEmpty:
		return !isEmpty(value), nil
	default:
		return false, fmt.Errorf("ifelse: unknown operator %q", operator)
	}
}

// equalValues compares numerically when both sides are numbers, textually
// otherwise. JSON decoding yields float64 for all numbers, so cross-type
// numeric comparisons still work.
func equalValues(a, b any) bool {
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}
