//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

// Package expression implements the "{{ source.path }}" substitution layer.
//
// Expressions are path lookups, not code: the grammar is
//
//	"{{" source ("." segment)* "}}"
//
// where source is one of vars, nodes, trigger, execution and a segment is an
// identifier with optional integer bracket indexing ("items[0]"). Missing
// paths resolve to undefined without raising; the validator is responsible
// for upstream-only and defined-variable checks.
package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kianax/engine/log"
)

// Reference sources.
const (
	SourceVars      = "vars"
	SourceNodes     = "nodes"
	SourceTrigger   = "trigger"
	SourceExecution = "execution"
)

// Execution metadata path leaves.
const (
	ExecutionFieldID        = "id"
	ExecutionFieldRoutineID = "routineId"
	ExecutionFieldStartedAt = "startedAt"
)

var (
	exprPattern    = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	segmentPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_\-]*)(?:\[([0-9]+)\])?$`)
)

// Segment is one step of a reference path: an identifier with optional
// integer index.
type Segment struct {
	Name     string
	Index    int
	HasIndex bool
}

// Reference is a parsed "{{ … }}" occurrence.
type Reference struct {
	// Source is one of the Source* constants (or the raw head for unknown
	// sources).
	Source string

	// Path holds the segments after the source.
	Path []Segment

	// NodeID is set when Source is "nodes".
	NodeID string

	// PortName is set when Source is "nodes" and a port segment is present.
	PortName string

	// Raw is the expression text between the braces.
	Raw string
}

// Meta carries execution metadata readable via "{{ execution.* }}".
type Meta struct {
	ID        string
	RoutineID string
	StartedAt time.Time
}

// Context is the lookup environment for resolution. Variables and trigger
// data are read-only inputs; node outputs are supplied by the scheduler as a
// lookup closure so the resolver stays independent of execution state.
type Context struct {
	// Variables maps routine variable names to values.
	Variables map[string]any

	// Trigger is the opaque trigger payload.
	Trigger any

	// Execution is the run's metadata.
	Execution Meta

	// NodeOutput returns the latest visible output record for a node in the
	// caller's scope: port name → first item data. The second return is
	// false when the node has no visible output.
	NodeOutput func(nodeID string) (map[string]any, bool)
}

// Resolve substitutes expressions inside value recursively. Objects and
// arrays are traversed; strings are resolved; other primitives pass through
// unchanged. Resolution is idempotent when the referenced state is
// unchanged.
func Resolve(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return ResolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

// ResolveParameters resolves every value of a node's parameter map.
func ResolveParameters(params map[string]any, ctx *Context) map[string]any {
	if params == nil {
		return nil
	}
	resolved, _ := Resolve(params, ctx).(map[string]any)
	return resolved
}

// ResolveString resolves a single string value. If the entire string is one
// "{{ … }}" expression the resolved value replaces the string as-is,
// preserving its type. Otherwise every occurrence is interpolated into the
// surrounding text.
func ResolveString(s string, ctx *Context) any {
	locs := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s
	}

	// Type-preserving rule: a single expression with no surrounding
	// characters resolves to the referenced value itself.
	if len(locs) == 1 && locs[0][0] == 0 && locs[0][1] == len(s) {
		v, _ := lookup(s[locs[0][2]:locs[0][3]], ctx)
		return v
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(s[last:loc[0]])
		v, _ := lookup(s[loc[2]:loc[3]], ctx)
		b.WriteString(stringify(v))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// ExtractReferences returns every reference found inside value, traversing
// objects and arrays. Malformed expressions are skipped.
func ExtractReferences(value any) []Reference {
	var refs []Reference
	collectReferences(value, &refs)
	return refs
}

func collectReferences(value any, refs *[]Reference) {
	switch v := value.(type) {
	case string:
		for _, m := range exprPattern.FindAllStringSubmatch(v, -1) {
			ref, err := ParseReference(m[1])
			if err != nil {
				continue
			}
			*refs = append(*refs, ref)
		}
	case map[string]any:
		for _, item := range v {
			collectReferences(item, refs)
		}
	case []any:
		for _, item := range v {
			collectReferences(item, refs)
		}
	}
}

// ParseReference parses the text between braces into a Reference.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if len(parts) == 0 || parts[0] == "" {
		return Reference{}, fmt.Errorf("empty expression")
	}

	ref := Reference{Source: parts[0], Raw: raw}
	for _, part := range parts[1:] {
		m := segmentPattern.FindStringSubmatch(part)
		if m == nil {
			return Reference{}, fmt.Errorf("invalid path segment %q", part)
		}
		seg := Segment{Name: m[1]}
		if m[2] != "" {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return Reference{}, fmt.Errorf("invalid index in segment %q", part)
			}
			seg.Index = idx
			seg.HasIndex = true
		}
		ref.Path = append(ref.Path, seg)
	}

	if ref.Source == SourceNodes {
		if len(ref.Path) == 0 {
			return Reference{}, fmt.Errorf("node reference requires a node id")
		}
		ref.NodeID = ref.Path[0].Name
		if len(ref.Path) > 1 {
			ref.PortName = ref.Path[1].Name
		}
	}
	return ref, nil
}

// lookup resolves a single raw expression against the context. Missing
// paths and unknown sources resolve to undefined (nil, false).
func lookup(raw string, ctx *Context) (any, bool) {
	ref, err := ParseReference(raw)
	if err != nil {
		log.Warnf("expression: skipping malformed expression %q: %v", raw, err)
		return nil, false
	}
	if ctx == nil {
		return nil, false
	}

	switch ref.Source {
	case SourceVars:
		if len(ref.Path) == 0 {
			return nil, false
		}
		head := ref.Path[0]
		v, ok := ctx.Variables[head.Name]
		if !ok {
			return nil, false
		}
		if head.HasIndex {
			v, ok = indexValue(v, head.Index)
			if !ok {
				return nil, false
			}
		}
		return walkPath(v, ref.Path[1:])
	case SourceNodes:
		if ctx.NodeOutput == nil {
			return nil, false
		}
		record, ok := ctx.NodeOutput(ref.NodeID)
		if !ok {
			return nil, false
		}
		return walkPath(record, ref.Path[1:])
	case SourceTrigger:
		return walkPath(ctx.Trigger, ref.Path)
	case SourceExecution:
		if len(ref.Path) != 1 || ref.Path[0].HasIndex {
			return nil, false
		}
		switch ref.Path[0].Name {
		case ExecutionFieldID:
			return ctx.Execution.ID, true
		case ExecutionFieldRoutineID:
			return ctx.Execution.RoutineID, true
		case ExecutionFieldStartedAt:
			return ctx.Execution.StartedAt.Format(time.RFC3339), true
		}
		return nil, false
	default:
		log.Warnf("expression: unknown source %q in %q", ref.Source, raw)
		return nil, false
	}
}

// walkPath follows path segments through decoded JSON values.
func walkPath(v any, path []Segment) (any, bool) {
	for _, seg := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok = m[seg.Name]
		if !ok {
			return nil, false
		}
		if seg.HasIndex {
			v, ok = indexValue(v, seg.Index)
			if !ok {
				return nil, false
			}
		}
	}
	return v, true
}

func indexValue(v any, idx int) (any, bool) {
	arr, ok := v.([]any)
	if !ok || idx < 0 || idx >= len(arr) {
		return nil, false
	}
	return arr[idx], true
}

// stringify renders a resolved value for interpolation: nil becomes the
// empty string, strings pass through, other values use their canonical JSON
// form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
