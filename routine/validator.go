//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package routine

import (
	"fmt"

	"github.com/kianax/engine/expression"
)

// Issue codes reported by the validator.
const (
	CodeUnknownNodeRef           = "UNKNOWN_NODE_REF"
	CodeDuplicateNodeID          = "DUPLICATE_NODE_ID"
	CodeCycle                    = "CYCLE"
	CodeDisconnectedNode         = "DISCONNECTED_NODE"
	CodeMissingLoopConfig        = "MISSING_LOOP_CONFIG"
	CodeLoopIterationsOutOfRange = "LOOP_ITERATIONS_OUT_OF_RANGE"
	CodeUndefinedVariable        = "UNDEFINED_VARIABLE"
	CodeInvalidNodeRef           = "INVALID_NODE_REF"
	CodeNotUpstream              = "NOT_UPSTREAM"
	CodeSelfReference            = "SELF_REFERENCE"
	CodeBranchCoverageUnproven   = "BRANCH_COVERAGE_UNPROVEN"
)

// Issue is a single validation finding.
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"nodeId,omitempty"`
	EdgeID  string `json:"edgeId,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// ValidationResult aggregates validator findings. The engine refuses to
// execute a routine with any errors; warnings do not block execution.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Validator rejects routines that cannot be executed deterministically.
// It performs multi-level validation:
//  1. Structure validation (node references, loop configuration)
//  2. Topology validation (acyclicity over non-loop edges, connectivity)
//  3. Branch coverage analysis (warnings only)
//  4. Expression validation (declared variables, upstream-only node refs)
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a routine and returns the aggregated result.
func (v *Validator) Validate(r *Routine) *ValidationResult {
	res := &ValidationResult{}
	if r == nil {
		res.addError(Issue{Code: CodeUnknownNodeRef, Message: "routine is nil"})
		return res
	}

	nodeIDs := v.validateStructure(r, res)
	v.validateTopology(r, nodeIDs, res)
	v.validateBranchCoverage(r, res)
	v.validateExpressions(r, nodeIDs, res)

	res.Valid = len(res.Errors) == 0
	return res
}

func (res *ValidationResult) addError(issue Issue) {
	res.Errors = append(res.Errors, issue)
}

func (res *ValidationResult) addWarning(issue Issue) {
	res.Warnings = append(res.Warnings, issue)
}

// validateStructure checks node identity and per-edge constraints. It
// returns the set of declared node IDs for the later phases.
func (v *Validator) validateStructure(r *Routine, res *ValidationResult) map[string]bool {
	nodeIDs := make(map[string]bool, len(r.Nodes))
	for _, node := range r.Nodes {
		if node.ID == "" {
			res.addError(Issue{
				Code:    CodeUnknownNodeRef,
				Message: "node ID cannot be empty",
			})
			continue
		}
		if nodeIDs[node.ID] {
			res.addError(Issue{
				Code:    CodeDuplicateNodeID,
				NodeID:  node.ID,
				Message: fmt.Sprintf("duplicate node ID %q", node.ID),
			})
			continue
		}
		nodeIDs[node.ID] = true
	}

	for i := range r.Connections {
		e := &r.Connections[i]
		if !nodeIDs[e.SourceNodeID] {
			res.addError(Issue{
				Code:    CodeUnknownNodeRef,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge %s: source node %q does not exist", e.ID, e.SourceNodeID),
			})
		}
		if !nodeIDs[e.TargetNodeID] {
			res.addError(Issue{
				Code:    CodeUnknownNodeRef,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("edge %s: target node %q does not exist", e.ID, e.TargetNodeID),
			})
		}
		if !e.IsLoop() {
			continue
		}
		cfg := e.Condition.LoopConfig
		if cfg == nil {
			res.addError(Issue{
				Code:    CodeMissingLoopConfig,
				EdgeID:  e.ID,
				Message: fmt.Sprintf("loop edge %s is missing loopConfig", e.ID),
			})
			continue
		}
		if cfg.MaxIterations < MinLoopIterations || cfg.MaxIterations > MaxLoopIterations {
			res.addError(Issue{
				Code:   CodeLoopIterationsOutOfRange,
				EdgeID: e.ID,
				Message: fmt.Sprintf("loop edge %s: maxIterations %d outside [%d, %d]",
					e.ID, cfg.MaxIterations, MinLoopIterations, MaxLoopIterations),
			})
		}
	}

	return nodeIDs
}

// validateTopology requires the subgraph induced by non-loop edges to be
// acyclic and reports nodes disconnected from every flow edge.
func (v *Validator) validateTopology(r *Routine, nodeIDs map[string]bool, res *ValidationResult) {
	adjacency := make(map[string][]string)
	connected := make(map[string]bool)
	for i := range r.Connections {
		e := &r.Connections[i]
		connected[e.SourceNodeID] = true
		connected[e.TargetNodeID] = true
		if e.IsLoop() {
			continue
		}
		adjacency[e.SourceNodeID] = append(adjacency[e.SourceNodeID], e.TargetNodeID)
	}

	// DFS with a recursion stack finds the first back-edge; any back-edge
	// not marked as loop is a cycle error.
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	colors := make(map[string]int, len(nodeIDs))
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = inStack
		for _, next := range adjacency[id] {
			switch colors[next] {
			case inStack:
				res.addError(Issue{
					Code:    CodeCycle,
					NodeID:  next,
					Message: fmt.Sprintf("cycle detected through node %q; only loop-marked edges may close a cycle", next),
				})
				return false
			case unvisited:
				if !visit(next) {
					return false
				}
			}
		}
		colors[id] = done
		return true
	}
	for id := range nodeIDs {
		if colors[id] == unvisited {
			if !visit(id) {
				break
			}
		}
	}

	if len(r.Nodes) > 1 {
		for _, node := range r.Nodes {
			if node.Disabled {
				continue
			}
			if !connected[node.ID] {
				res.addError(Issue{
					Code:    CodeDisconnectedNode,
					NodeID:  node.ID,
					Message: fmt.Sprintf("node %q is not connected to any flow edge", node.ID),
				})
			}
		}
	}
}

// validateBranchCoverage records a warning when a node routes on branch
// values whose coverage cannot be proved statically. The emitted branch set
// is a runtime property of the plugin, so coverage is never provable here;
// the warning points authors at nodes with partial-looking branch fans.
func (v *Validator) validateBranchCoverage(r *Routine, res *ValidationResult) {
	branchEdges := make(map[string][]*Edge)
	outgoing := make(map[string]int)
	for i := range r.Connections {
		e := &r.Connections[i]
		if e.IsLoop() {
			continue
		}
		outgoing[e.SourceNodeID]++
		if e.IsBranch() {
			branchEdges[e.SourceNodeID] = append(branchEdges[e.SourceNodeID], e)
		}
	}

	for nodeID, edges := range branchEdges {
		if outgoing[nodeID] < 2 {
			continue
		}
		values := make([]string, 0, len(edges))
		for _, e := range edges {
			values = append(values, e.Condition.Value)
		}
		res.addWarning(Issue{
			Code:   CodeBranchCoverageUnproven,
			NodeID: nodeID,
			Message: fmt.Sprintf("node %q routes on branches %v; values emitted at runtime outside this set fail with UNROUTED_BRANCH",
				nodeID, values),
		})
	}
}

// validateExpressions checks every "{{ … }}" reference inside node
// parameters: vars must be declared, node references must name declared
// nodes that are topological ancestors of the referrer via non-loop edges.
func (v *Validator) validateExpressions(r *Routine, nodeIDs map[string]bool, res *ValidationResult) {
	declaredVars := make(map[string]bool, len(r.Variables))
	for _, va := range r.Variables {
		declaredVars[va.Name] = true
	}

	ancestors := v.computeAncestors(r)

	for _, node := range r.Nodes {
		refs := expression.ExtractReferences(node.Parameters)
		for _, ref := range refs {
			switch ref.Source {
			case expression.SourceVars:
				if len(ref.Path) == 0 {
					continue
				}
				name := ref.Path[0].Name
				if !declaredVars[name] {
					res.addError(Issue{
						Code:    CodeUndefinedVariable,
						NodeID:  node.ID,
						Message: fmt.Sprintf("node %q references undeclared variable %q", node.ID, name),
					})
				}
			case expression.SourceNodes:
				if ref.NodeID == node.ID {
					res.addError(Issue{
						Code:    CodeSelfReference,
						NodeID:  node.ID,
						Message: fmt.Sprintf("node %q references its own output", node.ID),
					})
					continue
				}
				if !nodeIDs[ref.NodeID] {
					res.addError(Issue{
						Code:    CodeInvalidNodeRef,
						NodeID:  node.ID,
						Message: fmt.Sprintf("node %q references unknown node %q", node.ID, ref.NodeID),
					})
					continue
				}
				if !ancestors[node.ID][ref.NodeID] {
					res.addError(Issue{
						Code:    CodeNotUpstream,
						NodeID:  node.ID,
						Message: fmt.Sprintf("node %q references node %q which is not upstream of it", node.ID, ref.NodeID),
					})
				}
			}
		}
	}
}

// computeAncestors returns, per node, the set of nodes reachable by walking
// non-loop edges backwards.
func (v *Validator) computeAncestors(r *Routine) map[string]map[string]bool {
	incoming := make(map[string][]string)
	for i := range r.Connections {
		e := &r.Connections[i]
		if e.IsLoop() {
			continue
		}
		incoming[e.TargetNodeID] = append(incoming[e.TargetNodeID], e.SourceNodeID)
	}

	ancestors := make(map[string]map[string]bool, len(r.Nodes))
	var collect func(id string, into map[string]bool)
	collect = func(id string, into map[string]bool) {
		for _, src := range incoming[id] {
			if into[src] {
				continue
			}
			into[src] = true
			collect(src, into)
		}
	}
	for _, node := range r.Nodes {
		set := make(map[string]bool)
		collect(node.ID, set)
		ancestors[node.ID] = set
	}
	return ancestors
}
