//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"fmt"
	"strings"
)

// Frame is one entry of the loop stack: which loop edge the execution is
// inside and which iteration of it.
type Frame struct {
	EdgeID    string
	Iteration int
}

func (f Frame) String() string {
	return fmt.Sprintf("%s:%d", f.EdgeID, f.Iteration)
}

// ExecContext is the explicit stack of loop frames enclosing a task. The
// zero value is the root context. Contexts are values; every mutation
// returns a fresh context so prior iterations' keys stay stable.
type ExecContext struct {
	frames []Frame
}

// RootContext returns the empty context outside any loop.
func RootContext() ExecContext {
	return ExecContext{}
}

// Key renders the context-key for a node: the node id alone at root,
// otherwise the node id joined with every frame on the stack. Keys are
// stable across the run, so the same (node, iteration stack) pair always
// maps to the same state entries.
func (c ExecContext) Key(nodeID string) string {
	if len(c.frames) == 0 {
		return nodeID
	}
	parts := make([]string, 0, len(c.frames)+1)
	parts = append(parts, nodeID)
	for _, f := range c.frames {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "|")
}

// Depth returns the number of enclosing loops.
func (c ExecContext) Depth() int { return len(c.frames) }

// Innermost returns the innermost loop frame.
func (c ExecContext) Innermost() (Frame, bool) {
	if len(c.frames) == 0 {
		return Frame{}, false
	}
	return c.frames[len(c.frames)-1], true
}

// Contains reports whether the given loop edge is on the stack.
func (c ExecContext) Contains(edgeID string) bool {
	for _, f := range c.frames {
		if f.EdgeID == edgeID {
			return true
		}
	}
	return false
}

// Enter returns the context for the next iteration through the given loop
// edge: if the edge is already on the stack its frame's iteration is
// bumped (and deeper frames are discarded, since re-entering an outer loop
// restarts inner ones); otherwise a new frame with iteration 1 is pushed.
func (c ExecContext) Enter(edgeID string) ExecContext {
	for i, f := range c.frames {
		if f.EdgeID == edgeID {
			frames := make([]Frame, i+1)
			copy(frames, c.frames[:i+1])
			frames[i].Iteration++
			return ExecContext{frames: frames}
		}
	}
	frames := make([]Frame, len(c.frames)+1)
	copy(frames, c.frames)
	frames[len(c.frames)] = Frame{EdgeID: edgeID, Iteration: 1}
	return ExecContext{frames: frames}
}

// Parent returns the context with the innermost frame popped. ok is false
// at the root.
func (c ExecContext) Parent() (ExecContext, bool) {
	if len(c.frames) == 0 {
		return ExecContext{}, false
	}
	frames := make([]Frame, len(c.frames)-1)
	copy(frames, c.frames[:len(c.frames)-1])
	return ExecContext{frames: frames}, true
}
