//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecContextKeys(t *testing.T) {
	root := RootContext()
	assert.Equal(t, "n1", root.Key("n1"))
	assert.Equal(t, 0, root.Depth())

	first := root.Enter("loop1")
	assert.Equal(t, "n1|loop1:1", first.Key("n1"))

	second := first.Enter("loop1")
	assert.Equal(t, "n1|loop1:2", second.Key("n1"))

	// Contexts are values; entering never mutates the receiver.
	assert.Equal(t, "n1|loop1:1", first.Key("n1"))
	assert.Equal(t, "n1", root.Key("n1"))
}

func TestExecContextNesting(t *testing.T) {
	ctx := RootContext().Enter("outer").Enter("inner")
	assert.Equal(t, "n|outer:1|inner:1", ctx.Key("n"))
	assert.Equal(t, 2, ctx.Depth())
	assert.True(t, ctx.Contains("outer"))
	assert.True(t, ctx.Contains("inner"))
	assert.False(t, ctx.Contains("other"))

	frame, ok := ctx.Innermost()
	require.True(t, ok)
	assert.Equal(t, "inner", frame.EdgeID)
	assert.Equal(t, 1, frame.Iteration)
}

func TestExecContextReenterOuterDiscardsInner(t *testing.T) {
	ctx := RootContext().Enter("outer").Enter("inner")

	// Re-entering the outer loop restarts inner loops.
	next := ctx.Enter("outer")
	assert.Equal(t, "n|outer:2", next.Key("n"))
	assert.Equal(t, 1, next.Depth())
}

func TestExecContextParent(t *testing.T) {
	ctx := RootContext().Enter("outer").Enter("inner")

	parent, ok := ctx.Parent()
	require.True(t, ok)
	assert.Equal(t, "n|outer:1", parent.Key("n"))

	grand, ok := parent.Parent()
	require.True(t, ok)
	assert.Equal(t, "n", grand.Key("n"))

	_, ok = grand.Parent()
	assert.False(t, ok)
}
