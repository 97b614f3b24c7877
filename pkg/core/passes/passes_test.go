// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	fn := graph.MustBuild("neg", func(f *graph.Function) []*graph.Node {
		return []*graph.Node{graph.Neg(f.Parameter("x", shapes.Make(dtypes.Float32, 2)))}
	})
	var calls []string
	tagAll := PassFunc{PassName: "tag", Fn: func(fn *graph.Function) (bool, error) {
		calls = append(calls, "tag")
		for _, node := range fn.Nodes() {
			node.SetPlacement(placement.CPU)
		}
		return true, nil
	}}
	noop := PassFunc{PassName: "noop", Fn: func(*graph.Function) (bool, error) {
		calls = append(calls, "noop")
		return false, nil
	}}
	m := NewManager().Register(noop, tagAll)
	require.Len(t, m.Passes(), 2)
	changed, err := m.Run(fn)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"noop", "tag"}, calls)
	for _, node := range fn.Nodes() {
		assert.Equal(t, placement.CPU, node.Placement())
	}

	// Errors stop the sequence.
	calls = nil
	failing := PassFunc{PassName: "failing", Fn: func(*graph.Function) (bool, error) {
		calls = append(calls, "failing")
		return false, errors.New("boom")
	}}
	_, err = NewManager().Register(failing, noop).Run(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pass "failing"`)
	assert.Equal(t, []string{"failing"}, calls)
}
