// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package builder

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/interpreter"
	. "github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// evalOnInterpreter builds a function of one [3, 2] float32 parameter and returns its first output.
func evalOnInterpreter(t *testing.T, buildFn func(x *Node) *Node) []float32 {
	backend := must.M1(interpreter.New(""))
	defer backend.Finalize()
	fn, err := Build("reduce", func(f *Function) []*Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 3, 2))
		return []*Node{buildFn(x)}
	})
	require.NoError(t, err)
	exec, err := backend.Compile(fn)
	require.NoError(t, err)
	defer exec.Finalize()
	input := must.M1(backends.FromFlat(backend, []float32{1, 2, 3, 4, 5, 6}, 3, 2))
	output := must.M1(backend.NewTensor(exec.Outputs()[0]))
	require.NoError(t, exec.Execute([]backends.Tensor{output}, []backends.Tensor{input}))
	return must.M1(backends.ToFlat[float32](output))
}

func TestMean(t *testing.T) {
	assert.Equal(t, []float32{3, 4}, evalOnInterpreter(t, func(x *Node) *Node { return Mean(x, 0) }))
	assert.Equal(t, []float32{1.5, 3.5, 5.5}, evalOnInterpreter(t, func(x *Node) *Node { return Mean(x, -1) }))
	assert.Equal(t, []float32{3.5}, evalOnInterpreter(t, func(x *Node) *Node { return Mean(x) }))
}

func TestL2Norm(t *testing.T) {
	assert.InDeltaSlice(t, []float32{5.9160797831, 7.48331477355},
		evalOnInterpreter(t, func(x *Node) *Node { return L2Norm(x, 0) }), 1e-5)
}

func TestVariance(t *testing.T) {
	assert.InDeltaSlice(t, []float32{2.6666667, 2.6666667},
		evalOnInterpreter(t, func(x *Node) *Node { return Variance(x, false, 0) }), 1e-5)
	assert.InDeltaSlice(t, []float32{4, 4},
		evalOnInterpreter(t, func(x *Node) *Node { return Variance(x, true, 0) }), 1e-5)
	assert.InDeltaSlice(t, []float32{1.63299316, 1.63299316},
		evalOnInterpreter(t, func(x *Node) *Node { return StdDev(x, false, 0) }), 1e-5)
	assert.InDeltaSlice(t, []float32{2, 2},
		evalOnInterpreter(t, func(x *Node) *Node { return StdDev(x, true, 0) }), 1e-5)

	// Bessel correction needs more than one element per reduction.
	_, err := Build("variance", func(f *Function) []*Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 1, 2))
		return []*Node{Variance(x, true, 0)}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bessel")
}
