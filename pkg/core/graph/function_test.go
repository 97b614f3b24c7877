// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDiamond builds E=A*B; F=C+E; G=E+D; H=F+G.
func buildDiamond(t *testing.T) *Function {
	fn, err := Build("diamond", func(f *Function) []*Node {
		s := shapes.Make(dtypes.Float32, 2, 2)
		a := f.Parameter("A", s)
		b := f.Parameter("B", s)
		c := f.Parameter("C", s)
		d := f.Parameter("D", s)
		e := Mul(a, b)
		ff := Add(c, e)
		g := Add(e, d)
		return []*Node{Add(ff, g)}
	})
	require.NoError(t, err)
	return fn
}

func TestBuild(t *testing.T) {
	fn := buildDiamond(t)
	assert.True(t, fn.IsFinalized())
	assert.Equal(t, 4, fn.NumParameters())
	assert.Equal(t, 1, fn.NumResults())
	assert.Equal(t, 9, fn.NumNodes())
	for i, p := range fn.Parameters() {
		assert.Equal(t, OpTypeParameter, p.OpType())
		assert.Equal(t, i, p.Data())
	}
	result := fn.Results()[0]
	assert.Equal(t, OpTypeResult, result.OpType())
	assert.Equal(t, OpTypeAdd, result.InputNode(0).OpType())
	assert.True(t, result.Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))

	// No more nodes can be added after the function is finalized.
	require.Panics(t, func() { fn.Parameter("X", shapes.Make(dtypes.Float32)) })
}

func TestBuildErrors(t *testing.T) {
	_, err := Build("mismatch", func(f *Function) []*Node {
		a := f.Parameter("A", shapes.Make(dtypes.Float32, 2, 2))
		b := f.Parameter("B", shapes.Make(dtypes.Float32, 2, 3))
		return []*Node{Add(a, b)}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same shape")

	_, err = Build("dtype", func(f *Function) []*Node {
		a := f.Parameter("A", shapes.Make(dtypes.Float32, 2))
		b := f.Parameter("B", shapes.Make(dtypes.Int32, 2))
		return []*Node{Mul(a, b)}
	})
	require.Error(t, err)

	_, err = Build("no_results", func(f *Function) []*Node {
		_ = f.Parameter("A", shapes.Make(dtypes.Float32, 2))
		return nil
	})
	require.Error(t, err)

	other := NewFunction("other")
	x := other.Parameter("x", shapes.Make(dtypes.Float32))
	_, err = Build("cross", func(f *Function) []*Node {
		y := f.Parameter("y", shapes.Make(dtypes.Float32))
		return []*Node{Add(x, y)}
	})
	require.Error(t, err)
}

func TestTopologicalOrder(t *testing.T) {
	fn := buildDiamond(t)
	order := fn.TopologicalOrder()
	require.Len(t, order, fn.NumNodes())
	position := make(map[NodeID]int, len(order))
	for i, node := range order {
		position[node.ID()] = i
	}
	for _, node := range order {
		for _, in := range node.Inputs() {
			assert.Less(t, position[in.Node], position[node.ID()], "node %s comes before its input %s", node, in)
		}
	}

	// Dead nodes are not part of the closure, unused parameters are.
	fn2 := MustBuild("dead", func(f *Function) []*Node {
		a := f.Parameter("A", shapes.Make(dtypes.Float32, 3))
		_ = f.Parameter("unused", shapes.Make(dtypes.Float32, 3))
		_ = Neg(a)
		return []*Node{Abs(a)}
	})
	order = fn2.TopologicalOrder()
	var ops []OpType
	for _, node := range order {
		ops = append(ops, node.OpType())
	}
	assert.Equal(t, []OpType{OpTypeParameter, OpTypeParameter, OpTypeAbs, OpTypeResult}, ops)
}

func TestClone(t *testing.T) {
	fn := buildDiamond(t)
	for _, node := range fn.Nodes() {
		node.SetPlacement(placement.Interpreter)
	}
	clone := fn.Clone()
	require.Equal(t, fn.NumNodes(), clone.NumNodes())
	for i, node := range clone.Nodes() {
		orig := fn.Nodes()[i]
		assert.Equal(t, orig.OpType(), node.OpType())
		assert.Equal(t, orig.Inputs(), node.Inputs())
		assert.Equal(t, placement.Interpreter, node.Placement())
		assert.Same(t, clone, node.Function())
	}

	// Changing placements of the clone doesn't affect the original.
	clone.Nodes()[4].SetPlacement(placement.CPU)
	assert.Equal(t, placement.Interpreter, fn.Nodes()[4].Placement())
	assert.Contains(t, clone.String(), "Multiply(#0, #1) -> (Float32)[2 2] @CPU")
}

func TestCopyNode(t *testing.T) {
	src := buildDiamond(t)
	mul := src.Node(4)
	require.Equal(t, OpTypeMultiply, mul.OpType())
	mul.SetPlacement(placement.CPU)

	dst := NewFunction("copy")
	s := shapes.Make(dtypes.Float32, 2, 2)
	x := dst.Parameter("x", s)
	y := dst.Parameter("y", s)
	cp := dst.CopyNode(mul, x.Value(0), y.Value(0))
	assert.Equal(t, OpTypeMultiply, cp.OpType())
	assert.Equal(t, placement.CPU, cp.Placement())
	dst.SetResults(cp)
	assert.Equal(t, 1, dst.NumResults())

	// Shape mismatch.
	dst2 := NewFunction("copy2")
	z := dst2.Parameter("z", shapes.Make(dtypes.Float32, 3))
	require.Panics(t, func() { dst2.CopyNode(mul, z.Value(0), z.Value(0)) })
	// Parameters can't be copied.
	require.Panics(t, func() { dst2.CopyNode(src.Node(0)) })
}

func TestDuplicateResults(t *testing.T) {
	fn := MustBuild("dup", func(f *Function) []*Node {
		a := f.Parameter("A", shapes.Make(dtypes.Int32, 2))
		n := Neg(a)
		return []*Node{n, n, a}
	})
	results := fn.Results()
	require.Len(t, results, 3)
	assert.Equal(t, results[0].Inputs(), results[1].Inputs())
	assert.Equal(t, OpTypeParameter, results[2].InputNode(0).OpType())
}
