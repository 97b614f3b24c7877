// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package builder implements composite reductions (Mean, L2Norm, Variance, StdDev) in terms of the
// primitive ops of package graph.
//
// Like the graph ops, they panic on invalid arguments: build the function with graph.Build to get
// errors instead.
package builder

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/hybrid/pkg/core/graph"
)

// reducedCount returns the number of elements of x reduced into each output element, if reducing over axes.
func reducedCount(x *Node, axes []int) int {
	shape := x.Shape()
	if len(axes) == 0 {
		return shape.Size()
	}
	count := 1
	for _, axis := range axes {
		if axis < 0 {
			axis += shape.Rank()
		}
		count *= shape.Dim(axis)
	}
	return count
}

// scalarLikeOutput returns a constant with value broadcast to the shape of the reduction output.
func scalarLikeOutput(reduced *Node, value float64) *Node {
	return BroadcastToShape(ScalarLike(reduced, value), reduced.Shape().Dimensions...)
}

// Mean returns the mean of x over the given axes (all axes if none given). The reduced axes are removed.
//
// For integer dtypes the division truncates.
func Mean(x *Node, axes ...int) *Node {
	sum := ReduceSum(x, axes...)
	count := reducedCount(x, axes)
	return Div(sum, scalarLikeOutput(sum, float64(count)))
}

// L2Norm returns the square root of the sum of the squares of x over the given axes.
func L2Norm(x *Node, axes ...int) *Node {
	return Sqrt(ReduceSum(Mul(x, x), axes...))
}

// Variance of x over the given axes.
//
// If besselCorrection is set, the sum of squared deviations is divided by N-1 instead of N (the number of reduced
// elements), which requires N > 1.
//
// It is computed as `E[x²] - E[x]²`, scaled by N/(N-1) if besselCorrection is set.
func Variance(x *Node, besselCorrection bool, axes ...int) *Node {
	count := reducedCount(x, axes)
	if besselCorrection && count <= 1 {
		exceptions.Panicf("Variance with Bessel correction requires more than 1 element reduced, got %d", count)
	}
	sum := ReduceSum(x, axes...)
	sumSquares := ReduceSum(Mul(x, x), axes...)
	// sumSquares - sum²/N == N * Var(x)
	n := scalarLikeOutput(sum, float64(count))
	deviations := Sub(sumSquares, Div(Mul(sum, sum), n))
	if besselCorrection {
		return Div(deviations, scalarLikeOutput(sum, float64(count-1)))
	}
	return Div(deviations, n)
}

// StdDev returns the standard deviation of x over the given axes: the square root of Variance.
func StdDev(x *Node, besselCorrection bool, axes ...int) *Node {
	return Sqrt(Variance(x, besselCorrection, axes...))
}
