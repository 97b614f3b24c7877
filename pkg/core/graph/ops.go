// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/x448/float16"
)

// validateBuildingFunctionFromInputs checks that all inputs are non-nil and from the same Function,
// and that the function is still being built. It returns the Function.
func validateBuildingFunctionFromInputs(inputs ...*Node) *Function {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes given")
	}
	var f *Function
	for i, n := range inputs {
		if n == nil {
			exceptions.Panicf("input node #%d is nil", i)
		}
		if f == nil {
			f = n.function
		} else if n.function != f {
			exceptions.Panicf("combining nodes from different functions (%q and %q) not allowed",
				f.name, n.function.name)
		}
	}
	f.AssertBuilding()
	return f
}

// Constant creates a constant node from a flat slice of values ([]float32, []int64, etc.) and the dimensions
// of the shape. A scalar is created if no dimensions are given, in which case flat must have one element.
func Constant(f *Function, flat any, dimensions ...int) *Node {
	f.AssertBuilding()
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		exceptions.Panicf("Constant: flat must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("Constant: unsupported Go type %s", flatV.Type().Elem())
	}
	shape := shapes.Make(dtype, dimensions...)
	if flatV.Len() != shape.Size() {
		exceptions.Panicf("Constant: flat has %d values, but shape %s requires %d", flatV.Len(), shape, shape.Size())
	}
	// Copy the values, so the caller can't change them.
	values := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(values, flatV)
	node := f.newNode(OpTypeConstant, nil, shape)
	node.data = values.Interface()
	return node
}

// Scalar creates a scalar constant of the given dtype, converted from a float64.
func Scalar(f *Function, dtype dtypes.DType, value float64) *Node {
	return Constant(f, scalarFlat(dtype, value))
}

// ScalarLike creates a scalar constant with the same dtype as x.
func ScalarLike(x *Node, value float64) *Node {
	return Scalar(x.function, x.DType(), value)
}

func scalarFlat(dtype dtypes.DType, value float64) any {
	switch dtype {
	case dtypes.Float16:
		return []float16.Float16{float16.Fromfloat32(float32(value))}
	case dtypes.Float32:
		return []float32{float32(value)}
	case dtypes.Float64:
		return []float64{value}
	case dtypes.Int32:
		return []int32{int32(value)}
	case dtypes.Int64:
		return []int64{int64(value)}
	case dtypes.Uint8:
		return []uint8{uint8(value)}
	case dtypes.Uint32:
		return []uint32{uint32(value)}
	case dtypes.Uint64:
		return []uint64{uint64(value)}
	default:
		exceptions.Panicf("Scalar: dtype %s not supported", dtype)
	}
	return nil
}

// Identity returns a node whose output is x.
func Identity(x *Node) *Node {
	f := validateBuildingFunctionFromInputs(x)
	return f.newNode(OpTypeIdentity, []Value{x.Value(0)}, x.Shape().Clone())
}

// binaryOp adds an elementwise operation on two operands of the exact same shape.
func binaryOp(opType OpType, x, y *Node) *Node {
	f := validateBuildingFunctionFromInputs(x, y)
	if !x.Shape().Equal(y.Shape()) {
		exceptions.Panicf("%s: operands must have the same shape, got %s and %s", opType, x.Shape(), y.Shape())
	}
	return f.newNode(opType, []Value{x.Value(0), y.Value(0)}, x.Shape().Clone())
}

// Add returns the elementwise sum of x and y.
func Add(x, y *Node) *Node { return binaryOp(OpTypeAdd, x, y) }

// Sub returns the elementwise difference x-y.
func Sub(x, y *Node) *Node { return binaryOp(OpTypeSubtract, x, y) }

// Mul returns the elementwise product of x and y.
func Mul(x, y *Node) *Node { return binaryOp(OpTypeMultiply, x, y) }

// Div returns the elementwise division x/y. For integer dtypes it truncates.
func Div(x, y *Node) *Node { return binaryOp(OpTypeDivide, x, y) }

// Max returns the elementwise maximum of x and y.
func Max(x, y *Node) *Node { return binaryOp(OpTypeMaximum, x, y) }

// Min returns the elementwise minimum of x and y.
func Min(x, y *Node) *Node { return binaryOp(OpTypeMinimum, x, y) }

// unaryOp adds an elementwise operation on one operand.
func unaryOp(opType OpType, x *Node) *Node {
	f := validateBuildingFunctionFromInputs(x)
	return f.newNode(opType, []Value{x.Value(0)}, x.Shape().Clone())
}

// Neg returns the elementwise negation of x.
func Neg(x *Node) *Node { return unaryOp(OpTypeNegate, x) }

// Abs returns the elementwise absolute value of x.
func Abs(x *Node) *Node { return unaryOp(OpTypeAbs, x) }

// Sqrt returns the elementwise square root of x. Only defined for float dtypes.
func Sqrt(x *Node) *Node {
	if !x.DType().IsFloat() {
		exceptions.Panicf("Sqrt: only float dtypes are supported, got %s", x.DType())
	}
	return unaryOp(OpTypeSqrt, x)
}

// BroadcastPrefix adds dimensions to an array by duplicating the data in the array.
//
// The new dimensions prefixDims are inserted on the left, i.e., if prefixDims has values `{a0, ..., aN}`
// and the operand shape has dimensions {b0, ..., bM} then the shape of the output has
// dimensions {a0, ..., aN, b0, ..., bM}.
func BroadcastPrefix(x *Node, prefixDims ...int) *Node {
	f := validateBuildingFunctionFromInputs(x)
	for _, dim := range prefixDims {
		if dim <= 0 {
			exceptions.Panicf("BroadcastPrefix: invalid prefix dimensions %v", prefixDims)
		}
	}
	shape := x.Shape()
	newDims := make([]int, 0, shape.Rank()+len(prefixDims))
	newDims = append(newDims, prefixDims...)
	newDims = append(newDims, shape.Dimensions...)
	node := f.newNode(OpTypeBroadcast, []Value{x.Value(0)}, shapes.Make(shape.DType, newDims...))
	node.data = slices.Clone(prefixDims)
	return node
}

// BroadcastToShape broadcasts a scalar x to the given dimensions.
func BroadcastToShape(x *Node, dimensions ...int) *Node {
	if !x.Shape().IsScalar() {
		exceptions.Panicf("BroadcastToShape: only scalars can be broadcast, got %s", x.Shape())
	}
	if len(dimensions) == 0 {
		return x
	}
	return BroadcastPrefix(x, dimensions...)
}

// ReduceSum reduces by summing x elements over the selected axes.
// If reduceAxes is empty, reduce over all dimensions to a scalar.
//
// Negative axes are counted from the end. The reduced axes of x are removed in the output.
func ReduceSum(x *Node, reduceAxes ...int) *Node {
	f := validateBuildingFunctionFromInputs(x)
	shape := x.Shape()
	axes := adjustAxesToRankAndSort(shape.Rank(), reduceAxes, "ReduceSum")
	var outDims []int
	for axis, dim := range shape.Dimensions {
		if _, found := slices.BinarySearch(axes, axis); !found {
			outDims = append(outDims, dim)
		}
	}
	node := f.newNode(OpTypeReduceSum, []Value{x.Value(0)}, shapes.Make(shape.DType, outDims...))
	node.data = axes
	return node
}

// adjustAxesToRankAndSort converts negative axes, checks they are in range and unique and returns them sorted.
// If axes is empty, all axes are returned.
func adjustAxesToRankAndSort(rank int, axes []int, opName string) []int {
	if len(axes) == 0 {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all
	}
	adjusted := make([]int, len(axes))
	for i, axis := range axes {
		if axis < 0 {
			axis += rank
		}
		if axis < 0 || axis >= rank {
			exceptions.Panicf("%s: axis %d out of range for rank %d", opName, axes[i], rank)
		}
		adjusted[i] = axis
	}
	slices.Sort(adjusted)
	if len(slices.Compact(slices.Clone(adjusted))) != len(adjusted) {
		exceptions.Panicf("%s: repeated axes in %v", opName, axes)
	}
	return adjusted
}
