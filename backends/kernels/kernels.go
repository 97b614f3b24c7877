// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements the ops of package graph over flat Go slices, shared by the Go backends.
//
// Flat values are passed as `any` holding a slice of the Go type of the dtype ([]float32, []int64, ...).
// Float16 is computed in float32 and converted back.
package kernels

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Numeric are the Go types the kernels are instantiated for. Float16 is handled separately.
type Numeric interface {
	constraints.Integer | constraints.Float
}

// SupportedDTypes are the dtypes handled by Eval.
var SupportedDTypes = map[dtypes.DType]bool{
	dtypes.Float16: true,
	dtypes.Float32: true,
	dtypes.Float64: true,
	dtypes.Int32:   true,
	dtypes.Int64:   true,
	dtypes.Uint8:   true,
	dtypes.Uint32:  true,
	dtypes.Uint64:  true,
}

// Eval computes the operation of node into output, a flat slice of the node's output shape.
//
// inputs are the flat values of the node's inputs, in order. Parameter and Result nodes are not
// computations and are handled by the backends.
func Eval(node *graph.Node, output any, inputs []any) error {
	if len(inputs) != len(node.Inputs()) {
		return errors.Errorf("Eval(%s): %d inputs given, %d expected", node, len(inputs), len(node.Inputs()))
	}
	switch out := output.(type) {
	case []float32:
		return evalTyped(node, out, inputs)
	case []float64:
		return evalTyped(node, out, inputs)
	case []int32:
		return evalTyped(node, out, inputs)
	case []int64:
		return evalTyped(node, out, inputs)
	case []uint8:
		return evalTyped(node, out, inputs)
	case []uint32:
		return evalTyped(node, out, inputs)
	case []uint64:
		return evalTyped(node, out, inputs)
	case []float16.Float16:
		return evalFloat16(node, out, inputs)
	default:
		return errors.Errorf("Eval(%s): output of type %T not supported", node, output)
	}
}

// castInputs converts the inputs to []T, or returns an error.
func castInputs[T any](node *graph.Node, inputs []any) ([][]T, error) {
	typed := make([][]T, len(inputs))
	for i, in := range inputs {
		var ok bool
		typed[i], ok = in.([]T)
		if !ok {
			return nil, errors.Errorf("Eval(%s): input #%d has type %T, expected %T", node, i, in, typed[i])
		}
	}
	return typed, nil
}

func evalTyped[T Numeric](node *graph.Node, output []T, inputs []any) error {
	if node.OpType() == graph.OpTypeConstant {
		values, ok := node.Data().([]T)
		if !ok {
			return errors.Errorf("Eval(%s): constant of type %T, expected %T", node, node.Data(), output)
		}
		copy(output, values)
		return nil
	}
	typed, err := castInputs[T](node, inputs)
	if err != nil {
		return err
	}
	inputShape := func(i int) shapes.Shape {
		return node.Function().ValueShape(node.Inputs()[i])
	}
	opType := node.OpType()
	switch {
	case opType == graph.OpTypeIdentity:
		copy(output, typed[0])
	case opType.IsBinaryElementwise():
		BinaryRange(opType, output, typed[0], typed[1], 0, len(output))
	case opType.IsUnaryElementwise():
		UnaryRange(opType, output, typed[0], 0, len(output))
	case opType == graph.OpTypeBroadcast:
		Broadcast(output, typed[0])
	case opType == graph.OpTypeReduceSum:
		ReduceSum(output, typed[0], inputShape(0), node.Data().([]int))
	case opType == graph.OpTypePad:
		Pad(output, typed[0], typed[1][0], inputShape(0), node.Data().([]graph.PadAxis))
	default:
		return errors.Errorf("Eval(%s): op %s has no kernel", node, opType)
	}
	return nil
}

// BinaryRange computes output[i] = x[i] <op> y[i] for i in [start, end).
func BinaryRange[T Numeric](opType graph.OpType, output, x, y []T, start, end int) {
	output, x, y = output[start:end], x[start:end], y[start:end]
	switch opType {
	case graph.OpTypeAdd:
		for i := range output {
			output[i] = x[i] + y[i]
		}
	case graph.OpTypeSubtract:
		for i := range output {
			output[i] = x[i] - y[i]
		}
	case graph.OpTypeMultiply:
		for i := range output {
			output[i] = x[i] * y[i]
		}
	case graph.OpTypeDivide:
		for i := range output {
			output[i] = x[i] / y[i]
		}
	case graph.OpTypeMaximum:
		for i := range output {
			output[i] = max(x[i], y[i])
		}
	case graph.OpTypeMinimum:
		for i := range output {
			output[i] = min(x[i], y[i])
		}
	default:
		panic(errors.Errorf("BinaryRange: %s is not a binary elementwise op", opType))
	}
}

// UnaryRange computes output[i] = <op>(x[i]) for i in [start, end).
func UnaryRange[T Numeric](opType graph.OpType, output, x []T, start, end int) {
	output, x = output[start:end], x[start:end]
	switch opType {
	case graph.OpTypeNegate:
		for i, v := range x {
			output[i] = -v
		}
	case graph.OpTypeAbs:
		for i, v := range x {
			if v < 0 {
				v = -v
			}
			output[i] = v
		}
	case graph.OpTypeSqrt:
		for i, v := range x {
			output[i] = T(math.Sqrt(float64(v)))
		}
	default:
		panic(errors.Errorf("UnaryRange: %s is not a unary elementwise op", opType))
	}
}

// Broadcast repeats x to fill output: broadcasting with prefix dimensions means the operand is
// repeated contiguously.
func Broadcast[T any](output, x []T) {
	for start := 0; start < len(output); start += len(x) {
		copy(output[start:], x)
	}
}

// ReduceSum sums x (with the given shape) over the given sorted axes into output.
func ReduceSum[T Numeric](output, x []T, shape shapes.Shape, axes []int) {
	clear(output)
	if len(output) == 1 {
		var sum T
		for _, v := range x {
			sum += v
		}
		output[0] = sum
		return
	}

	// outputStrides[axis] is the stride in output of each input axis, 0 for reduced ones.
	rank := shape.Rank()
	outputStrides := make([]int, rank)
	stride := 1
	reduced := make([]bool, rank)
	for _, axis := range axes {
		reduced[axis] = true
	}
	for axis := rank - 1; axis >= 0; axis-- {
		if reduced[axis] {
			continue
		}
		outputStrides[axis] = stride
		stride *= shape.Dimensions[axis]
	}
	for flatIdx, indices := range shape.Iter() {
		outIdx := 0
		for axis, idx := range indices {
			outIdx += idx * outputStrides[axis]
		}
		output[outIdx] += x[flatIdx]
	}
}

// Pad writes into output the values of x (with the given shape), padded according to config, and with
// the empty positions filled with padValue.
func Pad[T any](output, x []T, padValue T, shape shapes.Shape, config []graph.PadAxis) {
	for i := range output {
		output[i] = padValue
	}
	rank := shape.Rank()
	if rank == 0 {
		output[0] = x[0]
		return
	}
	outDims := make([]int, rank)
	for axis, pad := range config {
		outDims[axis] = pad.PaddedDim(shape.Dimensions[axis])
	}
	outStrides := shapes.Make(shape.DType, outDims...).Strides()
	for flatIdx, indices := range shape.Iter() {
		outIdx := 0
		for axis, idx := range indices {
			pad := config[axis]
			outIdx += (pad.Start + idx*(pad.Interior+1)) * outStrides[axis]
		}
		output[outIdx] = x[flatIdx]
	}
}
