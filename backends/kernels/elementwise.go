// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
)

// ElementwiseRange computes the elementwise op opType over the range [start, end) of the flat values.
// It allows splitting the work of one op among several goroutines.
//
// Float16 is not supported.
func ElementwiseRange(opType graph.OpType, output any, inputs []any, start, end int) error {
	switch out := output.(type) {
	case []float32:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	case []float64:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	case []int32:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	case []int64:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	case []uint8:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	case []uint32:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	case []uint64:
		return elementwiseRangeTyped(opType, out, inputs, start, end)
	default:
		return errors.Errorf("ElementwiseRange(%s): output of type %T not supported", opType, output)
	}
}

func elementwiseRangeTyped[T Numeric](opType graph.OpType, output []T, inputs []any, start, end int) error {
	typed := make([][]T, len(inputs))
	for i, in := range inputs {
		var ok bool
		typed[i], ok = in.([]T)
		if !ok {
			return errors.Errorf("ElementwiseRange(%s): input #%d has type %T, expected %T", opType, i, in, output)
		}
	}
	switch {
	case opType.IsBinaryElementwise() && len(typed) == 2:
		BinaryRange(opType, output, typed[0], typed[1], start, end)
	case opType.IsUnaryElementwise() && len(typed) == 1:
		UnaryRange(opType, output, typed[0], start, end)
	default:
		return errors.Errorf("ElementwiseRange: %s with %d inputs is not an elementwise op", opType, len(typed))
	}
	return nil
}
