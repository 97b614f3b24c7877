// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Float16ToFloat32 converts a flat slice of float16 to float32.
func Float16ToFloat32(src []float16.Float16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = v.Float32()
	}
	return dst
}

// Float32ToFloat16 converts src into dst, which must have the same length.
func Float32ToFloat16(dst []float16.Float16, src []float32) {
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v)
	}
}

// evalFloat16 computes the node in float32 and converts the result back to float16.
func evalFloat16(node *graph.Node, output []float16.Float16, inputs []any) error {
	if node.OpType() == graph.OpTypeConstant {
		values, ok := node.Data().([]float16.Float16)
		if !ok {
			return errors.Errorf("Eval(%s): constant of type %T, expected []float16.Float16", node, node.Data())
		}
		copy(output, values)
		return nil
	}
	typed, err := castInputs[float16.Float16](node, inputs)
	if err != nil {
		return err
	}
	inputs32 := make([]any, len(typed))
	for i, in := range typed {
		inputs32[i] = Float16ToFloat32(in)
	}
	output32 := make([]float32, len(output))
	if err = evalTyped(node, output32, inputs32); err != nil {
		return err
	}
	Float32ToFloat16(output, output32)
	return nil
}
