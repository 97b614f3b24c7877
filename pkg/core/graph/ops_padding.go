// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hybrid/pkg/core/shapes"
)

// PadAxis defines the amount of padding preceding one axis (Start), at the end of the axis (End)
// or in between the inputs (Interior).
type PadAxis struct {
	Start, End, Interior int
}

// String implements fmt.Stringer.
func (p PadAxis) String() string {
	return fmt.Sprintf("{%d,%d,%d}", p.Start, p.End, p.Interior)
}

// PaddedDim returns the dimension of an axis of size dim after padding.
func (p PadAxis) PaddedDim(dim int) int {
	return p.Start + max(0, dim*(p.Interior+1)-p.Interior) + p.End
}

// Pad injects padding on the start, end or interior (in between each element) of the given axes.
//
// padValue must be a scalar with the same dtype as x. There must be at most x.Rank() axesConfig values,
// missing ones are assumed to be no padding.
func Pad(x, padValue *Node, axesConfig ...PadAxis) *Node {
	f := validateBuildingFunctionFromInputs(x, padValue)
	shape := x.Shape()
	if !padValue.Shape().IsScalar() || padValue.DType() != shape.DType {
		exceptions.Panicf("Pad: padValue must be a scalar of dtype %s, got %s", shape.DType, padValue.Shape())
	}
	if len(axesConfig) > shape.Rank() {
		exceptions.Panicf("Pad: %d axes configured, but x has rank %d", len(axesConfig), shape.Rank())
	}
	config := make([]PadAxis, shape.Rank())
	copy(config, axesConfig)
	outDims := slices.Clone(shape.Dimensions)
	for axis, pad := range config {
		if pad.Start < 0 || pad.End < 0 || pad.Interior < 0 {
			exceptions.Panicf("Pad: negative padding %s for axis %d not supported", pad, axis)
		}
		outDims[axis] = pad.PaddedDim(shape.Dimensions[axis])
	}
	node := f.newNode(OpTypePad, []Value{x.Value(0), padValue.Value(0)}, shapes.Make(shape.DType, outDims...))
	node.data = config
	return node
}
