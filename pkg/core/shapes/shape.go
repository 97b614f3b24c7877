// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape: the element type (DType) and dimensions of a tensor, or of a value
// produced by a node of a computation graph.
//
// DType is the enum of github.com/gomlx/gopjrt/dtypes, shared with the backends.
//
// Example: `[][]float32{{1, 2}, {3, 4}}` has shape `(Float32)[2 2]`, created with
// `shapes.Make(dtypes.Float32, 2, 2)`.
package shapes

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape of a tensor or of a node output. Scalars have no dimensions.
//
// The zero value is invalid, use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given dtype and dimensions. It panics if any dimension is not positive.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for axis, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s, %v): axis %d has dimension %d, it must be > 0",
				dtype, dimensions, axis, dim)
		}
	}
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Invalid returns the invalid shape, the same as Shape{}.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns false for the invalid shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank is the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether s is a valid shape with no axes.
func (s Shape) IsScalar() bool { return s.Ok() && len(s.Dimensions) == 0 }

// Dim returns the dimension of axis. Negative axes count from the end, so -1 is the last axis.
// It panics if axis is out of range.
func (s Shape) Dim(axis int) int {
	rank := len(s.Dimensions)
	adjusted := axis
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		exceptions.Panicf("Shape.Dim(%d): axis out of range for shape %s", axis, s)
	}
	return s.Dimensions[adjusted]
}

// String implements fmt.Stringer, e.g. "(Float32)[2 3]", or "(Int64)" for a scalar.
func (s Shape) String() string {
	if len(s.Dimensions) == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size is the number of elements: the product of the dimensions, 1 for scalars.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory is the number of bytes of a dense array with this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal returns whether s and other have the same dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// Clone returns a deep copy of s.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// MakeFlat returns a zeroed Go slice (e.g. []float32) with Size elements of the DType, the flat row-major
// storage of an array of this shape.
//
// It panics if the DType has no Go equivalent.
func (s Shape) MakeFlat() any {
	goType := s.DType.GoType()
	if goType == nil {
		exceptions.Panicf("Shape.MakeFlat(): %s has no Go equivalent", s)
	}
	size := s.Size()
	return reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface()
}
