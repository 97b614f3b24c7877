// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Strides returns, for each axis, the distance in elements (not bytes) between consecutive indices
// of that axis in the row-major layout.
func (s Shape) Strides() []int {
	if len(s.Dimensions) == 0 {
		return nil
	}
	strides := make([]int, len(s.Dimensions))
	stride := 1
	for axis := len(s.Dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// Iter yields every flat index of the shape in row-major order along with the per-axis indices.
//
// The indices slice is reused between iterations: copy it if it must outlive the loop body, and
// don't modify it.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if !s.Ok() {
			return
		}
		indices := make([]int, len(s.Dimensions))
		size := s.Size()
		for flat := range size {
			if !yield(flat, indices) {
				return
			}
			for axis := len(indices) - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
		}
	}
}
