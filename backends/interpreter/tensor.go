// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor for the interpreter holds a shape and the flat data, always a slice of the Go type of the dtype.
type Tensor struct {
	backend *Backend
	shape   shapes.Shape
	flat    any
}

// Compile-time checks.
var (
	_ backends.Tensor        = (*Tensor)(nil)
	_ backends.HostTensor    = (*Tensor)(nil)
	_ backends.DataInterface = (*Backend)(nil)
)

// Shape implements backends.Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Backend implements backends.Tensor.
func (t *Tensor) Backend() backends.Backend { return t.backend }

// Flat implements backends.HostTensor.
func (t *Tensor) Flat() any { return t.flat }

// Finalize implements backends.Tensor.
func (t *Tensor) Finalize() {
	t.flat = nil
}

// IsFinalized returns whether the tensor was finalized.
func (t *Tensor) IsFinalized() bool {
	return t.flat == nil
}

// copyFlat assumes both flat slices are of the same underlying type and length.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// castTensor checks that t is a valid tensor owned by b.
func (b *Backend) castTensor(t backends.Tensor) (*Tensor, error) {
	tensor, ok := t.(*Tensor)
	if !ok || tensor.backend != b {
		return nil, errors.Errorf("tensor (%T) is not owned by the %s backend", t, BackendName)
	}
	if tensor.IsFinalized() {
		return nil, errors.Errorf("tensor %s has already been finalized", tensor.shape)
	}
	return tensor, nil
}

// NewTensor implements backends.DataInterface.
func (b *Backend) NewTensor(shape shapes.Shape) (backends.Tensor, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	if !Capabilities.DTypes[shape.DType] {
		return nil, errors.Errorf("NewTensor(%s): dtype not supported by the %s backend", shape, BackendName)
	}
	return &Tensor{backend: b, shape: shape.Clone(), flat: shape.MakeFlat()}, nil
}

// TensorFromFlat implements backends.DataInterface.
func (b *Backend) TensorFromFlat(flat any, dimensions ...int) (backends.Tensor, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("TensorFromFlat: flat must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	size := 1
	for _, dim := range dimensions {
		if dim <= 0 {
			return nil, errors.Errorf("TensorFromFlat: invalid dimensions %v", dimensions)
		}
		size *= dim
	}
	if size != flatV.Len() {
		return nil, errors.Errorf("TensorFromFlat: %d values given for dimensions %v", flatV.Len(), dimensions)
	}
	t, err := b.NewTensor(shapes.Make(dtype, dimensions...))
	if err != nil {
		return nil, err
	}
	copyFlat(t.(*Tensor).flat, flat)
	return t, nil
}

// TensorToFlat implements backends.DataInterface.
func (b *Backend) TensorToFlat(t backends.Tensor) (any, error) {
	tensor, err := b.castTensor(t)
	if err != nil {
		return nil, err
	}
	flat := tensor.shape.MakeFlat()
	copyFlat(flat, tensor.flat)
	return flat, nil
}

// CopyFromFlat implements backends.DataInterface.
func (b *Backend) CopyFromFlat(dst backends.Tensor, flat any) error {
	tensor, err := b.castTensor(dst)
	if err != nil {
		return err
	}
	flatV := reflect.ValueOf(flat)
	if reflect.TypeOf(flat) != reflect.TypeOf(tensor.flat) || flatV.Len() != tensor.shape.Size() {
		return errors.Errorf("CopyFromFlat: %T given for tensor %s", flat, tensor.shape)
	}
	copyFlat(tensor.flat, flat)
	return nil
}

// CopyTensor implements backends.DataInterface.
func (b *Backend) CopyTensor(dst, src backends.Tensor) error {
	dstT, err := b.castTensor(dst)
	if err != nil {
		return err
	}
	srcT, err := b.castTensor(src)
	if err != nil {
		return err
	}
	if !dstT.shape.Equal(srcT.shape) {
		return errors.Errorf("CopyTensor: shapes differ, source %s, destination %s", srcT.shape, dstT.shape)
	}
	copyFlat(dstT.flat, srcT.flat)
	return nil
}
