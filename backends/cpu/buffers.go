// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"reflect"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Buffer is the cpu backend tensor: a shape and a flat slice of the Go type of the dtype.
//
// The flat slice is taken from the backend's pool, and returned to it on Finalize.
type Buffer struct {
	backend *Backend
	shape   shapes.Shape
	valid   bool

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

// Compile-time checks.
var (
	_ backends.Tensor        = (*Buffer)(nil)
	_ backends.HostTensor    = (*Buffer)(nil)
	_ backends.DataInterface = (*Backend)(nil)
)

// Shape implements backends.Tensor.
func (buf *Buffer) Shape() shapes.Shape { return buf.shape }

// Backend implements backends.Tensor.
func (buf *Buffer) Backend() backends.Backend { return buf.backend }

// Flat implements backends.HostTensor.
func (buf *Buffer) Flat() any { return buf.flat }

// Finalize implements backends.Tensor: the memory is returned to the backend's pool.
func (buf *Buffer) Finalize() {
	if !buf.valid {
		return
	}
	buf.valid = false
	buf.backend.putFlat(buf.shape.DType, buf.flat)
	buf.flat = nil
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := b.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				return reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface()
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getFlat returns a flat slice of the given dtype and length from the pool. Its contents are undefined.
func (b *Backend) getFlat(dtype dtypes.DType, length int) any {
	return b.getBufferPool(dtype, length).Get()
}

// putFlat returns the flat slice to the pool. After this any references to flat should be dropped.
func (b *Backend) putFlat(dtype dtypes.DType, flat any) {
	if flat == nil || b.IsFinalized() {
		return
	}
	b.getBufferPool(dtype, reflect.ValueOf(flat).Len()).Put(flat)
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// clearFlat sets all values of flat to zero.
func clearFlat(flat any) {
	reflect.ValueOf(flat).Clear()
}

func (b *Backend) castBuffer(t backends.Tensor) (*Buffer, error) {
	buf, ok := t.(*Buffer)
	if !ok || buf.backend != b {
		return nil, errors.Errorf("tensor (%T) is not owned by the %s backend", t, BackendName)
	}
	if !buf.valid {
		return nil, errors.Errorf("tensor %s has already been finalized", buf.shape)
	}
	return buf, nil
}

// newBuffer returns a buffer with a pooled flat slice: contents are undefined.
func (b *Backend) newBuffer(shape shapes.Shape) (*Buffer, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	if !Capabilities.DTypes[shape.DType] {
		return nil, errors.Errorf("dtype %s not supported by the %s backend", shape.DType, BackendName)
	}
	return &Buffer{
		backend: b,
		shape:   shape.Clone(),
		valid:   true,
		flat:    b.getFlat(shape.DType, shape.Size()),
	}, nil
}

// NewTensor implements backends.DataInterface.
func (b *Backend) NewTensor(shape shapes.Shape) (backends.Tensor, error) {
	buf, err := b.newBuffer(shape)
	if err != nil {
		return nil, err
	}
	clearFlat(buf.flat)
	return buf, nil
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
	buf, err := b.newBuffer(shapes.Make(dtype, dimensions...))
	if err != nil {
		return nil, err
	}
	copyFlat(buf.flat, flat)
	return buf, nil
}

// TensorToFlat implements backends.DataInterface.
func (b *Backend) TensorToFlat(t backends.Tensor) (any, error) {
	buf, err := b.castBuffer(t)
	if err != nil {
		return nil, err
	}
	flat := buf.shape.MakeFlat()
	copyFlat(flat, buf.flat)
	return flat, nil
}

// CopyFromFlat implements backends.DataInterface.
func (b *Backend) CopyFromFlat(dst backends.Tensor, flat any) error {
	buf, err := b.castBuffer(dst)
	if err != nil {
		return err
	}
	if reflect.TypeOf(flat) != reflect.TypeOf(buf.flat) || reflect.ValueOf(flat).Len() != buf.shape.Size() {
		return errors.Errorf("CopyFromFlat: %T given for tensor %s", flat, buf.shape)
	}
	copyFlat(buf.flat, flat)
	return nil
}

// CopyTensor implements backends.DataInterface.
func (b *Backend) CopyTensor(dst, src backends.Tensor) error {
	dstBuf, err := b.castBuffer(dst)
	if err != nil {
		return err
	}
	srcBuf, err := b.castBuffer(src)
	if err != nil {
		return err
	}
	if !dstBuf.shape.Equal(srcBuf.shape) {
		return errors.Errorf("CopyTensor: shapes differ, source %s, destination %s", srcBuf.shape, dstBuf.shape)
	}
	copyFlat(dstBuf.flat, srcBuf.flat)
	return nil
}

// CanCopyFrom implements backends.PeerCopier: tensors of backends in host memory are read directly.
func (b *Backend) CanCopyFrom(src backends.Backend) bool {
	host, ok := src.(backends.HostMemoryBackend)
	return ok && host.IsHostMemory()
}

// CopyFromPeer implements backends.PeerCopier.
func (b *Backend) CopyFromPeer(dst, src backends.Tensor) error {
	dstBuf, err := b.castBuffer(dst)
	if err != nil {
		return err
	}
	hostSrc, ok := src.(backends.HostTensor)
	if !ok {
		return errors.Errorf("CopyFromPeer: source tensor (%T) is not in host memory", src)
	}
	if !dstBuf.shape.Equal(src.Shape()) {
		return errors.Errorf("CopyFromPeer: shapes differ, source %s, destination %s", src.Shape(), dstBuf.shape)
	}
	flat := hostSrc.Flat()
	if reflect.TypeOf(flat) != reflect.TypeOf(dstBuf.flat) {
		return errors.Errorf("CopyFromPeer: source flat data of type %T, expected %T", flat, dstBuf.flat)
	}
	copyFlat(dstBuf.flat, flat)
	return nil
}
