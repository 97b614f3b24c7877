// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrTransfer is the cause of errors returned by Transfer.
var ErrTransfer = errors.New("cross-backend transfer failed")

// TransferableDTypes are the dtypes that can be moved between any two backends.
var TransferableDTypes = map[dtypes.DType]bool{
	dtypes.Float16: true,
	dtypes.Float32: true,
	dtypes.Float64: true,
	dtypes.Int32:   true,
	dtypes.Int64:   true,
}

// TransferableDType returns whether values of the given dtype can be moved between backends.
func TransferableDType(dtype dtypes.DType) bool {
	return TransferableDTypes[dtype]
}

// TransferMethod describes how Transfer moves data from one tensor to another.
type TransferMethod int

const (
	// TransferSameBackend copies within one backend, with Backend.CopyTensor.
	TransferSameBackend TransferMethod = iota

	// TransferPeer copies directly from the source tensor, using the destination's PeerCopier.
	TransferPeer

	// TransferHost does a round trip through a Go flat slice.
	TransferHost
)

// String implements fmt.Stringer.
func (m TransferMethod) String() string {
	switch m {
	case TransferSameBackend:
		return "same-backend"
	case TransferPeer:
		return "peer"
	case TransferHost:
		return "host"
	default:
		return "invalid"
	}
}

// TransferMethodFor returns how a tensor owned by src would be transferred to a tensor owned by dst.
func TransferMethodFor(dst, src Backend) TransferMethod {
	if dst == src {
		return TransferSameBackend
	}
	if peer, ok := dst.(PeerCopier); ok && peer.CanCopyFrom(src) {
		return TransferPeer
	}
	return TransferHost
}

// Transfer copies the contents of src to dst, which may be owned by different backends.
//
// The method is chosen per backend pair (see TransferMethodFor). Mismatched shapes or non-transferable
// dtypes return an error whose cause is ErrTransfer.
func Transfer(dst, src Tensor) error {
	if dst == nil || src == nil {
		return errors.Wrap(ErrTransfer, "nil tensor")
	}
	shape := src.Shape()
	if !dst.Shape().Equal(shape) {
		return errors.Wrapf(ErrTransfer, "shape mismatch: source %s, destination %s", shape, dst.Shape())
	}
	dstBackend, srcBackend := dst.Backend(), src.Backend()
	method := TransferMethodFor(dstBackend, srcBackend)
	if method != TransferSameBackend && !TransferableDType(shape.DType) {
		return errors.Wrapf(ErrTransfer, "dtype %s can't be transferred between backends", shape.DType)
	}
	if klog.V(2).Enabled() {
		klog.Infof("transfer %s (%s) %q -> %q via %s", shape, humanize.Bytes(uint64(shape.Memory())),
			srcBackend.Name(), dstBackend.Name(), method)
	}
	var err error
	switch method {
	case TransferSameBackend:
		err = dstBackend.CopyTensor(dst, src)
	case TransferPeer:
		err = dstBackend.(PeerCopier).CopyFromPeer(dst, src)
	default:
		var flat any
		flat, err = srcBackend.TensorToFlat(src)
		if err == nil {
			err = dstBackend.CopyFromFlat(dst, flat)
		}
	}
	if err != nil {
		return errors.Wrapf(ErrTransfer, "%s transfer of %s from %q to %q: %v", method, shape,
			srcBackend.Name(), dstBackend.Name(), err)
	}
	return nil
}

// TransferTo creates a new tensor on the backend dst with a copy of src.
func TransferTo(dst Backend, src Tensor) (Tensor, error) {
	t, err := dst.NewTensor(src.Shape())
	if err != nil {
		return nil, errors.WithMessagef(err, "allocating tensor %s on %q for transfer", src.Shape(), dst.Name())
	}
	if err = Transfer(t, src); err != nil {
		t.Finalize()
		return nil, err
	}
	return t, nil
}

// FromFlat creates a tensor on backend b with the given values and dimensions.
func FromFlat[T dtypes.Supported](b Backend, flat []T, dimensions ...int) (Tensor, error) {
	return b.TensorFromFlat(flat, dimensions...)
}

// ToFlat returns a copy of the values of the tensor t, which must have the dtype corresponding to T.
func ToFlat[T dtypes.Supported](t Tensor) ([]T, error) {
	flatAny, err := t.Backend().TensorToFlat(t)
	if err != nil {
		return nil, err
	}
	flat, ok := flatAny.([]T)
	if !ok {
		return nil, errors.Errorf("ToFlat: tensor has dtype %s, but %s was requested",
			t.Shape().DType, dtypes.FromGenericsType[T]())
	}
	return flat, nil
}
