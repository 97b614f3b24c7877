// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hybrid compiles and executes functions whose nodes are placed on different backends.
//
// Compile assigns placements with a partition.Policy, splits the function into placement-homogeneous
// sub-functions and compiles each one on the backend of its placement, provided by a Registry. The
// resulting Executable runs the sub-functions in dependency order, moving the boundary values between
// backends with backends.Transfer.
//
// The package also registers a backend named "hybrid" (see Backend), whose configuration is the
// placement policy, e.g. "hybrid:Multiply=cpu,*=interpreter".
package hybrid

import (
	"fmt"

	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/partition"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
)

// BackendName to be used in GOMLX_BACKEND to select the hybrid backend.
const BackendName = "hybrid"

// DefaultPolicy is used by New when the configuration is empty.
const DefaultPolicy = "*=interpreter"

func init() {
	backends.Register(BackendName, New)
}

// Backend implements backends.Backend by compiling functions with Compile.
//
// Its tensors are created by the backend of TensorPlacement (the interpreter by default), but Execute
// accepts tensors of any backend.
type Backend struct {
	registry        *Registry
	policy          partition.Policy
	policyConfig    string
	opts            []Option
	TensorPlacement placement.Placement
}

// Compile-time check.
var _ backends.Backend = (*Backend)(nil)

// New constructs a hybrid Backend, whose configuration is an op type placement policy, in the format of
// partition.ParseOpTypePolicy. The per-placement backends are configured with the environment variable
// GOMLX_HYBRID.
func New(config string) (backends.Backend, error) {
	if config == "" {
		config = DefaultPolicy
	}
	policy, err := partition.ParseOpTypePolicy(config)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	b := NewBackend(registry, policy)
	b.policyConfig = policy.String()
	return b, nil
}

// NewBackend returns a hybrid Backend using the given registry and policy. The options are used for every
// compilation.
func NewBackend(registry *Registry, policy partition.Policy, opts ...Option) *Backend {
	return &Backend{
		registry:        registry,
		policy:          policy,
		policyConfig:    fmt.Sprintf("%T", policy),
		opts:            opts,
		TensorPlacement: placement.Interpreter,
	}
}

// Registry of the backends of each placement.
func (b *Backend) Registry() *Registry { return b.registry }

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return fmt.Sprintf("Hybrid: placement policy %q, tensors on %s", b.policyConfig, b.TensorPlacement)
}

// tensorBackend returns the backend where tensors are created.
func (b *Backend) tensorBackend() (backends.Backend, error) {
	return b.registry.Backend(b.TensorPlacement)
}

// Capabilities implements backends.Backend: they are the ones of the backend of TensorPlacement, since
// the policy may place any node there. It is empty if that backend is not available.
func (b *Backend) Capabilities() backends.Capabilities {
	backend, err := b.tensorBackend()
	if err != nil {
		return backends.Capabilities{}
	}
	return backend.Capabilities().Clone()
}

// Compile implements backends.Backend.
func (b *Backend) Compile(fn *graph.Function) (backends.Executable, error) {
	exec, err := Compile(b.registry, fn, b.policy, b.opts...)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// Finalize implements backends.Backend: it finalizes all the backends created by the registry.
func (b *Backend) Finalize() {
	b.registry.Finalize()
}

// NewTensor implements backends.DataInterface.
func (b *Backend) NewTensor(shape shapes.Shape) (backends.Tensor, error) {
	backend, err := b.tensorBackend()
	if err != nil {
		return nil, err
	}
	return backend.NewTensor(shape)
}

// TensorFromFlat implements backends.DataInterface.
func (b *Backend) TensorFromFlat(flat any, dimensions ...int) (backends.Tensor, error) {
	backend, err := b.tensorBackend()
	if err != nil {
		return nil, err
	}
	return backend.TensorFromFlat(flat, dimensions...)
}

// TensorToFlat implements backends.DataInterface: t can be owned by any backend.
func (b *Backend) TensorToFlat(t backends.Tensor) (any, error) {
	if t == nil || t.Backend() == nil {
		return nil, errors.New("TensorToFlat: nil tensor")
	}
	return t.Backend().TensorToFlat(t)
}

// CopyFromFlat implements backends.DataInterface: dst can be owned by any backend.
func (b *Backend) CopyFromFlat(dst backends.Tensor, flat any) error {
	if dst == nil || dst.Backend() == nil {
		return errors.New("CopyFromFlat: nil tensor")
	}
	return dst.Backend().CopyFromFlat(dst, flat)
}

// CopyTensor implements backends.DataInterface: dst and src can be owned by any backends.
func (b *Backend) CopyTensor(dst, src backends.Tensor) error {
	return backends.Transfer(dst, src)
}
