// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interpreter implements the reference backend: it supports every op of package graph and
// evaluates a function sequentially, one node at a time, on Go slices.
//
// It is registered as "interpreter".
package interpreter

import (
	"strings"
	"sync/atomic"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/kernels"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
)

// BackendName to be used in GOMLX_BACKEND to specify this backend.
const BackendName = "interpreter"

func init() {
	backends.Register(BackendName, New)
}

// Capabilities of the interpreter backend: all ops and the dtypes supported by package kernels.
var Capabilities = backends.Capabilities{
	Operations: make(map[graph.OpType]bool),
	DTypes:     make(map[dtypes.DType]bool),
}

func init() {
	for _, op := range graph.OpTypeValues() {
		if op != graph.OpTypeInvalid && op != graph.OpTypeLast {
			Capabilities.Operations[op] = true
		}
	}
	for dtype, supported := range kernels.SupportedDTypes {
		Capabilities.DTypes[dtype] = supported
	}
}

// Backend implements backends.Backend.
type Backend struct {
	numCompilations atomic.Int64
	numExecutions   atomic.Int64
	isFinalized     atomic.Bool
}

// Compile-time check that interpreter.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// New constructs a new interpreter Backend. It accepts no configuration options.
func New(config string) (backends.Backend, error) {
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		return nil, errors.Errorf("unknown configuration option %q for the %s backend", part, BackendName)
	}
	return &Backend{}, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string {
	return BackendName
}

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Reference interpreter: sequential evaluation in Go"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities
}

// NumCompilations returns the number of functions compiled by this backend so far.
func (b *Backend) NumCompilations() int {
	return int(b.numCompilations.Load())
}

// NumExecutions returns the number of executions run by this backend so far.
func (b *Backend) NumExecutions() int {
	return int(b.numExecutions.Load())
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.isFinalized.Store(true)
}

// IsFinalized returns whether Finalize was called.
func (b *Backend) IsFinalized() bool {
	return b.isFinalized.Load()
}

func (b *Backend) checkOk() error {
	if b.IsFinalized() {
		return errors.Errorf("backend %q has already been finalized", BackendName)
	}
	return nil
}

// IsHostMemory implements backends.HostMemoryBackend: tensors are Go slices.
func (b *Backend) IsHostMemory() bool {
	return true
}
