// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements a backend that runs elementwise ops in parallel chunks on a pool of workers.
//
// It keeps its own tensors (pooled Go buffers), and supports a narrower set of ops and dtypes than the
// interpreter: no Pad and no Float16.
//
// It is registered as "cpu" and accepts the comma-separated configuration options:
//
//   - "workers=<n>": maximum parallelism, 0 to disable it, -1 for unlimited. Default is runtime.NumCPU().
//   - "chunk=<n>": number of elements processed per task for elementwise ops. Default is 4096.
package cpu

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/internal/workerspool"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
)

// BackendName to be used in GOMLX_BACKEND to specify this backend.
const BackendName = "cpu"

// DefaultChunkSize is the default number of elements per parallel task of elementwise ops.
const DefaultChunkSize = 4096

func init() {
	backends.Register(BackendName, New)
}

// Capabilities of the cpu backend.
var Capabilities = backends.Capabilities{
	Operations: map[graph.OpType]bool{
		graph.OpTypeParameter: true,
		graph.OpTypeConstant:  true,
		graph.OpTypeResult:    true,
		graph.OpTypeIdentity:  true,
		graph.OpTypeAdd:       true,
		graph.OpTypeSubtract:  true,
		graph.OpTypeMultiply:  true,
		graph.OpTypeDivide:    true,
		graph.OpTypeMaximum:   true,
		graph.OpTypeMinimum:   true,
		graph.OpTypeNegate:    true,
		graph.OpTypeAbs:       true,
		graph.OpTypeSqrt:      true,
		graph.OpTypeBroadcast: true,
		graph.OpTypeReduceSum: true,
	},
	DTypes: map[dtypes.DType]bool{
		dtypes.Float32: true,
		dtypes.Float64: true,
		dtypes.Int32:   true,
		dtypes.Int64:   true,
	},
}

// Backend implements backends.Backend.
type Backend struct {
	workers   *workerspool.Pool
	chunkSize int

	// bufferPools are a map to pools of buffers that can be reused.
	// The underlying type is map[bufferPoolKey]*sync.Pool.
	bufferPools sync.Map

	numExecutions atomic.Int64
	isFinalized   atomic.Bool
}

// Compile-time checks that cpu.Backend implements the backends interfaces.
var (
	_ backends.Backend           = &Backend{}
	_ backends.PeerCopier        = &Backend{}
	_ backends.HostMemoryBackend = &Backend{}
)

// New constructs a new cpu Backend. See package documentation for the configuration options.
func New(config string) (backends.Backend, error) {
	b := &Backend{
		workers:   workerspool.New(),
		chunkSize: DefaultChunkSize,
	}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Errorf("invalid configuration option %q for the %s backend, expected <key>=<value>", part, BackendName)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value for configuration option %q of the %s backend", key, BackendName)
		}
		switch key {
		case "workers":
			b.workers.SetMaxParallelism(n)
		case "chunk":
			if n <= 0 {
				return nil, errors.Errorf("configuration option chunk=%d must be > 0", n)
			}
			b.chunkSize = n
		default:
			return nil, errors.Errorf("unknown configuration option %q for the %s backend", part, BackendName)
		}
	}
	return b, nil
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
	parallelism := "unlimited"
	if p := b.workers.MaxParallelism(); p >= 0 {
		parallelism = strconv.Itoa(p)
	}
	return "CPU: parallel elementwise kernels (max parallelism " + parallelism + ", GOMAXPROCS " +
		strconv.Itoa(runtime.GOMAXPROCS(0)) + ")"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities
}

// MaxParallelism returns the configured maximum parallelism.
func (b *Backend) MaxParallelism() int {
	return b.workers.MaxParallelism()
}

// ChunkSize returns the number of elements processed per parallel task.
func (b *Backend) ChunkSize() int {
	return b.chunkSize
}

// NumExecutions returns the number of executions run by this backend so far.
func (b *Backend) NumExecutions() int {
	return int(b.numExecutions.Load())
}

// IsHostMemory implements backends.HostMemoryBackend.
func (b *Backend) IsHostMemory() bool {
	return true
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.isFinalized.Store(true)
	b.bufferPools.Clear()
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
