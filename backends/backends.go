// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a computation backend needs to implement: allocate tensors
// in its own memory space, compile a graph.Function into an Executable and execute it.
//
// Backends register a Constructor under a name (see Register), and are created with New or NewWithConfig.
// Tensors are owned by the backend that created them: moving values between backends always goes
// through Transfer.
//
// Unlike graph building, backends return errors instead of panicking.
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Backend is the API that needs to be implemented by a backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "interpreter".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns the operations and dtypes supported by the backend.
	Capabilities() Capabilities

	// DataInterface is the sub-interface that defines the API to create tensors and move data in and out of them.
	DataInterface

	// Compile the function into an Executable. It fails if the function uses any op or dtype not
	// supported by the backend.
	Compile(fn *graph.Function) (Executable, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Tensor is a buffer with a shape, owned by the backend that created it.
type Tensor interface {
	// Shape of the tensor.
	Shape() shapes.Shape

	// Backend that owns the tensor.
	Backend() Backend

	// Finalize releases the tensor's memory immediately. The tensor must not be used afterward.
	Finalize()
}

// DataInterface is the Backend's subinterface that defines the API to create tensors and transfer data to/from them.
type DataInterface interface {
	// NewTensor allocates a tensor of the given shape, initialized with zeros.
	NewTensor(shape shapes.Shape) (Tensor, error)

	// TensorFromFlat creates a tensor with the values in flat, a slice of the Go type of the dtype
	// ([]float32, []int64, etc.) with as many elements as the given dimensions require.
	TensorFromFlat(flat any, dimensions ...int) (Tensor, error)

	// TensorToFlat returns a copy of the values of the tensor, as a flat slice of the Go type of the dtype.
	TensorToFlat(t Tensor) (flat any, err error)

	// CopyFromFlat overwrites the contents of the tensor dst with the values in flat, which must have the
	// tensor's dtype and size.
	CopyFromFlat(dst Tensor, flat any) error

	// CopyTensor copies src into dst, both owned by this backend and with the same shape.
	CopyTensor(dst, src Tensor) error
}

// PeerCopier is optionally implemented by backends that can copy directly from tensors owned by some other
// backends (e.g.: because they share the same address space), without an intermediary host buffer.
type PeerCopier interface {
	// CanCopyFrom returns whether tensors owned by src can be copied directly.
	CanCopyFrom(src Backend) bool

	// CopyFromPeer copies src (owned by another backend) to dst (owned by the PeerCopier). Shapes must match.
	CopyFromPeer(dst, src Tensor) error
}

// HostTensor is optionally implemented by tensors stored in Go memory, whose flat data can be read directly.
type HostTensor interface {
	Tensor

	// Flat returns the underlying flat slice: it must not be changed or retained.
	Flat() any
}

// HostMemoryBackend is optionally implemented by backends whose tensors all live in Go memory and
// implement HostTensor.
type HostMemoryBackend interface {
	Backend

	// IsHostMemory returns whether all tensors of the backend are HostTensor.
	IsHostMemory() bool
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered returns whether a backend with the given name was registered.
func IsRegistered(name string) bool {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	_, found := registeredConstructors[name]
	return found
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// GOMLX_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "interpreter") and
// "<backend_configuration>" is backend specific (e.g.: for the "cpu" backend, "workers=4").
const GOMLX_BACKEND = "GOMLX_BACKEND" //nolint

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment GOMLX_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It returns an error if no backend was registered.
func New() (Backend, error) {
	config, found := os.LookupEnv(GOMLX_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// SplitConfig splits a configuration string formatted as "<backend_name>:<backend_configuration>".
// If there is no ":", the whole config is taken as the backend name.
func SplitConfig(config string) (backendName, backendConfig string) {
	backendName = config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	return
}

// NewWithConfig takes a configurations string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "cpu") and
// "<backend_configuration>" is backend specific. If config is empty, DefaultConfig is used, or if that is
// also empty, the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered backends -- maybe import the default ones with import _ "github.com/gomlx/hybrid/backends/default"?`)
	}
	backendName, backendConfig := SplitConfig(config)
	if backendName == "" {
		if DefaultConfig != "" {
			backendName, backendConfig = SplitConfig(DefaultConfig)
		} else {
			backendName = firstRegistered
		}
	}
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q with configuration %q", backendName, backendConfig)
	}
	return backend, nil
}
