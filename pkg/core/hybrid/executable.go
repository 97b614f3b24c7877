// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hybrid

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/internal/workerspool"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/partition"
	"github.com/gomlx/hybrid/pkg/core/passes"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrCompile is the cause of errors returned when a backend fails to compile a sub-function.
var ErrCompile = errors.New("hybrid compilation failed")

// CompileError is returned by Compile when the backend of a sub-function fails to compile it.
//
// errors.Is(err, ErrCompile) is true for any CompileError, and the backend's error is kept as its cause.
type CompileError struct {
	SubFunction int
	Placement   placement.Placement
	Backend     string
	Err         error
}

// Error implements error.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling sub-function %d on %s (backend %q): %v", e.SubFunction, e.Placement, e.Backend, e.Err)
}

// Unwrap returns the backend's error.
func (e *CompileError) Unwrap() error { return e.Err }

// Is makes any CompileError match ErrCompile.
func (e *CompileError) Is(target error) bool { return target == ErrCompile }

// Option configures Compile.
type Option func(*options)

type options struct {
	parallelism int
}

// WithParallelism sets the maximum number of sub-functions executed concurrently. 0 or 1 (the default)
// executes them sequentially, in order. A negative value means unlimited.
//
// Calls to the same backend are still serialized.
func WithParallelism(parallelism int) Option {
	return func(o *options) {
		o.parallelism = parallelism
	}
}

// compiledSubFunction is a sub-function compiled on the backend of its placement.
type compiledSubFunction struct {
	sub     *partition.SubFunction
	backend backends.Backend
	exec    backends.Executable

	// dependencies and dependents are the indices of the sub-functions it reads from and that read from it.
	dependencies, dependents []int
}

// Executable is a function split in sub-functions, each compiled on the backend of its placement.
//
// It implements backends.Executable, but unlike single backend executables it accepts input and output
// tensors from any backend: values are moved with backends.Transfer as needed.
type Executable struct {
	id       uuid.UUID
	fn       *graph.Function
	split    *partition.SplitResult
	subs     []*compiledSubFunction
	registry *Registry

	names        []string
	inputShapes  []shapes.Shape
	outputShapes []shapes.Shape

	// workers is nil for sequential execution.
	workers *workerspool.Pool

	// backendLocks serialize the calls to Execute of each backend.
	backendLocks map[backends.Backend]*sync.Mutex

	finalized     atomic.Bool
	numExecutions atomic.Int64
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// Compile assigns placements to a copy of fn with policy, splits it into placement-homogeneous
// sub-functions and compiles each of them on the backend returned by registry for its placement.
//
// fn itself is not changed. If any step fails, the sub-functions already compiled are finalized and the
// error is returned: partition.ErrPolicy, partition.ErrUnsupportedSplit, ErrBackendUnavailable or
// ErrCompile can be checked with errors.Is.
func Compile(registry *Registry, fn *graph.Function, policy partition.Policy, opts ...Option) (*Executable, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if !fn.IsFinalized() {
		return nil, errors.Errorf("hybrid.Compile: function %q is not finalized", fn.Name())
	}
	start := time.Now()
	e := &Executable{
		id:           uuid.New(),
		fn:           fn.Clone(),
		registry:     registry,
		backendLocks: make(map[backends.Backend]*sync.Mutex),
	}
	e.names, e.inputShapes, e.outputShapes = backends.FunctionSignature(e.fn)
	if _, err := passes.NewManager().Register(partition.AssignPlacement{Policy: policy}).Run(e.fn); err != nil {
		return nil, errors.WithMessagef(err, "hybrid.Compile(%q)", fn.Name())
	}
	split, err := partition.Split(e.fn)
	if err != nil {
		return nil, errors.WithMessagef(err, "hybrid.Compile(%q)", fn.Name())
	}
	e.split = split
	for _, sub := range split.SubFunctions {
		backend, err := registry.Backend(sub.Placement)
		if err != nil {
			e.Finalize()
			return nil, errors.WithMessagef(err, "hybrid.Compile(%q), sub-function %d", fn.Name(), sub.Index)
		}
		exec, err := backend.Compile(sub.Function)
		if err != nil {
			e.Finalize()
			return nil, errors.WithMessagef(
				&CompileError{SubFunction: sub.Index, Placement: sub.Placement, Backend: backend.Name(), Err: err},
				"hybrid.Compile(%q)", fn.Name())
		}
		e.subs = append(e.subs, &compiledSubFunction{
			sub:          sub,
			backend:      backend,
			exec:         exec,
			dependencies: split.Dependencies(sub.Index),
		})
		if _, found := e.backendLocks[backend]; !found {
			e.backendLocks[backend] = &sync.Mutex{}
		}
	}
	for i, compiled := range e.subs {
		for _, dep := range compiled.dependencies {
			e.subs[dep].dependents = append(e.subs[dep].dependents, i)
		}
	}
	if o.parallelism > 1 || o.parallelism < 0 {
		e.workers = workerspool.NewWithParallelism(o.parallelism)
	}
	klog.V(1).Infof("hybrid executable %s: compiled %q into %d sub-functions with %d boundary pairs in %s",
		e.id, fn.Name(), len(e.subs), len(split.Boundaries), time.Since(start))
	return e, nil
}

// ID is a unique identifier of the executable, used in logs.
func (e *Executable) ID() uuid.UUID { return e.id }

// Function returns the copy of the compiled function, with the placements assigned.
func (e *Executable) Function() *graph.Function { return e.fn }

// Split returns the sub-functions and boundary pairs of the compiled function.
func (e *Executable) Split() *partition.SplitResult { return e.split }

// Registry used to create the backends of the sub-functions.
func (e *Executable) Registry() *Registry { return e.registry }

// SubFunctionBackend returns the backend that compiled the i-th sub-function.
func (e *Executable) SubFunctionBackend(i int) backends.Backend { return e.subs[i].backend }

// NumExecutions returns the number of successful calls to Execute.
func (e *Executable) NumExecutions() int64 { return e.numExecutions.Load() }

// IsParallel returns whether independent sub-functions are executed concurrently.
func (e *Executable) IsParallel() bool { return e.workers != nil }

// Finalize the executables of all sub-functions. The backends are owned by the registry, and are not finalized.
func (e *Executable) Finalize() {
	if e.finalized.Swap(true) {
		return
	}
	for _, compiled := range e.subs {
		compiled.exec.Finalize()
	}
	e.subs = nil
}

// Inputs implements backends.Executable.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	return e.names, e.inputShapes
}

// Outputs implements backends.Executable.
func (e *Executable) Outputs() (outputShapes []shapes.Shape) {
	return e.outputShapes
}

// Execute implements backends.Executable: it runs the sub-functions in order (or concurrently,
// see WithParallelism), moving values between backends as needed.
//
// inputs and outputs can be owned by any backend. Temporary tensors are finalized before returning.
func (e *Executable) Execute(outputs, inputs []backends.Tensor) error {
	if e.finalized.Load() {
		return errors.Errorf("hybrid executable %s (%q) has already been finalized", e.id, e.fn.Name())
	}
	if err := e.checkArgs(outputs, inputs); err != nil {
		return errors.WithMessagef(err, "hybrid executable %s (%q)", e.id, e.fn.Name())
	}
	start := time.Now()
	x := &execution{
		e:           e,
		outputs:     outputs,
		inputs:      inputs,
		inputCopies: make(map[inputCopyKey]backends.Tensor),
		sinks:       make(map[partition.Endpoint]backends.Tensor),
	}
	defer x.finalizeTemporaries()

	err := x.copyAliasedInputs()
	if err != nil {
		return errors.WithMessagef(err, "hybrid executable %s (%q)", e.id, e.fn.Name())
	}
	if e.workers == nil {
		for i := range e.subs {
			if err = x.run(i); err != nil {
				break
			}
		}
	} else {
		err = x.runParallel()
	}
	if err == nil {
		err = x.copyPassThrough()
	}
	if err != nil {
		return errors.WithMessagef(err, "hybrid executable %s (%q)", e.id, e.fn.Name())
	}
	e.numExecutions.Add(1)
	if klog.V(1).Enabled() {
		klog.Infof("hybrid executable %s: executed %q in %s, %d boundary transfers (%s)",
			e.id, e.fn.Name(), time.Since(start), x.numTransfers.Load(), humanize.Bytes(uint64(x.bytesTransferred.Load())))
	}
	return nil
}

// checkArgs validates the number and shapes of the inputs and outputs.
func (e *Executable) checkArgs(outputs, inputs []backends.Tensor) error {
	if len(inputs) != len(e.inputShapes) {
		return errors.Errorf("Execute: %d inputs given, %d expected", len(inputs), len(e.inputShapes))
	}
	if len(outputs) != len(e.outputShapes) {
		return errors.Errorf("Execute: %d outputs given, %d expected", len(outputs), len(e.outputShapes))
	}
	check := func(kind string, i int, t backends.Tensor, want shapes.Shape) error {
		if t == nil {
			return errors.Errorf("Execute: %s #%d is nil", kind, i)
		}
		if !t.Shape().Equal(want) {
			return errors.Errorf("Execute: %s #%d has shape %s, expected %s", kind, i, t.Shape(), want)
		}
		return nil
	}
	for i, t := range inputs {
		if err := check("input", i, t, e.inputShapes[i]); err != nil {
			return err
		}
	}
	for i, t := range outputs {
		if err := check("output", i, t, e.outputShapes[i]); err != nil {
			return err
		}
	}
	return nil
}

type inputCopyKey struct {
	input   int
	backend backends.Backend
}

// execution holds the state of one call to Executable.Execute.
type execution struct {
	e               *Executable
	outputs, inputs []backends.Tensor

	mu          sync.Mutex
	inputCopies map[inputCopyKey]backends.Tensor
	sinks       map[partition.Endpoint]backends.Tensor
	temporaries []backends.Tensor

	numTransfers, bytesTransferred atomic.Int64
}

func (x *execution) addTemporary(t backends.Tensor) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.temporaries = append(x.temporaries, t)
}

func (x *execution) finalizeTemporaries() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, t := range x.temporaries {
		t.Finalize()
	}
	x.temporaries = nil
}

// transferTo returns a copy of src owned by backend, registered as a temporary.
func (x *execution) transferTo(backend backends.Backend, src backends.Tensor) (backends.Tensor, error) {
	dst, err := backends.TransferTo(backend, src)
	if err != nil {
		return nil, err
	}
	x.addTemporary(dst)
	x.numTransfers.Add(1)
	x.bytesTransferred.Add(int64(src.Shape().Memory()))
	return dst, nil
}

// copyAliasedInputs replaces the inputs that are also given as outputs by copies on the same backend, so
// that the sub-functions writing the outputs don't change the values read by later ones.
func (x *execution) copyAliasedInputs() error {
	var copied []backends.Tensor
	for i, in := range x.inputs {
		if !slices.Contains(x.outputs, in) {
			continue
		}
		t, err := backends.TransferTo(in.Backend(), in)
		if err != nil {
			return errors.WithMessagef(err, "copying input #%d, also used as an output", i)
		}
		x.addTemporary(t)
		if copied == nil {
			copied = slices.Clone(x.inputs)
		}
		copied[i] = t
	}
	if copied != nil {
		x.inputs = copied
	}
	return nil
}

// input returns the original input #idx owned by backend, transferring it on first use.
func (x *execution) input(idx int, backend backends.Backend) (backends.Tensor, error) {
	t := x.inputs[idx]
	if t.Backend() == backend {
		return t, nil
	}
	key := inputCopyKey{input: idx, backend: backend}
	x.mu.Lock()
	defer x.mu.Unlock()
	if copied, found := x.inputCopies[key]; found {
		return copied, nil
	}
	copied, err := backends.TransferTo(backend, t)
	if err != nil {
		return nil, errors.WithMessagef(err, "input #%d", idx)
	}
	x.temporaries = append(x.temporaries, copied)
	x.inputCopies[key] = copied
	x.numTransfers.Add(1)
	x.bytesTransferred.Add(int64(t.Shape().Memory()))
	return copied, nil
}

// run executes the sub-function subIdx: its boundary sources must have been produced already.
func (x *execution) run(subIdx int) error {
	compiled := x.e.subs[subIdx]
	sub := compiled.sub
	backend := compiled.backend

	params := sub.Function.Parameters()
	inputs := make([]backends.Tensor, len(params))
	for i, param := range params {
		var err error
		if origin := sub.InputOrigins[i]; origin != partition.NotOriginal {
			inputs[i], err = x.input(origin, backend)
		} else {
			inputs[i], err = x.source(partition.Endpoint{SubFunction: subIdx, Node: param.ID()}, backend)
		}
		if err != nil {
			return errors.WithMessagef(err, "sub-function %d (%s), parameter %s", subIdx, sub.Placement, param)
		}
	}

	// Outputs owned by other backends are computed in local tensors, and copied afterward.
	results := sub.Function.Results()
	outputs := make([]backends.Tensor, len(results))
	copyBack := make(map[int]backends.Tensor)
	sinks := make(map[partition.Endpoint]int)
	for i, result := range results {
		origin := sub.OutputOrigins[i]
		if origin != partition.NotOriginal && x.outputs[origin].Backend() == backend {
			outputs[i] = x.outputs[origin]
			continue
		}
		t, err := backend.NewTensor(result.Shape())
		if err != nil {
			return errors.WithMessagef(err, "sub-function %d (%s), result %s", subIdx, sub.Placement, result)
		}
		x.addTemporary(t)
		outputs[i] = t
		if origin != partition.NotOriginal {
			copyBack[i] = x.outputs[origin]
		} else {
			sinks[partition.Endpoint{SubFunction: subIdx, Node: result.ID()}] = i
		}
	}

	lock := x.e.backendLocks[backend]
	lock.Lock()
	err := compiled.exec.Execute(outputs, inputs)
	lock.Unlock()
	if err != nil {
		return errors.WithMessagef(err, "sub-function %d (%s)", subIdx, sub.Placement)
	}

	for i, dst := range copyBack {
		if err := backends.Transfer(dst, outputs[i]); err != nil {
			return errors.WithMessagef(err, "sub-function %d (%s), output #%d", subIdx, sub.Placement, sub.OutputOrigins[i])
		}
	}
	x.mu.Lock()
	for sink, i := range sinks {
		x.sinks[sink] = outputs[i]
	}
	x.mu.Unlock()
	return nil
}

// source returns the tensor for the boundary source, owned by backend.
func (x *execution) source(source partition.Endpoint, backend backends.Backend) (backends.Tensor, error) {
	sink, found := x.e.split.Boundaries[source]
	if !found {
		return nil, errors.Errorf("boundary source %s has no sink", source)
	}
	x.mu.Lock()
	t, found := x.sinks[sink]
	x.mu.Unlock()
	if !found {
		return nil, errors.Errorf("boundary source %s: sink %s was not computed yet", source, sink)
	}
	if t.Backend() == backend {
		return t, nil
	}
	return x.transferTo(backend, t)
}

// copyPassThrough copies the inputs that are directly outputs of the function.
func (x *execution) copyPassThrough() error {
	for resultIdx, paramIdx := range x.e.split.PassThrough {
		if err := backends.Transfer(x.outputs[resultIdx], x.inputs[paramIdx]); err != nil {
			return errors.WithMessagef(err, "output #%d (input #%d)", resultIdx, paramIdx)
		}
	}
	return nil
}

// runParallel executes the sub-functions as soon as the ones they depend on are done, using the
// executable's workers.
func (x *execution) runParallel() error {
	subs := x.e.subs
	if len(subs) == 0 {
		return nil
	}
	var (
		readyToExecute chan int // protected by execMu
		collectErrors  []error  // protected by execMu
		execMu         sync.Mutex
		wg             sync.WaitGroup
	)
	readyToExecute = make(chan int, len(subs))
	stopExecutionFn := sync.OnceFunc(func() { close(readyToExecute) }) // Can be called concurrently.

	// completed is the number of sub-functions executed.
	completed := 0
	remainingDeps := make([]int, len(subs))
	for i, compiled := range subs {
		remainingDeps[i] = len(compiled.dependencies)
		if remainingDeps[i] == 0 {
			readyToExecute <- i
		}
	}

	interrupted := func() bool {
		execMu.Lock()
		defer execMu.Unlock()
		return len(collectErrors) > 0
	}
	for subIdx := range readyToExecute {
		if interrupted() {
			// Sub-functions left in the channel after it is closed are not started.
			break
		}
		subExecFn := func() {
			defer wg.Done()
			if interrupted() {
				// Failed while waiting for a free worker.
				return
			}
			err := x.run(subIdx)

			execMu.Lock()
			defer execMu.Unlock()
			if err != nil {
				collectErrors = append(collectErrors, err)
				stopExecutionFn()
				return
			}
			if len(collectErrors) > 0 {
				// Interrupted anyway.
				return
			}
			completed++
			if completed == len(subs) {
				stopExecutionFn()
				return
			}
			for _, depIdx := range subs[subIdx].dependents {
				remainingDeps[depIdx]--
				if remainingDeps[depIdx] == 0 {
					readyToExecute <- depIdx
				}
			}
		}
		wg.Add(1)
		x.e.workers.Start(subExecFn)
	}

	// Sub-functions already started may still be using the temporaries.
	wg.Wait()
	if len(collectErrors) > 0 {
		return collectErrors[0]
	}
	return nil
}

// String returns a summary of the sub-functions and their backends.
func (e *Executable) String() string {
	if e.finalized.Load() {
		return fmt.Sprintf("hybrid executable %s (%q): finalized", e.id, e.fn.Name())
	}
	s := fmt.Sprintf("hybrid executable %s (%q): %d sub-functions", e.id, e.fn.Name(), len(e.subs))
	for _, compiled := range e.subs {
		s += fmt.Sprintf("\n  [%d] %s on %q, depends on %v", compiled.sub.Index, compiled.sub.Placement,
			compiled.backend.Name(), compiled.dependencies)
	}
	return s
}
