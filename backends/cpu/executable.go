// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/kernels"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// stepFn computes one node, reading its inputs from values and writing its output to output.
type stepFn func(output any, values []any) error

// step of the execution plan.
type step struct {
	node   *graph.Node
	inputs []graph.NodeID
	fn     stepFn
}

// Executable is a plan of closures, one per computed node, in topological order.
type Executable struct {
	backend      *Backend
	name         string
	numNodes     int
	parameters   []graph.NodeID
	results      []graph.NodeID // The node each result reads from.
	steps        []step
	finalized    bool
	names        []string
	inputShapes  []shapes.Shape
	outputShapes []shapes.Shape

	// lastUse[nodeID] is the index of the last step using the node, or len(steps) if used by a result.
	lastUse []int

	// nodeDTypes[nodeID] is the dtype of the node's output.
	nodeDTypes []dtypes.DType
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// Compile implements backends.Backend.
//
// It fails if the function uses any op or dtype not listed in Capabilities.
func (b *Backend) Compile(fn *graph.Function) (backends.Executable, error) {
	if err := b.checkOk(); err != nil {
		return nil, err
	}
	if !fn.IsFinalized() {
		return nil, errors.Errorf("Compile: function %q is not finalized", fn.Name())
	}
	if err := Capabilities.CheckFunction(fn); err != nil {
		return nil, errors.WithMessagef(err, "%s backend", BackendName)
	}
	e := &Executable{
		backend:    b,
		name:       fn.Name(),
		numNodes:   fn.NumNodes(),
		lastUse:    make([]int, fn.NumNodes()),
		nodeDTypes: make([]dtypes.DType, fn.NumNodes()),
	}
	e.names, e.inputShapes, e.outputShapes = backends.FunctionSignature(fn)
	for _, param := range fn.Parameters() {
		e.parameters = append(e.parameters, param.ID())
	}
	for _, node := range fn.TopologicalOrder() {
		e.nodeDTypes[node.ID()] = node.DType()
		switch node.OpType() {
		case graph.OpTypeParameter:
			continue
		case graph.OpTypeResult:
			e.results = append(e.results, node.Inputs()[0].Node)
			continue
		default:
		}
		s := step{node: node}
		for _, in := range node.Inputs() {
			if in.Output != 0 {
				return nil, errors.Errorf("Compile: node %s uses output %d of a multi-output node", node, in.Output)
			}
			s.inputs = append(s.inputs, in.Node)
			e.lastUse[in.Node] = len(e.steps)
		}
		s.fn = b.stepFor(node, s.inputs)
		e.steps = append(e.steps, s)
	}
	for _, id := range e.results {
		e.lastUse[id] = len(e.steps)
	}
	klog.V(2).Infof("%s: compiled %q into %d steps", BackendName, fn.Name(), len(e.steps))
	return e, nil
}

// stepFor returns the closure that computes node: elementwise ops are split in chunks run by the workers,
// the others use the sequential kernels.
func (b *Backend) stepFor(node *graph.Node, inputs []graph.NodeID) stepFn {
	opType := node.OpType()
	if opType.IsElementwise() {
		size := node.Shape().Size()
		return func(output any, values []any) error {
			nodeInputs := make([]any, len(inputs))
			for i, id := range inputs {
				nodeInputs[i] = values[id]
			}
			return b.workers.ParallelFor(size, b.chunkSize, func(start, end int) error {
				// Chunks may run in other goroutines: runtime panics (integer division by zero) become errors here.
				var err error
				if caught := exceptions.TryCatch[error](func() {
					err = kernels.ElementwiseRange(opType, output, nodeInputs, start, end)
				}); caught != nil {
					return caught
				}
				return err
			})
		}
	}
	return func(output any, values []any) error {
		nodeInputs := make([]any, len(inputs))
		for i, id := range inputs {
			nodeInputs[i] = values[id]
		}
		return kernels.Eval(node, output, nodeInputs)
	}
}

// Finalize implements backends.Executable.
func (e *Executable) Finalize() {
	e.steps = nil
	e.finalized = true
}

// Inputs implements backends.Executable.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	return e.names, e.inputShapes
}

// Outputs implements backends.Executable.
func (e *Executable) Outputs() (outputShapes []shapes.Shape) {
	return e.outputShapes
}

// Execute implements backends.Executable.
//
// Intermediary values are taken from the backend's buffer pool and returned as soon as their last
// consumer is done. Outputs are written at the end, so an output tensor may also be used as input.
func (e *Executable) Execute(outputs, inputs []backends.Tensor) error {
	if e.finalized {
		return errors.New("Execute: executable has already been finalized")
	}
	if err := e.backend.checkOk(); err != nil {
		return err
	}
	if err := backends.CheckExecuteArgs(e.backend, outputs, inputs, e.outputShapes, e.inputShapes); err != nil {
		return err
	}
	values := make([]any, e.numNodes)
	owned := make([]bool, e.numNodes)
	for i, id := range e.parameters {
		values[id] = inputs[i].(*Buffer).flat
	}
	release := func(id graph.NodeID) {
		if owned[id] && values[id] != nil {
			e.backend.putFlat(e.nodeDTypes[id], values[id])
			values[id] = nil
		}
	}
	defer func() {
		for id := range values {
			release(graph.NodeID(id))
		}
	}()

	err := exceptions.TryCatch[error](func() {
		for stepIdx, s := range e.steps {
			shape := s.node.Shape()
			output := e.backend.getFlat(shape.DType, shape.Size())
			values[s.node.ID()] = output
			owned[s.node.ID()] = true
			if err := s.fn(output, values); err != nil {
				panic(errors.WithMessagef(err, "node %s", s.node))
			}
			for _, id := range s.inputs {
				if e.lastUse[id] == stepIdx {
					release(id)
				}
			}
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "%s: executing %q", BackendName, e.name)
	}
	for i, id := range e.results {
		copyFlat(outputs[i].(*Buffer).flat, values[id])
	}
	e.backend.numExecutions.Add(1)
	return nil
}
