// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/kernels"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executable holds a private copy of the compiled function and its evaluation order.
type Executable struct {
	backend      *Backend
	fn           *graph.Function
	order        []*graph.Node
	names        []string
	inputShapes  []shapes.Shape
	outputShapes []shapes.Shape
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// Compile implements backends.Backend.
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
	for _, node := range fn.Nodes() {
		for _, in := range node.Inputs() {
			if in.Output != 0 {
				return nil, errors.Errorf("Compile: node %s uses output %d of a multi-output node", node, in.Output)
			}
		}
	}
	e := &Executable{
		backend: b,
		fn:      fn.Clone(),
	}
	e.order = e.fn.TopologicalOrder()
	e.names, e.inputShapes, e.outputShapes = backends.FunctionSignature(e.fn)
	b.numCompilations.Add(1)
	klog.V(2).Infof("%s: compiled %q with %d nodes", BackendName, fn.Name(), len(e.order))
	return e, nil
}

// Finalize implements backends.Executable.
func (e *Executable) Finalize() {
	e.fn = nil
	e.order = nil
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
// Outputs are only written after all nodes are evaluated, so an output tensor may also be used as input.
func (e *Executable) Execute(outputs, inputs []backends.Tensor) error {
	if e.fn == nil {
		return errors.New("Execute: executable has already been finalized")
	}
	if err := e.backend.checkOk(); err != nil {
		return err
	}
	if err := backends.CheckExecuteArgs(e.backend, outputs, inputs, e.outputShapes, e.inputShapes); err != nil {
		return err
	}
	values := make([]any, e.fn.NumNodes())
	results := make([]any, len(outputs))
	err := exceptions.TryCatch[error](func() {
		for _, node := range e.order {
			switch node.OpType() {
			case graph.OpTypeParameter:
				values[node.ID()] = inputs[node.Data().(int)].(*Tensor).flat
			case graph.OpTypeResult:
				results[node.Data().(int)] = values[node.Inputs()[0].Node]
			default:
				output := node.Shape().MakeFlat()
				nodeInputs := make([]any, len(node.Inputs()))
				for i, in := range node.Inputs() {
					nodeInputs[i] = values[in.Node]
				}
				if err := kernels.Eval(node, output, nodeInputs); err != nil {
					panic(err)
				}
				values[node.ID()] = output
			}
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "%s: executing %q", BackendName, e.fn.Name())
	}
	for i, flat := range results {
		copyFlat(outputs[i].(*Tensor).flat, flat)
	}
	e.backend.numExecutions.Add(1)
	return nil
}
