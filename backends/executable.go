// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Executable is the API for compiled programs ready to execute.
type Executable interface {
	// Finalize immediately frees resources associated to the executable.
	Finalize()

	// Inputs returns the list of parameters names and shapes, in the order of the function parameters.
	Inputs() (names []string, inputShapes []shapes.Shape)

	// Outputs returns the list of the shapes of the outputs of the computation, in the order of the function results.
	Outputs() (outputShapes []shapes.Shape)

	// Execute the executable with the given input tensors, writing the results to the given output tensors.
	//
	// All tensors must be owned by the backend that compiled the executable, and their number and shapes must
	// match those returned by Inputs and Outputs. An output tensor may also be given as an input.
	Execute(outputs, inputs []Tensor) error
}

// FunctionSignature returns the parameter names, parameter shapes and result shapes of fn.
// It's a helper for implementations of Executable.Inputs and Executable.Outputs.
func FunctionSignature(fn *graph.Function) (names []string, inputShapes, outputShapes []shapes.Shape) {
	for _, param := range fn.Parameters() {
		names = append(names, param.Name())
		inputShapes = append(inputShapes, param.Shape())
	}
	for _, result := range fn.Results() {
		outputShapes = append(outputShapes, result.Shape())
	}
	return
}

// CheckExecuteArgs verifies that outputs and inputs match the given shapes and are owned by backend.
func CheckExecuteArgs(backend Backend, outputs, inputs []Tensor, outputShapes, inputShapes []shapes.Shape) error {
	if len(inputs) != len(inputShapes) {
		return errors.Errorf("Execute: %d inputs given, but %d required", len(inputs), len(inputShapes))
	}
	if len(outputs) != len(outputShapes) {
		return errors.Errorf("Execute: %d outputs given, but %d required", len(outputs), len(outputShapes))
	}
	check := func(kind string, i int, t Tensor, want shapes.Shape) error {
		if t == nil {
			return errors.Errorf("Execute: %s #%d is nil", kind, i)
		}
		if t.Backend() != backend {
			return errors.Errorf("Execute: %s #%d is owned by backend %q, not %q", kind, i, t.Backend().Name(), backend.Name())
		}
		if !t.Shape().Equal(want) {
			return errors.Errorf("Execute: %s #%d has shape %s, but %s is required", kind, i, t.Shape(), want)
		}
		return nil
	}
	for i, t := range inputs {
		if err := check("input", i, t, inputShapes[i]); err != nil {
			return err
		}
	}
	for i, t := range outputs {
		if err := check("output", i, t, outputShapes[i]); err != nil {
			return err
		}
	}
	return nil
}
