// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// BuildFn defines the computation of a Function: it creates the parameters and returns the outputs.
type BuildFn func(f *Function) []*Node

// Build creates a Function named name using buildFn, and sets its outputs as the results.
//
// Errors while building (invalid shapes, mismatched dtypes, etc.) panic inside buildFn: they are
// caught here and returned as errors.
func Build(name string, buildFn BuildFn) (*Function, error) {
	f := NewFunction(name)
	err := exceptions.TryCatch[error](func() {
		outputs := buildFn(f)
		f.SetResults(outputs...)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build function %q", name)
	}
	return f, nil
}

// MustBuild is like Build, but panics on error.
func MustBuild(name string, buildFn BuildFn) *Function {
	f, err := Build(name, buildFn)
	if err != nil {
		panic(err)
	}
	return f
}
