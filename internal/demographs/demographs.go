// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package demographs holds small graphs of [2, 2] float32 parameters that exercise the partitioning of
// a function between backends, along with their inputs and expected results.
package demographs

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/pkg/errors"
)

// MulOnCPUPolicy places multiplications on the cpu and everything else on the interpreter, in the
// format of partition.ParseOpTypePolicy.
const MulOnCPUPolicy = "Multiply=cpu,*=interpreter"

// Dimensions of all parameters and results.
var Dimensions = []int{2, 2}

// Demo is a named graph with inputs and expected output.
type Demo struct {
	Name string

	// Diagram of the graph, for printing.
	Diagram string

	// Build the function: the parameters are all float32 with Dimensions.
	Build BuildFn

	Inputs [][]float32
	Want   []float32
}

var (
	valuesA = []float32{1, 2, 3, 4}
	valuesB = []float32{5, 6, 7, 8}
	valuesC = []float32{9, 10, 11, 12}
	valuesD = []float32{13, 14, 15, 16}
)

func parameters(f *Function, names ...string) []*Node {
	params := make([]*Node, len(names))
	for i, name := range names {
		params[i] = f.Parameter(name, shapes.Make(dtypes.Float32, Dimensions...))
	}
	return params
}

// All demos, in the order they are listed by the CLI.
var All = []Demo{
	{
		Name:    "abc",
		Diagram: "D=A+B; E=D*C",
		Build: func(f *Function) []*Node {
			p := parameters(f, "A", "B", "C")
			d := Add(p[0], p[1])
			return []*Node{Mul(d, p[2])}
		},
		Inputs: [][]float32{valuesA, valuesB, valuesC},
		Want:   []float32{54, 80, 110, 144},
	},
	{
		Name:    "abcd",
		Diagram: "E=A*B; F=C+E; G=E+D; H=F+G",
		Build: func(f *Function) []*Node {
			p := parameters(f, "A", "B", "C", "D")
			e := Mul(p[0], p[1])
			return []*Node{Add(Add(p[2], e), Add(e, p[3]))}
		},
		Inputs: [][]float32{valuesA, valuesB, valuesC, valuesD},
		Want:   []float32{32, 48, 68, 92},
	},
	{
		Name:    "back_and_forth",
		Diagram: "D=A*B; E=D+B; F=E*C",
		Build: func(f *Function) []*Node {
			p := parameters(f, "A", "B", "C")
			d := Mul(p[0], p[1])
			e := Add(d, p[1])
			return []*Node{Mul(e, p[2])}
		},
		Inputs: [][]float32{valuesA, valuesB, valuesC},
		Want:   []float32{90, 180, 308, 480},
	},
	{
		Name:    "multi_middle",
		Diagram: "D=A+B; E=B+C; F=D*E; G=E*C; H=F+G",
		Build: func(f *Function) []*Node {
			p := parameters(f, "A", "B", "C")
			d := Add(p[0], p[1])
			e := Add(p[1], p[2])
			return []*Node{Add(Mul(d, e), Mul(e, p[2]))}
		},
		Inputs: [][]float32{valuesA, valuesB, valuesC},
		Want:   []float32{210, 288, 378, 480},
	},
	{
		Name:    "no_split",
		Diagram: "C=A+B",
		Build: func(f *Function) []*Node {
			p := parameters(f, "A", "B")
			return []*Node{Add(p[0], p[1])}
		},
		Inputs: [][]float32{valuesA, valuesB},
		Want:   []float32{6, 8, 10, 12},
	},
}

// Names of all demos.
func Names() []string {
	names := make([]string, len(All))
	for i, demo := range All {
		names[i] = demo.Name
	}
	return names
}

// Get returns the demo with the given name.
func Get(name string) (Demo, error) {
	idx := slices.IndexFunc(All, func(d Demo) bool { return d.Name == name })
	if idx == -1 {
		return Demo{}, errors.Errorf("unknown demo graph %q, valid values are %q", name, Names())
	}
	return All[idx], nil
}

// Function builds the demo's function.
func (d Demo) Function() (*Function, error) {
	return Build(d.Name, d.Build)
}
