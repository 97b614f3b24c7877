// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package placement defines Placement, the logical device class a node's computation runs on.
//
// Every node of a graph carries a Placement, initially Default (unassigned). A placement policy
// (see package partition) assigns concrete placements before the graph is split into
// placement-homogeneous sub-functions.
package placement

// Placement is a logical device class: CPU, GPU, Interpreter, etc.
type Placement int

//go:generate go tool enumer -type=Placement -trimprefix=Placement -text -json -output=gen_placement_enumer.go placement.go

const (
	// Default is the unassigned placement. No node should keep it after a placement pass with a total policy.
	Default Placement = iota

	// CPU is the native compiled CPU backend.
	CPU

	// GPU is a GPU backend, if one is registered.
	GPU

	// Interpreter is the reference (slow but complete) interpreter backend.
	Interpreter
)

// IsAssigned returns whether p is a concrete placement (not Default and a known value).
func (p Placement) IsAssigned() bool {
	return p != Default && p.IsAPlacement()
}

// BackendName returns the name of the backend registered for this placement by default.
// Default has no backend, and returns "".
func (p Placement) BackendName() string {
	switch p {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	case Interpreter:
		return "interpreter"
	default:
		return ""
	}
}
