// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/gomlx/hybrid/pkg/core/shapes"
)

// NodeID is the index of a Node within its Function arena.
type NodeID int

// InvalidNodeID is returned where no node applies.
const InvalidNodeID NodeID = -1

// Value identifies one output of a node: the edges of the computation graph are Values.
type Value struct {
	Node   NodeID
	Output int
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.Output == 0 {
		return fmt.Sprintf("#%d", v.Node)
	}
	return fmt.Sprintf("#%d.%d", v.Node, v.Output)
}

// Node represents one operation of a Function.
//
// Nodes refer to their inputs by NodeID only: the owning Function is the arena that holds them. A Node's
// structure (op, inputs, shapes) is fixed at creation, only its placement can be changed afterward.
type Node struct {
	function     *Function
	id           NodeID
	opType       OpType
	name         string
	inputs       []Value
	outputShapes []shapes.Shape
	placement    placement.Placement

	// data holds op specific static parameters (the flat values of a constant, the axes of a reduction, etc.)
	data any
}

// Function that owns the node.
func (n *Node) Function() *Function {
	if n == nil {
		return nil
	}
	return n.function
}

// ID of the node within its Function.
func (n *Node) ID() NodeID {
	return n.id
}

// OpType of the operation the node represents.
func (n *Node) OpType() OpType {
	return n.opType
}

// Name of the node: set for parameters (and optionally other nodes), empty otherwise.
func (n *Node) Name() string {
	return n.name
}

// SetName sets a name for the node, used only for printing.
func (n *Node) SetName(name string) {
	n.name = name
}

// Inputs returns the values the node consumes. The returned slice must not be changed.
func (n *Node) Inputs() []Value {
	return n.inputs
}

// InputNode returns the node producing the i-th input.
func (n *Node) InputNode(i int) *Node {
	return n.function.Node(n.inputs[i].Node)
}

// NumOutputs returns the number of outputs of the node.
func (n *Node) NumOutputs() int {
	return len(n.outputShapes)
}

// OutputShape returns the shape of the i-th output.
func (n *Node) OutputShape(i int) shapes.Shape {
	return n.outputShapes[i]
}

// Shape of the Node's output, or an invalid shape if the node doesn't have exactly one output.
func (n *Node) Shape() shapes.Shape {
	if n == nil || n.NumOutputs() != 1 {
		return shapes.Shape{}
	}
	return n.outputShapes[0]
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType {
	return n.Shape().DType
}

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int {
	return n.Shape().Rank()
}

// Placement returns the placement tag of the node, placement.Default if not yet assigned.
func (n *Node) Placement() placement.Placement {
	return n.placement
}

// SetPlacement changes the placement tag of the node. It is the only mutation allowed after the Function is
// finalized.
func (n *Node) SetPlacement(p placement.Placement) {
	n.placement = p
}

// Data returns the op specific static data of the node:
//
//   - OpTypeConstant: the flat slice of values ([]float32, []int64, ...).
//   - OpTypeParameter: the parameter index (int).
//   - OpTypeResult: the result index (int).
//   - OpTypeBroadcast: the prefix dimensions ([]int).
//   - OpTypeReduceSum: the reduced axes ([]int), sorted.
//   - OpTypePad: the per-axis configuration ([]PadAxis).
func (n *Node) Data() any {
	return n.data
}

// Value returns the edge for the i-th output of the node.
func (n *Node) Value(i int) Value {
	return Value{Node: n.id, Output: i}
}

// IsOperation returns whether the node is a computation, as opposed to a Parameter or a Result.
func (n *Node) IsOperation() bool {
	return n.opType != OpTypeParameter && n.opType != OpTypeResult
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "#%d %s", n.id, n.opType)
	if n.name != "" {
		_, _ = fmt.Fprintf(&sb, "[%q]", n.name)
	}
	if len(n.inputs) > 0 {
		parts := make([]string, len(n.inputs))
		for i, in := range n.inputs {
			parts[i] = in.String()
		}
		_, _ = fmt.Fprintf(&sb, "(%s)", strings.Join(parts, ", "))
	}
	switch n.opType {
	case OpTypeBroadcast:
		_, _ = fmt.Fprintf(&sb, " prefix=%v", n.data)
	case OpTypeReduceSum:
		_, _ = fmt.Fprintf(&sb, " axes=%v", n.data)
	case OpTypePad:
		_, _ = fmt.Fprintf(&sb, " config=%v", n.data)
	default:
	}
	if n.NumOutputs() == 1 {
		_, _ = fmt.Fprintf(&sb, " -> %s", n.outputShapes[0])
	} else {
		_, _ = fmt.Fprintf(&sb, " -> %v", n.outputShapes)
	}
	if n.placement.IsAssigned() {
		_, _ = fmt.Fprintf(&sb, " @%s", n.placement)
	}
	return sb.String()
}
