// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hybrid/pkg/core/shapes"
)

// Function is a computation graph: an arena of nodes plus the ordered lists of its parameters and results.
//
// Nodes are only ever appended after their inputs, so node ids are already a topological order. Once
// finalized (see Finalize and SetResults) no more nodes can be added, but the placement of the nodes
// can still be changed.
//
// Methods that build the graph panic (with exceptions.Panicf) on invalid arguments: use Build to
// convert those panics to errors.
type Function struct {
	name       string
	nodes      []*Node
	parameters []NodeID
	results    []NodeID
	finalized  bool
}

// NewFunction creates an empty Function with the given name.
func NewFunction(name string) *Function {
	return &Function{name: name}
}

// Name of the function.
func (f *Function) Name() string {
	return f.name
}

// IsFinalized returns whether the function was finalized and no more nodes can be added.
func (f *Function) IsFinalized() bool {
	return f.finalized
}

// Finalize marks the function as complete: no further nodes can be added.
func (f *Function) Finalize() {
	f.finalized = true
}

// AssertBuilding panics if the function was already finalized.
func (f *Function) AssertBuilding() {
	if f == nil {
		exceptions.Panicf("graph.Function is nil")
	}
	if f.finalized {
		exceptions.Panicf("graph.Function %q already finalized, no new nodes can be added", f.name)
	}
}

// NumNodes returns the number of nodes in the arena, including parameters and results.
func (f *Function) NumNodes() int {
	return len(f.nodes)
}

// Node returns the node with the given id. It panics if id is out of range.
func (f *Function) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(f.nodes) {
		exceptions.Panicf("node id %d out of range for function %q with %d nodes", id, f.name, len(f.nodes))
	}
	return f.nodes[id]
}

// Nodes returns all the nodes of the arena, in creation order. The returned slice must not be changed.
func (f *Function) Nodes() []*Node {
	return f.nodes
}

// ValueShape returns the shape of the given value.
func (f *Function) ValueShape(v Value) shapes.Shape {
	return f.Node(v.Node).OutputShape(v.Output)
}

// Parameters returns the parameter nodes, in the order of their creation.
func (f *Function) Parameters() []*Node {
	params := make([]*Node, len(f.parameters))
	for i, id := range f.parameters {
		params[i] = f.nodes[id]
	}
	return params
}

// NumParameters returns the number of parameters of the function.
func (f *Function) NumParameters() int {
	return len(f.parameters)
}

// Results returns the result nodes (OpTypeResult), in order.
func (f *Function) Results() []*Node {
	results := make([]*Node, len(f.results))
	for i, id := range f.results {
		results[i] = f.nodes[id]
	}
	return results
}

// NumResults returns the number of results of the function.
func (f *Function) NumResults() int {
	return len(f.results)
}

// newNode appends a node to the arena, after validating its inputs.
func (f *Function) newNode(opType OpType, inputs []Value, outputShapes ...shapes.Shape) *Node {
	f.AssertBuilding()
	for _, in := range inputs {
		if in.Node < 0 || int(in.Node) >= len(f.nodes) {
			exceptions.Panicf("%s: input %s is not a node of function %q", opType, in, f.name)
		}
		if in.Output < 0 || in.Output >= f.nodes[in.Node].NumOutputs() {
			exceptions.Panicf("%s: input %s refers to output %d, but node has %d outputs",
				opType, in, in.Output, f.nodes[in.Node].NumOutputs())
		}
		if f.nodes[in.Node].opType == OpTypeResult {
			exceptions.Panicf("%s: input %s is a Result node and can't be consumed", opType, in)
		}
	}
	for _, shape := range outputShapes {
		if !shape.Ok() {
			exceptions.Panicf("%s: invalid output shape %s", opType, shape)
		}
	}
	node := &Node{
		function:     f,
		id:           NodeID(len(f.nodes)),
		opType:       opType,
		inputs:       slices.Clone(inputs),
		outputShapes: outputShapes,
	}
	f.nodes = append(f.nodes, node)
	return node
}

// Parameter creates a new input for the function, with the given name and shape.
func (f *Function) Parameter(name string, shape shapes.Shape) *Node {
	node := f.newNode(OpTypeParameter, nil, shape.Clone())
	node.name = name
	node.data = len(f.parameters)
	f.parameters = append(f.parameters, node.id)
	return node
}

// AddResult appends a Result node wrapping v to the list of results of the function.
func (f *Function) AddResult(v Value) *Node {
	f.AssertBuilding()
	shape := f.ValueShape(v)
	node := f.newNode(OpTypeResult, []Value{v}, shape.Clone())
	node.data = len(f.results)
	f.results = append(f.results, node.id)
	return node
}

// SetResultValues adds one result per value and finalizes the function.
func (f *Function) SetResultValues(values ...Value) {
	if len(values) == 0 {
		exceptions.Panicf("function %q must have at least one result", f.name)
	}
	for _, v := range values {
		f.AddResult(v)
	}
	f.Finalize()
}

// SetResults adds the first output of each of the nodes as results and finalizes the function.
// The same node can be given more than once.
func (f *Function) SetResults(nodes ...*Node) {
	values := make([]Value, len(nodes))
	for i, node := range nodes {
		if node.function != f {
			exceptions.Panicf("SetResults: node %s belongs to a different function", node)
		}
		values[i] = node.Value(0)
	}
	f.SetResultValues(values...)
}

// CopyNode adds to f a copy of the operation src (from any function) with the given inputs, which must
// match the shapes of the inputs of src. The copy keeps the placement, name and static data of src.
//
// Parameters and results can't be copied: use Parameter and AddResult.
func (f *Function) CopyNode(src *Node, inputs ...Value) *Node {
	if !src.IsOperation() {
		exceptions.Panicf("CopyNode(%s): only operations can be copied", src)
	}
	if len(inputs) != len(src.inputs) {
		exceptions.Panicf("CopyNode(%s): %d inputs given, but %d required", src, len(inputs), len(src.inputs))
	}
	f.AssertBuilding()
	for i, in := range inputs {
		if in.Node < 0 || int(in.Node) >= len(f.nodes) {
			exceptions.Panicf("CopyNode(%s): input %s is not a node of function %q", src, in, f.name)
		}
		want := src.function.ValueShape(src.inputs[i])
		got := f.ValueShape(in)
		if !want.Equal(got) {
			exceptions.Panicf("CopyNode(%s): input #%d has shape %s, wanted %s", src, i, got, want)
		}
	}
	outputShapes := make([]shapes.Shape, len(src.outputShapes))
	for i, s := range src.outputShapes {
		outputShapes[i] = s.Clone()
	}
	node := f.newNode(src.opType, inputs, outputShapes...)
	node.name = src.name
	node.data = src.data
	node.placement = src.placement
	return node
}

// Consumers returns for each node id the list of node ids that consume any of its outputs, in increasing order.
func (f *Function) Consumers() [][]NodeID {
	consumers := make([][]NodeID, len(f.nodes))
	for _, node := range f.nodes {
		for _, in := range node.inputs {
			if !slices.Contains(consumers[in.Node], node.id) {
				consumers[in.Node] = append(consumers[in.Node], node.id)
			}
		}
	}
	return consumers
}

// TopologicalOrder returns the nodes of the function reachable from its results, plus all its parameters,
// ordered such that every node comes after its inputs. Ties are broken by the node id, so the order is
// deterministic.
func (f *Function) TopologicalOrder() []*Node {
	// Closure: everything the results depend on, plus the parameters.
	inClosure := make([]bool, len(f.nodes))
	stack := slices.Clone(f.results)
	stack = append(stack, f.parameters...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if inClosure[id] {
			continue
		}
		inClosure[id] = true
		for _, in := range f.nodes[id].inputs {
			if !inClosure[in.Node] {
				stack = append(stack, in.Node)
			}
		}
	}

	// Kahn's algorithm restricted to the closure.
	pending := make([]int, len(f.nodes))
	var ready []NodeID
	for id, node := range f.nodes {
		if !inClosure[id] {
			continue
		}
		seen := make(map[NodeID]bool, len(node.inputs))
		for _, in := range node.inputs {
			if !seen[in.Node] {
				seen[in.Node] = true
				pending[id]++
			}
		}
		if pending[id] == 0 {
			ready = append(ready, NodeID(id))
		}
	}
	consumers := f.Consumers()
	order := make([]*Node, 0, len(f.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, f.nodes[id])
		for _, consumerID := range consumers[id] {
			if !inClosure[consumerID] {
				continue
			}
			pending[consumerID]--
			if pending[consumerID] == 0 {
				pos, _ := slices.BinarySearch(ready, consumerID)
				ready = slices.Insert(ready, pos, consumerID)
			}
		}
	}
	return order
}

// Clone returns a deep copy of the function: same node ids, shapes, static data and placements.
// Placements of the clone can be changed without affecting f.
func (f *Function) Clone() *Function {
	clone := &Function{
		name:       f.name,
		nodes:      make([]*Node, len(f.nodes)),
		parameters: slices.Clone(f.parameters),
		results:    slices.Clone(f.results),
		finalized:  f.finalized,
	}
	for i, node := range f.nodes {
		outputShapes := make([]shapes.Shape, len(node.outputShapes))
		for j, s := range node.outputShapes {
			outputShapes[j] = s.Clone()
		}
		clone.nodes[i] = &Node{
			function:     clone,
			id:           node.id,
			opType:       node.opType,
			name:         node.name,
			inputs:       slices.Clone(node.inputs),
			outputShapes: outputShapes,
			placement:    node.placement,
			data:         node.data,
		}
	}
	return clone
}

// String implements fmt.Stringer, listing the nodes in topological order.
func (f *Function) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Function %q: %d parameters, %d results, %d nodes\n",
		f.name, len(f.parameters), len(f.results), len(f.nodes))
	for _, node := range f.TopologicalOrder() {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", node)
	}
	return sb.String()
}
