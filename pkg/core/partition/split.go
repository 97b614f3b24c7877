// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnsupportedSplit is the cause of errors returned by Split when a value can't cross a boundary.
var ErrUnsupportedSplit = errors.New("unsupported split")

// Endpoint identifies a node of one of the sub-functions of a SplitResult.
type Endpoint struct {
	SubFunction int
	Node        graph.NodeID
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return fmt.Sprintf("sub%d#%d", e.SubFunction, e.Node)
}

// BoundaryMap maps each boundary source (a Parameter node of the consuming sub-function) to its
// sink (a Result node of the producing sub-function).
type BoundaryMap map[Endpoint]Endpoint

// Sources returns the sources of the map, sorted by sub-function and node id.
func (m BoundaryMap) Sources() []Endpoint {
	sources := make([]Endpoint, 0, len(m))
	for src := range m {
		sources = append(sources, src)
	}
	slices.SortFunc(sources, compareEndpoints)
	return sources
}

func compareEndpoints(a, b Endpoint) int {
	if a.SubFunction != b.SubFunction {
		return a.SubFunction - b.SubFunction
	}
	return int(a.Node) - int(b.Node)
}

// NotOriginal marks parameters fed by a boundary source and results that are boundary sinks, in
// SubFunction.InputOrigins and SubFunction.OutputOrigins.
const NotOriginal = -1

// SubFunction is a placement-homogeneous piece of the original function.
type SubFunction struct {
	// Index of the sub-function in SplitResult.SubFunctions, which is also its execution order.
	Index int

	// Stage is the length of the longest chain of sub-functions, linked by boundary pairs, leading to
	// this one.
	Stage int

	Placement placement.Placement
	Function  *graph.Function

	// Origin maps the operations of Function to the operations of the original function.
	Origin map[graph.NodeID]graph.NodeID

	// InputOrigins holds, for each parameter of Function, the index of the original parameter it reads,
	// or NotOriginal if it is a boundary source.
	InputOrigins []int

	// OutputOrigins holds, for each result of Function, the index of the original result it produces,
	// or NotOriginal if it is a boundary sink.
	OutputOrigins []int
}

// SplitResult holds the sub-functions of a split function, ordered such that producers come before
// consumers, and the boundary pairs connecting them.
type SplitResult struct {
	Original     *graph.Function
	SubFunctions []*SubFunction
	Boundaries   BoundaryMap

	// PassThrough maps the index of each original result that is directly an original parameter to the
	// index of that parameter: no sub-function computes those. It is empty if the function has no
	// operations, in which case the single sub-function passes the parameters through.
	PassThrough map[int]int
}

// Dependencies returns the sorted indices of the sub-functions that produce boundary values
// consumed by sub-function i.
func (r *SplitResult) Dependencies(i int) []int {
	var deps []int
	for src, sink := range r.Boundaries {
		if src.SubFunction == i && !slices.Contains(deps, sink.SubFunction) {
			deps = append(deps, sink.SubFunction)
		}
	}
	slices.Sort(deps)
	return deps
}

// String implements fmt.Stringer, listing the sub-functions and the boundary pairs.
func (r *SplitResult) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Split of %q: %d sub-functions, %d boundary pairs\n",
		r.Original.Name(), len(r.SubFunctions), len(r.Boundaries))
	for _, sub := range r.SubFunctions {
		_, _ = fmt.Fprintf(&sb, "  [%d] stage=%d %s", sub.Index, sub.Stage, sub.Function)
	}
	for _, src := range r.Boundaries.Sources() {
		_, _ = fmt.Fprintf(&sb, "  %s <- %s\n", src, r.Boundaries[src])
	}
	return sb.String()
}

// Split partitions fn, whose nodes must all have an assigned placement (see Assign), into
// placement-homogeneous sub-functions.
//
// Original parameters are shared inputs: every sub-function that reads one gets its own Parameter node
// for it. Original results go with the sub-function of the operation producing them. Every edge
// between operations of different sub-functions is replaced by a boundary pair: one sink (Result) per
// produced value, and one source (Parameter) per value and consuming sub-function.
//
// Operations are first grouped by stage (the number of placement changes on the longest path reaching
// them) into connected same-placement components, which always form a DAG. Components of the same
// placement are then merged, in order, as long as the graph of components stays acyclic: a function
// with a single placement always gives one sub-function. Sub-functions are returned in
// (Stage, smallest original node id) order, a deterministic topological order.
//
// A function without operations (all results are parameters) gives one sub-function that passes the
// parameters through.
//
// fn itself is not changed.
func Split(fn *graph.Function) (*SplitResult, error) {
	if !fn.IsFinalized() {
		return nil, errors.Errorf("Split: function %q is not finalized", fn.Name())
	}
	order := fn.TopologicalOrder()
	for _, node := range order {
		if !node.Placement().IsAssigned() {
			return nil, errors.Errorf("Split: node %s of %q has no placement assigned", node, fn.Name())
		}
	}

	// Stages and components of the operations.
	numNodes := fn.NumNodes()
	stages := make([]int, numNodes)
	parents := make([]graph.NodeID, numNodes)
	for i := range parents {
		parents[i] = graph.NodeID(i)
	}
	var find func(id graph.NodeID) graph.NodeID
	find = func(id graph.NodeID) graph.NodeID {
		if parents[id] != id {
			parents[id] = find(parents[id])
		}
		return parents[id]
	}
	var ops []*graph.Node
	for _, node := range order {
		if !node.IsOperation() {
			continue
		}
		ops = append(ops, node)
		for _, in := range node.Inputs() {
			producer := fn.Node(in.Node)
			if !producer.IsOperation() {
				continue
			}
			stage := stages[producer.ID()]
			if producer.Placement() != node.Placement() {
				stage++
			}
			stages[node.ID()] = max(stages[node.ID()], stage)
		}
		for _, in := range node.Inputs() {
			producer := fn.Node(in.Node)
			if producer.IsOperation() && producer.Placement() == node.Placement() &&
				stages[producer.ID()] == stages[node.ID()] {
				parents[find(producer.ID())] = find(node.ID())
			}
		}
	}

	// Initial components, ordered by (stage, smallest node id). Every edge between them increases the
	// stage, so they form a DAG.
	g := &componentGraph{}
	initialIndex := make(map[graph.NodeID]int)
	for _, node := range ops {
		root := find(node.ID())
		c, found := initialIndex[root]
		if !found {
			c = len(g.components)
			initialIndex[root] = c
			g.components = append(g.components, &component{
				placement: node.Placement(), firstID: node.ID(), depth: stages[node.ID()]})
		}
		g.components[c].firstID = min(g.components[c].firstID, node.ID())
	}
	slices.SortStableFunc(g.components, func(a, b *component) int {
		if a.depth != b.depth {
			return a.depth - b.depth
		}
		return int(a.firstID) - int(b.firstID)
	})
	for i, c := range g.components {
		initialIndex[find(c.firstID)] = i
	}
	for _, node := range ops {
		to := initialIndex[find(node.ID())]
		for _, in := range node.Inputs() {
			if !fn.Node(in.Node).IsOperation() {
				continue
			}
			from := initialIndex[find(in.Node)]
			if from != to && !slices.Contains(g.edges, [2]int{from, to}) {
				g.edges = append(g.edges, [2]int{from, to})
			}
		}
	}
	components, mergedIndex := g.mergeComponents()
	subOf := func(id graph.NodeID) int { return mergedIndex[initialIndex[find(id)]] }

	result := &SplitResult{
		Original:    fn,
		Boundaries:  make(BoundaryMap),
		PassThrough: make(map[int]int),
	}
	if len(ops) == 0 && fn.NumResults() > 0 {
		// Without operations, the whole function (parameters to results) is one sub-function.
		components = []*component{{placement: fn.Results()[0].Placement()}}
	}
	for i, c := range components {
		result.SubFunctions = append(result.SubFunctions, &SubFunction{
			Index:     i,
			Stage:     c.depth,
			Placement: c.placement,
			Function:  graph.NewFunction(fmt.Sprintf("%s/%d_%s", fn.Name(), i, strings.ToLower(c.placement.String()))),
			Origin:    make(map[graph.NodeID]graph.NodeID),
		})
	}

	err := exceptions.TryCatch[error](func() {
		s := &splitter{
			fn:      fn,
			result:  result,
			subOf:   subOf,
			local:   make([]map[graph.Value]graph.Value, len(components)),
			params:  make([]map[int]graph.Value, len(components)),
			sinks:   make(map[graph.Value]Endpoint),
			sources: make(map[sourceKey]graph.Value),
		}
		for i := range components {
			s.local[i] = make(map[graph.Value]graph.Value)
			s.params[i] = make(map[int]graph.Value)
		}
		for _, node := range ops {
			s.copyOperation(node)
		}
		if len(ops) == 0 && len(components) == 1 {
			for _, param := range fn.Parameters() {
				s.resolveInput(0, param.Value(0))
			}
		}
		for resultIdx, resultNode := range fn.Results() {
			v := resultNode.Inputs()[0]
			if len(ops) == 0 {
				sub := result.SubFunctions[0]
				sub.Function.AddResult(s.resolveInput(0, v)).SetPlacement(sub.Placement)
				sub.OutputOrigins = append(sub.OutputOrigins, resultIdx)
				continue
			}
			producer := fn.Node(v.Node)
			if producer.OpType() == graph.OpTypeParameter {
				result.PassThrough[resultIdx] = producer.Data().(int)
				continue
			}
			subIdx := s.subOf(v.Node)
			sub := result.SubFunctions[subIdx]
			sub.Function.AddResult(s.local[subIdx][v]).SetPlacement(sub.Placement)
			sub.OutputOrigins = append(sub.OutputOrigins, resultIdx)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Split(%q)", fn.Name())
	}
	for _, sub := range result.SubFunctions {
		sub.Function.Finalize()
	}
	klog.V(1).Infof("split %q into %d sub-functions with %d boundary pairs",
		fn.Name(), len(result.SubFunctions), len(result.Boundaries))
	return result, nil
}

type sourceKey struct {
	value       graph.Value
	subFunction int
}

// splitter holds the state of Split while copying the operations to the sub-functions.
type splitter struct {
	fn     *graph.Function
	result *SplitResult
	subOf  func(id graph.NodeID) int

	// local[i] maps values of the original function to values of sub-function i.
	local []map[graph.Value]graph.Value

	// params[i] maps original parameter indices to the Parameter node in sub-function i.
	params []map[int]graph.Value

	// sinks maps values of the original function to the Result node that exports it from its sub-function.
	sinks map[graph.Value]Endpoint

	// sources maps (original value, consuming sub-function) to the Parameter node importing it.
	sources map[sourceKey]graph.Value
}

// copyOperation copies node to its sub-function, resolving its inputs first.
func (s *splitter) copyOperation(node *graph.Node) {
	subIdx := s.subOf(node.ID())
	sub := s.result.SubFunctions[subIdx]
	inputs := make([]graph.Value, len(node.Inputs()))
	for i, in := range node.Inputs() {
		inputs[i] = s.resolveInput(subIdx, in)
	}
	copied := sub.Function.CopyNode(node, inputs...)
	sub.Origin[copied.ID()] = node.ID()
	for output := range node.NumOutputs() {
		s.local[subIdx][node.Value(output)] = copied.Value(output)
	}
}

// resolveInput returns the value in sub-function subIdx corresponding to the original value v.
func (s *splitter) resolveInput(subIdx int, v graph.Value) graph.Value {
	sub := s.result.SubFunctions[subIdx]
	producer := s.fn.Node(v.Node)
	if producer.OpType() == graph.OpTypeParameter {
		paramIdx := producer.Data().(int)
		if local, found := s.params[subIdx][paramIdx]; found {
			return local
		}
		param := sub.Function.Parameter(producer.Name(), producer.Shape())
		param.SetPlacement(sub.Placement)
		s.params[subIdx][paramIdx] = param.Value(0)
		sub.InputOrigins = append(sub.InputOrigins, paramIdx)
		return param.Value(0)
	}
	producerSubIdx := s.subOf(v.Node)
	if producerSubIdx == subIdx {
		return s.local[subIdx][v]
	}

	// Cross sub-function edge: find or create the sink, then the source.
	key := sourceKey{value: v, subFunction: subIdx}
	if local, found := s.sources[key]; found {
		return local
	}
	shape := s.fn.ValueShape(v)
	if !backends.TransferableDType(shape.DType) {
		panic(errors.Wrapf(ErrUnsupportedSplit, "value %s of node %s (%s) would cross from %s to %s",
			v, producer, shape.DType, producer.Placement(), sub.Placement))
	}
	sink, found := s.sinks[v]
	if !found {
		producerSub := s.result.SubFunctions[producerSubIdx]
		resultNode := producerSub.Function.AddResult(s.local[producerSubIdx][v])
		resultNode.SetPlacement(producerSub.Placement)
		resultNode.SetName(fmt.Sprintf("sink%s", v))
		producerSub.OutputOrigins = append(producerSub.OutputOrigins, NotOriginal)
		sink = Endpoint{SubFunction: producerSubIdx, Node: resultNode.ID()}
		s.sinks[v] = sink
	}
	param := sub.Function.Parameter(fmt.Sprintf("source%s", v), shape)
	param.SetPlacement(sub.Placement)
	sub.InputOrigins = append(sub.InputOrigins, NotOriginal)
	s.sources[key] = param.Value(0)
	s.result.Boundaries[Endpoint{SubFunction: subIdx, Node: param.ID()}] = sink
	return param.Value(0)
}
