// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partition

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
)

// Reconstruct joins the sub-functions back into one function, linking each boundary source directly
// to the value exported by its sink.
//
// The result has the same parameters and results as the original function, and is structurally
// equivalent to it, with the placements assigned to the nodes preserved.
func (r *SplitResult) Reconstruct() (*graph.Function, error) {
	fn := graph.NewFunction(r.Original.Name())
	err := exceptions.TryCatch[error](func() {
		params := make([]graph.Value, r.Original.NumParameters())
		for i, origParam := range r.Original.Parameters() {
			param := fn.Parameter(origParam.Name(), origParam.Shape())
			param.SetPlacement(origParam.Placement())
			params[i] = param.Value(0)
		}

		// mapped[i] maps values of sub-function i to values of fn.
		mapped := make([]map[graph.Value]graph.Value, len(r.SubFunctions))
		results := make([]graph.Value, r.Original.NumResults())
		for subIdx, sub := range r.SubFunctions {
			mapped[subIdx] = make(map[graph.Value]graph.Value)
			for paramIdx, param := range sub.Function.Parameters() {
				if origin := sub.InputOrigins[paramIdx]; origin != NotOriginal {
					mapped[subIdx][param.Value(0)] = params[origin]
					continue
				}
				sink, found := r.Boundaries[Endpoint{SubFunction: subIdx, Node: param.ID()}]
				if !found {
					exceptions.Panicf("source %s has no sink", param)
				}
				if sink.SubFunction >= subIdx {
					exceptions.Panicf("source %s of sub-function %d reads from later sub-function %d",
						param, subIdx, sink.SubFunction)
				}
				sinkNode := r.SubFunctions[sink.SubFunction].Function.Node(sink.Node)
				mapped[subIdx][param.Value(0)] = mapped[sink.SubFunction][sinkNode.Inputs()[0]]
			}
			for _, node := range sub.Function.TopologicalOrder() {
				if !node.IsOperation() {
					continue
				}
				inputs := make([]graph.Value, len(node.Inputs()))
				for i, in := range node.Inputs() {
					inputs[i] = mapped[subIdx][in]
				}
				copied := fn.CopyNode(node, inputs...)
				for output := range node.NumOutputs() {
					mapped[subIdx][node.Value(output)] = copied.Value(output)
				}
			}
			for resultIdx, resultNode := range sub.Function.Results() {
				if origin := sub.OutputOrigins[resultIdx]; origin != NotOriginal {
					results[origin] = mapped[subIdx][resultNode.Inputs()[0]]
				}
			}
		}
		for resultIdx, paramIdx := range r.PassThrough {
			results[resultIdx] = params[paramIdx]
		}
		for i, v := range results {
			fn.AddResult(v).SetPlacement(r.Original.Results()[i].Placement())
		}
		fn.Finalize()
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Reconstruct(%q)", r.Original.Name())
	}
	return fn, nil
}
