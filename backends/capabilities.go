// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
)

// Capabilities holds mappings of what is supported by a backend.
type Capabilities struct {
	// Operations supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[graph.OpType]bool

	// DTypes list the data types supported by a backend.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[graph.OpType]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// CheckNode returns an error if the node's op or any of its output dtypes is not supported.
func (c Capabilities) CheckNode(node *graph.Node) error {
	if !c.Operations[node.OpType()] {
		return errors.Errorf("op %s not supported (node %s)", node.OpType(), node)
	}
	for i := range node.NumOutputs() {
		dtype := node.OutputShape(i).DType
		if !c.DTypes[dtype] {
			return errors.Errorf("dtype %s not supported (node %s)", dtype, node)
		}
	}
	return nil
}

// CheckFunction returns an error for the first node (in topological order) of fn that is not supported.
func (c Capabilities) CheckFunction(fn *graph.Function) error {
	for _, node := range fn.TopologicalOrder() {
		if err := c.CheckNode(node); err != nil {
			return errors.WithMessagef(err, "function %q", fn.Name())
		}
	}
	return nil
}
