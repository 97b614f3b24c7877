// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package partition

import (
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/passes"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PolicyError is returned by Assign when the policy fails for a node.
//
// errors.Is(err, ErrPolicy) is true for any PolicyError, and the error returned by the policy is kept
// as its cause.
type PolicyError struct {
	Node string
	Err  error
}

// Error implements error.
func (e *PolicyError) Error() string {
	return "placement of node " + e.Node + ": " + e.Err.Error()
}

// Unwrap returns the error returned by the policy.
func (e *PolicyError) Unwrap() error { return e.Err }

// Is makes any PolicyError match ErrPolicy.
func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }

// Assign sets the placement of every node of fn (parameters, operations and results reachable from the
// results) to the one chosen by policy.
//
// Each node is visited exactly once, in topological order. Assign is idempotent for deterministic policies.
// It stops at the first node for which the policy fails or returns a placement that is not assigned,
// leaving the placement of the remaining nodes unchanged.
func Assign(fn *graph.Function, policy Policy) error {
	_, err := assign(fn, policy)
	return err
}

func assign(fn *graph.Function, policy Policy) (changed bool, err error) {
	for _, node := range fn.TopologicalOrder() {
		p, err := policy.Place(node)
		if err != nil {
			return changed, &PolicyError{Node: node.String(), Err: err}
		}
		if !p.IsAssigned() {
			return changed, &PolicyError{Node: node.String(), Err: errors.Errorf("invalid placement %s", p)}
		}
		if node.Placement() != p {
			changed = true
			node.SetPlacement(p)
		}
	}
	if klog.V(2).Enabled() {
		counts := make(map[placement.Placement]int)
		for _, node := range fn.TopologicalOrder() {
			counts[node.Placement()]++
		}
		klog.Infof("placement of %q: %v (changed=%v)", fn.Name(), counts, changed)
	}
	return changed, nil
}

// AssignPlacement is a passes.Pass that runs Assign with Policy.
type AssignPlacement struct {
	Policy Policy
}

// Compile-time check.
var _ passes.Pass = AssignPlacement{}

// Name implements passes.Pass.
func (AssignPlacement) Name() string { return "AssignPlacement" }

// Run implements passes.Pass.
func (p AssignPlacement) Run(fn *graph.Function) (changed bool, err error) {
	if p.Policy == nil {
		return false, errors.Wrap(ErrPolicy, "AssignPlacement pass has no policy")
	}
	return assign(fn, p.Policy)
}
