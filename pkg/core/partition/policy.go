// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package partition assigns placements to the nodes of a graph.Function and splits it into
// placement-homogeneous sub-functions, connected by boundary pairs.
//
// The usual flow is:
//
//	policy := must.M1(partition.ParseOpTypePolicy("Multiply=cpu,*=interpreter"))
//	err := partition.Assign(fn, policy)
//	split, err := partition.Split(fn)
//
// Each sub-function of the split can then be compiled on the backend of its placement, see package hybrid.
package partition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/pkg/errors"
)

// ErrPolicy is the cause of the errors returned by placement policies and by Assign.
var ErrPolicy = errors.New("placement policy failed")

// Policy chooses the placement of a node.
//
// It must return a concrete placement (see placement.Placement.IsAssigned) or an error.
type Policy interface {
	Place(node *graph.Node) (placement.Placement, error)
}

// PolicyFunc adapts a function to a Policy.
type PolicyFunc func(node *graph.Node) (placement.Placement, error)

// Place implements Policy.
func (fn PolicyFunc) Place(node *graph.Node) (placement.Placement, error) {
	return fn(node)
}

// Uniform returns a policy that places every node on p.
func Uniform(p placement.Placement) Policy {
	return PolicyFunc(func(*graph.Node) (placement.Placement, error) {
		return p, nil
	})
}

// OpTypePolicy places nodes according to their op type.
//
// Op types not listed in ByOpType are placed on Fallback. If Fallback is placement.Default, they
// are an error.
type OpTypePolicy struct {
	ByOpType map[graph.OpType]placement.Placement
	Fallback placement.Placement
}

// Place implements Policy.
func (p *OpTypePolicy) Place(node *graph.Node) (placement.Placement, error) {
	if place, found := p.ByOpType[node.OpType()]; found {
		return place, nil
	}
	if p.Fallback == placement.Default {
		return placement.Default, errors.Wrapf(ErrPolicy, "no placement for op %s and no fallback given", node.OpType())
	}
	return p.Fallback, nil
}

// String returns the policy in the format accepted by ParseOpTypePolicy.
func (p *OpTypePolicy) String() string {
	parts := make([]string, 0, len(p.ByOpType)+1)
	for opType, place := range p.ByOpType {
		parts = append(parts, fmt.Sprintf("%s=%s", opType, strings.ToLower(place.String())))
	}
	slices.Sort(parts)
	if p.Fallback != placement.Default {
		parts = append(parts, fmt.Sprintf("*=%s", strings.ToLower(p.Fallback.String())))
	}
	return strings.Join(parts, ",")
}

// ParseOpTypePolicy parses a comma-separated list of "<op_type>=<placement>" pairs, where
// "<op_type>" can be "*" for the fallback. Op types and placements are case-insensitive.
//
// Example: "Multiply=cpu,*=interpreter" places multiplications on the CPU and everything else on
// the interpreter.
func ParseOpTypePolicy(config string) (*OpTypePolicy, error) {
	policy := &OpTypePolicy{ByOpType: make(map[graph.OpType]placement.Placement)}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, errors.Wrapf(ErrPolicy, "invalid policy entry %q in %q, expected <op_type>=<placement>", part, config)
		}
		place, err := placement.PlacementString(strings.TrimSpace(value))
		if err != nil || !place.IsAssigned() {
			return nil, errors.Wrapf(ErrPolicy, "invalid placement %q in %q", value, config)
		}
		key = strings.TrimSpace(key)
		if key == "*" {
			policy.Fallback = place
			continue
		}
		opType, err := graph.OpTypeString(key)
		if err != nil || opType == graph.OpTypeInvalid {
			return nil, errors.Wrapf(ErrPolicy, "unknown op type %q in %q", key, config)
		}
		policy.ByOpType[opType] = place
	}
	return policy, nil
}
