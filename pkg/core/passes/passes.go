// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements a simple manager of transformation passes run over a graph.Function.
package passes

import (
	"time"

	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass transforms or annotates a Function in place.
type Pass interface {
	// Name of the pass, used for logging and errors.
	Name() string

	// Run the pass over fn. It returns whether fn was changed.
	Run(fn *graph.Function) (changed bool, err error)
}

// PassFunc adapts a function to a Pass.
type PassFunc struct {
	PassName string
	Fn       func(fn *graph.Function) (bool, error)
}

// Name implements Pass.
func (p PassFunc) Name() string { return p.PassName }

// Run implements Pass.
func (p PassFunc) Run(fn *graph.Function) (bool, error) { return p.Fn(fn) }

// Manager runs a sequence of passes over functions.
type Manager struct {
	passes []Pass
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends the passes to the ones to be run. It returns the Manager, so calls can be cascaded.
func (m *Manager) Register(passes ...Pass) *Manager {
	m.passes = append(m.passes, passes...)
	return m
}

// Passes returns the registered passes, in order.
func (m *Manager) Passes() []Pass {
	return m.passes
}

// Run all registered passes in order over fn, stopping at the first error.
//
// It returns whether any of the passes changed fn.
func (m *Manager) Run(fn *graph.Function) (changed bool, err error) {
	for _, pass := range m.passes {
		start := time.Now()
		passChanged, err := pass.Run(fn)
		if err != nil {
			return changed, errors.WithMessagef(err, "pass %q on function %q", pass.Name(), fn.Name())
		}
		klog.V(2).Infof("pass %q on function %q: changed=%v, elapsed=%s", pass.Name(), fn.Name(), passChanged, time.Since(start))
		changed = changed || passChanged
	}
	return changed, nil
}
