// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"testing"

	"github.com/gomlx/hybrid/internal/demographs"
	"github.com/gomlx/hybrid/pkg/core/hybrid"
	"github.com/gomlx/hybrid/pkg/core/partition"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestOrigins(t *testing.T) {
	assert.Equal(t, "in#0, boundary, in#2", origins([]int{0, partition.NotOriginal, 2}, "in"))
	assert.Equal(t, "", origins(nil, "out"))
}

func TestInspect(t *testing.T) {
	t.Setenv("GOMLX_HYBRID", "")
	registry := must.M1(hybrid.NewRegistry())
	defer registry.Finalize()
	policy := must.M1(partition.ParseOpTypePolicy(demographs.MulOnCPUPolicy))
	for _, demo := range demographs.All {
		assert.True(t, inspect(registry, policy, demo), "demo %q", demo.Name)
	}

	// Repeated executions.
	*flagRepeat = 3
	defer func() { *flagRepeat = 0 }()
	assert.True(t, inspect(registry, policy, demographs.All[1]))

	// Unlimited parallelism.
	assert.Contains(t, flag.Lookup("parallelism").Usage, "a negative value is unlimited")
	*flagParallelism = -1
	defer func() { *flagParallelism = 0 }()
	for _, demo := range demographs.All {
		assert.True(t, inspect(registry, policy, demo), "demo %q with unlimited parallelism", demo.Name)
	}

	// The gpu has no backend registered.
	gpuPolicy := must.M1(partition.ParseOpTypePolicy("*=gpu"))
	assert.False(t, inspect(registry, gpuPolicy, demographs.All[0]))
}
