// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backends: the interpreter, cpu and the hybrid backend that
// combines them.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/hybrid/backends/default"
//
// It sets the interpreter as the default backend, if backends.DefaultConfig is not set.
package _default

import (
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/interpreter"

	_ "github.com/gomlx/hybrid/backends/cpu"
	_ "github.com/gomlx/hybrid/pkg/core/hybrid"
)

func init() {
	if backends.DefaultConfig == "" {
		backends.DefaultConfig = interpreter.BackendName
	}
}
