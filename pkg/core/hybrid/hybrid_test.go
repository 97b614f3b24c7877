// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hybrid

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/cpu"
	"github.com/gomlx/hybrid/backends/interpreter"
	"github.com/gomlx/hybrid/internal/demographs"
	"github.com/gomlx/hybrid/internal/workerspool"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/partition"
	"github.com/gomlx/hybrid/pkg/core/placement"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRegistry returns a registry with a cpu backend that splits the [2, 2] tensors in 2 chunks.
func newRegistry(t *testing.T) *Registry {
	t.Setenv(GOMLX_HYBRID, "cpu=cpu:workers=2,chunk=2; interpreter=interpreter")
	registry, err := NewRegistry()
	require.NoError(t, err)
	t.Cleanup(registry.Finalize)
	return registry
}

func mulOnCPU() partition.Policy {
	return must.M1(partition.ParseOpTypePolicy(demographs.MulOnCPUPolicy))
}

// tensorsFor creates the demo inputs and an output tensor on the given backends.
func tensorsFor(t *testing.T, demo demographs.Demo, inputsBackend, outputBackend backends.Backend) (
	inputs []backends.Tensor, output backends.Tensor) {
	for _, values := range demo.Inputs {
		inputs = append(inputs, must.M1(backends.FromFlat(inputsBackend, values, demographs.Dimensions...)))
	}
	output = must.M1(outputBackend.NewTensor(shapes.Make(dtypes.Float32, demographs.Dimensions...)))
	return
}

func TestRegistry(t *testing.T) {
	registry := newRegistry(t)
	assert.Equal(t, "cpu:workers=2,chunk=2", registry.BackendConfig(placement.CPU))
	assert.Equal(t, "interpreter", registry.BackendConfig(placement.Interpreter))
	assert.Equal(t, "gpu", registry.BackendConfig(placement.GPU))

	cpuBackend, err := registry.Backend(placement.CPU)
	require.NoError(t, err)
	assert.Equal(t, cpu.BackendName, cpuBackend.Name())
	assert.Equal(t, 2, cpuBackend.(*cpu.Backend).MaxParallelism())
	assert.Same(t, cpuBackend, must.M1(registry.Backend(placement.CPU)))
	assert.Equal(t, []placement.Placement{placement.CPU}, registry.Placements())

	// No gpu backend is registered.
	_, err = registry.Backend(placement.GPU)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = registry.Backend(placement.Default)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, []placement.Placement{placement.CPU}, registry.Placements())

	registry.Finalize()
	assert.True(t, cpuBackend.(*cpu.Backend).IsFinalized())
	assert.Empty(t, registry.Placements())

	for _, config := range []string{"cpu", "tpu=cpu", "default=interpreter"} {
		_, err := ParseConfigs(config)
		assert.Errorf(t, err, "config %q should have failed", config)
	}
	t.Setenv(GOMLX_HYBRID, "cpu")
	_, err = NewRegistry()
	require.Error(t, err)
}

func TestRegistryProvider(t *testing.T) {
	var numCalls atomic.Int32
	registry := NewRegistryWithProvider(func(p placement.Placement) (backends.Backend, error) {
		if numCalls.Add(1) == 1 {
			return nil, errors.New("transient failure")
		}
		return interpreter.New("")
	})
	defer registry.Finalize()

	// Failures are not cached.
	_, err := registry.Backend(placement.Interpreter)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "transient failure")

	// Concurrent get-or-create constructs only one backend.
	var wg sync.WaitGroup
	got := make([]backends.Backend, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _ = registry.Backend(placement.Interpreter)
		}()
	}
	wg.Wait()
	for _, backend := range got {
		require.NotNil(t, backend)
		assert.Same(t, got[0], backend)
	}
	assert.Equal(t, int32(2), numCalls.Load())
}

func TestDemos(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))
	for _, parallelism := range []int{0, 4} {
		for _, demo := range demographs.All {
			t.Run(demo.Name, func(t *testing.T) {
				fn := must.M1(demo.Function())
				exec, err := Compile(registry, fn, mulOnCPU(), WithParallelism(parallelism))
				require.NoError(t, err)
				defer exec.Finalize()
				assert.Equal(t, parallelism > 1, exec.IsParallel())

				// The original function is not changed.
				for _, node := range fn.Nodes() {
					assert.Equal(t, placement.Default, node.Placement())
				}
				for i, sub := range exec.Split().SubFunctions {
					assert.Equal(t, sub.Placement.BackendName(), exec.SubFunctionBackend(i).Name())
				}

				inputs, output := tensorsFor(t, demo, interp, interp)
				for range 2 {
					require.NoError(t, exec.Execute([]backends.Tensor{output}, inputs))
					assert.Equal(t, demo.Want, must.M1(backends.ToFlat[float32](output)))
				}
				assert.Equal(t, int64(2), exec.NumExecutions())
			})
		}
	}
}

// TestManualSplit runs the sub-functions of a split by hand, moving the boundary values explicitly.
func TestManualSplit(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))
	cpuBackend := must.M1(registry.Backend(placement.CPU))
	demo := must.M1(demographs.Get("abc"))
	fn := must.M1(demo.Function())
	require.NoError(t, partition.Assign(fn, mulOnCPU()))
	split := must.M1(partition.Split(fn))
	require.Len(t, split.SubFunctions, 2)

	// f0 on the interpreter: D=A+B
	a := must.M1(backends.FromFlat(interp, demo.Inputs[0], 2, 2))
	b := must.M1(backends.FromFlat(interp, demo.Inputs[1], 2, 2))
	c := must.M1(backends.FromFlat(interp, demo.Inputs[2], 2, 2))
	f0 := must.M1(interp.Compile(split.SubFunctions[0].Function))
	r0 := must.M1(interp.NewTensor(f0.Outputs()[0]))
	require.NoError(t, f0.Execute([]backends.Tensor{r0}, []backends.Tensor{a, b}))

	// f1 on the cpu: E=D*C
	f1 := must.M1(cpuBackend.Compile(split.SubFunctions[1].Function))
	p0 := must.M1(backends.TransferTo(cpuBackend, r0))
	p1 := must.M1(backends.TransferTo(cpuBackend, c))
	r1 := must.M1(cpuBackend.NewTensor(f1.Outputs()[0]))
	require.NoError(t, f1.Execute([]backends.Tensor{r1}, []backends.Tensor{p0, p1}))

	// Back to the interpreter.
	r := must.M1(backends.TransferTo(interp, r1))
	assert.Equal(t, []float32{54, 80, 110, 144}, must.M1(backends.ToFlat[float32](r)))
	assert.Equal(t, backends.TransferPeer, backends.TransferMethodFor(cpuBackend, interp))
	assert.Equal(t, backends.TransferHost, backends.TransferMethodFor(interp, cpuBackend))
}

func TestForeignTensors(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))
	cpuBackend := must.M1(registry.Backend(placement.CPU))
	for _, name := range []string{"abc", "abcd"} {
		t.Run(name, func(t *testing.T) {
			demo := must.M1(demographs.Get(name))
			exec := must.M1(Compile(registry, must.M1(demo.Function()), mulOnCPU()))
			defer exec.Finalize()

			// Inputs on the cpu, output on the interpreter.
			inputs, output := tensorsFor(t, demo, cpuBackend, interp)
			require.NoError(t, exec.Execute([]backends.Tensor{output}, inputs))
			assert.Equal(t, demo.Want, must.M1(backends.ToFlat[float32](output)))

			// Inputs on the interpreter, output on the cpu.
			inputs, output = tensorsFor(t, demo, interp, cpuBackend)
			require.NoError(t, exec.Execute([]backends.Tensor{output}, inputs))
			assert.Equal(t, demo.Want, must.M1(backends.ToFlat[float32](output)))
		})
	}
}

func TestPassThroughAndDuplicates(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))
	cpuBackend := must.M1(registry.Backend(placement.CPU))
	fn := graph.MustBuild("passthrough", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 3))
		y := f.Parameter("y", shapes.Make(dtypes.Float32, 3))
		product := graph.Mul(x, y)
		return []*graph.Node{product, y, graph.Neg(product), product}
	})
	exec := must.M1(Compile(registry, fn, mulOnCPU()))
	defer exec.Finalize()

	x := must.M1(backends.FromFlat(interp, []float32{1, 2, 3}, 3))
	y := must.M1(backends.FromFlat(cpuBackend, []float32{4, 5, 6}, 3))
	outputs := make([]backends.Tensor, 4)
	for i, shape := range exec.Outputs() {
		outputs[i] = must.M1(interp.NewTensor(shape))
	}
	require.NoError(t, exec.Execute(outputs, []backends.Tensor{x, y}))
	assert.Equal(t, []float32{4, 10, 18}, must.M1(backends.ToFlat[float32](outputs[0])))
	assert.Equal(t, []float32{4, 5, 6}, must.M1(backends.ToFlat[float32](outputs[1])))
	assert.Equal(t, []float32{-4, -10, -18}, must.M1(backends.ToFlat[float32](outputs[2])))
	assert.Equal(t, []float32{4, 10, 18}, must.M1(backends.ToFlat[float32](outputs[3])))
}

func TestCompileErrors(t *testing.T) {
	registry := newRegistry(t)
	abc := must.M1(must.M1(demographs.Get("abc")).Function())

	// No gpu backend available.
	_, err := Compile(registry, abc, must.M1(partition.ParseOpTypePolicy("Multiply=gpu,*=interpreter")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	// Policy without fallback.
	_, err = Compile(registry, abc, must.M1(partition.ParseOpTypePolicy("Multiply=cpu")))
	require.Error(t, err)
	assert.ErrorIs(t, err, partition.ErrPolicy)
	var policyErr *partition.PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.Contains(t, err.Error(), `pass "AssignPlacement"`)

	// Missing policy.
	_, err = Compile(registry, abc, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, partition.ErrPolicy)

	// The cpu backend doesn't support Pad.
	padded := graph.MustBuild("padded", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 2))
		return []*graph.Node{graph.Pad(graph.Add(x, x), graph.Scalar(f, dtypes.Float32, 0), graph.PadAxis{Start: 1})}
	})
	_, err = Compile(registry, padded, must.M1(partition.ParseOpTypePolicy("Pad=cpu,*=interpreter")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompile)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, placement.CPU, compileErr.Placement)
	assert.Equal(t, cpu.BackendName, compileErr.Backend)
	assert.Contains(t, err.Error(), "op Pad not supported")

	// But it works on the interpreter.
	exec, err := Compile(registry, padded, partition.Uniform(placement.Interpreter))
	require.NoError(t, err)
	exec.Finalize()

	// Uint8 values can't cross backends.
	bytesFn := graph.MustBuild("bytes", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Uint8, 2))
		return []*graph.Node{graph.Add(graph.Mul(x, x), x)}
	})
	_, err = Compile(registry, bytesFn, mulOnCPU())
	require.Error(t, err)
	assert.ErrorIs(t, err, partition.ErrUnsupportedSplit)
}

func TestExecuteErrors(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))
	demo := must.M1(demographs.Get("abc"))
	exec := must.M1(Compile(registry, must.M1(demo.Function()), mulOnCPU()))
	inputs, output := tensorsFor(t, demo, interp, interp)

	err := exec.Execute([]backends.Tensor{output}, inputs[:2])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 inputs given, 3 expected")

	wrongShape := must.M1(interp.NewTensor(shapes.Make(dtypes.Float32, 4)))
	err = exec.Execute([]backends.Tensor{wrongShape}, inputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output #0 has shape")

	// Errors of the backends are returned.
	inputs[1].Finalize()
	err = exec.Execute([]backends.Tensor{output}, inputs)
	require.Error(t, err)

	exec.Finalize()
	exec.Finalize()
	err = exec.Execute([]backends.Tensor{output}, inputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")
}

func TestOutputAliasesInput(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))

	// D=A+B on the interpreter, E=D*A on the cpu.
	fn := graph.MustBuild("aliased", func(f *graph.Function) []*graph.Node {
		a := f.Parameter("A", shapes.Make(dtypes.Float32, 2))
		b := f.Parameter("B", shapes.Make(dtypes.Float32, 2))
		d := graph.Add(a, b)
		return []*graph.Node{d, graph.Mul(d, a)}
	})
	for _, parallelism := range []int{0, 2} {
		exec := must.M1(Compile(registry, fn, mulOnCPU(), WithParallelism(parallelism)))
		require.Len(t, exec.Split().SubFunctions, 2)

		// The first output is written over input A, which the cpu sub-function still reads.
		a := must.M1(backends.FromFlat(interp, []float32{1, 2}, 2))
		b := must.M1(backends.FromFlat(interp, []float32{10, 20}, 2))
		e := must.M1(interp.NewTensor(shapes.Make(dtypes.Float32, 2)))
		require.NoError(t, exec.Execute([]backends.Tensor{a, e}, []backends.Tensor{a, b}))
		assert.Equal(t, []float32{11, 22}, must.M1(backends.ToFlat[float32](a)), "parallelism=%d", parallelism)
		assert.Equal(t, []float32{11, 44}, must.M1(backends.ToFlat[float32](e)), "parallelism=%d", parallelism)
		assert.Equal(t, []float32{10, 20}, must.M1(backends.ToFlat[float32](b)), "parallelism=%d", parallelism)
		exec.Finalize()
	}

	// A pass-through output written over another pass-through input.
	swap := graph.MustBuild("swap", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 2))
		y := f.Parameter("y", shapes.Make(dtypes.Float32, 2))
		return []*graph.Node{y, x, graph.Add(x, y)}
	})
	exec := must.M1(Compile(registry, swap, mulOnCPU()))
	defer exec.Finalize()
	x := must.M1(backends.FromFlat(interp, []float32{1, 2}, 2))
	y := must.M1(backends.FromFlat(interp, []float32{3, 4}, 2))
	sum := must.M1(interp.NewTensor(shapes.Make(dtypes.Float32, 2)))
	require.NoError(t, exec.Execute([]backends.Tensor{x, y, sum}, []backends.Tensor{x, y}))
	assert.Equal(t, []float32{3, 4}, must.M1(backends.ToFlat[float32](x)))
	assert.Equal(t, []float32{1, 2}, must.M1(backends.ToFlat[float32](y)))
	assert.Equal(t, []float32{4, 6}, must.M1(backends.ToFlat[float32](sum)))
}

// TestParallelStopsOnError checks that once a sub-function fails, the ones waiting to run are not started.
func TestParallelStopsOnError(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))

	// Two independent sub-functions: x+x on the interpreter, then y*y on the cpu.
	fn := graph.MustBuild("independent", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 2))
		y := f.Parameter("y", shapes.Make(dtypes.Float32, 2))
		return []*graph.Node{graph.Add(x, x), graph.Mul(y, y)}
	})
	for _, parallelism := range []int{2, -1} {
		exec := must.M1(Compile(registry, fn, mulOnCPU(), WithParallelism(parallelism)))
		require.Len(t, exec.Split().SubFunctions, 2)
		require.Equal(t, placement.Interpreter, exec.Split().SubFunctions[0].Placement)
		if parallelism == -1 {
			// Tasks run inline: the first one fails before the second is taken from the queue.
			exec.workers = workerspool.NewWithParallelism(0)
		}

		x := must.M1(backends.FromFlat(interp, []float32{1, 2}, 2))
		y := must.M1(backends.FromFlat(interp, []float32{3, 4}, 2))
		outputs := []backends.Tensor{
			must.M1(interp.NewTensor(shapes.Make(dtypes.Float32, 2))),
			must.M1(interp.NewTensor(shapes.Make(dtypes.Float32, 2))),
		}
		x.Finalize()
		err := exec.Execute(outputs, []backends.Tensor{x, y})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sub-function 0")
		assert.Equal(t, int64(0), exec.NumExecutions())
		if parallelism == -1 {
			assert.Equal(t, []float32{0, 0}, must.M1(backends.ToFlat[float32](outputs[1])))
		}
		exec.Finalize()
	}
}

func TestParallelEqualsSequential(t *testing.T) {
	registry := newRegistry(t)
	interp := must.M1(registry.Backend(placement.Interpreter))

	// Many independent branches, alternating placements.
	const numBranches = 8
	fn := graph.MustBuild("branches", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 4))
		var total *graph.Node
		for i := range numBranches {
			branch := graph.Mul(graph.Add(x, graph.Constant(f, []float32{float32(i), 1, 2, 3}, 4)), x)
			if total == nil {
				total = branch
			} else {
				total = graph.Add(total, branch)
			}
		}
		return []*graph.Node{total}
	})
	x := must.M1(backends.FromFlat(interp, []float32{1, -1, 0.5, 2}, 4))
	run := func(parallelism int) []float32 {
		exec, err := Compile(registry, fn, mulOnCPU(), WithParallelism(parallelism))
		require.NoError(t, err)
		defer exec.Finalize()
		output := must.M1(interp.NewTensor(exec.Outputs()[0]))
		require.NoError(t, exec.Execute([]backends.Tensor{output}, []backends.Tensor{x}))
		return must.M1(backends.ToFlat[float32](output))
	}
	want := run(0)
	for _, parallelism := range []int{2, 8, -1} {
		assert.Equal(t, want, run(parallelism), "parallelism=%d", parallelism)
	}
}

func TestBackend(t *testing.T) {
	t.Setenv(GOMLX_HYBRID, "")
	backend, err := backends.NewWithConfig("hybrid:" + demographs.MulOnCPUPolicy)
	require.NoError(t, err)
	defer backend.Finalize()
	assert.Equal(t, BackendName, backend.Name())
	assert.Contains(t, backend.Description(), demographs.MulOnCPUPolicy)
	assert.True(t, backend.Capabilities().Operations[graph.OpTypePad])

	demo := must.M1(demographs.Get("multi_middle"))
	inputs, output := tensorsFor(t, demo, backend, backend)
	assert.Equal(t, interpreter.BackendName, output.Backend().Name())
	exec, err := backend.Compile(must.M1(demo.Function()))
	require.NoError(t, err)
	defer exec.Finalize()
	require.NoError(t, exec.Execute([]backends.Tensor{output}, inputs))
	assert.Equal(t, demo.Want, must.M1(backends.ToFlat[float32](output)))
	assert.Equal(t, demo.Want, must.M1(backend.TensorToFlat(output)))

	_, err = backends.NewWithConfig("hybrid:Multiply=tpu")
	require.Error(t, err)
}
