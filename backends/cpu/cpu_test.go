// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hybrid/backends"
	"github.com/gomlx/hybrid/backends/interpreter"
	"github.com/gomlx/hybrid/pkg/core/graph"
	"github.com/gomlx/hybrid/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, config string) *Backend {
	b, err := backends.NewWithConfig(BackendName + ":" + config)
	require.NoError(t, err)
	return b.(*Backend)
}

func TestNew(t *testing.T) {
	b := newBackend(t, "workers=3,chunk=16")
	assert.Equal(t, 3, b.MaxParallelism())
	assert.Equal(t, 16, b.ChunkSize())
	assert.Contains(t, b.Description(), "max parallelism 3")

	b = newBackend(t, "workers=-1")
	assert.Contains(t, b.Description(), "unlimited")

	for _, config := range []string{"workers", "workers=x", "chunk=0", "gpu=1"} {
		_, err := New(config)
		require.Errorf(t, err, "config %q should have failed", config)
	}
}

func TestCompileUnsupported(t *testing.T) {
	b := newBackend(t, "")
	fn := graph.MustBuild("pad", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float32, 2))
		return []*graph.Node{graph.Pad(x, graph.Scalar(f, dtypes.Float32, 0), graph.PadAxis{Start: 1})}
	})
	_, err := b.Compile(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op Pad not supported")

	fn = graph.MustBuild("f16", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Float16, 2))
		return []*graph.Node{graph.Neg(x)}
	})
	_, err = b.Compile(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dtype Float16 not supported")
}

func TestExecuteParallel(t *testing.T) {
	const size = 1000
	fn := graph.MustBuild("chain", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Int64, size))
		y := f.Parameter("y", shapes.Make(dtypes.Int64, size))
		sum := graph.Add(x, y)
		diff := graph.Sub(sum, graph.Mul(x, x))
		return []*graph.Node{graph.Abs(diff), graph.ReduceSum(sum)}
	})
	xFlat := make([]int64, size)
	yFlat := make([]int64, size)
	wantAbs := make([]int64, size)
	var wantSum int64
	for i := range size {
		xFlat[i] = int64(i)
		yFlat[i] = int64(2 * i)
		diff := xFlat[i] + yFlat[i] - xFlat[i]*xFlat[i]
		wantAbs[i] = max(diff, -diff)
		wantSum += xFlat[i] + yFlat[i]
	}

	for _, config := range []string{"workers=0", "workers=4,chunk=7", "workers=-1,chunk=100"} {
		b := newBackend(t, config)
		exec := must.M1(b.Compile(fn))
		x := must.M1(backends.FromFlat(b, xFlat, size))
		y := must.M1(backends.FromFlat(b, yFlat, size))
		outputs := []backends.Tensor{
			must.M1(b.NewTensor(shapes.Make(dtypes.Int64, size))),
			must.M1(b.NewTensor(shapes.Make(dtypes.Int64))),
		}
		// Execute twice: buffers returned to the pool must not leak values between executions.
		for range 2 {
			require.NoError(t, exec.Execute(outputs, []backends.Tensor{x, y}))
			assert.Equal(t, wantAbs, must.M1(backends.ToFlat[int64](outputs[0])), "config=%q", config)
			assert.Equal(t, []int64{wantSum}, must.M1(backends.ToFlat[int64](outputs[1])), "config=%q", config)
		}
		assert.Equal(t, 2, b.NumExecutions())
	}
}

func TestExecuteDivisionByZero(t *testing.T) {
	b := newBackend(t, "workers=2,chunk=1")
	fn := graph.MustBuild("div", func(f *graph.Function) []*graph.Node {
		x := f.Parameter("x", shapes.Make(dtypes.Int32, 4))
		y := f.Parameter("y", shapes.Make(dtypes.Int32, 4))
		return []*graph.Node{graph.Div(x, y)}
	})
	exec := must.M1(b.Compile(fn))
	x := must.M1(backends.FromFlat(b, []int32{1, 2, 3, 4}, 4))
	y := must.M1(backends.FromFlat(b, []int32{1, 1, 0, 1}, 4))
	out := must.M1(b.NewTensor(shapes.Make(dtypes.Int32, 4)))
	require.Error(t, exec.Execute([]backends.Tensor{out}, []backends.Tensor{x, y}))
}

func TestPassThrough(t *testing.T) {
	b := newBackend(t, "")
	fn := graph.MustBuild("identity", func(f *graph.Function) []*graph.Node {
		return []*graph.Node{f.Parameter("x", shapes.Make(dtypes.Float32, 2))}
	})
	exec := must.M1(b.Compile(fn))
	x := must.M1(backends.FromFlat(b, []float32{3, 4}, 2))
	out := must.M1(b.NewTensor(x.Shape()))
	require.NoError(t, exec.Execute([]backends.Tensor{out}, []backends.Tensor{x}))
	assert.Equal(t, []float32{3, 4}, must.M1(backends.ToFlat[float32](out)))
}

func TestTransfer(t *testing.T) {
	cpuBackend := newBackend(t, "")
	interp := must.M1(interpreter.New(""))

	// interpreter -> cpu: direct peer copy.
	assert.Equal(t, backends.TransferPeer, backends.TransferMethodFor(cpuBackend, interp))
	src := must.M1(backends.FromFlat(interp, []float32{1, 2, 3}, 3))
	dst := must.M1(backends.TransferTo(cpuBackend, src))
	assert.Same(t, cpuBackend, dst.Backend().(*Backend))
	assert.Equal(t, []float32{1, 2, 3}, must.M1(backends.ToFlat[float32](dst)))

	// cpu -> interpreter: round trip through the host.
	assert.Equal(t, backends.TransferHost, backends.TransferMethodFor(interp, cpuBackend))
	back := must.M1(backends.TransferTo(interp, dst))
	assert.Equal(t, []float32{1, 2, 3}, must.M1(backends.ToFlat[float32](back)))

	// Same backend.
	assert.Equal(t, backends.TransferSameBackend, backends.TransferMethodFor(cpuBackend, cpuBackend))
	dst2 := must.M1(cpuBackend.NewTensor(dst.Shape()))
	require.NoError(t, backends.Transfer(dst2, dst))
	assert.Equal(t, []float32{1, 2, 3}, must.M1(backends.ToFlat[float32](dst2)))

	// Shape mismatch.
	wrong := must.M1(interp.NewTensor(shapes.Make(dtypes.Float32, 4)))
	err := backends.Transfer(wrong, dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, backends.ErrTransfer)
	assert.Equal(t, backends.ErrTransfer, errors.Cause(err))

	// Finalized tensors can't be transferred.
	dst.Finalize()
	require.ErrorIs(t, backends.Transfer(back, dst), backends.ErrTransfer)
}
