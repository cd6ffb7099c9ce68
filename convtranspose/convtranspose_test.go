// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convtranspose

import (
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/stretchr/testify/require"
)

func TestConvTransposeShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()

	t.Run("PadSame-Stride1", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 4, 4, 3))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(8).
				KernelSize(3).
				PadSame().
				Strides(1).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 4, 4, 8))
	})

	t.Run("PadSame-Stride2", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 4, 4, 3))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(8).
				KernelSize(3).
				PadSame().
				Strides(2).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 8, 8, 8))
	})

	t.Run("PadSame-EvenKernel", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 5, 5, 1))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(4).
				KernelSize(4).
				PadSame().
				Strides(2).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 10, 10, 4))
	})

	t.Run("NoPadding-Stride1", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 4, 4, 3))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(8).
				KernelSize(3).
				Strides(1).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 6, 6, 8))
	})

	t.Run("NoPadding-Stride2", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 4, 4, 3))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(8).
				KernelSize(3).
				Strides(2).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 9, 9, 8))
	})

	t.Run("1D", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 2, 5, 3))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(2).
				KernelSize(3).
				PadSame().
				Strides(2).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 2, 10, 2))
	})

	t.Run("3D-StridePerAxis", func(t *testing.T) {
		gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := Ones(g, shapes.Make(dtypes.Float32, 1, 2, 3, 4, 2))
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(5).
				KernelSizePerAxis(2, 3, 3).
				PadSame().
				StridePerAxis(1, 2, 3).Done()
		})
		require.NoError(t, gotT.Shape().Check(dtypes.Float32, 1, 2, 6, 12, 5))
	})
}

// TestConvTransposeValues checks the upsampling arithmetic with an all-ones
// kernel, for which the output values are sums of the contributing inputs and
// independent of the kernel orientation.
func TestConvTransposeValues(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().WithInitializer(initializers.One)

	t.Run("NoPadding", func(t *testing.T) {
		// Kernel size == stride repeats each element stride times:
		// [1, 2] -> [1, 1, 2, 2].
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(1).
				KernelSize(2).
				Strides(2).
				UseBias(false).Done()
		}, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2, 1))
		require.NoError(t, got.Shape().Check(dtypes.Float32, 1, 4, 1))
		require.True(t, xslices.SlicesInDelta(got.Value(), [][][]float32{{{1}, {1}, {2}, {2}}}, xslices.Epsilon))
	})

	t.Run("PadSame", func(t *testing.T) {
		// Dilated to [1, 0, 2], padded to [0, 1, 0, 2, 0, 0] and summed over
		// windows of 3: [1, 3, 2, 2].
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, x *Node) *Node {
			ctx = ctx.In(path.Base(t.Name()))
			return New(ctx, x).
				Channels(1).
				KernelSize(3).
				Strides(2).
				PadSame().
				UseBias(false).Done()
		}, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2, 1))
		require.NoError(t, got.Shape().Check(dtypes.Float32, 1, 4, 1))
		require.True(t, xslices.SlicesInDelta(got.Value(), [][][]float32{{{1}, {3}, {2}, {2}}}, xslices.Epsilon))
	})
}

// TestConvTransposeGradient differentiates the output sum with respect to the
// kernel. The output is linear on the kernel, so each gradient element is the
// number of input elements its kernel tap touches, always positive here.
func TestConvTransposeGradient(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	gradT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Ones(g, shapes.Make(dtypes.Float32, 1, 4, 1))
		ctx = ctx.In("grad")
		y := New(ctx, x).
			Channels(2).
			KernelSize(3).
			Strides(2).
			PadSame().Done()
		kernel := ctx.GetVariableByScopeAndName("/grad/conv_transpose", "weights")
		require.NotNil(t, kernel)
		return Gradient(ReduceAllSum(y), kernel.ValueGraph(g))[0]
	})
	require.NoError(t, gradT.Shape().Check(dtypes.Float32, 3, 1, 2))
	for _, v := range tensors.MustCopyFlatData[float32](gradT) {
		require.Greater(t, v, float32(0))
	}
}

func TestConvTransposeValidation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	g := NewGraph(backend, "validation")
	x := Ones(g, shapes.Make(dtypes.Float32, 2, 4, 4, 3))

	require.Panics(t, func() { New(ctx, Ones(g, shapes.Make(dtypes.Float32, 3, 3))) })
	require.Panics(t, func() { New(ctx, x).Channels(0) })
	require.Panics(t, func() { New(ctx, x).Channels(8).KernelSize(3).Strides(0) })
	require.Panics(t, func() { New(ctx, x).Channels(8).KernelSizePerAxis(3) })
	require.Panics(t, func() { New(ctx, x).KernelSize(3).Done() })
	require.Panics(t, func() { New(ctx, x).Channels(8).Done() })
}
