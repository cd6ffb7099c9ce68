// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convtranspose implements a transposed convolution layer, the
// upsampling counterpart of layers.Convolution: where a convolution with
// stride `s` divides the spatial dimensions by `s`, a transposed convolution
// multiplies them by `s`.
//
// Create it with New, configure it and call Done when finished:
//
//	output := convtranspose.New(ctx, x).Channels(64).KernelSize(3).Strides(2).PadSame().Done()
//
// The input is expected to be shaped `[batch, <spatial_dimensions...>, channels]`
// (channels-last). With PadSame the output spatial dimensions are exactly
// `input * stride`; with the default NoPadding they are `(input-1)*stride + kernel`.
//
// The upsampling is built from ops with defined gradients (interleaving zeros
// between the input elements, then a stride-1 convolution over the edge-padded
// result), so the layer is trainable. Graph.Convolve's input dilation is not
// used because its gradient is undefined.
package convtranspose

import (
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// Builder is a helper to build a transposed convolution. Create it with New,
// set the desired parameters, and when done call Done.
type Builder struct {
	ctx            *context.Context
	graph          *Graph
	x              *Node
	numSpatialDims int
	outputChannels int
	kernelSize     []int
	strides        []int
	padSame        bool
	bias           bool
	newScope       bool
	regularizer    regularizers.Regularizer
}

// New prepares a transposed convolution on x for an arbitrary number of
// spatial dimensions (1D, 2D, 3D, etc.).
//
// It returns a Builder for configuration. Channels and KernelSize must be set
// before calling Done.
//
// x must be shaped `[batch, <spatial_dimensions...>, channels]`.
func New(ctx *context.Context, x *Node) *Builder {
	b := &Builder{
		ctx:         ctx,
		graph:       x.Graph(),
		x:           x,
		newScope:    true,
		regularizer: regularizers.FromContext(ctx),
	}
	b.numSpatialDims = x.Rank() - 2
	if b.numSpatialDims < 1 {
		exceptions.Panicf("convtranspose: input x must have rank >= 3, shaped as [batch, <spatial_dimensions...>, channels], "+
			"but x rank is %d", x.Rank())
	}
	return b.NoPadding().UseBias(true).Strides(1)
}

// Channels sets the number of output channels.
// There is no default, and this number must be set before Done is called.
func (b *Builder) Channels(channels int) *Builder {
	if channels <= 0 {
		exceptions.Panicf("convtranspose: number of output channels must be > 0, it was set to %d", channels)
	}
	b.outputChannels = channels
	return b
}

// KernelSize sets the kernel size for every spatial axis.
// There is no default, and this value must be set before Done is called.
//
// Use KernelSizePerAxis to set the kernel size per axis individually.
func (b *Builder) KernelSize(size int) *Builder {
	return b.KernelSizePerAxis(xslices.SliceWithValue(b.numSpatialDims, size)...)
}

// KernelSizePerAxis sets the kernel size for each spatial axis.
func (b *Builder) KernelSizePerAxis(sizes ...int) *Builder {
	if len(sizes) != b.numSpatialDims {
		exceptions.Panicf("convtranspose: received %d kernel sizes, but x has %d spatial dimensions",
			len(sizes), b.numSpatialDims)
	}
	b.kernelSize = sizes
	return b
}

// Strides sets the upsampling factor of the transposed convolution for every
// spatial axis. The default is 1. A value of 2 doubles the spatial dimensions
// (with PadSame), reversing the downsampling of a stride-2 convolution.
func (b *Builder) Strides(strides int) *Builder {
	return b.StridePerAxis(xslices.SliceWithValue(b.numSpatialDims, strides)...)
}

// StridePerAxis sets the upsampling factor for each spatial axis.
// The default is 1 for every axis.
func (b *Builder) StridePerAxis(strides ...int) *Builder {
	if len(strides) != b.numSpatialDims {
		exceptions.Panicf("convtranspose: received %d strides in StridePerAxis, but x has %d spatial dimensions",
			len(strides), b.numSpatialDims)
	}
	for _, stride := range strides {
		if stride < 1 {
			exceptions.Panicf("convtranspose: strides must be >= 1, got %v", strides)
		}
	}
	b.strides = strides
	return b
}

// PadSame pads the (zero-interleaved) input so the output spatial dimensions
// are exactly `input * stride` -- matching the input shape of a same-padded
// forward convolution with the same strides.
//
// The default is NoPadding.
func (b *Builder) PadSame() *Builder {
	b.padSame = true
	return b
}

// NoPadding leaves only the structural padding of the transposed convolution:
// the output spatial dimensions become `(input-1)*stride + kernel`.
//
// This is the default.
func (b *Builder) NoPadding() *Builder {
	b.padSame = false
	return b
}

// UseBias sets whether to add a trainable bias term. Default is true.
func (b *Builder) UseBias(useBias bool) *Builder {
	b.bias = useBias
	return b
}

// CurrentScope configures the layer to create its variables in the scope
// given to New, instead of creating a "conv_transpose" sub-scope.
func (b *Builder) CurrentScope() *Builder {
	b.newScope = false
	return b
}

// Regularizer to be applied to the learned kernel (but not the biases).
//
// The default is regularizers.FromContext, which is configured by
// regularizers.ParamL1 and regularizers.ParamL2.
func (b *Builder) Regularizer(regularizer regularizers.Regularizer) *Builder {
	b.regularizer = regularizer
	return b
}

// Done indicates that the transposed convolution is finished being configured.
// It creates the kernel and bias variables and returns the resulting Node.
func (b *Builder) Done() *Node {
	ctxInScope := b.ctx
	if b.newScope {
		ctxInScope = ctxInScope.In("conv_transpose")
	}

	if len(b.kernelSize) == 0 || b.outputChannels <= 0 {
		exceptions.Panicf("convtranspose: Channels and KernelSize must be set before calling Done")
	}

	xShape := b.x.Shape()
	dtype := xShape.DType
	inputChannels := xShape.Dimensions[xShape.Rank()-1]
	kernelDims := make([]int, 0, b.numSpatialDims+2)
	kernelDims = append(kernelDims, b.kernelSize...)
	kernelDims = append(kernelDims, inputChannels, b.outputChannels)
	kernelVar := ctxInScope.VariableWithShape("weights", shapes.Make(dtype, kernelDims...))
	if b.regularizer != nil {
		b.regularizer(ctxInScope, b.graph, kernelVar)
	}
	kernel := kernelVar.ValueGraph(b.graph)

	// Interleave stride-1 zeros between the elements of each spatial axis,
	// growing axes from n to (n-1)*stride+1.
	output := b.x
	for axisIdx, stride := range b.strides {
		output = interleaveZeros(output, axisIdx+1, stride)
	}

	// A stride-1 convolution over the edge-padded result: with PadSame the
	// paddings are the reverse paddings of a same-padded forward convolution
	// with the same strides, so the output grows back to `input * stride`.
	paddings := make([][2]int, b.numSpatialDims)
	for i, k := range b.kernelSize {
		if b.padSame {
			forwardLow, forwardHigh := (k-1)/2, k/2
			paddings[i] = [2]int{k - 1 - forwardLow, k - 1 - forwardHigh + b.strides[i] - 1}
		} else {
			paddings[i] = [2]int{k - 1, k - 1}
		}
	}
	output = Convolve(output, kernel).PaddingPerDim(paddings).Done()

	if b.bias {
		biasVar := ctxInScope.VariableWithShape("biases", shapes.Make(dtype, b.outputChannels))
		bias := biasVar.ValueGraph(b.graph)
		expandedDims := xslices.SliceWithValue(output.Rank(), 1)
		expandedDims[output.Rank()-1] = b.outputChannels
		output = Add(output, Reshape(bias, expandedDims...))
	}
	return output
}

// interleaveZeros inserts stride-1 zeros between consecutive elements of the
// given axis, mapping dimension n to (n-1)*stride+1. All the ops involved
// have defined gradients, which keeps the transposed convolution trainable.
func interleaveZeros(x *Node, axis, stride int) *Node {
	if stride <= 1 {
		return x
	}
	g := x.Graph()
	dims := slices.Clone(x.Shape().Dimensions)
	n := dims[axis]

	expanded := InsertAxes(x, axis+1)
	zerosDims := slices.Clone(expanded.Shape().Dimensions)
	zerosDims[axis+1] = stride - 1
	zeros := Zeros(g, shapes.Make(x.DType(), zerosDims...))
	interleaved := Concatenate([]*Node{expanded, zeros}, axis+1)

	dims[axis] = n * stride
	interleaved = Reshape(interleaved, dims...)

	// Drop the trailing zeros so the axis ends on a real element.
	specs := make([]SliceAxisSpec, interleaved.Rank())
	for i := range specs {
		specs[i] = AxisRange()
	}
	specs[axis] = AxisRangeFromStart(n*stride - (stride - 1))
	return Slice(interleaved, specs...)
}
