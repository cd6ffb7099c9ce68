// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"fmt"
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"

	"github.com/gomlx/autoencoder/convtranspose"
)

// ModelScope is the context scope under which all model variables are
// created. Training state (optimizer slots, global step, metrics) lives
// outside of it, which is how Save tells them apart.
const ModelScope = "model"

// EncoderGraph builds the encoder: one convolution block (convolution, relu,
// batch normalization) per configured layer, then a dense projection of the
// flattened feature maps to the latent vector.
//
// images must be shaped [batch, height, width, channels]; the returned latent
// vector is shaped [batch, LatentDim]. Variables are created (or reused)
// under the "/model/encoder" scope of ctx.
func (a *Autoencoder) EncoderGraph(ctx *context.Context, images *Node) *Node {
	ctx = ctx.In(ModelScope).In("encoder")
	batchSize := images.Shape().Dimensions[0]
	images.AssertDims(batchSize, a.config.InputShape[0], a.config.InputShape[1], a.config.InputShape[2])

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		scopedCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return scopedCtx
	}

	a.record("input", images)
	x := images
	for i := range a.config.NumLayers() {
		x = layers.Convolution(nextCtx("conv"), x).
			Channels(a.config.ConvFilters[i]).
			KernelSize(a.config.ConvKernels[i]).
			Strides(a.config.ConvStrides[i]).
			PadSame().
			Done()
		x = activations.Relu(x)
		x = batchnorm.New(nextCtx("norm"), x, -1).Done()
		a.record(fmt.Sprintf("encoder/conv_%d", i+1), x)
	}

	// The feature map shape here sizes the decoder's dense layer and reshape.
	a.bottleneckDims = slices.Clone(x.Shape().Dimensions[1:])
	x = Reshape(x, batchSize, -1)
	x = layers.DenseWithBias(nextCtx("dense"), x, a.config.LatentDim)
	a.record("encoder/latent", x)
	return x
}

// DecoderGraph builds the decoder, the mirror of EncoderGraph: a dense layer
// from the latent vector back to the flattened bottleneck feature maps, a
// reshape, one transposed convolution block per configured layer in reverse
// order, and a final single-channel transposed convolution followed by a
// sigmoid, so outputs are valued in [0, 1].
//
// The first encoder layer is not mirrored by a block of its own: its kernel
// size and stride parameterize the final output layer instead.
//
// latents must be shaped [batch, LatentDim]; the returned images match the
// configured input shape. Variables are created (or reused) under the
// "/model/decoder" scope of ctx.
func (a *Autoencoder) DecoderGraph(ctx *context.Context, latents *Node) *Node {
	ctx = ctx.In(ModelScope).In("decoder")
	batchSize := latents.Shape().Dimensions[0]
	latents.AssertDims(batchSize, a.config.LatentDim)

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		scopedCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return scopedCtx
	}

	bottleneckSize := 1
	for _, dim := range a.bottleneckDims {
		bottleneckSize *= dim
	}
	x := layers.DenseWithBias(nextCtx("dense"), latents, bottleneckSize)
	a.record("decoder/dense", x)
	x = Reshape(x, append([]int{batchSize}, a.bottleneckDims...)...)
	a.record("decoder/reshape", x)

	for i := a.config.NumLayers() - 1; i >= 1; i-- {
		x = convtranspose.New(nextCtx("convt"), x).
			Channels(a.config.ConvFilters[i]).
			KernelSize(a.config.ConvKernels[i]).
			Strides(a.config.ConvStrides[i]).
			PadSame().
			Done()
		x = activations.Relu(x)
		x = batchnorm.New(nextCtx("norm"), x, -1).Done()
		a.record(fmt.Sprintf("decoder/conv_t_%d", i), x)
	}

	if a.config.NumLayers() > 0 {
		x = convtranspose.New(nextCtx("output"), x).
			Channels(a.config.InputShape[2]).
			KernelSize(a.config.ConvKernels[0]).
			Strides(a.config.ConvStrides[0]).
			PadSame().
			Done()
	}
	x = Sigmoid(x)
	a.record("decoder/output", x)
	return x
}

// ReconstructGraph composes the encoder and the decoder: images in,
// reconstructed images out. Both halves bind the same "/model" variables, so
// it can be freely mixed with standalone EncoderGraph/DecoderGraph builds.
func (a *Autoencoder) ReconstructGraph(ctx *context.Context, images *Node) *Node {
	return a.DecoderGraph(ctx, a.EncoderGraph(ctx, images))
}

// modelGraph adapts ReconstructGraph to the train.ModelFn signature used by
// the trainer.
func (a *Autoencoder) modelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	return []*Node{a.ReconstructGraph(ctx, inputs[0])}
}
