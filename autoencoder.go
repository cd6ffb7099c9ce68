// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autoencoder implements a deep convolutional autoencoder: a mirrored
// pair of convolutional stacks joined by a low-dimensional dense bottleneck,
// trained to reconstruct its own input.
//
// The architecture is fully described by a Config value: the encoder applies
// one convolution block (convolution, relu, batch normalization) per
// configured layer and projects the flattened feature maps to a latent vector
// of LatentDim dimensions; the decoder mirrors the encoder with transposed
// convolutions (see the convtranspose package) and ends with a sigmoid, so
// reconstructions are valued in [0, 1].
//
// Typical usage:
//
//	backend := must.M1(autoencoder.NewBackend())
//	model := must.M1(autoencoder.New(backend, autoencoder.Config{
//		InputShape:  [3]int{28, 28, 1},
//		ConvFilters: []int{32, 64, 64, 64},
//		ConvKernels: []int{3, 3, 3, 3},
//		ConvStrides: []int{1, 2, 2, 1},
//		LatentDim:   2,
//	}))
//	model.Compile(0.0005)
//	must.M(model.Train(images, 32, 20))
//	must.M(model.Save("~/my_model"))
//
// A saved model is a folder with two files, the JSON hyperparameters and the
// binary weights, and is restored with Load.
package autoencoder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Config holds the architecture hyperparameters of an Autoencoder.
//
// It is also the schema of the "parameters.json" file written by Save: the
// architecture is never serialized directly, it is deterministically rebuilt
// from these values by Load.
type Config struct {
	// InputShape is the image shape accepted by the model, as
	// [height, width, channels], without the batch dimension.
	InputShape [3]int `json:"input_shape"`

	// ConvFilters is the number of output channels of each encoder
	// convolution. Its length defines the number of mirrored blocks.
	ConvFilters []int `json:"conv_filters"`

	// ConvKernels is the (square) kernel size of each encoder convolution,
	// mirrored by the decoder.
	ConvKernels []int `json:"conv_kernels"`

	// ConvStrides is the stride of each encoder convolution. A stride s > 1
	// divides the spatial dimensions by s in the encoder and multiplies them
	// back in the decoder.
	ConvStrides []int `json:"conv_strides"`

	// LatentDim is the dimension of the bottleneck vector produced by Encode.
	LatentDim int `json:"latent_space_dim"`
}

// NumLayers returns the number of mirrored convolution blocks.
func (c Config) NumLayers() int { return len(c.ConvFilters) }

// Validate checks the hyperparameters are consistent, returning a descriptive
// error otherwise. New calls it, so manual calls are only needed to validate
// a configuration without building a model.
func (c Config) Validate() error {
	if len(c.ConvKernels) != len(c.ConvFilters) || len(c.ConvStrides) != len(c.ConvFilters) {
		return errors.Errorf(
			"conv_filters (%d entries), conv_kernels (%d) and conv_strides (%d) must all have one entry per layer",
			len(c.ConvFilters), len(c.ConvKernels), len(c.ConvStrides))
	}
	for _, dim := range c.InputShape {
		if dim < 1 {
			return errors.Errorf("input_shape %v must have all dimensions >= 1", c.InputShape)
		}
	}
	if c.InputShape[2] != 1 {
		return errors.Errorf(
			"the decoder reconstructs a single channel, so input_shape %v must have channels (last value) set to 1",
			c.InputShape)
	}
	if c.LatentDim < 1 {
		return errors.Errorf("latent_space_dim must be >= 1, got %d", c.LatentDim)
	}
	for i := range c.ConvFilters {
		if c.ConvFilters[i] < 1 || c.ConvKernels[i] < 1 || c.ConvStrides[i] < 1 {
			return errors.Errorf(
				"layer %d must have filters, kernel size and stride all >= 1, got filters=%d, kernel=%d, stride=%d",
				i, c.ConvFilters[i], c.ConvKernels[i], c.ConvStrides[i])
		}
	}
	return nil
}

// Autoencoder bundles the hyperparameters, the model variables (weights) and
// the execution machinery. Create one with New or restore a saved one with
// Load; both leave the model ready for inference, and after Compile it can
// also be trained.
//
// It is not safe for concurrent use.
type Autoencoder struct {
	config  Config
	backend backends.Backend
	ctx     *context.Context

	// bottleneckDims is the feature map shape [height, width, channels] after
	// the last encoder convolution, before flattening. It sizes the decoder's
	// first dense layer and its reshape.
	bottleneckDims []int

	// layerRows collects the per-layer output shapes while New builds the
	// graphs, for Summary.
	recording bool
	layerRows []layerRow

	lossFn    losses.LossFn
	optimizer optimizers.Interface

	encodeExec, decodeExec, reconstructExec *context.Exec
}

type layerRow struct {
	name string
	dims []int
}

// New creates an Autoencoder with freshly (randomly) initialized weights for
// the given configuration.
//
// It builds the encoder and decoder graphs once to create every model
// variable and to derive the decoder geometry, so an invalid configuration
// (or one whose strides cannot reproduce the input shape) fails here and not
// at training time.
func New(backend backends.Backend, config Config) (*Autoencoder, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid autoencoder configuration")
	}
	a := &Autoencoder{
		config:  config,
		backend: backend,
		ctx:     context.New(),
	}
	err := exceptions.TryCatch[error](func() {
		g := NewGraph(backend, "architecture")
		defer g.Finalize()
		inputDims := append([]int{1}, config.InputShape[:]...)
		images := Parameter(g, "images", shapes.Make(dtypes.Float32, inputDims...))
		a.recording = true
		defer func() { a.recording = false }()
		output := a.ReconstructGraph(a.ctx, images)
		if !slices.Equal(output.Shape().Dimensions, inputDims) {
			exceptions.Panicf(
				"the decoder reconstructs images of shape %v from inputs of shape %v: "+
					"convolution strides must evenly divide the spatial dimensions they stride over",
				output.Shape().Dimensions[1:], config.InputShape)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := a.ctx.InitializeVariables(backend, nil); err != nil {
		return nil, errors.WithMessagef(err, "failed to initialize the model variables")
	}
	// All model variables exist now, graphs built from here on only reuse them.
	a.ctx = a.ctx.Reuse()
	return a, nil
}

// Config returns a copy of the hyperparameters the model was built with.
func (a *Autoencoder) Config() Config {
	c := a.config
	c.ConvFilters = slices.Clone(c.ConvFilters)
	c.ConvKernels = slices.Clone(c.ConvKernels)
	c.ConvStrides = slices.Clone(c.ConvStrides)
	return c
}

// Context returns the context holding the model (and, after training, the
// optimizer) variables. Mostly useful for inspection.
func (a *Autoencoder) Context() *context.Context {
	return a.ctx
}

// record appends a row to the architecture summary. Only the build done by
// New records; later graph builds (training, inference) see recording off.
func (a *Autoencoder) record(name string, x *Node) {
	if !a.recording {
		return
	}
	a.layerRows = append(a.layerRows, layerRow{name: name, dims: slices.Clone(x.Shape().Dimensions[1:])})
}

// Summary returns a human-readable description of the architecture: one line
// per layer with its output shape, followed by the variable counts.
func (a *Autoencoder) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Autoencoder: input %v, latent dimension %d\n", a.config.InputShape, a.config.LatentDim)
	for _, row := range a.layerRows {
		var dims []string
		for _, dim := range row.dims {
			dims = append(dims, fmt.Sprintf("%d", dim))
		}
		fmt.Fprintf(&sb, "  %-24s (batch, %s)\n", row.name, strings.Join(dims, ", "))
	}
	fmt.Fprintf(&sb, "Parameters: %s in %d variables (%s)\n",
		humanize.Comma(int64(a.ctx.NumParameters())), a.ctx.NumVariables(),
		humanize.Bytes(uint64(a.ctx.Memory())))
	return sb.String()
}

// checkImages validates that images is a batch of inputs for this model,
// shaped [n, height, width, channels] with dtype Float32.
func (a *Autoencoder) checkImages(images *tensors.Tensor) error {
	shape := images.Shape()
	want := a.config.InputShape
	if shape.DType != dtypes.Float32 || shape.Rank() != 4 ||
		shape.Dimensions[1] != want[0] || shape.Dimensions[2] != want[1] || shape.Dimensions[3] != want[2] {
		return errors.Errorf("images must be shaped [n, %d, %d, %d] with dtype %s, got %s",
			want[0], want[1], want[2], dtypes.Float32, shape)
	}
	return nil
}

// checkLatents validates that latents is a batch of latent vectors, shaped
// [n, LatentDim] with dtype Float32.
func (a *Autoencoder) checkLatents(latents *tensors.Tensor) error {
	shape := latents.Shape()
	if shape.DType != dtypes.Float32 || shape.Rank() != 2 || shape.Dimensions[1] != a.config.LatentDim {
		return errors.Errorf("latent vectors must be shaped [n, %d] with dtype %s, got %s",
			a.config.LatentDim, dtypes.Float32, shape)
	}
	return nil
}
