// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Compile readies the model for training: it binds an Adam optimizer with the
// given learning rate and a mean squared error reconstruction loss.
//
// It only mutates the driver state, so it can be called again to change the
// learning rate between Train calls. Calling Train without Compile is an
// error; inference (Encode, Decode, Reconstruct) never requires it.
func (a *Autoencoder) Compile(learningRate float64) {
	a.optimizer = optimizers.Adam().LearningRate(learningRate).Done()
	a.lossFn = losses.MeanSquaredError
}

// Train fits the model to images for the given number of epochs, in-place:
// the model variables are updated and previous weights are overwritten.
//
// Training is self-supervised, each batch serving as both input and
// reconstruction target. Images are shuffled anew every epoch and served in
// batches of batchSize; a last incomplete batch is dropped. After the last
// epoch the batch normalization averages are recomputed over the full data,
// so inference runs with statistics matching the trained weights.
//
// The model must have been compiled with Compile first.
func (a *Autoencoder) Train(images *tensors.Tensor, batchSize, epochs int) error {
	if a.optimizer == nil || a.lossFn == nil {
		return errors.Errorf("model is not compiled for training, call Compile first")
	}
	if err := a.checkImages(images); err != nil {
		return err
	}
	numExamples := images.Shape().Dimensions[0]
	if batchSize < 1 || batchSize > numExamples {
		return errors.Errorf("batch size must be in the range [1, %d (number of images)], got %d",
			numExamples, batchSize)
	}
	if epochs < 1 {
		return errors.Errorf("number of epochs must be >= 1, got %d", epochs)
	}

	ds, err := datasets.InMemoryFromData(a.backend, "reconstruction", []any{images}, []any{images})
	if err != nil {
		return errors.WithMessagef(err, "failed to stage the %d training images on backend %q",
			numExamples, a.backend.Name())
	}
	trainDS := ds.Copy().Shuffle().BatchSize(batchSize, true)

	trainer := train.NewTrainer(a.backend, a.ctx, a.modelGraph,
		a.lossFn, a.optimizer,
		nil, // trainMetrics: the trainer always tracks the loss.
		nil) // evalMetrics
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)
	if _, err = loop.RunEpochs(trainDS, epochs); err != nil {
		return errors.WithMessagef(err, "training failed")
	}

	// Recompute the batch normalization averages used by inference. A no-op
	// for models configured with zero convolution layers.
	updated, err := batchnorm.UpdateAverages(trainer, ds.Copy().BatchSize(batchSize, false))
	if err != nil {
		return errors.WithMessagef(err, "failed to update the batch normalization averages")
	}
	if updated {
		klog.V(1).Infof("Updated batch normalization averages over %d images", numExamples)
	}
	return nil
}

// ReconstructionError returns the mean squared error per pixel of the model
// reconstructing images, the same quantity Train minimizes.
func (a *Autoencoder) ReconstructionError(images *tensors.Tensor) (float32, error) {
	if err := a.checkImages(images); err != nil {
		return 0, err
	}
	mse, err := context.ExecOnce(a.backend, a.ctx, func(ctx *context.Context, x *Node) *Node {
		reconstructed := a.ReconstructGraph(ctx, x)
		return losses.MeanSquaredError([]*Node{x}, []*Node{reconstructed})
	}, images)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed to evaluate the reconstruction error")
	}
	return tensors.ToScalar[float32](mse), nil
}
