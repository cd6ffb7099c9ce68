// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Encode maps a batch of images, shaped [n, height, width, channels], to
// their latent representation, shaped [n, LatentDim].
func (a *Autoencoder) Encode(images *tensors.Tensor) (*tensors.Tensor, error) {
	if err := a.checkImages(images); err != nil {
		return nil, err
	}
	if a.encodeExec == nil {
		exec, err := context.NewExec(a.backend, a.ctx, func(ctx *context.Context, x *Node) *Node {
			return a.EncoderGraph(ctx, x)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to set up the encoder execution")
		}
		a.encodeExec = exec
	}
	latents, err := a.encodeExec.Exec1(images)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to encode %s", images.Shape())
	}
	return latents, nil
}

// Decode maps a batch of latent vectors, shaped [n, LatentDim], back to
// images, shaped [n, height, width, channels] and valued in [0, 1].
func (a *Autoencoder) Decode(latents *tensors.Tensor) (*tensors.Tensor, error) {
	if err := a.checkLatents(latents); err != nil {
		return nil, err
	}
	if a.decodeExec == nil {
		exec, err := context.NewExec(a.backend, a.ctx, func(ctx *context.Context, z *Node) *Node {
			return a.DecoderGraph(ctx, z)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to set up the decoder execution")
		}
		a.decodeExec = exec
	}
	images, err := a.decodeExec.Exec1(latents)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to decode %s", latents.Shape())
	}
	return images, nil
}

// Reconstruct encodes and decodes a batch of images in one execution. It is
// equivalent to Decode after Encode, without materializing the latents.
func (a *Autoencoder) Reconstruct(images *tensors.Tensor) (*tensors.Tensor, error) {
	if err := a.checkImages(images); err != nil {
		return nil, err
	}
	if a.reconstructExec == nil {
		exec, err := context.NewExec(a.backend, a.ctx, func(ctx *context.Context, x *Node) *Node {
			return a.ReconstructGraph(ctx, x)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to set up the reconstruction execution")
		}
		a.reconstructExec = exec
	}
	reconstructed, err := a.reconstructExec.Exec1(images)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to reconstruct %s", images.Shape())
	}
	return reconstructed, nil
}
