// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"fmt"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/require"
)

func TestTrainValidation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := New(backend, testConfig())
	require.NoError(t, err)
	images := syntheticImages(8, model.Config())

	require.ErrorContains(t, model.Train(images, 4, 1), "Compile")

	model.Compile(0.001)
	require.Error(t, model.Train(images, 0, 1))
	require.Error(t, model.Train(images, 9, 1)) // batch size larger than the data
	require.Error(t, model.Train(images, 4, 0))

	wrongImages := syntheticImages(4, Config{InputShape: [3]int{4, 4, 1}})
	require.Error(t, model.Train(wrongImages, 2, 1))
}

func TestTrainReducesReconstructionError(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := New(backend, testConfig())
	require.NoError(t, err)
	images := twoClassImages(64, model.Config())

	before, err := model.ReconstructionError(images)
	require.NoError(t, err)

	model.Compile(0.01)
	require.NoError(t, model.Train(images, 16, 10))

	after, err := model.ReconstructionError(images)
	require.NoError(t, err)
	fmt.Printf("\treconstruction error: %.6f -> %.6f\n", before, after)
	require.Less(t, after, before)
}
