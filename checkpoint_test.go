// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadUntrained(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := New(backend, testConfig())
	require.NoError(t, err)

	folder := filepath.Join(t.TempDir(), "model")
	require.NoError(t, model.Save(folder))
	require.FileExists(t, filepath.Join(folder, ParamsFileName))
	require.FileExists(t, filepath.Join(folder, WeightsFileName))

	loaded, err := Load(backend, folder)
	require.NoError(t, err)
	require.Equal(t, model.Config(), loaded.Config())

	images := syntheticImages(4, model.Config())
	want, err := model.Reconstruct(images)
	require.NoError(t, err)
	got, err := loaded.Reconstruct(images)
	require.NoError(t, err)
	require.True(t, want.InDelta(got, 1e-6))
}

func TestSaveLoadTrained(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	model, err := New(backend, testConfig())
	require.NoError(t, err)
	model.Compile(0.01)
	images := twoClassImages(32, model.Config())
	require.NoError(t, model.Train(images, 8, 2))

	folder := filepath.Join(t.TempDir(), "model")
	require.NoError(t, model.Save(folder))
	// Saving over an existing model folder overwrites it.
	require.NoError(t, model.Save(folder))

	loaded, err := Load(backend, folder)
	require.NoError(t, err)

	// Every model variable restores to exactly the saved value.
	for _, v := range model.modelVariables() {
		loadedVar := loaded.Context().GetVariableByScopeAndName(v.Scope(), v.Name())
		require.NotNilf(t, loadedVar, "variable %q in scope %q missing after load", v.Name(), v.Scope())
		require.Truef(t, v.MustValue().Equal(loadedVar.MustValue()),
			"variable %q in scope %q changed across save and load", v.Name(), v.Scope())
	}

	want, err := model.Reconstruct(images)
	require.NoError(t, err)
	got, err := loaded.Reconstruct(images)
	require.NoError(t, err)
	require.True(t, want.InDelta(got, 1e-6))
}

func TestLoadErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	_, err := Load(backend, filepath.Join(t.TempDir(), "never_saved"))
	require.Error(t, err)

	model, err := New(backend, testConfig())
	require.NoError(t, err)
	folder := filepath.Join(t.TempDir(), "model")
	require.NoError(t, model.Save(folder))

	// Weights of one architecture do not load into another: here the second
	// convolution grew from 8 to 16 filters, so variable shapes disagree.
	other := testConfig()
	other.ConvFilters = []int{4, 16}
	raw, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(folder, ParamsFileName), raw, 0o660))
	_, err = Load(backend, folder)
	require.Error(t, err)

	// A model with fewer layers is missing variables the weights refer to.
	shallow := Config{
		InputShape:  [3]int{8, 8, 1},
		ConvFilters: []int{4},
		ConvKernels: []int{3},
		ConvStrides: []int{2},
		LatentDim:   2,
	}
	raw, err = json.Marshal(shallow)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(folder, ParamsFileName), raw, 0o660))
	_, err = Load(backend, folder)
	require.Error(t, err)

	// Corrupted weights are rejected by the header check.
	require.NoError(t, model.Save(folder))
	require.NoError(t, os.WriteFile(filepath.Join(folder, WeightsFileName), []byte("scrambled"), 0o660))
	_, err = Load(backend, folder)
	require.ErrorContains(t, err, "weights file")
}
