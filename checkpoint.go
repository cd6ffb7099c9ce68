// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	// ParamsFileName is the name of the JSON file inside a saved model folder
	// holding the Config the model was built with.
	ParamsFileName = "parameters.json"

	// WeightsFileName is the name of the binary file inside a saved model
	// folder holding the values of every model variable.
	WeightsFileName = "weights.bin"

	// DirPermMode is the permission used by Save when creating the model folder.
	DirPermMode = os.FileMode(0770)
)

// Weights file header: the magic string, one byte with the length of the
// compression tag, the tag itself, then the compressed payload. The payload
// is a gob stream of the variable count followed by, per variable, its
// parameter name and its tensor.
const (
	weightsMagic = "gomlx_autoencoder"
	gzipTag      = "gzip"
)

// Save writes the model to folder, creating it if needed, as two files:
// ParamsFileName with the JSON hyperparameters and WeightsFileName with the
// binary weights. Saving over a previously saved model replaces both files.
//
// Only model variables are saved, including the batch normalization averages,
// so a loaded model infers identically. Training state (optimizer slots,
// global step) is not part of the artifact.
func (a *Autoencoder) Save(folder string) error {
	folder, err := fsutil.ReplaceTildeInDir(folder)
	if err != nil {
		return errors.WithMessagef(err, "failed to resolve the model folder")
	}
	if err := os.MkdirAll(folder, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create the model folder %q", folder)
	}

	paramsPath := filepath.Join(folder, ParamsFileName)
	encoded, err := json.MarshalIndent(a.config, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode the hyperparameters")
	}
	encoded = append(encoded, '\n')
	if err := os.WriteFile(paramsPath, encoded, 0660); err != nil {
		return errors.Wrapf(err, "failed to write %q", paramsPath)
	}
	return a.saveWeights(filepath.Join(folder, WeightsFileName))
}

// Load restores a model saved by Save: it rebuilds the architecture from the
// hyperparameters file and then assigns every stored variable value.
//
// It fails if either file is missing or corrupt, if a stored variable has no
// counterpart in the rebuilt architecture (or vice versa), or if any shape
// differs, so a successful Load always yields a model identical to the one
// saved.
func Load(backend backends.Backend, folder string) (*Autoencoder, error) {
	folder, err := fsutil.ReplaceTildeInDir(folder)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to resolve the model folder")
	}
	paramsPath := filepath.Join(folder, ParamsFileName)
	encoded, err := os.ReadFile(paramsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read the hyperparameters file %q", paramsPath)
	}
	var config Config
	if err := json.Unmarshal(encoded, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse the hyperparameters file %q", paramsPath)
	}
	a, err := New(backend, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "hyperparameters in %q no longer build a valid model", paramsPath)
	}
	if err := a.loadWeights(filepath.Join(folder, WeightsFileName)); err != nil {
		return nil, err
	}
	return a, nil
}

// modelVariables returns the variables under the "/model" scope, sorted by
// scope and name so the weights file layout is deterministic.
func (a *Autoencoder) modelVariables() []*context.Variable {
	scopePrefix := context.ScopeSeparator + ModelScope
	var vars []*context.Variable
	for v := range a.ctx.IterVariables() {
		if v.Scope() == scopePrefix || strings.HasPrefix(v.Scope(), scopePrefix+context.ScopeSeparator) {
			vars = append(vars, v)
		}
	}
	slices.SortFunc(vars, func(v1, v2 *context.Variable) int {
		if cmp := strings.Compare(v1.Scope(), v2.Scope()); cmp != 0 {
			return cmp
		}
		return strings.Compare(v1.Name(), v2.Name())
	})
	return vars
}

func (a *Autoencoder) saveWeights(filePath string) error {
	vars := a.modelVariables()
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create the weights file %q", filePath)
	}
	header := make([]byte, 0, len(weightsMagic)+1+len(gzipTag))
	header = append(header, weightsMagic...)
	header = append(header, byte(len(gzipTag)))
	header = append(header, gzipTag...)
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write the header of %q", filePath)
	}

	compressed := gzip.NewWriter(f)
	enc := gob.NewEncoder(compressed)
	err = func() error {
		if err := enc.Encode(len(vars)); err != nil {
			return errors.Wrapf(err, "failed to encode the variable count")
		}
		for _, v := range vars {
			value, err := v.Value()
			if err != nil {
				return errors.WithMessagef(err, "variable %q has no value to save", v.ScopeAndName())
			}
			if err := enc.Encode(v.ParameterName()); err != nil {
				return errors.Wrapf(err, "failed to encode variable %q", v.ScopeAndName())
			}
			if err := value.GobSerialize(enc); err != nil {
				return errors.WithMessagef(err, "failed to serialize the value of variable %q", v.ScopeAndName())
			}
		}
		return nil
	}()
	if err != nil {
		_ = compressed.Close()
		_ = f.Close()
		return errors.WithMessagef(err, "while saving weights to %q", filePath)
	}
	if err := compressed.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to flush the weights file %q", filePath)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close the weights file %q", filePath)
	}
	return nil
}

func (a *Autoencoder) loadWeights(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to read the weights file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, len(weightsMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != weightsMagic {
		return errors.Errorf("%q is not an autoencoder weights file", filePath)
	}
	var tagLen uint8
	if err := binary.Read(f, binary.BigEndian, &tagLen); err != nil {
		return errors.Wrapf(err, "failed to read the header of %q", filePath)
	}
	tag := make([]byte, tagLen)
	if _, err := io.ReadFull(f, tag); err != nil {
		return errors.Wrapf(err, "failed to read the header of %q", filePath)
	}
	if string(tag) != gzipTag {
		return errors.Errorf("weights file %q uses unsupported compression %q", filePath, tag)
	}
	compressed, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "failed to decompress the weights file %q", filePath)
	}
	defer func() { _ = compressed.Close() }()

	dec := gob.NewDecoder(compressed)
	var count int
	if err := dec.Decode(&count); err != nil {
		return errors.Wrapf(err, "weights file %q is corrupt", filePath)
	}
	loaded := make(map[string]bool, count)
	for range count {
		var paramName string
		if err := dec.Decode(&paramName); err != nil {
			return errors.Wrapf(err, "weights file %q is corrupt", filePath)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return errors.WithMessagef(err, "failed to deserialize variable %q from %q", paramName, filePath)
		}
		scope, name := context.VariableScopeAndNameFromParameterName(paramName)
		if scope == "" && name == "" {
			return errors.Errorf("weights file %q is corrupt: invalid variable key %q", filePath, paramName)
		}
		v := a.ctx.GetVariableByScopeAndName(scope, name)
		if v == nil {
			return errors.Errorf(
				"weights file %q stores variable %q in scope %q, which does not exist in a model built from the "+
					"stored hyperparameters: the parameters and weights files do not belong to the same model",
				filePath, name, scope)
		}
		if !v.Shape().Equal(value.Shape()) {
			return errors.Errorf(
				"stored variable %q in scope %q has shape %s, but the model built from the stored hyperparameters "+
					"expects %s", name, scope, value.Shape(), v.Shape())
		}
		if err := v.SetValue(value); err != nil {
			return errors.WithMessagef(err, "failed to assign the stored value of variable %q in scope %q", name, scope)
		}
		loaded[paramName] = true
	}

	for _, v := range a.modelVariables() {
		if !loaded[v.ParameterName()] {
			return errors.Errorf("weights file %q is missing a value for variable %q in scope %q",
				filePath, v.Name(), v.Scope())
		}
	}
	return nil
}
