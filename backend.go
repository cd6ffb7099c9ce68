// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autoencoder

import (
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NewBackend creates the backend models will execute on.
//
// It defaults to backends.New, which honors the GOMLX_BACKEND environment
// variable and otherwise picks the best registered backend (an accelerator
// XLA plugin when one is installed). If that default fails to initialize,
// for instance because the accelerator is out of memory or its driver is
// missing, it downgrades to the XLA CPU plugin and finally to the pure Go
// backend. A backend explicitly requested through GOMLX_BACKEND is never
// substituted: its failure is returned as an error.
func NewBackend() (backends.Backend, error) {
	backend, err := backends.New()
	if err == nil {
		return backend, nil
	}
	if config := os.Getenv(backends.ConfigEnvVar); config != "" {
		return nil, errors.WithMessagef(err, "backend %q configured in $%s failed to initialize", config, backends.ConfigEnvVar)
	}
	klog.V(1).Infof("Default backend failed to initialize (%v), falling back to \"xla:cpu\"", err)
	backend, err = backends.NewWithConfig("xla:cpu")
	if err == nil {
		return backend, nil
	}
	klog.V(1).Infof("Backend \"xla:cpu\" failed to initialize (%v), falling back to \"go\"", err)
	backend, err = backends.NewWithConfig("go")
	if err != nil {
		return nil, errors.WithMessagef(err, "no execution backend could be initialized")
	}
	return backend, nil
}
