// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package env provides the env ref backend. An env ref stores no value;
// revealing it reads KAPITAN_VAR_<name> from the environment, where name
// defaults to the last element of the ref path.
package env

import (
	"context"
	"os"
	"path"

	"github.com/juju/errors"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
)

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "env"

	// VarPrefix prefixes every variable read by env refs.
	VarPrefix = "KAPITAN_VAR_"

	varKey = "var"
)

type envBackend struct {
	provider.Base
}

// NewBackend returns the env backend.
func NewBackend(provider.BackendConfig) (provider.SecretBackend, error) {
	return envBackend{provider.Base{TypeName: BackendType}}, nil
}

// VarName returns the environment variable read for ref path p.
func VarName(p string) string {
	return VarPrefix + path.Base(p)
}

// Encrypt is part of the SecretBackend interface. The plaintext is
// discarded; only the variable name is recorded.
func (b envBackend) Encrypt(_ context.Context, _ []byte, params provider.CreateParams) (*refs.Ref, error) {
	return b.NewRef(params, "", map[string]interface{}{
		varKey: VarName(params.Path),
	}), nil
}

// Decrypt is part of the SecretBackend interface.
func (envBackend) Decrypt(_ context.Context, ref *refs.Ref) ([]byte, error) {
	name := provider.StringParam(ref.Params, varKey)
	if name == "" {
		name = VarName(ref.Path)
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, errors.NotFoundf("environment variable %q for env ref %q", name, ref.Path)
	}
	return []byte(value), nil
}
