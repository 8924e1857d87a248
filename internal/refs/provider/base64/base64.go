// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package base64 provides the base64 ref backend. Values are obscured,
// not encrypted.
package base64

import (
	"context"

	"github.com/juju/errors"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
)

// BackendType is the ref type handled by this backend.
const BackendType = "base64"

type base64Backend struct {
	provider.Base
}

// NewBackend returns the base64 backend.
func NewBackend(provider.BackendConfig) (provider.SecretBackend, error) {
	return base64Backend{provider.Base{TypeName: BackendType}}, nil
}

// Encrypt is part of the SecretBackend interface.
func (b base64Backend) Encrypt(_ context.Context, plaintext []byte, params provider.CreateParams) (*refs.Ref, error) {
	return b.NewRef(params, provider.EncodeData(plaintext), nil), nil
}

// Decrypt is part of the SecretBackend interface.
func (base64Backend) Decrypt(_ context.Context, ref *refs.Ref) ([]byte, error) {
	data, err := provider.DecodeData(ref)
	return data, errors.Trace(err)
}
