// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package plain provides the plain ref backend, which stores values
// verbatim.
package plain

import (
	"context"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
)

// BackendType is the ref type handled by this backend.
const BackendType = "plain"

type plainBackend struct {
	provider.Base
}

// NewBackend returns the plain backend.
func NewBackend(provider.BackendConfig) (provider.SecretBackend, error) {
	return plainBackend{provider.Base{TypeName: BackendType}}, nil
}

// Encrypt is part of the SecretBackend interface.
func (b plainBackend) Encrypt(_ context.Context, plaintext []byte, params provider.CreateParams) (*refs.Ref, error) {
	return b.NewRef(params, string(plaintext), nil), nil
}

// Decrypt is part of the SecretBackend interface.
func (plainBackend) Decrypt(_ context.Context, ref *refs.Ref) ([]byte, error) {
	return []byte(ref.Data), nil
}
