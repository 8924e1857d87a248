// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package all registers every ref backend.
package all

import (
	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/age"
	"github.com/kapicorp/kapitan/internal/refs/provider/awskms"
	"github.com/kapicorp/kapitan/internal/refs/provider/azkms"
	"github.com/kapicorp/kapitan/internal/refs/provider/base64"
	"github.com/kapicorp/kapitan/internal/refs/provider/env"
	"github.com/kapicorp/kapitan/internal/refs/provider/gkms"
	"github.com/kapicorp/kapitan/internal/refs/provider/gpg"
	"github.com/kapicorp/kapitan/internal/refs/provider/plain"
	"github.com/kapicorp/kapitan/internal/refs/provider/vaultkv"
	"github.com/kapicorp/kapitan/internal/refs/provider/vaulttransit"
)

// Factories returns the factory of every ref backend, by type name.
func Factories() map[string]provider.Factory {
	return map[string]provider.Factory{
		plain.BackendType:        plain.NewBackend,
		base64.BackendType:       base64.NewBackend,
		env.BackendType:          env.NewBackend,
		gpg.BackendType:          gpg.NewBackend,
		awskms.BackendType:       awskms.NewBackend,
		gkms.BackendType:         gkms.NewBackend,
		azkms.BackendType:        azkms.NewBackend,
		vaultkv.BackendType:      vaultkv.NewBackend,
		vaulttransit.BackendType: vaulttransit.NewBackend,
		age.BackendType:          age.NewBackend,
	}
}
