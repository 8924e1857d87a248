// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package vaultkv provides the vaultkv ref backend. The value itself is
// written to a Vault KV engine; the ref only stores a base64 encoded
// "path:key" pointer to it.
package vaultkv

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/vault"
)

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "vaultkv"

	engineV1 = "kv"
	engineV2 = "kv-v2"
)

var (
	fields = schema.Fields{
		"engine": schema.OneOf(schema.Const(engineV1), schema.Const(engineV2)),
		"mount":  schema.String(),
		"path":   schema.String(),
	}
	defaults = schema.Defaults{
		"engine": engineV2,
		"mount":  "secret",
		"path":   schema.Omit,
	}
)

type kvBackend struct {
	provider.Base
	config provider.BackendConfig
}

// NewBackend returns the vaultkv backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &kvBackend{
		Base:   provider.Base{TypeName: BackendType},
		config: cfg,
	}, nil
}

type location struct {
	conn    vault.Connection
	version int
	mount   string
}

func locate(vp map[string]interface{}) (location, error) {
	conn, err := vault.DecodeConnection(vp)
	if err != nil {
		return location{}, errors.Trace(err)
	}
	loc := location{conn: conn, version: 2, mount: provider.StringParam(vp, "mount")}
	if provider.StringParam(vp, "engine") == engineV1 {
		loc.version = 1
	}
	if loc.mount == "" {
		loc.mount = "secret"
	}
	return loc, nil
}

// Encrypt is part of the SecretBackend interface. It writes plaintext
// to Vault, keeping any other keys of the secret.
func (b *kvBackend) Encrypt(ctx context.Context, plaintext []byte, params provider.CreateParams) (*refs.Ref, error) {
	vp, err := vault.ParamsFrom(params, b.config.Inventory, BackendType, fields, defaults)
	if err != nil {
		return nil, errors.Annotatef(err, "vaultkv ref %q", params.Path)
	}
	loc, err := locate(vp)
	if err != nil {
		return nil, errors.Trace(err)
	}
	secretPath := provider.StringParam(vp, "path")
	if secretPath == "" {
		secretPath = params.Path
	}
	key := params.Key
	if key == "" {
		key = path.Base(params.Path)
	}
	client, err := vault.ClientFor(ctx, b.config.Clients, loc.conn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	err = b.config.Caller.Call(ctx, BackendType, "write", func(ctx context.Context) error {
		data, err := client.ReadKV(ctx, loc.version, loc.mount, secretPath)
		if err != nil && !errors.Is(err, errors.NotFound) {
			return err
		}
		if data == nil {
			data = map[string]interface{}{}
		}
		data[key] = string(plaintext)
		return client.WriteKV(ctx, loc.version, loc.mount, secretPath, data)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	pointer := provider.EncodeData([]byte(secretPath + ":" + key))
	return b.NewRef(params, pointer, map[string]interface{}{vault.ParamsKey: vp}), nil
}

// Decrypt is part of the SecretBackend interface. It reads the value
// back from Vault.
func (b *kvBackend) Decrypt(ctx context.Context, ref *refs.Ref) ([]byte, error) {
	pointer, err := provider.DecodeData(ref)
	if err != nil {
		return nil, errors.Trace(err)
	}
	i := strings.LastIndex(string(pointer), ":")
	if i <= 0 || i == len(pointer)-1 {
		return nil, errors.WithType(errors.Errorf(
			"ref error: vaultkv ref %q has an invalid pointer", ref.Path), refs.ErrRef)
	}
	secretPath, key := string(pointer[:i]), string(pointer[i+1:])
	vp, err := vault.VaultParams(ref.Params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	loc, err := locate(vp)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client, err := vault.ClientFor(ctx, b.config.Clients, loc.conn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var data map[string]interface{}
	err = b.config.Caller.Call(ctx, BackendType, "read", func(ctx context.Context) error {
		var err error
		data, err = client.ReadKV(ctx, loc.version, loc.mount, secretPath)
		return err
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	value, ok := data[key]
	if !ok {
		return nil, errors.NotFoundf("key %q in Vault secret %s/%s", key, loc.mount, secretPath)
	}
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	return []byte(fmt.Sprint(value)), nil
}
