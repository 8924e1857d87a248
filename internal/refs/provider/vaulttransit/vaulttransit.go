// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package vaulttransit provides the vaulttransit ref backend, encrypting
// values with a key of Vault's transit engine.
package vaulttransit

import (
	"context"
	"encoding/base64"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/vault"
)

// BackendType is the ref type handled by this backend.
const BackendType = "vaulttransit"

const (
	cryptoKeyParam    = "crypto_key"
	alwaysLatestParam = "always_latest"
	mountParam        = "mount"
)

var (
	fields = schema.Fields{
		mountParam:        schema.String(),
		cryptoKeyParam:    schema.String(),
		alwaysLatestParam: schema.Bool(),
	}
	defaults = schema.Defaults{
		mountParam:        "transit",
		cryptoKeyParam:    schema.Omit,
		alwaysLatestParam: false,
	}
)

type transitBackend struct {
	provider.Base
	config provider.BackendConfig
}

// NewBackend returns the vaulttransit backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &transitBackend{
		Base:   provider.Base{TypeName: BackendType},
		config: cfg,
	}, nil
}

// Encrypt is part of the SecretBackend interface.
func (b *transitBackend) Encrypt(ctx context.Context, plaintext []byte, params provider.CreateParams) (*refs.Ref, error) {
	vp, err := vault.ParamsFrom(params, b.config.Inventory, BackendType, fields, defaults)
	if err != nil {
		return nil, errors.Annotatef(err, "vaulttransit ref %q", params.Path)
	}
	if params.Key != "" {
		vp[cryptoKeyParam] = params.Key
	}
	if provider.StringParam(vp, cryptoKeyParam) == "" {
		return nil, errors.NotValidf("vaulttransit ref %q without crypto_key", params.Path)
	}
	ciphertext, err := b.encrypt(ctx, vp, plaintext)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.NewRef(params, provider.EncodeData([]byte(ciphertext)), map[string]interface{}{
		vault.ParamsKey: vp,
	}), nil
}

// Decrypt is part of the SecretBackend interface. With always_latest
// set the ciphertext is rewrapped to the latest key version first.
func (b *transitBackend) Decrypt(ctx context.Context, ref *refs.Ref) ([]byte, error) {
	data, err := provider.DecodeData(ref)
	if err != nil {
		return nil, errors.Trace(err)
	}
	vp, err := vault.VaultParams(ref.Params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ciphertext := string(data)
	if latest, _ := vp[alwaysLatestParam].(bool); latest {
		resp, err := b.write(ctx, vp, "rewrap", map[string]interface{}{"ciphertext": ciphertext})
		if err != nil {
			return nil, errors.Trace(err)
		}
		if ciphertext, err = stringField(resp, "ciphertext"); err != nil {
			return nil, errors.Trace(err)
		}
	}
	resp, err := b.write(ctx, vp, "decrypt", map[string]interface{}{"ciphertext": ciphertext})
	if err != nil {
		return nil, errors.Trace(err)
	}
	encoded, err := stringField(resp, "plaintext")
	if err != nil {
		return nil, errors.Trace(err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	return plaintext, errors.Annotate(err, "decoding transit plaintext")
}

// UpdateKey is part of the KeyUpdater interface.
func (b *transitBackend) UpdateKey(ctx context.Context, ref *refs.Ref, key string) (bool, error) {
	if key == "" {
		return false, errors.NotValidf("empty crypto key")
	}
	vp, err := vault.VaultParams(ref.Params)
	if err != nil {
		return false, errors.Trace(err)
	}
	if provider.StringParam(vp, cryptoKeyParam) == key {
		return false, nil
	}
	plaintext, err := b.Decrypt(ctx, ref)
	if err != nil {
		return false, errors.Trace(err)
	}
	updated := make(map[string]interface{}, len(vp))
	for k, v := range vp {
		updated[k] = v
	}
	updated[cryptoKeyParam] = key
	ciphertext, err := b.encrypt(ctx, updated, plaintext)
	if err != nil {
		return false, errors.Trace(err)
	}
	ref.Data = provider.EncodeData([]byte(ciphertext))
	ref.Params = map[string]interface{}{vault.ParamsKey: updated}
	return true, nil
}

func (b *transitBackend) encrypt(ctx context.Context, vp map[string]interface{}, plaintext []byte) (string, error) {
	resp, err := b.write(ctx, vp, "encrypt", map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return stringField(resp, "ciphertext")
}

func (b *transitBackend) write(ctx context.Context, vp map[string]interface{}, op string, data map[string]interface{}) (map[string]interface{}, error) {
	conn, err := vault.DecodeConnection(vp)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client, err := vault.ClientFor(ctx, b.config.Clients, conn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mount := provider.StringParam(vp, mountParam)
	if mount == "" {
		mount = "transit"
	}
	path := mount + "/" + op + "/" + provider.StringParam(vp, cryptoKeyParam)
	var resp map[string]interface{}
	err = b.config.Caller.Call(ctx, BackendType, op, func(ctx context.Context) error {
		var err error
		resp, err = client.Write(ctx, path, data)
		return err
	})
	return resp, errors.Trace(err)
}

func stringField(resp map[string]interface{}, key string) (string, error) {
	s, ok := resp[key].(string)
	if !ok || s == "" {
		return "", errors.Errorf("no %s in transit response", key)
	}
	return s, nil
}
