// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provider

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/kapicorp/kapitan/core/refs"
)

// MockKey is the key name that makes the KMS backends skip the remote
// service. Mock refs hold their plaintext base64 encoded.
const MockKey = "mock"

// KeyParam is the persisted field naming the key of a KMS ref.
const KeyParam = "key"

// KeyCipher encrypts and decrypts with the key named in params, which
// holds the persisted fields of the ref.
type KeyCipher interface {
	Encrypt(ctx context.Context, params map[string]interface{}, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, params map[string]interface{}, ciphertext []byte) ([]byte, error)
}

// KMSBackend implements a backend whose refs are encrypted under one
// named key of a key management service.
type KMSBackend struct {
	Base
	Config BackendConfig

	// Fields and Defaults describe the persisted parameters besides
	// the key, read from the target's inventory.
	Fields   schema.Fields
	Defaults schema.Defaults

	// Cipher returns the service client.
	Cipher func(ctx context.Context) (KeyCipher, error)
}

// Encrypt is part of the SecretBackend interface.
func (b *KMSBackend) Encrypt(ctx context.Context, plaintext []byte, params CreateParams) (*refs.Ref, error) {
	target, err := params.TargetParams(b.Config.Inventory, b.TypeName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	key := params.Key
	if key == "" {
		key = StringParam(target, KeyParam)
	}
	if key == "" {
		return nil, errors.NotValidf("%s ref %q without key", b.TypeName, params.Path)
	}
	extra := map[string]interface{}{}
	if len(b.Fields) > 0 {
		if extra, err = CoerceParams(b.Fields, b.Defaults, target); err != nil {
			return nil, errors.Annotatef(err, "%s ref %q", b.TypeName, params.Path)
		}
	}
	extra[KeyParam] = key
	ciphertext, err := b.encrypt(ctx, extra, plaintext)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.NewRef(params, EncodeData(ciphertext), extra), nil
}

// Decrypt is part of the SecretBackend interface.
func (b *KMSBackend) Decrypt(ctx context.Context, ref *refs.Ref) ([]byte, error) {
	ciphertext, err := DecodeData(ref)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return b.decrypt(ctx, ref.Params, ciphertext)
}

// UpdateKey is part of the KeyUpdater interface.
func (b *KMSBackend) UpdateKey(ctx context.Context, ref *refs.Ref, key string) (bool, error) {
	if key == "" {
		return false, errors.NotValidf("empty key")
	}
	if StringParam(ref.Params, KeyParam) == key {
		return false, nil
	}
	plaintext, err := b.Decrypt(ctx, ref)
	if err != nil {
		return false, errors.Trace(err)
	}
	params := make(map[string]interface{}, len(ref.Params)+1)
	for k, v := range ref.Params {
		params[k] = v
	}
	params[KeyParam] = key
	ciphertext, err := b.encrypt(ctx, params, plaintext)
	if err != nil {
		return false, errors.Trace(err)
	}
	ref.Data = EncodeData(ciphertext)
	ref.Params = params
	return true, nil
}

func (b *KMSBackend) encrypt(ctx context.Context, params map[string]interface{}, plaintext []byte) ([]byte, error) {
	if StringParam(params, KeyParam) == MockKey {
		return plaintext, nil
	}
	cipher, err := b.Cipher(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "creating %s client", b.TypeName)
	}
	var out []byte
	err = b.Config.Caller.Call(ctx, b.TypeName, "encrypt", func(ctx context.Context) error {
		var err error
		out, err = cipher.Encrypt(ctx, params, plaintext)
		return err
	})
	return out, errors.Trace(err)
}

func (b *KMSBackend) decrypt(ctx context.Context, params map[string]interface{}, ciphertext []byte) ([]byte, error) {
	if StringParam(params, KeyParam) == MockKey {
		return ciphertext, nil
	}
	cipher, err := b.Cipher(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "creating %s client", b.TypeName)
	}
	var out []byte
	err = b.Config.Caller.Call(ctx, b.TypeName, "decrypt", func(ctx context.Context) error {
		var err error
		out, err = cipher.Decrypt(ctx, params, ciphertext)
		return err
	})
	return out, errors.Trace(err)
}
