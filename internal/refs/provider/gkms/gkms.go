// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gkms provides the gkms ref backend, encrypting values with a
// Google Cloud KMS crypto key. Keys are full resource names:
// projects/<p>/locations/<l>/keyRings/<r>/cryptoKeys/<k>.
package gkms

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/juju/errors"
	"google.golang.org/api/cloudkms/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kapicorp/kapitan/internal/refs/provider"
)

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "gkms"

	// ClientKey names the KMS client in the backend clients.
	ClientKey = "gkms"

	userAgent = "kapitan-refs"
)

// Client encrypts and decrypts with a named crypto key.
type Client interface {
	Encrypt(ctx context.Context, key string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, key string, ciphertext []byte) ([]byte, error)
}

// NewBackend returns the gkms backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &provider.KMSBackend{
		Base:   provider.Base{TypeName: BackendType},
		Config: cfg,
		Cipher: func(ctx context.Context) (provider.KeyCipher, error) {
			client, err := provider.Client(cfg.Clients, ClientKey, func() (Client, error) {
				return NewClient(ctx)
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			return keyCipher{client: client}, nil
		},
	}, nil
}

// NewClient returns a client using the application default credentials.
func NewClient(ctx context.Context, opts ...option.ClientOption) (Client, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(userAgent)}, opts...)
	service, err := cloudkms.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "connecting to Cloud KMS")
	}
	return serviceClient{keys: service.Projects.Locations.KeyRings.CryptoKeys}, nil
}

type serviceClient struct {
	keys *cloudkms.ProjectsLocationsKeyRingsCryptoKeysService
}

func (c serviceClient) Encrypt(ctx context.Context, key string, plaintext []byte) ([]byte, error) {
	resp, err := c.keys.Encrypt(key, &cloudkms.EncryptRequest{
		Plaintext: base64.StdEncoding.EncodeToString(plaintext),
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return base64.StdEncoding.DecodeString(resp.Ciphertext)
}

func (c serviceClient) Decrypt(ctx context.Context, key string, ciphertext []byte) ([]byte, error) {
	resp, err := c.keys.Decrypt(key, &cloudkms.DecryptRequest{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return base64.StdEncoding.DecodeString(resp.Plaintext)
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusNotFound:
		return errors.NewNotFound(err, "crypto key")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.WithType(err, provider.PermissionDenied)
	case http.StatusBadRequest:
		return provider.Permanent(err)
	}
	return err
}

type keyCipher struct {
	client Client
}

// Encrypt is part of the KeyCipher interface.
func (c keyCipher) Encrypt(ctx context.Context, params map[string]interface{}, plaintext []byte) ([]byte, error) {
	return c.client.Encrypt(ctx, provider.StringParam(params, provider.KeyParam), plaintext)
}

// Decrypt is part of the KeyCipher interface.
func (c keyCipher) Decrypt(ctx context.Context, params map[string]interface{}, ciphertext []byte) ([]byte, error) {
	return c.client.Decrypt(ctx, provider.StringParam(params, provider.KeyParam), ciphertext)
}
