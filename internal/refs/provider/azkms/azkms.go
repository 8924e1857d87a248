// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package azkms provides the azkms ref backend, encrypting values with
// an Azure Key Vault key. A key is either a full key identifier
// (https://<vault>.vault.azure.net/keys/<name>[/<version>]) or a key
// name with the vault given by the vault_name parameter.
package azkms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/kapicorp/kapitan/internal/refs/provider"
)

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "azkms"

	// DefaultAlgorithm is used when no algorithm is configured.
	DefaultAlgorithm = azkeys.EncryptionAlgorithmRSAOAEP256

	algorithmParam = "algorithm"
	vaultNameParam = "vault_name"

	credentialKey = "azkms:credential"
)

// Client is the part of the Key Vault keys API used by the backend.
type Client interface {
	Encrypt(ctx context.Context, name, version string, parameters azkeys.KeyOperationParameters, options *azkeys.EncryptOptions) (azkeys.EncryptResponse, error)
	Decrypt(ctx context.Context, name, version string, parameters azkeys.KeyOperationParameters, options *azkeys.DecryptOptions) (azkeys.DecryptResponse, error)
}

// ClientKey names the keys client for vaultURL in the backend clients.
func ClientKey(vaultURL string) string {
	return "azkms:" + vaultURL
}

// NewBackend returns the azkms backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &provider.KMSBackend{
		Base:   provider.Base{TypeName: BackendType},
		Config: cfg,
		Fields: schema.Fields{
			algorithmParam: schema.String(),
			vaultNameParam: schema.String(),
		},
		Defaults: schema.Defaults{
			algorithmParam: string(DefaultAlgorithm),
			vaultNameParam: schema.Omit,
		},
		Cipher: func(context.Context) (provider.KeyCipher, error) {
			return keyCipher{clients: cfg.Clients}, nil
		},
	}, nil
}

// KeyID identifies one key in a vault.
type KeyID struct {
	VaultURL string
	Name     string
	Version  string
}

// ParseKeyID resolves key, a key identifier or a key name, against
// vaultName.
func ParseKeyID(key, vaultName string) (KeyID, error) {
	if !strings.Contains(key, "://") {
		if vaultName == "" {
			return KeyID{}, errors.NotValidf("key %q without vault_name", key)
		}
		name, version, _ := strings.Cut(key, "/")
		return KeyID{
			VaultURL: fmt.Sprintf("https://%s.vault.azure.net", vaultName),
			Name:     name,
			Version:  version,
		}, nil
	}
	u, err := url.Parse(key)
	if err != nil {
		return KeyID{}, errors.NotValidf("key identifier %q", key)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "keys" || parts[1] == "" {
		return KeyID{}, errors.NotValidf("key identifier %q", key)
	}
	id := KeyID{VaultURL: u.Scheme + "://" + u.Host, Name: parts[1]}
	if len(parts) == 3 {
		id.Version = parts[2]
	}
	return id, nil
}

type keyCipher struct {
	clients *provider.BackendClients
}

func (c keyCipher) prepare(params map[string]interface{}) (Client, KeyID, azkeys.KeyOperationParameters, error) {
	var op azkeys.KeyOperationParameters
	id, err := ParseKeyID(provider.StringParam(params, provider.KeyParam), provider.StringParam(params, vaultNameParam))
	if err != nil {
		return nil, id, op, provider.Permanent(err)
	}
	algorithm := azkeys.EncryptionAlgorithm(provider.StringParam(params, algorithmParam))
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if !slices.Contains(azkeys.PossibleEncryptionAlgorithmValues(), algorithm) {
		return nil, id, op, provider.Permanent(errors.NotValidf("algorithm %q", algorithm))
	}
	op.Algorithm = to.Ptr(algorithm)
	client, err := provider.Client(c.clients, ClientKey(id.VaultURL), func() (Client, error) {
		cred, err := provider.Client(c.clients, credentialKey, func() (azcore.TokenCredential, error) {
			return azidentity.NewDefaultAzureCredential(nil)
		})
		if err != nil {
			return nil, errors.Annotate(err, "loading Azure credentials")
		}
		return azkeys.NewClient(id.VaultURL, cred, nil)
	})
	return client, id, op, errors.Trace(err)
}

// Encrypt is part of the KeyCipher interface.
func (c keyCipher) Encrypt(ctx context.Context, params map[string]interface{}, plaintext []byte) ([]byte, error) {
	client, id, op, err := c.prepare(params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	op.Value = plaintext
	resp, err := client.Encrypt(ctx, id.Name, id.Version, op, nil)
	if err != nil {
		return nil, classify(err)
	}
	return resp.Result, nil
}

// Decrypt is part of the KeyCipher interface.
func (c keyCipher) Decrypt(ctx context.Context, params map[string]interface{}, ciphertext []byte) ([]byte, error) {
	client, id, op, err := c.prepare(params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	op.Value = ciphertext
	resp, err := client.Decrypt(ctx, id.Name, id.Version, op, nil)
	if err != nil {
		return nil, classify(err)
	}
	return resp.Result, nil
}

func classify(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return errors.NewNotFound(err, "key vault key")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.WithType(err, provider.PermissionDenied)
	case http.StatusBadRequest:
		return provider.Permanent(err)
	}
	return err
}
