// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package awskms provides the awskms ref backend, encrypting values with
// an AWS KMS key. Credentials and region come from the default AWS
// configuration chain.
package awskms

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
	"github.com/juju/errors"

	"github.com/kapicorp/kapitan/internal/refs/provider"
)

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "awskms"

	// ClientKey names the KMS client in the backend clients.
	ClientKey = "awskms"
)

// Client is the part of the KMS API used by the backend.
type Client interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, opts ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, opts ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewBackend returns the awskms backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &provider.KMSBackend{
		Base:   provider.Base{TypeName: BackendType},
		Config: cfg,
		Cipher: func(ctx context.Context) (provider.KeyCipher, error) {
			client, err := provider.Client(cfg.Clients, ClientKey, func() (Client, error) {
				awsCfg, err := config.LoadDefaultConfig(ctx)
				if err != nil {
					return nil, errors.Annotate(err, "loading AWS configuration")
				}
				return kms.NewFromConfig(awsCfg), nil
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			return keyCipher{client: client}, nil
		},
	}, nil
}

type keyCipher struct {
	client Client
}

// Encrypt is part of the KeyCipher interface.
func (c keyCipher) Encrypt(ctx context.Context, params map[string]interface{}, plaintext []byte) ([]byte, error) {
	out, err := c.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(provider.StringParam(params, provider.KeyParam)),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.CiphertextBlob, nil
}

// Decrypt is part of the KeyCipher interface.
func (c keyCipher) Decrypt(ctx context.Context, params map[string]interface{}, ciphertext []byte) ([]byte, error) {
	out, err := c.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(provider.StringParam(params, provider.KeyParam)),
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.Plaintext, nil
}

// classify marks the KMS errors that retrying cannot fix.
func classify(err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return errors.NewNotFound(err, "KMS key")
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "AccessDeniedException":
		return errors.WithType(err, provider.PermissionDenied)
	case "InvalidCiphertextException", "IncorrectKeyException", "DisabledException",
		"InvalidKeyUsageException", "KMSInvalidStateException", "ValidationException":
		return provider.Permanent(err)
	}
	return err
}
