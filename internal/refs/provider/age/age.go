// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package age provides the age ref backend. Values are encrypted to
// X25519 recipients, given as age1... public keys in the fingerprint
// field of each recipient. Decryption uses the identities in the file
// named by AGE_IDENTITY_FILE.
package age

import (
	"bytes"
	"context"
	"io"
	"os"

	"filippo.io/age"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
)

const (
	// BackendType is the ref type handled by this backend.
	BackendType = "age"

	// IdentitiesKey names the decryption identities in the backend
	// clients.
	IdentitiesKey = "age:identities"

	// IdentityFileEnv names the identity file used for decryption.
	IdentityFileEnv = "AGE_IDENTITY_FILE"

	recipientsParam = "recipients"
)

// Identities are the keys used to decrypt age refs.
type Identities []age.Identity

type ageBackend struct {
	provider.Base
	config provider.BackendConfig
}

// NewBackend returns the age backend.
func NewBackend(cfg provider.BackendConfig) (provider.SecretBackend, error) {
	return &ageBackend{
		Base:   provider.Base{TypeName: BackendType},
		config: cfg,
	}, nil
}

// Encrypt is part of the SecretBackend interface.
func (b *ageBackend) Encrypt(_ context.Context, plaintext []byte, params provider.CreateParams) (*refs.Ref, error) {
	recipients := params.Recipients
	if len(recipients) == 0 {
		target, err := params.TargetParams(b.config.Inventory, BackendType)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if recipients, err = provider.DecodeRecipients(target[recipientsParam]); err != nil {
			return nil, errors.Trace(err)
		}
	}
	ciphertext, err := encrypt(plaintext, recipients)
	if err != nil {
		return nil, errors.Annotatef(err, "age ref %q", params.Path)
	}
	return b.NewRef(params, provider.EncodeData(ciphertext), map[string]interface{}{
		recipientsParam: provider.RecipientsRecord(recipients),
	}), nil
}

func encrypt(plaintext []byte, recipients []provider.Recipient) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errors.NotValidf("no recipients")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		recipient, err := age.ParseX25519Recipient(r.Fingerprint)
		if err != nil {
			return nil, errors.NotValidf("recipient %q", r.Fingerprint)
		}
		parsed = append(parsed, recipient)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, parsed...)
	if err != nil {
		return nil, errors.Annotate(err, "creating age encryptor")
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, errors.Annotate(err, "encrypting")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Annotate(err, "finalizing age encryption")
	}
	return buf.Bytes(), nil
}

func (b *ageBackend) identities() (Identities, error) {
	return provider.Client(b.config.Clients, IdentitiesKey, func() (Identities, error) {
		path := os.Getenv(IdentityFileEnv)
		if path == "" {
			return nil, errors.NotValidf("empty %s", IdentityFileEnv)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Annotate(err, "opening age identity file")
		}
		defer func() { _ = f.Close() }()
		ids, err := age.ParseIdentities(f)
		if err != nil {
			return nil, errors.Annotatef(err, "parsing %s", path)
		}
		return ids, nil
	})
}

// Decrypt is part of the SecretBackend interface.
func (b *ageBackend) Decrypt(_ context.Context, ref *refs.Ref) ([]byte, error) {
	ciphertext, err := provider.DecodeData(ref)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ids, err := b.identities()
	if err != nil {
		return nil, errors.Trace(err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), ids...)
	if err != nil {
		return nil, errors.Annotatef(err, "decrypting age ref %q", ref.Path)
	}
	plaintext, err := io.ReadAll(r)
	return plaintext, errors.Trace(err)
}

// UpdateRecipients is part of the RecipientsUpdater interface.
func (b *ageBackend) UpdateRecipients(ctx context.Context, ref *refs.Ref, recipients []provider.Recipient) (bool, error) {
	current, err := provider.DecodeRecipients(ref.Params[recipientsParam])
	if err != nil {
		return false, errors.Trace(err)
	}
	if keys(current).Difference(keys(recipients)).IsEmpty() && keys(recipients).Difference(keys(current)).IsEmpty() {
		return false, nil
	}
	plaintext, err := b.Decrypt(ctx, ref)
	if err != nil {
		return false, errors.Trace(err)
	}
	ciphertext, err := encrypt(plaintext, recipients)
	if err != nil {
		return false, errors.Trace(err)
	}
	ref.Data = provider.EncodeData(ciphertext)
	if ref.Params == nil {
		ref.Params = map[string]interface{}{}
	}
	ref.Params[recipientsParam] = provider.RecipientsRecord(recipients)
	return true, nil
}

func keys(recipients []provider.Recipient) set.Strings {
	s := set.NewStrings()
	for _, r := range recipients {
		s.Add(r.Fingerprint)
	}
	return s
}
