// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provider

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/kapicorp/kapitan/core/refs"
)

// SecretBackend is implemented by every ref type. A backend turns
// plaintext into a persisted ref and back again; it never touches the
// ref store itself.
type SecretBackend interface {
	// Type returns the ref type name handled by the backend,
	// as used in tags.
	Type() string

	// Encrypt creates a new ref holding plaintext.
	Encrypt(ctx context.Context, plaintext []byte, params CreateParams) (*refs.Ref, error)

	// Decrypt returns the plaintext of ref.
	Decrypt(ctx context.Context, ref *refs.Ref) ([]byte, error)

	// Load validates a persisted record and reconstructs its ref.
	Load(path string, rec refs.Record) (*refs.Ref, error)

	// Dump returns the record to persist for ref.
	Dump(ref *refs.Ref) refs.Record
}

// KeyUpdater is implemented by backends whose refs are encrypted
// under a single named key.
type KeyUpdater interface {
	// UpdateKey re-encrypts ref under key in place. It returns false
	// without doing any work if ref already uses key.
	UpdateKey(ctx context.Context, ref *refs.Ref, key string) (bool, error)
}

// RecipientsUpdater is implemented by backends whose refs are
// encrypted to a list of recipients.
type RecipientsUpdater interface {
	// UpdateRecipients re-encrypts ref to recipients in place. It
	// returns false if the resolved recipients are unchanged.
	UpdateRecipients(ctx context.Context, ref *refs.Ref, recipients []Recipient) (bool, error)
}

// Recipient identifies the holder of a key, by fingerprint or by name.
type Recipient struct {
	Name        string `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`
	Fingerprint string `mapstructure:"fingerprint" yaml:"fingerprint,omitempty" json:"fingerprint,omitempty"`
}

// Inventory supplies the per-target backend parameters, usually found
// under parameters.kapitan.secrets.<type> in a target's inventory.
type Inventory interface {
	BackendParams(target, backendType string) (map[string]interface{}, error)
}

// CreateParams carries everything a backend needs to create a ref
// beyond the plaintext itself. Explicit values take precedence over the
// target's inventory parameters.
type CreateParams struct {
	Path     string
	Encoding refs.Encoding
	Target   string

	Key         string
	Recipients  []Recipient
	VaultParams map[string]interface{}
}

// TargetParams returns the inventory parameters of the target for
// backendType, or nil when no target or inventory is available.
func (p CreateParams) TargetParams(inv Inventory, backendType string) (map[string]interface{}, error) {
	if p.Target == "" || inv == nil {
		return nil, nil
	}
	params, err := inv.BackendParams(p.Target, backendType)
	if errors.Is(err, errors.NotFound) {
		return nil, nil
	}
	return params, errors.Trace(err)
}

// BackendConfig is handed to every backend factory.
type BackendConfig struct {
	Clients   *BackendClients
	Inventory Inventory
	Caller    *Caller
}

// Validate returns an error if the config is incomplete.
func (c BackendConfig) Validate() error {
	if c.Clients == nil {
		return errors.NotValidf("nil Clients")
	}
	if c.Caller == nil {
		return errors.NotValidf("nil Caller")
	}
	return nil
}

// Factory creates a backend.
type Factory func(BackendConfig) (SecretBackend, error)

// Registry maps ref type names to backends. It is populated once when
// a controller is built and read-only afterwards.
type Registry struct {
	backends map[string]SecretBackend
}

// NewRegistry builds every backend from factories.
func NewRegistry(cfg BackendConfig, factories map[string]Factory) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	r := &Registry{backends: make(map[string]SecretBackend, len(factories))}
	for name, factory := range factories {
		backend, err := factory(cfg)
		if err != nil {
			return nil, errors.Annotatef(err, "creating %q backend", name)
		}
		if backend.Type() != name {
			return nil, errors.NotValidf("backend %q registered as %q", backend.Type(), name)
		}
		r.backends[name] = backend
	}
	return r, nil
}

// Backend returns the backend for the ref type.
func (r *Registry) Backend(typeName string) (SecretBackend, error) {
	b, ok := r.backends[typeName]
	if !ok {
		return nil, errors.WithType(errors.Errorf(
			"ref backend %q not found, supported types are: %v", typeName, r.Types()),
			refs.ErrBackendNotFound)
	}
	return b, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	names := set.NewStrings()
	for name := range r.backends {
		names.Add(name)
	}
	return names.SortedValues()
}
