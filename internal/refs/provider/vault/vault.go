// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package vault holds the Vault connection shared by the vaultkv and
// vaulttransit ref backends.
package vault

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/vault/api"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"

	"github.com/kapicorp/kapitan/internal/refs/provider"
)

var logger = loggo.GetLogger("kapitan.refs.provider.vault")

// Auth methods.
const (
	AuthToken    = "token"
	AuthUserpass = "userpass"
	AuthLDAP     = "ldap"
	AuthAppRole  = "approle"
	AuthGitHub   = "github"
)

// ConnectionFields are the vault_params keys that select a Vault
// server and how to log in to it.
var ConnectionFields = schema.Fields{
	"addr":        schema.String(),
	"namespace":   schema.String(),
	"skip_verify": schema.Bool(),
	"auth": schema.OneOf(
		schema.Const(AuthToken),
		schema.Const(AuthUserpass),
		schema.Const(AuthLDAP),
		schema.Const(AuthAppRole),
		schema.Const(AuthGitHub),
	),
}

// ConnectionDefaults are the defaults of ConnectionFields. Unset
// values fall back to the VAULT_* environment.
var ConnectionDefaults = schema.Defaults{
	"addr":        schema.Omit,
	"namespace":   schema.Omit,
	"skip_verify": false,
	"auth":        AuthToken,
}

// Connection holds the decoded connection parameters.
type Connection struct {
	Addr       string `mapstructure:"addr"`
	Namespace  string `mapstructure:"namespace"`
	SkipVerify bool   `mapstructure:"skip_verify"`
	Auth       string `mapstructure:"auth"`
}

func (c Connection) clientKey() string {
	return fmt.Sprintf("vault:%s|%s|%s|%t", c.Addr, c.Namespace, c.Auth, c.SkipVerify)
}

// Client is the part of the Vault API used by the backends.
type Client interface {
	// ReadKV returns the secret at path of a KV engine of the
	// given version (1 or 2).
	ReadKV(ctx context.Context, version int, mount, path string) (map[string]interface{}, error)
	// WriteKV replaces the secret at path of a KV engine.
	WriteKV(ctx context.Context, version int, mount, path string, data map[string]interface{}) error
	// Write writes to a logical path and returns the response data.
	Write(ctx context.Context, path string, data map[string]interface{}) (map[string]interface{}, error)
}

// ClientFor returns the client for conn, logging in on first use.
func ClientFor(ctx context.Context, clients *provider.BackendClients, conn Connection) (Client, error) {
	return provider.Client(clients, conn.clientKey(), func() (Client, error) {
		return Connect(ctx, conn)
	})
}

// PutClient installs client for conn in clients.
func PutClient(clients *provider.BackendClients, conn Connection, client Client) {
	clients.Put(conn.clientKey(), client)
}

// Connect logs in to Vault.
func Connect(ctx context.Context, conn Connection) (Client, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, errors.Annotate(cfg.Error, "reading Vault configuration")
	}
	if conn.Addr != "" {
		cfg.Address = conn.Addr
	}
	if conn.SkipVerify {
		if err := cfg.ConfigureTLS(&api.TLSConfig{Insecure: true}); err != nil {
			return nil, errors.Trace(err)
		}
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.Annotate(err, "creating Vault client")
	}
	if conn.Namespace != "" {
		client.SetNamespace(conn.Namespace)
	}
	if err := login(ctx, client, conn.Auth); err != nil {
		return nil, errors.Annotatef(err, "logging in to Vault at %s with %s", cfg.Address, conn.Auth)
	}
	logger.Debugf("connected to Vault at %s", cfg.Address)
	return apiClient{client}, nil
}

func login(ctx context.Context, client *api.Client, auth string) error {
	var (
		path string
		data map[string]interface{}
	)
	switch auth {
	case "", AuthToken:
		if client.Token() == "" {
			return errors.NotValidf("empty VAULT_TOKEN")
		}
		return nil
	case AuthUserpass, AuthLDAP:
		user, err := requireEnv("VAULT_USERNAME")
		if err != nil {
			return errors.Trace(err)
		}
		password, err := requireEnv("VAULT_PASSWORD")
		if err != nil {
			return errors.Trace(err)
		}
		path = fmt.Sprintf("auth/%s/login/%s", auth, user)
		data = map[string]interface{}{"password": password}
	case AuthAppRole:
		roleID, err := requireEnv("VAULT_ROLE_ID")
		if err != nil {
			return errors.Trace(err)
		}
		secretID, err := requireEnv("VAULT_SECRET_ID")
		if err != nil {
			return errors.Trace(err)
		}
		path = "auth/approle/login"
		data = map[string]interface{}{"role_id": roleID, "secret_id": secretID}
	case AuthGitHub:
		token, err := requireEnv("VAULT_TOKEN")
		if err != nil {
			return errors.Trace(err)
		}
		path = "auth/github/login"
		data = map[string]interface{}{"token": token}
	default:
		return errors.NotSupportedf("auth method %q", auth)
	}
	secret, err := client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return classify(err, "login")
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return errors.Errorf("no client token in %s response", path)
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

func requireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", errors.NotValidf("empty %s", name)
	}
	return v, nil
}

type apiClient struct {
	client *api.Client
}

func (c apiClient) ReadKV(ctx context.Context, version int, mount, path string) (map[string]interface{}, error) {
	var (
		secret *api.KVSecret
		err    error
	)
	switch version {
	case 1:
		secret, err = c.client.KVv1(mount).Get(ctx, path)
	case 2:
		secret, err = c.client.KVv2(mount).Get(ctx, path)
	default:
		return nil, errors.NotSupportedf("KV engine version %d", version)
	}
	if err != nil {
		return nil, classify(err, fmt.Sprintf("secret %s/%s", mount, path))
	}
	return secret.Data, nil
}

func (c apiClient) WriteKV(ctx context.Context, version int, mount, path string, data map[string]interface{}) error {
	var err error
	switch version {
	case 1:
		err = c.client.KVv1(mount).Put(ctx, path, data)
	case 2:
		_, err = c.client.KVv2(mount).Put(ctx, path, data)
	default:
		return errors.NotSupportedf("KV engine version %d", version)
	}
	return classify(err, fmt.Sprintf("secret %s/%s", mount, path))
}

func (c apiClient) Write(ctx context.Context, path string, data map[string]interface{}) (map[string]interface{}, error) {
	secret, err := c.client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, classify(err, path)
	}
	if secret == nil {
		return nil, nil
	}
	return secret.Data, nil
}

// ParamsFrom returns the vault_params for a new ref: explicit params
// win over the target's inventory.
func ParamsFrom(
	params provider.CreateParams, inv provider.Inventory, backendType string, fields schema.Fields, defaults schema.Defaults,
) (map[string]interface{}, error) {
	raw := params.VaultParams
	if raw == nil {
		var err error
		if raw, err = params.TargetParams(inv, backendType); err != nil {
			return nil, errors.Trace(err)
		}
	}
	allFields := schema.Fields{}
	allDefaults := schema.Defaults{}
	for k, v := range ConnectionFields {
		allFields[k] = v
	}
	for k, v := range ConnectionDefaults {
		allDefaults[k] = v
	}
	for k, v := range fields {
		allFields[k] = v
	}
	for k, v := range defaults {
		allDefaults[k] = v
	}
	coerced, err := provider.CoerceParams(allFields, allDefaults, raw)
	return coerced, errors.Annotate(err, "vault_params")
}

// VaultParams returns the persisted vault_params of a ref.
func VaultParams(refParams map[string]interface{}) (map[string]interface{}, error) {
	switch v := refParams[ParamsKey].(type) {
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = item
		}
		return out, nil
	case nil:
		return map[string]interface{}{}, nil
	}
	return nil, errors.NotValidf("vault_params of type %T", refParams[ParamsKey])
}

// ParamsKey is the persisted field holding the vault_params.
const ParamsKey = "vault_params"

// DecodeConnection decodes the connection part of vault_params.
func DecodeConnection(vaultParams map[string]interface{}) (Connection, error) {
	var conn Connection
	err := provider.DecodeParams(vaultParams, &conn)
	return conn, errors.Annotate(err, "decoding vault_params")
}
