// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv_test

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/vault"
	"github.com/kapicorp/kapitan/internal/refs/provider/vault/mocks"
	"github.com/kapicorp/kapitan/internal/refs/provider/vaultkv"
)

type vaultkvSuite struct {
	testing.IsolationSuite

	client  *mocks.MockClient
	backend provider.SecretBackend
}

var _ = gc.Suite(&vaultkvSuite{})

func (s *vaultkvSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.client = mocks.NewMockClient(ctrl)
	clients := provider.NewBackendClients()
	vault.PutClient(clients, vault.Connection{Addr: "https://vault:8200", Auth: "token"}, s.client)
	var err error
	s.backend, err = vaultkv.NewBackend(provider.BackendConfig{
		Clients: clients,
		Caller:  provider.NewCaller(provider.CallConfig{Attempts: 1, Delay: time.Millisecond}, nil),
	})
	c.Assert(err, jc.ErrorIsNil)
	return ctrl
}

func (s *vaultkvSuite) TestRoundTripV2(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	gomock.InOrder(
		s.client.EXPECT().ReadKV(gomock.Any(), 2, "secret", "apps/db/password").
			Return(nil, errors.NotFoundf("secret secret/apps/db/password")),
		s.client.EXPECT().WriteKV(gomock.Any(), 2, "secret", "apps/db/password",
			map[string]interface{}{"password": "hunter2"}).Return(nil),
		s.client.EXPECT().ReadKV(gomock.Any(), 2, "secret", "apps/db/password").
			Return(map[string]interface{}{"password": "hunter2"}, nil),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hunter2"), provider.CreateParams{
		Path:        "apps/db/password",
		VaultParams: map[string]interface{}{"addr": "https://vault:8200"},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Data, gc.Equals, provider.EncodeData([]byte("apps/db/password:password")))

	plaintext, err := s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "hunter2")
}

func (s *vaultkvSuite) TestV1KeepsOtherKeys(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	gomock.InOrder(
		s.client.EXPECT().ReadKV(gomock.Any(), 1, "kv", "shared").
			Return(map[string]interface{}{"other": "x"}, nil),
		s.client.EXPECT().WriteKV(gomock.Any(), 1, "kv", "shared",
			map[string]interface{}{"other": "x", "token": "v"}).Return(nil),
		s.client.EXPECT().ReadKV(gomock.Any(), 1, "kv", "shared").
			Return(map[string]interface{}{"other": "x", "token": "v"}, nil),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("v"), provider.CreateParams{
		Path: "refs/token",
		Key:  "token",
		VaultParams: map[string]interface{}{
			"addr":   "https://vault:8200",
			"engine": "kv",
			"mount":  "kv",
			"path":   "shared",
		},
	})
	c.Assert(err, jc.ErrorIsNil)

	plaintext, err := s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "v")
}

func (s *vaultkvSuite) TestReadFailureAborts(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.client.EXPECT().ReadKV(gomock.Any(), 2, "secret", "a/b").Return(nil, errors.New("sealed"))

	_, err := s.backend.Encrypt(context.Background(), []byte("v"), provider.CreateParams{
		Path:        "a/b",
		VaultParams: map[string]interface{}{"addr": "https://vault:8200"},
	})
	c.Assert(err, gc.ErrorMatches, ".*sealed")
}

func (s *vaultkvSuite) TestMissingKey(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	gomock.InOrder(
		s.client.EXPECT().ReadKV(gomock.Any(), 2, "secret", "a/b").Return(nil, errors.NotFoundf("secret")),
		s.client.EXPECT().WriteKV(gomock.Any(), 2, "secret", "a/b", gomock.Any()).Return(nil),
		s.client.EXPECT().ReadKV(gomock.Any(), 2, "secret", "a/b").Return(map[string]interface{}{}, nil),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("v"), provider.CreateParams{
		Path:        "a/b",
		VaultParams: map[string]interface{}{"addr": "https://vault:8200"},
	})
	c.Assert(err, jc.ErrorIsNil)

	_, err = s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(err, gc.ErrorMatches, `key "b" in Vault secret secret/a/b not found`)
}

func (s *vaultkvSuite) TestInvalidEngine(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	_, err := s.backend.Encrypt(context.Background(), []byte("v"), provider.CreateParams{
		Path:        "a/b",
		VaultParams: map[string]interface{}{"engine": "kv-v3"},
	})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
