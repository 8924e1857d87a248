// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azkms_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/azkms"
)

const vaultURL = "https://ops.vault.azure.net"

type azkmsSuite struct {
	testing.IsolationSuite

	client  *MockClient
	backend provider.SecretBackend
}

var _ = gc.Suite(&azkmsSuite{})

type fakeInventory map[string]interface{}

func (f fakeInventory) BackendParams(target, backendType string) (map[string]interface{}, error) {
	if target != "prod" || backendType != "azkms" {
		return nil, errors.NotFoundf("target %q", target)
	}
	return f, nil
}

func (s *azkmsSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.client = NewMockClient(ctrl)
	clients := provider.NewBackendClients()
	clients.Put(azkms.ClientKey(vaultURL), azkms.Client(s.client))
	var err error
	s.backend, err = azkms.NewBackend(provider.BackendConfig{
		Clients:   clients,
		Inventory: fakeInventory{"key": "db-key/v2", "vault_name": "ops", "algorithm": "RSA-OAEP"},
		Caller:    provider.NewCaller(provider.CallConfig{Attempts: 3, Delay: time.Millisecond}, nil),
	})
	c.Assert(err, jc.ErrorIsNil)
	return ctrl
}

func operation(algorithm azkeys.EncryptionAlgorithm, value string) azkeys.KeyOperationParameters {
	return azkeys.KeyOperationParameters{Algorithm: to.Ptr(algorithm), Value: []byte(value)}
}

func (s *azkmsSuite) TestParseKeyID(c *gc.C) {
	id, err := azkms.ParseKeyID(vaultURL+"/keys/k/123", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(id, jc.DeepEquals, azkms.KeyID{VaultURL: vaultURL, Name: "k", Version: "123"})

	id, err = azkms.ParseKeyID("k", "ops")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(id, jc.DeepEquals, azkms.KeyID{VaultURL: vaultURL, Name: "k"})

	_, err = azkms.ParseKeyID("k", "")
	c.Assert(err, gc.ErrorMatches, `key "k" without vault_name not valid`)

	_, err = azkms.ParseKeyID(vaultURL+"/secrets/k", "")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *azkmsSuite) TestRoundTripKeyIdentifier(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	gomock.InOrder(
		s.client.EXPECT().Encrypt(gomock.Any(), "k", "", operation(azkeys.EncryptionAlgorithmRSAOAEP256, "hello"), nil).
			Return(azkeys.EncryptResponse{KeyOperationResult: azkeys.KeyOperationResult{Result: []byte("cipher")}}, nil),
		s.client.EXPECT().Decrypt(gomock.Any(), "k", "", operation(azkeys.EncryptionAlgorithmRSAOAEP256, "cipher"), nil).
			Return(azkeys.DecryptResponse{KeyOperationResult: azkeys.KeyOperationResult{Result: []byte("hello")}}, nil),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{
		Path: "p",
		Key:  vaultURL + "/keys/k",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Params, jc.DeepEquals, map[string]interface{}{
		"key":       vaultURL + "/keys/k",
		"algorithm": "RSA-OAEP-256",
	})
	plaintext, err := s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "hello")
}

func (s *azkmsSuite) TestTargetParams(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.client.EXPECT().Encrypt(gomock.Any(), "db-key", "v2", operation(azkeys.EncryptionAlgorithmRSAOAEP, "hello"), nil).
		Return(azkeys.EncryptResponse{KeyOperationResult: azkeys.KeyOperationResult{Result: []byte("cipher")}}, nil)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{
		Path:   "p",
		Target: "prod",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Params, jc.DeepEquals, map[string]interface{}{
		"key":        "db-key/v2",
		"vault_name": "ops",
		"algorithm":  "RSA-OAEP",
	})
}

func (s *azkmsSuite) TestMockKey(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{Path: "p", Key: "mock"})
	c.Assert(err, jc.ErrorIsNil)
	plaintext, err := s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "hello")
}

func (s *azkmsSuite) TestInvalidAlgorithm(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.client.EXPECT().Encrypt(gomock.Any(), "k", "", gomock.Any(), nil).
		Return(azkeys.EncryptResponse{KeyOperationResult: azkeys.KeyOperationResult{Result: []byte("cipher")}}, nil)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{Path: "p", Key: vaultURL + "/keys/k"})
	c.Assert(err, jc.ErrorIsNil)
	ref.Params["algorithm"] = "ROT13"
	_, err = s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIs, provider.ErrPermanent)
}

func (s *azkmsSuite) TestForbidden(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.client.EXPECT().Encrypt(gomock.Any(), "k", "", gomock.Any(), nil).Return(azkeys.EncryptResponse{}, &azcore.ResponseError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  "Forbidden",
		RawResponse: &http.Response{
			StatusCode: http.StatusForbidden,
			Request:    httptest.NewRequest(http.MethodPost, vaultURL+"/keys/k/encrypt", nil),
		},
	}).Times(1)

	_, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{Path: "p", Key: vaultURL + "/keys/k"})
	c.Assert(err, jc.ErrorIs, provider.PermissionDenied)
}
