// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gpg_test

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/gpg"
)

const listKeysOutput = `tru::1:1700000000:0:3:1:5
pub:e:4096:1:AAAA000000000001:1500000000:1600000000::-:::sc::::::23::0:
fpr:::::::::EXPIRED0000000000000000000000000000001:
uid:e::::1500000000::1111::Ops <ops@example.com>::::::::::0:
pub:u:4096:1:BBBB000000000002:1700000000:4102444800::u:::scESC::::::23::0:
fpr:::::::::VALID00000000000000000000000000000000002:
uid:u::::1700000000::2222::Ops <ops@example.com>::::::::::0:
sub:u:4096:1:CCCC000000000003:1700000000:4102444800:::::e::::::23:
fpr:::::::::SUBKEY0000000000000000000000000000000003:
`

type gpgSuite struct {
	testing.IsolationSuite

	runner  *MockRunner
	backend provider.SecretBackend
}

var _ = gc.Suite(&gpgSuite{})

func (s *gpgSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.runner = NewMockRunner(ctrl)
	clients := provider.NewBackendClients()
	clients.Put(gpg.RunnerKey, gpg.Runner(s.runner))
	var err error
	s.backend, err = gpg.NewBackend(provider.BackendConfig{
		Clients: clients,
		Caller:  provider.NewCaller(provider.CallConfig{Attempts: 2, Delay: time.Millisecond}, nil),
	})
	c.Assert(err, jc.ErrorIsNil)
	return ctrl
}

// recipientCipher "encrypts" by prefixing the recipient list.
func recipientCipher(_ context.Context, stdin []byte, args ...string) ([]byte, error) {
	switch args[0] {
	case "--encrypt":
		var recipients []string
		for i, a := range args {
			if a == "--recipient" {
				recipients = append(recipients, args[i+1])
			}
		}
		return append([]byte(strings.Join(recipients, ",")+"|"), stdin...), nil
	case "--decrypt":
		i := bytes.IndexByte(stdin, '|')
		return stdin[i+1:], nil
	}
	return nil, errors.NotSupportedf("gpg %v", args)
}

func (s *gpgSuite) TestEncryptResolvesNames(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	gomock.InOrder(
		s.runner.EXPECT().Run(gomock.Any(), nil, "--list-keys", "--with-colons", "--fixed-list-mode", "ops@example.com").
			Return([]byte(listKeysOutput), nil),
		s.runner.EXPECT().Run(gomock.Any(), []byte("hello"),
			"--encrypt", "--sign", "--trust-model", "always",
			"--recipient", "VALID00000000000000000000000000000000002",
			"--recipient", "ABCDEF",
		).Return([]byte("cipher"), nil),
		s.runner.EXPECT().Run(gomock.Any(), []byte("cipher"), "--decrypt").Return([]byte("hello"), nil),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{
		Path: "p",
		Recipients: []provider.Recipient{
			{Name: "ops@example.com"},
			{Fingerprint: "ABCDEF"},
		},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Params["recipients"], jc.DeepEquals, []interface{}{
		map[string]interface{}{"name": "ops@example.com", "fingerprint": "VALID00000000000000000000000000000000002"},
		map[string]interface{}{"fingerprint": "ABCDEF"},
	})

	plaintext, err := s.backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "hello")
}

func (s *gpgSuite) TestUnknownName(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.runner.EXPECT().Run(gomock.Any(), nil, "--list-keys", "--with-colons", "--fixed-list-mode", "nobody@example.com").
		Return(nil, provider.Permanent(errors.New("gpg --list-keys: error reading key: No public key"))).Times(1)

	_, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{
		Path:       "p",
		Recipients: []provider.Recipient{{Name: "nobody@example.com"}},
	})
	c.Assert(err, jc.ErrorIs, provider.ErrPermanent)
}

func (s *gpgSuite) TestTransientFailureRetried(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	gomock.InOrder(
		s.runner.EXPECT().Run(gomock.Any(), []byte("hello"), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("gpg-agent not ready")),
		s.runner.EXPECT().Run(gomock.Any(), []byte("hello"), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return([]byte("cipher"), nil),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{
		Path:       "p",
		Recipients: []provider.Recipient{{Fingerprint: "ABCDEF"}},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Data, gc.Equals, provider.EncodeData([]byte("cipher")))
}

func (s *gpgSuite) TestNoRecipients(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	_, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{Path: "p"})
	c.Assert(err, gc.ErrorMatches, `gpg ref "p": no recipients not valid`)
}

func (s *gpgSuite) TestUpdateRecipients(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	encryptArgs := []any{"--encrypt", "--sign", "--trust-model", "always", "--recipient", "ABCDEF"}
	gomock.InOrder(
		s.runner.EXPECT().Run(gomock.Any(), []byte("hello"), encryptArgs...).DoAndReturn(recipientCipher),
		s.runner.EXPECT().Run(gomock.Any(), gomock.Any(), "--decrypt").DoAndReturn(recipientCipher),
		s.runner.EXPECT().Run(gomock.Any(), []byte("hello"), append(encryptArgs, "--recipient", "123456")...).
			DoAndReturn(recipientCipher),
	)

	ref, err := s.backend.Encrypt(context.Background(), []byte("hello"), provider.CreateParams{
		Path:       "p",
		Recipients: []provider.Recipient{{Fingerprint: "ABCDEF"}},
	})
	c.Assert(err, jc.ErrorIsNil)
	updater := s.backend.(provider.RecipientsUpdater)

	changed, err := updater.UpdateRecipients(context.Background(), ref, []provider.Recipient{{Fingerprint: "abcdef"}})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(changed, jc.IsFalse)

	changed, err = updater.UpdateRecipients(context.Background(), ref, []provider.Recipient{
		{Fingerprint: "ABCDEF"}, {Fingerprint: "123456"},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(changed, jc.IsTrue)
	data, err := provider.DecodeData(ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(data), gc.Equals, "ABCDEF,123456|hello")
}
