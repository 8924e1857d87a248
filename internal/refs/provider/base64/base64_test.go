// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package base64_test

import (
	"context"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/base64"
)

type base64Suite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&base64Suite{})

func (s *base64Suite) TestRoundTrip(c *gc.C) {
	backend, err := base64.NewBackend(provider.BackendConfig{})
	c.Assert(err, jc.ErrorIsNil)
	ref, err := backend.Encrypt(context.Background(), []byte("hi"), provider.CreateParams{Path: "secret/x"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Data, gc.Equals, "aGk=")

	plaintext, err := backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "hi")
}

func (s *base64Suite) TestCorruptData(c *gc.C) {
	backend, err := base64.NewBackend(provider.BackendConfig{})
	c.Assert(err, jc.ErrorIsNil)
	_, err = backend.Decrypt(context.Background(), &refs.Ref{Type: "base64", Path: "p", Data: "%%%"})
	c.Assert(err, jc.ErrorIs, refs.ErrRef)
}
