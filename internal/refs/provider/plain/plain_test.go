// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package plain_test

import (
	"context"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/plain"
)

type plainSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&plainSuite{})

func (s *plainSuite) TestRoundTrip(c *gc.C) {
	backend, err := plain.NewBackend(provider.BackendConfig{})
	c.Assert(err, jc.ErrorIsNil)
	ref, err := backend.Encrypt(context.Background(), []byte("not a secret"), provider.CreateParams{Path: "cfg/name"})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ref.Data, gc.Equals, "not a secret")
	c.Assert(backend.Dump(ref), jc.DeepEquals, refs.Record{
		"type":     "plain",
		"data":     "not a secret",
		"encoding": "original",
	})

	plaintext, err := backend.Decrypt(context.Background(), ref)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(plaintext), gc.Equals, "not a secret")
}
