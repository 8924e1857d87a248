// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package all_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/all"
)

type allSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&allSuite{})

func (s *allSuite) TestRegistersEveryBackend(c *gc.C) {
	reg, err := provider.NewRegistry(provider.BackendConfig{
		Clients: provider.NewBackendClients(),
		Caller:  provider.NewCaller(provider.CallConfig{}, nil),
	}, all.Factories())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(reg.Types(), jc.DeepEquals, []string{
		"age", "awskms", "azkms", "base64", "env", "gkms", "gpg", "plain", "vaultkv", "vaulttransit",
	})
}
