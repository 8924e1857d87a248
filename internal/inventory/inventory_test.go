// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package inventory_test

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/kapicorp/kapitan/internal/inventory"
)

type inventorySuite struct {
	testing.IsolationSuite

	inv *inventory.Inventory
}

var _ = gc.Suite(&inventorySuite{})

const prodTarget = `
parameters:
  kapitan:
    secrets:
      gpg:
        recipients:
          - name: ops@example.com
          - fingerprint: ABCDEF
      gkms:
        key: projects/p/locations/l/keyRings/r/cryptoKeys/k
      awskms: not-a-map
`

func (s *inventorySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	root := c.MkDir()
	c.Assert(os.MkdirAll(filepath.Join(root, "targets"), 0755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(root, "targets", "prod.yml"), []byte(prodTarget), 0644), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(root, "targets", "dev.yaml"), []byte("parameters: {}\n"), 0644), jc.ErrorIsNil)
	s.inv = inventory.New(root)
}

func (s *inventorySuite) TestBackendParams(c *gc.C) {
	params, err := s.inv.BackendParams("prod", "gkms")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(params, jc.DeepEquals, map[string]interface{}{
		"key": "projects/p/locations/l/keyRings/r/cryptoKeys/k",
	})

	params, err = s.inv.BackendParams("prod", "gpg")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(params["recipients"], jc.DeepEquals, []interface{}{
		map[string]interface{}{"name": "ops@example.com"},
		map[string]interface{}{"fingerprint": "ABCDEF"},
	})
}

func (s *inventorySuite) TestMissing(c *gc.C) {
	_, err := s.inv.BackendParams("prod", "vaultkv")
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	_, err = s.inv.BackendParams("dev", "gpg")
	c.Assert(err, gc.ErrorMatches, `parameters.kapitan.secrets.gpg in target "dev" not found`)

	_, err = s.inv.BackendParams("staging", "gpg")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *inventorySuite) TestInvalid(c *gc.C) {
	_, err := s.inv.BackendParams("prod", "awskms")
	c.Assert(err, jc.ErrorIs, errors.NotValid)

	_, err = s.inv.BackendParams("../prod", "gpg")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
