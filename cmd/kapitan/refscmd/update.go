// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refscmd

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const updateDoc = `
Re-encrypts a stored ref under a new KMS or transit key, or to a new set
of gpg or age recipients. Refs that already use the key or recipients
are left untouched.

Examples:
    kapitan-refs update awskms:app/token --key alias/kapitan-2
    kapitan-refs update gpg:app/password --recipients ops@example.com,dev@example.com
`

type updateCommand struct {
	refsCommandBase

	tag        string
	key        string
	recipients string
}

// NewUpdateCommand returns a command updating the key or recipients of
// a ref.
func NewUpdateCommand() cmd.Command {
	return &updateCommand{}
}

// Info implements cmd.Command.
func (c *updateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "update",
		Args:    "<type:path>",
		Purpose: "Update the key or recipients of a ref.",
		Doc:     updateDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *updateCommand) SetFlags(f *gnuflag.FlagSet) {
	c.refsCommandBase.SetFlags(f)
	f.StringVar(&c.key, "key", "", "new KMS or transit key")
	f.StringVar(&c.recipients, "recipients", "", "new comma separated gpg or age recipients")
}

// Init implements cmd.Command.
func (c *updateCommand) Init(args []string) error {
	if len(args) < 1 {
		return errors.New("must specify the ref to update")
	}
	c.tag = args[0]
	if (c.key == "") == (c.recipients == "") {
		return errors.New("specify one of --key or --recipients")
	}
	return cmd.CheckEmpty(args[1:])
}

// Run implements cmd.Command.
func (c *updateCommand) Run(ctxt *cmd.Context) error {
	controller, err := c.newController(ctxt, false)
	if err != nil {
		return errors.Trace(err)
	}
	var changed bool
	if c.key != "" {
		changed, err = controller.UpdateKey(commandContext(), c.tag, c.key)
	} else {
		changed, err = controller.UpdateRecipients(commandContext(), c.tag, parseRecipients(c.recipients))
	}
	if err != nil {
		return errors.Trace(err)
	}
	if changed {
		ctxt.Infof("updated %s", c.tag)
	} else {
		ctxt.Infof("%s is unchanged", c.tag)
	}
	return nil
}
