// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refscmd

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	corerefs "github.com/kapicorp/kapitan/core/refs"
)

type listCommand struct {
	refsCommandBase

	refType string
}

// NewListCommand returns a command listing the stored refs.
func NewListCommand() cmd.Command {
	return &listCommand{}
}

// Info implements cmd.Command.
func (c *listCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "list",
		Purpose: "List the stored refs as hash stamped tags.",
	}
}

// SetFlags implements cmd.Command.
func (c *listCommand) SetFlags(f *gnuflag.FlagSet) {
	c.refsCommandBase.SetFlags(f)
	f.StringVar(&c.refType, "type", "", "only list refs of this type")
}

// Run implements cmd.Command.
func (c *listCommand) Run(ctxt *cmd.Context) error {
	controller, err := c.newController(ctxt, false)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(controller.Walk(commandContext(), func(ref *corerefs.Ref) error {
		if c.refType != "" && ref.Type != c.refType {
			return nil
		}
		_, err := fmt.Fprintln(ctxt.Stdout, ref.Compile())
		return err
	}))
}
