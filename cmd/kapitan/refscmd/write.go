// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refscmd

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	corerefs "github.com/kapicorp/kapitan/core/refs"
	"github.com/kapicorp/kapitan/internal/refs"
)

const writeDoc = `
Writes a ref. The value is read from the file given with -f, or from
standard input with -f -. Existing refs are kept unless --force is given.

A tag with a function chain creates the ref from the chain instead and
needs no input.

Backend parameters are taken from the target's inventory when --target
is given; --key, --recipients and --vault-param override them.

Examples:
    kapitan-refs write plain:app/greeting -f greeting.txt
    kapitan-refs write gpg:app/password -f - --recipients ops@example.com
    kapitan-refs write awskms:app/token -f token.txt --key alias/kapitan
    kapitan-refs write vaultkv:app/db -f db.txt --vault-param auth=token --vault-param mount=kv
    kapitan-refs write '?{base64:app/cookie||randomstr:32}'
`

type writeCommand struct {
	refsCommandBase

	tag         string
	derived     bool
	file        string
	asBase64    bool
	force       bool
	target      string
	key         string
	recipients  string
	vaultParams map[string]string
}

// NewWriteCommand returns a command writing refs.
func NewWriteCommand() cmd.Command {
	return &writeCommand{}
}

// Info implements cmd.Command.
func (c *writeCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "write",
		Args:    "<type:path>|<tag>",
		Purpose: "Write a ref.",
		Doc:     writeDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *writeCommand) SetFlags(f *gnuflag.FlagSet) {
	c.refsCommandBase.SetFlags(f)
	f.StringVar(&c.file, "f", "", "file to read the value from, - for standard input")
	f.StringVar(&c.file, "file", "", "")
	f.BoolVar(&c.asBase64, "base64", false, "base64 encode the value and mark the ref as base64")
	f.BoolVar(&c.force, "force", false, "replace an existing ref")
	f.StringVar(&c.target, "t", "", "target whose inventory holds backend parameters")
	f.StringVar(&c.target, "target", "", "")
	f.StringVar(&c.key, "key", "", "KMS key or vault transit key")
	f.StringVar(&c.recipients, "recipients", "", "comma separated gpg or age recipients")
	f.Var(cmd.StringMap{Mapping: &c.vaultParams}, "vault-param", "vault parameter as key=value")
}

// Init implements cmd.Command.
func (c *writeCommand) Init(args []string) error {
	if len(args) < 1 {
		return errors.New("must specify the ref to write")
	}
	c.tag = args[0]
	if tag, err := corerefs.ParseTag(c.tag); err == nil {
		c.derived = tag.HasFuncChain()
	}
	switch {
	case c.derived && c.file != "":
		return errors.New("cannot use -f with a function chain tag")
	case !c.derived && c.file == "":
		return errors.New("must specify a file with -f")
	}
	return cmd.CheckEmpty(args[1:])
}

func (c *writeCommand) refParams() refs.RefParams {
	params := refs.RefParams{
		Target:     c.target,
		Key:        c.key,
		Recipients: parseRecipients(c.recipients),
	}
	if len(c.vaultParams) > 0 {
		params.VaultParams = make(map[string]interface{}, len(c.vaultParams))
		for k, v := range c.vaultParams {
			params.VaultParams[k] = v
		}
	}
	return params
}

// Run implements cmd.Command.
func (c *writeCommand) Run(ctxt *cmd.Context) error {
	controller, err := c.newController(ctxt, false)
	if err != nil {
		return errors.Trace(err)
	}
	ctx := commandContext()

	if c.derived {
		ref, err := controller.SetDerived(ctx, c.tag, c.refParams())
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintln(ctxt.Stdout, ref.Compile())
		return nil
	}

	data, err := readInput(ctxt, c.file)
	if err != nil {
		return errors.Trace(err)
	}
	encoding := corerefs.EncodingOriginal
	if c.asBase64 {
		encoding = corerefs.EncodingBase64
	}
	ref, err := controller.Create(ctx, c.tag, data, encoding, c.refParams())
	if err != nil {
		return errors.Trace(err)
	}
	if c.force {
		err = controller.Overwrite(ctx, c.tag, ref)
	} else {
		var written bool
		written, err = controller.Set(ctx, c.tag, ref)
		if err == nil && !written {
			err = errors.AlreadyExistsf("ref %s (use --force to replace it)", c.tag)
		}
	}
	if err != nil {
		return errors.Trace(err)
	}
	ctxt.Verbosef("wrote %s", ref.Token)
	fmt.Fprintln(ctxt.Stdout, ref.Compile())
	return nil
}
