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

const revealDoc = `
Reveals refs. With --tag the plaintext of a single tag is printed.
With -f every tag in the file, or in every file below the directory, is
replaced by its plaintext; YAML and JSON files are revealed as documents.
Use -f - to reveal standard input.

Examples:
    kapitan-refs reveal --tag '?{gpg:app/password}'
    kapitan-refs reveal -f compiled/prod/manifests
    cat secret.yml | kapitan-refs reveal -f -
`

type revealCommand struct {
	refsCommandBase

	tag  string
	file string
}

// NewRevealCommand returns a command revealing refs.
func NewRevealCommand() cmd.Command {
	return &revealCommand{}
}

// Info implements cmd.Command.
func (c *revealCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "reveal",
		Purpose: "Reveal refs in a tag, file or directory.",
		Doc:     revealDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *revealCommand) SetFlags(f *gnuflag.FlagSet) {
	c.refsCommandBase.SetFlags(f)
	f.StringVar(&c.tag, "tag", "", "tag to reveal")
	f.StringVar(&c.file, "f", "", "file or directory to reveal, - for standard input")
	f.StringVar(&c.file, "file", "", "")
}

// Init implements cmd.Command.
func (c *revealCommand) Init(args []string) error {
	if (c.tag == "") == (c.file == "") {
		return errors.New("specify one of --tag or -f")
	}
	if c.tag != "" {
		tags, err := corerefs.FindTags(c.tag)
		if err != nil {
			return errors.Trace(err)
		}
		if len(tags) != 1 {
			return errors.Errorf("--tag must hold exactly one tag, got %d", len(tags))
		}
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *revealCommand) Run(ctxt *cmd.Context) error {
	controller, err := c.newController(ctxt, false)
	if err != nil {
		return errors.Trace(err)
	}
	revealer, err := refs.NewRevealer(controller, refs.RevealerOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	ctx := commandContext()

	switch {
	case c.tag != "":
		out, err := revealer.RevealRaw(ctx, c.tag)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintln(ctxt.Stdout, out)
	case c.file == "-":
		data, err := readInput(ctxt, c.file)
		if err != nil {
			return errors.Trace(err)
		}
		out, err := revealer.RevealRaw(ctx, string(data))
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprint(ctxt.Stdout, out)
	default:
		outputs, err := revealer.RevealPath(ctx, ctxt.AbsPath(c.file))
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(refs.WriteOutputs(ctxt.Stdout, outputs))
	}
	return nil
}
