// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refscmd

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/kapicorp/kapitan/internal/refs"
)

const compileDoc = `
Compiles a template: every tag is replaced by its hash stamped form, or
by a self-contained embedded tag with --embed-refs. Function chain refs
that do not exist yet are created, using the backend parameters of
--target.

Examples:
    kapitan-refs compile -f templates/app.yml -t prod
    kapitan-refs compile -f - --embed-refs < templates/app.yml
`

type compileCommand struct {
	refsCommandBase

	file      string
	target    string
	embedRefs bool
}

// NewCompileCommand returns a command compiling tags.
func NewCompileCommand() cmd.Command {
	return &compileCommand{}
}

// Info implements cmd.Command.
func (c *compileCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "compile",
		Purpose: "Compile the tags of a template.",
		Doc:     compileDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *compileCommand) SetFlags(f *gnuflag.FlagSet) {
	c.refsCommandBase.SetFlags(f)
	f.StringVar(&c.file, "f", "", "template to compile, - for standard input")
	f.StringVar(&c.file, "file", "", "")
	f.StringVar(&c.target, "t", "", "target whose inventory holds backend parameters")
	f.StringVar(&c.target, "target", "", "")
	f.BoolVar(&c.embedRefs, "embed-refs", false, "embed the encrypted refs in the output")
}

// Init implements cmd.Command.
func (c *compileCommand) Init(args []string) error {
	if c.file == "" {
		return errors.New("must specify a template with -f")
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *compileCommand) Run(ctxt *cmd.Context) error {
	controller, err := c.newController(ctxt, c.embedRefs)
	if err != nil {
		return errors.Trace(err)
	}
	revealer, err := refs.NewRevealer(controller, refs.RevealerOptions{Target: c.target})
	if err != nil {
		return errors.Trace(err)
	}
	ctx := commandContext()

	var out string
	if c.file == "-" {
		data, err := readInput(ctxt, c.file)
		if err != nil {
			return errors.Trace(err)
		}
		out, err = revealer.CompileRaw(ctx, string(data))
		if err != nil {
			return errors.Trace(err)
		}
	} else {
		out, err = revealer.CompileFile(ctx, ctxt.AbsPath(c.file))
		if err != nil {
			return errors.Trace(err)
		}
	}
	fmt.Fprint(ctxt.Stdout, out)
	return nil
}
