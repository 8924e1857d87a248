// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package refscmd holds the kapitan-refs commands, which write, reveal,
// compile and update refs in a ref store.
package refscmd

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/kapicorp/kapitan/internal/inventory"
	"github.com/kapicorp/kapitan/internal/refs"
	"github.com/kapicorp/kapitan/internal/refs/provider"
	"github.com/kapicorp/kapitan/internal/refs/provider/all"
)

var logger = loggo.GetLogger("kapitan.cmd.refs")

const (
	// LoggingConfigEnvKey names the environment variable holding the
	// default logging config, e.g. "<root>=INFO;kapitan.refs=DEBUG".
	LoggingConfigEnvKey = "KAPITAN_LOGGING_CONFIG"

	defaultRefsPath      = "refs"
	defaultInventoryPath = "inventory"
)

const superDoc = `
kapitan-refs manages refs: secret values kept encrypted in a ref store
and referenced from templates with ?{type:path} tags.

Supported ref types: ` + "plain, base64, env, gpg, age, awskms, gkms, azkms, vaultkv, vaulttransit" + `.
`

// NewSuperCommand returns the kapitan-refs command with every
// subcommand registered.
func NewSuperCommand() *cmd.SuperCommand {
	refsCmd := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "kapitan-refs",
		Purpose: "Manage kapitan refs.",
		Doc:     superDoc,
		Log: &cmd.Log{
			DefaultConfig: os.Getenv(LoggingConfigEnvKey),
		},
		NotifyRun: runNotifier,
	})
	refsCmd.Register(NewWriteCommand())
	refsCmd.Register(NewRevealCommand())
	refsCmd.Register(NewCompileCommand())
	refsCmd.Register(NewUpdateCommand())
	refsCmd.Register(NewListCommand())
	return refsCmd
}

func runNotifier(name string) {
	logger.Debugf("running %s [%s %s]", name, runtime.Compiler, runtime.Version())
}

// refsCommandBase holds the flags shared by every refs command.
type refsCommandBase struct {
	cmd.CommandBase

	refsPath      string
	inventoryPath string
}

// SetFlags implements cmd.Command.
func (c *refsCommandBase) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.refsPath, "refs-path", defaultRefsPath, "path to the ref store")
	f.StringVar(&c.inventoryPath, "inventory-path", defaultInventoryPath, "path to the inventory, used with --target")
}

func (c *refsCommandBase) newController(ctxt *cmd.Context, embedRefs bool) (*refs.Controller, error) {
	controller, err := refs.NewController(refs.Config{
		Path:      ctxt.AbsPath(c.refsPath),
		EmbedRefs: embedRefs,
		Factories: all.Factories(),
		Inventory: inventory.New(ctxt.AbsPath(c.inventoryPath)),
		Call:      provider.DefaultCallConfig(),
	})
	return controller, errors.Trace(err)
}

// parseRecipients splits a comma separated recipient list. Entries that
// look like email addresses are names; anything else is a fingerprint
// or public key.
func parseRecipients(s string) []provider.Recipient {
	var out []provider.Recipient
	for _, r := range strings.Split(s, ",") {
		r = strings.TrimSpace(r)
		switch {
		case r == "":
		case strings.Contains(r, "@"):
			out = append(out, provider.Recipient{Name: r})
		default:
			out = append(out, provider.Recipient{Fingerprint: r})
		}
	}
	return out
}

func commandContext() context.Context {
	return context.Background()
}

// readInput reads path, or standard input when path is "-".
func readInput(ctxt *cmd.Context, path string) ([]byte, error) {
	f := cmd.FileVar{Path: path, StdinMarkers: []string{"-"}}
	data, err := f.Read(ctxt)
	return data, errors.Trace(err)
}
