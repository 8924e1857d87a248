// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"

	"github.com/kapicorp/kapitan/cmd/kapitan/refscmd"
)

// exitErr is returned when the command context cannot be set up.
const exitErr = 2

// StartupLoggingConfigEnvKey configures logging before the command
// line is parsed.
const StartupLoggingConfigEnvKey = "KAPITAN_STARTUP_LOGGING_CONFIG"

func init() {
	// An empty config leaves the default loggers untouched.
	if err := loggo.ConfigureLoggers(os.Getenv(StartupLoggingConfigEnvKey)); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR parsing %s: %s\n\n", StartupLoggingConfigEnvKey, err)
	}
}

// Main runs kapitan-refs with args and returns its exit code.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitErr
	}
	return cmd.Main(refscmd.NewSuperCommand(), ctx, args[1:])
}

func main() {
	os.Exit(Main(os.Args))
}
