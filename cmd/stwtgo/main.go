// Package main is the stwtgo core's standalone CLI entrypoint: operational
// tooling (currently: backup-stream restore) that runs against a live
// store.Backend without going through the protocol-facing server process.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

// Exit codes: 0 success, 1 startup/configuration failure, 2 runtime fatal
// (e.g. a corrupt key encountered mid-restore).
const (
	exitOK       = 0
	exitStartup  = 1
	exitRuntime  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	root := &cobra.Command{
		Use:   "stwtgo",
		Short: "stwtgo core operational CLI",
	}
	root.AddCommand(newRestoreCmd())

	if err := root.Execute(); err != nil {
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		glog.Errorf("stwtgo: %v", err)
		return exitStartup
	}
	return exitOK
}

// exitCoder lets a subcommand distinguish a startup failure from a
// mid-run fatal without main needing to know command-specific detail.
type exitCoder interface {
	error
	ExitCode() int
}

type runtimeErr struct{ err error }

func (e *runtimeErr) Error() string { return e.err.Error() }
func (e *runtimeErr) ExitCode() int { return exitRuntime }
