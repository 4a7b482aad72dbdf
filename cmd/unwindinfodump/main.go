// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// unwindinfodump prints the compact unwind information
// (the __unwind_info section) of Mach-O binaries.
package main

import (
	"context"
	"os"
	"os/signal"

	"zb.256lights.llc/unwindinfo/internal/dump"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := dump.New()
	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		dump.InitLogging(false)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}
