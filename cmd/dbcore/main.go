// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Command dbcore is an operator-facing entry point around the core
// library: it is never the RPC bridge a host plugin process embeds
// (that wiring is out of this repository's scope), only a standalone
// tool for running migrations, exercising the command surface by
// hand, and serving Prometheus metrics during local development.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
