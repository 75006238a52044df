// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command gcl inspects devices and compute kernels and runs the bundled
// sample kernels.
//
// Usage:
//
//	gcl devices
//	gcl reflect kernel.spv
//	gcl run add --elements 16
//	gcl bench --elements 1048576 --reps 100
//
// Settings are read from $HOME/.gcl/config.yaml (or --config), GCL_*
// environment variables and flags, in increasing priority.
package main

import (
	"os"

	_ "github.com/gogpu/gcl/driver/soft" // registers the software backend
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
