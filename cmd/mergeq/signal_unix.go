//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop a run or the MCP server cleanly.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
