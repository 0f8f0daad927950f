//go:build windows

package main

import "os"

// shutdownSignals stop a run or the MCP server cleanly. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
