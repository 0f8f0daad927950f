package main

import (
	"context"
	"os/signal"
)

// withShutdown returns a context cancelled on the first shutdown signal.
func withShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}
