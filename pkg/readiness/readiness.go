// Package readiness defines the Selector collaborator that drives
// Server.Wait (which builds its own via NewDefault) and Client.Wait (which
// takes one from the caller), plus the concrete implementations this repo
// ships so the server, the CLI and tests have one without writing their own.
package readiness

import (
	"context"
	"time"
)

// Selector reports which of a set of file descriptors are ready to be read
// from or written to, blocking up to timeout.
// A Selector implementation owns no Connection state; it is purely a
// readiness multiplexer over raw descriptors.
type Selector interface {
	// Select blocks until at least one of read/write is ready or timeout
	// elapses (a zero timeout means "return immediately with whatever is
	// currently ready"; a negative timeout blocks until something is
	// ready). ctx is checked once before waiting; cancelling it does not
	// interrupt a wait already in progress.
	Select(ctx context.Context, read, write []uintptr, timeout time.Duration) (readyRead, readyWrite []uintptr, err error)
	// Close releases any OS resources backing the selector.
	Close() error
}
