// Package ports declares the narrow interfaces through which the broker
// core and syntax manager consume external collaborators, one file per
// concern, mirroring the teacher's internal/interfaces layout.
package ports

import (
	"context"

	"github.com/loomcode/loom/internal/wire"
)

// ServerHandle is an opaque reference to a launched LSP server process.
type ServerHandle interface {
	// Wait blocks until the process exits and returns its exit error, if
	// any. Cancelling ctx does not kill the process; use Terminate.
	Wait(ctx context.Context) error
}

// StatusEvent reports a launched server's lifecycle transitions.
type StatusEvent struct {
	Status wire.ServerStatus
	Err    error
}

// Launcher starts and stops LSP server processes. The broker never talks
// to an OS process directly; it only ever holds a ServerHandle.
type Launcher interface {
	Launch(ctx context.Context, cfg wire.LaunchConfig) (ServerHandle, <-chan StatusEvent, error)
	Terminate(handle ServerHandle) error
}
