package ports

import (
	"errors"

	"github.com/loomcode/loom/internal/wire"
)

// ErrSinkClosed is returned by Sink.Send once the underlying connection has
// gone away; callers treat it the same as a disconnect.
var ErrSinkClosed = errors.New("ports: sink closed")

// Sink is the narrow outbound half of a session's wire connection. The
// broker core and shared document authority push frames out through a Sink
// without knowing whether the transport is a websocket, an in-process
// channel (tests), or anything else.
type Sink interface {
	Send(frame wire.Frame) error
	Close() error
}
