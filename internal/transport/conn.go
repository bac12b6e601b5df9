// Package transport implements the broker-side half of the wire protocol
// over a websocket connection: a ports.Sink adapter plus the per-
// connection reader-loop/writer-goroutine pair. Grounded on the teacher's
// internal/relay.handleDaemonWS/handleClientWS pattern (reader loop,
// buffered Send channel drained by a writer goroutine so a slow client
// cannot block the sender), generalized from the teacher's daemon/client
// split to the broker's single symmetric editor-session protocol.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

// Conn is a ports.Sink backed by one accepted websocket connection. A full
// Send buffer or a Write error closes the connection; its reader loop then
// ends and Server calls Handler.Dismiss, the same session-cleanup path used
// for any other disconnect.
type Conn struct {
	ID   string // google/uuid-derived, for access-log correlation only
	ws   *websocket.Conn
	send chan wire.Frame
	done chan struct{}
}

var _ ports.Sink = (*Conn)(nil)

// newConn wraps an already-accepted websocket connection.
func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ID:   uuid.New().String(),
		ws:   ws,
		send: make(chan wire.Frame, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send implements ports.Sink. It never blocks on the network: frames queue
// onto a bounded buffer drained by the connection's writer goroutine, and
// a full buffer is treated as a dead connection.
func (c *Conn) Send(frame wire.Frame) error {
	select {
	case <-c.done:
		return ports.ErrSinkClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ports.ErrSinkClosed
	default:
		c.Close()
		return ports.ErrSinkClosed
	}
}

// Close implements ports.Sink.
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}

// writeLoop drains c.send onto the websocket until ctx is cancelled, the
// connection closes, or a write fails. It owns all writes to c.ws so the
// reader goroutine never writes directly.
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop reads frames off the websocket until it closes or ctx is
// cancelled, invoking onFrame for each one successfully decoded. Frames
// that fail to unmarshal are dropped rather than terminating the
// connection, matching the teacher's tolerant reader loop.
func (c *Conn) readLoop(ctx context.Context, onFrame func(wire.Frame)) {
	defer c.Close()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		onFrame(frame)
	}
}

func (c *Conn) String() string {
	return fmt.Sprintf("transport.Conn(%s)", c.ID)
}
