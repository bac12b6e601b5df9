package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/wire"
)

// Handler is how transport hands an admitted connection, and every frame
// it reads, to the rest of the system. internal/gateway.Gateway implements
// this (cmd/loomd wires it in) to assign
// a ids.SessionId, call broker.Core.RegisterSession with the Conn as its
// ports.Sink, and route inbound frames to the broker or shared document
// authority by wire.Frame.Type. transport itself never imports broker or
// shareddoc, matching §4.14's "broker core never depends on the transport
// package" boundary in reverse.
type Handler interface {
	// Authenticate validates the request before the websocket upgrade and
	// returns the authenticated user id, or ok=false to reject with 401.
	Authenticate(r *http.Request) (userID string, ok bool)

	// Admit is called once per accepted connection, after the websocket
	// upgrade succeeds. It must register sink and return the session id
	// assigned to it; it is the only place a new ids.SessionId is minted.
	Admit(ctx context.Context, connID, userID string, sink *Conn) ids.SessionId

	// Dispatch is called once per frame read from sid's connection.
	Dispatch(sid ids.SessionId, frame wire.Frame)

	// Dismiss is called once the connection has closed (reader loop
	// exited), to unregister the session from the broker.
	Dismiss(sid ids.SessionId)
}

// Server accepts websocket connections and wires each one's reader/writer
// loops to a Handler. One Server serves every editor-session connection in
// the process.
type Server struct {
	handler Handler
	log     *slog.Logger
}

// NewServer constructs a Server backed by handler.
func NewServer(handler Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{handler: handler, log: log}
}

// ServeHTTP implements http.Handler: it authenticates the request, upgrades
// to a websocket, and blocks running the connection's reader/writer loops
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.handler.Authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}

	conn := newConn(ws)
	ctx := r.Context()

	sid := s.handler.Admit(ctx, conn.ID, userID, conn)
	s.log.Info("session admitted", "session", sid, "conn", conn.ID, "user", userID)
	defer func() {
		s.handler.Dismiss(sid)
		s.log.Info("session dismissed", "session", sid, "conn", conn.ID)
	}()

	go conn.writeLoop(ctx)
	conn.readLoop(ctx, func(frame wire.Frame) {
		s.handler.Dispatch(sid, frame)
	})
}
