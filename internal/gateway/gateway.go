// Package gateway implements internal/transport.Handler: it is the one
// place in the daemon that understands both the wire protocol's frame
// types and the broker/shared-document-authority actor APIs, per §4.14's
// "broker core never depends on transport or auth" boundary (the
// dependency instead runs through here).
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loomcode/loom/internal/auth"
	"github.com/loomcode/loom/internal/broker"
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/lsproute"
	"github.com/loomcode/loom/internal/metrics"
	"github.com/loomcode/loom/internal/shareddoc"
	"github.com/loomcode/loom/internal/syntaxdrive"
	"github.com/loomcode/loom/internal/transport"
	"github.com/loomcode/loom/internal/wire"
)

// Gateway wires one websocket connection's frames to the broker, the
// shared document authority, and the LSP process router.
type Gateway struct {
	validator *auth.Validator
	brk       *broker.Core
	docs      *shareddoc.Core
	router    *lsproute.Router
	driver    *syntaxdrive.Driver
	metrics   *metrics.Registry
	log       *slog.Logger

	sessions ids.SessionAllocator
}

// New constructs a Gateway. validator may be nil to admit every
// connection unauthenticated (useful for tests and trusted deployments).
func New(validator *auth.Validator, brk *broker.Core, docs *shareddoc.Core, router *lsproute.Router, driver *syntaxdrive.Driver, reg *metrics.Registry, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		validator: validator,
		brk:       brk,
		docs:      docs,
		router:    router,
		driver:    driver,
		metrics:   reg,
		log:       log,
	}
}

var (
	_ transport.Handler     = (*Gateway)(nil)
	_ shareddoc.Broadcaster = (*Gateway)(nil)
)

// BroadcastDocEvent implements shareddoc.Broadcaster, the out-of-band
// delivery path shareddoc's 1Hz idle-unlock tick uses since that tick has
// no waiting request to carry its broadcast back through.
func (g *Gateway) BroadcastDocEvent(participants []ids.SessionId, frame wire.Frame) {
	for _, p := range participants {
		g.brk.SendToSession(p, frame)
	}
}

// Authenticate implements transport.Handler. Per spec §4.14, the
// broker/authority core itself performs no auth check; this bearer-token
// validation is the daemon's one pre-admission gate.
func (g *Gateway) Authenticate(r *http.Request) (string, bool) {
	if g.validator == nil {
		return "anonymous", true
	}
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	claims, err := g.validator.Validate(token)
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

// Admit implements transport.Handler: it mints a session id and registers
// sink with the broker, the one canonical session-sink registry (spec
// §4.14, "session admission").
func (g *Gateway) Admit(ctx context.Context, connID, userID string, sink *transport.Conn) ids.SessionId {
	sid := g.sessions.Next()
	g.brk.RegisterSession(sid, sink)
	if g.metrics != nil {
		g.metrics.SessionsActive.Inc()
	}
	g.log.Info("session admitted", "session", sid, "conn", connID, "user", userID)
	return sid
}

// Dismiss implements transport.Handler.
func (g *Gateway) Dismiss(sid ids.SessionId) {
	g.brk.UnregisterSession(sid)
	if g.metrics != nil {
		g.metrics.SessionsActive.Dec()
	}
}

// Dispatch implements transport.Handler, routing one inbound frame to the
// shared document authority or the broker/LSP router by its type and
// writing a response frame back through sid's sink.
func (g *Gateway) Dispatch(sid ids.SessionId, frame wire.Frame) {
	if frame.Kind != wire.FrameRequest {
		return
	}
	if g.metrics != nil {
		g.metrics.BrokerCommands.Inc()
	}

	var resp wire.Frame
	switch frame.Type {
	case wire.ReqOpen:
		resp = g.handleOpen(sid, frame)
	case wire.ReqClose:
		resp = g.handleClose(sid, frame)
	case wire.ReqApply:
		resp = g.handleApply(sid, frame)
	case wire.ReqFocus:
		resp = g.handleFocus(sid, frame)
	case wire.ReqActivity:
		g.handleActivity(sid, frame)
		return
	case wire.ReqResync:
		resp = g.handleResync(sid, frame)
	case wire.ReqViewport:
		resp = g.handleViewport(sid, frame)
	case wire.ReqLspStart:
		resp = g.handleLspStart(sid, frame)
	case wire.ReqLspStop:
		resp = g.handleLspStop(sid, frame)
	case wire.ReqLspSendNotification:
		resp = g.handleLspSendNotification(sid, frame)
	case wire.ReqLspSendRequest:
		resp = g.handleLspSendRequest(sid, frame)
	case wire.ReqLspReply:
		resp = g.handleLspReply(sid, frame)
	default:
		resp = errorResponse(frame, wire.Errorf(wire.NotImplemented, "unknown request type %q", frame.Type))
	}
	g.brk.SendToSession(sid, resp)
}

func errorResponse(req wire.Frame, err error) wire.Frame {
	return wire.Frame{
		Kind: wire.FrameResponse, ReplyTo: req.ID, Type: req.Type,
		Payload: wire.ErrorPayload{Code: wire.CodeOf(err).String(), Message: err.Error()},
	}
}

func okResponse(req wire.Frame, payload any) wire.Frame {
	return wire.Frame{Kind: wire.FrameResponse, ReplyTo: req.ID, Type: req.Type, Payload: payload}
}

func decode[T any](frame wire.Frame) (T, error) {
	var out T
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		return out, wire.Errorf(wire.InvalidArgs, "re-encode payload: %v", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, wire.Errorf(wire.InvalidArgs, "decode payload: %v", err)
	}
	return out, nil
}

// broadcastToParticipants delivers frame to every session holding uri
// open except skip, mirroring the pattern shareddoc.Core itself uses for
// the idle-unlock tick (Broadcaster), generalized to every other
// shareddoc operation's broadcast side effect.
func (g *Gateway) broadcastToParticipants(uri string, skip ids.SessionId, frame wire.Frame) {
	for _, p := range g.docs.Participants(uri) {
		if p == skip {
			continue
		}
		g.brk.SendToSession(p, frame)
	}
}
