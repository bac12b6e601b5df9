package lsproute

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomcode/loom/internal/broker"
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/launcher"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// rpcEnvelope is the minimal subset of a JSON-RPC message this router
// inspects: whether it carries a method (request/notification) and an id
// (request, vs. fire-and-forget notification).
type rpcEnvelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
}

// Router holds one launcher.Handle per registered server (at most one
// server per project key) and bridges each handle's stdio to the broker's
// session-attached sinks.
type Router struct {
	brk    *broker.Core
	launch launcher.Process
	log    *slog.Logger

	mu       sync.Mutex
	handles  map[ids.ServerId]*launcher.Handle
	pending  map[string]json.RawMessage // broker wire id -> original server-side JSON-RPC id
}

// NewRouter constructs a Router bound to brk's broker actor.
func NewRouter(brk *broker.Core, launch launcher.Process, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		brk:     brk,
		launch:  launch,
		log:     log,
		handles: make(map[ids.ServerId]*launcher.Handle),
		pending: make(map[string]json.RawMessage),
	}
}

// StartOrAttach implements lsp_start: reuse a running server for cfg's
// project key, or launch a new one and attach sid either way.
func (r *Router) StartOrAttach(ctx context.Context, sid ids.SessionId, cfg wire.LaunchConfig) (ids.ServerId, error) {
	key := broker.ProjectKey(cfg)
	if serverID, ok := r.brk.FindServerForProject(key); ok {
		r.brk.AttachSession(serverID, sid)
		return serverID, nil
	}

	handle, events, err := r.launch.Launch(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("lsproute: launch %s: %w", cfg.Command, err)
	}
	h, ok := handle.(*launcher.Handle)
	if !ok {
		return 0, fmt.Errorf("lsproute: unexpected handle type %T", handle)
	}

	serverID := r.brk.RegisterServer(key, cfg, handle)
	r.mu.Lock()
	r.handles[serverID] = h
	r.mu.Unlock()

	r.brk.AttachSession(serverID, sid)

	go r.watchStatus(serverID, events)
	go r.readLoop(serverID, h)

	return serverID, nil
}

// Stop implements lsp_stop: detach sid, and if it was the last attached
// session the broker's idle lease eventually terminates the process
// (spec §4.4); Stop itself only detaches.
func (r *Router) Stop(sid ids.SessionId, serverID ids.ServerId) {
	r.brk.DetachSession(serverID, sid)
}

// textSyncParams is the subset of a textDocument/did* notification's
// params the gate needs to arbitrate it (spec §4.2).
type textSyncParams struct {
	TextDocument struct {
		URI     string `json:"uri"`
		Version uint64 `json:"version"`
	} `json:"textDocument"`
}

// classifyTextSync maps an LSP method name to the gate's NotifyKind, if
// it is one of the three text-document lifecycle notifications the gate
// arbitrates.
func classifyTextSync(method string) (broker.NotifyKind, bool) {
	switch method {
	case "textDocument/didOpen":
		return broker.NotifyDidOpen, true
	case "textDocument/didChange":
		return broker.NotifyDidChange, true
	case "textDocument/didClose":
		return broker.NotifyDidClose, true
	default:
		return 0, false
	}
}

// SendNotification runs an editor-originated notification through the
// per-(server,uri) text-sync gate (spec §4.2, §8 invariant 1) before
// forwarding it to the server's stdin unmodified. Notifications other
// than textDocument/didOpen|didChange|didClose bypass the gate and are
// always forwarded.
func (r *Router) SendNotification(serverID ids.ServerId, sid ids.SessionId, message string) error {
	var env rpcEnvelope
	var params textSyncParams
	if err := json.Unmarshal([]byte(message), &env); err == nil {
		if kind, ok := classifyTextSync(env.Method); ok {
			_ = json.Unmarshal([]byte(message), &params)
			switch r.brk.TextSyncNotify(serverID, params.TextDocument.URI, kind, sid, params.TextDocument.Version) {
			case broker.GateDrop:
				return nil
			case broker.GateReject:
				return wire.Errorf(wire.InvalidArgs, "text-sync gate rejected %s for %q", env.Method, params.TextDocument.URI)
			}
		}
	}

	h, ok := r.handleFor(serverID)
	if !ok {
		return wire.Errorf(wire.LspServerNotFound, "no running server %v", serverID)
	}
	return writeFrame(h.Stdin, message)
}

// SendRequest forwards an editor-originated request to the server's
// stdin unmodified; the server's eventual response arrives on the
// process's stdout and is broadcast like any other server message since
// this router does not correlate client-originated request ids.
func (r *Router) SendRequest(serverID ids.ServerId, sid ids.SessionId, message string) error {
	return r.SendNotification(serverID, sid, message)
}

// Reply answers a server-originated LspRequest: senderSID must be the
// leader recorded when the request was registered (enforced by
// broker.CompleteClientRequest), and
// result is re-keyed to the original JSON-RPC id before being written back
// to the process's stdin.
func (r *Router) Reply(senderSID ids.SessionId, serverID ids.ServerId, wireID, result string) error {
	if !r.brk.CompleteClientRequest(senderSID, serverID, wireID) {
		return wire.Errorf(wire.InvalidArgs, "session is not the leader for wire id %q", wireID)
	}
	r.mu.Lock()
	origID, ok := r.pending[wireID]
	delete(r.pending, wireID)
	r.mu.Unlock()
	if !ok {
		return wire.Errorf(wire.InvalidArgs, "unknown wire id %q", wireID)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(result), &body); err != nil {
		body = map[string]json.RawMessage{"result": json.RawMessage(result)}
	}
	body["jsonrpc"] = json.RawMessage(`"2.0"`)
	body["id"] = origID
	rekeyed, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("lsproute: remarshal reply: %w", err)
	}

	h, ok := r.handleFor(serverID)
	if !ok {
		return wire.Errorf(wire.LspServerNotFound, "no running server %v", serverID)
	}
	return writeFrame(h.Stdin, string(rekeyed))
}

func (r *Router) handleFor(serverID ids.ServerId) (*launcher.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[serverID]
	return h, ok
}

func (r *Router) watchStatus(serverID ids.ServerId, events <-chan ports.StatusEvent) {
	for ev := range events {
		r.brk.SetServerStatus(serverID, ev.Status)
		if ev.Status == wire.StatusStopped || ev.Status == wire.StatusFailed {
			r.brk.BroadcastToServer(serverID, wire.Frame{
				Kind: wire.FrameEvent, Type: wire.EventLspStatus,
				Payload: wire.LspStatus{ServerID: uint64(serverID), Status: ev.Status},
			})
			r.brk.ServerExited(serverID)
			r.mu.Lock()
			delete(r.handles, serverID)
			r.mu.Unlock()
		}
	}
}

// readLoop drains serverID's stdout, forwarding each framed JSON-RPC
// message to the broker as a diagnostics publish, a routed s2c request,
// or an opaque message, per its shape.
func (r *Router) readLoop(serverID ids.ServerId, h *launcher.Handle) {
	reader := bufio.NewReader(h.Stdout)
	for {
		msg, err := readFrame(reader)
		if err != nil {
			r.log.Debug("lsproute: server stdout closed", "server", serverID, "err", err)
			return
		}

		var env rpcEnvelope
		if err := json.Unmarshal([]byte(msg), &env); err != nil {
			r.log.Warn("lsproute: malformed server message dropped", "server", serverID, "err", err)
			continue
		}

		switch {
		case env.Method == "textDocument/publishDiagnostics":
			r.brk.BroadcastToServer(serverID, wire.Frame{
				Kind: wire.FrameEvent, Type: wire.EventLspDiagnostics,
				Payload: wire.LspDiagnostics{ServerID: uint64(serverID), Diagnostics: msg},
			})
		case env.Method != "" && len(env.ID) > 0:
			wireID := r.brk.NextWireID(serverID)
			leader, ok := r.brk.RegisterClientRequest(serverID, wireID)
			if !ok {
				r.log.Warn("lsproute: dropping s2c request, unknown server or duplicate wire id", "server", serverID, "wire_id", wireID)
				continue
			}
			r.mu.Lock()
			r.pending[wireID] = env.ID
			r.mu.Unlock()
			r.brk.SendToSession(leader, wire.Frame{
				Kind: wire.FrameEvent, Type: wire.EventLspRequest,
				Payload: wire.LspRequest{ServerID: uint64(serverID), WireID: wireID, Message: msg},
			})
		default:
			r.brk.BroadcastToServer(serverID, wire.Frame{
				Kind: wire.FrameEvent, Type: wire.EventLspMessage,
				Payload: wire.LspMessage{ServerID: uint64(serverID), Message: msg},
			})
		}
	}
}
