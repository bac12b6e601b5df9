package broker

import (
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// RegisterSession records sid with its message sink. Idempotent replace;
// no broadcast (spec §4.1).
func (c *Core) RegisterSession(sid ids.SessionId, sink ports.Sink) {
	c.send(cmdRegisterSession{sid: sid, sink: sink})
}

// UnregisterSession detaches sid from every server, cancels its pending
// s2c requests, and clears any text-sync ownership it held.
func (c *Core) UnregisterSession(sid ids.SessionId) {
	c.send(cmdUnregisterSession{sid: sid})
}

// SendToSession delivers frame to sid's registered sink, if any. This is
// the canonical session-addressed send: internal/shareddoc has no sink
// registry of its own, so the daemon's frame dispatcher routes shared
// document broadcasts (which are addressed by participant session id,
// not by server) through this method instead of duplicating the sink map.
func (c *Core) SendToSession(sid ids.SessionId, frame wire.Frame) {
	c.send(cmdSendToSession{sid: sid, frame: frame})
}

// FindServerForProject consults the project-key map.
func (c *Core) FindServerForProject(projectKey string) (ids.ServerId, bool) {
	reply := make(chan findServerResult, 1)
	c.send(cmdFindServerForProject{projectKey: projectKey, reply: reply})
	r := <-reply
	return r.serverID, r.found
}

// RegisterServer allocates a new ServerId for a launched process and
// indexes it by projectKey for future dedup lookups.
func (c *Core) RegisterServer(projectKey string, cfg wire.LaunchConfig, handle ports.ServerHandle) ids.ServerId {
	reply := make(chan ids.ServerId, 1)
	c.send(cmdRegisterServer{projectKey: projectKey, cfg: cfg, handle: handle, reply: reply})
	return <-reply
}

// SetServerStatus updates a server's lifecycle status.
func (c *Core) SetServerStatus(serverID ids.ServerId, status wire.ServerStatus) {
	c.send(cmdSetServerStatus{serverID: serverID, status: status})
}

// AttachSession idempotently attaches sid to serverID, cancels any
// in-flight idle lease, and re-elects the leader. Returns false if the
// server does not exist.
func (c *Core) AttachSession(serverID ids.ServerId, sid ids.SessionId) bool {
	reply := make(chan bool, 1)
	c.send(cmdAttachSession{serverID: serverID, sid: sid, reply: reply})
	return <-reply
}

// DetachSession removes sid from the server's attached set, cancels its
// pending s2c entries, re-elects the leader, and starts the idle lease if
// the server is now unattended.
func (c *Core) DetachSession(serverID ids.ServerId, sid ids.SessionId) {
	c.send(cmdDetachSession{serverID: serverID, sid: sid})
}

// RegisterClientRequest records a server→client request against the
// current leader and returns that leader. ok is false if wireID is
// already registered (protocol violation) or the server does not exist.
func (c *Core) RegisterClientRequest(serverID ids.ServerId, wireID string) (leader ids.SessionId, ok bool) {
	reply := make(chan registerResult, 1)
	c.send(cmdRegisterClientRequest{serverID: serverID, wireID: wireID, reply: reply})
	r := <-reply
	return r.leader, r.ok
}

// CompleteClientRequest returns true only if senderSID is the session
// recorded against wireID at registration time.
func (c *Core) CompleteClientRequest(senderSID ids.SessionId, serverID ids.ServerId, wireID string) bool {
	reply := make(chan bool, 1)
	c.send(cmdCompleteClientRequest{senderSID: senderSID, serverID: serverID, wireID: wireID, reply: reply})
	return <-reply
}

// BroadcastToServer fans frame out to every session attached to serverID.
func (c *Core) BroadcastToServer(serverID ids.ServerId, frame wire.Frame) {
	c.send(cmdBroadcastToServer{serverID: serverID, frame: frame})
}

// SendToLeader sends frame to the current leader, dropping silently if
// there is none.
func (c *Core) SendToLeader(serverID ids.ServerId, frame wire.Frame) {
	c.send(cmdSendToLeader{serverID: serverID, frame: frame})
}

// ServerExited cancels all pending work on serverID and broadcasts
// LspStatus{Stopped} before forgetting the server.
func (c *Core) ServerExited(serverID ids.ServerId) {
	c.send(cmdServerExited{serverID: serverID})
}

// TextSyncNotify feeds one LSP text-document notification through the gate
// for (serverID, uri) and returns the forwarding decision.
func (c *Core) TextSyncNotify(serverID ids.ServerId, uri string, kind NotifyKind, sid ids.SessionId, version uint64) GateDecision {
	reply := make(chan GateDecision, 1)
	c.send(cmdTextSync{serverID: serverID, uri: uri, kind: kind, sid: sid, version: version, reply: reply})
	return <-reply
}

// Snapshot returns a read-only copy of a server's state, or nil if it does
// not exist.
func (c *Core) Snapshot(serverID ids.ServerId) *ServerSnapshot {
	reply := make(chan *ServerSnapshot, 1)
	c.send(cmdSnapshotServer{serverID: serverID, reply: reply})
	return <-reply
}
