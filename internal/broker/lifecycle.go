package broker

import (
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/wire"
)

// onUnregisterSession implements spec §4.1's unregister_session: detach
// from every server, cancel every pending s2c request recorded against
// sid, clear text-sync ownership for every uri sid owned, re-elect
// leaders. No server is terminated synchronously.
func (c *Core) onUnregisterSession(sid ids.SessionId) {
	// The session stays registered until its pending requests have been
	// cancelled, so the REQUEST_CANCELLED frames still reach its sink.
	defer delete(c.sessions, sid)
	for _, s := range c.servers {
		if _, attached := s.attached[sid]; attached {
			c.detachFromServer(s, sid)
		} else {
			// Not attached but may still hold pending s2c entries or gate
			// ownership from before a reconnect raced a detach.
			c.cancelPendingFor(s, sid)
			c.clearGateOwnership(s, sid)
		}
	}
}

func (c *Core) onDetachSession(serverID ids.ServerId, sid ids.SessionId) {
	s, ok := c.servers[serverID]
	if !ok {
		return
	}
	c.detachFromServer(s, sid)
}

func (c *Core) detachFromServer(s *serverRecord, sid ids.SessionId) {
	delete(s.attached, sid)
	c.cancelPendingFor(s, sid)
	c.clearGateOwnership(s, sid)
	c.reelectLeader(s)
	if len(s.attached) == 0 {
		c.startIdleLease(s)
	}
}

// cancelPendingFor completes every pending s2c request recorded against
// sid with REQUEST_CANCELLED (spec §4.3).
func (c *Core) cancelPendingFor(s *serverRecord, sid ids.SessionId) {
	for wireID, p := range s.pendingS2C {
		if p.sessionID == sid {
			delete(s.pendingS2C, wireID)
			c.sendFrame(sid, wire.Frame{
				Kind:    wire.FrameResponse,
				ReplyTo: p.originalID,
				Type: "error",
				Payload: mustJSON(map[string]any{
					"code": wire.RequestCancelled,
				}),
			})
		}
	}
}

// clearGateOwnership removes sid as owner of any (server, uri) gate entry
// it currently holds, matching spec §4.1's "clears text-sync ownership
// for every URI owned by sid".
func (c *Core) clearGateOwnership(s *serverRecord, sid ids.SessionId) {
	for uri, entry := range s.gate {
		if entry.ownerSID == sid {
			entry.ownerSID = noOwner
			delete(entry.openRefs, sid)
			if len(entry.openRefs) == 0 {
				delete(s.gate, uri)
			}
			// Ownership is released; the next didChange from a remaining
			// participant takes it, per spec §4.2's ownership-transfer
			// note. We do not reassign ownerSID proactively.
		}
	}
}

func (c *Core) onRegisterClientRequest(m cmdRegisterClientRequest) {
	s, ok := c.servers[m.serverID]
	if !ok {
		m.reply <- registerResult{}
		return
	}
	if _, dup := s.pendingS2C[m.wireID]; dup {
		m.reply <- registerResult{ok: false}
		return
	}
	s.pendingS2C[m.wireID] = pendingRequest{sessionID: s.leader, originalID: m.wireID}
	m.reply <- registerResult{leader: s.leader, ok: true, hasAny: s.hasLeader}
}

func (c *Core) onCompleteClientRequest(m cmdCompleteClientRequest) {
	s, ok := c.servers[m.serverID]
	if !ok {
		m.reply <- false
		return
	}
	p, found := s.pendingS2C[m.wireID]
	if !found || p.sessionID != m.senderSID {
		m.reply <- false
		return
	}
	delete(s.pendingS2C, m.wireID)
	m.reply <- true
}

// onServerExited cancels all pending s2c work on the server and
// broadcasts LspStatus{Stopped} to every attached session (spec §5,
// "Cancellation and timeouts").
func (c *Core) onServerExited(serverID ids.ServerId) {
	s, ok := c.servers[serverID]
	if !ok {
		return
	}
	s.status = wire.StatusStopped
	for wireID, p := range s.pendingS2C {
		delete(s.pendingS2C, wireID)
		c.sendFrame(p.sessionID, wire.Frame{
			Kind:    wire.FrameResponse,
			ReplyTo: p.originalID,
			Type: "error",
			Payload: mustJSON(map[string]any{
				"code": wire.RequestCancelled,
			}),
		})
	}
	for sid := range s.attached {
		c.sendFrame(sid, wire.Frame{
			Kind:    wire.FrameEvent,
			Type:    wire.EventLspStatus,
			Payload: mustJSON(wire.LspStatus{ServerID: uint64(serverID), Status: wire.StatusStopped}),
		})
	}
	delete(c.servers, serverID)
	delete(c.byKey, s.projectKey)
}

// startIdleLease begins the configured countdown (spec §4.4). If a
// session attaches before expiry, cancelIdleLease stops it; on fire, the
// actor re-enters via cmdIdleLeaseExpired.
func (c *Core) startIdleLease(s *serverRecord) {
	c.cancelIdleLease(s)
	s.idleCancel = make(chan struct{})
	ticker := c.timer.NewTicker(c.idleLease)
	s.idleTimer = ticker
	cancel := s.idleCancel
	serverID := s.id
	go func() {
		select {
		case <-ticker.C():
			ticker.Stop()
			c.send(cmdIdleLeaseExpired{serverID: serverID})
		case <-cancel:
			ticker.Stop()
		}
	}()
}

func (c *Core) cancelIdleLease(s *serverRecord) {
	if s.idleCancel != nil {
		close(s.idleCancel)
		s.idleCancel = nil
		s.idleTimer = nil
	}
}

// onIdleLeaseExpired unregisters and terminates the server, per spec
// §4.4. Re-attachment after this point gets a brand new ServerId — the
// "warm reattach" property only holds while the lease has not expired.
func (c *Core) onIdleLeaseExpired(serverID ids.ServerId) {
	s, ok := c.servers[serverID]
	if !ok {
		return
	}
	if len(s.attached) != 0 {
		// A session reattached in the race between the ticker firing and
		// this command being processed; honor the cancellation.
		return
	}
	if s.handle != nil {
		_ = c.launcher.Terminate(s.handle)
	}
	delete(c.servers, serverID)
	delete(c.byKey, s.projectKey)
}
