package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// Core is the LSP broker actor. All of its exported methods are safe for
// concurrent use: they marshal a command onto cmds and block for the
// actor's reply (or return immediately for fire-and-forget commands).
// Nothing outside Run touches the registries directly.
type Core struct {
	cmds chan any

	launcher  ports.Launcher
	timer     ports.Timer
	idleLease time.Duration

	serverAlloc ids.ServerAllocator

	sessions map[ids.SessionId]*sessionRecord
	servers  map[ids.ServerId]*serverRecord
	byKey    map[string]ids.ServerId

	wireReqCounter atomic.Uint64
}

// Option configures a Core at construction time.
type Option func(*Core)

// WithIdleLease overrides the default 300s idle-lease duration (spec
// §4.4).
func WithIdleLease(d time.Duration) Option {
	return func(c *Core) { c.idleLease = d }
}

// NewCore constructs a Core; call Run in its own goroutine before using
// any of its methods.
func NewCore(launcher ports.Launcher, timer ports.Timer, opts ...Option) *Core {
	c := &Core{
		cmds:      make(chan any, 64),
		launcher:  launcher,
		timer:     timer,
		idleLease: idleLeaseDefault,
		sessions:  make(map[ids.SessionId]*sessionRecord),
		servers:   make(map[ids.ServerId]*serverRecord),
		byKey:     make(map[string]ids.ServerId),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run drives the actor loop until ctx is cancelled. It must be started
// exactly once, in its own goroutine, before any command is sent.
func (c *Core) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			c.handle(cmd)
		}
	}
}

func (c *Core) send(cmd any) {
	c.cmds <- cmd
}

func (c *Core) handle(cmd any) {
	switch m := cmd.(type) {
	case cmdRegisterSession:
		c.sessions[m.sid] = &sessionRecord{id: m.sid, sink: m.sink}

	case cmdUnregisterSession:
		c.onUnregisterSession(m.sid)

	case cmdFindServerForProject:
		id, ok := c.byKey[m.projectKey]
		m.reply <- findServerResult{serverID: id, found: ok}

	case cmdRegisterServer:
		id := c.serverAlloc.Next()
		c.servers[id] = &serverRecord{
			id:         id,
			projectKey: m.projectKey,
			status:     wire.StatusStarting,
			attached:   make(map[ids.SessionId]struct{}),
			pendingS2C: make(map[string]pendingRequest),
			docs:       make(map[string]*docState),
			gate:       make(map[string]*gateEntry),
			launchCfg:  m.cfg,
			handle:     m.handle,
		}
		c.byKey[m.projectKey] = id
		m.reply <- id

	case cmdSetServerStatus:
		if s, ok := c.servers[m.serverID]; ok {
			s.status = m.status
		}

	case cmdAttachSession:
		s, ok := c.servers[m.serverID]
		if !ok {
			m.reply <- false
			return
		}
		c.cancelIdleLease(s)
		s.attached[m.sid] = struct{}{}
		c.reelectLeader(s)
		m.reply <- true

	case cmdDetachSession:
		c.onDetachSession(m.serverID, m.sid)

	case cmdRegisterClientRequest:
		c.onRegisterClientRequest(m)

	case cmdCompleteClientRequest:
		c.onCompleteClientRequest(m)

	case cmdBroadcastToServer:
		if s, ok := c.servers[m.serverID]; ok {
			for sid := range s.attached {
				c.sendFrame(sid, m.frame)
			}
		}

	case cmdSendToLeader:
		if s, ok := c.servers[m.serverID]; ok && s.hasLeader {
			c.sendFrame(s.leader, m.frame)
		}

	case cmdSendToSession:
		c.sendFrame(m.sid, m.frame)

	case cmdServerExited:
		c.onServerExited(m.serverID)

	case cmdIdleLeaseExpired:
		c.onIdleLeaseExpired(m.serverID)

	case cmdTextSync:
		s, ok := c.servers[m.serverID]
		if !ok {
			m.reply <- GateReject
			return
		}
		entry := s.gate[m.uri]
		decision, next := decideGate(entry, m.kind, m.sid, m.version)
		if next == nil {
			delete(s.gate, m.uri)
		} else {
			s.gate[m.uri] = next
		}
		m.reply <- decision

	case cmdSnapshotServer:
		s, ok := c.servers[m.serverID]
		if !ok {
			m.reply <- nil
			return
		}
		m.reply <- &ServerSnapshot{
			ID:        s.id,
			Status:    s.status,
			Attached:  s.attachedSorted(),
			Leader:    s.leader,
			HasLeader: s.hasLeader,
		}

	default:
		panic(fmt.Sprintf("broker: unhandled command %T", cmd))
	}
}

func (c *Core) sendFrame(sid ids.SessionId, frame wire.Frame) {
	sess, ok := c.sessions[sid]
	if !ok {
		return
	}
	if err := sess.sink.Send(frame); err != nil {
		// A failing send is cleaned up the same way a disconnect is, per
		// spec §7.3 — but we must not recurse into handle() here since
		// we're already inside it; queue the cleanup instead.
		c.send(cmdUnregisterSession{sid: sid})
	}
}

func (c *Core) reelectLeader(s *serverRecord) {
	leader, ok := leaderOf(s.attached)
	s.leader = leader
	s.hasLeader = ok
}

// NextWireID mints a broker-internal wire id of the form "b:{server}:{n}"
// per spec §6, for use by the LSP routing layer when it forwards a
// server-originated request through RegisterClientRequest.
func (c *Core) NextWireID(serverID ids.ServerId) string {
	n := c.wireReqCounter.Add(1)
	return fmt.Sprintf("b:%d:%d", uint64(serverID), n)
}
