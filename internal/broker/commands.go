package broker

import (
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// Every command the actor understands embeds its own one-shot reply
// channel (nil for fire-and-forget commands), mirroring the teacher's
// oneshot-sink idiom from internal/relay but generalized into a single
// command queue instead of ad hoc mutex-guarded maps.
type cmdRegisterSession struct {
	sid  ids.SessionId
	sink ports.Sink
}

type cmdUnregisterSession struct {
	sid ids.SessionId
}

type cmdFindServerForProject struct {
	projectKey string
	reply      chan findServerResult
}

type findServerResult struct {
	serverID ids.ServerId
	found    bool
}

type cmdRegisterServer struct {
	projectKey string
	cfg        wire.LaunchConfig
	handle     ports.ServerHandle
	reply      chan ids.ServerId
}

type cmdSetServerStatus struct {
	serverID ids.ServerId
	status   wire.ServerStatus
}

type cmdAttachSession struct {
	serverID ids.ServerId
	sid      ids.SessionId
	reply    chan bool
}

type cmdDetachSession struct {
	serverID ids.ServerId
	sid      ids.SessionId
}

type cmdRegisterClientRequest struct {
	serverID ids.ServerId
	wireID   string
	reply    chan registerResult
}

type registerResult struct {
	leader ids.SessionId
	ok     bool // false on protocol violation (duplicate wire id)
	hasAny bool // whether a leader existed at registration time
}

type cmdCompleteClientRequest struct {
	senderSID ids.SessionId
	serverID  ids.ServerId
	wireID    string
	reply     chan bool
}

type cmdBroadcastToServer struct {
	serverID ids.ServerId
	frame    wire.Frame
}

type cmdSendToLeader struct {
	serverID ids.ServerId
	frame    wire.Frame
}

type cmdSendToSession struct {
	sid   ids.SessionId
	frame wire.Frame
}

type cmdServerExited struct {
	serverID ids.ServerId
}

type cmdIdleLeaseExpired struct {
	serverID ids.ServerId
}

type cmdTextSync struct {
	serverID ids.ServerId
	uri      string
	kind     NotifyKind
	sid      ids.SessionId
	version  uint64
	reply    chan GateDecision
}

// cmdSnapshotServer is used by tests to inspect actor-owned state without
// exposing the maps directly.
type cmdSnapshotServer struct {
	serverID ids.ServerId
	reply    chan *ServerSnapshot
}

// ServerSnapshot is a read-only copy of a server's externally-visible
// state, safe to hand outside the actor goroutine.
type ServerSnapshot struct {
	ID       ids.ServerId
	Status   wire.ServerStatus
	Attached []ids.SessionId
	Leader   ids.SessionId
	HasLeader bool
}
