// Package wire defines the broker↔editor message protocol: frame kinds,
// event payloads, request payloads, and the stable error taxonomy. It has
// no transport opinion — internal/transport carries these frames over a
// websocket, but the types here are transport-agnostic so they can equally
// be used in-process by tests (see internal/ports.Sink).
package wire

// FrameKind distinguishes the three message shapes carried over a
// connection. Exactly one request id space exists per direction per
// connection, per spec.
type FrameKind string

const (
	FrameEvent    FrameKind = "event"
	FrameRequest  FrameKind = "request"
	FrameResponse FrameKind = "response"
)

// Frame is the outermost envelope for every message exchanged with an
// editor session, mirroring the teacher's Envelope{Type}-plus-payload
// idiom (internal/ws.Message) generalized with an explicit frame kind and
// correlation id.
type Frame struct {
	Kind    FrameKind `json:"kind"`
	ID      string    `json:"id,omitempty"`       // request id (owner's space) or empty for events
	ReplyTo string    `json:"reply_to,omitempty"` // response only: echoes the request id
	Type    string    `json:"type"`               // event/request/response name
	Payload any       `json:"payload,omitempty"`
}

// Event type names.
const (
	EventHeartbeat              = "heartbeat"
	EventLspStatus              = "lsp_status"
	EventLspMessage             = "lsp_message"
	EventLspRequest              = "lsp_request"
	EventLspDiagnostics          = "lsp_diagnostics"
	EventSharedDelta             = "shared_delta"
	EventSharedOwnerChanged      = "shared_owner_changed"
	EventSharedPreferredOwner    = "shared_preferred_owner_changed"
	EventSharedUnlocked          = "shared_unlocked"
)

// Request type names (editor→broker unless noted).
const (
	ReqOpen               = "open"
	ReqClose              = "close"
	ReqApply              = "apply"
	ReqActivity           = "activity"
	ReqFocus              = "focus"
	ReqResync             = "resync"
	ReqViewport           = "viewport" // reports an editor's visible byte range for syntax tiering
	ReqLspStart           = "lsp_start"
	ReqLspStop            = "lsp_stop"
	ReqLspSendNotification = "lsp_send_notification"
	ReqLspSendRequest     = "lsp_send_request"
	ReqLspReply           = "lsp_reply" // editor→broker, answers a server→client LspRequest
)

// ServerStatus mirrors §3's server record status enum.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusStopped  ServerStatus = "stopped"
	StatusFailed   ServerStatus = "failed"
)

// LspStatus is broadcast to attached sessions on server lifecycle changes.
type LspStatus struct {
	ServerID uint64       `json:"server_id"`
	Status   ServerStatus `json:"status"`
}

// LspMessage passes a server→client notification through unmodified.
type LspMessage struct {
	ServerID uint64 `json:"server_id"`
	Message  string `json:"message"`
}

// LspRequest routes a server→client request to the current leader. The
// broker-internal wire id has the form "b:{server_id}:{counter}".
type LspRequest struct {
	ServerID uint64 `json:"server_id"`
	WireID   string `json:"wire_id"`
	Message  string `json:"message"`
}

// LspReply answers an LspRequest; only the leader's reply is accepted.
type LspReply struct {
	ServerID uint64 `json:"server_id"`
	WireID   string `json:"wire_id"`
	Result   string `json:"result"`
}

// LspDiagnostics carries a diagnostics publish for one document version.
type LspDiagnostics struct {
	ServerID    uint64 `json:"server_id"`
	DocID       uint64 `json:"doc_id"`
	URI         string `json:"uri"`
	Version     uint64 `json:"version"`
	Diagnostics string `json:"diagnostics"`
}

// DeltaKind distinguishes an ordinary edit from a history replay.
type DeltaKind string

const (
	DeltaEdit  DeltaKind = "edit"
	DeltaUndo  DeltaKind = "undo"
	DeltaRedo  DeltaKind = "redo"
)

// SharedDelta is broadcast to all participants of a shared document after
// an accepted apply.
type SharedDelta struct {
	URI            string    `json:"uri"`
	Epoch          uint64    `json:"epoch"`
	Seq            uint64    `json:"seq"`
	Kind           DeltaKind `json:"kind"`
	Tx             WireTx    `json:"tx"`
	Origin         uint64    `json:"origin"`
	Hash64         uint64    `json:"hash64"`
	LenChars       uint64    `json:"len_chars"`
	HistoryFromID  int64     `json:"history_from_id,omitempty"`
	HistoryToID    int64     `json:"history_to_id,omitempty"`
	HistoryGroup   string    `json:"history_group,omitempty"`
}

// DocSnapshot is the shape embedded in ownership-change events; it carries
// just enough state for an editor to update its local view of who owns
// what, without a full text resync.
type DocSnapshot struct {
	URI             string  `json:"uri"`
	Epoch           uint64  `json:"epoch"`
	Seq             uint64  `json:"seq"`
	Owner           *uint64 `json:"owner,omitempty"`
	PreferredOwner  *uint64 `json:"preferred_owner,omitempty"`
	OwnerNeedsResync bool   `json:"owner_needs_resync"`
	RepairText      *string `json:"repair_text,omitempty"`
}

type SharedOwnerChanged struct {
	Snapshot DocSnapshot `json:"snapshot"`
}

type SharedPreferredOwnerChanged struct {
	Snapshot DocSnapshot `json:"snapshot"`
}

type SharedUnlocked struct {
	Snapshot DocSnapshot `json:"snapshot"`
}

// WireOpKind distinguishes the three run-length operation kinds a WireTx
// is built from.
type WireOpKind string

const (
	OpRetain WireOpKind = "retain"
	OpDelete WireOpKind = "delete"
	OpInsert WireOpKind = "insert"
)

// WireOp is one run-length operation; operations apply left-to-right
// against the source rope. Only one of Len/Text is meaningful depending on
// Kind: Retain/Delete use Len, Insert uses Text.
type WireOp struct {
	Kind WireOpKind `json:"kind"`
	Len  uint32     `json:"len,omitempty"`
	Text string     `json:"text,omitempty"`
}

// WireTx is the wire-format representation of a document transaction.
type WireTx []WireOp

// Request payload types.

type OpenRequest struct {
	URI         string `json:"uri"`
	InitialText string `json:"initial_text"`
}

type CloseRequest struct {
	URI string `json:"uri"`
}

type ApplyRequest struct {
	URI           string    `json:"uri"`
	Kind          DeltaKind `json:"kind"`
	BaseEpoch     uint64    `json:"base_epoch"`
	BaseSeq       uint64    `json:"base_seq"`
	BaseHash64    uint64    `json:"base_hash64"`
	BaseLenChars  uint64    `json:"base_len_chars"`
	Tx            WireTx    `json:"tx,omitempty"`
	UndoGroup     string    `json:"undo_group,omitempty"`
}

type ActivityRequest struct {
	URI string `json:"uri"`
}

type FocusRequest struct {
	URI              string  `json:"uri"`
	Focused          bool    `json:"focused"`
	FocusSeq         uint64  `json:"focus_seq"`
	Nonce            string  `json:"nonce"`
	ClientHash64     *uint64 `json:"client_hash64,omitempty"`
	ClientLenChars   *uint64 `json:"client_len_chars,omitempty"`
}

type ResyncRequest struct {
	URI            string  `json:"uri"`
	Nonce          string  `json:"nonce"`
	ClientHash64   *uint64 `json:"client_hash64,omitempty"`
	ClientLenChars *uint64 `json:"client_len_chars,omitempty"`
}

// ViewportRequest reports the byte offsets of the editor's currently
// visible window for uri, driving the syntax manager's L-tier Stage-A/B
// lane (spec §4.6).
type ViewportRequest struct {
	URI   string `json:"uri"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type ViewportResponse struct {
	Ack bool `json:"ack"`
}

// LaunchConfig describes an LSP server launch; ProjectKey is computed from
// it by the broker (see internal/broker.ProjectKey).
type LaunchConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Cwd     string            `json:"cwd"`
}

type LspStartRequest struct {
	Launch LaunchConfig `json:"launch"`
}

type LspStopRequest struct {
	ServerID uint64 `json:"server_id"`
}

type LspSendNotificationRequest struct {
	ServerID string `json:"server_id"` // decimal server id from lsp_start; empty is rejected
	URI      string `json:"uri"`
	Method   string `json:"method"`
	Message  string `json:"message"`
}

type LspSendRequestRequest struct {
	ServerID string `json:"server_id"`
	Message  string `json:"message"`
}

// Response payload types. A response Frame carries exactly one of a
// request's success payload or an ErrorPayload; Frame.Type echoes the
// request's type name.

// ErrorPayload is the response payload on a rejected request, per §6's
// typed error taxonomy.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OpenResponse struct {
	Snapshot     DocSnapshot `json:"snapshot"`
	Text         string      `json:"text,omitempty"`
	HasText      bool        `json:"has_text"`
}

type CloseResponse struct {
	Destroyed bool         `json:"destroyed"`
	Unlocked  *DocSnapshot `json:"unlocked,omitempty"`
}

type ApplyResponse struct {
	Epoch    uint64 `json:"epoch"`
	Seq      uint64 `json:"seq"`
	Hash64   uint64 `json:"hash64"`
	LenChars uint64 `json:"len_chars"`
}

type FocusResponse struct {
	NoOp     bool        `json:"no_op"`
	Snapshot DocSnapshot `json:"snapshot"`
}

type ResyncResponse struct {
	Found    bool   `json:"found"`
	Matched  bool   `json:"matched"`
	FullText string `json:"full_text,omitempty"`
}

type LspStartResponse struct {
	ServerID uint64       `json:"server_id"`
	Status   ServerStatus `json:"status"`
}

type LspStopResponse struct {
	Stopped bool `json:"stopped"`
}

type LspAckResponse struct {
	Sent bool `json:"sent"`
}
