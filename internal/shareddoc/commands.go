package shareddoc

import (
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/wire"
)

type cmdOpen struct {
	sid         ids.SessionId
	uri         string
	initialText string
	reply       chan OpenResult
}

// OpenResult carries what the caller needs to reply to the opening
// session: the post-open snapshot and, if the joiner is not already the
// document's sole author, the full text to seed their buffer.
type OpenResult struct {
	Snapshot       wire.DocSnapshot
	TextForJoiner  string
	HasTextForJoiner bool
}

type cmdClose struct {
	sid   ids.SessionId
	uri   string
	reply chan CloseResult
}

// CloseResult reports whether the document was destroyed (refcount hit
// zero) and, if ownership passed, the Unlocked snapshot to broadcast.
type CloseResult struct {
	Destroyed bool
	Unlocked  *wire.DocSnapshot
}

type cmdApply struct {
	sid       ids.SessionId
	uri       string
	kind      wire.DeltaKind
	baseEpoch uint64
	baseSeq   uint64
	baseHash  uint64
	baseLen   uint64
	tx        wire.WireTx
	undoGroup string
	reply     chan ApplyResult
}

// ApplyResult is either an ApplyAck (err == nil) or a typed *wire.Error.
type ApplyResult struct {
	Ack   ApplyAck
	Delta wire.SharedDelta
	Err   error
}

// ApplyAck is the post-state returned to the caller on a successful
// apply, per spec §4.5.
type ApplyAck struct {
	Epoch    uint64
	Seq      uint64
	Hash64   uint64
	LenChars uint64
}

type cmdFocus struct {
	sid            ids.SessionId
	uri            string
	focused        bool
	focusSeq       uint64
	nonce          string
	clientHash64   *uint64
	clientLenChars *uint64
	reply          chan FocusResult
}

// FocusResult carries the post-focus snapshot to broadcast and flags for
// which kind of change, if any, the focus caused.
type FocusResult struct {
	NoOp                    bool
	Snapshot                wire.DocSnapshot
	PreferredOwnerChanged   bool
	OwnerChangedOrUnlocked  bool
}

type cmdActivity struct {
	sid ids.SessionId
	uri string
}

type cmdResync struct {
	sid            ids.SessionId
	uri            string
	nonce          string
	clientHash64   *uint64
	clientLenChars *uint64
	reply          chan ResyncResult
}

// ResyncResult is either an empty-body ack (fingerprint matched) or full
// text to resync the caller.
type ResyncResult struct {
	Matched  bool
	FullText string
	Found    bool
}

type cmdTick struct{}

type cmdSnapshot struct {
	uri   string
	reply chan (*wire.DocSnapshot)
}

type cmdParticipants struct {
	uri   string
	reply chan []ids.SessionId
}
