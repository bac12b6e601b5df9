package ports

import (
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/wire"
)

// DocState is what a successful LoadOrCreateDoc call returns: either
// freshly-initialized metadata or, if a history store is available and
// holds a prior record for uri, the persisted rope and version.
type DocState struct {
	Rope    string
	Version ids.Version
	Loaded  bool // true if this came from a persisted record, false if freshly created
}

// HistoryEntry is one undo/redo-eligible record: the forward transaction
// that produced a state and the inverse that undoes it.
type HistoryEntry struct {
	GroupID   int64
	Origin    ids.SessionId
	ForwardTx wire.WireTx
	InverseTx wire.WireTx
	PostState ids.Version
}

// HistoryStore is the optional persistence port for the shared document
// authority (spec §6, "History store (optional)"). A nil HistoryStore is
// valid: the authority then operates purely in memory and undo/redo is
// bounded by the in-process ring buffer only. Grounded on the teacher's
// internal/store.Store (embedded migrations, WAL) via internal/history.
type HistoryStore interface {
	// LoadOrCreateDoc returns the persisted state for uri if one exists,
	// otherwise creates a fresh record seeded with the given initial
	// values and returns Loaded=false.
	LoadOrCreateDoc(uri string, initRope string, seed ids.Version) (DocState, error)

	// AppendEditWithCheckpoint records one history entry for uri,
	// evicting the oldest entry if this push would exceed maxNodes.
	AppendEditWithCheckpoint(uri string, entry HistoryEntry, maxNodes int) error

	// LoadUndoGroup returns the entry immediately before the current
	// history head, or ok=false if there is nothing to undo.
	LoadUndoGroup(uri string, at ids.Version) (entry HistoryEntry, ok bool, err error)

	// LoadRedoGroup returns the entry immediately after the current
	// history head, or ok=false if there is nothing to redo.
	LoadRedoGroup(uri string, at ids.Version) (entry HistoryEntry, ok bool, err error)

	// UpdateDocState persists v as uri's current head pointer without
	// appending a new history entry, used after undo/redo reposition the
	// head.
	UpdateDocState(uri string, v ids.Version) error
}
