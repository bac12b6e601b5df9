// Package shareddoc implements the shared document authority (spec
// §4.5): the single source of truth for document text shared across
// collaborating editor sessions, ownership handoff, deterministic delta
// broadcast, and bounded undo/redo history. Like internal/broker it is
// actor-shaped per spec §5 — a goroutine owns all document state and is
// driven by a command channel with one-shot replies — generalized from
// the teacher's conflict-detection-and-log idiom in internal/sync/conflict.go
// (hash-mismatch detection, here applied to rope fingerprints instead of
// file hashes).
package shareddoc

import (
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/rope"
	"github.com/loomcode/loom/internal/wire"
)

// MaxHistoryEntries bounds the per-document undo/redo ring, per spec
// §4.5 ("bounded by N=100 entries with automatic checkpoint/eviction of
// oldest").
const MaxHistoryEntries = 100

// OwnerIdleUnlock is the owner-inactivity window after which the 1Hz tick
// force-unlocks a document (spec §4.5, "now - last_active[owner] >= 2s").
// It is fixed; config's owner_idle_unlock value is not applied here.
const OwnerIdleUnlock = 2 * time.Second

// historyEntry is one undo/redo-eligible record, matching
// ports.HistoryEntry's shape but kept document-local so the in-memory ring
// buffer can operate even without a HistoryStore configured.
type historyEntry struct {
	groupID   int64
	origin    ids.SessionId
	forwardTx wire.WireTx
	inverseTx wire.WireTx
	postState ids.Version
}

// doc is the full in-memory state for one shared document, mirroring
// spec §3's "Shared document" record.
type doc struct {
	uri string

	rope rope.Rope
	ver  ids.Version

	owner          ids.SessionId
	hasOwner       bool
	preferredOwner ids.SessionId
	hasPreferred   bool

	refcounts      map[ids.SessionId]uint32
	participants   []ids.SessionId // sorted
	lastActive     map[ids.SessionId]time.Time
	lastFocusSeq   map[ids.SessionId]uint64
	ownerNeedsResync bool

	// history is a ring of up to MaxHistoryEntries; head points one past
	// the most recently applied entry (redo entries live at head..len-1
	// until a new Edit truncates them).
	history   []historyEntry
	head      int
	groupSeq  int64
}

func newDoc(uri string) *doc {
	return &doc{
		uri:          uri,
		refcounts:    make(map[ids.SessionId]uint32),
		lastActive:   make(map[ids.SessionId]time.Time),
		lastFocusSeq: make(map[ids.SessionId]uint64),
	}
}

func (d *doc) addParticipant(sid ids.SessionId) {
	for _, p := range d.participants {
		if p == sid {
			return
		}
	}
	d.participants = append(d.participants, sid)
	sortSessionIDs(d.participants)
}

func (d *doc) removeParticipant(sid ids.SessionId) {
	for i, p := range d.participants {
		if p == sid {
			d.participants = append(d.participants[:i], d.participants[i+1:]...)
			return
		}
	}
}

func (d *doc) isParticipant(sid ids.SessionId) bool {
	for _, p := range d.participants {
		if p == sid {
			return true
		}
	}
	return false
}

func sortSessionIDs(s []ids.SessionId) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// pushHistory appends entry, truncating any redo tail and evicting the
// oldest entry once MaxHistoryEntries is exceeded.
func (d *doc) pushHistory(entry historyEntry) {
	d.history = d.history[:d.head]
	d.history = append(d.history, entry)
	d.head = len(d.history)
	if len(d.history) > MaxHistoryEntries {
		over := len(d.history) - MaxHistoryEntries
		d.history = d.history[over:]
		d.head = len(d.history)
	}
}

// undoEntry returns the entry immediately before head, or ok=false.
func (d *doc) undoEntry() (historyEntry, bool) {
	if d.head == 0 {
		return historyEntry{}, false
	}
	return d.history[d.head-1], true
}

// redoEntry returns the entry at head, or ok=false.
func (d *doc) redoEntry() (historyEntry, bool) {
	if d.head >= len(d.history) {
		return historyEntry{}, false
	}
	return d.history[d.head], true
}
