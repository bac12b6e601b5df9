// Package ids defines the opaque, monotonically-increasing identifiers used
// throughout the broker and syntax manager, plus the version triple that
// identifies a shared document's authoritative state.
package ids

import (
	"fmt"
	"sync/atomic"
)

// SessionId identifies one connected editor session. Leader election
// depends on the total order of SessionId values, so these must never be
// reused within a process lifetime.
type SessionId uint64

func (id SessionId) String() string { return fmt.Sprintf("session:%d", uint64(id)) }

// ServerId identifies one LSP server process handle.
type ServerId uint64

func (id ServerId) String() string { return fmt.Sprintf("server:%d", uint64(id)) }

// DocId identifies one shared document (independent of the broker-side
// per-server DocState, which is keyed by URI instead).
type DocId uint64

func (id DocId) String() string { return fmt.Sprintf("doc:%d", uint64(id)) }

// TaskId identifies one spawned syntax parse task.
type TaskId uint64

func (id TaskId) String() string { return fmt.Sprintf("task:%d", uint64(id)) }

// Counter produces a strictly increasing sequence of uint64 values starting
// at 1, safe for concurrent use. It backs every identifier allocator below.
type Counter struct {
	next atomic.Uint64
}

// Next returns the next value in the sequence.
func (c *Counter) Next() uint64 {
	return c.next.Add(1)
}

// SessionAllocator hands out fresh SessionIds.
type SessionAllocator struct{ c Counter }

func (a *SessionAllocator) Next() SessionId { return SessionId(a.c.Next()) }

// ServerAllocator hands out fresh ServerIds.
type ServerAllocator struct{ c Counter }

func (a *ServerAllocator) Next() ServerId { return ServerId(a.c.Next()) }

// DocAllocator hands out fresh DocIds.
type DocAllocator struct{ c Counter }

func (a *DocAllocator) Next() DocId { return DocId(a.c.Next()) }

// TaskAllocator hands out fresh TaskIds.
type TaskAllocator struct{ c Counter }

func (a *TaskAllocator) Next() TaskId { return TaskId(a.c.Next()) }

// Version is a document's authoritative state identifier: epoch increments
// on every ownership change, seq increments on every accepted edit and
// resets to 0 whenever epoch changes, and (Hash64, LenChars) is a cheap
// content fingerprint recomputed on every accepted edit.
type Version struct {
	Epoch    uint64
	Seq      uint64
	Hash64   uint64
	LenChars uint64
}

// Fingerprint is the (Hash64, LenChars) pair used for fast mismatch
// detection without comparing full document content.
type Fingerprint struct {
	Hash64   uint64
	LenChars uint64
}

func (v Version) Fingerprint() Fingerprint {
	return Fingerprint{Hash64: v.Hash64, LenChars: v.LenChars}
}

// FingerprintMatches reports whether v's fingerprint equals fp.
func (v Version) FingerprintMatches(fp Fingerprint) bool {
	return v.Hash64 == fp.Hash64 && v.LenChars == fp.LenChars
}

// BumpEpoch advances to a new ownership era: epoch increments, seq resets.
func (v Version) BumpEpoch() Version {
	v.Epoch++
	v.Seq = 0
	return v
}

// BumpSeq advances seq within the current epoch, wrapping on overflow per
// spec (seq increments "with wrapping").
func (v Version) BumpSeq(hash64, lenChars uint64) Version {
	v.Seq++
	v.Hash64 = hash64
	v.LenChars = lenChars
	return v
}
