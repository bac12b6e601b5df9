package shareddoc

import (
	"context"
	"testing"
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/rope"
	"github.com/loomcode/loom/internal/wire"
)

func startCore(t *testing.T, opts ...Option) (*Core, *fakeTimer) {
	t.Helper()
	timer := newFakeTimer()
	core := NewCore(timer, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go core.Run(ctx)
	return core, timer
}

func insertAt(pos int, text string, totalBefore int) wire.WireTx {
	tx := wire.WireTx{}
	if pos > 0 {
		tx = append(tx, wire.WireOp{Kind: wire.OpRetain, Len: uint32(pos)})
	}
	tx = append(tx, wire.WireOp{Kind: wire.OpInsert, Text: text})
	if rest := totalBefore - pos; rest > 0 {
		tx = append(tx, wire.WireOp{Kind: wire.OpRetain, Len: uint32(rest)})
	}
	return tx
}

func TestOpenCreatesDocWithOwnerEpochOne(t *testing.T) {
	core, _ := startCore(t)
	res := core.Open(ids.SessionId(1), "file:///a.go", "package main\n")
	if res.Snapshot.Epoch != 1 || res.Snapshot.Seq != 0 {
		t.Fatalf("expected epoch=1 seq=0, got %+v", res.Snapshot)
	}
	if res.Snapshot.Owner == nil || *res.Snapshot.Owner != 1 {
		t.Fatalf("expected owner=1, got %+v", res.Snapshot.Owner)
	}
	if res.HasTextForJoiner {
		t.Fatal("first opener should not receive text-for-joiner")
	}
}

func TestSecondOpenerReceivesFullTextAndRefcounts(t *testing.T) {
	core, _ := startCore(t)
	core.Open(ids.SessionId(1), "file:///a.go", "hello")
	res := core.Open(ids.SessionId(2), "file:///a.go", "hello")
	if !res.HasTextForJoiner || res.TextForJoiner != "hello" {
		t.Fatalf("expected joiner text 'hello', got %+v", res)
	}
}

func TestApplyEditBumpsSeqAndRejectsStaleBase(t *testing.T) {
	core, _ := startCore(t)
	open := core.Open(ids.SessionId(1), "file:///a.go", "abc")

	h, n := rope.New("abc").Fingerprint()
	tx := insertAt(3, "d", 3)
	ack := core.Apply(ids.SessionId(1), "file:///a.go", wire.DeltaEdit, open.Snapshot.Epoch, 0, h, n, tx, "")
	if ack.Err != nil {
		t.Fatalf("unexpected error: %v", ack.Err)
	}
	if ack.Ack.Seq != 1 {
		t.Fatalf("expected seq=1 after first edit, got %d", ack.Ack.Seq)
	}

	// Replaying the same stale base seq must fail with SyncSeqMismatch.
	stale := core.Apply(ids.SessionId(1), "file:///a.go", wire.DeltaEdit, open.Snapshot.Epoch, 0, h, n, tx, "")
	if wire.CodeOf(stale.Err) != wire.SyncSeqMismatch {
		t.Fatalf("expected SyncSeqMismatch, got %v", stale.Err)
	}
}

func TestApplyRejectsNonPreferredOwner(t *testing.T) {
	core, _ := startCore(t)
	open := core.Open(ids.SessionId(1), "file:///a.go", "abc")
	core.Open(ids.SessionId(2), "file:///a.go", "abc")

	// session 1 is both owner and preferred_owner after the first open, so
	// session 2's edit is rejected at the earlier preferred_owner check
	// (spec §4.5's precondition order).
	tx := insertAt(3, "d", 3)
	res := core.Apply(ids.SessionId(2), "file:///a.go", wire.DeltaEdit, open.Snapshot.Epoch, 0, 0, 0, tx, "")
	if wire.CodeOf(res.Err) != wire.NotPreferredOwner {
		t.Fatalf("expected NotPreferredOwner, got %v", res.Err)
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	core, _ := startCore(t)
	open := core.Open(ids.SessionId(1), "file:///a.go", "abc")
	h, n := rope.New("abc").Fingerprint()
	tx := insertAt(3, "d", 3)
	applied := core.Apply(ids.SessionId(1), "file:///a.go", wire.DeltaEdit, open.Snapshot.Epoch, 0, h, n, tx, "g1")
	if applied.Err != nil {
		t.Fatalf("edit failed: %v", applied.Err)
	}

	undo := core.Apply(ids.SessionId(1), "file:///a.go", wire.DeltaUndo,
		applied.Ack.Epoch, applied.Ack.Seq, applied.Ack.Hash64, applied.Ack.LenChars, nil, "")
	if undo.Err != nil {
		t.Fatalf("undo failed: %v", undo.Err)
	}

	// Nothing left to undo.
	nothing := core.Apply(ids.SessionId(1), "file:///a.go", wire.DeltaUndo,
		undo.Ack.Epoch, undo.Ack.Seq, undo.Ack.Hash64, undo.Ack.LenChars, nil, "")
	if wire.CodeOf(nothing.Err) != wire.NothingToUndo {
		t.Fatalf("expected NothingToUndo, got %v", nothing.Err)
	}

	redo := core.Apply(ids.SessionId(1), "file:///a.go", wire.DeltaRedo,
		undo.Ack.Epoch, undo.Ack.Seq, undo.Ack.Hash64, undo.Ack.LenChars, nil, "")
	if redo.Err != nil {
		t.Fatalf("redo failed: %v", redo.Err)
	}
	if redo.Ack.Hash64 != applied.Ack.Hash64 {
		t.Fatalf("redo should restore the post-edit fingerprint")
	}
}

func TestCloseByOwnerUnlocksForRemainingParticipants(t *testing.T) {
	core, _ := startCore(t)
	core.Open(ids.SessionId(1), "file:///a.go", "abc")
	core.Open(ids.SessionId(2), "file:///a.go", "abc")

	res := core.Close(ids.SessionId(1), "file:///a.go")
	if res.Destroyed {
		t.Fatal("doc should survive while session 2 still has it open")
	}
	if res.Unlocked == nil {
		t.Fatal("expected an Unlocked snapshot when the owner closes")
	}
	if res.Unlocked.Owner != nil {
		t.Fatal("expected owner to be cleared after unlock")
	}
	if !res.Unlocked.OwnerNeedsResync {
		t.Fatal("expected owner_needs_resync to be set after unlock")
	}
}

func TestCloseDestroysOnLastRefcount(t *testing.T) {
	core, _ := startCore(t)
	core.Open(ids.SessionId(1), "file:///a.go", "abc")
	res := core.Close(ids.SessionId(1), "file:///a.go")
	if !res.Destroyed {
		t.Fatal("expected doc to be destroyed once refcount hits zero")
	}
	if core.Snapshot("file:///a.go") != nil {
		t.Fatal("destroyed doc should no longer be found")
	}
}

func TestFocusTransfersOwnershipAndBumpsEpoch(t *testing.T) {
	core, _ := startCore(t)
	open := core.Open(ids.SessionId(1), "file:///a.go", "abc")
	core.Open(ids.SessionId(2), "file:///a.go", "abc")

	res := core.Focus(ids.SessionId(2), "file:///a.go", true, 1, "n1", nil, nil)
	if !res.OwnerChangedOrUnlocked {
		t.Fatal("expected focus to transfer ownership")
	}
	if res.Snapshot.Epoch != open.Snapshot.Epoch+1 {
		t.Fatalf("expected epoch bump on ownership transfer, got %d", res.Snapshot.Epoch)
	}
	if res.Snapshot.RepairText == nil {
		t.Fatal("expected repair_text when no client fingerprint was provided")
	}
}

func TestFocusOutOfOrderIsNoOp(t *testing.T) {
	core, _ := startCore(t)
	core.Open(ids.SessionId(1), "file:///a.go", "abc")
	core.Focus(ids.SessionId(1), "file:///a.go", true, 5, "n1", nil, nil)
	res := core.Focus(ids.SessionId(1), "file:///a.go", true, 3, "n2", nil, nil)
	if !res.NoOp {
		t.Fatal("expected a focus_seq <= last_focus_seq to be a no-op")
	}
}

func TestOwnerIdleUnlockTick(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	core, timer := startCore(t, WithBroadcaster(broadcaster))
	core.Open(ids.SessionId(1), "file:///a.go", "abc")

	timer.advance(3 * time.Second)
	ticker := timer.nextTicker()
	ticker.fire <- timer.Now()

	select {
	case frame := <-broadcaster.events:
		if frame.Type != wire.EventSharedUnlocked {
			t.Fatalf("expected SharedUnlocked, got %s", frame.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected idle-unlock broadcast after 2s of owner inactivity")
	}

	snap := core.Snapshot("file:///a.go")
	if snap == nil || snap.Owner != nil {
		t.Fatal("expected owner to be cleared by the idle-unlock tick")
	}
}

func TestResyncClearsNeedsResyncForOwner(t *testing.T) {
	core, _ := startCore(t)
	core.Open(ids.SessionId(1), "file:///a.go", "abc")
	core.Open(ids.SessionId(2), "file:///a.go", "abc")
	core.Close(ids.SessionId(1), "file:///a.go") // unlocks, sets owner_needs_resync

	core.Focus(ids.SessionId(2), "file:///a.go", true, 1, "n1", nil, nil)
	res := core.Resync(ids.SessionId(2), "file:///a.go", "n2", nil, nil)
	if !res.Found || res.Matched {
		t.Fatalf("expected a mismatch resync with full text, got %+v", res)
	}
	snap := core.Snapshot("file:///a.go")
	if snap.OwnerNeedsResync {
		t.Fatal("resync by the new owner should clear owner_needs_resync")
	}
}
