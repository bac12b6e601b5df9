package shareddoc

import (
	"context"
	"fmt"
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/rope"
	"github.com/loomcode/loom/internal/wire"
)

// RoutingNotifier is the "LSP routing layer" port referenced throughout
// spec §4.5 — the authority notifies it of destroyed documents and of the
// resulting text after each accepted apply. In loomd it is implemented by
// internal/syntaxdrive, not by internal/lsproute, so these notifications
// do not send didOpen/didChange/didClose to LSP servers.
type RoutingNotifier interface {
	DocClosed(uri string)
	TextChanged(uri string, text string)
}

// Broadcaster delivers an event frame to every listed participant. Most
// operations return their broadcast payload to a waiting caller (who owns
// the actual session sinks via internal/broker), but the 1Hz idle-unlock
// tick has no waiting caller, so it pushes through this port directly.
type Broadcaster interface {
	BroadcastDocEvent(participants []ids.SessionId, frame wire.Frame)
}

// Core is the shared document authority actor.
type Core struct {
	cmds chan any

	timer       ports.Timer
	history     ports.HistoryStore // nil is valid: in-memory-only mode
	router      RoutingNotifier
	broadcaster Broadcaster

	docs map[string]*doc
}

// Option configures a Core at construction time.
type Option func(*Core)

// WithHistoryStore attaches a persistence backend (spec §6, "History
// store (optional)").
func WithHistoryStore(h ports.HistoryStore) Option {
	return func(c *Core) { c.history = h }
}

// WithRouter attaches the LSP routing notification port.
func WithRouter(r RoutingNotifier) Option {
	return func(c *Core) { c.router = r }
}

// WithBroadcaster attaches the out-of-band event delivery port used by the
// idle-unlock tick.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Core) { c.broadcaster = b }
}

// NewCore constructs a Core; call Run in its own goroutine.
func NewCore(timer ports.Timer, opts ...Option) *Core {
	c := &Core{
		cmds:  make(chan any, 64),
		timer: timer,
		docs:  make(map[string]*doc),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run drives the actor loop and the 1Hz owner-idle-unlock tick until ctx
// is cancelled.
func (c *Core) Run(ctx context.Context) {
	ticker := c.timer.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.send(cmdTick{})
		case cmd := <-c.cmds:
			c.handle(cmd)
		}
	}
}

func (c *Core) send(cmd any) { c.cmds <- cmd }

func (c *Core) handle(cmd any) {
	switch m := cmd.(type) {
	case cmdOpen:
		m.reply <- c.onOpen(m)
	case cmdClose:
		m.reply <- c.onClose(m)
	case cmdApply:
		m.reply <- c.onApply(m)
	case cmdFocus:
		m.reply <- c.onFocus(m)
	case cmdActivity:
		c.onActivity(m.sid, m.uri)
	case cmdResync:
		m.reply <- c.onResync(m)
	case cmdTick:
		c.onTick()
	case cmdSnapshot:
		d, ok := c.docs[m.uri]
		if !ok {
			m.reply <- nil
			return
		}
		snap := snapshotOf(d, nil, nil)
		m.reply <- &snap

	case cmdParticipants:
		d, ok := c.docs[m.uri]
		if !ok {
			m.reply <- nil
			return
		}
		m.reply <- append([]ids.SessionId(nil), d.participants...)
	default:
		panic(fmt.Sprintf("shareddoc: unhandled command %T", cmd))
	}
}

// snapshotOf builds the wire-level DocSnapshot for broadcast/replies.
// repairText is nil unless the caller needs to include it (resync /
// mismatched-fingerprint focus acks). The third argument is ignored:
// DocSnapshot carries no nonce.
func snapshotOf(d *doc, repairText *string, _ *string) wire.DocSnapshot {
	snap := wire.DocSnapshot{
		URI:              d.uri,
		Epoch:            d.ver.Epoch,
		Seq:              d.ver.Seq,
		OwnerNeedsResync: d.ownerNeedsResync,
		RepairText:       repairText,
	}
	if d.hasOwner {
		o := uint64(d.owner)
		snap.Owner = &o
	}
	if d.hasPreferred {
		p := uint64(d.preferredOwner)
		snap.PreferredOwner = &p
	}
	return snap
}

func (c *Core) onOpen(m cmdOpen) OpenResult {
	d, existed := c.docs[m.uri]
	if !existed {
		d = newDoc(m.uri)
		c.docs[m.uri] = d

		loadedFromHistory := false
		if c.history != nil {
			seed := ids.Version{Epoch: 1, Seq: 0}
			h64, lenChars := rope.New(m.initialText).Fingerprint()
			seed.Hash64, seed.LenChars = h64, lenChars
			state, err := c.history.LoadOrCreateDoc(m.uri, m.initialText, seed)
			if err == nil && state.Loaded {
				d.rope = rope.New(state.Rope)
				d.ver = state.Version
				gotH, gotLen := d.rope.Fingerprint()
				if !d.ver.FingerprintMatches(ids.Fingerprint{Hash64: gotH, LenChars: gotLen}) {
					d.ver.Hash64, d.ver.LenChars = gotH, gotLen
				}
				loadedFromHistory = true
			}
		}
		if !loadedFromHistory {
			d.rope = rope.New(m.initialText)
			h64, lenChars := d.rope.Fingerprint()
			d.ver = ids.Version{Epoch: 1, Seq: 0, Hash64: h64, LenChars: lenChars}
		}
		d.owner, d.hasOwner = m.sid, true
		d.preferredOwner, d.hasPreferred = m.sid, true
		d.addParticipant(m.sid)
		d.refcounts[m.sid] = 1
		d.lastActive[m.sid] = c.timer.Now()

		result := OpenResult{Snapshot: snapshotOf(d, nil, nil)}
		if loadedFromHistory {
			result.TextForJoiner = d.rope.String()
			result.HasTextForJoiner = true
		}
		return result
	}

	d.refcounts[m.sid]++
	d.addParticipant(m.sid)
	d.lastActive[m.sid] = c.timer.Now()
	if !d.hasPreferred {
		d.preferredOwner, d.hasPreferred = m.sid, true
	}

	result := OpenResult{Snapshot: snapshotOf(d, nil, nil)}
	if !d.hasOwner || d.owner != m.sid {
		result.TextForJoiner = d.rope.String()
		result.HasTextForJoiner = true
	}
	return result
}

func (c *Core) onClose(m cmdClose) CloseResult {
	d, ok := c.docs[m.uri]
	if !ok {
		return CloseResult{}
	}
	if d.refcounts[m.sid] > 0 {
		d.refcounts[m.sid]--
	}
	wasOwner := d.hasOwner && d.owner == m.sid
	if d.refcounts[m.sid] == 0 {
		delete(d.refcounts, m.sid)
		d.removeParticipant(m.sid)
		delete(d.lastActive, m.sid)
		delete(d.lastFocusSeq, m.sid)
	}

	if len(d.refcounts) == 0 {
		delete(c.docs, m.uri)
		if c.router != nil {
			c.router.DocClosed(m.uri)
		}
		return CloseResult{Destroyed: true}
	}

	if wasOwner {
		d.ver = d.ver.BumpEpoch()
		d.hasOwner = false
		d.ownerNeedsResync = true
		snap := snapshotOf(d, nil, nil)
		return CloseResult{Unlocked: &snap}
	}
	return CloseResult{}
}

func (c *Core) onApply(m cmdApply) ApplyResult {
	d, ok := c.docs[m.uri]
	if !ok {
		return ApplyResult{Err: wire.Errorf(wire.SyncDocNotFound, "no shared document for %q", m.uri)}
	}
	if !d.isParticipant(m.sid) {
		return ApplyResult{Err: wire.Errorf(wire.InvalidArgs, "session is not a participant of %q", m.uri)}
	}
	if d.hasPreferred && d.preferredOwner != m.sid {
		return ApplyResult{Err: wire.Errorf(wire.NotPreferredOwner, "session is not the preferred owner of %q", m.uri)}
	}
	if !d.hasOwner || d.owner != m.sid {
		return ApplyResult{Err: wire.Errorf(wire.NotDocOwner, "session does not own %q", m.uri)}
	}
	if m.baseEpoch != d.ver.Epoch {
		d.ownerNeedsResync = true
		return ApplyResult{Err: wire.Errorf(wire.SyncEpochMismatch, "base epoch %d != current %d", m.baseEpoch, d.ver.Epoch)}
	}
	if d.ownerNeedsResync {
		return ApplyResult{Err: wire.Errorf(wire.OwnerNeedsResync, "owner must resync before editing %q", m.uri)}
	}
	if m.baseSeq != d.ver.Seq {
		d.ownerNeedsResync = true
		return ApplyResult{Err: wire.Errorf(wire.SyncSeqMismatch, "base seq %d != current %d", m.baseSeq, d.ver.Seq)}
	}
	if m.baseHash != d.ver.Hash64 || m.baseLen != d.ver.LenChars {
		d.ownerNeedsResync = true
		return ApplyResult{Err: wire.Errorf(wire.SyncFingerprintMismatch, "client fingerprint stale for %q", m.uri)}
	}

	var fromID, toID int64
	var group string

	switch m.kind {
	case wire.DeltaEdit:
		newRope, err := d.rope.Apply(m.tx)
		if err != nil {
			return ApplyResult{Err: err}
		}
		inv := d.rope.Invert(m.tx)
		h64, lenChars := newRope.Fingerprint()
		d.rope = newRope
		d.ver = d.ver.BumpSeq(h64, lenChars)

		d.groupSeq++
		entry := historyEntry{groupID: d.groupSeq, origin: m.sid, forwardTx: m.tx, inverseTx: inv, postState: d.ver}
		d.pushHistory(entry)
		if c.history != nil {
			_ = c.history.AppendEditWithCheckpoint(m.uri, ports.HistoryEntry{
				GroupID: entry.groupID, Origin: entry.origin,
				ForwardTx: entry.forwardTx, InverseTx: entry.inverseTx, PostState: entry.postState,
			}, MaxHistoryEntries)
		}
		fromID, toID, group = entry.groupID-1, entry.groupID, m.undoGroup

	case wire.DeltaUndo:
		entry, found := d.undoEntry()
		if !found {
			return ApplyResult{Err: wire.Errorf(wire.NothingToUndo, "no history to undo for %q", m.uri)}
		}
		newRope, err := d.rope.Apply(entry.inverseTx)
		if err != nil {
			return ApplyResult{Err: err}
		}
		h64, lenChars := newRope.Fingerprint()
		d.rope = newRope
		d.ver = d.ver.BumpSeq(h64, lenChars)
		d.head--
		if c.history != nil {
			_ = c.history.UpdateDocState(m.uri, d.ver)
		}
		fromID, toID = entry.groupID, entry.groupID-1
		m.tx = entry.inverseTx

	case wire.DeltaRedo:
		entry, found := d.redoEntry()
		if !found {
			return ApplyResult{Err: wire.Errorf(wire.NothingToRedo, "no history to redo for %q", m.uri)}
		}
		newRope, err := d.rope.Apply(entry.forwardTx)
		if err != nil {
			return ApplyResult{Err: err}
		}
		h64, lenChars := newRope.Fingerprint()
		d.rope = newRope
		d.ver = d.ver.BumpSeq(h64, lenChars)
		d.head++
		if c.history != nil {
			_ = c.history.UpdateDocState(m.uri, d.ver)
		}
		fromID, toID = entry.groupID-1, entry.groupID
		m.tx = entry.forwardTx

	default:
		return ApplyResult{Err: wire.Errorf(wire.InvalidArgs, "unknown delta kind %q", m.kind)}
	}

	d.lastActive[m.sid] = c.timer.Now()

	if c.router != nil {
		c.router.TextChanged(m.uri, d.rope.String())
	}

	delta := wire.SharedDelta{
		URI: m.uri, Epoch: d.ver.Epoch, Seq: d.ver.Seq, Kind: m.kind, Tx: m.tx,
		Origin: uint64(m.sid), Hash64: d.ver.Hash64, LenChars: d.ver.LenChars,
		HistoryFromID: fromID, HistoryToID: toID, HistoryGroup: group,
	}
	return ApplyResult{
		Ack:   ApplyAck{Epoch: d.ver.Epoch, Seq: d.ver.Seq, Hash64: d.ver.Hash64, LenChars: d.ver.LenChars},
		Delta: delta,
	}
}

func (c *Core) onFocus(m cmdFocus) FocusResult {
	d, ok := c.docs[m.uri]
	if !ok {
		return FocusResult{NoOp: true}
	}
	if m.focusSeq <= d.lastFocusSeq[m.sid] {
		return FocusResult{NoOp: true, Snapshot: snapshotOf(d, nil, nil)}
	}
	d.lastFocusSeq[m.sid] = m.focusSeq

	result := FocusResult{}
	if m.focused {
		d.preferredOwner, d.hasPreferred = m.sid, true
		result.PreferredOwnerChanged = true
		if !d.hasOwner || d.owner != m.sid {
			d.ver = d.ver.BumpEpoch()
			d.owner, d.hasOwner = m.sid, true
			result.OwnerChangedOrUnlocked = true
		}
		var repair *string
		if m.clientHash64 == nil || m.clientLenChars == nil ||
			*m.clientHash64 != d.ver.Hash64 || *m.clientLenChars != d.ver.LenChars {
			text := d.rope.String()
			repair = &text
		}
		result.Snapshot = snapshotOf(d, repair, nil)
		return result
	}

	if d.hasPreferred && d.preferredOwner == m.sid {
		d.hasPreferred = false
		result.PreferredOwnerChanged = true
	}
	if d.hasOwner && d.owner == m.sid {
		d.ver = d.ver.BumpEpoch()
		d.hasOwner = false
		d.ownerNeedsResync = true
		result.OwnerChangedOrUnlocked = true
	}
	result.Snapshot = snapshotOf(d, nil, nil)
	return result
}

func (c *Core) onActivity(sid ids.SessionId, uri string) {
	if d, ok := c.docs[uri]; ok {
		d.lastActive[sid] = c.timer.Now()
	}
}

func (c *Core) onResync(m cmdResync) ResyncResult {
	d, ok := c.docs[m.uri]
	if !ok {
		return ResyncResult{Found: false}
	}
	matched := m.clientHash64 != nil && m.clientLenChars != nil &&
		*m.clientHash64 == d.ver.Hash64 && *m.clientLenChars == d.ver.LenChars
	if d.hasOwner && d.owner == m.sid {
		d.ownerNeedsResync = false
	}
	if matched {
		return ResyncResult{Found: true, Matched: true}
	}
	return ResyncResult{Found: true, Matched: false, FullText: d.rope.String()}
}

// onTick implements spec §4.5's 1Hz owner-idle-unlock scan.
func (c *Core) onTick() {
	now := c.timer.Now()
	for _, d := range c.docs {
		if !d.hasOwner {
			continue
		}
		last, ok := d.lastActive[d.owner]
		if !ok || now.Sub(last) < OwnerIdleUnlock {
			continue
		}
		d.ver = d.ver.BumpEpoch()
		d.hasOwner = false
		d.ownerNeedsResync = true
		if c.broadcaster != nil {
			snap := snapshotOf(d, nil, nil)
			c.broadcaster.BroadcastDocEvent(append([]ids.SessionId(nil), d.participants...), wire.Frame{
				Kind:    wire.FrameEvent,
				Type:    wire.EventSharedUnlocked,
				Payload: wire.SharedUnlocked{Snapshot: snap},
			})
		}
	}
}
