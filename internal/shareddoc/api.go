package shareddoc

import (
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/wire"
)

// Open implements spec §4.5's open(sid, uri, initial_text).
func (c *Core) Open(sid ids.SessionId, uri, initialText string) OpenResult {
	reply := make(chan OpenResult, 1)
	c.send(cmdOpen{sid: sid, uri: uri, initialText: initialText, reply: reply})
	return <-reply
}

// Close implements spec §4.5's close(sid, uri).
func (c *Core) Close(sid ids.SessionId, uri string) CloseResult {
	reply := make(chan CloseResult, 1)
	c.send(cmdClose{sid: sid, uri: uri, reply: reply})
	return <-reply
}

// Apply implements spec §4.5's apply(sid, uri, kind, ...).
func (c *Core) Apply(sid ids.SessionId, uri string, kind wire.DeltaKind, baseEpoch, baseSeq, baseHash, baseLen uint64, tx wire.WireTx, undoGroup string) ApplyResult {
	reply := make(chan ApplyResult, 1)
	c.send(cmdApply{
		sid: sid, uri: uri, kind: kind,
		baseEpoch: baseEpoch, baseSeq: baseSeq, baseHash: baseHash, baseLen: baseLen,
		tx: tx, undoGroup: undoGroup, reply: reply,
	})
	return <-reply
}

// Focus implements spec §4.5's focus(sid, uri, focused, ...).
func (c *Core) Focus(sid ids.SessionId, uri string, focused bool, focusSeq uint64, nonce string, clientHash64, clientLenChars *uint64) FocusResult {
	reply := make(chan FocusResult, 1)
	c.send(cmdFocus{
		sid: sid, uri: uri, focused: focused, focusSeq: focusSeq, nonce: nonce,
		clientHash64: clientHash64, clientLenChars: clientLenChars, reply: reply,
	})
	return <-reply
}

// Activity implements spec §4.5's activity(sid, uri).
func (c *Core) Activity(sid ids.SessionId, uri string) {
	c.send(cmdActivity{sid: sid, uri: uri})
}

// Resync implements spec §4.5's resync(sid, uri, nonce, ...).
func (c *Core) Resync(sid ids.SessionId, uri, nonce string, clientHash64, clientLenChars *uint64) ResyncResult {
	reply := make(chan ResyncResult, 1)
	c.send(cmdResync{sid: sid, uri: uri, nonce: nonce, clientHash64: clientHash64, clientLenChars: clientLenChars, reply: reply})
	return <-reply
}

// Snapshot returns a copy of uri's current DocSnapshot, or nil if the
// document does not exist.
func (c *Core) Snapshot(uri string) *wire.DocSnapshot {
	reply := make(chan *wire.DocSnapshot, 1)
	c.send(cmdSnapshot{uri: uri, reply: reply})
	return <-reply
}

// Participants returns the sorted session ids currently holding uri open,
// or nil if the document does not exist. The frame dispatcher uses this
// to address SharedDelta/SharedOwnerChanged broadcasts, since Core itself
// holds no session sinks.
func (c *Core) Participants(uri string) []ids.SessionId {
	reply := make(chan []ids.SessionId, 1)
	c.send(cmdParticipants{uri: uri, reply: reply})
	return <-reply
}
