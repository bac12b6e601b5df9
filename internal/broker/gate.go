package broker

import "github.com/loomcode/loom/internal/ids"

// gateEntry is the per-(server,uri) text-sync state described in spec
// §4.2.
type gateEntry struct {
	ownerSID           ids.SessionId
	openRefs           map[ids.SessionId]uint32
	lastVersionForward uint64
}

// noOwner marks ownerSID as unclaimed. SessionId 0 is never allocated
// (ids.Counter starts at 1), so it is safe as a sentinel.
const noOwner ids.SessionId = 0

// NotifyKind enumerates the LSP text-document notifications the gate
// arbitrates.
type NotifyKind int

const (
	NotifyDidOpen NotifyKind = iota
	NotifyDidChange
	NotifyDidClose
)

// GateDecision is the gate's verdict for one incoming notification.
type GateDecision int

const (
	GateForward GateDecision = iota
	GateDrop
	GateReject
)

// decideGate implements the table in spec §4.2. entry is nil when no
// per-uri state exists yet; it returns the decision plus the gateEntry
// state the table should hold afterward (nil means "remove the entry").
func decideGate(entry *gateEntry, kind NotifyKind, sid ids.SessionId, version uint64) (GateDecision, *gateEntry) {
	switch kind {
	case NotifyDidOpen:
		if entry == nil {
			return GateForward, &gateEntry{
				ownerSID:           sid,
				openRefs:           map[ids.SessionId]uint32{sid: 1},
				lastVersionForward: version,
			}
		}
		entry.openRefs[sid]++
		return GateDrop, entry

	case NotifyDidChange:
		if entry == nil {
			return GateReject, entry
		}
		if entry.ownerSID == noOwner {
			// Previous owner closed while other participants remain
			// (spec §4.2's ownership-transfer rule): the next change
			// claims ownership rather than being rejected.
			entry.ownerSID = sid
		} else if entry.ownerSID != sid {
			return GateReject, entry
		}
		entry.lastVersionForward = version
		return GateForward, entry

	case NotifyDidClose:
		if entry == nil {
			return GateReject, entry
		}
		total := uint32(0)
		for _, n := range entry.openRefs {
			total += n
		}
		if total > 1 {
			if entry.openRefs[sid] > 0 {
				entry.openRefs[sid]--
				if entry.openRefs[sid] == 0 {
					delete(entry.openRefs, sid)
				}
			}
			if entry.ownerSID == sid {
				entry.ownerSID = noOwner
			}
			return GateDrop, entry
		}
		// total == 1: removing the last ref, regardless of who owns it.
		return GateForward, nil
	}
	return GateReject, entry
}
