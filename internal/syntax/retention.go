package syntax

import (
	"github.com/loomcode/loom/internal/ids"
)

// HotnessFn classifies a document's current visibility for the retention
// sweep (spec §4.6's `hotness_fn(doc_id)`).
type HotnessFn func(docID ids.DocId) Hotness

// SweepRetention is the frame-level pass (spec §4.6 "Retention sweep", C12):
// it iterates every known document, consults hotnessFn and, for documents
// that are now Cold, drops state per the owning tier's retention policy;
// when that tier does not parse while hidden, it also detaches the
// document's in-flight tasks and flushes its completed queue.
// The permit for a detached task remains held until the engine call
// returns; SweepRetention never blocks on that.
func (m *Manager) SweepRetention(hotnessFn HotnessFn) {
	m.pumpCollector()

	for docID, s := range m.slots {
		h := hotnessFn(docID)
		sc := m.scheduling[docID]
		if sc == nil {
			continue
		}
		pol := m.policyForTier(s.lastTier)

		if h != HotnessCold {
			continue
		}

		ttlExpired := m.timer.Now().Sub(sc.lastVisibleAt) >= pol.RetentionTTL
		if pol.RetentionHiddenFull == RetentionDropWhenHidden || (pol.RetentionHiddenFull == RetentionDropAfterTTL && ttlExpired) {
			if s.full != nil {
				s.full = nil
			}
		}
		if pol.RetentionHiddenViewport == RetentionDropWhenHidden || (pol.RetentionHiddenViewport == RetentionDropAfterTTL && ttlExpired) {
			if len(s.viewportCache) > 0 {
				s.viewportCache = make(map[ViewportKey]*viewportResidency)
			}
		}

		if !pol.ParseWhenHidden {
			if sc.hasActiveFull {
				m.collector.Detach(sc.activeFull)
				sc.hasActiveFull = false
			}
			if sc.hasActiveViewportUrgent {
				m.collector.Detach(sc.activeViewportUrgent)
				sc.hasActiveViewportUrgent = false
			}
			if sc.hasActiveViewportEnrich {
				m.collector.Detach(sc.activeViewportEnrich)
				sc.hasActiveViewportEnrich = false
			}
			sc.completedQueue = nil
		}
	}
}

// policyForTier looks up a tier's policy directly, avoiding a reverse
// byte-size lookup: SweepRetention only needs the retention and
// parse_when_hidden flags, which are addressed by tier, not by size.
func (m *Manager) policyForTier(t Tier) TierPolicy {
	switch t {
	case TierM:
		return m.policy.M
	case TierL:
		return m.policy.L
	default:
		return m.policy.S
	}
}
