package syntax

import (
	"context"
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
)

// docCooldowns bundles the three independent "not before" gates a slot's
// scheduling state can carry.
type docCooldowns struct {
	full            *cooldownGate
	viewportUrgent  *cooldownGate
	viewportEnrich  *cooldownGate
}

func newDocCooldowns() *docCooldowns {
	return &docCooldowns{full: newCooldownGate(), viewportUrgent: newCooldownGate(), viewportEnrich: newCooldownGate()}
}

// Manager implements ensure_syntax and the retention sweep (spec §4.6,
// §4.9 C12). It is method-object, not actor-shaped: callers must not
// invoke its mutating methods concurrently for the same document — the
// owner is the editor's frame/tick loop, per spec §5.
type Manager struct {
	policy    Policy
	collector *Collector
	timer     ports.Timer

	slots      map[ids.DocId]*slot
	scheduling map[ids.DocId]*schedulingState
	cooldowns  map[ids.DocId]*docCooldowns
	treeIDSeq  uint64
}

// NewManager constructs a Manager over the given policy and collector.
func NewManager(policy Policy, collector *Collector, timer ports.Timer) *Manager {
	return &Manager{
		policy:     policy,
		collector:  collector,
		timer:      timer,
		slots:      make(map[ids.DocId]*slot),
		scheduling: make(map[ids.DocId]*schedulingState),
		cooldowns:  make(map[ids.DocId]*docCooldowns),
	}
}

// pumpCollector drains every completion the collector has accumulated
// since the last pump and files each one onto its owning document's
// queue. Completions for documents that have since been closed (no
// scheduling state left) are dropped — their task was already detached
// by CloseDocument.
func (m *Manager) pumpCollector() {
	for _, c := range m.collector.DrainFinished() {
		sc, ok := m.scheduling[c.DocID]
		if !ok {
			continue
		}
		sc.completedQueue = append(sc.completedQueue, c)
	}
}

func (m *Manager) slotFor(docID ids.DocId) (*slot, *schedulingState, *docCooldowns) {
	s, ok := m.slots[docID]
	if !ok {
		s = &slot{docID: docID, viewportCache: make(map[ViewportKey]*viewportResidency)}
		m.slots[docID] = s
	}
	sc, ok := m.scheduling[docID]
	if !ok {
		sc = &schedulingState{}
		m.scheduling[docID] = sc
	}
	cd, ok := m.cooldowns[docID]
	if !ok {
		cd = newDocCooldowns()
		m.cooldowns[docID] = cd
	}
	return s, sc, cd
}

// EnsureInput bundles ensure_syntax's per-call inputs (spec §4.6).
type EnsureInput struct {
	DocID       ids.DocId
	LanguageID  string
	Loader      ports.LanguageLoader
	Source      string // current full document text
	OldSource   string // pre-edit text, for incremental spawn
	Changes     ports.ChangeSet
	DocVersion  uint64 // target_doc_version
	OptsKey     string
	Hotness     Hotness
	Viewport    *ViewportKey // nil if no viewport requested this frame
	Edited      bool         // true if an edit landed since the last poll
}

// EnsureSyntax implements the ordered algorithm of spec §4.6.
func (m *Manager) EnsureSyntax(ctx context.Context, in EnsureInput) EnsureResult {
	s, sc, cd := m.slotFor(in.DocID)
	now := m.timer.Now()
	updated := false

	// Step 1: normalize slot.
	if s.languageID != in.LanguageID || s.lastOptsKey != in.OptsKey || s.dirty {
		sc.epoch++
		s.full = nil
		s.pendingIncremental = nil
		s.languageID = in.LanguageID
		s.lastOptsKey = in.OptsKey
		s.loader = in.Loader
		s.dirty = false
		updated = true
	}

	// Step 2: touch visibility.
	if in.Hotness == HotnessVisible || in.Hotness == HotnessWarm {
		sc.lastVisibleAt = now
	}
	if in.Edited {
		sc.lastEditAt = now
	}

	// Step 3: drain completed queue. pumpCollector fans the collector's
	// single completion list out to each document's own queue so that a
	// poll for one document never discards another document's results.
	m.pumpCollector()
	pending := sc.completedQueue
	sc.completedQueue = nil
	for _, c := range pending {
		if c.Epoch != sc.epoch {
			continue // stale
		}
		if c.Err != nil {
			if c.Err.Timeout {
				if c.Kind == TaskViewportStageA || c.Kind == TaskViewportStageB {
					cd.viewportUrgent.Trigger(now, tierPolicyFor(m.policy, len(in.Source)).ViewportCooldownOnTimeout)
				} else {
					cd.full.Trigger(now, tierPolicyFor(m.policy, len(in.Source)).CooldownOnTimeout)
				}
			} else {
				cd.full.Trigger(now, tierPolicyFor(m.policy, len(in.Source)).CooldownOnError)
			}
			switch c.Kind {
			case TaskViewportStageA:
				sc.hasActiveViewportUrgent = false
			case TaskViewportStageB:
				sc.hasActiveViewportEnrich = false
			default:
				sc.hasActiveFull = false
			}
			continue
		}

		switch c.Kind {
		case TaskViewportStageA, TaskViewportStageB:
			if m.viewportInstallOK(s, c, in.DocVersion) {
				res := s.viewportCache[c.ViewportKey]
				if res == nil {
					res = &viewportResidency{}
					s.viewportCache[c.ViewportKey] = res
				}
				res.docVersion = c.DocVersion
				if c.Kind == TaskViewportStageA {
					res.stageA = c.Tree
				} else {
					res.stageB = c.Tree
				}
				updated = true
			}
			if c.Kind == TaskViewportStageA {
				sc.hasActiveViewportUrgent = false
			} else {
				sc.hasActiveViewportEnrich = false
			}
		default:
			if m.monotonicInstallOK(s, c.DocVersion, in.DocVersion) {
				m.treeIDSeq++
				s.full = &installedTree{syntax: c.Tree, docVersion: c.DocVersion, treeID: m.treeIDSeq}
				s.dirty = false
				if c.Kind == TaskIncremental {
					s.pendingIncremental = nil
				}
				updated = true
			}
			sc.hasActiveFull = false
		}
	}

	// Step 4: retention check for this single document (the bulk sweep
	// across all documents is SweepRetention).
	tier, pol := m.policy.TierFor(len(in.Source))
	s.lastTier = tier
	if in.Hotness == HotnessCold {
		if dropOnHidden(pol.RetentionHiddenFull) || (pol.RetentionHiddenFull == RetentionDropAfterTTL && now.Sub(sc.lastVisibleAt) >= pol.RetentionTTL) {
			if s.full != nil {
				s.full = nil
				updated = true
			}
		}
		if dropOnHidden(pol.RetentionHiddenViewport) || (pol.RetentionHiddenViewport == RetentionDropAfterTTL && now.Sub(sc.lastVisibleAt) >= pol.RetentionTTL) {
			if len(s.viewportCache) > 0 {
				s.viewportCache = make(map[ViewportKey]*viewportResidency)
				updated = true
			}
		}
	}

	// Step 5: gating.
	if s.full != nil && !s.dirty {
		return EnsureResult{Result: OutcomeReady, Updated: updated}
	}
	if s.full != nil && s.dirty && now.Sub(sc.lastEditAt) < pol.Debounce && !sc.forceNoDebounce {
		return EnsureResult{Result: OutcomePending, Updated: updated}
	}
	wantsViewport := in.Viewport != nil && tier == TierL
	if wantsViewport && cd.viewportUrgent.Active(now) {
		return EnsureResult{Result: OutcomeCooldown, Updated: updated}
	}
	if !wantsViewport && cd.full.Active(now) {
		return EnsureResult{Result: OutcomeCooldown, Updated: updated}
	}

	// Step 6: sync bootstrap fast path.
	if s.full == nil && in.Hotness == HotnessVisible && pol.SyncBootstrapTimeout > 0 && !sc.syncBootstrapAttempted {
		sc.syncBootstrapAttempted = true
		bctx, cancel := context.WithTimeout(ctx, pol.SyncBootstrapTimeout)
		tree, perr := m.collector.engine.Parse(bctx, in.Source, in.LanguageID, in.Loader, parseOpts(pol))
		cancel()
		if perr == nil {
			m.treeIDSeq++
			s.full = &installedTree{syntax: tree, docVersion: in.DocVersion, treeID: m.treeIDSeq}
			s.dirty = false
			return EnsureResult{Result: OutcomeReady, Updated: true}
		}
		// Timeout or failure: fall through to background scheduling.
	}

	plannedViewport := false

	// Step 7: viewport lane decision (L-tier only).
	if tier == TierL && in.Viewport != nil {
		res := s.viewportCache[*in.Viewport]
		covered := res != nil && res.docVersion >= in.DocVersion
		if !covered && !sc.hasActiveViewportUrgent {
			window, base := sealViewportWindow(in.Source, *in.Viewport, pol.Viewport)
			spec := spawnSpec{
				docID: in.DocID, epoch: sc.epoch, kind: TaskViewportStageA, viewportKey: *in.Viewport,
				docVersion: in.DocVersion, window: window, languageID: in.LanguageID, loader: in.Loader,
				baseOffset: base, opts: ports.ParseOptions{InjectionsEnabled: false},
				timeout: withTimeout(pol.ParseTimeout),
			}
			if taskID, ok := m.collector.TrySpawn(ctx, spec); ok {
				sc.activeViewportUrgent, sc.hasActiveViewportUrgent = taskID, true
				sc.activeViewportUrgentKey = *in.Viewport
				sc.stageAStablePolls = 0
				plannedViewport = true
			}
		} else if covered && sc.hasActiveViewportUrgent && sc.activeViewportUrgentKey == *in.Viewport {
			sc.stageAStablePolls++
			if !sc.hasActiveViewportEnrich && sc.stageAStablePolls >= pol.StageB.MinStablePolls && sc.stageABudgetUsed < pol.StageB.Budget {
				window, base := sealViewportWindow(in.Source, *in.Viewport, pol.Viewport)
				spec := spawnSpec{
					docID: in.DocID, epoch: sc.epoch, kind: TaskViewportStageB, viewportKey: *in.Viewport,
					docVersion: in.DocVersion, window: window, languageID: in.LanguageID, loader: in.Loader,
					baseOffset: base, opts: parseOpts(pol), timeout: withTimeout(pol.ParseTimeout),
				}
				if taskID, ok := m.collector.TrySpawn(ctx, spec); ok {
					sc.activeViewportEnrich, sc.hasActiveViewportEnrich = taskID, true
					sc.activeViewportEnrichKey = *in.Viewport
					sc.stageABudgetUsed++
				}
			}
		}
	}

	// Step 8: full/incremental lane decision.
	if !(plannedViewport && tierPreemptsFull(tier)) {
		if !sc.hasActiveFull {
			if s.pendingIncremental != nil && s.full != nil && s.pendingIncremental.baseTreeDocVersion == s.full.docVersion {
				spec := spawnSpec{
					docID: in.DocID, epoch: sc.epoch, kind: TaskIncremental, docVersion: in.DocVersion,
					base: s.full.syntax, oldSource: s.pendingIncremental.oldRope, source: in.Source,
					changes: s.pendingIncremental.changeset, languageID: in.LanguageID, loader: in.Loader,
					opts: parseOpts(pol), timeout: withTimeout(pol.ParseTimeout),
				}
				if taskID, ok := m.collector.TrySpawn(ctx, spec); ok {
					sc.activeFull, sc.hasActiveFull = taskID, true
					return EnsureResult{Result: OutcomeKicked, Updated: updated}
				}
				return EnsureResult{Result: OutcomePending, Updated: updated}
			}

			spec := spawnSpec{
				docID: in.DocID, epoch: sc.epoch, kind: TaskFull, docVersion: in.DocVersion,
				source: in.Source, languageID: in.LanguageID, loader: in.Loader,
				opts: parseOpts(pol), timeout: withTimeout(pol.ParseTimeout),
			}
			if taskID, ok := m.collector.TrySpawn(ctx, spec); ok {
				sc.activeFull, sc.hasActiveFull = taskID, true
				return EnsureResult{Result: OutcomeKicked, Updated: updated}
			}
			return EnsureResult{Result: OutcomePending, Updated: updated}
		}
	}

	if plannedViewport {
		return EnsureResult{Result: OutcomeKicked, Updated: true}
	}
	return EnsureResult{Result: OutcomePending, Updated: updated}
}

// monotonicInstallOK implements spec §4.6's "Monotonic install guard" for
// full/incremental results.
func (m *Manager) monotonicInstallOK(s *slot, doneVersion, targetVersion uint64) bool {
	if s.full != nil && doneVersion < s.full.docVersion {
		return false
	}
	if s.full == nil {
		return true
	}
	return doneVersion == targetVersion || s.dirty
}

// viewportInstallOK implements the additional viewport-result constraint
// from spec §4.6's Monotonic install guard: done_version must not exceed
// the current document version, and no equal-or-better covering tree may
// already exist.
func (m *Manager) viewportInstallOK(s *slot, c CompletedTask, targetVersion uint64) bool {
	if c.DocVersion > targetVersion {
		return false
	}
	existing, ok := s.viewportCache[c.ViewportKey]
	if !ok {
		return true
	}
	return c.DocVersion > existing.docVersion
}

func dropOnHidden(r Retention) bool { return r == RetentionDropWhenHidden }

func tierPreemptsFull(t Tier) bool { return t == TierL }

func tierPolicyFor(p Policy, byteLen int) TierPolicy {
	_, pol := p.TierFor(byteLen)
	return pol
}

func parseOpts(pol TierPolicy) ports.ParseOptions {
	return ports.ParseOptions{InjectionsEnabled: pol.Injections == InjectionsEager}
}

func withTimeout(d time.Duration) func(context.Context) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return nil
	}
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, d)
	}
}

// sealViewportWindow clamps [key.Start-lookbehind, key.End+lookahead] to
// window.Max and to the source bounds, returning the sealed slice and its
// base offset into the full document (spec §4.6 step 7).
func sealViewportWindow(source string, key ViewportKey, w ViewportWindow) (window string, baseOffset int) {
	start := key.Start - w.Lookbehind
	if start < 0 {
		start = 0
	}
	end := key.End + w.Lookahead
	if end > len(source) {
		end = len(source)
	}
	if w.Max > 0 && end-start > w.Max {
		end = start + w.Max
		if end > len(source) {
			end = len(source)
		}
	}
	return source[start:end], start
}

// QueueIncremental records a bounded incremental edit for the next
// background catch-up, per spec §4.6's hot-path note. Called by the
// caller's synchronous edit-hot-path handler when a bounded incremental
// update could not be attempted inline (the ≤10ms fast path itself lives
// outside this package, next to the shared document authority, since it
// must run on the edit's own goroutine without waiting for a frame tick).
func (m *Manager) QueueIncremental(docID ids.DocId, baseTreeDocVersion uint64, oldRope string, changes ports.ChangeSet) {
	s, _, _ := m.slotFor(docID)
	s.pendingIncremental = &pendingIncremental{baseTreeDocVersion: baseTreeDocVersion, oldRope: oldRope, changeset: changes}
	s.dirty = true
}

// MarkDirty flags a slot dirty (language switch, retention drop, options
// change) without going through the normal edit path.
func (m *Manager) MarkDirty(docID ids.DocId) {
	s, _, _ := m.slotFor(docID)
	s.dirty = true
}

// CloseDocument drops all state for docID, detaching any in-flight tasks.
func (m *Manager) CloseDocument(docID ids.DocId) {
	if sc, ok := m.scheduling[docID]; ok {
		if sc.hasActiveFull {
			m.collector.Detach(sc.activeFull)
		}
		if sc.hasActiveViewportUrgent {
			m.collector.Detach(sc.activeViewportUrgent)
		}
		if sc.hasActiveViewportEnrich {
			m.collector.Detach(sc.activeViewportEnrich)
		}
	}
	delete(m.slots, docID)
	delete(m.scheduling, docID)
	delete(m.cooldowns, docID)
}
