package syntax

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
)

func testPolicy() Policy {
	return Policy{
		S: TierPolicy{
			MaxBytesInclusive: 4096,
			Debounce:          10 * time.Millisecond,
			ParseTimeout:      2 * time.Second,
			CooldownOnTimeout: 500 * time.Millisecond,
			CooldownOnError:   500 * time.Millisecond,
		},
		L: TierPolicy{
			MaxBytesInclusive: 1 << 30,
			Debounce:          10 * time.Millisecond,
			ParseTimeout:      30 * time.Millisecond,
			CooldownOnTimeout: 200 * time.Millisecond,
			ViewportCooldownOnTimeout: 200 * time.Millisecond,
			Viewport:          ViewportWindow{Lookbehind: 10, Lookahead: 10, Max: 100},
			StageB:            StageBPolicy{MinStablePolls: 2, Budget: 1},
		},
		MaxConcurrency: 2,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEnsureSyntaxKicksThenBecomesReady(t *testing.T) {
	engine := newFakeEngine()
	collector := NewCollector(engine, 2)
	timer := newFakeTimer()
	m := NewManager(testPolicy(), collector, timer)

	in := EnsureInput{DocID: ids.DocId(1), LanguageID: "go", Loader: fakeLoader{}, Source: "package main", DocVersion: 1, Hotness: HotnessVisible}

	res := m.EnsureSyntax(context.Background(), in)
	if res.Result != OutcomeKicked {
		t.Fatalf("expected Kicked, got %v", res.Result)
	}

	waitUntil(t, time.Second, func() bool {
		res = m.EnsureSyntax(context.Background(), in)
		return res.Result == OutcomeReady
	})
}

func TestMonotonicInstallGuardRejectsStaleCompletion(t *testing.T) {
	engine := newFakeEngine()
	collector := NewCollector(engine, 2)
	timer := newFakeTimer()
	m := NewManager(testPolicy(), collector, timer)

	s, _, _ := m.slotFor(ids.DocId(1))
	s.full = &installedTree{syntax: &fakeTree{}, docVersion: 7}

	stale := CompletedTask{DocID: ids.DocId(1), Epoch: 0, Kind: TaskFull, DocVersion: 5, Tree: &fakeTree{}}
	if m.monotonicInstallOK(s, stale.DocVersion, 7) {
		t.Fatalf("stale completion (v5) must be rejected when resident is v7")
	}

	fresh := CompletedTask{DocID: ids.DocId(1), Epoch: 0, Kind: TaskFull, DocVersion: 7, Tree: &fakeTree{}}
	if !m.monotonicInstallOK(s, fresh.DocVersion, 7) {
		t.Fatalf("completion matching target version must be accepted")
	}
}

func TestViewportCooldownDoesNotBlockFullLane(t *testing.T) {
	engine := newFakeEngine()
	engine.mu.Lock()
	engine.gate = make(chan struct{}) // never closed: every parse call parks until ctx is done
	engine.mu.Unlock()

	collector := NewCollector(engine, 2)
	timer := newFakeTimer()
	pol := testPolicy()
	m := NewManager(pol, collector, timer)

	in := EnsureInput{
		DocID: ids.DocId(1), LanguageID: "go", Loader: fakeLoader{},
		Source: string(make([]byte, 2_000_000)), DocVersion: 1, Hotness: HotnessVisible,
		Viewport: &ViewportKey{Start: 0, End: 10},
	}

	res := m.EnsureSyntax(context.Background(), in)
	if res.Result != OutcomeKicked {
		t.Fatalf("expected first poll to kick the viewport urgent lane, got %v", res.Result)
	}

	// Same frame, second poll: the viewport lane is already in flight, so
	// this call must kick the independent full-parse lane (permit
	// capacity 2 covers both) per spec scenario 6.
	res = m.EnsureSyntax(context.Background(), in)
	if res.Result != OutcomeKicked {
		t.Fatalf("expected second poll to kick the full lane, got %v", res.Result)
	}
	sc := m.scheduling[ids.DocId(1)]
	if !sc.hasActiveFull || !sc.hasActiveViewportUrgent {
		t.Fatalf("expected both lanes in flight, got full=%v viewport=%v", sc.hasActiveFull, sc.hasActiveViewportUrgent)
	}

	// Let both parked parses time out and drain.
	waitUntil(t, 2*time.Second, func() bool {
		res = m.EnsureSyntax(context.Background(), in)
		return !sc.hasActiveViewportUrgent
	})

	cd := m.cooldowns[ids.DocId(1)]
	if !cd.viewportUrgent.Active(timer.Now()) {
		t.Fatalf("viewport urgent lane should be in cooldown after timeout")
	}
}

func TestSweepRetentionDropsColdFullTree(t *testing.T) {
	engine := newFakeEngine()
	collector := NewCollector(engine, 2)
	timer := newFakeTimer()
	pol := testPolicy()
	pol.S.RetentionHiddenFull = RetentionDropWhenHidden
	m := NewManager(pol, collector, timer)

	docID := ids.DocId(9)
	s, sc, _ := m.slotFor(docID)
	s.full = &installedTree{syntax: &fakeTree{}, docVersion: 1}
	s.lastTier = TierS
	sc.epoch = 1

	m.SweepRetention(func(d ids.DocId) Hotness {
		if d == docID {
			return HotnessCold
		}
		return HotnessVisible
	})

	if s.full != nil {
		t.Fatalf("cold document's full tree should have been dropped")
	}
}

func TestSealViewportWindowClampsToMax(t *testing.T) {
	source := make([]byte, 1000)
	window, base := sealViewportWindow(string(source), ViewportKey{Start: 500, End: 510}, ViewportWindow{Lookbehind: 50, Lookahead: 50, Max: 60})
	if len(window) > 60 {
		t.Fatalf("window exceeds Max: got %d", len(window))
	}
	if base != 450 {
		t.Fatalf("expected base offset 450, got %d", base)
	}
}

func TestCloseDocumentDetachesInFlightTasks(t *testing.T) {
	engine := newFakeEngine()
	engine.mu.Lock()
	engine.gate = make(chan struct{})
	engine.mu.Unlock()

	collector := NewCollector(engine, 2)
	timer := newFakeTimer()
	pol := testPolicy()
	pol.S.ParseTimeout = 20 * time.Millisecond
	m := NewManager(pol, collector, timer)

	in := EnsureInput{DocID: ids.DocId(3), LanguageID: "go", Loader: fakeLoader{}, Source: "x", DocVersion: 1, Hotness: HotnessVisible}
	res := m.EnsureSyntax(context.Background(), in)
	if res.Result != OutcomeKicked {
		t.Fatalf("expected Kicked, got %v", res.Result)
	}

	m.CloseDocument(ids.DocId(3))
	if _, ok := m.slots[ids.DocId(3)]; ok {
		t.Fatalf("slot should be removed after close")
	}
}

func TestEnsureSyntaxReportsErrorCooldown(t *testing.T) {
	engine := newFakeEngine()
	engine.failNext = &ports.SyntaxError{Timeout: false, Err: errors.New("grammar crash")}
	collector := NewCollector(engine, 2)
	timer := newFakeTimer()
	m := NewManager(testPolicy(), collector, timer)

	in := EnsureInput{DocID: ids.DocId(5), LanguageID: "go", Loader: fakeLoader{}, Source: "x", DocVersion: 1, Hotness: HotnessVisible}
	res := m.EnsureSyntax(context.Background(), in)
	if res.Result != OutcomeKicked {
		t.Fatalf("expected Kicked, got %v", res.Result)
	}

	waitUntil(t, time.Second, func() bool {
		m.EnsureSyntax(context.Background(), in)
		sc := m.scheduling[ids.DocId(5)]
		return !sc.hasActiveFull
	})

	cd := m.cooldowns[ids.DocId(5)]
	if !cd.full.Active(timer.Now()) {
		t.Fatalf("a non-timeout parse failure must trip the full-lane cooldown")
	}
}
