// Package syntaxdrive is the daemon-side stand-in for the "editor's
// frame/tick loop" internal/syntax.Manager's own doc comment says owns
// EnsureSyntax. loomd has no per-frame redraw of its own, so this package
// plays that role: it implements shareddoc.RoutingNotifier to learn when a
// document's text changes, and Run's periodic tick drives EnsureSyntax for
// every dirtied document instead of a UI repaint triggering it.
//
// Client-visible syntax trees (folding, highlighting) are out of scope —
// SPEC_FULL.md's wire protocol carries no syntax-tree response type, since
// the spec's own component table positions the syntax manager as an
// internal scheduling engine, not a wire-exposed one. This driver keeps
// the Manager warm and its install/error counters flowing to metrics.
package syntaxdrive

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/metrics"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/shareddoc"
	"github.com/loomcode/loom/internal/syntax"
)

var _ shareddoc.RoutingNotifier = (*Driver)(nil)

// coldAfter is how long a document may go without an editor focusing or
// viewporting it before the retention sweep classifies it Cold (spec
// §4.6's hotness_fn). Below this it is Warm: open, but not the active
// tab.
const coldAfter = 2 * time.Minute

// Driver tracks one syntax.Manager slot per open document URI and pumps
// EnsureSyntax on a fixed tick. It also plays the role spec §4.6's
// hotness_fn(doc_id) and viewport key normally fall to the editor's own
// frame loop: loomd has no frame loop, so Focus/Viewport requests arriving
// over the wire feed this classification instead.
type Driver struct {
	mgr     *syntax.Manager
	policy  syntax.Policy
	loader  ports.LanguageLoader
	timer   ports.Timer
	metrics *metrics.Registry
	log     *slog.Logger

	mu       sync.Mutex
	docAlloc ids.DocAllocator
	docs     map[string]*docState
}

type docState struct {
	id         ids.DocId
	languageID string
	text       string
	version    uint64
	dirty      bool

	focusedBy  map[ids.SessionId]bool
	viewport   *syntax.ViewportKey
	lastActive time.Time
}

// New constructs a Driver over mgr. loader resolves a document's
// language id to the engine's grammar handle (DefaultLoader in
// production).
func New(mgr *syntax.Manager, policy syntax.Policy, loader ports.LanguageLoader, timer ports.Timer, reg *metrics.Registry, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		mgr: mgr, policy: policy, loader: loader, timer: timer, metrics: reg, log: log,
		docs: make(map[string]*docState),
	}
}

// TextChanged implements shareddoc.RoutingNotifier: it records uri's
// latest full text and marks it dirty for the next Tick.
func (d *Driver) TextChanged(uri string, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stateFor(uri)
	st.text = text
	st.version++
	st.dirty = true
	st.lastActive = d.now()
}

// DocClosed implements shareddoc.RoutingNotifier: it forgets uri's slot
// and releases the Manager's scheduling state for it.
func (d *Driver) DocClosed(uri string) {
	d.mu.Lock()
	st, ok := d.docs[uri]
	delete(d.docs, uri)
	d.mu.Unlock()
	if ok {
		d.mgr.CloseDocument(st.id)
	}
}

// SetFocus records whether sid currently has uri focused, the signal
// spec §4.6's hotness_fn classifies Visible/Warm from. Called by the
// gateway's focus handler alongside shareddoc.Core.Focus.
func (d *Driver) SetFocus(uri string, sid ids.SessionId, focused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stateFor(uri)
	if focused {
		st.focusedBy[sid] = true
		st.lastActive = d.now()
	} else {
		delete(st.focusedBy, sid)
	}
}

// SetViewport records the editor's visible byte range for uri, feeding
// the L-tier Stage-A/Stage-B viewport lane (spec §4.6). Called by the
// gateway's viewport handler.
func (d *Driver) SetViewport(uri string, start, end int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stateFor(uri)
	st.viewport = &syntax.ViewportKey{Start: start, End: end}
	st.lastActive = d.now()
}

// stateFor returns uri's docState, allocating one if this is the first
// time the driver has heard of it. Callers must hold d.mu.
func (d *Driver) stateFor(uri string) *docState {
	st, ok := d.docs[uri]
	if !ok {
		st = &docState{
			id: d.docAlloc.Next(), languageID: languageIDFor(uri),
			focusedBy: make(map[ids.SessionId]bool),
		}
		d.docs[uri] = st
	}
	return st
}

func (d *Driver) now() time.Time {
	if d.timer != nil {
		return d.timer.Now()
	}
	return time.Now()
}

// hotness classifies st per spec §4.6's hotness_fn: focused by some
// session is Visible, recently active but unfocused is Warm, otherwise
// Cold. Callers must hold d.mu.
func (d *Driver) hotness(st *docState) syntax.Hotness {
	if len(st.focusedBy) > 0 {
		return syntax.HotnessVisible
	}
	if d.now().Sub(st.lastActive) < coldAfter {
		return syntax.HotnessWarm
	}
	return syntax.HotnessCold
}

// Run ticks EnsureSyntax for every dirty document every interval, until
// ctx is cancelled.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.tick(ctx)
		}
	}
}

// ensureJob is a snapshot of the state EnsureSyntax needs for one
// document, captured under d.mu so the rest of tick can run lock-free.
type ensureJob struct {
	docID      ids.DocId
	languageID string
	text       string
	version    uint64
	hotness    syntax.Hotness
	viewport   *syntax.ViewportKey
}

func (d *Driver) tick(ctx context.Context) {
	d.mu.Lock()
	due := make([]ensureJob, 0, len(d.docs))
	hotnessByDoc := make(map[ids.DocId]syntax.Hotness, len(d.docs))
	for _, st := range d.docs {
		h := d.hotness(st)
		hotnessByDoc[st.id] = h
		if st.dirty {
			due = append(due, ensureJob{
				docID: st.id, languageID: st.languageID, text: st.text,
				version: st.version, hotness: h, viewport: st.viewport,
			})
			st.dirty = false
		}
	}
	d.mu.Unlock()

	for _, job := range due {
		result := d.mgr.EnsureSyntax(ctx, syntax.EnsureInput{
			DocID:      job.docID,
			LanguageID: job.languageID,
			Loader:     d.loader,
			Source:     job.text,
			DocVersion: job.version,
			Hotness:    job.hotness,
			Viewport:   job.viewport,
			Edited:     true,
		})
		tier, _ := d.policy.TierFor(len(job.text))
		d.report([...]string{"s", "m", "l"}[tier], result)
	}

	d.mgr.SweepRetention(func(docID ids.DocId) syntax.Hotness {
		return hotnessByDoc[docID]
	})
}

func (d *Driver) report(tier string, result syntax.EnsureResult) {
	if d.metrics == nil {
		return
	}
	kind := "full"
	switch result.Result {
	case syntax.OutcomeReady:
		if result.Updated {
			d.metrics.SyntaxInstalls.WithLabelValues(tier, kind).Inc()
		}
	case syntax.OutcomeThrottled, syntax.OutcomeCooldown:
		d.metrics.SyntaxErrors.WithLabelValues(tier, kind).Inc()
	}
}

// languageIDFor derives a tree-sitter language id from uri's extension,
// the same small set syntaxengine.DefaultLoader bundles grammars for.
func languageIDFor(uri string) string {
	switch strings.ToLower(path.Ext(uri)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	default:
		return ""
	}
}
