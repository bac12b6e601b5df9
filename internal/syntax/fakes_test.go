package syntax

import (
	"context"
	"sync"
	"time"

	"github.com/loomcode/loom/internal/ports"
)

type fakeTree struct {
	id         string
	start, end int
}

func (t *fakeTree) ByteRange() (int, int) { return t.start, t.end }

type fakeLoader struct{}

func (fakeLoader) Load(languageID string) (any, error) { return languageID, nil }

// fakeEngine lets tests script parse latency/outcome per call without a
// real tree-sitter grammar.
type fakeEngine struct {
	mu        sync.Mutex
	gate      chan struct{} // closed to release parked calls; nil means no parking
	calls     int
	failNext  *ports.SyntaxError
	treeIDSeq int
}

func newFakeEngine() *fakeEngine { return &fakeEngine{} }

func (e *fakeEngine) nextTree(start, end int) *fakeTree {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.treeIDSeq++
	return &fakeTree{id: string(rune('a' + e.treeIDSeq)), start: start, end: end}
}

// park blocks until either the gate closes or ctx is done, returning true
// if ctx won the race (simulating a timed-out background parse).
func (e *fakeEngine) park(ctx context.Context) bool {
	e.mu.Lock()
	g := e.gate
	e.mu.Unlock()
	if g == nil {
		return false
	}
	select {
	case <-g:
		return false
	case <-ctx.Done():
		return true
	}
}

func (e *fakeEngine) Parse(ctx context.Context, source, languageID string, loader ports.LanguageLoader, opts ports.ParseOptions) (ports.SyntaxTree, *ports.SyntaxError) {
	e.mu.Lock()
	e.calls++
	fail := e.failNext
	e.failNext = nil
	e.mu.Unlock()
	if e.park(ctx) {
		return nil, &ports.SyntaxError{Timeout: true, Err: ctx.Err()}
	}
	select {
	case <-ctx.Done():
		return nil, &ports.SyntaxError{Timeout: true, Err: ctx.Err()}
	default:
	}
	if fail != nil {
		return nil, fail
	}
	return e.nextTree(0, len(source)), nil
}

func (e *fakeEngine) ParseViewport(ctx context.Context, window, languageID string, loader ports.LanguageLoader, opts ports.ParseOptions, baseOffset int) (ports.SyntaxTree, *ports.SyntaxError) {
	e.mu.Lock()
	e.calls++
	fail := e.failNext
	e.failNext = nil
	e.mu.Unlock()
	if e.park(ctx) {
		return nil, &ports.SyntaxError{Timeout: true, Err: ctx.Err()}
	}
	select {
	case <-ctx.Done():
		return nil, &ports.SyntaxError{Timeout: true, Err: ctx.Err()}
	default:
	}
	if fail != nil {
		return nil, fail
	}
	return e.nextTree(baseOffset, baseOffset+len(window)), nil
}

func (e *fakeEngine) Incremental(ctx context.Context, base ports.SyntaxTree, oldSource, newSource string, changes ports.ChangeSet, loader ports.LanguageLoader, opts ports.ParseOptions) (ports.SyntaxTree, *ports.SyntaxError) {
	e.mu.Lock()
	e.calls++
	fail := e.failNext
	e.failNext = nil
	e.mu.Unlock()
	if e.park(ctx) {
		return nil, &ports.SyntaxError{Timeout: true, Err: ctx.Err()}
	}
	if fail != nil {
		return nil, fail
	}
	return e.nextTree(0, len(newSource)), nil
}

// fakeTimer is a controllable ports.Timer; Now() advances only via advance.
type fakeTimer struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeTimer() *fakeTimer { return &fakeTimer{now: time.Unix(0, 0)} }

func (f *fakeTimer) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimer) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.Now().Add(d)
	return ch
}

func (f *fakeTimer) NewTicker(d time.Duration) ports.Ticker { return &fakeTicker{c: make(chan time.Time, 1)} }

type fakeTicker struct{ c chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}
