package shareddoc

import (
	"time"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// fakeTimer is a controllable clock: Now() returns whatever was last set
// with advance, and NewTicker hands back a ticker the test fires manually.
type fakeTimer struct {
	now     time.Time
	tickers chan *fakeTicker
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{now: time.Unix(1000, 0), tickers: make(chan *fakeTicker, 8)}
}

func (t *fakeTimer) Now() time.Time { return t.now }

func (t *fakeTimer) advance(d time.Duration) { t.now = t.now.Add(d) }

func (t *fakeTimer) After(d time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func (t *fakeTimer) NewTicker(d time.Duration) ports.Ticker {
	ft := &fakeTicker{fire: make(chan time.Time, 1)}
	t.tickers <- ft
	return ft
}

func (t *fakeTimer) nextTicker() *fakeTicker { return <-t.tickers }

type fakeTicker struct{ fire chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.fire }
func (t *fakeTicker) Stop()               {}

// fakeBroadcaster records every out-of-band event pushed by the actor
// (only the idle-unlock tick uses this path; every other operation
// returns its broadcast payload to the waiting caller instead).
type fakeBroadcaster struct {
	events chan wire.Frame
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{events: make(chan wire.Frame, 8)}
}

func (b *fakeBroadcaster) BroadcastDocEvent(participants []ids.SessionId, frame wire.Frame) {
	b.events <- frame
}
