package broker

import (
	"context"
	"time"

	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/wire"
)

// fakeSink records every frame sent to it; Send never fails unless
// closed is set, letting tests assert broadcast fan-out deterministically.
type fakeSink struct {
	frames chan wire.Frame
	closed bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{frames: make(chan wire.Frame, 32)}
}

func (s *fakeSink) Send(frame wire.Frame) error {
	if s.closed {
		return ports.ErrSinkClosed
	}
	s.frames <- frame
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

// fakeHandle is a no-op ports.ServerHandle for tests that never actually
// spawn a process.
type fakeHandle struct{ wait chan error }

func newFakeHandle() *fakeHandle { return &fakeHandle{wait: make(chan error)} }

func (h *fakeHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fakeLauncher records Terminate calls without touching any real process.
type fakeLauncher struct {
	terminated chan ports.ServerHandle
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{terminated: make(chan ports.ServerHandle, 8)}
}

func (l *fakeLauncher) Launch(ctx context.Context, cfg wire.LaunchConfig) (ports.ServerHandle, <-chan ports.StatusEvent, error) {
	return newFakeHandle(), make(chan ports.StatusEvent), nil
}

func (l *fakeLauncher) Terminate(handle ports.ServerHandle) error {
	l.terminated <- handle
	return nil
}

// fakeTicker is a manually-fired ports.Ticker; tests hold onto fire to
// simulate lease expiry without sleeping in real time.
type fakeTicker struct {
	fire chan time.Time
	stop chan struct{}
}

func (t *fakeTicker) C() <-chan time.Time { return t.fire }
func (t *fakeTicker) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

// fakeTimer hands out fakeTickers the test can fire explicitly, keyed by
// allocation order.
type fakeTimer struct {
	tickers chan *fakeTicker
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{tickers: make(chan *fakeTicker, 64)}
}

func (t *fakeTimer) Now() time.Time { return time.Unix(0, 0) }

func (t *fakeTimer) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time)
	return ch
}

func (t *fakeTimer) NewTicker(d time.Duration) ports.Ticker {
	ft := &fakeTicker{fire: make(chan time.Time, 1), stop: make(chan struct{})}
	t.tickers <- ft
	return ft
}

// nextTicker blocks until the core allocates its next ticker (i.e. the
// next startIdleLease call).
func (t *fakeTimer) nextTicker() *fakeTicker {
	return <-t.tickers
}
