// Package clock provides the real-time implementation of ports.Timer.
// The broker, shared document authority, and syntax manager all take a
// ports.Timer so their tests can drive a fake clock instead of sleeping;
// this is the one implementation the daemon actually wires in.
package clock

import (
	"time"

	"github.com/loomcode/loom/internal/ports"
)

// Real is a ports.Timer backed by the wall clock and the standard
// library's time.After/time.Ticker.
type Real struct{}

// New returns a Real clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) ports.Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
