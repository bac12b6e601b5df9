package ports

import "time"

// Timer abstracts wall-clock reads and sleeps so the idle-lease sweeper,
// owner-idle unlock tick, and retention sweeper can be driven by a fake
// clock in tests instead of real time.Sleep/time.Now.
type Timer interface {
	Now() time.Time

	// After returns a channel that fires once after d, mirroring
	// time.After but satisfiable by a fake implementation.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker firing every d; callers must call Stop
	// on the returned Ticker.
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors the subset of *time.Ticker the core uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
