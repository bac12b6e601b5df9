package syntax

import (
	"time"

	"golang.org/x/time/rate"
)

// cooldownGate is a monotonic "not before" gate. Trigger records a
// deadline (until = now + d), and Active compares now against that stored
// deadline. Trigger also re-rates a burst-1 rate.Limiter to one token per d
// and spends its token, but Active never consults the limiter; the
// deadline alone decides. Each slot carries three such gates (full,
// viewport-urgent, viewport-enrich; see docCooldowns).
type cooldownGate struct {
	limiter *rate.Limiter
	until   time.Time
	active  bool
}

func newCooldownGate() *cooldownGate {
	return &cooldownGate{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Trigger opens the gate for d starting at now.
func (g *cooldownGate) Trigger(now time.Time, d time.Duration) {
	g.until = now.Add(d)
	g.active = true
	// The limiter is left at one token per d with its token spent; Active
	// checks g.until, not the limiter.
	g.limiter.SetLimitAt(now, rate.Every(d))
	g.limiter.AllowN(now, 1)
}

// Active reports whether the cooldown is still in effect at now.
func (g *cooldownGate) Active(now time.Time) bool {
	if !g.active {
		return false
	}
	if now.Before(g.until) {
		return true
	}
	g.active = false
	return false
}
