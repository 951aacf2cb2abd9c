package broker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrForwardingSuspended is returned by GuardedBus.Publish while the breaker
// is open and the cooldown has not elapsed.
var ErrForwardingSuspended = errors.New("broker: external forwarding suspended")

type busState int

const (
	busHealthy busState = iota
	busTripped
	busProbing
)

func (s busState) String() string {
	switch s {
	case busHealthy:
		return "healthy"
	case busTripped:
		return "tripped"
	case busProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// GuardedBus wraps an ExternalBus with a trip breaker so that a dead or
// flapping bus cannot slow the publish path. After tripAfter consecutive
// publish failures the wrapper rejects publishes immediately; once the
// cooldown elapses a limited number of probe publishes are let through, and
// the wrapper recovers only if all of them succeed.
//
// GuardedBus satisfies ExternalBus and is safe for concurrent use.
type GuardedBus struct {
	inner     ExternalBus
	tripAfter int
	cooldown  time.Duration
	probes    int
	now       func() time.Time

	mu         sync.Mutex
	state      busState
	failures   int
	trippedAt  time.Time
	probesSent int
}

// GuardOptions tunes a GuardedBus. Zero values fall back to defaults.
type GuardOptions struct {
	// TripAfter is the number of consecutive publish failures before the
	// bus is suspended. Defaults to 5.
	TripAfter int

	// Cooldown is how long the bus stays suspended before probing.
	// Defaults to 30 seconds.
	Cooldown time.Duration

	// Probes is how many publishes are let through while probing.
	// Defaults to 3.
	Probes int

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Guard wraps inner so that repeated publish failures suspend forwarding
// instead of degrading every local publish.
func Guard(inner ExternalBus, opts GuardOptions) *GuardedBus {
	if opts.TripAfter <= 0 {
		opts.TripAfter = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.Probes <= 0 {
		opts.Probes = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GuardedBus{
		inner:     inner,
		tripAfter: opts.TripAfter,
		cooldown:  opts.Cooldown,
		probes:    opts.Probes,
		now:       opts.Now,
	}
}

// Publish forwards to the wrapped bus unless the breaker is open. While
// probing only the configured number of publishes are attempted; the rest
// get ErrForwardingSuspended.
func (g *GuardedBus) Publish(subject string, data []byte) error {
	g.mu.Lock()
	switch g.state {
	case busTripped:
		if g.now().Sub(g.trippedAt) < g.cooldown {
			g.mu.Unlock()
			return ErrForwardingSuspended
		}
		g.state = busProbing
		g.probesSent = 0
		slog.Info("broker: probing external bus after cooldown")
	case busProbing:
		if g.probesSent >= g.probes {
			g.mu.Unlock()
			return ErrForwardingSuspended
		}
	}
	probing := g.state == busProbing
	if probing {
		g.probesSent++
	}
	g.mu.Unlock()

	err := g.inner.Publish(subject, data)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.noteFailure(probing)
	} else {
		g.noteSuccess(probing)
	}
	return err
}

// noteFailure is called with g.mu held.
func (g *GuardedBus) noteFailure(probing bool) {
	g.trippedAt = g.now()
	if probing {
		g.state = busTripped
		g.failures = g.tripAfter
		slog.Warn("broker: external bus probe failed, forwarding suspended again")
		return
	}
	g.failures++
	if g.failures >= g.tripAfter && g.state == busHealthy {
		g.state = busTripped
		slog.Warn("broker: external bus forwarding suspended",
			"consecutive_failures", g.failures)
	}
}

// noteSuccess is called with g.mu held.
func (g *GuardedBus) noteSuccess(probing bool) {
	if probing {
		if g.state == busProbing && g.probesSent >= g.probes {
			g.state = busHealthy
			g.failures = 0
			slog.Info("broker: external bus forwarding resumed")
		}
		return
	}
	g.failures = 0
}

// IsConnected reports whether publishes are currently being forwarded. It is
// false both when the underlying bus reports a dead connection and while the
// breaker has forwarding suspended.
func (g *GuardedBus) IsConnected() bool {
	g.mu.Lock()
	suspended := g.state == busTripped && g.now().Sub(g.trippedAt) < g.cooldown
	g.mu.Unlock()
	if suspended {
		return false
	}
	return g.inner.IsConnected()
}
