package telemetry

import "time"

// SampleGate drops samples that arrive within MinInterval of the last
// accepted one. A zero interval accepts everything.
type SampleGate struct {
	MinInterval time.Duration

	last time.Time
	seen bool
}

// Accept reports whether a sample at now passes, and if so records it as the
// last accepted sample.
func (g *SampleGate) Accept(now time.Time) bool {
	if g.MinInterval <= 0 {
		return true
	}
	if g.seen && now.Sub(g.last) < g.MinInterval {
		return false
	}
	g.last = now
	g.seen = true
	return true
}

// Reset forgets the last accepted sample.
func (g *SampleGate) Reset() {
	g.last = time.Time{}
	g.seen = false
}
