// Package clock lets the hold timers and workers run against a controllable
// time source. Production code uses Real; tests use Fake and move time with
// Advance.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker mirrors time.Ticker: C has capacity 1 and late ticks are dropped.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
