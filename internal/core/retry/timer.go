// Package retry runs cenkalti/backoff waits on an injectable clock.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// NewTimer returns a backoff.Timer driven by clock, so tests can advance
// retry waits with a fake clock instead of sleeping.
func NewTimer(clock clockwork.Clock) backoff.Timer {
	return &clockTimer{clock: clock}
}

type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
