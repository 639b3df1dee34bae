// Package status exposes the most recent aggregate over HTTP.
package status

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ggaccel/edgestream/internal/core/aggregation"
)

// LastAggregate holds the newest aggregate. The consumer writes it and HTTP
// handlers read it; both hold the lock only to copy the value. The zero
// value is ready to use and stamps updates with the real clock.
type LastAggregate struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	agg     aggregation.Aggregate
	updated time.Time
	version uint64
}

// NewLastAggregate returns a holder that stamps updates with clock.
func NewLastAggregate(clock clockwork.Clock) *LastAggregate {
	return &LastAggregate{clock: clock}
}

// Set replaces the held aggregate.
func (l *LastAggregate) Set(agg aggregation.Aggregate) {
	now := time.Now()
	if l.clock != nil {
		now = l.clock.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.agg = agg
	l.updated = now.UTC()
	l.version++
}

// Get returns the held aggregate, or false before the first Set.
func (l *LastAggregate) Get() (aggregation.Aggregate, bool) {
	agg, _, version := l.snapshot()
	return agg, version > 0
}

func (l *LastAggregate) snapshot() (aggregation.Aggregate, time.Time, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.agg, l.updated, l.version
}
