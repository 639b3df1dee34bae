package aggregation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// WindowMode selects when a window closes.
type WindowMode string

const (
	// WindowCount closes after every read batch.
	WindowCount WindowMode = "count"
	// WindowTime accumulates batches until a duration has elapsed.
	WindowTime WindowMode = "time"
)

// ParseWindowMode validates a configured window mode.
func ParseWindowMode(s string) (WindowMode, error) {
	switch m := WindowMode(s); m {
	case WindowCount, WindowTime:
		return m, nil
	}
	return "", fmt.Errorf("invalid window mode %q (want %q or %q)", s, WindowCount, WindowTime)
}

// Sample is what one stream record contributes to a window.
type Sample struct {
	// Timestamp in seconds since the epoch; zero when the record carried none.
	Timestamp float64
	// Values holds the tracked metrics present in the record, keyed by metric name.
	Values map[string]decimal.Decimal
	// Fallback marks a record the decoder could not interpret. It carries no values.
	Fallback bool
}

// Window accumulates samples until the owner closes it with Result.
// It is not safe for concurrent use; the consumer owns it exclusively.
type Window struct {
	metrics []MetricDefinition
	stats   map[string]*Stats

	records int
	lastSeq int64
	start   float64
	end     float64
}

// NewWindow returns an empty window tracking metrics.
func NewWindow(metrics []MetricDefinition) *Window {
	w := &Window{metrics: metrics}
	w.Reset()
	return w
}

// Reset empties the window.
func (w *Window) Reset() {
	w.stats = make(map[string]*Stats, len(w.metrics))
	w.records = 0
	w.lastSeq = -1
	w.start = math.Inf(1)
	w.end = math.Inf(-1)
}

// Observe folds the record at seq into the window.
func (w *Window) Observe(seq int64, s Sample) {
	w.records++
	if seq > w.lastSeq {
		w.lastSeq = seq
	}
	if s.Timestamp != 0 {
		w.start = math.Min(w.start, s.Timestamp)
		w.end = math.Max(w.end, s.Timestamp)
	}
	for name, v := range s.Values {
		st, ok := w.stats[name]
		if !ok {
			st = &Stats{}
			w.stats[name] = st
		}
		st.Observe(v)
	}
}

// Records is the number of records observed since the last reset.
func (w *Window) Records() int { return w.records }

// LastSequenceNumber is the highest sequence number observed, or -1.
func (w *Window) LastSequenceNumber() int64 { return w.lastSeq }

// Result closes the window into an Aggregate. Values are rounded half away
// from zero to places decimal places; a negative places keeps full precision.
// ok is false when no tracked metric was observed.
func (w *Window) Result(places int32) (agg Aggregate, ok bool) {
	if len(w.stats) == 0 {
		return Aggregate{}, false
	}

	agg = Aggregate{
		LastSequenceNumber: w.lastSeq,
		Records:            w.records,
	}
	if !math.IsInf(w.start, 0) {
		agg.WindowStart = w.start
		agg.WindowEnd = w.end
		agg.Timestamp = w.end
	}

	for _, m := range w.metrics {
		st, ok := w.stats[m.Name]
		if !ok {
			continue
		}
		res := MetricResult{
			Name:    m.Name,
			Samples: st.Count,
			Values:  make(map[string]decimal.Decimal, len(m.Operators)),
		}
		for _, op := range m.Operators {
			v := Operators[op].Value(*st)
			if places >= 0 && op != OpCount {
				v = v.Round(places)
			}
			res.Values[op] = v
		}
		agg.Metrics = append(agg.Metrics, res)
	}
	return agg, true
}
