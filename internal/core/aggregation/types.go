package aggregation

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Statistic operators an aggregate can carry per metric.
const (
	OpAvg   = "avg"
	OpMin   = "min"
	OpMax   = "max"
	OpSum   = "sum"
	OpCount = "count"
)

// DefaultOperators is what a metric emits when its definition names none.
var DefaultOperators = []string{OpAvg, OpMin, OpMax}

// SourceRollingAverage tags aggregate records so they can share a sink with
// raw pass-through records.
const SourceRollingAverage = "Rolling Average"

// MetricResult is the finished statistics for one metric in one window.
// Values is keyed by operator and holds only the operators the metric emits.
type MetricResult struct {
	Name    string
	Samples int64
	Values  map[string]decimal.Decimal
}

// Aggregate is one closed window. It is immutable once built.
type Aggregate struct {
	// WindowStart and WindowEnd are the oldest and newest sample timestamps,
	// in seconds since the epoch.
	WindowStart float64
	WindowEnd   float64
	// Timestamp is the newest sample timestamp in the window.
	Timestamp          float64
	LastSequenceNumber int64
	// Records counts every stream record consumed into the window,
	// including ones that carried no tracked metric.
	Records int
	Metrics []MetricResult
}

// Fields flattens the aggregate to the downstream key set:
// <op>_<metric>, timestamp, window_start, window_end, last_sequence_number and Source.
func (a Aggregate) Fields() map[string]any {
	out := map[string]any{
		"Source":               SourceRollingAverage,
		"timestamp":            a.Timestamp,
		"window_start":         a.WindowStart,
		"window_end":           a.WindowEnd,
		"last_sequence_number": a.LastSequenceNumber,
	}
	for _, m := range a.Metrics {
		for op, v := range m.Values {
			if op == OpCount {
				out[op+"_"+m.Name] = v.IntPart()
				continue
			}
			out[op+"_"+m.Name] = v.InexactFloat64()
		}
	}
	return out
}

// MarshalJSON emits the flat downstream shape from Fields.
func (a Aggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Fields())
}

// Metric returns the result for name, if the window observed it.
func (a Aggregate) Metric(name string) (MetricResult, bool) {
	for _, m := range a.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricResult{}, false
}
