package aggregation

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggaccel/edgestream/internal/core/obd"
)

func testMetrics(t *testing.T) []MetricDefinition {
	t.Helper()
	defs := []MetricDefinition{
		{Name: "speed", Pid: obd.PidVehicleSpeed},
		{Name: "temperature", Field: "temperature", Operators: []string{OpAvg, OpCount}},
	}
	for i := range defs {
		require.NoError(t, defs[i].Validate())
	}
	return defs
}

func sample(ts float64, values map[string]float64) Sample {
	s := Sample{Timestamp: ts, Values: map[string]decimal.Decimal{}}
	for k, v := range values {
		s.Values[k] = decimal.NewFromFloat(v)
	}
	return s
}

func TestParseWindowMode(t *testing.T) {
	m, err := ParseWindowMode("count")
	require.NoError(t, err)
	require.Equal(t, WindowCount, m)

	m, err = ParseWindowMode("time")
	require.NoError(t, err)
	require.Equal(t, WindowTime, m)

	_, err = ParseWindowMode("sliding")
	require.Error(t, err)
}

func TestWindow_Result(t *testing.T) {
	w := NewWindow(testMetrics(t))
	w.Observe(4, sample(100.5, map[string]float64{"speed": 10}))
	w.Observe(5, sample(101.5, map[string]float64{"speed": 20, "temperature": 80.123}))
	w.Observe(6, sample(0, nil)) // e.g. a decode fallback
	w.Observe(7, sample(99.5, map[string]float64{"speed": 30, "temperature": 81}))

	agg, ok := w.Result(2)
	require.True(t, ok)
	assert.Equal(t, int64(7), agg.LastSequenceNumber)
	assert.Equal(t, 4, agg.Records)
	assert.Equal(t, 99.5, agg.WindowStart)
	assert.Equal(t, 101.5, agg.WindowEnd)
	assert.Equal(t, 101.5, agg.Timestamp)

	speed, ok := agg.Metric("speed")
	require.True(t, ok)
	assert.Equal(t, int64(3), speed.Samples)
	assert.True(t, decimal.NewFromInt(20).Equal(speed.Values[OpAvg]))
	assert.True(t, decimal.NewFromInt(10).Equal(speed.Values[OpMin]))
	assert.True(t, decimal.NewFromInt(30).Equal(speed.Values[OpMax]))

	temp, ok := agg.Metric("temperature")
	require.True(t, ok)
	assert.Equal(t, "80.56", temp.Values[OpAvg].String())
	assert.True(t, decimal.NewFromInt(2).Equal(temp.Values[OpCount]))
	_, hasMin := temp.Values[OpMin]
	assert.False(t, hasMin, "only configured operators are emitted")
}

func TestWindow_RoundingDisabled(t *testing.T) {
	w := NewWindow(testMetrics(t))
	w.Observe(0, sample(1, map[string]float64{"speed": 1}))
	w.Observe(1, sample(2, map[string]float64{"speed": 2}))
	w.Observe(2, sample(3, map[string]float64{"speed": 2}))

	agg, ok := w.Result(-1)
	require.True(t, ok)
	speed, _ := agg.Metric("speed")
	assert.Equal(t, "1.6666666666666667", speed.Values[OpAvg].String())

	agg, _ = w.Result(2)
	speed, _ = agg.Metric("speed")
	assert.Equal(t, "1.67", speed.Values[OpAvg].String())
}

func TestWindow_NoTrackedSamples(t *testing.T) {
	w := NewWindow(testMetrics(t))
	w.Observe(0, sample(1, nil))
	w.Observe(1, sample(2, map[string]float64{}))

	_, ok := w.Result(2)
	require.False(t, ok)
	require.Equal(t, 2, w.Records())
	require.Equal(t, int64(1), w.LastSequenceNumber())

	w.Reset()
	require.Equal(t, 0, w.Records())
	require.Equal(t, int64(-1), w.LastSequenceNumber())
}

func TestAggregate_JSONShape(t *testing.T) {
	w := NewWindow(testMetrics(t))
	w.Observe(10, sample(1700000000, map[string]float64{"speed": 10, "temperature": 80}))
	w.Observe(11, sample(1700000001, map[string]float64{"speed": 30}))

	agg, ok := w.Result(2)
	require.True(t, ok)

	b, err := json.Marshal(agg)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"Source": "Rolling Average",
		"avg_speed": 20,
		"min_speed": 10,
		"max_speed": 30,
		"avg_temperature": 80,
		"count_temperature": 1,
		"timestamp": 1700000001,
		"window_start": 1700000000,
		"window_end": 1700000001,
		"last_sequence_number": 11
	}`, string(b))
}
