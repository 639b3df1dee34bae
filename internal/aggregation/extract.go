package aggregation

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	coreagg "github.com/ggaccel/edgestream/internal/core/aggregation"
	"github.com/ggaccel/edgestream/internal/core/obd"
)

// Extractor turns one stream payload into a window sample. It accepts the
// three payload shapes producers write: decoded reading JSON, flat JSON
// objects (simulated sensors, HTTP ingest) and raw frame lines.
type Extractor struct {
	metrics []coreagg.MetricDefinition
	decoder *obd.Decoder
}

// NewExtractor returns an extractor for metrics. Raw frame lines are decoded with decoder.
func NewExtractor(metrics []coreagg.MetricDefinition, decoder *obd.Decoder) *Extractor {
	return &Extractor{metrics: metrics, decoder: decoder}
}

// Extract returns false when the payload is neither a JSON object nor a frame line.
// A recognised payload with no tracked metric yields a sample with no values;
// decode fallbacks are flagged on the sample.
func (e *Extractor) Extract(payload []byte) (coreagg.Sample, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return coreagg.Sample{}, false
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var data map[string]any
		if err := dec.Decode(&data); err != nil {
			return coreagg.Sample{}, false
		}
		return e.fromObject(data), true
	}

	rec, err := obd.ParseLine(string(trimmed))
	if err != nil {
		return coreagg.Sample{}, false
	}
	return e.fromReading(e.decoder.Decode(rec)), true
}

func (e *Extractor) fromObject(data map[string]any) coreagg.Sample {
	s := coreagg.Sample{Values: make(map[string]decimal.Decimal, len(e.metrics))}

	ts, ok := coreagg.ExtractDecimal(data, "Timestamp")
	if !ok {
		ts, ok = coreagg.ExtractDecimal(data, "timestamp")
	}
	if ok {
		s.Timestamp = ts.InexactFloat64()
	}

	pid, _ := data["Pid"].(string)
	if obd.Pid(pid).Fallback() {
		s.Fallback = true
		return s
	}
	for _, m := range e.metrics {
		if m.Pid != "" {
			if obd.Pid(pid) != m.Pid {
				continue
			}
			if v, ok := coreagg.ExtractDecimal(data, "Value"); ok {
				s.Values[m.Name] = v
			}
			continue
		}
		if v, ok := coreagg.ExtractDecimal(data, m.Field); ok {
			s.Values[m.Name] = v
		}
	}
	return s
}

func (e *Extractor) fromReading(r obd.Reading) coreagg.Sample {
	s := coreagg.Sample{Timestamp: r.Timestamp, Values: map[string]decimal.Decimal{}}
	if r.Fallback() {
		s.Fallback = true
		return s
	}
	for _, m := range e.metrics {
		if m.Pid == r.Pid {
			s.Values[m.Name] = decimal.NewFromFloat(r.Value)
		}
	}
	return s
}
