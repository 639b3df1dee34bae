package producer

import (
	"github.com/prometheus/client_golang/prometheus"
)

type producerMetrics struct {
	appended       prometheus.Counter
	appendFailures prometheus.Counter
	malformed      prometheus.Counter
	sourceErrors   prometheus.Counter
}

func newProducerMetrics(reg prometheus.Registerer, stream, source string) (*producerMetrics, error) {
	labels := prometheus.Labels{"stream": stream, "source": source}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgestream",
			Subsystem:   "producer",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &producerMetrics{
		appended:       counter("appended_total", "Records appended to the stream"),
		appendFailures: counter("append_failures_total", "Appends the store rejected"),
		malformed:      counter("malformed_frames_total", "Source inputs skipped as malformed"),
		sourceErrors:   counter("source_errors_total", "Unexpected source read errors"),
	}
	for _, c := range []prometheus.Collector{m.appended, m.appendFailures, m.malformed, m.sourceErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
