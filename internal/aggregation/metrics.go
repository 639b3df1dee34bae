package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
)

type consumerMetrics struct {
	batches      prometheus.Counter
	records      prometheus.Counter
	undecodable  prometheus.Counter
	fallbacks    prometheus.Counter
	aggregates   prometheus.Counter
	gaps         prometheus.Counter
	lostRecords  prometheus.Counter
	readFailures prometheus.Counter
}

func newConsumerMetrics(reg prometheus.Registerer, stream string) (*consumerMetrics, error) {
	labels := prometheus.Labels{"stream": stream}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgestream",
			Subsystem:   "consumer",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &consumerMetrics{
		batches:      counter("batches_total", "Read batches consumed"),
		records:      counter("records_total", "Stream records consumed"),
		undecodable:  counter("undecodable_records_total", "Records that were neither JSON nor a frame line"),
		fallbacks:    counter("fallback_records_total", "Decode fallback records passed through downstream"),
		aggregates:   counter("aggregates_total", "Aggregate records emitted"),
		gaps:         counter("gaps_total", "Cursor resets after records were evicted unread"),
		lostRecords:  counter("lost_records_total", "Records evicted before the consumer read them"),
		readFailures: counter("read_failures_total", "Reads that failed with an unexpected error"),
	}
	for _, c := range []prometheus.Collector{m.batches, m.records, m.undecodable, m.fallbacks, m.aggregates, m.gaps, m.lostRecords, m.readFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
