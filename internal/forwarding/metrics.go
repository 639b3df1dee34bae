package forwarding

import (
	"github.com/prometheus/client_golang/prometheus"
)

type sinkMetrics struct {
	attempts  prometheus.Counter
	forwarded *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

func newSinkMetrics(reg prometheus.Registerer, transport string) (*sinkMetrics, error) {
	labels := prometheus.Labels{"transport": transport}
	m := &sinkMetrics{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgestream",
			Subsystem:   "forwarder",
			Name:        "send_attempts_total",
			Help:        "Transport sends, including retries",
			ConstLabels: labels,
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "edgestream",
			Subsystem:   "forwarder",
			Name:        "forwarded_total",
			Help:        "Records acknowledged by the destination",
			ConstLabels: labels,
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "edgestream",
			Subsystem:   "forwarder",
			Name:        "dropped_total",
			Help:        "Records dropped after exhausting retries",
			ConstLabels: labels,
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.attempts, m.forwarded, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type queueMetrics struct {
	depth           prometheus.Gauge
	shutdownDropped prometheus.Counter
}

func newQueueMetrics(reg prometheus.Registerer) (*queueMetrics, error) {
	m := &queueMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgestream",
			Subsystem: "forwarder",
			Name:      "queue_depth",
			Help:      "Records waiting for delivery",
		}),
		shutdownDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgestream",
			Subsystem: "forwarder",
			Name:      "shutdown_dropped_total",
			Help:      "Queued records abandoned when the drain grace period ran out",
		}),
	}
	for _, c := range []prometheus.Collector{m.depth, m.shutdownDropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
