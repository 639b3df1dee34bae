package streamstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds per-stream Prometheus metrics for the store.
type storeMetrics struct {
	appends         *prometheus.CounterVec
	evictedRecords  *prometheus.CounterVec
	evictedSegments *prometheus.CounterVec
	sizeBytes       *prometheus.GaugeVec
	lowWater        *prometheus.GaugeVec
}

func newStoreMetrics(reg prometheus.Registerer) (*storeMetrics, error) {
	m := &storeMetrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgestream",
			Subsystem: "store",
			Name:      "appends_total",
			Help:      "Total number of records appended",
		}, []string{"stream"}),
		evictedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgestream",
			Subsystem: "store",
			Name:      "evicted_records_total",
			Help:      "Total number of records removed by overwrite-oldest eviction",
		}, []string{"stream"}),
		evictedSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgestream",
			Subsystem: "store",
			Name:      "evicted_segments_total",
			Help:      "Total number of segments removed by overwrite-oldest eviction",
		}, []string{"stream"}),
		sizeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgestream",
			Subsystem: "store",
			Name:      "size_bytes",
			Help:      "Bytes currently retained, including framing overhead",
		}, []string{"stream"}),
		lowWater: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgestream",
			Subsystem: "store",
			Name:      "low_water_sequence_number",
			Help:      "Oldest retained sequence number",
		}, []string{"stream"}),
	}

	for _, c := range []prometheus.Collector{m.appends, m.evictedRecords, m.evictedSegments, m.sizeBytes, m.lowWater} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *storeMetrics) recordAppend(stream string, size int64) {
	m.appends.WithLabelValues(stream).Inc()
	m.sizeBytes.WithLabelValues(stream).Set(float64(size))
}

func (m *storeMetrics) recordEviction(stream string, records int, size, lowWater int64) {
	m.evictedSegments.WithLabelValues(stream).Inc()
	m.evictedRecords.WithLabelValues(stream).Add(float64(records))
	m.sizeBytes.WithLabelValues(stream).Set(float64(size))
	m.lowWater.WithLabelValues(stream).Set(float64(lowWater))
}
