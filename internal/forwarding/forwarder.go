package forwarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultQueueSize    = 64
	DefaultDrainTimeout = 10 * time.Second
)

// ErrForwarderClosed is returned by Submit once Run has returned.
var ErrForwarderClosed = errors.New("forwarder closed")

// RecordSink delivers one record; Sink is the production implementation.
type RecordSink interface {
	Forward(ctx context.Context, rec Record) error
}

// ForwarderConfig wires a Forwarder. Zero sizes take defaults.
type ForwarderConfig struct {
	QueueSize    int
	DrainTimeout time.Duration
	Registerer   prometheus.Registerer
	Logger       *slog.Logger
}

// Forwarder decouples the consumer from slow destinations with a bounded
// queue. A single Run goroutine delivers records in submission order.
type Forwarder struct {
	sink         RecordSink
	queue        chan Record
	done         chan struct{}
	drainTimeout time.Duration
	logger       *slog.Logger
	metrics      *queueMetrics
}

// NewForwarder returns a forwarder delivering through sink.
func NewForwarder(sink RecordSink, cfg ForwarderConfig) (*Forwarder, error) {
	if sink == nil {
		return nil, fmt.Errorf("forwarder requires a sink")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m, err := newQueueMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register forwarder metrics: %w", err)
	}
	return &Forwarder{
		sink:         sink,
		queue:        make(chan Record, cfg.QueueSize),
		done:         make(chan struct{}),
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
		metrics:      m,
	}, nil
}

// Submit queues rec for delivery. It blocks while the queue is full, which
// applies backpressure to the consumer rather than dropping.
func (f *Forwarder) Submit(ctx context.Context, rec Record) error {
	select {
	case <-f.done:
		return ErrForwarderClosed
	default:
	}

	select {
	case f.queue <- rec:
		f.metrics.depth.Inc()
		return nil
	case <-f.done:
		return ErrForwarderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued records until ctx is cancelled, then drains what is
// left within the drain timeout. Records still queued after that are dropped
// and logged one by one.
func (f *Forwarder) Run(ctx context.Context) error {
	defer close(f.done)
	f.logger.Info("[Forwarder] Starting", "queue_size", cap(f.queue))

	for {
		// shutdown wins over a non-empty queue; drain takes over from here
		if ctx.Err() != nil {
			f.drain()
			return nil
		}
		select {
		case <-ctx.Done():
			f.drain()
			return nil
		case rec := <-f.queue:
			f.metrics.depth.Dec()
			// failures are logged and counted by the sink
			_ = f.sink.Forward(ctx, rec)
		}
	}
}

func (f *Forwarder) drain() {
	pending := len(f.queue)
	if pending == 0 {
		f.logger.Info("[Forwarder] Stopped, queue empty")
		return
	}
	f.logger.Info("[Forwarder] Draining queue before shutdown", "pending", pending, "timeout", f.drainTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), f.drainTimeout)
	defer cancel()

	delivered, abandoned := 0, 0
	for {
		select {
		case rec := <-f.queue:
			f.metrics.depth.Dec()
			if drainCtx.Err() != nil {
				abandoned++
				f.metrics.shutdownDropped.Inc()
				f.logger.Warn("[Forwarder] Dropping queued record at shutdown",
					"kind", rec.Kind,
					"sequence_number", rec.SequenceNumber,
				)
				continue
			}
			if f.sink.Forward(drainCtx, rec) == nil {
				delivered++
			}
		default:
			f.logger.Info("[Forwarder] Drain finished", "delivered", delivered, "abandoned", abandoned)
			return
		}
	}
}
