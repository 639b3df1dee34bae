// Package aggregation runs the aggregation consumer: it drains a stream in
// batches, folds records into windows and hands closed windows downstream.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	coreagg "github.com/ggaccel/edgestream/internal/core/aggregation"
	"github.com/ggaccel/edgestream/internal/core/obd"
	"github.com/ggaccel/edgestream/internal/core/storage"
	"github.com/ggaccel/edgestream/internal/forwarding"
)

const (
	defaultBatchSize          = 10
	defaultReadTimeout        = time.Second
	defaultIdleDelay          = time.Second
	defaultWindowDuration     = 30 * time.Second
	defaultStreamWaitInterval = time.Second
	defaultRoundPlaces        = 2
	shutdownTimeout           = 30 * time.Second
)

// Forwarder accepts records for downstream delivery.
type Forwarder interface {
	Submit(ctx context.Context, rec forwarding.Record) error
}

// AggregateSetter receives every emitted aggregate, e.g. the status API's last value.
type AggregateSetter interface {
	Set(agg coreagg.Aggregate)
}

// Options controls batching and windowing. Zero values take defaults.
type Options struct {
	Stream string
	// BatchSize is both the minimum and maximum records per read.
	BatchSize   int
	ReadTimeout time.Duration
	// IdleDelay is the pause after a read finds too few records.
	IdleDelay      time.Duration
	Window         coreagg.WindowMode
	WindowDuration time.Duration
	// RoundPlaces rounds emitted values; negative keeps full precision.
	RoundPlaces *int32
	// ForwardRaw passes every consumed record downstream verbatim. Decode
	// fallbacks are passed through either way.
	ForwardRaw         bool
	StreamWaitInterval time.Duration
	// ResponseID is the arbitration id for decoding raw frame payloads.
	ResponseID uint32
}

func (o Options) normalized() Options {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.ReadTimeout <= 0 {
		n.ReadTimeout = defaultReadTimeout
	}
	if n.IdleDelay <= 0 {
		n.IdleDelay = defaultIdleDelay
	}
	if n.Window == "" {
		n.Window = coreagg.WindowCount
	}
	if n.WindowDuration <= 0 {
		n.WindowDuration = defaultWindowDuration
	}
	if n.RoundPlaces == nil {
		places := int32(defaultRoundPlaces)
		n.RoundPlaces = &places
	}
	if n.StreamWaitInterval <= 0 {
		n.StreamWaitInterval = defaultStreamWaitInterval
	}
	return n
}

// Deps are the collaborators of a Consumer. Status, Clock, Registerer and
// Logger are optional.
type Deps struct {
	Store      storage.StreamStore
	Forwarder  Forwarder
	Status     AggregateSetter
	Metrics    []coreagg.MetricDefinition
	Clock      clockwork.Clock
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Consumer is the single reader of one stream. Its cursor and window are
// touched only by the goroutine running Run.
type Consumer struct {
	store     storage.StreamStore
	forwarder Forwarder
	status    AggregateSetter
	extractor *Extractor
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *consumerMetrics
	opts      Options

	cursor       int64
	window       *coreagg.Window
	windowOpened time.Time
}

// NewConsumer validates metrics and wires a consumer. The cursor starts at -1,
// so a fresh consumer reads from the oldest retained record.
func NewConsumer(deps Deps, opts Options) (*Consumer, error) {
	opts = opts.normalized()
	if opts.Stream == "" {
		return nil, fmt.Errorf("consumer stream is required")
	}
	if deps.Store == nil || deps.Forwarder == nil {
		return nil, fmt.Errorf("consumer requires a store and a forwarder")
	}
	if len(deps.Metrics) == 0 {
		return nil, fmt.Errorf("consumer requires at least one metric")
	}
	if _, err := coreagg.ParseWindowMode(string(opts.Window)); err != nil {
		return nil, err
	}

	metrics := make([]coreagg.MetricDefinition, len(deps.Metrics))
	copy(metrics, deps.Metrics)
	for i := range metrics {
		if err := metrics[i].Validate(); err != nil {
			return nil, err
		}
	}

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	m, err := newConsumerMetrics(deps.Registerer, opts.Stream)
	if err != nil {
		return nil, fmt.Errorf("register consumer metrics: %w", err)
	}

	return &Consumer{
		store:     deps.Store,
		forwarder: deps.Forwarder,
		status:    deps.Status,
		extractor: NewExtractor(metrics, obd.NewDecoder(opts.ResponseID)),
		clock:     deps.Clock,
		logger:    deps.Logger,
		metrics:   m,
		opts:      opts,
		cursor:    -1,
		window:    coreagg.NewWindow(metrics),
	}, nil
}

// Cursor is the last sequence number the consumer processed.
// Only safe to call when Run is not running.
func (c *Consumer) Cursor() int64 { return c.cursor }

// Run consumes until ctx is cancelled, then closes the open window so a
// partial window still reaches the forwarder.
func (c *Consumer) Run(ctx context.Context) error {
	if c.waitForStream(ctx) != nil {
		return nil // cancelled before the stream appeared
	}

	c.logger.Info("[Consumer] Starting aggregation consumer",
		"stream", c.opts.Stream,
		"batch_size", c.opts.BatchSize,
		"window", c.opts.Window,
		"window_duration", c.opts.WindowDuration,
		"forward_raw", c.opts.ForwardRaw,
	)
	c.windowOpened = c.clock.Now()

	for ctx.Err() == nil {
		c.poll(ctx)
	}

	c.logger.Info("[Consumer] Stopping (context cancelled)", "stream", c.opts.Stream, "cursor", c.cursor)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	c.closeWindow(shutdownCtx)
	return nil
}

// waitForStream blocks until the source stream exists.
func (c *Consumer) waitForStream(ctx context.Context) error {
	logged := false
	for {
		names, err := c.store.ListStreams(ctx)
		if err == nil && slices.Contains(names, c.opts.Stream) {
			return nil
		}
		if !logged {
			c.logger.Info("[Consumer] Waiting for stream to be created", "stream", c.opts.Stream, "error", err)
			logged = true
		}
		if !c.sleep(ctx, c.opts.StreamWaitInterval) {
			return ctx.Err()
		}
	}
}

// poll runs one read-and-aggregate cycle.
func (c *Consumer) poll(ctx context.Context) {
	recs, err := c.store.Read(ctx, c.opts.Stream, c.cursor+1, storage.ReadOptions{
		MinCount: c.opts.BatchSize,
		MaxCount: c.opts.BatchSize,
		Timeout:  c.opts.ReadTimeout,
	})

	var evicted *storage.RecordsEvictedError
	switch {
	case err == nil:
		c.consume(ctx, recs)

	case errors.Is(err, storage.ErrNotEnoughMessages):
		c.closeWindowIfDue(ctx)
		c.sleep(ctx, c.opts.IdleDelay)

	case errors.As(err, &evicted):
		lost := evicted.LowWater - (c.cursor + 1)
		c.logger.Warn("[Consumer] Records evicted before they were read, telemetry gap",
			"stream", c.opts.Stream,
			"from_sequence_number", c.cursor+1,
			"low_water", evicted.LowWater,
			"lost", lost,
		)
		c.metrics.gaps.Inc()
		c.metrics.lostRecords.Add(float64(lost))
		c.cursor = evicted.LowWater - 1

	case ctx.Err() != nil:
		// shutting down

	default:
		c.metrics.readFailures.Inc()
		c.logger.Error("[Consumer] Read failed", "stream", c.opts.Stream, "cursor", c.cursor, "error", err)
		c.sleep(ctx, c.opts.IdleDelay)
	}
}

func (c *Consumer) consume(ctx context.Context, recs []storage.Record) {
	if len(recs) == 0 {
		return
	}
	now := c.clock.Now()
	for _, r := range recs {
		sample, ok := c.extractor.Extract(r.Payload)
		if !ok {
			c.metrics.undecodable.Inc()
			c.logger.Debug("[Consumer] Skipping undecodable record", "stream", c.opts.Stream, "sequence_number", r.SequenceNumber)
		} else if sample.Timestamp == 0 && len(sample.Values) > 0 {
			sample.Timestamp = float64(now.UnixNano()) / float64(time.Second)
		}
		c.window.Observe(r.SequenceNumber, sample)

		switch {
		case c.opts.ForwardRaw:
			c.forward(ctx, forwarding.RawRecord(r))
		case sample.Fallback:
			c.metrics.fallbacks.Inc()
			c.logger.Debug("[Consumer] Forwarding decode fallback", "stream", c.opts.Stream, "sequence_number", r.SequenceNumber)
			c.forward(ctx, forwarding.RawRecord(r))
		}
	}

	c.cursor = recs[len(recs)-1].SequenceNumber
	c.metrics.batches.Inc()
	c.metrics.records.Add(float64(len(recs)))

	if c.opts.Window == coreagg.WindowCount {
		c.closeWindow(ctx)
		return
	}
	c.closeWindowIfDue(ctx)
}

func (c *Consumer) closeWindowIfDue(ctx context.Context) {
	if c.opts.Window == coreagg.WindowTime && c.clock.Since(c.windowOpened) >= c.opts.WindowDuration {
		c.closeWindow(ctx)
	}
}

// closeWindow emits the open window, if it observed any tracked metric, and
// starts a new one.
func (c *Consumer) closeWindow(ctx context.Context) {
	agg, ok := c.window.Result(*c.opts.RoundPlaces)
	records := c.window.Records()
	c.window.Reset()
	c.windowOpened = c.clock.Now()

	if !ok {
		if records > 0 {
			c.logger.Debug("[Consumer] Window closed without tracked metrics", "stream", c.opts.Stream, "records", records)
		}
		return
	}

	if c.status != nil {
		c.status.Set(agg)
	}
	c.metrics.aggregates.Inc()
	c.logger.Info("[Consumer] Aggregate computed",
		"stream", c.opts.Stream,
		"records", agg.Records,
		"metrics", len(agg.Metrics),
		"last_sequence_number", agg.LastSequenceNumber,
	)
	c.forward(ctx, forwarding.AggregateRecord(agg))
}

func (c *Consumer) forward(ctx context.Context, rec forwarding.Record) {
	if err := c.forwarder.Submit(ctx, rec); err != nil {
		c.logger.Warn("[Consumer] Record not handed to forwarder, dropped",
			"stream", c.opts.Stream,
			"kind", rec.Kind,
			"sequence_number", rec.SequenceNumber,
			"error", err,
		)
	}
}

// sleep waits for d on the consumer clock. It returns false if ctx ended first.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}
