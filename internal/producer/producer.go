// Package producer feeds a stream from a record source: a replayed bus log,
// a live frame gateway or a simulated sensor.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggaccel/edgestream/internal/core/obd"
)

const (
	progressEvery     = 100
	defaultErrorDelay = time.Second
)

// Appender is the slice of the stream store a producer writes through.
type Appender interface {
	Append(ctx context.Context, stream string, payload []byte) (int64, error)
}

// Config wires a Producer. Clock, Registerer and Logger are optional.
type Config struct {
	Stream     string
	Source     Source
	Store      Appender
	ErrorDelay time.Duration
	Clock      clockwork.Clock
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Producer appends every payload its source yields. Append failures are
// logged and skipped; the loop only ends with its context.
type Producer struct {
	stream     string
	source     Source
	store      Appender
	errorDelay time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *producerMetrics

	appended atomic.Int64
}

// New validates cfg.
func New(cfg Config) (*Producer, error) {
	if cfg.Stream == "" {
		return nil, errors.New("producer stream is required")
	}
	if cfg.Source == nil || cfg.Store == nil {
		return nil, errors.New("producer requires a source and a store")
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = defaultErrorDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m, err := newProducerMetrics(cfg.Registerer, cfg.Stream, cfg.Source.Name())
	if err != nil {
		return nil, fmt.Errorf("register producer metrics: %w", err)
	}
	return &Producer{
		stream:     cfg.Stream,
		source:     cfg.Source,
		store:      cfg.Store,
		errorDelay: cfg.ErrorDelay,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    m,
	}, nil
}

// Appended is the number of records written so far.
func (p *Producer) Appended() int64 { return p.appended.Load() }

// Run produces until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("[Producer] Starting", "stream", p.stream, "source", p.source.Name())

	for {
		payload, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("[Producer] Stopping (context cancelled)", "stream", p.stream, "appended", p.appended.Load())
				return nil
			}
			p.sourceFailed(ctx, err)
			continue
		}

		seq, err := p.store.Append(ctx, p.stream, payload)
		if err != nil {
			p.metrics.appendFailures.Inc()
			p.logger.Warn("[Producer] Append failed, continuing",
				"stream", p.stream,
				"bytes", len(payload),
				"error", err,
			)
			continue
		}

		n := p.appended.Add(1)
		p.metrics.appended.Inc()
		if n%progressEvery == 0 {
			p.logger.Info("[Producer] Progress",
				"stream", p.stream,
				"appended", n,
				"sequence_number", seq,
			)
		}
	}
}

func (p *Producer) sourceFailed(ctx context.Context, err error) {
	if errors.Is(err, obd.ErrMalformedFrame) {
		p.metrics.malformed.Inc()
		p.logger.Warn("[Producer] Skipping malformed frame", "source", p.source.Name(), "error", err)
		return
	}

	p.metrics.sourceErrors.Inc()
	p.logger.Error("[Producer] Source read failed", "source", p.source.Name(), "retry_in", p.errorDelay, "error", err)
	select {
	case <-ctx.Done():
	case <-p.clock.After(p.errorDelay):
	}
}
