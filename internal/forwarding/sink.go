// Package forwarding delivers aggregate and raw records downstream with
// bounded retries. Loss after the retry bound is accepted but never silent:
// every dropped record is logged with its sequence number.
package forwarding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggaccel/edgestream/internal/codec"
	"github.com/ggaccel/edgestream/internal/core/retry"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeText   = "text/plain; charset=utf-8"
	contentTypeBinary = "application/octet-stream"
)

// ErrForwardingFailed is returned once a record exhausted its attempts and was dropped.
var ErrForwardingFailed = errors.New("forwarding failed")

// RetryPolicy bounds delivery attempts. Multiplier 1 gives a fixed backoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is three attempts with 200ms doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
}

// Validate rejects policies that could retry forever or never send.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	}
	return nil
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// SinkConfig wires a Sink. Codec, Clock, Registerer and Logger are optional.
type SinkConfig struct {
	Transport  Transport
	Codec      codec.Codec
	Retry      RetryPolicy
	Clock      clockwork.Clock
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Sink encodes records and sends them through a transport, retrying
// failed sends up to the policy bound.
type Sink struct {
	transport Transport
	codec     codec.Codec
	retry     RetryPolicy
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *sinkMetrics
}

// NewSink validates cfg and registers the sink's metrics.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("sink requires a transport")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSONCodec{}
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
	m, err := newSinkMetrics(cfg.Registerer, cfg.Transport.Name())
	if err != nil {
		return nil, fmt.Errorf("register sink metrics: %w", err)
	}
	return &Sink{
		transport: cfg.Transport,
		codec:     cfg.Codec,
		retry:     cfg.Retry,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   m,
	}, nil
}

// Forward delivers rec, making at most MaxAttempts sends. When every attempt
// fails, or ctx ends first, the record is dropped: Forward logs one warning
// carrying the sequence number and returns an error wrapping ErrForwardingFailed.
func (s *Sink) Forward(ctx context.Context, rec Record) error {
	msg, err := s.encode(rec)
	if err != nil {
		return s.drop(rec, 0, err)
	}

	attempts := 0
	send := func() error {
		attempts++
		s.metrics.attempts.Inc()
		return s.transport.Send(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Debug("[Forwarder] Send failed, retrying",
			"transport", s.transport.Name(),
			"sequence_number", rec.SequenceNumber,
			"attempt", attempts,
			"backoff", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(s.retry.backOff(), ctx)
	if err := backoff.RetryNotifyWithTimer(send, b, notify, retry.NewTimer(s.clock)); err != nil {
		return s.drop(rec, attempts, err)
	}

	s.metrics.forwarded.WithLabelValues(string(rec.Kind)).Inc()
	s.logger.Debug("[Forwarder] Record delivered",
		"transport", s.transport.Name(),
		"kind", rec.Kind,
		"sequence_number", rec.SequenceNumber,
		"attempts", attempts,
	)
	return nil
}

func (s *Sink) drop(rec Record, attempts int, err error) error {
	s.metrics.dropped.WithLabelValues(string(rec.Kind)).Inc()
	s.logger.Warn("[Forwarder] Dropping record after retries exhausted",
		"transport", s.transport.Name(),
		"kind", rec.Kind,
		"sequence_number", rec.SequenceNumber,
		"attempts", attempts,
		"error", err,
	)
	return fmt.Errorf("%w: sequence number %d after %d attempts: %w", ErrForwardingFailed, rec.SequenceNumber, attempts, err)
}

func (s *Sink) encode(rec Record) (Message, error) {
	msg := Message{
		ID:             uuid.New(),
		Kind:           rec.Kind,
		SequenceNumber: rec.SequenceNumber,
		CreatedAt:      s.clock.Now().UTC(),
	}
	switch rec.Kind {
	case KindAggregate:
		body, err := s.codec.Encode(rec.Aggregate)
		if err != nil {
			return Message{}, fmt.Errorf("encode aggregate: %w", err)
		}
		msg.Body = body
		msg.ContentType = s.codec.ContentType()
	case KindRaw:
		msg.Body = rec.Payload
		msg.ContentType = rawContentType(rec.Payload)
	default:
		return Message{}, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	return msg, nil
}

// rawContentType sniffs the three payload shapes producers write.
func rawContentType(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		return contentTypeJSON
	case utf8.Valid(payload):
		return contentTypeText
	default:
		return contentTypeBinary
	}
}
