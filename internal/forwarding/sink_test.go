package forwarding_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ggaccel/edgestream/internal/core/aggregation"
	"github.com/ggaccel/edgestream/internal/core/storage"
	"github.com/ggaccel/edgestream/internal/forwarding"
	forwardingmocks "github.com/ggaccel/edgestream/internal/mocks/forwarding"
)

func testAggregate() aggregation.Aggregate {
	return aggregation.Aggregate{
		Timestamp:          1700000002.5,
		LastSequenceNumber: 41,
		Records:            3,
		Metrics: []aggregation.MetricResult{{
			Name:    "speed",
			Samples: 3,
			Values:  map[string]decimal.Decimal{aggregation.OpAvg: decimal.NewFromInt(20)},
		}},
	}
}

func fastRetry(attempts int) forwarding.RetryPolicy {
	return forwarding.RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	}
}

func newMockTransport(t *testing.T) *forwardingmocks.Transport {
	transport := forwardingmocks.NewTransport(t)
	transport.EXPECT().Name().Return("mock").Maybe()
	return transport
}

func TestSink_ForwardsAggregateAsJSON(t *testing.T) {
	transport := newMockTransport(t)
	transport.EXPECT().
		Send(mock.Anything, mock.MatchedBy(func(msg forwarding.Message) bool {
			return msg.Kind == forwarding.KindAggregate &&
				msg.SequenceNumber == 41 &&
				msg.ContentType == "application/json" &&
				strings.Contains(string(msg.Body), `"avg_speed":20`) &&
				strings.Contains(string(msg.Body), `"Source":"Rolling Average"`)
		})).
		Return(nil).
		Once()

	reg := prometheus.NewRegistry()
	sink, err := forwarding.NewSink(forwarding.SinkConfig{Transport: transport, Retry: fastRetry(3), Registerer: reg})
	require.NoError(t, err)

	require.NoError(t, sink.Forward(context.Background(), forwarding.AggregateRecord(testAggregate())))
	count, err := testutil.GatherAndCount(reg, "edgestream_forwarder_forwarded_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSink_RawRecordPassesThroughVerbatim(t *testing.T) {
	payload := []byte("1699999999.1234 7E8 02010D5555555555")

	transport := newMockTransport(t)
	transport.EXPECT().
		Send(mock.Anything, mock.Anything).
		Run(func(_ context.Context, msg forwarding.Message) {
			assert.Equal(t, forwarding.KindRaw, msg.Kind)
			assert.Equal(t, int64(7), msg.SequenceNumber)
			assert.Equal(t, payload, msg.Body)
			assert.Equal(t, "text/plain; charset=utf-8", msg.ContentType)
		}).
		Return(nil).
		Once()

	sink, err := forwarding.NewSink(forwarding.SinkConfig{Transport: transport, Retry: fastRetry(3)})
	require.NoError(t, err)

	rec := forwarding.RawRecord(storage.Record{SequenceNumber: 7, Payload: payload})
	require.NoError(t, sink.Forward(context.Background(), rec))
}

func TestSink_RetryBound(t *testing.T) {
	transport := newMockTransport(t)
	transport.EXPECT().
		Send(mock.Anything, mock.Anything).
		Return(errors.New("ingestion endpoint unavailable")).
		Times(3)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	reg := prometheus.NewRegistry()

	sink, err := forwarding.NewSink(forwarding.SinkConfig{
		Transport:  transport,
		Retry:      fastRetry(3),
		Registerer: reg,
		Logger:     logger,
	})
	require.NoError(t, err)

	err = sink.Forward(context.Background(), forwarding.AggregateRecord(testAggregate()))
	require.ErrorIs(t, err, forwarding.ErrForwardingFailed)
	require.ErrorContains(t, err, "ingestion endpoint unavailable")

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 1, "exactly one drop warning")
	assert.Contains(t, lines[0], `"level":"WARN"`)
	assert.Contains(t, lines[0], `"sequence_number":41`)
	assert.Contains(t, lines[0], `"attempts":3`)

	assert.Equal(t, float64(3), gatheredValue(t, reg, "edgestream_forwarder_send_attempts_total"))
}

func TestSink_SucceedsOnRetry(t *testing.T) {
	var calls atomic.Int32
	transport := newMockTransport(t)
	transport.EXPECT().
		Send(mock.Anything, mock.Anything).
		RunAndReturn(func(context.Context, forwarding.Message) error {
			if calls.Add(1) == 1 {
				return errors.New("timeout")
			}
			return nil
		}).
		Times(2)

	sink, err := forwarding.NewSink(forwarding.SinkConfig{Transport: transport, Retry: fastRetry(3)})
	require.NoError(t, err)

	require.NoError(t, sink.Forward(context.Background(), forwarding.AggregateRecord(testAggregate())))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSink_BackoffGrowsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	ids := make(chan string, 3)

	transport := newMockTransport(t)
	transport.EXPECT().
		Send(mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, msg forwarding.Message) error {
			calls.Add(1)
			ids <- msg.ID.String()
			return errors.New("down")
		}).
		Times(3)

	sink, err := forwarding.NewSink(forwarding.SinkConfig{
		Transport: transport,
		Retry: forwarding.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
		Clock: clock,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- sink.Forward(context.Background(), forwarding.AggregateRecord(testAggregate()))
	}()

	clock.BlockUntil(1)
	assert.Equal(t, int32(1), calls.Load())
	clock.Advance(199 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	clock.Advance(time.Millisecond)

	// second wait doubles
	clock.BlockUntil(1)
	assert.Equal(t, int32(2), calls.Load())
	clock.Advance(400 * time.Millisecond)

	select {
	case err := <-done:
		require.ErrorIs(t, err, forwarding.ErrForwardingFailed)
	case <-time.After(5 * time.Second):
		t.Fatal("Forward did not return")
	}
	assert.Equal(t, int32(3), calls.Load())

	first := <-ids
	assert.Equal(t, first, <-ids, "retries reuse the message id")
	assert.Equal(t, first, <-ids)
}

func TestSink_ContextCancelledDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	transport := newMockTransport(t)
	transport.EXPECT().Send(mock.Anything, mock.Anything).Return(errors.New("down")).Once()

	var logs bytes.Buffer
	sink, err := forwarding.NewSink(forwarding.SinkConfig{
		Transport: transport,
		Retry:     forwarding.DefaultRetryPolicy(),
		Clock:     clock,
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sink.Forward(ctx, forwarding.AggregateRecord(testAggregate()))
	}()

	clock.BlockUntil(1)
	cancel()

	err = <-done
	require.ErrorIs(t, err, forwarding.ErrForwardingFailed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, logs.String(), `"sequence_number":41`)
}

func TestNewSink_Validation(t *testing.T) {
	_, err := forwarding.NewSink(forwarding.SinkConfig{Retry: fastRetry(3)})
	require.Error(t, err)

	transport := newMockTransport(t)
	_, err = forwarding.NewSink(forwarding.SinkConfig{Transport: transport, Retry: fastRetry(0)})
	require.ErrorContains(t, err, "max_attempts")

	_, err = forwarding.NewSink(forwarding.SinkConfig{Transport: transport, Retry: forwarding.RetryPolicy{MaxAttempts: 3, Multiplier: 0.5}})
	require.ErrorContains(t, err, "multiplier")
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
