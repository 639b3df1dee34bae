//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ggaccel/edgestream/internal/aggregation"
	"github.com/ggaccel/edgestream/internal/codec"
	coreagg "github.com/ggaccel/edgestream/internal/core/aggregation"
	"github.com/ggaccel/edgestream/internal/core/obd"
	"github.com/ggaccel/edgestream/internal/core/storage"
	"github.com/ggaccel/edgestream/internal/forwarding"
	"github.com/ggaccel/edgestream/internal/ingestion"
	"github.com/ggaccel/edgestream/internal/producer"
	"github.com/ggaccel/edgestream/internal/server"
	"github.com/ggaccel/edgestream/internal/status"
	"github.com/ggaccel/edgestream/internal/streamstore"
)

const telemetryStream = "telemetry"

// recordingTransport keeps every delivered message in memory.
type recordingTransport struct {
	mu       sync.Mutex
	messages []forwarding.Message
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(_ context.Context, msg forwarding.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) snapshot() []forwarding.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]forwarding.Message(nil), r.messages...)
}

type pipelineHarness struct {
	baseURL   string
	client    *http.Client
	store     *streamstore.Store
	transport *recordingTransport
	cancel    context.CancelFunc
	done      chan error
}

func (h *pipelineHarness) close(t *testing.T) {
	t.Helper()

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Log("pipeline shutdown timed out")
	}
	require.NoError(t, h.store.Close())
}

func startPipeline(t *testing.T, storeDir string) *pipelineHarness {
	t.Helper()

	root := projectRoot(t)
	reg := prometheus.NewRegistry()

	store, err := streamstore.New(streamstore.Config{Dir: storeDir, Registerer: reg})
	require.NoError(t, err)
	err = store.CreateStream(context.Background(), storage.StreamDefinition{Name: telemetryStream}.WithDefaults())
	if err != nil {
		require.ErrorIs(t, err, storage.ErrStreamExists)
	}

	metricRepo, err := coreagg.NewFileSystemMetricRepository(filepath.Join(root, "config", "metrics"))
	require.NoError(t, err)

	transport := &recordingTransport{}
	sink, err := forwarding.NewSink(forwarding.SinkConfig{
		Transport:  transport,
		Codec:      codec.JSONCodec{},
		Retry:      forwarding.DefaultRetryPolicy(),
		Registerer: reg,
	})
	require.NoError(t, err)
	forwarder, err := forwarding.NewForwarder(sink, forwarding.ForwarderConfig{Registerer: reg})
	require.NoError(t, err)

	last := status.NewLastAggregate(clockwork.NewRealClock())
	consumer, err := aggregation.NewConsumer(aggregation.Deps{
		Store:      store,
		Forwarder:  forwarder,
		Status:     last,
		Metrics:    metricRepo.List(),
		Registerer: reg,
	}, aggregation.Options{
		Stream:      telemetryStream,
		BatchSize:   8,
		ReadTimeout: 500 * time.Millisecond,
		IdleDelay:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	replay, err := producer.OpenReplay(filepath.Join(root, "data", "obd_replay.log"), producer.ReplayConfig{RewriteTimestamps: true})
	require.NoError(t, err)
	prod, err := producer.New(producer.Config{
		Stream:     telemetryStream,
		Source:     producer.NewFrameSource("replay", replay, producer.EncodingDecoded, obd.NewDecoder(0)),
		Store:      store,
		Registerer: reg,
	})
	require.NoError(t, err)

	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	httpServer := server.New(addr, "release", map[string]server.HealthChecker{"store": store}, reg)
	ingestion.NewService(store, 1).RegisterRoutes(httpServer.Engine)
	status.NewService(last, 100*time.Millisecond, nil).RegisterRoutes(httpServer.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	fwdCtx, stopForwarder := context.WithCancel(context.WithoutCancel(gctx))
	g.Go(func() error { return forwarder.Run(fwdCtx) })
	g.Go(func() error {
		defer stopForwarder()
		return consumer.Run(gctx)
	})
	g.Go(func() error { return prod.Run(gctx) })
	g.Go(func() error { return httpServer.Run(gctx) })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	baseURL := "http://" + addr
	waitForHealthy(t, baseURL)

	return &pipelineHarness{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		store:     store,
		transport: transport,
		cancel:    cancel,
		done:      done,
	}
}

func TestPipeline_ReplayToForwarder(t *testing.T) {
	h := startPipeline(t, "")
	defer h.close(t)

	var agg map[string]any
	waitFor(t, 10*time.Second, func() bool {
		resp, err := h.client.Get(h.baseURL + "/api/v1/aggregate")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&agg) == nil
	})

	require.Equal(t, coreagg.SourceRollingAverage, agg["Source"])
	require.Contains(t, agg, "avg_vehicle_speed")
	require.Contains(t, agg, "max_engine_rpm")
	require.Contains(t, agg, "last_sequence_number")

	waitFor(t, 5*time.Second, func() bool { return len(h.transport.snapshot()) > 0 })
	msg := h.transport.snapshot()[0]
	require.Equal(t, forwarding.KindAggregate, msg.Kind)
	require.Equal(t, "application/json", msg.ContentType)

	var forwarded map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &forwarded))
	require.Equal(t, float64(msg.SequenceNumber), forwarded["last_sequence_number"])
}

func TestPipeline_HTTPIngestIsAggregated(t *testing.T) {
	h := startPipeline(t, t.TempDir())
	defer h.close(t)

	code, body := postJSON(t, h.client, h.baseURL+"/api/v1/streams/"+telemetryStream+"/messages",
		map[string]any{"hertz": 1000.5, "temperature": 81.25, "timestamp": float64(time.Now().Unix())})
	require.Equal(t, http.StatusAccepted, code, string(body))

	var accepted struct {
		SequenceNumber int64 `json:"sequence_number"`
	}
	require.NoError(t, json.Unmarshal(body, &accepted))
	require.GreaterOrEqual(t, accepted.SequenceNumber, int64(0))

	code, body = postJSON(t, h.client, h.baseURL+"/api/v1/streams/unknown/messages", map[string]any{"a": 1})
	require.Equal(t, http.StatusNotFound, code, string(body))

	waitFor(t, 10*time.Second, func() bool {
		for _, m := range h.transport.snapshot() {
			if bytes.Contains(m.Body, []byte(`"avg_hertz":1000.5`)) {
				return true
			}
		}
		return false
	})

	resp, err := h.client.Get(h.baseURL + "/api/v1/streams/" + telemetryStream)
	require.NoError(t, err)
	defer resp.Body.Close()
	var info storage.StreamInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Greater(t, info.HighWater, accepted.SequenceNumber)
}

func TestPipeline_MetricsExposed(t *testing.T) {
	h := startPipeline(t, "")
	defer h.close(t)

	waitFor(t, 10*time.Second, func() bool { return len(h.transport.snapshot()) > 0 })

	resp, err := h.client.Get(h.baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "edgestream_producer_appended_total")
	require.Contains(t, string(body), "edgestream_forwarder_forwarded_total")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func waitForHealthy(t *testing.T, baseURL string) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("server did not become healthy at %s", baseURL)
}

func postJSON(t *testing.T, client *http.Client, endpoint string, payload interface{}) (int, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRoot(t *testing.T) string {
	t.Helper()

	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)
	return root
}
