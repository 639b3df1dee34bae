package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggaccel/edgestream/internal/core/storage"
)

const speedMetric = `
name: "speed"
pid: "VehicleSpeed"
operators: ["avg", "min", "max"]
`

// writeFixture lays out a metrics dir and replay file and returns the root.
func writeFixture(t *testing.T, metrics map[string]string) (root, metricsDir, replayFile string) {
	t.Helper()
	root = t.TempDir()
	metricsDir = filepath.Join(root, "metrics")
	requireNoError(t, os.MkdirAll(metricsDir, 0o755))
	for name, body := range metrics {
		requireNoError(t, os.WriteFile(filepath.Join(metricsDir, name), []byte(body), 0o644))
	}
	replayFile = filepath.Join(root, "replay.log")
	requireNoError(t, os.WriteFile(replayFile, []byte("1700000000.0000 7E8 03410D32\n"), 0o644))
	return root, metricsDir, replayFile
}

func writeConfig(t *testing.T, root, body string) string {
	t.Helper()
	cfgPath := filepath.Join(root, "edgestream.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath
}

func TestLoad_ValidConfigAndMetrics(t *testing.T) {
	root, metricsDir, replayFile := writeFixture(t, map[string]string{"speed.yaml": speedMetric})

	cfgPath := writeConfig(t, root, fmt.Sprintf(`
server:
  port: 9090
  host: "127.0.0.1"
  stream_interval: "250ms"
store:
  streams:
    - name: "obd"
      max_size_bytes: 1048576
      segment_size_bytes: 65536
      strategy_on_full: "reject_newest"
producer:
  stream: "obd"
  replay:
    file: "%s"
consumer:
  stream: "obd"
  batch_size: 5
  window: "time"
  window_duration: "10s"
  metrics_dir: "%s"
forwarder:
  transport: "http"
  encoding: "protobuf"
  http:
    url: "http://collector.local/ingest"
    headers:
      X-Fleet: "north"
`, replayFile, metricsDir))

	cfg, err := Load(cfgPath)
	requireNoError(t, err)

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.Server.StreamInterval != 250*time.Millisecond {
		t.Fatalf("expected stream_interval 250ms, got %s", cfg.Server.StreamInterval)
	}
	if len(cfg.Store.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(cfg.Store.Streams))
	}
	def := cfg.Store.Streams[0].Definition()
	if def.StrategyOnFull != storage.RejectNewest || def.SegmentSizeBytes != 65536 {
		t.Fatalf("unexpected stream definition %+v", def)
	}
	if cfg.Consumer.WindowDuration != 10*time.Second || cfg.Consumer.BatchSize != 5 {
		t.Fatalf("unexpected consumer config %+v", cfg.Consumer)
	}
	if cfg.Forwarder.HTTP.Headers["x-fleet"] != "north" && cfg.Forwarder.HTTP.Headers["X-Fleet"] != "north" {
		t.Fatalf("expected custom header, got %v", cfg.Forwarder.HTTP.Headers)
	}
	if cfg.Forwarder.MaxAttempts != 3 || cfg.Forwarder.InitialBackoff != 200*time.Millisecond {
		t.Fatalf("expected default retry policy, got %+v", cfg.Forwarder)
	}
	if len(cfg.Metrics) != 1 || cfg.Metrics[0].Name != "speed" {
		t.Fatalf("expected speed metric, got %+v", cfg.Metrics)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root, metricsDir, replayFile := writeFixture(t, map[string]string{"speed.yaml": speedMetric})
	cfgPath := writeConfig(t, root, fmt.Sprintf(`
producer:
  replay:
    file: "%s"
consumer:
  batch_size: 5
  metrics_dir: "%s"
`, replayFile, metricsDir))

	t.Setenv("EDGESTREAM_CONSUMER__BATCH_SIZE", "25")
	t.Setenv("EDGESTREAM_FORWARDER__INITIAL_BACKOFF", "1s")

	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if cfg.Consumer.BatchSize != 25 {
		t.Fatalf("expected env batch_size 25, got %d", cfg.Consumer.BatchSize)
	}
	if cfg.Forwarder.InitialBackoff != time.Second {
		t.Fatalf("expected env initial_backoff 1s, got %s", cfg.Forwarder.InitialBackoff)
	}
}

func TestLoad_NoMetricsFailsStartup(t *testing.T) {
	root, metricsDir, replayFile := writeFixture(t, nil)
	cfgPath := writeConfig(t, root, fmt.Sprintf(`
producer:
  replay:
    file: "%s"
consumer:
  metrics_dir: "%s"
`, replayFile, metricsDir))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "no metric definitions found") {
		t.Fatalf("expected no metrics error, got %v", err)
	}
}

func TestLoad_InvalidMetricFileFailsStartup(t *testing.T) {
	root, metricsDir, replayFile := writeFixture(t, map[string]string{"bad.yaml": `
name: "bad_metric"
pid: "VehicleSpeed"
operators: ["median"]
`})
	cfgPath := writeConfig(t, root, fmt.Sprintf(`
producer:
  replay:
    file: "%s"
consumer:
  metrics_dir: "%s"
`, replayFile, metricsDir))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "failed to load metric definitions") {
		t.Fatalf("expected metric load error, got %v", err)
	}
}

func TestLoad_DisabledConsumerSkipsMetrics(t *testing.T) {
	root, _, replayFile := writeFixture(t, nil)
	cfgPath := writeConfig(t, root, fmt.Sprintf(`
producer:
  replay:
    file: "%s"
consumer:
  enabled: false
  metrics_dir: ""
`, replayFile))

	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if len(cfg.Metrics) != 0 {
		t.Fatalf("expected no metrics, got %d", len(cfg.Metrics))
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "server port",
			body:    "server:\n  port: -1\n",
			wantErr: "invalid server.port",
		},
		{
			name:    "log level",
			body:    "log:\n  level: \"trace\"\n",
			wantErr: "invalid log.level",
		},
		{
			name:    "unknown producer mode",
			body:    "producer:\n  mode: \"canbus\"\n",
			wantErr: "invalid producer.mode",
		},
		{
			name:    "undeclared producer stream",
			body:    "producer:\n  stream: \"elsewhere\"\n",
			wantErr: "not declared in store.streams",
		},
		{
			name:    "live without address",
			body:    "producer:\n  mode: \"live\"\n",
			wantErr: "producer.live.address is required",
		},
		{
			name:    "bad strategy",
			body:    "store:\n  streams:\n    - name: \"telemetry\"\n      strategy_on_full: \"drop\"\n",
			wantErr: "unsupported strategy_on_full",
		},
		{
			name:    "duplicate stream",
			body:    "store:\n  streams:\n    - name: \"telemetry\"\n    - name: \"telemetry\"\n",
			wantErr: "declared twice",
		},
		{
			name:    "unknown window",
			body:    "consumer:\n  window: \"session\"\n",
			wantErr: "invalid consumer.window",
		},
		{
			name:    "unknown transport",
			body:    "forwarder:\n  transport: \"kafka\"\n",
			wantErr: "unsupported forwarder.transport",
		},
		{
			name:    "unknown encoding",
			body:    "forwarder:\n  encoding: \"avro\"\n",
			wantErr: "unsupported forwarder.encoding",
		},
		{
			name:    "http without url",
			body:    "forwarder:\n  transport: \"http\"\n",
			wantErr: "forwarder.http.url is required",
		},
		{
			name:    "zero attempts",
			body:    "forwarder:\n  max_attempts: 0\n",
			wantErr: "forwarder.max_attempts must be > 0",
		},
		{
			name:    "bad duration",
			body:    "consumer:\n  read_timeout: \"soon\"\n",
			wantErr: "failed to unmarshal config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, metricsDir, replayFile := writeFixture(t, map[string]string{"speed.yaml": speedMetric})
			t.Setenv("EDGESTREAM_PRODUCER__REPLAY__FILE", replayFile)
			t.Setenv("EDGESTREAM_CONSUMER__METRICS_DIR", metricsDir)
			cfgPath := writeConfig(t, root, tt.body)

			_, err := Load(cfgPath)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
