// Package config loads the edgestream configuration from defaults, an
// optional YAML file and EDGESTREAM_ environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ggaccel/edgestream/internal/codec"
	coreagg "github.com/ggaccel/edgestream/internal/core/aggregation"
	"github.com/ggaccel/edgestream/internal/core/storage"
)

const envPrefix = "EDGESTREAM_"

// Config represents the top-level application config plus resolved metric definitions.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Producer  ProducerConfig  `koanf:"producer"`
	Consumer  ConsumerConfig  `koanf:"consumer"`
	Forwarder ForwarderConfig `koanf:"forwarder"`

	// Metrics is populated by Load from consumer.metrics_dir.
	Metrics []coreagg.MetricDefinition `koanf:"-"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

type ServerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Port           int           `koanf:"port"`
	Host           string        `koanf:"host"`
	MaxBodySizeMB  int           `koanf:"max_body_size_mb"`
	Mode           string        `koanf:"mode"` // debug | release
	StreamInterval time.Duration `koanf:"stream_interval"`
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StoreConfig struct {
	// Dir enables file persistence; empty keeps streams in memory only.
	Dir     string         `koanf:"dir"`
	Streams []StreamConfig `koanf:"streams"`
}

type StreamConfig struct {
	Name             string `koanf:"name"`
	MaxSizeBytes     int64  `koanf:"max_size_bytes"`
	SegmentSizeBytes int64  `koanf:"segment_size_bytes"`
	StrategyOnFull   string `koanf:"strategy_on_full"`
}

// Definition converts the config entry with store defaults applied.
func (s StreamConfig) Definition() storage.StreamDefinition {
	return storage.StreamDefinition{
		Name:             s.Name,
		MaxSizeBytes:     s.MaxSizeBytes,
		SegmentSizeBytes: s.SegmentSizeBytes,
		StrategyOnFull:   storage.StrategyOnFull(s.StrategyOnFull),
	}.WithDefaults()
}

type ProducerConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Mode       string        `koanf:"mode"` // replay | live | sensor
	Stream     string        `koanf:"stream"`
	Encoding   string        `koanf:"encoding"` // decoded | raw
	ResponseID uint32        `koanf:"response_id"`
	ErrorDelay time.Duration `koanf:"error_delay"`
	Replay     ReplayConfig  `koanf:"replay"`
	Live       LiveConfig    `koanf:"live"`
	Sensor     SensorConfig  `koanf:"sensor"`
}

type ReplayConfig struct {
	File              string `koanf:"file"`
	RewriteTimestamps bool   `koanf:"rewrite_timestamps"`
}

type LiveConfig struct {
	Network        string        `koanf:"network"` // tcp | unix
	Address        string        `koanf:"address"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay"`
}

type SensorConfig struct {
	Interval time.Duration `koanf:"interval"`
	Seed     int64         `koanf:"seed"`
}

type ConsumerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Stream         string        `koanf:"stream"`
	BatchSize      int           `koanf:"batch_size"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	IdleDelay      time.Duration `koanf:"idle_delay"`
	Window         string        `koanf:"window"` // count | time
	WindowDuration time.Duration `koanf:"window_duration"`
	RoundPlaces    int32         `koanf:"round_places"`
	ForwardRaw     bool          `koanf:"forward_raw"`
	MetricsDir     string        `koanf:"metrics_dir"`
	ResponseID     uint32        `koanf:"response_id"`
}

type ForwarderConfig struct {
	Transport      string                  `koanf:"transport"` // log | http | postgres | nats
	Encoding       string                  `koanf:"encoding"`  // json | protobuf
	MaxAttempts    int                     `koanf:"max_attempts"`
	InitialBackoff time.Duration           `koanf:"initial_backoff"`
	MaxBackoff     time.Duration           `koanf:"max_backoff"`
	Multiplier     float64                 `koanf:"multiplier"`
	QueueSize      int                     `koanf:"queue_size"`
	DrainTimeout   time.Duration           `koanf:"drain_timeout"`
	HTTP           HTTPForwarderConfig     `koanf:"http"`
	Postgres       PostgresForwarderConfig `koanf:"postgres"`
	NATS           NATSForwarderConfig     `koanf:"nats"`
}

type HTTPForwarderConfig struct {
	URL     string            `koanf:"url"`
	Timeout time.Duration     `koanf:"timeout"`
	Headers map[string]string `koanf:"headers"`
}

type PostgresForwarderConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type NATSForwarderConfig struct {
	URL        string        `koanf:"url"`
	Subject    string        `koanf:"subject"`
	Stream     string        `koanf:"stream"`
	ClientName string        `koanf:"client_name"`
	Timeout    time.Duration `koanf:"timeout"`
}

var (
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"text": true, "json": true}
	validProducers   = map[string]bool{"replay": true, "live": true, "sensor": true}
	validEncodings   = map[string]bool{"decoded": true, "raw": true}
	validWindows     = map[string]bool{"count": true, "time": true}
	validTransports  = map[string]bool{"log": true, "http": true, "postgres": true, "nats": true}
	validLiveNetwork = map[string]bool{"tcp": true, "unix": true}
)

func (c *Config) Validate() error {
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
		}
		if strings.TrimSpace(c.Server.Host) == "" {
			return fmt.Errorf("server.host is required")
		}
		if c.Server.MaxBodySizeMB <= 0 {
			return fmt.Errorf("server.max_body_size_mb must be > 0")
		}
		if c.Server.Mode != "debug" && c.Server.Mode != "release" {
			return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
		}
		if c.Server.StreamInterval <= 0 {
			return fmt.Errorf("server.stream_interval must be > 0")
		}
	}

	streams := make(map[string]bool, len(c.Store.Streams))
	for i, s := range c.Store.Streams {
		def := s.Definition()
		if err := def.Validate(); err != nil {
			return fmt.Errorf("store.streams[%d]: %w", i, err)
		}
		if streams[def.Name] {
			return fmt.Errorf("store.streams[%d]: stream %q declared twice", i, def.Name)
		}
		streams[def.Name] = true
	}

	if c.Producer.Enabled {
		if err := c.Producer.validate(streams); err != nil {
			return err
		}
	}
	if c.Consumer.Enabled {
		if err := c.Consumer.validate(); err != nil {
			return err
		}
		if err := c.Forwarder.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (p ProducerConfig) validate(streams map[string]bool) error {
	if !validProducers[p.Mode] {
		return fmt.Errorf("invalid producer.mode %q (must be replay, live or sensor)", p.Mode)
	}
	if strings.TrimSpace(p.Stream) == "" {
		return fmt.Errorf("producer.stream is required")
	}
	if !streams[p.Stream] {
		return fmt.Errorf("producer.stream %q is not declared in store.streams", p.Stream)
	}
	if !validEncodings[p.Encoding] {
		return fmt.Errorf("invalid producer.encoding %q (must be decoded or raw)", p.Encoding)
	}
	if p.ErrorDelay <= 0 {
		return fmt.Errorf("producer.error_delay must be > 0")
	}

	switch p.Mode {
	case "replay":
		if strings.TrimSpace(p.Replay.File) == "" {
			return fmt.Errorf("producer.replay.file is required in replay mode")
		}
		if _, err := os.Stat(p.Replay.File); err != nil {
			return fmt.Errorf("producer.replay.file %q is not accessible: %w", p.Replay.File, err)
		}
	case "live":
		if !validLiveNetwork[p.Live.Network] {
			return fmt.Errorf("invalid producer.live.network %q (must be tcp or unix)", p.Live.Network)
		}
		if strings.TrimSpace(p.Live.Address) == "" {
			return fmt.Errorf("producer.live.address is required in live mode")
		}
		if p.Live.ReconnectDelay <= 0 {
			return fmt.Errorf("producer.live.reconnect_delay must be > 0")
		}
	case "sensor":
		if p.Sensor.Interval <= 0 {
			return fmt.Errorf("producer.sensor.interval must be > 0")
		}
	}
	return nil
}

func (c ConsumerConfig) validate() error {
	if strings.TrimSpace(c.Stream) == "" {
		return fmt.Errorf("consumer.stream is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("consumer.batch_size must be > 0")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("consumer.read_timeout must be > 0")
	}
	if c.IdleDelay <= 0 {
		return fmt.Errorf("consumer.idle_delay must be > 0")
	}
	if !validWindows[c.Window] {
		return fmt.Errorf("invalid consumer.window %q (must be count or time)", c.Window)
	}
	if c.Window == "time" && c.WindowDuration <= 0 {
		return fmt.Errorf("consumer.window_duration must be > 0 for time windows")
	}
	if strings.TrimSpace(c.MetricsDir) == "" {
		return fmt.Errorf("consumer.metrics_dir is required")
	}
	return nil
}

func (f ForwarderConfig) validate() error {
	if !validTransports[f.Transport] {
		return fmt.Errorf("unsupported forwarder.transport %q (must be log, http, postgres or nats)", f.Transport)
	}
	if !codec.Valid(codec.Encoding(f.Encoding)) {
		return fmt.Errorf("unsupported forwarder.encoding %q (must be json or protobuf)", f.Encoding)
	}
	if f.MaxAttempts <= 0 {
		return fmt.Errorf("forwarder.max_attempts must be > 0")
	}
	if f.InitialBackoff < 0 || f.MaxBackoff < 0 {
		return fmt.Errorf("forwarder backoff durations must be >= 0")
	}
	if f.Multiplier < 1 {
		return fmt.Errorf("forwarder.multiplier must be >= 1")
	}
	if f.QueueSize <= 0 {
		return fmt.Errorf("forwarder.queue_size must be > 0")
	}
	if f.DrainTimeout <= 0 {
		return fmt.Errorf("forwarder.drain_timeout must be > 0")
	}

	switch f.Transport {
	case "http":
		if strings.TrimSpace(f.HTTP.URL) == "" {
			return fmt.Errorf("forwarder.http.url is required for the http transport")
		}
	case "postgres":
		if strings.TrimSpace(f.Postgres.DSN) == "" {
			return fmt.Errorf("forwarder.postgres.dsn is required for the postgres transport")
		}
		if f.Postgres.MaxOpenConns <= 0 || f.Postgres.MaxIdleConns <= 0 {
			return fmt.Errorf("forwarder.postgres pool sizes must be > 0")
		}
	case "nats":
		if strings.TrimSpace(f.NATS.URL) == "" || strings.TrimSpace(f.NATS.Subject) == "" {
			return fmt.Errorf("forwarder.nats.url and forwarder.nats.subject are required for the nats transport")
		}
	}
	return nil
}

// Load parses config from file + env, validates it, then loads and validates metric definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"log.level":                          "info",
		"log.format":                         "text",
		"server.enabled":                     true,
		"server.port":                        8080,
		"server.host":                        "0.0.0.0",
		"server.max_body_size_mb":            1,
		"server.mode":                        "release",
		"server.stream_interval":             "1s",
		"store.dir":                          "",
		"store.streams":                      []map[string]interface{}{{"name": "telemetry"}},
		"producer.enabled":                   true,
		"producer.mode":                      "replay",
		"producer.stream":                    "telemetry",
		"producer.encoding":                  "decoded",
		"producer.response_id":               0x7E8,
		"producer.error_delay":               "1s",
		"producer.replay.file":               "./data/obd_replay.log",
		"producer.replay.rewrite_timestamps": true,
		"producer.live.network":              "tcp",
		"producer.live.reconnect_delay":      "5s",
		"producer.sensor.interval":           "100ms",
		"consumer.enabled":                   true,
		"consumer.stream":                    "telemetry",
		"consumer.batch_size":                10,
		"consumer.read_timeout":              "1s",
		"consumer.idle_delay":                "1s",
		"consumer.window":                    "count",
		"consumer.window_duration":           "30s",
		"consumer.round_places":              2,
		"consumer.forward_raw":               false,
		"consumer.metrics_dir":               "./config/metrics",
		"consumer.response_id":               0x7E8,
		"forwarder.transport":                "log",
		"forwarder.encoding":                 "json",
		"forwarder.max_attempts":             3,
		"forwarder.initial_backoff":          "200ms",
		"forwarder.max_backoff":              "5s",
		"forwarder.multiplier":               2.0,
		"forwarder.queue_size":               64,
		"forwarder.drain_timeout":            "10s",
		"forwarder.http.timeout":             "10s",
		"forwarder.postgres.max_open_conns":  5,
		"forwarder.postgres.max_idle_conns":  5,
		"forwarder.postgres.auto_migrate":    true,
		"forwarder.nats.subject":             "edgestream",
		"forwarder.nats.client_name":         "edgestream",
		"forwarder.nats.timeout":             "5s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Consumer.Enabled {
		return &cfg, nil
	}

	repo, err := coreagg.NewFileSystemMetricRepository(cfg.Consumer.MetricsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric definitions: %w", err)
	}
	metrics := repo.List()
	if len(metrics) == 0 {
		return nil, fmt.Errorf("no metric definitions found in %q", cfg.Consumer.MetricsDir)
	}
	cfg.Metrics = metrics

	return &cfg, nil
}
