package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/ggaccel/edgestream/internal/aggregation"
	"github.com/ggaccel/edgestream/internal/codec"
	coreagg "github.com/ggaccel/edgestream/internal/core/aggregation"
	corecfg "github.com/ggaccel/edgestream/internal/core/config"
	"github.com/ggaccel/edgestream/internal/core/obd"
	"github.com/ggaccel/edgestream/internal/core/storage"
	"github.com/ggaccel/edgestream/internal/core/storage/postgres"
	"github.com/ggaccel/edgestream/internal/forwarding"
	"github.com/ggaccel/edgestream/internal/ingestion"
	"github.com/ggaccel/edgestream/internal/producer"
	"github.com/ggaccel/edgestream/internal/server"
	"github.com/ggaccel/edgestream/internal/status"
	"github.com/ggaccel/edgestream/internal/streamstore"
)

func main() {
	configPath := flag.String("config", "edgestream.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Bootstrap logger until the configured one is known.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		slog.Error("Failed to configure logger", "error", err)
		os.Exit(1)
	}
	logger = logger.With("run_id", uuid.NewString())
	slog.SetDefault(logger)
	slog.Info("Loaded config", "config", *configPath, "metrics", len(cfg.Metrics))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Pipeline stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// run wires every component and blocks until ctx is cancelled or a worker fails.
func run(ctx context.Context, cfg *corecfg.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 2. Initialize Stream Store
	store, err := streamstore.New(streamstore.Config{
		Dir:        cfg.Store.Dir,
		Registerer: reg,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("open stream store: %w", err)
	}
	defer store.Close()

	for _, sc := range cfg.Store.Streams {
		def := sc.Definition()
		if err := store.CreateStream(ctx, def); err != nil && !errors.Is(err, storage.ErrStreamExists) {
			return fmt.Errorf("create stream %q: %w", def.Name, err)
		}
	}
	slog.Info("Stream store ready", "dir", cfg.Store.Dir, "streams", len(cfg.Store.Streams))

	last := status.NewLastAggregate(clockwork.NewRealClock())
	checks := map[string]server.HealthChecker{"store": store}
	g, gctx := errgroup.WithContext(ctx)

	// 3. Initialize Forwarding + Aggregation Consumer
	if cfg.Consumer.Enabled {
		transport, err := newTransport(ctx, cfg.Forwarder, logger)
		if err != nil {
			return fmt.Errorf("forwarding transport: %w", err)
		}
		defer transport.Close()
		if hc, ok := transport.(server.HealthChecker); ok {
			checks["forwarder"] = hc
		}

		aggCodec, err := codec.New(codec.Encoding(cfg.Forwarder.Encoding))
		if err != nil {
			return err
		}

		sink, err := forwarding.NewSink(forwarding.SinkConfig{
			Transport: transport,
			Codec:     aggCodec,
			Retry: forwarding.RetryPolicy{
				MaxAttempts:    cfg.Forwarder.MaxAttempts,
				InitialBackoff: cfg.Forwarder.InitialBackoff,
				MaxBackoff:     cfg.Forwarder.MaxBackoff,
				Multiplier:     cfg.Forwarder.Multiplier,
			},
			Registerer: reg,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		forwarder, err := forwarding.NewForwarder(sink, forwarding.ForwarderConfig{
			QueueSize:    cfg.Forwarder.QueueSize,
			DrainTimeout: cfg.Forwarder.DrainTimeout,
			Registerer:   reg,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		consumer, err := aggregation.NewConsumer(aggregation.Deps{
			Store:      store,
			Forwarder:  forwarder,
			Status:     last,
			Metrics:    cfg.Metrics,
			Registerer: reg,
			Logger:     logger,
		}, aggregation.Options{
			Stream:         cfg.Consumer.Stream,
			BatchSize:      cfg.Consumer.BatchSize,
			ReadTimeout:    cfg.Consumer.ReadTimeout,
			IdleDelay:      cfg.Consumer.IdleDelay,
			Window:         coreagg.WindowMode(cfg.Consumer.Window),
			WindowDuration: cfg.Consumer.WindowDuration,
			RoundPlaces:    &cfg.Consumer.RoundPlaces,
			ForwardRaw:     cfg.Consumer.ForwardRaw,
			ResponseID:     cfg.Consumer.ResponseID,
		})
		if err != nil {
			return err
		}

		// The forwarder outlives the consumer so the final partial window is delivered.
		fwdCtx, stopForwarder := context.WithCancel(context.WithoutCancel(gctx))
		g.Go(func() error {
			return forwarder.Run(fwdCtx)
		})
		g.Go(func() error {
			defer stopForwarder()
			return consumer.Run(gctx)
		})
		slog.Info("Aggregation consumer initialized",
			"stream", cfg.Consumer.Stream,
			"transport", transport.Name(),
			"encoding", aggCodec.Encoding(),
			"metrics", len(cfg.Metrics),
		)
	} else {
		slog.Info("Aggregation consumer disabled by config")
	}

	// 4. Initialize Server
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server.Addr(), cfg.Server.Mode, checks, reg)
		ingestion.NewService(store, cfg.Server.MaxBodySizeMB).RegisterRoutes(srv.Engine)
		status.NewService(last, cfg.Server.StreamInterval, nil).RegisterRoutes(srv.Engine)
	}

	// 5. Initialize Producer
	if cfg.Producer.Enabled {
		source, closeSource, err := newSource(cfg.Producer, logger)
		if err != nil {
			return fmt.Errorf("producer source: %w", err)
		}
		defer closeSource()

		if sensor, ok := source.(*producer.SensorSource); ok && srv != nil {
			sensor.RegisterRoutes(srv.Engine)
		}

		p, err := producer.New(producer.Config{
			Stream:     cfg.Producer.Stream,
			Source:     source,
			Store:      store,
			ErrorDelay: cfg.Producer.ErrorDelay,
			Registerer: reg,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return p.Run(gctx)
		})
		slog.Info("Producer initialized", "mode", cfg.Producer.Mode, "stream", cfg.Producer.Stream, "source", source.Name())
	} else {
		slog.Info("Producer disabled by config")
	}

	// 6. Start Services. The HTTP server blocks until ctx is cancelled.
	if srv != nil {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	return g.Wait()
}

func newLogger(cfg corecfg.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// newTransport builds the configured forwarding destination.
func newTransport(ctx context.Context, cfg corecfg.ForwarderConfig, logger *slog.Logger) (forwarding.Transport, error) {
	switch cfg.Transport {
	case "http":
		return forwarding.NewHTTPTransport(forwarding.HTTPConfig{
			URL:     cfg.HTTP.URL,
			Timeout: cfg.HTTP.Timeout,
			Headers: cfg.HTTP.Headers,
		})
	case "postgres":
		return postgres.NewRecordsAdapter(postgres.Config{
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			AutoMigrate:  cfg.Postgres.AutoMigrate,
		})
	case "nats":
		return forwarding.NewNATSTransport(ctx, forwarding.NATSConfig{
			URL:        cfg.NATS.URL,
			Subject:    cfg.NATS.Subject,
			Stream:     cfg.NATS.Stream,
			ClientName: cfg.NATS.ClientName,
			Timeout:    cfg.NATS.Timeout,
		}, logger)
	case "log":
		return forwarding.NewLogTransport(logger), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
}

// newSource builds the configured producer source and its cleanup.
func newSource(cfg corecfg.ProducerConfig, logger *slog.Logger) (producer.Source, func(), error) {
	noop := func() {}
	if cfg.Mode == "sensor" {
		return producer.NewSensorSource(producer.SensorConfig{
			Interval: cfg.Sensor.Interval,
			Seed:     cfg.Sensor.Seed,
		}), noop, nil
	}

	encoding, err := producer.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, nil, err
	}
	decoder := obd.NewDecoder(cfg.ResponseID)

	switch cfg.Mode {
	case "replay":
		replay, err := producer.OpenReplay(cfg.Replay.File, producer.ReplayConfig{
			RewriteTimestamps: cfg.Replay.RewriteTimestamps,
			Logger:            logger,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Replay file loaded", "file", cfg.Replay.File, "frames", replay.Frames(), "skipped", replay.Skipped())
		return producer.NewFrameSource("replay", replay, encoding, decoder), noop, nil
	case "live":
		live, err := producer.NewLiveSource(producer.LiveConfig{
			Network:        cfg.Live.Network,
			Address:        cfg.Live.Address,
			ReconnectDelay: cfg.Live.ReconnectDelay,
			Dialer:         &net.Dialer{},
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return producer.NewFrameSource("live", live, encoding, decoder), func() { _ = live.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported producer mode %q", cfg.Mode)
}
