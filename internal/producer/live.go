package producer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/ggaccel/edgestream/internal/core/obd"
	"github.com/ggaccel/edgestream/internal/core/retry"
)

const defaultReconnectDelay = 5 * time.Second

// Dialer opens the connection to a frame gateway; *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// LiveConfig configures a live frame feed. Dialer, Clock and Logger are optional.
type LiveConfig struct {
	Network        string // "tcp" or "unix"
	Address        string
	ReconnectDelay time.Duration
	Dialer         Dialer
	Clock          clockwork.Clock
	Logger         *slog.Logger
}

// LiveSource reads "<ts> <id> <hex>" lines from a long-lived gateway
// connection. A dropped or refused connection is retried with a fixed delay
// for as long as the context lives.
type LiveSource struct {
	network   string
	address   string
	reconnect time.Duration
	dialer    Dialer
	clock     clockwork.Clock
	logger    *slog.Logger

	conn    net.Conn
	scanner *bufio.Scanner
	stop    func() bool
}

// NewLiveSource validates cfg. It does not connect until the first ReadFrame.
func NewLiveSource(cfg LiveConfig) (*LiveSource, error) {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Network != "tcp" && cfg.Network != "unix" {
		return nil, fmt.Errorf("unsupported live network %q", cfg.Network)
	}
	if cfg.Address == "" {
		return nil, errors.New("live source requires an address")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: 5 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LiveSource{
		network:   cfg.Network,
		address:   cfg.Address,
		reconnect: cfg.ReconnectDelay,
		dialer:    cfg.Dialer,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}, nil
}

// ReadFrame returns the next frame from the gateway, reconnecting as needed.
// A dropped connection is redialled only after the reconnect delay.
// Malformed lines come back as errors wrapping obd.ErrMalformedFrame.
func (s *LiveSource) ReadFrame(ctx context.Context) (obd.RawRecord, error) {
	for {
		if s.scanner == nil {
			if err := s.connect(ctx); err != nil {
				return obd.RawRecord{}, err
			}
		}

		if s.scanner.Scan() {
			line := strings.TrimSpace(s.scanner.Text())
			if line == "" {
				continue
			}
			return obd.ParseLine(line)
		}

		err := s.scanner.Err()
		s.disconnect()
		if ctx.Err() != nil {
			return obd.RawRecord{}, ctx.Err()
		}
		s.logger.Warn("[Producer] Live source disconnected, reconnecting",
			"address", s.address,
			"retry_in", s.reconnect,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return obd.RawRecord{}, ctx.Err()
		case <-s.clock.After(s.reconnect):
		}
	}
}

// connect dials until it succeeds or ctx ends, waiting a fixed delay between attempts.
func (s *LiveSource) connect(ctx context.Context) error {
	attempt := 0
	dial := func() error {
		attempt++
		conn, err := s.dialer.DialContext(ctx, s.network, s.address)
		if err != nil {
			return err
		}
		s.conn = conn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("[Producer] Live source unavailable, retrying",
			"address", s.address,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(s.reconnect), ctx)
	if err := backoff.RetryNotifyWithTimer(dial, b, notify, retry.NewTimer(s.clock)); err != nil {
		return err
	}

	// a blocked Scan returns once the connection is closed
	conn := s.conn
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	s.scanner = bufio.NewScanner(conn)
	s.logger.Info("[Producer] Live source connected", "network", s.network, "address", s.address, "attempts", attempt)
	return nil
}

func (s *LiveSource) disconnect() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.scanner = nil
}

// Close drops the current connection, if any.
func (s *LiveSource) Close() error {
	s.disconnect()
	return nil
}
