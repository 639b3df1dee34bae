package forwarding

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	defaultNATSTimeout       = 5 * time.Second
	defaultNATSReconnectWait = 2 * time.Second
)

// NATSConfig configures the JetStream transport. Messages are published to
// <Subject>.<kind>. When Stream is set the stream is created or updated to
// capture <Subject>.> at startup.
type NATSConfig struct {
	URL        string
	Subject    string
	Stream     string
	ClientName string
	Timeout    time.Duration
}

// jetStreamPublisher is the slice of jetstream.JetStream the transport needs.
type jetStreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSTransport publishes messages to NATS JetStream and waits for the
// stream's acknowledgement.
type NATSTransport struct {
	conn    *nats.Conn
	js      jetStreamPublisher
	subject string
}

// NewNATSTransport connects to cfg.URL and prepares JetStream publishing.
func NewNATSTransport(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSTransport, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("nats transport requires a url and a subject")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNATSTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultNATSReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[NATS] Disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("[NATS] Reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.ClientName != "" {
		opts = append(opts, nats.Name(cfg.ClientName))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if cfg.Stream != "" {
		streamCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		_, err := js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject + ".>"},
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to ensure jetstream stream %q: %w", cfg.Stream, err)
		}
	}

	logger.Info("[NATS] Transport ready", "url", cfg.URL, "subject", cfg.Subject, "stream", cfg.Stream)
	return &NATSTransport{conn: conn, js: js, subject: cfg.Subject}, nil
}

func (t *NATSTransport) Name() string { return "nats" }

func (t *NATSTransport) Send(ctx context.Context, msg Message) error {
	m := nats.NewMsg(t.subject + "." + string(msg.Kind))
	m.Data = msg.Body
	m.Header.Set("Content-Type", msg.ContentType)
	m.Header.Set("X-Sequence-Number", strconv.FormatInt(msg.SequenceNumber, 10))

	// the message id lets JetStream drop duplicates of a retried record
	if _, err := t.js.PublishMsg(ctx, m, jetstream.WithMsgID(msg.ID.String())); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}

// Ping reports whether the connection to the server is up.
func (t *NATSTransport) Ping(_ context.Context) error {
	if t.conn == nil || !t.conn.IsConnected() {
		return fmt.Errorf("nats connection is %s", t.status())
	}
	return nil
}

func (t *NATSTransport) status() string {
	if t.conn == nil {
		return "not established"
	}
	return t.conn.Status().String()
}

func (t *NATSTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Drain()
}
