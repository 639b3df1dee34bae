package forwarding

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Message is an encoded record ready for a transport. ID stays the same
// across retries of one record so destinations can deduplicate.
type Message struct {
	ID             uuid.UUID
	Kind           Kind
	SequenceNumber int64
	ContentType    string
	Body           []byte
	CreatedAt      time.Time
}

// Transport delivers one message to the downstream destination.
// A nil error is the destination's acknowledgement.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// LogTransport writes every message to a logger. It never fails and is the
// development default when no downstream is reachable.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport returns a transport logging to logger (slog.Default when nil).
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	attrs := []any{
		"id", msg.ID,
		"kind", msg.Kind,
		"sequence_number", msg.SequenceNumber,
		"content_type", msg.ContentType,
		"bytes", len(msg.Body),
	}
	if msg.ContentType == contentTypeJSON || msg.ContentType == contentTypeText {
		attrs = append(attrs, "body", string(msg.Body))
	}
	t.logger.InfoContext(ctx, "[Forwarder] Record forwarded", attrs...)
	return nil
}

func (t *LogTransport) Close() error { return nil }
