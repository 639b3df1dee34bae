package forwarding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPTransport POSTs each message to a fixed URL. Any non-2xx status is a failure.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewHTTPTransport validates cfg and builds a client with its timeout.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport requires a url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &HTTPTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (t *HTTPTransport) Name() string { return "http" }

func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(msg.Body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", msg.ContentType)
	req.Header.Set("Idempotency-Key", msg.ID.String())
	req.Header.Set("X-Record-Kind", string(msg.Kind))
	req.Header.Set("X-Sequence-Number", strconv.FormatInt(msg.SequenceNumber, 10))
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return nil
}

func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
