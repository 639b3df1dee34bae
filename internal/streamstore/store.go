// Package streamstore is the local stream store: named, size-bounded,
// segment-based append logs with sequence-numbered reads.
//
// Records are held in memory. When Config.Dir is set every stream is also
// persisted under Dir/<stream>/ and reloaded by New.
package streamstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggaccel/edgestream/internal/core/storage"
)

// Config configures a Store. All fields are optional.
type Config struct {
	// Dir enables file persistence when non-empty.
	Dir        string
	Clock      clockwork.Clock
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Store implements storage.StreamStore.
type Store struct {
	dir     string
	clock   clockwork.Clock
	metrics *storeMetrics
	logger  *slog.Logger

	mu      sync.RWMutex
	streams map[string]*stream
	closed  bool
	closing chan struct{}
}

var _ storage.StreamStore = (*Store)(nil)

// New opens a store, reloading any streams persisted under cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m, err := newStoreMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register store metrics: %w", err)
	}

	s := &Store{
		dir:     cfg.Dir,
		clock:   cfg.Clock,
		metrics: m,
		logger:  cfg.Logger,
		streams: make(map[string]*stream),
		closing: make(chan struct{}),
	}

	if s.dir != "" {
		if err := s.load(); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read store dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.dir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, definitionFile)); err != nil {
			continue
		}
		st, err := loadStream(dir, s.metrics, s.logger)
		if err != nil {
			return fmt.Errorf("load stream %q: %w", e.Name(), err)
		}
		s.streams[st.def.Name] = st
		info := st.info()
		s.logger.Info("[Store] Reloaded stream",
			"stream", st.def.Name, "low_water", info.LowWater, "high_water", info.HighWater, "segments", info.Segments)
	}
	return nil
}

// CreateStream registers a new stream. Zero sizes and strategy take defaults.
func (s *Store) CreateStream(ctx context.Context, def storage.StreamDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	def = def.WithDefaults()
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store closed: %w", storage.ErrStoreUnavailable)
	}
	if _, ok := s.streams[def.Name]; ok {
		return fmt.Errorf("stream %q: %w", def.Name, storage.ErrStreamExists)
	}

	var dir string
	if s.dir != "" {
		dir = filepath.Join(s.dir, def.Name)
		if err := writeDefinition(dir, def); err != nil {
			return fmt.Errorf("stream %q: persist definition: %v: %w", def.Name, err, storage.ErrStoreUnavailable)
		}
	}
	s.streams[def.Name] = newStream(def, dir, s.metrics, s.logger)
	s.logger.Info("[Store] Created stream",
		"stream", def.Name, "max_size_bytes", def.MaxSizeBytes,
		"segment_size_bytes", def.SegmentSizeBytes, "strategy_on_full", def.StrategyOnFull)
	return nil
}

func (s *Store) lookup(name string) (*stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store closed: %w", storage.ErrStoreUnavailable)
	}
	st, ok := s.streams[name]
	if !ok {
		return nil, fmt.Errorf("stream %q: %w", name, storage.ErrStreamNotFound)
	}
	return st, nil
}

// Append stores payload and returns its sequence number.
func (s *Store) Append(ctx context.Context, name string, payload []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return st.append(payload)
}

// Read implements storage.StreamStore. Waiting readers are released by
// appends, by the timeout, by ctx and by Close.
func (s *Store) Read(ctx context.Context, name string, start int64, opts storage.ReadOptions) ([]storage.Record, error) {
	st, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	minCount := max(opts.MinCount, 1)

	var timer clockwork.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		records, wait, err := st.collect(start, minCount, opts.MaxCount)
		if err != nil || wait == nil {
			return records, err
		}
		if opts.Timeout <= 0 {
			return nil, notEnough(name, start, minCount)
		}
		if timer == nil {
			timer = s.clock.NewTimer(opts.Timeout)
		}

		select {
		case <-wait:
		case <-timer.Chan():
			return nil, notEnough(name, start, minCount)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closing:
			return nil, fmt.Errorf("store closed: %w", storage.ErrStoreUnavailable)
		}
	}
}

func notEnough(name string, start int64, minCount int) error {
	return fmt.Errorf("stream %q: fewer than %d records from %d: %w", name, minCount, start, storage.ErrNotEnoughMessages)
}

// ListStreams returns stream names in sorted order.
func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store closed: %w", storage.ErrStoreUnavailable)
	}
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DescribeStream implements storage.StreamStore.
func (s *Store) DescribeStream(ctx context.Context, name string) (storage.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.StreamInfo{}, err
	}
	st, err := s.lookup(name)
	if err != nil {
		return storage.StreamInfo{}, err
	}
	return st.info(), nil
}

// Ping reports whether the store can accept work.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("store closed: %w", storage.ErrStoreUnavailable)
	}
	if s.dir != "" {
		if _, err := os.Stat(s.dir); err != nil {
			return fmt.Errorf("store dir: %v: %w", err, storage.ErrStoreUnavailable)
		}
	}
	return nil
}

// Close releases waiting readers and flushes segment files. Later calls fail
// with storage.ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	var firstErr error
	for _, st := range streams {
		if err := st.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close stream %q: %w", st.def.Name, err)
		}
	}
	return firstErr
}
