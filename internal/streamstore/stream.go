package streamstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ggaccel/edgestream/internal/core/storage"
)

const definitionFile = "stream.json"

// stream owns the segments of one named stream. All fields below mu are
// guarded by it.
type stream struct {
	def     storage.StreamDefinition
	dir     string // empty for memory-only
	metrics *storeMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	segments []*segment
	next     int64
	size     int64
	// notify is closed and replaced on every append to wake waiting readers.
	notify chan struct{}
}

func newStream(def storage.StreamDefinition, dir string, m *storeMetrics, logger *slog.Logger) *stream {
	return &stream{
		def:     def,
		dir:     dir,
		metrics: m,
		logger:  logger,
		notify:  make(chan struct{}),
	}
}

func (st *stream) lowWater() int64 {
	if len(st.segments) == 0 {
		return st.next
	}
	return st.segments[0].base
}

func (st *stream) append(payload []byte) (int64, error) {
	name := st.def.Name
	need := recordSize(payload)
	if need > st.def.SegmentSizeBytes {
		return 0, fmt.Errorf("stream %q: record of %d bytes exceeds segment size %d: %w",
			name, need, st.def.SegmentSizeBytes, storage.ErrRecordTooLarge)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.size+need > st.def.MaxSizeBytes {
		if st.def.StrategyOnFull == storage.RejectNewest {
			return 0, fmt.Errorf("stream %q: %w", name, storage.ErrStreamFull)
		}
		for st.size+need > st.def.MaxSizeBytes && len(st.segments) > 0 {
			st.evictOldest()
		}
	}

	var active *segment
	if n := len(st.segments); n > 0 {
		active = st.segments[n-1]
	}
	if active == nil || active.bytes+need > st.def.SegmentSizeBytes {
		seg, err := createSegment(st.dir, st.next)
		if err != nil {
			return 0, fmt.Errorf("stream %q: create segment: %v: %w", name, err, storage.ErrStoreUnavailable)
		}
		st.segments = append(st.segments, seg)
		active = seg
	}

	stored := append([]byte(nil), payload...)
	if err := active.write(stored); err != nil {
		return 0, fmt.Errorf("stream %q: write record: %v: %w", name, err, storage.ErrStoreUnavailable)
	}
	active.records = append(active.records, stored)
	active.bytes += need
	st.size += need

	seq := st.next
	st.next++
	st.metrics.recordAppend(name, st.size)

	close(st.notify)
	st.notify = make(chan struct{})
	return seq, nil
}

// evictOldest drops the head segment. Caller holds mu.
func (st *stream) evictOldest() {
	seg := st.segments[0]
	st.segments[0] = nil
	st.segments = st.segments[1:]
	st.size -= seg.bytes

	if err := seg.remove(); err != nil {
		st.logger.Warn("[Store] Failed to remove evicted segment file",
			"stream", st.def.Name, "path", seg.path, "error", err)
	}
	low := st.lowWater()
	st.metrics.recordEviction(st.def.Name, len(seg.records), st.size, low)
	st.logger.Debug("[Store] Evicted oldest segment",
		"stream", st.def.Name, "records", len(seg.records), "low_water", low)
}

// collect returns up to maxCount records starting at start when at least
// minCount are available. Otherwise it returns the channel that the next
// append will close.
func (st *stream) collect(start int64, minCount, maxCount int) ([]storage.Record, <-chan struct{}, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if low := st.lowWater(); start < low {
		return nil, nil, &storage.RecordsEvictedError{Stream: st.def.Name, Requested: start, LowWater: low}
	}

	available := st.next - start
	if available < int64(minCount) {
		return nil, st.notify, nil
	}
	if maxCount > 0 && available > int64(maxCount) {
		available = int64(maxCount)
	}

	out := make([]storage.Record, 0, available)
	seq := start
	i := sort.Search(len(st.segments), func(i int) bool { return st.segments[i].next() > start })
	for ; i < len(st.segments) && int64(len(out)) < available; i++ {
		seg := st.segments[i]
		for j := seq - seg.base; j < int64(len(seg.records)) && int64(len(out)) < available; j++ {
			out = append(out, storage.Record{SequenceNumber: seq, Payload: seg.records[j]})
			seq++
		}
	}
	return out, nil, nil
}

func (st *stream) info() storage.StreamInfo {
	st.mu.Lock()
	defer st.mu.Unlock()
	return storage.StreamInfo{
		Definition: st.def,
		LowWater:   st.lowWater(),
		HighWater:  st.next,
		SizeBytes:  st.size,
		Segments:   len(st.segments),
	}
}

func (st *stream) close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	var firstErr error
	for _, seg := range st.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeDefinition(dir string, def storage.StreamDefinition) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, definitionFile), b, 0o644)
}

// loadStream rebuilds a persisted stream. Segments that no longer line up with
// their successor (a corrupt middle segment) are treated as evicted.
func loadStream(dir string, m *storeMetrics, logger *slog.Logger) (*stream, error) {
	b, err := os.ReadFile(filepath.Join(dir, definitionFile))
	if err != nil {
		return nil, err
	}
	var def storage.StreamDefinition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", definitionFile, err)
	}
	def = def.WithDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	bases, err := listSegmentFiles(dir)
	if err != nil {
		return nil, err
	}

	st := newStream(def, dir, m, logger)
	for _, base := range bases {
		seg, dropped, err := loadSegment(filepath.Join(dir, segmentFileName(base)), base)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("load segment %d: %w", base, err)
		}
		if dropped > 0 {
			logger.Warn("[Store] Truncated torn segment tail",
				"stream", def.Name, "segment", base, "bytes_dropped", dropped)
		}
		if n := len(st.segments); n > 0 && st.segments[n-1].next() != base {
			logger.Warn("[Store] Segment gap on reload, discarding older segments",
				"stream", def.Name, "expected", st.segments[n-1].next(), "found", base)
			for len(st.segments) > 0 {
				st.evictOldest()
			}
		}
		st.segments = append(st.segments, seg)
		st.size += seg.bytes
	}
	if n := len(st.segments); n > 0 {
		st.next = st.segments[n-1].next()
	}
	return st, nil
}
