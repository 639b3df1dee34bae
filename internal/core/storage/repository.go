package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrStreamExists is returned by CreateStream when the name is taken.
	// Callers that only need the stream to exist should ignore it.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamNotFound is returned for operations on an unknown stream.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrNotEnoughMessages means the read timed out before min_count records
	// were available. Not a failure: retry later.
	ErrNotEnoughMessages = errors.New("not enough messages")

	// ErrRecordsEvicted means the requested start sequence number is below the
	// stream's low-water mark. See RecordsEvictedError for the new low-water mark.
	ErrRecordsEvicted = errors.New("records evicted")

	// ErrStoreUnavailable means the store is closed or its backing storage failed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStreamFull is returned by Append on a reject_newest stream at capacity.
	ErrStreamFull = errors.New("stream full")

	// ErrRecordTooLarge is returned when a single record can never fit in a segment.
	ErrRecordTooLarge = errors.New("record too large")
)

// RecordsEvictedError reports how far a read fell behind retention.
type RecordsEvictedError struct {
	Stream    string
	Requested int64
	LowWater  int64
}

func (e *RecordsEvictedError) Error() string {
	return fmt.Sprintf("stream %q: sequence number %d evicted (low-water mark %d)", e.Stream, e.Requested, e.LowWater)
}

func (e *RecordsEvictedError) Unwrap() error { return ErrRecordsEvicted }

// StrategyOnFull selects what Append does once a stream reaches max size.
type StrategyOnFull string

const (
	// OverwriteOldest evicts whole segments from the head of the stream.
	OverwriteOldest StrategyOnFull = "overwrite_oldest"
	// RejectNewest fails the append with ErrStreamFull.
	RejectNewest StrategyOnFull = "reject_newest"
)

// Valid reports whether s is a known strategy.
func (s StrategyOnFull) Valid() bool {
	return s == OverwriteOldest || s == RejectNewest
}

// Default stream sizing.
const (
	DefaultMaxSizeBytes     int64 = 256 << 20
	DefaultSegmentSizeBytes int64 = 16 << 20
)

// streamNamePattern keeps names usable as directory names.
var streamNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// StreamDefinition describes a stream at creation time.
type StreamDefinition struct {
	Name             string         `json:"name"`
	MaxSizeBytes     int64          `json:"max_size_bytes"`
	SegmentSizeBytes int64          `json:"segment_size_bytes"`
	StrategyOnFull   StrategyOnFull `json:"strategy_on_full"`
}

// WithDefaults fills zero-valued sizing and strategy.
func (d StreamDefinition) WithDefaults() StreamDefinition {
	if d.MaxSizeBytes <= 0 {
		d.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if d.SegmentSizeBytes <= 0 {
		d.SegmentSizeBytes = DefaultSegmentSizeBytes
	}
	if d.SegmentSizeBytes > d.MaxSizeBytes {
		d.SegmentSizeBytes = d.MaxSizeBytes
	}
	if d.StrategyOnFull == "" {
		d.StrategyOnFull = OverwriteOldest
	}
	return d
}

// Validate checks a definition after defaults are applied.
func (d StreamDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("stream name is required")
	}
	if !streamNamePattern.MatchString(d.Name) {
		return fmt.Errorf("stream %q: name may only contain letters, digits, '.', '_' and '-'", d.Name)
	}
	if !d.StrategyOnFull.Valid() {
		return fmt.Errorf("stream %q: unsupported strategy_on_full %q", d.Name, d.StrategyOnFull)
	}
	if d.MaxSizeBytes <= 0 || d.SegmentSizeBytes <= 0 {
		return fmt.Errorf("stream %q: sizes must be > 0", d.Name)
	}
	return nil
}

// Record is one stored payload with its store-assigned sequence number.
type Record struct {
	SequenceNumber int64
	Payload        []byte
}

// ReadOptions bounds a Read.
type ReadOptions struct {
	// MinCount is the number of records that must be available before Read returns.
	// Values < 1 are treated as 1.
	MinCount int
	// MaxCount caps the batch; 0 means no cap.
	MaxCount int
	// Timeout bounds the wait; 0 checks once without blocking.
	Timeout time.Duration
}

// StreamInfo is a point-in-time description of a stream.
type StreamInfo struct {
	Definition StreamDefinition `json:"definition"`
	// LowWater is the oldest retained sequence number.
	LowWater int64 `json:"low_water"`
	// HighWater is the sequence number the next append will receive.
	HighWater int64 `json:"high_water"`
	SizeBytes int64 `json:"size_bytes"`
	Segments  int   `json:"segments"`
}

// StreamStore is the local, bounded, multi-reader append log keyed by stream name.
// Implementations are internally synchronized; callers never lock around them.
type StreamStore interface {
	// CreateStream fails with ErrStreamExists if the name is taken.
	CreateStream(ctx context.Context, def StreamDefinition) error

	// Append stores one record atomically and returns its sequence number.
	// It never blocks on readers; a saturated or closed store fails with ErrStoreUnavailable.
	Append(ctx context.Context, stream string, payload []byte) (int64, error)

	// Read returns records at or after start in sequence order, waiting up to
	// opts.Timeout for opts.MinCount of them. It fails with ErrNotEnoughMessages on
	// timeout and with *RecordsEvictedError if start is below the low-water mark.
	Read(ctx context.Context, stream string, start int64, opts ReadOptions) ([]Record, error)

	// ListStreams returns the names of all streams.
	ListStreams(ctx context.Context) ([]string, error)

	// DescribeStream reports retention and sizing for one stream.
	DescribeStream(ctx context.Context, stream string) (StreamInfo, error)
}
