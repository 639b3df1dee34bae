package producer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ggaccel/edgestream/internal/core/obd"
)

// ReplayConfig configures file playback. Clock and Logger are optional.
type ReplayConfig struct {
	// RewriteTimestamps stamps every frame with the clock's current time, so
	// replayed data looks live downstream.
	RewriteTimestamps bool
	Clock             clockwork.Clock
	Logger            *slog.Logger
}

// ReplaySource re-emits a recorded bus log forever. The gap between two
// emitted frames equals the gap between their recorded timestamps; after the
// last frame it starts over from the first without a pause.
type ReplaySource struct {
	frames  []obd.RawRecord
	clock   clockwork.Clock
	logger  *slog.Logger
	rewrite bool

	next    int
	prevTS  float64
	started bool
	loops   int
	skipped int
}

// OpenReplay loads a replay file. See NewReplaySource.
func OpenReplay(path string, cfg ReplayConfig) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	src, err := NewReplaySource(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("replay file %s: %w", path, err)
	}
	return src, nil
}

// NewReplaySource reads every frame line from r. Blank lines are ignored and
// malformed lines are skipped with a warning; a log without a single valid
// frame is an error.
func NewReplaySource(r io.Reader, cfg ReplayConfig) (*ReplaySource, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &ReplaySource{clock: cfg.Clock, logger: cfg.Logger, rewrite: cfg.RewriteTimestamps}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := obd.ParseLine(line)
		if err != nil {
			s.skipped++
			s.logger.Warn("[Producer] Skipping malformed replay line", "line", lineNo, "error", err)
			continue
		}
		s.frames = append(s.frames, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay log: %w", err)
	}
	if len(s.frames) == 0 {
		return nil, errors.New("replay log has no valid frames")
	}
	return s, nil
}

// Frames is the number of valid frames loaded.
func (s *ReplaySource) Frames() int { return len(s.frames) }

// Skipped is the number of malformed lines dropped at load.
func (s *ReplaySource) Skipped() int { return s.skipped }

// Loops counts completed passes over the log.
func (s *ReplaySource) Loops() int { return s.loops }

// ReadFrame waits out the recorded gap to the next frame and returns it.
func (s *ReplaySource) ReadFrame(ctx context.Context) (obd.RawRecord, error) {
	rec := s.frames[s.next]

	if s.started {
		if delta := rec.Timestamp - s.prevTS; delta > 0 {
			select {
			case <-ctx.Done():
				return obd.RawRecord{}, ctx.Err()
			case <-s.clock.After(time.Duration(delta * float64(time.Second))):
			}
		}
	} else if err := ctx.Err(); err != nil {
		return obd.RawRecord{}, err
	}
	s.started = true
	s.prevTS = rec.Timestamp

	s.next++
	if s.next == len(s.frames) {
		s.next = 0
		s.loops++
		s.logger.Debug("[Producer] Replay reached end of log, looping", "frames", len(s.frames), "loops", s.loops)
	}

	if s.rewrite {
		return rec.WithTimestamp(float64(s.clock.Now().UnixNano()) / float64(time.Second)), nil
	}
	return rec, nil
}
