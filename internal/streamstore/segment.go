package streamstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Frame layout on disk: uint32 payload length, uint32 CRC32 (IEEE) of the
// payload, payload bytes. Both integers are big-endian.
const frameHeaderSize = 8

const segmentExt = ".seg"

// recordSize is what one record costs against segment and stream limits.
// Memory-only streams use the same accounting so eviction is identical.
func recordSize(payload []byte) int64 {
	return int64(len(payload)) + frameHeaderSize
}

// segment is a contiguous run of records starting at base.
type segment struct {
	base    int64
	records [][]byte
	bytes   int64

	path string
	file *os.File // nil for memory-only streams
}

func (s *segment) next() int64 {
	return s.base + int64(len(s.records))
}

func segmentFileName(base int64) string {
	return fmt.Sprintf("%020d%s", base, segmentExt)
}

func createSegment(dir string, base int64) (*segment, error) {
	seg := &segment{base: base}
	if dir == "" {
		return seg, nil
	}
	seg.path = filepath.Join(dir, segmentFileName(base))
	f, err := os.OpenFile(seg.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	seg.file = f
	return seg, nil
}

func encodeFrame(payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// write persists one frame. A failed or short write is truncated back to the
// previous end of file so a partial record never survives.
func (s *segment) write(payload []byte) error {
	if s.file == nil {
		return nil
	}
	frame := encodeFrame(payload)
	n, err := s.file.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if terr := s.file.Truncate(s.bytes); terr != nil {
			return fmt.Errorf("%w (truncate failed: %v)", err, terr)
		}
		return err
	}
	return nil
}

func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (s *segment) remove() error {
	if s.file == nil {
		return nil
	}
	s.file.Close()
	return os.Remove(s.path)
}

// loadSegment reads every intact frame of a segment file. Anything after the
// first short or corrupt frame is cut off. It returns the number of bytes dropped.
func loadSegment(path string, base int64) (*segment, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	seg := &segment{base: base, path: path}
	var off int64
	for off+frameHeaderSize <= int64(len(data)) {
		length := int64(binary.BigEndian.Uint32(data[off : off+4]))
		sum := binary.BigEndian.Uint32(data[off+4 : off+8])
		end := off + frameHeaderSize + length
		if end > int64(len(data)) {
			break
		}
		payload := data[off+frameHeaderSize : end]
		if crc32.ChecksumIEEE(payload) != sum {
			break
		}
		seg.records = append(seg.records, payload)
		off = end
	}
	seg.bytes = off

	dropped := int64(len(data)) - off
	if dropped > 0 {
		if err := os.Truncate(path, off); err != nil {
			return nil, 0, fmt.Errorf("truncate torn tail of %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, err
	}
	seg.file = f
	return seg, dropped, nil
}

// listSegmentFiles returns segment base sequence numbers in a stream directory, ascending.
func listSegmentFiles(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var bases []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		base, err := strconv.ParseInt(strings.TrimSuffix(name, segmentExt), 10, 64)
		if err != nil {
			continue
		}
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}
