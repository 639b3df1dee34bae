package streamstore

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggaccel/edgestream/internal/core/storage"
)

func fillPersisted(t *testing.T, dir string, def storage.StreamDefinition, n int) {
	t.Helper()
	ctx := context.Background()
	s, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.CreateStream(ctx, def))
	for i := 0; i < n; i++ {
		seq, err := s.Append(ctx, def.Name, payload8(i))
		require.NoError(t, err)
		require.Equal(t, int64(i), seq)
	}
	require.NoError(t, s.Close())
}

func TestStore_ReloadContinuesNumbering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fillPersisted(t, dir, storage.StreamDefinition{Name: "local"}, 5)

	s := newTestStore(t, Config{Dir: dir})

	names, err := s.ListStreams(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"local"}, names)

	// Startup code creates configured streams unconditionally.
	require.ErrorIs(t, s.CreateStream(ctx, storage.StreamDefinition{Name: "local"}), storage.ErrStreamExists)

	recs, err := s.Read(ctx, "local", 0, storage.ReadOptions{MinCount: 5})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, r := range recs {
		assert.Equal(t, payload8(i), r.Payload)
	}

	seq, err := s.Append(ctx, "local", payload8(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)
}

func TestStore_ReloadTruncatesTornTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fillPersisted(t, dir, storage.StreamDefinition{Name: "local"}, 3)

	segPath := filepath.Join(dir, "local", segmentFileName(0))
	before, err := os.Stat(segPath)
	require.NoError(t, err)

	// A frame header promising 100 bytes followed by only three of them.
	f, err := os.OpenFile(segPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, 100)
	_, err = f.Write(append(header, 'a', 'b', 'c'))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s := newTestStore(t, Config{Dir: dir})

	after, err := os.Stat(segPath)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())

	info, err := s.DescribeStream(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.HighWater)

	seq, err := s.Append(ctx, "local", payload8(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	recs, err := s.Read(ctx, "local", 0, storage.ReadOptions{MinCount: 4})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, payload8(3), recs[3].Payload)
}

func TestStore_EvictionRemovesSegmentFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fillPersisted(t, dir, storage.StreamDefinition{Name: "local", MaxSizeBytes: 96, SegmentSizeBytes: 48}, 10)

	bases, err := listSegmentFiles(filepath.Join(dir, "local"))
	require.NoError(t, err)
	require.Equal(t, []int64{6, 9}, bases)

	s := newTestStore(t, Config{Dir: dir})
	info, err := s.DescribeStream(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.LowWater)
	assert.Equal(t, int64(10), info.HighWater)
	assert.Equal(t, int64(96), info.Definition.MaxSizeBytes)

	_, err = s.Read(ctx, "local", 5, storage.ReadOptions{MinCount: 1})
	require.ErrorIs(t, err, storage.ErrRecordsEvicted)
}

func TestStore_PingChecksDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	s := newTestStore(t, Config{Dir: dir})
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, os.RemoveAll(dir))
	require.ErrorIs(t, s.Ping(ctx), storage.ErrStoreUnavailable)
}
