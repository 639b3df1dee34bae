package producer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggaccel/edgestream/internal/core/obd"
)

func TestLiveSource_ReadsAndReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	release := make(chan struct{})
	go func() {
		// first connection: one frame, one bad line, then hang up
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fmt.Fprint(conn, "1.0 7E8 03410D32\nnot a frame\n")
		conn.Close()

		// second connection stays open until the test ends
		conn, err = ln.Accept()
		if err != nil {
			return
		}
		fmt.Fprint(conn, "2.0 7E8 04410C1AF8\n")
		<-release
		conn.Close()
	}()
	defer close(release)

	src, err := NewLiveSource(LiveConfig{Address: ln.Addr().String(), ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := src.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Timestamp)

	_, err = src.ReadFrame(ctx)
	require.ErrorIs(t, err, obd.ErrMalformedFrame)

	rec, err = src.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, rec.Timestamp)
	assert.Equal(t, 1726.0, obd.NewDecoder(0).Decode(rec).Value)
}

func TestLiveSource_CancelUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	src, err := NewLiveSource(LiveConfig{Address: ln.Addr().String()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := src.ReadFrame(ctx)
		errs <- err
	}()

	conn := <-accepted
	defer conn.Close()
	cancel()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadFrame did not return after cancel")
	}
}

// flakyDialer refuses the first fails dials, then hands out one end of a pipe.
type flakyDialer struct {
	mu    sync.Mutex
	fails int
	dials int
	peer  net.Conn
}

func (d *flakyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.fails {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	d.peer = server
	return client, nil
}

func (d *flakyDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestLiveSource_FixedBackoffWhileUnavailable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &flakyDialer{fails: 2}
	src, err := NewLiveSource(LiveConfig{
		Address:        "gateway:9000",
		ReconnectDelay: 3 * time.Second,
		Dialer:         dialer,
		Clock:          clock,
	})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recs := make(chan obd.RawRecord, 1)
	go func() {
		rec, _ := src.ReadFrame(ctx)
		recs <- rec
	}()

	for attempt := 1; attempt <= 2; attempt++ {
		clock.BlockUntil(1)
		assert.Equal(t, attempt, dialer.dialCount())
		clock.Advance(3 * time.Second)
	}

	require.Eventually(t, func() bool { return dialer.dialCount() == 3 }, time.Second, time.Millisecond)
	dialer.mu.Lock()
	peer := dialer.peer
	dialer.mu.Unlock()
	go fmt.Fprint(peer, "5.0 7E8 03410D32\n")

	select {
	case rec := <-recs:
		assert.Equal(t, 5.0, rec.Timestamp)
	case <-ctx.Done():
		t.Fatal("no frame after reconnect")
	}
}

// hangupDialer accepts every dial and returns a connection that is already closed.
type hangupDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *hangupDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	client, server := net.Pipe()
	server.Close()
	client.Close()
	return client, nil
}

func (d *hangupDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestLiveSource_WaitsBeforeRedialAfterHangup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialer := &hangupDialer{}
	src, err := NewLiveSource(LiveConfig{
		Address:        "gateway:9000",
		ReconnectDelay: time.Hour,
		Dialer:         dialer,
		Clock:          clock,
	})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := src.ReadFrame(ctx)
		errs <- err
	}()

	clock.BlockUntil(1)
	assert.Equal(t, 1, dialer.dialCount(), "no redial before the reconnect delay")

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return dialer.dialCount() == 2 }, time.Second, time.Millisecond)
	clock.BlockUntil(1)
	assert.Equal(t, 2, dialer.dialCount())

	cancel()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadFrame did not return after cancel")
	}
	assert.Equal(t, 2, dialer.dialCount())
}

func TestNewLiveSource_Validation(t *testing.T) {
	_, err := NewLiveSource(LiveConfig{})
	require.Error(t, err)

	_, err = NewLiveSource(LiveConfig{Network: "udp", Address: "x"})
	require.Error(t, err)
}
