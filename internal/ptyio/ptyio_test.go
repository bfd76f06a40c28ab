package ptyio

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPTY_RawRoundTrip(t *testing.T) {
	// GOAL: Verify bytes cross the pair unchanged in both directions
	//
	// TEST SCENARIO: write control bytes on the slave → read on master → write on master → read on slave

	p, err := Open(nil)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	defer p.Close()

	assert.NotEmpty(t, p.TTYName())

	frame := []byte{6, 9, 'A', 'B', '\r', '\n', 4, 20, 0x03}
	_, err = p.Slave().Write(frame)
	require.NoError(t, err)

	got := make([]byte, len(frame))
	_, err = io.ReadFull(p, got)
	require.NoError(t, err)
	assert.Equal(t, frame, got, "raw mode MUST NOT translate or interpret control bytes")

	_, err = p.Write([]byte("pong\n"))
	require.NoError(t, err)
	back := make([]byte, 5)
	_, err = io.ReadFull(p.Slave(), back)
	require.NoError(t, err)
	assert.Equal(t, "pong\n", string(back))

	stats := p.Stats()
	assert.Equal(t, uint64(len(frame)), stats.ReadBytesTotal)
	assert.Equal(t, uint64(5), stats.WriteBytesTotal)
}

func TestPTY_CloseTwice(t *testing.T) {
	p, err := Open(nil)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	require.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}

func TestPTY_CloseUnblocksSlaveRead(t *testing.T) {
	// GOAL: Verify an in-process peer blocked on the slave is released by Close
	//
	// TEST SCENARIO: read on the idle slave → Close → read returns an error

	p, err := Open(nil)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Slave().Read(make([]byte, 16))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("slave Read MUST return after Close")
	}
}
