package pipe

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	p := New()
	ctx := context.Background()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.Write(ctx, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	}()

	buf := make([]byte, 3)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, buf)

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{4, 5, 6}, buf)

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{7, 8}, buf[:n])

	require.NoError(t, <-writeErr)
}

func TestReadSeesCleanEOFAfterComplete(t *testing.T) {
	p := New()
	p.Complete(nil)

	buf := make([]byte, 4)
	n, err := p.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadSeesErrorAfterCompleteWithError(t *testing.T) {
	p := New()
	boom := errors.New("boom")
	p.Complete(boom)

	buf := make([]byte, 4)
	_, err := p.Read(buf)
	assert.ErrorIs(t, err, boom)
}

func TestWriteBlocksUntilFullyConsumed(t *testing.T) {
	p := New()
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_ = p.Write(ctx, []byte{1, 2, 3, 4})
		close(done)
	}()

	buf := make([]byte, 2)
	_, err := p.Read(buf)
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("write returned before the whole chunk was consumed")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = p.Read(buf)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write never unblocked after full consumption")
	}
}

func TestWriteCancelledByContext(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Write(ctx, []byte{1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompleteReleasesBlockedWriter(t *testing.T) {
	p := New()
	ctx := context.Background()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.Write(ctx, []byte{1, 2, 3})
	}()

	// Give the write a moment to land in dataCh, then complete the pipe
	// from the reader side without ever reading — simulating a cancelled
	// consumer.
	time.Sleep(10 * time.Millisecond)
	p.Complete(errors.New("reader gone"))

	select {
	case <-writeErr:
	case <-time.After(time.Second):
		t.Fatal("write never unblocked after Complete")
	}
}
