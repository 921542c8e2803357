package device

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(total int) Generator {
	next := 0
	return func(buf []float32) (int, error) {
		if next >= total {
			return 0, io.EOF
		}
		n := min(len(buf), total-next)
		for i := range n {
			buf[i] = float32(next + i)
		}
		next += n
		return n, nil
	}
}

type collector struct {
	mu      sync.Mutex
	samples []float32
}

func (c *collector) add(buf []float32) {
	c.mu.Lock()
	c.samples = append(c.samples, buf...)
	c.mu.Unlock()
}

func TestPacedStreamDeliversEverythingThenEOF(t *testing.T) {
	var c collector
	s := StartPaced(counter(1000), c.add, StreamOptions{SampleRate: 8000, BufferSize: 128})

	select {
	case err := <-s.Failed():
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("stream never ended")
	}
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	require.Len(t, c.samples, 1000)
	for i, v := range c.samples {
		assert.Equal(t, float32(i), v)
	}
}

func TestPacedStreamKeepsRealTime(t *testing.T) {
	var c collector
	start := time.Now()
	// 100 ms of audio
	s := StartPaced(counter(800), c.add, StreamOptions{SampleRate: 8000, BufferSize: 80, Pace: 1})

	<-s.Failed()
	elapsed := time.Since(start)
	require.NoError(t, s.Stop())

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestPacedStreamFailAndStop(t *testing.T) {
	endless := func(buf []float32) (int, error) { return len(buf), nil }

	s := StartPaced(endless, func([]float32) {}, StreamOptions{SampleRate: 44100, Pace: 1})
	s.Fail(ErrDisconnected)

	select {
	case err := <-s.Failed():
		assert.True(t, errors.Is(err, ErrDisconnected))
	case <-time.After(time.Second):
		t.Fatal("Fail was not reported")
	}
	require.NoError(t, s.Stop())

	s = StartPaced(endless, func([]float32) {}, StreamOptions{SampleRate: 44100, Pace: 1})
	require.NoError(t, s.Stop())
	select {
	case err := <-s.Failed():
		t.Fatalf("Stop must not report a failure, got %v", err)
	default:
	}
}
