package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDropOldestQueueOverflow(t *testing.T) {
	q := NewDropOldestQueue[int](4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			err := q.Push(i)
			if i >= 4 {
				assert.ErrorIs(t, err, ErrFrameDropped)
			} else {
				assert.NoError(t, err)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked without a consumer")
	}

	assert.Equal(t, 4, q.Len())
	assert.Equal(t, uint64(96), q.Dropped())

	for want := 96; want < 100; want++ {
		v, ok, err := q.TryPop()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok, err := q.TryPop()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDropOldestQueueReportsDrop(t *testing.T) {
	q := NewDropOldestQueue[int](1)

	require.NoError(t, q.Push(1))

	err := q.Push(2)
	require.ErrorIs(t, err, ErrFrameDropped)
	assert.Equal(t, uint64(1), q.Dropped())

	// the dropping push still queued its element
	v, ok, err := q.TryPop()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestDropOldestQueueCloseDrains(t *testing.T) {
	q := NewDropOldestQueue[int](4)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	q.Close()
	q.Close()

	err := q.Push(3)
	assert.ErrorIs(t, err, ErrChannelClosed)

	ctx := context.Background()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestDropOldestQueuePopHonoursContext(t *testing.T) {
	q := NewDropOldestQueue[int](2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDropOldestQueueMonotonicConsumer(t *testing.T) {
	q := NewDropOldestQueue[int](3)
	const total = 20000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			_ = q.Push(i)
		}
		q.Close()
	}()

	last := -1
	received := 0
	for {
		v, err := q.Pop(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, ErrChannelClosed)
			break
		}
		require.Greater(t, v, last)
		last = v
		received++
	}
	wg.Wait()

	assert.Equal(t, total-1, last, "the newest element always survives")
	assert.Equal(t, uint64(total), uint64(received)+q.Dropped())
}

func TestLatestSlot(t *testing.T) {
	s := NewLatestSlot[string]()

	_, _, ok := s.Latest()
	assert.False(t, ok)

	ok, err := s.Publish(5, "five")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Publish(3, "three")
	require.NoError(t, err)
	assert.False(t, ok, "stale version must be ignored")

	v, ver, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, "five", v)
	assert.Equal(t, uint64(5), ver)

	s.Close()
	_, err = s.Publish(6, "six")
	assert.ErrorIs(t, err, ErrChannelClosed)
	v, _, _ = s.Latest()
	assert.Equal(t, "five", v)

	s.Reset()
	_, _, ok = s.Latest()
	assert.False(t, ok)
	ok, err = s.Publish(1, "one")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestBackoff(t *testing.T) {
	b := newBackoff(ReconnectConfig{InitialBackoff: 500 * time.Millisecond, MaxBackoff: 3 * time.Second})

	want := []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i+1)
	}

	b.Reset()
	assert.Equal(t, 500*time.Millisecond, b.Next())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.FrameSize = 1000
	cfg.QueueCapacity = 0
	cfg.ReferencePitch = 300
	cfg.Reconnect.MaxBackoff = time.Millisecond
	cfg.Pitch.Threshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, frag := range []string{"frame_size", "queue_capacity", "reconnect backoff"} {
		assert.Contains(t, err.Error(), frag)
	}
}

func TestMetricsRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordFrame(ctx, false)
	m.RecordFrame(ctx, true)
	m.RecordFrameError(ctx, "decode")
	m.RecordCapture(ctx, true)
	m.RecordAnalysis(ctx, 3*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), sumOf(t, rm, "tuner.frames.captured"))
	assert.Equal(t, int64(1), sumOf(t, rm, "tuner.frames.dropped"))
	assert.Equal(t, int64(1), sumOf(t, rm, "tuner.frames.errors"))
	assert.Equal(t, int64(1), sumOf(t, rm, "tuner.captures"))

	hist := findMetric(rm, "tuner.analysis.duration")
	require.NotNil(t, hist)
	data, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(1), data.DataPoints[0].Count)
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	require.NotNil(t, met, "metric %s not recorded", name)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}
