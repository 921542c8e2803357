package common

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAssemblerOddBufferSizes(t *testing.T) {
	fa, err := NewFrameAssembler(8, 8000)
	require.NoError(t, err)

	var frames []Frame
	emit := func(f Frame) { frames = append(frames, f) }

	sample := float32(0)
	for _, n := range []int{3, 5, 7, 1, 9, 2} {
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = sample
			sample++
		}
		require.NoError(t, fa.Write(buf, emit))
	}

	// 27 samples -> 3 full frames, 3 pending
	require.Len(t, frames, 3)
	assert.Equal(t, 3, fa.Pending())
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Sequence)
		assert.Len(t, f.Samples, 8)
		assert.Equal(t, float64(i*8), f.Samples[0])
		assert.Equal(t, time.Duration(i)*time.Millisecond, f.Offset)
		assert.Equal(t, time.Millisecond, f.Duration())
	}
}

func TestFrameAssemblerSkipsCorruptFrame(t *testing.T) {
	fa, err := NewFrameAssembler(4, 1000)
	require.NoError(t, err)

	var seqs []uint64
	emit := func(f Frame) { seqs = append(seqs, f.Sequence) }

	require.NoError(t, fa.Write([]float32{1, 2, 3, 4}, emit))
	err = fa.Write([]float32{1, float32(math.NaN()), 3, 4}, emit)
	assert.ErrorIs(t, err, ErrCorruptFrame)
	require.NoError(t, fa.Write([]float32{1, 2, 3, 4}, emit))

	assert.Equal(t, []uint64{0, 2}, seqs)
	assert.Equal(t, uint64(1), fa.Corrupted())
}

func TestFrameAssemblerRejectsBadConfig(t *testing.T) {
	_, err := NewFrameAssembler(0, 44100)
	assert.Error(t, err)
	_, err = NewFrameAssembler(2048, 0)
	assert.Error(t, err)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}

func TestParabolicVertex(t *testing.T) {
	// y = (x - 0.3)^2 sampled at -1, 0, 1
	f := func(x float64) float64 { return (x - 0.3) * (x - 0.3) }
	off, val := ParabolicVertex(f(-1), f(0), f(1))
	assert.InDelta(t, 0.3, off, 1e-12)
	assert.InDelta(t, 0.0, val, 1e-12)

	off, val = ParabolicVertex(1, 1, 1)
	assert.Equal(t, 0.0, off)
	assert.Equal(t, 1.0, val)
}

func TestLinRegression(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{3, 5, 7, 9}
	slope, intercept, r2 := LinRegression(x, y)
	assert.InDelta(t, 2.0, slope, 1e-12)
	assert.InDelta(t, 1.0, intercept, 1e-12)
	assert.InDelta(t, 1.0, r2, 1e-12)
}

func TestCentsAndRMS(t *testing.T) {
	assert.InDelta(t, 1200.0, Cents(880, 440), 1e-9)
	assert.InDelta(t, -100.0, Cents(440*math.Pow(2, -1.0/12), 440), 1e-9)
	assert.True(t, math.IsNaN(Cents(0, 440)))

	assert.InDelta(t, 1.0, RMS([]float64{1, -1, 1, -1}), 1e-12)
	out := RemoveDC(nil, []float64{2, 4, 6})
	assert.Equal(t, []float64{-2, 0, 2}, out)
}
