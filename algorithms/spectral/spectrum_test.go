package spectral

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

func sine(freq float64, sampleRate, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func TestAnalyzerBinCount(t *testing.T) {
	for _, n := range []int{2048, 4096} {
		plan, err := NewPlan(n)
		require.NoError(t, err)
		a, err := NewAnalyzer(plan)
		require.NoError(t, err)

		snap, err := a.Analyze(common.Frame{Samples: sine(440, 44100, n, 0.5), SampleRate: 44100, Sequence: 3})
		require.NoError(t, err)
		assert.Equal(t, n/2+1, snap.Bins())
		assert.Equal(t, plan.Bins(), snap.Bins())
		assert.Equal(t, uint64(3), snap.Sequence)
		assert.InDelta(t, 44100.0/float64(n), snap.BinWidth, 1e-12)
	}
}

func TestAnalyzerParseval(t *testing.T) {
	const n = 4096
	plan, err := NewPlan(n)
	require.NoError(t, err)
	a, err := NewAnalyzer(plan)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.3*math.Sin(2*math.Pi*261.63*float64(i)/44100) + 0.1*rng.NormFloat64() + 0.05
	}

	conditioned, err := plan.Conditioned(samples)
	require.NoError(t, err)
	timeEnergy := 0.0
	for _, v := range conditioned {
		timeEnergy += v * v
	}

	snap, err := a.Analyze(common.Frame{Samples: samples, SampleRate: 44100})
	require.NoError(t, err)
	assert.InEpsilon(t, timeEnergy, snap.Energy(), 1e-9)
}

func TestAnalyzerPeakAtToneFrequency(t *testing.T) {
	const n = 4096
	plan, err := NewPlan(n)
	require.NoError(t, err)
	a, err := NewAnalyzer(plan)
	require.NoError(t, err)

	snap, err := a.Analyze(common.Frame{Samples: sine(1000, 44100, n, 0.8), SampleRate: 44100})
	require.NoError(t, err)

	peak := snap.PeakBin(0, snap.Bins()-1)
	assert.Equal(t, snap.Bin(1000), peak)
	assert.Greater(t, snap.Magnitudes[peak], 100*snap.MedianMagnitude())
}

func TestAnalyzerErrors(t *testing.T) {
	_, err := NewPlan(7)
	assert.Error(t, err)
	_, err = NewAnalyzer(nil)
	assert.Error(t, err)

	plan, err := NewPlan(2048)
	require.NoError(t, err)
	a, err := NewAnalyzer(plan)
	require.NoError(t, err)

	_, err = a.Analyze(common.Frame{Samples: make([]float64, 1024), SampleRate: 44100})
	assert.Error(t, err)
	_, err = a.Analyze(common.Frame{Samples: make([]float64, 2048), SampleRate: 0})
	assert.Error(t, err)
}
