package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

func obsWith(conf float64, partials ...harmonic.Partial) Observation {
	return Observation{
		Pitch:    tonal.PitchEstimate{Voiced: true, Frequency: 100, Confidence: conf},
		Partials: partials,
	}
}

func TestBestConfidence(t *testing.T) {
	window := []Observation{
		obsWith(0.8, harmonic.Partial{Index: 1, Frequency: 100}),
		obsWith(0.99),
		obsWith(0.95, harmonic.Partial{Index: 1, Frequency: 101}, harmonic.Partial{Index: 2, Frequency: 202}),
		obsWith(0.7, harmonic.Partial{Index: 1, Frequency: 99}),
	}

	got := condense(ProcessBestConfidence, window)
	require.Len(t, got, 2)
	assert.Equal(t, 101.0, got[0].Frequency)

	// the returned slice is a copy
	got[0].Frequency = 0
	assert.Equal(t, 101.0, window[2].Partials[0].Frequency)

	assert.Nil(t, bestConfidence([]Observation{obsWith(0.9)}))
}

func TestAveragePartials(t *testing.T) {
	window := []Observation{
		obsWith(0.9,
			harmonic.Partial{Index: 1, Frequency: 100, Amplitude: 1, Confidence: 1},
			harmonic.Partial{Index: 2, Frequency: 200.4, Amplitude: 0.5, Confidence: 1},
		),
		obsWith(0.9,
			harmonic.Partial{Index: 1, Frequency: 100.2, Amplitude: 3, Confidence: 1},
			harmonic.Partial{Index: 2, Frequency: 200.2, Amplitude: 0.5, Confidence: 1},
			harmonic.Partial{Index: 5, Frequency: 503, Amplitude: 0.1, Confidence: 1},
		),
		obsWith(0.9,
			harmonic.Partial{Index: 1, Frequency: 100.1, Amplitude: 2, Confidence: 1},
			harmonic.Partial{Index: 2, Frequency: 200.3, Amplitude: 0.5, Confidence: 1},
		),
		obsWith(0.9),
	}

	got := condense(ProcessAverage, window)
	require.Len(t, got, 2, "index 5 seen in one of three frames is dropped")

	assert.Equal(t, 1, got[0].Index)
	assert.InDelta(t, 100.1, got[0].Frequency, 1e-9)
	assert.InDelta(t, 2.0, got[0].Amplitude, 1e-9)
	assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)

	assert.Equal(t, 2, got[1].Index)
	assert.InDelta(t, 200.3, got[1].Frequency, 1e-9)

	assert.Nil(t, averagePartials(nil))
}
