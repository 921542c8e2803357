package tonal

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
)

func stiffString(f0, b float64, indices ...int) []harmonic.Partial {
	out := make([]harmonic.Partial, 0, len(indices))
	for _, n := range indices {
		fn := float64(n)
		out = append(out, harmonic.Partial{
			Index:      n,
			Frequency:  fn * f0 * math.Sqrt(1+b*fn*fn),
			Amplitude:  1 / fn,
			Confidence: 0.9,
		})
	}
	return out
}

func newEstimator(t *testing.T, params InharmonicityParams) *InharmonicityEstimator {
	t.Helper()
	e, err := NewInharmonicityEstimator(params, nil)
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestEstimateRecoversB(t *testing.T) {
	tests := []struct {
		name    string
		f0, b   float64
		indices []int
	}{
		{"bass string", 55.0, 0.00015, []int{1, 2, 3, 4, 5, 6, 7, 8}},
		{"tenor string", 220.0, 0.0004, []int{1, 2, 3, 4}},
		{"treble with gaps", 880.0, 0.004, []int{1, 2, 4, 5}},
	}

	e := newEstimator(t, DefaultInharmonicityParams())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partials := stiffString(tt.f0, tt.b, tt.indices...)
			measured := partials[0].Frequency

			prof, err := e.Estimate(partials, measured)
			require.NoError(t, err)

			assert.InEpsilon(t, tt.b, prof.B, 0.01)
			assert.InEpsilon(t, tt.f0, prof.F0, 1e-6)
			assert.True(t, prof.Plausible)
			assert.Less(t, prof.ResidualCents, 0.01)
			assert.Greater(t, prof.Confidence, 0.99)
			assert.Len(t, prof.Partials, len(tt.indices))
			assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), prof.CreatedAt)
		})
	}
}

func TestEstimateWithMeasurementNoise(t *testing.T) {
	e := newEstimator(t, DefaultInharmonicityParams())

	partials := stiffString(261.63, 0.002, 1, 2, 3, 4, 5, 6)
	jitter := []float64{0.01, -0.01, 0.005, -0.005, 0.01, -0.01}
	for i := range partials {
		partials[i].Frequency += jitter[i]
	}

	prof, err := e.Estimate(partials, partials[0].Frequency)
	require.NoError(t, err)
	assert.InEpsilon(t, 0.002, prof.B, 0.01)
	assert.Equal(t, "C4", prof.Note.Name)
	assert.Equal(t, "Moderate", prof.Classification())
}

func TestEstimateInsufficientPartials(t *testing.T) {
	e := newEstimator(t, DefaultInharmonicityParams())

	_, err := e.Estimate(stiffString(110, 0.0003, 1, 2), 110)
	require.ErrorIs(t, err, ErrInsufficientPartials)

	// duplicates and invalid entries do not count
	partials := stiffString(110, 0.0003, 1, 2)
	partials = append(partials, harmonic.Partial{Index: 2, Frequency: 221}, harmonic.Partial{Index: 3, Frequency: math.NaN()})
	_, err = e.Estimate(partials, 110)
	assert.ErrorIs(t, err, ErrInsufficientPartials)
}

func TestEstimateFlagsImplausibleB(t *testing.T) {
	e := newEstimator(t, DefaultInharmonicityParams())

	prof, err := e.Estimate(stiffString(110, -0.001, 1, 2, 3, 4, 5), 110)
	require.NoError(t, err)
	assert.InEpsilon(t, -0.001, prof.B, 0.01)
	assert.False(t, prof.Plausible)
}

func TestEstimateSeedOutsideModelDomain(t *testing.T) {
	e := newEstimator(t, DefaultInharmonicityParams())

	// the linear seed for these partials puts 1+B*25 below zero
	partials := []harmonic.Partial{
		{Index: 1, Frequency: 100},
		{Index: 2, Frequency: 101},
		{Index: 5, Frequency: 102},
	}
	prof, err := e.Estimate(partials, 100)
	require.NoError(t, err)

	for name, v := range map[string]float64{
		"f0":             prof.F0,
		"b":              prof.B,
		"residual":       prof.Residual,
		"residual_cents": prof.ResidualCents,
		"confidence":     prof.Confidence,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s = %g", name, v)
	}
	assert.Greater(t, 1+prof.B*25, 0.0)
	assert.False(t, prof.Plausible)

	_, err = json.Marshal(prof)
	assert.NoError(t, err)
}

func TestFitResidualsRejectsNonFinite(t *testing.T) {
	ns := []float64{1, 2, 5}
	fs := []float64{100, 101, 102}

	_, _, err := fitResiduals(ns, fs, 100, -0.05)
	assert.ErrorIs(t, err, ErrFitDiverged)

	_, _, err = fitResiduals(ns, fs, math.NaN(), 0)
	assert.ErrorIs(t, err, ErrFitDiverged)

	_, _, err = fitResiduals(ns, fs, 100, 0)
	assert.NoError(t, err)
}

func TestEstimateFixedFundamental(t *testing.T) {
	params := DefaultInharmonicityParams()
	params.FixFundamental = true
	e := newEstimator(t, params)

	prof, err := e.Estimate(stiffString(440, 0.001, 1, 2, 3, 4, 5), 440)
	require.NoError(t, err)
	assert.Equal(t, 440.0, prof.F0)
	assert.InEpsilon(t, 0.001, prof.B, 0.01)
	assert.Equal(t, "A4", prof.Note.Name)
	assert.InDelta(t, prof.Partials[2].Frequency, prof.PartialFrequency(3), 1e-6)

	_, err = e.Estimate(stiffString(440, 0.001, 1, 2, 3), 0)
	assert.Error(t, err)
}

func TestInharmonicityParamsValidate(t *testing.T) {
	p := DefaultInharmonicityParams()
	p.MinPartials = 2
	_, err := NewInharmonicityEstimator(p, nil)
	assert.Error(t, err)
}
