package windowing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHannPeriodicVsSymmetric(t *testing.T) {
	p, err := NewHann(8, false)
	require.NoError(t, err)
	s, err := NewHann(8, true)
	require.NoError(t, err)

	pc := p.Coefficients()
	sc := s.Coefficients()

	assert.InDelta(t, 0.0, pc[0], 1e-12)
	assert.InDelta(t, 1.0, pc[4], 1e-12, "periodic window peaks at N/2")
	assert.InDelta(t, 0.0, sc[7], 1e-12, "symmetric window ends at zero")
	assert.NotEqual(t, 0.0, pc[7])

	// periodic Hann satisfies w[n] + w[n+N/2] = 1
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, pc[i]+pc[i+4], 1e-12)
	}
}

func TestHannApply(t *testing.T) {
	h, err := NewHann(4, false)
	require.NoError(t, err)

	sig := []float64{2, 2, 2, 2}
	require.NoError(t, h.ApplyInPlace(sig))
	assert.InDeltaSlice(t, []float64{0, 1, 2, 1}, sig, 1e-12)
	assert.InDelta(t, 1.5, h.Energy(), 1e-12)

	assert.Error(t, h.ApplyInPlace(make([]float64, 3)))
	_, err = NewHann(1, false)
	assert.Error(t, err)
}
