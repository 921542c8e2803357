package windowing

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
)

// Hann represents a Hann window function.
//
// The periodic form (symmetric=false) is the one used for spectral analysis:
// its coefficients tile exactly under a hop of size/2 and it has no repeated
// zero at the end of the frame.
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
	energy       float64
}

// NewHann creates a new Hann window
func NewHann(size int, symmetric bool) (*Hann, error) {
	if size < 2 {
		return nil, fmt.Errorf("hann window size must be at least 2, got %d", size)
	}
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h, nil
}

func (h *Hann) generate() {
	if h.symmetric {
		h.coefficients = window.Hann(h.size)
	} else {
		// periodic window = first size points of a size+1 symmetric window
		h.coefficients = window.Hann(h.size + 1)[:h.size]
	}

	h.energy = 0
	for _, c := range h.coefficients {
		h.energy += c * c
	}
}

// ApplyTo writes signal multiplied by the window into dst.
// dst may alias signal.
func (h *Hann) ApplyTo(dst, signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}
	if len(dst) != h.size {
		return fmt.Errorf("destination length (%d) doesn't match window size (%d)", len(dst), h.size)
	}

	for i, c := range h.coefficients {
		dst[i] = signal[i] * c
	}
	return nil
}

// ApplyInPlace applies the window to a signal in-place
func (h *Hann) ApplyInPlace(signal []float64) error {
	return h.ApplyTo(signal, signal)
}

// Coefficients returns a copy of the window coefficients
func (h *Hann) Coefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}

// Energy returns the sum of squared coefficients.
func (h *Hann) Energy() float64 {
	return h.energy
}

// Size returns the window size
func (h *Hann) Size() int {
	return h.size
}
