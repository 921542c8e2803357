package spectral

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/windowing"
)

// Plan owns everything a real transform of one fixed length needs: the
// gonum FFT work tables, the analysis window and scratch buffers.
//
// A Plan is created once by whoever runs the analysis and handed to the
// Analyzer. It is not safe for concurrent use; give each analysis goroutine
// its own.
type Plan struct {
	size    int
	fft     *fourier.FFT
	window  *windowing.Hann
	scratch []float64
	coeffs  []complex128
}

// NewPlan prepares a transform for frames of exactly size samples.
func NewPlan(size int) (*Plan, error) {
	if size < 4 || size%2 != 0 {
		return nil, fmt.Errorf("transform size must be even and at least 4, got %d", size)
	}

	win, err := windowing.NewHann(size, false)
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis window: %w", err)
	}

	return &Plan{
		size:    size,
		fft:     fourier.NewFFT(size),
		window:  win,
		scratch: make([]float64, size),
		coeffs:  make([]complex128, size/2+1),
	}, nil
}

// Size returns the frame length the plan was built for
func (p *Plan) Size() int {
	return p.size
}

// Bins returns the number of one-sided frequency bins, size/2+1
func (p *Plan) Bins() int {
	return p.size/2 + 1
}

// Window returns the analysis window applied before the transform
func (p *Plan) Window() *windowing.Hann {
	return p.window
}

// transform removes the DC offset, applies the window and computes the
// one-sided spectrum of x. The returned slice is owned by the plan and is
// overwritten by the next call.
func (p *Plan) transform(x []float64) ([]complex128, error) {
	if len(x) != p.size {
		return nil, fmt.Errorf("frame length (%d) doesn't match plan size (%d)", len(x), p.size)
	}

	common.RemoveDC(p.scratch, x)

	if err := p.window.ApplyInPlace(p.scratch); err != nil {
		return nil, err
	}

	return p.fft.Coefficients(p.coeffs, p.scratch), nil
}

// Conditioned returns a copy of x after DC removal and windowing, which is
// exactly the sequence the transform sees.
func (p *Plan) Conditioned(x []float64) ([]float64, error) {
	if _, err := p.transform(x); err != nil {
		return nil, err
	}
	out := make([]float64, p.size)
	copy(out, p.scratch)
	return out, nil
}
