package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

// Snapshot is the magnitude spectrum of one frame. It is never mutated
// after Analyze returns.
type Snapshot struct {
	Sequence   uint64    `json:"sequence"`
	SampleRate int       `json:"sample_rate"`
	FrameSize  int       `json:"frame_size"`
	BinWidth   float64   `json:"bin_width"`
	Magnitudes []float64 `json:"magnitudes"`
}

// Bins returns the number of frequency bins
func (s *Snapshot) Bins() int {
	return len(s.Magnitudes)
}

// Frequency returns the centre frequency of bin k in Hz
func (s *Snapshot) Frequency(k int) float64 {
	return float64(k) * s.BinWidth
}

// Bin returns the bin nearest to freq, clamped to the valid range
func (s *Snapshot) Bin(freq float64) int {
	if s.BinWidth <= 0 {
		return 0
	}
	k := int(math.Round(freq / s.BinWidth))
	if k < 0 {
		return 0
	}
	if k >= len(s.Magnitudes) {
		return len(s.Magnitudes) - 1
	}
	return k
}

// Energy returns the time-domain energy of the conditioned frame recovered
// from the one-sided spectrum (Parseval). DC and Nyquist bins count once,
// every other bin stands for itself and its mirror image.
func (s *Snapshot) Energy() float64 {
	n := len(s.Magnitudes)
	if n == 0 || s.FrameSize == 0 {
		return 0
	}

	sq := make([]float64, n)
	floats.MulTo(sq, s.Magnitudes, s.Magnitudes)

	total := 2 * floats.Sum(sq)
	total -= sq[0]
	if s.FrameSize%2 == 0 {
		total -= sq[n-1]
	}
	return total / float64(s.FrameSize)
}

// PeakBin returns the bin with the largest magnitude in [lo, hi].
func (s *Snapshot) PeakBin(lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi >= len(s.Magnitudes) {
		hi = len(s.Magnitudes) - 1
	}
	if lo > hi {
		return -1
	}
	return lo + floats.MaxIdx(s.Magnitudes[lo:hi+1])
}

// MedianMagnitude returns the median bin magnitude, used as a noise floor
func (s *Snapshot) MedianMagnitude() float64 {
	return common.Median(s.Magnitudes)
}

// Analyzer turns frames into magnitude spectra using a caller-owned Plan.
// It keeps no state between calls apart from the plan.
type Analyzer struct {
	plan *Plan
}

// NewAnalyzer creates an analyzer bound to plan
func NewAnalyzer(plan *Plan) (*Analyzer, error) {
	if plan == nil {
		return nil, errors.New("spectrum analyzer requires a plan")
	}
	return &Analyzer{plan: plan}, nil
}

// Plan returns the transform plan in use
func (a *Analyzer) Plan() *Plan {
	return a.plan
}

// Analyze computes the windowed magnitude spectrum of frame.
func (a *Analyzer) Analyze(frame common.Frame) (*Snapshot, error) {
	if frame.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", frame.SampleRate)
	}

	coeffs, err := a.plan.transform(frame.Samples)
	if err != nil {
		return nil, fmt.Errorf("spectrum of frame %d: %w", frame.Sequence, err)
	}

	mags := make([]float64, len(coeffs))
	for k, c := range coeffs {
		mags[k] = cmplx.Abs(c)
	}

	return &Snapshot{
		Sequence:   frame.Sequence,
		SampleRate: frame.SampleRate,
		FrameSize:  a.plan.size,
		BinWidth:   float64(frame.SampleRate) / float64(a.plan.size),
		Magnitudes: mags,
	}, nil
}
