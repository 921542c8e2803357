package tonal

import (
	"errors"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

// PitchEstimate is the fundamental frequency found in one frame.
// When Voiced is false no periodicity was found and the other fields are
// zero; that is an ordinary outcome, not an error.
type PitchEstimate struct {
	Sequence   uint64  `json:"sequence"`
	Voiced     bool    `json:"voiced"`
	Frequency  float64 `json:"frequency"`  // Hz
	Confidence float64 `json:"confidence"` // 1 - CMNDF at the chosen lag
	Period     float64 `json:"period"`     // refined lag in samples
}

// PitchDetectionParams contains parameters for YIN pitch detection
type PitchDetectionParams struct {
	// Frequency range constraints
	MinFreq float64 `json:"min_freq" yaml:"min_freq" mapstructure:"min_freq"` // Lowest detectable pitch (Hz)
	MaxFreq float64 `json:"max_freq" yaml:"max_freq" mapstructure:"max_freq"` // Highest detectable pitch (Hz)

	// Threshold is the absolute CMNDF threshold (YIN step 4)
	Threshold float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`

	// MinRMS gates out frames too quiet to analyse
	MinRMS float64 `json:"min_rms" yaml:"min_rms" mapstructure:"min_rms"`
}

// DefaultPitchDetectionParams covers the full piano range, A0 (27.5 Hz) to C8 (4186 Hz).
func DefaultPitchDetectionParams() PitchDetectionParams {
	return PitchDetectionParams{
		MinFreq:   27.0,
		MaxFreq:   4200.0,
		Threshold: 0.1,
		MinRMS:    1e-4,
	}
}

// Validate checks the parameter ranges
func (p PitchDetectionParams) Validate() error {
	var errs []error
	if p.MinFreq <= 0 {
		errs = append(errs, fmt.Errorf("min_freq must be positive, got %g", p.MinFreq))
	}
	if p.MaxFreq <= p.MinFreq {
		errs = append(errs, fmt.Errorf("max_freq (%g) must exceed min_freq (%g)", p.MaxFreq, p.MinFreq))
	}
	if p.Threshold <= 0 || p.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold must be in (0, 1), got %g", p.Threshold))
	}
	if p.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("min_rms must not be negative, got %g", p.MinRMS))
	}
	return errors.Join(errs...)
}

// PitchDetector estimates the fundamental of a frame with the YIN method:
// difference function, cumulative mean normalisation, absolute threshold
// and parabolic refinement of the chosen lag.
//
// The detector reuses internal buffers and is not safe for concurrent use.
type PitchDetector struct {
	params PitchDetectionParams
	diff   []float64
	cmndf  []float64
}

// NewPitchDetector creates a detector with default parameters
func NewPitchDetector() *PitchDetector {
	pd, _ := NewPitchDetectorWithParams(DefaultPitchDetectionParams())
	return pd
}

// NewPitchDetectorWithParams creates a detector with custom parameters
func NewPitchDetectorWithParams(params PitchDetectionParams) (*PitchDetector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &PitchDetector{params: params}, nil
}

// Params returns the detector parameters
func (pd *PitchDetector) Params() PitchDetectionParams {
	return pd.params
}

func (pd *PitchDetector) ensureBuffers(n int) {
	if cap(pd.diff) < n {
		pd.diff = make([]float64, n)
		pd.cmndf = make([]float64, n)
	}
	pd.diff = pd.diff[:n]
	pd.cmndf = pd.cmndf[:n]
}

// lagRange returns the lag search bounds for a frame of n samples.
func (pd *PitchDetector) lagRange(n int, sampleRate float64) (tauMin, tauMax int) {
	tauMin = int(math.Floor(sampleRate / pd.params.MaxFreq))
	if tauMin < 2 {
		tauMin = 2
	}
	tauMax = int(math.Ceil(sampleRate / pd.params.MinFreq))
	if tauMax > n/2 {
		tauMax = n / 2
	}
	return tauMin, tauMax
}

// Detect runs YIN on frame. An error is returned only for malformed input.
func (pd *PitchDetector) Detect(frame common.Frame) (PitchEstimate, error) {
	est := PitchEstimate{Sequence: frame.Sequence}

	x := frame.Samples
	n := len(x)
	if n < 8 {
		return est, fmt.Errorf("frame too short for pitch detection: %d samples", n)
	}
	if frame.SampleRate <= 0 {
		return est, fmt.Errorf("invalid sample rate %d", frame.SampleRate)
	}

	if common.RMS(x) < pd.params.MinRMS {
		return est, nil
	}

	sr := float64(frame.SampleRate)
	tauMin, tauMax := pd.lagRange(n, sr)
	if tauMin+1 >= tauMax {
		return est, nil
	}

	// integration window; every lag compares the same number of samples
	w := n - tauMax

	pd.ensureBuffers(tauMax + 1)
	diff, cmndf := pd.diff, pd.cmndf

	diff[0] = 0
	for tau := 1; tau <= tauMax; tau++ {
		sum := 0.0
		shifted := x[tau : tau+w]
		for j, v := range x[:w] {
			d := v - shifted[j]
			sum += d * d
		}
		diff[tau] = sum
	}

	cmndf[0] = 1
	running := 0.0
	for tau := 1; tau <= tauMax; tau++ {
		running += diff[tau]
		if running <= 0 {
			cmndf[tau] = 1
			continue
		}
		cmndf[tau] = diff[tau] * float64(tau) / running
	}

	tau := -1
	for t := tauMin; t < tauMax; t++ {
		if cmndf[t] < pd.params.Threshold {
			// descend to the bottom of this dip
			for t+1 < tauMax && cmndf[t+1] < cmndf[t] {
				t++
			}
			tau = t
			break
		}
	}
	if tau < 0 {
		return est, nil
	}

	offset, minVal := common.ParabolicVertex(cmndf[tau-1], cmndf[tau], cmndf[tau+1])
	period := float64(tau) + offset
	if period <= 0 {
		return est, nil
	}

	freq := sr / period
	if freq < pd.params.MinFreq || freq > pd.params.MaxFreq {
		return est, nil
	}

	est.Voiced = true
	est.Frequency = freq
	est.Period = period
	est.Confidence = common.Clamp(1-minVal, 0, 1)
	return est, nil
}
