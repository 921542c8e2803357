package harmonic

import (
	"errors"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/spectral"
)

// Partial is one measured overtone of a struck string.
type Partial struct {
	Index      int     `json:"index" yaml:"index"`           // 1 = fundamental
	Frequency  float64 `json:"frequency" yaml:"frequency"`   // Hz, sub-bin refined
	Amplitude  float64 `json:"amplitude" yaml:"amplitude"`   // interpolated peak magnitude
	Confidence float64 `json:"confidence" yaml:"confidence"` // 1 - noise floor / peak
}

// PartialTrackerParams controls where and how partials are searched for.
type PartialTrackerParams struct {
	MaxPartials int `json:"max_partials" yaml:"max_partials" mapstructure:"max_partials"`

	// Search half-width for partial n is f0*min(MaxTolerance, BaseTolerance*n)
	// so windows widen with n to follow the stretch of a stiff string.
	BaseTolerance float64 `json:"base_tolerance" yaml:"base_tolerance" mapstructure:"base_tolerance"`
	MaxTolerance  float64 `json:"max_tolerance" yaml:"max_tolerance" mapstructure:"max_tolerance"`

	// MinBins is the smallest half-width, in bins, of any search window
	MinBins int `json:"min_bins" yaml:"min_bins" mapstructure:"min_bins"`

	// A peak must exceed NoiseFloorRatio times the median magnitude
	NoiseFloorRatio float64 `json:"noise_floor_ratio" yaml:"noise_floor_ratio" mapstructure:"noise_floor_ratio"`
}

// DefaultPartialTrackerParams returns the standard search settings
func DefaultPartialTrackerParams() PartialTrackerParams {
	return PartialTrackerParams{
		MaxPartials:     8,
		BaseTolerance:   0.03,
		MaxTolerance:    0.45,
		MinBins:         2,
		NoiseFloorRatio: 4.0,
	}
}

// Validate checks the parameter ranges
func (p PartialTrackerParams) Validate() error {
	var errs []error
	if p.MaxPartials < 1 {
		errs = append(errs, fmt.Errorf("max_partials must be at least 1, got %d", p.MaxPartials))
	}
	if p.BaseTolerance <= 0 {
		errs = append(errs, fmt.Errorf("base_tolerance must be positive, got %g", p.BaseTolerance))
	}
	if p.MaxTolerance <= 0 || p.MaxTolerance >= 0.5 {
		errs = append(errs, fmt.Errorf("max_tolerance must be in (0, 0.5), got %g", p.MaxTolerance))
	}
	if p.MinBins < 1 {
		errs = append(errs, fmt.Errorf("min_bins must be at least 1, got %d", p.MinBins))
	}
	if p.NoiseFloorRatio < 1 {
		errs = append(errs, fmt.Errorf("noise_floor_ratio must be at least 1, got %g", p.NoiseFloorRatio))
	}
	return errors.Join(errs...)
}

// Tracker locates the partials of a known fundamental in a spectrum.
// It holds no per-call state and is safe for concurrent use.
type Tracker struct {
	params PartialTrackerParams
}

// NewTracker creates a partial tracker
func NewTracker(params PartialTrackerParams) (*Tracker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{params: params}, nil
}

// Params returns the tracker parameters
func (t *Tracker) Params() PartialTrackerParams {
	return t.params
}

// Track returns the partials of f0 found in snap, ordered by index with
// strictly increasing frequency. Missing partials are left out.
func (t *Tracker) Track(snap *spectral.Snapshot, f0 float64) []Partial {
	if snap == nil || snap.Bins() < 3 || !(f0 > 0) || snap.BinWidth <= 0 {
		return nil
	}

	mags := snap.Magnitudes
	nyquist := snap.Frequency(snap.Bins() - 1)
	floor := snap.MedianMagnitude()
	threshold := floor * t.params.NoiseFloorRatio

	partials := make([]Partial, 0, t.params.MaxPartials)
	lastFreq := 0.0

	for n := 1; n <= t.params.MaxPartials; n++ {
		center := float64(n) * f0
		halfWidth := f0 * math.Min(t.params.MaxTolerance, t.params.BaseTolerance*float64(n))
		halfWidth = math.Max(halfWidth, float64(t.params.MinBins)*snap.BinWidth)

		if center-halfWidth >= nyquist {
			break
		}

		lo := int(math.Ceil((center - halfWidth) / snap.BinWidth))
		hi := int(math.Floor((center + halfWidth) / snap.BinWidth))
		lo = max(lo, 1)
		hi = min(hi, snap.Bins()-2)
		if lo > hi {
			continue
		}

		k := snap.PeakBin(lo, hi)
		peak := mags[k]
		if !(peak > mags[k-1] && peak >= mags[k+1]) {
			continue
		}
		if peak <= threshold {
			continue
		}

		freq, amp := refinePeak(mags, k, snap.BinWidth)
		if freq <= lastFreq {
			continue
		}

		conf := 1.0
		if amp > 0 {
			conf = common.Clamp(1-floor/amp, 0, 1)
		}

		partials = append(partials, Partial{
			Index:      n,
			Frequency:  freq,
			Amplitude:  amp,
			Confidence: conf,
		})
		lastFreq = freq
	}

	return partials
}

// refinePeak interpolates the peak at bin k on a log-magnitude parabola,
// which is close to exact for the Gaussian-like main lobe of a Hann window.
func refinePeak(mags []float64, k int, binWidth float64) (freq, amp float64) {
	const tiny = 1e-300
	l := math.Log(mags[k-1] + tiny)
	c := math.Log(mags[k] + tiny)
	r := math.Log(mags[k+1] + tiny)

	offset, logPeak := common.ParabolicVertex(l, c, r)
	return (float64(k) + offset) * binWidth, math.Exp(logPeak)
}
