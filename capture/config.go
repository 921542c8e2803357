package capture

import (
	"errors"
	"fmt"
	"time"
)

// Processing selects how the partials of a stable window are condensed
// into the set handed to the inharmonicity fit.
type Processing string

const (
	// ProcessAverage takes, per partial index, the median frequency over the
	// frames where it was found.
	ProcessAverage Processing = "average"

	// ProcessBestConfidence uses the partials of the single frame with the
	// most confident pitch estimate.
	ProcessBestConfidence Processing = "best_confidence"
)

// Config holds the stability criteria of the capture state machine.
type Config struct {
	// ConfidenceFloor is the minimum pitch confidence an estimate needs to count
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor" mapstructure:"confidence_floor"`

	// ToleranceCents is the allowed distance from the running mean pitch
	ToleranceCents float64 `json:"tolerance_cents" yaml:"tolerance_cents" mapstructure:"tolerance_cents"`

	// MinConsecutive in-tolerance estimates move Listening to Stabilizing
	MinConsecutive int `json:"min_consecutive" yaml:"min_consecutive" mapstructure:"min_consecutive"`

	// MinStableDuration of stream time must pass before a capture
	MinStableDuration time.Duration `json:"min_stable_duration" yaml:"min_stable_duration" mapstructure:"min_stable_duration"`

	// MaxWindow bounds the number of observations retained per session
	MaxWindow int `json:"max_window" yaml:"max_window" mapstructure:"max_window"`

	Processing Processing `json:"processing" yaml:"processing" mapstructure:"processing"`

	// RequireRelease ignores new notes after a capture until the signal
	// drops out once, so a sustained note is captured only once.
	RequireRelease bool `json:"require_release" yaml:"require_release" mapstructure:"require_release"`
}

// DefaultConfig returns the standard stability criteria
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor:   0.5,
		ToleranceCents:    3.0,
		MinConsecutive:    5,
		MinStableDuration: time.Second,
		MaxWindow:         64,
		Processing:        ProcessAverage,
		RequireRelease:    true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	var errs []error
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("confidence_floor must be in [0, 1], got %g", c.ConfidenceFloor))
	}
	if c.ToleranceCents <= 0 {
		errs = append(errs, fmt.Errorf("tolerance_cents must be positive, got %g", c.ToleranceCents))
	}
	if c.MinConsecutive < 1 {
		errs = append(errs, fmt.Errorf("min_consecutive must be at least 1, got %d", c.MinConsecutive))
	}
	if c.MinStableDuration <= 0 {
		errs = append(errs, fmt.Errorf("min_stable_duration must be positive, got %s", c.MinStableDuration))
	}
	if c.MaxWindow < c.MinConsecutive {
		errs = append(errs, fmt.Errorf("max_window (%d) must be at least min_consecutive (%d)", c.MaxWindow, c.MinConsecutive))
	}
	switch c.Processing {
	case ProcessAverage, ProcessBestConfidence:
	default:
		errs = append(errs, fmt.Errorf("unknown processing strategy %q", c.Processing))
	}
	return errors.Join(errs...)
}
