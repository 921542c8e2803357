package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/capture"
)

// Default reconnection parameters.
const (
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// ReconnectConfig controls how a lost device is reopened.
type ReconnectConfig struct {
	// InitialBackoff is the wait before the first attempt. Doubles each
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`

	// MaxRetries caps the attempts per outage. Zero retries forever.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// Config is everything the pipeline needs to run.
type Config struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate" mapstructure:"sample_rate"`
	FrameSize  int `json:"frame_size" yaml:"frame_size" mapstructure:"frame_size"`

	// QueueCapacity bounds the frames waiting between capture and analysis
	QueueCapacity int `json:"queue_capacity" yaml:"queue_capacity" mapstructure:"queue_capacity"`

	// ProfileBuffer bounds captured profiles waiting for a reader
	ProfileBuffer int `json:"profile_buffer" yaml:"profile_buffer" mapstructure:"profile_buffer"`

	// ReferencePitch is A4 in Hz, used to name notes
	ReferencePitch float64 `json:"reference_pitch" yaml:"reference_pitch" mapstructure:"reference_pitch"`

	Pitch         tonal.PitchDetectionParams    `json:"pitch" yaml:"pitch" mapstructure:"pitch"`
	Partials      harmonic.PartialTrackerParams `json:"partials" yaml:"partials" mapstructure:"partials"`
	Inharmonicity tonal.InharmonicityParams     `json:"inharmonicity" yaml:"inharmonicity" mapstructure:"inharmonicity"`
	Capture       capture.Config                `json:"capture" yaml:"capture" mapstructure:"capture"`
	Reconnect     ReconnectConfig               `json:"reconnect" yaml:"reconnect" mapstructure:"reconnect"`
}

// DefaultConfig returns settings for 44.1 kHz capture in 4096-sample frames.
func DefaultConfig() Config {
	return Config{
		SampleRate:     44100,
		FrameSize:      4096,
		QueueCapacity:  4,
		ProfileBuffer:  16,
		ReferencePitch: tonal.DefaultReferencePitch,
		Pitch:          tonal.DefaultPitchDetectionParams(),
		Partials:       harmonic.DefaultPartialTrackerParams(),
		Inharmonicity:  tonal.DefaultInharmonicityParams(),
		Capture:        capture.DefaultConfig(),
		Reconnect: ReconnectConfig{
			InitialBackoff: defaultBackoff,
			MaxBackoff:     defaultMaxBackoff,
		},
	}
}

// Validate checks the whole configuration and reports every problem found.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be in [8000, 192000], got %d", c.SampleRate))
	}
	if c.FrameSize != 2048 && c.FrameSize != 4096 {
		errs = append(errs, fmt.Errorf("frame_size must be 2048 or 4096, got %d", c.FrameSize))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.ProfileBuffer < 1 {
		errs = append(errs, fmt.Errorf("profile_buffer must be at least 1, got %d", c.ProfileBuffer))
	}
	if c.Reconnect.InitialBackoff <= 0 || c.Reconnect.MaxBackoff < c.Reconnect.InitialBackoff {
		errs = append(errs, fmt.Errorf("reconnect backoff must satisfy 0 < initial (%s) <= max (%s)",
			c.Reconnect.InitialBackoff, c.Reconnect.MaxBackoff))
	}
	if c.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect max_retries must not be negative, got %d", c.Reconnect.MaxRetries))
	}
	if _, err := tonal.NewTuning(c.ReferencePitch); err != nil {
		errs = append(errs, err)
	}
	for _, sub := range []error{
		c.Pitch.Validate(),
		c.Partials.Validate(),
		c.Inharmonicity.Validate(),
		c.Capture.Validate(),
	} {
		if sub != nil {
			errs = append(errs, sub)
		}
	}
	return errors.Join(errs...)
}
