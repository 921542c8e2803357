// Package synth is a software capture device that plays a synthetic
// piano-like tone: stretched partials with 1/n amplitudes, optional decay
// and optional white noise.
package synth

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-tuner/device"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
)

// Tone describes the synthetic string.
type Tone struct {
	Frequency float64       `json:"frequency" yaml:"frequency" mapstructure:"frequency"`
	B         float64       `json:"b" yaml:"b" mapstructure:"b"`
	Partials  int           `json:"partials" yaml:"partials" mapstructure:"partials"`
	Amplitude float64       `json:"amplitude" yaml:"amplitude" mapstructure:"amplitude"`
	Decay     time.Duration `json:"decay" yaml:"decay" mapstructure:"decay"` // 0 sustains forever
}

// PartialFrequency returns f_n = n·f0·√(1+B·n²)
func (t Tone) PartialFrequency(n int) float64 {
	fn := float64(n)
	return fn * t.Frequency * math.Sqrt(1+t.B*fn*fn)
}

// Config configures the driver.
type Config struct {
	Tone  Tone    `json:"tone" yaml:"tone" mapstructure:"tone"`
	Noise float64 `json:"noise" yaml:"noise" mapstructure:"noise"` // white noise amplitude
	Seed  uint64  `json:"seed" yaml:"seed" mapstructure:"seed"`

	// Pace is the playback speed relative to real time. Zero means
	// unpaced.
	Pace       float64       `json:"pace" yaml:"pace" mapstructure:"pace"`
	BufferSize int           `json:"buffer_size" yaml:"buffer_size" mapstructure:"buffer_size"`
	Duration   time.Duration `json:"duration" yaml:"duration" mapstructure:"duration"` // 0 plays forever
}

// DefaultConfig returns a real-time A4 with mild inharmonicity.
func DefaultConfig() Config {
	return Config{
		Tone: Tone{
			Frequency: 440,
			B:         4e-4,
			Partials:  8,
			Amplitude: 0.5,
		},
		Noise:      1e-3,
		Seed:       1,
		Pace:       1,
		BufferSize: device.DefaultBufferSize,
	}
}

// Validate checks the tone and playback settings
func (c Config) Validate() error {
	var errs []error
	if c.Tone.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("tone frequency must be positive, got %g", c.Tone.Frequency))
	}
	if c.Tone.B < 0 {
		errs = append(errs, fmt.Errorf("tone B must not be negative, got %g", c.Tone.B))
	}
	if c.Tone.Partials < 1 {
		errs = append(errs, fmt.Errorf("tone needs at least one partial, got %d", c.Tone.Partials))
	}
	if c.Pace < 0 {
		errs = append(errs, fmt.Errorf("pace must not be negative, got %g", c.Pace))
	}
	return errors.Join(errs...)
}

// Voice renders samples of a Tone. It is not safe for concurrent use.
type Voice struct {
	tone       Tone
	sampleRate float64
	freqs      []float64
	amps       []float64
	noise      float64
	rng        *rand.Rand
	n          uint64
	limit      uint64 // 0 means unlimited
}

// NewVoice prepares a voice at sampleRate. Partials at or above 0.45·sr are
// left out.
func NewVoice(cfg Config, sampleRate int) (*Voice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	v := &Voice{
		tone:       cfg.Tone,
		sampleRate: float64(sampleRate),
		noise:      cfg.Noise,
		rng:        rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	for n := 1; n <= cfg.Tone.Partials; n++ {
		f := cfg.Tone.PartialFrequency(n)
		if f >= 0.45*v.sampleRate {
			break
		}
		v.freqs = append(v.freqs, f)
		v.amps = append(v.amps, cfg.Tone.Amplitude/float64(n))
	}
	if cfg.Duration > 0 {
		v.limit = uint64(cfg.Duration.Seconds() * v.sampleRate)
	}
	return v, nil
}

// Fill writes the next samples into buf. It returns io.EOF after Duration.
func (v *Voice) Fill(buf []float32) (int, error) {
	count := len(buf)
	if v.limit > 0 {
		if v.n >= v.limit {
			return 0, io.EOF
		}
		count = int(min(uint64(count), v.limit-v.n))
	}

	for i := range count {
		t := float64(v.n) / v.sampleRate
		env := 1.0
		if v.tone.Decay > 0 {
			env = math.Exp(-t / v.tone.Decay.Seconds())
		}
		var s float64
		for k, f := range v.freqs {
			s += v.amps[k] * math.Sin(2*math.Pi*f*t)
		}
		s *= env
		if v.noise > 0 {
			s += v.noise * (2*v.rng.Float64() - 1)
		}
		buf[i] = float32(s)
		v.n++
	}
	return count, nil
}

// Render returns n samples from a fresh voice.
func Render(cfg Config, sampleRate, n int) ([]float32, error) {
	cfg.Duration = 0
	v, err := NewVoice(cfg, sampleRate)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	_, err = v.Fill(out)
	return out, err
}

// Driver opens synthetic streams. Every stream restarts the tone from t=0.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	current *device.PacedStream
	refuse  int
	opens   int
}

// New creates a driver playing cfg
func New(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = device.DefaultBufferSize
	}
	return &Driver{cfg: cfg}, nil
}

// StartStream implements pipeline.DeviceDriver
func (d *Driver) StartStream(sampleRate, frameSize int, onSamples pipeline.SampleCallback) (pipeline.FrameSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.refuse > 0 {
		d.refuse--
		return nil, device.ErrDisconnected
	}

	v, err := NewVoice(d.cfg, sampleRate)
	if err != nil {
		return nil, err
	}
	d.current = device.StartPaced(v.Fill, onSamples, device.StreamOptions{
		SampleRate: sampleRate,
		BufferSize: d.cfg.BufferSize,
		Pace:       d.cfg.Pace,
	})
	return d.current, nil
}

// Disconnect fails the running stream, then refuses the next refuse opens.
func (d *Driver) Disconnect(refuse int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = refuse
	if d.current != nil {
		d.current.Fail(device.ErrDisconnected)
	}
}

// Opens returns how many times StartStream was called
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}
