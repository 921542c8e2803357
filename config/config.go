// Package config loads the tuner configuration from defaults, an optional
// YAML file and SONIDO_TUNER_* environment variables, in that order of
// precedence (lowest first). Flags bound by the CLI override all three.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/capture"
	"github.com/RyanBlaney/sonido-tuner/device/synth"
	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
	"github.com/RyanBlaney/sonido-tuner/transcode"
)

// EnvPrefix prefixes every environment override, e.g.
// SONIDO_TUNER_AUDIO_FRAME_SIZE=2048.
const EnvPrefix = "SONIDO_TUNER"

// Device drivers
const (
	DriverPortAudio = "portaudio"
	DriverSynth     = "synth"
	DriverFile      = "file"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text or json

	Audio         AudioConfig                   `mapstructure:"audio"`
	Tuning        TuningConfig                  `mapstructure:"tuning"`
	Pitch         tonal.PitchDetectionParams    `mapstructure:"pitch"`
	Partials      harmonic.PartialTrackerParams `mapstructure:"partials"`
	Inharmonicity tonal.InharmonicityParams     `mapstructure:"inharmonicity"`
	Capture       capture.Config                `mapstructure:"capture"`
	Device        DeviceConfig                  `mapstructure:"device"`
	Decoder       transcode.DecoderConfig       `mapstructure:"decoder"`
	Storage       StorageConfig                 `mapstructure:"storage"`
	Server        ServerConfig                  `mapstructure:"server"`
}

// AudioConfig contains capture framing settings
type AudioConfig struct {
	SampleRate    int `mapstructure:"sample_rate"`
	FrameSize     int `mapstructure:"frame_size"`
	QueueCapacity int `mapstructure:"queue_capacity"`
	ProfileBuffer int `mapstructure:"profile_buffer"`
}

// TuningConfig sets the pitch of A4
type TuningConfig struct {
	ReferencePitch float64 `mapstructure:"reference_pitch"`
}

// DeviceConfig selects and configures the capture driver
type DeviceConfig struct {
	Driver string `mapstructure:"driver"`

	// StallTimeout is how long portaudio may go without a callback before
	// the stream is treated as lost
	StallTimeout time.Duration `mapstructure:"stall_timeout"`

	// File is replayed by the file driver at Pace times real time
	File string  `mapstructure:"file"`
	Pace float64 `mapstructure:"pace"`

	Synth     synth.Config             `mapstructure:"synth"`
	Reconnect pipeline.ReconnectConfig `mapstructure:"reconnect"`
}

// StorageConfig selects where captured profiles are kept
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// ServerConfig contains the snapshot feed and metrics endpoint settings
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Metrics      bool          `mapstructure:"metrics"`
}

// Default returns the built-in configuration
func Default() Config {
	p := pipeline.DefaultConfig()
	home, _ := os.UserHomeDir()
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Audio: AudioConfig{
			SampleRate:    p.SampleRate,
			FrameSize:     p.FrameSize,
			QueueCapacity: p.QueueCapacity,
			ProfileBuffer: p.ProfileBuffer,
		},
		Tuning:        TuningConfig{ReferencePitch: p.ReferencePitch},
		Pitch:         p.Pitch,
		Partials:      p.Partials,
		Inharmonicity: p.Inharmonicity,
		Capture:       p.Capture,
		Device: DeviceConfig{
			Driver:    DriverPortAudio,
			Pace:      1,
			Synth:     synth.DefaultConfig(),
			Reconnect: p.Reconnect,
		},
		Decoder: *transcode.DefaultDecoderConfig(),
		Storage: StorageConfig{
			Backend: StorageFile,
			Path:    filepath.Join(home, ".local", "share", "sonido-tuner", "profiles.yaml"),
			Migrate: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Addr:         "127.0.0.1:8321",
			PollInterval: 46 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			Metrics:      true,
		},
	}
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.frame_size", d.Audio.FrameSize)
	v.SetDefault("audio.queue_capacity", d.Audio.QueueCapacity)
	v.SetDefault("audio.profile_buffer", d.Audio.ProfileBuffer)

	v.SetDefault("tuning.reference_pitch", d.Tuning.ReferencePitch)

	v.SetDefault("pitch.min_freq", d.Pitch.MinFreq)
	v.SetDefault("pitch.max_freq", d.Pitch.MaxFreq)
	v.SetDefault("pitch.threshold", d.Pitch.Threshold)
	v.SetDefault("pitch.min_rms", d.Pitch.MinRMS)

	v.SetDefault("partials.max_partials", d.Partials.MaxPartials)
	v.SetDefault("partials.base_tolerance", d.Partials.BaseTolerance)
	v.SetDefault("partials.max_tolerance", d.Partials.MaxTolerance)
	v.SetDefault("partials.min_bins", d.Partials.MinBins)
	v.SetDefault("partials.noise_floor_ratio", d.Partials.NoiseFloorRatio)

	v.SetDefault("inharmonicity.min_partials", d.Inharmonicity.MinPartials)
	v.SetDefault("inharmonicity.max_plausible_b", d.Inharmonicity.MaxPlausibleB)
	v.SetDefault("inharmonicity.fix_fundamental", d.Inharmonicity.FixFundamental)
	v.SetDefault("inharmonicity.max_iterations", d.Inharmonicity.MaxIterations)

	v.SetDefault("capture.confidence_floor", d.Capture.ConfidenceFloor)
	v.SetDefault("capture.tolerance_cents", d.Capture.ToleranceCents)
	v.SetDefault("capture.min_consecutive", d.Capture.MinConsecutive)
	v.SetDefault("capture.min_stable_duration", d.Capture.MinStableDuration)
	v.SetDefault("capture.max_window", d.Capture.MaxWindow)
	v.SetDefault("capture.processing", string(d.Capture.Processing))
	v.SetDefault("capture.require_release", d.Capture.RequireRelease)

	v.SetDefault("device.driver", d.Device.Driver)
	v.SetDefault("device.stall_timeout", d.Device.StallTimeout)
	v.SetDefault("device.file", d.Device.File)
	v.SetDefault("device.pace", d.Device.Pace)
	v.SetDefault("device.synth.tone.frequency", d.Device.Synth.Tone.Frequency)
	v.SetDefault("device.synth.tone.b", d.Device.Synth.Tone.B)
	v.SetDefault("device.synth.tone.partials", d.Device.Synth.Tone.Partials)
	v.SetDefault("device.synth.tone.amplitude", d.Device.Synth.Tone.Amplitude)
	v.SetDefault("device.synth.tone.decay", d.Device.Synth.Tone.Decay)
	v.SetDefault("device.synth.noise", d.Device.Synth.Noise)
	v.SetDefault("device.synth.seed", d.Device.Synth.Seed)
	v.SetDefault("device.synth.pace", d.Device.Synth.Pace)
	v.SetDefault("device.synth.buffer_size", d.Device.Synth.BufferSize)
	v.SetDefault("device.synth.duration", d.Device.Synth.Duration)
	v.SetDefault("device.reconnect.initial_backoff", d.Device.Reconnect.InitialBackoff)
	v.SetDefault("device.reconnect.max_backoff", d.Device.Reconnect.MaxBackoff)
	v.SetDefault("device.reconnect.max_retries", d.Device.Reconnect.MaxRetries)

	v.SetDefault("decoder.target_sample_rate", d.Decoder.TargetSampleRate)
	v.SetDefault("decoder.max_duration", d.Decoder.MaxDuration)
	v.SetDefault("decoder.ffmpeg_path", d.Decoder.FFmpegPath)
	v.SetDefault("decoder.ffprobe_path", d.Decoder.FFprobePath)
	v.SetDefault("decoder.timeout", d.Decoder.Timeout)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.migrate", d.Storage.Migrate)

	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.poll_interval", d.Server.PollInterval)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.metrics", d.Server.Metrics)
}

// NewViper returns a viper instance with defaults and environment overrides
// registered. When configFile is empty the usual locations are searched for
// tuner.yaml; a missing file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("tuner")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sonido-tuner"))
		}
		v.AddConfigPath("/etc/sonido-tuner")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("config: unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Pipeline extracts the analysis pipeline settings
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		SampleRate:     c.Audio.SampleRate,
		FrameSize:      c.Audio.FrameSize,
		QueueCapacity:  c.Audio.QueueCapacity,
		ProfileBuffer:  c.Audio.ProfileBuffer,
		ReferencePitch: c.Tuning.ReferencePitch,
		Pitch:          c.Pitch,
		Partials:       c.Partials,
		Inharmonicity:  c.Inharmonicity,
		Capture:        c.Capture,
		Reconnect:      c.Device.Reconnect,
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if err := c.Pipeline().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Device.Driver {
	case DriverPortAudio:
	case DriverSynth:
		if err := c.Device.Synth.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("device.synth: %w", err))
		}
	case DriverFile:
		if c.Device.File == "" {
			errs = append(errs, errors.New("device.file is required for the file driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("device.driver must be one of %s, %s, %s; got %q",
			DriverPortAudio, DriverSynth, DriverFile, c.Device.Driver))
	}
	if c.Device.Pace < 0 {
		errs = append(errs, fmt.Errorf("device.pace must not be negative, got %g", c.Device.Pace))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the file backend"))
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of %s, %s, %s; got %q",
			StorageMemory, StorageFile, StoragePostgres, c.Storage.Backend))
	}

	if c.Server.Enabled {
		if c.Server.Addr == "" {
			errs = append(errs, errors.New("server.addr is required when the server is enabled"))
		}
		if c.Server.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("server.poll_interval must be positive, got %s", c.Server.PollInterval))
		}
	}
	if c.Decoder.Timeout < 0 || c.Decoder.MaxDuration < 0 {
		errs = append(errs, errors.New("decoder durations must not be negative"))
	}

	return errors.Join(errs...)
}
