package transcode

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-tuner/logging"
)

// ErrNoAudio is returned when a source decodes to zero samples.
var ErrNoAudio = errors.New("no audio samples decoded")

// Audio is a decoded mono recording.
type Audio struct {
	Samples    []float64     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"` // channels in the source before downmix
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source"`
	Codec      string        `json:"codec,omitempty"`
}

// Float32 returns the samples as float32, the format capture devices deliver.
func (a *Audio) Float32() []float32 {
	out := make([]float32, len(a.Samples))
	for i, v := range a.Samples {
		out[i] = float32(v)
	}
	return out
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	// TargetSampleRate is the rate ffmpeg resamples to. Zero keeps the
	// source rate. WAV files are never resampled.
	TargetSampleRate int           `json:"target_sample_rate" yaml:"target_sample_rate" mapstructure:"target_sample_rate"`
	MaxDuration      time.Duration `json:"max_duration" yaml:"max_duration" mapstructure:"max_duration"`
	FFmpegPath       string        `json:"ffmpeg_path" yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath      string        `json:"ffprobe_path" yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 44100,
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		Timeout:          30 * time.Second,
	}
}

// Decoder turns recordings into mono float samples. WAV is read natively;
// everything else goes through FFmpeg.
type Decoder struct {
	config *DecoderConfig
	logger logging.Logger
}

// AudioMetadata holds detected audio properties from FFprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
	Bitrate    int     `json:"bitrate"`
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{
		config: config,
		logger: logging.WithFields(logging.Fields{"component": "audio_decoder"}),
	}
}

// DecodeFile decodes filename to mono samples.
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*Audio, error) {
	logger := d.logger.WithFields(logging.Fields{"filename": filename})

	if strings.EqualFold(filepath.Ext(filename), ".wav") {
		logger.Debug("Decoding WAV natively")
		audio, err := DecodeWAVFile(filename)
		if err != nil {
			return nil, err
		}
		return d.truncate(audio), nil
	}

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	metadata, err := d.probe(ctx, filename)
	if err != nil {
		logger.Error(err, "Failed to probe audio file")
		return nil, err
	}
	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
	})

	return d.decodeWithFFmpeg(ctx, filename, metadata)
}

func (d *Decoder) truncate(a *Audio) *Audio {
	if d.config.MaxDuration <= 0 {
		return a
	}
	limit := int(d.config.MaxDuration.Seconds() * float64(a.SampleRate))
	if limit < len(a.Samples) {
		a.Samples = a.Samples[:limit]
		a.Duration = durationOf(len(a.Samples), a.SampleRate)
	}
	return a
}

func (d *Decoder) probe(ctx context.Context, filename string) (*AudioMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0",
		filename,
	}

	output, err := exec.CommandContext(ctx, d.config.FFprobePath, args...).Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseFFprobeOutput(output)
}

// parseFFprobeOutput extracts the first audio stream from ffprobe JSON
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, errors.New("no audio stream found")
	}

	s := probe.Streams[0]
	md := &AudioMetadata{
		Codec:    s.CodecName,
		Channels: s.Channels,
	}
	// ffprobe reports numbers as strings; missing fields stay zero
	md.SampleRate, _ = strconv.Atoi(s.SampleRate)
	md.Bitrate, _ = strconv.Atoi(s.BitRate)
	md.Duration, _ = strconv.ParseFloat(s.Duration, 64)
	if md.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %q in ffprobe output", s.SampleRate)
	}
	return md, nil
}

func (d *Decoder) ffmpegArgs(filename string, sampleRate int) []string {
	args := []string{"-v", "error", "-i", filename}
	if d.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", d.config.MaxDuration.Seconds()))
	}
	return append(args,
		"-map", "0:a:0",
		"-vn",
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	)
}

func (d *Decoder) decodeWithFFmpeg(ctx context.Context, filename string, metadata *AudioMetadata) (*Audio, error) {
	sampleRate := d.config.TargetSampleRate
	if sampleRate <= 0 {
		sampleRate = metadata.SampleRate
	}
	args := d.ffmpegArgs(filename, sampleRate)

	d.logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	start := time.Now()
	output, err := exec.CommandContext(ctx, d.config.FFmpegPath, args...).Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			d.logger.Error(err, "Ffmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	samples := bytesToFloat64(output)
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	d.logger.Debug("FFmpeg decode completed", logging.Fields{
		"samples":     len(samples),
		"decode_time": time.Since(start).Seconds(),
	})

	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   metadata.Channels,
		Duration:   durationOf(len(samples), sampleRate),
		Source:     filename,
		Codec:      metadata.Codec,
	}, nil
}

// bytesToFloat64 reads little-endian float64 samples, ignoring a trailing
// partial sample.
func bytesToFloat64(data []byte) []float64 {
	n := len(data) / 8
	if n == 0 {
		return nil
	}
	samples := make([]float64, n)
	for i := range n {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	return samples
}

func durationOf(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
