// Package file replays a decoded recording as if it were a live device.
package file

import (
	"context"
	"fmt"
	"io"

	"github.com/RyanBlaney/sonido-tuner/device"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
	"github.com/RyanBlaney/sonido-tuner/transcode"
)

// Driver plays the same recording on every stream it opens. The stream
// reports io.EOF when the recording ends.
type Driver struct {
	audio      *transcode.Audio
	samples    []float32
	pace       float64
	bufferSize int
}

// New wraps decoded audio. pace is the playback speed (1 = real time,
// 0 = as fast as possible).
func New(audio *transcode.Audio, pace float64) (*Driver, error) {
	if audio == nil || len(audio.Samples) == 0 {
		return nil, transcode.ErrNoAudio
	}
	if pace < 0 {
		return nil, fmt.Errorf("pace must not be negative, got %g", pace)
	}
	return &Driver{
		audio:      audio,
		samples:    audio.Float32(),
		pace:       pace,
		bufferSize: device.DefaultBufferSize,
	}, nil
}

// Open decodes filename and wraps it.
func Open(ctx context.Context, dec *transcode.Decoder, filename string, pace float64) (*Driver, error) {
	audio, err := dec.DecodeFile(ctx, filename)
	if err != nil {
		return nil, err
	}
	return New(audio, pace)
}

// SampleRate returns the recording's sample rate
func (d *Driver) SampleRate() int {
	return d.audio.SampleRate
}

// StartStream implements pipeline.DeviceDriver. The recording must already
// be at sampleRate.
func (d *Driver) StartStream(sampleRate, frameSize int, onSamples pipeline.SampleCallback) (pipeline.FrameSource, error) {
	if sampleRate != d.audio.SampleRate {
		return nil, fmt.Errorf("recording is %d Hz, stream wants %d Hz", d.audio.SampleRate, sampleRate)
	}

	pos := 0
	gen := func(buf []float32) (int, error) {
		if pos >= len(d.samples) {
			return 0, io.EOF
		}
		n := copy(buf, d.samples[pos:])
		pos += n
		return n, nil
	}
	return device.StartPaced(gen, onSamples, device.StreamOptions{
		SampleRate: sampleRate,
		BufferSize: d.bufferSize,
		Pace:       d.pace,
	}), nil
}
