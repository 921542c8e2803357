package transcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mjibson/go-dsp/wav"
)

const wavChunk = 8192

// DecodeWAVFile reads a PCM or IEEE-float WAV file and downmixes it to mono.
func DecodeWAVFile(filename string) (*Audio, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	audio, err := DecodeWAV(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	audio.Source = filename
	return audio, nil
}

// DecodeWAV reads a WAV stream and downmixes it to mono. Integer PCM is
// mapped to [-1, 1].
func DecodeWAV(r io.Reader) (*Audio, error) {
	w, err := wav.New(r)
	if err != nil {
		return nil, err
	}
	channels := int(w.NumChannels)
	if channels < 1 {
		return nil, errors.New("wav: no channels")
	}
	if w.SampleRate == 0 {
		return nil, errors.New("wav: zero sample rate")
	}

	// go-dsp maps integer PCM onto [0, 1]
	pcm := w.AudioFormat == 1
	total := w.Samples - w.Samples%channels
	mono := make([]float64, 0, total/channels)

	for read := 0; read < total; {
		n := min(wavChunk-wavChunk%channels, total-read)
		chunk, err := w.ReadFloats(n)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				break // truncated file; keep what was read
			}
			return nil, err
		}
		for i := 0; i+channels <= len(chunk); i += channels {
			var sum float64
			for c := range channels {
				v := float64(chunk[i+c])
				if pcm {
					v = v*2 - 1
				}
				sum += v
			}
			mono = append(mono, sum/float64(channels))
		}
		read += n
	}

	if len(mono) == 0 {
		return nil, ErrNoAudio
	}
	sr := int(w.SampleRate)
	return &Audio{
		Samples:    mono,
		SampleRate: sr,
		Channels:   channels,
		Duration:   durationOf(len(mono), sr),
		Codec:      "wav",
	}, nil
}
