package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wavBytes builds a RIFF file. format 1 takes int16 samples, format 3
// takes float32 samples.
func wavBytes(t *testing.T, format uint16, channels, sampleRate int, samples any) []byte {
	t.Helper()

	var data bytes.Buffer
	require.NoError(t, binary.Write(&data, binary.LittleEndian, samples))

	bits := uint16(16)
	if format == 3 {
		bits = 32
	}
	block := uint16(channels) * bits / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate)*uint32(block))
	binary.Write(&buf, binary.LittleEndian, block)
	binary.Write(&buf, binary.LittleEndian, bits)
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func TestDecodeWAVPCM16(t *testing.T) {
	const sr = 8000
	pcm := make([]int16, sr/10)
	for i := range pcm {
		pcm[i] = int16(16000 * math.Sin(2*math.Pi*440*float64(i)/sr))
	}

	audio, err := DecodeWAV(bytes.NewReader(wavBytes(t, 1, 1, sr, pcm)))
	require.NoError(t, err)

	assert.Equal(t, sr, audio.SampleRate)
	assert.Equal(t, 1, audio.Channels)
	assert.Len(t, audio.Samples, len(pcm))
	assert.Equal(t, 100*time.Millisecond, audio.Duration)

	for i, v := range pcm {
		assert.InDelta(t, float64(v)/32768, audio.Samples[i], 1e-3, "sample %d", i)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// left +0.5, right -0.25 → mono 0.125
	frames := 64
	samples := make([]float32, 0, frames*2)
	for range frames {
		samples = append(samples, 0.5, -0.25)
	}

	audio, err := DecodeWAV(bytes.NewReader(wavBytes(t, 3, 2, 48000, samples)))
	require.NoError(t, err)

	assert.Equal(t, 2, audio.Channels)
	require.Len(t, audio.Samples, frames)
	for _, v := range audio.Samples {
		assert.InDelta(t, 0.125, v, 1e-6)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("definitely not a wav file")))
	assert.Error(t, err)

	_, err = DecodeWAV(bytes.NewReader(wavBytes(t, 1, 1, 8000, []int16{})))
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestDecodeFileWAVWithMaxDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a4.wav")
	pcm := make([]int16, 8000)
	require.NoError(t, os.WriteFile(path, wavBytes(t, 1, 1, 8000, pcm), 0o644))

	d := NewDecoder(&DecoderConfig{MaxDuration: 250 * time.Millisecond})
	audio, err := d.DecodeFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, audio.Source)
	assert.Len(t, audio.Samples, 2000)
	assert.Equal(t, 250*time.Millisecond, audio.Duration)
	assert.Len(t, audio.Float32(), 2000)
}

func TestParseFFprobeOutput(t *testing.T) {
	out := []byte(`{"streams":[{"codec_name":"flac","sample_rate":"96000","channels":2,"duration":"3.5","bit_rate":"1411200"}]}`)

	md, err := parseFFprobeOutput(out)
	require.NoError(t, err)
	assert.Equal(t, "flac", md.Codec)
	assert.Equal(t, 96000, md.SampleRate)
	assert.Equal(t, 2, md.Channels)
	assert.InDelta(t, 3.5, md.Duration, 1e-9)

	_, err = parseFFprobeOutput([]byte(`{"streams":[]}`))
	assert.Error(t, err)

	_, err = parseFFprobeOutput([]byte(`{"streams":[{"sample_rate":"N/A"}]}`))
	assert.Error(t, err)
}

func TestBytesToFloat64(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, []float64{0.25, -1})
	buf.WriteByte(0x7f) // trailing partial sample

	assert.Equal(t, []float64{0.25, -1}, bytesToFloat64(buf.Bytes()))
	assert.Nil(t, bytesToFloat64([]byte{1, 2, 3}))
}

func TestFFmpegArgs(t *testing.T) {
	d := NewDecoder(&DecoderConfig{MaxDuration: 2 * time.Second})
	args := d.ffmpegArgs("in.mp3", 44100)

	assert.Equal(t, []string{"-v", "error", "-i", "in.mp3", "-t", "2.000"}, args[:6])
	assert.Contains(t, args, "f64le")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}
