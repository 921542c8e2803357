package synth

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/device"
)

func TestPartialFrequency(t *testing.T) {
	tone := Tone{Frequency: 100, B: 1e-3}
	assert.InDelta(t, 100*math.Sqrt(1.001), tone.PartialFrequency(1), 1e-9)
	assert.InDelta(t, 500*math.Sqrt(1.025), tone.PartialFrequency(5), 1e-9)
}

func TestVoiceSkipsPartialsAboveNyquist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tone.Frequency = 3000
	cfg.Tone.Partials = 10

	v, err := NewVoice(cfg, 8000)
	require.NoError(t, err)
	assert.Len(t, v.freqs, 1, "only 3000 Hz is below 0.45·8000")
}

func TestVoiceDurationEndsWithEOF(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Duration = 10 * time.Millisecond

	v, err := NewVoice(cfg, 8000)
	require.NoError(t, err)

	buf := make([]float32, 64)
	total := 0
	for {
		n, err := v.Fill(buf)
		total += n
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, 80, total)
}

func TestRenderIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	a, err := Render(cfg, 44100, 1024)
	require.NoError(t, err)
	b, err := Render(cfg, 44100, 1024)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var peak float32
	for _, s := range a {
		peak = max(peak, float32(math.Abs(float64(s))))
	}
	assert.Greater(t, peak, float32(0.3))
	assert.LessOrEqual(t, peak, float32(1.4))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Tone.Frequency = 0
	cfg.Tone.Partials = 0
	cfg.Pace = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frequency")
	assert.Contains(t, err.Error(), "partial")
	assert.Contains(t, err.Error(), "pace")
}

func TestDriverDisconnectAndRefuse(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	src, err := d.StartStream(44100, 4096, func([]float32) {})
	require.NoError(t, err)

	d.Disconnect(1)
	select {
	case err := <-src.Failed():
		assert.ErrorIs(t, err, device.ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
	require.NoError(t, src.Stop())

	_, err = d.StartStream(44100, 4096, func([]float32) {})
	assert.ErrorIs(t, err, device.ErrDisconnected)

	src, err = d.StartStream(44100, 4096, func([]float32) {})
	require.NoError(t, err)
	require.NoError(t, src.Stop())
	assert.Equal(t, 3, d.Opens())
}
