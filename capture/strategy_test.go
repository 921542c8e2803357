package capture

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/logging"
)

const frameStep = 4096 * time.Second / 44100

func TestMain(m *testing.M) {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
	m.Run()
}

func stiffPartials(f0, b float64, count int) []harmonic.Partial {
	out := make([]harmonic.Partial, count)
	for i := range out {
		n := float64(i + 1)
		out[i] = harmonic.Partial{
			Index:      i + 1,
			Frequency:  n * f0 * math.Sqrt(1+b*n*n),
			Amplitude:  1 / n,
			Confidence: 0.95,
		}
	}
	return out
}

// feeder produces consecutive observations at frame cadence
type feeder struct {
	seq uint64
}

func (f *feeder) next(freq, conf float64, partials []harmonic.Partial) Observation {
	obs := Observation{
		Pitch: tonal.PitchEstimate{
			Sequence:   f.seq,
			Voiced:     freq > 0,
			Frequency:  freq,
			Confidence: conf,
		},
		Partials: partials,
		Time:     time.Duration(f.seq) * frameStep,
	}
	f.seq++
	return obs
}

func newTestStrategy(t *testing.T, cfg Config) *Strategy {
	t.Helper()
	est, err := tonal.NewInharmonicityEstimator(tonal.DefaultInharmonicityParams(), nil)
	require.NoError(t, err)
	s, err := NewStrategy(cfg, est)
	require.NoError(t, err)
	return s
}

func TestStrategyStableNoteCapturesOnce(t *testing.T) {
	s := newTestStrategy(t, DefaultConfig())
	partials := stiffPartials(220, 0.0004, 6)
	pitch := 220 * math.Sqrt(1.0004)

	var f feeder
	var transitions []Transition
	var profiles []*tonal.InharmonicityProfile

	// about 2.8 s of a sustained, slightly wobbling note
	for i := 0; i < 30; i++ {
		wobble := 1 + 0.0003*math.Sin(float64(i))
		res := s.Feed(f.next(pitch*wobble, 0.95, partials))
		require.NoError(t, res.Err)
		transitions = append(transitions, res.Transitions...)
		if res.Profile != nil {
			profiles = append(profiles, res.Profile)
		}
	}

	require.Len(t, profiles, 1)
	assert.Equal(t, "A3", profiles[0].Note.Name)
	assert.InEpsilon(t, 0.0004, profiles[0].B, 0.01)

	var path []State
	for _, tr := range transitions {
		path = append(path, tr.To)
	}
	assert.Equal(t, []State{Listening, Stabilizing, Captured, Idle}, path)

	// the capture happens once the run spans the minimum duration
	for _, tr := range transitions {
		if tr.To == Captured {
			assert.GreaterOrEqual(t, tr.Time, time.Second)
			assert.Less(t, tr.Time, time.Second+frameStep)
		}
	}
}

func TestStrategyOutlierResetsToIdle(t *testing.T) {
	s := newTestStrategy(t, DefaultConfig())
	partials := stiffPartials(440, 0.001, 5)

	var f feeder
	for i := 0; i < 6; i++ {
		s.Feed(f.next(440, 0.9, partials))
	}
	require.Equal(t, Stabilizing, s.State())

	// 10 cents sharp, outside the 3 cent band
	res := s.Feed(f.next(440*math.Pow(2, 10.0/1200), 0.9, partials))
	assert.Equal(t, Idle, res.State)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, Stabilizing, res.Transitions[0].From)
	assert.Nil(t, res.Profile)
	assert.Zero(t, s.Status().WindowSize)
}

func TestStrategyStabilizingResets(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(f *feeder) Observation
	}{
		{"unvoiced", func(f *feeder) Observation {
			obs := f.next(440, 0.9, nil)
			obs.Pitch.Voiced = false
			return obs
		}},
		{"silence", func(f *feeder) Observation { return f.next(0, 0, nil) }},
		{"low confidence", func(f *feeder) Observation { return f.next(440, 0.3, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStrategy(t, DefaultConfig())
			partials := stiffPartials(440, 0.001, 5)

			var f feeder
			for i := 0; i < 6; i++ {
				s.Feed(f.next(440, 0.9, partials))
			}
			require.Equal(t, Stabilizing, s.State())
			require.NotZero(t, s.Status().WindowSize)

			res := s.Feed(tt.trigger(&f))
			assert.Equal(t, Idle, res.State)
			require.Len(t, res.Transitions, 1)
			assert.Equal(t, Stabilizing, res.Transitions[0].From)
			assert.Equal(t, Idle, res.Transitions[0].To)
			assert.Nil(t, res.Profile)
			assert.NoError(t, res.Err)
			assert.Zero(t, s.Status().WindowSize)
		})
	}
}

func TestStrategyLowConfidenceAndSilence(t *testing.T) {
	s := newTestStrategy(t, DefaultConfig())

	var f feeder
	res := s.Feed(f.next(440, 0.3, nil))
	assert.Equal(t, Idle, res.State)
	assert.Empty(t, res.Transitions)

	res = s.Feed(f.next(440, 0.8, nil))
	assert.Equal(t, Listening, res.State)

	res = s.Feed(f.next(0, 0, nil))
	assert.Equal(t, Idle, res.State)
}

func TestStrategyListeningRestartsOnNewPitch(t *testing.T) {
	s := newTestStrategy(t, DefaultConfig())

	var f feeder
	for i := 0; i < 3; i++ {
		s.Feed(f.next(440, 0.9, nil))
	}
	require.Equal(t, 3, s.Status().WindowSize)

	res := s.Feed(f.next(466.16, 0.9, nil))
	assert.Equal(t, Listening, res.State)
	assert.Equal(t, 1, s.Status().WindowSize)
	assert.InDelta(t, 466.16, s.Status().MeanFrequency, 1e-9)
}

func TestStrategyFitFailureReturnsToIdle(t *testing.T) {
	s := newTestStrategy(t, DefaultConfig())

	var f feeder
	var last Result
	for i := 0; i < 15 && last.Err == nil; i++ {
		last = s.Feed(f.next(330, 0.9, stiffPartials(330, 0.001, 2)))
	}
	require.ErrorIs(t, last.Err, tonal.ErrInsufficientPartials)
	assert.Equal(t, Idle, last.State)
	assert.Nil(t, last.Profile)
}

func TestStrategyRequiresReleaseAfterCapture(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinStableDuration = 5 * frameStep
	s := newTestStrategy(t, cfg)
	partials := stiffPartials(110, 0.0002, 6)

	var f feeder
	captured := false
	for i := 0; i < 10; i++ {
		if s.Feed(f.next(110, 0.9, partials)).Profile != nil {
			captured = true
		}
	}
	require.True(t, captured)
	assert.Equal(t, Idle, s.State())

	s.Feed(f.next(0, 0, nil))
	res := s.Feed(f.next(110, 0.9, partials))
	assert.Equal(t, Listening, res.State)
}

func TestStrategyCancel(t *testing.T) {
	s := newTestStrategy(t, DefaultConfig())

	var f feeder
	for i := 0; i < 6; i++ {
		s.Feed(f.next(440, 0.9, nil))
	}
	require.Equal(t, Stabilizing, s.State())
	assert.Greater(t, s.Status().Progress, 0.0)

	res := s.Cancel()
	assert.Equal(t, Idle, res.State)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, Stabilizing, res.Transitions[0].From)

	res = s.Cancel()
	assert.Empty(t, res.Transitions)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Processing = "mode"
	cfg.MinConsecutive = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processing")
	assert.Contains(t, err.Error(), "min_consecutive")

	_, err = NewStrategy(DefaultConfig(), nil)
	assert.Error(t, err)
}
