package capture

import (
	"math"
	"time"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

// Observation is what the analysis stage learned from one frame.
type Observation struct {
	Pitch    tonal.PitchEstimate
	Partials []harmonic.Partial
	// Time is the stream time of the frame
	Time time.Duration
}

// usable reports whether the estimate is voiced and confident enough.
func (o Observation) usable(floor float64) bool {
	return o.Pitch.Voiced && o.Pitch.Frequency > 0 && o.Pitch.Confidence >= floor
}

// Session is the rolling window of one capture attempt.
type Session struct {
	observations []Observation
	start        time.Duration
	maxWindow    int
}

func newSession(maxWindow int) *Session {
	return &Session{
		observations: make([]Observation, 0, maxWindow),
		maxWindow:    maxWindow,
	}
}

func (s *Session) reset() {
	s.observations = s.observations[:0]
	s.start = 0
}

// restart begins a new run at obs
func (s *Session) restart(obs Observation) {
	s.reset()
	s.start = obs.Time
	s.observations = append(s.observations, obs)
}

func (s *Session) add(obs Observation) {
	if len(s.observations) == 0 {
		s.start = obs.Time
	}
	if len(s.observations) == s.maxWindow {
		copy(s.observations, s.observations[1:])
		s.observations = s.observations[:len(s.observations)-1]
	}
	s.observations = append(s.observations, obs)
}

// Len returns the number of retained observations
func (s *Session) Len() int {
	return len(s.observations)
}

// MeanFrequency returns the running mean pitch of the window
func (s *Session) MeanFrequency() float64 {
	if len(s.observations) == 0 {
		return 0
	}
	freqs := make([]float64, len(s.observations))
	for i, o := range s.observations {
		freqs[i] = o.Pitch.Frequency
	}
	return common.Mean(freqs)
}

// withinTolerance reports whether freq lies within cents of the running mean
func (s *Session) withinTolerance(freq, cents float64) bool {
	mean := s.MeanFrequency()
	if mean <= 0 {
		return true
	}
	return math.Abs(common.Cents(freq, mean)) <= cents
}

// Span returns the stream time covered by the current run up to at
func (s *Session) Span(at time.Duration) time.Duration {
	if len(s.observations) == 0 || at < s.start {
		return 0
	}
	return at - s.start
}

// Observations returns the retained window. The slice must not be modified.
func (s *Session) Observations() []Observation {
	return s.observations
}
