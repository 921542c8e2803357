package capture

import (
	"errors"
	"time"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/logging"
)

// State is the phase of a capture attempt.
type State int

const (
	Idle State = iota
	Listening
	Stabilizing
	Captured
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Stabilizing:
		return "stabilizing"
	case Captured:
		return "captured"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Estimator fits an inharmonicity profile to measured partials.
// *tonal.InharmonicityEstimator satisfies it.
type Estimator interface {
	Estimate(partials []harmonic.Partial, f0 float64) (*tonal.InharmonicityProfile, error)
}

// Transition records one state change.
type Transition struct {
	From     State         `json:"from"`
	To       State         `json:"to"`
	Sequence uint64        `json:"sequence"`
	Time     time.Duration `json:"time"`
}

// Result reports what a single Feed or Cancel did.
type Result struct {
	State       State
	Transitions []Transition
	// Profile is set on the observation that completed a capture
	Profile *tonal.InharmonicityProfile
	// Err is set when a stable window could not be fitted
	Err error
}

// Status is a read-only summary of the strategy for display.
type Status struct {
	State         State         `json:"state"`
	WindowSize    int           `json:"window_size"`
	MeanFrequency float64       `json:"mean_frequency"`
	Stable        time.Duration `json:"stable"`
	Progress      float64       `json:"progress"` // 0..1 towards a capture
}

// Strategy is the stability state machine that decides when a struck note
// has settled enough to measure. It is driven by one goroutine only.
type Strategy struct {
	cfg       Config
	estimator Estimator
	logger    logging.Logger

	state           State
	session         *Session
	awaitingRelease bool
	lastTime        time.Duration
}

// NewStrategy creates a strategy in the Idle state
func NewStrategy(cfg Config, estimator Estimator) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if estimator == nil {
		return nil, errors.New("capture strategy requires an estimator")
	}
	return &Strategy{
		cfg:       cfg,
		estimator: estimator,
		logger: logging.WithFields(logging.Fields{
			"component": "capture_strategy",
		}),
		state:   Idle,
		session: newSession(cfg.MaxWindow),
	}, nil
}

// State returns the current state
func (s *Strategy) State() State {
	return s.state
}

// Status summarises the current session
func (s *Strategy) Status() Status {
	st := Status{
		State:         s.state,
		WindowSize:    s.session.Len(),
		MeanFrequency: s.session.MeanFrequency(),
	}
	if s.state == Stabilizing {
		st.Stable = s.session.Span(s.lastTime)
		st.Progress = min(1, float64(st.Stable)/float64(s.cfg.MinStableDuration))
	}
	if s.state == Captured {
		st.Progress = 1
	}
	return st
}

func (s *Strategy) transition(res *Result, to State, obs Observation) {
	t := Transition{From: s.state, To: to, Sequence: obs.Pitch.Sequence, Time: obs.Time}
	res.Transitions = append(res.Transitions, t)
	s.logger.Debug("capture state change", logging.Fields{
		"from":     t.From.String(),
		"to":       t.To.String(),
		"sequence": t.Sequence,
	})
	s.state = to
}

// Feed advances the state machine with one observation.
func (s *Strategy) Feed(obs Observation) Result {
	var res Result
	s.lastTime = obs.Time

	if s.state == Captured {
		s.session.reset()
		s.transition(&res, Idle, obs)
	}

	usable := obs.usable(s.cfg.ConfidenceFloor)
	if !usable {
		s.awaitingRelease = false
	}

	switch s.state {
	case Idle:
		if usable && !s.awaitingRelease {
			s.session.restart(obs)
			s.transition(&res, Listening, obs)
		}

	case Listening:
		switch {
		case !usable:
			s.session.reset()
			s.transition(&res, Idle, obs)
		case !s.session.withinTolerance(obs.Pitch.Frequency, s.cfg.ToleranceCents):
			// a different pitch starts a fresh run
			s.session.restart(obs)
		default:
			s.session.add(obs)
		}
		if s.state == Listening && s.session.Len() >= s.cfg.MinConsecutive {
			s.transition(&res, Stabilizing, obs)
		}

	case Stabilizing:
		if !usable || !s.session.withinTolerance(obs.Pitch.Frequency, s.cfg.ToleranceCents) {
			s.session.reset()
			s.transition(&res, Idle, obs)
			break
		}
		s.session.add(obs)
		if s.session.Span(obs.Time) >= s.cfg.MinStableDuration {
			s.capture(&res, obs)
		}
	}

	res.State = s.state
	return res
}

// capture fits the stable window and moves to Captured, or back to Idle
// when the fit fails.
func (s *Strategy) capture(res *Result, obs Observation) {
	f0 := s.session.MeanFrequency()
	partials := condense(s.cfg.Processing, s.session.Observations())

	s.awaitingRelease = s.cfg.RequireRelease

	profile, err := s.estimator.Estimate(partials, f0)
	if err != nil {
		s.logger.Warn("stable note could not be fitted", logging.Fields{
			"f0":       f0,
			"partials": len(partials),
			"error":    err.Error(),
		})
		res.Err = err
		s.session.reset()
		s.transition(res, Idle, obs)
		return
	}

	s.logger.Info("inharmonicity captured", logging.Fields{
		"note":      profile.Note.Name,
		"b":         profile.B,
		"f0":        profile.F0,
		"partials":  len(profile.Partials),
		"plausible": profile.Plausible,
	})
	res.Profile = profile
	s.transition(res, Captured, obs)
}

// Cancel abandons the current session and returns to Idle.
func (s *Strategy) Cancel() Result {
	var res Result
	if s.state != Idle {
		s.transition(&res, Idle, Observation{Time: s.lastTime})
	}
	s.session.reset()
	s.awaitingRelease = false
	res.State = s.state
	return res
}
