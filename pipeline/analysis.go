package pipeline

import (
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/spectral"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/capture"
)

// NoteReading places a pitch on the keyboard.
type NoteReading struct {
	Name   string  `json:"name"`
	Index  int     `json:"index"`
	Target float64 `json:"target"` // equal-tempered frequency (Hz)
	Cents  float64 `json:"cents"`  // deviation from Target
}

// Analysis is the per-frame output of the DSP stages.
type Analysis struct {
	Sequence   uint64
	StreamTime time.Duration
	Spectrum   *spectral.Snapshot
	Pitch      tonal.PitchEstimate
	Note       *NoteReading
	Partials   []harmonic.Partial
}

// Snapshot is the immutable bundle published to consumers after each frame.
// Consumers must treat every field as read-only.
type Snapshot struct {
	Sequence    uint64                      `json:"sequence"`
	StreamTime  time.Duration               `json:"stream_time"`
	Spectrum    *spectral.Snapshot          `json:"-"`
	Pitch       tonal.PitchEstimate         `json:"pitch"`
	Note        *NoteReading                `json:"note,omitempty"`
	Partials    []harmonic.Partial          `json:"partials"`
	Capture     capture.Status              `json:"capture"`
	LastProfile *tonal.InharmonicityProfile `json:"last_profile,omitempty"`
	PublishedAt time.Time                   `json:"published_at"`
}

// FrameAnalyzer runs spectrum, pitch and partial analysis on one frame.
// It owns a transform plan and detector buffers, so it belongs to a single
// analysis goroutine.
type FrameAnalyzer struct {
	spectrum *spectral.Analyzer
	pitch    *tonal.PitchDetector
	tracker  *harmonic.Tracker
	tuning   *tonal.Tuning
}

// NewFrameAnalyzer builds the analysis stages for cfg around plan.
func NewFrameAnalyzer(cfg Config, plan *spectral.Plan) (*FrameAnalyzer, error) {
	if plan == nil || plan.Size() != cfg.FrameSize {
		return nil, fmt.Errorf("analysis needs a transform plan of size %d", cfg.FrameSize)
	}

	spec, err := spectral.NewAnalyzer(plan)
	if err != nil {
		return nil, err
	}
	pitch, err := tonal.NewPitchDetectorWithParams(cfg.Pitch)
	if err != nil {
		return nil, fmt.Errorf("pitch detector: %w", err)
	}
	tracker, err := harmonic.NewTracker(cfg.Partials)
	if err != nil {
		return nil, fmt.Errorf("partial tracker: %w", err)
	}
	tuning, err := tonal.NewTuning(cfg.ReferencePitch)
	if err != nil {
		return nil, err
	}

	return &FrameAnalyzer{
		spectrum: spec,
		pitch:    pitch,
		tracker:  tracker,
		tuning:   tuning,
	}, nil
}

// Analyze runs every stage on frame. Spectrum and pitch come from the same
// frame; partials are only searched for when the frame is voiced.
func (a *FrameAnalyzer) Analyze(frame common.Frame) (Analysis, error) {
	out := Analysis{
		Sequence:   frame.Sequence,
		StreamTime: frame.Offset,
	}

	snap, err := a.spectrum.Analyze(frame)
	if err != nil {
		return out, err
	}
	out.Spectrum = snap

	est, err := a.pitch.Detect(frame)
	if err != nil {
		return out, fmt.Errorf("pitch of frame %d: %w", frame.Sequence, err)
	}
	out.Pitch = est

	if !est.Voiced {
		return out, nil
	}

	note, cents, ok := a.tuning.Nearest(est.Frequency)
	if !ok {
		return out, nil
	}
	out.Note = &NoteReading{
		Name:   note.Name,
		Index:  note.Index,
		Target: note.Frequency,
		Cents:  cents,
	}
	out.Partials = a.tracker.Track(snap, est.Frequency)
	return out, nil
}

// stages is one independent set of per-run analysis state.
type stages struct {
	analyzer  *FrameAnalyzer
	strategy  *capture.Strategy
	assembler *common.FrameAssembler
}

func buildStages(cfg Config) (*stages, error) {
	plan, err := spectral.NewPlan(cfg.FrameSize)
	if err != nil {
		return nil, err
	}
	analyzer, err := NewFrameAnalyzer(cfg, plan)
	if err != nil {
		return nil, err
	}
	estimator, err := tonal.NewInharmonicityEstimator(cfg.Inharmonicity, analyzer.tuning)
	if err != nil {
		return nil, err
	}
	strategy, err := capture.NewStrategy(cfg.Capture, estimator)
	if err != nil {
		return nil, err
	}
	assembler, err := common.NewFrameAssembler(cfg.FrameSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return &stages{analyzer: analyzer, strategy: strategy, assembler: assembler}, nil
}
