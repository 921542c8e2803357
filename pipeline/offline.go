package pipeline

import (
	"context"
	"fmt"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/capture"
)

// Recording is the result of analysing a finished recording.
type Recording struct {
	Frames         int                           `json:"frames"`
	CorruptFrames  uint64                        `json:"corrupt_frames"`
	AnalysisErrors int                           `json:"analysis_errors"`
	Profiles       []*tonal.InharmonicityProfile `json:"profiles"`
	FitFailures    []error                       `json:"-"`
}

// AnalyzeRecording runs every frame of samples through the same stages as
// a live pipeline, without a device or queue, so no frame is dropped.
// onSnapshot, when non-nil, sees each snapshot in order.
func AnalyzeRecording(ctx context.Context, cfg Config, samples []float32, onSnapshot func(*Snapshot)) (*Recording, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	st, err := buildStages(cfg)
	if err != nil {
		return nil, err
	}
	fa, strategy, assembler := st.analyzer, st.strategy, st.assembler

	rec := &Recording{}
	var frames []common.Frame
	// the assembler tolerates corrupt frames, so Write's error only counts
	_ = assembler.Write(samples, func(f common.Frame) { frames = append(frames, f) })
	rec.CorruptFrames = assembler.Corrupted()

	var last *tonal.InharmonicityProfile
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return rec, err
		}

		a, err := fa.Analyze(frame)
		if err != nil {
			rec.AnalysisErrors++
			continue
		}
		rec.Frames++

		res := strategy.Feed(capture.Observation{Pitch: a.Pitch, Partials: a.Partials, Time: a.StreamTime})
		if res.Err != nil {
			rec.FitFailures = append(rec.FitFailures, res.Err)
		}
		if res.Profile != nil {
			last = res.Profile
			rec.Profiles = append(rec.Profiles, res.Profile)
		}

		if onSnapshot != nil {
			onSnapshot(&Snapshot{
				Sequence:    a.Sequence,
				StreamTime:  a.StreamTime,
				Spectrum:    a.Spectrum,
				Pitch:       a.Pitch,
				Note:        a.Note,
				Partials:    a.Partials,
				Capture:     strategy.Status(),
				LastProfile: last,
			})
		}
	}
	return rec, nil
}
