package capture

import (
	"sort"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
)

// minPresence is the fraction of frames a partial index must appear in
// before ProcessAverage keeps it.
const minPresence = 0.5

// condense reduces the window to one partial set using the chosen strategy.
func condense(p Processing, window []Observation) []harmonic.Partial {
	switch p {
	case ProcessBestConfidence:
		return bestConfidence(window)
	default:
		return averagePartials(window)
	}
}

// bestConfidence returns the partials of the most confident frame that has
// any. Later frames win ties.
func bestConfidence(window []Observation) []harmonic.Partial {
	best := -1
	for i, o := range window {
		if len(o.Partials) == 0 {
			continue
		}
		if best < 0 || o.Pitch.Confidence >= window[best].Pitch.Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	out := make([]harmonic.Partial, len(window[best].Partials))
	copy(out, window[best].Partials)
	return out
}

// averagePartials merges partials per index: median frequency, mean
// amplitude, and confidence scaled by how often the index was seen.
func averagePartials(window []Observation) []harmonic.Partial {
	type acc struct {
		freqs []float64
		amps  []float64
		confs []float64
	}

	frames := 0
	byIndex := make(map[int]*acc)
	for _, o := range window {
		if len(o.Partials) == 0 {
			continue
		}
		frames++
		for _, p := range o.Partials {
			a, ok := byIndex[p.Index]
			if !ok {
				a = &acc{}
				byIndex[p.Index] = a
			}
			a.freqs = append(a.freqs, p.Frequency)
			a.amps = append(a.amps, p.Amplitude)
			a.confs = append(a.confs, p.Confidence)
		}
	}
	if frames == 0 {
		return nil
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]harmonic.Partial, 0, len(indices))
	lastFreq := 0.0
	for _, idx := range indices {
		a := byIndex[idx]
		presence := float64(len(a.freqs)) / float64(frames)
		if presence < minPresence {
			continue
		}

		freq := common.Median(a.freqs)
		if freq <= lastFreq {
			continue
		}
		out = append(out, harmonic.Partial{
			Index:      idx,
			Frequency:  freq,
			Amplitude:  common.Mean(a.amps),
			Confidence: common.Mean(a.confs) * presence,
		})
		lastFreq = freq
	}
	return out
}
