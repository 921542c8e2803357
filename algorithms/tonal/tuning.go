package tonal

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
)

const (
	// PianoKeys is the number of keys on a standard piano, A0 to C8.
	PianoKeys = 88

	// A4Index is the key index of the reference A
	A4Index = 48

	// DefaultReferencePitch is concert A
	DefaultReferencePitch = 440.0
)

// note names starting from A, which is key index 0
var noteNames = [12]string{"A", "A#", "B", "C", "C#", "D", "D#", "E", "F", "F#", "G", "G#"}

var flatToSharp = map[string]string{
	"Bb": "A#", "Db": "C#", "Eb": "D#", "Gb": "F#", "Ab": "G#",
}

// Note identifies one piano key in equal temperament.
type Note struct {
	Index     int     `json:"index" yaml:"index"`         // 0 (A0) .. 87 (C8)
	Name      string  `json:"name" yaml:"name"`           // e.g. "C#4"
	Frequency float64 `json:"frequency" yaml:"frequency"` // equal-tempered frequency (Hz)
}

// Octave returns the scientific pitch octave number of the note
func (n Note) Octave() int {
	return (n.Index + 9) / 12
}

// Tuning is the 88-key equal-tempered table for a given reference A4.
type Tuning struct {
	reference float64
	notes     [PianoKeys]Note
	byName    map[string]int
}

// NewTuning builds the key table around reference (A4) in Hz.
func NewTuning(reference float64) (*Tuning, error) {
	if reference < 400 || reference > 480 || math.IsNaN(reference) {
		return nil, fmt.Errorf("reference pitch %g Hz outside supported range [400, 480]", reference)
	}

	t := &Tuning{
		reference: reference,
		byName:    make(map[string]int, PianoKeys),
	}
	for i := range PianoKeys {
		name := noteNames[i%12] + strconv.Itoa((i+9)/12)
		t.notes[i] = Note{
			Index:     i,
			Name:      name,
			Frequency: reference * math.Pow(2, float64(i-A4Index)/12),
		}
		t.byName[name] = i
	}
	return t, nil
}

// DefaultTuning returns the table for A4 = 440 Hz
func DefaultTuning() *Tuning {
	t, _ := NewTuning(DefaultReferencePitch)
	return t
}

// Reference returns the A4 frequency
func (t *Tuning) Reference() float64 {
	return t.reference
}

// Note returns the key at index
func (t *Tuning) Note(index int) (Note, bool) {
	if index < 0 || index >= PianoKeys {
		return Note{}, false
	}
	return t.notes[index], true
}

// NoteByName looks a key up by name. Flats are accepted ("Bb3" == "A#3").
func (t *Tuning) NoteByName(name string) (Note, bool) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return Note{}, false
	}

	pitch := strings.ToUpper(name[:1])
	rest := name[1:]
	if len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		pitch += rest[:1]
		rest = rest[1:]
	}
	if sharp, ok := flatToSharp[pitch]; ok {
		pitch = sharp
	}

	idx, ok := t.byName[pitch+rest]
	if !ok {
		return Note{}, false
	}
	return t.notes[idx], true
}

// Nearest returns the key closest to freq and the deviation from it in cents.
// Frequencies outside the keyboard resolve to A0 or C8. ok is false for
// non-positive or non-finite input, and the returned Note has Index -1.
func (t *Tuning) Nearest(freq float64) (note Note, cents float64, ok bool) {
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return Note{Index: -1}, 0, false
	}

	idx := int(math.Round(12*math.Log2(freq/t.reference))) + A4Index
	if idx < 0 {
		idx = 0
	} else if idx >= PianoKeys {
		idx = PianoKeys - 1
	}

	n := t.notes[idx]
	return n, common.Cents(freq, n.Frequency), true
}

// Notes returns a copy of the full key table
func (t *Tuning) Notes() []Note {
	out := make([]Note, PianoKeys)
	copy(out, t.notes[:])
	return out
}
