package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/config"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"A4", 48, false},
		{"A0", 0, false},
		{"C8", 87, false},
		{"Bb2", 25, false},
		{"1", 0, false},
		{"88", 87, false},
		{"0", 0, true},
		{"89", 0, true},
		{"H2", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintProfileTable(t *testing.T) {
	cfg = &config.Config{Tuning: config.TuningConfig{ReferencePitch: 440}}
	note, ok := tonal.DefaultTuning().NoteByName("A4")
	require.True(t, ok)

	p := &tonal.InharmonicityProfile{
		Note:          note,
		MeasuredPitch: 440.5,
		F0:            439.8,
		B:             4.2e-4,
		Partials:      make([]harmonic.Partial, 6),
		ResidualCents: 0.31,
		Plausible:     true,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 0, 0, time.Local),
	}

	var buf bytes.Buffer
	require.NoError(t, printProfileTable(&buf, []*tonal.InharmonicityProfile{p}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "NOTE")
	assert.Contains(t, lines[1], "A4")
	assert.Contains(t, lines[1], "49")
	assert.Contains(t, lines[1], "2026-01-02 03:04")

	buf.Reset()
	printProfile(&buf, p)
	assert.Contains(t, buf.String(), "A4")
	assert.Contains(t, buf.String(), "1.97")
	assert.NotContains(t, buf.String(), "implausible")
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Stabilizing", title("stabilizing"))
}
