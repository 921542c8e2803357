package main

import (
	"io"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

var (
	printer    = message.NewPrinter(language.English)
	titleCaser = cases.Title(language.English)
)

func printProfile(w io.Writer, p *tonal.InharmonicityProfile) {
	_, cents, _ := nearestNote(p.MeasuredPitch)
	printer.Fprintf(w, "%-4s  f0 %8.3f Hz  %+6.2f cents  B %.3e (%s)  %d partials  fit %.2f cents  confidence %.2f%s\n",
		p.Note.Name, p.F0, cents, p.B, p.Classification(), len(p.Partials),
		p.ResidualCents, p.Confidence, plausibility(p))
}

func printProfileTable(w io.Writer, ps []*tonal.InharmonicityProfile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printer.Fprintf(tw, "KEY\tNOTE\tF0 (HZ)\tB\tCLASS\tPARTIALS\tRESIDUAL (CENTS)\tMEASURED\n")
	for _, p := range ps {
		printer.Fprintf(tw, "%d\t%s\t%.3f\t%.3e\t%s\t%d\t%.2f\t%s\n",
			p.Note.Index+1, p.Note.Name, p.F0, p.B, p.Classification(), len(p.Partials),
			p.ResidualCents, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func plausibility(p *tonal.InharmonicityProfile) string {
	if p.Plausible {
		return ""
	}
	return "  [implausible]"
}

// title renders lower-case identifiers such as states for humans
func title(s string) string {
	return titleCaser.String(s)
}
