package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
	"github.com/RyanBlaney/sonido-tuner/transcode"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Measure the notes in a recording",
	Long: `analyze decodes a recording (WAV natively, anything else through
ffmpeg) and runs every frame through the same analysis as listen, without
dropping frames. Each stable note yields one profile.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Bool("save", false, "save captured profiles to the configured store")
	analyzeCmd.Flags().Bool("trace", false, "print the capture state of every frame")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logging.WithFields(logging.Fields{"component": "cli", "command": "analyze"})
	save, _ := cmd.Flags().GetBool("save")
	trace, _ := cmd.Flags().GetBool("trace")
	out := cmd.OutOrStdout()

	audio, err := transcode.NewDecoder(&cfg.Decoder).DecodeFile(ctx, args[0])
	if err != nil {
		return err
	}
	printer.Fprintf(out, "%s: %s, %d Hz, %.1f s, %d samples\n",
		audio.Source, audio.Codec, audio.SampleRate, audio.Duration.Seconds(), len(audio.Samples))

	pcfg := cfg.Pipeline()
	pcfg.SampleRate = audio.SampleRate

	var onSnapshot func(*pipeline.Snapshot)
	if trace {
		onSnapshot = func(s *pipeline.Snapshot) {
			note := "-"
			if s.Note != nil {
				note = fmt.Sprintf("%s %+.1f", s.Note.Name, s.Note.Cents)
			}
			printer.Fprintf(out, "%6d  %8.3fs  %-12s  %-12s  %3.0f%%\n",
				s.Sequence, s.StreamTime.Seconds(), note, title(s.Capture.State.String()), s.Capture.Progress*100)
		}
	}

	rec, err := pipeline.AnalyzeRecording(ctx, pcfg, audio.Float32(), onSnapshot)
	if err != nil {
		return err
	}

	for _, p := range rec.Profiles {
		printProfile(out, p)
	}
	printer.Fprintf(out, "%d frames, %d corrupt, %d analysis errors, %d profiles, %d failed fits\n",
		rec.Frames, rec.CorruptFrames, rec.AnalysisErrors, len(rec.Profiles), len(rec.FitFailures))
	for _, ferr := range rec.FitFailures {
		logger.Debug("fit failed", logging.Fields{"error": ferr.Error()})
	}

	if !save || len(rec.Profiles) == 0 {
		return nil
	}
	return saveProfiles(ctx, rec)
}

func saveProfiles(ctx context.Context, rec *pipeline.Recording) error {
	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	for _, p := range rec.Profiles {
		if err := store.Save(ctx, p); err != nil {
			return err
		}
	}
	logging.Info("profiles saved", logging.Fields{"count": len(rec.Profiles), "backend": cfg.Storage.Backend})
	return nil
}
