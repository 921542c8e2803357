package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/config"
	"github.com/RyanBlaney/sonido-tuner/device/file"
	paudio "github.com/RyanBlaney/sonido-tuner/device/portaudio"
	"github.com/RyanBlaney/sonido-tuner/device/synth"
	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
	"github.com/RyanBlaney/sonido-tuner/server"
	"github.com/RyanBlaney/sonido-tuner/transcode"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Capture from an input device and measure struck notes",
	Long: `listen runs the analysis pipeline against a capture device until
interrupted. Every note that holds steady long enough produces an
inharmonicity profile, printed as it is captured and saved to the
configured store.

With the server enabled, snapshots stream over a websocket at /ws and
Prometheus metrics are served at /metrics.`,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.String("driver", config.DriverPortAudio, "capture driver (portaudio, synth, file)")
	f.String("file", "", "recording replayed by the file driver")
	f.Float64("pace", 1, "playback speed of the file driver, 0 for as fast as possible")
	f.String("addr", "", "listen address of the snapshot server")
	f.Bool("no-server", false, "disable the snapshot server")
	f.String("storage", "", "profile store (memory, file, postgres)")
	f.String("store-path", "", "profile file for the file store")
	f.String("dsn", "", "PostgreSQL connection string for the postgres store")
	f.Int("frame-size", 0, "analysis frame size (2048 or 4096)")
	f.Float64("reference", 0, "reference pitch of A4 in Hz")
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.WithFields(logging.Fields{"component": "cli", "command": "listen"})

	var metricsHandler http.Handler
	opts := []pipeline.Option{}
	if cfg.Server.Enabled && cfg.Server.Metrics {
		h, shutdown, err := setupMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer shutdown(context.Background())
		metricsHandler = h
	}

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()
	opts = append(opts, pipeline.WithProfileSink(store))

	pcfg := cfg.Pipeline()
	driver, cleanup, err := openDriver(ctx, cfg, &pcfg)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := pipeline.New(pcfg, driver, opts...)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := p.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
			logger.Error(err, "stopping pipeline")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		srvOpts := []server.Option{
			server.WithStore(store),
			server.WithPollInterval(cfg.Server.PollInterval),
			server.WithWriteTimeout(cfg.Server.WriteTimeout),
		}
		if metricsHandler != nil {
			srvOpts = append(srvOpts, server.WithMetricsHandler(metricsHandler))
		}
		srv := server.New(p, srvOpts...)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Server.Addr)
		})
	}

	profiles := p.Profiles()
	g.Go(func() error {
		for prof := range profiles {
			printProfile(cmd.OutOrStdout(), prof)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-p.Done():
				// a replayed file ended, or the device gave up
				stop()
				return nil
			case <-ticker.C:
				if snap, ok := p.Latest(); ok && snap.Note != nil {
					logger.Debug("listening", logging.Fields{
						"note":  snap.Note.Name,
						"cents": snap.Note.Cents,
						"state": snap.Capture.State.String(),
					})
				}
			}
		}
	})

	err = g.Wait()
	if perr := p.Err(); perr != nil && p.State() == pipeline.StateError {
		return perr
	}
	return err
}

// openDriver builds the configured capture driver. The file driver replays
// at the recording's own rate, which replaces pcfg.SampleRate.
func openDriver(ctx context.Context, c *config.Config, pcfg *pipeline.Config) (pipeline.DeviceDriver, func(), error) {
	switch c.Device.Driver {
	case config.DriverPortAudio:
		if err := paudio.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("portaudio: %w", err)
		}
		if name, err := paudio.DefaultInputName(); err == nil {
			logging.Info("using input device", logging.Fields{"device": name})
		}
		return paudio.New(c.Device.StallTimeout), func() { _ = paudio.Terminate() }, nil

	case config.DriverSynth:
		d, err := synth.New(c.Device.Synth)
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil

	case config.DriverFile:
		dec := transcode.NewDecoder(&c.Decoder)
		d, err := file.Open(ctx, dec, c.Device.File, c.Device.Pace)
		if err != nil {
			return nil, nil, err
		}
		pcfg.SampleRate = d.SampleRate()
		return d, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown device driver %q", c.Device.Driver)
	}
}

// nearestNote names a frequency against the configured tuning
func nearestNote(freq float64) (tonal.Note, float64, bool) {
	tuning, err := tonal.NewTuning(cfg.Tuning.ReferencePitch)
	if err != nil {
		tuning = tonal.DefaultTuning()
	}
	return tuning.Nearest(freq)
}
