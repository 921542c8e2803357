package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RyanBlaney/sonido-tuner/config"
	"github.com/RyanBlaney/sonido-tuner/logging"
)

var (
	configFile string

	// cfg is loaded in PersistentPreRunE, before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Piano pitch and inharmonicity measurement",
	Long: `tuner listens to a piano through the default input device, tracks the
pitch and harmonic partials of the struck note, and once the note has held
steady it fits the inharmonicity coefficient B of the string.

Measured profiles are stored per key and can be listed or deleted later.
Settings come from tuner.yaml, SONIDO_TUNER_* environment variables and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initializeConfig(cmd)
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default searches ./configs, ., $HOME/.config/sonido-tuner for tuner.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(listenCmd, analyzeCmd, profilesCmd)
}

// flagKeys maps flag names to configuration keys
var flagKeys = map[string]string{
	"log-level":  "log_level",
	"log-format": "log_format",
	"driver":     "device.driver",
	"file":       "device.file",
	"pace":       "device.pace",
	"addr":       "server.addr",
	"storage":    "storage.backend",
	"store-path": "storage.path",
	"dsn":        "storage.dsn",
	"frame-size": "audio.frame_size",
	"reference":  "tuning.reference_pitch",
}

// initializeConfig loads the configuration and binds the flags that were set
// on the command line over it
func initializeConfig(cmd *cobra.Command) error {
	v, err := config.NewViper(configFile)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd, v); err != nil {
		return err
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
		cfg.Server.Enabled = false
	}

	return setupLogging(cfg)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})
	return lastErr
}

func setupLogging(c *config.Config) error {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(os.Stderr, os.Stderr, c.LogFormat == "json")
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)
	return nil
}
