package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rapidmidiex/rmxsynth/config"
)

var (
	cfgPath       string
	debug         bool
	sampleRate    int
	bufferSamples int

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rmxsynth",
	Short: "SoundFont MIDI tracks that follow a reference track",
	Long: `rmxsynth renders MIDI files through SoundFont instruments and streams them in
sync with a reference music track, one track per listener.

Settings are read from a YAML file. Flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("sample-rate") {
			cfg.SampleRate = sampleRate
		}
		if cmd.Flags().Changed("buffer") {
			cfg.BufferSamples = bufferSamples
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log, err = initLogger(os.Stderr)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "rmxsynth.yaml", "Path to the YAML config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level")
	rootCmd.PersistentFlags().IntVar(&sampleRate, "sample-rate", 0, "Output sample rate, overrides sample_rate")
	rootCmd.PersistentFlags().IntVar(&bufferSamples, "buffer", 0, "Samples per buffer, overrides buffer_samples")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger(w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(l)
	return l, nil
}
