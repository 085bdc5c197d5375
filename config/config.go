// Package config loads the engine settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rapidmidiex/rmxsynth/midi"
	"github.com/rapidmidiex/rmxsynth/sink"
	"github.com/rapidmidiex/rmxsynth/track"
	"github.com/rapidmidiex/rmxsynth/tracksync"
)

type (
	// Instrument picks the default preset listeners play with.
	Instrument struct {
		SoundFont string `yaml:"soundfont"`
		Bank      int    `yaml:"bank"`
		Program   int    `yaml:"program"`
		// Name, if set, is looked up instead of bank and program.
		Name string `yaml:"name,omitempty"`
	}

	Config struct {
		SampleRate        int           `yaml:"sample_rate"`
		BufferSamples     int           `yaml:"buffer_samples"`
		Subdivisions      int           `yaml:"subdivisions"`
		Boost             float32       `yaml:"boost"`
		ResyncInterval    int           `yaml:"resync_interval"`
		BackwardTolerance float64       `yaml:"backward_tolerance"`
		SeekSnap          float64       `yaml:"seek_snap"`
		FadeOut           time.Duration `yaml:"fade_out"`
		SyncTolerance     int           `yaml:"sync_tolerance"`
		// LowWater is the pending buffer count under which a sink asks for more.
		LowWater int `yaml:"low_water"`

		SoundFontDir string `yaml:"soundfont_dir"`
		MidiDir      string `yaml:"midi_dir"`
		// Music maps a music slot to the MIDI file name played over it.
		Music map[int]string `yaml:"music"`

		Instrument          Instrument `yaml:"instrument"`
		ReverbAndChorus     bool       `yaml:"reverb_and_chorus"`
		KeepFileInstruments bool       `yaml:"keep_file_instruments"`
		LogLevel            string     `yaml:"log_level"`
	}
)

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		SampleRate:        midi.DefaultSampleRate,
		BufferSamples:     2048,
		Subdivisions:      16,
		Boost:             7,
		ResyncInterval:    tracksync.DefaultResyncInterval,
		BackwardTolerance: tracksync.DefaultBackwardTolerance,
		SeekSnap:          midi.SeekSnap,
		FadeOut:           track.DefaultFadeOut,
		SyncTolerance:     tracksync.DefaultTolerance,
		LowWater:          sink.DefaultLowWater,
		SoundFontDir:      "soundfonts",
		MidiDir:           "midi",
		Music:             map[int]string{},
		ReverbAndChorus:   true,
		LogLevel:          "info",
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Music == nil {
		cfg.Music = map[int]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("sample_rate", c.SampleRate)
	positive("buffer_samples", c.BufferSamples)
	positive("subdivisions", c.Subdivisions)
	positive("resync_interval", c.ResyncInterval)
	positive("sync_tolerance", c.SyncTolerance)
	positive("low_water", c.LowWater)
	if c.Boost <= 0 {
		errs = append(errs, fmt.Errorf("boost must be positive, got %g", c.Boost))
	}
	if c.BackwardTolerance < 0 || c.SeekSnap < 0 || c.FadeOut < 0 {
		errs = append(errs, errors.New("tolerances and fade_out must not be negative"))
	}
	if c.Instrument.Bank < 0 || c.Instrument.Program < 0 || c.Instrument.Program > 127 {
		errs = append(errs, fmt.Errorf("instrument %d:%d out of range", c.Instrument.Bank, c.Instrument.Program))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

func (c *Config) TrackConfig() track.Config {
	return track.Config{
		SampleRate:    c.SampleRate,
		BufferSamples: c.BufferSamples,
		Subdivisions:  c.Subdivisions,
		Boost:         c.Boost,
	}
}

func (c *Config) SyncConfig() tracksync.Config {
	return tracksync.Config{
		ResyncInterval:    c.ResyncInterval,
		BackwardTolerance: c.BackwardTolerance,
		Tolerance:         c.SyncTolerance,
	}
}

func (c *Config) PlayerConfig() midi.PlayerConfig {
	return midi.PlayerConfig{
		SampleRate:          c.SampleRate,
		ReverbAndChorus:     c.ReverbAndChorus,
		KeepFileInstruments: c.KeepFileInstruments,
		SeekSnap:            c.SeekSnap,
	}
}
