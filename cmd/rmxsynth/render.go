package main

import (
	"fmt"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/spf13/cobra"

	"github.com/rapidmidiex/rmxsynth/assets"
	"github.com/rapidmidiex/rmxsynth/midi"
)

var (
	renderMidi  string
	renderOut   string
	renderTail  time.Duration
	renderInstr instrumentFlags
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a MIDI file to WAV",
	Long: `Render a MIDI file through one SoundFont preset into a 16 bit stereo WAV file.

Example:
  rmxsynth render --midi song.mid --soundfont gm.sf2 --program 24 --out song.wav
`,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderMidi, "midi", "", "MIDI file to render")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "out.wav", "Output WAV file")
	renderCmd.Flags().DurationVar(&renderTail, "tail", 2*time.Second, "Release time rendered after the last event")
	renderInstr.register(renderCmd)
	renderCmd.MarkFlagRequired("midi")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	lib := assets.New(log)
	if err := lib.Scan(cfg.SoundFontDir, ""); err != nil {
		return err
	}
	inst, err := renderInstr.resolve(lib)
	if err != nil {
		return err
	}
	seq, err := midi.ReadSequenceFile(renderMidi)
	if err != nil {
		return err
	}
	player, err := midi.NewPlayer(seq, inst, cfg.PlayerConfig())
	if err != nil {
		return err
	}

	f, err := os.Create(renderOut)
	if err != nil {
		return err
	}
	defer f.Close()

	streamer := midi.NewMIDIStreamer(player, cfg.SampleRate, cfg.Subdivisions, cfg.Boost, renderTail)
	format := beep.Format{SampleRate: beep.SampleRate(cfg.SampleRate), NumChannels: 2, Precision: 2}
	start := time.Now()
	if err := wav.Encode(f, streamer, format); err != nil {
		return fmt.Errorf("encode %s: %w", renderOut, err)
	}
	log.Info("rendered",
		"out", renderOut,
		"instrument", inst.Name,
		"duration", format.SampleRate.D(streamer.Len()),
		"took", time.Since(start),
	)
	return nil
}
