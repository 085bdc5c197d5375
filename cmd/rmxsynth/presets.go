package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rapidmidiex/rmxsynth/midi"
)

var presetsCmd = &cobra.Command{
	Use:   "presets <file.sf2>",
	Short: "List the presets of a SoundFont",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sf, err := midi.LoadSoundFontFile(args[0])
		if err != nil {
			return err
		}
		for _, p := range midi.Presets(sf) {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
