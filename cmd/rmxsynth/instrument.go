package main

import (
	"github.com/spf13/cobra"

	"github.com/rapidmidiex/rmxsynth/assets"
	"github.com/rapidmidiex/rmxsynth/midi"
)

// instrumentFlags select a preset, falling back to the config's instrument.
type instrumentFlags struct {
	soundFont string
	bank      int
	program   int
	preset    string
}

func (f *instrumentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.soundFont, "soundfont", "", "SoundFont file or name in soundfont_dir")
	cmd.Flags().IntVar(&f.bank, "bank", -1, "Preset bank")
	cmd.Flags().IntVar(&f.program, "program", -1, "Preset program")
	cmd.Flags().StringVar(&f.preset, "preset", "", "Preset name, instead of bank and program")
}

// resolve loads the selected instrument through lib. A soundfont path that
// is not in the library is added to it.
func (f *instrumentFlags) resolve(lib *assets.Library) (midi.Instrument, error) {
	inst := cfg.Instrument
	if f.soundFont != "" {
		inst.SoundFont = f.soundFont
	}
	if f.bank >= 0 {
		inst.Bank = f.bank
	}
	if f.program >= 0 {
		inst.Program = f.program
	}
	if f.preset != "" {
		inst.Name = f.preset
	}

	if _, err := lib.SoundFont(inst.SoundFont); err != nil {
		sf, ferr := midi.LoadSoundFontFile(inst.SoundFont)
		if ferr != nil {
			return midi.Instrument{}, err
		}
		lib.AddSoundFont(inst.SoundFont, sf)
	}
	if inst.Name != "" {
		return lib.InstrumentByName(inst.SoundFont, inst.Name)
	}
	return lib.Instrument(inst.SoundFont, inst.Bank, inst.Program)
}
