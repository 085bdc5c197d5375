package midi

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rapidmidiex/rmxsynth/rmxerr"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

type (
	// Instrument selects one preset inside a loaded sound bank. The SoundFont
	// is shared read-only by every Player built from it.
	Instrument struct {
		Bank      int
		Program   int
		Name      string
		SoundFont *meltysynth.SoundFont
	}

	// Preset describes one selectable sound in a sound bank.
	Preset struct {
		Bank    int
		Program int
		Name    string
	}
)

// LoadSoundFont parses an SF2 sound bank.
func LoadSoundFont(r io.Reader) (*meltysynth.SoundFont, error) {
	sf, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return nil, fmt.Errorf("parse soundfont: %w", err)
	}
	return sf, nil
}

func LoadSoundFontFile(path string) (*meltysynth.SoundFont, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSoundFont(f)
}

// NewMeltySynth creates a synthesizer for sf at the configured sample rate.
func NewMeltySynth(sf *meltysynth.SoundFont, cfg PlayerConfig) (*meltysynth.Synthesizer, error) {
	if sf == nil {
		return nil, rmxerr.ErrNoSoundFont
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	settings := meltysynth.NewSynthesizerSettings(int32(rate))
	settings.EnableReverbAndChorus = cfg.ReverbAndChorus
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	return synth, nil
}

// Presets lists the presets of sf ordered by bank then program.
func Presets(sf *meltysynth.SoundFont) []Preset {
	if sf == nil {
		return nil
	}
	presets := make([]Preset, 0, len(sf.Presets))
	for _, p := range sf.Presets {
		presets = append(presets, Preset{
			Bank:    int(p.BankNumber),
			Program: int(p.PatchNumber),
			Name:    p.Name,
		})
	}
	sort.Slice(presets, func(i, j int) bool {
		if presets[i].Bank != presets[j].Bank {
			return presets[i].Bank < presets[j].Bank
		}
		return presets[i].Program < presets[j].Program
	})
	return presets
}

// FindPreset looks a preset up by bank and program.
func FindPreset(presets []Preset, bank, program int) (Preset, bool) {
	for _, p := range presets {
		if p.Bank == bank && p.Program == program {
			return p, true
		}
	}
	return Preset{}, false
}

// FindPresetByName does a case insensitive name match.
func FindPresetByName(presets []Preset, name string) (Preset, bool) {
	for _, p := range presets {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Preset{}, false
}

// NewInstrument binds bank/program in sf, failing if the sound bank has no
// such preset.
func NewInstrument(sf *meltysynth.SoundFont, bank, program int) (Instrument, error) {
	if sf == nil {
		return Instrument{}, rmxerr.ErrNoSoundFont
	}
	if err := checkPreset(bank, program); err != nil {
		return Instrument{}, err
	}
	p, ok := FindPreset(Presets(sf), bank, program)
	if !ok {
		return Instrument{}, fmt.Errorf("bank %d program %d: %w", bank, program, rmxerr.ErrNoInstrument)
	}
	return Instrument{Bank: p.Bank, Program: p.Program, Name: p.Name, SoundFont: sf}, nil
}

func (p Preset) String() string {
	return fmt.Sprintf("%03d:%03d %s", p.Bank, p.Program, p.Name)
}
