// Package assets finds sound banks and MIDI files on disk and loads each one
// at most once. Loaded assets are shared read-only between listeners.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/rapidmidiex/rmxsynth/midi"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
)

const (
	SoundFontExt = ".sf2"
	MidiExt      = ".mid"
)

type Library struct {
	mu         sync.Mutex
	sfPaths    map[string]string
	midiPaths  map[string]string
	soundFonts map[string]*meltysynth.SoundFont
	sequences  map[string]*midi.Sequence
	log        *slog.Logger
}

func New(log *slog.Logger) *Library {
	if log == nil {
		log = slog.Default()
	}
	return &Library{
		sfPaths:    map[string]string{},
		midiPaths:  map[string]string{},
		soundFonts: map[string]*meltysynth.SoundFont{},
		sequences:  map[string]*midi.Sequence{},
		log:        log,
	}
}

// Scan registers every *.sf2 under soundFontDir and every *.mid under midiDir
// by base name. Nothing is loaded yet. Missing directories are skipped.
func (l *Library) Scan(soundFontDir, midiDir string) error {
	sfs, err := find(soundFontDir, SoundFontExt)
	if err != nil {
		return err
	}
	mids, err := find(midiDir, MidiExt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for name, path := range sfs {
		l.sfPaths[name] = path
	}
	for name, path := range mids {
		l.midiPaths[name] = path
	}
	l.log.Debug("scanned assets", "soundfonts", len(sfs), "midi", len(mids))
	return nil
}

func find(dir, ext string) (map[string]string, error) {
	found := map[string]string{}
	if dir == "" {
		return found, nil
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			found[d.Name()] = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return found, nil
}

// key accepts a name with or without its extension.
func key(name, ext string) string {
	if strings.EqualFold(filepath.Ext(name), ext) {
		return name
	}
	return name + ext
}

// SoundFont loads the named sound bank on first use.
func (l *Library) SoundFont(name string) (*meltysynth.SoundFont, error) {
	k := key(name, SoundFontExt)
	l.mu.Lock()
	defer l.mu.Unlock()
	if sf, ok := l.soundFonts[k]; ok {
		return sf, nil
	}
	path, ok := l.sfPaths[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, rmxerr.ErrNoSoundFont)
	}
	sf, err := midi.LoadSoundFontFile(path)
	if err != nil {
		return nil, err
	}
	l.soundFonts[k] = sf
	l.log.Info("loaded soundfont", "name", k, "presets", len(sf.Presets))
	return sf, nil
}

// Sequence loads the named MIDI file on first use.
func (l *Library) Sequence(name string) (*midi.Sequence, error) {
	k := key(name, MidiExt)
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq, ok := l.sequences[k]; ok {
		return seq, nil
	}
	path, ok := l.midiPaths[k]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, rmxerr.ErrNoSequence)
	}
	seq, err := midi.ReadSequenceFile(path)
	if err != nil {
		return nil, err
	}
	l.sequences[k] = seq
	l.log.Info("loaded midi", "name", k, "messages", seq.Len(), "duration", seq.Duration)
	return seq, nil
}

// Instrument resolves bank and program in the named sound bank.
func (l *Library) Instrument(soundFont string, bank, program int) (midi.Instrument, error) {
	sf, err := l.SoundFont(soundFont)
	if err != nil {
		return midi.Instrument{}, err
	}
	return midi.NewInstrument(sf, bank, program)
}

// InstrumentByName resolves a preset by name in the named sound bank.
func (l *Library) InstrumentByName(soundFont, preset string) (midi.Instrument, error) {
	sf, err := l.SoundFont(soundFont)
	if err != nil {
		return midi.Instrument{}, err
	}
	p, ok := midi.FindPresetByName(midi.Presets(sf), preset)
	if !ok {
		return midi.Instrument{}, fmt.Errorf("%s in %s: %w", preset, soundFont, rmxerr.ErrNoInstrument)
	}
	return midi.NewInstrument(sf, p.Bank, p.Program)
}

// AddSoundFont registers an already loaded sound bank.
func (l *Library) AddSoundFont(name string, sf *meltysynth.SoundFont) {
	l.mu.Lock()
	l.soundFonts[key(name, SoundFontExt)] = sf
	l.mu.Unlock()
}

// AddSequence registers an already parsed sequence.
func (l *Library) AddSequence(name string, seq *midi.Sequence) {
	l.mu.Lock()
	l.sequences[key(name, MidiExt)] = seq
	l.mu.Unlock()
}

// AddSequenceFile registers a MIDI file outside the scanned directory.
func (l *Library) AddSequenceFile(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	name := filepath.Base(path)
	l.mu.Lock()
	l.midiPaths[key(name, MidiExt)] = path
	l.mu.Unlock()
	return name, nil
}

// SoundFontNames lists known sound banks, loaded or not.
func (l *Library) SoundFontNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return names(l.sfPaths, l.soundFonts)
}

// SequenceNames lists known MIDI files, loaded or not.
func (l *Library) SequenceNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return names(l.midiPaths, l.sequences)
}

func names[T any](paths map[string]string, loaded map[string]T) []string {
	seen := map[string]bool{}
	for k := range paths {
		seen[k] = true
	}
	for k := range loaded {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
