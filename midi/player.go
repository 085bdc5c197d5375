package midi

import (
	"errors"
	"fmt"

	"github.com/rapidmidiex/rmxsynth/rmxerr"
)

const (
	DefaultSampleRate = 44100
	// SeekSnap is the distance from the start below which a seek lands on zero.
	SeekSnap = 0.05

	ccAllSoundOff = 120
	ccAllNotesOff = 123

	// backwardEpsilon absorbs float noise when comparing render start times
	// against the cursor position.
	backwardEpsilon = 1e-9
)

// Synthesizer is the subset of meltysynth.Synthesizer a Player drives.
type Synthesizer interface {
	ProcessMidiMessage(channel int32, command int32, data1 int32, data2 int32)
	NoteOffAll(immediate bool)
	Reset()
	Render(left []float32, right []float32)
}

type (
	PlayerConfig struct {
		SampleRate      int
		ReverbAndChorus bool
		// KeepFileInstruments lets program changes and bank selects from the
		// sequence through instead of pinning every channel to the bound
		// instrument.
		KeepFileInstruments bool
		// SeekSnap is honored as is, zero included. Negative means SeekSnap.
		SeekSnap float64
	}

	// Note identifies a sounding key.
	Note struct {
		Channel uint8
		Key     uint8
	}

	// Player applies a Sequence to a synthesizer and renders audio from it.
	// A Player is not safe for concurrent use; the owning track serializes
	// access to it.
	Player struct {
		seq      *Sequence
		synth    Synthesizer
		inst     Instrument
		cursor   *Cursor
		override bool
		seekSnap float64
		active   [NumChannels][128]bool
		nActive  int
	}
)

func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:      DefaultSampleRate,
		ReverbAndChorus: true,
		SeekSnap:        SeekSnap,
	}
}

// NewPlayer builds a meltysynth synthesizer on the instrument's sound bank and
// binds it to seq.
func NewPlayer(seq *Sequence, inst Instrument, cfg PlayerConfig) (*Player, error) {
	if inst.SoundFont == nil {
		return nil, rmxerr.ErrNoSoundFont
	}
	synth, err := NewMeltySynth(inst.SoundFont, cfg)
	if err != nil {
		return nil, err
	}
	return NewPlayerWithSynthesizer(seq, inst, synth, cfg)
}

// NewPlayerWithSynthesizer binds seq to an already constructed synthesizer.
// Unless cfg.KeepFileInstruments is set, every channel is switched to the
// instrument and bank/program messages from seq are dropped from then on.
func NewPlayerWithSynthesizer(seq *Sequence, inst Instrument, synth Synthesizer, cfg PlayerConfig) (*Player, error) {
	if seq == nil {
		return nil, rmxerr.ErrNoSequence
	}
	if synth == nil {
		return nil, errors.New("nil synthesizer")
	}
	if err := checkPreset(inst.Bank, inst.Program); err != nil {
		return nil, fmt.Errorf("instrument %q: %w", inst.Name, err)
	}

	p := &Player{
		seq:      seq,
		synth:    synth,
		inst:     inst,
		override: !cfg.KeepFileInstruments,
		seekSnap: cfg.SeekSnap,
	}
	if p.seekSnap < 0 {
		p.seekSnap = SeekSnap
	}
	p.cursor = NewCursor(seq, p)
	p.applyOverride()
	return p, nil
}

// Send applies one channel message to the synthesizer, honoring the
// instrument override.
func (p *Player) Send(m Message) {
	ch, cmd := int32(m.Channel), int32(m.Command)
	d1, d2 := int32(m.Data1), int32(m.Data2)

	switch m.Command {
	case NoteOn:
		p.mark(m.Channel, m.Data1, m.Data2 > 0)
		p.synth.ProcessMidiMessage(ch, cmd, d1, d2)
	case NoteOff:
		p.mark(m.Channel, m.Data1, false)
		p.synth.ProcessMidiMessage(ch, cmd, d1, d2)
	case ControlChange:
		if p.override && m.IsBankSelect() {
			return
		}
		p.synth.ProcessMidiMessage(ch, cmd, d1, d2)
		if m.Data1 == ccAllNotesOff || m.Data1 == ccAllSoundOff {
			p.clearChannel(m.Channel)
		}
	case ProgramChange:
		if p.override {
			return
		}
		p.synth.ProcessMidiMessage(ch, cmd, d1, 0)
	case PolyphonicPressure, ChannelPressure, PitchBend:
		p.synth.ProcessMidiMessage(ch, cmd, d1, d2)
	}
}

// RenderWithEvents renders len(left) samples covering [start, end). The range
// is split into subdivisions chunks and pending messages are applied before
// each chunk, so events land with sub-buffer accuracy.
//
// A start after end means playback wrapped; the player resets and renders
// from zero. A start behind what the cursor already consumed is treated as a
// seek to start, so stale notes are never replayed out of order.
func (p *Player) RenderWithEvents(left, right []float32, start, end float64, subdivisions int) {
	switch {
	case start > end:
		p.Reset()
		start = 0
	case start < p.cursor.Reached()-backwardEpsilon:
		start = p.SeekTo(start)
	}

	total := len(left)
	if len(right) < total {
		total = len(right)
	}
	if total == 0 {
		return
	}
	if subdivisions < 1 {
		subdivisions = 1
	}
	size := total / subdivisions
	if size < 1 {
		size = 1
	}

	perSample := (end - start) / float64(total)
	for done := 0; done < total; {
		n := size
		if rest := total - done; rest < n {
			n = rest
		}
		p.cursor.ProcessUntil(start+float64(done)*perSample, false)
		p.synth.Render(left[done:done+n], right[done:done+n])
		done += n
	}
}

// Render renders one block without touching the event stream. Used while
// fading out, when only release tails are left.
func (p *Player) Render(left, right []float32) {
	p.synth.Render(left, right)
}

// SeekTo moves playback to t seconds and returns where it landed. t is
// clamped to [0, TotalDuration] and values closer to zero than the seek snap
// become zero. Program and controller state up to t is replayed silently.
func (p *Player) SeekTo(t float64) float64 {
	if t < p.seekSnap {
		t = 0
	}
	if d := p.TotalDuration(); t > d {
		t = d
	}
	p.Reset()
	p.cursor.ProcessUntil(t, true)
	return t
}

// Reset silences the synthesizer, rewinds the cursor and reapplies the
// instrument override.
func (p *Player) Reset() {
	p.synth.Reset()
	p.cursor.Reset()
	p.clearAll()
	p.applyOverride()
}

// StopAllNotes releases every sounding note without moving the cursor. Notes
// decay through their release envelopes.
func (p *Player) StopAllNotes() {
	p.synth.NoteOffAll(false)
	p.clearAll()
}

// SetChannelInstrument sends bank select and program change for one channel.
//
// meltysynth takes the whole bank number from CC0 and ignores CC32, so the
// bank goes out as a single CC0 value capped at 127. On channel 9 meltysynth
// adds 128 to whatever bank it receives.
func (p *Player) SetChannelInstrument(channel, bank, program int) error {
	if channel < 0 || channel >= NumChannels {
		return rmxerr.ErrBadChannel
	}
	if err := checkPreset(bank, program); err != nil {
		return err
	}
	if bank > 127 {
		bank = 127
	}
	ch := int32(channel)
	p.synth.ProcessMidiMessage(ch, int32(ControlChange), BankSelectMSB, int32(bank))
	p.synth.ProcessMidiMessage(ch, int32(ProgramChange), int32(program), 0)
	return nil
}

// SetAllChannelsInstrument calls SetChannelInstrument on every channel.
func (p *Player) SetAllChannelsInstrument(bank, program int) error {
	for ch := 0; ch < NumChannels; ch++ {
		if err := p.SetChannelInstrument(ch, bank, program); err != nil {
			return err
		}
	}
	return nil
}

// TotalDuration is the sequence length in seconds. Rendering past it is fine
// and yields release tails and then silence.
func (p *Player) TotalDuration() float64 { return p.seq.Duration }

func (p *Player) Instrument() Instrument { return p.inst }

// CursorIndex is the index of the next message to be applied.
func (p *Player) CursorIndex() int { return p.cursor.Index() }

// Reached is the latest time events have been applied up to.
func (p *Player) Reached() float64 { return p.cursor.Reached() }

// ActiveNotes lists keys that received a note on without a matching note off.
func (p *Player) ActiveNotes() []Note {
	if p.nActive == 0 {
		return nil
	}
	notes := make([]Note, 0, p.nActive)
	for ch := range p.active {
		for key, on := range p.active[ch] {
			if on {
				notes = append(notes, Note{Channel: uint8(ch), Key: uint8(key)})
			}
		}
	}
	return notes
}

func (p *Player) applyOverride() {
	if !p.override {
		return
	}
	// bank and program were validated at construction
	_ = p.SetAllChannelsInstrument(p.inst.Bank, p.inst.Program)
}

func (p *Player) mark(channel, key uint8, on bool) {
	if channel >= NumChannels || key > 127 {
		return
	}
	if p.active[channel][key] == on {
		return
	}
	p.active[channel][key] = on
	if on {
		p.nActive++
	} else {
		p.nActive--
	}
}

func (p *Player) clearChannel(channel uint8) {
	if channel >= NumChannels {
		return
	}
	for key := range p.active[channel] {
		p.mark(channel, uint8(key), false)
	}
}

func (p *Player) clearAll() {
	p.active = [NumChannels][128]bool{}
	p.nActive = 0
}

func checkPreset(bank, program int) error {
	if bank < 0 {
		return rmxerr.ErrBadBank
	}
	if program < 0 || program > 127 {
		return rmxerr.ErrBadProgram
	}
	return nil
}
