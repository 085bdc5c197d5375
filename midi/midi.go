// Package midi turns a timed MIDI message sequence into SoundFont rendered audio.
package midi

import (
	"fmt"
	"sort"
)

// Command is the upper nibble of a channel voice status byte.
type Command uint8

const (
	NoteOff            Command = 0x80
	NoteOn             Command = 0x90
	PolyphonicPressure Command = 0xA0
	ControlChange      Command = 0xB0
	ProgramChange      Command = 0xC0
	ChannelPressure    Command = 0xD0
	PitchBend          Command = 0xE0
)

// Controller numbers the player treats specially.
const (
	BankSelectMSB = 0
	BankSelectLSB = 32
)

// NumChannels is the number of MIDI channels a synthesizer exposes.
const NumChannels = 16

func (c Command) String() string {
	switch c {
	case NoteOff:
		return "NoteOff"
	case NoteOn:
		return "NoteOn"
	case PolyphonicPressure:
		return "PolyphonicPressure"
	case ControlChange:
		return "ControlChange"
	case ProgramChange:
		return "ProgramChange"
	case ChannelPressure:
		return "ChannelPressure"
	case PitchBend:
		return "PitchBend"
	}
	return fmt.Sprintf("Command(%#x)", uint8(c))
}

// Kind separates channel voice messages from the markers a sequence carries.
type Kind int

const (
	Normal Kind = iota
	TempoChange
	LoopStart
	LoopEnd
	EndOfTrack
)

type (
	// Message is one timed MIDI event. Time is absolute, in seconds.
	Message struct {
		Time    float64
		Kind    Kind
		Command Command
		Channel uint8
		Data1   uint8
		Data2   uint8
	}

	// Sequence is an immutable, time ordered list of messages plus the
	// duration reported by its source.
	Sequence struct {
		Messages []Message
		Duration float64
	}
)

// NewSequence orders msgs by time, keeping the relative order of messages that
// share a timestamp. The duration is raised to the last message time if the
// given one is shorter.
func NewSequence(msgs []Message, duration float64) *Sequence {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})
	if n := len(sorted); n > 0 && sorted[n-1].Time > duration {
		duration = sorted[n-1].Time
	}
	if duration < 0 {
		duration = 0
	}
	return &Sequence{Messages: sorted, Duration: duration}
}

// Len returns the number of messages, markers included.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Messages)
}

// IsNote reports whether m starts or stops a note.
func (m Message) IsNote() bool {
	return m.Kind == Normal && (m.Command == NoteOn || m.Command == NoteOff)
}

// IsBankSelect reports whether m is a bank select controller message.
func (m Message) IsBankSelect() bool {
	return m.Kind == Normal && m.Command == ControlChange &&
		(m.Data1 == BankSelectMSB || m.Data1 == BankSelectLSB)
}

func (m Message) String() string {
	if m.Kind != Normal {
		return fmt.Sprintf("%.3fs marker(%d)", m.Time, m.Kind)
	}
	return fmt.Sprintf("%.3fs %s ch=%d %d %d", m.Time, m.Command, m.Channel, m.Data1, m.Data2)
}
