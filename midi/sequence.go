package midi

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	metaStatus     = 0xFF
	metaTempo      = 0x51
	metaMarker     = 0x06
	metaEndOfTrack = 0x2F
)

// ReadSequence parses a Standard MIDI File. Tempo changes are resolved so that
// every message carries an absolute time in seconds.
func ReadSequence(r io.Reader) (*Sequence, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}

	var msgs []Message
	rd := smf.ReadTracksFrom(bytes.NewReader(data)).Do(func(te smf.TrackEvent) {
		if m, ok := convert(te.Message, float64(te.AbsMicroSeconds)/1e6); ok {
			msgs = append(msgs, m)
		}
	})
	if err := rd.Error(); err != nil {
		return nil, fmt.Errorf("parse midi: %w", err)
	}

	// The synthesizer's own reader reports the playable length; prefer it when
	// it parses since it is what a file-driven sequencer would loop on.
	duration := 0.0
	if mf, err := meltysynth.NewMidiFile(bytes.NewReader(data)); err == nil {
		duration = mf.GetLength().Seconds()
	}
	return NewSequence(msgs, duration), nil
}

// ReadSequenceFile is ReadSequence on a file path.
func ReadSequenceFile(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSequence(f)
}

func convert(raw []byte, at float64) (Message, bool) {
	if len(raw) == 0 {
		return Message{}, false
	}
	status := raw[0]
	if status == metaStatus {
		if len(raw) < 2 {
			return Message{}, false
		}
		switch raw[1] {
		case metaTempo:
			return Message{Time: at, Kind: TempoChange}, true
		case metaEndOfTrack:
			return Message{Time: at, Kind: EndOfTrack}, true
		case metaMarker:
			text := strings.ToLower(string(metaPayload(raw)))
			switch text {
			case "loopstart":
				return Message{Time: at, Kind: LoopStart}, true
			case "loopend":
				return Message{Time: at, Kind: LoopEnd}, true
			}
		}
		return Message{}, false
	}
	if status < 0x80 || status >= 0xF0 {
		// sysex and system common carry nothing the synthesizer uses
		return Message{}, false
	}

	m := Message{
		Time:    at,
		Kind:    Normal,
		Command: Command(status & 0xF0),
		Channel: status & 0x0F,
	}
	if len(raw) > 1 {
		m.Data1 = raw[1]
	}
	if len(raw) > 2 {
		m.Data2 = raw[2]
	}
	return m, true
}

// metaPayload skips the meta type and its variable length size prefix.
func metaPayload(raw []byte) []byte {
	i := 2
	for i < len(raw) && raw[i]&0x80 != 0 {
		i++
	}
	i++
	if i > len(raw) {
		return nil
	}
	return raw[i:]
}
