package midi

import (
	"fmt"
	"time"

	"github.com/rapidmidiex/rmxsynth/pcm"
)

// MidiStreamer renders a Player as a beep.StreamSeeker, for offline rendering.
type MidiStreamer struct {
	player       *Player
	sampleRate   int
	subdivisions int
	boost        float32
	pos          int
	length       int
	left         []float32
	right        []float32
}

// NewMIDIStreamer streams the whole sequence plus tail of release time.
func NewMIDIStreamer(p *Player, sampleRate, subdivisions int, boost float32, tail time.Duration) *MidiStreamer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	length := int((p.TotalDuration() + tail.Seconds()) * float64(sampleRate))
	p.Reset()
	return &MidiStreamer{
		player:       p,
		sampleRate:   sampleRate,
		subdivisions: subdivisions,
		boost:        boost,
		length:       length,
	}
}

// Stream implements beep.Streamer.
func (ms *MidiStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if ms.pos >= ms.length {
		return 0, false
	}
	n = len(samples)
	if rest := ms.length - ms.pos; rest < n {
		n = rest
	}
	if cap(ms.left) < n {
		ms.left = make([]float32, n)
		ms.right = make([]float32, n)
	}
	left, right := ms.left[:n], ms.right[:n]

	start := float64(ms.pos) / float64(ms.sampleRate)
	end := float64(ms.pos+n) / float64(ms.sampleRate)
	ms.player.RenderWithEvents(left, right, start, end, ms.subdivisions)

	for i := 0; i < n; i++ {
		samples[i][0] = float64(pcm.Amplify(left[i], ms.boost))
		samples[i][1] = float64(pcm.Amplify(right[i], ms.boost))
	}
	ms.pos += n
	return n, true
}

// Len returns the total number of samples of the Streamer.
func (ms *MidiStreamer) Len() int {
	return ms.length
}

// Position returns the current position of the Streamer.
func (ms *MidiStreamer) Position() int {
	return ms.pos
}

// Seek sets the position of the Streamer to the provided value.
func (ms *MidiStreamer) Seek(p int) error {
	if p < 0 || p > ms.length {
		return fmt.Errorf("p is out of range: %d", p)
	}
	ms.player.SeekTo(float64(p) / float64(ms.sampleRate))
	ms.pos = p
	return nil
}

func (ms *MidiStreamer) Err() error {
	return nil
}
