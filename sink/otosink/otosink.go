// Package otosink plays sink queues on the default audio device through oto.
// Importing it links oto, which needs cgo and the platform audio headers.
package otosink

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

const channelCount = 2

// Output plays readers on the default audio device. Each attached reader
// gets its own oto player; oto mixes them.
type Output struct {
	ctx     *oto.Context
	players []*oto.Player
}

// New opens the device for PCM16 stereo at sampleRate. bufferSamples
// sets the device side buffer length.
func New(sampleRate, bufferSamples int) (*Output, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	if bufferSamples > 0 {
		op.BufferSize = time.Duration(bufferSamples) * time.Second / time.Duration(sampleRate)
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &Output{ctx: ctx}, nil
}

// Attach starts pulling from r.
func (o *Output) Attach(r io.Reader) {
	p := o.ctx.NewPlayer(r)
	p.Play()
	o.players = append(o.players, p)
}

// Suspend pauses the device for every attached reader.
func (o *Output) Suspend() error {
	return o.ctx.Suspend()
}

func (o *Output) Resume() error {
	return o.ctx.Resume()
}

// Close stops every player. The context itself lives until the process exits.
func (o *Output) Close() error {
	for _, p := range o.players {
		p.Pause()
	}
	o.players = nil
	return nil
}
