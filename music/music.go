// Package music streams a decoded WAV file as the reference track listeners
// follow.
package music

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/rapidmidiex/rmxsynth/pcm"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
	"github.com/rapidmidiex/rmxsynth/sink"
)

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

type (
	Options struct {
		// SampleRate of the output. Files at other rates are resampled.
		SampleRate int
		// BufferFrames per submitted buffer.
		BufferFrames int
		// Loop rewinds to the start at the end of the file.
		Loop bool
		// LowWater is passed to the queue. Zero means sink.DefaultLowWater.
		LowWater int
	}

	// Track decodes into its own sink.Queue one buffer per request. It reports
	// the decoder position, so it reads slightly ahead of what is audible by
	// however many buffers are pending.
	Track struct {
		Name string

		mu      sync.Mutex
		decoder beep.StreamSeekCloser
		format  beep.Format
		stream  beep.Streamer
		opts    Options
		queue   *sink.Queue
		frames  [][2]float64
		pcmBuf  []byte
		ended   bool
		closed  bool
		loops   int
		log     *slog.Logger
	}
)

// Open decodes the WAV file at path.
func Open(path string, opts Options, log *slog.Logger) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	decoder, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = int(format.SampleRate)
	}
	if opts.BufferFrames <= 0 {
		opts.BufferFrames = 2048
	}
	if opts.LowWater <= 0 {
		opts.LowWater = sink.DefaultLowWater
	}
	if log == nil {
		log = slog.Default()
	}

	t := &Track{
		Name:    path,
		decoder: decoder,
		format:  format,
		opts:    opts,
		queue:   sink.NewQueue(),
		frames:  make([][2]float64, opts.BufferFrames),
		pcmBuf:  make([]byte, opts.BufferFrames*pcm.BytesPerFrame),
		log:     log.With("music", path),
	}
	t.stream = t.resampled()
	t.queue.SetLowWater(opts.LowWater)
	t.queue.OnBufferNeeded(t.FillBuffer)
	return t, nil
}

func (t *Track) resampled() beep.Streamer {
	if int(t.format.SampleRate) == t.opts.SampleRate {
		return t.decoder
	}
	return beep.Resample(resampleQuality, t.format.SampleRate, beep.SampleRate(t.opts.SampleRate), t.decoder)
}

// rewindLocked seeks the decoder to frame and drops any resampler state.
func (t *Track) rewindLocked(frame int) error {
	if err := t.decoder.Seek(frame); err != nil {
		return err
	}
	t.stream = t.resampled()
	t.ended = false
	return nil
}

// FillBuffer decodes and submits the next buffer. At the end of the file it
// loops or lets the queue drain.
func (t *Track) FillBuffer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.ended {
		return
	}

	n := 0
	rewound := false
	for n < len(t.frames) {
		k, ok := t.stream.Stream(t.frames[n:])
		n += k
		if ok && k > 0 {
			rewound = false
			continue
		}
		if err := t.stream.Err(); err != nil {
			t.log.Error("decode", "err", err)
			t.ended = true
			break
		}
		if !t.opts.Loop || rewound {
			t.ended = true
			break
		}
		if err := t.rewindLocked(0); err != nil {
			t.log.Error("rewind", "err", err)
			t.ended = true
			break
		}
		t.loops++
		rewound = true
	}

	if n > 0 {
		size := pcm.ConvertFrames(t.frames[:n], 1, t.pcmBuf)
		if err := t.queue.Submit(t.pcmBuf[:size]); err != nil {
			t.log.Debug("submit", "err", err)
		}
	}
	if t.ended {
		t.queue.Stop(false)
	}
}

// Position is the decoder position in seconds.
func (t *Track) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.SampleRate.D(t.decoder.Position()).Seconds()
}

func (t *Track) PendingBufferCount() int {
	return t.queue.PendingBufferCount()
}

// Duration of the file in seconds.
func (t *Track) Duration() float64 {
	return t.format.SampleRate.D(t.decoder.Len()).Seconds()
}

// Loops counts how many times the track wrapped around.
func (t *Track) Loops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loops
}

// Queue is the stream to hand to an output device.
func (t *Track) Queue() *sink.Queue {
	return t.queue
}

// Play starts the queue and primes it.
func (t *Track) Play() {
	t.queue.Play()
	t.prime()
}

func (t *Track) prime() {
	for i := 0; i < t.opts.LowWater; i++ {
		t.queue.Pump()
	}
}

func (t *Track) Pause()  { t.queue.Pause() }
func (t *Track) Resume() { t.queue.Resume() }

// SeekTo jumps to seconds, dropping whatever was queued.
func (t *Track) SeekTo(seconds float64) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return rmxerr.ErrDisposed
	}
	frame := t.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if frame < 0 {
		frame = 0
	}
	if l := t.decoder.Len(); frame > l {
		frame = l
	}
	err := t.rewindLocked(frame)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	playing := t.queue.State() == sink.Playing
	t.queue.Stop(true)
	if playing {
		t.Play()
	}
	return nil
}

// Close stops playback and releases the file.
func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.queue.Close()
	if err := t.decoder.Close(); err != nil {
		return err
	}
	return nil
}
