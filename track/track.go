// Package track streams a MIDI player into an output sink, one buffer per
// buffer needed callback, while following a reference track.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidmidiex/rmxsynth/midi"
	"github.com/rapidmidiex/rmxsynth/pcm"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
	"github.com/rapidmidiex/rmxsynth/sink"
	"github.com/rapidmidiex/rmxsynth/tracksync"
)

// DefaultFadeOut is how long a deactivated track takes to fade to silence.
const DefaultFadeOut = 2 * time.Second

type State int

const (
	Created State = iota
	Preparing
	Playing
	Paused
	FadingOut
	Disposed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Preparing:
		return "preparing"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case FadingOut:
		return "fading"
	case Disposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type (
	// Disposer runs functions on the goroutine that owns host audio resources.
	Disposer interface {
		Enqueue(fn func())
	}

	Config struct {
		SampleRate    int
		BufferSamples int
		Subdivisions  int
		Boost         float32
	}

	// Status is a point in time snapshot of a track.
	Status struct {
		ID           uuid.UUID
		State        State
		Time         float64
		Duration     float64
		Valid        bool
		Pending      int
		Submitted    int
		Fills        int
		Resyncs      int
		Seeks        int
		FadeProgress float64
		ActiveNotes  []midi.Note
	}

	// Track owns a Player, its Synchronizer and an output sink. FillBuffer is
	// driven from the sink's consumer goroutine; every other method is meant
	// for the owning goroutine. Lock order is Track then sink.
	Track struct {
		ID uuid.UUID

		mu       sync.Mutex
		player   *midi.Player
		syncer   *tracksync.Synchronizer
		out      sink.Sink
		disposer Disposer
		cfg      Config
		log      *slog.Logger
		onDrift  func(time.Duration)

		state       State
		pausedFrom  State
		clock       float64
		bufDuration float64

		fadeDuration float64
		fadeElapsed  float64
		// retired is set once no more audio may be submitted
		retired       bool
		disposeQueued bool

		left    []float32
		right   []float32
		pcmBuf  []byte
		silence []byte

		submitted int
		fills     int
		resyncs   int
		seeks     int
	}
)

func DefaultConfig() Config {
	return Config{
		SampleRate:    midi.DefaultSampleRate,
		BufferSamples: 2048,
		Subdivisions:  16,
		Boost:         pcm.DefaultBoost,
	}
}

// New wires player to out and registers FillBuffer as the sink's buffer
// needed callback. disposer may be nil, in which case disposal happens on the
// callback goroutine.
func New(player *midi.Player, synchronizer *tracksync.Synchronizer, out sink.Sink, disposer Disposer, cfg Config, log *slog.Logger) (*Track, error) {
	if player == nil {
		return nil, errors.New("nil player")
	}
	if out == nil {
		return nil, errors.New("nil sink")
	}
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BufferSamples <= 0 {
		cfg.BufferSamples = def.BufferSamples
	}
	if cfg.Subdivisions <= 0 {
		cfg.Subdivisions = def.Subdivisions
	}
	if cfg.Boost <= 0 {
		cfg.Boost = def.Boost
	}
	if log == nil {
		log = slog.Default()
	}

	t := &Track{
		ID:          uuid.New(),
		player:      player,
		syncer:      synchronizer,
		out:         out,
		disposer:    disposer,
		cfg:         cfg,
		bufDuration: float64(cfg.BufferSamples) / float64(cfg.SampleRate),
		left:        make([]float32, cfg.BufferSamples),
		right:       make([]float32, cfg.BufferSamples),
		pcmBuf:      make([]byte, cfg.BufferSamples*pcm.BytesPerFrame),
		silence:     make([]byte, cfg.BufferSamples*pcm.BytesPerFrame),
	}
	t.log = log.With("track", t.ID.String())
	if synchronizer != nil {
		synchronizer.OnResync(t.resynced)
	}
	out.OnBufferNeeded(t.FillBuffer)
	return t, nil
}

// OnDrift registers fn to receive the reference minus local clock on every
// correcting resync. fn runs on the callback goroutine with the track locked.
func (t *Track) OnDrift(fn func(time.Duration)) {
	t.mu.Lock()
	t.onDrift = fn
	t.mu.Unlock()
}

// BufferDuration is the length of one submitted buffer in seconds.
func (t *Track) BufferDuration() float64 { return t.bufDuration }

// Play starts the sink. The player is positioned on the first buffer request.
func (t *Track) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Created {
		return
	}
	t.state = Preparing
	t.out.Play()
}

// Prepare resets the player and seeks to where the reference currently is,
// or to zero without a valid reference.
func (t *Track) Prepare() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Disposed || t.retired {
		return
	}
	t.prepareLocked()
}

func (t *Track) prepareLocked() {
	start := 0.0
	if t.syncer.IsValid() {
		start = t.syncer.StartTime(t.player.TotalDuration())
	}
	t.player.Reset()
	if start > 0 {
		start = t.player.SeekTo(start)
	}
	t.clock = start
	if t.state == Preparing {
		t.state = Playing
	}
	t.log.Debug("prepared", "start", start)
}

// FillBuffer is the buffer needed callback. It submits at most one rendered
// buffer, plus silent filler when far behind the reference. It never panics
// and never blocks on anything but the track and sink locks.
func (t *Track) FillBuffer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("render failed, stopping track", "panic", r)
			t.retireLocked()
		}
	}()

	if t.state == Disposed || t.retired {
		return
	}
	if t.state == FadingOut {
		t.fadeStepLocked()
		return
	}
	if !t.syncer.IsValid() {
		return
	}
	if t.state == Paused && t.pausedFrom == Preparing {
		return
	}
	if t.state == Preparing {
		t.prepareLocked()
	}
	if t.state != Playing && t.state != Paused {
		return
	}

	action := t.syncer.SyncAction(t.out.PendingBufferCount())
	if action == tracksync.Skip {
		return
	}

	duration := t.player.TotalDuration()
	if target := t.syncer.SynchronizedTime(t.clock, duration); target < t.clock {
		t.clock = t.player.SeekTo(target)
		t.seeks++
	} else if target > t.clock {
		t.clock = target
	}

	if action == tracksync.AddWithFill {
		theirs := t.syncer.TargetBufferCount()
		for mine := t.out.PendingBufferCount(); mine < theirs-1; mine++ {
			if !t.submitLocked(t.silence) {
				return
			}
			t.fills++
		}
	}

	start := t.clock
	t.clock += t.bufDuration
	t.player.RenderWithEvents(t.left, t.right, start, t.clock, t.cfg.Subdivisions)
	n := pcm.Convert16(t.left, t.right, t.cfg.Boost, t.pcmBuf)
	t.submitLocked(t.pcmBuf[:n])
}

func (t *Track) fadeStepLocked() {
	t.fadeElapsed += t.bufDuration
	progress := t.fadeProgressLocked()
	if progress >= 1 {
		t.log.Debug("fade out done")
		t.retireLocked()
		return
	}

	t.clock += t.bufDuration
	t.player.Render(t.left, t.right)
	pcm.ApplyGain(t.left, t.right, float32(1-progress))
	n := pcm.Convert16(t.left, t.right, t.cfg.Boost, t.pcmBuf)
	t.submitLocked(t.pcmBuf[:n])
}

func (t *Track) fadeProgressLocked() float64 {
	if t.state != FadingOut {
		return 0
	}
	if t.fadeDuration <= 0 {
		return 1
	}
	p := t.fadeElapsed / t.fadeDuration
	if p > 1 {
		p = 1
	}
	return p
}

func (t *Track) submitLocked(buf []byte) bool {
	if err := t.out.Submit(buf); err != nil {
		if !errors.Is(err, rmxerr.ErrDisposed) {
			t.log.Error("submit failed", "err", err)
		}
		t.retireLocked()
		return false
	}
	t.submitted++
	return true
}

// retireLocked stops the sink and hands disposal to the owning goroutine.
func (t *Track) retireLocked() {
	if t.retired {
		return
	}
	t.retired = true
	t.out.Stop(true)
	t.queueDisposeLocked()
}

func (t *Track) queueDisposeLocked() {
	if t.disposeQueued || t.state == Disposed {
		return
	}
	t.disposeQueued = true
	if t.disposer == nil {
		t.disposeLocked()
		return
	}
	t.disposer.Enqueue(t.Dispose)
}

func (t *Track) resynced(drift float64) {
	t.resyncs++
	if t.onDrift != nil {
		t.onDrift(time.Duration(drift * float64(time.Second)))
	}
}

// StopWithFadeOut releases every note and fades the track out over d, after
// which it stops and is disposed. d <= 0 uses DefaultFadeOut.
func (t *Track) StopWithFadeOut(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Disposed || t.state == FadingOut || t.retired {
		return
	}
	if t.state == Created {
		// nothing was ever pulled from the sink
		t.retireLocked()
		return
	}
	if d <= 0 {
		d = DefaultFadeOut
	}
	if t.state == Paused {
		t.out.Resume()
	}
	t.player.StopAllNotes()
	t.state = FadingOut
	t.fadeDuration = d.Seconds()
	t.fadeElapsed = 0
	t.log.Debug("fading out", "duration", d)
}

// Stop halts the sink at once and disposes the track. It must be called on
// the owning goroutine.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Disposed {
		return
	}
	t.retired = true
	t.out.Stop(true)
	t.disposeLocked()
}

func (t *Track) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Playing && t.state != Preparing {
		return
	}
	t.pausedFrom = t.state
	t.state = Paused
	t.out.Pause()
}

func (t *Track) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Paused {
		return
	}
	t.state = t.pausedFrom
	t.out.Resume()
}

// Reuse rewinds the track for another run on the same sink, optionally bound
// to a new synchronizer. The next buffer request prepares it again.
func (t *Track) Reuse(synchronizer *tracksync.Synchronizer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Disposed || t.disposeQueued {
		return rmxerr.ErrDisposed
	}
	if synchronizer != nil {
		t.syncer = synchronizer
		synchronizer.OnResync(t.resynced)
	}
	if t.syncer != nil {
		t.syncer.Reset()
	}
	t.player.Reset()
	t.clock = 0
	t.fadeDuration, t.fadeElapsed = 0, 0
	t.retired = false
	t.out.Stop(true)
	t.out.Play()
	t.state = Preparing
	return nil
}

// Dispose releases the sink. It is idempotent and must run on the owning
// goroutine.
func (t *Track) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disposeLocked()
}

func (t *Track) disposeLocked() {
	if t.state == Disposed {
		return
	}
	t.state = Disposed
	t.retired = true
	t.out.OnBufferNeeded(nil)
	if err := t.out.Close(); err != nil {
		t.log.Warn("failed to close sink", "err", err)
	}
	t.log.Debug("disposed")
}

// SeekTo moves the clock to seconds, replaying controller state silently.
func (t *Track) SeekTo(seconds float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Disposed {
		return t.clock
	}
	t.clock = t.player.SeekTo(seconds)
	t.seeks++
	return t.clock
}

func (t *Track) CurrentTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock
}

func (t *Track) TotalDuration() float64 {
	return t.player.TotalDuration()
}

func (t *Track) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsValid reports whether the track's reference is still the one playing.
func (t *Track) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syncer.IsValid()
}

func (t *Track) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Playing || t.state == Preparing
}

func (t *Track) IsDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Disposed
}

func (t *Track) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		ID:           t.ID,
		State:        t.state,
		Time:         t.clock,
		Duration:     t.player.TotalDuration(),
		Valid:        t.syncer.IsValid(),
		Pending:      t.out.PendingBufferCount(),
		Submitted:    t.submitted,
		Fills:        t.fills,
		Resyncs:      t.resyncs,
		Seeks:        t.seeks,
		FadeProgress: t.fadeProgressLocked(),
		ActiveNotes:  t.player.ActiveNotes(),
	}
}
