// Package engine ties listeners, their instruments and the music that is
// playing together. A listener gets one streaming track per music slot; when
// the slot changes the old track fades out and a new one starts in sync with
// the new reference.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rapidmidiex/rmxsynth/drift"
	"github.com/rapidmidiex/rmxsynth/midi"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
	"github.com/rapidmidiex/rmxsynth/sink"
	"github.com/rapidmidiex/rmxsynth/track"
	"github.com/rapidmidiex/rmxsynth/tracksync"
)

type (
	// Sequences resolves the MIDI file names music slots map to.
	Sequences interface {
		Sequence(name string) (*midi.Sequence, error)
	}

	PlayerFactory func(seq *midi.Sequence, inst midi.Instrument) (*midi.Player, error)

	// SinkFactory creates the output stream for a new track, already
	// connected to whatever device consumes it.
	SinkFactory func() (sink.Sink, error)

	Options struct {
		Sequences Sequences
		NewSink   SinkFactory
		// NewPlayer defaults to midi.NewPlayer with PlayerConfig.
		NewPlayer    PlayerFactory
		PlayerConfig midi.PlayerConfig
		Track        track.Config
		Sync         tracksync.Config
		FadeOut      time.Duration
		Log          *slog.Logger
	}

	// ListenerStatus is what the monitor shows for one listener.
	ListenerStatus struct {
		ID         uuid.UUID
		Instrument string
		Slot       int
		Idle       bool
		Paused     bool
		Track      track.Status
		Drift      drift.Stats
	}

	listener struct {
		id     uuid.UUID
		inst   midi.Instrument
		paused bool
		track  *track.Track
		drift  *drift.Recorder
		// slot and generation of the last start attempt
		slot       int
		generation int
		attempted  bool
	}

	// Controller owns every listener and the fade registry. Its methods are
	// meant for the main goroutine; Current is also called from audio
	// callbacks.
	Controller struct {
		mu        sync.Mutex
		opts      Options
		music     map[int]string
		listeners map[uuid.UUID]*listener
		order     []uuid.UUID
		paused    bool
		fading    *track.FadeRegistry
		main      *MainQueue
		log       *slog.Logger

		refMu      sync.RWMutex
		slot       int
		ref        tracksync.PositionReadable
		generation int
	}
)

var _ tracksync.Source = (*Controller)(nil)

func New(opts Options) (*Controller, error) {
	if opts.Sequences == nil {
		return nil, errors.New("engine: no sequence source")
	}
	if opts.NewSink == nil {
		return nil, errors.New("engine: no sink factory")
	}
	if opts.NewPlayer == nil {
		cfg := opts.PlayerConfig
		opts.NewPlayer = func(seq *midi.Sequence, inst midi.Instrument) (*midi.Player, error) {
			return midi.NewPlayer(seq, inst, cfg)
		}
	}
	if opts.FadeOut <= 0 {
		opts.FadeOut = track.DefaultFadeOut
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Controller{
		opts:      opts,
		music:     map[int]string{},
		listeners: map[uuid.UUID]*listener{},
		fading:    track.NewFadeRegistry(),
		main:      &MainQueue{},
		log:       opts.Log,
	}, nil
}

// Current reports the playing music slot and its reference track.
func (c *Controller) Current() (int, tracksync.PositionReadable) {
	c.refMu.RLock()
	defer c.refMu.RUnlock()
	return c.slot, c.ref
}

// MapMusic sets the MIDI file played over a music slot. Idle listeners try
// again on the next Update.
func (c *Controller) MapMusic(slot int, midiName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if midiName == "" {
		delete(c.music, slot)
	} else {
		c.music[slot] = midiName
	}
	for _, l := range c.listeners {
		l.attempted = false
	}
}

// SetMusic switches the reference. Tracks bound to another slot become
// invalid and are replaced on the next Update. A nil ref means nothing is
// playing.
func (c *Controller) SetMusic(slot int, ref tracksync.PositionReadable) {
	c.refMu.Lock()
	c.slot = slot
	c.ref = ref
	c.generation++
	c.refMu.Unlock()
	c.log.Info("music changed", "slot", slot, "playing", ref != nil)
}

func (c *Controller) currentGeneration() (int, int, tracksync.PositionReadable) {
	c.refMu.RLock()
	defer c.refMu.RUnlock()
	return c.slot, c.generation, c.ref
}

// Activate adds a listener playing inst. A missing sound bank fails at once.
// A listener whose music has no MIDI mapped stays idle until it does.
func (c *Controller) Activate(inst midi.Instrument) (uuid.UUID, error) {
	if inst.SoundFont == nil {
		return uuid.Nil, rmxerr.ErrNoSoundFont
	}
	l := &listener{
		id:    uuid.New(),
		inst:  inst,
		drift: drift.NewRecorder(drift.DefaultWindow),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	l.paused = c.paused
	if err := c.startLocked(l); err != nil && !errors.Is(err, rmxerr.ErrNoMapping) {
		c.log.Error("activate failed", "instrument", inst.Name, "err", err)
		return uuid.Nil, err
	}
	c.listeners[l.id] = l
	c.order = append(c.order, l.id)
	c.log.Info("activated", "listener", l.id, "instrument", inst.Name)
	return l.id, nil
}

// startLocked builds a track for the current slot. rmxerr.ErrNoMapping means
// there is nothing to play yet.
func (c *Controller) startLocked(l *listener) error {
	slot, gen, ref := c.currentGeneration()
	l.slot, l.generation, l.attempted = slot, gen, true
	if ref == nil {
		return fmt.Errorf("no music playing: %w", rmxerr.ErrNoMapping)
	}
	name, ok := c.music[slot]
	if !ok {
		c.log.Debug("no midi for music", "slot", slot)
		return fmt.Errorf("slot %d: %w", slot, rmxerr.ErrNoMapping)
	}

	seq, err := c.opts.Sequences.Sequence(name)
	if err != nil {
		return err
	}
	player, err := c.opts.NewPlayer(seq, l.inst)
	if err != nil {
		return err
	}
	out, err := c.opts.NewSink()
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	syncer := tracksync.New(c, slot, c.opts.Sync)
	t, err := track.New(player, syncer, out, c.main, c.opts.Track, c.log.With("listener", l.id.String()))
	if err != nil {
		out.Close()
		return err
	}
	t.OnDrift(l.drift.Add)
	t.Play()
	if l.paused {
		t.Pause()
	}
	l.track = t
	c.log.Debug("track started", "listener", l.id, "slot", slot, "midi", name)
	return nil
}

// Deactivate fades the listener's track out and forgets the listener.
func (c *Controller) Deactivate(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.listeners[id]
	if !ok {
		return rmxerr.ErrNoListener
	}
	delete(c.listeners, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.retireLocked(l)
	c.log.Info("deactivated", "listener", id)
	return nil
}

func (c *Controller) retireLocked(l *listener) {
	if l.track == nil {
		return
	}
	if !l.track.IsDisposed() {
		c.fading.Add(l.track, c.opts.FadeOut)
	}
	l.track = nil
}

func (c *Controller) Pause(id uuid.UUID) error {
	return c.withListener(id, func(l *listener) {
		l.paused = true
		if l.track != nil {
			l.track.Pause()
		}
	})
}

func (c *Controller) Resume(id uuid.UUID) error {
	return c.withListener(id, func(l *listener) {
		l.paused = false
		if l.track != nil {
			l.track.Resume()
		}
	})
}

// TogglePause flips one listener between paused and playing.
func (c *Controller) TogglePause(id uuid.UUID) error {
	return c.withListener(id, func(l *listener) {
		l.paused = !l.paused
		if l.track == nil {
			return
		}
		if l.paused {
			l.track.Pause()
		} else {
			l.track.Resume()
		}
	})
}

func (c *Controller) PauseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	for _, l := range c.listeners {
		l.paused = true
		if l.track != nil {
			l.track.Pause()
		}
	}
}

func (c *Controller) ResumeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	for _, l := range c.listeners {
		l.paused = false
		if l.track != nil {
			l.track.Resume()
		}
	}
}

func (c *Controller) withListener(id uuid.UUID, fn func(l *listener)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.listeners[id]
	if !ok {
		return rmxerr.ErrNoListener
	}
	fn(l)
	return nil
}

// Update is the per frame tick: it runs queued disposals, replaces tracks
// that lost their reference and drops finished fades. It returns the number
// of tracks still fading.
func (c *Controller) Update() int {
	c.main.Drain()

	c.mu.Lock()
	slot, gen, _ := c.currentGeneration()
	for _, id := range c.order {
		l := c.listeners[id]
		if l.track != nil && (l.track.IsDisposed() || !l.track.IsValid()) {
			c.retireLocked(l)
		}
		if l.track != nil {
			continue
		}
		// retry only when the music changed, not after a failure on the same one
		if l.attempted && l.slot == slot && l.generation == gen {
			continue
		}
		if err := c.startLocked(l); err != nil && !errors.Is(err, rmxerr.ErrNoMapping) {
			c.log.Error("restart failed", "listener", id, "slot", slot, "err", err)
		}
	}
	c.mu.Unlock()

	return c.fading.Update()
}

func (c *Controller) CurrentTime(id uuid.UUID) (float64, error) {
	var t float64
	err := c.withListener(id, func(l *listener) {
		if l.track != nil {
			t = l.track.CurrentTime()
		}
	})
	return t, err
}

func (c *Controller) IsPlaying(id uuid.UUID) bool {
	var playing bool
	c.withListener(id, func(l *listener) {
		playing = l.track != nil && l.track.IsPlaying()
	})
	return playing
}

func (c *Controller) IsValid(id uuid.UUID) bool {
	var valid bool
	c.withListener(id, func(l *listener) {
		valid = l.track != nil && l.track.IsValid()
	})
	return valid
}

// Listeners returns listener ids in activation order.
func (c *Controller) Listeners() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uuid.UUID(nil), c.order...)
}

func (c *Controller) FadingCount() int {
	return c.fading.Len()
}

// Snapshot reports every listener in activation order.
func (c *Controller) Snapshot() []ListenerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ListenerStatus, 0, len(c.order))
	for _, id := range c.order {
		l := c.listeners[id]
		st := ListenerStatus{
			ID:         id,
			Instrument: instrumentName(l.inst),
			Slot:       l.slot,
			Idle:       l.track == nil,
			Paused:     l.paused,
			Drift:      l.drift.Stats(),
		}
		if l.track != nil {
			st.Track = l.track.Status()
		}
		out = append(out, st)
	}
	return out
}

// Close stops every track at once, including fading ones.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, l := range c.listeners {
		if l.track != nil {
			l.track.Stop()
			l.track = nil
		}
	}
	c.listeners = map[uuid.UUID]*listener{}
	c.order = nil
	c.mu.Unlock()

	c.fading.StopAll()
	c.main.Drain()
}

func instrumentName(inst midi.Instrument) string {
	p := midi.Preset{Bank: inst.Bank, Program: inst.Program, Name: inst.Name}
	return p.String()
}
