package engine_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sinshu/go-meltysynth/meltysynth"
	"github.com/stretchr/testify/require"

	"github.com/rapidmidiex/rmxsynth/assets"
	"github.com/rapidmidiex/rmxsynth/engine"
	"github.com/rapidmidiex/rmxsynth/midi"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
	"github.com/rapidmidiex/rmxsynth/sink"
	"github.com/rapidmidiex/rmxsynth/track"
	"github.com/rapidmidiex/rmxsynth/tracksync"
)

type (
	silentSynth struct{}

	reference struct {
		pos     float64
		pending int
	}

	harness struct {
		c     *engine.Controller
		lib   *assets.Library
		sinks []*sink.Queue
	}
)

func (silentSynth) ProcessMidiMessage(ch, cmd, d1, d2 int32) {}
func (silentSynth) NoteOffAll(immediate bool)                {}
func (silentSynth) Reset()                                   {}
func (silentSynth) Render(left, right []float32) {
	for i := range left {
		left[i], right[i] = 0, 0
	}
}

func (r *reference) Position() float64       { return r.pos }
func (r *reference) PendingBufferCount() int { return r.pending }

var piano = midi.Instrument{Name: "Piano", SoundFont: &meltysynth.SoundFont{}}

func tenSeconds() *midi.Sequence {
	return midi.NewSequence([]midi.Message{
		{Time: 0, Command: midi.NoteOn, Data1: 60, Data2: 100},
		{Time: 9, Command: midi.NoteOff, Data1: 60},
	}, 10)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{lib: assets.New(nil)}
	h.lib.AddSequence("a.mid", tenSeconds())
	h.lib.AddSequence("b.mid", tenSeconds())

	c, err := engine.New(engine.Options{
		Sequences: h.lib,
		NewSink: func() (sink.Sink, error) {
			q := sink.NewQueue()
			h.sinks = append(h.sinks, q)
			return q, nil
		},
		NewPlayer: func(seq *midi.Sequence, inst midi.Instrument) (*midi.Player, error) {
			return midi.NewPlayerWithSynthesizer(seq, inst, silentSynth{}, midi.PlayerConfig{SampleRate: 1000, SeekSnap: midi.SeekSnap})
		},
		Track:   track.Config{SampleRate: 1000, BufferSamples: 10, Subdivisions: 2, Boost: 1},
		Sync:    tracksync.DefaultConfig(),
		FadeOut: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	h.c = c
	t.Cleanup(c.Close)
	return h
}

// pull consumes one buffer from q the way an output device would.
func pull(q *sink.Queue) error {
	_, err := q.Read(make([]byte, 10*4))
	return err
}

// fadeOut pulls from q until its track stops submitting.
func fadeOut(t *testing.T, q *sink.Queue) {
	t.Helper()
	for i := 0; i < 20 && q.State() != sink.Stopped; i++ {
		require.NoError(t, pull(q))
	}
	require.Equal(t, sink.Stopped, q.State())
}

func status(t *testing.T, c *engine.Controller, id uuid.UUID) engine.ListenerStatus {
	t.Helper()
	for _, st := range c.Snapshot() {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("listener %s not found", id)
	return engine.ListenerStatus{}
}

func TestNew(t *testing.T) {
	_, err := engine.New(engine.Options{})
	require.Error(t, err)
	_, err = engine.New(engine.Options{Sequences: assets.New(nil)})
	require.Error(t, err)
}

func TestActivate(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.Activate(midi.Instrument{Name: "nothing"})
	require.ErrorIs(t, err, rmxerr.ErrNoSoundFont)
	require.Empty(t, h.c.Listeners())

	id, err := h.c.Activate(piano)
	require.NoError(t, err)
	st := status(t, h.c, id)
	require.True(t, st.Idle, "no music yet")
	require.Equal(t, "000:000 Piano", st.Instrument)
	require.Empty(t, h.sinks)
	require.False(t, h.c.IsPlaying(id))

	h.c.MapMusic(1, "a.mid")
	h.c.SetMusic(1, &reference{pending: 1})
	h.c.Update()
	require.Len(t, h.sinks, 1)
	require.True(t, h.c.IsPlaying(id))
	require.True(t, h.c.IsValid(id))

	require.NoError(t, pull(h.sinks[0]))
	st = status(t, h.c, id)
	require.False(t, st.Idle)
	require.Equal(t, 1, st.Slot)
	require.Equal(t, track.Playing, st.Track.State)
	require.Equal(t, 1, st.Track.Submitted)

	now, err := h.c.CurrentTime(id)
	require.NoError(t, err)
	require.InDelta(t, 0.01, now, 1e-9)
}

func TestActivateFailure(t *testing.T) {
	h := newHarness(t)
	h.c.MapMusic(1, "missing.mid")
	h.c.SetMusic(1, &reference{})

	_, err := h.c.Activate(piano)
	require.ErrorIs(t, err, rmxerr.ErrNoSequence)
	require.Empty(t, h.c.Listeners())

	bad := midi.Instrument{Name: "bad", Program: 200, SoundFont: &meltysynth.SoundFont{}}
	h.c.MapMusic(1, "a.mid")
	_, err = h.c.Activate(bad)
	require.Error(t, err)
	require.Empty(t, h.c.Listeners())
}

func TestSlotChange(t *testing.T) {
	h := newHarness(t)
	h.c.MapMusic(1, "a.mid")
	h.c.MapMusic(2, "b.mid")
	h.c.SetMusic(1, &reference{pending: 1})

	id, err := h.c.Activate(piano)
	require.NoError(t, err)
	require.Len(t, h.sinks, 1, "started right away")
	require.NoError(t, pull(h.sinks[0]))

	h.c.SetMusic(2, &reference{pos: 4, pending: 1})
	require.False(t, h.c.IsValid(id))

	require.Equal(t, 1, h.c.Update(), "old track fades")
	require.Len(t, h.sinks, 2)
	require.True(t, h.c.IsValid(id))
	require.Equal(t, 2, status(t, h.c, id).Slot)

	require.NoError(t, pull(h.sinks[1]))
	now, err := h.c.CurrentTime(id)
	require.NoError(t, err)
	require.InDelta(t, 4.01, now, 1e-9, "new track starts where the music is")

	fadeOut(t, h.sinks[0])
	require.Zero(t, h.c.Update(), "disposal ran on update")
	require.ErrorIs(t, pull(h.sinks[0]), io.EOF)

	t.Run("music without midi leaves the listener idle", func(t *testing.T) {
		h.c.SetMusic(3, &reference{pending: 1})
		require.Equal(t, 1, h.c.Update())
		require.True(t, status(t, h.c, id).Idle)
		require.Len(t, h.sinks, 2)

		h.c.Update()
		require.Len(t, h.sinks, 2, "no retry without a change")

		h.c.MapMusic(3, "a.mid")
		h.c.Update()
		require.Len(t, h.sinks, 3)
		require.False(t, status(t, h.c, id).Idle)
	})
}

func TestDeactivate(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.c.Deactivate(uuid.New()), rmxerr.ErrNoListener)

	idle, err := h.c.Activate(piano)
	require.NoError(t, err)
	require.NoError(t, h.c.Deactivate(idle))
	require.Zero(t, h.c.FadingCount())

	h.c.MapMusic(1, "a.mid")
	h.c.SetMusic(1, &reference{pending: 1})
	id, err := h.c.Activate(piano)
	require.NoError(t, err)
	require.NoError(t, pull(h.sinks[0]))

	require.NoError(t, h.c.Deactivate(id))
	require.Equal(t, 1, h.c.FadingCount())
	require.Empty(t, h.c.Listeners())
	require.ErrorIs(t, h.c.Deactivate(id), rmxerr.ErrNoListener)
	_, err = h.c.CurrentTime(id)
	require.ErrorIs(t, err, rmxerr.ErrNoListener)

	fadeOut(t, h.sinks[0])
	require.Zero(t, h.c.Update())
}

func TestPause(t *testing.T) {
	h := newHarness(t)
	h.c.MapMusic(1, "a.mid")
	h.c.SetMusic(1, &reference{pending: 1})

	a, err := h.c.Activate(piano)
	require.NoError(t, err)
	b, err := h.c.Activate(piano)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a, b}, h.c.Listeners())

	require.NoError(t, h.c.Pause(a))
	require.True(t, status(t, h.c, a).Paused)
	require.Equal(t, track.Paused, status(t, h.c, a).Track.State)
	require.False(t, h.c.IsPlaying(a))
	require.True(t, h.c.IsPlaying(b))

	require.NoError(t, h.c.TogglePause(a))
	require.True(t, h.c.IsPlaying(a))

	h.c.PauseAll()
	require.False(t, h.c.IsPlaying(a))
	require.False(t, h.c.IsPlaying(b))

	late, err := h.c.Activate(piano)
	require.NoError(t, err)
	require.Equal(t, track.Paused, status(t, h.c, late).Track.State, "joins paused")

	h.c.ResumeAll()
	for _, id := range h.c.Listeners() {
		require.True(t, h.c.IsPlaying(id))
		require.False(t, status(t, h.c, id).Paused)
	}

	require.ErrorIs(t, h.c.Pause(uuid.New()), rmxerr.ErrNoListener)
	require.ErrorIs(t, h.c.Resume(uuid.New()), rmxerr.ErrNoListener)
}

func TestDrift(t *testing.T) {
	h := newHarness(t)
	h.c.MapMusic(1, "a.mid")
	ref := &reference{pending: 1}
	h.c.SetMusic(1, ref)

	id, err := h.c.Activate(piano)
	require.NoError(t, err)
	require.NoError(t, pull(h.sinks[0]))

	ref.pos = 5
	for i := 0; i < 9; i++ {
		require.NoError(t, pull(h.sinks[0]))
	}

	st := status(t, h.c, id)
	require.Equal(t, 1, st.Drift.Count)
	require.Equal(t, 1, st.Track.Resyncs)
	require.InDelta(t, 4.91, st.Drift.Latest.Seconds(), 1e-6)
	require.InDelta(t, 5.01, st.Track.Time, 1e-9)
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.c.MapMusic(1, "a.mid")
	h.c.SetMusic(1, &reference{pending: 1})

	a, err := h.c.Activate(piano)
	require.NoError(t, err)
	_, err = h.c.Activate(piano)
	require.NoError(t, err)
	require.NoError(t, h.c.Deactivate(a))

	h.c.Close()
	require.Empty(t, h.c.Listeners())
	require.Zero(t, h.c.FadingCount())
	for _, q := range h.sinks {
		require.True(t, errors.Is(pull(q), io.EOF))
	}
}

func TestMainQueue(t *testing.T) {
	var q engine.MainQueue
	var got []int
	q.Enqueue(func() { got = append(got, 1) })
	q.Enqueue(nil)
	q.Enqueue(func() {
		got = append(got, 2)
		q.Enqueue(func() { got = append(got, 3) })
	})
	require.Equal(t, 2, q.Len())

	require.Equal(t, 2, q.Drain())
	require.Equal(t, []int{1, 2}, got)
	require.Equal(t, 1, q.Drain())
	require.Equal(t, []int{1, 2, 3}, got)
	require.Zero(t, q.Drain())
}
