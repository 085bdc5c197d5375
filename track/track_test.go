package track_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rapidmidiex/rmxsynth/midi"
	"github.com/rapidmidiex/rmxsynth/sink"
	"github.com/rapidmidiex/rmxsynth/track"
	"github.com/rapidmidiex/rmxsynth/tracksync"
	"github.com/stretchr/testify/require"
)

type (
	toneSynth struct {
		held  map[int32]bool
		panic bool
	}

	fakeSink struct {
		mu      sync.Mutex
		state   sink.State
		bufs    [][]byte
		extra   int
		submits int
		stops   int
		closes  int
		closed  bool
		onNeed  func()
	}

	reference struct {
		pos     float64
		pending int
	}

	positionOnly struct{ pos float64 }

	source struct {
		mu   sync.Mutex
		slot int
		ref  tracksync.PositionReadable
	}

	mainQueue struct {
		fns []func()
	}
)

func (s *toneSynth) ProcessMidiMessage(ch, cmd, d1, d2 int32) {
	switch {
	case cmd == int32(midi.NoteOn) && d2 > 0:
		s.held[ch<<8|d1] = true
	case cmd == int32(midi.NoteOn), cmd == int32(midi.NoteOff):
		delete(s.held, ch<<8|d1)
	}
}
func (s *toneSynth) NoteOffAll(bool) { s.held = map[int32]bool{} }
func (s *toneSynth) Reset()          { s.held = map[int32]bool{} }
func (s *toneSynth) Render(left, right []float32) {
	if s.panic {
		panic("voice table corrupted")
	}
	var v float32
	if len(s.held) > 0 {
		v = 0.1
	}
	for i := range left {
		left[i], right[i] = v, v
	}
}

func (f *fakeSink) Submit(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := make([]byte, len(buf))
	copy(b, buf)
	f.bufs = append(f.bufs, b)
	f.submits++
	return nil
}
func (f *fakeSink) PendingBufferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bufs) + f.extra
}
func (f *fakeSink) State() sink.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
func (f *fakeSink) Play()   { f.set(sink.Playing) }
func (f *fakeSink) Pause()  { f.set(sink.Paused) }
func (f *fakeSink) Resume() { f.set(sink.Playing) }
func (f *fakeSink) Stop(immediate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = sink.Stopped
	if immediate {
		f.bufs = nil
	}
}
func (f *fakeSink) OnBufferNeeded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNeed = fn
}
func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closed = true
	return nil
}
func (f *fakeSink) set(s sink.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

// drain plays everything submitted so far.
func (f *fakeSink) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufs = nil
}

func (f *fakeSink) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (r *reference) Position() float64       { return r.pos }
func (r *reference) PendingBufferCount() int { return r.pending }

func (r positionOnly) Position() float64 { return r.pos }

func (s *source) Current() (int, tracksync.PositionReadable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot, s.ref
}

func (s *source) switchTo(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = slot
}

func (q *mainQueue) Enqueue(fn func()) { q.fns = append(q.fns, fn) }

func (q *mainQueue) drain() {
	fns := q.fns
	q.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// 1000 Hz and 10 sample buffers keep the arithmetic readable: one buffer is 10ms.
var testConfig = track.Config{SampleRate: 1000, BufferSamples: 10, Subdivisions: 2, Boost: 1}

const bufDur = 0.01

func tenSeconds() *midi.Sequence {
	return midi.NewSequence([]midi.Message{
		{Time: 0, Kind: midi.Normal, Command: midi.NoteOn, Data1: 60, Data2: 100},
		{Time: 9, Kind: midi.Normal, Command: midi.NoteOff, Data1: 60},
	}, 10)
}

type harness struct {
	track *track.Track
	synth *toneSynth
	sink  *fakeSink
	src   *source
	ref   *reference
	main  *mainQueue
}

func newHarness(t *testing.T, refPos float64) *harness {
	t.Helper()
	h := &harness{
		synth: &toneSynth{held: map[int32]bool{}},
		sink:  &fakeSink{},
		ref:   &reference{pos: refPos},
		main:  &mainQueue{},
	}
	h.src = &source{slot: 1, ref: h.ref}

	player, err := midi.NewPlayerWithSynthesizer(tenSeconds(), midi.Instrument{Name: "piano"}, h.synth, midi.DefaultPlayerConfig())
	require.NoError(t, err)
	syncer := tracksync.New(h.src, 1, tracksync.DefaultConfig())
	h.track, err = track.New(player, syncer, h.sink, h.main, testConfig, nil)
	require.NoError(t, err)
	return h
}

// cycle simulates the device consuming everything and asking for more.
func (h *harness) cycle(n int) {
	for i := 0; i < n; i++ {
		h.track.FillBuffer()
		h.sink.drain()
	}
}

func TestNew(t *testing.T) {
	h := newHarness(t, 0)
	require.Equal(t, track.Created, h.track.State())
	require.NotNil(t, h.sink.onNeed, "FillBuffer is registered on the sink")
	require.InDelta(t, bufDur, h.track.BufferDuration(), 1e-12)

	_, err := track.New(nil, nil, h.sink, nil, testConfig, nil)
	require.Error(t, err)
}

func TestPrepare(t *testing.T) {
	t.Run("starts where the reference is", func(t *testing.T) {
		h := newHarness(t, 3.2)
		h.track.Play()
		require.Equal(t, track.Preparing, h.track.State())
		require.Equal(t, sink.Playing, h.sink.State())

		h.track.FillBuffer()
		require.Equal(t, track.Playing, h.track.State())
		require.InDelta(t, 3.2+bufDur, h.track.CurrentTime(), 1e-9)
		require.Equal(t, 1, h.sink.submitted())
	})

	t.Run("starts at zero without a valid reference", func(t *testing.T) {
		h := newHarness(t, 3.2)
		h.src.switchTo(2)
		h.track.Prepare()
		require.Zero(t, h.track.CurrentTime())
	})
}

func TestResyncScenario(t *testing.T) {
	t.Run("clock snaps forward to the reference on the tenth cycle", func(t *testing.T) {
		h := newHarness(t, 0)
		h.track.Play()
		h.cycle(1)
		h.ref.pos = 5.0

		h.cycle(8)
		require.InDelta(t, 9*bufDur, h.track.CurrentTime(), 1e-9)

		h.cycle(1)
		require.InDelta(t, 5.0+bufDur, h.track.CurrentTime(), 1e-9)
		require.Zero(t, h.track.Status().Seeks, "forward drift only advances the clock")
		require.Equal(t, 1, h.track.Status().Resyncs)
	})

	t.Run("clock snaps back to a fixed reference", func(t *testing.T) {
		h := newHarness(t, 5.0)
		h.track.Play()

		h.cycle(9)
		require.InDelta(t, 5.0+9*bufDur, h.track.CurrentTime(), 1e-9)

		h.cycle(1)
		require.InDelta(t, 5.0+bufDur, h.track.CurrentTime(), 1e-9)
		require.Equal(t, 1, h.track.Status().Seeks)
		require.Empty(t, h.track.Status().ActiveNotes, "the seek replays silently")
	})
}

func TestSyncActions(t *testing.T) {
	t.Run("reference without buffers never gets audio", func(t *testing.T) {
		h := newHarness(t, 2)
		h.src.ref = positionOnly{pos: 2}
		h.track.Play()

		for _, extra := range []int{-5, 0, 3, 20} {
			h.sink.extra = extra
			h.cycle(25)
		}
		require.Zero(t, h.sink.submitted())
	})

	tests := []struct {
		name     string
		mine     int
		theirs   int
		submits  int
		fills    int
		advances bool
	}{
		{name: "within tolerance ahead", mine: 8, theirs: 5, submits: 1, advances: true},
		{name: "within tolerance behind", mine: 2, theirs: 5, submits: 1, advances: true},
		{name: "too far ahead", mine: 9, theirs: 5, submits: 0},
		{name: "too far behind", mine: 1, theirs: 5, submits: 4, fills: 3, advances: true},
		{name: "far behind an empty sink", mine: 0, theirs: 10, submits: 10, fills: 9, advances: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			h.ref.pending = tt.theirs
			h.sink.extra = tt.mine
			h.track.Play()

			h.track.FillBuffer()
			require.Equal(t, tt.submits, h.sink.submitted())
			require.Equal(t, tt.fills, h.track.Status().Fills)
			if tt.advances {
				require.InDelta(t, bufDur, h.track.CurrentTime(), 1e-9)
			} else {
				require.Zero(t, h.track.CurrentTime())
			}
		})
	}

	t.Run("silence comes before audio", func(t *testing.T) {
		h := newHarness(t, 0)
		h.ref.pending = 5
		h.sink.extra = 1
		h.track.Play()
		h.track.FillBuffer()

		require.Len(t, h.sink.bufs, 4)
		for _, b := range h.sink.bufs[:3] {
			require.Equal(t, make([]byte, len(b)), b)
		}
		require.NotEqual(t, make([]byte, 40), h.sink.bufs[3])
	})
}

func TestInvalidReference(t *testing.T) {
	h := newHarness(t, 0)
	h.track.Play()
	h.cycle(3)
	before := h.sink.submitted()
	clock := h.track.CurrentTime()

	h.src.switchTo(7)
	require.False(t, h.track.IsValid())
	h.cycle(20)
	require.Equal(t, before, h.sink.submitted())
	require.Equal(t, clock, h.track.CurrentTime())

	h.src.switchTo(1)
	h.cycle(1)
	require.Equal(t, before+1, h.sink.submitted())
}

func TestFadeOut(t *testing.T) {
	t.Run("fades then disposes on the main queue", func(t *testing.T) {
		h := newHarness(t, 0)
		h.track.Play()
		h.cycle(5)

		h.track.StopWithFadeOut(200 * time.Millisecond)
		require.Equal(t, track.FadingOut, h.track.State())
		require.Empty(t, h.synth.held, "notes are released when the fade starts")

		// 0.2s of 10ms buffers, plus slack for float accumulation
		h.cycle(25)
		require.Equal(t, sink.Stopped, h.sink.State())
		require.Len(t, h.main.fns, 1)
		require.False(t, h.track.IsDisposed(), "disposal waits for the main queue")

		after := h.sink.submitted()
		h.cycle(10)
		require.Equal(t, after, h.sink.submitted(), "no submissions after the fade completes")

		h.main.drain()
		require.True(t, h.track.IsDisposed())
		require.True(t, h.sink.closed)
	})

	t.Run("default fade is two seconds", func(t *testing.T) {
		h := newHarness(t, 0)
		h.track.Play()
		h.cycle(1)
		h.track.StopWithFadeOut(0)

		h.cycle(150)
		require.Empty(t, h.main.fns)
		require.InDelta(t, 0.75, h.track.Status().FadeProgress, 1e-6)
		h.cycle(55)
		require.Len(t, h.main.fns, 1)
	})

	t.Run("completes after the reference goes away", func(t *testing.T) {
		h := newHarness(t, 0)
		h.track.Play()
		h.cycle(2)
		h.src.switchTo(3)

		h.track.StopWithFadeOut(50 * time.Millisecond)
		h.cycle(10)
		h.main.drain()
		require.True(t, h.track.IsDisposed())
	})

	t.Run("never played tracks dispose right away", func(t *testing.T) {
		h := newHarness(t, 0)
		h.track.StopWithFadeOut(time.Second)
		h.main.drain()
		require.True(t, h.track.IsDisposed())
	})
}

func TestRenderFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.track.Play()
	h.cycle(2)
	submitted := h.sink.submitted()

	h.synth.panic = true
	require.NotPanics(t, func() { h.cycle(3) })
	require.Equal(t, submitted, h.sink.submitted())
	require.Equal(t, sink.Stopped, h.sink.State())
	require.Len(t, h.main.fns, 1)

	h.main.drain()
	require.True(t, h.track.IsDisposed())
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, 0)
	h.track.Play()
	h.cycle(1)

	h.track.Pause()
	require.Equal(t, track.Paused, h.track.State())
	require.Equal(t, sink.Paused, h.sink.State())
	require.False(t, h.track.IsPlaying())

	h.track.Resume()
	require.Equal(t, track.Playing, h.track.State())
	require.Equal(t, sink.Playing, h.sink.State())

	t.Run("pausing before the first buffer keeps it unprepared", func(t *testing.T) {
		h := newHarness(t, 4)
		h.track.Play()
		h.track.Pause()
		h.cycle(3)
		require.Zero(t, h.sink.submitted())

		h.track.Resume()
		require.Equal(t, track.Preparing, h.track.State())
		h.cycle(1)
		require.InDelta(t, 4+bufDur, h.track.CurrentTime(), 1e-9)
	})
}

func TestReuse(t *testing.T) {
	h := newHarness(t, 0)
	h.track.Play()
	h.cycle(4)
	h.track.StopWithFadeOut(time.Second)

	require.NoError(t, h.track.Reuse(nil))
	require.Equal(t, track.Preparing, h.track.State())
	require.Zero(t, h.track.CurrentTime())
	require.Equal(t, sink.Playing, h.sink.State())

	h.ref.pos = 1.5
	h.cycle(1)
	require.InDelta(t, 1.5+bufDur, h.track.CurrentTime(), 1e-9)

	h.track.Stop()
	require.Error(t, h.track.Reuse(nil))
}

func TestStopAndDispose(t *testing.T) {
	h := newHarness(t, 0)
	h.track.Play()
	h.cycle(2)

	h.track.Stop()
	require.True(t, h.track.IsDisposed())
	require.Equal(t, 1, h.sink.closes)

	h.track.Dispose()
	h.track.StopWithFadeOut(time.Second)
	require.Equal(t, 1, h.sink.closes, "dispose is idempotent")

	submitted := h.sink.submitted()
	h.cycle(5)
	require.Equal(t, submitted, h.sink.submitted())
}

func TestSeekTo(t *testing.T) {
	h := newHarness(t, 0)
	require.Equal(t, 4.0, h.track.SeekTo(4))
	require.Equal(t, 4.0, h.track.CurrentTime())
	require.Equal(t, 10.0, h.track.SeekTo(50))
	require.Zero(t, h.track.SeekTo(0.01))
	require.Equal(t, 10.0, h.track.TotalDuration())
}

func TestWithQueue(t *testing.T) {
	q := sink.NewQueue()
	ref := &reference{pos: 0}
	src := &source{slot: 0, ref: ref}
	synth := &toneSynth{held: map[int32]bool{}}
	player, err := midi.NewPlayerWithSynthesizer(tenSeconds(), midi.Instrument{}, synth, midi.DefaultPlayerConfig())
	require.NoError(t, err)
	tr, err := track.New(player, tracksync.New(src, 0, tracksync.DefaultConfig()), q, nil, testConfig, nil)
	require.NoError(t, err)

	tr.Play()
	out := make([]byte, 40)
	heard := false
	for i := 0; i < 20; i++ {
		ref.pending = q.PendingBufferCount()
		_, err := q.Read(out)
		require.NoError(t, err)
		for _, b := range out {
			if b != 0 {
				heard = true
			}
		}
	}
	require.True(t, heard)
	require.Greater(t, tr.CurrentTime(), 0.0)

	tr.StopWithFadeOut(30 * time.Millisecond)
	for i := 0; i < 10; i++ {
		_, _ = q.Read(out)
	}
	require.True(t, tr.IsDisposed(), "without a main queue disposal is inline")
	_, err = q.Read(out)
	require.Error(t, err)
}
