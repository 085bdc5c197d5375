// Package sink holds the buffered PCM16 output streams tracks submit audio to.
package sink

import (
	"io"
	"sync"

	"github.com/faiface/beep"

	"github.com/rapidmidiex/rmxsynth/pcm"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
)

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

// DefaultLowWater is the pending buffer count under which a Queue asks for more.
const DefaultLowWater = 3

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "stopped"
}

// Sink is a stream of interleaved PCM16 stereo buffers played in submission
// order. The buffer needed callback runs on whatever goroutine consumes the
// stream.
type Sink interface {
	Submit(buf []byte) error
	PendingBufferCount() int
	State() State
	Play()
	Pause()
	Resume()
	// Stop halts playback. An immediate stop drops pending buffers, otherwise
	// they play out first.
	Stop(immediate bool)
	OnBufferNeeded(fn func())
	Close() error
}

// Queue is a Sink backed by an in-memory FIFO. It is consumed as an io.Reader
// (oto players) or as a beep.Streamer. While stopped, paused or starved it
// yields silence so a device never blocks on it.
type Queue struct {
	mu       sync.Mutex
	bufs     [][]byte
	head     []byte
	state    State
	draining bool
	closed   bool
	lowWater int
	onNeed   func()
	// bytes handed to the consumer, silence excluded
	played int64
}

var _ Sink = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{lowWater: DefaultLowWater}
}

// SetLowWater changes the pending count that triggers the buffer needed callback.
func (q *Queue) SetLowWater(n int) {
	q.mu.Lock()
	q.lowWater = n
	q.mu.Unlock()
}

// Submit queues a copy of buf.
func (q *Queue) Submit(buf []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return rmxerr.ErrDisposed
	}
	if len(buf) == 0 {
		return nil
	}
	b := make([]byte, len(buf))
	copy(b, buf)
	q.bufs = append(q.bufs, b)
	return nil
}

// PendingBufferCount counts submitted buffers not yet fully consumed.
func (q *Queue) PendingBufferCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending()
}

func (q *Queue) pending() int {
	n := len(q.bufs)
	if len(q.head) > 0 {
		n++
	}
	return n
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) Play() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.state = Playing
	q.draining = false
}

func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Playing {
		q.state = Paused
	}
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Paused {
		q.state = Playing
	}
}

func (q *Queue) Stop(immediate bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if immediate || q.pending() == 0 {
		q.bufs = nil
		q.head = nil
		q.state = Stopped
		q.draining = false
		return
	}
	q.draining = true
}

func (q *Queue) OnBufferNeeded(fn func()) {
	q.mu.Lock()
	q.onNeed = fn
	q.mu.Unlock()
}

// Close drops everything queued. Further submits fail with rmxerr.ErrDisposed
// and readers get io.EOF.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.bufs = nil
	q.head = nil
	q.state = Stopped
	q.onNeed = nil
	return nil
}

// Played is the number of frames of submitted audio consumed so far.
func (q *Queue) Played() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.played / pcm.BytesPerFrame
}

// Read fills p with queued audio, padding with silence, then fires the buffer
// needed callback if the queue is running low. The callback is called without
// the queue lock held so it may Submit.
func (q *Queue) Read(p []byte) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, io.EOF
	}

	n := 0
	if q.state == Playing {
		for n < len(p) {
			if len(q.head) == 0 {
				if len(q.bufs) == 0 {
					break
				}
				q.head, q.bufs = q.bufs[0], q.bufs[1:]
			}
			c := copy(p[n:], q.head)
			q.head = q.head[c:]
			n += c
		}
		q.played += int64(n)
		if q.draining && q.pending() == 0 {
			q.state = Stopped
			q.draining = false
		}
	}
	pcm.Silence(p[n:])

	var need func()
	if q.state == Playing && !q.draining && q.pending() < q.lowWater {
		need = q.onNeed
	}
	q.mu.Unlock()

	if need != nil {
		need()
	}
	return len(p), nil
}

// Pump calls the buffer needed callback once if the queue is playing and
// running low. Used to prime a stream before its consumer starts pulling.
func (q *Queue) Pump() {
	q.mu.Lock()
	var need func()
	if !q.closed && q.state == Playing && q.pending() < q.lowWater {
		need = q.onNeed
	}
	q.mu.Unlock()
	if need != nil {
		need()
	}
}

// Streamer adapts the queue to beep. It streams until the queue is closed.
func (q *Queue) Streamer() beep.Streamer {
	return &queueStreamer{q: q}
}

type queueStreamer struct {
	q   *Queue
	buf []byte
}

func (s *queueStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	size := len(samples) * pcm.BytesPerFrame
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	buf := s.buf[:size]
	if _, err := s.q.Read(buf); err != nil {
		return 0, false
	}
	return pcm.Decode16(buf, samples), true
}

func (s *queueStreamer) Err() error {
	return nil
}
