package engine

import "sync"

// MainQueue collects work that has to run on the goroutine owning the output
// devices, such as disposing a track whose fade finished on the audio
// callback. Drain it from that goroutine.
type MainQueue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *MainQueue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Drain runs everything queued so far, in order, and returns how many ran.
// Work enqueued while draining waits for the next call.
func (q *MainQueue) Drain() int {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}
