// Package drift keeps stats on how far a track's clock was from its reference
// each time it resynchronized.
package drift

import (
	"math"
	"sync"
	"time"
)

// DefaultWindow is how many corrections a Recorder keeps.
const DefaultWindow = 64

type (
	Stats struct {
		Latest time.Duration
		Avg    time.Duration
		Min    time.Duration
		Max    time.Duration
		Count  int
	}

	// Recorder is a fixed size ring of recent corrections. Safe for concurrent use.
	Recorder struct {
		mu     sync.Mutex
		ring   []time.Duration
		next   int
		filled bool
		total  int
		latest time.Duration
	}
)

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Recorder{ring: make([]time.Duration, size)}
}

// Add records one correction, reference minus local clock.
func (r *Recorder) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.next] = d
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.filled = true
	}
	r.total++
	r.latest = d
}

// Values returns the kept corrections, oldest first.
func (r *Recorder) Values() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]time.Duration, r.next)
		copy(out, r.ring[:r.next])
		return out
	}
	out := make([]time.Duration, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

func (r *Recorder) Stats() Stats {
	values := r.Values()
	r.mu.Lock()
	latest, total := r.latest, r.total
	r.mu.Unlock()

	s := CalcStats(latest, values)
	s.Count = total
	return s
}

// CalcStats summarizes prev. The average is rounded to the millisecond.
func CalcStats(latest time.Duration, prev []time.Duration) Stats {
	roundedAvg := math.Round(float64(Avg(prev)/time.Millisecond)) * float64(time.Millisecond)
	return Stats{
		Latest: latest,
		Avg:    time.Duration(roundedAvg),
		Max:    Max(prev),
		Min:    Min(prev),
		Count:  len(prev),
	}
}

func Min(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	min := times[0]
	for _, t := range times[1:] {
		if t < min {
			min = t
		}
	}
	return min
}

func Max(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	max := times[0]
	for _, t := range times[1:] {
		if t > max {
			max = t
		}
	}
	return max
}

func Avg(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	sum := time.Duration(0)
	for _, t := range times {
		sum = sum + t
	}
	return sum / time.Duration(len(times))
}
