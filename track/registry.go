package track

import (
	"sync"
	"time"
)

// FadeRegistry holds tracks that were taken out of the active set and are
// fading out. Poll Update every frame to drop the ones that finished.
type FadeRegistry struct {
	mu     sync.Mutex
	tracks []*Track
}

func NewFadeRegistry() *FadeRegistry {
	return &FadeRegistry{}
}

// Add starts a fade of d on t and keeps it until it is disposed.
func (r *FadeRegistry) Add(t *Track, d time.Duration) {
	if t == nil {
		return
	}
	t.StopWithFadeOut(d)
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}

// Update removes disposed tracks and returns how many are still fading.
func (r *FadeRegistry) Update() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tracks[:0]
	for _, t := range r.tracks {
		if !t.IsDisposed() {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(r.tracks); i++ {
		r.tracks[i] = nil
	}
	r.tracks = kept
	return len(kept)
}

func (r *FadeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}

// StopAll stops every fading track immediately.
func (r *FadeRegistry) StopAll() {
	r.mu.Lock()
	tracks := r.tracks
	r.tracks = nil
	r.mu.Unlock()
	for _, t := range tracks {
		t.Stop()
	}
}
