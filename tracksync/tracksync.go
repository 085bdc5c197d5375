// Package tracksync keeps a streaming track aligned with a reference track it
// does not control, using only snapshots of the reference's position and
// pending buffer count.
package tracksync

import "math"

const (
	DefaultResyncInterval    = 10
	DefaultBackwardTolerance = 0.05
	DefaultTolerance         = 3
)

type (
	// PositionReadable is implemented by reference tracks that can report
	// their playback position in seconds.
	PositionReadable interface {
		Position() float64
	}

	// BufferCounter is implemented by reference tracks that stream through
	// a buffer queue.
	BufferCounter interface {
		PendingBufferCount() int
	}

	// Source reports the reference that is playing right now and the slot it
	// was started from. A nil reference means nothing usable is playing.
	Source interface {
		Current() (slot int, ref PositionReadable)
	}

	Config struct {
		// ResyncInterval is the number of cycles between position checks.
		ResyncInterval int
		// BackwardTolerance is how far behind the reference may report without
		// being treated as a seek, in seconds.
		BackwardTolerance float64
		// Tolerance is the pending buffer lead or lag accepted without correction.
		Tolerance int
	}

	Action int

	// Synchronizer is bound to one slot of a Source and becomes invalid as soon
	// as the source moves to another slot. It is owned by a single track and
	// is not safe for concurrent use.
	Synchronizer struct {
		src       Source
		slot      int
		cfg       Config
		sinceSync int
		onResync  func(drift float64)
	}
)

const (
	// Skip submits nothing this cycle.
	Skip Action = iota
	// AddNormal renders and submits one buffer.
	AddNormal
	// AddWithFill pads with silent buffers before rendering one.
	AddWithFill
)

func (a Action) String() string {
	switch a {
	case AddNormal:
		return "add"
	case AddWithFill:
		return "fill"
	}
	return "skip"
}

func DefaultConfig() Config {
	return Config{
		ResyncInterval:    DefaultResyncInterval,
		BackwardTolerance: DefaultBackwardTolerance,
		Tolerance:         DefaultTolerance,
	}
}

// New binds a synchronizer to slot. Non-positive ResyncInterval and Tolerance
// take their defaults. BackwardTolerance is used as is, zero included, and only
// a negative value takes the default.
func New(src Source, slot int, cfg Config) *Synchronizer {
	def := DefaultConfig()
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = def.ResyncInterval
	}
	if cfg.BackwardTolerance < 0 {
		cfg.BackwardTolerance = def.BackwardTolerance
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	return &Synchronizer{src: src, slot: slot, cfg: cfg}
}

// OnResync registers fn to receive reference minus local time whenever a
// resync moves the clock.
func (s *Synchronizer) OnResync(fn func(drift float64)) {
	s.onResync = fn
}

func (s *Synchronizer) reference() PositionReadable {
	if s == nil || s.src == nil {
		return nil
	}
	slot, ref := s.src.Current()
	if slot != s.slot {
		return nil
	}
	return ref
}

// IsValid reports whether the bound slot is still the one playing. It must be
// checked every cycle.
func (s *Synchronizer) IsValid() bool {
	return s.reference() != nil
}

// TargetPosition is the reference position, if it can be read.
func (s *Synchronizer) TargetPosition() (float64, bool) {
	ref := s.reference()
	if ref == nil {
		return 0, false
	}
	pos := ref.Position()
	if math.IsNaN(pos) || math.IsInf(pos, 0) {
		return 0, false
	}
	return pos, true
}

// TargetBufferCount is the reference's pending buffer count, or -1 when the
// reference does not stream through buffers.
func (s *Synchronizer) TargetBufferCount() int {
	bc, ok := s.reference().(BufferCounter)
	if !ok {
		return -1
	}
	return bc.PendingBufferCount()
}

// SyncAction compares mine against the reference's pending buffer count.
func (s *Synchronizer) SyncAction(mine int) Action {
	theirs := s.TargetBufferCount()
	if theirs < 0 {
		return Skip
	}
	switch d := mine - theirs; {
	case d > s.cfg.Tolerance:
		return Skip
	case d < -s.cfg.Tolerance:
		return AddWithFill
	}
	return AddNormal
}

// SynchronizedTime returns current unchanged except on every ResyncInterval-th
// call, when it returns the reference position clamped to [0, maxTime]. A
// reference slightly behind current, within BackwardTolerance, is jitter and
// is ignored. Anything further behind is returned as is and the caller has to
// seek.
func (s *Synchronizer) SynchronizedTime(current, maxTime float64) float64 {
	s.sinceSync++
	if s.sinceSync < s.cfg.ResyncInterval {
		return current
	}
	s.sinceSync = 0

	pos, ok := s.TargetPosition()
	if !ok {
		return current
	}
	pos = clamp(pos, maxTime)
	diff := pos - current
	if diff < 0 && -diff < s.cfg.BackwardTolerance {
		return current
	}
	if diff != 0 && s.onResync != nil {
		s.onResync(diff)
	}
	return pos
}

// StartTime is where a newly prepared track should begin: the reference
// position clamped to [0, maxTime], or 0 without a valid reference. It restarts
// the resync count.
func (s *Synchronizer) StartTime(maxTime float64) float64 {
	s.sinceSync = 0
	pos, ok := s.TargetPosition()
	if !ok {
		return 0
	}
	return clamp(pos, maxTime)
}

// Reset restarts the resync count.
func (s *Synchronizer) Reset() {
	s.sinceSync = 0
}

func clamp(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
