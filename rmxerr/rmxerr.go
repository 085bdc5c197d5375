// Package rmxerr holds the error values shared across the engine.
package rmxerr

import "errors"

var (
	// ErrNoSoundFont is returned when an instrument has no sample bank bound.
	ErrNoSoundFont = errors.New("no soundfont")
	// ErrNoInstrument is returned when a bank/program pair has no preset.
	ErrNoInstrument = errors.New("no such instrument")
	ErrNoSequence   = errors.New("no midi sequence")
	// ErrNoMapping is returned when the current music slot has no MIDI bound to it.
	ErrNoMapping  = errors.New("no midi mapping for music slot")
	ErrDisposed   = errors.New("disposed")
	ErrBadChannel = errors.New("midi channel must be between 0 and 15")
	ErrBadBank    = errors.New("bank number must be non-negative")
	ErrBadProgram = errors.New("program number must be between 0 and 127")
	ErrNoListener = errors.New("unknown listener")
)

type (
	ErrMsg struct {
		Err error
	}
)

func (m ErrMsg) Error() string {
	return m.Err.Error()
}

func (m ErrMsg) Unwrap() error {
	return m.Err
}
