// Package notename turns MIDI note numbers into readable names for the monitor.
package notename

import (
	"sort"
	"strconv"
	"strings"
)

type (
	Note struct {
		// MIDI note number, based on C4=60
		MIDI int
		// Name of the note, ex: "C", "F#/Gb"
		Name string
		// Denotes if note is sharp/flat ie. "black" key.
		IsAccidental bool
		// Octave number, changing at C.
		Octave int
	}

	Notes []Note
)

var noteNames = []struct {
	name         string
	isAccidental bool
}{
	{name: "A", isAccidental: false},
	{name: "A#/Bb", isAccidental: true},
	{name: "B", isAccidental: false},
	{name: "C", isAccidental: false},
	{name: "C#/Db", isAccidental: true},
	{name: "D", isAccidental: false},
	{name: "D#/Eb", isAccidental: true},
	{name: "E", isAccidental: false},
	{name: "F", isAccidental: false},
	{name: "F#/Gb", isAccidental: true},
	{name: "G", isAccidental: false},
	{name: "G#/Ab", isAccidental: true}}

// Lookup names MIDI note n. The table starts at A0 (MIDI 21).
func Lookup(n int) Note {
	k := noteNames[((n-21)%12+12)%12]
	octave := n / 12
	if n < 0 && n%12 != 0 {
		octave--
	}
	return Note{
		MIDI:         n,
		Name:         k.name,
		IsAccidental: k.isAccidental,
		Octave:       octave - 1,
	}
}

// String is the sharp spelling with the octave, ex: "C4", "A#4".
func (n Note) String() string {
	name, _, _ := strings.Cut(n.Name, "/")
	return name + strconv.Itoa(n.Octave)
}

// FromKeys looks up every key, lowest first.
func FromKeys(keys []int) Notes {
	sorted := append([]int(nil), keys...)
	sort.Ints(sorted)
	notes := make(Notes, 0, len(sorted))
	for _, k := range sorted {
		notes = append(notes, Lookup(k))
	}
	return notes
}

func (notes Notes) String() string {
	names := make([]string, len(notes))
	for i, n := range notes {
		names[i] = n.String()
	}
	return strings.Join(names, " ")
}

func InRange(midiNum int) bool {
	return midiNum > 20 && midiNum < 128
}
