package tonal

import (
	"fmt"
	"math"
	"strings"
)

// ReferenceA4 is the equal-tempered tuning reference in Hz
const ReferenceA4 = 440.0

// PitchClass is a note name without octave, 0 = C through 11 = B.
type PitchClass int

const (
	C PitchClass = iota
	CSharp
	D
	DSharp
	E
	F
	FSharp
	G
	GSharp
	A
	ASharp
	B
)

var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// String returns the sharp spelling; flats are never produced.
func (pc PitchClass) String() string {
	if pc < 0 || pc > 11 {
		return fmt.Sprintf("PitchClass(%d)", int(pc))
	}
	return sharpNames[pc]
}

var naturals = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// ParsePitchClass accepts a letter followed by any number of '#' or 'b'
// accidentals (also '♯' and '♭'), so "Eb", "D#", "B#" and "Cb" all resolve
// to their integer class. Matching happens on the integer, never on spelling.
func ParsePitchClass(s string) (PitchClass, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty pitch class")
	}

	base, ok := naturals[strings.ToUpper(s[:1])[0]]
	if !ok {
		return 0, fmt.Errorf("unknown pitch class %q", s)
	}

	offset := 0
	for _, r := range s[1:] {
		switch r {
		case '#', '♯':
			offset++
		case 'b', '♭':
			offset--
		default:
			return 0, fmt.Errorf("unknown accidental %q in %q", r, s)
		}
	}

	return PitchClass(floorMod(base+offset, 12)), nil
}

// Note is a pitch class with its octave, A4 = 440 Hz.
type Note struct {
	Class  PitchClass `json:"class"`
	Octave int        `json:"octave"`
}

// String formats the note as e.g. "A4" or "C#3"
func (n Note) String() string {
	return fmt.Sprintf("%s%d", n.Class, n.Octave)
}

// MarshalText encodes the note by name so JSON and YAML output read "A4"
func (n Note) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses a note name
func (n *Note) UnmarshalText(text []byte) error {
	parsed, err := ParseNote(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Frequency returns the equal-tempered frequency of the note
func (n Note) Frequency() float64 {
	semitones := n.semitonesFromA4()
	return ReferenceA4 * math.Pow(2, float64(semitones)/12.0)
}

func (n Note) semitonesFromA4() int {
	return (n.Octave-4)*12 + int(n.Class) - int(A)
}

// NoteFromFrequency names the nearest equal-tempered note.
//
//	s      = round(12 * log2(f / 440))
//	class  = (s + 9) mod 12
//	octave = 4 + floor((s + 9) / 12)
//
// Rounding is half-to-even, so a frequency exactly between two semitones
// goes to the even semitone count. Returns false for f <= 0, NaN and Inf.
func NoteFromFrequency(freq float64) (Note, bool) {
	if !(freq > 0) || math.IsInf(freq, 0) {
		return Note{}, false
	}

	return noteFromSemitones(12 * math.Log2(freq/ReferenceA4)), true
}

// noteFromSemitones names the note nearest to a fractional semitone offset from A4
func noteFromSemitones(offset float64) Note {
	s := int(math.RoundToEven(offset))

	return Note{
		Class:  PitchClass(floorMod(s+9, 12)),
		Octave: 4 + floorDiv(s+9, 12),
	}
}

// CentsOff returns how far freq sits from its nearest note, in cents (-50..50).
// Returns 0 when freq has no pitch.
func CentsOff(freq float64) float64 {
	if !(freq > 0) || math.IsInf(freq, 0) {
		return 0
	}
	exact := 12 * math.Log2(freq/ReferenceA4)
	return 100 * (exact - math.RoundToEven(exact))
}

// ParseNote parses names like "A4", "C#3", "Bb-1".
func ParseNote(s string) (Note, error) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 && (s[i-1] >= '0' && s[i-1] <= '9') {
		i--
	}
	if i > 0 && s[i-1] == '-' && i < len(s) {
		i--
	}
	if i == 0 || i == len(s) {
		return Note{}, fmt.Errorf("note %q needs a pitch class and an octave", s)
	}

	pc, err := ParsePitchClass(s[:i])
	if err != nil {
		return Note{}, err
	}

	var octave int
	if _, err := fmt.Sscanf(s[i:], "%d", &octave); err != nil {
		return Note{}, fmt.Errorf("bad octave in %q: %w", s, err)
	}

	return Note{Class: pc, Octave: octave}, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
