package tonal

import (
	"fmt"
	"math/bits"
	"strings"
)

// UnknownChord is the label shown when no template matches
const UnknownChord = "Unknown"

// MaxTemplateSize bounds the number of required pitch classes per template
const MaxTemplateSize = 4

// PitchSet is a set of pitch classes stored as a 12-bit mask.
type PitchSet uint16

// NewPitchSet builds a set from pitch classes
func NewPitchSet(classes ...PitchClass) PitchSet {
	var s PitchSet
	for _, pc := range classes {
		s = s.Add(pc)
	}
	return s
}

// PitchSetOf reduces notes to their pitch classes, dropping octaves.
func PitchSetOf(notes []Note) PitchSet {
	var s PitchSet
	for _, n := range notes {
		s = s.Add(n.Class)
	}
	return s
}

// Add returns s with pc included
func (s PitchSet) Add(pc PitchClass) PitchSet {
	return s | 1<<uint(floorMod(int(pc), 12))
}

// Contains reports whether pc is in s
func (s PitchSet) Contains(pc PitchClass) bool {
	return s&(1<<uint(floorMod(int(pc), 12))) != 0
}

// IsSubsetOf reports whether every class of s is also in other
func (s PitchSet) IsSubsetOf(other PitchSet) bool {
	return s&^other == 0
}

// Len returns the number of pitch classes in s
func (s PitchSet) Len() int {
	return bits.OnesCount16(uint16(s))
}

// Classes returns the members of s in ascending order from C
func (s PitchSet) Classes() []PitchClass {
	out := make([]PitchClass, 0, s.Len())
	for pc := C; pc <= B; pc++ {
		if s.Contains(pc) {
			out = append(out, pc)
		}
	}
	return out
}

func (s PitchSet) String() string {
	names := make([]string, 0, s.Len())
	for _, pc := range s.Classes() {
		names = append(names, pc.String())
	}
	return "{" + strings.Join(names, " ") + "}"
}

// ChordTemplate pairs a label with the pitch classes that must all sound.
type ChordTemplate struct {
	Label    string
	Required PitchSet
}

// ParseChordTemplate builds a template from note spellings. Flats, sharps
// and enharmonics ("Eb", "D#", "B#") are accepted.
func ParseChordTemplate(label string, spellings ...string) (ChordTemplate, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return ChordTemplate{}, fmt.Errorf("chord template needs a label")
	}

	var set PitchSet
	for _, sp := range spellings {
		pc, err := ParsePitchClass(sp)
		if err != nil {
			return ChordTemplate{}, fmt.Errorf("chord %q: %w", label, err)
		}
		set = set.Add(pc)
	}

	switch {
	case set.Len() == 0:
		return ChordTemplate{}, fmt.Errorf("chord %q has no notes", label)
	case set.Len() > MaxTemplateSize:
		return ChordTemplate{}, fmt.Errorf("chord %q has %d pitch classes, at most %d allowed", label, set.Len(), MaxTemplateSize)
	}

	return ChordTemplate{Label: label, Required: set}, nil
}

func mustTemplate(label string, spellings ...string) ChordTemplate {
	t, err := ParseChordTemplate(label, spellings...)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultChordTemplates returns the built-in template list. Order matters:
// the matcher stops at the first template whose notes are all present.
func DefaultChordTemplates() []ChordTemplate {
	return []ChordTemplate{
		mustTemplate("A minor", "A", "C", "E"),
		mustTemplate("A major", "A", "C#", "E"),
		mustTemplate("B minor", "B", "D", "F#"),
		mustTemplate("B major", "B", "D#", "F#"),
		mustTemplate("C minor", "C", "Eb", "G"),
		mustTemplate("C major", "C", "E", "G"),
		mustTemplate("D minor", "D", "F", "A"),
		mustTemplate("D major", "D", "F#", "A"),
		mustTemplate("E minor", "E", "G", "B"),
		mustTemplate("E major", "E", "G#", "B"),
		mustTemplate("F major", "F", "A", "C"),
		mustTemplate("F minor", "F", "Ab", "C"),
		mustTemplate("G major", "G", "B", "D"),
		mustTemplate("G minor", "G", "Bb", "D"),
		mustTemplate("G# major", "G#", "B#", "D#"),
		mustTemplate("G# minor", "G#", "B", "D#"),
	}
}

// ChordMatcher labels a set of notes by ordered subset matching.
// It is immutable after construction and safe for concurrent use.
type ChordMatcher struct {
	templates []ChordTemplate
}

// NewChordMatcher creates a matcher over templates, kept in the given order.
// A nil or empty list selects DefaultChordTemplates.
func NewChordMatcher(templates []ChordTemplate) *ChordMatcher {
	if len(templates) == 0 {
		templates = DefaultChordTemplates()
	}
	owned := make([]ChordTemplate, len(templates))
	copy(owned, templates)
	return &ChordMatcher{templates: owned}
}

// Templates returns a copy of the matcher's templates in match order
func (cm *ChordMatcher) Templates() []ChordTemplate {
	out := make([]ChordTemplate, len(cm.templates))
	copy(out, cm.templates)
	return out
}

// Match returns the label of the first template whose required pitch
// classes are all among the notes' pitch classes. Octaves are ignored and
// extra notes are tolerated. The bool is false when nothing matches.
func (cm *ChordMatcher) Match(notes []Note) (string, bool) {
	return cm.MatchSet(PitchSetOf(notes))
}

// MatchSet is Match for an already reduced pitch-class set
func (cm *ChordMatcher) MatchSet(detected PitchSet) (string, bool) {
	for _, t := range cm.templates {
		if t.Required.IsSubsetOf(detected) {
			return t.Label, true
		}
	}
	return "", false
}

// Label is Match with UnknownChord substituted for no match
func (cm *ChordMatcher) Label(notes []Note) string {
	if label, ok := cm.Match(notes); ok {
		return label
	}
	return UnknownChord
}
