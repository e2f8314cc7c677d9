package tonal

// DefaultStableFrames is the number of consecutive identical notes required
// before the stabilizer reports a note.
const DefaultStableFrames = 3

// NoteStabilizer debounces a per-frame note stream.
//
// A note is emitted once it has been seen on threshold consecutive
// non-silent frames; the counter then restarts, so a sustained note is
// re-emitted every threshold frames. Silent frames (nil) leave the state
// untouched: a short dropout inside a held note does not restart the count.
//
// The stabilizer depends on frame order and is not safe for concurrent use.
// Each detection session owns one.
type NoteStabilizer struct {
	threshold int
	last      *Note
	count     int
}

// NewNoteStabilizer creates a stabilizer; threshold < 1 selects DefaultStableFrames.
func NewNoteStabilizer(threshold int) *NoteStabilizer {
	if threshold < 1 {
		threshold = DefaultStableFrames
	}
	return &NoteStabilizer{threshold: threshold}
}

// Observe feeds one frame's candidate note (nil for no pitch) and returns
// the stabilized note when this frame completes a run.
func (ns *NoteStabilizer) Observe(note *Note) (Note, bool) {
	if note == nil {
		return Note{}, false
	}

	if ns.last != nil && *ns.last == *note {
		ns.count++
	} else {
		n := *note
		ns.last = &n
		ns.count = 1
	}

	if ns.count >= ns.threshold {
		ns.count = 0
		return *ns.last, true
	}

	return Note{}, false
}

// Reset returns the stabilizer to its initial state
func (ns *NoteStabilizer) Reset() {
	ns.last = nil
	ns.count = 0
}

// Threshold returns the emission threshold
func (ns *NoteStabilizer) Threshold() int {
	return ns.threshold
}

// State returns the last observed note and the current run length
func (ns *NoteStabilizer) State() (last *Note, count int) {
	if ns.last == nil {
		return nil, ns.count
	}
	n := *ns.last
	return &n, ns.count
}
