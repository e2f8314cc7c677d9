package detector

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/RyanBlaney/sonido-nota/algorithms/tonal"
	"github.com/RyanBlaney/sonido-nota/detector/config"
)

// Result is the outcome of one frame
type Result struct {
	Mode            config.Mode `json:"mode"`
	Frame           int         `json:"frame"`
	LevelDB         float64     `json:"level_db"` // raw input RMS level
	Gated           bool        `json:"gated"`
	GateThresholdDB float64     `json:"gate_threshold_db"`

	// Note mode. Note is this frame's candidate; Stable is set only on
	// frames where the stabilizer confirms a note.
	Note       *tonal.Note `json:"note,omitempty"`
	Frequency  float64     `json:"frequency,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Cents      float64     `json:"cents,omitempty"`
	Stable     *tonal.Note `json:"stable,omitempty"`

	// Chord mode
	Chord        string       `json:"chord,omitempty"`
	ChordMatched bool         `json:"chord_matched,omitempty"`
	Notes        []tonal.Note `json:"notes,omitempty"`
	Frequencies  []float64    `json:"frequencies,omitempty"`
}

// String renders the result as a single display line
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %6.1f dB", r.Frame, r.LevelDB)

	if r.Gated {
		b.WriteString("  (gated)")
		return b.String()
	}

	switch r.Mode {
	case config.ModeChord:
		names := make([]string, len(r.Notes))
		for i, n := range r.Notes {
			names[i] = n.String()
		}
		fmt.Fprintf(&b, "  %s  [%s]", r.Chord, strings.Join(names, " "))
	default:
		if r.Note == nil {
			b.WriteString("  -")
			break
		}
		fmt.Fprintf(&b, "  %-4s %7.2f Hz %+5.1fc  conf %.2f", r.Note, r.Frequency, r.Cents, r.Confidence)
		if r.Stable != nil {
			fmt.Fprintf(&b, "  => %s", r.Stable)
		}
	}
	return b.String()
}

// Publisher receives results in frame order. Publish is called from the
// session goroutine and must not block for long.
type Publisher interface {
	Publish(Result)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(Result)

// Publish calls f
func (f PublisherFunc) Publish(r Result) { f(r) }

type discardPublisher struct{}

func (discardPublisher) Publish(Result) {}

// TextPublisher writes one line per result. With StableOnly set in note
// mode only confirmed notes are written.
type TextPublisher struct {
	mu         sync.Mutex
	w          io.Writer
	err        error
	StableOnly bool
}

// NewTextPublisher writes to w
func NewTextPublisher(w io.Writer) *TextPublisher {
	return &TextPublisher{w: w}
}

func (p *TextPublisher) Publish(r Result) {
	if p.StableOnly && r.Mode == config.ModeNote && r.Stable == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	if _, err := fmt.Fprintln(p.w, r.String()); err != nil {
		p.err = fmt.Errorf("write result: %w", err)
	}
}

// Err returns the first write error; results after it are dropped
func (p *TextPublisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// JSONPublisher writes results as newline-delimited JSON
type JSONPublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONPublisher writes to w
func NewJSONPublisher(w io.Writer) *JSONPublisher {
	return &JSONPublisher{enc: json.NewEncoder(w)}
}

func (p *JSONPublisher) Publish(r Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	if err := p.enc.Encode(r); err != nil {
		p.err = fmt.Errorf("encode result: %w", err)
	}
}

// Err returns the first encode or write error; results after it are dropped
func (p *JSONPublisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
