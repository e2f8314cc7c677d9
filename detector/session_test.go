package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/RyanBlaney/sonido-nota/algorithms/filters"
	"github.com/RyanBlaney/sonido-nota/algorithms/tonal"
	"github.com/RyanBlaney/sonido-nota/capture"
	"github.com/RyanBlaney/sonido-nota/detector/config"
	"github.com/RyanBlaney/sonido-nota/logging"
)

const (
	testRate  = 44100
	testFrame = 8192
)

func tone(n int, amplitude float64, freqs ...float64) []float64 {
	out := make([]float64, n)
	for _, f := range freqs {
		for i := range out {
			out[i] += amplitude * math.Sin(2*math.Pi*f*float64(i)/testRate)
		}
	}
	return out
}

func toFrame(x []float64) capture.Frame {
	f := make(capture.Frame, len(x))
	for i, v := range x {
		f[i] = float32(v)
	}
	return f
}

func newTestSession(t *testing.T, cfg *config.Config, src capture.Source, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(&logging.NoOpLogger{})}, opts...)
	s, err := NewSession(cfg, src, opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func collectResults(results *[]Result) Publisher {
	return PublisherFunc(func(r Result) { *results = append(*results, r) })
}

func TestSessionNoteEndToEnd(t *testing.T) {
	src, err := capture.NewBufferSource(tone(3*testFrame, 0.5, 440), testRate, testFrame)
	if err != nil {
		t.Fatal(err)
	}

	var results []Result
	s := newTestSession(t, nil, src, WithPublisher(collectResults(&results)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	for i, r := range results {
		if r.Frame != i || r.Mode != config.ModeNote {
			t.Errorf("result %d: frame=%d mode=%s", i, r.Frame, r.Mode)
		}
		if r.Gated {
			t.Fatalf("frame %d gated at %.1f dB", i, r.LevelDB)
		}
		if r.Note == nil || r.Note.String() != "A4" {
			t.Fatalf("frame %d: note = %v, want A4", i, r.Note)
		}
		if math.Abs(r.Frequency-440) > 1 {
			t.Errorf("frame %d: frequency = %.2f, want ~440", i, r.Frequency)
		}
		if math.Abs(r.Cents) > 5 {
			t.Errorf("frame %d: cents = %.2f", i, r.Cents)
		}
	}

	if results[0].Stable != nil || results[1].Stable != nil {
		t.Error("stable note emitted before three frames")
	}
	if results[2].Stable == nil || results[2].Stable.String() != "A4" {
		t.Errorf("third frame stable = %v, want A4", results[2].Stable)
	}

	// First frame uses the strict gate, later ones the relaxed gate after a confident pitch.
	if results[0].GateThresholdDB != -40 || results[1].GateThresholdDB != -60 {
		t.Errorf("gate thresholds = %v, %v", results[0].GateThresholdDB, results[1].GateThresholdDB)
	}
}

func TestSessionChordMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeChord
	s := newTestSession(t, cfg, nil)

	res := s.ProcessFrame(toFrame(tone(testFrame, 0.3, 261.63, 329.63, 392.0)))

	if !res.ChordMatched || res.Chord != "C major" {
		t.Fatalf("chord = %q (matched %v), want C major", res.Chord, res.ChordMatched)
	}

	var names []string
	for _, n := range res.Notes {
		names = append(names, n.String())
	}
	if strings.Join(names, " ") != "C4 E4 G4" {
		t.Errorf("notes = %v, want [C4 E4 G4]", names)
	}

	if len(res.Frequencies) != cfg.Spectral.MaxPeaks {
		t.Errorf("got %d frequencies, want %d", len(res.Frequencies), cfg.Spectral.MaxPeaks)
	}
	for i := 1; i < len(res.Frequencies); i++ {
		if res.Frequencies[i] < res.Frequencies[i-1] {
			t.Errorf("frequencies not ascending: %v", res.Frequencies)
		}
	}
}

func TestSessionGatedFrame(t *testing.T) {
	quiet := toFrame(tone(testFrame, 1e-4, 440))

	t.Run("note", func(t *testing.T) {
		s := newTestSession(t, nil, nil)
		res := s.ProcessFrame(quiet)
		if !res.Gated || res.Note != nil || res.Confidence != 0 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("chord", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Mode = config.ModeChord
		s := newTestSession(t, cfg, nil)
		res := s.ProcessFrame(quiet)
		if !res.Gated || res.ChordMatched || res.Chord != tonal.UnknownChord || len(res.Notes) != 0 {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestSessionMinConfidence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Pitch.MinConfidence = 0.6

	weak := tonal.PitchEstimatorFunc(func(frame []float64, sampleRate int) (tonal.PitchEstimate, error) {
		return tonal.PitchEstimate{Frequency: 261.63, Confidence: 0.5}, nil
	})
	s := newTestSession(t, cfg, nil, WithEstimator(weak))

	res := s.ProcessFrame(toFrame(tone(testFrame, 0.5, 261.63)))
	if res.Note != nil {
		t.Errorf("note %s reported below the confidence floor", res.Note)
	}
	if res.Frequency != 261.63 || res.Confidence != 0.5 {
		t.Errorf("estimate not carried: %+v", res)
	}
}

func TestSessionEstimatorErrorIsSoft(t *testing.T) {
	failing := tonal.PitchEstimatorFunc(func(frame []float64, sampleRate int) (tonal.PitchEstimate, error) {
		return tonal.PitchEstimate{}, errors.New("boom")
	})
	s := newTestSession(t, nil, nil, WithEstimator(failing))

	res := s.ProcessFrame(toFrame(tone(testFrame, 0.5, 440)))
	if res.Note != nil || res.Gated {
		t.Errorf("result = %+v", res)
	}
}

type failingSource struct {
	frames int
	err    error
	closed bool
}

func (f *failingSource) ReadFrame(ctx context.Context) (capture.Frame, error) {
	if f.frames == 0 {
		return nil, f.err
	}
	f.frames--
	return toFrame(tone(testFrame, 0.5, 440)), nil
}

func (f *failingSource) SampleRate() int { return testRate }
func (f *failingSource) FrameSize() int  { return testFrame }
func (f *failingSource) Close() error    { f.closed = true; return nil }

func TestSessionCaptureFailure(t *testing.T) {
	device := errors.New("device unplugged")
	src := &failingSource{frames: 2, err: device}

	var results []Result
	s := newTestSession(t, nil, src, WithPublisher(collectResults(&results)))

	err := s.Run(context.Background())
	if !errors.Is(err, ErrCaptureFailure) || !errors.Is(err, device) {
		t.Fatalf("err = %v, want ErrCaptureFailure wrapping the device error", err)
	}
	if len(results) != 2 {
		t.Errorf("published %d results, want 2", len(results))
	}
	if !src.closed {
		t.Error("source not closed")
	}
	if last, count := s.stabilizer.State(); last != nil || count != 0 {
		t.Errorf("stabilizer not reset: (%v, %d)", last, count)
	}
	if s.prevConfidence != 0 {
		t.Errorf("gate confidence not reset: %v", s.prevConfidence)
	}
	if results[1].Confidence < 0.85 {
		t.Errorf("second frame confidence = %v, expected a confident pitch before the failure", results[1].Confidence)
	}
}

func TestSessionCancelled(t *testing.T) {
	src := &failingSource{frames: 100, err: io.EOF}
	s := newTestSession(t, nil, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !src.closed {
		t.Error("source not closed")
	}
}

func TestSessionRunWithoutSource(t *testing.T) {
	s := newTestSession(t, nil, nil)
	if err := s.Run(context.Background()); !errors.Is(err, ErrCaptureFailure) {
		t.Errorf("err = %v, want ErrCaptureFailure", err)
	}
}

func TestNewSessionErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Filter.HighCut = 30000
	if _, err := NewSession(cfg, nil); !errors.Is(err, filters.ErrInvalidFilterConfig) {
		t.Errorf("err = %v, want ErrInvalidFilterConfig", err)
	}

	src, _ := capture.NewBufferSource(nil, 22050, testFrame)
	if _, err := NewSession(nil, src); !errors.Is(err, capture.ErrSampleRateMismatch) {
		t.Errorf("err = %v, want ErrSampleRateMismatch", err)
	}

	short, _ := capture.NewBufferSource(nil, testRate, 1024)
	if _, err := NewSession(nil, short); !errors.Is(err, capture.ErrFrameSizeMismatch) {
		t.Errorf("err = %v, want ErrFrameSizeMismatch", err)
	}
}

func TestGatePolicy(t *testing.T) {
	adaptive := NewGatePolicy(config.DefaultConfig().Gate)
	fixed := GatePolicy{ThresholdDB: -50}

	tests := []struct {
		name   string
		policy GatePolicy
		conf   float64
		want   float64
	}{
		{"adaptive confident", adaptive, 0.9, -60},
		{"adaptive at cutoff", adaptive, 0.85, -40},
		{"adaptive silent", adaptive, 0, -40},
		{"fixed", fixed, 0.99, -50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Threshold(tt.conf); got != tt.want {
				t.Errorf("Threshold(%v) = %v, want %v", tt.conf, got, tt.want)
			}
		})
	}
}

func TestConditioner(t *testing.T) {
	coeffs, err := filters.DesignBandpass(80, 1200, testRate, 4)
	if err != nil {
		t.Fatal(err)
	}
	c := NewConditioner(coeffs)
	if c.Coefficients() != coeffs {
		t.Error("Coefficients does not return the designed filter")
	}

	loud := toFrame(tone(testFrame, 0.5, 440))
	orig := loud[100]

	out := c.Condition(loud, -40)
	if out.Gated || len(out.Signal) != len(loud) {
		t.Fatalf("loud frame: gated=%v len=%d", out.Gated, len(out.Signal))
	}
	if loud[100] != orig {
		t.Error("Condition modified its input")
	}
	if math.Abs(out.Input.Peak-0.5) > 1e-3 {
		t.Errorf("input peak = %v", out.Input.Peak)
	}

	quiet := c.Condition(toFrame(tone(testFrame, 1e-4, 440)), -40)
	if !quiet.Gated || len(quiet.Signal) != testFrame {
		t.Fatalf("quiet frame: gated=%v len=%d", quiet.Gated, len(quiet.Signal))
	}
	for i, v := range quiet.Signal {
		if v != 0 {
			t.Fatalf("gated sample %d = %v", i, v)
		}
	}
}

func TestPublishers(t *testing.T) {
	a4 := tonal.Note{Class: tonal.A, Octave: 4}
	noteRes := Result{Mode: config.ModeNote, Frame: 2, Note: &a4, Frequency: 440, Confidence: 0.99, Stable: &a4}

	var text bytes.Buffer
	tp := NewTextPublisher(&text)
	tp.StableOnly = true
	tp.Publish(Result{Mode: config.ModeNote, Frame: 1, Note: &a4})
	tp.Publish(noteRes)
	if lines := strings.Count(text.String(), "\n"); lines != 1 {
		t.Errorf("wrote %d lines, want 1: %q", lines, text.String())
	}
	if !strings.Contains(text.String(), "=> A4") {
		t.Errorf("text = %q", text.String())
	}

	var js bytes.Buffer
	NewJSONPublisher(&js).Publish(noteRes)
	var decoded map[string]any
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json %q: %v", js.String(), err)
	}
	if decoded["note"] != "A4" || decoded["stable"] != "A4" {
		t.Errorf("json = %v", decoded)
	}
}

type checkedPublisher interface {
	Publisher
	Err() error
}

type brokenWriter struct{ writes int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestPublishersKeepFirstWriteError(t *testing.T) {
	a4 := tonal.Note{Class: tonal.A, Octave: 4}
	res := Result{Mode: config.ModeNote, Note: &a4, Stable: &a4}

	tests := []struct {
		name    string
		publish func(w io.Writer) checkedPublisher
	}{
		{"text", func(w io.Writer) checkedPublisher { return NewTextPublisher(w) }},
		{"json", func(w io.Writer) checkedPublisher { return NewJSONPublisher(w) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &brokenWriter{}
			p := tt.publish(w)
			if p.Err() != nil {
				t.Fatalf("Err before publishing = %v", p.Err())
			}
			p.Publish(res)
			p.Publish(res)
			if p.Err() == nil || !strings.Contains(p.Err().Error(), "broken pipe") {
				t.Errorf("Err = %v, want the write error", p.Err())
			}
			if w.writes != 1 {
				t.Errorf("writer called %d times after failing, want 1", w.writes)
			}
		})
	}
}
