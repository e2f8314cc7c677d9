package spectral

import (
	"fmt"
	"strings"

	"github.com/mjibson/go-dsp/window"
)

// WindowType names an analysis window applied before the FFT
type WindowType string

const (
	WindowNone     WindowType = "none"
	WindowHann     WindowType = "hann"
	WindowHamming  WindowType = "hamming"
	WindowBlackman WindowType = "blackman"
)

// ParseWindowType validates a configured window name. Empty means WindowNone.
func ParseWindowType(s string) (WindowType, error) {
	switch w := WindowType(strings.ToLower(strings.TrimSpace(s))); w {
	case "", WindowNone, "rectangular":
		return WindowNone, nil
	case WindowHann, WindowHamming, WindowBlackman:
		return w, nil
	default:
		return WindowNone, fmt.Errorf("unsupported window type %q", s)
	}
}

// ApplyWindow returns a windowed copy of frame. WindowNone returns a plain copy.
func ApplyWindow(frame []float64, wt WindowType) []float64 {
	out := make([]float64, len(frame))
	copy(out, frame)

	switch wt {
	case WindowHann:
		window.Apply(out, window.Hann)
	case WindowHamming:
		window.Apply(out, window.Hamming)
	case WindowBlackman:
		window.Apply(out, window.Blackman)
	}

	return out
}
