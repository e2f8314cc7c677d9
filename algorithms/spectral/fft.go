package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT wraps mjibson/go-dsp for real-valued frames
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute returns the full complex spectrum of x.
// go-dsp handles non-power-of-2 sizes through Bluestein's algorithm.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// Spectrum holds the non-negative half of a real frame's spectrum
type Spectrum struct {
	Magnitudes  []float64 // |X[k]|
	Frequencies []float64 // k * sampleRate / N in Hz
	BinWidth    float64   // sampleRate / N
}

// MagnitudeSpectrum computes per-bin magnitude and frequency for bins
// 0..ceil(N/2)-1. For even N the Nyquist bin is left out: it carries the
// frequency -fs/2 in the two-sided layout and can never fall inside a
// positive analysis band.
func (f *FFT) MagnitudeSpectrum(x []float64, sampleRate float64) *Spectrum {
	n := len(x)
	if n == 0 || sampleRate <= 0 {
		return &Spectrum{}
	}

	coeffs := f.Compute(x)
	half := (n + 1) / 2
	binWidth := sampleRate / float64(n)

	spec := &Spectrum{
		Magnitudes:  make([]float64, half),
		Frequencies: make([]float64, half),
		BinWidth:    binWidth,
	}
	for k := range half {
		spec.Magnitudes[k] = cmplx.Abs(coeffs[k])
		spec.Frequencies[k] = float64(k) * binWidth
	}

	return spec
}
