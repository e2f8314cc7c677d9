package filters

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// ErrInvalidFilterConfig is returned when the cutoff frequencies, sample rate
// or order cannot describe a realizable bandpass filter.
var ErrInvalidFilterConfig = errors.New("invalid filter configuration")

// DefaultOrder is the Butterworth order used when none is configured.
const DefaultOrder = 4

// Coefficients holds the transfer function of an IIR filter.
//
// B is the feedforward (numerator) polynomial and A the feedback
// (denominator) polynomial, both in descending powers of z^-1 with A[0] == 1.
type Coefficients struct {
	B []float64
	A []float64
}

// Order returns the number of poles of the filter.
func (c *Coefficients) Order() int {
	return len(c.A) - 1
}

// DesignBandpass computes a digital Butterworth bandpass filter.
//
// Parameters:
//   - lowcut, highcut: passband edges in Hz (-3 dB points)
//   - sampleRate: sample rate in Hz
//   - order: order of the lowpass prototype; the bandpass has 2*order poles
//
// The design follows the classic analog-prototype route: Butterworth poles on
// the unit circle, bilinear prewarping of both edges, lowpass to bandpass
// transform, bilinear transform, then expansion of zeros and poles into
// polynomials. The result matches butter(order, [lo/nyq, hi/nyq], "band")
// from the usual signal processing toolkits.
//
// Reference: Oppenheim & Schafer, "Discrete-Time Signal Processing", ch. 7
func DesignBandpass(lowcut, highcut, sampleRate float64, order int) (*Coefficients, error) {
	if err := ValidateBandpass(lowcut, highcut, sampleRate, order); err != nil {
		return nil, err
	}

	nyquist := sampleRate / 2.0

	// Work at fs = 2 so that normalized frequencies map directly.
	const fs = 2.0
	const fs2 = 2.0 * fs
	w1 := fs2 * math.Tan(math.Pi*(lowcut/nyquist)/fs)
	w2 := fs2 * math.Tan(math.Pi*(highcut/nyquist)/fs)

	bw := w2 - w1
	wo := math.Sqrt(w1 * w2)

	// Analog lowpass prototype: p_k = -exp(j*pi*m/(2N)), m = -N+1, -N+3, ..., N-1
	prototype := make([]complex128, order)
	for i := range order {
		m := float64(-order + 1 + 2*i)
		prototype[i] = -cmplx.Exp(complex(0, math.Pi*m/(2.0*float64(order))))
	}

	// Lowpass to bandpass: every prototype pole splits into two.
	analogPoles := make([]complex128, 0, 2*order)
	woSq := complex(wo*wo, 0)
	for _, p := range prototype {
		scaled := p * complex(bw/2.0, 0)
		analogPoles = append(analogPoles, scaled+cmplx.Sqrt(scaled*scaled-woSq))
	}
	for _, p := range prototype {
		scaled := p * complex(bw/2.0, 0)
		analogPoles = append(analogPoles, scaled-cmplx.Sqrt(scaled*scaled-woSq))
	}
	// N zeros at the origin, gain bw^N.
	gain := math.Pow(bw, float64(order))

	// Bilinear transform. The N analog zeros at s=0 land on z=1; the N zeros
	// at infinity land on z=-1.
	digitalPoles := make([]complex128, len(analogPoles))
	denom := complex(1, 0)
	for i, p := range analogPoles {
		digitalPoles[i] = (fs2 + p) / (fs2 - p)
		denom *= fs2 - p
	}
	digitalZeros := make([]complex128, 0, 2*order)
	for range order {
		digitalZeros = append(digitalZeros, 1)
	}
	for range order {
		digitalZeros = append(digitalZeros, -1)
	}
	numer := complex(math.Pow(fs2, float64(order)), 0)
	gain *= real(numer / denom)

	b := realPoly(digitalZeros)
	for i := range b {
		b[i] *= gain
	}
	a := realPoly(digitalPoles)

	return &Coefficients{B: b, A: a}, nil
}

// ValidateBandpass checks the bandpass invariant 0 < lowcut < highcut < sampleRate/2.
func ValidateBandpass(lowcut, highcut, sampleRate float64, order int) error {
	switch {
	case order < 1:
		return fmt.Errorf("%w: order must be at least 1, got %d", ErrInvalidFilterConfig, order)
	case sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0):
		return fmt.Errorf("%w: sample rate must be positive, got %g", ErrInvalidFilterConfig, sampleRate)
	case !(lowcut > 0) || !(highcut > 0):
		return fmt.Errorf("%w: cutoffs must be positive (low=%g, high=%g)", ErrInvalidFilterConfig, lowcut, highcut)
	case lowcut >= highcut:
		return fmt.Errorf("%w: lowcut %g Hz must be below highcut %g Hz", ErrInvalidFilterConfig, lowcut, highcut)
	case highcut >= sampleRate/2:
		return fmt.Errorf("%w: highcut %g Hz must be below Nyquist (%g Hz)", ErrInvalidFilterConfig, highcut, sampleRate/2)
	}
	return nil
}

// realPoly expands prod(z - r) and returns the real part of the coefficients.
// Roots come in conjugate pairs so the imaginary parts are rounding noise.
func realPoly(roots []complex128) []float64 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}

	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}
	return out
}

// FrequencyResponse computes the magnitude and phase response at given frequency.
// Returns magnitude (linear scale) and phase (radians).
//
// H(e^jw) = sum(b_k e^-jwk) / sum(a_k e^-jwk)
func (c *Coefficients) FrequencyResponse(frequency, sampleRate float64) (magnitude, phase float64) {
	w := 2.0 * math.Pi * frequency / sampleRate

	var num, den complex128
	for k, bk := range c.B {
		num += complex(bk, 0) * cmplx.Exp(complex(0, -w*float64(k)))
	}
	for k, ak := range c.A {
		den += complex(ak, 0) * cmplx.Exp(complex(0, -w*float64(k)))
	}

	h := num / den
	return cmplx.Abs(h), cmplx.Phase(h)
}
