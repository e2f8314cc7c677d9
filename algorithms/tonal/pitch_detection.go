package tonal

import (
	"errors"
	"fmt"
	"math"
)

// ErrFrameTooShort is returned when a frame cannot hold two periods of the
// lowest frequency in the search range.
var ErrFrameTooShort = errors.New("frame too short for pitch search range")

// PitchEstimate is a single monophonic pitch reading.
// Frequency <= 0 means no pitch was found.
type PitchEstimate struct {
	Frequency  float64 `json:"frequency"`  // Hz
	Confidence float64 `json:"confidence"` // 0-1
}

// Voiced reports whether the estimate carries a pitch
func (pe PitchEstimate) Voiced() bool {
	return pe.Frequency > 0
}

// PitchEstimator finds the fundamental of a monophonic frame.
type PitchEstimator interface {
	EstimatePitch(frame []float64, sampleRate int) (PitchEstimate, error)
}

// PitchEstimatorFunc adapts a function to PitchEstimator
type PitchEstimatorFunc func(frame []float64, sampleRate int) (PitchEstimate, error)

// EstimatePitch calls f
func (f PitchEstimatorFunc) EstimatePitch(frame []float64, sampleRate int) (PitchEstimate, error) {
	return f(frame, sampleRate)
}

// YinParams holds the tuning of a YinEstimator
type YinParams struct {
	MinFreq   float64 `json:"min_freq" yaml:"min_freq"`
	MaxFreq   float64 `json:"max_freq" yaml:"max_freq"`
	Threshold float64 `json:"yin_threshold" yaml:"yin_threshold"` // absolute threshold on d'(tau), 0.1-0.5
}

// DefaultYinParams covers guitar and voice range
func DefaultYinParams() YinParams {
	return YinParams{
		MinFreq:   60.0,
		MaxFreq:   1500.0,
		Threshold: 0.15,
	}
}

// YinEstimator implements the YIN fundamental frequency estimator.
//
// Reference: de Cheveigné, A., Kawahara, H. (2002). "YIN, a fundamental
// frequency estimator for speech and music"
//
// Lags are restricted to [sampleRate/MaxFreq, sampleRate/MinFreq]. The
// estimator holds no per-frame state and is safe for concurrent use.
type YinEstimator struct {
	params YinParams
}

// NewYinEstimator creates an estimator; zero fields in params take defaults.
func NewYinEstimator(params YinParams) *YinEstimator {
	def := DefaultYinParams()
	if params.MinFreq <= 0 {
		params.MinFreq = def.MinFreq
	}
	if params.MaxFreq <= params.MinFreq {
		params.MaxFreq = def.MaxFreq
	}
	if params.Threshold <= 0 {
		params.Threshold = def.Threshold
	}
	return &YinEstimator{params: params}
}

// Params returns the estimator's parameters
func (ye *YinEstimator) Params() YinParams {
	return ye.params
}

// EstimatePitch runs YIN on frame. An unvoiced or silent frame yields a zero
// estimate and no error.
func (ye *YinEstimator) EstimatePitch(frame []float64, sampleRate int) (PitchEstimate, error) {
	if sampleRate <= 0 {
		return PitchEstimate{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	sr := float64(sampleRate)
	minTau := max(2, int(sr/ye.params.MaxFreq))
	maxTau := min(len(frame)/2, int(math.Ceil(sr/ye.params.MinFreq)))
	if maxTau-minTau < 2 {
		return PitchEstimate{}, fmt.Errorf("%w: %d samples at %d Hz", ErrFrameTooShort, len(frame), sampleRate)
	}

	cmndf := cumulativeMeanNormalizedDifference(frame, maxTau)

	// First dip under the threshold, then slide down to its local minimum.
	tau := -1
	for t := minTau; t < maxTau; t++ {
		if cmndf[t] < ye.params.Threshold {
			for t+1 < maxTau && cmndf[t+1] < cmndf[t] {
				t++
			}
			tau = t
			break
		}
	}
	if tau < 0 {
		return PitchEstimate{}, nil
	}

	period := parabolicInterpolation(cmndf, tau)
	if period <= 0 {
		return PitchEstimate{}, nil
	}

	frequency := sr / period
	if frequency < ye.params.MinFreq || frequency > ye.params.MaxFreq {
		return PitchEstimate{}, nil
	}

	confidence := math.Max(0, math.Min(1, 1-cmndf[tau]))

	return PitchEstimate{Frequency: frequency, Confidence: confidence}, nil
}

// cumulativeMeanNormalizedDifference returns d'(tau) for tau in [0, maxTau].
// The integration window is len(frame)-maxTau so every lag sees the same
// number of products.
func cumulativeMeanNormalizedDifference(frame []float64, maxTau int) []float64 {
	window := len(frame) - maxTau

	diff := make([]float64, maxTau+1)
	for tau := 1; tau <= maxTau; tau++ {
		sum := 0.0
		for j := range window {
			delta := frame[j] - frame[j+tau]
			sum += delta * delta
		}
		diff[tau] = sum
	}

	cmndf := make([]float64, maxTau+1)
	cmndf[0] = 1.0

	runningSum := 0.0
	for tau := 1; tau <= maxTau; tau++ {
		runningSum += diff[tau]
		if runningSum == 0 {
			cmndf[tau] = 1.0
			continue
		}
		cmndf[tau] = diff[tau] * float64(tau) / runningSum
	}

	return cmndf
}

// parabolicInterpolation refines the position of an extremum at peakIdx
func parabolicInterpolation(data []float64, peakIdx int) float64 {
	if peakIdx <= 0 || peakIdx >= len(data)-1 {
		return float64(peakIdx)
	}

	y1 := data[peakIdx-1]
	y2 := data[peakIdx]
	y3 := data[peakIdx+1]

	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2

	if a == 0 {
		return float64(peakIdx)
	}

	return float64(peakIdx) - b/(2*a)
}
