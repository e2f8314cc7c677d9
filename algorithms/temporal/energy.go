package temporal

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DecibelEpsilon keeps log10 finite for all-zero frames. A silent frame
// therefore reads 20*log10(1e-10) = -200 dB.
const DecibelEpsilon = 1e-10

// RMS returns the root-mean-square amplitude of signal, 0 for an empty slice.
func RMS(signal []float64) float64 {
	if len(signal) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(signal, signal) / float64(len(signal)))
}

// AmplitudeToDecibels converts a linear amplitude to dBFS as 20*log10(a + epsilon).
func AmplitudeToDecibels(amplitude float64) float64 {
	return 20.0 * math.Log10(amplitude+DecibelEpsilon)
}

// RMSDecibels returns the RMS level of signal in dBFS
func RMSDecibels(signal []float64) float64 {
	return AmplitudeToDecibels(RMS(signal))
}

// Level summarizes the loudness of one frame, the numbers a level meter shows.
type Level struct {
	RMS    float64 `json:"rms"`
	RMSDB  float64 `json:"rms_db"`
	Peak   float64 `json:"peak"`
	PeakDB float64 `json:"peak_db"`
	DC     float64 `json:"dc"`    // mean sample value
	Crest  float64 `json:"crest"` // peak / RMS, 0 for silence
}

// MeasureLevel computes RMS and absolute-peak levels for a frame.
func MeasureLevel(signal []float64) Level {
	if len(signal) == 0 {
		return Level{RMSDB: AmplitudeToDecibels(0), PeakDB: AmplitudeToDecibels(0)}
	}

	rms := RMS(signal)
	peak := math.Max(math.Abs(floats.Max(signal)), math.Abs(floats.Min(signal)))

	level := Level{
		RMS:    rms,
		RMSDB:  AmplitudeToDecibels(rms),
		Peak:   peak,
		PeakDB: AmplitudeToDecibels(peak),
		DC:     stat.Mean(signal, nil),
	}
	if rms > 0 {
		level.Crest = peak / rms
	}
	return level
}

// Float32ToFloat64 widens a captured frame for the float64 analysis code.
func Float32ToFloat64(frame []float32) []float64 {
	out := make([]float64, len(frame))
	for i, v := range frame {
		out[i] = float64(v)
	}
	return out
}
