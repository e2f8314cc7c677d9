package spectral

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Default analysis band and peak count for the chord path.
const (
	DefaultBandLow  = 60.0
	DefaultBandHigh = 1200.0
	DefaultMaxPeaks = 6
)

// DominantFrequencies picks the maxCount strongest FFT bins whose frequency
// lies strictly inside (bandLow, bandHigh) and returns their frequencies in
// ascending order.
//
// This is plain peak-picking on bin magnitudes, not multi-f0 estimation:
// harmonics and leakage from a strong partial show up as extra frequencies.
// Among bins of equal magnitude the selection order is unspecified.
func DominantFrequencies(frame []float64, sampleRate, bandLow, bandHigh float64, maxCount int) []float64 {
	return NewFFT().DominantFrequencies(frame, sampleRate, bandLow, bandHigh, maxCount)
}

// DominantFrequencies is the method form of the package-level function,
// reusing the receiver's FFT.
func (f *FFT) DominantFrequencies(frame []float64, sampleRate, bandLow, bandHigh float64, maxCount int) []float64 {
	if len(frame) == 0 || maxCount <= 0 || bandHigh <= bandLow {
		return []float64{}
	}

	spec := f.MagnitudeSpectrum(frame, sampleRate)

	var mags, freqs []float64
	for k, freq := range spec.Frequencies {
		if freq > bandLow && freq < bandHigh {
			mags = append(mags, spec.Magnitudes[k])
			freqs = append(freqs, freq)
		}
	}
	if len(mags) == 0 {
		return []float64{}
	}

	// Argsort orders ascending, so the strongest bins end up at the tail.
	inds := make([]int, len(mags))
	floats.Argsort(mags, inds)

	count := min(maxCount, len(inds))
	out := make([]float64, 0, count)
	for _, idx := range inds[len(inds)-count:] {
		out = append(out, freqs[idx])
	}
	sort.Float64s(out)

	return out
}
