package detector

import (
	"github.com/RyanBlaney/sonido-nota/algorithms/filters"
	"github.com/RyanBlaney/sonido-nota/algorithms/temporal"
	"github.com/RyanBlaney/sonido-nota/capture"
)

// Conditioned is a frame after bandpass filtering and gating
type Conditioned struct {
	Signal  []float64      // filtered frame, or all zeros when gated
	Input   temporal.Level // level of the raw frame before filtering
	LevelDB float64        // RMS level of the filtered frame, the value gated on
	Gated   bool
}

// Conditioner bandpass-filters frames and applies the noise gate.
// Each frame is filtered independently from a zero initial state.
type Conditioner struct {
	coeffs *filters.Coefficients
}

// NewConditioner wraps designed bandpass coefficients
func NewConditioner(coeffs *filters.Coefficients) *Conditioner {
	return &Conditioner{coeffs: coeffs}
}

// Coefficients returns the filter in use
func (c *Conditioner) Coefficients() *filters.Coefficients {
	return c.coeffs
}

// Condition filters frame and gates it at thresholdDB. The returned signal
// always has the frame's length; the input is not modified.
func (c *Conditioner) Condition(frame capture.Frame, thresholdDB float64) Conditioned {
	raw := temporal.Float32ToFloat64(frame)
	filtered := filters.Apply(c.coeffs, raw)
	gate := temporal.NoiseGate(filtered, thresholdDB)

	return Conditioned{
		Signal:  gate.Signal,
		Input:   temporal.MeasureLevel(raw),
		LevelDB: gate.LevelDB,
		Gated:   gate.Gated,
	}
}
