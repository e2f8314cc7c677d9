package detector

import "github.com/RyanBlaney/sonido-nota/detector/config"

// GatePolicy chooses the noise-gate threshold for each frame.
//
// With Adaptive set, a confident pitch on the previous frame relaxes the
// gate so a decaying note keeps sounding through its tail; otherwise the
// strict threshold applies. Without Adaptive the threshold is fixed.
type GatePolicy struct {
	Adaptive         bool
	ThresholdDB      float64
	ConfidenceCutoff float64
	RelaxedDB        float64
	StrictDB         float64
}

// NewGatePolicy builds a policy from the gate section of a config
func NewGatePolicy(cfg config.GateConfig) GatePolicy {
	return GatePolicy{
		Adaptive:         cfg.Adaptive,
		ThresholdDB:      cfg.ThresholdDB,
		ConfidenceCutoff: cfg.ConfidenceCutoff,
		RelaxedDB:        cfg.RelaxedDB,
		StrictDB:         cfg.StrictDB,
	}
}

// Threshold returns the gate threshold in dB given the previous frame's
// pitch confidence.
func (gp GatePolicy) Threshold(prevConfidence float64) float64 {
	if !gp.Adaptive {
		return gp.ThresholdDB
	}
	if prevConfidence > gp.ConfidenceCutoff {
		return gp.RelaxedDB
	}
	return gp.StrictDB
}
