package temporal

// GateResult is the outcome of running a frame through NoiseGate.
type GateResult struct {
	Signal  []float64 // gated frame, same length as the input
	LevelDB float64   // RMS level of the input in dBFS
	Gated   bool      // true when the frame was replaced by silence
}

// NoiseGate silences frames whose RMS level is below thresholdDB.
//
// A frame at or above the threshold is returned as a copy with identical
// content; a frame below it becomes an all-zero frame of the same length.
// The decision is made per frame, there is no attack/release smoothing.
func NoiseGate(signal []float64, thresholdDB float64) GateResult {
	levelDB := RMSDecibels(signal)
	out := make([]float64, len(signal))

	if levelDB < thresholdDB {
		return GateResult{Signal: out, LevelDB: levelDB, Gated: true}
	}

	copy(out, signal)
	return GateResult{Signal: out, LevelDB: levelDB}
}
