package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-nota/algorithms/filters"
	"github.com/RyanBlaney/sonido-nota/algorithms/spectral"
	"github.com/RyanBlaney/sonido-nota/algorithms/tonal"
	"github.com/RyanBlaney/sonido-nota/logging"
	"github.com/RyanBlaney/sonido-nota/transcode"
	"gopkg.in/yaml.v3"
)

// Mode selects the detection path
type Mode string

const (
	ModeNote  Mode = "note"  // monophonic: one note per frame, debounced
	ModeChord Mode = "chord" // polyphonic: dominant frequencies matched against chord templates
)

// IsValid reports whether m is a known mode
func (m Mode) IsValid() bool {
	switch m {
	case ModeNote, ModeChord:
		return true
	}
	return false
}

// Config is the full detection configuration
type Config struct {
	SampleRate int    `yaml:"sample_rate" json:"sample_rate"`
	FrameSize  int    `yaml:"frame_size" json:"frame_size"`
	Mode       Mode   `yaml:"mode" json:"mode"`
	LogLevel   string `yaml:"log_level" json:"log_level"`

	Filter     FilterConfig     `yaml:"filter" json:"filter"`
	Gate       GateConfig       `yaml:"gate" json:"gate"`
	Spectral   SpectralConfig   `yaml:"spectral" json:"spectral"`
	Stabilizer StabilizerConfig `yaml:"stabilizer" json:"stabilizer"`
	Pitch      PitchConfig      `yaml:"pitch" json:"pitch"`
	Input      InputConfig      `yaml:"input" json:"input"`

	// Chords replaces the built-in template list when non-empty. Order is
	// significant: the first matching entry wins.
	Chords []ChordConfig `yaml:"chords,omitempty" json:"chords,omitempty"`
}

// FilterConfig configures the Butterworth bandpass
type FilterConfig struct {
	LowCut  float64 `yaml:"low_cut" json:"low_cut"`   // Hz
	HighCut float64 `yaml:"high_cut" json:"high_cut"` // Hz
	Order   int     `yaml:"order" json:"order"`
}

// GateConfig configures the noise gate and its adaptive threshold
type GateConfig struct {
	ThresholdDB float64 `yaml:"threshold_db" json:"threshold_db"` // fixed threshold when not adaptive
	Adaptive    bool    `yaml:"adaptive" json:"adaptive"`

	// With Adaptive set, a previous-frame pitch confidence above
	// ConfidenceCutoff selects RelaxedDB, anything else StrictDB.
	ConfidenceCutoff float64 `yaml:"confidence_cutoff" json:"confidence_cutoff"`
	RelaxedDB        float64 `yaml:"relaxed_db" json:"relaxed_db"`
	StrictDB         float64 `yaml:"strict_db" json:"strict_db"`
}

// SpectralConfig configures dominant-frequency extraction on the chord path
type SpectralConfig struct {
	BandLow  float64 `yaml:"band_low" json:"band_low"`
	BandHigh float64 `yaml:"band_high" json:"band_high"`
	MaxPeaks int     `yaml:"max_peaks" json:"max_peaks"`
	Window   string  `yaml:"window" json:"window"` // none, hann, hamming, blackman
}

// StabilizerConfig configures note debouncing
type StabilizerConfig struct {
	Threshold int `yaml:"threshold" json:"threshold"` // consecutive frames
}

// PitchConfig configures the monophonic pitch estimator
type PitchConfig struct {
	MinFreq       float64 `yaml:"min_freq" json:"min_freq"`
	MaxFreq       float64 `yaml:"max_freq" json:"max_freq"`
	YinThreshold  float64 `yaml:"yin_threshold" json:"yin_threshold"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"` // estimates below this count as no pitch
}

// InputConfig configures ffmpeg decoding of non-WAV input files
type InputConfig struct {
	FFmpegPath      string  `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath     string  `yaml:"ffprobe_path" json:"ffprobe_path"`
	ResampleQuality string  `yaml:"resample_quality" json:"resample_quality"` // fast, medium, high
	MaxDurationSec  float64 `yaml:"max_duration_sec" json:"max_duration_sec"` // 0 decodes the whole file

	// Normalize applies ffmpeg loudnorm to the whole file before framing.
	// This moves every frame relative to the gate thresholds.
	Normalize     bool    `yaml:"normalize" json:"normalize"`
	TargetLUFS    float64 `yaml:"target_lufs" json:"target_lufs"`
	TargetPeak    float64 `yaml:"target_peak" json:"target_peak"`
	LoudnessRange float64 `yaml:"loudness_range" json:"loudness_range"`
}

// ChordConfig is one chord template as written in a config file
type ChordConfig struct {
	Label string   `yaml:"label" json:"label"`
	Notes []string `yaml:"notes" json:"notes"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	yin := tonal.DefaultYinParams()
	dec := transcode.DefaultDecoderConfig()

	return &Config{
		SampleRate: 44100,
		FrameSize:  8192,
		Mode:       ModeNote,
		LogLevel:   "info",
		Filter: FilterConfig{
			LowCut:  80,
			HighCut: 1200,
			Order:   filters.DefaultOrder,
		},
		Gate: GateConfig{
			ThresholdDB:      -40,
			Adaptive:         true,
			ConfidenceCutoff: 0.85,
			RelaxedDB:        -60,
			StrictDB:         -40,
		},
		Spectral: SpectralConfig{
			BandLow:  spectral.DefaultBandLow,
			BandHigh: spectral.DefaultBandHigh,
			MaxPeaks: spectral.DefaultMaxPeaks,
			Window:   string(spectral.WindowNone),
		},
		Stabilizer: StabilizerConfig{
			Threshold: tonal.DefaultStableFrames,
		},
		Pitch: PitchConfig{
			MinFreq:       yin.MinFreq,
			MaxFreq:       yin.MaxFreq,
			YinThreshold:  yin.Threshold,
			MinConfidence: 0,
		},
		Input: InputConfig{
			FFmpegPath:      dec.FFmpegPath,
			FFprobePath:     dec.FFprobePath,
			ResampleQuality: dec.ResampleQuality,
			TargetLUFS:      dec.TargetLUFS,
			TargetPeak:      dec.TargetPeak,
			LoudnessRange:   dec.LoudnessRange,
		},
	}
}

// Load reads the YAML (or JSON) configuration file at path on top of
// DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a config from r. Keys absent from the document
// keep their default values; unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that c contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error

	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame_size must be positive, got %d", c.FrameSize))
	}
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: note, chord", c.Mode))
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	if err := filters.ValidateBandpass(c.Filter.LowCut, c.Filter.HighCut, float64(c.SampleRate), c.Filter.Order); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}

	if c.Gate.ConfidenceCutoff < 0 || c.Gate.ConfidenceCutoff > 1 {
		errs = append(errs, fmt.Errorf("gate.confidence_cutoff %.2f is out of range [0, 1]", c.Gate.ConfidenceCutoff))
	}

	if c.Spectral.BandLow < 0 || c.Spectral.BandHigh <= c.Spectral.BandLow {
		errs = append(errs, fmt.Errorf("spectral band (%g, %g) is empty", c.Spectral.BandLow, c.Spectral.BandHigh))
	}
	if c.Spectral.MaxPeaks < 1 {
		errs = append(errs, fmt.Errorf("spectral.max_peaks must be at least 1, got %d", c.Spectral.MaxPeaks))
	}
	if _, err := spectral.ParseWindowType(c.Spectral.Window); err != nil {
		errs = append(errs, fmt.Errorf("spectral.window: %w", err))
	}

	if c.Stabilizer.Threshold < 1 {
		errs = append(errs, fmt.Errorf("stabilizer.threshold must be at least 1, got %d", c.Stabilizer.Threshold))
	}

	if c.Pitch.MinFreq <= 0 || c.Pitch.MaxFreq <= c.Pitch.MinFreq {
		errs = append(errs, fmt.Errorf("pitch range [%g, %g] is invalid", c.Pitch.MinFreq, c.Pitch.MaxFreq))
	}
	if c.Pitch.YinThreshold <= 0 || c.Pitch.YinThreshold >= 1 {
		errs = append(errs, fmt.Errorf("pitch.yin_threshold %.2f is out of range (0, 1)", c.Pitch.YinThreshold))
	}
	if c.Pitch.MinConfidence < 0 || c.Pitch.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("pitch.min_confidence %.2f is out of range [0, 1]", c.Pitch.MinConfidence))
	}

	switch c.Input.ResampleQuality {
	case "fast", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("input.resample_quality %q is invalid; valid values: fast, medium, high", c.Input.ResampleQuality))
	}
	if c.Input.MaxDurationSec < 0 {
		errs = append(errs, fmt.Errorf("input.max_duration_sec must not be negative, got %g", c.Input.MaxDurationSec))
	}
	if c.Input.Normalize && (c.Input.TargetLUFS >= 0 || c.Input.TargetPeak > 0 || c.Input.LoudnessRange <= 0) {
		errs = append(errs, fmt.Errorf("input loudness target (I=%g, TP=%g, LRA=%g) is invalid",
			c.Input.TargetLUFS, c.Input.TargetPeak, c.Input.LoudnessRange))
	}

	seen := make(map[string]int, len(c.Chords))
	for i, ch := range c.Chords {
		prefix := fmt.Sprintf("chords[%d]", i)
		if prev, ok := seen[strings.TrimSpace(ch.Label)]; ok && ch.Label != "" {
			errs = append(errs, fmt.Errorf("%s.label %q is a duplicate of chords[%d]", prefix, ch.Label, prev))
		}
		seen[strings.TrimSpace(ch.Label)] = i
		if _, err := tonal.ParseChordTemplate(ch.Label, ch.Notes...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

// ChordTemplates returns the configured templates in order, or the
// built-in list when none are configured.
func (c *Config) ChordTemplates() ([]tonal.ChordTemplate, error) {
	if len(c.Chords) == 0 {
		return tonal.DefaultChordTemplates(), nil
	}

	out := make([]tonal.ChordTemplate, 0, len(c.Chords))
	for i, ch := range c.Chords {
		t, err := tonal.ParseChordTemplate(ch.Label, ch.Notes...)
		if err != nil {
			return nil, fmt.Errorf("chords[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// YinParams maps the pitch section onto estimator parameters
func (c *Config) YinParams() tonal.YinParams {
	return tonal.YinParams{
		MinFreq:   c.Pitch.MinFreq,
		MaxFreq:   c.Pitch.MaxFreq,
		Threshold: c.Pitch.YinThreshold,
	}
}

// DecoderConfig maps the input section onto ffmpeg decoder settings,
// decoding at the session sample rate.
func (c *Config) DecoderConfig() *transcode.DecoderConfig {
	dc := transcode.DefaultDecoderConfig()
	dc.TargetSampleRate = c.SampleRate
	if c.Input.FFmpegPath != "" {
		dc.FFmpegPath = c.Input.FFmpegPath
	}
	if c.Input.FFprobePath != "" {
		dc.FFprobePath = c.Input.FFprobePath
	}
	dc.ResampleQuality = c.Input.ResampleQuality
	dc.MaxDuration = time.Duration(c.Input.MaxDurationSec * float64(time.Second))
	dc.EnableNormalization = c.Input.Normalize
	dc.TargetLUFS = c.Input.TargetLUFS
	dc.TargetPeak = c.Input.TargetPeak
	dc.LoudnessRange = c.Input.LoudnessRange
	return dc
}

// WindowType returns the parsed analysis window, WindowNone if unset
func (c *Config) WindowType() spectral.WindowType {
	wt, err := spectral.ParseWindowType(c.Spectral.Window)
	if err != nil {
		return spectral.WindowNone
	}
	return wt
}
