package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RyanBlaney/sonido-nota/algorithms/filters"
	"github.com/RyanBlaney/sonido-nota/algorithms/spectral"
	"github.com/RyanBlaney/sonido-nota/algorithms/tonal"
	"github.com/RyanBlaney/sonido-nota/capture"
	"github.com/RyanBlaney/sonido-nota/detector/config"
	"github.com/RyanBlaney/sonido-nota/logging"
	"github.com/RyanBlaney/sonido-nota/observe"
)

// ErrCaptureFailure wraps any source error other than io.EOF. It ends the session.
var ErrCaptureFailure = errors.New("audio capture failed")

// coefficientCache is shared by all sessions in the process
var coefficientCache = filters.NewCoefficientCache()

// Option configures a Session
type Option func(*Session)

// WithEstimator replaces the default YIN pitch estimator
func WithEstimator(pe tonal.PitchEstimator) Option {
	return func(s *Session) {
		if pe != nil {
			s.estimator = pe
		}
	}
}

// WithPublisher sets where results are delivered; the default discards them
func WithPublisher(p Publisher) Option {
	return func(s *Session) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics records pipeline metrics on m
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger replaces the session logger
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session runs the detection pipeline over one audio source.
//
// Frames are processed strictly in capture order on the goroutine calling
// Run. The session owns its stabilizer and adaptive-gate state, so a
// Session must not be shared between goroutines.
type Session struct {
	cfg         *config.Config
	source      capture.Source
	conditioner *Conditioner
	gate        GatePolicy
	estimator   tonal.PitchEstimator
	matcher     *tonal.ChordMatcher
	stabilizer  *tonal.NoteStabilizer
	fft         *spectral.FFT
	window      spectral.WindowType

	publisher Publisher
	metrics   *observe.Metrics
	logger    logging.Logger

	frame          int
	prevConfidence float64
}

// NewSession validates cfg and builds the pipeline. A nil cfg selects
// DefaultConfig. source may be nil when frames are fed through ProcessFrame.
// Invalid filter settings produce an error wrapping filters.ErrInvalidFilterConfig.
func NewSession(cfg *config.Config, source capture.Source, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if source != nil && source.SampleRate() != cfg.SampleRate {
		return nil, fmt.Errorf("%w: source is %d Hz, session is %d Hz",
			capture.ErrSampleRateMismatch, source.SampleRate(), cfg.SampleRate)
	}
	if source != nil && source.FrameSize() != cfg.FrameSize {
		return nil, fmt.Errorf("%w: source frames are %d samples, session expects %d",
			capture.ErrFrameSizeMismatch, source.FrameSize(), cfg.FrameSize)
	}

	coeffs, err := coefficientCache.Bandpass(cfg.Filter.LowCut, cfg.Filter.HighCut, float64(cfg.SampleRate), cfg.Filter.Order)
	if err != nil {
		return nil, fmt.Errorf("design bandpass: %w", err)
	}

	templates, err := cfg.ChordTemplates()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		source:      source,
		conditioner: NewConditioner(coeffs),
		gate:        NewGatePolicy(cfg.Gate),
		estimator:   tonal.NewYinEstimator(cfg.YinParams()),
		matcher:     tonal.NewChordMatcher(templates),
		stabilizer:  tonal.NewNoteStabilizer(cfg.Stabilizer.Threshold),
		fft:         spectral.NewFFT(),
		window:      cfg.WindowType(),
		publisher:   discardPublisher{},
		logger: logging.WithFields(logging.Fields{
			"component": "detector_session",
			"mode":      string(cfg.Mode),
		}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Config returns the session configuration
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Run reads and processes frames until the source is exhausted, ctx is
// cancelled or capture fails. Cancellation is checked between frames.
// io.EOF ends the session with a nil error; a capture error is returned
// wrapped in ErrCaptureFailure. The source is closed on every exit path.
func (s *Session) Run(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("%w: no audio source", ErrCaptureFailure)
	}
	defer func() {
		if err := s.source.Close(); err != nil {
			s.logger.Warn("Failed to close audio source", logging.Fields{"error": err.Error()})
		}
	}()

	logger := s.logger.WithContext(ctx)
	logger.Info("Detection session started", logging.Fields{
		"sample_rate": s.cfg.SampleRate,
		"frame_size":  s.source.FrameSize(),
		"low_cut":     s.cfg.Filter.LowCut,
		"high_cut":    s.cfg.Filter.HighCut,
		"poles":       s.conditioner.Coefficients().Order(),
	})

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("Detection session cancelled", logging.Fields{"frames": s.frame})
			return err
		}

		frame, err := s.source.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("Audio source exhausted", logging.Fields{"frames": s.frame})
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			s.Reset()
			s.metrics.RecordCaptureError(ctx)
			logger.Error(err, "Audio capture failed", logging.Fields{"frames": s.frame})
			return fmt.Errorf("%w: %w", ErrCaptureFailure, err)
		}

		s.publisher.Publish(s.processFrame(ctx, frame))
	}
}

// ProcessFrame runs one frame through the pipeline synchronously. Frames
// must be supplied in capture order.
func (s *Session) ProcessFrame(frame capture.Frame) Result {
	return s.processFrame(context.Background(), frame)
}

// Reset clears the stabilizer and adaptive-gate state
func (s *Session) Reset() {
	s.stabilizer.Reset()
	s.prevConfidence = 0
}

func (s *Session) processFrame(ctx context.Context, frame capture.Frame) Result {
	start := time.Now()

	threshold := s.gate.Threshold(s.prevConfidence)
	cond := s.conditioner.Condition(frame, threshold)

	res := Result{
		Mode:            s.cfg.Mode,
		Frame:           s.frame,
		LevelDB:         cond.Input.RMSDB,
		Gated:           cond.Gated,
		GateThresholdDB: threshold,
	}
	s.frame++

	switch s.cfg.Mode {
	case config.ModeChord:
		s.detectChord(ctx, cond, &res)
	default:
		s.detectNote(ctx, cond, &res)
	}

	s.metrics.RecordFrame(ctx, string(s.cfg.Mode), cond.Gated, time.Since(start))
	return res
}

// detectNote is the monophonic path: estimator, confidence floor, namer, stabilizer
func (s *Session) detectNote(ctx context.Context, cond Conditioned, res *Result) {
	var est tonal.PitchEstimate
	if !cond.Gated {
		var err error
		est, err = s.estimator.EstimatePitch(cond.Signal, s.cfg.SampleRate)
		if err != nil {
			s.logger.Warn("Pitch estimation failed", logging.Fields{
				"frame": res.Frame,
				"error": err.Error(),
			})
			est = tonal.PitchEstimate{}
		}
	}
	s.prevConfidence = est.Confidence

	res.Frequency = est.Frequency
	res.Confidence = est.Confidence

	var candidate *tonal.Note
	if est.Voiced() && est.Confidence >= s.cfg.Pitch.MinConfidence {
		if n, ok := tonal.NoteFromFrequency(est.Frequency); ok {
			candidate = &n
			res.Note = candidate
			res.Cents = tonal.CentsOff(est.Frequency)
		}
	}

	if stable, ok := s.stabilizer.Observe(candidate); ok {
		res.Stable = &stable
		s.metrics.RecordDetection(ctx, string(config.ModeNote), stable.String())
		s.logger.Debug("Stable note", logging.Fields{
			"frame":      res.Frame,
			"note":       stable.String(),
			"frequency":  est.Frequency,
			"confidence": est.Confidence,
		})
	}
}

// detectChord is the polyphonic path: dominant frequencies, one note per
// pitch class (lowest frequency first), ordered template match.
func (s *Session) detectChord(ctx context.Context, cond Conditioned, res *Result) {
	res.Chord = tonal.UnknownChord
	if cond.Gated {
		return
	}

	signal := spectral.ApplyWindow(cond.Signal, s.window)
	freqs := s.fft.DominantFrequencies(signal, float64(s.cfg.SampleRate),
		s.cfg.Spectral.BandLow, s.cfg.Spectral.BandHigh, s.cfg.Spectral.MaxPeaks)
	res.Frequencies = freqs

	var seen tonal.PitchSet
	for _, f := range freqs {
		n, ok := tonal.NoteFromFrequency(f)
		if !ok || seen.Contains(n.Class) {
			continue
		}
		seen = seen.Add(n.Class)
		res.Notes = append(res.Notes, n)
	}

	if label, ok := s.matcher.Match(res.Notes); ok {
		res.Chord = label
		res.ChordMatched = true
		s.metrics.RecordDetection(ctx, string(config.ModeChord), label)
	}
}
