package capture

import (
	"context"
	"errors"
)

// Defaults match the detection pipeline's frame layout.
const (
	DefaultSampleRate = 44100
	DefaultFrameSize  = 8192
)

var (
	// ErrClosed is returned by ReadFrame after Close
	ErrClosed = errors.New("capture source closed")

	// ErrSampleRateMismatch is returned when a file's rate differs from the
	// requested session rate. Sources never resample.
	ErrSampleRateMismatch = errors.New("sample rate mismatch")

	// ErrFrameSizeMismatch is returned when a source delivers frames of a
	// different length than the session is configured for.
	ErrFrameSizeMismatch = errors.New("frame size mismatch")
)

// Frame is one block of mono samples in [-1, 1]
type Frame []float32

// Source delivers fixed-size mono frames in capture order.
//
// ReadFrame blocks until a full frame is available. It returns io.EOF once a
// finite source is exhausted; any other error is a capture failure.
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)
	SampleRate() int
	FrameSize() int
	Close() error
}
