package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BufferSource frames an in-memory PCM signal, typically the output of the
// ffmpeg decoder. The final partial frame is zero-padded.
type BufferSource struct {
	mu         sync.Mutex
	samples    []float64
	pos        int
	sampleRate int
	frameSize  int
	closed     bool
}

// NewBufferSource wraps samples; the slice is not copied and must not be
// modified while the source is in use.
func NewBufferSource(samples []float64, sampleRate, frameSize int) (*BufferSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", frameSize)
	}
	return &BufferSource{
		samples:    samples,
		sampleRate: sampleRate,
		frameSize:  frameSize,
	}, nil
}

// ReadFrame returns the next frame, or io.EOF when the buffer is exhausted
func (b *BufferSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.pos >= len(b.samples) {
		return nil, io.EOF
	}

	frame := make(Frame, b.frameSize)
	end := min(b.pos+b.frameSize, len(b.samples))
	for i, v := range b.samples[b.pos:end] {
		frame[i] = float32(v)
	}
	b.pos = end

	return frame, nil
}

// Remaining returns the number of unread samples
func (b *BufferSource) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) - b.pos
}

func (b *BufferSource) SampleRate() int { return b.sampleRate }
func (b *BufferSource) FrameSize() int  { return b.frameSize }

// Close releases the buffer
func (b *BufferSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.samples = nil
	return nil
}
