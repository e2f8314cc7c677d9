package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV format tags accepted by OpenWAV
const (
	wavFormatPCM       = 1
	wavFormatIEEEFloat = 3
)

// WAVSource reads PCM frames from a WAV file, downmixing to mono and
// scaling integer samples to [-1, 1]. 32-bit IEEE float files are read
// as-is.
type WAVSource struct {
	file      *os.File
	decoder   *wav.Decoder
	buf       *audio.IntBuffer
	channels  int
	bitDepth  int
	float     bool
	frameSize int
	rate      int
	done      bool
}

// OpenWAV opens path for framed reading. When sampleRate is positive the
// file must already be at that rate.
func OpenWAV(path string, sampleRate, frameSize int) (*WAVSource, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size %d", frameSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav %q: %w", path, err)
	}

	src, err := newWAVSource(f, sampleRate, frameSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wav %q: %w", path, err)
	}
	return src, nil
}

func newWAVSource(f *os.File, sampleRate, frameSize int) (*WAVSource, error) {
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	rate := int(decoder.SampleRate)
	if sampleRate > 0 && rate != sampleRate {
		return nil, fmt.Errorf("%w: file is %d Hz, session is %d Hz", ErrSampleRateMismatch, rate, sampleRate)
	}

	channels := int(decoder.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	bitDepth := int(decoder.BitDepth)
	switch decoder.WavAudioFormat {
	case wavFormatPCM:
		switch bitDepth {
		case 8, 16, 24, 32:
		default:
			return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
		}
	case wavFormatIEEEFloat:
		if bitDepth != 32 {
			return nil, fmt.Errorf("unsupported float bit depth %d", bitDepth)
		}
	default:
		return nil, fmt.Errorf("unsupported WAV format tag %d", decoder.WavAudioFormat)
	}

	return &WAVSource{
		file:    f,
		decoder: decoder,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
			Data:           make([]int, frameSize*channels),
			SourceBitDepth: bitDepth,
		},
		channels:  channels,
		bitDepth:  bitDepth,
		float:     decoder.WavAudioFormat == wavFormatIEEEFloat,
		frameSize: frameSize,
		rate:      rate,
	}, nil
}

// ReadFrame decodes the next frame. The last frame of the file is
// zero-padded; the call after it returns io.EOF.
func (w *WAVSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.decoder == nil {
		return nil, ErrClosed
	}
	if w.done {
		return nil, io.EOF
	}

	frame := make(Frame, w.frameSize)
	filled := 0

	// PCMBuffer may return short reads, so keep pulling until the frame is
	// full or the data chunk runs out.
	for filled < w.frameSize {
		w.buf.Data = w.buf.Data[:(w.frameSize-filled)*w.channels]
		n, err := w.decoder.PCMBuffer(w.buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			w.done = true
			break
		}
		filled += w.downmix(w.buf.Data[:n], frame[filled:])
	}

	if filled == 0 {
		return nil, io.EOF
	}
	return frame, nil
}

// downmix averages interleaved channels into dst and returns samples written
func (w *WAVSource) downmix(interleaved []int, dst Frame) int {
	scale := float32(int64(1) << (w.bitDepth - 1))
	frames := min(len(interleaved)/w.channels, len(dst))

	for i := range frames {
		var sum float32
		for c := range w.channels {
			v := interleaved[i*w.channels+c]
			if w.float {
				// the decoder hands back the raw 32-bit pattern
				sum += math.Float32frombits(uint32(v))
				continue
			}
			if w.bitDepth == 8 {
				v -= 128 // 8-bit WAV is unsigned
			}
			sum += float32(v) / scale
		}
		dst[i] = sum / float32(w.channels)
	}
	return frames
}

func (w *WAVSource) SampleRate() int { return w.rate }
func (w *WAVSource) FrameSize() int  { return w.frameSize }

// Channels returns the channel count of the underlying file
func (w *WAVSource) Channels() int { return w.channels }

// Close releases the file
func (w *WAVSource) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.decoder = nil
	return err
}
