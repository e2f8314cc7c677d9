package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/RyanBlaney/sonido-nota/logging"
	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures mono float32 frames from an input device using a
// blocking PortAudio stream.
type PortAudioSource struct {
	mu        sync.Mutex
	stream    *portaudio.Stream
	buffer    []float32
	device    string
	rate      int
	frameSize int
	overflows int
	logger    logging.Logger
}

// OpenPortAudio initializes PortAudio and starts an input stream. device
// selects the input by 1-based index or name prefix; empty means the
// system default input.
func OpenPortAudio(device string, sampleRate, frameSize int) (*PortAudioSource, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("invalid stream layout: %d Hz, %d samples", sampleRate, frameSize)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	info, err := findInputDevice(device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	p := portaudio.HighLatencyParameters(info, nil)
	p.Input.Channels = 1
	p.Output.Channels = 0
	p.SampleRate = float64(sampleRate)
	p.FramesPerBuffer = frameSize

	buffer := make([]float32, frameSize)
	stream, err := portaudio.OpenStream(p, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input %q: %w", info.Name, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input %q: %w", info.Name, err)
	}

	logger := logging.WithFields(logging.Fields{
		"component": "portaudio_source",
		"device":    info.Name,
	})
	logger.Info("Audio input opened", logging.Fields{
		"sample_rate": sampleRate,
		"frame_size":  frameSize,
	})

	return &PortAudioSource{
		stream:    stream,
		buffer:    buffer,
		device:    info.Name,
		rate:      sampleRate,
		frameSize: frameSize,
		logger:    logger,
	}, nil
}

func findInputDevice(device string) (*portaudio.DeviceInfo, error) {
	if device == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return info, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	if i, err := strconv.Atoi(device); err == nil && i > 0 && i <= len(devices) {
		return devices[i-1], nil
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.HasPrefix(d.Name, device) {
			return d, nil
		}
	}

	return nil, fmt.Errorf("input device not found: %s", device)
}

// ReadFrame blocks until the stream delivers a full frame. Input overflow
// means samples were dropped by the driver; the frame is still returned.
func (s *PortAudioSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil, ErrClosed
	}

	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("read input %q: %w", s.device, err)
		}
		s.overflows++
		s.logger.Debug("Input overflowed", logging.Fields{"overflows": s.overflows})
	}

	frame := make(Frame, len(s.buffer))
	copy(frame, s.buffer)
	return frame, nil
}

func (s *PortAudioSource) SampleRate() int { return s.rate }
func (s *PortAudioSource) FrameSize() int  { return s.frameSize }

// Device returns the name of the opened input device
func (s *PortAudioSource) Device() string { return s.device }

// Close stops the stream and terminates PortAudio
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}

	err := errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	s.stream = nil
	return err
}

// InputDevice describes an available capture device
type InputDevice struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Channels   int     `json:"channels"`
	SampleRate float64 `json:"sample_rate"`
}

// ListInputDevices enumerates devices with at least one input channel.
// Index is the 1-based value accepted by OpenPortAudio.
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var out []InputDevice
	for i, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		out = append(out, InputDevice{
			Index:      i + 1,
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
		})
	}
	return out, nil
}
