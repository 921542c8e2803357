// Package portaudio captures from the system's default input device.
package portaudio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/RyanBlaney/sonido-tuner/device"
	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
)

// DefaultStallTimeout is how long the input may stay silent, in the sense
// of no callbacks at all, before the stream is reported as failed.
const DefaultStallTimeout = 2 * time.Second

// Driver opens mono float32 input streams through PortAudio. Initialize
// must be called before the first stream and Terminate after the last.
type Driver struct {
	stallTimeout time.Duration
	logger       logging.Logger
}

// Initialize loads PortAudio
func Initialize() error {
	return portaudio.Initialize()
}

// Terminate releases PortAudio
func Terminate() error {
	return portaudio.Terminate()
}

// DefaultInputName returns the name of the default input device.
func DefaultInputName() (string, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}

// New creates a driver. A zero stallTimeout uses DefaultStallTimeout.
func New(stallTimeout time.Duration) *Driver {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Driver{
		stallTimeout: stallTimeout,
		logger:       logging.WithFields(logging.Fields{"component": "portaudio"}),
	}
}

// StartStream implements pipeline.DeviceDriver.
func (d *Driver) StartStream(sampleRate, frameSize int, onSamples pipeline.SampleCallback) (pipeline.FrameSource, error) {
	s := &stream{
		failed: make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: d.logger,
	}

	callback := func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		s.lastCallback.Store(time.Now().UnixNano())
		if flags&portaudio.InputOverflow != 0 {
			s.overflows.Add(1)
		}
		onSamples(in)
	}

	// a quarter frame per callback keeps latency low without flooding
	st, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize/4, callback)
	if err != nil {
		return nil, fmt.Errorf("open default input: %w", err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	s.pa = st
	s.lastCallback.Store(time.Now().UnixNano())

	go s.watch(d.stallTimeout)
	return s, nil
}

type stream struct {
	pa           *portaudio.Stream
	lastCallback atomic.Int64
	overflows    atomic.Uint64

	failed   chan error
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   logging.Logger
}

// watch reports a stall when callbacks stop arriving, which is how an
// unplugged device shows up on most host APIs.
func (s *stream) watch(timeout time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastCallback.Load())
			if time.Since(last) > timeout {
				s.failed <- fmt.Errorf("%w for %s", device.ErrStalled, timeout)
				return
			}
		}
	}
}

func (s *stream) Failed() <-chan error {
	return s.failed
}

func (s *stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		if stopErr := s.pa.Stop(); stopErr != nil {
			// a vanished device often fails to stop cleanly
			s.logger.Warn("portaudio stop failed", logging.Fields{"error": stopErr.Error()})
		}
		err = s.pa.Close()
		if n := s.overflows.Load(); n > 0 {
			s.logger.Warn("input overflowed during stream", logging.Fields{"overflows": n})
		}
	})
	return err
}
