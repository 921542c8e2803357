// Package device holds the capture stream plumbing shared by the software
// drivers: a goroutine that pulls samples from a generator and hands them
// to the pipeline callback, optionally paced to wall-clock time.
package device

import (
	"errors"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
)

// DefaultBufferSize is the callback buffer length of the software drivers.
const DefaultBufferSize = 512

var (
	// ErrDisconnected is reported through Failed when a stream is cut off.
	ErrDisconnected = errors.New("device disconnected")

	// ErrStalled is reported when a device stops delivering audio.
	ErrStalled = errors.New("device stopped delivering audio")
)

// Generator fills buf with the next samples and returns how many it wrote.
// It returns io.EOF once the source is exhausted.
type Generator func(buf []float32) (int, error)

// PacedStream runs a Generator on its own goroutine. With Pace 1 samples
// are delivered in real time, with Pace 2 twice as fast, and with Pace 0
// as fast as the callback returns.
type PacedStream struct {
	stop     chan struct{}
	kill     chan error
	done     chan struct{}
	failed   chan error
	stopOnce sync.Once
}

// StreamOptions control a PacedStream
type StreamOptions struct {
	SampleRate int
	BufferSize int
	Pace       float64
}

// StartPaced begins delivering samples from gen to onSamples.
func StartPaced(gen Generator, onSamples pipeline.SampleCallback, opts StreamOptions) *PacedStream {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	s := &PacedStream{
		stop:   make(chan struct{}),
		kill:   make(chan error, 1),
		done:   make(chan struct{}),
		failed: make(chan error, 1),
	}
	go s.loop(gen, onSamples, opts)
	return s
}

func (s *PacedStream) loop(gen Generator, onSamples pipeline.SampleCallback, opts StreamOptions) {
	defer close(s.done)

	buf := make([]float32, opts.BufferSize)
	start := time.Now()
	var sent uint64
	var timer *time.Timer

	for {
		select {
		case <-s.stop:
			return
		case err := <-s.kill:
			s.failed <- err
			return
		default:
		}

		n, err := gen(buf)
		if n > 0 {
			onSamples(buf[:n])
			sent += uint64(n)
		}
		if err != nil {
			s.failed <- err
			return
		}
		if opts.Pace <= 0 {
			continue
		}

		due := start.Add(time.Duration(float64(common.SamplesToDuration(sent, opts.SampleRate)) / opts.Pace))
		wait := time.Until(due)
		if wait <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-s.stop:
			timer.Stop()
			return
		case err := <-s.kill:
			timer.Stop()
			s.failed <- err
			return
		case <-timer.C:
		}
	}
}

// Failed implements pipeline.FrameSource
func (s *PacedStream) Failed() <-chan error {
	return s.failed
}

// Stop halts the goroutine and waits for it. Safe to call more than once.
func (s *PacedStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Fail ends the stream as if the device had reported err.
func (s *PacedStream) Fail(err error) {
	select {
	case s.kill <- err:
	default:
	}
}
