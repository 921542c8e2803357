package common

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrCorruptFrame reports a frame that was discarded because its samples
// contained NaN or infinite values.
var ErrCorruptFrame = errors.New("corrupt frame: non-finite samples")

// Frame is a fixed-length block of mono samples. Frames are immutable once
// assembled and may be shared freely between goroutines.
type Frame struct {
	Samples    []float64
	SampleRate int
	Sequence   uint64
	// Offset is the stream time of the first sample.
	Offset time.Duration
}

// Duration returns the time span covered by the frame.
func (f Frame) Duration() time.Duration {
	return SamplesToDuration(uint64(len(f.Samples)), f.SampleRate)
}

// SamplesToDuration converts a sample count at sampleRate into stream time.
func SamplesToDuration(samples uint64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	sr := uint64(sampleRate)
	whole := samples / sr
	rem := samples % sr
	return time.Duration(whole)*time.Second + time.Duration(rem*uint64(time.Second)/sr)
}

// FrameAssembler accumulates variable-size device buffers into
// non-overlapping frames of a fixed length.
//
// It is owned by the capture side and is not safe for concurrent use.
type FrameAssembler struct {
	frameSize  int
	sampleRate int
	buffer     []float64
	writePos   int
	corrupt    bool
	sequence   uint64
	corrupted  uint64
}

// NewFrameAssembler creates an assembler producing frameSize-sample frames.
func NewFrameAssembler(frameSize, sampleRate int) (*FrameAssembler, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return &FrameAssembler{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		buffer:     make([]float64, frameSize),
	}, nil
}

// Write appends samples and calls emit for every completed frame, in order.
// A non-finite sample poisons the frame it lands in: that frame is not
// emitted, its sequence number is still consumed, and ErrCorruptFrame is
// returned once the frame completes.
func (fa *FrameAssembler) Write(samples []float32, emit func(Frame)) error {
	var err error
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fa.corrupt = true
			v = 0
		}
		fa.buffer[fa.writePos] = v
		fa.writePos++

		if fa.writePos < fa.frameSize {
			continue
		}

		seq := fa.sequence
		fa.sequence++
		fa.writePos = 0

		if fa.corrupt {
			fa.corrupt = false
			fa.corrupted++
			err = ErrCorruptFrame
			continue
		}

		frame := make([]float64, fa.frameSize)
		copy(frame, fa.buffer)
		emit(Frame{
			Samples:    frame,
			SampleRate: fa.sampleRate,
			Sequence:   seq,
			Offset:     SamplesToDuration(seq*uint64(fa.frameSize), fa.sampleRate),
		})
	}
	return err
}

// Reset drops any partially assembled frame. Sequence numbering continues.
func (fa *FrameAssembler) Reset() {
	fa.writePos = 0
	fa.corrupt = false
	for i := range fa.buffer {
		fa.buffer[i] = 0.0
	}
}

// FrameSize returns the frame length in samples
func (fa *FrameAssembler) FrameSize() int {
	return fa.frameSize
}

// Pending returns the number of samples waiting for the next frame
func (fa *FrameAssembler) Pending() int {
	return fa.writePos
}

// Corrupted returns how many frames were discarded for non-finite samples
func (fa *FrameAssembler) Corrupted() uint64 {
	return fa.corrupted
}
