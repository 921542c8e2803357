package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameDropped is returned by DropOldestQueue.Push when the queue was
	// full and the oldest waiting frame was discarded. The pushed frame is
	// still queued.
	ErrFrameDropped = errors.New("frame dropped: analysis queue full")

	// ErrChannelClosed is returned by queue and slot operations after the
	// pipeline has been stopped.
	ErrChannelClosed = errors.New("channel closed")

	// ErrAlreadyRunning is returned by Start on a running pipeline.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrNotRunning is returned by Stop on a pipeline that was never started.
	ErrNotRunning = errors.New("pipeline not running")
)

// DeviceError wraps a failure reported by the audio device driver, such as
// a failed open or a disconnect mid-stream. Device errors are retryable:
// the pipeline reconnects with backoff.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is, or wraps, a DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
