package pipeline

// SampleCallback receives raw mono sample buffers from the device. It runs
// on the driver's capture thread, so it must return quickly and the buffer
// is only valid until it returns.
type SampleCallback func(samples []float32)

// DeviceDriver opens capture streams. Implementations live in the device
// packages (PortAudio, synthetic tones, file replay).
type DeviceDriver interface {
	// StartStream begins delivering samples at sampleRate in buffers of
	// roughly frameSize samples. Drivers may deliver other buffer sizes.
	StartStream(sampleRate, frameSize int, onSamples SampleCallback) (FrameSource, error)
}

// FrameSource is a running capture stream.
type FrameSource interface {
	// Failed delivers at most one error when the stream dies on its own,
	// for example when the device is unplugged. It is never closed by a
	// regular Stop.
	Failed() <-chan error

	// Stop halts delivery. No callback runs after Stop returns.
	Stop() error
}
