package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
	"github.com/RyanBlaney/sonido-tuner/capture"
	"github.com/RyanBlaney/sonido-tuner/logging"
)

const saveTimeout = 5 * time.Second

// State is the lifecycle state of the pipeline.
type State int32

const (
	StateStopped State = iota
	StateRunning
	// StateError means the device failed. The pipeline is reconnecting, or
	// has given up and waits for Stop.
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProfileSink persists captured profiles. profile.Store implementations
// satisfy it.
type ProfileSink interface {
	Save(ctx context.Context, p *tonal.InharmonicityProfile) error
}

// Stats are cumulative counters over the lifetime of a Pipeline.
type Stats struct {
	FramesCaptured  uint64 `json:"frames_captured"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesAnalyzed  uint64 `json:"frames_analyzed"`
	DecodeErrors    uint64 `json:"decode_errors"`
	AnalysisErrors  uint64 `json:"analysis_errors"`
	Captures        uint64 `json:"captures"`
	CaptureFailures uint64 `json:"capture_failures"`
	Reconnects      uint64 `json:"reconnects"`
	QueueDepth      int    `json:"queue_depth"`
}

type counters struct {
	framesCaptured  atomic.Uint64
	framesDropped   atomic.Uint64
	framesAnalyzed  atomic.Uint64
	decodeErrors    atomic.Uint64
	analysisErrors  atomic.Uint64
	captures        atomic.Uint64
	captureFailures atomic.Uint64
	reconnects      atomic.Uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is the global logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records into m instead of instruments from the global provider.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithProfileSink saves every captured profile to sink in the background.
func WithProfileSink(sink ProfileSink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// run is the state owned by one Start..Stop cycle.
type run struct {
	cancel    context.CancelFunc
	done      chan struct{}
	err       error // valid once done is closed
	queue     *DropOldestQueue[common.Frame]
	assembler *common.FrameAssembler
	callback  SampleCallback
	profiles  chan *tonal.InharmonicityProfile
	cancelReq chan struct{}

	// analysis goroutine only
	lastProfile *tonal.InharmonicityProfile
}

// Pipeline connects a capture device to the analysis stages. Audio flows
// device callback → frame assembler → drop-oldest queue → analysis
// goroutine → latest-snapshot slot. The device callback never blocks and
// consumers only ever see the newest snapshot.
type Pipeline struct {
	cfg     Config
	driver  DeviceDriver
	logger  logging.Logger
	metrics *Metrics
	sink    ProfileSink

	mu    sync.Mutex // serialises Start and Stop
	cur   *run
	slot  *LatestSlot[*Snapshot]
	state atomic.Int32
	stats counters

	errMu   sync.RWMutex
	lastErr error
}

// New validates cfg and creates a stopped pipeline reading from driver.
func New(cfg Config, driver DeviceDriver, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if driver == nil {
		return nil, errors.New("pipeline requires a device driver")
	}

	p := &Pipeline{
		cfg:    cfg,
		driver: driver,
		logger: logging.WithFields(logging.Fields{"component": "pipeline"}),
		slot:   NewLatestSlot[*Snapshot](),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		p.metrics = m
	}
	return p, nil
}

// Config returns the configuration the pipeline was built with
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Start opens the device and begins analysis. It fails if the device cannot
// be opened; later device failures are retried in the background. The run
// ends when ctx is cancelled, Stop is called, or the source reaches its end.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != nil {
		select {
		case <-p.cur.done:
			p.cur.cancel()
			p.cur = nil
		default:
			return ErrAlreadyRunning
		}
	}

	st, err := buildStages(p.cfg)
	if err != nil {
		return err
	}

	r := &run{
		done:      make(chan struct{}),
		queue:     NewDropOldestQueue[common.Frame](p.cfg.QueueCapacity),
		assembler: st.assembler,
		profiles:  make(chan *tonal.InharmonicityProfile, p.cfg.ProfileBuffer),
		cancelReq: make(chan struct{}, 1),
	}
	r.callback = p.samplesCallback(r)
	p.slot.Reset()

	source, err := p.driver.StartStream(p.cfg.SampleRate, p.cfg.FrameSize, r.callback)
	if err != nil {
		derr := &DeviceError{Op: "open", Err: err}
		p.setErr(derr)
		p.setState(StateError)
		return derr
	}

	p.setErr(nil)
	p.setState(StateRunning)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)

	var persist chan *tonal.InharmonicityProfile
	if p.sink != nil {
		persist = make(chan *tonal.InharmonicityProfile, p.cfg.ProfileBuffer)
		g.Go(func() error {
			p.persist(gctx, persist)
			return nil
		})
	}
	g.Go(func() error {
		return p.analyze(gctx, r, st.analyzer, st.strategy, persist)
	})
	g.Go(func() error {
		return p.supervise(gctx, r, source)
	})

	p.cur = r
	p.logger.Info("pipeline started", logging.Fields{
		"sample_rate": p.cfg.SampleRate,
		"frame_size":  p.cfg.FrameSize,
		"queue":       p.cfg.QueueCapacity,
	})

	go func() {
		r.err = g.Wait()
		if r.err != nil {
			p.setErr(r.err)
			p.setState(StateError)
			p.logger.Error(r.err, "pipeline halted")
		} else {
			p.setState(StateStopped)
		}
		close(r.done)
	}()
	return nil
}

// Stop halts the device and waits for the analysis goroutines to exit. The
// last snapshot stays readable through Latest.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.cur
	if r == nil {
		return ErrNotRunning
	}
	p.cur = nil

	r.cancel()
	<-r.done
	r.queue.Close()
	p.slot.Close()
	p.setState(StateStopped)

	p.logger.Info("pipeline stopped", logging.Fields{
		"frames_analyzed": p.stats.framesAnalyzed.Load(),
		"frames_dropped":  p.stats.framesDropped.Load(),
		"captures":        p.stats.captures.Load(),
	})
	return nil
}

// Done is closed when the current run ends for any reason. Without a run
// the returned channel is already closed.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.cur.done
}

// Latest returns the most recent snapshot, if any frame was analysed yet.
func (p *Pipeline) Latest() (*Snapshot, bool) {
	snap, _, ok := p.slot.Latest()
	return snap, ok && snap != nil
}

// Profiles delivers captured profiles of the current run. The channel is
// closed when the run ends. Profiles nobody reads are dropped once the
// buffer is full.
func (p *Pipeline) Profiles() <-chan *tonal.InharmonicityProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	return p.cur.profiles
}

// CancelCapture abandons the note currently being stabilised.
func (p *Pipeline) CancelCapture() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return ErrNotRunning
	}
	select {
	case p.cur.cancelReq <- struct{}{}:
	default:
	}
	return nil
}

// State returns the lifecycle state
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Err returns the most recent device or run failure, if any.
func (p *Pipeline) Err() error {
	p.errMu.RLock()
	defer p.errMu.RUnlock()
	return p.lastErr
}

// Stats returns a copy of the cumulative counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		FramesCaptured:  p.stats.framesCaptured.Load(),
		FramesDropped:   p.stats.framesDropped.Load(),
		FramesAnalyzed:  p.stats.framesAnalyzed.Load(),
		DecodeErrors:    p.stats.decodeErrors.Load(),
		AnalysisErrors:  p.stats.analysisErrors.Load(),
		Captures:        p.stats.captures.Load(),
		CaptureFailures: p.stats.captureFailures.Load(),
		Reconnects:      p.stats.reconnects.Load(),
	}
	if r := p.current(); r != nil {
		s.QueueDepth = r.queue.Len()
	}
	return s
}

func (p *Pipeline) current() *run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

func (p *Pipeline) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	switch {
	case old != StateRunning && s == StateRunning:
		p.metrics.Running.Add(context.Background(), 1)
	case old == StateRunning && s != StateRunning:
		p.metrics.Running.Add(context.Background(), -1)
	}
}

func (p *Pipeline) setErr(err error) {
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
}

// samplesCallback builds the device callback for r. It runs on the capture
// thread: no locks beyond the queue's O(1) section, no allocation beyond
// the frame copy.
func (p *Pipeline) samplesCallback(r *run) SampleCallback {
	ctx := context.Background()
	emit := func(f common.Frame) {
		err := r.queue.Push(f)
		dropped := errors.Is(err, ErrFrameDropped)
		if err != nil && !dropped {
			return
		}
		p.stats.framesCaptured.Add(1)
		if dropped {
			p.stats.framesDropped.Add(1)
		}
		p.metrics.RecordFrame(ctx, dropped)
	}

	return func(samples []float32) {
		before := r.assembler.Corrupted()
		if err := r.assembler.Write(samples, emit); err != nil {
			n := r.assembler.Corrupted() - before
			p.stats.decodeErrors.Add(n)
			for range n {
				p.metrics.RecordFrameError(ctx, "decode")
			}
		}
	}
}

// analyze consumes frames until the queue closes or ctx ends.
func (p *Pipeline) analyze(ctx context.Context, r *run, fa *FrameAnalyzer, strategy *capture.Strategy, persist chan<- *tonal.InharmonicityProfile) error {
	defer close(r.profiles)
	if persist != nil {
		defer close(persist)
	}

	for {
		select {
		case <-r.cancelReq:
			res := strategy.Cancel()
			p.logger.Info("capture cancelled", logging.Fields{"state": res.State.String()})
		default:
		}

		frame, err := r.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.process(ctx, r, fa, strategy, frame, persist)
	}
}

func (p *Pipeline) process(ctx context.Context, r *run, fa *FrameAnalyzer, strategy *capture.Strategy, frame common.Frame, persist chan<- *tonal.InharmonicityProfile) {
	start := time.Now()

	a, err := fa.Analyze(frame)
	if err != nil {
		p.stats.analysisErrors.Add(1)
		p.metrics.RecordFrameError(ctx, "analysis")
		p.logger.Debug("frame skipped", logging.Fields{
			"sequence": frame.Sequence,
			"error":    err.Error(),
		})
		return
	}

	res := strategy.Feed(capture.Observation{
		Pitch:    a.Pitch,
		Partials: a.Partials,
		Time:     a.StreamTime,
	})
	switch {
	case res.Err != nil:
		p.stats.captureFailures.Add(1)
		p.metrics.RecordCapture(ctx, false)
	case res.Profile != nil:
		p.stats.captures.Add(1)
		p.metrics.RecordCapture(ctx, true)
		r.lastProfile = res.Profile
		p.deliver(r, res.Profile, persist)
	}

	if _, err := p.slot.Publish(frame.Sequence, &Snapshot{
		Sequence:    a.Sequence,
		StreamTime:  a.StreamTime,
		Spectrum:    a.Spectrum,
		Pitch:       a.Pitch,
		Note:        a.Note,
		Partials:    a.Partials,
		Capture:     strategy.Status(),
		LastProfile: r.lastProfile,
		PublishedAt: time.Now(),
	}); err != nil {
		return
	}

	p.stats.framesAnalyzed.Add(1)
	p.metrics.RecordAnalysis(ctx, time.Since(start))
}

func (p *Pipeline) deliver(r *run, prof *tonal.InharmonicityProfile, persist chan<- *tonal.InharmonicityProfile) {
	select {
	case r.profiles <- prof:
	default:
		p.logger.Warn("profile reader is behind, profile not delivered", logging.Fields{"note": prof.Note.Name})
	}
	if persist == nil {
		return
	}
	select {
	case persist <- prof:
	default:
		p.logger.Warn("profile store is behind, profile not saved", logging.Fields{"note": prof.Note.Name})
	}
}

// persist saves profiles until the channel closes. Saves in flight at Stop
// still complete.
func (p *Pipeline) persist(ctx context.Context, profiles <-chan *tonal.InharmonicityProfile) {
	base := context.WithoutCancel(ctx)
	for prof := range profiles {
		saveCtx, cancel := context.WithTimeout(base, saveTimeout)
		err := p.sink.Save(saveCtx, prof)
		cancel()
		if err != nil {
			p.logger.Error(err, "failed to save profile", logging.Fields{"note": prof.Note.Name})
			continue
		}
		p.logger.Debug("profile saved", logging.Fields{"note": prof.Note.Name, "b": prof.B})
	}
}

// supervise watches the running source and reopens the device after a
// failure. io.EOF from the source is a clean end of input.
func (p *Pipeline) supervise(ctx context.Context, r *run, source FrameSource) error {
	for {
		select {
		case <-ctx.Done():
			p.stopSource(source)
			return nil

		case err := <-source.Failed():
			p.stopSource(source)
			if errors.Is(err, io.EOF) {
				p.logger.Info("capture stream ended")
				r.queue.Close()
				return nil
			}

			derr := &DeviceError{Op: "stream", Err: err}
			p.setErr(derr)
			p.setState(StateError)
			p.logger.Error(derr, "capture device failed, reconnecting")

			next, rerr := p.reconnect(ctx, r)
			if rerr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return rerr
			}
			source = next
			p.setState(StateRunning)
		}
	}
}

func (p *Pipeline) reconnect(ctx context.Context, r *run) (FrameSource, error) {
	b := newBackoff(p.cfg.Reconnect)
	maxRetries := p.cfg.Reconnect.MaxRetries
	var lastErr error

	for attempt := 1; maxRetries == 0 || attempt <= maxRetries; attempt++ {
		wait := b.Next()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		r.assembler.Reset()
		source, err := p.driver.StartStream(p.cfg.SampleRate, p.cfg.FrameSize, r.callback)
		p.stats.reconnects.Add(1)
		p.metrics.RecordReconnect(ctx, err == nil)
		if err == nil {
			p.logger.Info("capture device reconnected", logging.Fields{"attempt": attempt})
			return source, nil
		}

		lastErr = err
		p.logger.Warn("reconnect failed", logging.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}

	return nil, &DeviceError{
		Op:  "reconnect",
		Err: fmt.Errorf("gave up after %d attempts: %w", maxRetries, lastErr),
	}
}

func (p *Pipeline) stopSource(source FrameSource) {
	if err := source.Stop(); err != nil {
		p.logger.Warn("failed to stop capture stream", logging.Fields{"error": err.Error()})
	}
}
