// Package server exposes a running pipeline over HTTP: a websocket feed of
// analysis snapshots, stored profiles, and liveness/readiness probes.
//
// The feed polls the pipeline's latest-value slot at a fixed cadence and
// pushes a snapshot only when the sequence has advanced, so a slow client
// sees stale data rather than slowing down analysis.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/RyanBlaney/sonido-tuner/logging"
	"github.com/RyanBlaney/sonido-tuner/pipeline"
	"github.com/RyanBlaney/sonido-tuner/profile"
)

// DefaultPollInterval is roughly one display refresh at ~22 Hz
const DefaultPollInterval = 46 * time.Millisecond

const (
	defaultWriteTimeout = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Source is the part of the pipeline the server reads from.
type Source interface {
	Latest() (*pipeline.Snapshot, bool)
	State() pipeline.State
	Err() error
	Stats() pipeline.Stats
	CancelCapture() error
}

var _ Source = (*pipeline.Pipeline)(nil)

// FeedMessage is one websocket message
type FeedMessage struct {
	State    pipeline.State     `json:"state"`
	Error    string             `json:"error,omitempty"`
	Snapshot *pipeline.Snapshot `json:"snapshot"`
}

type status struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server serves the HTTP surface of one pipeline.
type Server struct {
	source       Source
	store        profile.Store
	metrics      http.Handler
	logger       logging.Logger
	pollInterval time.Duration
	writeTimeout time.Duration
}

// Option customizes a Server
type Option func(*Server)

// WithStore serves stored profiles under /api/profiles
func WithStore(s profile.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metrics = h }
}

func WithLogger(l logging.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(srv *Server) {
		if d > 0 {
			srv.pollInterval = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(srv *Server) {
		if d > 0 {
			srv.writeTimeout = d
		}
	}
}

// New creates a server reading from source
func New(source Source, opts ...Option) *Server {
	s := &Server{
		source:       source,
		logger:       logging.WithFields(logging.Fields{"component": "server"}),
		pollInterval: DefaultPollInterval,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.HandleFunc("GET /ws", s.feed)
	mux.HandleFunc("GET /api/snapshot", s.snapshot)
	mux.HandleFunc("GET /api/stats", s.stats)
	mux.HandleFunc("POST /api/capture/cancel", s.cancelCapture)
	if s.store != nil {
		mux.HandleFunc("GET /api/profiles", s.listProfiles)
		mux.HandleFunc("GET /api/profiles/{note}", s.getProfile)
		mux.HandleFunc("DELETE /api/profiles/{note}", s.deleteProfile)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", logging.Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, status{Status: "ok"})
}

// readyz is ready only while the pipeline is running
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state := s.source.State()
	res := status{Status: "ok", State: state.String()}
	code := http.StatusOK
	if state != pipeline.StateRunning {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
		if err := s.source.Err(); err != nil {
			res.Error = err.Error()
		}
	}
	writeJSON(w, code, res)
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.source.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s.message(snap))
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func (s *Server) cancelCapture(w http.ResponseWriter, _ *http.Request) {
	if err := s.source.CancelCapture(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", logging.Fields{"error": err.Error()})
		return
	}
	defer conn.CloseNow()

	// the feed is one-way; CloseRead handles control frames and cancels
	// ctx when the client goes away
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var (
		last   uint64
		lastAt time.Time
		sent   bool
	)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}

		// sequences restart at zero when the pipeline is restarted, so a
		// later publish time also counts as new
		snap, ok := s.source.Latest()
		if !ok || (sent && snap.Sequence <= last && !snap.PublishedAt.After(lastAt)) {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
		err := wsjson.Write(wctx, conn, s.message(snap))
		cancel()
		if err != nil {
			s.logger.Debug("websocket feed closed", logging.Fields{"error": err.Error()})
			return
		}
		last, lastAt, sent = snap.Sequence, snap.PublishedAt, true
	}
}

func (s *Server) message(snap *pipeline.Snapshot) FeedMessage {
	msg := FeedMessage{State: s.source.State(), Snapshot: snap}
	if err := s.source.Err(); err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("note"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.store.Get(r.Context(), idx)
	if err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("note"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Delete(r.Context(), idx); err != nil {
		writeError(w, storeStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func storeStatus(err error) int {
	if errors.Is(err, profile.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, status{Status: "error", Error: err.Error()})
}

// writeJSON encodes v as JSON with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
