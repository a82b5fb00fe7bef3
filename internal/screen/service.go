// Package screen embeds a capture session in a long-lived service that
// serializes callers and replaces the session after access is lost.
package screen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/logging"
)

var log = logging.L("screen")

// State is the service lifecycle state reported by Status.
type State string

const (
	StateIdle   State = "idle"
	StateReady  State = "ready"
	StateLost   State = "lost"
	StateFailed State = "failed"
	StateClosed State = "closed"
)

// Status is a point-in-time view of the service.
type Status struct {
	State     State
	SessionID string
	Width     uint32
	Height    uint32
	Rebuilds  uint64
	LastError string
	Since     time.Time
}

// Service owns at most one capture session. Capture calls are serialized;
// a session that reported ErrAccessLost is closed immediately and the next
// call builds a replacement.
type Service struct {
	cfg   capture.Config
	sem   *semaphore.Weighted
	stats *capture.Stats

	// session is only touched while holding sem.
	session *capture.Session
	lost    bool

	mu     sync.Mutex
	status Status
}

// NewService prepares a service. No session is built until Start or the
// first Capture.
func NewService(cfg capture.Config) *Service {
	if cfg.Stats == nil {
		cfg.Stats = &capture.Stats{}
	}
	return &Service{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(1),
		stats:  cfg.Stats,
		status: Status{State: StateIdle, Since: time.Now()},
	}
}

// Stats are the counters shared by every session the service builds.
func (s *Service) Stats() *capture.Stats {
	return s.stats
}

// Start builds the session eagerly so configuration problems surface at
// startup. Construction errors are returned unchanged.
func (s *Service) Start(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.sem.Release(1)
	_, err := s.ensureSession()
	return err
}

// Capture returns the next changed frame from the live session, building
// one first if needed. ErrNoChange and ErrFrameTimeout pass through;
// ErrAccessLost closes the session so the next call rebuilds it.
func (s *Service) Capture(ctx context.Context) (*capture.PixelBuffer, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	session, err := s.ensureSession()
	if err != nil {
		return nil, err
	}

	frame, err := session.CaptureFrame()
	switch {
	case err == nil:
		return frame, nil
	case capture.NeedsRebuild(err):
		s.dropSession(err)
		return nil, err
	case capture.IsRetryable(err):
		return nil, err
	default:
		s.setError(err)
		return nil, err
	}
}

// Dimensions reports the size of the live session. ok is false when no
// session is open.
func (s *Service) Dimensions() (width, height uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != StateReady {
		return 0, 0, false
	}
	return s.status.Width, s.status.Height, true
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close waits for an in-flight capture, then releases the session. Later
// calls to Capture return capture.ErrSessionClosed.
func (s *Service) Close() error {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if s.closed() {
		return nil
	}
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	s.setState(StateClosed, nil)
	log.Info("capture service closed", "rebuilds", s.Status().Rebuilds)
	return nil
}

func (s *Service) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sem.Acquire(ctx, 1)
}

func (s *Service) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State == StateClosed
}

// ensureSession must be called with sem held.
func (s *Service) ensureSession() (*capture.Session, error) {
	if s.closed() {
		return nil, capture.ErrSessionClosed
	}
	if s.session != nil {
		return s.session, nil
	}

	rebuild := s.lost
	session, err := capture.NewSession(s.cfg)
	if err != nil {
		log.Warn("capture session construction failed", "rebuild", rebuild, logging.KeyError, err)
		s.setState(StateFailed, err)
		return nil, err
	}
	s.session = session
	s.lost = false

	width, height := session.Dimensions()
	s.mu.Lock()
	if rebuild {
		s.status.Rebuilds++
	}
	s.status.State = StateReady
	s.status.SessionID = session.ID()
	s.status.Width = width
	s.status.Height = height
	s.status.LastError = ""
	s.status.Since = time.Now()
	rebuilds := s.status.Rebuilds
	s.mu.Unlock()

	if rebuild {
		log.Info("capture session rebuilt",
			logging.KeySessionID, session.ID(),
			logging.KeyWidth, width,
			logging.KeyHeight, height,
			"rebuilds", rebuilds)
	}
	return session, nil
}

// dropSession must be called with sem held.
func (s *Service) dropSession(cause error) {
	log.Warn("capture session lost, will rebuild on next capture",
		logging.KeySessionID, s.session.ID(),
		logging.KeyError, cause)
	s.session.Close()
	s.session = nil
	s.lost = true
	s.setState(StateLost, cause)
}

func (s *Service) setState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Since = time.Now()
	if state != StateReady {
		s.status.SessionID = ""
		s.status.Width, s.status.Height = 0, 0
	}
	if err != nil {
		s.status.LastError = err.Error()
	}
}

func (s *Service) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = err.Error()
}

// LogValue lets a Status be logged as a group.
func (st Status) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("state", string(st.State)),
		slog.Uint64("rebuilds", st.Rebuilds),
	}
	if st.State == StateReady {
		attrs = append(attrs,
			slog.String(logging.KeySessionID, st.SessionID),
			slog.Uint64(logging.KeyWidth, uint64(st.Width)),
			slog.Uint64(logging.KeyHeight, uint64(st.Height)))
	}
	if st.LastError != "" {
		attrs = append(attrs, slog.String(logging.KeyError, st.LastError))
	}
	return slog.GroupValue(attrs...)
}

// IsFatal reports whether err ends a capture loop rather than being retried
// by a Poller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, capture.ErrSessionClosed) || errors.Is(err, capture.ErrNotSupported) {
		return true
	}
	return !capture.IsRetryable(err) && !capture.NeedsRebuild(err) && !capture.IsConstructionError(err)
}
