package capture

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/breeze-rmm/deskcap/internal/logging"
	"github.com/google/uuid"
)

// DefaultAcquireTimeout bounds each AcquireNextFrame. AcquireNextFrame
// returns as soon as a frame is ready, so this only limits idle waits.
const DefaultAcquireTimeout = 100 * time.Millisecond

var log = logging.L("capture")

// Config holds session construction options.
type Config struct {
	// AdapterIndex selects the adapter (0 = primary). Output 0 of that
	// adapter is always the one duplicated.
	AdapterIndex uint32

	// AcquireTimeout bounds the wait for a new frame.
	AcquireTimeout time.Duration

	// Backend defaults to DefaultBackend().
	Backend Backend

	// Stats receives counters. A private Stats is used when nil.
	Stats *Stats

	// Logger defaults to the package logger.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration for the primary adapter.
func DefaultConfig() Config {
	return Config{
		AdapterIndex:   0,
		AcquireTimeout: DefaultAcquireTimeout,
	}
}

// Session is one duplication of one output: device, context, duplication
// handle and staging buffer, plus the cached mode. After ErrAccessLost it
// is dead and has to be replaced by a new Session.
type Session struct {
	id      string
	cfg     Config
	device  *CaptureDevice
	dup     *OutputDuplicator
	staging *StagingBuffer
	mode    Mode
	stats   *Stats
	log     *slog.Logger
	closed  bool
}

// Open creates a session on the primary output of the adapter at index
// using default settings.
func Open(adapterIndex uint32) (*Session, error) {
	cfg := DefaultConfig()
	cfg.AdapterIndex = adapterIndex
	return NewSession(cfg)
}

// NewSession builds the device, duplication and staging buffer. Any
// failure releases everything created so far.
func NewSession(cfg Config) (*Session, error) {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Backend == nil {
		cfg.Backend = DefaultBackend()
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	id := uuid.NewString()
	logger := cfg.Logger.With(
		slog.String(logging.KeySessionID, id),
		slog.Uint64(logging.KeyAdapterIndex, uint64(cfg.AdapterIndex)),
	)

	device, err := openDevice(cfg.Backend, cfg.AdapterIndex)
	if err != nil {
		return nil, err
	}

	dup, err := device.duplicate()
	if err != nil {
		device.Close()
		return nil, err
	}
	duplicator := newOutputDuplicator(dup, cfg.Stats, logger)
	mode := duplicator.Mode()

	staging, err := newStagingBuffer(device.device, mode)
	if err != nil {
		duplicator.Close()
		device.Close()
		return nil, err
	}

	cfg.Stats.sessions.Add(1)
	logger.Info("capture session opened",
		"adapter", device.Adapter().Name,
		"output", device.OutputName(),
		logging.KeyWidth, mode.Width,
		logging.KeyHeight, mode.Height,
		"format", mode.Format.String())

	return &Session{
		id:      id,
		cfg:     cfg,
		device:  device,
		dup:     duplicator,
		staging: staging,
		mode:    mode,
		stats:   cfg.Stats,
		log:     logger,
	}, nil
}

// ID is a random identifier used to correlate the session's log lines.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the cached output mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// Dimensions returns the cached output size. It never requeries hardware,
// so it can go stale after a mode change; the next capture then fails with
// ErrAccessLost.
func (s *Session) Dimensions() (width, height uint32) {
	return s.mode.Width, s.mode.Height
}

// Adapter describes the adapter this session captures from.
func (s *Session) Adapter() AdapterDesc {
	return s.device.Adapter()
}

// OutputName is the device name of the duplicated output.
func (s *Session) OutputName() string {
	return s.device.OutputName()
}

// Lost reports whether the session hit ErrAccessLost.
func (s *Session) Lost() bool {
	return s.dup.Lost()
}

// CaptureFrame acquires, copies and packs one frame. It returns a complete
// buffer or an error, never a partial buffer. ErrNoChange and
// ErrFrameTimeout are soft; ErrAccessLost means the session is dead.
func (s *Session) CaptureFrame() (*PixelBuffer, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	start := time.Now()

	frame, err := s.dup.AcquireNextFrame(s.cfg.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := frame.Release(); err != nil {
			s.log.Warn("release frame on error path", logging.KeyError, err)
		}
	}()

	if !frame.Info.HasNewContent() {
		if err := frame.Release(); err != nil {
			return nil, err
		}
		s.stats.noChange.Add(1)
		return nil, ErrNoChange
	}

	tex, err := frame.Texture()
	if err != nil {
		s.stats.failures.Add(1)
		return nil, err
	}
	s.staging.CopyFrom(tex)
	tex.Release()

	// Hand the frame back before touching CPU memory so the compositor is
	// not held up by the readback.
	if err := frame.Release(); err != nil {
		return nil, err
	}

	width, height := int(s.mode.Width), int(s.mode.Height)
	var pix []byte
	err = s.staging.WithMapped(func(surface MappedSurface) error {
		var readErr error
		pix, readErr = ReadPacked(surface, width, height)
		return readErr
	})
	if err != nil {
		s.stats.failures.Add(1)
		return nil, fmt.Errorf("read staging texture: %w", err)
	}

	now := time.Now()
	s.stats.recordCapture(now, now.Sub(start), len(pix))
	return &PixelBuffer{
		Width:      s.mode.Width,
		Height:     s.mode.Height,
		Pix:        pix,
		Info:       frame.Info,
		CapturedAt: now,
	}, nil
}

// Close releases staging buffer, duplication and device. It is safe to
// call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.staging.Close()
	s.dup.Close()
	s.device.Close()
	s.log.Info("capture session closed")
	return nil
}
