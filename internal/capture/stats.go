package capture

import (
	"sync/atomic"
	"time"
)

// Stats counts capture activity. It is safe for concurrent use and is meant
// to be shared between a session, the layer that owns it, and readers such
// as a metrics exporter. The zero value is ready to use.
type Stats struct {
	acquires    atomic.Uint64
	releases    atomic.Uint64
	captures    atomic.Uint64
	noChange    atomic.Uint64
	timeouts    atomic.Uint64
	accessLost  atomic.Uint64
	failures    atomic.Uint64
	sessions    atomic.Uint64
	bytesCopied atomic.Uint64

	lastCaptureNanos atomic.Int64
	lastDurationNs   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Acquires        uint64
	Releases        uint64
	Captures        uint64
	NoChange        uint64
	Timeouts        uint64
	AccessLost      uint64
	Failures        uint64
	SessionsOpened  uint64
	BytesCopied     uint64
	LastCapture     time.Time
	LastCaptureTime time.Duration
}

// Outstanding is the number of frames acquired and not yet released.
func (s StatsSnapshot) Outstanding() uint64 {
	return s.Acquires - s.Releases
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Acquires:        s.acquires.Load(),
		Releases:        s.releases.Load(),
		Captures:        s.captures.Load(),
		NoChange:        s.noChange.Load(),
		Timeouts:        s.timeouts.Load(),
		AccessLost:      s.accessLost.Load(),
		Failures:        s.failures.Load(),
		SessionsOpened:  s.sessions.Load(),
		BytesCopied:     s.bytesCopied.Load(),
		LastCaptureTime: time.Duration(s.lastDurationNs.Load()),
	}
	if ns := s.lastCaptureNanos.Load(); ns != 0 {
		snap.LastCapture = time.Unix(0, ns)
	}
	return snap
}

func (s *Stats) recordCapture(at time.Time, took time.Duration, size int) {
	s.captures.Add(1)
	s.bytesCopied.Add(uint64(size))
	s.lastCaptureNanos.Store(at.UnixNano())
	s.lastDurationNs.Store(int64(took))
}
