package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type duplicatorState int

const (
	stateIdle duplicatorState = iota
	stateFrameAcquired
)

func (s duplicatorState) String() string {
	if s == stateFrameAcquired {
		return "frame-acquired"
	}
	return "idle"
}

// OutputDuplicator enforces the acquire/release protocol on top of a raw
// Duplication: Idle -> FrameAcquired only through AcquireNextFrame, back
// only through ReleaseFrame. Violations return ErrProtocolViolation.
type OutputDuplicator struct {
	dup   Duplication
	mode  Mode
	state duplicatorState
	lost  bool
	stats *Stats
	log   *slog.Logger
}

func newOutputDuplicator(dup Duplication, stats *Stats, logger *slog.Logger) *OutputDuplicator {
	return &OutputDuplicator{
		dup:   dup,
		mode:  dup.Mode(),
		stats: stats,
		log:   logger,
	}
}

// Mode is the output mode captured when the duplication was created.
func (d *OutputDuplicator) Mode() Mode {
	return d.mode
}

// Lost reports whether access was lost. A lost duplicator never acquires
// again.
func (d *OutputDuplicator) Lost() bool {
	return d.lost
}

// AcquireNextFrame waits up to timeout for the next desktop frame. The
// returned frame must be released exactly once; deferring its Release
// right after a successful acquire satisfies that on every path.
func (d *OutputDuplicator) AcquireNextFrame(timeout time.Duration) (*AcquiredFrame, error) {
	if d.state == stateFrameAcquired {
		d.log.Error("AcquireNextFrame called with a frame still acquired")
		return nil, ErrFrameAlreadyAcquired
	}
	if d.lost {
		return nil, fmt.Errorf("acquire next frame: %w", ErrAccessLost)
	}

	info, res, err := d.dup.AcquireNextFrame(timeout)
	if err != nil {
		switch {
		case errors.Is(err, ErrFrameTimeout):
			d.stats.timeouts.Add(1)
			return nil, err
		case errors.Is(err, ErrAccessLost):
			d.lost = true
			d.stats.accessLost.Add(1)
			d.log.Warn("desktop duplication access lost", "error", err)
			return nil, err
		default:
			d.stats.failures.Add(1)
			return nil, fmt.Errorf("acquire next frame: %w", err)
		}
	}

	d.state = stateFrameAcquired
	d.stats.acquires.Add(1)
	return &AcquiredFrame{Info: info, res: res, owner: d}, nil
}

// ReleaseFrame hands the acquired frame back to the compositor. The state
// returns to Idle even when the platform call fails.
func (d *OutputDuplicator) ReleaseFrame() error {
	if d.state != stateFrameAcquired {
		d.log.Error("ReleaseFrame called with no frame acquired")
		return ErrNoFrameAcquired
	}
	d.state = stateIdle
	d.stats.releases.Add(1)

	if err := d.dup.ReleaseFrame(); err != nil {
		if errors.Is(err, ErrAccessLost) {
			d.lost = true
			d.stats.accessLost.Add(1)
			return err
		}
		d.stats.failures.Add(1)
		return fmt.Errorf("release frame: %w", err)
	}
	return nil
}

// Close releases the duplication handle, releasing a still-held frame first.
func (d *OutputDuplicator) Close() {
	if d.dup == nil {
		return
	}
	if d.state == stateFrameAcquired {
		d.log.Warn("closing duplicator with an acquired frame")
		if err := d.ReleaseFrame(); err != nil {
			d.log.Warn("release frame on close", "error", err)
		}
	}
	d.dup.Release()
	d.dup = nil
}

// AcquiredFrame is the scoped guard for one acquired frame.
type AcquiredFrame struct {
	Info FrameInfo

	res      Resource
	owner    *OutputDuplicator
	released bool
}

// Texture casts the frame's desktop resource to a 2D texture. The caller
// releases the texture. The underlying resource reference is dropped here.
func (f *AcquiredFrame) Texture() (Texture, error) {
	if f.released {
		return nil, fmt.Errorf("%w: texture requested after release", ErrProtocolViolation)
	}
	if f.res == nil {
		return nil, fmt.Errorf("%w: frame carries no resource", ErrCastFailed)
	}
	tex, err := f.res.AsTexture()
	f.res.Release()
	f.res = nil
	if err != nil {
		return nil, classify(err, ErrCastFailed)
	}
	return tex, nil
}

// Release releases the frame once. Later calls return nil.
func (f *AcquiredFrame) Release() error {
	if f.released {
		return nil
	}
	f.released = true
	if f.res != nil {
		f.res.Release()
		f.res = nil
	}
	return f.owner.ReleaseFrame()
}
