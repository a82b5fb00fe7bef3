package screen

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/logging"
)

// FrameSource produces frames. *Service implements it.
type FrameSource interface {
	Capture(ctx context.Context) (*capture.PixelBuffer, error)
}

// PollerConfig controls pacing and recovery.
type PollerConfig struct {
	// Interval is the minimum gap between capture attempts. It takes
	// precedence over MaxFPS when both are set.
	Interval time.Duration
	// MaxFPS caps the attempt rate. Zero means unlimited.
	MaxFPS float64
	// BackoffInitial and BackoffMax bound the wait after access loss or a
	// failed rebuild.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MaxFPS:         10,
		BackoffInitial: 250 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

// Poller applies the retry policy around a FrameSource: unchanged frames
// and timeouts are retried at the paced rate, access loss and construction
// failures are retried after exponential backoff, and anything else is
// returned to the caller.
type Poller struct {
	src     FrameSource
	limiter *rate.Limiter
	backoff *backoff.ExponentialBackOff
}

func NewPoller(src FrameSource, cfg PollerConfig) *Poller {
	limit := rate.Inf
	switch {
	case cfg.Interval > 0:
		limit = rate.Every(cfg.Interval)
	case cfg.MaxFPS > 0:
		limit = rate.Limit(cfg.MaxFPS)
	}

	b := backoff.NewExponentialBackOff()
	if cfg.BackoffInitial > 0 {
		b.InitialInterval = cfg.BackoffInitial
	}
	if cfg.BackoffMax > 0 {
		b.MaxInterval = cfg.BackoffMax
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()

	return &Poller{
		src:     src,
		limiter: rate.NewLimiter(limit, 1),
		backoff: b,
	}
}

// Next blocks until a changed frame is captured, ctx ends, or a
// non-recoverable error occurs.
func (p *Poller) Next(ctx context.Context) (*capture.PixelBuffer, error) {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			// The next slot falls past the deadline; nothing more can be
			// captured before ctx ends.
			<-ctx.Done()
			return nil, ctx.Err()
		}

		frame, err := p.src.Capture(ctx)
		if err == nil {
			p.backoff.Reset()
			return frame, nil
		}
		if IsFatal(err) {
			return nil, err
		}
		if capture.IsRetryable(err) {
			continue
		}

		wait := p.backoff.NextBackOff()
		log.Debug("capture unavailable, backing off",
			logging.KeyError, err,
			logging.KeyDurationMs, wait.Milliseconds())
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// Run passes every captured frame to handle until ctx ends, handle fails,
// or capture fails permanently. A cancelled ctx is a clean stop and
// returns nil.
func (p *Poller) Run(ctx context.Context, handle func(*capture.PixelBuffer) error) error {
	for {
		frame, err := p.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := handle(frame); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
