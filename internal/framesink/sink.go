// Package framesink hands captured frames to a bounded pool of writers so
// encoding and disk I/O never stall the capture loop.
package framesink

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/logging"
)

var log = logging.L("framesink")

// Handler consumes one frame. ctx is cancelled when the sink shuts down.
type Handler func(ctx context.Context, frame *capture.PixelBuffer) error

// Stats counts frames by outcome.
type Stats struct {
	Submitted uint64
	Dropped   uint64
	Written   uint64
	Failed    uint64
}

// Sink is a fixed set of workers reading from a bounded frame queue. A full
// queue drops the frame instead of blocking the submitter.
type Sink struct {
	handler Handler
	queue   chan *capture.PixelBuffer
	wg      sync.WaitGroup

	mu        sync.RWMutex
	accepting bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Uint64
	dropped   atomic.Uint64
	written   atomic.Uint64
	failed    atomic.Uint64
}

// New starts workers goroutines that pass frames to h, with room for
// queueSize pending frames.
func New(workers, queueSize int, h Handler) *Sink {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		handler:   h,
		queue:     make(chan *capture.PixelBuffer, queueSize),
		accepting: true,
		stopChan:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		go s.worker()
	}

	log.Info("frame sink started", "workers", workers, "queueSize", queueSize)
	return s
}

// Submit enqueues frame. It returns false when the sink is stopped or the
// queue is full; the frame is dropped in both cases.
func (s *Sink) Submit(frame *capture.PixelBuffer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.accepting {
		return false
	}

	s.wg.Add(1)
	select {
	case s.queue <- frame:
		s.submitted.Add(1)
		return true
	default:
		s.wg.Done()
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn("frame sink queue full, dropping frame", "dropped", n)
		}
		return false
	}
}

// StopAccepting rejects further submissions. Queued frames are still
// written.
func (s *Sink) StopAccepting() {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
}

// Context is cancelled once Shutdown finishes or gives up.
func (s *Sink) Context() context.Context {
	return s.ctx
}

// Shutdown stops accepting, waits for queued frames until ctx ends, then
// cancels in-flight handlers and releases the workers. It returns ctx.Err()
// if frames were still pending.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.StopAccepting()
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		log.Info("frame sink drained", "written", s.written.Load(), "dropped", s.dropped.Load())
	case <-ctx.Done():
		err = ctx.Err()
		log.Warn("frame sink drain timed out")
	}

	s.cancel()
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	return err
}

// Stats returns the current counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Dropped:   s.dropped.Load(),
		Written:   s.written.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Sink) worker() {
	for {
		select {
		case frame, ok := <-s.queue:
			if !ok {
				return
			}
			s.handle(frame)
		case <-s.stopChan:
			for {
				select {
				case frame, ok := <-s.queue:
					if !ok {
						return
					}
					s.handle(frame)
				default:
					return
				}
			}
		}
	}
}

// handle runs the handler with panic recovery. wg.Done matches the wg.Add
// in Submit.
func (s *Sink) handle(frame *capture.PixelBuffer) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			log.Error("frame handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := s.handler(s.ctx, frame); err != nil {
		s.failed.Add(1)
		log.Warn("frame handler failed", logging.KeyError, err)
		return
	}
	s.written.Add(1)
}
