package screen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/breeze-rmm/deskcap/internal/capture"
	"github.com/breeze-rmm/deskcap/internal/capture/captest"
)

func newTestService(t *testing.T, sim *captest.Backend) *Service {
	t.Helper()
	cfg := capture.DefaultConfig()
	cfg.Backend = sim
	svc := NewService(cfg)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestServiceStartAndCapture(t *testing.T) {
	sim := captest.New(captest.Options{Width: 40, Height: 20})
	svc := newTestService(t, sim)

	if st := svc.Status(); st.State != StateIdle {
		t.Fatalf("state before Start = %s, want idle", st.State)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w, h, ok := svc.Dimensions()
	if !ok || w != 40 || h != 20 {
		t.Fatalf("Dimensions = %d, %d, %v", w, h, ok)
	}

	frame, err := svc.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(frame.Pix) != 40*20*4 {
		t.Fatalf("len = %d", len(frame.Pix))
	}

	st := svc.Status()
	if st.State != StateReady || st.SessionID == "" || st.Rebuilds != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestServiceCaptureBuildsLazily(t *testing.T) {
	sim := captest.New(captest.Options{})
	svc := newTestService(t, sim)

	if _, err := svc.Capture(context.Background()); err != nil {
		t.Fatalf("Capture without Start: %v", err)
	}
	if svc.Stats().Snapshot().SessionsOpened != 1 {
		t.Fatal("expected one session")
	}
}

func TestServiceRebuildsAfterAccessLost(t *testing.T) {
	sim := captest.New(captest.Options{})
	svc := newTestService(t, sim)
	ctx := context.Background()

	sim.Queue(captest.AccessLost)
	if _, err := svc.Capture(ctx); !errors.Is(err, capture.ErrAccessLost) {
		t.Fatalf("Capture = %v, want ErrAccessLost", err)
	}
	st := svc.Status()
	if st.State != StateLost || st.LastError == "" {
		t.Fatalf("status after loss = %+v", st)
	}
	if _, _, ok := svc.Dimensions(); ok {
		t.Fatal("no dimensions while lost")
	}

	if _, err := svc.Capture(ctx); err != nil {
		t.Fatalf("Capture after loss: %v", err)
	}
	st = svc.Status()
	if st.State != StateReady || st.Rebuilds != 1 || st.LastError != "" {
		t.Fatalf("status after rebuild = %+v", st)
	}
	if got := svc.Stats().Snapshot().SessionsOpened; got != 2 {
		t.Fatalf("SessionsOpened = %d, want 2", got)
	}
	if c := sim.Counters(); c.LiveObjects == 0 || c.Violations != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestServiceRebuildFailsWhileResetActive(t *testing.T) {
	sim := captest.New(captest.Options{})
	svc := newTestService(t, sim)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sim.SetDeviceReset(true)

	if _, err := svc.Capture(ctx); !errors.Is(err, capture.ErrAccessLost) {
		t.Fatalf("Capture = %v, want ErrAccessLost", err)
	}
	if _, err := svc.Capture(ctx); !errors.Is(err, capture.ErrOutputDuplicationFailed) {
		t.Fatalf("rebuild during reset = %v, want ErrOutputDuplicationFailed", err)
	}
	if st := svc.Status(); st.State != StateFailed {
		t.Fatalf("state = %s, want failed", st.State)
	}

	sim.SetDeviceReset(false)
	if _, err := svc.Capture(ctx); err != nil {
		t.Fatalf("Capture after reset cleared: %v", err)
	}
	if st := svc.Status(); st.State != StateReady || st.Rebuilds != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestServiceModeChangeRefreshesDimensions(t *testing.T) {
	sim := captest.New(captest.Options{Width: 64, Height: 32})
	svc := newTestService(t, sim)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sim.SetMode(100, 50)
	if _, err := svc.Capture(ctx); !errors.Is(err, capture.ErrAccessLost) {
		t.Fatalf("Capture = %v, want ErrAccessLost", err)
	}
	frame, err := svc.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Width != 100 || frame.Height != 50 {
		t.Fatalf("frame = %dx%d, want 100x50", frame.Width, frame.Height)
	}
	if w, h, _ := svc.Dimensions(); w != 100 || h != 50 {
		t.Fatalf("Dimensions = %dx%d, want 100x50", w, h)
	}
}

func TestServiceSerializesConcurrentCallers(t *testing.T) {
	sim := captest.New(captest.Options{})
	svc := newTestService(t, sim)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := svc.Capture(ctx); err != nil {
					t.Errorf("Capture: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	c := sim.Counters()
	if c.Violations != 0 {
		t.Fatalf("%d protocol violations under concurrency", c.Violations)
	}
	if c.Acquires != 400 || c.Outstanding() != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestServiceCaptureHonorsCancelledContext(t *testing.T) {
	sim := captest.New(captest.Options{})
	svc := newTestService(t, sim)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Capture = %v, want context.Canceled", err)
	}
	if sim.Counters().Acquires != 0 {
		t.Fatal("cancelled call must not touch the device")
	}
}

func TestServiceConstructionErrorReturnedAsIs(t *testing.T) {
	sim := captest.New(captest.Options{FailDevice: true})
	svc := newTestService(t, sim)

	err := svc.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceCreationFailed) {
		t.Fatalf("Start = %v, want ErrDeviceCreationFailed", err)
	}
	if st := svc.Status(); st.State != StateFailed || st.Rebuilds != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestServiceClose(t *testing.T) {
	sim := captest.New(captest.Options{})
	cfg := capture.DefaultConfig()
	cfg.Backend = sim
	svc := NewService(cfg)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := svc.Capture(context.Background()); !errors.Is(err, capture.ErrSessionClosed) {
		t.Fatalf("Capture after Close = %v, want ErrSessionClosed", err)
	}
	if st := svc.Status(); st.State != StateClosed {
		t.Fatalf("state = %s", st.State)
	}
	if c := sim.Counters(); c.LiveObjects != 0 {
		t.Fatalf("%d objects leaked", c.LiveObjects)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{nil, false},
		{capture.ErrNoChange, false},
		{capture.ErrFrameTimeout, false},
		{capture.ErrAccessLost, false},
		{capture.ErrOutputDuplicationFailed, false},
		{capture.ErrMapFailed, true},
		{capture.ErrSessionClosed, true},
		{context.Canceled, true},
		{errors.Join(capture.ErrAdapterNotFound, capture.ErrNotSupported), true},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
		}
	}
}
