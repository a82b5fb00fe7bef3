package capture

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeResource struct {
	releases int
	castErr  error
}

func (r *fakeResource) AsTexture() (Texture, error) {
	if r.castErr != nil {
		return nil, r.castErr
	}
	return fakeTexture{}, nil
}

func (r *fakeResource) Release() { r.releases++ }

type fakeTexture struct{}

func (fakeTexture) Release() {}

type fakeDuplication struct {
	mode        Mode
	acquireErr  error
	releaseErr  error
	info        FrameInfo
	res         *fakeResource
	acquires    int
	releases    int
	handleFreed int
}

func (d *fakeDuplication) Mode() Mode { return d.mode }

func (d *fakeDuplication) AcquireNextFrame(time.Duration) (FrameInfo, Resource, error) {
	if d.acquireErr != nil {
		return FrameInfo{}, nil, d.acquireErr
	}
	d.acquires++
	d.res = &fakeResource{}
	return d.info, d.res, nil
}

func (d *fakeDuplication) ReleaseFrame() error {
	d.releases++
	return d.releaseErr
}

func (d *fakeDuplication) Release() { d.handleFreed++ }

func newTestDuplicator(dup *fakeDuplication) (*OutputDuplicator, *Stats) {
	stats := &Stats{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newOutputDuplicator(dup, stats, logger), stats
}

func TestDuplicatorRejectsSecondAcquire(t *testing.T) {
	fake := &fakeDuplication{info: FrameInfo{LastPresentTime: 1}}
	d, _ := newTestDuplicator(fake)

	frame, err := d.AcquireNextFrame(time.Millisecond)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := d.AcquireNextFrame(time.Millisecond); !errors.Is(err, ErrFrameAlreadyAcquired) {
		t.Fatalf("second acquire error = %v, want ErrFrameAlreadyAcquired", err)
	}
	if !errors.Is(ErrFrameAlreadyAcquired, ErrProtocolViolation) {
		t.Fatal("ErrFrameAlreadyAcquired should wrap ErrProtocolViolation")
	}
	if fake.acquires != 1 {
		t.Fatalf("platform acquires = %d, want 1", fake.acquires)
	}
	if err := frame.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestDuplicatorRejectsReleaseWithoutAcquire(t *testing.T) {
	fake := &fakeDuplication{}
	d, stats := newTestDuplicator(fake)

	if err := d.ReleaseFrame(); !errors.Is(err, ErrNoFrameAcquired) {
		t.Fatalf("release error = %v, want ErrNoFrameAcquired", err)
	}
	if fake.releases != 0 {
		t.Fatalf("platform release should not be called, got %d", fake.releases)
	}
	if stats.Snapshot().Releases != 0 {
		t.Fatal("rejected release must not be counted")
	}
}

func TestAcquiredFrameReleaseIsIdempotent(t *testing.T) {
	fake := &fakeDuplication{info: FrameInfo{LastPresentTime: 1}}
	d, stats := newTestDuplicator(fake)

	frame, err := d.AcquireNextFrame(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := frame.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if fake.releases != 1 {
		t.Fatalf("platform releases = %d, want 1", fake.releases)
	}
	if fake.res.releases != 1 {
		t.Fatalf("resource releases = %d, want 1", fake.res.releases)
	}
	snap := stats.Snapshot()
	if snap.Acquires != 1 || snap.Releases != 1 || snap.Outstanding() != 0 {
		t.Fatalf("stats = %+v, want one balanced cycle", snap)
	}

	if _, err := d.AcquireNextFrame(time.Millisecond); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestDuplicatorLatchesAccessLost(t *testing.T) {
	fake := &fakeDuplication{acquireErr: ErrAccessLost}
	d, stats := newTestDuplicator(fake)

	if _, err := d.AcquireNextFrame(time.Millisecond); !errors.Is(err, ErrAccessLost) {
		t.Fatalf("error = %v, want ErrAccessLost", err)
	}
	if !d.Lost() {
		t.Fatal("duplicator should report lost")
	}

	fake.acquireErr = nil
	if _, err := d.AcquireNextFrame(time.Millisecond); !errors.Is(err, ErrAccessLost) {
		t.Fatalf("acquire on lost duplicator = %v, want ErrAccessLost", err)
	}
	if fake.acquires != 0 {
		t.Fatal("lost duplicator must not call the platform again")
	}
	if got := stats.Snapshot().AccessLost; got != 1 {
		t.Fatalf("AccessLost = %d, want 1", got)
	}
}

func TestDuplicatorClassifiesAcquireErrors(t *testing.T) {
	fake := &fakeDuplication{acquireErr: ErrFrameTimeout}
	d, stats := newTestDuplicator(fake)

	if _, err := d.AcquireNextFrame(time.Millisecond); !errors.Is(err, ErrFrameTimeout) {
		t.Fatalf("error = %v, want ErrFrameTimeout", err)
	}
	if d.Lost() {
		t.Fatal("timeout must not mark the duplicator lost")
	}

	fake.acquireErr = errors.New("E_INVALIDARG")
	if _, err := d.AcquireNextFrame(time.Millisecond); err == nil || IsRetryable(err) || NeedsRebuild(err) {
		t.Fatalf("platform error = %v, want a hard failure", err)
	}

	snap := stats.Snapshot()
	if snap.Timeouts != 1 || snap.Failures != 1 || snap.Acquires != 0 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestReleaseFrameAccessLostReturnsToIdle(t *testing.T) {
	fake := &fakeDuplication{info: FrameInfo{LastPresentTime: 1}, releaseErr: ErrAccessLost}
	d, _ := newTestDuplicator(fake)

	frame, err := d.AcquireNextFrame(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := frame.Release(); !errors.Is(err, ErrAccessLost) {
		t.Fatalf("release error = %v, want ErrAccessLost", err)
	}
	if d.state != stateIdle {
		t.Fatalf("state = %v, want idle", d.state)
	}
	if !d.Lost() {
		t.Fatal("access lost on release should latch")
	}
}

func TestFrameTextureCastFailure(t *testing.T) {
	fake := &fakeDuplication{info: FrameInfo{LastPresentTime: 1}}
	d, _ := newTestDuplicator(fake)

	frame, err := d.AcquireNextFrame(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	fake.res.castErr = errors.New("E_NOINTERFACE")

	if _, err := frame.Texture(); !errors.Is(err, ErrCastFailed) {
		t.Fatalf("Texture error = %v, want ErrCastFailed", err)
	}
	if fake.res.releases != 1 {
		t.Fatalf("resource releases = %d, want 1", fake.res.releases)
	}
	if err := frame.Release(); err != nil {
		t.Fatal(err)
	}
	if fake.res.releases != 1 {
		t.Fatal("resource released twice")
	}
	if _, err := frame.Texture(); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Texture after release = %v, want ErrProtocolViolation", err)
	}
}

func TestCloseReleasesHeldFrame(t *testing.T) {
	fake := &fakeDuplication{info: FrameInfo{LastPresentTime: 1}}
	d, stats := newTestDuplicator(fake)

	if _, err := d.AcquireNextFrame(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	d.Close()
	d.Close()

	if fake.releases != 1 || fake.handleFreed != 1 {
		t.Fatalf("releases = %d, handle frees = %d, want 1 and 1", fake.releases, fake.handleFreed)
	}
	if stats.Snapshot().Outstanding() != 0 {
		t.Fatal("outstanding frame after Close")
	}
}

func TestCloseLogsReleaseFailure(t *testing.T) {
	fake := &fakeDuplication{
		info:       FrameInfo{LastPresentTime: 1},
		releaseErr: errors.New("device hung"),
	}
	var buf bytes.Buffer
	d := newOutputDuplicator(fake, &Stats{}, slog.New(slog.NewTextHandler(&buf, nil)))

	if _, err := d.AcquireNextFrame(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	d.Close()

	if fake.releases != 1 || fake.handleFreed != 1 {
		t.Fatalf("releases = %d, handle frees = %d, want 1 and 1", fake.releases, fake.handleFreed)
	}
	out := buf.String()
	if !strings.Contains(out, "release frame on close") || !strings.Contains(out, "device hung") {
		t.Fatalf("release failure not logged: %q", out)
	}
}

func TestFrameInfoHasNewContent(t *testing.T) {
	if (FrameInfo{}).HasNewContent() {
		t.Fatal("zero LastPresentTime should report no new content")
	}
	if !(FrameInfo{LastPresentTime: 42}).HasNewContent() {
		t.Fatal("non-zero LastPresentTime should report new content")
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsRetryable(ErrNoChange) || !IsRetryable(ErrFrameTimeout) {
		t.Fatal("NoChange and FrameTimeout are retryable")
	}
	if IsRetryable(ErrAccessLost) || !NeedsRebuild(ErrAccessLost) {
		t.Fatal("AccessLost needs a rebuild, not a retry")
	}
	for _, err := range []error{ErrAdapterNotFound, ErrDeviceCreationFailed, ErrOutputDuplicationFailed, ErrStagingCreationFailed, ErrUnsupportedFormat} {
		if !IsConstructionError(err) {
			t.Errorf("%v should be a construction error", err)
		}
	}

	wrapped := classify(errors.New("E_FAIL"), ErrMapFailed)
	if !errors.Is(wrapped, ErrMapFailed) {
		t.Fatalf("classify = %v, want ErrMapFailed", wrapped)
	}
	lost := classify(ErrAccessLost, ErrMapFailed)
	if errors.Is(lost, ErrMapFailed) {
		t.Fatal("classify should keep an existing sentinel")
	}
	if classify(nil, ErrMapFailed) != nil {
		t.Fatal("classify(nil) should be nil")
	}
}
