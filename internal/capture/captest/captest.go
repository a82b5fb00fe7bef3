// Package captest provides a simulated desktop-duplication backend for
// tests and for running the capture pipeline on machines without DXGI.
//
// The simulated duplication follows the same rules as the real one: a second
// acquire before release and a release without an acquire are rejected, a
// device reset invalidates live duplications, and mapped staging textures
// are padded to a configurable row pitch.
package captest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/deskcap/internal/capture"
)

// Outcome is what the next AcquireNextFrame produces.
type Outcome int

const (
	// Fresh delivers a frame with newly presented content.
	Fresh Outcome = iota
	// Unchanged delivers a frame whose LastPresentTime is zero.
	Unchanged
	// Timeout delivers nothing within the timeout.
	Timeout
	// AccessLost invalidates the duplication.
	AccessLost
	// CastFailure delivers a frame whose resource is not a texture.
	CastFailure
	// MapFailure delivers a fresh frame and fails the next Map.
	MapFailure
	// AcquireError fails the acquire with an unclassified platform error.
	AcquireError
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Unchanged:
		return "unchanged"
	case Timeout:
		return "timeout"
	case AccessLost:
		return "access-lost"
	case CastFailure:
		return "cast-failure"
	case MapFailure:
		return "map-failure"
	case AcquireError:
		return "acquire-error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrPlatform is the error behind AcquireError outcomes.
var ErrPlatform = errors.New("simulated platform failure")

// PaddingByte fills the bytes between the end of a row and the row pitch.
const PaddingByte = 0xEE

// Options configures a simulated backend.
type Options struct {
	Width  int
	Height int
	// RowPitch is the mapped stride. Zero means Width*4.
	RowPitch int
	// Adapters is the number of adapters. Zero means one.
	Adapters int
	// NoOutput makes every adapter report no attached display.
	NoOutput bool
	// FailDevice makes device creation fail.
	FailDevice bool
	// FailStaging makes staging texture creation fail.
	FailStaging bool
	// Format is the pixel format duplications report. Zero means BGRA8.
	Format capture.PixelFormat
	// Default is used once the queued script is exhausted.
	Default Outcome
	// BlockOnTimeout makes Timeout outcomes wait the full timeout, as the
	// real API does. Off by default to keep long simulations fast.
	BlockOnTimeout bool
}

// Counters is a snapshot of platform-level activity.
type Counters struct {
	Acquires      int // successful platform acquires
	Releases      int // successful platform releases
	Maps          int
	Unmaps        int
	Copies        int
	Duplications  int // duplications ever created
	LiveObjects   int // created and not yet released
	Violations    int // protocol violations seen by the platform
	FramesPresent uint64
}

// Outstanding is the number of platform frames currently held.
func (c Counters) Outstanding() int {
	return c.Acquires - c.Releases
}

// Backend is a simulated capture.Backend. It is safe for concurrent use.
type Backend struct {
	mu sync.Mutex

	opts     Options
	width    int
	height   int
	script   []Outcome
	reset    bool
	failMap  bool
	present  int64
	frameNo  uint64
	gen      uint64 // bumped on reset or mode change; older duplications are lost
	counters Counters
}

// New returns a simulated backend for a Width x Height desktop.
func New(opts Options) *Backend {
	if opts.Width <= 0 {
		opts.Width = 64
	}
	if opts.Height <= 0 {
		opts.Height = 32
	}
	if opts.Format == 0 {
		opts.Format = capture.FormatBGRA8
	}
	if opts.Adapters <= 0 {
		opts.Adapters = 1
	}
	return &Backend{opts: opts, width: opts.Width, height: opts.Height}
}

// Queue appends outcomes for the following acquires.
func (b *Backend) Queue(outcomes ...Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script, outcomes...)
}

// SetDefault changes the outcome used once the script is exhausted.
func (b *Backend) SetDefault(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Default = o
}

// SetDeviceReset starts or clears a simulated device reset. While active,
// live duplications report access lost and new duplications fail.
func (b *Backend) SetDeviceReset(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if active && !b.reset {
		b.gen++
	}
	b.reset = active
}

// SetMode simulates a display mode change. Live duplications report
// access lost; new ones see the new size.
func (b *Backend) SetMode(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width = width
	b.height = height
	b.gen++
}

// Counters returns a snapshot of platform activity.
func (b *Backend) Counters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.counters
	c.FramesPresent = b.frameNo
	return c
}

func (b *Backend) rowPitch(width int) int {
	if b.opts.RowPitch >= width*capture.BytesPerPixel {
		return b.opts.RowPitch
	}
	return width * capture.BytesPerPixel
}

func (b *Backend) next() Outcome {
	if len(b.script) > 0 {
		o := b.script[0]
		b.script = b.script[1:]
		return o
	}
	return b.opts.Default
}

// created and released must be called with b.mu held.
func (b *Backend) created() { b.counters.LiveObjects++ }

func (b *Backend) released(done *bool) {
	if *done {
		b.counters.Violations++
		return
	}
	*done = true
	b.counters.LiveObjects--
}

// Pixel is the BGRA value the simulated desktop shows at (x, y) in frame n.
func Pixel(n uint64, x, y int) [4]byte {
	return [4]byte{byte(x + int(n)), byte(y), byte(n), 0xFF}
}

// Frame renders frame n as a packed BGRA buffer.
func Frame(n uint64, width, height int) []byte {
	out := make([]byte, width*height*capture.BytesPerPixel)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := Pixel(n, x, y)
			copy(out[(y*width+x)*capture.BytesPerPixel:], p[:])
		}
	}
	return out
}

// render writes frame n into dst using pitch, padding the tail of each row.
func render(dst []byte, n uint64, width, height, pitch int) {
	rowBytes := width * capture.BytesPerPixel
	for y := 0; y < height; y++ {
		row := dst[y*pitch : (y+1)*pitch]
		for x := 0; x < width; x++ {
			p := Pixel(n, x, y)
			copy(row[x*capture.BytesPerPixel:], p[:])
		}
		for i := rowBytes; i < pitch; i++ {
			row[i] = PaddingByte
		}
	}
}

func (b *Backend) OpenAdapter(index uint32) (capture.Adapter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(index) >= b.opts.Adapters {
		return nil, fmt.Errorf("%w: no adapter at index %d", capture.ErrAdapterNotFound, index)
	}
	b.created()
	return &adapter{b: b, index: index}, nil
}

type adapter struct {
	b        *Backend
	index    uint32
	released bool
}

func (a *adapter) Description() capture.AdapterDesc {
	return capture.AdapterDesc{
		Name:                 fmt.Sprintf("Simulated Adapter %d", a.index),
		VendorID:             0x1414,
		DeviceID:             0x8c,
		DedicatedVideoMemory: 256 << 20,
	}
}

func (a *adapter) CreateDevice() (capture.Device, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	if a.b.opts.FailDevice {
		return nil, fmt.Errorf("%w: simulated driver blocked", capture.ErrDeviceCreationFailed)
	}
	a.b.created()
	return &device{b: a.b}, nil
}

func (a *adapter) PrimaryOutput() (capture.Output, error) {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	if a.b.opts.NoOutput {
		return nil, fmt.Errorf("%w: simulated adapter has no output", capture.ErrAdapterNotFound)
	}
	a.b.created()
	return &output{b: a.b, name: fmt.Sprintf(`\\.\DISPLAY%d`, a.index+1)}, nil
}

func (a *adapter) Release() {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.released(&a.released)
}

type output struct {
	b        *Backend
	name     string
	released bool
}

func (o *output) Name() string { return o.name }

func (o *output) Duplicate(dev capture.Device) (capture.Duplication, error) {
	b := o.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reset {
		return nil, fmt.Errorf("%w: simulated device reset in progress", capture.ErrOutputDuplicationFailed)
	}
	b.created()
	b.counters.Duplications++
	return &duplication{
		b:   b,
		gen: b.gen,
		mode: capture.Mode{
			Width:       uint32(b.width),
			Height:      uint32(b.height),
			Format:      b.opts.Format,
			RefreshRate: 60,
			Rotation:    capture.RotationIdentity,
		},
	}, nil
}

func (o *output) Release() {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	o.b.released(&o.released)
}

type device struct {
	b        *Backend
	released bool
}

func (d *device) CreateStagingTexture(mode capture.Mode) (capture.StagingTexture, error) {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opts.FailStaging {
		return nil, fmt.Errorf("%w: simulated out of memory", capture.ErrStagingCreationFailed)
	}
	width, height := int(mode.Width), int(mode.Height)
	pitch := b.rowPitch(width)
	b.created()
	return &stagingTexture{
		b:      b,
		width:  width,
		height: height,
		pitch:  pitch,
		data:   make([]byte, pitch*height),
	}, nil
}

func (d *device) CopyResource(dst capture.StagingTexture, src capture.Texture) {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	s := dst.(*stagingTexture)
	t := src.(*texture)
	b.counters.Copies++
	render(s.data, t.frame, s.width, s.height, s.pitch)
}

func (d *device) Map(tex capture.StagingTexture) (capture.MappedSurface, error) {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	s := tex.(*stagingTexture)
	if s.mapped {
		b.counters.Violations++
		return capture.MappedSurface{}, fmt.Errorf("%w: texture already mapped", capture.ErrMapFailed)
	}
	if b.failMap {
		b.failMap = false
		return capture.MappedSurface{}, fmt.Errorf("%w: simulated map failure", capture.ErrMapFailed)
	}
	s.mapped = true
	b.counters.Maps++
	return capture.MappedSurface{Data: s.data, RowPitch: s.pitch}, nil
}

func (d *device) Unmap(tex capture.StagingTexture) {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	s := tex.(*stagingTexture)
	if !s.mapped {
		b.counters.Violations++
		return
	}
	s.mapped = false
	b.counters.Unmaps++
}

func (d *device) Release() {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	d.b.released(&d.released)
}

type duplication struct {
	b        *Backend
	gen      uint64
	mode     capture.Mode
	held     bool
	released bool
}

func (d *duplication) Mode() capture.Mode { return d.mode }

func (d *duplication) AcquireNextFrame(timeout time.Duration) (capture.FrameInfo, capture.Resource, error) {
	b := d.b
	b.mu.Lock()
	if d.held {
		b.counters.Violations++
		b.mu.Unlock()
		return capture.FrameInfo{}, nil, errors.New("DXGI_ERROR_INVALID_CALL: previous frame not released")
	}
	if d.gen != b.gen || b.reset {
		b.mu.Unlock()
		return capture.FrameInfo{}, nil, fmt.Errorf("%w: simulated duplication invalidated", capture.ErrAccessLost)
	}

	outcome := b.next()
	switch outcome {
	case Timeout:
		block := b.opts.BlockOnTimeout
		b.mu.Unlock()
		if block {
			time.Sleep(timeout)
		}
		return capture.FrameInfo{}, nil, capture.ErrFrameTimeout
	case AccessLost:
		b.gen++
		b.mu.Unlock()
		return capture.FrameInfo{}, nil, fmt.Errorf("%w: simulated access lost", capture.ErrAccessLost)
	case AcquireError:
		b.mu.Unlock()
		return capture.FrameInfo{}, nil, ErrPlatform
	}
	defer b.mu.Unlock()

	d.held = true
	b.counters.Acquires++
	info := capture.FrameInfo{}
	if outcome != Unchanged {
		b.frameNo++
		b.present += 166_667
		info.LastPresentTime = b.present
		info.AccumulatedFrames = 1
	}
	if outcome == MapFailure {
		b.failMap = true
	}
	b.created()
	return info, &resource{b: b, frame: b.frameNo, castFails: outcome == CastFailure}, nil
}

func (d *duplication) ReleaseFrame() error {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if !d.held {
		b.counters.Violations++
		return errors.New("DXGI_ERROR_INVALID_CALL: no frame acquired")
	}
	d.held = false
	b.counters.Releases++
	return nil
}

func (d *duplication) Release() {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	d.b.released(&d.released)
}

type resource struct {
	b         *Backend
	frame     uint64
	castFails bool
	released  bool
}

func (r *resource) AsTexture() (capture.Texture, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.castFails {
		return nil, fmt.Errorf("%w: simulated E_NOINTERFACE", capture.ErrCastFailed)
	}
	r.b.created()
	return &texture{b: r.b, frame: r.frame}, nil
}

func (r *resource) Release() {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.b.released(&r.released)
}

type texture struct {
	b        *Backend
	frame    uint64
	released bool
}

func (t *texture) Release() {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.b.released(&t.released)
}

type stagingTexture struct {
	b        *Backend
	width    int
	height   int
	pitch    int
	data     []byte
	mapped   bool
	released bool
}

func (s *stagingTexture) Release() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.released(&s.released)
}
