// Package capture implements continuous desktop-frame capture on top of the
// DXGI Desktop Duplication API.
//
// A Session binds one adapter output. Each CaptureFrame acquires the next
// desktop frame as a GPU texture, copies it into a CPU-readable staging
// texture, releases the frame, and packs the mapped rows into a fresh
// BGRA buffer. A Session is not safe for concurrent use.
package capture

import (
	"fmt"
	"time"
)

// BytesPerPixel is the size of one BGRA8 pixel.
const BytesPerPixel = 4

// PixelFormat is a DXGI_FORMAT value.
type PixelFormat uint32

// FormatBGRA8 is DXGI_FORMAT_B8G8R8A8_UNORM, the only format duplication
// hands out for non-HDR desktops.
const FormatBGRA8 PixelFormat = 87

func (f PixelFormat) String() string {
	if f == FormatBGRA8 {
		return "BGRA8"
	}
	return fmt.Sprintf("DXGI_FORMAT(%d)", uint32(f))
}

// Rotation mirrors DXGI_MODE_ROTATION.
type Rotation uint32

const (
	RotationUnspecified Rotation = 0
	RotationIdentity    Rotation = 1
	RotationRotate90    Rotation = 2
	RotationRotate180   Rotation = 3
	RotationRotate270   Rotation = 4
)

// Mode describes the duplicated output as reported when the duplication
// was created. It is never requeried.
type Mode struct {
	Width       uint32
	Height      uint32
	Format      PixelFormat
	RefreshRate float64
	Rotation    Rotation
}

// RowBytes is the packed size of one row.
func (m Mode) RowBytes() int {
	return int(m.Width) * BytesPerPixel
}

// FrameSize is the packed size of one frame.
func (m Mode) FrameSize() int {
	return m.RowBytes() * int(m.Height)
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d %s", m.Width, m.Height, m.Format)
}

// FrameInfo is the per-acquire metadata (DXGI_OUTDUPL_FRAME_INFO subset).
type FrameInfo struct {
	// LastPresentTime is zero when nothing was presented since the last
	// acquire; the frame is a redelivery.
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            bool
	ProtectedContentMaskedOut bool
}

// HasNewContent reports whether the frame carries newly presented pixels.
func (f FrameInfo) HasNewContent() bool {
	return f.LastPresentTime != 0
}

// PixelBuffer is one captured frame: row-major, top row first, BGRA order,
// Width*Height*4 bytes with no padding. It is owned by the caller and shares
// no memory with the GPU.
type PixelBuffer struct {
	Width      uint32
	Height     uint32
	Pix        []byte
	Info       FrameInfo
	CapturedAt time.Time
}

// Stride is the distance in bytes between rows of Pix.
func (b *PixelBuffer) Stride() int {
	return int(b.Width) * BytesPerPixel
}
