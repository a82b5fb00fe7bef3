package capture

import "time"

// Backend opens the platform objects a Session is assembled from.
// DefaultBackend returns the DXGI implementation on Windows.
type Backend interface {
	// OpenAdapter selects the adapter at index. ErrAdapterNotFound when
	// there is none.
	OpenAdapter(index uint32) (Adapter, error)
}

// Adapter is a physical graphics adapter (IDXGIAdapter1).
type Adapter interface {
	Description() AdapterDesc
	// CreateDevice creates a D3D11 device and its immediate context.
	CreateDevice() (Device, error)
	// PrimaryOutput returns output 0. ErrAdapterNotFound when the adapter
	// drives no display.
	PrimaryOutput() (Output, error)
	Release()
}

// AdapterDesc identifies an adapter for logs and diagnostics.
type AdapterDesc struct {
	Name     string
	VendorID uint32
	DeviceID uint32
	// DedicatedVideoMemory is in bytes.
	DedicatedVideoMemory uint64
}

// Output is a display output of an adapter (IDXGIOutput1).
type Output interface {
	Name() string
	// Duplicate creates the duplication for this output on dev.
	Duplicate(dev Device) (Duplication, error)
	Release()
}

// Device is a D3D11 device together with its immediate context.
type Device interface {
	CreateStagingTexture(mode Mode) (StagingTexture, error)
	// CopyResource is ID3D11DeviceContext::CopyResource. It only queues the
	// copy on the GPU and cannot fail.
	CopyResource(dst StagingTexture, src Texture)
	Map(tex StagingTexture) (MappedSurface, error)
	Unmap(tex StagingTexture)
	Release()
}

// Duplication is the raw platform duplication handle
// (IDXGIOutputDuplication). It does not track protocol state; that is
// OutputDuplicator's job.
type Duplication interface {
	Mode() Mode
	// AcquireNextFrame waits up to timeout. It returns ErrFrameTimeout or
	// ErrAccessLost (possibly wrapped) for those conditions.
	AcquireNextFrame(timeout time.Duration) (FrameInfo, Resource, error)
	ReleaseFrame() error
	Release()
}

// Resource is the desktop image handed out by an acquire (IDXGIResource).
type Resource interface {
	// AsTexture queries the 2D texture interface. ErrCastFailed on failure.
	AsTexture() (Texture, error)
	Release()
}

// Texture is a GPU texture holding a desktop image.
type Texture interface {
	Release()
}

// StagingTexture is a CPU-readable texture.
type StagingTexture interface {
	Release()
}

// MappedSurface is a mapped staging texture. Data is only valid until the
// texture is unmapped. RowPitch may exceed Width*4.
type MappedSurface struct {
	Data     []byte
	RowPitch int
}
