//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

// D3D11/DXGI constants
const (
	d3dDriverTypeUnknown         = 0
	d3d11SDKVersion              = 7
	d3d11CreateDeviceBGRASupport = 0x20

	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	d3d11MapRead       = 1

	dxgiErrInvalidCall           = 0x887A0001
	dxgiErrNotFound              = 0x887A0002
	dxgiErrUnsupported           = 0x887A0004
	dxgiErrDeviceRemoved         = 0x887A0005
	dxgiErrDeviceReset           = 0x887A0007
	dxgiErrNotCurrentlyAvailable = 0x887A0022
	dxgiErrAccessLost            = 0x887A0026
	dxgiErrWaitTimeout           = 0x887A0027
	dxgiErrSessionDisconnected   = 0x887A0028
	eAccessDenied                = 0x80070005

	// COM vtable slots (IUnknown = 0..2, IDXGIObject = 3..6).
	dxgiFactory1EnumAdapters1  = 12 // IDXGIFactory1
	dxgiAdapterEnumOutputs     = 7  // IDXGIAdapter
	dxgiAdapter1GetDesc1       = 10 // IDXGIAdapter1
	dxgiOutputGetDesc          = 7  // IDXGIOutput
	dxgiOutput1DuplicateOutput = 22 // IDXGIOutput1
	dxgiDuplGetDesc            = 7  // IDXGIOutputDuplication
	dxgiDuplAcquireNextFrame   = 8
	dxgiDuplReleaseFrame       = 14
	d3d11DeviceCreateTexture2D = 5  // ID3D11Device
	d3d11CtxMap                = 14 // ID3D11DeviceContext
	d3d11CtxUnmap              = 15
	d3d11CtxCopyResource       = 47
)

var (
	iidIDXGIFactory1   = ole.NewGUID("{770AAE78-F26F-4DBA-A829-253C83D1B387}")
	iidIDXGIOutput1    = ole.NewGUID("{00CDDEA8-939B-4B83-A340-A685226666CC}")
	iidID3D11Texture2D = ole.NewGUID("{6F15AAF2-D208-4E89-9AB4-489535D34F9C}")
)

// dxgiAdapterDesc1 matches DXGI_ADAPTER_DESC1.
type dxgiAdapterDesc1 struct {
	Description           [128]uint16
	VendorID              uint32
	DeviceID              uint32
	SubSysID              uint32
	Revision              uint32
	DedicatedVideoMemory  uintptr
	DedicatedSystemMemory uintptr
	SharedSystemMemory    uintptr
	AdapterLuidLow        uint32
	AdapterLuidHigh       int32
	Flags                 uint32
}

// dxgiOutputDesc matches DXGI_OUTPUT_DESC.
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

// dxgiModeDesc matches DXGI_MODE_DESC.
type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// dxgiOutDuplDesc matches DXGI_OUTDUPL_DESC.
type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32
}

// dxgiOutDuplFrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC.
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

// DefaultBackend returns the DXGI Desktop Duplication backend.
func DefaultBackend() Backend {
	return dxgiBackend{}
}

type dxgiBackend struct{}

func (dxgiBackend) OpenAdapter(index uint32) (Adapter, error) {
	if err := procCreateDXGIFactory1.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSupported, err)
	}

	var factoryPtr uintptr
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factoryPtr)),
	)
	if failed(uint32(hr)) {
		return nil, fmt.Errorf("%w: CreateDXGIFactory1: %w", ErrAdapterNotFound, hresultError(uint32(hr)))
	}
	factory := &comObject{ptr: factoryPtr}
	defer factory.Release()

	var adapterPtr uintptr
	if hr := hresult(syscall.SyscallN(factory.vtblFn(dxgiFactory1EnumAdapters1), factory.ptr,
		uintptr(index),
		uintptr(unsafe.Pointer(&adapterPtr)),
	)); failed(hr) {
		if hr == dxgiErrNotFound {
			return nil, fmt.Errorf("%w: no adapter at index %d", ErrAdapterNotFound, index)
		}
		return nil, fmt.Errorf("%w: IDXGIFactory1::EnumAdapters1: %w", ErrAdapterNotFound, hresultError(hr))
	}
	adapter := &dxgiAdapter{obj: comObject{ptr: adapterPtr}}

	var desc dxgiAdapterDesc1
	if hr := hresult(syscall.SyscallN(adapter.obj.vtblFn(dxgiAdapter1GetDesc1), adapter.obj.ptr,
		uintptr(unsafe.Pointer(&desc)),
	)); !failed(hr) {
		adapter.desc = AdapterDesc{
			Name:                 windows.UTF16ToString(desc.Description[:]),
			VendorID:             desc.VendorID,
			DeviceID:             desc.DeviceID,
			DedicatedVideoMemory: uint64(desc.DedicatedVideoMemory),
		}
	}
	return adapter, nil
}

type dxgiAdapter struct {
	obj  comObject
	desc AdapterDesc
}

func (a *dxgiAdapter) Description() AdapterDesc {
	return a.desc
}

func (a *dxgiAdapter) CreateDevice() (Device, error) {
	var devicePtr, contextPtr uintptr
	var featureLevel uint32
	hr, _, _ := procD3D11CreateDevice.Call(
		a.obj.ptr,                     // pAdapter
		uintptr(d3dDriverTypeUnknown), // DriverType must be UNKNOWN with an explicit adapter
		0,                             // Software
		uintptr(d3d11CreateDeviceBGRASupport),
		0, // pFeatureLevels (NULL = default list)
		0, // FeatureLevels
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&devicePtr)),
		uintptr(unsafe.Pointer(&featureLevel)),
		uintptr(unsafe.Pointer(&contextPtr)),
	)
	if failed(uint32(hr)) {
		return nil, fmt.Errorf("%w: D3D11CreateDevice: %w", ErrDeviceCreationFailed, hresultError(uint32(hr)))
	}
	return &dxgiDevice{
		device:  comObject{ptr: devicePtr},
		context: comObject{ptr: contextPtr},
	}, nil
}

func (a *dxgiAdapter) PrimaryOutput() (Output, error) {
	var outputPtr uintptr
	if hr := hresult(syscall.SyscallN(a.obj.vtblFn(dxgiAdapterEnumOutputs), a.obj.ptr,
		0,
		uintptr(unsafe.Pointer(&outputPtr)),
	)); failed(hr) {
		if hr == dxgiErrNotFound {
			return nil, fmt.Errorf("%w: adapter %q has no output", ErrAdapterNotFound, a.desc.Name)
		}
		return nil, fmt.Errorf("%w: IDXGIAdapter::EnumOutputs: %w", ErrAdapterNotFound, hresultError(hr))
	}
	output := &comObject{ptr: outputPtr}
	defer output.Release()

	var desc dxgiOutputDesc
	name := ""
	if hr := hresult(syscall.SyscallN(output.vtblFn(dxgiOutputGetDesc), output.ptr,
		uintptr(unsafe.Pointer(&desc)),
	)); !failed(hr) {
		name = windows.UTF16ToString(desc.DeviceName[:])
	}

	output1, err := output.queryInterface(iidIDXGIOutput1)
	if err != nil {
		return nil, fmt.Errorf("%w: QueryInterface IDXGIOutput1: %w", ErrOutputDuplicationFailed, err)
	}
	return &dxgiOutput{obj: *output1, name: name}, nil
}

func (a *dxgiAdapter) Release() {
	a.obj.Release()
}

type dxgiOutput struct {
	obj  comObject
	name string
}

func (o *dxgiOutput) Name() string {
	return o.name
}

func (o *dxgiOutput) Duplicate(dev Device) (Duplication, error) {
	d, ok := dev.(*dxgiDevice)
	if !ok {
		return nil, fmt.Errorf("%w: device %T is not a D3D11 device", ErrOutputDuplicationFailed, dev)
	}

	var duplPtr uintptr
	hr := hresult(syscall.SyscallN(o.obj.vtblFn(dxgiOutput1DuplicateOutput), o.obj.ptr,
		d.device.ptr,
		uintptr(unsafe.Pointer(&duplPtr)),
	))
	if failed(hr) {
		return nil, fmt.Errorf("%w: IDXGIOutput1::DuplicateOutput: %s: %w",
			ErrOutputDuplicationFailed, duplicateOutputHint(hr), hresultError(hr))
	}
	dupl := &dxgiDuplication{obj: comObject{ptr: duplPtr}}

	// GetDesc returns void.
	var desc dxgiOutDuplDesc
	syscall.SyscallN(dupl.obj.vtblFn(dxgiDuplGetDesc), dupl.obj.ptr, uintptr(unsafe.Pointer(&desc)))

	refresh := 0.0
	if desc.ModeDesc.RefreshRate.Denominator != 0 {
		refresh = float64(desc.ModeDesc.RefreshRate.Numerator) / float64(desc.ModeDesc.RefreshRate.Denominator)
	}
	dupl.mode = Mode{
		Width:       desc.ModeDesc.Width,
		Height:      desc.ModeDesc.Height,
		Format:      PixelFormat(desc.ModeDesc.Format),
		RefreshRate: refresh,
		Rotation:    Rotation(desc.Rotation),
	}
	return dupl, nil
}

func duplicateOutputHint(hr uint32) string {
	switch hr {
	case eAccessDenied:
		return "secure desktop or insufficient privilege"
	case dxgiErrUnsupported:
		return "not supported for this adapter or session"
	case dxgiErrNotCurrentlyAvailable:
		return "too many applications duplicating this output"
	case dxgiErrSessionDisconnected:
		return "session disconnected"
	default:
		return "unexpected failure"
	}
}

func (o *dxgiOutput) Release() {
	o.obj.Release()
}

type dxgiDevice struct {
	device  comObject // ID3D11Device
	context comObject // ID3D11DeviceContext
}

func (d *dxgiDevice) CreateStagingTexture(mode Mode) (StagingTexture, error) {
	desc := d3d11Texture2DDesc{
		Width:          mode.Width,
		Height:         mode.Height,
		MipLevels:      1,
		ArraySize:      1,
		Format:         uint32(FormatBGRA8),
		SampleCount:    1,
		SampleQuality:  0,
		Usage:          d3d11UsageStaging,
		BindFlags:      0,
		CPUAccessFlags: d3d11CPUAccessRead,
		MiscFlags:      0,
	}
	var texPtr uintptr
	hr := hresult(syscall.SyscallN(d.device.vtblFn(d3d11DeviceCreateTexture2D), d.device.ptr,
		uintptr(unsafe.Pointer(&desc)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&texPtr)),
	))
	if failed(hr) {
		return nil, fmt.Errorf("%w: ID3D11Device::CreateTexture2D: %w", ErrStagingCreationFailed, hresultError(hr))
	}
	return &dxgiStagingTexture{obj: comObject{ptr: texPtr}, mode: mode}, nil
}

func (d *dxgiDevice) CopyResource(dst StagingTexture, src Texture) {
	s := dst.(*dxgiStagingTexture)
	t := src.(*dxgiTexture)
	d.context.call(d3d11CtxCopyResource, s.obj.ptr, t.obj.ptr)
}

func (d *dxgiDevice) Map(tex StagingTexture) (MappedSurface, error) {
	s := tex.(*dxgiStagingTexture)
	var mapped d3d11MappedSubresource
	hr := hresult(syscall.SyscallN(d.context.vtblFn(d3d11CtxMap), d.context.ptr,
		s.obj.ptr,
		0, // Subresource
		d3d11MapRead,
		0, // MapFlags
		uintptr(unsafe.Pointer(&mapped)),
	))
	if failed(hr) {
		return MappedSurface{}, fmt.Errorf("%w: ID3D11DeviceContext::Map: %w", ErrMapFailed, hresultError(hr))
	}
	if mapped.PData == 0 {
		d.Unmap(tex)
		return MappedSurface{}, fmt.Errorf("%w: Map returned a null pointer", ErrMapFailed)
	}

	pitch := int(mapped.RowPitch)
	size := (int(s.mode.Height)-1)*pitch + s.mode.RowBytes()
	return MappedSurface{
		Data:     unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), size),
		RowPitch: pitch,
	}, nil
}

func (d *dxgiDevice) Unmap(tex StagingTexture) {
	s := tex.(*dxgiStagingTexture)
	d.context.call(d3d11CtxUnmap, s.obj.ptr, 0)
}

func (d *dxgiDevice) Release() {
	d.context.Release()
	d.device.Release()
}

type dxgiDuplication struct {
	obj  comObject
	mode Mode
}

func (d *dxgiDuplication) Mode() Mode {
	return d.mode
}

func (d *dxgiDuplication) AcquireNextFrame(timeout time.Duration) (FrameInfo, Resource, error) {
	var info dxgiOutDuplFrameInfo
	var resourcePtr uintptr
	hr := hresult(syscall.SyscallN(d.obj.vtblFn(dxgiDuplAcquireNextFrame), d.obj.ptr,
		uintptr(uint32(timeout/time.Millisecond)),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&resourcePtr)),
	))
	switch {
	case hr == dxgiErrWaitTimeout:
		return FrameInfo{}, nil, ErrFrameTimeout
	case isAccessLost(hr):
		return FrameInfo{}, nil, fmt.Errorf("%w: AcquireNextFrame: %w", ErrAccessLost, hresultError(hr))
	case failed(hr):
		return FrameInfo{}, nil, fmt.Errorf("AcquireNextFrame: %w", hresultError(hr))
	}

	return FrameInfo{
		LastPresentTime:           info.LastPresentTime,
		LastMouseUpdateTime:       info.LastMouseUpdateTime,
		AccumulatedFrames:         info.AccumulatedFrames,
		RectsCoalesced:            info.RectsCoalesced != 0,
		ProtectedContentMaskedOut: info.ProtectedContentMaskedOut != 0,
	}, &dxgiResource{obj: comObject{ptr: resourcePtr}}, nil
}

func (d *dxgiDuplication) ReleaseFrame() error {
	hr := d.obj.call(dxgiDuplReleaseFrame)
	switch {
	case isAccessLost(hr):
		return fmt.Errorf("%w: ReleaseFrame: %w", ErrAccessLost, hresultError(hr))
	case failed(hr):
		return fmt.Errorf("ReleaseFrame: %w", hresultError(hr))
	}
	return nil
}

func (d *dxgiDuplication) Release() {
	d.obj.Release()
}

// isAccessLost covers every HRESULT after which the duplication (or the
// device under it) is unusable.
func isAccessLost(hr uint32) bool {
	switch hr {
	case dxgiErrAccessLost, dxgiErrDeviceRemoved, dxgiErrDeviceReset, dxgiErrSessionDisconnected:
		return true
	}
	return false
}

type dxgiResource struct {
	obj comObject // IDXGIResource
}

func (r *dxgiResource) AsTexture() (Texture, error) {
	if r.obj.ptr == 0 {
		return nil, fmt.Errorf("%w: null desktop resource", ErrCastFailed)
	}
	tex, err := r.obj.queryInterface(iidID3D11Texture2D)
	if err != nil {
		return nil, fmt.Errorf("%w: QueryInterface ID3D11Texture2D: %w", ErrCastFailed, err)
	}
	return &dxgiTexture{obj: *tex}, nil
}

func (r *dxgiResource) Release() {
	r.obj.Release()
}

type dxgiTexture struct {
	obj comObject
}

func (t *dxgiTexture) Release() {
	t.obj.Release()
}

type dxgiStagingTexture struct {
	obj  comObject
	mode Mode
}

func (t *dxgiStagingTexture) Release() {
	t.obj.Release()
}
