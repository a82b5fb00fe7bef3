//go:build windows

package capture

import (
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

var (
	modDXGI  = windows.NewLazySystemDLL("dxgi.dll")
	modD3D11 = windows.NewLazySystemDLL("d3d11.dll")

	procCreateDXGIFactory1 = modDXGI.NewProc("CreateDXGIFactory1")
	procD3D11CreateDevice  = modD3D11.NewProc("D3D11CreateDevice")
)

// IUnknown vtable slots.
const (
	vtblQueryInterface = 0
	vtblAddRef         = 1
	vtblRelease        = 2
)

// comObject owns exactly one reference to a COM interface pointer.
// Release drops it and is a no-op afterwards.
type comObject struct {
	ptr uintptr
}

func (o *comObject) Release() {
	if o == nil || o.ptr == 0 {
		return
	}
	(*ole.IUnknown)(unsafe.Pointer(o.ptr)).Release()
	o.ptr = 0
}

// vtblFn resolves the function pointer in vtable slot idx.
func (o *comObject) vtblFn(idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(o.ptr))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// call invokes vtable slot idx with the object as the this pointer and
// returns the raw return value (an HRESULT for most methods). Arguments
// must not be derived from Go pointers: those conversions have to sit in
// the syscall.SyscallN call expression itself, wrapped in hresult.
func (o *comObject) call(idx int, args ...uintptr) uint32 {
	all := make([]uintptr, 0, 1+len(args))
	all = append(all, o.ptr)
	all = append(all, args...)
	return hresult(syscall.SyscallN(o.vtblFn(idx), all...))
}

func hresult(r1, _ uintptr, _ syscall.Errno) uint32 {
	return uint32(r1)
}

// queryInterface returns a new owned reference for iid.
func (o *comObject) queryInterface(iid *ole.GUID) (*comObject, error) {
	var out uintptr
	hr := hresult(syscall.SyscallN(o.vtblFn(vtblQueryInterface), o.ptr,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)),
	))
	if failed(hr) {
		return nil, hresultError(hr)
	}
	return &comObject{ptr: out}, nil
}

func failed(hr uint32) bool {
	return int32(hr) < 0
}

// hresultError formats hr with the system message table.
func hresultError(hr uint32) error {
	return ole.NewError(uintptr(hr))
}
