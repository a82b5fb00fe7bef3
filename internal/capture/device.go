package capture

import "fmt"

// CaptureDevice owns the selected adapter, its primary output, and the
// D3D11 device plus immediate context created on that adapter.
type CaptureDevice struct {
	index   uint32
	adapter Adapter
	output  Output
	device  Device
	desc    AdapterDesc
}

// openDevice selects the adapter at index and its primary output and
// creates a device on it. Nothing is retried. On failure every object
// created so far is released.
func openDevice(b Backend, index uint32) (*CaptureDevice, error) {
	adapter, err := b.OpenAdapter(index)
	if err != nil {
		return nil, classify(fmt.Errorf("open adapter %d: %w", index, err), ErrAdapterNotFound)
	}

	device, err := adapter.CreateDevice()
	if err != nil {
		adapter.Release()
		return nil, classify(fmt.Errorf("create device on adapter %d: %w", index, err), ErrDeviceCreationFailed)
	}

	output, err := adapter.PrimaryOutput()
	if err != nil {
		device.Release()
		adapter.Release()
		return nil, classify(fmt.Errorf("primary output of adapter %d: %w", index, err), ErrAdapterNotFound)
	}

	return &CaptureDevice{
		index:   index,
		adapter: adapter,
		output:  output,
		device:  device,
		desc:    adapter.Description(),
	}, nil
}

// Adapter describes the adapter the device was created on.
func (d *CaptureDevice) Adapter() AdapterDesc {
	return d.desc
}

// OutputName is the device name of the duplicated output, e.g. \\.\DISPLAY1.
func (d *CaptureDevice) OutputName() string {
	if d.output == nil {
		return ""
	}
	return d.output.Name()
}

func (d *CaptureDevice) duplicate() (Duplication, error) {
	dup, err := d.output.Duplicate(d.device)
	if err != nil {
		return nil, classify(fmt.Errorf("duplicate output %q: %w", d.output.Name(), err), ErrOutputDuplicationFailed)
	}
	return dup, nil
}

// Close releases output, device and adapter in reverse creation order.
func (d *CaptureDevice) Close() {
	if d.output != nil {
		d.output.Release()
		d.output = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
}
