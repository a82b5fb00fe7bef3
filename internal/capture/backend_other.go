//go:build !windows

package capture

import "fmt"

// DefaultBackend returns a backend whose adapters can never be opened:
// Desktop Duplication only exists on Windows.
func DefaultBackend() Backend {
	return unsupportedBackend{}
}

type unsupportedBackend struct{}

func (unsupportedBackend) OpenAdapter(index uint32) (Adapter, error) {
	return nil, fmt.Errorf("%w: %w", ErrAdapterNotFound, ErrNotSupported)
}
