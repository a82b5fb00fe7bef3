package capture

import (
	"errors"
	"fmt"
)

// Session construction failures. Fatal to the construction attempt.
var (
	// ErrAdapterNotFound is returned when no adapter exists at the requested
	// index, or the adapter has no display output attached.
	ErrAdapterNotFound = errors.New("graphics adapter or output not found")

	// ErrDeviceCreationFailed is returned when no compatible D3D11 device can
	// be created on the adapter (missing or blocked driver).
	ErrDeviceCreationFailed = errors.New("GPU device creation failed")

	// ErrOutputDuplicationFailed is returned when the output cannot be
	// duplicated (unsupported session, too many duplications, remote session).
	ErrOutputDuplicationFailed = errors.New("output duplication failed")

	// ErrStagingCreationFailed is returned when the CPU-readable staging
	// texture cannot be allocated.
	ErrStagingCreationFailed = errors.New("staging texture creation failed")

	// ErrUnsupportedFormat is returned when the duplicated output is not in
	// BGRA8 (HDR or wide-color desktops).
	ErrUnsupportedFormat = errors.New("desktop pixel format is not BGRA8")

	// ErrNotSupported is returned when desktop duplication is not available
	// on this platform.
	ErrNotSupported = errors.New("desktop duplication not supported on this platform")
)

// Per-frame conditions.
var (
	// ErrFrameTimeout means no new frame arrived within the acquire timeout.
	// Callers may retry immediately.
	ErrFrameTimeout = errors.New("timed out waiting for a desktop frame")

	// ErrNoChange means a frame was delivered but its content has not been
	// presented since the last acquire. Not a failure.
	ErrNoChange = errors.New("desktop content unchanged")

	// ErrAccessLost means the duplication interface was invalidated (mode
	// change, secure desktop, session lock, device reset). The session cannot
	// be repaired and must be reconstructed.
	ErrAccessLost = errors.New("desktop duplication access lost")

	// ErrMapFailed is returned when the staging texture cannot be mapped or
	// its mapped layout is inconsistent with the output mode.
	ErrMapFailed = errors.New("map staging texture failed")

	// ErrCastFailed is returned when the acquired desktop resource is not a
	// 2D texture.
	ErrCastFailed = errors.New("desktop resource is not a 2D texture")

	// ErrSessionClosed is returned by a session after Close.
	ErrSessionClosed = errors.New("capture session closed")
)

// Acquire/release protocol violations. These are programming errors.
var (
	ErrProtocolViolation    = errors.New("frame acquire/release protocol violation")
	ErrFrameAlreadyAcquired = fmt.Errorf("%w: previous frame not released", ErrProtocolViolation)
	ErrNoFrameAcquired      = fmt.Errorf("%w: no frame acquired", ErrProtocolViolation)
)

// IsRetryable reports whether err is a soft condition a poller should retry
// on the same session.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFrameTimeout) || errors.Is(err, ErrNoChange)
}

// NeedsRebuild reports whether err invalidated the session, so only a new
// session can capture again.
func NeedsRebuild(err error) bool {
	return errors.Is(err, ErrAccessLost)
}

// IsConstructionError reports whether err came from building a session.
func IsConstructionError(err error) bool {
	return errors.Is(err, ErrAdapterNotFound) ||
		errors.Is(err, ErrDeviceCreationFailed) ||
		errors.Is(err, ErrOutputDuplicationFailed) ||
		errors.Is(err, ErrStagingCreationFailed) ||
		errors.Is(err, ErrUnsupportedFormat)
}

// classify wraps err with sentinel unless err already carries one of the
// package's sentinels.
func classify(err, sentinel error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrAdapterNotFound, ErrDeviceCreationFailed, ErrOutputDuplicationFailed,
		ErrStagingCreationFailed, ErrUnsupportedFormat, ErrFrameTimeout, ErrAccessLost,
		ErrMapFailed, ErrCastFailed, ErrNotSupported,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
