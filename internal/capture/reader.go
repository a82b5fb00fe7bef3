package capture

import "fmt"

// ReadPacked copies height rows of width*4 bytes out of a mapped surface
// whose rows are RowPitch bytes apart, dropping any alignment padding.
// The result is freshly allocated and never partially filled.
func ReadPacked(surface MappedSurface, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrMapFailed, width, height)
	}
	rowBytes := width * BytesPerPixel
	pitch := surface.RowPitch
	if pitch < rowBytes {
		return nil, fmt.Errorf("%w: row pitch %d smaller than row size %d", ErrMapFailed, pitch, rowBytes)
	}
	need := (height-1)*pitch + rowBytes
	if len(surface.Data) < need {
		return nil, fmt.Errorf("%w: mapped %d bytes, need %d", ErrMapFailed, len(surface.Data), need)
	}

	out := make([]byte, rowBytes*height)
	if pitch == rowBytes {
		copy(out, surface.Data[:len(out)])
		return out, nil
	}
	for y := 0; y < height; y++ {
		src := surface.Data[y*pitch : y*pitch+rowBytes]
		copy(out[y*rowBytes:], src)
	}
	return out, nil
}
