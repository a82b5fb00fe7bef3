package capture

import "fmt"

// StagingBuffer is the CPU-readable transfer target. Its dimensions always
// equal the output mode it was created for and its format is always BGRA8.
type StagingBuffer struct {
	device Device
	tex    StagingTexture
	mode   Mode
}

func newStagingBuffer(dev Device, mode Mode) (*StagingBuffer, error) {
	if mode.Width == 0 || mode.Height == 0 {
		return nil, fmt.Errorf("%w: invalid output dimensions %dx%d", ErrStagingCreationFailed, mode.Width, mode.Height)
	}
	if mode.Format != FormatBGRA8 {
		return nil, fmt.Errorf("%w: output format %s", ErrUnsupportedFormat, mode.Format)
	}
	tex, err := dev.CreateStagingTexture(mode)
	if err != nil {
		return nil, classify(fmt.Errorf("create %s staging texture: %w", mode, err), ErrStagingCreationFailed)
	}
	return &StagingBuffer{device: dev, tex: tex, mode: mode}, nil
}

// CopyFrom queues a GPU copy of src into the staging texture.
func (s *StagingBuffer) CopyFrom(src Texture) {
	s.device.CopyResource(s.tex, src)
}

// WithMapped maps the staging texture, calls fn, and unmaps on every exit
// path. The surface must not be retained after fn returns.
func (s *StagingBuffer) WithMapped(fn func(MappedSurface) error) error {
	surface, err := s.device.Map(s.tex)
	if err != nil {
		return classify(err, ErrMapFailed)
	}
	defer s.device.Unmap(s.tex)
	return fn(surface)
}

// Mode is the mode the texture was sized for.
func (s *StagingBuffer) Mode() Mode {
	return s.mode
}

func (s *StagingBuffer) Close() {
	if s.tex != nil {
		s.tex.Release()
		s.tex = nil
	}
}
