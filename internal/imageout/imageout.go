// Package imageout turns captured BGRA frames into image files.
package imageout

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"

	"github.com/breeze-rmm/deskcap/internal/capture"
)

// Format is an output file format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatJPEG Format = "jpeg"
	FormatRaw  Format = "raw"
)

// DefaultJPEGQuality is used when a JPEG quality is out of range.
const DefaultJPEGQuality = 85

// ParseFormat accepts png, bmp, jpeg (or jpg) and raw.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png", "":
		return FormatPNG, nil
	case "bmp":
		return FormatBMP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "raw":
		return FormatRaw, nil
	}
	return "", fmt.Errorf("unknown image format %q", s)
}

// Ext is the file extension including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatRaw:
		return ".bgra"
	default:
		return "." + string(f)
	}
}

// ContentType is the MIME type of encoded output.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatBMP:
		return "image/bmp"
	case FormatJPEG:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// ToNRGBA swizzles a packed BGRA frame into an NRGBA image. The desktop
// alpha channel carries no meaning, so every pixel is written opaque.
func ToNRGBA(frame *capture.PixelBuffer) (*image.NRGBA, error) {
	w, h := int(frame.Width), int(frame.Height)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", w, h)
	}
	if len(frame.Pix) != w*h*capture.BytesPerPixel {
		return nil, fmt.Errorf("frame has %d bytes, want %d for %dx%d", len(frame.Pix), w*h*capture.BytesPerPixel, w, h)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	src, dst := frame.Pix, img.Pix
	for i := 0; i < len(src); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = 0xFF
	}
	return img, nil
}

// Encode writes frame to w in format f. Raw writes the packed BGRA bytes
// unchanged.
func Encode(w io.Writer, frame *capture.PixelBuffer, f Format) error {
	if f == FormatRaw {
		_, err := w.Write(frame.Pix)
		return err
	}

	img, err := ToNRGBA(frame)
	if err != nil {
		return err
	}
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: DefaultJPEGQuality})
	}
	return fmt.Errorf("unsupported image format %q", f)
}

// EncodePNG returns frame as PNG bytes.
func EncodePNG(frame *capture.PixelBuffer) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, frame, FormatPNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURL returns the frame as a base64 PNG data URL.
func DataURL(frame *capture.PixelBuffer) (string, error) {
	data, err := EncodePNG(frame)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// WriteFile encodes frame into path. The file is written to a temporary
// name in the same directory and renamed into place, so readers never see
// a partial image.
func WriteFile(path string, frame *capture.PixelBuffer, f Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".deskcap-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, frame, f); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", f, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
