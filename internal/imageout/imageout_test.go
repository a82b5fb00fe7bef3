package imageout

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/breeze-rmm/deskcap/internal/capture"
)

func testFrame() *capture.PixelBuffer {
	// 2x1: blue-ish then red-ish, BGRA with meaningless alpha.
	return &capture.PixelBuffer{
		Width:  2,
		Height: 1,
		Pix:    []byte{0xFF, 0x10, 0x20, 0x00, 0x01, 0x02, 0xF0, 0x7F},
	}
}

func TestToNRGBASwizzles(t *testing.T) {
	img, err := ToNRGBA(testFrame())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x20, 0x10, 0xFF, 0xFF, 0xF0, 0x02, 0x01, 0xFF}
	if !bytes.Equal(img.Pix, want) {
		t.Fatalf("Pix = % x, want % x", img.Pix, want)
	}
}

func TestToNRGBARejectsBadLength(t *testing.T) {
	frame := testFrame()
	frame.Pix = frame.Pix[:7]
	if _, err := ToNRGBA(frame); err == nil {
		t.Fatal("expected length error")
	}
	if _, err := ToNRGBA(&capture.PixelBuffer{}); err == nil {
		t.Fatal("expected size error")
	}
}

func TestEncodePNGDecodes(t *testing.T) {
	data, err := EncodePNG(testFrame())
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, a := img.At(1, 0).RGBA()
	if r>>8 != 0xF0 || g>>8 != 0x02 || b>>8 != 0x01 || a>>8 != 0xFF {
		t.Fatalf("pixel (1,0) = %x %x %x %x", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestEncodeBMPDecodes(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, testFrame(), FormatBMP); err != nil {
		t.Fatal(err)
	}
	img, err := bmp.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 1 {
		t.Fatalf("bounds = %v", b)
	}
	r, _, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 0x20 || b>>8 != 0xFF {
		t.Fatalf("pixel (0,0) r=%x b=%x", r>>8, b>>8)
	}
}

func TestEncodeRawIsUnchanged(t *testing.T) {
	frame := testFrame()
	var buf bytes.Buffer
	if err := Encode(&buf, frame, FormatRaw); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), frame.Pix) {
		t.Fatal("raw output should be the packed BGRA bytes")
	}
}

func TestDataURL(t *testing.T) {
	url, err := DataURL(testFrame())
	if err != nil {
		t.Fatal(err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("url = %.40s...", url)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("payload is not a PNG: %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "frame"+FormatPNG.Ext())
	if err := WriteFile(path, testFrame(), FormatPNG); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Fatalf("written file is not a PNG: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file, found %d entries", len(entries))
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"png": FormatPNG, "": FormatPNG, "BMP": FormatBMP,
		"jpg": FormatJPEG, "jpeg": FormatJPEG, "raw": FormatRaw,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Fatal("gif should be rejected")
	}
	if FormatJPEG.Ext() != ".jpg" || FormatRaw.Ext() != ".bgra" || FormatBMP.Ext() != ".bmp" {
		t.Fatal("unexpected extensions")
	}
}

func TestContentType(t *testing.T) {
	cases := map[Format]string{
		FormatPNG:  "image/png",
		FormatBMP:  "image/bmp",
		FormatJPEG: "image/jpeg",
		FormatRaw:  "application/octet-stream",
	}
	for f, want := range cases {
		if got := f.ContentType(); got != want {
			t.Fatalf("%s.ContentType() = %q, want %q", f, got, want)
		}
	}
}
