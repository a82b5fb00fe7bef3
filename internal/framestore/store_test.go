package framestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		in   string
		want Destination
	}{
		{"captures", Destination{Scheme: "file", Path: "captures"}},
		{`C:\captures`, Destination{Scheme: "file", Path: `C:\captures`}},
		{"file:///var/lib/deskcap", Destination{Scheme: "file", Path: "/var/lib/deskcap"}},
		{"s3://frames", Destination{Scheme: "s3", Bucket: "frames"}},
		{"s3://frames/host-1/", Destination{Scheme: "s3", Bucket: "frames", Prefix: "host-1"}},
		{"gs://frames/a/b", Destination{Scheme: "gs", Bucket: "frames", Prefix: "a/b"}},
		{"azblob://container/x", Destination{Scheme: "azblob", Bucket: "container", Prefix: "x"}},
		{"B2://bucket", Destination{Scheme: "b2", Bucket: "bucket"}},
	}
	for _, tt := range tests {
		got, err := ParseDestination(tt.in)
		if err != nil {
			t.Fatalf("ParseDestination(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDestination(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseDestinationErrors(t *testing.T) {
	for _, in := range []string{"", "s3://", "ftp://host/dir", "file://"} {
		if _, err := ParseDestination(in); err == nil {
			t.Fatalf("ParseDestination(%q) succeeded", in)
		}
	}
	if _, err := ParseDestination("ftp://host/dir"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestObjectKey(t *testing.T) {
	if got, err := objectKey("host-1", "frame.png"); err != nil || got != "host-1/frame.png" {
		t.Fatalf("objectKey = %q, %v", got, err)
	}
	if got, err := objectKey("", "frame.png"); err != nil || got != "frame.png" {
		t.Fatalf("objectKey = %q, %v", got, err)
	}
	if got, err := objectKey("frames", "a/./b.png"); err != nil || got != "frames/a/b.png" {
		t.Fatalf("objectKey = %q, %v", got, err)
	}
	for _, key := range []string{
		"../x",
		"../secret.png",
		"a/../../other/x.png",
		"a/../b.png",
		`..\x`,
		"../../etc/passwd",
	} {
		if got, err := objectKey("frames", key); err == nil {
			t.Fatalf("objectKey(%q) = %q, want escape rejected", key, got)
		}
	}
	if _, err := objectKey("p", ""); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	if err := s.Put(context.Background(), "sub/frame.png", strings.NewReader("pixels"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sub", "frame.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pixels" {
		t.Fatalf("content = %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "sub"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("found %d entries, temp file left behind", len(entries))
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	err := s.Put(context.Background(), "../outside.png", strings.NewReader("x"), "")
	if err == nil || !strings.Contains(err.Error(), "path traversal") {
		t.Fatalf("err = %v, want path traversal error", err)
	}
}

func TestLocalStoreCancelledContext(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Put(ctx, "f.png", strings.NewReader("x"), ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOpenLocal(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*LocalStore); !ok {
		t.Fatalf("store = %T, want *LocalStore", store)
	}
}

func TestOpenRemoteRequiresCredentials(t *testing.T) {
	t.Setenv(EnvAzureConnectionString, "")
	t.Setenv(EnvB2AccountID, "")
	t.Setenv(EnvB2ApplicationKey, "")

	for _, dest := range []string{"azblob://frames", "b2://frames"} {
		if _, err := Open(context.Background(), dest, Options{}); err == nil {
			t.Fatalf("Open(%q) succeeded without credentials", dest)
		}
	}
}
