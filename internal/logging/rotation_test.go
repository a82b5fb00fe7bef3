package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriterRotatesAndKeepsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "deskcap.log")

	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	t.Cleanup(func() { rw.Close() })

	chunk := bytes.Repeat([]byte("x"), 600<<10)
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backup beyond maxBackups should not exist, stat err = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 1<<20 {
		t.Fatalf("live log size %d exceeds limit", info.Size())
	}
}

func TestRotatingWriterAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskcap.log")
	if err := os.WriteFile(path, []byte("previous\n"), 0600); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, 1, 1)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	rw.Write([]byte("next\n"))
	rw.Close()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "previous\nnext\n" {
		t.Fatalf("file = %q, want appended content", got)
	}
}
