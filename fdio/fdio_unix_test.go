//go:build unix

package fdio

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

// Raw descriptor adoption is exercised with a duplicated fd so the original
// *os.File keeps sole ownership of its own descriptor.
func TestNewFDCloserFromRawFD(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.bin")
	if err := os.WriteFile(path, []byte("raw bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dup, err := syscall.Dup(int(f.Fd()))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	c, err := NewFDCloser(dup)
	if err != nil {
		t.Fatalf("NewFDCloser: %v", err)
	}
	r, err := NewFileReader(c)
	if err != nil {
		t.Fatalf("NewFileReader: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := r.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "raw" {
		t.Fatalf("content = %q", buf)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// The duplicated descriptor is dead after the single Close.
	if _, err := syscall.Seek(dup, 0, 0); err == nil {
		t.Fatal("descriptor should be closed")
	}
}
