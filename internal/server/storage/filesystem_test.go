package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves file to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		name, n, err := store.Save(bytes.NewReader([]byte("test content")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("generates distinct names", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		a, _, err := store.Save(strings.NewReader("a"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, _, err := store.Save(strings.NewReader("a"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a == b {
			t.Errorf("expected distinct names, got %s twice", a)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		_, n, err := store.Save(strings.NewReader(largeContent))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		r := io.MultiReader(strings.NewReader("partial"), failingReader{})
		if _, _, err := store.Save(r); err == nil {
			t.Fatal("expected error from failing reader")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected no leftover files, found %d", len(entries))
		}
	})

	t.Run("fails when directory is missing", func(t *testing.T) {
		store := NewFileSystemStore(filepath.Join(t.TempDir(), "gone"))

		if _, _, err := store.Save(strings.NewReader("data")); err == nil {
			t.Error("expected error for missing directory")
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	t.Run("reads back saved content", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		name, _, err := store.Save(strings.NewReader("round trip"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rc, err := store.Open(name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		got, _ := io.ReadAll(rc)
		if string(got) != "round trip" {
			t.Errorf("expected 'round trip', got %q", got)
		}
	})

	t.Run("returns ErrBlobNotFound for missing blob", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		_, err := store.Open("0b6a4c1e-5b0e-4f6c-9d7a-3f2e1d0c9b8a")
		if !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("expected ErrBlobNotFound, got %v", err)
		}
	})

	t.Run("rejects names outside the store", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		for _, name := range []string{"../etc/passwd", "", "notes.txt", "a/b"} {
			if _, err := store.Open(name); !errors.Is(err, ErrInvalidBlobName) {
				t.Errorf("Open(%q): expected ErrInvalidBlobName, got %v", name, err)
			}
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		name, _, err := store.Save(strings.NewReader("data"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := store.Delete(name); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete("0b6a4c1e-5b0e-4f6c-9d7a-3f2e1d0c9b8a"); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete("../outside"); !errors.Is(err, ErrInvalidBlobName) {
			t.Errorf("expected ErrInvalidBlobName, got %v", err)
		}
	})
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}
