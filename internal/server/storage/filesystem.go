package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrInvalidBlobName = errors.New("invalid blob name")
)

// Store defines the interface for blob storage backends. Blobs are addressed
// by an opaque name chosen by the store.
type Store interface {
	Save(data io.Reader) (storedName string, size int64, err error)
	Open(storedName string) (io.ReadCloser, error)
	Delete(storedName string) error
	EnsureDir() error
}

// FileSystemStore stores blobs as files in a single directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data under a freshly generated name and returns the name and
// the number of bytes written.
func (fs *FileSystemStore) Save(data io.Reader) (string, int64, error) {
	name := uuid.NewString()
	filePath := filepath.Join(fs.basePath, name)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := io.Copy(file, data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Clean up partial file on error
		os.Remove(filePath)
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}

	return name, n, nil
}

// Open returns a reader over a stored blob.
func (fs *FileSystemStore) Open(storedName string) (io.ReadCloser, error) {
	filePath, err := fs.filePath(storedName)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, storedName)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob. Deleting a missing blob is not an error.
func (fs *FileSystemStore) Delete(storedName string) error {
	filePath, err := fs.filePath(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// filePath only accepts names this store generated, so a stored name can
// never point outside basePath.
func (fs *FileSystemStore) filePath(storedName string) (string, error) {
	id, err := uuid.Parse(storedName)
	if err != nil || id.String() != storedName {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlobName, storedName)
	}
	return filepath.Join(fs.basePath, storedName), nil
}
