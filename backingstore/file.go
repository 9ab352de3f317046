package backingstore

import (
	"fmt"
	"os"
)

// FileStore is a backing store over a single *os.File. It does not
// implement SafeResizer: truncation on most filesystems is not
// guaranteed atomic with respect to a concurrent crash, so pagestore
// must treat any FileStore resize failure as a potentially-corrupting
// Io error, per spec.md §4.1's fail-safe contract.
type FileStore struct {
	file *os.File
}

// OpenFileStore opens (creating if necessary) path for read/write use as
// a backing store.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backingstore: open %s: %w", path, err)
	}
	return &FileStore{file: f}, nil
}

// OpenFileStoreReadOnly opens path for read-only use.
func OpenFileStoreReadOnly(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backingstore: open %s: %w", path, err)
	}
	return &FileStore{file: f}, nil
}

func (s *FileStore) Len() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("backingstore: stat: %w", err)
	}
	return info.Size(), nil
}

func (s *FileStore) SetLen(n int64) error {
	if err := s.file.Truncate(n); err != nil {
		return fmt.Errorf("backingstore: truncate to %d: %w", n, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("backingstore: sync after truncate: %w", err)
	}
	return nil
}

func (s *FileStore) ReadAt(offset int64, buf []byte) error {
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("backingstore: read at %d (%d bytes): %w", offset, len(buf), err)
	}
	return nil
}

func (s *FileStore) WriteAt(offset int64, buf []byte) error {
	if _, err := s.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("backingstore: write at %d (%d bytes): %w", offset, len(buf), err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("backingstore: sync after write: %w", err)
	}
	return nil
}

func (s *FileStore) MaxSize() int64 {
	return UnknownMaxSize
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	return s.file.Close()
}
