package backingstore

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-memory backing store, grounded on the teacher's
// memory-mode backend (internal/storage/backend_memory.go), but actually
// holding bytes rather than delegating persistence to the caller — this
// module has no table/GOB layer above it, so the byte container itself
// must be the thing that persists across a test's "close, reopen" steps
// when the test hands the same *MemoryStore back in.
//
// MemoryStore implements SafeResizer with true atomic-or-unchanged
// semantics: growth reallocates and copies into a fresh slice (so a
// panic-free allocation failure simply isn't observed — Go allocation
// failures are fatal, which is consistent with "this never corrupts");
// shrink retains the original backing array's capacity so no copy is
// needed and nothing can fail partway.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	maxSize int64
}

// NewMemoryStore returns an empty MemoryStore. maxSize bounds TrySetSize
// and SetLen (UnknownMaxSize for no bound), letting tests exercise the
// "safe-resize cleanly refuses" path deterministically.
func NewMemoryStore(maxSize int64) *MemoryStore {
	return &MemoryStore{maxSize: maxSize}
}

func (s *MemoryStore) Len() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data)), nil
}

func (s *MemoryStore) SetLen(n int64) error {
	ok, err := s.TrySetSize(n)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("backingstore: memory store: %w: size %d exceeds max %d", ErrBeyondMax, n, s.maxSize)
	}
	return nil
}

func (s *MemoryStore) ReadAt(offset int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+int64(len(buf)) > int64(len(s.data)) {
		return fmt.Errorf("backingstore: memory store: read [%d,%d) out of bounds (len %d)", offset, offset+int64(len(buf)), len(s.data))
	}
	copy(buf, s.data[offset:offset+int64(len(buf))])
	return nil
}

func (s *MemoryStore) WriteAt(offset int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset+int64(len(buf)) > int64(len(s.data)) {
		return fmt.Errorf("backingstore: memory store: write [%d,%d) out of bounds (len %d)", offset, offset+int64(len(buf)), len(s.data))
	}
	copy(s.data[offset:offset+int64(len(buf))], buf)
	return nil
}

func (s *MemoryStore) MaxSize() int64 {
	return s.maxSize
}

// TrySetSize implements SafeResizer. It never partially applies: either
// the new slice is built and swapped in, or nothing changes.
func (s *MemoryStore) TrySetSize(n int64) (bool, error) {
	if n < 0 {
		return false, fmt.Errorf("backingstore: memory store: %w: negative size %d", ErrInvalidArgumentInternal, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxSize != UnknownMaxSize && n > s.maxSize {
		return false, nil
	}
	if n <= int64(len(s.data)) {
		s.data = s.data[:n]
		return true, nil
	}
	grown := make([]byte, n)
	copy(grown, s.data)
	s.data = grown
	return true, nil
}

// ErrBeyondMax and ErrInvalidArgumentInternal are package-local sentinels
// so MemoryStore's own error messages can participate in errors.Is
// without importing kvengine (which would create backingstore->kvengine
// ->... no cycle actually exists, but MemoryStore is meant to stand alone
// as a minimal test double independent of the rest of the module).
var (
	ErrBeyondMax               = fmt.Errorf("size exceeds configured maximum")
	ErrInvalidArgumentInternal = fmt.Errorf("invalid argument")
)
