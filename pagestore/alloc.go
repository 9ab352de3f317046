package pagestore

import (
	"fmt"

	"github.com/pagedkv/pagedkv/kvengine"
)

// TryAllocatePage pops the head of the free list, flips its flag to
// allocated, and returns its index. It returns (0, false) if the free
// list is empty. The initial payload is undefined (a page that has never
// been allocated before holds the FillMode fill, if one is configured) —
// callers must not read before writing.
func (s *Storage) TryAllocatePage() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return 0, false, fmt.Errorf("pagestore: allocate page: %w", errReadOnly())
	}
	if s.firstFree == NoPage {
		return 0, false, nil
	}
	idx := s.firstFree
	next, err := s.readLinkLocked(idx, offNextFree)
	if err != nil {
		return 0, false, err
	}
	if err := s.writeFlagLocked(idx, FlagAlloc); err != nil {
		return 0, false, err
	}
	if next != NoPage {
		if err := s.writeLinkLocked(next, offPrevFree, NoPage); err != nil {
			return 0, false, err
		}
	}
	s.firstFree = next
	if next == NoPage {
		s.lastFree = NoPage
	}
	s.allocatedCount++
	if err := s.writeHeaderLocked(); err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

// FreePage flips index back to free and appends it to the tail of the
// free list. It returns false if index was already free. The payload is
// not erased.
func (s *Storage) FreePage(index int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return false, fmt.Errorf("pagestore: free page %d: %w", index, errReadOnly())
	}
	allocated, err := s.isPageAllocatedLocked(index)
	if err != nil {
		return false, err
	}
	if !allocated {
		return false, nil
	}
	if err := s.writeFlagLocked(index, FlagFree); err != nil {
		return false, err
	}
	oldTail := s.lastFree
	if err := s.writeLinkLocked(index, offPrevFree, oldTail); err != nil {
		return false, err
	}
	if err := s.writeLinkLocked(index, offNextFree, NoPage); err != nil {
		return false, err
	}
	if oldTail != NoPage {
		if err := s.writeLinkLocked(oldTail, offNextFree, index); err != nil {
			return false, err
		}
	} else {
		s.firstFree = index
	}
	s.lastFree = index
	s.allocatedCount--
	if err := s.writeHeaderLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func errReadOnly() error {
	return fmt.Errorf("read-only storage: %w", kvengine.ErrInvalidOperation)
}
