package pagestore

import (
	"fmt"

	"github.com/pagedkv/pagedkv/backingstore"
	"github.com/pagedkv/pagedkv/kvengine"
)

// TryInflate grows the storage by up to additional pages, one at a
// time, appending each new slot to the free list. It returns the number
// of pages actually created: fewer than additional means either the
// backing store's safe-resize cleanly refused further growth, or
// cancel fired between pages. Neither case is an error. A plain
// (non-safe) resize failure is reported as a potentially-corrupting Io
// error and stops the loop immediately.
func (s *Storage) TryInflate(additional int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	if additional < 0 {
		return 0, fmt.Errorf("pagestore: inflate: negative count %d: %w", additional, kvengine.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return 0, fmt.Errorf("pagestore: inflate: %w", errReadOnly())
	}
	if s.capacityFixed {
		return 0, fmt.Errorf("pagestore: inflate: %w", kvengine.ErrInvalidOperation)
	}

	resizer, safe := s.store.(backingstore.SafeResizer)
	var created int64
	kvengine.Report(progress, 0, additional)
	for created < additional {
		if cancel.Get() {
			break
		}
		newIndex := s.capacity
		newLen := requiredLength(s.pageSize, newIndex+1)

		if safe {
			ok, err := resizer.TrySetSize(newLen)
			if err != nil {
				return created, fmt.Errorf("pagestore: inflate: safe resize to %d: %w: %v", newLen, kvengine.ErrIO, err)
			}
			if !ok {
				break
			}
		} else {
			if err := s.store.SetLen(newLen); err != nil {
				return created, fmt.Errorf("pagestore: inflate: resize to %d: %w: %v", newLen, kvengine.ErrIO, err)
			}
		}

		s.capacity = newIndex + 1
		if err := s.initFreeListLocked(newIndex, newIndex+1); err != nil {
			return created, err
		}
		oldTail := s.lastFree
		if err := s.writeLinkLocked(newIndex, offPrevFree, oldTail); err != nil {
			return created, err
		}
		if oldTail != NoPage {
			if err := s.writeLinkLocked(oldTail, offNextFree, newIndex); err != nil {
				return created, err
			}
		} else {
			s.firstFree = newIndex
		}
		s.lastFree = newIndex
		created++
		kvengine.Report(progress, created, additional)

		if err := s.writeHeaderLocked(); err != nil {
			return created, err
		}
	}
	return created, nil
}

// TryDeflate shrinks the storage by up to remove pages, always
// operating on the current last slot. It stops cleanly (without error)
// either when the last slot is allocated, or when a safe-resize cleanly
// refuses to shrink further, or when cancel fires between pages. It
// returns the number of pages actually removed.
func (s *Storage) TryDeflate(remove int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	if remove < 0 {
		return 0, fmt.Errorf("pagestore: deflate: negative count %d: %w", remove, kvengine.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return 0, fmt.Errorf("pagestore: deflate: %w", errReadOnly())
	}
	if s.capacityFixed {
		return 0, fmt.Errorf("pagestore: deflate: %w", kvengine.ErrInvalidOperation)
	}

	resizer, safe := s.store.(backingstore.SafeResizer)
	var removed int64
	kvengine.Report(progress, 0, remove)
	for removed < remove {
		if cancel.Get() {
			break
		}
		if s.capacity == 0 {
			break
		}
		last := s.capacity - 1
		allocated, err := s.isPageAllocatedLocked(last)
		if err != nil {
			return removed, err
		}
		if allocated {
			break
		}

		prev, err := s.readLinkLocked(last, offPrevFree)
		if err != nil {
			return removed, err
		}
		next, err := s.readLinkLocked(last, offNextFree)
		if err != nil {
			return removed, err
		}

		newLen := requiredLength(s.pageSize, last)
		if safe {
			ok, err := resizer.TrySetSize(newLen)
			if err != nil {
				return removed, fmt.Errorf("pagestore: deflate: safe resize to %d: %w: %v", newLen, kvengine.ErrIO, err)
			}
			if !ok {
				break
			}
		} else {
			if err := s.store.SetLen(newLen); err != nil {
				return removed, fmt.Errorf("pagestore: deflate: resize to %d: %w: %v", newLen, kvengine.ErrIO, err)
			}
		}

		s.capacity = last
		// Removing the highest-index slot from a doubly-linked free list
		// requires splicing both sides, not just unlinking from prev: the
		// highest index isn't necessarily the list's tail (FreePage links
		// slots in free order, not index order).
		if prev == NoPage {
			s.firstFree = next
		} else {
			if err := s.writeLinkLocked(prev, offNextFree, next); err != nil {
				return removed, err
			}
		}
		if next == NoPage {
			s.lastFree = prev
		} else {
			if err := s.writeLinkLocked(next, offPrevFree, prev); err != nil {
				return removed, err
			}
		}
		removed++
		kvengine.Report(progress, removed, remove)

		if err := s.writeHeaderLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Compact is a convenience layer over TryDeflate: it repeatedly
// deflates up to maxPages trailing free pages, stopping at the first
// allocated trailing slot. It introduces no new persisted semantics —
// everything it does is expressible as try_deflate calls, the way the
// teacher's GC/VACUUM (pager/gc.go) is a convenience layer over the
// free-list primitives.
func (s *Storage) Compact(maxPages int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	return s.TryDeflate(maxPages, progress, cancel)
}
