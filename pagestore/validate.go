package pagestore

import (
	"fmt"

	"github.com/pagedkv/pagedkv/kvengine"
)

// Validate re-reads the header and walks the free list from first_free,
// checking that every visited slot is on storage, marked free, and
// back-links to the previously visited slot (NoPage for the first).
// The total visited count must equal capacity - allocated_count.
// Cancellation returns (false, nil) without error; any structural
// violation returns a wrapped kvengine.ErrCorruptData.
func (s *Storage) Validate(progress kvengine.Progress, cancel *kvengine.Cancel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pageSize, entryPage, allocatedCount, firstFree, lastFree, err := readHeader(s.store)
	if err != nil {
		return false, err
	}
	if pageSize != s.pageSize {
		return false, fmt.Errorf("pagestore: validate: %w: header page size %d does not match in-memory %d", kvengine.ErrCorruptData, pageSize, s.pageSize)
	}
	if entryPage < NoPage {
		return false, fmt.Errorf("pagestore: validate: %w: header entry page %d is negative beyond NoPage", kvengine.ErrCorruptData, entryPage)
	}
	s.entryPage = entryPage
	s.allocatedCount = allocatedCount
	s.firstFree = firstFree
	s.lastFree = lastFree

	expected := s.capacity - allocatedCount
	if firstFree == NoPage && lastFree != NoPage || firstFree != NoPage && lastFree == NoPage {
		return false, fmt.Errorf("pagestore: validate: %w: header free-list head/tail disagree on emptiness (first=%d last=%d)", kvengine.ErrCorruptData, firstFree, lastFree)
	}

	var count int64
	prev := int64(NoPage)
	cur := firstFree
	kvengine.Report(progress, 0, expected)
	for cur != NoPage {
		if cancel.Get() {
			return false, nil
		}
		if !s.isPageOnStorageLocked(cur) {
			return false, fmt.Errorf("pagestore: validate: %w: free-list node %d is out of range [0,%d)", kvengine.ErrCorruptData, cur, s.capacity)
		}
		flag, err := s.readFlagLocked(cur)
		if err != nil {
			return false, err
		}
		switch flag {
		case FlagAlloc:
			return false, fmt.Errorf("pagestore: validate: %w: header first_free chain reaches allocated page %d", kvengine.ErrCorruptData, cur)
		case FlagFree:
		default:
			return false, fmt.Errorf("pagestore: validate: %w: page %d has invalid flag byte 0x%02x", kvengine.ErrCorruptData, cur, flag)
		}
		backLink, err := s.readLinkLocked(cur, offPrevFree)
		if err != nil {
			return false, err
		}
		if backLink != prev {
			return false, fmt.Errorf("pagestore: validate: %w: free-list node %d has back-link %d, expected %d", kvengine.ErrCorruptData, cur, backLink, prev)
		}
		count++
		kvengine.Report(progress, count, expected)
		prev = cur
		next, err := s.readLinkLocked(cur, offNextFree)
		if err != nil {
			return false, err
		}
		cur = next
	}
	if prev != lastFree {
		return false, fmt.Errorf("pagestore: validate: %w: free-list traversal ended at %d, header last_free is %d", kvengine.ErrCorruptData, prev, lastFree)
	}
	if count != expected {
		return false, fmt.Errorf("pagestore: validate: %w: free-list length %d does not equal capacity-allocated %d", kvengine.ErrCorruptData, count, expected)
	}
	return true, nil
}
