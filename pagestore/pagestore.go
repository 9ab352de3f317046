// Package pagestore implements the Paged Storage layer: it partitions a
// backingstore.Store into a fixed header plus a contiguous array of
// equal-sized page slots, each slot carrying a one-byte allocation flag
// and a fixed-size payload, and maintains an O(1) free-list allocator
// threaded through the free slots themselves. Grounded in shape on the
// teacher's Pager (internal/storage/pager/pager.go) and its free-list
// page chain (internal/storage/pager/freelist.go), generalized from a
// chain of dedicated free-list pages to a doubly-linked list threaded
// through each free slot's own payload, per spec.
package pagestore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pagedkv/pagedkv/backingstore"
	"github.com/pagedkv/pagedkv/kvengine"
)

// On-disk constants, per spec.md §3/§6.
const (
	HeaderSize  = 40
	MinPageSize = 16

	FlagFree  byte = 0x00
	FlagAlloc byte = 0xFF
)

// NoPage is the sentinel for "no page" in a nullable page-index field
// (entry page, free-list head/tail, free-slot links). Internal fields
// hold it directly; only EntryPage converts it to an (index, ok) pair
// at the API boundary.
const NoPage int64 = -1

// header field byte offsets within the first HeaderSize bytes.
const (
	offPageSize       = 0
	offEntryPage      = 8
	offAllocatedCount = 16
	offFirstFree      = 24
	offLastFree       = 32
)

// free-slot link byte offsets within a free slot's payload.
const (
	offPrevFree = 0
	offNextFree = 8
)

// FillMode controls what bytes a new page slot's payload holds before
// the caller writes to it. The fill is written when the slot is created
// (by Create, CreateFixed or TryInflate), under the slot's 16 bytes of
// free-list links; it is not re-applied when a freed page is allocated
// again, so such a page keeps its old bytes. This is a debug-only, test-observable
// knob with no effect on the persisted contract (spec.md §9 open
// question): a correct caller must never read an allocated page's bytes
// before writing them, so FillMode changes nothing about correctness.
type FillMode int

const (
	// FillUnchanged leaves whatever bytes were already on the backing
	// store (the default — matches a real allocator, and costs nothing).
	FillUnchanged FillMode = iota
	// FillZero fills a new slot's payload with zero bytes.
	FillZero
	// FillIncrementing fills a new slot's payload with an incrementing byte
	// pattern, useful for catching code that accidentally depends on
	// zeroed memory.
	FillIncrementing
)

// Storage is a Paged Storage instance over a backing store.
type Storage struct {
	mu sync.Mutex

	store     backingstore.Store
	leaveOpen bool

	pageSize       int64
	capacity       int64
	allocatedCount int64
	firstFree      int64 // NoPage if empty
	lastFree       int64 // NoPage if empty
	entryPage      int64 // NoPage if unset

	readOnly      bool
	capacityFixed bool
	fill          FillMode

	closed bool
}

// Option configures a Storage at Create/Load time.
type Option func(*Storage)

// WithLeaveOpen controls whether Storage.Close also closes the
// underlying backingstore.Store (if it implements io.Closer-like
// behavior via a Close method detected at Close time). Default is to
// close the inner store, matching the teacher's cascading-disposal
// convention (pager.Close -> file.Close).
func WithLeaveOpen(leaveOpen bool) Option {
	return func(s *Storage) { s.leaveOpen = leaveOpen }
}

// WithFillMode sets the debug-only initial-payload fill mode.
func WithFillMode(m FillMode) Option {
	return func(s *Storage) { s.fill = m }
}

func applyOptions(s *Storage, opts []Option) {
	for _, o := range opts {
		o(s)
	}
}

func requiredLength(pageSize, capacity int64) int64 {
	return HeaderSize + (1+pageSize)*capacity
}

func slotOffset(pageSize, index int64) int64 {
	return HeaderSize + index*(1+pageSize)
}

// PageSize returns the payload size of every page, in bytes.
func (s *Storage) PageSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageSize
}

// Capacity returns the total number of page slots.
func (s *Storage) Capacity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// AllocatedCount returns the number of currently-allocated pages.
func (s *Storage) AllocatedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocatedCount
}

// EntryPage returns the application-chosen entry page index and whether
// one is set.
func (s *Storage) EntryPage() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryPage == NoPage {
		return 0, false
	}
	return s.entryPage, true
}

// SetEntryPage records the application-chosen entry page index. page
// must not be negative. The engine does not validate that page is
// allocated.
func (s *Storage) SetEntryPage(page int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return fmt.Errorf("pagestore: set entry page: %w", kvengine.ErrInvalidOperation)
	}
	if page < 0 {
		return fmt.Errorf("pagestore: set entry page %d: %w", page, kvengine.ErrInvalidArgument)
	}
	s.entryPage = page
	return s.writeHeaderLocked()
}

// ClearEntryPage removes the entry page reference.
func (s *Storage) ClearEntryPage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return fmt.Errorf("pagestore: clear entry page: %w", kvengine.ErrInvalidOperation)
	}
	s.entryPage = NoPage
	return s.writeHeaderLocked()
}

// IsPageOnStorage reports whether index addresses an existing slot
// (allocated or free), i.e. 0 <= index < capacity.
func (s *Storage) IsPageOnStorage(index int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPageOnStorageLocked(index)
}

func (s *Storage) isPageOnStorageLocked(index int64) bool {
	return index >= 0 && index < s.capacity
}

// IsPageAllocated reports whether index is an allocated page. An
// out-of-range index returns false with a wrapped
// kvengine.ErrInvalidArgument.
func (s *Storage) IsPageAllocated(index int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPageAllocatedLocked(index)
}

func (s *Storage) isPageAllocatedLocked(index int64) (bool, error) {
	if !s.isPageOnStorageLocked(index) {
		return false, fmt.Errorf("pagestore: page %d out of range [0,%d): %w", index, s.capacity, kvengine.ErrInvalidArgument)
	}
	flag, err := s.readFlagLocked(index)
	if err != nil {
		return false, err
	}
	switch flag {
	case FlagAlloc:
		return true, nil
	case FlagFree:
		return false, nil
	default:
		return false, fmt.Errorf("pagestore: page %d: %w: invalid flag byte 0x%02x", index, kvengine.ErrCorruptData, flag)
	}
}

func (s *Storage) readFlagLocked(index int64) (byte, error) {
	buf := make([]byte, 1)
	off := slotOffset(s.pageSize, index)
	if err := s.store.ReadAt(off, buf); err != nil {
		return 0, fmt.Errorf("pagestore: read flag for page %d: %w: %v", index, kvengine.ErrIO, err)
	}
	return buf[0], nil
}

func (s *Storage) writeFlagLocked(index int64, flag byte) error {
	off := slotOffset(s.pageSize, index)
	if err := s.store.WriteAt(off, []byte{flag}); err != nil {
		return fmt.Errorf("pagestore: write flag for page %d: %w: %v", index, kvengine.ErrIO, err)
	}
	return nil
}

// readLinkLocked reads an 8-byte little-endian page index (NoPage
// encoded as -1) from the free-link area of page's payload at the given
// byte offset (offPrevFree or offNextFree).
func (s *Storage) readLinkLocked(page int64, linkOff int64) (int64, error) {
	buf := make([]byte, 8)
	off := slotOffset(s.pageSize, page) + 1 + linkOff
	if err := s.store.ReadAt(off, buf); err != nil {
		return 0, fmt.Errorf("pagestore: read free link for page %d: %w: %v", page, kvengine.ErrIO, err)
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (s *Storage) writeLinkLocked(page int64, linkOff int64, value int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(value))
	off := slotOffset(s.pageSize, page) + 1 + linkOff
	if err := s.store.WriteAt(off, buf); err != nil {
		return fmt.Errorf("pagestore: write free link for page %d: %w: %v", page, kvengine.ErrIO, err)
	}
	return nil
}

// ReadFrom reads len(buf) bytes from page's payload starting at srcOff
// into buf, matching ReadAt/WriteAt style: the length is len(buf).
func (s *Storage) ReadFrom(page int64, srcOff int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPageRangeLocked(page, srcOff, int64(len(buf))); err != nil {
		return err
	}
	off := slotOffset(s.pageSize, page) + 1 + srcOff
	if err := s.store.ReadAt(off, buf); err != nil {
		return fmt.Errorf("pagestore: read page %d [%d,%d): %w: %v", page, srcOff, srcOff+int64(len(buf)), kvengine.ErrIO, err)
	}
	return nil
}

// WriteTo writes buf into page's payload starting at dstOff, then
// flushes the backing store before returning (backingstore.Store's
// WriteAt contract is flush-on-write).
func (s *Storage) WriteTo(page int64, dstOff int64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return fmt.Errorf("pagestore: write page %d: %w", page, kvengine.ErrInvalidOperation)
	}
	if err := s.checkPageRangeLocked(page, dstOff, int64(len(buf))); err != nil {
		return err
	}
	off := slotOffset(s.pageSize, page) + 1 + dstOff
	if err := s.store.WriteAt(off, buf); err != nil {
		return fmt.Errorf("pagestore: write page %d [%d,%d): %w: %v", page, dstOff, dstOff+int64(len(buf)), kvengine.ErrIO, err)
	}
	return nil
}

func (s *Storage) checkPageRangeLocked(page, off, length int64) error {
	if !s.isPageOnStorageLocked(page) {
		return fmt.Errorf("pagestore: page %d out of range [0,%d): %w", page, s.capacity, kvengine.ErrInvalidArgument)
	}
	if off < 0 || length < 0 || off+length < off || off+length > s.pageSize {
		return fmt.Errorf("pagestore: page %d range [%d,%d) outside page size %d: %w", page, off, off+length, s.pageSize, kvengine.ErrInvalidArgument)
	}
	allocated, err := s.isPageAllocatedLocked(page)
	if err != nil {
		return err
	}
	if !allocated {
		return fmt.Errorf("pagestore: page %d is not allocated: %w", page, kvengine.ErrInvalidOperation)
	}
	return nil
}

// writeHeaderLocked persists exactly the five header fields, then
// flushes, so a crash after a successful mutating operation leaves the
// structure consistent up to that operation.
func (s *Storage) writeHeaderLocked() error {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[offPageSize:], uint64(s.pageSize))
	binary.LittleEndian.PutUint64(buf[offEntryPage:], uint64(s.entryPage))
	binary.LittleEndian.PutUint64(buf[offAllocatedCount:], uint64(s.allocatedCount))
	binary.LittleEndian.PutUint64(buf[offFirstFree:], uint64(s.firstFree))
	binary.LittleEndian.PutUint64(buf[offLastFree:], uint64(s.lastFree))
	if err := s.store.WriteAt(0, buf); err != nil {
		return fmt.Errorf("pagestore: write header: %w: %v", kvengine.ErrIO, err)
	}
	return nil
}

func readHeader(store backingstore.Store) (pageSize, entryPage, allocatedCount, firstFree, lastFree int64, err error) {
	buf := make([]byte, HeaderSize)
	if rerr := store.ReadAt(0, buf); rerr != nil {
		return 0, 0, 0, 0, 0, fmt.Errorf("pagestore: read header: %w: %v", kvengine.ErrIO, rerr)
	}
	pageSize = int64(binary.LittleEndian.Uint64(buf[offPageSize:]))
	entryPage = int64(binary.LittleEndian.Uint64(buf[offEntryPage:]))
	allocatedCount = int64(binary.LittleEndian.Uint64(buf[offAllocatedCount:]))
	firstFree = int64(binary.LittleEndian.Uint64(buf[offFirstFree:]))
	lastFree = int64(binary.LittleEndian.Uint64(buf[offLastFree:]))
	return
}

// Close flushes (implicitly, via the flush-on-write contract of every
// prior mutation) and, unless WithLeaveOpen(true) was set, closes the
// underlying store if it exposes a Close() error method.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.leaveOpen {
		return nil
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
