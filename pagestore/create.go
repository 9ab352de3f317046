package pagestore

import (
	"errors"
	"fmt"

	"github.com/pagedkv/pagedkv/backingstore"
	"github.com/pagedkv/pagedkv/kvengine"
)

// ErrCreateCancelled is returned by Create when the cancellation flag
// fired before the store reached its final size. Per spec.md §5/§7,
// cancellation during Create is the one cancellation point that does
// not yield a clean partial result: the backing store's content is left
// undefined, so this error exists purely to tell the caller not to use
// the half-initialized Storage.
var ErrCreateCancelled = errors.New("pagestore: create cancelled, backing store content is undefined")

// Create initializes a fresh Paged Storage over store: a header with
// allocated_count = 0, entry_page unset, and a free list containing all
// initialCapacity slots in ascending order. The store is grown to the
// exact required length in increments of at most maxResizeIncrement
// bytes, checking cancel between increments.
func Create(store backingstore.Store, pageSize, initialCapacity int64, progress kvengine.Progress, cancel *kvengine.Cancel, maxResizeIncrement int64, opts ...Option) (*Storage, error) {
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("pagestore: create: page size %d below minimum %d: %w", pageSize, MinPageSize, kvengine.ErrInvalidArgument)
	}
	if initialCapacity < 0 {
		return nil, fmt.Errorf("pagestore: create: negative initial capacity %d: %w", initialCapacity, kvengine.ErrInvalidArgument)
	}
	if maxResizeIncrement < 1 {
		return nil, fmt.Errorf("pagestore: create: max resize increment %d below 1: %w", maxResizeIncrement, kvengine.ErrInvalidArgument)
	}

	target := requiredLength(pageSize, initialCapacity)
	if err := growInChunks(store, target, maxResizeIncrement, progress, cancel); err != nil {
		return nil, err
	}

	s := &Storage{
		store:          store,
		pageSize:       pageSize,
		capacity:       initialCapacity,
		allocatedCount: 0,
		entryPage:      NoPage,
		firstFree:      NoPage,
		lastFree:       NoPage,
	}
	applyOptions(s, opts)

	if err := s.initFreeListLocked(0, initialCapacity); err != nil {
		return nil, err
	}
	if initialCapacity > 0 {
		s.firstFree = 0
		s.lastFree = initialCapacity - 1
	}
	if err := s.writeHeaderLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateFixed initializes a fresh Paged Storage whose capacity is
// derived from the store's current length; it never resizes.
func CreateFixed(store backingstore.Store, pageSize int64, progress kvengine.Progress, cancel *kvengine.Cancel, opts ...Option) (*Storage, error) {
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("pagestore: create fixed: page size %d below minimum %d: %w", pageSize, MinPageSize, kvengine.ErrInvalidArgument)
	}
	length, err := store.Len()
	if err != nil {
		return nil, fmt.Errorf("pagestore: create fixed: %w: %v", kvengine.ErrIO, err)
	}
	if length < HeaderSize {
		return nil, fmt.Errorf("pagestore: create fixed: store length %d below header size %d: %w", length, HeaderSize, kvengine.ErrInvalidArgument)
	}
	capacity := (length - HeaderSize) / (1 + pageSize)

	kvengine.Report(progress, 0, capacity)
	if cancel.Get() {
		return nil, ErrCreateCancelled
	}

	s := &Storage{
		store:          store,
		pageSize:       pageSize,
		capacity:       capacity,
		allocatedCount: 0,
		entryPage:      NoPage,
		firstFree:      NoPage,
		lastFree:       NoPage,
		capacityFixed:  true,
	}
	applyOptions(s, opts)

	if err := s.initFreeListLocked(0, capacity); err != nil {
		return nil, err
	}
	if capacity > 0 {
		s.firstFree = 0
		s.lastFree = capacity - 1
	}
	kvengine.Report(progress, capacity, capacity)
	if err := s.writeHeaderLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads and validates an existing Paged Storage header. If store
// is read-only, readOnly must be true; if readOnly, capacityFixed must
// also be true (a read-only store can never grow).
func Load(store backingstore.Store, readOnly, capacityFixed bool, opts ...Option) (*Storage, error) {
	if readOnly && !capacityFixed {
		return nil, fmt.Errorf("pagestore: load: read-only requires capacity-fixed: %w", kvengine.ErrInvalidArgument)
	}
	pageSize, entryPage, allocatedCount, firstFree, lastFree, err := readHeader(store)
	if err != nil {
		return nil, err
	}
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("pagestore: load: %w: page size %d below minimum %d", kvengine.ErrCorruptData, pageSize, MinPageSize)
	}
	length, err := store.Len()
	if err != nil {
		return nil, fmt.Errorf("pagestore: load: %w: %v", kvengine.ErrIO, err)
	}
	if length < HeaderSize {
		return nil, fmt.Errorf("pagestore: load: %w: store length %d below header size %d", kvengine.ErrCorruptData, length, HeaderSize)
	}
	capacity := (length - HeaderSize) / (1 + pageSize)

	s := &Storage{
		store:          store,
		pageSize:       pageSize,
		capacity:       capacity,
		allocatedCount: allocatedCount,
		entryPage:      entryPage,
		firstFree:      firstFree,
		lastFree:       lastFree,
		readOnly:       readOnly,
		capacityFixed:  capacityFixed,
	}
	applyOptions(s, opts)
	return s, nil
}

// initFreeListLocked writes [from, to) as free slots linked in ascending
// order, each slot's own prev/next free links pointing to its immediate
// neighbors within that range (not to anything outside it — callers
// splice the range into the existing list separately).
func (s *Storage) initFreeListLocked(from, to int64) error {
	for i := from; i < to; i++ {
		if err := s.writeFlagLocked(i, FlagFree); err != nil {
			return err
		}
		prev := i - 1
		if i == from {
			prev = NoPage
		}
		next := i + 1
		if i == to-1 {
			next = NoPage
		}
		switch s.fill {
		case FillZero:
			if err := s.fillPayload(i, 0x00); err != nil {
				return err
			}
		case FillIncrementing:
			if err := s.fillPayloadIncrementing(i); err != nil {
				return err
			}
		}
		if err := s.writeLinkLocked(i, offPrevFree, prev); err != nil {
			return err
		}
		if err := s.writeLinkLocked(i, offNextFree, next); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) fillPayload(index int64, b byte) error {
	buf := make([]byte, s.pageSize)
	for i := range buf {
		buf[i] = b
	}
	off := slotOffset(s.pageSize, index) + 1
	return s.store.WriteAt(off, buf)
}

func (s *Storage) fillPayloadIncrementing(index int64) error {
	buf := make([]byte, s.pageSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	off := slotOffset(s.pageSize, index) + 1
	return s.store.WriteAt(off, buf)
}

// growInChunks grows store to exactly target bytes, in increments of at
// most maxIncrement, checking cancel between increments. Create does
// not use SafeResizer: the contract for create is "cancellation leaves
// content undefined" so there is nothing to protect by preferring the
// safe path, and a store being created has no existing pages to corrupt.
func growInChunks(store backingstore.Store, target, maxIncrement int64, progress kvengine.Progress, cancel *kvengine.Cancel) error {
	current, err := store.Len()
	if err != nil {
		return fmt.Errorf("pagestore: create: %w: %v", kvengine.ErrIO, err)
	}
	kvengine.Report(progress, current, target)
	for current < target {
		if cancel.Get() {
			return ErrCreateCancelled
		}
		next := current + maxIncrement
		if next > target {
			next = target
		}
		if err := store.SetLen(next); err != nil {
			return fmt.Errorf("pagestore: create: grow to %d: %w: %v", next, kvengine.ErrIO, err)
		}
		current = next
		kvengine.Report(progress, current, target)
	}
	return nil
}
