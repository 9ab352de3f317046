package pagestore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pagedkv/pagedkv/backingstore"
	"github.com/pagedkv/pagedkv/kvengine"
)

func newTestStorage(t *testing.T, pageSize, capacity int64) *Storage {
	t.Helper()
	store := backingstore.NewMemoryStore(backingstore.UnknownMaxSize)
	s, err := Create(store, pageSize, capacity, nil, nil, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestCreate_FreeListCoversEveryPage(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 5)
	if s.Capacity() != 5 {
		t.Fatalf("Capacity() = %d, want 5", s.Capacity())
	}
	ok, err := s.Validate(nil, nil)
	if err != nil || !ok {
		t.Fatalf("Validate: ok=%v err=%v", ok, err)
	}
}

func TestAllocateWriteReadFree(t *testing.T) {
	s := newTestStorage(t, 32, 2)
	page, ok, err := s.TryAllocatePage()
	if err != nil || !ok {
		t.Fatalf("TryAllocatePage: ok=%v err=%v", ok, err)
	}
	want := []byte("0123456789")
	if err := s.WriteTo(page, 0, want); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got := make([]byte, len(want))
	if err := s.ReadFrom(page, 0, got); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
	freed, err := s.FreePage(page)
	if err != nil || !freed {
		t.Fatalf("FreePage: freed=%v err=%v", freed, err)
	}
	if err := s.ReadFrom(page, 0, got); !errors.Is(err, kvengine.ErrInvalidOperation) {
		t.Fatalf("ReadFrom freed page: want ErrInvalidOperation, got %v", err)
	}
}

func TestTryAllocatePage_ExhaustsFreeList(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 2)
	for i := 0; i < 2; i++ {
		if _, ok, err := s.TryAllocatePage(); err != nil || !ok {
			t.Fatalf("allocate %d: ok=%v err=%v", i, ok, err)
		}
	}
	_, ok, err := s.TryAllocatePage()
	if err != nil {
		t.Fatalf("TryAllocatePage at capacity: %v", err)
	}
	if ok {
		t.Fatal("expected TryAllocatePage to report exhaustion, not an error")
	}
}

func TestEntryPageRoundTrip(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 3)
	if _, ok := s.EntryPage(); ok {
		t.Fatal("fresh storage must not have an entry page")
	}
	page, _, err := s.TryAllocatePage()
	if err != nil {
		t.Fatalf("TryAllocatePage: %v", err)
	}
	if err := s.SetEntryPage(page); err != nil {
		t.Fatalf("SetEntryPage: %v", err)
	}
	got, ok := s.EntryPage()
	if !ok || got != page {
		t.Fatalf("EntryPage() = (%d,%v), want (%d,true)", got, ok, page)
	}
	if err := s.ClearEntryPage(); err != nil {
		t.Fatalf("ClearEntryPage: %v", err)
	}
	if _, ok := s.EntryPage(); ok {
		t.Fatal("expected no entry page after ClearEntryPage")
	}
}

func TestTryInflateAndTryDeflate(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 2)
	grown, err := s.TryInflate(3, nil, nil)
	if err != nil || grown != 3 {
		t.Fatalf("TryInflate: grown=%d err=%v", grown, err)
	}
	if s.Capacity() != 5 {
		t.Fatalf("Capacity() = %d, want 5", s.Capacity())
	}
	shrunk, err := s.TryDeflate(3, nil, nil)
	if err != nil || shrunk != 3 {
		t.Fatalf("TryDeflate: shrunk=%d err=%v", shrunk, err)
	}
	if s.Capacity() != 2 {
		t.Fatalf("Capacity() = %d, want 2", s.Capacity())
	}
}

func TestTryDeflate_StopsAtAllocatedTrailingPage(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 3)
	for i := 0; i < 3; i++ {
		if _, ok, err := s.TryAllocatePage(); err != nil || !ok {
			t.Fatalf("allocate %d: ok=%v err=%v", i, ok, err)
		}
	}
	// Free pages 0 and 1, leaving page 2 (the trailing slot) allocated.
	if _, err := s.FreePage(0); err != nil {
		t.Fatalf("FreePage(0): %v", err)
	}
	if _, err := s.FreePage(1); err != nil {
		t.Fatalf("FreePage(1): %v", err)
	}
	removed, err := s.TryDeflate(5, nil, nil)
	if err != nil {
		t.Fatalf("TryDeflate: %v", err)
	}
	if removed != 0 {
		t.Fatalf("TryDeflate: removed %d pages, want 0 (trailing page is allocated)", removed)
	}
	if s.Capacity() != 3 {
		t.Fatalf("Capacity() = %d, want 3", s.Capacity())
	}
}

func TestTryDeflate_SplicesBothSidesWhenTrailingSlotIsNotTheTail(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 3)
	for i := 0; i < 3; i++ {
		if _, ok, err := s.TryAllocatePage(); err != nil || !ok {
			t.Fatalf("allocate %d: ok=%v err=%v", i, ok, err)
		}
	}
	// Free in an order that puts the highest-index slot (2) at the head
	// of the free list, not the tail: free(2) then free(0) links the
	// list as 2 -> 0, so slot 2's "next" pointer, not "prev", is the one
	// that matters when it is removed by TryDeflate.
	if _, err := s.FreePage(2); err != nil {
		t.Fatalf("FreePage(2): %v", err)
	}
	if _, err := s.FreePage(0); err != nil {
		t.Fatalf("FreePage(0): %v", err)
	}
	removed, err := s.TryDeflate(1, nil, nil)
	if err != nil {
		t.Fatalf("TryDeflate: %v", err)
	}
	if removed != 1 {
		t.Fatalf("TryDeflate: removed %d pages, want 1", removed)
	}
	if s.Capacity() != 2 {
		t.Fatalf("Capacity() = %d, want 2", s.Capacity())
	}
	// The free list must still be structurally sound: page 0 remains the
	// sole free page and is allocatable.
	ok, err := s.Validate(nil, nil)
	if err != nil || !ok {
		t.Fatalf("Validate after deflate: ok=%v err=%v", ok, err)
	}
	page, ok, err := s.TryAllocatePage()
	if err != nil || !ok || page != 0 {
		t.Fatalf("TryAllocatePage after deflate: page=%d ok=%v err=%v, want (0,true,nil)", page, ok, err)
	}
}

func TestLoad_ReadOnlyRequiresCapacityFixed(t *testing.T) {
	store := backingstore.NewMemoryStore(backingstore.UnknownMaxSize)
	if _, err := Create(store, MinPageSize, 1, nil, nil, 4); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := Load(store, true, false); !errors.Is(err, kvengine.ErrInvalidArgument) {
		t.Fatalf("Load(readOnly=true, capacityFixed=false): want ErrInvalidArgument, got %v", err)
	}
	loaded, err := Load(store, true, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Capacity() != 1 {
		t.Fatalf("Capacity() = %d, want 1", loaded.Capacity())
	}
	if _, _, err := loaded.TryAllocatePage(); !errors.Is(err, kvengine.ErrInvalidOperation) {
		t.Fatalf("allocate on read-only storage: want ErrInvalidOperation, got %v", err)
	}
}

func TestValidate_DetectsCorruptFreeList(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 2)
	// Corrupt the on-disk flag byte of a free page directly through the
	// backing store, bypassing the Storage API.
	if err := s.store.WriteAt(slotOffset(s.pageSize, 0), []byte{0x7F}); err != nil {
		t.Fatalf("corrupt flag: %v", err)
	}
	ok, err := s.Validate(nil, nil)
	if ok {
		t.Fatal("expected Validate to report failure")
	}
	if !errors.Is(err, kvengine.ErrCorruptData) {
		t.Fatalf("want ErrCorruptData, got %v", err)
	}
}

func TestValidate_Cancelled(t *testing.T) {
	s := newTestStorage(t, MinPageSize, 4)
	cancel := kvengine.NewCancel()
	cancel.Set()
	ok, err := s.Validate(nil, cancel)
	if err != nil {
		t.Fatalf("Validate with pre-fired cancel: %v", err)
	}
	if ok {
		t.Fatal("expected Validate to report false when cancelled")
	}
}
