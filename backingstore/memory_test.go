package backingstore

import (
	"bytes"
	"testing"
)

func TestMemoryStore_WriteReadRoundTrip(t *testing.T) {
	s := NewMemoryStore(UnknownMaxSize)
	if err := s.SetLen(64); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	want := []byte("hello, paged kv")
	if err := s.WriteAt(8, want); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, len(want))
	if err := s.ReadAt(8, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
}

func TestMemoryStore_TrySetSizeGrowAndShrink(t *testing.T) {
	s := NewMemoryStore(UnknownMaxSize)
	ok, err := s.TrySetSize(128)
	if err != nil || !ok {
		t.Fatalf("grow: ok=%v err=%v", ok, err)
	}
	n, err := s.Len()
	if err != nil || n != 128 {
		t.Fatalf("Len after grow: %d, %v", n, err)
	}
	ok, err = s.TrySetSize(16)
	if err != nil || !ok {
		t.Fatalf("shrink: ok=%v err=%v", ok, err)
	}
	n, err = s.Len()
	if err != nil || n != 16 {
		t.Fatalf("Len after shrink: %d, %v", n, err)
	}
}

func TestMemoryStore_TrySetSizeRefusesOverMax(t *testing.T) {
	s := NewMemoryStore(32)
	ok, err := s.TrySetSize(64)
	if err != nil {
		t.Fatalf("TrySetSize: %v", err)
	}
	if ok {
		t.Fatal("expected TrySetSize to refuse growth beyond max size")
	}
	n, err := s.Len()
	if err != nil || n != 0 {
		t.Fatalf("refused resize must leave length unchanged: %d, %v", n, err)
	}
}

func TestMemoryStore_ReadWriteOutOfBounds(t *testing.T) {
	s := NewMemoryStore(UnknownMaxSize)
	if err := s.SetLen(8); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	if err := s.ReadAt(4, make([]byte, 8)); err == nil {
		t.Fatal("expected error reading past end of store")
	}
	if err := s.WriteAt(-1, make([]byte, 1)); err == nil {
		t.Fatal("expected error writing at negative offset")
	}
}
