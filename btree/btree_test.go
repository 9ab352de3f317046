package btree

import (
	"cmp"
	"testing"

	"github.com/pagedkv/pagedkv/backingstore"
	"github.com/pagedkv/pagedkv/codec"
	"github.com/pagedkv/pagedkv/pagecache"
	"github.com/pagedkv/pagedkv/pagestore"
)

func newTestTree(t *testing.T, pairCap int64) *Tree[uint64, uint64] {
	t.Helper()
	keyCodec := codec.Uint64Codec{}
	valueCodec := codec.Uint64Codec{}
	pageSize := RequiredPageSize(pairCap, keyCodec.Size(), valueCodec.Size())
	store := backingstore.NewMemoryStore(backingstore.UnknownMaxSize)
	storage, err := pagestore.Create(store, pageSize, 4, nil, nil, 8)
	if err != nil {
		t.Fatalf("pagestore.Create: %v", err)
	}
	cache := pagecache.New(storage, 64, pagecache.WriteBack)
	tr, _, err := Create[uint64, uint64](cache, pairCap, keyCodec, valueCodec, cmp.Compare[uint64], pairCap)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tr
}

func drainAscending(t *testing.T, tr *Tree[uint64, uint64]) []uint64 {
	t.Helper()
	it, err := tr.Traverse(true)
	if err != nil {
		t.Fatalf("Traverse(true): %v", err)
	}
	var got []uint64
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, k)
	}
	return got
}

func TestTryGetValue_EmptyTree(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, ok, err := tr.TryGetValue(1); err != nil || ok {
		t.Fatalf("TryGetValue on empty tree: ok=%v err=%v", ok, err)
	}
}

func TestInsertAndGet_SingleNode(t *testing.T) {
	tr := newTestTree(t, 5)
	for _, k := range []uint64{3, 1, 4} {
		inserted, err := tr.Insert(k, k*10, false)
		if err != nil || !inserted {
			t.Fatalf("Insert(%d): inserted=%v err=%v", k, inserted, err)
		}
	}
	for _, k := range []uint64{3, 1, 4} {
		v, ok, err := tr.TryGetValue(k)
		if err != nil || !ok || v != k*10 {
			t.Fatalf("TryGetValue(%d) = (%d,%v,%v), want (%d,true,nil)", k, v, ok, err, k*10)
		}
	}
	if tr.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", tr.Count())
	}
}

func TestInsert_NoUpdateLeavesExistingValue(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, err := tr.Insert(1, 100, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	inserted, err := tr.Insert(1, 999, false)
	if err != nil || inserted {
		t.Fatalf("Insert duplicate without update: inserted=%v err=%v", inserted, err)
	}
	v, _, err := tr.TryGetValue(1)
	if err != nil || v != 100 {
		t.Fatalf("TryGetValue(1) = %d, want 100 (unchanged)", v)
	}
}

func TestInsert_UpdateOverwritesValue(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, err := tr.Insert(1, 100, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tr.Insert(1, 999, true); err != nil {
		t.Fatalf("Insert update: %v", err)
	}
	v, _, err := tr.TryGetValue(1)
	if err != nil || v != 999 {
		t.Fatalf("TryGetValue(1) = %d, want 999", v)
	}
	if tr.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (update must not grow count)", tr.Count())
	}
}

func TestInsert_CausesRootSplit(t *testing.T) {
	tr := newTestTree(t, 3)
	// cap 3: inserting a 4th key must split the root.
	for i := uint64(1); i <= 4; i++ {
		if _, err := tr.Insert(i, i, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	leaf, err := tr.nodeIsLeaf(tr.root)
	if err != nil {
		t.Fatalf("nodeIsLeaf: %v", err)
	}
	if leaf {
		t.Fatal("expected root to have split into an internal node")
	}
	got := drainAscending(t, tr)
	want := []uint64{1, 2, 3, 4}
	assertUint64Slice(t, got, want)
}

func TestInsert_CascadingMultiLevelSplits(t *testing.T) {
	tr := newTestTree(t, 3)
	const n = 40
	for i := uint64(0); i < n; i++ {
		if _, err := tr.Insert(i, i*2, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if tr.Count() != n {
		t.Fatalf("Count() = %d, want %d", tr.Count(), n)
	}
	for i := uint64(0); i < n; i++ {
		v, ok, err := tr.TryGetValue(i)
		if err != nil || !ok || v != i*2 {
			t.Fatalf("TryGetValue(%d) = (%d,%v,%v), want (%d,true,nil)", i, v, ok, err, i*2)
		}
	}
	got := drainAscending(t, tr)
	if len(got) != n {
		t.Fatalf("traversal length = %d, want %d", len(got), n)
	}
	for i, k := range got {
		if k != uint64(i) {
			t.Fatalf("traversal[%d] = %d, want %d", i, k, i)
		}
	}
}

func TestRemove_FromLeafNoUnderflow(t *testing.T) {
	tr := newTestTree(t, 5)
	for _, k := range []uint64{1, 2, 3, 4, 5} {
		if _, err := tr.Insert(k, k, false); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	removed, err := tr.Remove(3)
	if err != nil || !removed {
		t.Fatalf("Remove(3): removed=%v err=%v", removed, err)
	}
	if _, ok, err := tr.TryGetValue(3); err != nil || ok {
		t.Fatalf("TryGetValue(3) after removal: ok=%v err=%v", ok, err)
	}
	if tr.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", tr.Count())
	}
}

func TestRemove_NonExistentKey(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, err := tr.Insert(1, 1, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	removed, err := tr.Remove(99)
	if err != nil || removed {
		t.Fatalf("Remove(99): removed=%v err=%v, want false,nil", removed, err)
	}
}

func TestRemove_CollapsesLeafRoot(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, err := tr.Insert(1, 1, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	removed, err := tr.Remove(1)
	if err != nil || !removed {
		t.Fatalf("Remove(1): removed=%v err=%v", removed, err)
	}
	if !tr.IsEmpty() {
		t.Fatal("expected tree to be empty after removing its only key")
	}
	if tr.root != NoPage {
		t.Fatalf("root = %d, want NoPage after emptying tree", tr.root)
	}
}

func TestRemove_CollapsesInternalRoot(t *testing.T) {
	tr := newTestTree(t, 3)
	for i := uint64(1); i <= 4; i++ {
		if _, err := tr.Insert(i, i, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// Root is now internal with one separator key. Remove three of the
	// four keys, forcing the root to collapse back down to a single leaf.
	for _, k := range []uint64{1, 2, 4} {
		if _, err := tr.Remove(k); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
	}
	if tr.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", tr.Count())
	}
	got := drainAscending(t, tr)
	assertUint64Slice(t, got, []uint64{3})
}

func TestRemove_BorrowAndMergeAcrossSubtree(t *testing.T) {
	tr := newTestTree(t, 3)
	const n = 30
	for i := uint64(0); i < n; i++ {
		if _, err := tr.Insert(i, i, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// Remove every even key, which forces a mix of borrows and merges as
	// siblings drop below minFill.
	removedCount := 0
	for i := uint64(0); i < n; i += 2 {
		removed, err := tr.Remove(i)
		if err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
		if removed {
			removedCount++
		}
	}
	want := []uint64{}
	for i := uint64(1); i < n; i += 2 {
		want = append(want, i)
	}
	if int(tr.Count()) != len(want) {
		t.Fatalf("Count() = %d, want %d", tr.Count(), len(want))
	}
	got := drainAscending(t, tr)
	assertUint64Slice(t, got, want)
	for _, k := range want {
		if ok, err := tr.ContainsKey(k); err != nil || !ok {
			t.Fatalf("ContainsKey(%d) = %v,%v, want true,nil", k, ok, err)
		}
	}
	for i := uint64(0); i < n; i += 2 {
		if ok, err := tr.ContainsKey(i); err != nil || ok {
			t.Fatalf("ContainsKey(%d) = %v,%v, want false,nil", i, ok, err)
		}
	}
}

func TestRemove_InternalNodeKeyViaSuccessorAndMerge(t *testing.T) {
	tr := newTestTree(t, 3)
	for i := uint64(1); i <= 7; i++ {
		if _, err := tr.Insert(i, i, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// The root is now [2,4] over leaves [1], [3], [5,6,7]. Removing 4
	// replaces it with its successor 5; removing 2 merges [1] and [3]
	// through the root; removing 6 is a plain leaf removal.
	for _, k := range []uint64{4, 2, 6} {
		if _, err := tr.Remove(k); err != nil {
			t.Fatalf("Remove(%d): %v", k, err)
		}
	}
	want := []uint64{1, 3, 5, 7}
	got := drainAscending(t, tr)
	assertUint64Slice(t, got, want)
}

func TestRemove_MergeDoesNotCorruptSurvivingValues(t *testing.T) {
	// Regression test: a merge of two minimum-fill siblings must not
	// write more pairs into the left node than its page has room for.
	// Checking values (not just traversal key order) catches the case
	// where an overflowing merge silently overwrites the values/subtree
	// regions of the node.
	tr := newTestTree(t, 3)
	for i := uint64(1); i <= 7; i++ {
		if _, err := tr.Insert(i, i*100, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// The root is [2,4] over leaves [1], [3], [5,6,7]; removing 1 merges
	// the two minimum-fill leaves [1] and [3] through separator 2.
	if _, err := tr.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	want := []uint64{2, 3, 4, 5, 6, 7}
	for _, k := range want {
		v, ok, err := tr.TryGetValue(k)
		if err != nil || !ok || v != k*100 {
			t.Fatalf("TryGetValue(%d) = (%d,%v,%v), want (%d,true,nil)", k, v, ok, err, k*100)
		}
	}
	if ok, err := tr.ContainsKey(1); err != nil || ok {
		t.Fatalf("ContainsKey(1) = %v,%v, want false,nil", ok, err)
	}
	got := drainAscending(t, tr)
	assertUint64Slice(t, got, want)
}

func TestTraverse_Descending(t *testing.T) {
	tr := newTestTree(t, 3)
	for i := uint64(0); i < 10; i++ {
		if _, err := tr.Insert(i, i, false); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	it, err := tr.Traverse(false)
	if err != nil {
		t.Fatalf("Traverse(false): %v", err)
	}
	var got []uint64
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, k)
	}
	want := []uint64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}
	assertUint64Slice(t, got, want)
}

func TestTraverse_RejectsMutationUntilClosed(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, err := tr.Insert(1, 1, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	it, err := tr.Traverse(true)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if _, err := tr.Insert(2, 2, false); err == nil {
		t.Fatal("expected Insert to be rejected while a traversal is open")
	}
	if _, err := tr.Remove(1); err == nil {
		t.Fatal("expected Remove to be rejected while a traversal is open")
	}
	it.Close()
	if _, err := tr.Insert(2, 2, false); err != nil {
		t.Fatalf("Insert after Close: %v", err)
	}
}

func TestTraverse_ExhaustionClosesIteratorAutomatically(t *testing.T) {
	tr := newTestTree(t, 3)
	if _, err := tr.Insert(1, 1, false); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	it, err := tr.Traverse(true)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	for {
		_, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
	}
	if _, err := tr.Insert(2, 2, false); err != nil {
		t.Fatalf("Insert after traversal exhausted itself: %v", err)
	}
}

func TestRequiredPageSizeAndMaxCapacityFor_RoundTrip(t *testing.T) {
	for _, cap := range []int64{3, 5, 7, 9, 31} {
		size := RequiredPageSize(cap, 8, 8)
		got := MaxCapacityFor(size, 8, 8)
		if got != cap {
			t.Fatalf("MaxCapacityFor(RequiredPageSize(%d,8,8),8,8) = %d, want %d", cap, got, cap)
		}
	}
}

func assertUint64Slice(t *testing.T, got, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
