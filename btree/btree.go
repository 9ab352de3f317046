// Package btree implements the classic fixed-capacity B-tree described
// in spec.md §4.3: keys, values and (for internal nodes) subtree page
// pointers are all fixed-size records laid out directly in page
// buffers borrowed from a pagecache.Cache, with an application-supplied
// comparator and pair of codecs. Grounded in shape on the teacher's
// btree index pages (internal/storage/pager/btree_page.go,
// internal/storage/pager/btree.go) — the wrap-a-page-as-a-typed-view
// idiom and find_in_node binary search carry over; the node's internal
// layout and the rebalancing algorithms are generalized from the
// teacher's variable-length B+Tree-with-overflow-pages design to the
// spec's fixed-record classic B-tree.
package btree

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pagedkv/pagedkv/codec"
	"github.com/pagedkv/pagedkv/kvengine"
	"github.com/pagedkv/pagedkv/pagecache"
	"github.com/pagedkv/pagedkv/pagestore"
)

// NoPage mirrors pagestore.NoPage for subtree pointers and the root
// pointer: "no page" in a nullable page-index field.
const NoPage = pagestore.NoPage

// Comparator orders two keys: negative if a<b, zero if equal, positive
// if a>b. The tree never compares keys any other way, so an application
// may order keys however it likes (numeric, lexicographic, reversed).
type Comparator[K any] func(a, b K) int

// node page layout, per spec.md §4.3's node record:
//
//	offset 0:            is_leaf flag (1 byte, 0x00 or 0xFF)
//	offset 1:             pair_count (8 bytes LE)
//	offset 9:             keys[0..cap)         cap*keySize bytes
//	offset 9+cap*keySize: values[0..cap)       cap*valueSize bytes
//	offset ...:           subtrees[0..cap]     (cap+1)*8 bytes
//
// Every node page physically carries the subtree region regardless of
// whether it is a leaf, so a node can be repurposed from leaf to
// internal (and back) without reallocation — leaves simply never read
// or trust that region.
const (
	nodeOffIsLeaf    = 0
	nodeOffPairCount = 1
	nodeKeysOffset   = 9
)

func nodeValuesOffset(cap, keySize int64) int64 { return nodeKeysOffset + cap*keySize }
func nodeSubtreesOffset(cap, keySize, valueSize int64) int64 {
	return nodeValuesOffset(cap, keySize) + cap*valueSize
}

// RequiredPageSize returns the page payload size a node of the given
// pair capacity, key size and value size needs.
func RequiredPageSize(cap, keySize, valueSize int64) int64 {
	return nodeSubtreesOffset(cap, keySize, valueSize) + 8*(cap+1)
}

// MaxCapacityFor returns the largest odd pair capacity >= 3 whose
// RequiredPageSize fits within pageSize, or 0 if none fits.
func MaxCapacityFor(pageSize, keySize, valueSize int64) int64 {
	unit := keySize + valueSize + 8
	if unit <= 0 {
		return 0
	}
	c := (pageSize - nodeKeysOffset - 8) / unit
	if c < 0 {
		return 0
	}
	if c%2 == 0 {
		c--
	}
	if c < 3 {
		return 0
	}
	return c
}

// metadata page layout:
//
//	offset 0:  pair count across the whole tree (8 bytes LE)
//	offset 8:  root page index, NoPage if the tree is empty (8 bytes LE)
//	offset 16: application-defined auxiliary region, to the end of page
const (
	metaOffCount = 0
	metaOffRoot  = 8
	metaAuxStart = 16
)

// Tree is a B-tree of fixed-size key/value pairs stored across pages of
// a pagecache.Cache.
type Tree[K any, V any] struct {
	mu sync.Mutex

	cache    *pagecache.Cache
	metaPage int64

	cap       int64 // pair capacity per node, odd, >= 3
	minFill   int64 // floor(cap/2): minimum pairs per non-root node
	keySize   int64
	valueSize int64

	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]
	cmp        Comparator[K]

	maxMovePairCount int64
	scratch          []byte // reused scratch buffer for all chunked node-to-node moves

	count int64
	root  int64 // NoPage if empty

	openTraversals int
}

// minFillFor returns the minimum pair count a non-root node may hold:
// floor(cap/2), matching what splitChild actually produces (the median
// index is cap/2, leaving cap/2 pairs in the left child). Using
// ceil(cap/2) instead would let two minimum-fill siblings merge into
// more pairs than a node's page layout has room for.
func minFillFor(cap int64) int64 { return cap / 2 }

func validateShape(pageSize, cap, keySize, valueSize, maxMovePairCount int64) error {
	if cap < 3 || cap%2 == 0 {
		return fmt.Errorf("btree: pair capacity %d must be odd and >= 3: %w", cap, kvengine.ErrInvalidArgument)
	}
	if keySize <= 0 || valueSize <= 0 {
		return fmt.Errorf("btree: key/value sizes must be positive: %w", kvengine.ErrInvalidArgument)
	}
	if RequiredPageSize(cap, keySize, valueSize) != pageSize {
		return fmt.Errorf("btree: pair capacity %d with key size %d and value size %d needs page size %d, cache has %d: %w",
			cap, keySize, valueSize, RequiredPageSize(cap, keySize, valueSize), pageSize, kvengine.ErrInvalidArgument)
	}
	if maxMovePairCount < 1 || maxMovePairCount > cap {
		return fmt.Errorf("btree: max move pair count %d must be in [1,%d]: %w", maxMovePairCount, cap, kvengine.ErrInvalidArgument)
	}
	return nil
}

func newTree[K any, V any](cache *pagecache.Cache, metaPage, cap int64, keyCodec codec.Codec[K], valueCodec codec.Codec[V], cmp Comparator[K], maxMovePairCount int64) *Tree[K, V] {
	width := keyCodec.Size()
	if valueCodec.Size() > width {
		width = valueCodec.Size()
	}
	if int64(8) > width {
		width = 8
	}
	return &Tree[K, V]{
		cache:            cache,
		metaPage:         metaPage,
		cap:              cap,
		minFill:          minFillFor(cap),
		keySize:          keyCodec.Size(),
		valueSize:        valueCodec.Size(),
		keyCodec:         keyCodec,
		valueCodec:       valueCodec,
		cmp:              cmp,
		maxMovePairCount: maxMovePairCount,
		scratch:          make([]byte, maxMovePairCount*width),
		root:             NoPage,
	}
}

// Count returns the number of key/value pairs currently stored.
func (t *Tree[K, V]) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// IsEmpty reports whether the tree has no pairs.
func (t *Tree[K, V]) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root == NoPage
}

// Cap returns the configured pair capacity per node.
func (t *Tree[K, V]) Cap() int64 { return t.cap }

// --- node field accessors -------------------------------------------------

func (t *Tree[K, V]) nodeIsLeaf(page int64) (bool, error) {
	buf := make([]byte, 1)
	if err := t.cache.ReadFrom(page, nodeOffIsLeaf, buf); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

func (t *Tree[K, V]) nodeSetLeaf(page int64, leaf bool) error {
	v := byte(0x00)
	if leaf {
		v = 0xFF
	}
	return t.cache.WriteTo(page, nodeOffIsLeaf, []byte{v})
}

func (t *Tree[K, V]) nodePairCount(page int64) (int64, error) {
	buf := make([]byte, 8)
	if err := t.cache.ReadFrom(page, nodeOffPairCount, buf); err != nil {
		return 0, err
	}
	return decodeInt64(buf), nil
}

func (t *Tree[K, V]) nodeSetPairCount(page, n int64) error {
	buf := make([]byte, 8)
	encodeInt64(buf, n)
	return t.cache.WriteTo(page, nodeOffPairCount, buf)
}

func (t *Tree[K, V]) nodeKeyBytes(page, i int64) ([]byte, error) {
	buf := make([]byte, t.keySize)
	off := nodeKeysOffset + i*t.keySize
	if err := t.cache.ReadFrom(page, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *Tree[K, V]) nodeSetKeyBytes(page, i int64, buf []byte) error {
	off := nodeKeysOffset + i*t.keySize
	return t.cache.WriteTo(page, off, buf)
}

func (t *Tree[K, V]) nodeValueBytes(page, i int64) ([]byte, error) {
	buf := make([]byte, t.valueSize)
	off := nodeValuesOffset(t.cap, t.keySize) + i*t.valueSize
	if err := t.cache.ReadFrom(page, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *Tree[K, V]) nodeSetValueBytes(page, i int64, buf []byte) error {
	off := nodeValuesOffset(t.cap, t.keySize) + i*t.valueSize
	return t.cache.WriteTo(page, off, buf)
}

func (t *Tree[K, V]) nodeSubtree(page, i int64) (int64, error) {
	buf := make([]byte, 8)
	off := nodeSubtreesOffset(t.cap, t.keySize, t.valueSize) + i*8
	if err := t.cache.ReadFrom(page, off, buf); err != nil {
		return 0, err
	}
	return decodeInt64(buf), nil
}

func (t *Tree[K, V]) nodeSetSubtree(page, i, v int64) error {
	buf := make([]byte, 8)
	encodeInt64(buf, v)
	off := nodeSubtreesOffset(t.cap, t.keySize, t.valueSize) + i*8
	return t.cache.WriteTo(page, off, buf)
}

func (t *Tree[K, V]) nodeKey(page, i int64) (K, error) {
	var zero K
	buf, err := t.nodeKeyBytes(page, i)
	if err != nil {
		return zero, err
	}
	return t.keyCodec.Deserialize(buf)
}

func (t *Tree[K, V]) nodeSetKey(page, i int64, k K) error {
	buf := make([]byte, t.keySize)
	t.keyCodec.Serialize(k, buf)
	return t.nodeSetKeyBytes(page, i, buf)
}

func (t *Tree[K, V]) nodeValue(page, i int64) (V, error) {
	var zero V
	buf, err := t.nodeValueBytes(page, i)
	if err != nil {
		return zero, err
	}
	return t.valueCodec.Deserialize(buf)
}

func (t *Tree[K, V]) nodeSetValue(page, i int64, v V) error {
	buf := make([]byte, t.valueSize)
	t.valueCodec.Serialize(v, buf)
	return t.nodeSetValueBytes(page, i, buf)
}

// findInNode returns the index of key within page's pairCount keys if
// present (found=true), otherwise the index of the first key greater
// than key — the subtree slot to descend into, or the insertion point.
func (t *Tree[K, V]) findInNode(page int64, pairCount int64, key K) (idx int64, found bool, err error) {
	lo, hi := int64(0), pairCount
	for lo < hi {
		mid := lo + (hi-lo)/2
		k, err := t.nodeKey(page, mid)
		if err != nil {
			return 0, false, err
		}
		c := t.cmp(key, k)
		switch {
		case c == 0:
			return mid, true, nil
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

func decodeInt64(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

func encodeInt64(buf []byte, v int64) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}
