package btree

import (
	"fmt"

	"github.com/pagedkv/pagedkv/codec"
	"github.com/pagedkv/pagedkv/kvengine"
	"github.com/pagedkv/pagedkv/pagecache"
)

// Create allocates a fresh metadata page on cache and returns a new,
// empty Tree backed by it. The caller is responsible for remembering
// the returned metadata page index (e.g. as the cache's entry page) in
// order to Open the same tree later.
//
// pairCap is the number of key/value pairs (and, for internal nodes,
// cap+1 subtree pointers) each node holds; it must be odd and >= 3, and
// together with the codecs' sizes must add up to exactly cache's page
// size (see RequiredPageSize). maxMovePairCount bounds the size of the
// fixed scratch buffer the tree allocates once, up front, for split and
// merge moves — it must be in [1, pairCap].
func Create[K any, V any](cache *pagecache.Cache, pairCap int64, keyCodec codec.Codec[K], valueCodec codec.Codec[V], cmp Comparator[K], maxMovePairCount int64) (*Tree[K, V], int64, error) {
	if err := validateShape(cache.PageSize(), pairCap, keyCodec.Size(), valueCodec.Size(), maxMovePairCount); err != nil {
		return nil, 0, err
	}
	metaPage, err := allocatePage(cache, nil, nil)
	if err != nil {
		return nil, 0, err
	}
	t := newTree(cache, metaPage, pairCap, keyCodec, valueCodec, cmp, maxMovePairCount)
	if err := t.writeMetaLocked(); err != nil {
		return nil, 0, err
	}
	return t, metaPage, nil
}

// Open reattaches to a tree whose metadata page was previously created
// by Create at metaPage. The caller must supply the same pairCap,
// codecs and maxMovePairCount used at creation — the tree does not
// persist its own shape, only its pair count and root pointer.
func Open[K any, V any](cache *pagecache.Cache, metaPage int64, pairCap int64, keyCodec codec.Codec[K], valueCodec codec.Codec[V], cmp Comparator[K], maxMovePairCount int64) (*Tree[K, V], error) {
	if err := validateShape(cache.PageSize(), pairCap, keyCodec.Size(), valueCodec.Size(), maxMovePairCount); err != nil {
		return nil, err
	}
	if !cache.IsPageOnStorage(metaPage) {
		return nil, fmt.Errorf("btree: open: metadata page %d out of range: %w", metaPage, kvengine.ErrInvalidArgument)
	}
	t := newTree(cache, metaPage, pairCap, keyCodec, valueCodec, cmp, maxMovePairCount)
	if err := t.readMetaLocked(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree[K, V]) readMetaLocked() error {
	buf := make([]byte, 16)
	if err := t.cache.ReadFrom(t.metaPage, metaOffCount, buf); err != nil {
		return err
	}
	t.count = decodeInt64(buf[:8])
	t.root = decodeInt64(buf[8:])
	if t.count < 0 || t.root < NoPage {
		return fmt.Errorf("btree: metadata page %d: %w: count=%d root=%d", t.metaPage, kvengine.ErrCorruptData, t.count, t.root)
	}
	return nil
}

func (t *Tree[K, V]) writeMetaLocked() error {
	buf := make([]byte, 16)
	encodeInt64(buf[:8], t.count)
	encodeInt64(buf[8:], t.root)
	return t.cache.WriteTo(t.metaPage, metaOffCount, buf)
}

// ReadAux reads len(buf) bytes from the application-defined auxiliary
// region of the metadata page, starting at srcOff.
func (t *Tree[K, V]) ReadAux(srcOff int64, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.ReadFrom(t.metaPage, metaAuxStart+srcOff, buf)
}

// WriteAux writes buf into the application-defined auxiliary region of
// the metadata page, starting at dstOff.
func (t *Tree[K, V]) WriteAux(dstOff int64, buf []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.WriteTo(t.metaPage, metaAuxStart+dstOff, buf)
}

// allocatePage allocates a page from cache, inflating the underlying
// storage by a single page if the free list is exhausted — spec.md's
// resolved capacity-exhaustion behavior: grow by exactly one page
// rather than a larger batch, since the tree has no way to predict how
// many pages a given operation will ultimately need.
func allocatePage(cache *pagecache.Cache, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	page, ok, err := cache.TryAllocatePage()
	if err != nil {
		return 0, err
	}
	if ok {
		return page, nil
	}
	if _, err := cache.TryInflate(1, progress, cancel); err != nil {
		return 0, err
	}
	page, ok, err = cache.TryAllocatePage()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("btree: allocate page: %w", kvengine.ErrCapacityExhausted)
	}
	return page, nil
}

// newNode allocates and initializes a fresh node page: pair count 0,
// the given leaf flag, and every subtree slot set to NoPage.
func (t *Tree[K, V]) newNode(leaf bool) (int64, error) {
	page, err := allocatePage(t.cache, nil, nil)
	if err != nil {
		return 0, err
	}
	if err := t.nodeSetLeaf(page, leaf); err != nil {
		return 0, err
	}
	if err := t.nodeSetPairCount(page, 0); err != nil {
		return 0, err
	}
	for i := int64(0); i <= t.cap; i++ {
		if err := t.nodeSetSubtree(page, i, NoPage); err != nil {
			return 0, err
		}
	}
	return page, nil
}
