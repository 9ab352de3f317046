// Package pagecache implements the write-back page cache layer: a
// bounded LRU cache of whole-page buffers above a pagestore.Storage,
// tracking per-page which byte regions are already populated from disk
// and which are dirty. Grounded in shape on the teacher's PageBufferPool
// (internal/storage/pager/pager.go), generalized from whole-page
// dirty/clean tracking to the sub-page byte-region tracking spec.md §4.2
// requires, via regionSet.
package pagecache

import (
	"fmt"
	"sync"

	"github.com/pagedkv/pagedkv/kvengine"
	"github.com/pagedkv/pagedkv/pagestore"
)

// Mode selects how writes interact with the backing Paged Storage.
type Mode int

const (
	// ReadOnly permits reads only; any write returns ErrInvalidOperation.
	ReadOnly Mode = iota
	// WriteBack buffers writes in the cache and defers them to the
	// backing storage until flush or eviction.
	WriteBack
	// WriteThrough updates the cache buffer and immediately writes
	// through to the backing storage.
	WriteThrough
)

type cachedPage struct {
	index     int64
	buf       []byte
	populated regionSet
	dirty     regionSet
	recency   uint64
}

// Cache is a bounded LRU cache of page buffers over a pagestore.Storage.
type Cache struct {
	mu sync.Mutex

	storage   *pagestore.Storage
	mode      Mode
	capacity  int64
	leaveOpen bool

	pages   map[int64]*cachedPage
	recency uint64

	hits, misses, evictions int64
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLeaveOpen controls whether Cache.Close also closes the underlying
// Storage. Default is to close it, matching the teacher's cascading
// disposal convention.
func WithLeaveOpen(leaveOpen bool) Option {
	return func(c *Cache) { c.leaveOpen = leaveOpen }
}

// New wraps storage with an LRU cache of at most capacity page buffers,
// operating in the given mode.
func New(storage *pagestore.Storage, capacity int64, mode Mode, opts ...Option) *Cache {
	c := &Cache{
		storage:  storage,
		mode:     mode,
		capacity: capacity,
		pages:    make(map[int64]*cachedPage),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PageSize passes through to the underlying storage.
func (c *Cache) PageSize() int64 { return c.storage.PageSize() }

// Capacity passes through to the underlying storage's page-slot
// capacity (not the cache's buffer capacity — see CacheCapacity).
func (c *Cache) Capacity() int64 { return c.storage.Capacity() }

// CacheCapacity returns the maximum number of page buffers this cache
// holds at once.
func (c *Cache) CacheCapacity() int64 { return c.capacity }

// AllocatedCount passes through to the underlying storage.
func (c *Cache) AllocatedCount() int64 { return c.storage.AllocatedCount() }

// EntryPage passes through to the underlying storage.
func (c *Cache) EntryPage() (int64, bool) { return c.storage.EntryPage() }

// SetEntryPage passes through to the underlying storage.
func (c *Cache) SetEntryPage(page int64) error { return c.storage.SetEntryPage(page) }

// ClearEntryPage passes through to the underlying storage.
func (c *Cache) ClearEntryPage() error { return c.storage.ClearEntryPage() }

// IsPageAllocated passes through to the underlying storage.
func (c *Cache) IsPageAllocated(index int64) (bool, error) { return c.storage.IsPageAllocated(index) }

// IsPageOnStorage passes through to the underlying storage.
func (c *Cache) IsPageOnStorage(index int64) bool { return c.storage.IsPageOnStorage(index) }

// Validate passes through to the underlying storage.
func (c *Cache) Validate(progress kvengine.Progress, cancel *kvengine.Cancel) (bool, error) {
	return c.storage.Validate(progress, cancel)
}

// IsPageCached reports whether index currently has a buffer resident in
// the cache.
func (c *Cache) IsPageCached(index int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pages[index]
	return ok
}

// ReadFrom reads len(buf) bytes from page's payload starting at srcOff.
// If the page is cached, missing sub-regions are faulted in from the
// backing storage first. If the page cannot be admitted to the cache
// (capacity 0, or the cache is already full and nothing can be
// evicted), the read bypasses the cache entirely.
func (c *Cache) ReadFrom(page int64, srcOff int64, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	length := int64(len(buf))
	_, resident := c.pages[page]
	cp, ok, err := c.admitLocked(page)
	if err != nil {
		return err
	}
	if !ok {
		c.misses++
		return c.storage.ReadFrom(page, srcOff, buf)
	}
	if resident {
		c.hits++
	} else {
		c.misses++
	}
	for _, m := range cp.populated.missingWithin(srcOff, srcOff+length-1) {
		chunk := make([]byte, m.Last-m.First+1)
		if err := c.storage.ReadFrom(page, m.First, chunk); err != nil {
			return err
		}
		copy(cp.buf[m.First:m.Last+1], chunk)
		cp.populated.add(m.First, m.Last)
	}
	copy(buf, cp.buf[srcOff:srcOff+length])
	c.bumpLocked(cp)
	return nil
}

// WriteTo writes buf into page's payload starting at dstOff. In
// WriteBack mode the cache buffer is updated and the region marked
// dirty, deferring the write to the backing storage. In WriteThrough
// mode the cache buffer is updated and the write is also issued
// immediately to the backing storage. ReadOnly mode rejects all writes.
func (c *Cache) WriteTo(page int64, dstOff int64, buf []byte) error {
	if c.mode == ReadOnly {
		return fmt.Errorf("pagecache: write page %d: %w", page, kvengine.ErrInvalidOperation)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	length := int64(len(buf))
	cp, ok, err := c.admitLocked(page)
	if err != nil {
		return err
	}
	if !ok {
		return c.storage.WriteTo(page, dstOff, buf)
	}
	copy(cp.buf[dstOff:dstOff+length], buf)
	cp.populated.add(dstOff, dstOff+length-1)
	if c.mode == WriteBack {
		cp.dirty.add(dstOff, dstOff+length-1)
	} else { // WriteThrough
		if err := c.storage.WriteTo(page, dstOff, buf); err != nil {
			return err
		}
	}
	c.bumpLocked(cp)
	return nil
}

// admitLocked returns the cachedPage for index, creating and admitting
// it (possibly evicting the LRU victim) if not already resident. It
// returns ok=false when the page cannot be cached at all (capacity 0 or
// every resident page is otherwise unevictable), signalling the caller
// to bypass the cache. An error flushing a dirty victim propagates
// rather than silently discarding the victim's buffered writes.
func (c *Cache) admitLocked(index int64) (*cachedPage, bool, error) {
	if cp, ok := c.pages[index]; ok {
		return cp, true, nil
	}
	if c.capacity <= 0 {
		return nil, false, nil
	}
	if int64(len(c.pages)) >= c.capacity {
		evicted, err := c.evictOneLocked()
		if err != nil {
			return nil, false, err
		}
		if !evicted {
			return nil, false, nil
		}
	}
	cp := &cachedPage{
		index: index,
		buf:   make([]byte, c.storage.PageSize()),
	}
	c.pages[index] = cp
	return cp, true, nil
}

// evictOneLocked evicts the least-recently-used cached page (lowest
// recency counter), flushing its dirty regions first. It returns false
// if there is nothing to evict.
func (c *Cache) evictOneLocked() (bool, error) {
	var victim *cachedPage
	for _, cp := range c.pages {
		if victim == nil || cp.recency < victim.recency {
			victim = cp
		}
	}
	if victim == nil {
		return false, nil
	}
	if err := c.evictLocked(victim); err != nil {
		return false, err
	}
	return true, nil
}

// evictLocked flushes cp's dirty regions to the backing storage and
// drops it from the cache. A flush failure (an IO error on a
// write-back page) must propagate rather than be swallowed: discarding
// the buffer anyway would silently lose writes the caller believes
// already succeeded.
func (c *Cache) evictLocked(cp *cachedPage) error {
	if err := c.flushOneLocked(cp); err != nil {
		return err
	}
	delete(c.pages, cp.index)
	c.evictions++
	return nil
}

func (c *Cache) flushOneLocked(cp *cachedPage) error {
	for _, d := range cp.dirty.regions {
		chunk := cp.buf[d.First : d.Last+1]
		if err := c.storage.WriteTo(cp.index, d.First, chunk); err != nil {
			return err
		}
	}
	cp.dirty = regionSet{}
	return nil
}

func (c *Cache) bumpLocked(cp *cachedPage) {
	c.recency++
	cp.recency = c.recency
}

// EvictPage explicitly evicts index from the cache, flushing any dirty
// regions first. It is a no-op if index is not cached.
func (c *Cache) EvictPage(index int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.pages[index]
	if !ok {
		return nil
	}
	return c.evictLocked(cp)
}

// Flush writes back every dirty region of every cached page, then
// discards all cache entries — a strict barrier: every write issued
// before the call is durable in the backing store when it returns.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushAllLocked()
}

func (c *Cache) flushAllLocked() error {
	for _, cp := range c.pages {
		if err := c.flushOneLocked(cp); err != nil {
			return err
		}
	}
	c.pages = make(map[int64]*cachedPage)
	return nil
}

// TryAllocatePage passes through to the underlying storage.
func (c *Cache) TryAllocatePage() (int64, bool, error) {
	return c.storage.TryAllocatePage()
}

// FreePage evicts (and thus flushes) index before freeing it, so any
// application data the caller has already overwritten is guaranteed to
// reach the backing store before the slot is reused.
func (c *Cache) FreePage(index int64) (bool, error) {
	if err := c.EvictPage(index); err != nil {
		return false, err
	}
	return c.storage.FreePage(index)
}

// TryInflate passes through to the underlying storage.
func (c *Cache) TryInflate(additional int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	return c.storage.TryInflate(additional, progress, cancel)
}

// TryDeflate passes through to the underlying storage, first evicting
// any cached buffers for the trailing pages that might be removed so a
// stale cache entry can never outlive the page slot it describes.
func (c *Cache) TryDeflate(remove int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	c.mu.Lock()
	capacityBefore := c.storage.Capacity()
	for idx := capacityBefore - 1; idx >= 0 && capacityBefore-idx <= remove; idx-- {
		if cp, ok := c.pages[idx]; ok {
			if err := c.evictLocked(cp); err != nil {
				c.mu.Unlock()
				return 0, err
			}
		}
	}
	c.mu.Unlock()
	return c.storage.TryDeflate(remove, progress, cancel)
}

// Compact passes through to the underlying storage's Compact.
func (c *Cache) Compact(maxPages int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	return c.TryDeflate(maxPages, progress, cancel)
}

// Stats returns a diagnostic snapshot combining the underlying storage's
// allocation stats with this cache's hit/miss/eviction counters.
type Stats struct {
	pagestore.Stats
	CacheSize int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns a snapshot of current cache and storage statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Stats:     c.storage.Stats(),
		CacheSize: int64(len(c.pages)),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close flushes every dirty region and, unless WithLeaveOpen(true) was
// set, closes the underlying storage.
func (c *Cache) Close() error {
	c.mu.Lock()
	if err := c.flushAllLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	leaveOpen := c.leaveOpen
	c.mu.Unlock()
	if leaveOpen {
		return nil
	}
	return c.storage.Close()
}
