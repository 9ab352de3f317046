// Package backingstore defines the random-access byte container contract
// consumed by pagestore, and ships two concrete implementations: a disk
// file and an in-memory buffer. The contract mirrors spec.md §6's backing
// store interface, generalized from the teacher's disk/memory backend
// split (internal/storage/backend_disk.go, backend_memory.go).
package backingstore

// UnknownMaxSize is returned by MaxSize when the implementation has no
// fixed ceiling on container length.
const UnknownMaxSize int64 = -1

// Store is the external byte container a Paged Storage is built on. All
// offsets and lengths are in bytes, measured from the start of the
// container.
type Store interface {
	// Len returns the current container length in bytes.
	Len() (int64, error)

	// SetLen grows or shrinks the container to exactly n bytes. It may
	// fail, and a failure may leave content and/or length altered
	// ("corrupting" per spec.md §4.1/§7) — callers treat any error from
	// SetLen as a potentially-corrupting Io error. Callers prefer
	// SafeResizer.TrySetSize when a Store implements it.
	SetLen(n int64) error

	// ReadAt reads len(buf) bytes starting at offset into buf.
	ReadAt(offset int64, buf []byte) error

	// WriteAt writes buf starting at offset, then flushes the container
	// before returning, so a successful WriteAt is durable.
	WriteAt(offset int64, buf []byte) error

	// MaxSize returns a ceiling on container length, or UnknownMaxSize if
	// none is known.
	MaxSize() int64
}

// SafeResizer is an optional capability a Store may implement: a resize
// that either succeeds atomically or leaves content and length
// completely unchanged. pagestore type-asserts for this interface and
// prefers it over SetLen when present, per spec.md §4.1's fail-safe
// contract for resizing.
type SafeResizer interface {
	// TrySetSize attempts to resize to exactly n bytes. On success it
	// returns (true, nil) and the container is exactly n bytes long (new
	// tail bytes on growth are undefined). On a clean refusal it returns
	// (false, nil) and the container is unchanged. A non-nil error means
	// the attempt may have corrupted the container, same as SetLen.
	TrySetSize(n int64) (bool, error)
}
