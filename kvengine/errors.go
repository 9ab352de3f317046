// Package kvengine holds the error kinds, progress, and cancellation types
// shared by pagestore, pagecache, and btree. It has no dependents outside
// this module and no dependencies beyond the standard library, so every
// layer can import it without creating cycles.
package kvengine

import "errors"

// Error kinds. Call sites wrap these with fmt.Errorf("context: %w", ErrX)
// so errors.Is(err, ErrX) keeps working across the call stack, the way the
// teacher's pager package wraps page/WAL errors.
var (
	// ErrInvalidArgument marks an out-of-range offset/length, a buffer of
	// the wrong size, a negative count, an even pair capacity, a pair
	// capacity below 3, or an offset+length overflow.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidOperation marks a write on a read-only instance, a mutation
	// attempted while a traversal is open on the same owner, inflate/deflate
	// on a fixed-capacity instance, an operation on an unallocated page, or
	// a node operation that violates a structural precondition.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrCapacityExhausted marks a failed allocation because capacity is
	// full and fixed, or a safe-resize that cleanly refused. Recoverable:
	// surfaced through a specific operation's return value, not meant to
	// terminate the instance.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrCorruptData marks a structural violation discovered during a read:
	// an invalid flag byte, an out-of-range free-list link, a subtree index
	// out of range, or a codec deserialize failure.
	ErrCorruptData = errors.New("corrupt data")

	// ErrIO marks a failure propagated from the backing store on a
	// mutating path. Callers must treat the instance as unusable for
	// further mutation afterward.
	ErrIO = errors.New("backing store i/o error")
)

// IsCancelled reports whether a long-running operation was asked to stop.
// Cancellation is never an error per spec: callers check this explicitly
// and interpret a partial-progress return value, they do not unwrap it
// with errors.Is.
func IsCancelled(cancel *Cancel) bool {
	return cancel.Get()
}
