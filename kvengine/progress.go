package kvengine

import "sync/atomic"

// UnknownTarget is passed as the target of a Progress report when the
// total amount of work is not known in advance.
const UnknownTarget int64 = -1

// Progress receives (current, target) reports from long-running
// operations (create, validate, try_inflate, try_deflate). target is
// UnknownTarget when the total is not known up front. A nil Progress is
// valid and simply receives no reports.
type Progress func(current, target int64)

// report is a nil-safe helper so call sites never need to guard p != nil.
func (p Progress) report(current, target int64) {
	if p != nil {
		p(current, target)
	}
}

// Report is the exported form of report, for use by other packages in
// this module (pagestore, pagecache, btree) that hold a kvengine.Progress
// value rather than a bare func.
func Report(p Progress, current, target int64) {
	p.report(current, target)
}

// Cancel is a cooperative cancellation flag, checked at safe checkpoints
// between completed pages or completed resize increments. It is safe for
// concurrent use: one goroutine may call Set while another polls Get.
// This models the spec's "cancellation signal, not cancellable tasks" —
// no concurrency runtime is required.
type Cancel struct {
	flag atomic.Bool
}

// NewCancel returns a Cancel that has not fired.
func NewCancel() *Cancel {
	return &Cancel{}
}

// Set requests cancellation. Idempotent.
func (c *Cancel) Set() {
	if c == nil {
		return
	}
	c.flag.Store(true)
}

// Get reports whether cancellation has been requested. A nil *Cancel
// behaves as never-cancelled, so callers may pass nil freely.
func (c *Cancel) Get() bool {
	if c == nil {
		return false
	}
	return c.flag.Load()
}
