package kvengine

import "testing"

func TestCancel_NilIsNeverCancelled(t *testing.T) {
	var c *Cancel
	if c.Get() {
		t.Fatal("nil *Cancel must report not cancelled")
	}
	c.Set() // must not panic
}

func TestCancel_SetThenGet(t *testing.T) {
	c := NewCancel()
	if c.Get() {
		t.Fatal("fresh Cancel must report not cancelled")
	}
	c.Set()
	if !c.Get() {
		t.Fatal("Cancel must report cancelled after Set")
	}
}

func TestReport_NilProgressDoesNotPanic(t *testing.T) {
	var p Progress
	Report(p, 1, 10) // must not panic
}

func TestReport_DeliversValues(t *testing.T) {
	var gotCurrent, gotTarget int64 = -99, -99
	p := Progress(func(current, target int64) {
		gotCurrent, gotTarget = current, target
	})
	Report(p, 3, UnknownTarget)
	if gotCurrent != 3 || gotTarget != UnknownTarget {
		t.Fatalf("got (%d,%d), want (3,%d)", gotCurrent, gotTarget, UnknownTarget)
	}
}
