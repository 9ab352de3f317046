package maintenance

import (
	"errors"
	"sync"
	"testing"

	"github.com/pagedkv/pagedkv/kvengine"
)

// fakeTarget is a minimal Target whose Validate/Compact block until
// released, so tests can exercise the overlap guard deterministically
// without relying on cron timing.
type fakeTarget struct {
	mu        sync.Mutex
	block     chan struct{}
	validateN int
	compactN  int
	validateErr error
	compactFreed int64
	compactErr   error
}

func (f *fakeTarget) Validate(progress kvengine.Progress, cancel *kvengine.Cancel) (bool, error) {
	f.mu.Lock()
	f.validateN++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.validateErr == nil, f.validateErr
}

func (f *fakeTarget) Compact(maxPages int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error) {
	f.mu.Lock()
	f.compactN++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.compactFreed, f.compactErr
}

func TestScheduler_RunValidateDeliversReport(t *testing.T) {
	target := &fakeTarget{}
	s := New(target)
	reports := make(chan Report, 1)
	s.OnValidateReport(func(r Report) { reports <- r })

	s.runValidate()

	select {
	case r := <-reports:
		if !r.OK || r.Err != nil {
			t.Fatalf("report = %+v, want OK=true Err=nil", r)
		}
	default:
		t.Fatal("expected a report to be delivered")
	}
	if target.validateN != 1 {
		t.Fatalf("validateN = %d, want 1", target.validateN)
	}
}

func TestScheduler_RunValidateSkipsOverlap(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	s := New(target)
	done := make(chan struct{})
	go func() {
		s.runValidate()
		close(done)
	}()
	// Wait until the first run has entered Validate and is blocked.
	for {
		target.mu.Lock()
		n := target.validateN
		target.mu.Unlock()
		if n == 1 {
			break
		}
	}
	// A second run while the first is in flight must be skipped, not queued.
	s.runValidate()
	if target.validateN != 1 {
		t.Fatalf("validateN = %d, want 1 (overlap must be skipped)", target.validateN)
	}
	close(target.block)
	<-done
}

func TestScheduler_RunCompactDeliversFreedCount(t *testing.T) {
	target := &fakeTarget{compactFreed: 7}
	s := New(target)
	reports := make(chan Report, 1)
	s.OnCompactReport(func(r Report) { reports <- r })

	s.runCompact()

	r := <-reports
	if !r.OK || r.Freed != 7 || r.Err != nil {
		t.Fatalf("report = %+v, want OK=true Freed=7 Err=nil", r)
	}
}

func TestScheduler_RunCompactReportsError(t *testing.T) {
	wantErr := errors.New("boom")
	target := &fakeTarget{compactErr: wantErr}
	s := New(target)
	reports := make(chan Report, 1)
	s.OnCompactReport(func(r Report) { reports <- r })

	s.runCompact()

	r := <-reports
	if r.OK || !errors.Is(r.Err, wantErr) {
		t.Fatalf("report = %+v, want OK=false Err=%v", r, wantErr)
	}
}

func TestScheduler_ScheduleRejectsBadCronExpression(t *testing.T) {
	s := New(&fakeTarget{})
	if err := s.ScheduleValidate("not a cron expr"); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
	if err := s.ScheduleCompact("also not valid", 10); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(&fakeTarget{})
	if err := s.ScheduleValidate("@every 1h"); err != nil {
		t.Fatalf("ScheduleValidate: %v", err)
	}
	s.Start()
	s.Stop() // must return without blocking forever
}
