// Package maintenance runs periodic background upkeep — integrity
// validation and free-space compaction — against a pagestore.Storage or
// pagecache.Cache, on a cron schedule. Grounded on the teacher's job
// Scheduler (internal/storage/scheduler.go), which wraps
// github.com/robfig/cron/v3 the same way: one *cron.Cron, jobs
// registered by cron expression, each run guarded against overlap with
// the previous one.
package maintenance

import (
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/pagedkv/pagedkv/kvengine"
)

// Target is the subset of pagestore.Storage/pagecache.Cache behavior
// maintenance needs: integrity validation and bounded compaction. Both
// types satisfy it without modification.
type Target interface {
	Validate(progress kvengine.Progress, cancel *kvengine.Cancel) (bool, error)
	Compact(maxPages int64, progress kvengine.Progress, cancel *kvengine.Cancel) (int64, error)
}

// Report is delivered to an OnValidate/OnCompact callback after each
// scheduled run.
type Report struct {
	OK    bool
	Freed int64
	Err   error
}

// Scheduler periodically validates and compacts a Target on independent
// cron schedules. Each job is guarded against overlapping with its own
// previous run (no_overlap semantics, per the teacher's executeJob),
// since Validate and Compact are not reentrant-safe against themselves
// on the same target while already running.
type Scheduler struct {
	target Target
	cron   *cron.Cron

	mu               sync.Mutex
	validateRunning  bool
	compactRunning   bool
	compactMaxPages  int64
	onValidateReport func(Report)
	onCompactReport  func(Report)
	cancel           *kvengine.Cancel
}

// New creates a Scheduler over target. It does not start running until
// Start is called.
func New(target Target) *Scheduler {
	return &Scheduler{
		target:          target,
		cron:            cron.New(),
		compactMaxPages: 64,
		cancel:          kvengine.NewCancel(),
	}
}

// OnValidateReport registers a callback invoked after every scheduled
// validation run.
func (s *Scheduler) OnValidateReport(fn func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onValidateReport = fn
}

// OnCompactReport registers a callback invoked after every scheduled
// compaction run.
func (s *Scheduler) OnCompactReport(fn func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCompactReport = fn
}

// ScheduleValidate registers a periodic integrity validation on the
// given standard five-field cron expression.
func (s *Scheduler) ScheduleValidate(cronExpr string) error {
	_, err := s.cron.AddFunc(cronExpr, s.runValidate)
	if err != nil {
		return fmt.Errorf("maintenance: schedule validate %q: %w", cronExpr, err)
	}
	return nil
}

// ScheduleCompact registers a periodic compaction pass that frees at
// most maxPagesPerRun trailing pages each run, on the given standard
// five-field cron expression.
func (s *Scheduler) ScheduleCompact(cronExpr string, maxPagesPerRun int64) error {
	s.mu.Lock()
	s.compactMaxPages = maxPagesPerRun
	s.mu.Unlock()
	_, err := s.cron.AddFunc(cronExpr, s.runCompact)
	if err != nil {
		return fmt.Errorf("maintenance: schedule compact %q: %w", cronExpr, err)
	}
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight job to finish,
// then sets the scheduler's cancellation flag; a job running after that
// sees the flag already set.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cancel.Set()
}

func (s *Scheduler) runValidate() {
	s.mu.Lock()
	if s.validateRunning {
		s.mu.Unlock()
		log.Printf("maintenance: validate already running, skipping")
		return
	}
	s.validateRunning = true
	s.mu.Unlock()

	ok, err := s.target.Validate(nil, s.cancel)

	s.mu.Lock()
	s.validateRunning = false
	cb := s.onValidateReport
	s.mu.Unlock()
	if cb != nil {
		cb(Report{OK: ok, Err: err})
	}
	if err != nil {
		log.Printf("maintenance: validate failed: %v", err)
	}
}

func (s *Scheduler) runCompact() {
	s.mu.Lock()
	if s.compactRunning {
		s.mu.Unlock()
		log.Printf("maintenance: compact already running, skipping")
		return
	}
	s.compactRunning = true
	maxPages := s.compactMaxPages
	s.mu.Unlock()

	freed, err := s.target.Compact(maxPages, nil, s.cancel)

	s.mu.Lock()
	s.compactRunning = false
	cb := s.onCompactReport
	s.mu.Unlock()
	if cb != nil {
		cb(Report{OK: err == nil, Freed: freed, Err: err})
	}
	if err != nil {
		log.Printf("maintenance: compact failed: %v", err)
	}
}
