// Package scheduler keeps the caches warm in the background: the practitioner
// directory, the events of the current padded month and this year's and next
// year's holidays.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agendacal/internal/directory"
	"agendacal/internal/eventcache"
	"agendacal/internal/holidays"
	appLog "agendacal/internal/log"
)

// Warmer runs one refresh pass. Each step is skipped when its component is
// nil.
type Warmer struct {
	Cache     *eventcache.Coordinator
	Directory *directory.Cache
	Holidays  *holidays.Cache
	Now       func() time.Time
}

// Result summarizes a pass.
type Result struct {
	Events        int
	Practitioners int
	Errors        []error
}

// Run refreshes every configured cache once.
func (w *Warmer) Run(ctx context.Context) Result {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	var res Result

	if w.Directory != nil {
		list, err := w.Directory.Refresh(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("directory: %w", err))
		}
		res.Practitioners = len(list)
	}

	if w.Cache != nil {
		t := now().In(w.Cache.Location())
		win := w.Cache.PaddedWindow(t)
		evs, err := w.Cache.Events(ctx, win.Start, win.End)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("events: %w", err))
		}
		res.Events = len(evs)
	}

	if w.Holidays != nil {
		t := now()
		w.Holidays.EnsureRange(ctx, t, t.AddDate(1, 0, 0))
	}
	return res
}

// Scheduler runs a Warmer on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	warmer *Warmer

	mu      sync.Mutex
	running bool
	last    Result
	lastAt  time.Time
}

// New parses spec (five-field cron syntax) and prepares the job. Call Start
// to begin.
func New(spec string, w *Warmer) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		warmer: w,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: bad spec %q: %w", spec, err)
	}
	return s, nil
}

// tick skips a pass when the previous one is still running.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		appLog.Warn("refresh still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	res := s.RunNow(context.Background())

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if len(res.Errors) > 0 {
		for _, err := range res.Errors {
			appLog.Warn("refresh step failed", "err", err)
		}
	}
}

// RunNow runs one pass synchronously and records its result.
func (s *Scheduler) RunNow(ctx context.Context) Result {
	started := time.Now()
	res := s.warmer.Run(ctx)
	s.mu.Lock()
	s.last, s.lastAt = res, started
	s.mu.Unlock()
	appLog.Info("refresh done",
		"events", res.Events,
		"practitioners", res.Practitioners,
		"errors", len(res.Errors),
		"took", time.Since(started).String(),
	)
	return res
}

// Last returns the most recent result and when that pass started.
func (s *Scheduler) Last() (Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

// Start runs the schedule until ctx is done. It does not block.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		stopped := s.cron.Stop()
		<-stopped.Done()
		appLog.Info("scheduler stopped")
	}()
}

// Next reports when the job fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
