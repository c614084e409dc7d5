// scheduler.go - periodic job scheduling on top of robfig/cron.
//
// Scheduler gives the daemon one place to register recurring background
// jobs and one place to stop them during shutdown. The daemon registers a
// single job here, the idle-session sweep; the shared-server health probes
// and the cleanup sweep keep their own time.Ticker loops, and PTY logs are
// written as output arrives rather than flushed on a schedule.
package clock

import (
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named recurring jobs on cron schedules or fixed intervals.
type Scheduler struct {
	cr *cron.Cron
	mu sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler creates a Scheduler using standard 5-field cron expressions.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cr:      cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cr.Start()
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cr.Stop().Done()
}

// Every registers fn to run on the given cron expression under name. A
// second registration under the same name replaces the first.
func (s *Scheduler) Every(name, cronExpr string, fn func()) error {
	id, err := s.cr.AddFunc(cronExpr, fn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.cr.Remove(old)
	}
	s.entries[name] = id
	return nil
}

// Cancel stops a previously registered job.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cr.Remove(id)
		delete(s.entries, name)
	}
}
