package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests: Now is
// whatever it was last set or advanced to, After and NewTicker fire only
// when the test calls Advance past their deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
	period   time.Duration // zero for a one-shot After waiter
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.waiters = append(f.waiters, fakeWaiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.waiters = append(f.waiters, fakeWaiter{deadline: f.now.Add(d), ch: ch, period: d})
	return &fakeTicker{clk: f, ch: ch}
}

// Advance moves now forward by d, firing any waiters whose deadline has
// passed (rescheduling periodic ones for their next interval).
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			select {
			case w.ch <- f.now:
			default:
			}
			if w.period > 0 {
				w.deadline = f.now.Add(w.period)
				remaining = append(remaining, w)
			}
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining
}

type fakeTicker struct {
	clk *Fake
	ch  chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	for i, w := range t.clk.waiters {
		if w.ch == t.ch {
			t.clk.waiters = append(t.clk.waiters[:i], t.clk.waiters[i+1:]...)
			break
		}
	}
}

var _ Clock = (*Fake)(nil)
