package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock. Callbacks registered with AfterFunc run
// synchronously inside Advance on the calling goroutine.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	changed *sync.Cond
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	callback func()
	queued   bool
}

// NewFake returns a fake clock starting at initial.
func NewFake(initial time.Time) *Fake {
	c := &Fake{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Fake) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.enqueueLocked(&fakeWaiter{deadline: c.current.Add(d), channel: ch})
	return ch
}

func (c *Fake) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.enqueueLocked(w)
	c.mu.Unlock()
	if d <= 0 {
		c.Advance(0)
	}
	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.removeLocked(w)
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := c.removeLocked(w)
			w.deadline = c.current.Add(d)
			c.enqueueLocked(w)
			return active
		},
	}
}

// Advance moves the clock forward and fires every waiter whose deadline is
// reached, in deadline order. Callbacks that schedule new timers inside the
// window fire in the same call.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		w := c.popExpired(target)
		if w == nil {
			return
		}
		if w.callback != nil {
			w.callback()
			continue
		}
		select {
		case w.channel <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *Fake) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

// Pending reports the number of armed waiters.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Fake) popExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return nil
	}
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	w := c.waiters[0]
	if w.deadline.After(target) {
		return nil
	}
	c.waiters = c.waiters[1:]
	w.queued = false
	return w
}

func (c *Fake) enqueueLocked(w *fakeWaiter) {
	if w.queued {
		return
	}
	w.queued = true
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *Fake) removeLocked(w *fakeWaiter) bool {
	if !w.queued {
		return false
	}
	for i, candidate := range c.waiters {
		if candidate == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	w.queued = false
	return true
}
