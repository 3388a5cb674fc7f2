package events

import (
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
)

// Debouncer collapses triggers into one trailing-edge call. Values passed to
// triggers inside the window are folded with merge; fire receives the folded
// value once the window elapses without a new trigger.
type Debouncer[T any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	delay   time.Duration
	merge   func(acc, next T) T
	fire    func(T)
	pending T
	armed   bool
	timer   *clock.Timer
	gen     uint64
}

// NewDebouncer builds a debouncer with a default window of delay.
func NewDebouncer[T any](c clock.Clock, delay time.Duration, merge func(acc, next T) T, fire func(T)) *Debouncer[T] {
	return &Debouncer[T]{
		clock: clock.OrReal(c),
		delay: delay,
		merge: merge,
		fire:  fire,
	}
}

// Trigger folds v into the pending value and restarts the window.
func (d *Debouncer[T]) Trigger(v T) {
	d.TriggerAfter(v, 0)
}

// TriggerAfter is Trigger with an explicit window. Non-positive delay uses
// the default window.
func (d *Debouncer[T]) TriggerAfter(v T, delay time.Duration) {
	if delay <= 0 {
		delay = d.delay
	}
	d.mu.Lock()
	if d.armed {
		d.pending = d.merge(d.pending, v)
	} else {
		var zero T
		d.pending = d.merge(zero, v)
		d.armed = true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	timer := d.clock.AfterFunc(delay, func() { d.run(gen) })

	d.mu.Lock()
	if d.gen == gen {
		d.timer = timer
	}
	d.mu.Unlock()
}

// Flush fires a pending value immediately.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()
	d.run(gen)
}

// Stop drops the pending value without firing.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	var zero T
	d.pending = zero
	d.armed = false
	d.gen++
}

// Pending reports whether a fire is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Debouncer[T]) run(gen uint64) {
	d.mu.Lock()
	if !d.armed || d.gen != gen {
		d.mu.Unlock()
		return
	}
	v := d.pending
	var zero T
	d.pending = zero
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fire(v)
}
