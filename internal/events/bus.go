package events

import (
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
)

// Well-known event names.
const (
	EventDataChange    = "data.change"
	EventInbound       = "socket.message"
	EventStateChange   = "socket.state"
	EventClose         = "socket.close"
	EventUserLogin     = "server.user.login"
	EventUserLogout    = "server.user.logout"
	EventUserSwap      = "server.user.swap"
	EventNoticeUpdate  = "notice.update"
	EventSettingsReset = "settings.reset"
)

// DefaultDataChangeDelay is the merge window for EmitDataChange.
const DefaultDataChangeDelay = 110 * time.Millisecond

// Listener receives an emitted payload.
type Listener func(payload any)

// Handle identifies one subscription. The zero Handle is never issued.
type Handle uint64

// DataChange maps a collection name to changed items keyed by id.
type DataChange map[string]map[string]any

type subscription struct {
	handle Handle
	name   string
	fn     Listener
	once   bool
}

// Bus is a named-event dispatcher. Listeners for one event fire in the order
// they were registered, on the emitting goroutine.
type Bus struct {
	mu       sync.Mutex
	next     Handle
	byName   map[string][]*subscription
	byHandle map[Handle]*subscription

	dataChange *Debouncer[DataChange]
}

// NewBus returns an empty bus. Debounced data changes run on c.
func NewBus(c clock.Clock) *Bus {
	b := &Bus{
		byName:   make(map[string][]*subscription),
		byHandle: make(map[Handle]*subscription),
	}
	b.dataChange = NewDebouncer(clock.OrReal(c), DefaultDataChangeDelay, mergeDataChange, func(change DataChange) {
		b.Emit(EventDataChange, change)
	})
	return b
}

// On subscribes fn to name until Off is called with the returned handle.
func (b *Bus) On(name string, fn Listener) Handle {
	return b.subscribe(name, fn, false)
}

// Once subscribes fn for the next emission of name only.
func (b *Bus) Once(name string, fn Listener) Handle {
	return b.subscribe(name, fn, true)
}

// Off removes the given subscriptions. Unknown or already removed handles
// are ignored.
func (b *Bus) Off(handles ...Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range handles {
		b.removeLocked(h)
	}
}

// Emit synchronously invokes every listener registered for name.
func (b *Bus) Emit(name string, payload any) {
	b.mu.Lock()
	subs := b.byName[name]
	snapshot := make([]*subscription, 0, len(subs))
	for _, sub := range subs {
		snapshot = append(snapshot, sub)
		if sub.once {
			b.removeLocked(sub.handle)
		}
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(payload)
	}
}

// Count reports the number of listeners registered for name.
func (b *Bus) Count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byName[name])
}

// EmitDataChange queues a data change. Changes queued within the merge
// window are shallow-merged per collection and emitted once as
// EventDataChange. A non-positive delay uses DefaultDataChangeDelay.
func (b *Bus) EmitDataChange(change DataChange, delay time.Duration) {
	if len(change) == 0 {
		return
	}
	b.dataChange.TriggerAfter(change, delay)
}

// OnDataChange subscribes to merged data changes.
func (b *Bus) OnDataChange(fn func(DataChange)) Handle {
	return b.On(EventDataChange, func(payload any) {
		if change, ok := payload.(DataChange); ok {
			fn(change)
		}
	})
}

func (b *Bus) subscribe(name string, fn Listener, once bool) Handle {
	if fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	sub := &subscription{handle: b.next, name: name, fn: fn, once: once}
	b.byName[name] = append(b.byName[name], sub)
	b.byHandle[sub.handle] = sub
	return sub.handle
}

func (b *Bus) removeLocked(h Handle) {
	sub, ok := b.byHandle[h]
	if !ok {
		return
	}
	delete(b.byHandle, h)
	subs := b.byName[sub.name]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.byName, sub.name)
		return
	}
	b.byName[sub.name] = subs
}

func mergeDataChange(acc, next DataChange) DataChange {
	if acc == nil {
		acc = make(DataChange, len(next))
	}
	for name, items := range next {
		dst, ok := acc[name]
		if !ok {
			dst = make(map[string]any, len(items))
			acc[name] = dst
		}
		for id, item := range items {
			dst[id] = item
		}
	}
	return acc
}
