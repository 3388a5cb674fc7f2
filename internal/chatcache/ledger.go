// Package chatcache bounds how long per-conversation UI state survives for
// conversations the user is not looking at.
package chatcache

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long an unfocused conversation stays cached.
const DefaultTTL = 30 * time.Minute

// UI state keys.
const (
	StateDraft          = "draft"
	StateScrollPosition = "scrollPosition"
	StateLoadingLimit   = "loadingLimit"
)

// Entry is a read-only view of one cached conversation. A zero LastActive
// marks the entry cleaned.
type Entry struct {
	ID         string    `json:"id"`
	LastActive time.Time `json:"last_active,omitempty"`
	StateKeys  []string  `json:"state_keys,omitempty"`
}

// Cleaned reports whether the entry was evicted.
func (e Entry) Cleaned() bool {
	return e.LastActive.IsZero()
}

// IsExpired reports whether a live entry has been idle for at least ttl.
func IsExpired(e Entry, now time.Time, ttl time.Duration) bool {
	if e.Cleaned() {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(e.LastActive) >= ttl
}

type entry struct {
	lastActive time.Time
	state      map[string]any
}

// Ledger tracks conversation activity. Eviction is lazy: it happens only
// when ActiveIDs is asked for.
type Ledger struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[string]*entry
	focused string
	log     zerolog.Logger
}

// NewLedger builds a ledger. A non-positive ttl uses DefaultTTL.
func NewLedger(c clock.Clock, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		clock:   clock.OrReal(c),
		ttl:     ttl,
		entries: make(map[string]*entry),
		log:     logging.Component("chatcache"),
	}
}

func (l *Ledger) TTL() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ttl
}

// SetTTL overrides the idle limit. Non-positive values restore DefaultTTL.
func (l *Ledger) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
}

// Activate creates or refreshes the entry for id. It reports whether a
// cleaned entry was brought back.
func (l *Ledger) Activate(id string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activateLocked(id)
}

// Focus activates id and exempts it from eviction until another
// conversation is focused.
func (l *Ledger) Focus(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.focused = id
	if id == "" {
		return false
	}
	return l.activateLocked(id)
}

// Focused returns the focused conversation id.
func (l *Ledger) Focused() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.focused
}

func (l *Ledger) activateLocked(id string) bool {
	now := l.clock.Now()
	e, ok := l.entries[id]
	if !ok {
		l.entries[id] = &entry{lastActive: now}
		return false
	}
	restored := e.lastActive.IsZero()
	e.lastActive = now
	return restored
}

// ActiveIDs sweeps expired entries and returns the ids still cached, most
// recently active first. The focused conversation is always kept.
func (l *Ledger) ActiveIDs() []string {
	l.mu.Lock()
	now := l.clock.Now()
	var (
		ids     []string
		evicted int
	)
	for id, e := range l.entries {
		if e.lastActive.IsZero() {
			continue
		}
		if id != l.focused && IsExpired(Entry{ID: id, LastActive: e.lastActive}, now, l.ttl) {
			e.lastActive = time.Time{}
			e.state = nil
			evicted++
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := l.entries[ids[i]].lastActive, l.entries[ids[j]].lastActive
		if a.Equal(b) {
			return ids[i] < ids[j]
		}
		return a.After(b)
	})
	l.mu.Unlock()

	if evicted > 0 {
		observability.RecordCacheEvictions(evicted)
		l.log.Debug().Int("evicted", evicted).Int("active", len(ids)).Msg("cache sweep")
	}
	return ids
}

// Entry returns the entry for id.
func (l *Ledger) Entry(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	out := Entry{ID: id, LastActive: e.lastActive}
	for k := range e.state {
		out.StateKeys = append(out.StateKeys, k)
	}
	sort.Strings(out.StateKeys)
	return out, true
}

// Entries returns every entry, cleaned ones included, ordered by id.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	sort.Strings(ids)
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := l.Entry(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// KeepState stores a UI value for id, creating the entry when absent.
func (l *Ledger) KeepState(id, key string, value any) {
	if id == "" || key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		l.activateLocked(id)
		e = l.entries[id]
	}
	if e.state == nil {
		e.state = make(map[string]any)
	}
	e.state[key] = value
}

// TakeOutState returns and deletes a UI value.
func (l *Ledger) TakeOutState(id, key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok || e.state == nil {
		return nil, false
	}
	v, ok := e.state[key]
	if ok {
		delete(e.state, key)
	}
	return v, ok
}

// Remove deletes the entry for id outright.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
	if l.focused == id {
		l.focused = ""
	}
}

// Reset drops every entry. Used when the signed-in user changes.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
	l.focused = ""
}

// Len reports entries, cleaned ones included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
