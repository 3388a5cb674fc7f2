package im

import (
	"encoding/json"
	"sort"
	"sync"
)

// Member is one roster entry.
type Member struct {
	ID       int64  `json:"id"`
	Account  string `json:"account"`
	Realname string `json:"realname"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
	Dept     int64  `json:"dept,omitempty"`
	Status   string `json:"status,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	// Temp marks members fetched on demand rather than from the roster.
	Temp bool `json:"-"`
}

// DisplayName prefers the real name.
func (m Member) DisplayName() string {
	if m.Realname != "" {
		return m.Realname
	}
	return m.Account
}

// Members is the roster of the current server.
type Members struct {
	mu      sync.RWMutex
	byID    map[int64]*Member
	roles   map[string]string
	depts   map[string]json.RawMessage
	version uint64
}

func NewMembers() *Members {
	return &Members{byID: make(map[int64]*Member)}
}

// Init replaces the roster.
func (m *Members) Init(list []Member, roles map[string]string, depts map[string]json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[int64]*Member, len(list))
	for i := range list {
		entry := list[i]
		m.byID[entry.ID] = &entry
	}
	m.roles = roles
	m.depts = depts
	m.version++
}

// Update upserts members. It returns how many entries changed.
func (m *Members) Update(list ...Member) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range list {
		entry := list[i]
		if entry.ID == 0 {
			continue
		}
		m.byID[entry.ID] = &entry
		n++
	}
	if n > 0 {
		m.version++
	}
	return n
}

// Patch overlays raw fields onto an existing member.
func (m *Members) Patch(id int64, raw json.RawMessage) (Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[id]
	if !ok {
		return Member{}, false
	}
	next := *entry
	if err := mergeJSON(&next, raw); err != nil {
		return Member{}, false
	}
	next.ID = id
	m.byID[id] = &next
	m.version++
	return next, true
}

// SetStatus changes one member's status.
func (m *Members) SetStatus(id int64, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[id]
	if !ok || status == "" {
		return false
	}
	entry.Status = status
	m.version++
	return true
}

func (m *Members) Get(id int64) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byID[id]
	if !ok {
		return Member{}, false
	}
	return *entry, true
}

func (m *Members) Has(id int64) bool {
	_, ok := m.Get(id)
	return ok
}

// All returns members ordered by id.
func (m *Members) All() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Member, 0, len(m.byID))
	for _, entry := range m.byID {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Members) Role(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[key]
}

func (m *Members) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Version increments on every change.
func (m *Members) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Members) Reset() {
	m.Init(nil, nil, nil)
}
