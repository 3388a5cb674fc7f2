package im

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/notice"
)

// Conversation types.
const (
	TypeOneToOne = "one2one"
	TypeGroup    = "group"
	TypeSystem   = "system"
	TypeRobot    = "robot"
)

// notificationConversation is the pseudo conversation that carries system
// notices; its messages are never treated as chat messages.
const notificationConversation = "#notification"

// ConversationRecord is a conversation as the server sends it.
type ConversationRecord struct {
	GID     string  `json:"gid"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Mute    bool    `json:"mute"`
	Hide    bool    `json:"hide"`
	Star    bool    `json:"star"`
	Public  bool    `json:"public"`
	Members []int64 `json:"members,omitempty"`
}

// ChatMessage is one message pushed by chat/message.
type ChatMessage struct {
	GID         string `json:"gid"`
	CGID        string `json:"cgid"`
	User        int64  `json:"user"`
	Date        int64  `json:"date"`
	Type        string `json:"type,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content"`
}

// Time converts Date, which the server sends in seconds or milliseconds.
func (m ChatMessage) Time() time.Time {
	if m.Date > 1e12 {
		return time.UnixMilli(m.Date)
	}
	return time.Unix(m.Date, 0)
}

type conversation struct {
	record ConversationRecord
	notice notice.Conversation
}

// Conversations is the conversation list of the signed-in user. It is the
// notice engine's source.
type Conversations struct {
	mu    sync.RWMutex
	items map[string]*conversation
}

func NewConversations() *Conversations {
	return &Conversations{items: make(map[string]*conversation)}
}

// Init replaces the list while keeping notice state of conversations that
// survive.
func (c *Conversations) Init(records []ConversationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]*conversation, len(records))
	for _, r := range records {
		if r.GID == "" {
			continue
		}
		item := c.items[r.GID]
		if item == nil {
			item = &conversation{}
		}
		item.setRecord(r)
		next[r.GID] = item
	}
	c.items = next
}

// Upsert adds or replaces one conversation record.
func (c *Conversations) Upsert(r ConversationRecord) {
	if r.GID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.items[r.GID]
	if item == nil {
		item = &conversation{}
		c.items[r.GID] = item
	}
	item.setRecord(r)
}

func (item *conversation) setRecord(r ConversationRecord) {
	item.record = r
	item.notice.ID = r.GID
	item.notice.Name = r.Name
	item.notice.OneToOne = r.Type == TypeOneToOne
	item.notice.Automated = r.Type == TypeRobot
	item.notice.Muted = r.Mute
	item.notice.Hidden = r.Hide
}

// Record returns the server record for gid.
func (c *Conversations) Record(gid string) (ConversationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[gid]
	if !ok {
		return ConversationRecord{}, false
	}
	return item.record, true
}

// Get returns the notice view of gid.
func (c *Conversations) Get(gid string) (notice.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[gid]
	if !ok {
		return notice.Conversation{}, false
	}
	return item.notice, true
}

// SetMute records a mute change and returns the notice patch for it.
func (c *Conversations) SetMute(gid string, mute bool) (notice.Patch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[gid]
	if !ok {
		return notice.Patch{}, false
	}
	item.record.Mute = mute
	return notice.Patch{Muted: notice.Bool(mute)}, true
}

// SetHide records a hide change and returns the notice patch for it.
func (c *Conversations) SetHide(gid string, hide bool) (notice.Patch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[gid]
	if !ok {
		return notice.Patch{}, false
	}
	item.record.Hide = hide
	return notice.Patch{Hidden: notice.Bool(hide)}, true
}

// Conversations returns the notice view of every conversation ordered by id.
func (c *Conversations) Conversations() []notice.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]notice.Conversation, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.notice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyPatches writes merged notice patches. Unknown ids create placeholder
// conversations so early messages are not lost.
func (c *Conversations) ApplyPatches(p notice.Patches) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, patch := range p {
		item := c.items[id]
		if item == nil {
			item = &conversation{record: ConversationRecord{GID: id}}
			item.notice.ID = id
			c.items[id] = item
		}
		patch.Apply(&item.notice)
		item.record.Mute = item.notice.Muted
		item.record.Hide = item.notice.Hidden
	}
}

// ClearNotice zeroes the notice count of gid.
func (c *Conversations) ClearNotice(gid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[gid]; ok {
		item.notice.NoticeCount = 0
	}
}

func (c *Conversations) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Conversations) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*conversation)
}
