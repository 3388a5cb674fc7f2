package notice

import "time"

// Message is the latest message of a conversation as far as alerts care.
type Message struct {
	ID         string    `json:"id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Date       time.Time `json:"date"`
}

// Conversation is the notice-relevant view of a chat thread.
type Conversation struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	OneToOne    bool     `json:"one_to_one"`
	NoticeCount int      `json:"notice_count"`
	Muted       bool     `json:"muted"`
	Hidden      bool     `json:"hidden"`
	Automated   bool     `json:"automated"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// MuteOrHidden reports whether notices of c count as muted.
func (c Conversation) MuteOrHidden() bool {
	return c.Muted || c.Hidden
}

// Patch is a partial conversation update. Nil fields are left unchanged.
type Patch struct {
	NoticeCount *int
	AddNotices  int
	Muted       *bool
	Hidden      *bool
	LastMessage *Message
}

// Merge folds next over p. Set fields in next win; added notices accumulate.
func (p Patch) Merge(next Patch) Patch {
	if next.NoticeCount != nil {
		p.NoticeCount = next.NoticeCount
		p.AddNotices = 0
	}
	p.AddNotices += next.AddNotices
	if next.Muted != nil {
		p.Muted = next.Muted
	}
	if next.Hidden != nil {
		p.Hidden = next.Hidden
	}
	if next.LastMessage != nil {
		p.LastMessage = next.LastMessage
	}
	return p
}

// Apply writes the patch onto c.
func (p Patch) Apply(c *Conversation) {
	if p.NoticeCount != nil {
		c.NoticeCount = *p.NoticeCount
	}
	c.NoticeCount += p.AddNotices
	if c.NoticeCount < 0 {
		c.NoticeCount = 0
	}
	if p.Muted != nil {
		c.Muted = *p.Muted
	}
	if p.Hidden != nil {
		c.Hidden = *p.Hidden
	}
	if p.LastMessage != nil {
		c.LastMessage = p.LastMessage
	}
}

// Patches maps conversation id to its merged update.
type Patches map[string]Patch

func mergePatches(acc, next Patches) Patches {
	if acc == nil {
		acc = make(Patches, len(next))
	}
	for id, p := range next {
		acc[id] = acc[id].Merge(p)
	}
	return acc
}

// Int and Bool build patch fields.
func Int(v int) *int    { return &v }
func Bool(v bool) *bool { return &v }

// Popup is the content of a desktop notification.
type Popup struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
}

// Snapshot is the outcome of one aggregation cycle.
type Snapshot struct {
	Total        int           `json:"total"`
	MutedCount   int           `json:"muted_count"`
	UnmutedCount int           `json:"unmuted_count"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Message      *Message      `json:"message,omitempty"`

	Sound     bool   `json:"sound"`
	Tray      bool   `json:"tray"`
	TrayFlash bool   `json:"tray_flash"`
	Popup     bool   `json:"popup"`
	Content   *Popup `json:"content,omitempty"`

	TrayLabel  string    `json:"tray_label"`
	BadgeLabel string    `json:"badge_label"`
	Cycle      uint64    `json:"cycle"`
	At         time.Time `json:"at"`
}
