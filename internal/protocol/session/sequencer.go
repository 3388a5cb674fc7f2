package session

import (
	"sync"

	"github.com/danmuck/chatlink/internal/protocol"
)

// Pathnames of the two replies that open a session.
const (
	PathLogin    = "chat/login"
	PathUserList = "chat/usergetlist"
)

// Sequencer holds inbound messages during login until both the login reply
// and the first user list have arrived, then releases login, user list and
// the rest in arrival order. After release it passes messages straight
// through.
type Sequencer struct {
	mu       sync.Mutex
	deliver  func(*protocol.Message) any
	login    *protocol.Message
	userList *protocol.Message
	others   []*protocol.Message
	released bool
}

func NewSequencer(deliver func(*protocol.Message) any) *Sequencer {
	return &Sequencer{deliver: deliver}
}

// Push accepts one inbound message. It reports true once the sequencer has
// released, including the call that triggered the release.
func (q *Sequencer) Push(msg *protocol.Message) bool {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		q.deliver(msg)
		return true
	}
	switch msg.Pathname() {
	case PathLogin:
		q.login = msg
	case PathUserList:
		q.userList = msg
	default:
		q.others = append(q.others, msg)
	}
	if q.login == nil || q.userList == nil {
		q.mu.Unlock()
		return false
	}
	batch := make([]*protocol.Message, 0, len(q.others)+2)
	batch = append(batch, q.login, q.userList)
	batch = append(batch, q.others...)
	q.login, q.userList, q.others = nil, nil, nil
	q.released = true
	q.mu.Unlock()

	for _, m := range batch {
		q.deliver(m)
	}
	return true
}

// Released reports whether buffered messages were flushed.
func (q *Sequencer) Released() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.released
}

// Buffered reports how many messages are held.
func (q *Sequencer) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.others)
	if q.login != nil {
		n++
	}
	if q.userList != nil {
		n++
	}
	return n
}
