package im

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/danmuck/chatlink/internal/protocol/session"
)

// Member status names.
const (
	StatusUnverified = "unverified"
	StatusDisconnect = "disconnect"
	StatusOffline    = "offline"
	StatusOnline     = "online"
	StatusBusy       = "busy"
	StatusAway       = "away"
)

// IsOnlineStatus reports whether status counts as signed in.
func IsOnlineStatus(status string) bool {
	switch status {
	case StatusOnline, StatusBusy, StatusAway:
		return true
	default:
		return false
	}
}

// UserProfile is the server-side view of the signed-in account.
type UserProfile struct {
	ID       int64  `json:"id"`
	Account  string `json:"account"`
	Realname string `json:"realname"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
	Dept     int64  `json:"dept,omitempty"`
	Status   string `json:"status,omitempty"`
}

// User is the signed-in principal. It satisfies session.Principal.
type User struct {
	mu        sync.Mutex
	identity  session.Identity
	profile   UserProfile
	status    string
	sessionID string
	logging   bool
}

// NewUser builds an unverified user. password is hashed unless it already
// looks like an md5 hex digest.
func NewUser(id session.Identity, password string) *User {
	if password != "" {
		id.PasswordHash = hashPassword(password)
	}
	return &User{
		identity: id,
		profile:  UserProfile{ID: id.ID, Account: id.Account},
		status:   StatusUnverified,
	}
}

func hashPassword(password string) string {
	if len(password) == 32 && strings.Trim(strings.ToLower(password), "0123456789abcdef") == "" {
		return strings.ToLower(password)
	}
	return session.MD5Hex(password)
}

func (u *User) Identity() session.Identity {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.identity
}

func (u *User) ID() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.identity.ID
}

// Key identifies the user across sessions as account@server.
func (u *User) Key() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.identity.Account + "@" + u.identity.SocketURL
}

func (u *User) Profile() UserProfile {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.profile
	p.Status = u.status
	return p
}

func (u *User) Status() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *User) SetStatus(status string) {
	if status == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

func (u *User) IsOnline() bool {
	return IsOnlineStatus(u.Status())
}

func (u *User) IsBusy() bool {
	return u.Status() == StatusBusy
}

func (u *User) MarkDisconnect() { u.SetStatus(StatusDisconnect) }

func (u *User) MarkUnverified() { u.SetStatus(StatusUnverified) }

func (u *User) IsLogging() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.logging
}

func (u *User) beginLogin() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logging = true
}

func (u *User) endLogin(ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logging = false
	if ok && !IsOnlineStatus(u.status) {
		u.status = StatusOnline
	}
}

func (u *User) SessionID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessionID
}

func (u *User) setSessionID(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessionID = id
}

// apply overlays a server profile payload. The numeric id is adopted when
// the user was created without one.
func (u *User) apply(raw json.RawMessage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.profile
	if err := mergeJSON(&p, raw); err != nil {
		return err
	}
	if p.Status != "" {
		u.status = p.Status
	}
	p.Status = ""
	u.profile = p
	if p.ID != 0 {
		u.identity.ID = p.ID
	}
	return nil
}
