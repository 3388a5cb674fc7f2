package im

import (
	"encoding/json"
	"strings"

	"github.com/danmuck/chatlink/internal/dispatch"
	"github.com/danmuck/chatlink/internal/notice"
	"github.com/danmuck/chatlink/internal/protocol"
	"github.com/danmuck/chatlink/internal/protocol/session"
)

func (c *Client) registerHandlers() {
	routes := map[string]dispatch.Route{
		"chat/login":            dispatch.Handle(c.handleLogin),
		"chat/logout":           dispatch.Handle(c.handleLogout),
		"chat/error":            dispatch.Handle(c.handleError),
		"chat/settings":         dispatch.Handle(c.handleSettings),
		"chat/userchangestatus": dispatch.Handle(c.handleUserChangeStatus),
		"chat/userchange":       dispatch.Handle(c.handleUserChange),
		"chat/kickoff":          dispatch.Handle(c.handleKickoff),
		"chat/usergetlist":      dispatch.Handle(c.handleUserList),
		"chat/sessionid":        dispatch.Handle(c.handleSessionID),
		"chat/ping":             dispatch.Handle(c.handlePing),
		"chat/pong":             dispatch.AliasTo("chat/ping"),
		"chat/getlist":          dispatch.Handle(c.handleConversationList),
		"chat/message":          dispatch.Handle(c.handleMessages),
		"chat/mute":             dispatch.Handle(c.handleMute),
		"chat/hide":             dispatch.Handle(c.handleHide),
	}
	if err := c.table.RegisterAll(routes); err != nil {
		c.log.Error().Err(err).Msg("register handlers")
	}
}

type idPayload struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func decodeID(msg *protocol.Message) (idPayload, bool) {
	var p idPayload
	if err := msg.DecodeData(&p); err != nil {
		return idPayload{}, false
	}
	return p, true
}

// handleLogin accepts the own login echo and records other members
// signing in.
func (c *Client) handleLogin(msg *protocol.Message) any {
	if !msg.IsSuccess() {
		return false
	}
	u := c.User()
	p, ok := decodeID(msg)
	if !ok || u == nil {
		return false
	}
	if c.session.IsLoggingIn() || u.IsLogging() || p.ID == u.ID() {
		if err := u.apply(msg.Data); err != nil {
			c.log.Debug().Err(err).Msg("decode login profile")
			return false
		}
		return true
	}
	if _, ok := c.members.Patch(p.ID, msg.Data); !ok {
		var m Member
		if err := msg.DecodeData(&m); err == nil {
			c.members.Update(m)
		}
	}
	return false
}

func (c *Client) handleLogout(msg *protocol.Message) any {
	if !msg.IsSuccess() {
		return nil
	}
	u := c.User()
	p, ok := decodeID(msg)
	if !ok {
		return nil
	}
	if u != nil && p.ID == u.ID() && c.session.IsConnected() {
		u.MarkUnverified()
		_ = c.session.Close(session.ReasonClose)
		return nil
	}
	c.members.SetStatus(p.ID, StatusUnverified)
	return nil
}

// ServerError is the payload emitted for chat/error pushes.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// EventServerError carries chat/error pushes to the UI.
const EventServerError = "ui.showMessage"

func (c *Client) handleError(msg *protocol.Message) any {
	e := ServerError{Message: msg.Text, Code: strings.Trim(string(msg.Code), `"`)}
	if e.Message == "" {
		var s string
		if err := msg.DecodeData(&s); err == nil {
			e.Message = s
		}
	}
	if e.Message == "" && e.Code == "" {
		return nil
	}
	c.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("server error")
	c.bus.Emit(EventServerError, e)
	return nil
}

func (c *Client) handleSettings(msg *protocol.Message) any {
	if !msg.IsSuccess() || !msg.HasData() {
		return nil
	}
	var values map[string]any
	if err := msg.DecodeData(&values); err != nil {
		return nil
	}
	if c.settings.ShouldReset(values) {
		c.settings.Reset(values)
	}
	return nil
}

func (c *Client) handleUserChangeStatus(msg *protocol.Message) any {
	if !msg.IsSuccess() {
		return nil
	}
	p, ok := decodeID(msg)
	if !ok {
		return nil
	}
	u := c.User()
	if u != nil && (p.ID == 0 || p.ID == u.ID()) {
		u.SetStatus(p.Status)
		c.notices.Refresh()
	}
	if p.ID != 0 {
		c.members.SetStatus(p.ID, p.Status)
	}
	return nil
}

func (c *Client) handleUserChange(msg *protocol.Message) any {
	if !msg.IsSuccess() || !msg.HasData() {
		return nil
	}
	p, ok := decodeID(msg)
	if !ok {
		return nil
	}
	u := c.User()
	if u != nil && (p.ID == 0 || p.ID == u.ID()) {
		if err := u.apply(msg.Data); err != nil {
			return nil
		}
	}
	if p.ID != 0 {
		if m, ok := c.members.Patch(p.ID, msg.Data); ok {
			return m
		}
	}
	return nil
}

func (c *Client) handleKickoff(*protocol.Message) any {
	c.log.Warn().Msg("kicked off by server")
	_ = c.session.Close(session.ReasonKickoff)
	return nil
}

func (c *Client) handleUserList(msg *protocol.Message) any {
	if !msg.IsSuccess() {
		return nil
	}
	list, err := decodeRecords[Member](msg.Data, func(m Member) bool { return m.ID != 0 })
	if err != nil {
		c.log.Debug().Err(err).Msg("decode user list")
		return nil
	}
	if msg.Partial {
		c.members.Update(list...)
		return nil
	}
	var roles map[string]string
	var depts map[string]json.RawMessage
	if len(msg.Roles) > 0 {
		_ = json.Unmarshal(msg.Roles, &roles)
	}
	if len(msg.Depts) > 0 {
		_ = json.Unmarshal(msg.Depts, &depts)
	}
	c.members.Init(list, roles, depts)
	return nil
}

func (c *Client) handleSessionID(msg *protocol.Message) any {
	if !msg.IsSuccess() && msg.SessionID == "" {
		return nil
	}
	u := c.User()
	if u == nil {
		return nil
	}
	var id string
	if err := msg.DecodeData(&id); err != nil || id == "" {
		id = msg.SessionID
	}
	u.setSessionID(id)
	return nil
}

func (c *Client) handlePing(*protocol.Message) any {
	return true
}

func (c *Client) handleConversationList(msg *protocol.Message) any {
	if !msg.IsSuccess() {
		return nil
	}
	list, err := decodeRecords[ConversationRecord](msg.Data, func(r ConversationRecord) bool { return r.GID != "" })
	if err != nil {
		c.log.Debug().Err(err).Msg("decode conversation list")
		return nil
	}
	c.convs.Init(list)
	c.notices.Refresh()
	return true
}

// handleMessages counts incoming messages from other members as notices and
// hands them to the notice engine as one trigger.
func (c *Client) handleMessages(msg *protocol.Message) any {
	if !msg.IsSuccess() {
		return nil
	}
	list, err := decodeRecords[ChatMessage](msg.Data, func(m ChatMessage) bool { return m.CGID != "" && m.Content != "" })
	if err != nil {
		c.log.Debug().Err(err).Msg("decode messages")
		return nil
	}
	var self int64
	if u := c.User(); u != nil {
		self = u.ID()
	}
	patches := notice.Patches{}
	for _, m := range list {
		if m.CGID == "" || m.CGID == notificationConversation {
			continue
		}
		patch := patches[m.CGID]
		if m.User != self {
			patch.AddNotices++
			if !c.members.Has(m.User) {
				c.TryFetchTempUser(m.User)
			}
		}
		last := &notice.Message{
			ID:         m.GID,
			SenderID:   m.User,
			SenderName: c.senderName(m.User),
			Text:       m.Content,
			Date:       m.Time(),
		}
		if patch.LastMessage == nil || !last.Date.Before(patch.LastMessage.Date) {
			patch.LastMessage = last
		}
		patches[m.CGID] = patch
	}
	if len(patches) == 0 {
		return nil
	}
	c.notices.Trigger(patches)
	return true
}

func (c *Client) senderName(id int64) string {
	if m, ok := c.members.Get(id); ok {
		return m.DisplayName()
	}
	return ""
}

type toggleGID struct {
	GID  string `json:"gid"`
	Mute *bool  `json:"mute"`
	Hide *bool  `json:"hide"`
}

func (c *Client) handleMute(msg *protocol.Message) any {
	var t toggleGID
	if !msg.IsSuccess() || msg.DecodeData(&t) != nil || t.Mute == nil {
		return nil
	}
	patch, ok := c.convs.SetMute(t.GID, *t.Mute)
	if !ok {
		return nil
	}
	c.notices.Update(t.GID, patch)
	rec, _ := c.convs.Record(t.GID)
	return rec
}

func (c *Client) handleHide(msg *protocol.Message) any {
	var t toggleGID
	if !msg.IsSuccess() || msg.DecodeData(&t) != nil || t.Hide == nil {
		return nil
	}
	patch, ok := c.convs.SetHide(t.GID, *t.Hide)
	if !ok {
		return nil
	}
	c.notices.Update(t.GID, patch)
	rec, _ := c.convs.Record(t.GID)
	return rec
}
