package protocol

import (
	"encoding/json"
	"strings"
)

// DefaultModule is applied to messages that arrive or are built without one.
const DefaultModule = "chat"

// ResultSuccess is the result value the server uses for successful replies.
const ResultSuccess = "success"

// Message is one wire envelope. Empty string and nil fields are absent on the
// wire.
type Message struct {
	Module    string          `json:"module"`
	Method    string          `json:"method,omitempty"`
	Params    []any           `json:"params,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Result    string          `json:"result,omitempty"`
	RID       string          `json:"rid,omitempty"`
	Version   string          `json:"v,omitempty"`
	Lang      string          `json:"lang,omitempty"`
	UserID    int64           `json:"userID,omitempty"`
	SessionID string          `json:"sessionID,omitempty"`
	Partial   bool            `json:"partial,omitempty"`
	Roles     json.RawMessage `json:"roles,omitempty"`
	Depts     json.RawMessage `json:"depts,omitempty"`
	Text      string          `json:"message,omitempty"`
	Code      json.RawMessage `json:"code,omitempty"`
}

// New builds a chat module request.
func New(method string, params ...any) *Message {
	return &Message{
		Module: DefaultModule,
		Method: method,
		Params: params,
	}
}

// Pathname is the lowercased module, or module/method when a method is set.
func (m *Message) Pathname() string {
	return Pathname(m.Module, m.Method)
}

// Pathname joins module and method the same way Message.Pathname does.
func Pathname(module, method string) string {
	if method == "" {
		return strings.ToLower(module)
	}
	return strings.ToLower(module + "/" + method)
}

// IsSuccess reports whether the result is success or absent.
func (m *Message) IsSuccess() bool {
	return m.Result == "" || m.Result == ResultSuccess
}

// HasData reports whether a non-null data payload is present.
func (m *Message) HasData() bool {
	trimmed := strings.TrimSpace(string(m.Data))
	return trimmed != "" && trimmed != "null"
}

// SetData marshals v into Data.
func (m *Message) SetData(v any) error {
	if v == nil {
		m.Data = nil
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Data = raw
	return nil
}

// DecodeData unmarshals Data into v.
func (m *Message) DecodeData(v any) error {
	if !m.HasData() {
		return ErrMalformedPayload
	}
	return json.Unmarshal(m.Data, v)
}

// DataValue returns Data decoded into a generic value, or nil when absent or
// undecodable.
func (m *Message) DataValue() any {
	if !m.HasData() {
		return nil
	}
	var v any
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return nil
	}
	return v
}

// Clone returns a copy that shares no slices with m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Params != nil {
		out.Params = append([]any(nil), m.Params...)
	}
	out.Data = cloneRaw(m.Data)
	out.Roles = cloneRaw(m.Roles)
	out.Depts = cloneRaw(m.Depts)
	out.Code = cloneRaw(m.Code)
	return &out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
