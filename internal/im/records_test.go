package im

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/protocol/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecordsShapes(t *testing.T) {
	nonEmpty := func(m Member) bool { return m.ID != 0 }
	cases := []struct {
		name string
		raw  string
		want []int64
	}{
		{"array", `[{"id":1},{"id":2}]`, []int64{1, 2}},
		{"single", `{"id":3,"account":"c"}`, []int64{3}},
		{"keyed", `{"b":{"id":5},"a":{"id":4}}`, []int64{4, 5}},
		{"null", `null`, nil},
		{"empty", ``, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeRecords[Member](json.RawMessage(tc.raw), nonEmpty)
			require.NoError(t, err)
			var ids []int64
			for _, m := range got {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}

	_, err := decodeRecords[Member](json.RawMessage(`"text"`), nonEmpty)
	assert.Error(t, err)
}

func TestChatMessageTimeUnits(t *testing.T) {
	sec := ChatMessage{Date: 1700000000}
	ms := ChatMessage{Date: 1700000000123}
	assert.Equal(t, time.Unix(1700000000, 0), sec.Time())
	assert.Equal(t, time.UnixMilli(1700000000123), ms.Time())
}

func TestNewUserHashesOnce(t *testing.T) {
	u := NewUser(sessionIdentity("alice"), "secret")
	assert.Equal(t, "5ebe2294ecd0e0f08eab7690d2a6ee69", u.Identity().PasswordHash)
	again := NewUser(sessionIdentity("alice"), "5EBE2294ECD0E0F08EAB7690D2A6EE69")
	assert.Equal(t, "5ebe2294ecd0e0f08eab7690d2a6ee69", again.Identity().PasswordHash)
	assert.Equal(t, StatusUnverified, u.Status())
}

func TestUserApplyAdoptsProfile(t *testing.T) {
	u := NewUser(sessionIdentity("alice"), "")
	require.NoError(t, u.apply(json.RawMessage(`{"id":7,"realname":"Alice","status":"busy"}`)))
	assert.Equal(t, int64(7), u.ID())
	assert.Equal(t, int64(7), u.Identity().ID)
	assert.True(t, u.IsBusy())
	assert.True(t, IsOnlineStatus(StatusAway))
	assert.False(t, IsOnlineStatus(StatusDisconnect))
}

func sessionIdentity(account string) session.Identity {
	return session.Identity{Account: account, SocketURL: "ws://chat.test/ws", ServerVersion: "2.5.0"}
}
