package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/danmuck/chatlink/internal/protocol"
)

func (s *Session) identity() (Identity, error) {
	p := s.Principal()
	if p == nil {
		return Identity{}, ErrPrincipalRequired
	}
	return p.Identity(), nil
}

// SyncSettings asks the server for the stored user settings. The reply is
// handled by the chat/settings route.
func (s *Session) SyncSettings(ctx context.Context) (*PendingRequest, error) {
	id, err := s.identity()
	if err != nil {
		return nil, err
	}
	return s.Request(ctx, protocol.New("settings", id.Account, ""), nil)
}

// UploadSettings stores settings on the server.
func (s *Session) UploadSettings(ctx context.Context, settings any) (*PendingRequest, error) {
	id, err := s.identity()
	if err != nil {
		return nil, err
	}
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	return s.Request(ctx, protocol.New("settings", id.Account, settings), nil)
}

// ChangeUser submits profile changes for the signed-in account.
func (s *Session) ChangeUser(ctx context.Context, changes map[string]any) (any, error) {
	id, err := s.identity()
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		payload[k] = v
	}
	payload["account"] = id.Account
	return s.SendAndListen(ctx, protocol.New("userchange", payload), nil)
}

// ChangeUserStatus changes the presence status name.
func (s *Session) ChangeUserStatus(ctx context.Context, status string) (any, error) {
	return s.ChangeUser(ctx, map[string]any{"status": status})
}

// ChangeUserPassword submits a new password hashed the way the server
// version expects.
func (s *Session) ChangeUserPassword(ctx context.Context, password string) (any, error) {
	id, err := s.identity()
	if err != nil {
		return nil, err
	}
	if id.LDAP {
		return nil, ErrPasswordUnsupported
	}
	hashed := MD5Hex(password)
	if !s.Features().ChangePwdWithMD5 {
		hashed = MD5Hex(hashed + id.Account)
	}
	return s.ChangeUser(ctx, map[string]any{"password": hashed})
}

// FetchUserList requests member records. The id list goes out as the first
// param; no ids sends "" and requests every member.
func (s *Session) FetchUserList(ctx context.Context, ids ...int64) (any, error) {
	var list any = ""
	if len(ids) > 0 {
		list = ids
	}
	return s.SendAndListen(ctx, protocol.New("usergetlist", list), nil)
}

// MD5Hex returns the lowercase hex md5 of v.
func MD5Hex(v string) string {
	sum := md5.Sum([]byte(v))
	return hex.EncodeToString(sum[:])
}
