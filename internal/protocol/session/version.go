package session

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// MinServerVersion is the oldest server protocol the client accepts.
const MinServerVersion = "1.2.0"

// Features lists server capabilities derived from its version.
type Features struct {
	MessageOrder      bool `json:"message_order"`
	UserGetListWithID bool `json:"user_get_list_with_id"`
	SecureSocket      bool `json:"wss"`
	Todo              bool `json:"todo"`
	SocketPing        bool `json:"socket_ping"`
	RemoteExtension   bool `json:"remote_extension"`
	MuteChat          bool `json:"mute_chat"`
	HideChat          bool `json:"hide_chat"`
	ChangePwdWithMD5  bool `json:"change_pwd_with_md5"`
	RetractMessage    bool `json:"retract_message"`
	ChatTyping        bool `json:"chat_typing"`
	NeedSendBroadcast bool `json:"need_send_broadcast"`
}

// CanonicalVersion converts "1.2.0" or "v1.2.0" to semver form. It returns ""
// for empty or invalid input.
func CanonicalVersion(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if v[0] == 'V' {
		v = "v" + v[1:]
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// CheckServerVersion rejects servers older than min.
func CheckServerVersion(server, min string) error {
	if strings.TrimSpace(server) == "" {
		return ErrVersionUnknown
	}
	sv := CanonicalVersion(server)
	if sv == "" {
		return fmt.Errorf("%w: %q", ErrVersionUnknown, server)
	}
	mv := CanonicalVersion(min)
	if mv == "" {
		mv = CanonicalVersion(MinServerVersion)
	}
	if semver.Compare(sv, mv) < 0 {
		return fmt.Errorf("%w: server %s, require %s", ErrVersionUnsupported, strings.TrimPrefix(sv, "v"), strings.TrimPrefix(mv, "v"))
	}
	return nil
}

// FeaturesFor derives capabilities from the server version. Unknown
// versions support nothing.
func FeaturesFor(server string) Features {
	sv := CanonicalVersion(server)
	if sv == "" {
		return Features{}
	}
	cmp := func(v string) int { return semver.Compare(sv, v) }
	return Features{
		MessageOrder:      cmp("v1.3.0") >= 0,
		UserGetListWithID: cmp("v1.3.0") >= 0,
		SecureSocket:      cmp("v1.3.0") > 0,
		Todo:              cmp("v1.4.0") > 0,
		SocketPing:        cmp("v1.4.0") > 0,
		RemoteExtension:   cmp("v1.5.0") > 0,
		MuteChat:          cmp("v1.6.0") > 0,
		HideChat:          cmp("v1.6.0") > 0,
		ChangePwdWithMD5:  cmp("v2.0.0") > 0,
		RetractMessage:    cmp("v2.4.0") >= 0,
		ChatTyping:        cmp("v2.4.0") >= 0,
		NeedSendBroadcast: cmp("v2.4.0") < 0,
	}
}
