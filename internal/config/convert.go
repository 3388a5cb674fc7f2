package config

import (
	"github.com/danmuck/chatlink/internal/im"
	"github.com/danmuck/chatlink/internal/notice"
	"github.com/danmuck/chatlink/internal/protocol/session"
)

// Identity is the session identity described by the [server] section.
func (c Config) Identity() session.Identity {
	return session.Identity{
		Account:       c.Server.Account,
		ServerName:    c.Server.ServerName,
		SocketURL:     c.Server.URL,
		ServerVersion: c.Server.ServerVersion,
		Token:         c.Server.Token,
		LDAP:          c.Server.LDAP,
	}
}

// User builds the principal for password. An empty password uses the
// configured one.
func (c Config) User(password string) *im.User {
	if password == "" {
		password = c.Server.Password
	}
	return im.NewUser(c.Identity(), password)
}

// ClientOptions maps the file onto im.Options. Clock, dialer and sinks are
// left for the caller.
func (c Config) ClientOptions() im.Options {
	var n *notice.Config
	if c.Notice != nil {
		cp := *c.Notice
		n = &cp
	}
	sess := c.Session
	if sess.LogoutGrace == 0 {
		// zero means default to the session; the file asked for none
		sess.LogoutGrace = -1
	}
	return im.Options{
		Session:      sess,
		Notice:       n,
		CacheTTL:     c.Cache.TTL,
		SettingsPath: c.Settings.Path,
	}
}
