package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/chatcache"
	"github.com/danmuck/chatlink/internal/notice"
	"github.com/danmuck/chatlink/internal/protocol/session"
	"github.com/danmuck/chatlink/internal/testutil/testlog"
)

func TestTemplateLoadsAndValidates(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "chatlink.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Server.URL != "wss://chat.example.com/ws" || cfg.Server.Account != "alice" {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Session.RequestTimeout != 15*time.Second || cfg.Session.LoginTimeout != 20*time.Second {
		t.Fatalf("unexpected timeouts: request=%v login=%v", cfg.Session.RequestTimeout, cfg.Session.LoginTimeout)
	}
	if cfg.Notice == nil || cfg.Notice.Delay != notice.DefaultDelay {
		t.Fatalf("unexpected notice config: %+v", cfg.Notice)
	}
	if cfg.Cache.TTL != chatcache.DefaultTTL {
		t.Fatalf("unexpected cache ttl: %v", cfg.Cache.TTL)
	}
	if cfg.Status.Addr != "127.0.0.1:7080" || len(cfg.Status.CORSOrigins) != 1 {
		t.Fatalf("unexpected status: %+v", cfg.Status)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nested", "chatlink.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing file error")
	}
	if err := os.WriteFile(path, []byte("junk"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != Template() {
		t.Fatalf("template not written")
	}
}

func TestMinimalFileUsesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(`
[server]
url = "ws://127.0.0.1:8080/ws"
account = "bob"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := session.DefaultConfig()
	if cfg.Session.RequestTimeout != def.RequestTimeout || cfg.Session.PingInterval != def.PingInterval {
		t.Fatalf("session defaults lost: %+v", cfg.Session)
	}
	if cfg.Notice != nil {
		t.Fatalf("absent notice section must disable alerts, got=%+v", cfg.Notice)
	}
	if cfg.Status.Addr != Default().Status.Addr {
		t.Fatalf("unexpected status addr: %q", cfg.Status.Addr)
	}
}

func TestOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(`
[server]
url = "wss://chat.test/ws"
account = " carol "
device_class = "mobile"

[session]
request_timeout = "3s"
logout_grace = "0s"
reconnect_jitter = false

[notice]
enable_sound = false
play_sound_condition = "onWindowHide"

[cache]
ttl = "5m"

[status]
addr = ""
cors_origins = [" http://a ", ""]
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Account != "carol" || cfg.Session.DeviceClass != "mobile" {
		t.Fatalf("unexpected server: %+v class=%q", cfg.Server, cfg.Session.DeviceClass)
	}
	if cfg.Session.RequestTimeout != 3*time.Second || cfg.Session.LogoutGrace != 0 {
		t.Fatalf("unexpected session: %+v", cfg.Session)
	}
	if cfg.Session.LoginTimeout != 20*time.Second {
		t.Fatalf("undefined key changed: %v", cfg.Session.LoginTimeout)
	}
	if cfg.Session.Backoff.Jitter {
		t.Fatalf("expected jitter disabled")
	}
	if got := cfg.ClientOptions().Session.LogoutGrace; got >= 0 {
		t.Fatalf("zero grace must disable the delay, got=%v", got)
	}
	if cfg.Notice == nil || cfg.Notice.EnableSound || cfg.Notice.PlaySoundCondition != notice.OnWindowHide {
		t.Fatalf("unexpected notice: %+v", cfg.Notice)
	}
	if !cfg.Notice.EnableWindowNotification || !cfg.Notice.MuteOnUserIsBusy {
		t.Fatalf("notice defaults lost: %+v", cfg.Notice)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Fatalf("unexpected ttl: %v", cfg.Cache.TTL)
	}
	if cfg.Status.Addr != "" || len(cfg.Status.CORSOrigins) != 1 || cfg.Status.CORSOrigins[0] != "http://a" {
		t.Fatalf("unexpected status: %+v", cfg.Status)
	}
}

func TestValidateRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		data string
		want error
	}{
		{"missing url", "[server]\naccount = \"a\"\n", ErrInvalidServer},
		{"http url", "[server]\nurl = \"http://x/ws\"\naccount = \"a\"\n", ErrInvalidServer},
		{"missing account", "[server]\nurl = \"ws://x/ws\"\n", ErrInvalidServer},
		{"bad duration", "[server]\nurl = \"ws://x/ws\"\naccount = \"a\"\n[session]\nrequest_timeout = \"soon\"\n", ErrInvalidDuration},
		{"zero duration", "[server]\nurl = \"ws://x/ws\"\naccount = \"a\"\n[cache]\nttl = \"0s\"\n", ErrInvalidDuration},
		{"negative grace", "[server]\nurl = \"ws://x/ws\"\naccount = \"a\"\n[session]\nlogout_grace = \"-1s\"\n", ErrInvalidDuration},
		{"zero debounce", "[server]\nurl = \"ws://x/ws\"\naccount = \"a\"\n[notice]\ndebounce = \"0s\"\n", ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err got=%v want=%v", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestClientOptionsAndUser(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(`
[server]
url = "wss://chat.test/ws"
account = "dave"
password = "secret"
server_version = "2.5.0"

[notice]
safe_window_notification = true

[settings]
path = "/tmp/dave.toml"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	opts := cfg.ClientOptions()
	if opts.Notice == nil || !opts.Notice.SafeWindowNotification {
		t.Fatalf("notice not carried: %+v", opts.Notice)
	}
	opts.Notice.SafeWindowNotification = false
	if !cfg.Notice.SafeWindowNotification {
		t.Fatalf("client options must copy the notice config")
	}
	if opts.SettingsPath != "/tmp/dave.toml" || opts.CacheTTL != chatcache.DefaultTTL {
		t.Fatalf("unexpected options: %+v", opts)
	}
	u := cfg.User("")
	id := u.Identity()
	if id.SocketURL != "wss://chat.test/ws" || id.PasswordHash != session.MD5Hex("secret") {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if other := cfg.User("override"); other.Identity().PasswordHash != session.MD5Hex("override") {
		t.Fatalf("explicit password ignored")
	}
}
