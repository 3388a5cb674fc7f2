package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chatlink/internal/chatcache"
	"github.com/danmuck/chatlink/internal/notice"
	"github.com/danmuck/chatlink/internal/protocol/session"
)

var (
	ErrInvalidServer   = errors.New("config: invalid server section")
	ErrInvalidDuration = errors.New("config: invalid duration")
)

// ServerConfig identifies the chat server and account.
type ServerConfig struct {
	URL           string
	Account       string
	Password      string
	ServerName    string
	ServerVersion string
	Token         string
	LDAP          bool
}

type CacheConfig struct {
	TTL time.Duration
}

// StatusConfig is the local inspection HTTP surface. An empty Addr disables
// it and an empty Token leaves its POST routes open.
type StatusConfig struct {
	Addr        string
	CORSOrigins []string
	Token       string
}

type SettingsConfig struct {
	Path string
}

// Config is the resolved client configuration. Notice is nil when the file
// has no [notice] section, which disables alerts.
type Config struct {
	Server   ServerConfig
	Session  session.Config
	Notice   *notice.Config
	Cache    CacheConfig
	Status   StatusConfig
	Settings SettingsConfig
}

// Default returns the configuration used for keys absent from a file.
func Default() Config {
	return Config{
		Session: session.DefaultConfig(),
		Cache:   CacheConfig{TTL: chatcache.DefaultTTL},
		Status: StatusConfig{
			Addr:        "127.0.0.1:7080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

type fileConfig struct {
	Server   serverSection   `toml:"server"`
	Session  sessionSection  `toml:"session"`
	Notice   noticeSection   `toml:"notice"`
	Cache    cacheSection    `toml:"cache"`
	Status   statusSection   `toml:"status"`
	Settings settingsSection `toml:"settings"`
}

type serverSection struct {
	URL           string `toml:"url"`
	Account       string `toml:"account"`
	Password      string `toml:"password"`
	ServerName    string `toml:"server_name"`
	ServerVersion string `toml:"server_version"`
	Token         string `toml:"token"`
	LDAP          bool   `toml:"ldap"`
	DeviceClass   string `toml:"device_class"`
	Lang          string `toml:"lang"`
}

type sessionSection struct {
	RequestTimeout      string `toml:"request_timeout"`
	LoginTimeout        string `toml:"login_timeout"`
	ConnectTimeout      string `toml:"connect_timeout"`
	WriteTimeout        string `toml:"write_timeout"`
	PingInterval        string `toml:"ping_interval"`
	LogoutGrace         string `toml:"logout_grace"`
	SettingsUploadDelay string `toml:"settings_upload_delay"`
	MinServerVersion    string `toml:"min_server_version"`
	ReconnectInitial    string `toml:"reconnect_initial_delay"`
	ReconnectMax        string `toml:"reconnect_max_delay"`
	ReconnectJitter     bool   `toml:"reconnect_jitter"`
}

type noticeSection struct {
	MuteOnChatNotActive         bool   `toml:"mute_on_chat_not_active"`
	EnableSound                 bool   `toml:"enable_sound"`
	PlaySoundCondition          string `toml:"play_sound_condition"`
	EnableWindowNotification    bool   `toml:"enable_window_notification"`
	WindowNotificationCondition string `toml:"window_notification_condition"`
	SafeWindowNotification      bool   `toml:"safe_window_notification"`
	FlashTrayIcon               bool   `toml:"flash_tray_icon"`
	FlashTrayIconCondition      string `toml:"flash_tray_icon_condition"`
	MuteOnUserIsBusy            bool   `toml:"mute_on_user_is_busy"`
	Debounce                    string `toml:"debounce"`
}

type cacheSection struct {
	TTL string `toml:"ttl"`
}

type statusSection struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type settingsSection struct {
	Path string `toml:"path"`
}

// Load reads path and applies the keys it defines on top of Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	cfg, err := resolve(raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()
	s := raw.Server
	cfg.Server = ServerConfig{
		URL:           strings.TrimSpace(s.URL),
		Account:       strings.TrimSpace(s.Account),
		Password:      s.Password,
		ServerName:    strings.TrimSpace(s.ServerName),
		ServerVersion: strings.TrimSpace(s.ServerVersion),
		Token:         s.Token,
		LDAP:          s.LDAP,
	}
	if meta.IsDefined("server", "device_class") {
		cfg.Session.DeviceClass = strings.TrimSpace(s.DeviceClass)
	}
	if meta.IsDefined("server", "lang") {
		cfg.Session.Lang = strings.TrimSpace(s.Lang)
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"request_timeout", raw.Session.RequestTimeout, &cfg.Session.RequestTimeout},
		{"login_timeout", raw.Session.LoginTimeout, &cfg.Session.LoginTimeout},
		{"connect_timeout", raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"write_timeout", raw.Session.WriteTimeout, &cfg.Session.WriteTimeout},
		{"ping_interval", raw.Session.PingInterval, &cfg.Session.PingInterval},
		{"logout_grace", raw.Session.LogoutGrace, &cfg.Session.LogoutGrace},
		{"settings_upload_delay", raw.Session.SettingsUploadDelay, &cfg.Session.SettingsUploadDelay},
		{"reconnect_initial_delay", raw.Session.ReconnectInitial, &cfg.Session.Backoff.InitialDelay},
		{"reconnect_max_delay", raw.Session.ReconnectMax, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.value)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "min_server_version") {
		cfg.Session.MinServerVersion = strings.TrimSpace(raw.Session.MinServerVersion)
	}
	if meta.IsDefined("session", "reconnect_jitter") {
		cfg.Session.Backoff.Jitter = raw.Session.ReconnectJitter
	}

	if meta.IsDefined("notice") {
		n, err := resolveNotice(raw.Notice, meta)
		if err != nil {
			return Config{}, err
		}
		cfg.Notice = n
	}

	if meta.IsDefined("cache", "ttl") {
		v, err := parseDuration("ttl", raw.Cache.TTL)
		if err != nil {
			return Config{}, err
		}
		cfg.Cache.TTL = v
	}
	if meta.IsDefined("status", "addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.Status.Addr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.Status.CORSOrigins = normalizeList(raw.Status.CORSOrigins)
	}
	if meta.IsDefined("status", "token") {
		cfg.Status.Token = strings.TrimSpace(raw.Status.Token)
	}
	if meta.IsDefined("settings", "path") {
		cfg.Settings.Path = strings.TrimSpace(raw.Settings.Path)
	}
	return cfg, nil
}

func resolveNotice(raw noticeSection, meta toml.MetaData) (*notice.Config, error) {
	n := notice.DefaultConfig()
	flags := []struct {
		key   string
		value bool
		dst   *bool
	}{
		{"mute_on_chat_not_active", raw.MuteOnChatNotActive, &n.MuteOnChatNotActive},
		{"enable_sound", raw.EnableSound, &n.EnableSound},
		{"enable_window_notification", raw.EnableWindowNotification, &n.EnableWindowNotification},
		{"safe_window_notification", raw.SafeWindowNotification, &n.SafeWindowNotification},
		{"flash_tray_icon", raw.FlashTrayIcon, &n.FlashTrayIcon},
		{"mute_on_user_is_busy", raw.MuteOnUserIsBusy, &n.MuteOnUserIsBusy},
	}
	for _, f := range flags {
		if meta.IsDefined("notice", f.key) {
			*f.dst = f.value
		}
	}
	conditions := []struct {
		key   string
		value string
		dst   *string
	}{
		{"play_sound_condition", raw.PlaySoundCondition, &n.PlaySoundCondition},
		{"window_notification_condition", raw.WindowNotificationCondition, &n.WindowNotificationCondition},
		{"flash_tray_icon_condition", raw.FlashTrayIconCondition, &n.FlashTrayIconCondition},
	}
	for _, c := range conditions {
		if meta.IsDefined("notice", c.key) {
			*c.dst = strings.TrimSpace(c.value)
		}
	}
	if meta.IsDefined("notice", "debounce") {
		v, err := parseDuration("debounce", raw.Debounce)
		if err != nil {
			return nil, err
		}
		n.Delay = v
	}
	return n, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidDuration, key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate rejects configs the client cannot log in with.
func Validate(cfg Config) error {
	if cfg.Server.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidServer)
	}
	u, err := url.Parse(cfg.Server.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: url must be ws:// or wss://, got %q", ErrInvalidServer, cfg.Server.URL)
	}
	if cfg.Server.Account == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidServer)
	}
	positive := []struct {
		key string
		d   time.Duration
	}{
		{"session.request_timeout", cfg.Session.RequestTimeout},
		{"session.login_timeout", cfg.Session.LoginTimeout},
		{"session.connect_timeout", cfg.Session.ConnectTimeout},
		{"session.write_timeout", cfg.Session.WriteTimeout},
		{"session.ping_interval", cfg.Session.PingInterval},
		{"session.settings_upload_delay", cfg.Session.SettingsUploadDelay},
		{"session.reconnect_initial_delay", cfg.Session.Backoff.InitialDelay},
		{"session.reconnect_max_delay", cfg.Session.Backoff.MaxDelay},
		{"cache.ttl", cfg.Cache.TTL},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidDuration, p.key)
		}
	}
	if cfg.Session.LogoutGrace < 0 {
		return fmt.Errorf("%w: session.logout_grace must not be negative", ErrInvalidDuration)
	}
	if cfg.Notice != nil && cfg.Notice.Delay <= 0 {
		return fmt.Errorf("%w: notice.debounce must be positive", ErrInvalidDuration)
	}
	return nil
}
