package im

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatlink/internal/clock"
	"github.com/danmuck/chatlink/internal/events"
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/danmuck/chatlink/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// SettingsVersion is bumped when stored settings become incompatible.
const SettingsVersion = 1

// Settings keys with meaning to the client.
const (
	SettingLastSaveTime   = "lastSaveTime"
	SettingHash           = "hash"
	SettingAutoReconnect  = "user.autoReconnect"
	SettingEnableSound    = "ui.notify.enableSound"
	SettingWindowNotify   = "ui.notify.enableWindowNotification"
	SettingFlashTray      = "ui.notify.flashTrayIcon"
	SettingMuteOnBusy     = "ui.notify.muteOnUserIsBusy"
	localSettingPrefix    = "local."
	defaultSettingsUpload = 5 * time.Second
)

// UploadFunc sends exported settings to the server. It must not wait for
// the reply.
type UploadFunc func(ctx context.Context, settings map[string]any) error

type SettingsOptions struct {
	Path        string
	Clock       clock.Clock
	Bus         *events.Bus
	UploadDelay time.Duration
	Upload      UploadFunc
}

// SettingsStore holds user settings, tracks local changes for upload and
// persists a local copy as TOML.
type SettingsStore struct {
	mu       sync.Mutex
	path     string
	clock    clock.Clock
	bus      *events.Bus
	upload   UploadFunc
	values   map[string]any
	changes  map[string]any
	hash     string
	log      zerolog.Logger
	uploader *events.Debouncer[map[string]any]
}

type settingsFile struct {
	Version      int            `toml:"version"`
	LastSaveTime int64          `toml:"last_save_time"`
	Hash         string         `toml:"hash"`
	Values       map[string]any `toml:"values"`
}

// DefaultSettings are the values a fresh user starts with.
func DefaultSettings() map[string]any {
	return map[string]any{
		SettingAutoReconnect: true,
		SettingEnableSound:   true,
		SettingWindowNotify:  true,
		SettingFlashTray:     true,
		SettingMuteOnBusy:    true,
	}
}

func NewSettingsStore(opts SettingsOptions) *SettingsStore {
	delay := opts.UploadDelay
	if delay <= 0 {
		delay = defaultSettingsUpload
	}
	s := &SettingsStore{
		path:    opts.Path,
		clock:   clock.OrReal(opts.Clock),
		bus:     opts.Bus,
		upload:  opts.Upload,
		values:  DefaultSettings(),
		changes: map[string]any{},
		log:     logging.Component("settings"),
	}
	s.uploader = events.NewDebouncer(s.clock, delay, mergeSettings, func(map[string]any) {
		if err := s.Upload(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("settings upload")
		}
	})
	return s
}

func mergeSettings(acc, next map[string]any) map[string]any {
	if acc == nil {
		acc = make(map[string]any, len(next))
	}
	for k, v := range next {
		acc[k] = v
	}
	return acc
}

// SetUploader replaces the upload function.
func (s *SettingsStore) SetUploader(fn UploadFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload = fn
}

func (s *SettingsStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Values returns a copy of every setting.
func (s *SettingsStore) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeSettings(nil, s.values)
}

// Bool returns a boolean setting or def.
func (s *SettingsStore) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// LastSaveTime is the server save time in milliseconds.
func (s *SettingsStore) LastSaveTime() int64 {
	v, _ := s.Get(SettingLastSaveTime)
	return toInt64(v)
}

func (s *SettingsStore) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

// Set stores a value. Non-local changes are uploaded after the upload delay.
func (s *SettingsStore) Set(key string, value any) {
	s.SetMany(map[string]any{key: value})
}

// SetMany stores several values and schedules one upload.
func (s *SettingsStore) SetMany(values map[string]any) {
	changed := map[string]any{}
	s.mu.Lock()
	for k, v := range values {
		if cur, ok := s.values[k]; ok && fmt.Sprint(cur) == fmt.Sprint(v) {
			continue
		}
		s.values[k] = v
		if !strings.HasPrefix(k, localSettingPrefix) {
			s.changes[k] = v
			changed[k] = v
		}
	}
	s.mu.Unlock()
	if len(changed) > 0 {
		s.uploader.Trigger(changed)
	}
}

// Pending returns non-local changes not yet uploaded.
func (s *SettingsStore) Pending() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeSettings(nil, s.changes)
}

// Export returns the uploadable settings. A full export carries a hash of its
// contents and remembers it.
func (s *SettingsStore) Export(onlyChanges bool) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.values
	if onlyChanges {
		src = s.changes
	}
	out := make(map[string]any, len(src))
	for k := range src {
		if strings.HasPrefix(k, localSettingPrefix) || k == SettingHash {
			continue
		}
		out[k] = s.values[k]
	}
	if len(out) == 0 {
		return nil
	}
	if !onlyChanges {
		raw, err := json.Marshal(out)
		if err == nil {
			s.hash = session.MD5Hex(string(raw))
			out[SettingHash] = s.hash
		}
	}
	return out
}

// Reset replaces all values with a server copy.
func (s *SettingsStore) Reset(values map[string]any) {
	s.uploader.Stop()
	s.mu.Lock()
	s.values = DefaultSettings()
	for k, v := range values {
		if k == SettingHash {
			continue
		}
		s.values[k] = v
	}
	if h, ok := values[SettingHash].(string); ok {
		s.hash = h
	}
	s.changes = map[string]any{}
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Emit(events.EventSettingsReset, s.Values())
	}
	if err := s.Save(); err != nil {
		s.log.Warn().Err(err).Msg("save settings")
	}
}

// ShouldReset reports whether a server copy is newer and differs.
func (s *SettingsStore) ShouldReset(values map[string]any) bool {
	if values == nil {
		return false
	}
	remote := toInt64(values[SettingLastSaveTime])
	hash, _ := values[SettingHash].(string)
	return remote > s.LastSaveTime() && hash != s.Hash()
}

// Upload sends the full export now and clears tracked changes.
func (s *SettingsStore) Upload(ctx context.Context) error {
	s.uploader.Stop()
	s.mu.Lock()
	upload := s.upload
	pending := len(s.changes)
	s.mu.Unlock()
	if upload == nil || pending == 0 {
		return nil
	}
	s.mu.Lock()
	s.values[SettingLastSaveTime] = s.clock.Now().UnixMilli()
	s.mu.Unlock()
	exported := s.Export(false)
	if err := upload(ctx, exported); err != nil {
		return err
	}
	s.mu.Lock()
	s.changes = map[string]any{}
	s.mu.Unlock()
	s.log.Debug().Int("keys", len(exported)).Msg("settings uploaded")
	return s.Save()
}

// Stop cancels a scheduled upload.
func (s *SettingsStore) Stop() {
	s.uploader.Stop()
}

// Load reads the local copy. A missing file or an old version keeps the
// defaults.
func (s *SettingsStore) Load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings %s: %w", s.path, err)
	}
	var file settingsFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode settings %s: %w", s.path, err)
	}
	if file.Version != SettingsVersion {
		s.log.Info().Int("version", file.Version).Msg("discarding stale settings")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = DefaultSettings()
	for k, v := range file.Values {
		s.values[k] = v
	}
	if file.LastSaveTime != 0 {
		s.values[SettingLastSaveTime] = file.LastSaveTime
	}
	s.hash = file.Hash
	return nil
}

// Save writes the local copy.
func (s *SettingsStore) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	file := settingsFile{
		Version: SettingsVersion,
		Hash:    s.hash,
		Values:  make(map[string]any, len(s.values)),
	}
	for k, v := range s.values {
		if k == SettingLastSaveTime {
			file.LastSaveTime = toInt64(v)
			continue
		}
		file.Values[k] = v
	}
	s.mu.Unlock()

	raw, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case json.Number:
		n, _ := x.Int64()
		return n
	default:
		return 0
	}
}
