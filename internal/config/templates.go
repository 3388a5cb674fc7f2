package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template returns a starter config file.
func Template() string {
	return clientTemplate
}

// WriteTemplate writes Template to path. An existing file is kept unless
// overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, []byte(clientTemplate), 0o600)
}

const clientTemplate = `[server]
url = "wss://chat.example.com/ws"
account = "alice"
# password = ""
server_name = "main"
server_version = "2.5.0"
device_class = "desktop"
lang = "en"

[session]
request_timeout = "15s"
login_timeout = "20s"
connect_timeout = "10s"
write_timeout = "15s"
ping_interval = "2m"
logout_grace = "500ms"
settings_upload_delay = "5s"
reconnect_initial_delay = "1s"
reconnect_max_delay = "1m"
reconnect_jitter = true

[notice]
mute_on_chat_not_active = false
enable_sound = true
play_sound_condition = "onWindowBlur"
enable_window_notification = true
window_notification_condition = "onWindowHide"
safe_window_notification = false
flash_tray_icon = true
flash_tray_icon_condition = "onWindowBlur"
mute_on_user_is_busy = true
debounce = "200ms"

[cache]
ttl = "30m"

[status]
addr = "127.0.0.1:7080"
cors_origins = ["http://localhost:3000"]
# token = ""

[settings]
path = ""
`
