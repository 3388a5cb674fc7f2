package notice

import "time"

// Window condition names understood by Config.
const (
	OnWindowHide = "onWindowHide"
	OnWindowBlur = "onWindowBlur"
)

// DefaultDelay is the trigger debounce window.
const DefaultDelay = 200 * time.Millisecond

// Config holds alert preferences. A nil *Config disables all alerts while
// counts are still computed.
type Config struct {
	MuteOnChatNotActive bool

	EnableSound        bool
	PlaySoundCondition string

	EnableWindowNotification    bool
	WindowNotificationCondition string
	SafeWindowNotification      bool

	FlashTrayIcon          bool
	FlashTrayIconCondition string

	MuteOnUserIsBusy bool

	Delay time.Duration
}

// DefaultConfig enables every alert while the window is hidden or blurred.
func DefaultConfig() *Config {
	return &Config{
		EnableSound:                 true,
		PlaySoundCondition:          OnWindowBlur,
		EnableWindowNotification:    true,
		WindowNotificationCondition: OnWindowHide,
		FlashTrayIcon:               true,
		FlashTrayIconCondition:      OnWindowBlur,
		MuteOnUserIsBusy:            true,
		Delay:                       DefaultDelay,
	}
}

// MatchWindowCondition reports whether the window state satisfies condition.
// Unknown or empty conditions always match.
func MatchWindowCondition(condition string, w Window) bool {
	if w == nil {
		return true
	}
	switch condition {
	case OnWindowHide:
		return !w.IsWindowOpen()
	case OnWindowBlur:
		return !w.IsWindowFocused()
	default:
		return true
	}
}
