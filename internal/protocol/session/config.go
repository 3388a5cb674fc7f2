package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session timing and identity defaults.
type Config struct {
	ConnectTimeout      time.Duration
	WriteTimeout        time.Duration
	RequestTimeout      time.Duration
	LoginTimeout        time.Duration
	PingInterval        time.Duration
	LogoutGrace         time.Duration
	SettingsUploadDelay time.Duration
	LatencyTTL          time.Duration
	ReadLimit           int64
	MinServerVersion    string
	ClientVersion       string
	Lang                string
	DeviceClass         string
	Backoff             BackoffConfig
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Second,
		WriteTimeout:        15 * time.Second,
		RequestTimeout:      15 * time.Second,
		LoginTimeout:        20 * time.Second,
		PingInterval:        2 * time.Minute,
		LogoutGrace:         500 * time.Millisecond,
		SettingsUploadDelay: 5 * time.Second,
		LatencyTTL:          20 * time.Second,
		ReadLimit:           8 * 1024 * 1024,
		MinServerVersion:    MinServerVersion,
		ClientVersion:       "0.1.0",
		Lang:                "en",
		DeviceClass:         "desktop",
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     time.Minute,
			Jitter:       true,
		},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	switch {
	case c.LogoutGrace == 0:
		c.LogoutGrace = d.LogoutGrace
	case c.LogoutGrace < 0:
		c.LogoutGrace = 0
	}
	if c.SettingsUploadDelay <= 0 {
		c.SettingsUploadDelay = d.SettingsUploadDelay
	}
	if c.LatencyTTL <= 0 {
		c.LatencyTTL = d.LatencyTTL
	}
	if c.MinServerVersion == "" {
		c.MinServerVersion = d.MinServerVersion
	}
	if c.DeviceClass == "" {
		c.DeviceClass = d.DeviceClass
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
