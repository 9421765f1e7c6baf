package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Socket          string `mapstructure:"socket" yaml:"socket"`
	DefaultChannels string `mapstructure:"default_channels" yaml:"default_channels"`
	DefaultQueries  string `mapstructure:"default_queries" yaml:"default_queries"`
	OverrideNotify  string `mapstructure:"override_notify" yaml:"override_notify"`
	OverrideIgnore  string `mapstructure:"override_ignore" yaml:"override_ignore"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	AdminAddr string `mapstructure:"admin_addr" yaml:"admin_addr"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	TxRxTimeout       time.Duration `mapstructure:"txrx_timeout" yaml:"txrx_timeout"`
	DropNotifyLinger  time.Duration `mapstructure:"drop_notify_linger" yaml:"drop_notify_linger"`
	BufferLimit       int           `mapstructure:"buffer_limit" yaml:"buffer_limit"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Socket:            "~/.wirestatus/rstatus_sock",
		DefaultChannels:   "notify",
		DefaultQueries:    "notify",
		LogLevel:          "info",
		HeartbeatInterval: 10 * time.Minute,
		TxRxTimeout:       time.Minute,
		DropNotifyLinger:  10 * time.Second,
		BufferLimit:       8192,
		ShutdownTimeout:   5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Socket != "" {
		c.Socket = other.Socket
	}
	if other.DefaultChannels != "" {
		c.DefaultChannels = other.DefaultChannels
	}
	if other.DefaultQueries != "" {
		c.DefaultQueries = other.DefaultQueries
	}
	if other.OverrideNotify != "" {
		c.OverrideNotify = other.OverrideNotify
	}
	if other.OverrideIgnore != "" {
		c.OverrideIgnore = other.OverrideIgnore
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.TxRxTimeout != 0 {
		c.TxRxTimeout = other.TxRxTimeout
	}
	if other.DropNotifyLinger != 0 {
		c.DropNotifyLinger = other.DropNotifyLinger
	}
	if other.BufferLimit != 0 {
		c.BufferLimit = other.BufferLimit
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// SocketPath returns the socket path with a leading ~ expanded.
func (c Config) SocketPath() string {
	return ExpandHome(c.Socket)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
