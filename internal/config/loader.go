package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WIRESTATUS"
	envConfigDefaultPath = "WIRESTATUS_CONFIG_DEFAULT_PATH"
	defaultConfigDir     = "~/.wirestatus"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := newViper(cfg)

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// Reload re-reads an existing config file without writing defaults.
func Reload(path string) (Config, error) {
	cfg := Default()
	v := newViper(cfg)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func newViper(cfg Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("socket", cfg.Socket)
	v.SetDefault("default_channels", cfg.DefaultChannels)
	v.SetDefault("default_queries", cfg.DefaultQueries)
	v.SetDefault("override_notify", cfg.OverrideNotify)
	v.SetDefault("override_ignore", cfg.OverrideIgnore)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("admin_addr", cfg.AdminAddr)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("txrx_timeout", cfg.TxRxTimeout)
	v.SetDefault("drop_notify_linger", cfg.DropNotifyLinger)
	v.SetDefault("buffer_limit", cfg.BufferLimit)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return ExpandHome(explicitPath)
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	dir := ExpandHome(defaultConfigDir)
	if dir == defaultConfigDir {
		cwd, err := os.Getwd()
		if err != nil {
			return defaultConfigName
		}
		return filepath.Join(cwd, defaultConfigName)
	}
	return filepath.Join(dir, defaultConfigName)
}

// fileConfig is the on-disk shape of a freshly written config; durations are
// kept human readable.
type fileConfig struct {
	Socket            string `yaml:"socket"`
	DefaultChannels   string `yaml:"default_channels"`
	DefaultQueries    string `yaml:"default_queries"`
	OverrideNotify    string `yaml:"override_notify"`
	OverrideIgnore    string `yaml:"override_ignore"`
	LogLevel          string `yaml:"log_level"`
	AdminAddr         string `yaml:"admin_addr"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	TxRxTimeout       string `yaml:"txrx_timeout"`
	DropNotifyLinger  string `yaml:"drop_notify_linger"`
	BufferLimit       int    `yaml:"buffer_limit"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(fileConfig{
		Socket:            cfg.Socket,
		DefaultChannels:   cfg.DefaultChannels,
		DefaultQueries:    cfg.DefaultQueries,
		OverrideNotify:    cfg.OverrideNotify,
		OverrideIgnore:    cfg.OverrideIgnore,
		LogLevel:          cfg.LogLevel,
		AdminAddr:         cfg.AdminAddr,
		HeartbeatInterval: cfg.HeartbeatInterval.String(),
		TxRxTimeout:       cfg.TxRxTimeout.String(),
		DropNotifyLinger:  cfg.DropNotifyLinger.String(),
		BufferLimit:       cfg.BufferLimit,
		ShutdownTimeout:   cfg.ShutdownTimeout.String(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
