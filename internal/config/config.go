// Package config loads the sync core's fixed operational knobs (spec.md
// §6) via viper, with fsnotify-driven hot reload for the handful of
// settings safe to change without restarting an agent, mirroring the
// teacher's intended config.Config + CLI config-file flag shape.
package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every spec.md §6 knob plus the ambient log level.
type Config struct {
	BackfillWindow   time.Duration `mapstructure:"backfill_window"`
	IdleMax          time.Duration `mapstructure:"idle_max"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryCap         time.Duration `mapstructure:"retry_cap"`
	WSHeartbeat      time.Duration `mapstructure:"ws_heartbeat"`
	WSWriteTimeout   time.Duration `mapstructure:"ws_write_timeout"`
	SessionQueue     int           `mapstructure:"session_queue"`
	ShutdownDeadline time.Duration `mapstructure:"shutdown_deadline"`

	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("backfill_window", 24*time.Hour)
	v.SetDefault("idle_max", 28*time.Minute)
	v.SetDefault("connect_timeout", 15*time.Second)
	v.SetDefault("fetch_timeout", 30*time.Second)
	v.SetDefault("retry_base", 5*time.Second)
	v.SetDefault("retry_cap", 60*time.Second)
	v.SetDefault("ws_heartbeat", 30*time.Second)
	v.SetDefault("ws_write_timeout", 5*time.Second)
	v.SetDefault("session_queue", 256)
	v.SetDefault("shutdown_deadline", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
}

// Loader owns the viper instance and hands out hot-reloaded snapshots.
type Loader struct {
	v      *viper.Viper
	logger *slog.Logger

	mu  sync.RWMutex
	cur Config
}

// Load reads path (if non-empty) plus SYNC_CORE_-prefixed env overrides,
// and starts watching path for changes.
func Load(path string, logger *slog.Logger) (*Loader, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("SYNC_CORE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	l := &Loader{v: v, logger: logger}
	if err := l.reload(); err != nil {
		return nil, err
	}

	if path != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			if err := l.reload(); err != nil {
				logger.Error("config: reload failed, keeping previous values", "err", err)
				return
			}
			logger.Info("config: reloaded", "path", path)
		})
		v.WatchConfig()
	}

	return l, nil
}

func (l *Loader) reload() error {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	l.mu.Lock()
	l.cur = c
	l.mu.Unlock()
	return nil
}

// Current returns the latest loaded configuration. Agent-affecting fields
// (timeouts, retry ladder, backfill window) are read once at agent start;
// only LogLevel is treated as safe to apply without a RestartAll.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}
