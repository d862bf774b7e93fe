package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ErrNoConfigFile is returned by Watch when configuration came only from defaults and env.
var ErrNoConfigFile = errors.New("no config file in use")

// Watch re-reads the config file whenever it changes and invokes onChange with
// the freshly validated configuration. Invalid edits are logged and skipped so
// the running process keeps its last good configuration.
//
// Only settings that are safe to apply live (such as the log level) should be
// consumed by onChange; listeners, pools and storage clients are not rebuilt.
func Watch(configPath string, onChange func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// String satisfies fmt.Stringer without leaking secrets into logs.
func (c *Config) String() string {
	return fmt.Sprintf("Config{server=%s storage=%s db=%s/%s log=%s}",
		c.Server.GetAddress(), c.Storage.DefaultBackend, c.Database.Host, c.Database.Name, c.Logging.Level)
}
