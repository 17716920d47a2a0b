package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"memberbot/internal/commands"
	"memberbot/internal/config"
	"memberbot/internal/notifier"
	"memberbot/internal/storage"
	logx "memberbot/pkg/logx"
)

const defaultCommandTimeout = 10 * time.Second

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, nil
	case "file":
		if path == "" {
			path = filepath.Join(cfg.DataDir(), "audit.jsonl")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig defaults to an enabled notifier when the section is
// omitted; it still needs a webhook url to send anything.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{Enabled: true, Workers: 1, QueueSize: 256, RatePerSec: 2, RetryMax: 3}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return out, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return out, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Webhook: logx.WebhookConfig{
			Enabled:    l.Webhook.Enabled && strings.TrimSpace(cfg.Discord.WebhookURL) != "",
			MinLevel:   l.Webhook.MinLevel,
			RatePerSec: l.Webhook.RatePerSec,
		},
	}
}

func commandSettings(cfg *config.Config) commands.Settings {
	role, _ := cfg.ManagedRole()
	// Validate already rejected a malformed timeout.
	timeout, _ := config.ParseDurationOrDefault("discord.command_timeout", cfg.Discord.CommandTimeout, defaultCommandTimeout)
	return commands.Settings{
		AllowedRoles: append([]string(nil), cfg.Discord.AllowedRoles...),
		RoleID:       role.Value,
		RoleName:     role.Name,
		Signature:    cfg.Membership.Signature,
		Timeout:      timeout,
	}
}
