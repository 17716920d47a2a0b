package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepSchedule = "* * * * *"
	DefaultStatsSchedule = "*/5 * * * *"
	DefaultRoleName      = "elite"
)

// Environment variable names for secrets and ids.
const (
	EnvToken      = "TOKEN"
	EnvGuildID    = "GUILD_ID"
	EnvClientID   = "CLIENT_ID"
	EnvWebhookURL = "WEBHOOK_URL"
)

// CronParser accepts 5-field specs, optional seconds and descriptors like @every 1m.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// LoadDotenv loads the given .env files when they exist. Variables already
// present in the process environment are not overwritten.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat dotenv %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load dotenv %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides discord secrets with non-empty environment values.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Discord.Token, EnvToken)
	set(&c.Discord.GuildID, EnvGuildID)
	set(&c.Discord.ClientID, EnvClientID)
	set(&c.Discord.WebhookURL, EnvWebhookURL)
}

// ManagedRole returns the membership role selected by membership.role_name.
func (c *Config) ManagedRole() (RoleChoice, bool) {
	name := strings.TrimSpace(c.Membership.RoleName)
	if name == "" {
		name = DefaultRoleName
	}
	for _, r := range c.Membership.Roles {
		if strings.EqualFold(strings.TrimSpace(r.Name), name) {
			return r, strings.TrimSpace(r.Value) != ""
		}
	}
	return RoleChoice{}, false
}

func (c *Config) DataDir() string {
	if d := strings.TrimSpace(c.Membership.DataDir); d != "" {
		return d
	}
	return "./data"
}

// StorePath is the membership record document.
func (c *Config) StorePath() string {
	if p := strings.TrimSpace(c.Membership.StoreFile); p != "" {
		return p
	}
	return filepath.Join(c.DataDir(), "data.json")
}

func (c *Config) StatePath() string { return filepath.Join(c.DataDir(), "state.json") }

func (c *Config) StatsMessagePath() string {
	return filepath.Join(c.DataDir(), "statsMessage.json")
}

func (c *Config) SweepSchedule() string {
	if s := strings.TrimSpace(c.Membership.SweepSchedule); s != "" {
		return s
	}
	return DefaultSweepSchedule
}

func (c *Config) StatsSchedule() string {
	if s := strings.TrimSpace(c.Stats.Schedule); s != "" {
		return s
	}
	return DefaultStatsSchedule
}

// Validate checks a fully resolved config (after ApplyEnv).
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, fmt.Errorf("discord.token (or %s) is required", EnvToken))
	}
	if strings.TrimSpace(c.Discord.GuildID) == "" {
		errs = append(errs, fmt.Errorf("discord.guild_id (or %s) is required", EnvGuildID))
	}
	if len(c.Discord.AllowedRoles) == 0 {
		errs = append(errs, errors.New("discord.allowed_roles must not be empty"))
	}
	if _, ok := c.ManagedRole(); !ok {
		errs = append(errs, fmt.Errorf("membership.roles has no entry named %q", roleNameOrDefault(c)))
	}
	if _, err := CronParser.Parse(c.SweepSchedule()); err != nil {
		errs = append(errs, fmt.Errorf("membership.sweep_schedule: %w", err))
	}
	if _, err := CronParser.Parse(c.StatsSchedule()); err != nil {
		errs = append(errs, fmt.Errorf("stats.schedule: %w", err))
	}
	if c.Stats.Price < 0 {
		errs = append(errs, errors.New("stats.price must be >= 0"))
	}
	if _, err := ParseDurationField("discord.command_timeout", c.Discord.CommandTimeout); err != nil {
		errs = append(errs, err)
	}
	if n := c.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RetryMax < 0 || n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifier: workers, queue_size, retry_max and rate_per_sec must be >= 0"))
		}
		if _, err := ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
			errs = append(errs, err)
		}
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func roleNameOrDefault(c *Config) string {
	if n := strings.TrimSpace(c.Membership.RoleName); n != "" {
		return n
	}
	return DefaultRoleName
}
