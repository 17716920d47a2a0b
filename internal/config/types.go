package config

// Config is the root configuration document (config.yaml or config.json).
//
// Secrets are usually not kept in the file: TOKEN, GUILD_ID, CLIENT_ID and
// WEBHOOK_URL from the environment (or a .env file) override the matching
// discord fields. See ApplyEnv.
type Config struct {
	Discord    DiscordConfig    `json:"discord"`
	Membership MembershipConfig `json:"membership"`
	Stats      StatsConfig      `json:"stats"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Ops        OpsConfig        `json:"ops,omitempty"`
}

type DiscordConfig struct {
	Token      string `json:"token,omitempty"`
	GuildID    string `json:"guild_id,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`

	// AllowedRoles lists role ids whose holders may use the bot commands.
	AllowedRoles []string `json:"allowed_roles"`

	// CommandTimeout bounds a single command handler (Go duration string).
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// RoleChoice is a selectable membership role.
type RoleChoice struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MembershipConfig controls the time-limited membership role.
//
// Defaults:
//   - data_dir: "./data"
//   - store_file: "<data_dir>/data.json"
//   - sweep_schedule: "* * * * *" (every minute)
//   - role_name: "elite"
type MembershipConfig struct {
	DataDir   string       `json:"data_dir,omitempty"`
	StoreFile string       `json:"store_file,omitempty"`
	Roles     []RoleChoice `json:"roles"`
	// RoleName picks the managed role out of Roles (case-insensitive).
	RoleName      string `json:"role_name,omitempty"`
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	// Signature is appended to direct messages.
	Signature string `json:"signature,omitempty"`
}

// StatsConfig controls the live statistics message.
// Leave channel_id empty to disable it.
type StatsConfig struct {
	ChannelID string `json:"channel_id,omitempty"`
	Price     int    `json:"price,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Schedule  string `json:"schedule,omitempty"`
	Title     string `json:"title,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Webhook LoggingWebhook `json:"webhook"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingWebhook mirrors warnings and errors into the log webhook.
type LoggingWebhook struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the audit log.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/audit.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls the asynchronous webhook event log.
//
// All durations are Go duration strings. If the section is omitted the
// notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// OpsConfig controls the optional HTTP server exposing /healthz, /metrics
// and pprof.
//
// Prefer binding to localhost. A non-loopback address requires a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
