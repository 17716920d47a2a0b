package config

import (
	"slices"
	"strings"

	logx "memberbot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections plus safe log fields.
// Secrets (token, webhook url, ops token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if !slices.Equal(oldCfg.Discord.AllowedRoles, newCfg.Discord.AllowedRoles) ||
		oldCfg.Discord.CommandTimeout != newCfg.Discord.CommandTimeout ||
		oldCfg.Discord.GuildID != newCfg.Discord.GuildID ||
		oldCfg.Discord.Token != newCfg.Discord.Token ||
		oldCfg.Discord.WebhookURL != newCfg.Discord.WebhookURL {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Int("discord.allowed_roles", len(newCfg.Discord.AllowedRoles)),
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.Bool("discord.webhook_changed", oldCfg.Discord.WebhookURL != newCfg.Discord.WebhookURL),
		)
	}

	if !slices.Equal(oldCfg.Membership.Roles, newCfg.Membership.Roles) ||
		oldCfg.Membership.RoleName != newCfg.Membership.RoleName ||
		oldCfg.SweepSchedule() != newCfg.SweepSchedule() ||
		oldCfg.StorePath() != newCfg.StorePath() ||
		oldCfg.Membership.Signature != newCfg.Membership.Signature {
		changed = append(changed, "membership")
		attrs = append(attrs,
			logx.String("membership.sweep_schedule", newCfg.SweepSchedule()),
			logx.String("membership.store", newCfg.StorePath()),
		)
	}

	if oldCfg.Stats != newCfg.Stats {
		changed = append(changed, "stats")
		attrs = append(attrs,
			logx.Bool("stats.enabled", strings.TrimSpace(newCfg.Stats.ChannelID) != ""),
			logx.Int("stats.price", newCfg.Stats.Price),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.webhook", newCfg.Logging.Webhook.Enabled),
		)
	}

	if !ptrEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !ptrEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Discord.Token != newCfg.Discord.Token || oldCfg.Discord.GuildID != newCfg.Discord.GuildID {
		out = append(out, "discord.token/guild_id")
	}
	if oldCfg.StorePath() != newCfg.StorePath() {
		out = append(out, "membership.store_file")
	}
	if oldCfg.SweepSchedule() != newCfg.SweepSchedule() || oldCfg.Membership.Signature != newCfg.Membership.Signature {
		out = append(out, "membership.sweep_schedule/signature")
	}
	if oldCfg.StatsSchedule() != newCfg.StatsSchedule() {
		out = append(out, "stats.schedule")
	}
	if !ptrEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !ptrEqual(oldCfg.Notifier, newCfg.Notifier) {
		out = append(out, "notifier")
	}
	return out
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
