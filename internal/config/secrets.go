package config

import "log/slog"

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: credentials, keys and
// webhook URLs are masked, and slices are copied so the result shares no
// mutable state with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Database.DSN,
		&out.Database.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Solana.TreasuryKey,
		&out.Solana.KeyPassword,
		&out.Valuation.APIKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}

	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	return out
}

// LogValue lets a *Config be passed straight to slog without leaking secrets.
func (c *Config) LogValue() slog.Value {
	return slog.AnyValue(RedactedConfig(c))
}

var _ slog.LogValuer = (*Config)(nil)

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
