package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

type Config struct {
	Env                     string
	DatabaseDriver          string
	DatabaseURL             string
	DiscordToken            string
	DiscordDefaultChannelID string
	SeriesChannels          map[string]string
	SeriesRoles             map[string]string
	PollSchedule            string
	ReapSchedule            string
	CalendarSchedule        string
	SendWorkers             int
	SendRatePerSec          float64
	SendTimeout             time.Duration
	ShutdownTimeout         time.Duration
	WeekendSpan             time.Duration
	RetireMessages          bool
	AlertWebhookURL         string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.DiscordDefaultChannelID == "" && len(c.SeriesChannels) == 0 {
		return fmt.Errorf("DISCORD_DEFAULT_CHANNEL_ID or SERIES_CHANNELS is required")
	}
	if c.SendWorkers <= 0 {
		return fmt.Errorf("SEND_WORKERS must be positive, got %d", c.SendWorkers)
	}
	if c.SendRatePerSec <= 0 {
		return fmt.Errorf("SEND_RATE_PER_SEC must be positive, got %v", c.SendRatePerSec)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive, got %s", c.SendTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// ValidateDatabase checks only what the schedule store needs, for tools that
// never talk to Discord.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DatabaseDriverPostgres, DatabaseDriverSQLite, c.DatabaseDriver)
	}
	if c.WeekendSpan <= 0 {
		return fmt.Errorf("WEEKEND_SPAN must be positive, got %s", c.WeekendSpan)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_DRIVER", value: c.DatabaseDriver},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "POLL_SCHEDULE", value: c.PollSchedule},
		{name: "REAP_SCHEDULE", value: c.ReapSchedule},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ChannelFor resolves the notification channel of a series, falling back to
// the default channel.
func (c *Config) ChannelFor(series string) string {
	if ch := strings.TrimSpace(c.SeriesChannels[series]); ch != "" {
		return ch
	}
	return c.DiscordDefaultChannelID
}

// RoleFor returns the role mentioned in notifications of a series, or "".
func (c *Config) RoleFor(series string) string {
	return strings.TrimSpace(c.SeriesRoles[series])
}
