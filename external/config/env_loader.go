package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/racenotif/internal/config"
)

type envConfig struct {
	Env                     string            `env:"ENV" envDefault:"production"`
	DatabaseDriver          string            `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL             string            `env:"DATABASE_URL,required"`
	DiscordToken            string            `env:"DISCORD_TOKEN,required"`
	DiscordDefaultChannelID string            `env:"DISCORD_DEFAULT_CHANNEL_ID"`
	SeriesChannels          map[string]string `env:"SERIES_CHANNELS"`
	SeriesRoles             map[string]string `env:"SERIES_ROLES"`
	PollSchedule            string            `env:"POLL_SCHEDULE" envDefault:"@every 5s"`
	ReapSchedule            string            `env:"REAP_SCHEDULE" envDefault:"@every 1m"`
	CalendarSchedule        string            `env:"CALENDAR_SCHEDULE" envDefault:"@every 5m"`
	SendWorkers             int               `env:"SEND_WORKERS" envDefault:"4"`
	SendRatePerSec          float64           `env:"SEND_RATE_PER_SEC" envDefault:"5"`
	SendTimeout             time.Duration     `env:"SEND_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout         time.Duration     `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	WeekendSpan             time.Duration     `env:"WEEKEND_SPAN" envDefault:"96h"`
	RetireMessages          bool              `env:"RETIRE_MESSAGES" envDefault:"true"`
	AlertWebhookURL         string            `env:"ALERT_WEBHOOK_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                     raw.Env,
		DatabaseDriver:          raw.DatabaseDriver,
		DatabaseURL:             raw.DatabaseURL,
		DiscordToken:            raw.DiscordToken,
		DiscordDefaultChannelID: raw.DiscordDefaultChannelID,
		SeriesChannels:          raw.SeriesChannels,
		SeriesRoles:             raw.SeriesRoles,
		PollSchedule:            raw.PollSchedule,
		ReapSchedule:            raw.ReapSchedule,
		CalendarSchedule:        raw.CalendarSchedule,
		SendWorkers:             raw.SendWorkers,
		SendRatePerSec:          raw.SendRatePerSec,
		SendTimeout:             raw.SendTimeout,
		ShutdownTimeout:         raw.ShutdownTimeout,
		WeekendSpan:             raw.WeekendSpan,
		RetireMessages:          raw.RetireMessages,
		AlertWebhookURL:         raw.AlertWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type importEnvConfig struct {
	Env            string        `env:"ENV" envDefault:"production"`
	DatabaseDriver string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	WeekendSpan    time.Duration `env:"WEEKEND_SPAN" envDefault:"96h"`
}

// LoadImport loads the subset of configuration used by the calendar import.
func LoadImport() (*internalconfig.Config, error) {
	var raw importEnvConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	cfg := &internalconfig.Config{
		Env:            raw.Env,
		DatabaseDriver: raw.DatabaseDriver,
		DatabaseURL:    raw.DatabaseURL,
		WeekendSpan:    raw.WeekendSpan,
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	return cfg, nil
}
