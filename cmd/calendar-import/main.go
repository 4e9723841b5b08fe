package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	calendarimpl "github.com/foxseedlab/racenotif/external/calendar"
	configloader "github.com/foxseedlab/racenotif/external/config"
	repositoryimpl "github.com/foxseedlab/racenotif/external/repository"
	"github.com/foxseedlab/racenotif/internal/calendar"
	"github.com/foxseedlab/racenotif/internal/config"
	"github.com/foxseedlab/racenotif/internal/repository"
	"github.com/samber/do/v2"
)

const importTimeout = 2 * time.Minute

func main() {
	path := flag.String("file", "calendar.yaml", "path to the YAML calendar to import")
	dryRun := flag.Bool("dry-run", false, "validate the calendar without writing to the database")
	flag.Parse()

	cfg, err := configloader.LoadImport()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)

	if err := run(cfg, *path, *dryRun); err != nil {
		slog.Error("calendar import failed", "error", err, "file", *path)
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func run(cfg *config.Config, path string, dryRun bool) error {
	injector := do.New()
	do.ProvideValue(injector, cfg)
	calendarimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)

	loader, err := do.Invoke[calendar.Loader](injector)
	if err != nil {
		return err
	}
	f, err := loader.Load(path)
	if err != nil {
		return err
	}
	if dryRun {
		if err := calendar.Validate(f, cfg.WeekendSpan); err != nil {
			return err
		}
		slog.Info("calendar is valid", "file", path, "weekends", len(f.Weekends))
		return nil
	}

	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		return fmt.Errorf("failed to open schedule store: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("repository close failed", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
	defer cancel()
	report, err := calendar.Import(ctx, repo, f, cfg.WeekendSpan)
	if err != nil {
		return err
	}
	slog.Info("calendar imported",
		"file", path,
		"weekends_created", report.WeekendsCreated,
		"weekends_existing", report.WeekendsExisting,
		"sessions_created", report.SessionsCreated,
		"sessions_existing", report.SessionsExisting)
	return nil
}
