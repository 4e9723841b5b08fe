package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Run drives Tick and Reap on their cron schedules until ctx is done, then
// waits up to the shutdown timeout for running jobs to finish.
func (n *Notifier) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	// Jobs outlive ctx so an in-flight send is never cut off halfway.
	jobCtx := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(cronSpec(n.cfg.PollSchedule), func() {
		_, _ = n.Tick(jobCtx, time.Now())
	}); err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", n.cfg.PollSchedule, err)
	}
	if _, err := c.AddFunc(cronSpec(n.cfg.ReapSchedule), func() {
		_, _ = n.Reap(jobCtx, time.Now())
	}); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", n.cfg.ReapSchedule, err)
	}
	if calendarEnabled(n.cfg.CalendarSchedule) {
		if _, err := c.AddFunc(cronSpec(n.cfg.CalendarSchedule), func() {
			_, _ = n.RefreshCalendar(jobCtx, time.Now())
		}); err != nil {
			return fmt.Errorf("invalid calendar schedule %q: %w", n.cfg.CalendarSchedule, err)
		}
	}

	c.Start()
	slog.Info("notifier started",
		"poll_schedule", n.cfg.PollSchedule,
		"reap_schedule", n.cfg.ReapSchedule,
		"calendar_schedule", n.cfg.CalendarSchedule,
		"send_workers", n.cfg.SendWorkers)

	<-ctx.Done()
	slog.Info("notifier stopping; waiting for running jobs", "timeout", n.cfg.ShutdownTimeout)
	stopped := c.Stop()
	select {
	case <-stopped.Done():
		slog.Info("notifier stopped")
	case <-time.After(n.cfg.ShutdownTimeout):
		slog.Warn("notifier shutdown timed out with jobs still running")
	}
	return nil
}

// cronSpec accepts a plain Go duration ("5s") as shorthand for "@every 5s".
func cronSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if d, err := time.ParseDuration(spec); err == nil && d > 0 {
		return "@every " + spec
	}
	return spec
}

// calendarEnabled reports whether the calendar job runs; "off" disables it.
func calendarEnabled(spec string) bool {
	spec = strings.TrimSpace(spec)
	return spec != "" && !strings.EqualFold(spec, "off")
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
