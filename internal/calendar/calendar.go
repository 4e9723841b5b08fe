package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/racenotif/internal/repository"
)

var ErrInvalidCalendar = errors.New("calendar: invalid calendar")

// File is a season calendar to be imported into the schedule store.
type File struct {
	Weekends []Weekend
}

type Weekend struct {
	Name      string
	Series    string
	Icon      string
	StartDate time.Time
	Sessions  []Session
}

type Session struct {
	Name      string
	StartTime time.Time
	Duration  time.Duration
	Notify    string
}

type Loader interface {
	Load(path string) (*File, error)
}

type ImportReport struct {
	WeekendsCreated  int
	WeekendsExisting int
	SessionsCreated  int
	SessionsExisting int
}

// Validate checks the whole file before anything is written.
func Validate(f *File, weekendSpan time.Duration) error {
	if f == nil || len(f.Weekends) == 0 {
		return fmt.Errorf("%w: no weekends", ErrInvalidCalendar)
	}
	seen := make(map[string]struct{})
	for _, w := range f.Weekends {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("%w: weekend name is required", ErrInvalidCalendar)
		}
		if strings.TrimSpace(w.Series) == "" {
			return fmt.Errorf("%w: weekend %q: series is required", ErrInvalidCalendar, w.Name)
		}
		if w.StartDate.IsZero() {
			return fmt.Errorf("%w: weekend %q: start_date is required", ErrInvalidCalendar, w.Name)
		}
		key := w.Series + "\x00" + w.Name + "\x00" + w.StartDate.UTC().Format(time.RFC3339)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: weekend %q is listed twice", ErrInvalidCalendar, w.Name)
		}
		seen[key] = struct{}{}

		names := make(map[string]struct{})
		for _, s := range w.Sessions {
			if _, dup := names[s.Name]; dup {
				return fmt.Errorf("%w: weekend %q: session %q is listed twice", ErrInvalidCalendar, w.Name, s.Name)
			}
			names[s.Name] = struct{}{}
			if _, err := sessionInput(0, w, s, weekendSpan); err != nil {
				return fmt.Errorf("%w: weekend %q: session %q: %w", ErrInvalidCalendar, w.Name, s.Name, err)
			}
		}
	}
	return nil
}

func sessionInput(weekendID int64, w Weekend, s Session, weekendSpan time.Duration) (repository.CreateSessionInput, error) {
	tiers, err := repository.ParseNotifyTiers(s.Notify)
	if err != nil {
		return repository.CreateSessionInput{}, err
	}
	if s.Duration%time.Second != 0 {
		return repository.CreateSessionInput{}, fmt.Errorf("duration %s must be whole seconds", s.Duration)
	}
	input := repository.CreateSessionInput{
		WeekendID:       weekendID,
		StartTime:       s.StartTime,
		Name:            strings.TrimSpace(s.Name),
		DurationSeconds: int64(s.Duration / time.Second),
		Notify:          tiers,
	}
	rw := repository.Weekend{StartDate: w.StartDate}
	if err := repository.ValidateSession(rw, input, weekendSpan); err != nil {
		return repository.CreateSessionInput{}, err
	}
	return input, nil
}

// Import creates the weekends and sessions of f that are missing from repo.
// Weekends match on (series, name, start_date) and sessions on name; existing
// rows are left untouched.
func Import(ctx context.Context, repo repository.ScheduleRepository, f *File, weekendSpan time.Duration) (ImportReport, error) {
	var report ImportReport
	if err := Validate(f, weekendSpan); err != nil {
		return report, err
	}
	for _, w := range f.Weekends {
		existing, err := repo.FindWeekend(ctx, w.Series, w.Name, w.StartDate)
		if err != nil {
			return report, fmt.Errorf("failed to find weekend %q: %w", w.Name, err)
		}
		if existing == nil {
			existing, err = repo.CreateWeekend(ctx, repository.CreateWeekendInput{
				Name:      w.Name,
				Icon:      w.Icon,
				Series:    w.Series,
				StartDate: w.StartDate,
			})
			if err != nil {
				return report, fmt.Errorf("failed to create weekend %q: %w", w.Name, err)
			}
			report.WeekendsCreated++
			slog.Info("weekend created", "weekend_id", existing.ID, "series", w.Series, "name", w.Name)
		} else {
			report.WeekendsExisting++
		}

		current, err := repo.ListSessionsByWeekend(ctx, existing.ID)
		if err != nil {
			return report, fmt.Errorf("failed to list sessions of weekend %q: %w", w.Name, err)
		}
		have := make(map[string]struct{}, len(current))
		for _, s := range current {
			have[s.Name] = struct{}{}
		}
		for _, s := range w.Sessions {
			if _, ok := have[strings.TrimSpace(s.Name)]; ok {
				report.SessionsExisting++
				continue
			}
			input, err := sessionInput(existing.ID, w, s, weekendSpan)
			if err != nil {
				return report, fmt.Errorf("weekend %q: session %q: %w", w.Name, s.Name, err)
			}
			created, err := repo.CreateSession(ctx, input)
			if err != nil {
				return report, fmt.Errorf("failed to create session %q of weekend %q: %w", s.Name, w.Name, err)
			}
			report.SessionsCreated++
			slog.Debug("session created", "session_id", created.ID, "weekend_id", existing.ID, "name", created.Name, "notify", created.Notify)
		}
	}
	return report, nil
}
