package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("repository: not found")
	ErrWeekendLocked  = errors.New("repository: weekend start date is locked once it leaves scheduled")
	ErrInvalidSession = errors.New("repository: invalid session")
)

type CreateWeekendInput struct {
	Name      string
	Icon      string
	Series    string
	StartDate time.Time
}

type CreateSessionInput struct {
	WeekendID       int64
	StartTime       time.Time
	Name            string
	DurationSeconds int64
	Notify          NotifyTiers
}

type RecordMessageInput struct {
	DedupKey          string
	PlatformChannelID string
	PlatformMessageID string
	Kind              string
	Series            string
	ExpiresAt         time.Time
}

type ScheduleRepository interface {
	ListActiveSessions(ctx context.Context, asOf time.Time) ([]ScheduledSession, error)
	MarkSessionNotified(ctx context.Context, sessionID int64) error
	AdvanceSessionLifecycle(ctx context.Context, now time.Time) (started, completed int64, err error)
	AdvanceWeekendLifecycle(ctx context.Context, now time.Time) (activated, completed int64, err error)
	DeleteOrphanSessions(ctx context.Context) (int64, error)

	CreateWeekend(ctx context.Context, input CreateWeekendInput) (*Weekend, error)
	FindWeekend(ctx context.Context, series, name string, startDate time.Time) (*Weekend, error)
	UpdateWeekendStatus(ctx context.Context, weekendID int64, status WeekendStatus) error
	UpdateWeekendStartDate(ctx context.Context, weekendID int64, startDate time.Time) error
	DeleteWeekend(ctx context.Context, weekendID int64) error
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	ListSessionsByWeekend(ctx context.Context, weekendID int64) ([]Session, error)
	// ListUpcomingWeekends returns scheduled and active weekends whose span
	// has not ended at asOf, ordered by start date.
	ListUpcomingWeekends(ctx context.Context, asOf time.Time) ([]Weekend, error)
}

type LedgerRepository interface {
	HasSent(ctx context.Context, dedupKey string) (bool, error)
	Record(ctx context.Context, input RecordMessageInput) error
	ListExpired(ctx context.Context, asOf time.Time) ([]Message, error)
	ReapExpired(ctx context.Context, asOf time.Time) (int64, error)
	// FindMessage returns nil, nil when no entry has dedupKey.
	FindMessage(ctx context.Context, dedupKey string) (*Message, error)
	DeleteMessages(ctx context.Context, dedupKeys []string) (int64, error)
}

type Repository interface {
	ScheduleRepository
	LedgerRepository
	Close() error
}

// ValidateSession checks the invariants every stored session must hold.
// weekendSpan <= 0 skips the span check.
func ValidateSession(w Weekend, input CreateSessionInput, weekendSpan time.Duration) error {
	if input.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSession)
	}
	if input.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSession)
	}
	if weekendSpan > 0 && !w.Contains(input.StartTime, weekendSpan) {
		return fmt.Errorf("%w: start time is outside the weekend span", ErrInvalidSession)
	}
	return nil
}
