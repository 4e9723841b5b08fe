package repository

import (
	"fmt"
	"time"
)

type WeekendStatus string

const (
	WeekendStatusScheduled WeekendStatus = "scheduled"
	WeekendStatusActive    WeekendStatus = "active"
	WeekendStatusCompleted WeekendStatus = "completed"
	WeekendStatusCancelled WeekendStatus = "cancelled"
)

func (s WeekendStatus) Valid() bool {
	switch s {
	case WeekendStatusScheduled, WeekendStatusActive, WeekendStatusCompleted, WeekendStatusCancelled:
		return true
	default:
		return false
	}
}

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusNotified  SessionStatus = "notified"
	SessionStatusStarted   SessionStatus = "started"
	SessionStatusCompleted SessionStatus = "completed"
)

type Weekend struct {
	ID        int64
	Name      string
	Icon      string
	Series    string
	StartDate time.Time
	Status    WeekendStatus
	CreatedAt time.Time
}

// Contains reports whether t falls inside [StartDate, StartDate+span).
func (w Weekend) Contains(t time.Time, span time.Duration) bool {
	if t.Before(w.StartDate) {
		return false
	}
	return t.Before(w.StartDate.Add(span))
}

type Session struct {
	ID              int64
	WeekendID       int64
	StartTime       time.Time
	Name            string
	DurationSeconds int64
	Notify          string
	Status          SessionStatus
	CreatedAt       time.Time
}

// Tiers decodes the stored notify column.
func (s Session) Tiers() (NotifyTiers, error) {
	return ParseNotifyTiers(s.Notify)
}

func (s Session) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

func (s Session) EndTime() time.Time {
	return s.StartTime.Add(s.Duration())
}

type ScheduledSession struct {
	Weekend Weekend
	Session Session
}

// Message is a notification ledger entry.
type Message struct {
	ID                string
	DedupKey          string
	PlatformMessageID string
	PlatformChannelID string
	Kind              string
	Series            string
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// DedupKey is the ledger key of one notify tier of one session.
func DedupKey(sessionID int64, tier Tier) string {
	return fmt.Sprintf("%d/%s", sessionID, tier)
}
