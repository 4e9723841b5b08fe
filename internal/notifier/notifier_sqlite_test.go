package notifier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	repositoryimpl "github.com/foxseedlab/racenotif/external/repository"
	"github.com/foxseedlab/racenotif/internal/repository"
)

func newSQLiteNotifier(t *testing.T, dc *mockDiscordClient) (*Notifier, *repositoryimpl.SQLiteRepository) {
	t.Helper()
	cfg := testConfig()
	repo, err := repositoryimpl.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "racenotif.db"), cfg.WeekendSpan)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return NewNotifier(cfg, repo, dc, &mockWebhookSender{}), repo
}

func seedRace(t *testing.T, repo repository.Repository, notify string, durationSeconds int64) *repository.Session {
	t.Helper()
	ctx := context.Background()
	w, err := repo.CreateWeekend(ctx, repository.CreateWeekendInput{
		Name:      "Bahrain Grand Prix",
		Icon:      "🇧🇭",
		Series:    "F1",
		StartDate: raceStart.Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateWeekend() error = %v", err)
	}
	tiers, err := repository.ParseNotifyTiers(notify)
	if err != nil {
		t.Fatalf("ParseNotifyTiers() error = %v", err)
	}
	s, err := repo.CreateSession(ctx, repository.CreateSessionInput{
		WeekendID:       w.ID,
		StartTime:       raceStart,
		Name:            "Race",
		DurationSeconds: durationSeconds,
		Notify:          tiers,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return s
}

func TestSQLite_TickAndReapAcrossSessionEnd(t *testing.T) {
	ctx := context.Background()
	dc := &mockDiscordClient{}
	n, repo := newSQLiteNotifier(t, dc)
	seedRace(t, repo, "24h,10m", 3600)

	mustTick(t, n, raceStart.Add(-23*time.Hour))
	mustTick(t, n, raceStart.Add(-5*time.Minute))
	report := mustTick(t, n, raceStart.Add(59*time.Minute))
	if report.AlreadySent != 2 || report.SessionsStarted != 1 {
		t.Fatalf("unexpected report before the end: %+v", report)
	}
	if len(dc.sent()) != 2 {
		t.Fatalf("expected two sends before the end, got %d", len(dc.sent()))
	}

	reap, err := n.Reap(ctx, raceStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if reap.Reaped != 2 || reap.Retired != 2 {
		t.Fatalf("expected both entries retired and reaped, got %+v", reap)
	}

	report = mustTick(t, n, raceStart.Add(time.Hour+5*time.Second))
	if report.Sent != 0 || report.Ended != 1 || report.SessionsCompleted != 1 || report.WeekendsCompleted != 1 {
		t.Fatalf("unexpected report after the end: %+v", report)
	}
	if len(dc.sent()) != 2 {
		t.Fatalf("reaped pairs were sent again: %d sends", len(dc.sent()))
	}

	active, err := repo.ListActiveSessions(ctx, raceStart.Add(time.Hour+5*time.Second))
	if err != nil {
		t.Fatalf("ListActiveSessions() error = %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
	for _, key := range []string{"1/24h", "1/10m"} {
		sent, err := repo.HasSent(ctx, key)
		if err != nil {
			t.Fatalf("HasSent(%q) error = %v", key, err)
		}
		if sent {
			t.Fatalf("%s should stay expired", key)
		}
	}
}

func TestSQLite_DowntimeBackfillStopsAtSessionEnd(t *testing.T) {
	dc := &mockDiscordClient{}
	n, repo := newSQLiteNotifier(t, dc)
	seedRace(t, repo, "24h,10m", 3600)

	report := mustTick(t, n, raceStart.Add(30*time.Minute))
	if report.Sent != 2 || report.MarkedNotified != 1 {
		t.Fatalf("expected missed tiers backfilled while the session runs, got %+v", report)
	}

	dc2 := &mockDiscordClient{}
	n2, repo2 := newSQLiteNotifier(t, dc2)
	seedRace(t, repo2, "24h,10m", 3600)
	report = mustTick(t, n2, raceStart.Add(2*time.Hour))
	if report.Sent != 0 || report.Ended != 1 || len(dc2.sent()) != 0 {
		t.Fatalf("a session first seen after its end must not be announced, got %+v", report)
	}
}
