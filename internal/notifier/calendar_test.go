package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/racenotif/internal/discord"
	"github.com/foxseedlab/racenotif/internal/repository"
)

func upcoming(id int64, series, name string, start time.Time) repository.Weekend {
	return repository.Weekend{ID: id, Series: series, Name: name, Icon: "🏁", StartDate: start, Status: repository.WeekendStatusScheduled}
}

func TestRefreshCalendar_PostsOnceThenEdits(t *testing.T) {
	repo := newMockRepository()
	repo.weekends = []repository.Weekend{
		upcoming(1, "F1", "Bahrain Grand Prix", raceStart),
		upcoming(2, "F1", "Saudi Arabian Grand Prix", raceStart.Add(7*24*time.Hour)),
	}
	dc := &mockDiscordClient{}
	n := newTestNotifier(repo, dc, &mockWebhookSender{})

	report, err := n.RefreshCalendar(context.Background(), raceStart)
	if err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if report.Posted != 1 || report.Edited != 0 {
		t.Fatalf("expected one calendar posted, got %+v", report)
	}
	sent := dc.sent()
	want := fmt.Sprintf("**F1 calendar**\n🏁 Bahrain Grand Prix <t:%d:D>\n🏁 Saudi Arabian Grand Prix <t:%d:D>",
		raceStart.Unix(), raceStart.Add(7*24*time.Hour).Unix())
	if len(sent) != 1 || sent[0].channelID != "chan-f1" || sent[0].content != want {
		t.Fatalf("unexpected calendar message: %+v", sent)
	}
	entry, ok := repo.ledger["calendar/F1"]
	if !ok || entry.Kind != messageKindCalendar || entry.PlatformMessageID != "msg-1" {
		t.Fatalf("unexpected calendar entry: %+v", entry)
	}

	repo.weekends = repo.weekends[1:]
	report, err = n.RefreshCalendar(context.Background(), raceStart.Add(96*time.Hour))
	if err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if report.Edited != 1 || report.Posted != 0 || len(dc.sent()) != 1 {
		t.Fatalf("expected the calendar to be edited in place, got %+v", report)
	}
	if got := dc.edits["msg-1"]; got != fmt.Sprintf("**F1 calendar**\n🏁 Saudi Arabian Grand Prix <t:%d:D>", raceStart.Add(7*24*time.Hour).Unix()) {
		t.Fatalf("unexpected edited content: %q", got)
	}

	reap, err := n.Reap(context.Background(), raceStart.Add(365*24*time.Hour))
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if reap.Reaped != 0 || repo.ledgerSize() != 1 {
		t.Fatalf("calendar entry must survive the reaper, got %+v", reap)
	}
}

func TestRefreshCalendar_RepostsWhenMessageIsGone(t *testing.T) {
	repo := newMockRepository()
	repo.weekends = []repository.Weekend{upcoming(1, "F1", "Bahrain Grand Prix", raceStart)}
	repo.ledger["calendar/F1"] = repository.RecordMessageInput{
		DedupKey:          "calendar/F1",
		PlatformChannelID: "chan-f1",
		PlatformMessageID: "msg-old",
		Kind:              messageKindCalendar,
		Series:            "F1",
		ExpiresAt:         calendarExpiresAt,
	}
	dc := &mockDiscordClient{editErr: discord.ErrMessageNotFound}
	n := newTestNotifier(repo, dc, &mockWebhookSender{})

	report, err := n.RefreshCalendar(context.Background(), raceStart)
	if err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if report.Posted != 1 || report.Failed != 0 {
		t.Fatalf("expected a replacement calendar, got %+v", report)
	}
	if got := repo.ledger["calendar/F1"].PlatformMessageID; got != "msg-1" {
		t.Fatalf("expected entry to point at the new message, got %q", got)
	}
}

func TestRefreshCalendar_EditFailureKeepsEntry(t *testing.T) {
	repo := newMockRepository()
	repo.weekends = []repository.Weekend{upcoming(1, "F1", "Bahrain Grand Prix", raceStart)}
	repo.ledger["calendar/F1"] = repository.RecordMessageInput{
		DedupKey:          "calendar/F1",
		PlatformChannelID: "chan-f1",
		PlatformMessageID: "msg-old",
		ExpiresAt:         calendarExpiresAt,
	}
	dc := &mockDiscordClient{editErr: errors.New("discord unavailable")}
	n := newTestNotifier(repo, dc, &mockWebhookSender{})

	report, err := n.RefreshCalendar(context.Background(), raceStart)
	if err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if report.Failed != 1 || len(dc.sent()) != 0 {
		t.Fatalf("expected a failed edit without a repost, got %+v", report)
	}
	if repo.ledger["calendar/F1"].PlatformMessageID != "msg-old" {
		t.Fatalf("entry must be kept after a transient failure")
	}
}

func TestRefreshCalendar_MovesToNewChannel(t *testing.T) {
	repo := newMockRepository()
	repo.weekends = []repository.Weekend{upcoming(1, "F1", "Bahrain Grand Prix", raceStart)}
	repo.ledger["calendar/F1"] = repository.RecordMessageInput{
		DedupKey:          "calendar/F1",
		PlatformChannelID: "chan-old",
		PlatformMessageID: "msg-old",
		ExpiresAt:         calendarExpiresAt,
	}
	dc := &mockDiscordClient{}
	n := newTestNotifier(repo, dc, &mockWebhookSender{})

	report, err := n.RefreshCalendar(context.Background(), raceStart)
	if err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if report.Posted != 1 {
		t.Fatalf("expected the calendar to be posted in the new channel, got %+v", report)
	}
	if len(dc.deleted) != 1 || dc.deleted[0] != "msg-old" {
		t.Fatalf("expected the old calendar to be deleted, got %v", dc.deleted)
	}
	if got := repo.ledger["calendar/F1"].PlatformChannelID; got != "chan-f1" {
		t.Fatalf("unexpected channel: %q", got)
	}
}

func TestRefreshCalendar_SeriesWithoutWeekends(t *testing.T) {
	repo := newMockRepository()
	dc := &mockDiscordClient{}
	n := newTestNotifier(repo, dc, &mockWebhookSender{})

	report, err := n.RefreshCalendar(context.Background(), raceStart)
	if err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if report.Series != 1 || report.Posted != 0 || len(dc.sent()) != 0 {
		t.Fatalf("an empty calendar must not be posted, got %+v", report)
	}

	repo.ledger["calendar/F1"] = repository.RecordMessageInput{
		DedupKey:          "calendar/F1",
		PlatformChannelID: "chan-f1",
		PlatformMessageID: "msg-cal",
		ExpiresAt:         calendarExpiresAt,
	}
	if _, err := n.RefreshCalendar(context.Background(), raceStart); err != nil {
		t.Fatalf("RefreshCalendar() error = %v", err)
	}
	if got := dc.edits["msg-cal"]; got != "**F1 calendar**\n*No upcoming weekends*" {
		t.Fatalf("unexpected empty calendar: %q", got)
	}
}

func TestRefreshCalendar_StoreUnavailable(t *testing.T) {
	repo := newMockRepository()
	repo.upcomingErr = errors.New("connection refused")
	wh := &mockWebhookSender{}
	n := newTestNotifier(repo, &mockDiscordClient{}, wh)

	_, err := n.RefreshCalendar(context.Background(), raceStart)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if kinds := wh.kinds(); len(kinds) != 1 || kinds[0] != "calendar" {
		t.Fatalf("expected a calendar alert, got %v", kinds)
	}
}

func TestCalendarContent_CapsWeekends(t *testing.T) {
	var weekends []repository.Weekend
	for i := 0; i < calendarMaxWeekends+5; i++ {
		weekends = append(weekends, upcoming(int64(i+1), "F1", fmt.Sprintf("Round %d", i+1), raceStart.Add(time.Duration(i)*7*24*time.Hour)))
	}
	got := calendarContent("F1", weekends)
	if lines := len(strings.Split(got, "\n")); lines != calendarMaxWeekends+1 {
		t.Fatalf("expected %d lines, got %d", calendarMaxWeekends+1, lines)
	}
}
