package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/foxseedlab/racenotif/internal/discord"
	"github.com/foxseedlab/racenotif/internal/repository"
)

// Calendar entries never expire; the reaper leaves them alone.
var calendarExpiresAt = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

type CalendarReport struct {
	Series int
	Edited int
	Posted int
	Failed int
}

// RefreshCalendar keeps one calendar message per series listing its upcoming
// weekends. The message is edited in place; a new one is posted when none is
// recorded, when it was deleted on Discord, or when the series moved channel.
func (n *Notifier) RefreshCalendar(ctx context.Context, now time.Time) (CalendarReport, error) {
	var report CalendarReport

	weekends, err := n.repo.ListUpcomingWeekends(ctx, now)
	if err != nil {
		err = classify(ErrStoreUnavailable, err)
		slog.Error("failed to list upcoming weekends", "error", err)
		n.alert(ctx, "calendar", "failed to list upcoming weekends", err, nil)
		return report, err
	}

	bySeries := make(map[string][]repository.Weekend)
	for _, w := range weekends {
		bySeries[w.Series] = append(bySeries[w.Series], w)
	}
	for series := range n.cfg.SeriesChannels {
		if _, ok := bySeries[series]; !ok {
			bySeries[series] = nil
		}
	}
	names := make([]string, 0, len(bySeries))
	for series := range bySeries {
		names = append(names, series)
	}
	sort.Strings(names)

	for _, series := range names {
		report.Series++
		n.refreshSeriesCalendar(ctx, series, bySeries[series], &report)
	}

	if report.Posted > 0 || report.Failed > 0 {
		slog.Info("calendar refreshed",
			"series", report.Series,
			"edited", report.Edited,
			"posted", report.Posted,
			"failed", report.Failed)
	}
	return report, nil
}

func (n *Notifier) refreshSeriesCalendar(ctx context.Context, series string, weekends []repository.Weekend, report *CalendarReport) {
	key := calendarDedupKey(series)
	channelID := n.cfg.ChannelFor(series)
	log := slog.With("series", series, "dedup_key", key)
	content := calendarContent(series, weekends)

	existing, err := n.repo.FindMessage(ctx, key)
	if err != nil {
		report.Failed++
		log.Error("failed to find calendar message", "error", classify(ErrLedgerUnavailable, err))
		return
	}

	if existing != nil {
		if existing.PlatformChannelID == channelID {
			err := n.editMessage(ctx, channelID, existing.PlatformMessageID, content)
			if err == nil {
				report.Edited++
				return
			}
			if !errors.Is(err, discord.ErrMessageNotFound) {
				report.Failed++
				log.Warn("failed to edit calendar message",
					"channel_id", channelID,
					"message_id", existing.PlatformMessageID,
					"error", classify(ErrSendFailed, err))
				return
			}
			log.Info("calendar message is gone; posting a new one", "message_id", existing.PlatformMessageID)
		} else if !n.retireMessage(ctx, *existing) {
			report.Failed++
			return
		}
		if _, err := n.repo.DeleteMessages(ctx, []string{key}); err != nil {
			report.Failed++
			log.Error("failed to drop calendar entry", "error", classify(ErrLedgerUnavailable, err))
			return
		}
	}

	if len(weekends) == 0 || channelID == "" {
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		report.Failed++
		log.Error("calendar rate limiter aborted", "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	messageID, err := n.discord.SendChannelMessage(sendCtx, channelID, content)
	cancel()
	if err != nil {
		report.Failed++
		log.Error("failed to post calendar message", "channel_id", channelID, "error", classify(ErrSendFailed, err))
		return
	}
	err = n.repo.Record(ctx, repository.RecordMessageInput{
		DedupKey:          key,
		PlatformChannelID: channelID,
		PlatformMessageID: messageID,
		Kind:              messageKindCalendar,
		Series:            series,
		ExpiresAt:         calendarExpiresAt,
	})
	if err != nil {
		report.Failed++
		log.Error("failed to record calendar message", "message_id", messageID, "error", classify(ErrLedgerUnavailable, err))
		return
	}
	report.Posted++
	log.Info("calendar message posted", "channel_id", channelID, "message_id", messageID)
}

func (n *Notifier) editMessage(ctx context.Context, channelID, messageID, content string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}
	editCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	defer cancel()
	return n.discord.EditChannelMessage(editCtx, channelID, messageID, content)
}
