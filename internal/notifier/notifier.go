package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/racenotif/internal/config"
	"github.com/foxseedlab/racenotif/internal/discord"
	"github.com/foxseedlab/racenotif/internal/repository"
	"github.com/foxseedlab/racenotif/internal/webhook"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const alertTimeout = 10 * time.Second

type Notifier struct {
	cfg     *config.Config
	repo    repository.Repository
	discord discord.Client
	webhook webhook.Sender
	limiter *rate.Limiter

	mu       sync.Mutex
	inFlight map[string]struct{}
	reported map[string]struct{}
}

func NewNotifier(cfg *config.Config, repo repository.Repository, dc discord.Client, wh webhook.Sender) *Notifier {
	burst := int(cfg.SendRatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Notifier{
		cfg:      cfg,
		repo:     repo,
		discord:  dc,
		webhook:  wh,
		limiter:  rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), burst),
		inFlight: make(map[string]struct{}),
		reported: make(map[string]struct{}),
	}
}

type TickReport struct {
	ID                string
	Due               int
	Sent              int
	Failed            int
	Skipped           int
	Ended             int
	AlreadySent       int
	MarkedNotified    int
	SessionsStarted   int64
	SessionsCompleted int64
	WeekendsActivated int64
	WeekendsCompleted int64
}

type pairOutcome int

const (
	outcomePending pairOutcome = iota
	outcomeAlreadySent
	outcomeSent
	outcomeSentUnrecorded
	outcomeFailed
	outcomeBusy
)

type pairJob struct {
	plan      *sessionPlan
	index     int
	item      repository.ScheduledSession
	tier      repository.Tier
	key       string
	channelID string
	roleID    string
}

type sessionPlan struct {
	item     repository.ScheduledSession
	outcomes []pairOutcome
}

// Tick runs one notification pass at now, then advances session and weekend
// lifecycle. Per-pair failures are counted in the report; only a failure to
// load the schedule is returned.
func (n *Notifier) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	report := TickReport{ID: uuid.NewString()}
	log := slog.With("tick_id", report.ID)

	items, err := n.repo.ListActiveSessions(ctx, now)
	if err != nil {
		err = classify(ErrStoreUnavailable, err)
		log.Error("failed to list active sessions", "error", err)
		n.alert(ctx, "tick", "failed to list active sessions", err, nil)
		return report, err
	}
	log.Debug("tick started", "now", now, "sessions", len(items))

	plans := make([]*sessionPlan, 0, len(items))
	var jobs []pairJob
	for _, item := range items {
		// An ended session's pairs are expired on write, and the reaper may
		// already have removed the entries of the ones it sent.
		if !now.Before(item.Session.EndTime()) {
			report.Ended++
			continue
		}
		tiers, err := n.checkSession(item)
		if err != nil {
			report.Skipped++
			n.reportInconsistency(ctx, item, err)
			continue
		}
		plan := &sessionPlan{item: item, outcomes: make([]pairOutcome, len(tiers))}
		plans = append(plans, plan)
		for i, tier := range tiers {
			if now.Before(item.Session.StartTime.Add(-tier.Duration())) {
				continue
			}
			jobs = append(jobs, pairJob{
				plan:      plan,
				index:     i,
				item:      item,
				tier:      tier,
				key:       repository.DedupKey(item.Session.ID, tier),
				channelID: n.cfg.ChannelFor(item.Weekend.Series),
				roleID:    n.cfg.RoleFor(item.Weekend.Series),
			})
		}
	}

	var g errgroup.Group
	g.SetLimit(n.cfg.SendWorkers)
	for _, job := range jobs {
		g.Go(func() error {
			job.plan.outcomes[job.index] = n.processPair(ctx, log, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, job := range jobs {
		switch job.plan.outcomes[job.index] {
		case outcomeAlreadySent:
			report.AlreadySent++
		case outcomeSent, outcomeSentUnrecorded:
			report.Due++
			report.Sent++
		case outcomeFailed:
			report.Due++
			report.Failed++
		case outcomeBusy:
			report.Skipped++
		}
	}

	for _, plan := range plans {
		if plan.item.Session.Status != repository.SessionStatusPending || !plan.allRecorded() {
			continue
		}
		if err := n.repo.MarkSessionNotified(ctx, plan.item.Session.ID); err != nil {
			err = classify(ErrStoreUnavailable, err)
			log.Error("failed to mark session notified", "error", err, "session_id", plan.item.Session.ID)
			continue
		}
		report.MarkedNotified++
	}

	n.advanceLifecycle(ctx, log, now, &report)
	n.pruneReported(items)

	log.Info("tick finished",
		"due", report.Due,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"ended", report.Ended,
		"already_sent", report.AlreadySent,
		"marked_notified", report.MarkedNotified)
	return report, nil
}

// allRecorded reports whether every tier of the session is in the ledger.
func (p *sessionPlan) allRecorded() bool {
	for _, o := range p.outcomes {
		if o != outcomeSent && o != outcomeAlreadySent {
			return false
		}
	}
	return true
}

func (n *Notifier) checkSession(item repository.ScheduledSession) (repository.NotifyTiers, error) {
	s := item.Session
	w := item.Weekend
	if !w.Contains(s.StartTime, n.cfg.WeekendSpan) {
		return nil, fmt.Errorf("%w: session start %s is outside weekend span starting %s",
			ErrScheduleInconsistency, s.StartTime.UTC().Format(time.RFC3339), w.StartDate.UTC().Format(time.RFC3339))
	}
	if s.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: session duration %d is not positive", ErrScheduleInconsistency, s.DurationSeconds)
	}
	tiers, err := s.Tiers()
	if err != nil {
		return nil, classify(ErrScheduleInconsistency, err)
	}
	if len(tiers) > 0 && n.cfg.ChannelFor(w.Series) == "" {
		return nil, fmt.Errorf("%w: no channel configured for series %q", ErrScheduleInconsistency, w.Series)
	}
	return tiers, nil
}

func (n *Notifier) processPair(ctx context.Context, log *slog.Logger, job pairJob) pairOutcome {
	if !n.acquire(job.key) {
		log.Warn("pair already in flight", "dedup_key", job.key)
		return outcomeBusy
	}
	defer n.release(job.key)

	attrs := []any{"session_id", job.item.Session.ID, "tier", job.tier.String(), "dedup_key", job.key}

	sent, err := n.repo.HasSent(ctx, job.key)
	if err != nil {
		err = classify(ErrLedgerUnavailable, err)
		log.Error("failed to check ledger", append(attrs, "error", err)...)
		n.alert(ctx, "ledger", "failed to check ledger", err, map[string]string{"dedup_key": job.key})
		return outcomeFailed
	}
	if sent {
		return outcomeAlreadySent
	}

	if err := n.limiter.Wait(ctx); err != nil {
		err = classify(ErrSendFailed, err)
		log.Error("send rate limiter aborted", append(attrs, "error", err)...)
		return outcomeFailed
	}

	content := sessionNotifyContent(job.item.Weekend, job.item.Session, job.roleID)
	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	messageID, err := n.discord.SendChannelMessage(sendCtx, job.channelID, content)
	cancel()
	if err != nil {
		err = classify(ErrSendFailed, err)
		log.Error("failed to send notification", append(attrs, "channel_id", job.channelID, "error", err)...)
		n.alert(ctx, "send", "failed to send notification", err, map[string]string{
			"dedup_key":  job.key,
			"channel_id": job.channelID,
		})
		return outcomeFailed
	}
	log.Info("notification sent", append(attrs, "channel_id", job.channelID, "message_id", messageID)...)

	err = n.repo.Record(ctx, repository.RecordMessageInput{
		DedupKey:          job.key,
		PlatformChannelID: job.channelID,
		PlatformMessageID: messageID,
		Kind:              messageKindSessionNotify,
		Series:            job.item.Weekend.Series,
		ExpiresAt:         job.item.Session.EndTime(),
	})
	if err != nil {
		err = classify(ErrLedgerUnavailable, err)
		log.Error("failed to record sent notification", append(attrs, "message_id", messageID, "error", err)...)
		n.alert(ctx, "ledger", "failed to record sent notification", err, map[string]string{
			"dedup_key":  job.key,
			"message_id": messageID,
		})
		return outcomeSentUnrecorded
	}
	return outcomeSent
}

func (n *Notifier) acquire(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.inFlight[key]; busy {
		return false
	}
	n.inFlight[key] = struct{}{}
	return true
}

func (n *Notifier) release(key string) {
	n.mu.Lock()
	delete(n.inFlight, key)
	n.mu.Unlock()
}

func (n *Notifier) advanceLifecycle(ctx context.Context, log *slog.Logger, now time.Time, report *TickReport) {
	started, completed, err := n.repo.AdvanceSessionLifecycle(ctx, now)
	if err != nil {
		err = classify(ErrStoreUnavailable, err)
		log.Error("failed to advance session lifecycle", "error", err)
		n.alert(ctx, "lifecycle", "failed to advance session lifecycle", err, nil)
		return
	}
	report.SessionsStarted = started
	report.SessionsCompleted = completed

	activated, wCompleted, err := n.repo.AdvanceWeekendLifecycle(ctx, now)
	if err != nil {
		err = classify(ErrStoreUnavailable, err)
		log.Error("failed to advance weekend lifecycle", "error", err)
		n.alert(ctx, "lifecycle", "failed to advance weekend lifecycle", err, nil)
		return
	}
	report.WeekendsActivated = activated
	report.WeekendsCompleted = wCompleted
	if started+completed+activated+wCompleted > 0 {
		log.Info("lifecycle advanced",
			"sessions_started", started,
			"sessions_completed", completed,
			"weekends_activated", activated,
			"weekends_completed", wCompleted)
	}
}

// reportInconsistency logs every occurrence but alerts once per session.
func (n *Notifier) reportInconsistency(ctx context.Context, item repository.ScheduledSession, err error) {
	slog.Warn("skipping inconsistent session",
		"session_id", item.Session.ID,
		"weekend_id", item.Weekend.ID,
		"series", item.Weekend.Series,
		"error", err)

	key := fmt.Sprintf("%d", item.Session.ID)
	n.mu.Lock()
	_, seen := n.reported[key]
	n.reported[key] = struct{}{}
	n.mu.Unlock()
	if seen {
		return
	}
	n.alert(ctx, "schedule", "skipping inconsistent session", err, map[string]string{
		"session_id": key,
		"weekend_id": fmt.Sprintf("%d", item.Weekend.ID),
	})
}

// pruneReported forgets inconsistencies of sessions that are no longer active.
func (n *Notifier) pruneReported(items []repository.ScheduledSession) {
	active := make(map[string]struct{}, len(items))
	for _, item := range items {
		active[fmt.Sprintf("%d", item.Session.ID)] = struct{}{}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for key := range n.reported {
		if _, ok := active[key]; !ok {
			delete(n.reported, key)
		}
	}
}

type ReapReport struct {
	Retired        int
	RetireFailed   int
	Reaped         int64
	OrphansDeleted int64
}

// Reap retires and deletes ledger entries expired at now, then removes
// sessions whose weekend no longer exists. When messages are retired, an
// entry whose message could not be deleted is kept for the next reap.
func (n *Notifier) Reap(ctx context.Context, now time.Time) (ReapReport, error) {
	var report ReapReport

	var reaped int64
	var err error
	if n.cfg.RetireMessages {
		reaped, err = n.reapRetired(ctx, now, &report)
	} else {
		reaped, err = n.repo.ReapExpired(ctx, now)
	}
	if err != nil {
		err = classify(ErrLedgerUnavailable, err)
		slog.Error("failed to reap expired ledger entries", "error", err)
		n.alert(ctx, "reap", "failed to reap expired ledger entries", err, nil)
		return report, err
	}
	report.Reaped = reaped

	orphans, err := n.repo.DeleteOrphanSessions(ctx)
	if err != nil {
		err = classify(ErrStoreUnavailable, err)
		slog.Error("failed to delete orphan sessions", "error", err)
		n.alert(ctx, "reap", "failed to delete orphan sessions", err, nil)
		return report, err
	}
	report.OrphansDeleted = orphans

	if report.Reaped > 0 || report.OrphansDeleted > 0 || report.RetireFailed > 0 {
		slog.Info("reap finished",
			"retired", report.Retired,
			"retire_failed", report.RetireFailed,
			"reaped", report.Reaped,
			"orphans_deleted", report.OrphansDeleted)
	}
	return report, nil
}

func (n *Notifier) reapRetired(ctx context.Context, now time.Time, report *ReapReport) (int64, error) {
	expired, err := n.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	retired := make([]string, 0, len(expired))
	for _, m := range expired {
		if n.retireMessage(ctx, m) {
			report.Retired++
			retired = append(retired, m.DedupKey)
		} else {
			report.RetireFailed++
		}
	}
	return n.repo.DeleteMessages(ctx, retired)
}

func (n *Notifier) retireMessage(ctx context.Context, m repository.Message) bool {
	if m.PlatformMessageID == "" || m.PlatformChannelID == "" {
		return true
	}
	if err := n.limiter.Wait(ctx); err != nil {
		slog.Warn("retire rate limiter aborted", "dedup_key", m.DedupKey, "error", err)
		return false
	}
	delCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	defer cancel()
	err := n.discord.DeleteChannelMessage(delCtx, m.PlatformChannelID, m.PlatformMessageID)
	if err == nil || errors.Is(err, discord.ErrMessageNotFound) {
		return true
	}
	slog.Warn("failed to delete expired notification",
		"dedup_key", m.DedupKey,
		"channel_id", m.PlatformChannelID,
		"message_id", m.PlatformMessageID,
		"error", err)
	return false
}

func (n *Notifier) alert(ctx context.Context, kind, message string, err error, attrs map[string]string) {
	if n.webhook == nil {
		return
	}
	alert := webhook.Alert{
		Kind:       kind,
		Message:    message,
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		alert.Error = err.Error()
		if alert.Attributes == nil {
			alert.Attributes = map[string]string{}
		}
		alert.Attributes["error_kind"] = errorKind(err)
	}
	alertCtx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	if sendErr := n.webhook.SendAlert(alertCtx, alert); sendErr != nil {
		slog.Error("failed to send alert webhook", "error", sendErr, "kind", kind)
	}
}
