package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/racenotif/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool        *pgxpool.Pool
	weekendSpan time.Duration
}

func NewPostgresRepository(pool *pgxpool.Pool, weekendSpan time.Duration) repository.Repository {
	return &PostgresRepository{pool: pool, weekendSpan: weekendSpan}
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const postgresWeekendColumns = `w.id, w.name, w.icon, w.series, w.start_date, w.status::text, w.created_at`
const postgresSessionColumns = `s.id, s.weekend_id, s.start_time, s.name, s.duration, s.notify, s.status::text, s.created_at`

func (r *PostgresRepository) ListActiveSessions(ctx context.Context, asOf time.Time) ([]repository.ScheduledSession, error) {
	slog.Debug("listing active sessions", "as_of", asOf)
	rows, err := r.pool.Query(ctx,
		`SELECT `+postgresWeekendColumns+`, `+postgresSessionColumns+`
		 FROM sessions s
		 JOIN weekends w ON w.id = s.weekend_id
		 WHERE w.status NOT IN ('cancelled', 'completed')
		   AND s.status <> 'completed'
		 ORDER BY s.start_time ASC, s.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.ScheduledSession
	for rows.Next() {
		var item repository.ScheduledSession
		w := &item.Weekend
		s := &item.Session
		if err := rows.Scan(
			&w.ID, &w.Name, &w.Icon, &w.Series, &w.StartDate, &w.Status, &w.CreatedAt,
			&s.ID, &s.WeekendID, &s.StartTime, &s.Name, &s.DurationSeconds, &s.Notify, &s.Status, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) MarkSessionNotified(ctx context.Context, sessionID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'notified' WHERE id = $1 AND status = 'pending'`,
		sessionID)
	return err
}

func (r *PostgresRepository) AdvanceSessionLifecycle(ctx context.Context, now time.Time) (int64, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	completed, err := tx.Exec(ctx,
		`UPDATE sessions SET status = 'completed'
		 WHERE status <> 'completed'
		   AND start_time + make_interval(secs => duration) <= $1`,
		now)
	if err != nil {
		return 0, 0, err
	}
	started, err := tx.Exec(ctx,
		`UPDATE sessions SET status = 'started'
		 WHERE status IN ('pending', 'notified') AND start_time <= $1`,
		now)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return started.RowsAffected(), completed.RowsAffected(), nil
}

func (r *PostgresRepository) AdvanceWeekendLifecycle(ctx context.Context, now time.Time) (int64, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	activated, err := tx.Exec(ctx,
		`UPDATE weekends w SET status = 'active'
		 WHERE w.status = 'scheduled'
		   AND EXISTS (SELECT 1 FROM sessions s WHERE s.weekend_id = w.id AND s.status IN ('started', 'completed'))`)
	if err != nil {
		return 0, 0, err
	}
	completed, err := tx.Exec(ctx,
		`UPDATE weekends w SET status = 'completed'
		 WHERE w.status IN ('scheduled', 'active')
		   AND EXISTS (SELECT 1 FROM sessions s WHERE s.weekend_id = w.id)
		   AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.weekend_id = w.id AND s.status <> 'completed')`)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return activated.RowsAffected(), completed.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteOrphanSessions(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions s WHERE NOT EXISTS (SELECT 1 FROM weekends w WHERE w.id = s.weekend_id)`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) CreateWeekend(ctx context.Context, input repository.CreateWeekendInput) (*repository.Weekend, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO weekends AS w (name, icon, series, start_date, status)
		 VALUES ($1, $2, $3, $4, 'scheduled')
		 RETURNING `+postgresWeekendColumns,
		input.Name, input.Icon, input.Series, input.StartDate)
	var w repository.Weekend
	if err := row.Scan(&w.ID, &w.Name, &w.Icon, &w.Series, &w.StartDate, &w.Status, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) FindWeekend(ctx context.Context, series, name string, startDate time.Time) (*repository.Weekend, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+postgresWeekendColumns+`
		 FROM weekends w WHERE w.series = $1 AND w.name = $2 AND w.start_date = $3
		 LIMIT 1`,
		series, name, startDate)
	var w repository.Weekend
	err := row.Scan(&w.ID, &w.Name, &w.Icon, &w.Series, &w.StartDate, &w.Status, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) UpdateWeekendStatus(ctx context.Context, weekendID int64, status repository.WeekendStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown weekend status %q", status)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE weekends SET status = $2::text::weekend_status WHERE id = $1`,
		weekendID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateWeekendStartDate(ctx context.Context, weekendID int64, startDate time.Time) error {
	var status repository.WeekendStatus
	err := r.pool.QueryRow(ctx,
		`UPDATE weekends SET start_date = CASE WHEN status = 'scheduled' THEN $2 ELSE start_date END
		 WHERE id = $1
		 RETURNING status::text`,
		weekendID, startDate).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	if status != repository.WeekendStatusScheduled {
		return repository.ErrWeekendLocked
	}
	return nil
}

func (r *PostgresRepository) DeleteWeekend(ctx context.Context, weekendID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM weekends WHERE id = $1`, weekendID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var startDate time.Time
	err = tx.QueryRow(ctx, `SELECT start_date FROM weekends WHERE id = $1 FOR SHARE`, input.WeekendID).Scan(&startDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := repository.ValidateSession(repository.Weekend{StartDate: startDate}, input, r.weekendSpan); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO sessions AS s (weekend_id, start_time, name, duration, notify, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 RETURNING `+postgresSessionColumns,
		input.WeekendID, input.StartTime, input.Name, input.DurationSeconds, input.Notify.String())
	var s repository.Session
	if err := row.Scan(&s.ID, &s.WeekendID, &s.StartTime, &s.Name, &s.DurationSeconds, &s.Notify, &s.Status, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) ListSessionsByWeekend(ctx context.Context, weekendID int64) ([]repository.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+postgresSessionColumns+`
		 FROM sessions s WHERE s.weekend_id = $1 ORDER BY s.start_time ASC, s.id ASC`,
		weekendID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Session
	for rows.Next() {
		var s repository.Session
		if err := rows.Scan(&s.ID, &s.WeekendID, &s.StartTime, &s.Name, &s.DurationSeconds, &s.Notify, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListUpcomingWeekends(ctx context.Context, asOf time.Time) ([]repository.Weekend, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+postgresWeekendColumns+`
		 FROM weekends w
		 WHERE w.status IN ('scheduled', 'active') AND w.start_date > $1
		 ORDER BY w.start_date ASC, w.id ASC`,
		asOf.Add(-r.weekendSpan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Weekend
	for rows.Next() {
		var w repository.Weekend
		if err := rows.Scan(&w.ID, &w.Name, &w.Icon, &w.Series, &w.StartDate, &w.Status, &w.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) HasSent(ctx context.Context, dedupKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE dedup_key = $1)`,
		dedupKey).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) Record(ctx context.Context, input repository.RecordMessageInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, dedup_key, message_platform_id, channel_platform_id, kind, series, expires_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		uuid.NewString(), input.DedupKey, input.PlatformMessageID, input.PlatformChannelID, input.Kind, input.Series, input.ExpiresAt)
	return err
}

func (r *PostgresRepository) ListExpired(ctx context.Context, asOf time.Time) ([]repository.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, dedup_key, message_platform_id, channel_platform_id, kind, series, expires_at, created_at
		 FROM messages WHERE expires_at <= $1 ORDER BY expires_at ASC`,
		asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Message
	for rows.Next() {
		var m repository.Message
		if err := rows.Scan(&m.ID, &m.DedupKey, &m.PlatformMessageID, &m.PlatformChannelID, &m.Kind, &m.Series, &m.ExpiresAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) FindMessage(ctx context.Context, dedupKey string) (*repository.Message, error) {
	var m repository.Message
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, dedup_key, message_platform_id, channel_platform_id, kind, series, expires_at, created_at
		 FROM messages WHERE dedup_key = $1`,
		dedupKey).Scan(&m.ID, &m.DedupKey, &m.PlatformMessageID, &m.PlatformChannelID, &m.Kind, &m.Series, &m.ExpiresAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) DeleteMessages(ctx context.Context, dedupKeys []string) (int64, error) {
	if len(dedupKeys) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE dedup_key = ANY($1)`, dedupKeys)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ReapExpired(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE expires_at <= $1`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
