package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foxseedlab/racenotif/internal/repository"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix milliseconds.
var sqliteMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS weekends (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		series TEXT NOT NULL,
		start_date INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled', 'active', 'completed', 'cancelled')),
		created_at INTEGER NOT NULL,
		UNIQUE(series, name, start_date)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		weekend_id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		name TEXT NOT NULL,
		duration INTEGER NOT NULL CHECK (duration > 0),
		notify TEXT NOT NULL DEFAULT 'none',
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'notified', 'started', 'completed')),
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_weekend ON sessions (weekend_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions (start_time, id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		message_platform_id TEXT NOT NULL,
		channel_platform_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		series TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_expires_at ON messages (expires_at)`,
}

type SQLiteRepository struct {
	db          *sql.DB
	weekendSpan time.Duration
	now         func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path and runs
// the schema migration. Sessions must start within weekendSpan of their
// weekend.
func OpenSQLite(ctx context.Context, path string, weekendSpan time.Duration) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")

	r := &SQLiteRepository{db: db, weekendSpan: weekendSpan, now: time.Now}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	for _, stmt := range sqliteMigrationStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const sqliteWeekendColumns = `w.id, w.name, w.icon, w.series, w.start_date, w.status, w.created_at`
const sqliteSessionColumns = `s.id, s.weekend_id, s.start_time, s.name, s.duration, s.notify, s.status, s.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWeekend(row rowScanner, w *repository.Weekend) error {
	var startDate, createdAt int64
	var status string
	if err := row.Scan(&w.ID, &w.Name, &w.Icon, &w.Series, &startDate, &status, &createdAt); err != nil {
		return err
	}
	w.StartDate = fromMillis(startDate)
	w.Status = repository.WeekendStatus(status)
	w.CreatedAt = fromMillis(createdAt)
	return nil
}

func scanSQLiteSession(row rowScanner, s *repository.Session) error {
	var startTime, createdAt int64
	var status string
	if err := row.Scan(&s.ID, &s.WeekendID, &startTime, &s.Name, &s.DurationSeconds, &s.Notify, &status, &createdAt); err != nil {
		return err
	}
	s.StartTime = fromMillis(startTime)
	s.Status = repository.SessionStatus(status)
	s.CreatedAt = fromMillis(createdAt)
	return nil
}

func (r *SQLiteRepository) ListActiveSessions(ctx context.Context, asOf time.Time) ([]repository.ScheduledSession, error) {
	slog.Debug("listing active sessions", "as_of", asOf)
	rows, err := r.db.QueryContext(ctx,
		`SELECT w.id, w.name, w.icon, w.series, w.start_date, w.status, w.created_at,
		        s.id, s.weekend_id, s.start_time, s.name, s.duration, s.notify, s.status, s.created_at
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
		var wStart, wCreated, sStart, sCreated int64
		var wStatus, sStatus string
		w := &item.Weekend
		s := &item.Session
		if err := rows.Scan(
			&w.ID, &w.Name, &w.Icon, &w.Series, &wStart, &wStatus, &wCreated,
			&s.ID, &s.WeekendID, &sStart, &s.Name, &s.DurationSeconds, &s.Notify, &sStatus, &sCreated,
		); err != nil {
			return nil, err
		}
		w.StartDate = fromMillis(wStart)
		w.Status = repository.WeekendStatus(wStatus)
		w.CreatedAt = fromMillis(wCreated)
		s.StartTime = fromMillis(sStart)
		s.Status = repository.SessionStatus(sStatus)
		s.CreatedAt = fromMillis(sCreated)
		list = append(list, item)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) MarkSessionNotified(ctx context.Context, sessionID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'notified' WHERE id = ? AND status = 'pending'`,
		sessionID)
	return err
}

func (r *SQLiteRepository) AdvanceSessionLifecycle(ctx context.Context, now time.Time) (int64, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	nowMs := millis(now)
	completed, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed'
		 WHERE status <> 'completed' AND start_time + duration * 1000 <= ?`,
		nowMs)
	if err != nil {
		return 0, 0, err
	}
	started, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'started'
		 WHERE status IN ('pending', 'notified') AND start_time <= ?`,
		nowMs)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	nCompleted, _ := completed.RowsAffected()
	nStarted, _ := started.RowsAffected()
	return nStarted, nCompleted, nil
}

func (r *SQLiteRepository) AdvanceWeekendLifecycle(ctx context.Context, now time.Time) (int64, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	activated, err := tx.ExecContext(ctx,
		`UPDATE weekends SET status = 'active'
		 WHERE status = 'scheduled'
		   AND EXISTS (SELECT 1 FROM sessions s WHERE s.weekend_id = weekends.id AND s.status IN ('started', 'completed'))`)
	if err != nil {
		return 0, 0, err
	}
	completed, err := tx.ExecContext(ctx,
		`UPDATE weekends SET status = 'completed'
		 WHERE status IN ('scheduled', 'active')
		   AND EXISTS (SELECT 1 FROM sessions s WHERE s.weekend_id = weekends.id)
		   AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.weekend_id = weekends.id AND s.status <> 'completed')`)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	nActivated, _ := activated.RowsAffected()
	nCompleted, _ := completed.RowsAffected()
	return nActivated, nCompleted, nil
}

func (r *SQLiteRepository) DeleteOrphanSessions(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE NOT EXISTS (SELECT 1 FROM weekends w WHERE w.id = sessions.weekend_id)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CreateWeekend(ctx context.Context, input repository.CreateWeekendInput) (*repository.Weekend, error) {
	createdAt := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO weekends (name, icon, series, start_date, status, created_at)
		 VALUES (?, ?, ?, ?, 'scheduled', ?)`,
		input.Name, input.Icon, input.Series, millis(input.StartDate), millis(createdAt))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &repository.Weekend{
		ID:        id,
		Name:      input.Name,
		Icon:      input.Icon,
		Series:    input.Series,
		StartDate: fromMillis(millis(input.StartDate)),
		Status:    repository.WeekendStatusScheduled,
		CreatedAt: fromMillis(millis(createdAt)),
	}, nil
}

func (r *SQLiteRepository) FindWeekend(ctx context.Context, series, name string, startDate time.Time) (*repository.Weekend, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteWeekendColumns+`
		 FROM weekends w WHERE w.series = ? AND w.name = ? AND w.start_date = ?
		 LIMIT 1`,
		series, name, millis(startDate))
	var w repository.Weekend
	if err := scanSQLiteWeekend(row, &w); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (r *SQLiteRepository) UpdateWeekendStatus(ctx context.Context, weekendID int64, status repository.WeekendStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown weekend status %q", status)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE weekends SET status = ? WHERE id = ?`, string(status), weekendID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) UpdateWeekendStartDate(ctx context.Context, weekendID int64, startDate time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM weekends WHERE id = ?`, weekendID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	if repository.WeekendStatus(status) != repository.WeekendStatusScheduled {
		return repository.ErrWeekendLocked
	}
	if _, err := tx.ExecContext(ctx, `UPDATE weekends SET start_date = ? WHERE id = ?`, millis(startDate), weekendID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) DeleteWeekend(ctx context.Context, weekendID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM weekends WHERE id = ?`, weekendID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var weekendID, startDate int64
	err = tx.QueryRowContext(ctx, `SELECT id, start_date FROM weekends WHERE id = ?`, input.WeekendID).Scan(&weekendID, &startDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := repository.ValidateSession(repository.Weekend{StartDate: fromMillis(startDate)}, input, r.weekendSpan); err != nil {
		return nil, err
	}

	createdAt := r.now()
	notify := input.Notify.String()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (weekend_id, start_time, name, duration, notify, status, created_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', ?)`,
		weekendID, millis(input.StartTime), input.Name, input.DurationSeconds, notify, millis(createdAt))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &repository.Session{
		ID:              id,
		WeekendID:       weekendID,
		StartTime:       fromMillis(millis(input.StartTime)),
		Name:            input.Name,
		DurationSeconds: input.DurationSeconds,
		Notify:          notify,
		Status:          repository.SessionStatusPending,
		CreatedAt:       fromMillis(millis(createdAt)),
	}, nil
}

func (r *SQLiteRepository) ListSessionsByWeekend(ctx context.Context, weekendID int64) ([]repository.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteSessionColumns+`
		 FROM sessions s WHERE s.weekend_id = ? ORDER BY s.start_time ASC, s.id ASC`,
		weekendID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Session
	for rows.Next() {
		var s repository.Session
		if err := scanSQLiteSession(rows, &s); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) ListUpcomingWeekends(ctx context.Context, asOf time.Time) ([]repository.Weekend, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteWeekendColumns+`
		 FROM weekends w
		 WHERE w.status IN ('scheduled', 'active') AND w.start_date > ?
		 ORDER BY w.start_date ASC, w.id ASC`,
		millis(asOf.Add(-r.weekendSpan)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Weekend
	for rows.Next() {
		var w repository.Weekend
		if err := scanSQLiteWeekend(rows, &w); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) HasSent(ctx context.Context, dedupKey string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE dedup_key = ?`,
		dedupKey).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Record(ctx context.Context, input repository.RecordMessageInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, dedup_key, message_platform_id, channel_platform_id, kind, series, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(dedup_key) DO NOTHING`,
		uuid.NewString(), input.DedupKey, input.PlatformMessageID, input.PlatformChannelID,
		input.Kind, input.Series, millis(input.ExpiresAt), millis(r.now()))
	return err
}

const sqliteMessageColumns = `id, dedup_key, message_platform_id, channel_platform_id, kind, series, expires_at, created_at`

func scanSQLiteMessage(row rowScanner, m *repository.Message) error {
	var expiresAt, createdAt int64
	if err := row.Scan(&m.ID, &m.DedupKey, &m.PlatformMessageID, &m.PlatformChannelID, &m.Kind, &m.Series, &expiresAt, &createdAt); err != nil {
		return err
	}
	m.ExpiresAt = fromMillis(expiresAt)
	m.CreatedAt = fromMillis(createdAt)
	return nil
}

func (r *SQLiteRepository) ListExpired(ctx context.Context, asOf time.Time) ([]repository.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteMessageColumns+`
		 FROM messages WHERE expires_at <= ? ORDER BY expires_at ASC`,
		millis(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Message
	for rows.Next() {
		var m repository.Message
		if err := scanSQLiteMessage(rows, &m); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) FindMessage(ctx context.Context, dedupKey string) (*repository.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteMessageColumns+` FROM messages WHERE dedup_key = ?`,
		dedupKey)
	var m repository.Message
	if err := scanSQLiteMessage(row, &m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *SQLiteRepository) DeleteMessages(ctx context.Context, dedupKeys []string) (int64, error) {
	if len(dedupKeys) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dedupKeys)), ",")
	args := make([]any, len(dedupKeys))
	for i, k := range dedupKeys {
		args[i] = k
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE dedup_key IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) ReapExpired(ctx context.Context, asOf time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE expires_at <= ?`, millis(asOf))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
