package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "assistant/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store wraps the SQLite database. All methods are safe for concurrent use;
// SQLite serializes writes behind the single pooled connection.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- User ----

// GetUser returns the managed user, creating the row on first access.
func (s *Store) GetUser(ctx context.Context) (User, error) {
	u, err := s.scanUser(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO users(updated_at) VALUES(?)`,
			time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return User{}, err
		}
		return s.scanUser(ctx)
	}
	return u, err
}

func (s *Store) scanUser(ctx context.Context) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, kakao_access_token, kakao_refresh_token,
		       google_access_token, google_refresh_token, telegram_chat_id, updated_at
		FROM users ORDER BY user_id LIMIT 1`)

	var (
		u         User
		kat, krt  sql.NullString
		gat, grt  sql.NullString
		tg        sql.NullString
		updatedAt sql.NullString
	)
	if err := row.Scan(&u.ID, &kat, &krt, &gat, &grt, &tg, &updatedAt); err != nil {
		return User{}, err
	}
	u.KakaoAccessToken = kat.String
	u.KakaoRefreshToken = krt.String
	u.GoogleAccessToken = gat.String
	u.GoogleRefreshToken = grt.String
	u.TelegramChatID = tg.String
	if updatedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, updatedAt.String); err == nil {
			u.UpdatedAt = t
		}
	}
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			kakao_access_token = ?, kakao_refresh_token = ?,
			google_access_token = ?, google_refresh_token = ?,
			telegram_chat_id = ?, updated_at = ?
		WHERE user_id = ?`,
		nullStr(u.KakaoAccessToken), nullStr(u.KakaoRefreshToken),
		nullStr(u.GoogleAccessToken), nullStr(u.GoogleRefreshToken),
		nullStr(u.TelegramChatID), time.Now().UTC().Format(time.RFC3339Nano),
		u.ID,
	)
	return err
}

// ---- Settings ----

// GetSetting returns the setting row for a category, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, category string) (Setting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT setting_id, category, notification_time, config_json, is_active
		FROM settings WHERE category = ? LIMIT 1`, category)

	var (
		st   Setting
		cj   sql.NullString
		actv int
	)
	if err := row.Scan(&st.ID, &st.Category, &st.NotificationTime, &cj, &actv); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Setting{}, ErrNotFound
		}
		return Setting{}, err
	}
	st.ConfigJSON = cj.String
	st.IsActive = actv != 0
	return st, nil
}

func (s *Store) UpsertSetting(ctx context.Context, st Setting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(user_id, category, notification_time, config_json, is_active)
		VALUES(1, ?, ?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET
			notification_time = excluded.notification_time,
			config_json       = excluded.config_json,
			is_active         = excluded.is_active`,
		st.Category, st.NotificationTime, nullStr(st.ConfigJSON), boolToInt(st.IsActive),
	)
	return err
}

// ---- Reminders ----

func (s *Store) CreateReminder(ctx context.Context, message string, targetAt time.Time) (Reminder, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders(user_id, message_content, target_at, is_sent, created_at)
		VALUES(1, ?, ?, 0, ?)`,
		message, targetAt.Unix(), now.Unix(),
	)
	if err != nil {
		return Reminder{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Reminder{}, err
	}
	return Reminder{ID: id, Message: message, TargetAt: targetAt, CreatedAt: now}, nil
}

func (s *Store) GetReminder(ctx context.Context, id int64) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reminder_id, message_content, target_at, is_sent, created_at
		FROM reminders WHERE reminder_id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	return r, err
}

// ListPendingReminders returns all reminders not yet marked sent,
// ordered by target time.
func (s *Store) ListPendingReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reminder_id, message_content, target_at, is_sent, created_at
		FROM reminders WHERE is_sent = 0 ORDER BY target_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *Store) MarkReminderSent(ctx context.Context, id int64, sent bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_sent = ? WHERE reminder_id = ?`,
		boolToInt(sent), id,
	)
	return err
}

func (s *Store) DeleteReminder(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE reminder_id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var (
		r        Reminder
		target   int64
		sent     int
		createdA int64
	)
	if err := row.Scan(&r.ID, &r.Message, &target, &sent, &createdA); err != nil {
		return Reminder{}, err
	}
	r.TargetAt = time.Unix(target, 0)
	r.Sent = sent != 0
	r.CreatedAt = time.Unix(createdA, 0)
	return r, nil
}

// ---- Price alerts ----

func (s *Store) ListActiveAlerts(ctx context.Context) ([]PriceAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, symbol, threshold, above, active
		FROM price_alerts WHERE active = 1 ORDER BY alert_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PriceAlert
	for rows.Next() {
		var (
			a             PriceAlert
			above, active int
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Threshold, &above, &active); err != nil {
			return nil, err
		}
		a.Above = above != 0
		a.Active = active != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *Store) CreateAlert(ctx context.Context, a PriceAlert) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_alerts(symbol, threshold, above, active)
		VALUES(?, ?, ?, 1)`,
		a.Symbol, a.Threshold, boolToInt(a.Above),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeactivateAlert turns an alert off after it has fired (one-shot semantics).
func (s *Store) DeactivateAlert(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE price_alerts SET active = 0 WHERE alert_id = ?`, id)
	return err
}

// ---- Activity log ----

// AppendLog records one activity-log line. Best-effort callers may ignore the error.
func (s *Store) AppendLog(ctx context.Context, category, status, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log(at, category, status, message)
		VALUES(?, ?, ?, ?)`,
		time.Now().Unix(), category, status, message,
	)
	return err
}

func (s *Store) ListLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, at, category, status, message
		FROM activity_log ORDER BY at DESC, log_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []LogEntry
	for rows.Next() {
		var (
			e  LogEntry
			at int64
		)
		if err := rows.Scan(&e.ID, &at, &e.Category, &e.Status, &e.Message); err != nil {
			return nil, err
		}
		e.At = time.Unix(at, 0)
		res = append(res, e)
	}
	return res, rows.Err()
}

// ---- Scheduled jobs ----

func (s *Store) LoadJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, trigger_kind, hour, minute, every_minutes, run_at,
		       payload_kind, payload_json, paused
		FROM scheduled_jobs ORDER BY job_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []JobRecord
	for rows.Next() {
		var (
			r      JobRecord
			runAt  sql.NullInt64
			pj     sql.NullString
			paused int
		)
		if err := rows.Scan(&r.ID, &r.TriggerKind, &r.Hour, &r.Minute, &r.EveryMinutes,
			&runAt, &r.PayloadKind, &pj, &paused); err != nil {
			return nil, err
		}
		if runAt.Valid {
			r.RunAt = time.Unix(runAt.Int64, 0)
		}
		r.PayloadJSON = pj.String
		r.Paused = paused != 0
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *Store) SaveJob(ctx context.Context, r JobRecord) error {
	var runAt any
	if !r.RunAt.IsZero() {
		runAt = r.RunAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs(job_id, trigger_kind, hour, minute, every_minutes,
			run_at, payload_kind, payload_json, paused)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			trigger_kind  = excluded.trigger_kind,
			hour          = excluded.hour,
			minute        = excluded.minute,
			every_minutes = excluded.every_minutes,
			run_at        = excluded.run_at,
			payload_kind  = excluded.payload_kind,
			payload_json  = excluded.payload_json,
			paused        = excluded.paused`,
		r.ID, r.TriggerKind, r.Hour, r.Minute, r.EveryMinutes,
		runAt, r.PayloadKind, nullStr(r.PayloadJSON), boolToInt(r.Paused),
	)
	return err
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE job_id = ?`, id)
	return err
}

func (s *Store) SetJobPaused(ctx context.Context, id string, paused bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET paused = ? WHERE job_id = ?`,
		boolToInt(paused), id,
	)
	return err
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
