package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"aspri/internal/schedule"
	"aspri/internal/schema"
	"aspri/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

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

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- installs ----

func (s *sqliteStore) MarkInstalled(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_installs(slug, installed_at) VALUES(?,?)
		 ON CONFLICT(slug) DO NOTHING`,
		slug, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) MarkUninstalled(ctx context.Context, slug string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plugin_installs WHERE slug = ?`, slug)
	return err
}

func (s *sqliteStore) IsInstalled(ctx context.Context, slug string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM plugin_installs WHERE slug = ?`, slug).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ---- activations ----

func (s *sqliteStore) GetActivation(ctx context.Context, userID int64, slug string) (ActivationRecord, error) {
	var (
		rec       ActivationRecord
		active    int
		cfgJSON   sql.NullString
		activated sql.NullString
		deact     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, slug, is_active, config, config_version, activated_at, deactivated_at
		 FROM activations WHERE user_id = ? AND slug = ?`,
		userID, slug,
	).Scan(&rec.UserID, &rec.Slug, &active, &cfgJSON, &rec.ConfigVersion, &activated, &deact)
	if errors.Is(err, sql.ErrNoRows) {
		return ActivationRecord{}, ErrNotFound
	}
	if err != nil {
		return ActivationRecord{}, err
	}
	rec.IsActive = active != 0
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &rec.Config); err != nil {
			return ActivationRecord{}, fmt.Errorf("activation config decode: %w", err)
		}
	}
	rec.ActivatedAt = parseRFC3339(activated)
	rec.DeactivatedAt = parseRFC3339(deact)
	return rec, nil
}

func (s *sqliteStore) PutActivation(ctx context.Context, rec ActivationRecord) error {
	cfg, err := marshalConfig(rec.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO activations(user_id, slug, is_active, config, config_version, activated_at, deactivated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, slug) DO UPDATE SET
		   is_active = excluded.is_active,
		   config = excluded.config,
		   config_version = excluded.config_version,
		   activated_at = excluded.activated_at,
		   deactivated_at = excluded.deactivated_at`,
		rec.UserID, rec.Slug, boolInt(rec.IsActive), cfg, rec.ConfigVersion,
		fmtRFC3339(rec.ActivatedAt), fmtRFC3339(rec.DeactivatedAt),
	)
	return err
}

func (s *sqliteStore) SetActive(ctx context.Context, userID int64, slug string, active bool, at time.Time) error {
	col := "deactivated_at"
	if active {
		col = "activated_at"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE activations SET is_active = ?, `+col+` = ? WHERE user_id = ? AND slug = ?`,
		boolInt(active), at.Format(time.RFC3339Nano), userID, slug,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ReplaceConfig(ctx context.Context, userID int64, slug string, cfg schema.Config, prevVersion int64) error {
	blob, err := marshalConfig(cfg)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE activations SET config = ?, config_version = config_version + 1
		 WHERE user_id = ? AND slug = ? AND config_version = ?`,
		blob, userID, slug, prevVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *sqliteStore) ActivationsForUser(ctx context.Context, userID int64) ([]ActivationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, slug, is_active, config, config_version, activated_at, deactivated_at
		 FROM activations WHERE user_id = ? ORDER BY slug`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivationRecord
	for rows.Next() {
		var (
			rec       ActivationRecord
			active    int
			cfgJSON   sql.NullString
			activated sql.NullString
			deact     sql.NullString
		)
		if err := rows.Scan(&rec.UserID, &rec.Slug, &active, &cfgJSON, &rec.ConfigVersion, &activated, &deact); err != nil {
			return nil, err
		}
		rec.IsActive = active != 0
		if cfgJSON.Valid && cfgJSON.String != "" {
			if err := json.Unmarshal([]byte(cfgJSON.String), &rec.Config); err != nil {
				return nil, fmt.Errorf("activation config decode: %w", err)
			}
		}
		rec.ActivatedAt = parseRFC3339(activated)
		rec.DeactivatedAt = parseRFC3339(deact)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- schedules ----

func (s *sqliteStore) UpsertSchedule(ctx context.Context, sp schedule.Spec) error {
	meta, err := marshalMeta(sp.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(user_id, slug, schedule_type, value, metadata, next_run_at, last_run_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, slug) DO UPDATE SET
		   schedule_type = excluded.schedule_type,
		   value = excluded.value,
		   metadata = excluded.metadata,
		   next_run_at = excluded.next_run_at,
		   last_run_at = excluded.last_run_at`,
		sp.UserID, sp.Slug, string(sp.Type), sp.Value, meta,
		unixMilliOrNil(sp.NextRunAt), unixMilliOrNil(sp.LastRunAt),
	)
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, userID int64, slug string) (schedule.Spec, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, slug, schedule_type, value, metadata, next_run_at, last_run_at
		 FROM schedules WHERE user_id = ? AND slug = ?`,
		userID, slug,
	)
	sp, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Spec{}, ErrNotFound
	}
	return sp, err
}

func (s *sqliteStore) DeleteSchedules(ctx context.Context, userID int64, slug string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE user_id = ? AND slug = ?`, userID, slug)
	return err
}

func (s *sqliteStore) DueSchedules(ctx context.Context, now time.Time) ([]schedule.Spec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sc.user_id, sc.slug, sc.schedule_type, sc.value, sc.metadata, sc.next_run_at, sc.last_run_at
		 FROM schedules sc
		 JOIN activations a ON a.user_id = sc.user_id AND a.slug = sc.slug
		 WHERE a.is_active = 1 AND sc.next_run_at IS NOT NULL AND sc.next_run_at <= ?
		 ORDER BY sc.next_run_at`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Spec
	for rows.Next() {
		sp, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CommitRun(ctx context.Context, userID int64, slug string, lastRun, nextRun, prevNext time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = ?, next_run_at = ?
		 WHERE user_id = ? AND slug = ? AND next_run_at = ?`,
		lastRun.UnixMilli(), nextRun.UnixMilli(), userID, slug, prevNext.UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func scanSchedule(scan func(dest ...any) error) (schedule.Spec, error) {
	var (
		sp       schedule.Spec
		typ      string
		metaJSON sql.NullString
		nextMS   sql.NullInt64
		lastMS   sql.NullInt64
	)
	if err := scan(&sp.UserID, &sp.Slug, &typ, &sp.Value, &metaJSON, &nextMS, &lastMS); err != nil {
		return schedule.Spec{}, err
	}
	sp.Type = schedule.Type(typ)
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &sp.Metadata); err != nil {
			return schedule.Spec{}, fmt.Errorf("schedule metadata decode: %w", err)
		}
	}
	if nextMS.Valid {
		sp.NextRunAt = time.UnixMilli(nextMS.Int64)
	}
	if lastMS.Valid {
		sp.LastRunAt = time.UnixMilli(lastMS.Int64)
	}
	return sp, nil
}

// ---- plugin state ----

func (s *sqliteStore) GetState(ctx context.Context, userID int64, slug, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_value FROM plugin_state WHERE user_id = ? AND slug = ? AND state_key = ?`,
		userID, slug, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *sqliteStore) PutState(ctx context.Context, userID int64, slug, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_state(user_id, slug, state_key, state_value) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, slug, state_key) DO UPDATE SET state_value = excluded.state_value`,
		userID, slug, key, value,
	)
	return err
}

// ---- execution log ----

func (s *sqliteStore) AppendExecution(ctx context.Context, e ExecutionLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, user_id, slug, started_at, finished_at, outcome, error, trigger_kind)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.Slug, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
		string(e.Outcome), nullStr(e.ErrorMessage), e.Trigger,
	)
	return err
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, userID int64, slug string, limit int) ([]ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, slug, started_at, finished_at, outcome, error, trigger_kind
		 FROM executions WHERE user_id = ? AND slug = ?
		 ORDER BY finished_at DESC LIMIT ?`,
		userID, slug, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionLogEntry
	for rows.Next() {
		var (
			e         ExecutionLogEntry
			startedMS int64
			finMS     int64
			outcome   string
			errMsg    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Slug, &startedMS, &finMS, &outcome, &errMsg, &e.Trigger); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(startedMS)
		e.FinishedAt = time.UnixMilli(finMS)
		e.Outcome = Outcome(outcome)
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- helpers ----

func marshalConfig(cfg schema.Config) (any, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config encode: %w", err)
	}
	return string(b), nil
}

func marshalMeta(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata encode: %w", err)
	}
	return string(b), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func fmtRFC3339(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseRFC3339(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func unixMilliOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
