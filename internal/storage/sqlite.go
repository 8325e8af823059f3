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

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "scraperd/pkg/logx"
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

	// Basic pragmas.
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

func (s *sqliteStore) CreateJob(ctx context.Context, j *Job) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if j == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, name, target_url, status, error, pages_fetched, created_at, started_at, completed_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.TargetURL, string(j.Status), nullStr(j.Error), j.PagesFetched,
		j.CreatedAt.Format(time.RFC3339Nano), nullTime(j.StartedAt), nullTime(j.CompletedAt),
	)
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, target_url, status, error, pages_fetched, created_at, started_at, completed_at
		 FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// SetJobStatus validates the lifecycle transition before writing.
// Timestamps are maintained here: started_at on running, completed_at on any
// terminal state.
func (s *sqliteStore) SetJobStatus(ctx context.Context, id string, status Status, errMsg string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := ValidateTransition(Status(cur), status); err != nil {
		return err
	}

	now := time.Now().Format(time.RFC3339Nano)
	switch {
	case status == StatusRunning:
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status=?, started_at=?, error=? WHERE id=?`,
			string(status), now, nullStr(errMsg), id)
	case status.Terminal():
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status=?, completed_at=?, error=? WHERE id=?`,
			string(status), now, nullStr(errMsg), id)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status=?, error=? WHERE id=?`,
			string(status), nullStr(errMsg), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) AddPagesFetched(ctx context.Context, id string, n int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if n <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET pages_fetched = pages_fetched + ? WHERE id = ?`, n, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, target_url, status, error, pages_fetched, created_at, started_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j                      Job
		status                 string
		errMsg                 sql.NullString
		createdAt              string
		startedAt, completedAt sql.NullString
	)
	if err := r.Scan(&j.ID, &j.Name, &j.TargetURL, &status, &errMsg, &j.PagesFetched, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		j.StartedAt = parseTime(startedAt.String)
	}
	if completedAt.Valid {
		j.CompletedAt = parseTime(completedAt.String)
	}
	return &j, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
