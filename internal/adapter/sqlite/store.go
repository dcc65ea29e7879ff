// Package sqlite implements the job store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
)

//go:embed schema.sql
var schema string

// Timestamps are stored as fixed-width UTC text so that they compare
// lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const interruptedMsg = "interrupted: process exited while the run was active"

// Store is a repository.JobStore backed by SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.JobStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB, logger *zap.Logger) (*Store, error) {
	// SQLite allows a single writer; one connection also keeps an
	// in-memory database alive for the store's lifetime.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) AddURL(ctx context.Context, slug, url string) (bool, error) {
	now := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO urls (slug, url, discovered, status, updated) VALUES (?, ?, ?, ?, ?)`,
		slug, url, now, entity.StatusPending, now)
	if err != nil {
		return false, fmt.Errorf("insert url %s: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const urlColumns = `slug, url, discovered, status, last_error, retry_count, updated`

type scanner interface {
	Scan(dest ...any) error
}

func scanURL(row scanner) (entity.URLRecord, error) {
	var (
		rec                 entity.URLRecord
		status              string
		discovered, updated string
	)
	if err := row.Scan(&rec.Slug, &rec.URL, &discovered, &status, &rec.LastError, &rec.RetryCount, &updated); err != nil {
		return rec, err
	}
	var err error
	if rec.Status, err = entity.ParseStatus(status); err != nil {
		return rec, err
	}
	if rec.Discovered, err = parseTime(discovered); err != nil {
		return rec, fmt.Errorf("discovered: %w", err)
	}
	if rec.Updated, err = parseTime(updated); err != nil {
		return rec, fmt.Errorf("updated: %w", err)
	}
	return rec, nil
}

func (s *Store) GetURL(ctx context.Context, slug string) (*entity.URLRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+urlColumns+` FROM urls WHERE slug = ?`, slug)
	rec, err := scanURL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get url %s: %w", slug, err)
	}
	return &rec, nil
}

func (s *Store) queryURLs(ctx context.Context, query string, args ...any) ([]entity.URLRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.URLRecord
	for rows.Next() {
		rec, err := scanURL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PendingURLs(ctx context.Context, limit int) ([]entity.URLRecord, error) {
	query := `SELECT ` + urlColumns + ` FROM urls WHERE status = ? ORDER BY discovered, slug`
	args := []any{entity.StatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	recs, err := s.queryURLs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending urls: %w", err)
	}
	return recs, nil
}

func (s *Store) FailedURLs(ctx context.Context, maxRetries int) ([]entity.URLRecord, error) {
	query := `SELECT ` + urlColumns + ` FROM urls WHERE status IN (?, ?)`
	args := []any{entity.StatusFailedExpansion, entity.StatusFailedValidation}
	if maxRetries > 0 {
		query += ` AND retry_count < ?`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY discovered, slug`
	recs, err := s.queryURLs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed urls: %w", err)
	}
	return recs, nil
}

func (s *Store) Transition(ctx context.Context, slug string, to entity.Status, errMsg string) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", repository.ErrInvalidTransition, to)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM urls WHERE slug = ?`, slug).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, slug)
		}
		if err != nil {
			return fmt.Errorf("read status %s: %w", slug, err)
		}
		from := entity.Status(current)
		if !entity.CanTransition(from, to) {
			return fmt.Errorf("%w: %s %s -> %s", repository.ErrInvalidTransition, slug, from, to)
		}

		var res sql.Result
		switch {
		case to.IsFailure():
			res, err = tx.ExecContext(ctx,
				`UPDATE urls SET status = ?, last_error = ?, retry_count = retry_count + 1, updated = ? WHERE slug = ? AND status = ?`,
				to, errMsg, s.timestamp(), slug, from)
		case to == entity.StatusDone:
			res, err = tx.ExecContext(ctx,
				`UPDATE urls SET status = ?, last_error = '', updated = ? WHERE slug = ? AND status = ?`,
				to, s.timestamp(), slug, from)
		default:
			res, err = tx.ExecContext(ctx,
				`UPDATE urls SET status = ?, updated = ? WHERE slug = ? AND status = ?`,
				to, s.timestamp(), slug, from)
		}
		if err != nil {
			return fmt.Errorf("update status %s: %w", slug, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s changed concurrently", repository.ErrInvalidTransition, slug)
		}
		return nil
	})
}

func (s *Store) RequeueInterrupted(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT slug FROM urls WHERE status = ? AND updated < ?`,
			entity.StatusProcessing, olderThan.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		var slugs []string
		for rows.Next() {
			var slug string
			if err := rows.Scan(&slug); err != nil {
				rows.Close()
				return err
			}
			slugs = append(slugs, slug)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := s.timestamp()
		for _, slug := range slugs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE runs SET finished = ?, ok = 0, error_msg = ? WHERE slug = ? AND finished IS NULL`,
				now, interruptedMsg, slug); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE urls SET status = ?, updated = ? WHERE slug = ? AND status = ?`,
				entity.StatusPending, now, slug, entity.StatusProcessing); err != nil {
				return err
			}
		}
		count = len(slugs)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted: %w", err)
	}
	if count > 0 {
		s.logger.Warn("requeued interrupted urls", zap.Int("count", count))
	}
	return count, nil
}

func (s *Store) StartRun(ctx context.Context, runID, slug string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM urls WHERE slug = ?`, slug).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", repository.ErrNotFound, slug)
		}

		var active string
		err = tx.QueryRowContext(ctx, `SELECT run_id FROM runs WHERE slug = ? AND finished IS NULL`, slug).Scan(&active)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s (run %s)", repository.ErrActiveRun, slug, active)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, slug, started) VALUES (?, ?, ?)`, runID, slug, s.timestamp())
		if err != nil {
			return fmt.Errorf("insert run %s/%s: %w", runID, slug, err)
		}
		return nil
	})
}

func (s *Store) FinishRun(ctx context.Context, runID, slug string, ok bool, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished = ?, ok = ?, error_msg = ? WHERE run_id = ? AND slug = ? AND finished IS NULL`,
		s.timestamp(), ok, errMsg, runID, slug)
	if err != nil {
		return fmt.Errorf("finish run %s/%s: %w", runID, slug, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE run_id = ? AND slug = ?`, runID, slug).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s/%s", repository.ErrRunFinished, runID, slug)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s/%s", repository.ErrRunNotFound, runID, slug)
	default:
		return fmt.Errorf("finish run %s/%s: %w", runID, slug, err)
	}
}

func (s *Store) Runs(ctx context.Context, slug string) ([]entity.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, slug, started, finished, ok, error_msg FROM runs WHERE slug = ? ORDER BY started DESC, run_id DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("runs %s: %w", slug, err)
	}
	defer rows.Close()

	var out []entity.RunRecord
	for rows.Next() {
		var (
			run      entity.RunRecord
			started  string
			finished sql.NullString
			ok       sql.NullBool
		)
		if err := rows.Scan(&run.RunID, &run.Slug, &started, &finished, &ok, &run.ErrorMsg); err != nil {
			return nil, err
		}
		if run.Started, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, err
			}
			run.Finished = &t
		}
		if ok.Valid {
			v := ok.Bool
			run.OK = &v
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) AddImage(ctx context.Context, img entity.ImageRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM runs WHERE run_id = ? AND slug = ?`, img.RunID, img.Slug).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s/%s", repository.ErrRunNotFound, img.RunID, img.Slug)
		}
		created := img.Created
		if created.IsZero() {
			created = s.now()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO images (run_id, slug, idx, filename, section_title, created) VALUES (?, ?, ?, ?, ?, ?)`,
			img.RunID, img.Slug, img.Index, img.Filename, img.SectionTitle, created.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert image %s/%s#%d: %w", img.RunID, img.Slug, img.Index, err)
		}
		return nil
	})
}

func (s *Store) RunImages(ctx context.Context, runID, slug string) ([]entity.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, slug, idx, filename, section_title, created FROM images WHERE run_id = ? AND slug = ? ORDER BY idx`,
		runID, slug)
	if err != nil {
		return nil, fmt.Errorf("run images %s/%s: %w", runID, slug, err)
	}
	defer rows.Close()

	var out []entity.ImageRecord
	for rows.Next() {
		var (
			img     entity.ImageRecord
			created string
		)
		if err := rows.Scan(&img.RunID, &img.Slug, &img.Index, &img.Filename, &img.SectionTitle, &created); err != nil {
			return nil, err
		}
		if img.Created, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*entity.Stats, error) {
	stats := &entity.Stats{ByStatus: make(map[entity.Status]int, len(entity.AllStatuses))}
	for _, st := range entity.AllStatuses {
		stats.ByStatus[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count urls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[entity.Status(status)] = n
		stats.TotalURLs += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&stats.TotalRuns); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&stats.TotalImages); err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}
	return stats, nil
}

func (s *Store) Purge(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"images", "runs", "urls"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("purge %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsMemory reports whether path names an in-memory database.
func IsMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
