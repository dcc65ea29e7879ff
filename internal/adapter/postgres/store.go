package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/user/article-capture/internal/entity"
	"github.com/user/article-capture/internal/repository"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	interruptedMsg = "interrupted: process exited while the run was active"
)

// Store is a repository.JobStore backed by PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var _ repository.JobStore = (*Store)(nil)

// Open connects to connStr and applies the schema.
func Open(ctx context.Context, connStr string, logger *zap.Logger) (*Store, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (s *Store) AddURL(ctx context.Context, slug, url string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO urls (slug, url, status) VALUES ($1, $2, $3) ON CONFLICT (slug) DO NOTHING`,
		slug, url, entity.StatusPending)
	if err != nil {
		return false, fmt.Errorf("insert url %s: %w", slug, err)
	}
	return tag.RowsAffected() == 1, nil
}

const urlColumns = `slug, url, discovered, status, last_error, retry_count, updated`

func scanURL(row pgx.Row) (entity.URLRecord, error) {
	var (
		rec    entity.URLRecord
		status string
	)
	if err := row.Scan(&rec.Slug, &rec.URL, &rec.Discovered, &status, &rec.LastError, &rec.RetryCount, &rec.Updated); err != nil {
		return rec, err
	}
	st, err := entity.ParseStatus(status)
	rec.Status = st
	return rec, err
}

func (s *Store) GetURL(ctx context.Context, slug string) (*entity.URLRecord, error) {
	rec, err := scanURL(s.db.QueryRow(ctx, `SELECT `+urlColumns+` FROM urls WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get url %s: %w", slug, err)
	}
	return &rec, nil
}

func (s *Store) queryURLs(ctx context.Context, query string, args ...any) ([]entity.URLRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
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
	query := `SELECT ` + urlColumns + ` FROM urls WHERE status = $1 ORDER BY discovered, slug`
	args := []any{entity.StatusPending}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	recs, err := s.queryURLs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending urls: %w", err)
	}
	return recs, nil
}

func (s *Store) FailedURLs(ctx context.Context, maxRetries int) ([]entity.URLRecord, error) {
	query := `SELECT ` + urlColumns + ` FROM urls WHERE status = ANY($1)`
	args := []any{[]string{string(entity.StatusFailedExpansion), string(entity.StatusFailedValidation)}}
	if maxRetries > 0 {
		query += ` AND retry_count < $2`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY discovered, slug`
	recs, err := s.queryURLs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed urls: %w", err)
	}
	return recs, nil
}

// Transition relies on the WHERE status = ANY(allowed) guard, so two workers
// racing for the same claim cannot both succeed.
func (s *Store) Transition(ctx context.Context, slug string, to entity.Status, errMsg string) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", repository.ErrInvalidTransition, to)
	}
	allowed := make([]string, 0, len(to.AllowedFrom()))
	for _, st := range to.AllowedFrom() {
		allowed = append(allowed, string(st))
	}

	var query string
	args := []any{to, slug, allowed}
	switch {
	case to.IsFailure():
		query = `UPDATE urls SET status = $1, last_error = $4, retry_count = retry_count + 1, updated = NOW()
			WHERE slug = $2 AND status = ANY($3)`
		args = append(args, errMsg)
	case to == entity.StatusDone:
		query = `UPDATE urls SET status = $1, last_error = '', updated = NOW() WHERE slug = $2 AND status = ANY($3)`
	default:
		query = `UPDATE urls SET status = $1, updated = NOW() WHERE slug = $2 AND status = ANY($3)`
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status %s: %w", slug, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	rec, err := s.GetURL(ctx, slug)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s -> %s", repository.ErrInvalidTransition, slug, rec.Status, to)
}

func (s *Store) RequeueInterrupted(ctx context.Context, olderThan time.Time) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE urls SET status = $1, updated = NOW() WHERE status = $2 AND updated < $3 RETURNING slug`,
		entity.StatusPending, entity.StatusProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted: %w", err)
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted: %w", err)
	}
	if len(slugs) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE runs SET finished = NOW(), ok = FALSE, error_msg = $1 WHERE slug = ANY($2) AND finished IS NULL`,
			interruptedMsg, slugs); err != nil {
			return 0, fmt.Errorf("close interrupted runs: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	if len(slugs) > 0 {
		s.logger.Warn("requeued interrupted urls", zap.Int("count", len(slugs)))
	}
	return len(slugs), nil
}

func (s *Store) StartRun(ctx context.Context, runID, slug string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO runs (run_id, slug) VALUES ($1, $2)`, runID, slug)
	switch pgCode(err) {
	case "":
		if err != nil {
			return fmt.Errorf("insert run %s/%s: %w", runID, slug, err)
		}
		return nil
	case uniqueViolation:
		return fmt.Errorf("%w: %s", repository.ErrActiveRun, slug)
	case foreignKeyViolation:
		return fmt.Errorf("%w: %s", repository.ErrNotFound, slug)
	default:
		return fmt.Errorf("insert run %s/%s: %w", runID, slug, err)
	}
}

func (s *Store) FinishRun(ctx context.Context, runID, slug string, ok bool, errMsg string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE runs SET finished = NOW(), ok = $3, error_msg = $4 WHERE run_id = $1 AND slug = $2 AND finished IS NULL`,
		runID, slug, ok, errMsg)
	if err != nil {
		return fmt.Errorf("finish run %s/%s: %w", runID, slug, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM runs WHERE run_id = $1 AND slug = $2)`, runID, slug).Scan(&exists); err != nil {
		return fmt.Errorf("finish run %s/%s: %w", runID, slug, err)
	}
	if exists {
		return fmt.Errorf("%w: %s/%s", repository.ErrRunFinished, runID, slug)
	}
	return fmt.Errorf("%w: %s/%s", repository.ErrRunNotFound, runID, slug)
}

func (s *Store) Runs(ctx context.Context, slug string) ([]entity.RunRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT run_id, slug, started, finished, ok, error_msg FROM runs WHERE slug = $1 ORDER BY started DESC, run_id DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("runs %s: %w", slug, err)
	}
	defer rows.Close()

	var out []entity.RunRecord
	for rows.Next() {
		var run entity.RunRecord
		if err := rows.Scan(&run.RunID, &run.Slug, &run.Started, &run.Finished, &run.OK, &run.ErrorMsg); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) AddImage(ctx context.Context, img entity.ImageRecord) error {
	created := img.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO images (run_id, slug, idx, filename, section_title, created) VALUES ($1, $2, $3, $4, $5, $6)`,
		img.RunID, img.Slug, img.Index, img.Filename, img.SectionTitle, created)
	if pgCode(err) == foreignKeyViolation {
		return fmt.Errorf("%w: %s/%s", repository.ErrRunNotFound, img.RunID, img.Slug)
	}
	if err != nil {
		return fmt.Errorf("insert image %s/%s#%d: %w", img.RunID, img.Slug, img.Index, err)
	}
	return nil
}

func (s *Store) RunImages(ctx context.Context, runID, slug string) ([]entity.ImageRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT run_id, slug, idx, filename, section_title, created FROM images WHERE run_id = $1 AND slug = $2 ORDER BY idx`,
		runID, slug)
	if err != nil {
		return nil, fmt.Errorf("run images %s/%s: %w", runID, slug, err)
	}
	defer rows.Close()

	var out []entity.ImageRecord
	for rows.Next() {
		var img entity.ImageRecord
		if err := rows.Scan(&img.RunID, &img.Slug, &img.Index, &img.Filename, &img.SectionTitle, &img.Created); err != nil {
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

	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
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

	err = s.db.QueryRow(ctx, `SELECT (SELECT COUNT(*) FROM runs), (SELECT COUNT(*) FROM images)`).
		Scan(&stats.TotalRuns, &stats.TotalImages)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	return stats, nil
}

func (s *Store) Purge(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, table := range []string{"images", "runs", "urls"} {
		batch.Queue("DELETE FROM " + table)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}
