package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the sqlite-backed build job queue.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := q.db.ExecContext(ctx, `
INSERT INTO build_jobs(
  id, repository, branch, output_path, build_type, status, submitted_by, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Repository, req.Branch, req.OutputPath, req.BuildType, StatusQueued, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// Dequeue claims the oldest queued job and marks it running. Returns (nil, nil)
// if the queue is empty. The claim is a single UPDATE so concurrent workers
// never receive the same job.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	nowS := time.Now().UTC().Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM build_jobs
  WHERE status = ?
  ORDER BY rowid ASC
  LIMIT 1
)
UPDATE build_jobs
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next) AND status = ?
RETURNING `+jobColumns+`;
`, StatusQueued, StatusRunning, nowS, StatusQueued)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return j, nil
}

// Complete marks a running job terminal.
func (q *Queue) Complete(ctx context.Context, jobID string, out Outcome) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if !out.Status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", out.Status)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, `
UPDATE build_jobs
SET status = ?, completed_at = ?, last_error = ?, build_log = ?, site_digest = ?
WHERE id = ?;
`, out.Status, completedAt, nullIfEmpty(out.LastError), nullIfEmpty(truncateLog(out.BuildLog)), nullIfEmpty(out.SiteDigest), jobID)
	if err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Get loads a single job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM build_jobs WHERE id = ?;`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Recent returns up to limit jobs, newest first.
func (q *Queue) Recent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM build_jobs
ORDER BY rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const jobColumns = `id, repository, branch, output_path, build_type, status, submitted_by,
  created_at, started_at, completed_at, last_error, site_digest`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j            Job
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
		siteDigest   sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.Repository, &j.Branch, &j.OutputPath, &j.BuildType, &statusS, &j.SubmittedBy,
		&createdAtS, &startedAtS, &completedAtS, &lastError, &siteDigest,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	j.StartedAt = parseNullTime(startedAtS)
	j.CompletedAt = parseNullTime(completedAtS)
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	if siteDigest.Valid {
		j.SiteDigest = &siteDigest.String
	}
	return &j, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// BuildLog returns the stored log tail of a finished job.
func (q *Queue) BuildLog(ctx context.Context, jobID string) (string, error) {
	var buildLog sql.NullString
	err := q.db.QueryRowContext(ctx, `SELECT build_log FROM build_jobs WHERE id = ?;`, jobID).Scan(&buildLog)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get build log: %w", err)
	}
	return buildLog.String, nil
}
