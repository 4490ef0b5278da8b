package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a recorded transfer job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when no job has the requested id.
var ErrNotFound = errors.New("job not found")

// Job is one recorded image transfer.
type Job struct {
	ID            int64     `json:"id" yaml:"id"`
	Source        string    `json:"source" yaml:"source"`
	Target        string    `json:"target" yaml:"target"`
	DistinctID    string    `json:"distinct_id" yaml:"distinct_id"`
	RunNumber     int64     `json:"run_number,omitempty" yaml:"run_number,omitempty"`
	RunID         int64     `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status        Status    `json:"status" yaml:"status"`
	RepoURL       string    `json:"repo_url" yaml:"repo_url"`
	RepoNamespace string    `json:"repo_namespace" yaml:"repo_namespace"`
	WorkflowID    int64     `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
	WorkflowName  string    `json:"workflow_name,omitempty" yaml:"workflow_name,omitempty"`
	FullURL       string    `json:"full_url,omitempty" yaml:"full_url,omitempty"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store persists jobs in the sqlite jobs table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `id, source, target, distinct_id, run_number, run_id, status,
  repo_url, repo_namespace, workflow_id, workflow_name, full_url, error, created_at, updated_at`

// Create inserts a pending job and returns it with its id and timestamps set.
func (s *Store) Create(ctx context.Context, job Job) (Job, error) {
	if job.Source == "" || job.DistinctID == "" {
		return Job{}, fmt.Errorf("job source and distinct id are required")
	}
	now := s.now().UTC()
	job.Status = StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
INSERT INTO jobs(source, target, distinct_id, status, repo_url, repo_namespace, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		job.Source, job.Target, job.DistinctID, job.Status, job.RepoURL, job.RepoNamespace,
		formatTime(now), formatTime(now))
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Job{}, fmt.Errorf("insert job id: %w", err)
	}
	job.ID = id
	return job, nil
}

// Start records the located run and moves the job to running.
func (s *Store) Start(ctx context.Context, id, workflowID int64, workflowName string, runID, runNumber int64) error {
	return s.update(ctx, id, `
UPDATE jobs SET status = ?, workflow_id = ?, workflow_name = ?, run_id = ?, run_number = ?, updated_at = ?
WHERE id = ?;`, StatusRunning, workflowID, workflowName, runID, runNumber, formatTime(s.now().UTC()), id)
}

// Finish stores the terminal status. fullURL is the pullable image on success;
// errMsg describes the failure otherwise.
func (s *Store) Finish(ctx context.Context, id int64, status Status, fullURL, errMsg string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("finish job %d: %q is not a terminal status", id, status)
	}
	return s.update(ctx, id, `
UPDATE jobs SET status = ?, full_url = ?, error = ?, updated_at = ?
WHERE id = ?;`, status, fullURL, errMsg, formatTime(s.now().UTC()), id)
}

func (s *Store) update(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update job %d: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns one job by id.
func (s *Store) Get(ctx context.Context, id int64) (Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM jobs WHERE id = ?;", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("read job %d: %w", id, err)
	}
	return job, nil
}

// List returns up to limit jobs, newest first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	query := "SELECT " + selectColumns + " FROM jobs ORDER BY id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		job                   Job
		runNumber, runID, wid sql.NullInt64
		status                string
		created, updated      string
	)
	err := row.Scan(&job.ID, &job.Source, &job.Target, &job.DistinctID, &runNumber, &runID, &status,
		&job.RepoURL, &job.RepoNamespace, &wid, &job.WorkflowName, &job.FullURL, &job.Error, &created, &updated)
	if err != nil {
		return Job{}, err
	}
	job.RunNumber = runNumber.Int64
	job.RunID = runID.Int64
	job.WorkflowID = wid.Int64
	job.Status = Status(status)
	job.CreatedAt = parseTime(created)
	job.UpdatedAt = parseTime(updated)
	return job, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
