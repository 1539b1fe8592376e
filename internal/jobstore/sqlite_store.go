// Package jobstore provides persistent bookkeeping for ingestion jobs using
// SQLite. Only job status is journaled here; the normalized store, filters
// and selection are purely in-memory and rebuilt from scratch on startup.
package jobstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of an ingestion job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one ingestion job row.
type Job struct {
	ID          string     `json:"job_id"`
	Context     string     `json:"context"`
	Page        int        `json:"page"`
	Status      JobStatus  `json:"status"`
	Records     int        `json:"records"`
	Projections int        `json:"projections"`
	Stubs       int        `json:"stubs"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Store provides persistent storage for ingestion jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based job store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingest_jobs (
		job_id TEXT PRIMARY KEY,
		context TEXT NOT NULL,
		page INTEGER NOT NULL,
		status TEXT NOT NULL,
		records INTEGER DEFAULT 0,
		projections INTEGER DEFAULT 0,
		stubs INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_jobs_context ON ingest_jobs(context);
	CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_ingest_jobs_finished ON ingest_jobs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO ingest_jobs (job_id, context, page, status, records, projections, stubs, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Context,
		job.Page,
		string(job.Status),
		job.Records,
		job.Projections,
		job.Stubs,
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID. Returns nil without error when not found.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT job_id, context, page, status, records, projections, stubs, error, created_at, started_at, finished_at
		FROM ingest_jobs WHERE job_id = ?
	`, jobID)

	var job Job
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Context,
		&job.Page,
		&job.Status,
		&job.Records,
		&job.Projections,
		&job.Stubs,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}

	return &job, nil
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE ingest_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateJobFinished records the terminal status and merge counts.
func (s *Store) UpdateJobFinished(jobID string, status JobStatus, errMsg string, records, projections, stubs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE ingest_jobs SET status = ?, error = ?, records = ?, projections = ?, stubs = ?, finished_at = ?
		WHERE job_id = ?
	`, string(status), errMsg, records, projections, stubs, now, jobID)
	return err
}

// MarkUnfinishedAsFailed marks queued/running jobs as failed. Job payloads are
// not persisted, so nothing can be resumed after a restart.
func (s *Store) MarkUnfinishedAsFailed(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE ingest_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status IN (?, ?)
	`, string(JobStatusFailed), reason, now, string(JobStatusQueued), string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs removes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)
	res, err := s.db.Exec(`
		DELETE FROM ingest_jobs
		WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
