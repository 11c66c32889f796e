// Package store persists the pipeline's durable state in SQLite: job
// records, the processed-file dedup ledger, provider cursors, and
// per-chunk transcription results for resume.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// ErrCursorConflict signals a lost compare-and-swap on a cursor commit.
// The caller re-reads and re-syncs; the dedup ledger keeps the retry safe.
var ErrCursorConflict = errors.New("cursor version conflict")

// File ledger statuses.
const (
	FileDispatched = "dispatched"
	FileCompleted  = "completed"
	FileFailed     = "failed"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	modified_at DATETIME,
	extension TEXT,
	state TEXT NOT NULL,
	plan TEXT,
	attempts TEXT,
	error TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS processed_files (
	file_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	status TEXT NOT NULL,
	dispatched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
	provider TEXT PRIMARY KEY,
	cursor TEXT NOT NULL,
	version INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_results (
	job_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	segments TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (job_id, chunk_index)
);
`

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(job *types.TranscriptionJob) error {
	return insertJob(s.db, job)
}

// CreateJobForFile runs the dedup check-and-insert and the job insert in
// one transaction. A job insert that fails after the ledger insert won
// rolls the ledger row back too, so the file never ends up owned by a
// job that does not exist. Returns false when another job already owns
// the file.
func (s *Store) CreateJobForFile(job *types.TranscriptionJob) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("acquire file %s: %w", job.File.ID, err)
	}
	defer tx.Rollback()

	won, err := tryAcquireFile(tx, job.File.ID, job.ID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if err := insertJob(tx, job); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("acquire file %s: %w", job.File.ID, err)
	}
	return true, nil
}

// UpdateJob persists the mutable fields of a job: state, plan, attempt
// counters, error, completion time.
func (s *Store) UpdateJob(job *types.TranscriptionJob) error {
	plan, attempts, err := encodeJobBlobs(job)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE jobs SET state = ?, plan = ?, attempts = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		string(job.State), plan, attempts, job.Error, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update job %s: not found", job.ID)
	}
	return nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(id string) (*types.TranscriptionJob, error) {
	row := s.db.QueryRow(jobSelect+` WHERE id = ?`, id)
	return scanJob(row)
}

// NextQueued returns the oldest QUEUED job or nil when none exist.
func (s *Store) NextQueued() (*types.TranscriptionJob, error) {
	row := s.db.QueryRow(jobSelect+` WHERE state = ? ORDER BY created_at LIMIT 1`,
		string(types.StateQueued))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// ListJobs returns the most recent jobs.
func (s *Store) ListJobs(limit int) ([]types.TranscriptionJob, error) {
	rows, err := s.db.Query(jobSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.TranscriptionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// TryAcquireFile performs the atomic check-and-insert on the dedup
// ledger. It returns true when this caller won the file: either no record
// existed, or the previous attempt had failed. A live or completed record
// makes the dispatch a no-op.
func (s *Store) TryAcquireFile(fileID, jobID string) (bool, error) {
	return tryAcquireFile(s.db, fileID, jobID)
}

// SetFileStatus records the terminal outcome for a ledger entry.
func (s *Store) SetFileStatus(fileID, status string) error {
	_, err := s.db.Exec(`UPDATE processed_files SET status = ? WHERE file_id = ?`, status, fileID)
	if err != nil {
		return fmt.Errorf("set file status %s: %w", fileID, err)
	}
	return nil
}

// Cursor returns the stored cursor and its version for a provider. A
// missing cursor is ("", 0, nil): the provider starts a fresh listing.
func (s *Store) Cursor(provider string) (string, int64, error) {
	var cursor string
	var version int64
	err := s.db.QueryRow(`SELECT cursor, version FROM cursors WHERE provider = ?`, provider).
		Scan(&cursor, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("read cursor %s: %w", provider, err)
	}
	return cursor, version, nil
}

// CommitCursor writes a cursor guarded by the version read alongside it.
// A concurrent commit in between returns ErrCursorConflict.
func (s *Store) CommitCursor(provider, cursor string, expectedVersion int64) error {
	now := time.Now().UTC()

	if expectedVersion == 0 {
		res, err := s.db.Exec(`
			INSERT INTO cursors (provider, cursor, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(provider) DO NOTHING`,
			provider, cursor, now)
		if err != nil {
			return fmt.Errorf("insert cursor %s: %w", provider, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrCursorConflict
		}
		return nil
	}

	res, err := s.db.Exec(`
		UPDATE cursors SET cursor = ?, version = version + 1, updated_at = ?
		WHERE provider = ? AND version = ?`,
		cursor, now, provider, expectedVersion)
	if err != nil {
		return fmt.Errorf("update cursor %s: %w", provider, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCursorConflict
	}
	return nil
}

// SaveChunkResult persists one chunk's segments keyed by (job, index) so
// a restarted job does not re-transcribe finished chunks.
func (s *Store) SaveChunkResult(jobID string, result types.ChunkResult) error {
	segments, err := json.Marshal(result.Segments)
	if err != nil {
		return fmt.Errorf("encode chunk %d segments: %w", result.Index, err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO chunk_results (job_id, chunk_index, segments, created_at)
		VALUES (?, ?, ?, ?)`,
		jobID, result.Index, string(segments), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save chunk %d of job %s: %w", result.Index, jobID, err)
	}
	return nil
}

// ChunkResults loads the persisted chunk results for a job.
func (s *Store) ChunkResults(jobID string) (map[int]types.ChunkResult, error) {
	rows, err := s.db.Query(
		`SELECT chunk_index, segments FROM chunk_results WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load chunk results for %s: %w", jobID, err)
	}
	defer rows.Close()

	results := make(map[int]types.ChunkResult)
	for rows.Next() {
		var index int
		var raw string
		if err := rows.Scan(&index, &raw); err != nil {
			return nil, err
		}
		var segments []types.TranscriptSegment
		if err := json.Unmarshal([]byte(raw), &segments); err != nil {
			return nil, fmt.Errorf("decode chunk %d of %s: %w", index, jobID, err)
		}
		results[index] = types.ChunkResult{Index: index, Segments: segments}
	}
	return results, rows.Err()
}

const jobSelect = `
	SELECT id, file_id, file_path, size_bytes, modified_at, extension,
		state, plan, attempts, error, created_at, completed_at
	FROM jobs`

// execer lets the insert helpers run against the database or an open
// transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertJob(ex execer, job *types.TranscriptionJob) error {
	plan, attempts, err := encodeJobBlobs(job)
	if err != nil {
		return err
	}

	_, err = ex.Exec(`
		INSERT INTO jobs (id, file_id, file_path, size_bytes, modified_at, extension,
			state, plan, attempts, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.File.ID, job.File.Path, job.File.SizeBytes, job.File.ModifiedAt,
		job.File.Extension, string(job.State), plan, attempts, job.Error,
		job.CreatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func tryAcquireFile(ex execer, fileID, jobID string) (bool, error) {
	res, err := ex.Exec(`
		INSERT INTO processed_files (file_id, job_id, status, dispatched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			job_id = excluded.job_id,
			status = excluded.status,
			dispatched_at = excluded.dispatched_at
		WHERE processed_files.status = ?`,
		fileID, jobID, FileDispatched, time.Now().UTC(), FileFailed)
	if err != nil {
		return false, fmt.Errorf("acquire file %s: %w", fileID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.TranscriptionJob, error) {
	var (
		job         types.TranscriptionJob
		state       string
		plan        sql.NullString
		attempts    sql.NullString
		errMsg      sql.NullString
		modifiedAt  sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(&job.ID, &job.File.ID, &job.File.Path, &job.File.SizeBytes,
		&modifiedAt, &job.File.Extension, &state, &plan, &attempts, &errMsg,
		&job.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.State = types.JobState(state)
	if modifiedAt.Valid {
		job.File.ModifiedAt = modifiedAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if plan.Valid && plan.String != "" {
		var p types.ChunkPlan
		if err := json.Unmarshal([]byte(plan.String), &p); err != nil {
			return nil, fmt.Errorf("decode plan for job %s: %w", job.ID, err)
		}
		job.Plan = &p
	}
	if attempts.Valid && attempts.String != "" {
		if err := json.Unmarshal([]byte(attempts.String), &job.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}

func encodeJobBlobs(job *types.TranscriptionJob) (plan, attempts string, err error) {
	if job.Plan != nil {
		raw, err := json.Marshal(job.Plan)
		if err != nil {
			return "", "", fmt.Errorf("encode plan: %w", err)
		}
		plan = string(raw)
	}
	if len(job.Attempts) > 0 {
		raw, err := json.Marshal(job.Attempts)
		if err != nil {
			return "", "", fmt.Errorf("encode attempts: %w", err)
		}
		attempts = string(raw)
	}
	return plan, attempts, nil
}
