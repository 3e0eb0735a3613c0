package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists jobs and their task records so analysis state
// survives restarts. It implements jobs.Persister.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Track applied migration versions so reopening an existing database
	// only runs the new ones.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT file_id, filename, file_type, status, current_task, error_message,
		        media_path, size_bytes, duration, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*jobs.Job)
	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var (
			item        jobs.Job
			fileType    string
			status      string
			currentTask string
		)
		if err := rows.Scan(
			&item.FileID,
			&item.Filename,
			&fileType,
			&status,
			&currentTask,
			&item.ErrorMessage,
			&item.MediaPath,
			&item.SizeBytes,
			&item.Duration,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.FileType = media.FileType(fileType)
		item.Status = jobs.Status(status)
		item.CurrentTask = task.Type(currentTask)
		item.Tasks = make(map[task.Type]*jobs.TaskRecord)
		byID[item.FileID] = &item
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadTaskRecords(ctx, byID); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) loadTaskRecords(ctx context.Context, byID map[string]*jobs.Job) error {
	if len(byID) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT file_id, task_type, status, attempt_count, result, last_error, updated_at
		 FROM task_records`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fileID   string
			taskType string
			status   string
			result   sql.NullString
			rec      jobs.TaskRecord
		)
		if err := rows.Scan(
			&fileID,
			&taskType,
			&status,
			&rec.AttemptCount,
			&result,
			&rec.LastError,
			&rec.UpdatedAt,
		); err != nil {
			return err
		}
		job, ok := byID[fileID]
		if !ok {
			continue
		}
		rec.Type = task.Type(taskType)
		rec.Status = task.Status(status)
		if result.Valid && result.String != "" {
			rec.Result = json.RawMessage(result.String)
		}
		job.Tasks[rec.Type] = &rec
	}
	return rows.Err()
}

// UpsertJob writes the job row and all of its task records in one
// transaction, so a loaded job is never missing records its status already
// accounts for.
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
			file_id, filename, file_type, status, current_task, error_message,
			media_path, size_bytes, duration, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			status=excluded.status,
			current_task=excluded.current_task,
			error_message=excluded.error_message,
			duration=excluded.duration,
			updated_at=excluded.updated_at`,
		job.FileID,
		job.Filename,
		string(job.FileType),
		string(job.Status),
		string(job.CurrentTask),
		job.ErrorMessage,
		job.MediaPath,
		job.SizeBytes,
		job.Duration,
		job.CreatedAt,
		job.UpdatedAt,
	); err != nil {
		return err
	}

	for _, t := range task.All {
		rec, ok := job.Tasks[t]
		if !ok {
			continue
		}
		var result any
		if len(rec.Result) > 0 {
			result = string(rec.Result)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO task_records (
				file_id, task_type, status, attempt_count, result, last_error, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id, task_type) DO UPDATE SET
				status=excluded.status,
				attempt_count=excluded.attempt_count,
				result=excluded.result,
				last_error=excluded.last_error,
				updated_at=excluded.updated_at`,
			job.FileID,
			string(t),
			string(rec.Status),
			rec.AttemptCount,
			result,
			rec.LastError,
			rec.UpdatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
