package sqlite

import (
	"database/sql"
	"time"

	"github.com/vertextoedge/sharesplit/internal/domain"
)

// CreateOrReplace inserts the task, replacing any existing row for the
// same key. This backs the coordinator's replace-on-enqueue policy: at
// most one job row exists per key.
func (s *Store) CreateOrReplace(task *domain.DownloadTask) error {
	query := `
		INSERT INTO download_tasks (
			key, url, file_name, status, temp_file_path, bytes_downloaded,
			total_bytes, retry_count, max_retries, next_retry_at, last_error,
			last_error_kind, last_error_retryable
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			url = excluded.url,
			file_name = excluded.file_name,
			status = excluded.status,
			temp_file_path = excluded.temp_file_path,
			bytes_downloaded = excluded.bytes_downloaded,
			total_bytes = excluded.total_bytes,
			retry_count = excluded.retry_count,
			max_retries = excluded.max_retries,
			next_retry_at = excluded.next_retry_at,
			last_error = excluded.last_error,
			last_error_kind = excluded.last_error_kind,
			last_error_retryable = excluded.last_error_retryable,
			updated_at = datetime('now')
	`

	_, err := s.db.Exec(query,
		task.Key, task.URL, task.FileName, task.Status,
		nullString(task.TempFilePath), task.BytesDownloaded, task.TotalBytes,
		task.RetryCount, task.MaxRetries, nullTime(task.NextRetryAt),
		nullString(task.LastError), nullString(string(task.LastErrorKind)),
		task.LastErrorRetryable)
	return err
}

// GetByKey retrieves a task by its job key
func (s *Store) GetByKey(key string) (*domain.DownloadTask, error) {
	query := `
		SELECT key, url, file_name, status, temp_file_path, bytes_downloaded,
			   total_bytes, retry_count, max_retries, next_retry_at, last_error,
			   last_error_kind, last_error_retryable, created_at, updated_at
		FROM download_tasks
		WHERE key = ?
	`

	return s.scanTask(s.db.QueryRow(query, key))
}

// ListResumable returns tasks that were pending or in progress
func (s *Store) ListResumable() ([]*domain.DownloadTask, error) {
	query := `
		SELECT key, url, file_name, status, temp_file_path, bytes_downloaded,
			   total_bytes, retry_count, max_retries, next_retry_at, last_error,
			   last_error_kind, last_error_retryable, created_at, updated_at
		FROM download_tasks
		WHERE status IN ('pending', 'in_progress')
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.DownloadTask
	for rows.Next() {
		task, err := s.scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask persists the task's full mutable state
func (s *Store) UpdateTask(task *domain.DownloadTask) error {
	query := `
		UPDATE download_tasks
		SET status = ?, temp_file_path = ?, bytes_downloaded = ?,
			total_bytes = ?, retry_count = ?, next_retry_at = ?,
			last_error = ?, last_error_kind = ?, last_error_retryable = ?,
			updated_at = datetime('now')
		WHERE key = ?
	`

	_, err := s.db.Exec(query,
		task.Status, nullString(task.TempFilePath), task.BytesDownloaded,
		task.TotalBytes, task.RetryCount, nullTime(task.NextRetryAt),
		nullString(task.LastError), nullString(string(task.LastErrorKind)),
		task.LastErrorRetryable, task.Key)
	return err
}

// UpdateProgress persists downloaded bytes and the temp file path
func (s *Store) UpdateProgress(key string, bytesDownloaded, totalBytes int64, tempPath string) error {
	query := `
		UPDATE download_tasks
		SET bytes_downloaded = ?, total_bytes = ?, temp_file_path = ?,
			updated_at = datetime('now')
		WHERE key = ?
	`

	_, err := s.db.Exec(query, bytesDownloaded, totalBytes, nullString(tempPath), key)
	return err
}

// MarkStatus sets the task status
func (s *Store) MarkStatus(key, status string) error {
	query := `
		UPDATE download_tasks
		SET status = ?, updated_at = datetime('now')
		WHERE key = ?
	`

	_, err := s.db.Exec(query, status, key)
	return err
}

// ReleaseStaleInProgressTasks returns in-progress tasks older than the
// timeout to pending. A zero timeout releases all of them, which is
// what a fresh process does on startup.
func (s *Store) ReleaseStaleInProgressTasks(timeout time.Duration) (int, error) {
	var result sql.Result
	var err error

	if timeout <= 0 {
		result, err = s.db.Exec(`
			UPDATE download_tasks
			SET status = 'pending', updated_at = datetime('now')
			WHERE status = 'in_progress'
		`)
	} else {
		cutoff := time.Now().Add(-timeout)
		result, err = s.db.Exec(`
			UPDATE download_tasks
			SET status = 'pending', updated_at = datetime('now')
			WHERE status = 'in_progress' AND updated_at < ?
		`, cutoff)
	}
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	return int(affected), err
}

// DeleteOldTerminalTasks removes terminal rows older than maxAge
func (s *Store) DeleteOldTerminalTasks(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	result, err := s.db.Exec(`
		DELETE FROM download_tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	return int(affected), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(row *sql.Row) (*domain.DownloadTask, error) {
	task, err := s.scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTaskNotFound
	}
	return task, err
}

func (s *Store) scanTaskRow(row rowScanner) (*domain.DownloadTask, error) {
	task := &domain.DownloadTask{}
	var tempPath, lastError, lastErrorKind sql.NullString
	var nextRetryAt sql.NullTime

	err := row.Scan(
		&task.Key, &task.URL, &task.FileName, &task.Status,
		&tempPath, &task.BytesDownloaded, &task.TotalBytes,
		&task.RetryCount, &task.MaxRetries, &nextRetryAt, &lastError,
		&lastErrorKind, &task.LastErrorRetryable,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tempPath.Valid {
		task.TempFilePath = tempPath.String
	}
	if lastError.Valid {
		task.LastError = lastError.String
	}
	if lastErrorKind.Valid {
		task.LastErrorKind = domain.ErrorKind(lastErrorKind.String)
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		task.NextRetryAt = &t
	}

	return task, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
