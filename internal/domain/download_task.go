package domain

import "time"

// Task status constants
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Backoff policy for failed download attempts: 30s initial delay,
// doubling per attempt, never below 10s, capped at 5h. The backoff is
// internal to the job and shows up to observers only as delayed
// progress.
const (
	backoffInitial = 30 * time.Second
	backoffFloor   = 10 * time.Second
	backoffCap     = 5 * time.Hour
)

// DownloadTask is the durable record of one background download job.
// Rows survive process restarts and are rediscoverable by Key, which is
// derived deterministically from the session's source URL.
type DownloadTask struct {
	Key      string
	URL      string
	FileName string

	// State
	Status string

	// Resume support
	TempFilePath    string
	BytesDownloaded int64
	TotalBytes      int64

	// Retry handling. Kind and retryability are persisted alongside
	// the message so a failure replayed after a restart keeps its
	// original classification.
	RetryCount         int
	MaxRetries         int
	NextRetryAt        *time.Time
	LastError          string
	LastErrorKind      ErrorKind
	LastErrorRetryable bool

	// Timestamps
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDownloadTask creates a pending task for the given job key.
func NewDownloadTask(key, url, fileName string, maxRetries int) *DownloadTask {
	return &DownloadTask{
		Key:        key,
		URL:        url,
		FileName:   fileName,
		Status:     TaskStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
}

// CanRetry returns true if the task has retry budget left.
func (t *DownloadTask) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// BackoffDelay returns the wait before the given attempt (1-based).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d < backoffFloor {
		return backoffFloor
	}
	return d
}

// MarkFailed records a failed attempt. If retries remain the task goes
// back to pending with its next attempt scheduled by BackoffDelay.
func (t *DownloadTask) MarkFailed(aerr *AppError) {
	t.RetryCount++
	t.LastError = aerr.Error()
	t.LastErrorKind = aerr.Kind
	t.LastErrorRetryable = aerr.Retryable

	if t.CanRetry() {
		t.Status = TaskStatusPending
		next := time.Now().Add(BackoffDelay(t.RetryCount))
		t.NextRetryAt = &next
	} else {
		t.Status = TaskStatusFailed
	}
}

// UpdateProgress records downloaded bytes and the temp file location.
func (t *DownloadTask) UpdateProgress(bytesDownloaded int64, tempPath string) {
	t.BytesDownloaded = bytesDownloaded
	if tempPath != "" {
		t.TempFilePath = tempPath
	}
}

// Percent returns the completed percentage, or 0 when the total size is
// not yet known.
func (t *DownloadTask) Percent() int {
	if t.TotalBytes <= 0 {
		return 0
	}
	return clampPercent(int(t.BytesDownloaded * 100 / t.TotalBytes))
}
