package port

import (
	"time"

	"github.com/vertextoedge/sharesplit/internal/domain"
)

// DownloadTaskRepository persists durable download jobs keyed by the
// deterministic job key derived from the source URL.
type DownloadTaskRepository interface {
	// CreateOrReplace inserts the task, replacing any existing row for
	// the same key.
	CreateOrReplace(task *domain.DownloadTask) error

	// GetByKey retrieves a task, or domain.ErrTaskNotFound.
	GetByKey(key string) (*domain.DownloadTask, error)

	// ListResumable returns tasks that were pending or in progress, for
	// re-attachment after a restart.
	ListResumable() ([]*domain.DownloadTask, error)

	// UpdateTask persists the task's full mutable state.
	UpdateTask(task *domain.DownloadTask) error

	// UpdateProgress persists downloaded bytes and the temp file path.
	UpdateProgress(key string, bytesDownloaded, totalBytes int64, tempPath string) error

	// MarkStatus sets the task status.
	MarkStatus(key, status string) error

	// ReleaseStaleInProgressTasks returns in-progress tasks older than
	// the timeout to pending. A zero timeout releases all of them.
	ReleaseStaleInProgressTasks(timeout time.Duration) (int, error)

	// DeleteOldTerminalTasks removes completed/failed/cancelled rows
	// older than maxAge. Returns the number of rows deleted.
	DeleteOldTerminalTasks(maxAge time.Duration) (int, error)
}

// SessionRepository persists the one durable fact about a session: its
// source URL. Everything else is reconstructed fresh after a restart.
type SessionRepository interface {
	// SaveSession inserts or updates the session row.
	SaveSession(session *domain.ProcessingSession) error

	// GetSession retrieves a session by ID, or domain.ErrSessionNotFound.
	GetSession(id string) (*domain.ProcessingSession, error)

	// ListSessions returns all persisted sessions.
	ListSessions() ([]*domain.ProcessingSession, error)

	// DeleteSession removes the session row once its terminal state has
	// been consumed.
	DeleteSession(id string) error
}

// Store is the combined persistence surface backed by one database.
type Store interface {
	DownloadTaskRepository
	SessionRepository

	Ping() error
	Close() error
}
