package event

import (
	"time"

	"github.com/vertextoedge/sharesplit/internal/domain"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Outcome distinguishes how a session finished.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeAborted  Outcome = "aborted"
	OutcomeError    Outcome = "error"
)

// SessionStateChanged is raised every time the pipeline publishes a new
// state snapshot.
type SessionStateChanged struct {
	BaseEvent
	SessionID string
	SourceURL string
	State     domain.PipelineState
}

// EventName returns the event name
func (e SessionStateChanged) EventName() string {
	return "session.state_changed"
}

// NewSessionStateChanged creates a new SessionStateChanged event
func NewSessionStateChanged(sessionID, sourceURL string, state domain.PipelineState) SessionStateChanged {
	return SessionStateChanged{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		SessionID: sessionID,
		SourceURL: sourceURL,
		State:     state,
	}
}

// SessionFinished is the one-shot signal raised exactly once per run
// when the session reaches Complete, is aborted by the user, or fails.
type SessionFinished struct {
	BaseEvent
	SessionID string
	SourceURL string
	Outcome   Outcome
	Err       *domain.AppError // nil unless Outcome is error
	Segments  int              // zero unless Outcome is complete
}

// EventName returns the event name
func (e SessionFinished) EventName() string {
	return "session.finished"
}

// NewSessionFinished creates a new SessionFinished event
func NewSessionFinished(sessionID, sourceURL string, outcome Outcome, err *domain.AppError, segments int) SessionFinished {
	return SessionFinished{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		SessionID: sessionID,
		SourceURL: sourceURL,
		Outcome:   outcome,
		Err:       err,
		Segments:  segments,
	}
}

// DownloadTaskFailed is raised when a download attempt fails
type DownloadTaskFailed struct {
	BaseEvent
	Key        string
	URL        string
	Error      string
	RetryCount int
	CanRetry   bool
}

// EventName returns the event name
func (e DownloadTaskFailed) EventName() string {
	return "download_task.failed"
}

// NewDownloadTaskFailed creates a new DownloadTaskFailed event
func NewDownloadTaskFailed(key, url, errMsg string, retryCount int, canRetry bool) DownloadTaskFailed {
	return DownloadTaskFailed{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		Key:        key,
		URL:        url,
		Error:      errMsg,
		RetryCount: retryCount,
		CanRetry:   canRetry,
	}
}

// DownloadTaskCompleted is raised when a download task completes
type DownloadTaskCompleted struct {
	BaseEvent
	Key      string
	URL      string
	FilePath string
	Size     int64
	Duration time.Duration
}

// EventName returns the event name
func (e DownloadTaskCompleted) EventName() string {
	return "download_task.completed"
}

// NewDownloadTaskCompleted creates a new DownloadTaskCompleted event
func NewDownloadTaskCompleted(key, url, filePath string, size int64, duration time.Duration) DownloadTaskCompleted {
	return DownloadTaskCompleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Key:       key,
		URL:       url,
		FilePath:  filePath,
		Size:      size,
		Duration:  duration,
	}
}
