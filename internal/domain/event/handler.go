package event

import (
	"go.uber.org/zap"
)

// EventHandler handles domain events
type EventHandler interface {
	// Handle processes the event
	Handle(event DomainEvent) error
	// HandledEvents returns the event names this handler handles
	HandledEvents() []string
}

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case SessionStateChanged:
		h.logger.Debug("session state changed",
			zap.String("session_id", e.SessionID),
			zap.String("state", string(e.State.Kind)),
		)
	case SessionFinished:
		switch e.Outcome {
		case OutcomeError:
			h.logger.Warn("session failed",
				zap.String("session_id", e.SessionID),
				zap.String("source_url", e.SourceURL),
				zap.Error(e.Err),
				zap.Bool("retryable", e.Err != nil && e.Err.Retryable),
			)
		default:
			h.logger.Info("session finished",
				zap.String("session_id", e.SessionID),
				zap.String("outcome", string(e.Outcome)),
				zap.Int("segments", e.Segments),
			)
		}
	case DownloadTaskFailed:
		h.logger.Warn("download task failed",
			zap.String("key", e.Key),
			zap.String("error", e.Error),
			zap.Int("retry_count", e.RetryCount),
			zap.Bool("can_retry", e.CanRetry),
		)
	case DownloadTaskCompleted:
		h.logger.Info("download task completed",
			zap.String("key", e.Key),
			zap.String("file_path", e.FilePath),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}
