package port

import (
	"context"

	"github.com/vertextoedge/sharesplit/internal/domain"
)

// Extractor resolves a user-supplied share URL to a direct media URL.
// Implementations enforce their own bounded wait and surface expiry as a
// network error.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string) (string, *domain.AppError)
}

// DownloadCoordinator runs durable background download jobs. A job
// outlives the process that enqueued it and is rediscoverable by its
// key; enqueuing an identical key while a previous job is running
// replaces it, so at most one job exists per key.
type DownloadCoordinator interface {
	// Enqueue starts (or replaces) the job for key and returns its
	// progress stream. The stream delivers at most one terminal variant
	// and is closed after it.
	Enqueue(ctx context.Context, directURL, fileName, key string) (<-chan domain.DownloadProgress, error)

	// Attach re-subscribes to the job for key, restarting it from its
	// persisted state if the process died while it was running.
	Attach(ctx context.Context, key string) (<-chan domain.DownloadProgress, error)

	// Status reports the last known progress for key. Unknown keys are
	// reported as queued, never as an error.
	Status(key string) domain.DownloadProgress

	// Cancel requests termination of the job for key. Best effort: the
	// stream ends with a cancelled variant, or the call is silently
	// ignored if the job is already terminal or unknown.
	Cancel(key string)
}

// Splitter cuts a downloaded file into segments honoring the given
// constraints. The final segment may be shorter than the bounds, never
// longer. progress may be nil.
type Splitter interface {
	Split(ctx context.Context, inputPath string, c domain.SplitConstraints, progress func(currentPart, totalParts int)) ([]domain.Segment, *domain.AppError)
}
