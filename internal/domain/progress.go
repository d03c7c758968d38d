package domain

// ProgressKind identifies the variant of a DownloadProgress value.
type ProgressKind string

const (
	ProgressQueued      ProgressKind = "queued"
	ProgressDownloading ProgressKind = "downloading"
	ProgressPaused      ProgressKind = "paused"
	ProgressCompleted   ProgressKind = "completed"
	ProgressFailed      ProgressKind = "failed"
	ProgressCancelled   ProgressKind = "cancelled"
)

// DownloadProgress is one observation of a download job. Values are
// immutable snapshots; a job's stream delivers at most one terminal
// variant (Completed, Failed or Cancelled) and nothing after it.
type DownloadProgress struct {
	Kind ProgressKind

	// Downloading / Paused
	Percent             int
	DownloadedBytes     int64
	TotalBytes          int64
	SpeedBytesPerSecond int64

	// Completed
	FilePath      string
	FileSizeBytes int64

	// Failed
	Message   string
	Err       *AppError
	Retryable bool
}

// Terminal reports whether no further progress follows this variant.
func (p DownloadProgress) Terminal() bool {
	switch p.Kind {
	case ProgressCompleted, ProgressFailed, ProgressCancelled:
		return true
	}
	return false
}

// NewQueuedProgress reports a job that is known but not yet running.
// Unknown job states are reported as queued as well, never as an error.
func NewQueuedProgress() DownloadProgress {
	return DownloadProgress{Kind: ProgressQueued}
}

// NewDownloadingProgress reports bytes moving for an active job.
func NewDownloadingProgress(percent int, downloaded, total, speed int64) DownloadProgress {
	return DownloadProgress{
		Kind:                ProgressDownloading,
		Percent:             clampPercent(percent),
		DownloadedBytes:     downloaded,
		TotalBytes:          total,
		SpeedBytesPerSecond: speed,
	}
}

// NewPausedProgress reports a job waiting on host conditions (no
// connectivity, low disk) without giving up its accumulated progress.
func NewPausedProgress(percent int, downloaded, total int64, reason string) DownloadProgress {
	return DownloadProgress{
		Kind:            ProgressPaused,
		Percent:         clampPercent(percent),
		DownloadedBytes: downloaded,
		TotalBytes:      total,
		Message:         reason,
	}
}

// NewCompletedProgress reports a finished job and where its file landed.
func NewCompletedProgress(filePath string, fileSizeBytes int64) DownloadProgress {
	return DownloadProgress{
		Kind:          ProgressCompleted,
		Percent:       100,
		FilePath:      filePath,
		FileSizeBytes: fileSizeBytes,
	}
}

// NewFailedProgress reports a job that gave up with the given error.
func NewFailedProgress(err *AppError) DownloadProgress {
	return DownloadProgress{
		Kind:      ProgressFailed,
		Message:   err.Error(),
		Err:       err,
		Retryable: err.Retryable,
	}
}

// NewCancelledProgress reports a job terminated on request.
func NewCancelledProgress() DownloadProgress {
	return DownloadProgress{Kind: ProgressCancelled}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
