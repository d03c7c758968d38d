package domain

// StateKind identifies the variant of a PipelineState.
type StateKind string

const (
	StateIdle        StateKind = "idle"
	StateQueued      StateKind = "queued"
	StateExtracting  StateKind = "extracting"
	StateDownloading StateKind = "downloading"
	StateSplitting   StateKind = "splitting"
	StateComplete    StateKind = "complete"
	StateError       StateKind = "error"
)

// PipelineState is the externally visible state of one pipeline run.
// Only the PipelineController writes it; observers receive read-only
// snapshots.
type PipelineState struct {
	Kind StateKind

	// Extracting
	SourceURL string

	// Downloading
	Progress DownloadProgress

	// Splitting
	CurrentPart int
	TotalParts  int
	Percent     int

	// Complete
	Segments []Segment

	// Error
	Err           *AppError
	FailedAtStage Stage // empty when the failure happened outside a named stage
	Retryable     bool
}

// Terminal reports whether the pipeline has finished this run.
func (s PipelineState) Terminal() bool {
	return s.Kind == StateComplete || s.Kind == StateError
}

// NewIdleState returns the initial state.
func NewIdleState() PipelineState {
	return PipelineState{Kind: StateIdle}
}

// NewQueuedState reports a run that has been accepted but not started.
func NewQueuedState() PipelineState {
	return PipelineState{Kind: StateQueued}
}

// NewExtractingState reports URL resolution in progress.
func NewExtractingState(sourceURL string) PipelineState {
	return PipelineState{Kind: StateExtracting, SourceURL: sourceURL}
}

// NewDownloadingState wraps the latest download progress observation.
func NewDownloadingState(p DownloadProgress) PipelineState {
	return PipelineState{Kind: StateDownloading, Progress: p}
}

// NewSplittingState reports re-encoding progress across parts.
func NewSplittingState(currentPart, totalParts int) PipelineState {
	percent := 0
	if totalParts > 0 {
		percent = clampPercent(currentPart * 100 / totalParts)
	}
	return PipelineState{
		Kind:        StateSplitting,
		CurrentPart: currentPart,
		TotalParts:  totalParts,
		Percent:     percent,
	}
}

// NewCompleteState carries the final, non-empty segment list.
func NewCompleteState(segments []Segment) PipelineState {
	return PipelineState{Kind: StateComplete, Segments: segments}
}

// NewErrorState reports a failed run. failedAtStage is empty for
// failures caught outside any named stage.
func NewErrorState(err *AppError, failedAtStage Stage) PipelineState {
	return PipelineState{
		Kind:          StateError,
		Err:           err,
		FailedAtStage: failedAtStage,
		Retryable:     err.Retryable,
	}
}

// Snapshot returns a defensive copy safe to hand to observers.
func (s PipelineState) Snapshot() PipelineState {
	out := s
	if s.Segments != nil {
		out.Segments = make([]Segment, len(s.Segments))
		copy(out.Segments, s.Segments)
	}
	return out
}
