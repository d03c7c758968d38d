package domain

import "fmt"

// Hard platform limits with a safety margin to absorb encoding variance:
// a segment may never run longer than 89 seconds or weigh more than
// 16 MiB minus 500 KiB.
const (
	MaxSegmentDurationSeconds = 90 - 1
	MaxSegmentSizeBytes       = 16*1024*1024 - 500*1024
)

// SplitConstraints bound every segment a split call may produce.
// They are computed once and passed explicitly.
type SplitConstraints struct {
	MaxDurationSeconds int
	MaxSizeBytes       int64
}

// DefaultSplitConstraints returns the platform limits with safety margins
// already applied.
func DefaultSplitConstraints() SplitConstraints {
	return SplitConstraints{
		MaxDurationSeconds: MaxSegmentDurationSeconds,
		MaxSizeBytes:       MaxSegmentSizeBytes,
	}
}

// Segment is one bounded output unit of a split call. Segments are
// immutable once created; a session's segment list is replaced wholesale
// on retry, never mutated in place.
type Segment struct {
	PartNumber       int
	TotalParts       int
	FilePath         string
	DurationSeconds  float64
	FileSizeBytes    int64
	StartTimeSeconds float64
	EndTimeSeconds   float64
}

// Validate checks the structural invariants of a single segment against
// the given constraints.
func (s Segment) Validate(c SplitConstraints) error {
	switch {
	case s.PartNumber < 1:
		return fmt.Errorf("%w: part number %d", ErrInvalidInput, s.PartNumber)
	case s.TotalParts < 1 || s.PartNumber > s.TotalParts:
		return fmt.Errorf("%w: part %d of %d", ErrInvalidInput, s.PartNumber, s.TotalParts)
	case s.FilePath == "":
		return fmt.Errorf("%w: segment file path is blank", ErrInvalidInput)
	case s.DurationSeconds < 0 || s.FileSizeBytes < 0:
		return fmt.Errorf("%w: negative duration or size", ErrInvalidInput)
	case s.StartTimeSeconds < 0 || s.EndTimeSeconds < s.StartTimeSeconds:
		return fmt.Errorf("%w: segment window [%f, %f]", ErrInvalidInput, s.StartTimeSeconds, s.EndTimeSeconds)
	case s.DurationSeconds > float64(c.MaxDurationSeconds):
		return fmt.Errorf("%w: segment duration %.2fs exceeds %ds", ErrInvalidInput, s.DurationSeconds, c.MaxDurationSeconds)
	case s.FileSizeBytes > c.MaxSizeBytes:
		return fmt.Errorf("%w: segment size %d exceeds %d", ErrInvalidInput, s.FileSizeBytes, c.MaxSizeBytes)
	}
	return nil
}
