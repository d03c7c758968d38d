package split

import (
	"math"

	"github.com/vertextoedge/sharesplit/internal/domain"
)

// PartPlan is one planned segment window. Windows partition
// [0, duration] contiguously with no gaps or overlaps.
type PartPlan struct {
	Index        int // 1-based, chronological
	StartSeconds float64
	EndSeconds   float64
}

// Duration returns the planned window length in seconds.
func (p PartPlan) Duration() float64 {
	return p.EndSeconds - p.StartSeconds
}

// Plan computes segment boundaries for a media file of the given
// duration and size under the given constraints. The part count is the
// larger of what the duration bound and the size bound demand, and the
// windows are evenly sized so every part stays under the duration
// bound with the slack spread across all parts instead of piling into
// a short tail.
func Plan(durationSeconds float64, sizeBytes int64, c domain.SplitConstraints) []PartPlan {
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	parts := 1
	if c.MaxDurationSeconds > 0 {
		byDuration := int(math.Ceil(durationSeconds / float64(c.MaxDurationSeconds)))
		if byDuration > parts {
			parts = byDuration
		}
	}
	if c.MaxSizeBytes > 0 && sizeBytes > 0 {
		bySize := int((sizeBytes + c.MaxSizeBytes - 1) / c.MaxSizeBytes)
		if bySize > parts {
			parts = bySize
		}
	}

	plans := make([]PartPlan, parts)
	for i := 0; i < parts; i++ {
		plans[i] = PartPlan{
			Index:        i + 1,
			StartSeconds: durationSeconds * float64(i) / float64(parts),
			EndSeconds:   durationSeconds * float64(i+1) / float64(parts),
		}
	}
	// Land the last boundary exactly on the original duration.
	plans[parts-1].EndSeconds = durationSeconds

	return plans
}
