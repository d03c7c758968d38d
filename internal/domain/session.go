package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// ProcessingSession identifies one run of the pipeline for a single
// source URL. Only SourceURL is durable across process restarts; the
// rest of the session is reconstructed fresh.
type ProcessingSession struct {
	ID        string
	SourceURL string
	Attempt   int
	Stage     Stage
	CreatedAt time.Time
}

// NewProcessingSession creates a session for the given source URL.
func NewProcessingSession(sourceURL string) *ProcessingSession {
	return &ProcessingSession{
		ID:        shortuuid.New(),
		SourceURL: strings.TrimSpace(sourceURL),
		Attempt:   1,
		CreatedAt: time.Now(),
	}
}

// JobKey derives the stable download job key for a source URL. The
// derivation is deterministic so a freshly constructed controller can
// rediscover an in-flight job after a restart knowing only the URL.
func JobKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sourceURL)))
	return hex.EncodeToString(sum[:])[:16]
}

// DerivedFileName returns the working file name for a source URL.
func DerivedFileName(sourceURL string) string {
	return JobKey(sourceURL) + ".media"
}
