package port

import (
	"os"
	"time"
)

// DiskUsage represents disk usage statistics for the work directory
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// FileSystem defines the interface for work-directory operations
type FileSystem interface {
	// RootDir returns the work root directory
	RootDir() string

	// WorkPath returns the absolute path for a file name inside the
	// work directory
	WorkPath(fileName string) string

	// TempPath returns the in-progress download path for a file name
	TempPath(fileName string) string

	// OpenForResume opens the temp file for appending at the given
	// offset, truncating and starting over when the offset is zero.
	// Returns the open file and the byte offset writing will start at.
	OpenForResume(tempPath string, offset int64) (*os.File, int64, error)

	// Promote renames a finished temp file to its final path
	Promote(tempPath, finalPath string) error

	// DeleteFile removes a file, ignoring already-missing files
	DeleteFile(path string) error

	// FileExists checks if a file exists
	FileExists(path string) bool

	// GetFileSize returns the size of a file
	GetFileSize(path string) (int64, error)

	// CleanOldTempFiles removes temp files older than the specified
	// duration. Returns the number of files deleted.
	CleanOldTempFiles(olderThan time.Duration) (int, error)

	// GetDiskUsage returns disk usage statistics for the work directory
	GetDiskUsage() (*DiskUsage, error)
}
