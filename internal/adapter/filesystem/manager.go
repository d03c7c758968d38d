package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vertextoedge/sharesplit/internal/port"
)

const tempSuffix = ".downloading"

// Manager handles work-directory operations
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager rooted at rootDir
func NewManager(rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work root dir: %w", err)
	}

	return &Manager{rootDir: rootDir}, nil
}

// RootDir returns the work root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// WorkPath returns the absolute path for a file name inside the work
// directory
func (m *Manager) WorkPath(fileName string) string {
	return filepath.Join(m.rootDir, fileName)
}

// TempPath returns the in-progress download path for a file name
func (m *Manager) TempPath(fileName string) string {
	return m.WorkPath(fileName) + tempSuffix
}

// OpenForResume opens the temp file for appending at the given offset.
// When the on-disk size does not match the requested offset, or the
// offset is zero, the file is truncated and writing starts over.
func (m *Manager) OpenForResume(tempPath string, offset int64) (*os.File, int64, error) {
	if offset > 0 {
		info, err := os.Stat(tempPath)
		if err == nil && info.Size() == offset {
			f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to open temp file for resume: %w", err)
			}
			return f, offset, nil
		}
	}

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	return f, 0, nil
}

// Promote renames a finished temp file to its final path
func (m *Manager) Promote(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to promote temp file: %w", err)
	}
	return nil
}

// DeleteFile removes a file, ignoring already-missing files
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// FileExists checks if a file exists
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns the size of a file
func (m *Manager) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip inaccessible entries
		}
		if info.IsDir() || !strings.HasSuffix(path, tempSuffix) {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				deleted++
			}
		}
		return nil
	})

	return deleted, err
}

// GetDiskUsage returns disk usage statistics for the work directory
func (m *Manager) GetDiskUsage() (*port.DiskUsage, error) {
	usage, err := disk.Usage(m.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	return &port.DiskUsage{
		Total:   usage.Total,
		Used:    usage.Used,
		Free:    usage.Free,
		UsedPct: usage.UsedPercent,
	}, nil
}
