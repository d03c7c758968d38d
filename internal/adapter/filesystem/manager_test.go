package filesystem

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestManager_Paths(t *testing.T) {
	m := newTestManager(t)

	work := m.WorkPath("abc.media")
	assert.Equal(t, work+tempSuffix, m.TempPath("abc.media"))
}

func TestManager_OpenForResume_FreshStart(t *testing.T) {
	m := newTestManager(t)
	tempPath := m.TempPath("f.media")

	f, offset, err := m.OpenForResume(tempPath, 0)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(0), offset)
	_, err = f.WriteString("hello")
	require.NoError(t, err)
}

func TestManager_OpenForResume_AppendsAtMatchingOffset(t *testing.T) {
	m := newTestManager(t)
	tempPath := m.TempPath("f.media")
	require.NoError(t, os.WriteFile(tempPath, []byte("12345"), 0644))

	f, offset, err := m.OpenForResume(tempPath, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), offset)

	_, err = f.WriteString("678")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(tempPath)
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(data))
}

func TestManager_OpenForResume_MismatchedOffsetStartsOver(t *testing.T) {
	m := newTestManager(t)
	tempPath := m.TempPath("f.media")
	require.NoError(t, os.WriteFile(tempPath, []byte("12345"), 0644))

	f, offset, err := m.OpenForResume(tempPath, 99)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(0), offset)
}

func TestManager_Promote(t *testing.T) {
	m := newTestManager(t)
	tempPath := m.TempPath("f.media")
	finalPath := m.WorkPath("f.media")
	require.NoError(t, os.WriteFile(tempPath, []byte("done"), 0644))

	require.NoError(t, m.Promote(tempPath, finalPath))

	assert.False(t, m.FileExists(tempPath))
	assert.True(t, m.FileExists(finalPath))

	size, err := m.GetFileSize(finalPath)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestManager_DeleteFile_MissingIsNotAnError(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.DeleteFile(m.WorkPath("never-existed")))
}

func TestManager_CleanOldTempFiles(t *testing.T) {
	m := newTestManager(t)

	oldTemp := m.TempPath("old.media")
	require.NoError(t, os.WriteFile(oldTemp, []byte("x"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldTemp, past, past))

	freshTemp := m.TempPath("fresh.media")
	require.NoError(t, os.WriteFile(freshTemp, []byte("x"), 0644))

	finalFile := m.WorkPath("keep.media")
	require.NoError(t, os.WriteFile(finalFile, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(finalFile, past, past))

	deleted, err := m.CleanOldTempFiles(24 * time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, deleted)
	assert.False(t, m.FileExists(oldTemp))
	assert.True(t, m.FileExists(freshTemp))
	assert.True(t, m.FileExists(finalFile), "non-temp files are never touched")
}
