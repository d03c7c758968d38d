package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/pipeline"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// stubStore implements port.Store in memory.
type stubStore struct {
	mu       sync.Mutex
	tasks    map[string]*domain.DownloadTask
	sessions map[string]*domain.ProcessingSession
	pingErr  error
}

var _ port.Store = (*stubStore)(nil)

func newStubStore() *stubStore {
	return &stubStore{
		tasks:    make(map[string]*domain.DownloadTask),
		sessions: make(map[string]*domain.ProcessingSession),
	}
}

func (s *stubStore) CreateOrReplace(task *domain.DownloadTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.Key] = &cp
	return nil
}

func (s *stubStore) GetByKey(key string) (*domain.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[key]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *stubStore) ListResumable() ([]*domain.DownloadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DownloadTask
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusPending || task.Status == domain.TaskStatusInProgress {
			cp := *task
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateTask(task *domain.DownloadTask) error { return s.CreateOrReplace(task) }

func (s *stubStore) UpdateProgress(key string, bytesDownloaded, totalBytes int64, tempPath string) error {
	return nil
}

func (s *stubStore) MarkStatus(key, status string) error { return nil }

func (s *stubStore) ReleaseStaleInProgressTasks(timeout time.Duration) (int, error) { return 0, nil }

func (s *stubStore) DeleteOldTerminalTasks(maxAge time.Duration) (int, error) { return 0, nil }

func (s *stubStore) SaveSession(session *domain.ProcessingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *stubStore) GetSession(id string) (*domain.ProcessingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *stubStore) ListSessions() ([]*domain.ProcessingSession, error) { return nil, nil }

func (s *stubStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *stubStore) Ping() error { return s.pingErr }

func (s *stubStore) Close() error { return nil }

// stubExtractor resolves everything to a fixed URL.
type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, sourceURL string) (string, *domain.AppError) {
	return "https://cdn.example.com/clip.mp4", nil
}

// stubCoordinator plays a completed download immediately.
type stubCoordinator struct{}

var _ port.DownloadCoordinator = stubCoordinator{}

func (stubCoordinator) Enqueue(ctx context.Context, directURL, fileName, key string) (<-chan domain.DownloadProgress, error) {
	ch := make(chan domain.DownloadProgress, 2)
	ch <- domain.NewDownloadingProgress(50, 500, 1000, 100)
	ch <- domain.NewCompletedProgress("/work/"+fileName, 1000)
	close(ch)
	return ch, nil
}

func (stubCoordinator) Attach(ctx context.Context, key string) (<-chan domain.DownloadProgress, error) {
	return nil, domain.ErrTaskNotFound
}

func (stubCoordinator) Status(key string) domain.DownloadProgress {
	return domain.NewQueuedProgress()
}

func (stubCoordinator) Cancel(key string) {}

// stubSplitter returns one canned segment.
type stubSplitter struct{}

func (stubSplitter) Split(ctx context.Context, inputPath string, c domain.SplitConstraints, progress func(currentPart, totalParts int)) ([]domain.Segment, *domain.AppError) {
	return []domain.Segment{{
		PartNumber:      1,
		TotalParts:      1,
		FilePath:        "/work/out_part01.mp4",
		DurationSeconds: 42,
		FileSizeBytes:   1 << 20,
		EndTimeSeconds:  42,
	}}, nil
}

func newTestServer(t *testing.T) (*Server, *stubStore, *pipeline.Registry) {
	t.Helper()

	store := newStubStore()
	registry := pipeline.NewRegistry(
		stubExtractor{}, stubCoordinator{}, stubSplitter{},
		store, event.NewNullDispatcher(), zap.NewNop())
	srv := New(DefaultConfig(), registry, store, zap.NewNop())
	return srv, store, registry
}

func doRequest(srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	store.pingErr = errors.New("database is locked")
	rec = doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateSession(t *testing.T) {
	srv, _, registry := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"source_url": "https://share.example.com/abc"})
	rec := doRequest(srv, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "https://share.example.com/abc", resp.SourceURL)
	assert.Equal(t, 1, resp.Attempt)

	ctrl, err := registry.Get(resp.ID)
	require.NoError(t, err)
	ctrl.Wait()

	rec = doRequest(srv, http.MethodGet, "/sessions/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.StateComplete), resp.State.Kind)
	require.Len(t, resp.State.Segments, 1)
	assert.Equal(t, "/work/out_part01.mp4", resp.State.Segments[0].FilePath)
}

func TestCreateSession_BlankURLReportsError(t *testing.T) {
	srv, _, registry := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"source_url": ""})
	rec := doRequest(srv, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	ctrl, err := registry.Get(resp.ID)
	require.NoError(t, err)
	ctrl.Wait()

	rec = doRequest(srv, http.MethodGet, "/sessions/"+resp.ID, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(domain.StateError), resp.State.Kind)
	require.NotNil(t, resp.State.Error)
	assert.Equal(t, string(domain.ErrorKindInvalidURL), resp.State.Error.Kind)
	assert.False(t, resp.State.Error.Retryable)
}

func TestCreateSession_InvalidBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/sessions", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/sessions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetrySession_NotRetryable(t *testing.T) {
	srv, _, registry := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"source_url": "https://share.example.com/ok"})
	rec := doRequest(srv, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	ctrl, err := registry.Get(resp.ID)
	require.NoError(t, err)
	ctrl.Wait()

	// Completed sessions cannot be retried.
	rec = doRequest(srv, http.MethodPost, "/sessions/"+resp.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelSession(t *testing.T) {
	srv, _, registry := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"source_url": "https://share.example.com/c"})
	rec := doRequest(srv, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = doRequest(srv, http.MethodPost, "/sessions/"+resp.ID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ctrl, err := registry.Get(resp.ID)
	require.NoError(t, err)
	ctrl.Wait()
}

func TestCancelSession_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/sessions/ghost/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugTasks(t *testing.T) {
	srv, store, _ := newTestServer(t)

	task := domain.NewDownloadTask("k1", "https://cdn.example.com/a.mp4", "k1.media", 5)
	require.NoError(t, store.CreateOrReplace(task))

	rec := doRequest(srv, http.MethodGet, "/debug/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestDebugSessions(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"source_url": "https://share.example.com/d"})
	rec := doRequest(srv, http.MethodPost, "/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/debug/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusMethodNotAllowed,
		doRequest(srv, http.MethodGet, "/sessions", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		doRequest(srv, http.MethodPost, "/health", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		doRequest(srv, http.MethodDelete, "/sessions/abc", nil).Code)
}
