package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// fakeExtractor resolves every URL to a fixed direct URL, or fails.
type fakeExtractor struct {
	mu     sync.Mutex
	calls  int
	result string
	errs   []*domain.AppError // consumed one per call, nil entries succeed
}

func (f *fakeExtractor) Extract(ctx context.Context, sourceURL string) (string, *domain.AppError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		aerr := f.errs[0]
		f.errs = f.errs[1:]
		if aerr != nil {
			return "", aerr
		}
	}
	return f.result, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeCoordinator plays a scripted progress stream. In manual mode the
// stream stays open until Cancel is called.
type fakeCoordinator struct {
	mu       sync.Mutex
	script   []domain.DownloadProgress
	manual   bool
	ch       chan domain.DownloadProgress
	enqueues int
	attaches int
	cancels  int
}

var _ port.DownloadCoordinator = (*fakeCoordinator)(nil)

func (f *fakeCoordinator) open() chan domain.DownloadProgress {
	ch := make(chan domain.DownloadProgress, 16)
	f.ch = ch
	if !f.manual {
		for _, p := range f.script {
			ch <- p
		}
		close(ch)
	}
	return ch
}

func (f *fakeCoordinator) Enqueue(ctx context.Context, directURL, fileName, key string) (<-chan domain.DownloadProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueues++
	return f.open(), nil
}

func (f *fakeCoordinator) Attach(ctx context.Context, key string) (<-chan domain.DownloadProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attaches++
	if f.script == nil && !f.manual {
		return nil, domain.ErrTaskNotFound
	}
	return f.open(), nil
}

func (f *fakeCoordinator) Status(key string) domain.DownloadProgress {
	return domain.NewQueuedProgress()
}

func (f *fakeCoordinator) Cancel(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.manual && f.ch != nil {
		f.ch <- domain.NewCancelledProgress()
		close(f.ch)
		f.ch = nil
	}
}

func (f *fakeCoordinator) counts() (enqueues, attaches, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enqueues, f.attaches, f.cancels
}

// fakeSplitter returns canned segments.
type fakeSplitter struct {
	mu       sync.Mutex
	calls    int
	segments []domain.Segment
	err      *domain.AppError
}

func (f *fakeSplitter) Split(ctx context.Context, inputPath string, c domain.SplitConstraints, progress func(currentPart, totalParts int)) ([]domain.Segment, *domain.AppError) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		for i := range f.segments {
			progress(i+1, len(f.segments))
		}
	}
	return f.segments, nil
}

func (f *fakeSplitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memSessionRepo is an in-memory SessionRepository.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.ProcessingSession
}

var _ port.SessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.ProcessingSession)}
}

func (r *memSessionRepo) SaveSession(session *domain.ProcessingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetSession(id string) (*domain.ProcessingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *memSessionRepo) ListSessions() ([]*domain.ProcessingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ProcessingSession
	for _, session := range r.sessions {
		cp := *session
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memSessionRepo) DeleteSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// eventRecorder captures dispatched events.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (h *eventRecorder) Handle(e event.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return nil
}

func (h *eventRecorder) HandledEvents() []string {
	return []string{"*"}
}

func (h *eventRecorder) finished() []event.SessionFinished {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []event.SessionFinished
	for _, e := range h.events {
		if f, ok := e.(event.SessionFinished); ok {
			out = append(out, f)
		}
	}
	return out
}

func (h *eventRecorder) stateKinds() []domain.StateKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.StateKind
	for _, e := range h.events {
		if s, ok := e.(event.SessionStateChanged); ok {
			out = append(out, s.State.Kind)
		}
	}
	return out
}

type fixture struct {
	extractor  *fakeExtractor
	downloads  *fakeCoordinator
	splitter   *fakeSplitter
	sessions   *memSessionRepo
	recorder   *eventRecorder
	dispatcher event.EventDispatcher
}

func newFixture() *fixture {
	recorder := &eventRecorder{}
	dispatcher := event.NewInMemoryDispatcher(false)
	dispatcher.Subscribe(recorder)
	return &fixture{
		extractor: &fakeExtractor{result: "https://cdn.example.com/clip.mp4"},
		downloads: &fakeCoordinator{},
		splitter: &fakeSplitter{segments: []domain.Segment{
			{PartNumber: 1, TotalParts: 2, FilePath: "/work/a_part01.mp4", DurationSeconds: 60, FileSizeBytes: 1 << 20, EndTimeSeconds: 60},
			{PartNumber: 2, TotalParts: 2, FilePath: "/work/a_part02.mp4", DurationSeconds: 60, FileSizeBytes: 1 << 20, StartTimeSeconds: 60, EndTimeSeconds: 120},
		}},
		sessions:   newMemSessionRepo(),
		recorder:   recorder,
		dispatcher: dispatcher,
	}
}

func (f *fixture) controller(sourceURL string) *Controller {
	session := domain.NewProcessingSession(sourceURL)
	return NewController(session, f.extractor, f.downloads, f.splitter, f.sessions, f.dispatcher, zap.NewNop())
}

func completedScript() []domain.DownloadProgress {
	return []domain.DownloadProgress{
		domain.NewQueuedProgress(),
		domain.NewDownloadingProgress(40, 400, 1000, 100),
		domain.NewDownloadingProgress(100, 1000, 1000, 100),
		domain.NewCompletedProgress("/work/a.media", 1000),
	}
}

func TestController_HappyPath(t *testing.T) {
	f := newFixture()
	f.downloads.script = completedScript()

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.Wait()

	state := ctrl.State()
	require.Equal(t, domain.StateComplete, state.Kind)
	assert.Len(t, state.Segments, 2)

	finished := f.recorder.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, event.OutcomeComplete, finished[0].Outcome)
	assert.Equal(t, 2, finished[0].Segments)

	kinds := f.recorder.stateKinds()
	assert.Equal(t, domain.StateQueued, kinds[0])
	assert.Contains(t, kinds, domain.StateExtracting)
	assert.Contains(t, kinds, domain.StateDownloading)
	assert.Contains(t, kinds, domain.StateSplitting)
	assert.Equal(t, domain.StateComplete, kinds[len(kinds)-1])

	// The durable row is gone once the run completed.
	assert.False(t, f.sessions.has(ctrl.Session().ID))
}

func TestController_BlankURLFailsFast(t *testing.T) {
	f := newFixture()

	ctrl := f.controller("   ")
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.Wait()

	state := ctrl.State()
	require.Equal(t, domain.StateError, state.Kind)
	require.NotNil(t, state.Err)
	assert.Equal(t, domain.ErrorKindInvalidURL, state.Err.Kind)
	assert.False(t, state.Retryable)

	// No collaborator was touched.
	enqueues, attaches, _ := f.downloads.counts()
	assert.Zero(t, f.extractor.callCount())
	assert.Zero(t, enqueues)
	assert.Zero(t, attaches)
	assert.Zero(t, f.splitter.callCount())
}

func TestController_ExtractionFailureThenRetry(t *testing.T) {
	f := newFixture()
	f.extractor.errs = []*domain.AppError{
		domain.NewNetworkError("share link returned HTTP 503", 503, nil),
		nil,
	}
	f.downloads.script = completedScript()

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.Wait()

	state := ctrl.State()
	require.Equal(t, domain.StateError, state.Kind)
	assert.Equal(t, domain.StageExtraction, state.FailedAtStage)
	assert.True(t, state.Retryable)
	assert.Equal(t, 1, ctrl.Session().Attempt)

	require.NoError(t, ctrl.Retry(context.Background()))
	ctrl.Wait()

	assert.Equal(t, domain.StateComplete, ctrl.State().Kind)
	assert.Equal(t, 2, ctrl.Session().Attempt)
	assert.Equal(t, 2, f.extractor.callCount())

	finished := f.recorder.finished()
	require.Len(t, finished, 2)
	assert.Equal(t, event.OutcomeError, finished[0].Outcome)
	assert.Equal(t, event.OutcomeComplete, finished[1].Outcome)
}

func TestController_DownloadFailureSurfacesStage(t *testing.T) {
	f := newFixture()
	f.downloads.script = []domain.DownloadProgress{
		domain.NewQueuedProgress(),
		domain.NewDownloadingProgress(10, 100, 1000, 50),
		domain.NewFailedProgress(domain.NewNetworkError("connection reset", 0, nil)),
	}

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.Wait()

	state := ctrl.State()
	require.Equal(t, domain.StateError, state.Kind)
	assert.Equal(t, domain.StageDownload, state.FailedAtStage)
	assert.Equal(t, domain.ErrorKindNetwork, state.Err.Kind)
	assert.True(t, state.Retryable)
	assert.Zero(t, f.splitter.callCount())
}

func TestController_SplitFailureNotRetryable(t *testing.T) {
	f := newFixture()
	f.downloads.script = completedScript()
	f.splitter.err = domain.NewProcessingError("ffmpeg failed for part 1", domain.StageSplitting, nil)

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.Wait()

	state := ctrl.State()
	require.Equal(t, domain.StateError, state.Kind)
	assert.Equal(t, domain.StageSplitting, state.FailedAtStage)
	assert.False(t, state.Retryable)

	assert.ErrorIs(t, ctrl.Retry(context.Background()), domain.ErrNotRetryable)
}

func TestController_CancelMidDownload(t *testing.T) {
	f := newFixture()
	f.downloads.manual = true

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))

	// Wait until the download stream is open, then cancel.
	require.Eventually(t, func() bool {
		enqueues, _, _ := f.downloads.counts()
		return enqueues == 1
	}, 5*time.Second, time.Millisecond)

	ctrl.Cancel()
	ctrl.Cancel() // second cancel is a no-op
	ctrl.Wait()

	state := ctrl.State()
	assert.Equal(t, domain.StateIdle, state.Kind)
	assert.Nil(t, state.Err)

	_, _, cancels := f.downloads.counts()
	assert.Equal(t, 1, cancels)

	finished := f.recorder.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, event.OutcomeAborted, finished[0].Outcome)
	assert.Zero(t, f.splitter.callCount())
}

func TestController_ExternallyCancelledDownloadIsRetryableError(t *testing.T) {
	f := newFixture()
	// The job ends cancelled without this controller ever asking for
	// it, as when another actor cancels the coordinator job directly.
	f.downloads.script = []domain.DownloadProgress{
		domain.NewQueuedProgress(),
		domain.NewDownloadingProgress(10, 100, 1000, 50),
		domain.NewCancelledProgress(),
	}

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))
	ctrl.Wait()

	state := ctrl.State()
	require.Equal(t, domain.StateError, state.Kind)
	assert.Equal(t, domain.StageDownload, state.FailedAtStage)
	assert.True(t, state.Retryable)

	finished := f.recorder.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, event.OutcomeError, finished[0].Outcome)

	// The durable row survives so the session can be retried.
	assert.True(t, f.sessions.has(ctrl.Session().ID))
	assert.Zero(t, f.splitter.callCount())
}

func TestController_ResumeAttachesWithoutExtraction(t *testing.T) {
	f := newFixture()
	f.downloads.script = completedScript()

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Resume(context.Background()))
	ctrl.Wait()

	assert.Equal(t, domain.StateComplete, ctrl.State().Kind)
	assert.Zero(t, f.extractor.callCount())

	enqueues, attaches, _ := f.downloads.counts()
	assert.Zero(t, enqueues)
	assert.Equal(t, 1, attaches)
}

func TestController_ResumeFallsBackToExtraction(t *testing.T) {
	f := newFixture()

	ctrl := f.controller("https://share.example.com/abc")

	// No persisted job: Attach fails, the run restarts from extraction.
	f.downloads.script = nil
	require.NoError(t, ctrl.Resume(context.Background()))

	require.Eventually(t, func() bool {
		return f.extractor.callCount() == 1
	}, 5*time.Second, time.Millisecond)

	// Enqueue opened with a nil script closes the channel immediately;
	// the run treats that as an unexpected stream end.
	ctrl.Wait()
	assert.Equal(t, domain.StateError, ctrl.State().Kind)
}

func TestController_StartWhileRunningRejected(t *testing.T) {
	f := newFixture()
	f.downloads.manual = true

	ctrl := f.controller("https://share.example.com/abc")
	require.NoError(t, ctrl.Start(context.Background()))

	require.Eventually(t, func() bool {
		enqueues, _, _ := f.downloads.counts()
		return enqueues == 1
	}, 5*time.Second, time.Millisecond)

	assert.ErrorIs(t, ctrl.Start(context.Background()), domain.ErrInvalidState)

	ctrl.Cancel()
	ctrl.Wait()
}

func TestController_RetryFromNonErrorRejected(t *testing.T) {
	f := newFixture()

	ctrl := f.controller("https://share.example.com/abc")
	assert.ErrorIs(t, ctrl.Retry(context.Background()), domain.ErrNotRetryable)
}

func TestRegistry_DuplicateURLReturnsExisting(t *testing.T) {
	f := newFixture()
	f.downloads.manual = true

	reg := NewRegistry(f.extractor, f.downloads, f.splitter, f.sessions, f.dispatcher, zap.NewNop())

	first, created, err := reg.StartSession(context.Background(), "https://share.example.com/abc")
	require.NoError(t, err)
	assert.True(t, created)

	require.Eventually(t, func() bool {
		enqueues, _, _ := f.downloads.counts()
		return enqueues == 1
	}, 5*time.Second, time.Millisecond)

	second, created, err := reg.StartSession(context.Background(), "https://share.example.com/abc")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)

	first.Cancel()
	first.Wait()
}

func TestRegistry_GetUnknownSession(t *testing.T) {
	f := newFixture()
	reg := NewRegistry(f.extractor, f.downloads, f.splitter, f.sessions, f.dispatcher, zap.NewNop())

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistry_ResumeAllRebuildsControllers(t *testing.T) {
	f := newFixture()
	f.downloads.script = completedScript()

	session := domain.NewProcessingSession("https://share.example.com/abc")
	session.Stage = domain.StageDownload
	require.NoError(t, f.sessions.SaveSession(session))

	reg := NewRegistry(f.extractor, f.downloads, f.splitter, f.sessions, f.dispatcher, zap.NewNop())
	require.NoError(t, reg.ResumeAll(context.Background()))

	ctrl, err := reg.Get(session.ID)
	require.NoError(t, err)
	ctrl.Wait()

	assert.Equal(t, domain.StateComplete, ctrl.State().Kind)
	assert.Zero(t, f.extractor.callCount())
}
