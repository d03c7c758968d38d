package download

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// Config contains download job settings
type Config struct {
	MaxRetries             int
	BufferSize             int
	MinFreeSpace           int64
	ProgressUpdateInterval time.Duration
	ConditionPollInterval  time.Duration
	UserAgent              string
}

// Coordinator runs durable background download jobs. Each job is backed
// by a task row that survives restarts, so a job can be rediscovered by
// its key and resumed from its temp file offset. At most one job runs
// per key; enqueuing an existing key replaces the running job.
type Coordinator struct {
	cfg        *Config
	repo       port.DownloadTaskRepository
	fs         port.FileSystem
	dispatcher event.EventDispatcher
	client     *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	closing bool
}

// Ensure Coordinator implements port.DownloadCoordinator
var _ port.DownloadCoordinator = (*Coordinator)(nil)

// job is one running download with its single subscriber stream.
type job struct {
	key    string
	cancel context.CancelFunc
	ch     chan domain.DownloadProgress
	done   chan struct{}

	mu          sync.Mutex
	last        domain.DownloadProgress
	highPercent int
	terminal    bool
	cancelled   bool
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(cfg *Config, repo port.DownloadTaskRepository, fs port.FileSystem, dispatcher event.EventDispatcher, logger *zap.Logger) *Coordinator {
	if cfg.ConditionPollInterval <= 0 {
		cfg.ConditionPollInterval = 15 * time.Second
	}
	return &Coordinator{
		cfg:        cfg,
		repo:       repo,
		fs:         fs,
		dispatcher: dispatcher,
		client:     &http.Client{},
		logger:     logger,
		jobs:       make(map[string]*job),
	}
}

// Recover returns orphaned in-progress task rows to pending so they can
// be re-attached. Called once at startup, before any job runs.
func (c *Coordinator) Recover() error {
	released, err := c.repo.ReleaseStaleInProgressTasks(0)
	if err != nil {
		return err
	}
	if released > 0 {
		c.logger.Info("released orphaned download tasks", zap.Int("count", released))
	}
	return nil
}

// Enqueue starts (or replaces) the job for key and returns its progress
// stream.
func (c *Coordinator) Enqueue(ctx context.Context, directURL, fileName, key string) (<-chan domain.DownloadProgress, error) {
	c.stopExisting(key)

	task := domain.NewDownloadTask(key, directURL, fileName, c.cfg.MaxRetries)
	if err := c.repo.CreateOrReplace(task); err != nil {
		return nil, err
	}

	return c.startJob(ctx, task), nil
}

// Attach re-subscribes to the job for key. A job that is still running
// hands back its live stream; a job that died with the process is
// restarted from its persisted state; a job that already finished
// replays its terminal variant.
func (c *Coordinator) Attach(ctx context.Context, key string) (<-chan domain.DownloadProgress, error) {
	c.mu.Lock()
	if j, ok := c.jobs[key]; ok {
		c.mu.Unlock()
		return j.ch, nil
	}
	c.mu.Unlock()

	task, err := c.repo.GetByKey(key)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case domain.TaskStatusCompleted:
		ch := make(chan domain.DownloadProgress, 1)
		ch <- domain.NewCompletedProgress(c.fs.WorkPath(task.FileName), task.TotalBytes)
		close(ch)
		return ch, nil
	case domain.TaskStatusFailed:
		ch := make(chan domain.DownloadProgress, 1)
		ch <- domain.NewFailedProgress(domain.RestoredError(task.LastErrorKind, task.LastError, task.LastErrorRetryable))
		close(ch)
		return ch, nil
	case domain.TaskStatusCancelled:
		ch := make(chan domain.DownloadProgress, 1)
		ch <- domain.NewCancelledProgress()
		close(ch)
		return ch, nil
	}

	return c.startJob(ctx, task), nil
}

// Status reports the last known progress for key. Unknown keys are
// reported as queued, never as an error.
func (c *Coordinator) Status(key string) domain.DownloadProgress {
	c.mu.Lock()
	if j, ok := c.jobs[key]; ok {
		c.mu.Unlock()
		return j.lastProgress()
	}
	c.mu.Unlock()

	task, err := c.repo.GetByKey(key)
	if err != nil {
		return domain.NewQueuedProgress()
	}

	switch task.Status {
	case domain.TaskStatusInProgress, domain.TaskStatusPending:
		if task.BytesDownloaded > 0 {
			return domain.NewDownloadingProgress(task.Percent(), task.BytesDownloaded, task.TotalBytes, 0)
		}
		return domain.NewQueuedProgress()
	case domain.TaskStatusCompleted:
		return domain.NewCompletedProgress(c.fs.WorkPath(task.FileName), task.TotalBytes)
	case domain.TaskStatusFailed:
		return domain.NewFailedProgress(domain.RestoredError(task.LastErrorKind, task.LastError, task.LastErrorRetryable))
	case domain.TaskStatusCancelled:
		return domain.NewCancelledProgress()
	}
	return domain.NewQueuedProgress()
}

// Cancel requests termination of the job for key. Best effort.
func (c *Coordinator) Cancel(key string) {
	c.mu.Lock()
	j, running := c.jobs[key]
	c.mu.Unlock()

	if running {
		j.markCancelled()
		j.cancel()
		return
	}

	// Not running: flip a non-terminal row so a later attach sees the
	// cancellation.
	task, err := c.repo.GetByKey(key)
	if err != nil {
		return
	}
	switch task.Status {
	case domain.TaskStatusPending, domain.TaskStatusInProgress:
		if err := c.repo.MarkStatus(key, domain.TaskStatusCancelled); err != nil {
			c.logger.Warn("failed to mark task cancelled",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// Stop interrupts all running jobs and waits for them to drain. Unlike
// Cancel, stopped jobs keep their resumable task rows so the next
// process start picks them up where they left off.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.closing = true
	jobs := make([]*job, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	c.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	for _, j := range jobs {
		<-j.done
	}
}

func (c *Coordinator) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// stopExisting cancels a running job for key and waits for it to
// finish, so the replacement never races it on the temp file.
func (c *Coordinator) stopExisting(key string) {
	c.mu.Lock()
	j, ok := c.jobs[key]
	c.mu.Unlock()
	if !ok {
		return
	}

	j.markCancelled()
	j.cancel()
	<-j.done
}

// startJob registers a job for the task and launches its run loop. The
// job runs on a background context so it outlives the caller; ctx only
// gates the enqueue itself.
func (c *Coordinator) startJob(_ context.Context, task *domain.DownloadTask) <-chan domain.DownloadProgress {
	runCtx, cancel := context.WithCancel(context.Background())
	j := &job{
		key:    task.Key,
		cancel: cancel,
		ch:     make(chan domain.DownloadProgress, 16),
		done:   make(chan struct{}),
		last:   domain.NewQueuedProgress(),
	}

	c.mu.Lock()
	c.jobs[task.Key] = j
	c.mu.Unlock()

	go c.run(runCtx, j, task)

	return j.ch
}

// finishJob removes the job from the registry and closes its stream.
func (c *Coordinator) finishJob(j *job) {
	c.mu.Lock()
	if c.jobs[j.key] == j {
		delete(c.jobs, j.key)
	}
	c.mu.Unlock()

	close(j.ch)
	close(j.done)
}

// publish records and delivers a progress observation. At most one
// terminal variant is delivered; anything after it is dropped. The
// reported percent never regresses within one job, even when a retry
// restarts the transfer from scratch; the byte fields stay truthful.
func (j *job) publish(p domain.DownloadProgress) {
	j.mu.Lock()
	if j.terminal {
		j.mu.Unlock()
		return
	}
	if p.Terminal() {
		j.terminal = true
	}
	switch p.Kind {
	case domain.ProgressDownloading, domain.ProgressPaused:
		if p.Percent < j.highPercent {
			p.Percent = j.highPercent
		} else {
			j.highPercent = p.Percent
		}
	}
	j.last = p
	j.mu.Unlock()

	select {
	case j.ch <- p:
		return
	default:
	}

	if !p.Terminal() {
		// Slow subscriber: drop intermediate observations rather than
		// block the transfer.
		return
	}

	// The terminal variant must land. Evict buffered observations until
	// there is room; the stream closes right after.
	for {
		select {
		case j.ch <- p:
			return
		default:
			select {
			case <-j.ch:
			default:
			}
		}
	}
}

func (j *job) lastProgress() domain.DownloadProgress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func (j *job) markCancelled() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
}

func (j *job) wasCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}
