package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// Controller drives one session through the pipeline: resolve the share
// URL, run the durable download to completion, split the file into
// segments. Exactly one run is in flight per controller; state is
// published as immutable snapshots and every run ends with exactly one
// finished event.
type Controller struct {
	session     *domain.ProcessingSession
	extractor   port.Extractor
	downloads   port.DownloadCoordinator
	splitter    port.Splitter
	sessions    port.SessionRepository
	dispatcher  event.EventDispatcher
	constraints domain.SplitConstraints
	logger      *zap.Logger

	mu        sync.Mutex
	state     domain.PipelineState
	running   bool
	cancelled bool
	finished  bool
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// NewController creates a controller for the given session.
func NewController(
	session *domain.ProcessingSession,
	extractor port.Extractor,
	downloads port.DownloadCoordinator,
	splitter port.Splitter,
	sessions port.SessionRepository,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		session:     session,
		extractor:   extractor,
		downloads:   downloads,
		splitter:    splitter,
		sessions:    sessions,
		dispatcher:  dispatcher,
		constraints: domain.DefaultSplitConstraints(),
		logger:      logger.With(zap.String("session_id", session.ID)),
		state:       domain.NewIdleState(),
	}
}

// Session returns the session this controller drives.
func (c *Controller) Session() *domain.ProcessingSession {
	return c.session
}

// State returns a snapshot of the current pipeline state.
func (c *Controller) State() domain.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Start begins a fresh run. A blank source URL fails fast without
// touching any collaborator. Starting while a run is in flight is
// rejected.
func (c *Controller) Start(ctx context.Context) error {
	if strings.TrimSpace(c.session.SourceURL) == "" {
		c.mu.Lock()
		c.finished = false
		c.mu.Unlock()
		c.failWith(domain.NewInvalidURLError(c.session.SourceURL), "")
		return nil
	}
	return c.launch(ctx, false)
}

// Resume re-attaches to a run that was in flight when the process died.
// If the download job left no trace the run restarts from extraction.
func (c *Controller) Resume(ctx context.Context) error {
	return c.launch(ctx, true)
}

// Retry starts the next attempt after a retryable failure. The run
// restarts from extraction: a resolved media URL is typically
// short-lived, so a stale one must never be reused.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	if c.state.Kind != domain.StateError || !c.state.Retryable {
		c.mu.Unlock()
		return domain.ErrNotRetryable
	}
	c.mu.Unlock()

	c.session.Attempt++
	if err := c.sessions.SaveSession(c.session); err != nil {
		c.logger.Warn("failed to persist session attempt", zap.Error(err))
	}
	c.logger.Info("retrying session", zap.Int("attempt", c.session.Attempt))

	return c.launch(ctx, false)
}

// Cancel aborts the in-flight run. The download job is told to stop
// exactly once; the run unwinds cooperatively and finishes with the
// aborted outcome, never with an error.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if !c.running || c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	cancel := c.cancelRun
	c.mu.Unlock()

	c.downloads.Cancel(domain.JobKey(c.session.SourceURL))
	cancel()
}

// Wait blocks until the current run finishes. Safe to call when no run
// is in flight.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// launch starts the run goroutine on a background context so the run
// outlives the request that triggered it.
func (c *Controller) launch(_ context.Context, resume bool) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return domain.ErrInvalidState
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.running = true
	c.cancelled = false
	c.finished = false
	c.cancelRun = cancel
	c.runDone = done
	c.mu.Unlock()

	if err := c.sessions.SaveSession(c.session); err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("run panicked", zap.Any("panic", r))
				if c.isCancelled() {
					c.abort()
				} else {
					// A crash mid-run says nothing about the input, so
					// the operator may retry.
					c.failWith(domain.NewUnknownError(
						fmt.Sprintf("unexpected failure: %v", r), true, nil), "")
				}
			}
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()
		c.run(runCtx, resume)
	}()

	return nil
}

// run executes one pipeline pass.
func (c *Controller) run(ctx context.Context, resume bool) {
	url := c.session.SourceURL
	key := domain.JobKey(url)

	c.publish(domain.NewQueuedState())

	var stream <-chan domain.DownloadProgress
	if resume {
		if s, err := c.downloads.Attach(ctx, key); err == nil {
			c.logger.Info("re-attached to download job", zap.String("key", key))
			stream = s
		}
	}

	if stream == nil {
		c.session.Stage = domain.StageExtraction
		c.publish(domain.NewExtractingState(url))

		directURL, aerr := c.extractor.Extract(ctx, url)
		if c.isCancelled() {
			c.abort()
			return
		}
		if aerr != nil {
			c.failWith(aerr, domain.StageExtraction)
			return
		}

		c.session.Stage = domain.StageDownload
		s, err := c.downloads.Enqueue(ctx, directURL, domain.DerivedFileName(url), key)
		if err != nil {
			c.failWith(domain.Classify(err), domain.StageDownload)
			return
		}
		stream = s
	}

	c.session.Stage = domain.StageDownload
	filePath, ok := c.consumeDownload(stream)
	if !ok {
		return
	}

	c.session.Stage = domain.StageSplitting
	c.publish(domain.NewSplittingState(0, 0))

	segments, aerr := c.splitter.Split(ctx, filePath, c.constraints, func(currentPart, totalParts int) {
		c.publish(domain.NewSplittingState(currentPart, totalParts))
	})
	if c.isCancelled() {
		c.abort()
		return
	}
	if aerr != nil {
		c.failWith(aerr, domain.StageSplitting)
		return
	}

	c.complete(segments)
}

// consumeDownload drains the progress stream until its terminal
// variant. Returns the downloaded file path, or false after handling a
// failure or cancellation.
func (c *Controller) consumeDownload(stream <-chan domain.DownloadProgress) (string, bool) {
	var terminal *domain.DownloadProgress
	for p := range stream {
		if p.Terminal() {
			cp := p
			terminal = &cp
			continue
		}
		c.publish(domain.NewDownloadingState(p))
	}

	if terminal == nil {
		// Stream closed without a terminal variant: the job was torn
		// down underneath us.
		if c.isCancelled() {
			c.abort()
			return "", false
		}
		c.failWith(domain.NewUnknownError("download stream ended unexpectedly", true, nil), domain.StageDownload)
		return "", false
	}

	switch terminal.Kind {
	case domain.ProgressCompleted:
		return terminal.FilePath, true
	case domain.ProgressCancelled:
		// Only a cancellation this controller asked for ends as an
		// abort. A job cancelled by another actor is a failure of this
		// run; the session stays retryable.
		if c.isCancelled() {
			c.abort()
			return "", false
		}
		c.failWith(domain.NewUnknownError("download cancelled", true, nil), domain.StageDownload)
		return "", false
	default: // failed
		aerr := terminal.Err
		if aerr == nil {
			aerr = domain.NewUnknownError(terminal.Message, terminal.Retryable, nil)
		}
		if c.isCancelled() {
			c.abort()
			return "", false
		}
		c.failWith(aerr, domain.StageDownload)
		return "", false
	}
}

// publish records a state snapshot and raises the state-changed event.
// Nothing is published after the run finished.
func (c *Controller) publish(state domain.PipelineState) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.dispatcher.Dispatch(event.NewSessionStateChanged(c.session.ID, c.session.SourceURL, state.Snapshot()))
}

// complete publishes the terminal complete state and retires the
// durable session row.
func (c *Controller) complete(segments []domain.Segment) {
	c.publish(domain.NewCompleteState(segments))
	c.finishOnce(event.OutcomeComplete, nil, len(segments))

	if err := c.sessions.DeleteSession(c.session.ID); err != nil {
		c.logger.Warn("failed to delete session row", zap.Error(err))
	}
	c.logger.Info("session complete",
		zap.Int("segments", len(segments)),
		zap.Int("attempt", c.session.Attempt))
}

// failWith publishes the terminal error state.
func (c *Controller) failWith(aerr *domain.AppError, stage domain.Stage) {
	c.publish(domain.NewErrorState(aerr, stage))
	c.finishOnce(event.OutcomeError, aerr, 0)

	c.logger.Warn("session failed",
		zap.String("kind", string(aerr.Kind)),
		zap.String("stage", string(stage)),
		zap.Bool("retryable", aerr.Retryable),
		zap.String("error", aerr.Error()))
}

// abort returns the controller to idle after a user cancellation. An
// abort is a one-shot signal, never an error state.
func (c *Controller) abort() {
	c.publish(domain.NewIdleState())
	c.finishOnce(event.OutcomeAborted, nil, 0)

	if err := c.sessions.DeleteSession(c.session.ID); err != nil {
		c.logger.Warn("failed to delete session row", zap.Error(err))
	}
	c.logger.Info("session aborted")
}

// finishOnce raises the finished event, at most once per run.
func (c *Controller) finishOnce(outcome event.Outcome, aerr *domain.AppError, segments int) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()

	c.dispatcher.Dispatch(event.NewSessionFinished(c.session.ID, c.session.SourceURL, outcome, aerr, segments))
}

func (c *Controller) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
