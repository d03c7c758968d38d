package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/util/ratelimiter"
)

// run drives one job to a terminal state. Retryable failures are
// absorbed here with backoff; observers only see them as delayed
// progress, never as terminal events, until the retry budget runs out.
func (c *Coordinator) run(ctx context.Context, j *job, task *domain.DownloadTask) {
	defer c.finishJob(j)

	started := time.Now()
	j.publish(domain.NewQueuedProgress())

	for {
		if err := c.waitForRetryWindow(ctx, j, task); err != nil {
			c.interrupted(j, task)
			return
		}
		if err := c.waitForHostConditions(ctx, j, task); err != nil {
			c.interrupted(j, task)
			return
		}

		task.Status = domain.TaskStatusInProgress
		if err := c.repo.UpdateTask(task); err != nil {
			c.logger.Warn("failed to persist task state",
				zap.String("key", task.Key), zap.Error(err))
		}

		err := c.attempt(ctx, j, task)
		if err == nil {
			finalPath := c.fs.WorkPath(task.FileName)
			task.Status = domain.TaskStatusCompleted
			if uerr := c.repo.UpdateTask(task); uerr != nil {
				c.logger.Warn("failed to persist completed task",
					zap.String("key", task.Key), zap.Error(uerr))
			}

			j.publish(domain.NewCompletedProgress(finalPath, task.BytesDownloaded))
			c.dispatcher.Dispatch(event.NewDownloadTaskCompleted(
				task.Key, task.URL, finalPath, task.BytesDownloaded, time.Since(started)))

			c.logger.Info("download completed",
				zap.String("key", task.Key),
				zap.String("path", finalPath),
				zap.Int64("size", task.BytesDownloaded),
				zap.Duration("elapsed", time.Since(started)))
			return
		}

		if ctx.Err() != nil {
			c.interrupted(j, task)
			return
		}

		aerr := domain.Classify(err)
		c.dispatcher.Dispatch(event.NewDownloadTaskFailed(
			task.Key, task.URL, aerr.Error(), task.RetryCount+1,
			aerr.Retryable && task.CanRetry()))

		if !aerr.Retryable {
			task.RetryCount++
			task.LastError = aerr.Error()
			task.LastErrorKind = aerr.Kind
			task.LastErrorRetryable = aerr.Retryable
			task.Status = domain.TaskStatusFailed
			if uerr := c.repo.UpdateTask(task); uerr != nil {
				c.logger.Warn("failed to persist failed task",
					zap.String("key", task.Key), zap.Error(uerr))
			}
			j.publish(domain.NewFailedProgress(aerr))
			return
		}

		task.MarkFailed(aerr)
		if uerr := c.repo.UpdateTask(task); uerr != nil {
			c.logger.Warn("failed to persist task retry state",
				zap.String("key", task.Key), zap.Error(uerr))
		}

		if task.Status == domain.TaskStatusFailed {
			j.publish(domain.NewFailedProgress(aerr))
			return
		}

		c.logger.Info("download attempt failed, will retry",
			zap.String("key", task.Key),
			zap.Int("retry_count", task.RetryCount),
			zap.Int("max_retries", task.MaxRetries),
			zap.Timep("next_retry_at", task.NextRetryAt),
			zap.String("error", aerr.Error()))
	}
}

// waitForRetryWindow sleeps until the task's scheduled retry time.
func (c *Coordinator) waitForRetryWindow(ctx context.Context, j *job, task *domain.DownloadTask) error {
	if task.NextRetryAt == nil {
		return nil
	}
	wait := time.Until(*task.NextRetryAt)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitForHostConditions blocks while the host cannot sustain the
// transfer, surfacing the wait as a paused observation. Progress made
// so far is kept.
func (c *Coordinator) waitForHostConditions(ctx context.Context, j *job, task *domain.DownloadTask) error {
	for {
		reason, gated := c.hostGate()
		if !gated {
			return nil
		}

		c.logger.Info("download paused",
			zap.String("key", task.Key),
			zap.String("reason", reason))
		j.publish(domain.NewPausedProgress(
			task.Percent(), task.BytesDownloaded, task.TotalBytes, reason))

		timer := time.NewTimer(c.cfg.ConditionPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// hostGate reports whether host conditions forbid downloading right now.
func (c *Coordinator) hostGate() (string, bool) {
	if c.cfg.MinFreeSpace <= 0 {
		return "", false
	}
	usage, err := c.fs.GetDiskUsage()
	if err != nil {
		// Can't tell; let the attempt proceed and fail on its own terms.
		return "", false
	}
	if usage.Free < uint64(c.cfg.MinFreeSpace) {
		return fmt.Sprintf("low disk space: %d bytes free", usage.Free), true
	}
	return "", false
}

// attempt performs one HTTP transfer, resuming from the temp file
// offset when the server honors range requests.
func (c *Coordinator) attempt(ctx context.Context, j *job, task *domain.DownloadTask) error {
	tempPath := task.TempFilePath
	if tempPath == "" {
		tempPath = c.fs.TempPath(task.FileName)
	}

	offset := int64(0)
	if task.BytesDownloaded > 0 && c.fs.FileExists(tempPath) {
		offset = task.BytesDownloaded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return domain.NewInvalidURLError(task.URL)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Server honored the range; keep appending.
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		// Full body; any partial progress is stale.
		offset = 0
	default:
		return domain.NewNetworkError(
			fmt.Sprintf("download failed with HTTP %d", resp.StatusCode),
			resp.StatusCode, nil)
	}

	file, startAt, err := c.fs.OpenForResume(tempPath, offset)
	if err != nil {
		return err
	}
	defer file.Close()

	task.TempFilePath = tempPath
	task.BytesDownloaded = startAt
	if resp.ContentLength > 0 {
		task.TotalBytes = startAt + resp.ContentLength
	}

	pr := &progressReader{
		reader:  resp.Body,
		written: startAt,
		limiter: ratelimiter.New(c.cfg.ProgressUpdateInterval),
		onProgress: func(written int64, speed int64) {
			task.UpdateProgress(written, tempPath)
			if err := c.repo.UpdateProgress(task.Key, written, task.TotalBytes, tempPath); err != nil {
				c.logger.Warn("failed to persist progress",
					zap.String("key", task.Key), zap.Error(err))
			}
			j.publish(domain.NewDownloadingProgress(
				task.Percent(), written, task.TotalBytes, speed))
		},
	}

	buf := make([]byte, c.cfg.BufferSize)
	if _, err := io.CopyBuffer(file, pr, buf); err != nil {
		// Keep the partial temp file; a later attempt resumes from it.
		task.UpdateProgress(pr.written, tempPath)
		_ = c.repo.UpdateProgress(task.Key, pr.written, task.TotalBytes, tempPath)
		return err
	}

	task.UpdateProgress(pr.written, tempPath)
	task.TotalBytes = pr.written
	if err := c.fs.Promote(tempPath, c.fs.WorkPath(task.FileName)); err != nil {
		return err
	}
	task.TempFilePath = ""
	return nil
}

// interrupted handles a run whose context was cancelled: either the
// job itself was cancelled, or the whole coordinator is shutting down.
func (c *Coordinator) interrupted(j *job, task *domain.DownloadTask) {
	if !j.wasCancelled() && c.isClosing() {
		c.suspend(j, task)
		return
	}
	c.markCancelled(j, task)
}

// suspend parks the job for the next process start. The task row stays
// resumable and no terminal variant is emitted; the stream just closes.
func (c *Coordinator) suspend(j *job, task *domain.DownloadTask) {
	task.Status = domain.TaskStatusPending
	if err := c.repo.UpdateTask(task); err != nil {
		c.logger.Warn("failed to persist suspended task",
			zap.String("key", task.Key), zap.Error(err))
	}
	c.logger.Info("download suspended for shutdown",
		zap.String("key", task.Key),
		zap.Int64("bytes_downloaded", task.BytesDownloaded))
}

// markCancelled records a user-initiated termination and emits the
// cancelled variant. The temp file is kept so a future enqueue of the
// same URL can resume.
func (c *Coordinator) markCancelled(j *job, task *domain.DownloadTask) {
	task.Status = domain.TaskStatusCancelled
	if err := c.repo.UpdateTask(task); err != nil {
		c.logger.Warn("failed to persist cancelled task",
			zap.String("key", task.Key), zap.Error(err))
	}
	j.publish(domain.NewCancelledProgress())
	c.logger.Info("download cancelled", zap.String("key", task.Key))
}

// progressReader counts bytes flowing through it, reporting at a paced
// interval with a rough transfer speed.
type progressReader struct {
	reader     io.Reader
	written    int64
	limiter    *ratelimiter.Limiter
	onProgress func(written, speed int64)

	lastReport      time.Time
	lastReportBytes int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.written += int64(n)
		if ok, _ := r.limiter.Allow(); ok {
			r.report()
		}
	}
	return n, err
}

func (r *progressReader) report() {
	now := time.Now()
	var speed int64
	if !r.lastReport.IsZero() {
		elapsed := now.Sub(r.lastReport).Seconds()
		if elapsed > 0 {
			speed = int64(float64(r.written-r.lastReportBytes) / elapsed)
		}
	}
	r.lastReport = now
	r.lastReportBytes = r.written
	r.onProgress(r.written, speed)
}
