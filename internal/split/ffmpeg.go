package split

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/port"
)

const audioBitrate = 128_000 // bits per second

// Config contains ffmpeg splitter configuration
type Config struct {
	FFmpegPath  string
	FFprobePath string
	ExtraArgs   string // operator-supplied args appended to every encode
	Timeout     time.Duration
}

// FFmpegSplitter cuts a downloaded file into bounded segments by
// re-encoding each planned window with a byte budget derived from the
// size constraint.
type FFmpegSplitter struct {
	cfg       *Config
	extraArgs []string
	fs        port.FileSystem
	logger    *zap.Logger
}

// Ensure FFmpegSplitter implements port.Splitter
var _ port.Splitter = (*FFmpegSplitter)(nil)

// NewFFmpegSplitter creates a new FFmpegSplitter
func NewFFmpegSplitter(cfg *Config, fs port.FileSystem, logger *zap.Logger) (*FFmpegSplitter, error) {
	extraArgs, err := shlex.Split(cfg.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid split.extra_args: %w", err)
	}

	return &FFmpegSplitter{
		cfg:       cfg,
		extraArgs: extraArgs,
		fs:        fs,
		logger:    logger,
	}, nil
}

// Split re-encodes inputPath into 1..N segments honoring the given
// constraints. progress may be nil.
func (s *FFmpegSplitter) Split(ctx context.Context, inputPath string, c domain.SplitConstraints, progress func(currentPart, totalParts int)) ([]domain.Segment, *domain.AppError) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	inputSize, err := s.fs.GetFileSize(inputPath)
	if err != nil {
		return nil, domain.Classify(err)
	}

	duration, err := probeDuration(ctx, s.cfg.FFprobePath, inputPath)
	if err != nil {
		return nil, domain.NewProcessingError("failed to probe input: "+err.Error(), domain.StageSplitting, err)
	}

	if aerr := s.checkDiskSpace(inputSize); aerr != nil {
		return nil, aerr
	}

	plans := Plan(duration, inputSize, c)
	total := len(plans)

	s.logger.Info("splitting file",
		zap.String("input", inputPath),
		zap.Float64("duration_s", duration),
		zap.Int64("size", inputSize),
		zap.Int("parts", total))

	segments := make([]domain.Segment, 0, total)
	for _, plan := range plans {
		if progress != nil {
			progress(plan.Index, total)
		}

		outputPath := s.outputPath(inputPath, plan.Index)
		if aerr := s.encodePart(ctx, inputPath, outputPath, plan, c); aerr != nil {
			s.cleanup(segments, outputPath)
			return nil, aerr
		}

		size, err := s.fs.GetFileSize(outputPath)
		if err != nil {
			s.cleanup(segments, outputPath)
			return nil, domain.Classify(err)
		}

		segment := domain.Segment{
			PartNumber:       plan.Index,
			TotalParts:       total,
			FilePath:         outputPath,
			DurationSeconds:  plan.Duration(),
			FileSizeBytes:    size,
			StartTimeSeconds: plan.StartSeconds,
			EndTimeSeconds:   plan.EndSeconds,
		}
		if err := segment.Validate(c); err != nil {
			s.cleanup(segments, outputPath)
			return nil, domain.NewProcessingError(
				fmt.Sprintf("part %d violates constraints: %v", plan.Index, err),
				domain.StageSplitting, err)
		}

		segments = append(segments, segment)
	}

	return segments, nil
}

// encodePart runs one ffmpeg invocation for a planned window.
func (s *FFmpegSplitter) encodePart(ctx context.Context, inputPath, outputPath string, plan PartPlan, c domain.SplitConstraints) *domain.AppError {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(plan.StartSeconds),
		"-i", inputPath,
		"-t", formatSeconds(plan.Duration()),
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac", "-b:a", fmt.Sprintf("%d", audioBitrate),
		"-movflags", "+faststart",
	}

	if vb := videoBitrateFor(plan.Duration(), c.MaxSizeBytes); vb > 0 {
		args = append(args,
			"-b:v", fmt.Sprintf("%d", vb),
			"-maxrate", fmt.Sprintf("%d", vb),
			"-bufsize", fmt.Sprintf("%d", vb*2),
		)
	}

	args = append(args, s.extraArgs...)
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.logger.Debug("running ffmpeg",
		zap.String("output", outputPath),
		zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		_ = s.fs.DeleteFile(outputPath)
		if ctx.Err() == context.DeadlineExceeded {
			return domain.NewProcessingError("encode timed out: "+outputPath, domain.StageSplitting, ctx.Err())
		}
		return domain.NewProcessingError(
			fmt.Sprintf("ffmpeg failed for part %d: %s", plan.Index, tail(stderr.String())),
			domain.StageSplitting, err)
	}

	return nil
}

// checkDiskSpace verifies the work volume can hold the re-encoded
// output, which is budgeted at the input size.
func (s *FFmpegSplitter) checkDiskSpace(requiredBytes int64) *domain.AppError {
	usage, err := s.fs.GetDiskUsage()
	if err != nil {
		return domain.Classify(err)
	}

	if usage.Free < uint64(requiredBytes) {
		return domain.NewStorageError(
			fmt.Sprintf("insufficient disk space: need %d bytes, %d available", requiredBytes, usage.Free),
			s.fs.RootDir(), requiredBytes, int64(usage.Free), nil)
	}
	return nil
}

// cleanup removes already-produced parts after a mid-split failure so
// a retry starts from a clean slate.
func (s *FFmpegSplitter) cleanup(produced []domain.Segment, current string) {
	for _, seg := range produced {
		_ = s.fs.DeleteFile(seg.FilePath)
	}
	_ = s.fs.DeleteFile(current)
}

func (s *FFmpegSplitter) outputPath(inputPath string, part int) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	return fmt.Sprintf("%s_part%02d.mp4", base, part)
}

// videoBitrateFor derives the video bitrate that keeps a part of the
// given duration under the byte budget, leaving headroom for audio and
// container overhead.
func videoBitrateFor(durationSeconds float64, maxSizeBytes int64) int64 {
	if durationSeconds <= 0 || maxSizeBytes <= 0 {
		return 0
	}

	totalBits := float64(maxSizeBytes) * 8 * 0.92 // container overhead headroom
	videoBits := totalBits - audioBitrate*durationSeconds
	if videoBits <= 0 {
		return 0
	}
	return int64(videoBits / durationSeconds)
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
