package split

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// probeDuration reads the container duration in seconds via ffprobe.
func probeDuration(ctx context.Context, ffprobePath, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr.String()))
	}

	raw := strings.TrimSpace(out.String())
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q: %w", raw, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("ffprobe returned negative duration %f", duration)
	}

	return duration, nil
}

// tail returns the last few lines of command output, enough to carry
// the actual failure reason without dumping a full transcode log.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) <= 4 {
		return s
	}
	return strings.Join(lines[len(lines)-4:], "\n")
}
