// Package transcode wraps the external video encoder.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxLoggedOutput bounds how much encoder output ends up in a single log line.
const maxLoggedOutput = 4096

// Transcoder resizes the video at src and writes the result to dst.
// A nil error means dst holds a complete file.
type Transcoder interface {
	Resize(ctx context.Context, src, dst string, width, height int) error
}

// FFmpeg runs the ffmpeg binary as a subprocess, one attempt per call.
type FFmpeg struct {
	Path string
}

var _ Transcoder = FFmpeg{}

func NewFFmpeg(path string) FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return FFmpeg{Path: path}
}

func (f FFmpeg) Resize(ctx context.Context, src, dst string, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", width, height)
	}
	cmd := exec.CommandContext(ctx, f.Path, Args(src, dst, width, height)...) //nolint:gosec // binary path comes from config
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		log.Warn().
			Str("src", src).
			Int("width", width).
			Int("height", height).
			Str("ffmpeg_output", tail(string(output), maxLoggedOutput)).
			Err(err).
			Msg("ffmpeg resize failed")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("ffmpeg exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("run ffmpeg: %w", err)
	}
	return nil
}

// Args builds the ffmpeg command line for a resize into an mp4 container.
func Args(src, dst string, width, height int) []string {
	return []string{
		"-y",
		"-i", src,
		"-vf", "scale=" + strconv.Itoa(width) + ":" + strconv.Itoa(height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "copy",
		"-strict", "strict",
		"-f", "mp4",
		dst,
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
