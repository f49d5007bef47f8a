package transcoder

import (
	"context"
	"fmt"
	"os/exec"
)

// FFmpegBackend runs codec invocations via the ffmpeg CLI as a
// subprocess, discarding its stdout/stderr the way a batch worker does.
type FFmpegBackend struct{}

var _ Backend = FFmpegBackend{}

// NewFFmpegBackend returns the default ffmpeg-CLI-backed Backend.
func NewFFmpegBackend() FFmpegBackend { return FFmpegBackend{} }

// Run executes binPath with args, waiting for completion. Context
// cancellation kills the subprocess and is reported distinctly from a
// nonzero exit.
func (FFmpegBackend) Run(ctx context.Context, binPath string, args []string) error {
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transcoder: cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("transcoder: %s execution failed: %w", binPath, err)
	}
	return nil
}
