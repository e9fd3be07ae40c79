// Package media shells out to ffmpeg: one-frame grabs from a live stream and
// timelapse assembly from stored frames.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// stderrTail is how much ffmpeg stderr is kept in errors.
const stderrTail = 2048

// FFmpeg locates the encoder and carries user-supplied input options
// (e.g. "-rtsp_transport tcp").
type FFmpeg struct {
	Path           string
	ExtraInputArgs []string
}

// NewFFmpeg parses extraArgs with shell quoting rules.
func NewFFmpeg(path, extraArgs string) (*FFmpeg, error) {
	if path == "" {
		path = "ffmpeg"
	}
	var extra []string
	if strings.TrimSpace(extraArgs) != "" {
		args, err := shellwords.Parse(extraArgs)
		if err != nil {
			return nil, fmt.Errorf("parse ffmpeg extra args: %w", err)
		}
		extra = args
	}
	return &FFmpeg{Path: path, ExtraInputArgs: extra}, nil
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.Path, "-version").Output()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return line, nil
}

// run executes ffmpeg with args. Cancelling ctx kills the process.
func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	return f.runIn(ctx, "", args...)
}

// runIn is run with the working directory set to dir.
func (f *FFmpeg) runIn(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
