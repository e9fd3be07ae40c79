package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/framegrab/internal/tracing"
)

const (
	DefaultFPS          = 2
	MinFPS              = 1
	MaxFPS              = 60
	DefaultVideoTimeout = 10 * time.Minute

	// framePattern matches persisted frames and never thumbnails. It is only
	// ever matched relative to the image dir.
	framePattern = "[0-9]*.jpg"
)

var (
	ErrEncodingFailed = errors.New("video encoding failed")
	ErrNoFrames       = errors.New("no frames to encode")
	ErrInvalidFPS     = errors.New("fps out of range")
)

// VideoAssembler compiles stored frames into an H.264 timelapse.
type VideoAssembler struct {
	ff       *FFmpeg
	imageDir string
	workDir  string
	timeout  time.Duration
}

func NewVideoAssembler(ff *FFmpeg, imageDir, workDir string, timeout time.Duration) *VideoAssembler {
	if timeout <= 0 {
		timeout = DefaultVideoTimeout
	}
	return &VideoAssembler{
		ff:       ff,
		imageDir: imageDir,
		workDir:  workDir,
		timeout:  timeout,
	}
}

// ParseFPS parses a path segment; empty selects DefaultFPS.
func ParseFPS(s string) (int, error) {
	if s == "" {
		return DefaultFPS, nil
	}
	fps, err := strconv.Atoi(s)
	if err != nil || fps < MinFPS || fps > MaxFPS {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFPS, s)
	}
	return fps, nil
}

// Assemble encodes every frame at fps and returns the path of the new file.
// The caller owns the file and must remove it.
func (v *VideoAssembler) Assemble(ctx context.Context, fps int) (path string, err error) {
	if fps < MinFPS || fps > MaxFPS {
		return "", fmt.Errorf("%w: %d", ErrInvalidFPS, fps)
	}

	ctx, span := tracing.Start(ctx, "media.assemble", tracing.AttrFPS.Int(fps))
	defer func() { tracing.End(span, err) }()

	count, err := v.countFrames()
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", ErrNoFrames
	}

	if err := os.MkdirAll(v.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	workDir, err := filepath.Abs(v.workDir)
	if err != nil {
		return "", fmt.Errorf("resolve work dir: %w", err)
	}
	// Reserve a unique name; ffmpeg overwrites it with -y.
	f, err := os.CreateTemp(workDir, "timelapse_*.mp4")
	if err != nil {
		return "", fmt.Errorf("reserve output: %w", err)
	}
	out := f.Name()
	f.Close()

	cctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	err = v.ff.runIn(cctx, v.imageDir,
		"-y", "-hide_banner", "-loglevel", "error",
		"-framerate", strconv.Itoa(fps),
		"-pattern_type", "glob",
		"-i", framePattern,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-vcodec", "libx264",
		"-pix_fmt", "yuv420p",
		out,
	)
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	slog.Info("timelapse assembled", "path", out, "frames", count, "fps", fps, "duration", time.Since(start))
	return out, nil
}

// countFrames counts persisted frames in the image dir.
func (v *VideoAssembler) countFrames() (int, error) {
	entries, err := os.ReadDir(v.imageDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list frames: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(framePattern, e.Name()); ok {
			n++
		}
	}
	return n, nil
}
