package frames

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// HealReport summarizes a startup pass over the frame directory.
type HealReport struct {
	Checked       int `json:"checked"`
	Removed       int `json:"removed"`
	ThumbsHealed  int `json:"thumbsHealed"`
	PartsRemoved  int `json:"partsRemoved"`
	ThumbFailures int `json:"thumbFailures"`
}

// Healer re-validates stored frames, deleting blank ones together with their
// thumbnails, and derives thumbnails that are missing.
type Healer struct {
	Validator   *Validator
	Thumbnailer *Thumbnailer
	Log         *Log // optional
}

// Heal runs one pass over dir. Leftover .part files from interrupted
// captures are removed first. Individual file failures are logged and
// counted; only a directory read error is returned.
func (h *Healer) Heal(ctx context.Context, dir string) (HealReport, error) {
	var report HealReport

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, err
	}

	var frameTS []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, partSuffix) {
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				report.PartsRemoved++
			}
			continue
		}
		if ts, err := ParseFrameName(name); err == nil {
			frameTS = append(frameTS, ts)
		}
	}
	report.Checked = len(frameTS)

	var removed, healed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, ts := range frameTS {
		f := NewFrame(dir, ts)
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if !h.Validator.IsValid(f.Path) {
				removeQuiet(f.Path)
				removeQuiet(f.ThumbPath)
				removed.Add(1)
				slog.Info("invalid frame removed", "frame", f.Name)
				if h.Log != nil {
					if err := h.Log.Record(gctx, f, EventRemoved); err != nil {
						slog.Warn("frame log record failed", "frame", f.Name, "error", err)
					}
				}
				return nil
			}
			if _, err := os.Stat(f.ThumbPath); errors.Is(err, fs.ErrNotExist) {
				if _, err := h.Thumbnailer.Derive(f.Path); err != nil {
					failed.Add(1)
					slog.Warn("thumbnail heal failed", "frame", f.Name, "error", err)
					return nil
				}
				healed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	report.Removed = int(removed.Load())
	report.ThumbsHealed = int(healed.Load())
	report.ThumbFailures = int(failed.Load())
	return report, err
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("remove failed", "path", path, "error", err)
	}
}
