package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/nextlevelbuilder/framegrab/internal/frames"
	"github.com/nextlevelbuilder/framegrab/internal/tracing"
)

// DefaultMaxRetries is the number of grab attempts per cycle.
const DefaultMaxRetries = 10

// DefaultAttemptTimeout bounds a single grab attempt.
const DefaultAttemptTimeout = time.Minute

// Grabber writes one still frame read from streamURL to dst. Cancelling ctx
// must abort the grab.
type Grabber interface {
	Grab(ctx context.Context, streamURL, dst string) error
}

// FrameSink is notified of each persisted frame.
type FrameSink interface {
	FramePersisted(ctx context.Context, f frames.Frame)
}

// AcquirerConfig configures an Acquirer.
type AcquirerConfig struct {
	Dir            string
	MaxRetries     int
	AttemptTimeout time.Duration
}

// Acquirer grabs, validates and persists a single frame with bounded retry.
type Acquirer struct {
	cfg       AcquirerConfig
	grabber   Grabber
	validator *frames.Validator
	thumbs    *frames.Thumbnailer
	index     *frames.Index
	log       *frames.Log
	sinks     []FrameSink
	now       func() time.Time
}

// NewAcquirer creates an acquirer. log may be nil.
func NewAcquirer(cfg AcquirerConfig, grabber Grabber, validator *frames.Validator, thumbs *frames.Thumbnailer, index *frames.Index, log *frames.Log) *Acquirer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Acquirer{
		cfg:       cfg,
		grabber:   grabber,
		validator: validator,
		thumbs:    thumbs,
		index:     index,
		log:       log,
		now:       time.Now,
	}
}

// AddSink registers a sink called after every persisted frame.
func (a *Acquirer) AddSink(s FrameSink) {
	a.sinks = append(a.sinks, s)
}

// Acquire makes up to MaxRetries attempts to persist a valid frame. Failed
// attempts leave nothing behind. Returns ErrRetryExhausted when every attempt
// fails, or the context error if ctx ends first.
func (a *Acquirer) Acquire(ctx context.Context, streamURL string) (f frames.Frame, err error) {
	ctx, span := tracing.Start(ctx, "capture.acquire")
	attempts := 0
	defer func() {
		span.SetAttributes(tracing.AttrAttempts.Int(attempts))
		if err == nil {
			span.SetAttributes(tracing.AttrFrame.String(f.Name))
		}
		tracing.End(span, err)
	}()

	var lastErr error
	for attempts < a.cfg.MaxRetries {
		if err := ctx.Err(); err != nil {
			return frames.Frame{}, err
		}
		attempts++

		f, err := a.attempt(ctx, streamURL)
		if err == nil {
			slog.Info("frame persisted", "frame", f.Name, "attempt", attempts)
			return f, nil
		}
		lastErr = err
		slog.Warn("frame attempt failed", "attempt", attempts, "max", a.cfg.MaxRetries, "error", err)
	}
	return frames.Frame{}, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, a.cfg.MaxRetries, lastErr)
}

var errInvalidFrame = errors.New("frame failed validation")

func (a *Acquirer) attempt(ctx context.Context, streamURL string) (frames.Frame, error) {
	f := frames.NewFrame(a.cfg.Dir, a.now().UnixMilli())
	part := frames.PartPath(a.cfg.Dir, f.Name)
	defer removeIfExists(part)

	actx, cancel := context.WithTimeout(ctx, a.cfg.AttemptTimeout)
	err := a.grabber.Grab(actx, streamURL, part)
	cancel()
	if err != nil {
		return frames.Frame{}, fmt.Errorf("grab: %w", err)
	}

	if !a.validator.IsValid(part) {
		return frames.Frame{}, errInvalidFrame
	}

	if err := os.Rename(part, f.Path); err != nil {
		return frames.Frame{}, fmt.Errorf("persist frame: %w", err)
	}
	if _, err := a.thumbs.Derive(f.Path); err != nil {
		// The frame is kept; startup healing derives the thumbnail later.
		slog.Warn("thumbnail failed", "frame", f.Name, "error", err)
	}

	a.index.Append(f)
	if a.log != nil {
		if err := a.log.Record(ctx, f, frames.EventCaptured); err != nil {
			slog.Warn("frame log record failed", "frame", f.Name, "error", err)
		}
	}
	for _, s := range a.sinks {
		s.FramePersisted(ctx, f)
	}
	return f, nil
}

func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("remove temp frame failed", "path", path, "error", err)
	}
}
