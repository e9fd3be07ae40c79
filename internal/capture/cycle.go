package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/framegrab/internal/frames"
	"github.com/nextlevelbuilder/framegrab/internal/tracing"
)

// DefaultStreamTimeout bounds starting and stopping the livestream.
const DefaultStreamTimeout = 30 * time.Second

// CycleResult reports the outcome of one capture cycle.
type CycleResult struct {
	RunID    string
	Frame    *frames.Frame
	Err      error
	Duration time.Duration
}

// Cycle performs one connect → lookup → stream → grab → teardown pass.
type Cycle struct {
	conn          *ConnectionManager
	acquirer      *Acquirer
	status        *StatusTracker
	deviceSerial  string
	streamTimeout time.Duration
}

// NewCycle creates a capture cycle for the device with serial number serial.
func NewCycle(conn *ConnectionManager, acquirer *Acquirer, status *StatusTracker, serial string, streamTimeout time.Duration) *Cycle {
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}
	return &Cycle{
		conn:          conn,
		acquirer:      acquirer,
		status:        status,
		deviceSerial:  serial,
		streamTimeout: streamTimeout,
	}
}

// Run executes one cycle. Failures are logged and reported in the result;
// the stream is always stopped and the connection always closed.
func (c *Cycle) Run(ctx context.Context) CycleResult {
	res := CycleResult{RunID: uuid.NewString()}
	start := time.Now()

	ctx, span := tracing.Start(ctx, "capture.cycle", tracing.AttrRunID.String(res.RunID))
	log := slog.With("run_id", res.RunID)

	f, err := c.run(ctx, log)
	res.Err = err
	res.Duration = time.Since(start)
	if err == nil {
		res.Frame = &f
		log.Info("capture cycle complete", "frame", f.Name, "duration", res.Duration)
	} else if errors.Is(err, ErrAuthRequired) {
		log.Warn("capture cycle awaiting captcha solution")
	} else {
		log.Error("capture cycle failed", "error", err, "duration", res.Duration)
	}
	tracing.End(span, err)
	return res
}

func (c *Cycle) run(ctx context.Context, log *slog.Logger) (frames.Frame, error) {
	if err := c.conn.Connect(ctx); err != nil {
		// Close anyway: a half-open bridge socket must not leak.
		c.closeConn(ctx, log)
		return frames.Frame{}, err
	}
	defer c.closeConn(ctx, log)

	dev, err := c.conn.GetDevice(ctx, c.deviceSerial)
	if err != nil {
		return frames.Frame{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(tracing.AttrDevice.String(dev.SerialNumber()))
	log.Debug("device properties", "device", dev.SerialNumber(), "properties", dev.Properties())
	if c.status != nil {
		c.status.SetDevice(dev.Name(), dev.Battery())
	}

	sctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	url, err := dev.StartStream(sctx)
	timedOutStart := timedOut(ctx, sctx)
	cancel()
	if err != nil {
		if timedOutStart {
			return frames.Frame{}, fmt.Errorf("start stream: %w", ErrTimeout)
		}
		return frames.Frame{}, fmt.Errorf("start stream: %w", err)
	}
	log.Info("stream started", "device", dev.SerialNumber())

	f, acqErr := c.acquirer.Acquire(ctx, url)

	// Stop even when ctx is done so the camera does not keep streaming.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.streamTimeout)
	if err := dev.StopStream(stopCtx); err != nil {
		log.Warn("stop stream failed", "error", err)
	}
	cancel()

	if acqErr != nil {
		return frames.Frame{}, acqErr
	}
	return f, nil
}

func (c *Cycle) closeConn(ctx context.Context, log *slog.Logger) {
	if err := c.conn.Close(context.WithoutCancel(ctx)); err != nil {
		log.Warn("close connection failed", "error", err)
	}
}
