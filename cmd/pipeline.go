package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/framegrab/internal/bus"
	"github.com/nextlevelbuilder/framegrab/internal/camera"
	"github.com/nextlevelbuilder/framegrab/internal/capture"
	"github.com/nextlevelbuilder/framegrab/internal/config"
	"github.com/nextlevelbuilder/framegrab/internal/frames"
	"github.com/nextlevelbuilder/framegrab/internal/media"
)

// pipeline is the capture stack shared by serve and the one-shot commands.
type pipeline struct {
	cfg *config.Config

	log      *frames.Log
	index    *frames.Index
	healer   *frames.Healer
	bus      *bus.StatusBus
	conn     *capture.ConnectionManager
	status   *capture.StatusTracker
	acquirer *capture.Acquirer
	cycle    *capture.Cycle
	ffmpeg   *media.FFmpeg
	video    *media.VideoAssembler
}

// newPipeline prepares the data directories, opens the frame log and wires
// the capture components. The caller must Close it.
func newPipeline(cfg *config.Config) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ResolveCameraPassword(); err != nil {
		slog.Warn("camera password unavailable", "error", err)
	}
	for _, dir := range []string{cfg.ImageDir(), cfg.WorkDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	flog, err := frames.OpenLog(cfg.FrameLogPath())
	if err != nil {
		return nil, err
	}

	ff, err := media.NewFFmpeg(cfg.FFmpeg.Path, cfg.FFmpeg.ExtraInputArgs)
	if err != nil {
		flog.Close()
		return nil, err
	}

	p := &pipeline{
		cfg:    cfg,
		log:    flog,
		index:  frames.NewIndex(cfg.ImageDir()),
		bus:    bus.New(),
		ffmpeg: ff,
	}
	validator := frames.NewValidator(cfg.Capture.BlankThreshold)
	thumbs := frames.NewThumbnailer()
	p.healer = &frames.Healer{Validator: validator, Thumbnailer: thumbs, Log: flog}

	p.conn = capture.NewConnectionManager(newCameraService(cfg.Camera), cfg.ConnectTimeout())
	p.status = capture.NewStatusTracker(p.conn, p.index, p.bus)
	p.acquirer = capture.NewAcquirer(capture.AcquirerConfig{
		Dir:            cfg.ImageDir(),
		MaxRetries:     cfg.Capture.MaxRetries,
		AttemptTimeout: cfg.AttemptTimeout(),
	}, media.NewFFmpegGrabber(ff), validator, thumbs, p.index, flog)
	p.acquirer.AddSink(p.status)
	p.cycle = capture.NewCycle(p.conn, p.acquirer, p.status, cfg.Camera.DeviceSN, cfg.StreamTimeout())
	p.video = media.NewVideoAssembler(ff, cfg.ImageDir(), cfg.WorkDir(), cfg.VideoTimeout())
	return p, nil
}

func newCameraService(cc config.CameraConfig) camera.Service {
	if cc.BridgeURL != "" {
		slog.Info("camera bridge configured", "url", cc.BridgeURL, "device", cc.DeviceSN)
		return camera.NewBridge(camera.BridgeConfig{
			URL:      cc.BridgeURL,
			Username: cc.Username,
			Password: cc.Password,
		})
	}
	slog.Info("static camera stream configured", "name", cc.DeviceName)
	return camera.NewStatic(cc.StreamURL, cc.DeviceName)
}

func (p *pipeline) Close() error {
	return p.log.Close()
}
