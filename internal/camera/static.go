package camera

import (
	"context"
	"sync/atomic"

	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

// Static serves a fixed stream URL (RTSP, HTTP MJPEG, a file) as a camera
// that needs no login. Useful for cameras reachable on the local network and
// for exercising the pipeline without a bridge.
type Static struct {
	url       string
	name      string
	connected atomic.Bool
}

// NewStatic creates a static camera. name defaults to "camera".
func NewStatic(url, name string) *Static {
	if name == "" {
		name = "camera"
	}
	return &Static{url: url, name: name}
}

func (s *Static) Connect(context.Context, *protocol.CaptchaAnswer) error {
	s.connected.Store(true)
	return nil
}

func (s *Static) RefreshData(context.Context) error { return nil }

func (s *Static) GetDevice(_ context.Context, serial string) (Device, error) {
	if !s.connected.Load() {
		return nil, ErrNotConnected
	}
	return &staticDevice{serial: serial, name: s.name, url: s.url}, nil
}

func (s *Static) IsConnected() bool { return s.connected.Load() }

func (s *Static) OnCaptchaRequest(CaptchaHandler) {}

func (s *Static) Close(context.Context) error {
	s.connected.Store(false)
	return nil
}

type staticDevice struct {
	serial, name, url string
}

func (d *staticDevice) SerialNumber() string       { return d.serial }
func (d *staticDevice) Name() string               { return d.name }
func (d *staticDevice) Battery() any               { return nil }
func (d *staticDevice) Properties() map[string]any { return map[string]any{"url": d.url} }

func (d *staticDevice) StartStream(context.Context) (string, error) { return d.url, nil }
func (d *staticDevice) StopStream(context.Context) error            { return nil }
