package capture

import (
	"context"
	"errors"
	"image/color"
	"os"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/framegrab/internal/camera"
	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

type fakeService struct {
	mu        sync.Mutex
	handler   camera.CaptchaHandler
	connected bool
	answers   []*protocol.CaptchaAnswer
	refreshed int
	closed    int

	// connectFn decides the outcome of Connect; nil means success.
	connectFn func(ctx context.Context, answer *protocol.CaptchaAnswer) error
	device    *fakeDevice
}

func (s *fakeService) Connect(ctx context.Context, answer *protocol.CaptchaAnswer) error {
	s.mu.Lock()
	s.answers = append(s.answers, answer)
	fn := s.connectFn
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, answer); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeService) RefreshData(context.Context) error {
	s.mu.Lock()
	s.refreshed++
	s.mu.Unlock()
	return nil
}

func (s *fakeService) GetDevice(_ context.Context, serial string) (camera.Device, error) {
	if s.device == nil || serial != s.device.serial {
		return nil, camera.ErrNotFound
	}
	return s.device, nil
}

func (s *fakeService) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeService) OnCaptchaRequest(h camera.CaptchaHandler) { s.handler = h }

func (s *fakeService) Close(context.Context) error {
	s.mu.Lock()
	s.closed++
	s.connected = false
	s.mu.Unlock()
	return nil
}

// emit pushes a captcha challenge as the remote service would.
func (s *fakeService) emit(id, image string) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.handler(id, image)
}

type fakeDevice struct {
	serial  string
	started int
	stopped int
}

func (d *fakeDevice) SerialNumber() string       { return d.serial }
func (d *fakeDevice) Name() string               { return "Backyard" }
func (d *fakeDevice) Battery() any               { return 64 }
func (d *fakeDevice) Properties() map[string]any { return map[string]any{"model": "T8"} }

func (d *fakeDevice) StartStream(context.Context) (string, error) {
	d.started++
	return "rtsp://fake/live", nil
}

func (d *fakeDevice) StopStream(context.Context) error {
	d.stopped++
	return nil
}

// fakeGrabber writes a solid JPEG per call. colors[i] is used for call i;
// the last entry repeats. A nil color makes the call fail.
type fakeGrabber struct {
	mu     sync.Mutex
	calls  int
	colors []*color.NRGBA
}

var (
	white = &color.NRGBA{255, 255, 255, 255}
	dark  = &color.NRGBA{20, 30, 40, 255}
)

func (g *fakeGrabber) Grab(ctx context.Context, _ string, dst string) error {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()

	if i >= len(g.colors) {
		i = len(g.colors) - 1
	}
	c := g.colors[i]
	if c == nil {
		return errors.New("ffmpeg exited 1")
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	return imaging.Encode(f, imaging.New(64, 48, *c), imaging.JPEG)
}

func (g *fakeGrabber) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
