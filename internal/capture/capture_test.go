package capture

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nextlevelbuilder/framegrab/internal/camera"
	"github.com/nextlevelbuilder/framegrab/internal/frames"
	"github.com/nextlevelbuilder/framegrab/internal/tracing"
	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

func captchaOnFirstConnect(svc *fakeService) func(context.Context, *protocol.CaptchaAnswer) error {
	return func(_ context.Context, answer *protocol.CaptchaAnswer) error {
		if answer == nil {
			svc.emit("c1", "img-1")
			return camera.ErrCaptchaRequired
		}
		return nil
	}
}

func TestChallengeSupersession(t *testing.T) {
	svc := &fakeService{}
	svc.connectFn = captchaOnFirstConnect(svc)
	m := NewConnectionManager(svc, time.Second)
	ctx := context.Background()

	if err := m.Connect(ctx); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Connect err = %v, want ErrAuthRequired", err)
	}
	state, ch := m.State()
	if state != Disconnected || ch == nil || ch.ID != "c1" {
		t.Fatalf("state = %v, challenge = %+v", state, ch)
	}

	// A second challenge replaces the first.
	svc.emit("c2", "img-2")
	if _, ch := m.State(); ch == nil || ch.ID != "c2" || ch.Image != "img-2" {
		t.Fatalf("challenge = %+v, want c2", ch)
	}

	if err := m.SubmitSolution("c1", "stale"); !errors.Is(err, ErrStaleChallenge) {
		t.Errorf("stale submit err = %v, want ErrStaleChallenge", err)
	}
	if err := m.SubmitSolution("", "abcd"); err != nil {
		t.Fatalf("SubmitSolution: %v", err)
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect with solution: %v", err)
	}
	got := svc.answers[len(svc.answers)-1]
	if got == nil || got.CaptchaID != "c2" || got.CaptchaCode != "abcd" {
		t.Errorf("service received answer %+v, want c2/abcd", got)
	}
	state, ch = m.State()
	if state != Connected || ch != nil {
		t.Errorf("after connect: state = %v, challenge = %+v", state, ch)
	}
	if svc.refreshed != 1 {
		t.Errorf("refreshed = %d, want 1", svc.refreshed)
	}
}

func TestSubmitSolutionWithoutChallenge(t *testing.T) {
	m := NewConnectionManager(&fakeService{}, time.Second)
	if err := m.SubmitSolution("", "x"); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("err = %v, want ErrNoChallenge", err)
	}
}

func TestConnectConsumesChallengeOnFailure(t *testing.T) {
	svc := &fakeService{}
	m := NewConnectionManager(svc, time.Second)
	svc.emit("c1", "img")
	m.SubmitSolution("c1", "wrong")

	svc.connectFn = func(context.Context, *protocol.CaptchaAnswer) error {
		return errors.New("bad solution")
	}
	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("err = %v, want ErrConnectFailed", err)
	}
	if _, ch := m.State(); ch != nil {
		t.Errorf("challenge survived a connect attempt: %+v", ch)
	}
	if a := svc.answers[0]; a == nil || a.CaptchaCode != "wrong" {
		t.Errorf("answer = %+v", a)
	}
}

func TestConnectTimeout(t *testing.T) {
	svc := &fakeService{}
	svc.connectFn = func(ctx context.Context, _ *protocol.CaptchaAnswer) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := NewConnectionManager(svc, 20*time.Millisecond)
	if err := m.Connect(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func newTestAcquirer(t *testing.T, g Grabber, retries int) (*Acquirer, *frames.Index) {
	t.Helper()
	dir := t.TempDir()
	idx := frames.NewIndex(dir)
	a := NewAcquirer(AcquirerConfig{Dir: dir, MaxRetries: retries, AttemptTimeout: 5 * time.Second},
		g, frames.NewValidator(0), frames.NewThumbnailer(), idx, nil)
	return a, idx
}

type sinkFunc func(context.Context, frames.Frame)

func (f sinkFunc) FramePersisted(ctx context.Context, fr frames.Frame) { f(ctx, fr) }

func TestAcquireRetryExhausted(t *testing.T) {
	g := &fakeGrabber{colors: []*color.NRGBA{white}}
	a, idx := newTestAcquirer(t, g, 3)

	_, err := a.Acquire(context.Background(), "rtsp://x")
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
	if g.count() != 3 {
		t.Errorf("grab attempts = %d, want 3", g.count())
	}
	entries, _ := os.ReadDir(a.cfg.Dir)
	if len(entries) != 0 {
		t.Errorf("artifacts left behind: %v", entries)
	}
	if idx.Len() != 0 {
		t.Errorf("index len = %d, want 0", idx.Len())
	}
}

func TestAcquireSucceedsAfterFailures(t *testing.T) {
	g := &fakeGrabber{colors: []*color.NRGBA{nil, white, dark}}
	a, idx := newTestAcquirer(t, g, 10)

	var sunk []string
	a.AddSink(sinkFunc(func(_ context.Context, f frames.Frame) { sunk = append(sunk, f.Name) }))

	f, err := a.Acquire(context.Background(), "rtsp://x")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if g.count() != 3 {
		t.Errorf("grab attempts = %d, want 3", g.count())
	}
	if _, err := os.Stat(f.Path); err != nil {
		t.Errorf("frame missing: %v", err)
	}
	if _, err := os.Stat(f.ThumbPath); err != nil {
		t.Errorf("thumbnail missing: %v", err)
	}
	if idx.Len() != 1 || len(sunk) != 1 || sunk[0] != f.Name {
		t.Errorf("index len = %d, sink = %v", idx.Len(), sunk)
	}

	matches, _ := filepath.Glob(filepath.Join(a.cfg.Dir, ".*"))
	if len(matches) != 0 {
		t.Errorf("temp files left: %v", matches)
	}
}

func TestAcquireCancelled(t *testing.T) {
	g := &fakeGrabber{colors: []*color.NRGBA{white}}
	a, _ := newTestAcquirer(t, g, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Acquire(ctx, "rtsp://x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if g.count() != 0 {
		t.Errorf("grabbed %d times after cancel", g.count())
	}
}

type cycleFixture struct {
	svc    *fakeService
	dev    *fakeDevice
	grab   *fakeGrabber
	status *StatusTracker
	idx    *frames.Index
	cycle  *Cycle
}

func newCycleFixture(t *testing.T, colors ...*color.NRGBA) *cycleFixture {
	t.Helper()
	dev := &fakeDevice{serial: "SN1"}
	svc := &fakeService{device: dev}
	g := &fakeGrabber{colors: colors}
	a, idx := newTestAcquirer(t, g, 2)
	conn := NewConnectionManager(svc, time.Second)
	status := NewStatusTracker(conn, idx, nil)
	return &cycleFixture{
		svc: svc, dev: dev, grab: g, status: status, idx: idx,
		cycle: NewCycle(conn, a, status, "SN1", time.Second),
	}
}

func TestCycleSuccess(t *testing.T) {
	fx := newCycleFixture(t, dark)

	res := fx.cycle.Run(context.Background())
	if res.Err != nil || res.Frame == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.RunID == "" {
		t.Error("missing run id")
	}
	if fx.dev.started != 1 || fx.dev.stopped != 1 || fx.svc.closed != 1 {
		t.Errorf("started=%d stopped=%d closed=%d", fx.dev.started, fx.dev.stopped, fx.svc.closed)
	}

	st := fx.status.Snapshot()
	if st.SiteName != "Backyard" || st.BatteryValue != 64 || st.LastFrame != res.Frame.Timestamp {
		t.Errorf("status = %+v", st)
	}
	if st.Connected {
		t.Error("still connected after cycle")
	}
}

func TestCycleAcquireFailureStillTearsDown(t *testing.T) {
	fx := newCycleFixture(t, white)

	res := fx.cycle.Run(context.Background())
	if !errors.Is(res.Err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", res.Err)
	}
	if fx.dev.stopped != 1 || fx.svc.closed != 1 {
		t.Errorf("stopped=%d closed=%d", fx.dev.stopped, fx.svc.closed)
	}
	if fx.status.Snapshot().LastFrame != -1 {
		t.Error("lastFrame should be -1 with no frames")
	}
}

func TestCycleDeviceNotFound(t *testing.T) {
	fx := newCycleFixture(t, dark)
	fx.cycle.deviceSerial = "other"

	res := fx.cycle.Run(context.Background())
	if !errors.Is(res.Err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", res.Err)
	}
	if fx.svc.closed != 1 || fx.grab.count() != 0 {
		t.Errorf("closed=%d grabs=%d", fx.svc.closed, fx.grab.count())
	}
}

func TestCycleCaptchaAbortsQuietly(t *testing.T) {
	fx := newCycleFixture(t, dark)
	fx.svc.connectFn = captchaOnFirstConnect(fx.svc)

	res := fx.cycle.Run(context.Background())
	if !errors.Is(res.Err, ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", res.Err)
	}
	if st := fx.status.Snapshot(); st.CaptchaRequested != "img-1" || st.Connected {
		t.Errorf("status = %+v", st)
	}
	if fx.grab.count() != 0 {
		t.Error("grabbed without a connection")
	}
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(name string, _ any) { p.events = append(p.events, name) }

func (p *recordingPublisher) PublishChanged(name string, _ any) bool {
	p.events = append(p.events, name)
	return true
}

func TestStatusTrackerPublishes(t *testing.T) {
	dev := &fakeDevice{serial: "SN1"}
	svc := &fakeService{device: dev}
	g := &fakeGrabber{colors: []*color.NRGBA{dark}}
	a, idx := newTestAcquirer(t, g, 1)
	conn := NewConnectionManager(svc, time.Second)
	pub := &recordingPublisher{}
	status := NewStatusTracker(conn, idx, pub)
	a.AddSink(status)

	NewCycle(conn, a, status, "SN1", time.Second).Run(context.Background())

	var sawFrame, sawStatus bool
	for _, e := range pub.events {
		switch e {
		case protocol.EventNewFrame:
			sawFrame = true
		case protocol.EventStatus:
			sawStatus = true
		}
	}
	if !sawFrame || !sawStatus {
		t.Errorf("events = %v", pub.events)
	}
}

func TestAcquireSpanAttributes(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	defer otel.SetTracerProvider(prev)

	g := &fakeGrabber{colors: []*color.NRGBA{nil, white, dark}}
	a, _ := newTestAcquirer(t, g, 5)
	f, err := a.Acquire(context.Background(), "rtsp://x")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var found bool
	for _, s := range sr.Ended() {
		if s.Name() != "capture.acquire" {
			continue
		}
		found = true
		attrs := map[string]string{}
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs[string(tracing.AttrAttempts)] != "3" {
			t.Errorf("attempts attr = %q, want 3", attrs[string(tracing.AttrAttempts)])
		}
		if attrs[string(tracing.AttrFrame)] != f.Name {
			t.Errorf("frame attr = %q, want %q", attrs[string(tracing.AttrFrame)], f.Name)
		}
	}
	if !found {
		t.Error("no capture.acquire span recorded")
	}
}
