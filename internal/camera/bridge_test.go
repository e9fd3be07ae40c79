package camera

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

// fakeBridge answers bridge requests over a real WebSocket.
type fakeBridge struct {
	mu      sync.Mutex
	methods []string
	answer  *protocol.CaptchaAnswer
}

func (f *fakeBridge) serve(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req protocol.RequestFrame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			f.mu.Lock()
			f.methods = append(f.methods, req.Method)
			f.mu.Unlock()

			for _, frame := range f.respond(req) {
				conn.WriteJSON(frame)
			}
		}
	}))
}

func (f *fakeBridge) respond(req protocol.RequestFrame) []interface{} {
	switch req.Method {
	case protocol.MethodConnect:
		var p protocol.ConnectParams
		json.Unmarshal(req.Params, &p)
		if p.Captcha == nil || p.Captcha.CaptchaID != "c1" {
			ev, _ := protocol.NewEvent(protocol.EventCaptchaRequest,
				protocol.CaptchaRequestPayload{CaptchaID: "c1", Captcha: "data:image/png;base64,AAAA"})
			return []interface{}{ev, protocol.NewErrorResponse(req.ID, protocol.ErrCaptchaRequired, "solve captcha")}
		}
		f.mu.Lock()
		f.answer = p.Captcha
		f.mu.Unlock()
		resp, _ := protocol.NewOKResponse(req.ID, protocol.ConnectedPayload{Connected: true})
		return []interface{}{resp}

	case protocol.MethodDeviceGet:
		var p protocol.DeviceParams
		json.Unmarshal(req.Params, &p)
		switch p.SerialNumber {
		case "slow":
			return nil
		case "SN1":
			resp, _ := protocol.NewOKResponse(req.ID, protocol.DevicePayload{
				SerialNumber: "SN1", Name: "Front", Battery: 87,
			})
			return []interface{}{resp}
		}
		return []interface{}{protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no such device")}

	case protocol.MethodStartStream:
		resp, _ := protocol.NewOKResponse(req.ID, protocol.StreamPayload{URL: "rtsp://bridge/live"})
		return []interface{}{resp}
	}
	resp, _ := protocol.NewOKResponse(req.ID, nil)
	return []interface{}{resp}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBridgeCaptchaThenConnect(t *testing.T) {
	fb := &fakeBridge{}
	srv := fb.serve(t)
	defer srv.Close()

	b := NewBridge(BridgeConfig{URL: wsURL(srv), Username: "u", Password: "p"})

	var gotID, gotImage string
	b.OnCaptchaRequest(func(id, image string) { gotID, gotImage = id, image })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.Connect(ctx, nil)
	if !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("first connect err = %v, want ErrCaptchaRequired", err)
	}
	if gotID != "c1" || gotImage == "" {
		t.Errorf("captcha handler got (%q, %q)", gotID, gotImage)
	}
	if b.IsConnected() {
		t.Error("connected after captcha request")
	}

	if err := b.Connect(ctx, &protocol.CaptchaAnswer{CaptchaID: "c1", CaptchaCode: "abcd"}); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if !b.IsConnected() {
		t.Error("not connected after answered captcha")
	}
	fb.mu.Lock()
	if fb.answer == nil || fb.answer.CaptchaCode != "abcd" {
		t.Errorf("bridge received answer %+v", fb.answer)
	}
	fb.mu.Unlock()
}

func TestBridgeDeviceAndStream(t *testing.T) {
	fb := &fakeBridge{}
	srv := fb.serve(t)
	defer srv.Close()

	b := NewBridge(BridgeConfig{URL: wsURL(srv)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Connect(ctx, &protocol.CaptchaAnswer{CaptchaID: "c1", CaptchaCode: "x"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := b.RefreshData(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, err := b.GetDevice(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice(nope) err = %v, want ErrNotFound", err)
	}

	dev, err := b.GetDevice(ctx, "SN1")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if dev.Name() != "Front" {
		t.Errorf("Name = %q, want Front", dev.Name())
	}
	if bat, ok := dev.Battery().(float64); !ok || bat != 87 {
		t.Errorf("Battery = %v, want 87", dev.Battery())
	}

	url, err := dev.StartStream(ctx)
	if err != nil || url != "rtsp://bridge/live" {
		t.Fatalf("StartStream = %q, %v", url, err)
	}
	if err := dev.StopStream(ctx); err != nil {
		t.Errorf("StopStream: %v", err)
	}

	if err := b.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
	if b.IsConnected() {
		t.Error("connected after Close")
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if last := fb.methods[len(fb.methods)-1]; last != protocol.MethodDisconnect {
		t.Errorf("last method = %q, want %q", last, protocol.MethodDisconnect)
	}
}

func TestBridgeCallTimeout(t *testing.T) {
	fb := &fakeBridge{}
	srv := fb.serve(t)
	defer srv.Close()

	b := NewBridge(BridgeConfig{URL: wsURL(srv)})
	ctx := context.Background()
	if err := b.Connect(ctx, &protocol.CaptchaAnswer{CaptchaID: "c1"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close(ctx)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := b.GetDevice(tctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestBridgeDialFailure(t *testing.T) {
	b := NewBridge(BridgeConfig{URL: "ws://127.0.0.1:1/none"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Connect(ctx, nil); err == nil {
		t.Fatal("expected dial error")
	}
	if err := b.Close(ctx); err != nil {
		t.Errorf("Close on unconnected bridge: %v", err)
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic("rtsp://cam/live", "")
	ctx := context.Background()

	if _, err := s.GetDevice(ctx, "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetDevice before connect err = %v", err)
	}
	s.Connect(ctx, nil)
	dev, err := s.GetDevice(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	url, _ := dev.StartStream(ctx)
	if url != "rtsp://cam/live" || dev.Name() != "camera" {
		t.Errorf("device = %q %q", url, dev.Name())
	}
	s.Close(ctx)
	if s.IsConnected() {
		t.Error("connected after close")
	}
}
