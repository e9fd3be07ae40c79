package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

const (
	maxBridgeMessageSize = 8 << 20 // captcha images arrive inline
	bridgeWriteTimeout   = 10 * time.Second
	disconnectTimeout    = 5 * time.Second
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	URL      string
	Username string
	Password string
}

// Bridge speaks the framegrab bridge protocol over one WebSocket per
// connection. Each Connect dials afresh; Close tears the socket down.
type Bridge struct {
	cfg    BridgeConfig
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	pending   map[string]chan *protocol.ResponseFrame
	onCaptcha CaptchaHandler

	writeMu   sync.Mutex
	connected atomic.Bool
}

// NewBridge creates an unconnected bridge client.
func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]chan *protocol.ResponseFrame),
	}
}

func (b *Bridge) OnCaptchaRequest(h CaptchaHandler) {
	b.mu.Lock()
	b.onCaptcha = h
	b.mu.Unlock()
}

func (b *Bridge) IsConnected() bool { return b.connected.Load() }

// Connect dials the bridge if needed and logs in.
func (b *Bridge) Connect(ctx context.Context, answer *protocol.CaptchaAnswer) error {
	if err := b.ensureConn(ctx); err != nil {
		return err
	}

	params := protocol.ConnectParams{
		Protocol: protocol.ProtocolVersion,
		Username: b.cfg.Username,
		Password: b.cfg.Password,
		Captcha:  answer,
	}
	var res protocol.ConnectedPayload
	res.Connected = true // bridges may reply with an empty payload
	if err := b.call(ctx, protocol.MethodConnect, params, &res); err != nil {
		b.connected.Store(false)
		return err
	}
	b.connected.Store(res.Connected)
	return nil
}

func (b *Bridge) RefreshData(ctx context.Context) error {
	return b.call(ctx, protocol.MethodRefresh, nil, nil)
}

func (b *Bridge) GetDevice(ctx context.Context, serial string) (Device, error) {
	var dev protocol.DevicePayload
	if err := b.call(ctx, protocol.MethodDeviceGet, protocol.DeviceParams{SerialNumber: serial}, &dev); err != nil {
		return nil, err
	}
	if dev.SerialNumber == "" {
		dev.SerialNumber = serial
	}
	return &bridgeDevice{bridge: b, info: dev}, nil
}

// Close asks the bridge to disconnect and closes the socket.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
	err := b.call(dctx, protocol.MethodDisconnect, nil, nil)
	cancel()
	if err != nil {
		slog.Debug("bridge disconnect failed", "error", err)
	}

	b.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.writeMu.Unlock()
	conn.Close()

	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

func (b *Bridge) ensureConn(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	conn, _, err := b.dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	conn.SetReadLimit(maxBridgeMessageSize)

	b.conn = conn
	b.done = make(chan struct{})
	go b.readLoop(conn, b.done)
	slog.Debug("bridge connected", "url", b.cfg.URL)
	return nil
}

// readLoop dispatches responses to waiting calls and handles events until
// the socket closes.
func (b *Bridge) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()
		b.connected.Store(false)
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("bridge read error", "error", err)
			}
			return
		}
		b.handleFrame(data)
	}
}

func (b *Bridge) handleFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		slog.Warn("bridge sent invalid frame", "error", err)
		return
	}

	switch frameType {
	case protocol.FrameTypeResponse:
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("bridge sent malformed response", "error", err)
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if ok {
			ch <- &resp
		}

	case protocol.FrameTypeEvent:
		var ev protocol.EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("bridge sent malformed event", "error", err)
			return
		}
		b.handleEvent(ev)
	}
}

func (b *Bridge) handleEvent(ev protocol.EventFrame) {
	switch ev.Event {
	case protocol.EventCaptchaRequest:
		var p protocol.CaptchaRequestPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			slog.Warn("bad captcha payload", "error", err)
			return
		}
		b.connected.Store(false)
		b.mu.Lock()
		h := b.onCaptcha
		b.mu.Unlock()
		slog.Info("captcha requested", "captcha_id", p.CaptchaID)
		if h != nil {
			h(p.CaptchaID, p.Captcha)
		}
	case protocol.EventConnected:
		b.connected.Store(true)
	case protocol.EventDisconnected:
		b.connected.Store(false)
	default:
		slog.Debug("bridge event ignored", "event", ev.Event)
	}
}

// call sends a request and waits for its response. out may be nil.
func (b *Bridge) call(ctx context.Context, method string, params, out interface{}) error {
	req, err := protocol.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", method, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan *protocol.ResponseFrame, 1)
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	b.pending[req.ID] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
	if err != nil {
		b.forget(req.ID)
		return fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		b.forget(req.ID)
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrClosed)
		}
		if !resp.OK {
			re := &RemoteError{Method: method, Code: protocol.ErrInternal}
			if resp.Error != nil {
				re.Code, re.Message = resp.Error.Code, resp.Error.Message
			}
			return re
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("%s: decode payload: %w", method, err)
			}
		}
		return nil
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

type bridgeDevice struct {
	bridge *Bridge
	info   protocol.DevicePayload
}

func (d *bridgeDevice) SerialNumber() string       { return d.info.SerialNumber }
func (d *bridgeDevice) Name() string               { return d.info.Name }
func (d *bridgeDevice) Battery() any               { return d.info.Battery }
func (d *bridgeDevice) Properties() map[string]any { return d.info.Properties }

func (d *bridgeDevice) StartStream(ctx context.Context) (string, error) {
	var res protocol.StreamPayload
	if err := d.bridge.call(ctx, protocol.MethodStartStream, protocol.DeviceParams{SerialNumber: d.info.SerialNumber}, &res); err != nil {
		return "", err
	}
	if res.URL == "" {
		return "", fmt.Errorf("%s: bridge returned empty stream url", protocol.MethodStartStream)
	}
	return res.URL, nil
}

func (d *bridgeDevice) StopStream(ctx context.Context) error {
	return d.bridge.call(ctx, protocol.MethodStopStream, protocol.DeviceParams{SerialNumber: d.info.SerialNumber}, nil)
}
