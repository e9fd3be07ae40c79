// Package capture drives the camera: the captcha-gated connection state
// machine, one-shot capture cycles and validated frame acquisition.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/framegrab/internal/camera"
	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

// DefaultConnectTimeout bounds each remote call made by the manager.
const DefaultConnectTimeout = time.Minute

// ConnState is the connection state of the remote service.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// CaptchaChallenge is a pending human-verification request.
type CaptchaChallenge struct {
	ID    string
	Image string
}

// ConnectionManager owns the camera.Service connection and the captcha
// challenge/solution pair. At most one challenge is outstanding; a new one
// replaces the old. The manager is never Connected while a challenge is
// pending.
type ConnectionManager struct {
	svc     camera.Service
	timeout time.Duration

	mu        sync.Mutex
	state     ConnState
	challenge *CaptchaChallenge
	solution  string
	onChange  func()
}

// NewConnectionManager wraps svc. timeout <= 0 selects DefaultConnectTimeout.
func NewConnectionManager(svc camera.Service, timeout time.Duration) *ConnectionManager {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	m := &ConnectionManager{svc: svc, timeout: timeout}
	svc.OnCaptchaRequest(m.recordChallenge)
	return m
}

// OnChange registers a callback invoked after every state or challenge
// transition. It runs without the manager lock held.
func (m *ConnectionManager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Connect logs in, answering the pending challenge when a solution has been
// submitted. The challenge and solution are consumed before the attempt
// whatever its outcome. On success cloud data is refreshed before return.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	var answer *protocol.CaptchaAnswer
	if m.challenge != nil && m.solution != "" {
		answer = &protocol.CaptchaAnswer{CaptchaID: m.challenge.ID, CaptchaCode: m.solution}
	}
	m.challenge = nil
	m.solution = ""
	m.mu.Unlock()
	m.changed()

	if answer != nil {
		slog.Info("passing captcha solution", "captcha_id", answer.CaptchaID)
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.svc.Connect(cctx, answer)
	cancel()

	if err == nil && !m.svc.IsConnected() {
		err = errors.New("service reported not connected")
	}
	if err != nil {
		m.setState(Disconnected)
		return m.classify(ctx, cctx, err)
	}

	m.mu.Lock()
	if m.challenge != nil {
		// A challenge raced in after the service accepted the login.
		m.state = Disconnected
		m.mu.Unlock()
		m.changed()
		return ErrAuthRequired
	}
	m.state = Connected
	m.mu.Unlock()
	m.changed()

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.svc.RefreshData(rctx); err != nil {
		return fmt.Errorf("refresh cloud data: %w", m.classify(ctx, rctx, err))
	}
	return nil
}

// GetDevice resolves serial on the connected service.
func (m *ConnectionManager) GetDevice(ctx context.Context, serial string) (camera.Device, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	dev, err := m.svc.GetDevice(cctx, serial)
	if err != nil {
		if errors.Is(err, camera.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
		}
		if timedOut(ctx, cctx) {
			return nil, fmt.Errorf("get device: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return dev, nil
}

// Close disconnects the service. State becomes Disconnected.
func (m *ConnectionManager) Close(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.svc.Close(cctx)
	m.setState(Disconnected)
	return err
}

// SubmitSolution stores a solution for the pending challenge. An empty id
// means the currently pending challenge.
func (m *ConnectionManager) SubmitSolution(id, solution string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.challenge == nil {
		return ErrNoChallenge
	}
	if id != "" && id != m.challenge.ID {
		return fmt.Errorf("%w: got %s, pending %s", ErrStaleChallenge, id, m.challenge.ID)
	}
	m.solution = solution
	return nil
}

// State returns the connection state and a copy of the pending challenge.
func (m *ConnectionManager) State() (ConnState, *CaptchaChallenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return m.state, nil
	}
	c := *m.challenge
	return m.state, &c
}

func (m *ConnectionManager) recordChallenge(id, image string) {
	m.mu.Lock()
	m.challenge = &CaptchaChallenge{ID: id, Image: image}
	m.solution = ""
	m.state = Disconnected
	m.mu.Unlock()
	slog.Warn("captcha challenge recorded", "captcha_id", id)
	m.changed()
}

func (m *ConnectionManager) setState(s ConnState) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.changed()
	}
}

func (m *ConnectionManager) changed() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// classify maps a service error onto the package sentinels.
func (m *ConnectionManager) classify(parent, callCtx context.Context, err error) error {
	m.mu.Lock()
	pending := m.challenge != nil
	m.mu.Unlock()

	switch {
	case pending || errors.Is(err, camera.ErrCaptchaRequired):
		return ErrAuthRequired
	case timedOut(parent, callCtx):
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
}

// timedOut reports whether callCtx hit its own deadline rather than the
// parent being cancelled.
func timedOut(parent, callCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
}
