// Package camera abstracts the remote camera service: a stateful cloud/P2P
// connection that may demand a captcha, device lookup, and livestream
// control. framegrab never talks to a vendor directly; it talks to a bridge
// over WebSocket (Bridge) or to a fixed stream URL (Static).
package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

var (
	ErrCaptchaRequired = errors.New("captcha required")
	ErrNotFound        = errors.New("device not found")
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("bridge connection closed")
)

// CaptchaHandler receives challenges pushed by the service.
type CaptchaHandler func(id, image string)

// Service is a remote camera service connection.
type Service interface {
	// Connect performs the login handshake, optionally answering a
	// previously issued captcha.
	Connect(ctx context.Context, answer *protocol.CaptchaAnswer) error
	// RefreshData reloads the cloud device list.
	RefreshData(ctx context.Context) error
	GetDevice(ctx context.Context, serial string) (Device, error)
	IsConnected() bool
	// OnCaptchaRequest registers the handler for captcha challenges.
	OnCaptchaRequest(h CaptchaHandler)
	Close(ctx context.Context) error
}

// Device is a handle to one camera, valid while its Service is connected.
type Device interface {
	SerialNumber() string
	Name() string
	Battery() any
	Properties() map[string]any
	// StartStream begins a livestream and returns a URL ffmpeg can read.
	StartStream(ctx context.Context) (string, error)
	StopStream(ctx context.Context) error
}

// RemoteError is a failed bridge response.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// Unwrap maps bridge error codes onto package sentinels.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case protocol.ErrCaptchaRequired:
		return ErrCaptchaRequired
	case protocol.ErrNotFound:
		return ErrNotFound
	case protocol.ErrNotConnected:
		return ErrNotConnected
	}
	return nil
}
