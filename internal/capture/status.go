package capture

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/framegrab/internal/frames"
	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

// DeviceStatus is the read-only projection served by /status.
type DeviceStatus struct {
	Connected        bool   `json:"isConnected"`
	CaptchaRequested string `json:"captchaRequested,omitempty"`
	SiteName         string `json:"siteName,omitempty"`
	BatteryValue     any    `json:"batteryValue,omitempty"`
	LastFrame        int64  `json:"lastFrame"`
}

// LastFrameSource yields the newest persisted frame.
type LastFrameSource interface {
	Last() (frames.Frame, bool)
}

// Publisher fans events out to subscribers.
type Publisher interface {
	Publish(name string, payload any)
	PublishChanged(name string, payload any) bool
}

// StatusTracker assembles DeviceStatus from the connection manager, the
// frame index and the last device snapshot.
type StatusTracker struct {
	conn   *ConnectionManager
	frames LastFrameSource
	pub    Publisher

	mu       sync.Mutex
	siteName string
	battery  any
}

// NewStatusTracker wires the tracker to conn so every connection transition
// is published. pub may be nil.
func NewStatusTracker(conn *ConnectionManager, src LastFrameSource, pub Publisher) *StatusTracker {
	t := &StatusTracker{conn: conn, frames: src, pub: pub}
	conn.OnChange(t.Notify)
	return t
}

// SetDevice records the name and battery value read during a cycle.
func (t *StatusTracker) SetDevice(name string, battery any) {
	t.mu.Lock()
	t.siteName = name
	t.battery = battery
	t.mu.Unlock()
	t.Notify()
}

// Snapshot returns the current status.
func (t *StatusTracker) Snapshot() DeviceStatus {
	state, challenge := t.conn.State()

	t.mu.Lock()
	st := DeviceStatus{
		Connected:    state == Connected,
		SiteName:     t.siteName,
		BatteryValue: t.battery,
		LastFrame:    -1,
	}
	t.mu.Unlock()

	if challenge != nil {
		st.CaptchaRequested = challenge.Image
	}
	if f, ok := t.frames.Last(); ok {
		st.LastFrame = f.Timestamp
	}
	return st
}

// Notify publishes the current snapshot if it differs from the last one.
func (t *StatusTracker) Notify() {
	if t.pub == nil {
		return
	}
	t.pub.PublishChanged(protocol.EventStatus, t.Snapshot())
}

// FramePersisted announces a new frame and the resulting status change.
func (t *StatusTracker) FramePersisted(_ context.Context, f frames.Frame) {
	if t.pub == nil {
		return
	}
	t.pub.Publish(protocol.EventNewFrame, f)
	t.Notify()
}
