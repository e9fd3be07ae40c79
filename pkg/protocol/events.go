package protocol

// Bridge methods.
const (
	MethodConnect     = "driver.connect"
	MethodRefresh     = "driver.refresh"
	MethodDisconnect  = "driver.disconnect"
	MethodIsConnected = "driver.is_connected"

	MethodDeviceGet   = "device.get"
	MethodStartStream = "device.start_stream"
	MethodStopStream  = "device.stop_stream"
)

// Events pushed by the bridge.
const (
	EventCaptchaRequest = "captcha.request"
	EventConnected      = "driver.connected"
	EventDisconnected   = "driver.disconnected"
)

// Events pushed by framegrab to /events subscribers.
const (
	EventStatus   = "status"
	EventNewFrame = "frame"
)

// ConnectParams is the payload of driver.connect.
type ConnectParams struct {
	Protocol int            `json:"protocol"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	Captcha  *CaptchaAnswer `json:"captcha,omitempty"`
}

// CaptchaAnswer pairs a human solution with the challenge it answers.
type CaptchaAnswer struct {
	CaptchaID   string `json:"captchaId"`
	CaptchaCode string `json:"captchaCode"`
}

// CaptchaRequestPayload is the payload of the captcha.request event.
type CaptchaRequestPayload struct {
	CaptchaID string `json:"captchaId"`
	Captcha   string `json:"captcha"` // data URI or base64 image
}

// DeviceParams addresses a device by serial number.
type DeviceParams struct {
	SerialNumber string `json:"serialNumber"`
}

// DevicePayload is the result of device.get.
type DevicePayload struct {
	SerialNumber string                 `json:"serialNumber"`
	Name         string                 `json:"name"`
	Battery      interface{}            `json:"battery,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// StreamPayload is the result of device.start_stream.
type StreamPayload struct {
	URL string `json:"url"`
}

// ConnectedPayload is the result of driver.is_connected.
type ConnectedPayload struct {
	Connected bool `json:"connected"`
}
