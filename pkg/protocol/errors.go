package protocol

// Error codes returned by bridges in ResponseFrame.Error.Code.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrUnavailable     = "UNAVAILABLE"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrCaptchaRequired = "CAPTCHA_REQUIRED"
	ErrNotFound        = "NOT_FOUND"
	ErrNotConnected    = "NOT_CONNECTED"
	ErrInternal        = "INTERNAL"
)
