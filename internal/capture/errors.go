package capture

import "errors"

var (
	// ErrAuthRequired means the service issued a captcha; a human must
	// submit a solution before the next connect can succeed.
	ErrAuthRequired   = errors.New("captcha solution required")
	ErrConnectFailed  = errors.New("connect failed")
	ErrRetryExhausted = errors.New("frame acquisition retries exhausted")
	ErrTimeout        = errors.New("remote call timed out")
	ErrDeviceNotFound = errors.New("device not found")

	// ErrStaleChallenge is returned when a solution names a challenge that
	// is no longer pending.
	ErrStaleChallenge = errors.New("captcha challenge is stale")
	ErrNoChallenge    = errors.New("no captcha challenge pending")
)
