package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// keyringGet is swapped in tests.
var keyringGet = keyring.Get

// ResolveCameraPassword fills Camera.Password from the OS keyring when it is
// not set in the file or environment. A missing keyring entry is not an error.
func (c *Config) ResolveCameraPassword() error {
	if c.Camera.Password != "" || c.Camera.Username == "" || c.Camera.KeyringService == "" {
		return nil
	}
	pw, err := keyringGet(c.Camera.KeyringService, c.Camera.Username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("camera password not in keyring", "service", c.Camera.KeyringService)
			return nil
		}
		return fmt.Errorf("keyring lookup: %w", err)
	}
	c.Camera.Password = pw
	return nil
}
