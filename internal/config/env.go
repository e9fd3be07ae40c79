package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	authUserPrefix = "AUTHORIZED_USERNAME_"
	authPassPrefix = "AUTHORIZED_PASSWORD_"
)

// applyEnv overlays environment variables onto cfg. The legacy EUFY_* names
// are accepted as aliases of the CAMERA_* ones.
func applyEnv(cfg *Config, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}

	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := env[k]; v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v := env[key]
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str(&cfg.DataDir, "DATA_DIR")
	str(&cfg.Camera.Username, "CAMERA_USERNAME", "EUFY_USERNAME")
	str(&cfg.Camera.Password, "CAMERA_PASSWORD", "EUFY_PASSWORD")
	str(&cfg.Camera.DeviceSN, "CAMERA_DEVICE_SN", "EUFY_STATION_SN")
	str(&cfg.Camera.BridgeURL, "CAMERA_BRIDGE_URL")
	str(&cfg.Camera.StreamURL, "CAMERA_STREAM_URL")
	str(&cfg.Camera.KeyringService, "CAMERA_KEYRING_SERVICE")
	str(&cfg.Capture.Schedule, "FRAME_GRAB_SCHEDULE")
	str(&cfg.FFmpeg.Path, "FFMPEG_PATH")
	str(&cfg.FFmpeg.ExtraInputArgs, "FFMPEG_EXTRA_ARGS")
	str(&cfg.Log.Level, "FRAMEGRAB_LOG_LEVEL")
	str(&cfg.Log.Format, "FRAMEGRAB_LOG_FORMAT")
	str(&cfg.Tailscale.Hostname, "FRAMEGRAB_TSNET_HOSTNAME")
	str(&cfg.Tailscale.AuthKey, "FRAMEGRAB_TSNET_AUTH_KEY", "TS_AUTHKEY")
	str(&cfg.Telemetry.Endpoint, "FRAMEGRAB_OTEL_ENDPOINT")
	if cfg.Telemetry.Endpoint != "" && env["FRAMEGRAB_OTEL_ENDPOINT"] != "" {
		cfg.Telemetry.Enabled = true
	}

	for key, dst := range map[string]*int{
		"FRAME_GRAB_INTERVAL_MIN": &cfg.Capture.IntervalMinutes,
		"FRAME_GRAB_MAX_RETRIES":  &cfg.Capture.MaxRetries,
		"PORT":                    &cfg.Gateway.Port,
		"LOGIN_RATE_PER_MIN":      &cfg.Gateway.LoginRPM,
	} {
		if err := num(dst, key); err != nil {
			return err
		}
	}

	users := authorizedUsers(env)
	if len(users) > 0 {
		if cfg.Auth.Users == nil {
			cfg.Auth.Users = map[string]string{}
		}
		for u, p := range users {
			cfg.Auth.Users[u] = p
		}
	}
	return nil
}

// authorizedUsers pairs AUTHORIZED_USERNAME_<n> with AUTHORIZED_PASSWORD_<n>.
// A username without a matching password is ignored.
func authorizedUsers(env map[string]string) map[string]string {
	users := make(map[string]string)
	for k, name := range env {
		suffix, ok := strings.CutPrefix(k, authUserPrefix)
		if !ok || suffix == "" || name == "" {
			continue
		}
		pass, ok := env[authPassPrefix+suffix]
		if !ok {
			continue
		}
		users[name] = pass
	}
	return users
}
