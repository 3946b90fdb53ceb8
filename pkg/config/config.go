// Package config loads the RTSP server's configuration surface from a flat
// key=value file, the same line format the teacher's relay config used for
// its .env credentials, with CLI flag overrides layered on top.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the rtsp_* config surface plus the session timeout.
type Config struct {
	RTSPEnabled bool
	RTSPPort    int
	RTSPListen  string

	RTSPUsername string
	RTSPPassword string

	RTSPAudioEnabled bool
	RTSPAudioDevice  string

	RTSPVideoBitrate int
	RTSPVideoPreset  string

	SessionTimeout time.Duration
}

// Defaults returns the config surface's documented defaults.
func Defaults() Config {
	return Config{
		RTSPEnabled:    true,
		RTSPPort:       8554,
		RTSPListen:     "0.0.0.0",
		SessionTimeout: 60 * time.Second,
	}
}

// Load reads configuration from a flat key=value file, starting from
// Defaults and overwriting only the keys present in the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}

		if err := cfg.set(key, value); err != nil {
			return nil, fmt.Errorf("config: %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "rtsp_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.RTSPEnabled = b
	case "rtsp_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.RTSPPort = n
	case "rtsp_listen":
		c.RTSPListen = value
	case "rtsp_username":
		c.RTSPUsername = value
	case "rtsp_password":
		c.RTSPPassword = value
	case "rtsp_audio_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.RTSPAudioEnabled = b
	case "rtsp_audio_device":
		c.RTSPAudioDevice = value
	case "rtsp_video_bitrate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.RTSPVideoBitrate = n
	case "rtsp_video_preset":
		c.RTSPVideoPreset = value
	case "session_timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.SessionTimeout = time.Duration(n) * time.Second
	}
	return nil
}

// Validate checks the config surface's documented range constraints.
func (c *Config) Validate() error {
	if c.RTSPPort < 1 || c.RTSPPort > 65535 {
		return fmt.Errorf("config: rtsp_port %d out of range 1..65535", c.RTSPPort)
	}
	if c.RTSPListen == "" {
		return fmt.Errorf("config: rtsp_listen must not be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("config: session_timeout must be positive")
	}
	return nil
}

// FlagOverrides carries the subset of the config surface a caller may
// override from the command line. A zero value for any field means "not set
// on the command line" and the file/default value stands.
type FlagOverrides struct {
	Port           int
	Listen         string
	Username       string
	Password       string
	AudioEnabled   *bool
	SessionTimeout time.Duration
}

// ApplyFlagOverrides layers non-zero CLI flag overrides on top of the loaded
// config, mirroring the relay's CLI-flags-win-over-file policy.
func (c *Config) ApplyFlagOverrides(o FlagOverrides) {
	if o.Port != 0 {
		c.RTSPPort = o.Port
	}
	if o.Listen != "" {
		c.RTSPListen = o.Listen
	}
	if o.Username != "" {
		c.RTSPUsername = o.Username
	}
	if o.Password != "" {
		c.RTSPPassword = o.Password
	}
	if o.AudioEnabled != nil {
		c.RTSPAudioEnabled = *o.AudioEnabled
	}
	if o.SessionTimeout != 0 {
		c.SessionTimeout = o.SessionTimeout
	}
}
