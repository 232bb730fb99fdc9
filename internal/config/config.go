// Package config loads the canserver program configuration from an optional
// ini file, in the same defaults-then-override shape as a traditional
// daemon's Configuration struct, but parsed with gopkg.in/ini.v1 rather than
// a hand-rolled scanner.
package config

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// ConfFileName is the default configuration file name, read relative to the
// current directory; no other location is searched.
const ConfFileName = "can-bridge.conf"

// Config is the program configuration for canserver.
type Config struct {
	Driver   string // "gsusb", "slcan", "pcan"
	Channel  string // channel name, or "auto"
	Bitrate  uint32 // bits/sec
	LogLevel string // logrus level name

	RuntimeDir string // directory holding the IPC sockets
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Driver:     "gsusb",
		Channel:    "auto",
		Bitrate:    500000,
		LogLevel:   "info",
		RuntimeDir: "/run/can-bridge",
	}
}

// Load reads path (an ini file) over top of Default(). A missing file is not
// an error: Load simply returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: loading %s: %w", path, err)
	}

	sec := file.Section("server")
	if sec.HasKey("driver") {
		cfg.Driver = sec.Key("driver").String()
	}
	if sec.HasKey("channel") {
		cfg.Channel = sec.Key("channel").String()
	}
	if sec.HasKey("bitrate") {
		v, err := sec.Key("bitrate").Uint()
		if err != nil {
			return cfg, fmt.Errorf("config: bad bitrate: %w", err)
		}
		cfg.Bitrate = uint32(v)
	}
	if sec.HasKey("log_level") {
		cfg.LogLevel = sec.Key("log_level").String()
	}
	if sec.HasKey("runtime_dir") {
		cfg.RuntimeDir = sec.Key("runtime_dir").String()
	}

	return cfg, nil
}
