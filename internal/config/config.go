// Package config loads the daemon's process-wide configuration. The
// recognized knobs are a closed set; unknown keys fail the load so typos
// surface at startup.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config is the daemon configuration.
type Config struct {
	LogLevel       string `toml:"log_level"`
	ConfigDir      string `toml:"config_dir"`
	LivePreviewFPS int    `toml:"live_preview_fps"`
	DevMode        bool   `toml:"dev_mode"`
	Listen         string `toml:"listen"`
	HardwareDir    string `toml:"hardware_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogLevel:       "info",
		ConfigDir:      filepath.Join(home, ".config", "uchroma"),
		LivePreviewFPS: 15,
		Listen:         "127.0.0.1:8697",
		HardwareDir:    "/usr/share/uchroma/hardware",
	}
}

// Load reads the config file, applying defaults for missing keys. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "load config")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config file, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LivePreviewFPS < 1 || c.LivePreviewFPS > 25 {
		return errors.Errorf("live_preview_fps %d not in [1,25]", c.LivePreviewFPS)
	}
	return nil
}

// Level maps the log_level knob to a zerolog level.
func (c *Config) Level() (zerolog.Level, error) {
	switch c.LogLevel {
	case "error":
		return zerolog.ErrorLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	}
	return zerolog.InfoLevel, errors.Errorf("unknown log_level %q", c.LogLevel)
}
