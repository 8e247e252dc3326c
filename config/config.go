// Package config loads driver settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/filegrind/scriptlink-go/wire"
)

// Transport modes
const (
	ModePush = "push"
	ModePoll = "poll"
)

// Config holds the driver settings.
type Config struct {
	Transport struct {
		Mode                string `yaml:"mode"`
		PollIntervalMS      int    `yaml:"poll_interval_ms"`
		MaxFrame            int    `yaml:"max_frame"`
		MaxCommandsPerFlush int    `yaml:"max_commands_per_flush"`
	} `yaml:"transport"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the default configuration.
func Default() Config {
	var cfg Config
	cfg.Transport.Mode = ModePush
	cfg.Transport.PollIntervalMS = 500
	cfg.Transport.MaxFrame = wire.DefaultMaxFrame
	cfg.Transport.MaxCommandsPerFlush = wire.DefaultMaxBatch
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load reads a YAML file over the defaults. Files ending in .json or
// .jsonc are read as JSON with comments. An empty path yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("config file is empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the driver cannot run with
func (c Config) Validate() error {
	switch c.Transport.Mode {
	case ModePush, ModePoll:
	default:
		return fmt.Errorf("transport.mode %q: want %s or %s", c.Transport.Mode, ModePush, ModePoll)
	}
	if c.Transport.PollIntervalMS <= 0 {
		return fmt.Errorf("transport.poll_interval_ms must be positive, got %d", c.Transport.PollIntervalMS)
	}
	if c.Transport.MaxFrame <= 0 || c.Transport.MaxFrame > wire.MaxFrameHardLimit {
		return fmt.Errorf("transport.max_frame must be in (0, %d], got %d", wire.MaxFrameHardLimit, c.Transport.MaxFrame)
	}
	if c.Transport.MaxCommandsPerFlush <= 0 {
		return fmt.Errorf("transport.max_commands_per_flush must be positive, got %d", c.Transport.MaxCommandsPerFlush)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q: want json or text", c.Log.Format)
	}
	return nil
}

// PollInterval returns the poll interval as a duration
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Transport.PollIntervalMS) * time.Millisecond
}

// Limits returns the wire limits the transport should enforce
func (c Config) Limits() wire.Limits {
	return wire.Limits{MaxFrame: c.Transport.MaxFrame, MaxBatch: c.Transport.MaxCommandsPerFlush}
}

// NewLogger builds a logger writing to w in the configured format and level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
