// Package config loads the TOML settings document cmd/gbrun and cmd/gbdbg
// read at startup, grounded on arl-nestor/emu/config.go's toml.DecodeFile
// pattern. The core itself never touches this package or the filesystem
// beyond the explicit battery-RAM/savestate sinks — a front end decodes a
// Config, then builds the plain gameboy.Options and logging setup it needs
// from it.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
)

// Config is the full set of front-end-facing settings. Every field has a
// sensible zero value, so a missing or partial TOML document still decodes
// into something a front end can run with.
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Audio    AudioConfig    `toml:"audio"`
	Rewind   RewindConfig   `toml:"rewind"`
	Debugger DebuggerConfig `toml:"debugger"`
	Logging  LoggingConfig  `toml:"logging"`
}

// GeneralConfig covers boot-ROM selection, common to both front ends.
type GeneralConfig struct {
	// BootROMPath points at a DMG boot ROM image. Empty skips it and boots
	// straight into the cartridge's entry point with post-boot register
	// values, the way the teacher's headless mode does.
	BootROMPath string `toml:"boot_rom_path"`
}

// AudioConfig covers the APU's resampling target.
type AudioConfig struct {
	// SampleRateHz is the output sample rate the APU's blip_buf resampler
	// targets. 0 means "use the APU package's own default."
	SampleRateHz int `toml:"sample_rate_hz"`
}

// RewindConfig bounds the rewind ring buffer a front end builds around
// internal/rewind.Recorder.
type RewindConfig struct {
	// CapacityFrames is the number of captured frames the rewind history
	// retains before the oldest is evicted.
	CapacityFrames int `toml:"capacity_frames"`
	// BaseIntervalFrames is the number of emulated frames between forced
	// full-state captures (see internal/rewind's base/delta scheme).
	BaseIntervalFrames int `toml:"base_interval_frames"`
}

// DebuggerConfig controls whether cmd/gbrun attaches internal/debugger
// automatically instead of running the plain scheduler loop.
type DebuggerConfig struct {
	// AutoAttach starts the session under internal/debugger from the first
	// instruction rather than free-running until a front end asks for one.
	AutoAttach bool `toml:"auto_attach"`
	// BreakOnBoot sets an execute breakpoint at the cartridge's entry point
	// (0x0100) when AutoAttach is set, mirroring a common "break at start"
	// debugger convenience.
	BreakOnBoot bool `toml:"break_on_boot"`
}

// LoggingConfig selects internal/logging's verbosity and destination.
type LoggingConfig struct {
	// Level is one of "panic", "fatal", "error", "warn", "info", "debug"
	// (case-insensitive). Empty defaults to "info".
	Level string `toml:"level"`
	// Path, if non-empty, redirects log output to a file instead of stderr.
	Path string `toml:"path"`
}

// Default returns the configuration a front end should use when no TOML
// document was supplied.
func Default() Config {
	return Config{
		Rewind: RewindConfig{
			CapacityFrames:     600,
			BaseIntervalFrames: 32,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and decodes the TOML document at path. A missing file is not an
// error — it returns Default() — since a front end should run with sane
// defaults rather than force every user to hand-write a config file first.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back out as TOML, mirroring arl-nestor's SaveConfig.
func Save(cfg Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// LogLevel maps the textual Level field onto logging.Level, defaulting to
// InfoLevel for an empty or unrecognized string.
func (c LoggingConfig) LogLevel() logging.Level {
	switch strings.ToLower(c.Level) {
	case "panic":
		return logging.PanicLevel
	case "fatal":
		return logging.FatalLevel
	case "error":
		return logging.ErrorLevel
	case "warn", "warning":
		return logging.WarnLevel
	case "debug":
		return logging.DebugLevel
	default:
		return logging.InfoLevel
	}
}

// Apply wires the decoded logging settings into the process-global logger.
// Front ends call this once at startup before constructing a GameBoy.
func (c LoggingConfig) Apply() error {
	logging.SetLevel(c.LogLevel())
	if c.Path == "" {
		return nil
	}
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("config: open log file %s: %w", c.Path, err)
	}
	logging.SetOutput(f)
	return nil
}
