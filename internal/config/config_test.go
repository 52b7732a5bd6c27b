package config

import (
	"path/filepath"
	"testing"

	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
)

func TestLoad_MissingPathReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rewind.CapacityFrames != 600 {
		t.Fatalf("CapacityFrames got %d want 600", cfg.Rewind.CapacityFrames)
	}
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level got %q want %q", cfg.Logging.Level, "info")
	}
}

func TestSaveThenLoad_RoundTripsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.General.BootROMPath = "/roms/dmg_boot.bin"
	cfg.Audio.SampleRateHz = 44100
	cfg.Debugger.AutoAttach = true
	cfg.Debugger.BreakOnBoot = true
	cfg.Logging.Level = "debug"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.General.BootROMPath != cfg.General.BootROMPath {
		t.Fatalf("BootROMPath got %q want %q", got.General.BootROMPath, cfg.General.BootROMPath)
	}
	if got.Audio.SampleRateHz != 44100 {
		t.Fatalf("SampleRateHz got %d want 44100", got.Audio.SampleRateHz)
	}
	if !got.Debugger.AutoAttach || !got.Debugger.BreakOnBoot {
		t.Fatalf("Debugger flags did not round-trip: %+v", got.Debugger)
	}
}

func TestLoggingConfig_LogLevelMapsKnownStrings(t *testing.T) {
	cases := map[string]logging.Level{
		"":      logging.InfoLevel,
		"info":  logging.InfoLevel,
		"debug": logging.DebugLevel,
		"warn":  logging.WarnLevel,
		"error": logging.ErrorLevel,
		"fatal": logging.FatalLevel,
		"panic": logging.PanicLevel,
		"bogus": logging.InfoLevel,
	}
	for in, want := range cases {
		lc := LoggingConfig{Level: in}
		if got := lc.LogLevel(); got != want {
			t.Fatalf("LogLevel(%q) got %v want %v", in, got, want)
		}
	}
}
