// Command gbrun is a headless frame-stepper front end for gbcore. It loads a
// ROM (and optional boot ROM), steps the simulation for a fixed number of
// frames, and optionally writes the final framebuffer to a PNG and checks it
// against an expected CRC32 — the same headless contract as the teacher's
// cmd/gbemu -headless mode, generalized onto internal/gameboy and
// internal/config/internal/logging instead of internal/emu/internal/ui.
//
// Windowing, an input event loop, and audio device binding are explicitly
// out of scope (spec.md Non-goals); this binary only drives the simulation
// and reports results.
package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/FabianRolfMatthiasNoll/gbcore/internal/config"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/debugger"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/gameboy"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
)

// dmgShades is the classic 4-level DMG palette (white through black) that
// internal/ppu's BGP/OBP-resolved shade indices (0-3) map onto.
var dmgShades = color.Palette{
	color.RGBA{0xE0, 0xF8, 0xD0, 0xFF},
	color.RGBA{0x88, 0xC0, 0x70, 0xFF},
	color.RGBA{0x34, 0x68, 0x56, 0xFF},
	color.RGBA{0x08, 0x18, 0x20, 0xFF},
}

const frameClocks = 70224

var cli struct {
	ROM     string `arg:"" name:"rom" help:"Path to a .gb/.gbc ROM image." type:"existingfile"`
	BootROM string `name:"bootrom" help:"Optional DMG boot ROM image."`
	Config  string `name:"config" help:"Path to a TOML settings file." type:"path"`
	Frames  int    `name:"frames" help:"Number of frames to run before reporting." default:"300"`
	OutPNG  string `name:"outpng" help:"Write the final framebuffer to this PNG path." type:"path"`
	Expect  string `name:"expect" help:"Expected framebuffer CRC32 (hex); mismatch exits 1."`
	SaveRAM bool   `name:"save" help:"Persist battery RAM next to the ROM as .sav." default:"true"`
	Debug   bool   `name:"debug" help:"Drive the run through internal/debugger instead of free-running."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("gbrun"),
		kong.Description("Headless Game Boy core runner."),
		kong.UsageOnError())

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if err := cfg.Logging.Apply(); err != nil {
		fatalf("apply logging config: %v", err)
	}

	rom, err := os.ReadFile(cli.ROM)
	if err != nil {
		fatalf("read rom: %v", err)
	}

	opts := gameboy.Options{SampleRate: cfg.Audio.SampleRateHz}
	if cli.BootROM != "" {
		boot, err := os.ReadFile(cli.BootROM)
		if err != nil {
			fatalf("read bootrom: %v", err)
		}
		opts.BootROM = boot
	} else if cfg.General.BootROMPath != "" {
		boot, err := os.ReadFile(cfg.General.BootROMPath)
		if err != nil {
			fatalf("read bootrom: %v", err)
		}
		opts.BootROM = boot
	}

	autoAttach := cli.Debug || cfg.Debugger.AutoAttach

	var gb *gameboy.GameBoy
	var dbg *debugger.Debugger
	if autoAttach {
		dbg, err = debugger.New(rom, opts)
		if err != nil {
			fatalf("start debugger: %v", err)
		}
		if cfg.Debugger.BreakOnBoot {
			dbg.SetBreak(0x0100, debugger.BreakExecute)
		}
		gb = dbg.GameBoy()
	} else {
		gb, err = gameboy.New(rom, opts)
		if err != nil {
			fatalf("load cart: %v", err)
		}
	}

	savPath := ""
	if cli.SaveRAM {
		savPath = strings.TrimSuffix(strings.TrimSuffix(cli.ROM, ".gb"), ".gbc") + ".sav"
		if data, err := os.ReadFile(savPath); err == nil {
			gb.LoadBattery(data)
		}
	}

	start := time.Now()
	if cli.Frames <= 0 {
		cli.Frames = 1
	}
	for i := 0; i < cli.Frames; i++ {
		if autoAttach {
			if ev := dbg.RunFor(frameClocks); ev != nil {
				logging.With(logging.ModGameboy).Warnf("halted early at frame %d: %s", i, ev.Reason)
				break
			}
		} else {
			gb.RunFrame()
		}
	}
	elapsed := time.Since(start)

	fb, _ := gb.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(cli.Frames) / elapsed.Seconds()
	logging.With(logging.ModGameboy).Infof("ran %d frames in %s (%.2f fps), framebuffer crc32=%08x",
		cli.Frames, elapsed.Truncate(time.Millisecond), fps, crc)

	if cli.OutPNG != "" {
		if err := writeFramePNG(fb, 160, 144, cli.OutPNG); err != nil {
			fatalf("write PNG: %v", err)
		}
	}

	if cli.SaveRAM && savPath != "" {
		if data, ok := gb.SaveBattery(); ok {
			if err := os.WriteFile(savPath, data, 0644); err != nil {
				logging.With(logging.ModGameboy).Warnf("write save RAM: %v", err)
			}
		}
	}

	if cli.Expect != "" {
		want := strings.TrimPrefix(strings.ToLower(cli.Expect), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			fatalf("framebuffer checksum mismatch: got %s want %s", got, want)
		}
	}
}

// writeFramePNG expands pix, a w*h slice of 2-bit DMG shade indices (0-3) as
// returned by internal/ppu's Frame, into a paletted PNG. pix is 1 byte per
// pixel, not 4 (RGBA), so it cannot be wrapped in an image.RGBA directly.
func writeFramePNG(pix []byte, w, h int, path string) error {
	if len(pix) != w*h {
		return fmt.Errorf("writeFramePNG: framebuffer has %d bytes, want %d (%dx%d)", len(pix), w*h, w, h)
	}
	img := image.NewPaletted(image.Rect(0, 0, w, h), dmgShades)
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func fatalf(format string, args ...any) {
	logging.With(logging.ModGameboy).Errorf(format, args...)
	os.Exit(1)
}
