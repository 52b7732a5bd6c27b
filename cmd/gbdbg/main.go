// Command gbdbg is a headless debugger REPL for gbcore. It reads lines of
// the spec.md §6 command grammar from stdin, drives them through
// internal/debugger, and prints break events and disassembly to stdout —
// generalizing the teacher's cmd/cpurunner (a bespoke serial-pattern,
// trace-dump pass/fail harness) into the shared debugger command interface
// instead of ad hoc regexes, while keeping cpurunner's serial-capture idea
// for the --auto convenience mode below.
//
// No debugger UI widgets are built here (spec.md Non-goal): this binary is
// a thin line-oriented shell over internal/debugger, not a visual front end.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/FabianRolfMatthiasNoll/gbcore/internal/config"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/debugger"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/gameboy"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
)

var cli struct {
	ROM     string `arg:"" name:"rom" help:"Path to a .gb/.gbc ROM image." type:"existingfile"`
	BootROM string `name:"bootrom" help:"Optional DMG boot ROM image."`
	Config  string `name:"config" help:"Path to a TOML settings file." type:"path"`
	Script  string `name:"script" help:"Read grammar commands from this file instead of stdin." type:"path"`

	// Auto mode mirrors cmd/cpurunner's serial pass/fail detection: run
	// freely and watch the serial port for a marker string instead of
	// driving the debugger interactively.
	Auto  bool   `name:"auto" help:"Run freely and exit 0/1 on 'Passed'/'Failed N tests' in serial output."`
	Until string `name:"until" help:"With -auto, exit 0 once serial output contains this substring." default:"Passed"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("gbdbg"),
		kong.Description("Headless Game Boy debugger REPL."),
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
	}

	dbg, err := debugger.New(rom, opts)
	if err != nil {
		fatalf("start debugger: %v", err)
	}

	if cli.Auto {
		runAuto(dbg, cli.Until)
		return
	}

	in := os.Stdin
	if cli.Script != "" {
		f, err := os.Open(cli.Script)
		if err != nil {
			fatalf("open script: %v", err)
		}
		defer f.Close()
		in = f
	}
	runREPL(dbg, in)
}

// runAuto streams serial output to stdout and to an in-memory buffer,
// exiting 0 the moment `until` appears and 1 the moment a "Failed N tests"
// marker appears — the same detection the teacher's cmd/cpurunner runs,
// rebuilt over internal/debugger.RunFor instead of a bespoke instruction loop.
func runAuto(dbg *debugger.Debugger, until string) {
	var captured strings.Builder
	dbg.GameBoy().SetSerialWriter(writerFunc(func(p []byte) (int, error) {
		os.Stdout.Write(p)
		captured.Write(p)
		return len(p), nil
	}))

	const maxFrames = 200_000
	for i := 0; i < maxFrames; i++ {
		ev := dbg.RunFor(70224)
		s := captured.String()
		lower := strings.ToLower(s)
		if until != "" && strings.Contains(lower, strings.ToLower(until)) {
			fmt.Printf("\ndetected %q in serial output\n", until)
			os.Exit(0)
		}
		if strings.Contains(lower, "failed") {
			fmt.Printf("\ndetected failure marker in serial output\n")
			os.Exit(1)
		}
		if ev != nil {
			fmt.Printf("\nhalted: %s at %s\n", ev.Reason, hex16(ev.PC))
			os.Exit(2)
		}
	}
	fmt.Printf("\ntimed out after %d frames without a marker\n", maxFrames)
	os.Exit(2)
}

// runREPL drives the spec.md §6 grammar one line at a time, printing a
// "wrote" line for each dump and a break report whenever Execute returns a
// non-nil *debugger.BreakEvent; other commands print nothing on success.
func runREPL(dbg *debugger.Debugger, in *os.File) {
	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cmd, err := debugger.ParseLine(line, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", line, err)
			continue
		}
		ev, blob, err := dbg.Execute(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", line, err)
			continue
		}
		if cmd.Kind() == "dump" {
			if err := os.WriteFile(cmd.Path(), blob, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "line %d: write %s: %v\n", line, cmd.Path(), err)
				continue
			}
			fmt.Printf("wrote %s (%d bytes)\n", cmd.Path(), len(blob))
			continue
		}
		if ev != nil {
			printBreak(dbg, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		fatalf("read commands: %v", err)
	}
}

func printBreak(dbg *debugger.Debugger, ev *debugger.BreakEvent) {
	fmt.Printf("break at %s: %s\n", hex16(ev.PC), ev.Reason)
	d := dbg.Disasm(ev.PC)
	fmt.Printf("  %s\n", d.Opcode)
	for addr, val := range ev.Watches {
		fmt.Printf("  watch %s = %#02x\n", hex16(addr), val)
	}
	for _, frame := range ev.CallPath {
		fmt.Printf("  <- %s (%s)\n", frame.Entry, frame.Site)
	}
}

func hex16(v uint16) string { return fmt.Sprintf("$%04X", v) }

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func fatalf(format string, args ...any) {
	logging.With(logging.ModDebugger).Errorf(format, args...)
	os.Exit(1)
}
