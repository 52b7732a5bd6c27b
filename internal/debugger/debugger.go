// Package debugger implements breakpoints, watchpoints, static+dynamic
// control-flow tracing, disassembly, and a line-oriented headless command
// grammar over a *gameboy.GameBoy. It is grounded on arl-nestor/emu/debugger
// (callstack.go, debugger.go, listing.go) for shape — a reactive debugger
// tracking CPU state and a call stack across pause/resume — generalized
// from that debugger's gorilla/websocket RPC driver (out of scope: no
// debugger UI widgets, spec.md §1) to a synchronous command interpreter a
// host reads stdin lines into, matching spec.md §6's headless grammar.
package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FabianRolfMatthiasNoll/gbcore/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/gameboy"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/gberr"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/rewind"
)

// BreakFlag is a bitmask over the four access kinds a breakpoint can fire
// on, per spec.md §4.7: execute, jump-target, read, write.
type BreakFlag uint8

const (
	BreakExecute BreakFlag = 1 << iota
	BreakJump
	BreakRead
	BreakWrite
)

// ParseBreakFlags decodes a nonempty subset of "xjrw" into a BreakFlag mask.
func ParseBreakFlags(s string) (BreakFlag, error) {
	if s == "" {
		return 0, fmt.Errorf("empty flag set")
	}
	var f BreakFlag
	for _, r := range s {
		switch r {
		case 'x', 'X':
			f |= BreakExecute
		case 'j', 'J':
			f |= BreakJump
		case 'r', 'R':
			f |= BreakRead
		case 'w', 'W':
			f |= BreakWrite
		default:
			return 0, fmt.Errorf("unknown flag %q", r)
		}
	}
	return f, nil
}

func (f BreakFlag) String() string {
	var b strings.Builder
	if f&BreakExecute != 0 {
		b.WriteByte('x')
	}
	if f&BreakJump != 0 {
		b.WriteByte('j')
	}
	if f&BreakRead != 0 {
		b.WriteByte('r')
	}
	if f&BreakWrite != 0 {
		b.WriteByte('w')
	}
	return b.String()
}

// Status is the debugger's run state, mirrored from arl-nestor's
// running/paused/stepping status enum.
type Status int32

const (
	StatusRunning Status = iota
	StatusPaused
	StatusStepping
)

// BreakEvent describes why execution stopped, returned by every operation
// that can halt (Step, Run, RunFor, RunUntil, RunTo).
type BreakEvent struct {
	PC       uint16
	Reason   string
	Watches  map[uint16]byte // watchpoint addresses and their value at the break
	CallPath []frameInfo
}

// magicBreakOpcode is the Mooneye test-suite convention (LD B,B) a ROM
// executes to signal "test finished, inspect registers" — spec.md §8
// scenario 3 relies on this exact convention.
const magicBreakOpcode = 0x40

// Debugger drives a *gameboy.GameBoy under breakpoint/watchpoint control.
// It owns the GameBoy outright (Reset replaces it) and installs itself as
// the bus's AccessWatcher for read/write breakpoints.
type Debugger struct {
	gb   *gameboy.GameBoy
	rom  []byte
	opts gameboy.Options

	status Status

	breakpoints map[uint16]BreakFlag
	watches     map[uint16]bool

	cstack callStack
	prevPC uint16

	rec *rewind.Recorder

	pendingWatchHits map[uint16]byte
}

// New attaches a debugger to a freshly constructed GameBoy for rom/opts.
// The rewind recorder captures one frame per VBlank (capacity and base
// interval per spec.md §9's memory/latency tradeoff; frameStep=1 since the
// debugger, unlike a live front-end, has no reason to throttle capture).
func New(rom []byte, opts gameboy.Options) (*Debugger, error) {
	d := &Debugger{
		rom:         rom,
		opts:        opts,
		breakpoints: make(map[uint16]BreakFlag),
		watches:     make(map[uint16]bool),
		rec:         rewind.New(600, 32, 1),
	}
	if err := d.boot(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Debugger) boot() error {
	gb, err := gameboy.New(d.rom, d.opts)
	if err != nil {
		return err
	}
	d.gb = gb
	d.gb.SetAccessWatcher(d)
	d.gb.OnVBlank(func([]byte) { _ = d.rec.Capture(d.gb.SaveState()) })
	d.cstack.reset()
	d.prevPC = d.gb.CPU().PC
	d.status = StatusRunning
	return nil
}

// GameBoy exposes the underlying simulation for host-side framebuffer/audio
// pulls; the debugger's Step/Run family remains the only sanctioned way to
// advance it while attached.
func (d *Debugger) GameBoy() *gameboy.GameBoy { return d.gb }

// Status reports the debugger's current run state.
func (d *Debugger) Status() Status { return d.status }

// WatchRead and WatchWrite implement bus.AccessWatcher, recording a hit
// whenever a watched or R/W-breakpointed address is touched mid-instruction.
func (d *Debugger) WatchRead(addr uint16, val byte) {
	if d.watches[addr] || d.breakpoints[addr]&BreakRead != 0 {
		d.noteWatchHit(addr, val)
	}
}

func (d *Debugger) WatchWrite(addr uint16, val byte) {
	if d.watches[addr] || d.breakpoints[addr]&BreakWrite != 0 {
		d.noteWatchHit(addr, val)
	}
}

func (d *Debugger) noteWatchHit(addr uint16, val byte) {
	if d.pendingWatchHits == nil {
		d.pendingWatchHits = make(map[uint16]byte)
	}
	d.pendingWatchHits[addr] = val
}

// SetBreak installs a breakpoint at addr with the given flags (merging with
// any already set there); ClearBreak removes it entirely.
func (d *Debugger) SetBreak(addr uint16, flags BreakFlag) { d.breakpoints[addr] |= flags }
func (d *Debugger) ClearBreak(addr uint16)                { delete(d.breakpoints, addr) }

// Watch adds addr to the watch list (reported, not breaking, at every halt).
func (d *Debugger) Watch(addr uint16) { d.watches[addr] = true }

// snapshotWatches renders the current value of every watched address.
func (d *Debugger) snapshotWatches() map[uint16]byte {
	out := make(map[uint16]byte, len(d.watches))
	for addr := range d.watches {
		out[addr] = d.gb.Read(addr)
	}
	return out
}

// updateCallStack tracks CALL/RET/RETI pairs to keep the call stack
// synchronized after a step, the SM83 analogue of arl-nestor's
// updateStack/Interrupt hooks (adapted here to polling since there is no
// concurrent Trace callback to hang on).
func (d *Debugger) updateCallStack(opcode byte, prevPC, newPC uint16, operand uint16, interrupted bool) {
	if interrupted {
		d.cstack.push(prevPC, newPC, prevPC, sffIRQ)
		return
	}
	if isCall(opcode, prevPC, newPC, operand) {
		d.cstack.push(prevPC, newPC, prevPC+3, sffNone)
		return
	}
	if isReturn(opcode, prevPC, newPC) {
		d.cstack.pop()
	}
}

// step executes exactly one instruction and returns the BreakEvent if it
// should halt (an execute/jump breakpoint, the magic LD B,B marker, or a
// read/write breakpoint raised mid-instruction), nil otherwise.
func (d *Debugger) step() *BreakEvent {
	pc := d.gb.CPU().PC
	opcode := d.gb.Peek(pc)
	operand := uint16(d.gb.Peek(pc+1)) | uint16(d.gb.Peek(pc+2))<<8
	d.pendingWatchHits = nil

	d.gb.StepOne()

	newPC := d.gb.CPU().PC
	// An interrupt dispatch lands PC on one of the five fixed ISR vectors
	// without the executed opcode itself having called or jumped there
	// (those vectors fall outside every RST target and CALL never encodes
	// one of these exact five addresses in any real ROM's ISR-adjacent
	// code, so this is an unambiguous signal).
	interrupted := isInterruptVector(newPC) && !(isCall(opcode, pc, newPC, operand) && operand == newPC)
	d.updateCallStack(opcode, pc, newPC, operand, interrupted)
	d.prevPC = newPC

	if opcode == magicBreakOpcode {
		return d.breakEventAt(pc, "magic breakpoint (LD B,B)")
	}
	if flags, ok := d.breakpoints[pc]; ok && flags&BreakExecute != 0 {
		return d.breakEventAt(pc, fmt.Sprintf("execute breakpoint at %s", hex16(pc)))
	}
	if flags, ok := d.breakpoints[newPC]; ok && flags&BreakJump != 0 && isJumpLike(opcode) {
		return d.breakEventAt(newPC, fmt.Sprintf("jump-target breakpoint at %s", hex16(newPC)))
	}
	if len(d.pendingWatchHits) > 0 {
		for addr := range d.pendingWatchHits {
			if d.breakpoints[addr]&(BreakRead|BreakWrite) != 0 {
				return d.breakEventAt(newPC, fmt.Sprintf("memory breakpoint at %s", hex16(addr)))
			}
		}
	}
	return nil
}

func isJumpLike(opcode byte) bool {
	switch opcode {
	case 0x18, 0x20, 0x28, 0x30, 0x38, // JR, JR cc
		0xC2, 0xC3, 0xCA, 0xD2, 0xDA, 0xE9, // JP, JP cc, JP HL
		0xC4, 0xCC, 0xCD, 0xD4, 0xDC, // CALL, CALL cc
		0xC0, 0xC8, 0xC9, 0xD0, 0xD8, 0xD9, // RET, RET cc, RETI
		0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF: // RST
		return true
	}
	return false
}

// isInterruptVector reports whether addr is one of the five fixed SM83
// interrupt service routine entry points.
func isInterruptVector(addr uint16) bool {
	switch addr {
	case 0x0040, 0x0048, 0x0050, 0x0058, 0x0060:
		return true
	}
	return false
}

func (d *Debugger) breakEventAt(pc uint16, reason string) *BreakEvent {
	d.status = StatusPaused
	logging.With(logging.ModDebugger).WithField("pc", hex16(pc)).Infof("break: %s", reason)
	return &BreakEvent{
		PC:       pc,
		Reason:   reason,
		Watches:  d.snapshotWatches(),
		CallPath: d.cstack.build(pc),
	}
}

// Step advances exactly one instruction regardless of breakpoints (the
// debugger's own explicit single-step), still honoring watch reporting.
func (d *Debugger) Step() *BreakEvent {
	if ev := d.step(); ev != nil {
		return ev
	}
	d.status = StatusPaused
	return &BreakEvent{PC: d.gb.CPU().PC, Reason: "step", Watches: d.snapshotWatches(), CallPath: d.cstack.build(d.gb.CPU().PC)}
}

// StepBack rewinds one captured frame (the rewind recorder's granularity;
// spec.md §4.8 captures once per VBlank) and reports the restored PC.
func (d *Debugger) StepBack() (*BreakEvent, error) {
	raw, err := d.rec.StepBack(1)
	if err != nil {
		return nil, err
	}
	if err := d.gb.LoadState(raw); err != nil {
		return nil, err
	}
	d.cstack.reset()
	d.status = StatusPaused
	pc := d.gb.CPU().PC
	return &BreakEvent{PC: pc, Reason: "stepback", Watches: d.snapshotWatches(), CallPath: d.cstack.build(pc)}, nil
}

// Run executes until a breakpoint fires (no cycle budget).
func (d *Debugger) Run() *BreakEvent {
	d.status = StatusRunning
	for {
		if ev := d.step(); ev != nil {
			return ev
		}
	}
}

// RunFor executes until at least n clocks have elapsed or a breakpoint
// fires, whichever comes first.
func (d *Debugger) RunFor(n uint64) *BreakEvent {
	d.status = StatusRunning
	start := d.gb.ClockCount()
	for d.gb.ClockCount()-start < n {
		if ev := d.step(); ev != nil {
			return ev
		}
	}
	d.status = StatusPaused
	return nil
}

// RunUntil executes until ClockCount reaches target or a breakpoint fires.
func (d *Debugger) RunUntil(target uint64) *BreakEvent {
	d.status = StatusRunning
	for d.gb.ClockCount() < target {
		if ev := d.step(); ev != nil {
			return ev
		}
	}
	d.status = StatusPaused
	return nil
}

// RunTo installs a transient execute breakpoint at addr, runs until it (or
// an existing breakpoint) fires, then removes the transient one.
func (d *Debugger) RunTo(addr uint16) *BreakEvent {
	hadFlags, had := d.breakpoints[addr]
	d.SetBreak(addr, BreakExecute)
	d.status = StatusRunning
	ev := d.Run()
	if had {
		d.breakpoints[addr] = hadFlags
	} else {
		d.ClearBreak(addr)
	}
	return ev
}

// Reset discards all emulation state and call-stack/rewind history, and
// reboots from the original ROM image — the debugger's "reset" command.
func (d *Debugger) Reset() error {
	d.rec.Reset()
	return d.boot()
}

// Disasm renders the instruction at pc without advancing the CPU.
func (d *Debugger) Disasm(pc uint16) cpu.Disassembled { return d.gb.CPU().Disasm(pc) }

// TraceRange performs a static control-flow walk starting at pc, collecting
// straight-line disassembly until a jump/call/return/undefined opcode, the
// way arl-nestor/emu/debugger/listing.go builds its disassembly listing
// (there: incrementally as the user scrolls; here: eagerly over a bounded
// span for a `dump`/listing command). It does not follow branch targets —
// only dynamic execution (normal Step/Run) discovers those, recorded via
// the call stack.
func (d *Debugger) TraceRange(pc uint16, maxInstrs int) []cpu.Disassembled {
	out := make([]cpu.Disassembled, 0, maxInstrs)
	addr := pc
	for i := 0; i < maxInstrs; i++ {
		dis := d.Disasm(addr)
		out = append(out, dis)
		if isJumpLike(dis.Bytes[0]) || dis.Opcode == "(unknown)" {
			break
		}
		addr += uint16(len(dis.Bytes))
	}
	return out
}

// Dump returns a savestate blob suitable for writing to the path named by
// a `dump <path>` command; the host, not this package, performs the file
// I/O (spec.md's external-interfaces boundary keeps filesystem access at
// the host glue layer, cmd/gbdbg).
func (d *Debugger) Dump() []byte { return d.gb.SaveState() }

// Command is one parsed debugger command, ready to Execute.
type Command struct {
	kind string
	n    uint64
	addr uint16
	path string
	flag BreakFlag
}

// Path returns the filesystem path a "dump <path>" command named. Execute
// deliberately performs no file I/O itself (the core stays free of it
// outside the explicit battery-RAM/savestate sinks), so a host REPL reads
// this to know where to write the blob Execute returns.
func (c Command) Path() string { return c.path }

// Kind reports the command's grammar keyword (e.g. "step", "run_for",
// "break"), letting a host REPL format feedback without re-parsing the line.
func (c Command) Kind() string { return c.kind }

// ParseLine parses one line of the spec.md §6 debugger grammar: step,
// stepback, run, run for <N>, run until <N>, runto <hex16>, watch <hex16>,
// break <flags> <hex16>, reset, dump <path>. Errors are *gberr.DebuggerParse
// with 1-based line/column so a REPL can point at the offending token.
func ParseLine(line int, text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, &gberr.DebuggerParse{Line: line, Position: 1, Msg: "empty command"}
	}
	col := strings.Index(text, fields[0]) + 1

	switch fields[0] {
	case "step":
		return Command{kind: "step"}, nil
	case "stepback":
		return Command{kind: "stepback"}, nil
	case "reset":
		return Command{kind: "reset"}, nil
	case "run":
		switch len(fields) {
		case 1:
			return Command{kind: "run"}, nil
		case 3:
			n, err := strconv.ParseUint(fields[2], 10, 64)
			if err != nil {
				return Command{}, parseErrAt(line, text, fields[2], "expected an integer")
			}
			switch fields[1] {
			case "for":
				return Command{kind: "run_for", n: n}, nil
			case "until":
				return Command{kind: "run_until", n: n}, nil
			}
			return Command{}, parseErrAt(line, text, fields[1], `expected "for" or "until"`)
		}
		return Command{}, &gberr.DebuggerParse{Line: line, Position: col, Msg: `malformed "run" command`}
	case "runto":
		if len(fields) != 2 {
			return Command{}, &gberr.DebuggerParse{Line: line, Position: col, Msg: "runto requires one hex16 address"}
		}
		addr, err := parseHex16(fields[1])
		if err != nil {
			return Command{}, parseErrAt(line, text, fields[1], err.Error())
		}
		return Command{kind: "runto", addr: addr}, nil
	case "watch":
		if len(fields) != 2 {
			return Command{}, &gberr.DebuggerParse{Line: line, Position: col, Msg: "watch requires one hex16 address"}
		}
		addr, err := parseHex16(fields[1])
		if err != nil {
			return Command{}, parseErrAt(line, text, fields[1], err.Error())
		}
		return Command{kind: "watch", addr: addr}, nil
	case "break":
		if len(fields) != 3 {
			return Command{}, &gberr.DebuggerParse{Line: line, Position: col, Msg: "break requires flags and a hex16 address"}
		}
		flags, err := ParseBreakFlags(fields[1])
		if err != nil {
			return Command{}, parseErrAt(line, text, fields[1], err.Error())
		}
		addr, err := parseHex16(fields[2])
		if err != nil {
			return Command{}, parseErrAt(line, text, fields[2], err.Error())
		}
		return Command{kind: "break", addr: addr, flag: flags}, nil
	case "dump":
		if len(fields) != 2 {
			return Command{}, &gberr.DebuggerParse{Line: line, Position: col, Msg: "dump requires a path"}
		}
		return Command{kind: "dump", path: fields[1]}, nil
	}
	return Command{}, &gberr.DebuggerParse{Line: line, Position: col, Msg: fmt.Sprintf("unknown command %q", fields[0])}
}

func parseErrAt(line int, text, token, msg string) error {
	return &gberr.DebuggerParse{Line: line, Position: strings.Index(text, token) + 1, Msg: msg}
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "$")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("expected a hex16 address, got %q", s)
	}
	return uint16(v), nil
}

// Execute runs a parsed Command against the debugger, returning a
// BreakEvent when the command halted execution (nil for state-mutating
// commands that don't run the CPU, like watch/break/reset/dump).
func (d *Debugger) Execute(cmd Command) (*BreakEvent, []byte, error) {
	switch cmd.kind {
	case "step":
		return d.Step(), nil, nil
	case "stepback":
		ev, err := d.StepBack()
		return ev, nil, err
	case "run":
		return d.Run(), nil, nil
	case "run_for":
		return d.RunFor(cmd.n), nil, nil
	case "run_until":
		return d.RunUntil(cmd.n), nil, nil
	case "runto":
		return d.RunTo(cmd.addr), nil, nil
	case "watch":
		d.Watch(cmd.addr)
		return nil, nil, nil
	case "break":
		d.SetBreak(cmd.addr, cmd.flag)
		return nil, nil, nil
	case "reset":
		return nil, nil, d.Reset()
	case "dump":
		return nil, d.Dump(), nil
	}
	return nil, nil, fmt.Errorf("unrecognized command kind %q", cmd.kind)
}
