// Package gameboy wires the CPU, PPU, APU, bus, and peripheral blocks into a
// single simulated DMG, and provides the scheduler the host drives: step one
// instruction, run for a clock budget, or run until a target clock. It is
// the replacement for the teacher's Machine type, generalized from
// frame-granular stepping to the instruction-granular stepping spec.md §4.1
// requires.
package gameboy

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"

	"github.com/FabianRolfMatthiasNoll/gbcore/internal/apu"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/bus"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/cart"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/gberr"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/joypad"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/logging"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/ppu"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/serial"
	"github.com/FabianRolfMatthiasNoll/gbcore/internal/timer"
)

// savestateMagic and savestateVersion form the 4-byte-magic/2-byte-version
// header spec.md §6 requires ahead of the gob payload. A version bump is
// required any time a component's gob-encoded field layout changes.
var savestateMagic = [4]byte{'G', 'B', 'C', 'S'}

const savestateVersion uint16 = 1

// cyclesPerFrame is the DMG's fixed per-frame clock budget: 154 scanlines of
// 456 dots each, one dot per T-cycle (spec.md §3 invariant: exactly 70224
// clocks between VBlanks).
const cyclesPerFrame = 70224

// irqRouter breaks the construction cycle between the bus (which needs
// already-built timer/joypad/serial/ppu) and those devices (which raise
// interrupts through the bus's RequestInterrupt). It is handed to each
// device before the bus exists and pointed at the real bus once built.
type irqRouter struct {
	b *bus.Bus
}

func (r *irqRouter) RequestInterrupt(bit byte) {
	if r.b != nil {
		r.b.RequestInterrupt(bit)
	}
}

// Options configures a GameBoy at construction time. The zero value is a
// valid configuration: 48kHz audio, no boot ROM (cold-boot register state
// applied directly).
type Options struct {
	SampleRate int
	BootROM    []byte
}

// GameBoy is the aggregate simulation: the scheduler's pacemaker (cpu), the
// address space it drives (bus), and every peripheral the bus routes to.
// It is mutated exclusively by StepOne/RunFor/RunUntil and the external
// input setters (SetButtons, SetSerialWriter), matching the Lifecycle
// invariant in spec.md §3.
type GameBoy struct {
	clockCount uint64

	cart   cart.Cartridge
	ppu    *ppu.PPU
	apu    *apu.APU
	timer  *timer.Timer
	joypad *joypad.Joypad
	serial *serial.Serial
	bus    *bus.Bus
	cpu    *cpu.CPU

	onVBlank func(frame []byte)
}

// New constructs a GameBoy from a ROM image. It returns *gberr.InvalidRom or
// *gberr.UnsupportedMapper if the image cannot be parsed into a known
// mapper, both surfaced unchanged from cart.New.
func New(rom []byte, opts Options) (*GameBoy, error) {
	c, _, err := cart.New(rom)
	if err != nil {
		return nil, err
	}

	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	router := &irqRouter{}
	p := ppu.New(func(bit int) { router.RequestInterrupt(byte(bit)) })
	a := apu.New(sampleRate)
	tm := timer.New(router)
	jp := joypad.New(router)
	sr := serial.New(router)

	b := bus.New(c, p, a, tm, jp, sr)
	router.b = b

	cp := cpu.New(b)

	g := &GameBoy{
		cart: c, ppu: p, apu: a, timer: tm, joypad: jp, serial: sr, bus: b, cpu: cp,
	}

	if len(opts.BootROM) > 0 {
		b.SetBootROM(opts.BootROM)
		cp.SetPC(0x0000)
	} else {
		cp.ResetNoBoot()
		g.applyDMGPostBootIO()
	}

	return g, nil
}

// applyDMGPostBootIO sets the documented DMG post-boot IO register defaults
// (pandocs "Power Up Sequence"), the same values the boot ROM itself would
// have left behind, so a ROM started at PC=0x0100 without a boot image sees
// an already-initialized LCD and APU.
func (g *GameBoy) applyDMGPostBootIO() {
	b := g.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
	b.Write(0xFF26, 0x80)
	b.Write(0xFF24, 0x77)
	b.Write(0xFF25, 0xFF)
}

// OnVBlank registers a callback invoked once per completed frame (the PPU's
// frame-ready edge), receiving the 160x144 shade-index framebuffer.
func (g *GameBoy) OnVBlank(fn func(frame []byte)) { g.onVBlank = fn }

// ClockCount returns the monotonic tick counter at the 4.194304 MHz base
// clock, per spec.md §3.
func (g *GameBoy) ClockCount() uint64 { return g.clockCount }

// Framebuffer returns the most recently completed frame and whether one has
// been produced since the last call (mirrors ppu.PPU.Frame()'s ready edge).
func (g *GameBoy) Framebuffer() ([]byte, bool) { return g.ppu.Frame() }

// CPU exposes the underlying SM83 core for debugger register inspection and
// disassembly; the scheduler (StepOne/RunFor/RunUntil) remains the only
// sanctioned way to advance it.
func (g *GameBoy) CPU() *cpu.CPU { return g.cpu }

// Read and Write give the debugger raw bus access for watchpoint inspection
// and memory pokes, bypassing no mapper/IO semantics.
func (g *GameBoy) Read(addr uint16) byte     { return g.bus.Read(addr) }
func (g *GameBoy) Write(addr uint16, v byte) { g.bus.Write(addr, v) }

// SetAccessWatcher installs the debugger's read/write watchpoint observer
// on the underlying bus (nil clears it).
func (g *GameBoy) SetAccessWatcher(w bus.AccessWatcher) { g.bus.SetAccessWatcher(w) }

// Peek reads addr without notifying any installed AccessWatcher, for
// debugger disassembly/instruction-lookahead that must not manufacture
// spurious read-watchpoint hits.
func (g *GameBoy) Peek(addr uint16) byte { return g.bus.Peek(addr) }

// StepOne advances the simulation by exactly one CPU instruction (or one
// idle tick while halted/stopped) and returns the T-cycles it consumed.
// Every ticked subsystem — PPU, APU, timer, serial, OAM DMA — advances in
// lockstep through bus.Tick as a side effect of cpu.Step.
func (g *GameBoy) StepOne() int {
	cycles := g.cpu.Step()
	g.clockCount += uint64(cycles)
	if frame, ready := g.ppu.Frame(); ready && g.onVBlank != nil {
		g.onVBlank(frame)
	}
	return cycles
}

// RunFor advances the simulation by at least n clocks, stepping whole
// instructions (it may overshoot by up to one instruction's worth of
// cycles), and returns the clocks actually consumed.
func (g *GameBoy) RunFor(n uint64) uint64 {
	var consumed uint64
	for consumed < n {
		consumed += uint64(g.StepOne())
	}
	return consumed
}

// RunUntil advances the simulation until ClockCount is at least target.
func (g *GameBoy) RunUntil(target uint64) {
	for g.clockCount < target {
		g.StepOne()
	}
}

// RunFrame advances the simulation by one video frame's worth of clocks
// (70224), matching the teacher's StepFrame granularity for hosts that only
// need frame-paced stepping.
func (g *GameBoy) RunFrame() {
	g.RunFor(cyclesPerFrame)
}

// SetButtons updates live joypad state, firing the joypad interrupt on any
// selected line's high-to-low transition.
func (g *GameBoy) SetButtons(b joypad.Buttons) { g.joypad.SetButtons(b) }

// SetSerialWriter attaches an observer that receives each byte shifted out
// over the serial port, e.g. a test ROM's pass/fail console.
func (g *GameBoy) SetSerialWriter(w interface {
	Write([]byte) (int, error)
}) {
	g.serial.SetWriter(w)
}

// AudioAvailable returns the number of buffered stereo sample pairs ready
// to be pulled.
func (g *GameBoy) AudioAvailable() int { return g.apu.SamplesAvailable() }

// PullAudio returns up to max interleaved stereo int16 samples (L,R,L,R...).
func (g *GameBoy) PullAudio(max int) []int16 { return g.apu.PullStereo(max) }

// SaveBattery returns a copy of the cartridge's external RAM for the host to
// persist, or ok=false if the cartridge has none. The data is RAM only: for
// MBC3+RTC cartridges the clock registers are not included.
func (g *GameBoy) SaveBattery() (data []byte, ok bool) {
	bb, isBattery := g.cart.(cart.BatteryBacked)
	if !isBattery {
		return nil, false
	}
	data = bb.SaveRAM()
	return data, len(data) > 0
}

// LoadBattery restores external RAM previously returned by SaveBattery.
func (g *GameBoy) LoadBattery(data []byte) bool {
	bb, ok := g.cart.(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// gbSaveState is the gob payload following the savestate header. Each field
// holds another component's own gob-encoded blob rather than that
// component's (often unexported) state type directly, so this package never
// needs to name a type it cannot import.
type gbSaveState struct {
	ClockCount uint64

	Bus    []byte
	CPU    []byte
	PPU    []byte
	APU    []byte
	Timer  []byte
	Joypad []byte
	Serial []byte
	Cart   []byte
}

func gobEncode(v interface{}) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(err) // encoding a plain value struct of built-in kinds cannot fail
	}
	return buf.Bytes()
}

// SaveState serializes the full aggregate into a versioned binary blob: a
// 4-byte magic, 2-byte little-endian version, then a gob payload. Version
// mismatches on load are reported as *gberr.SavestateMismatch rather than
// gob's own less explicit decode error (spec.md §6).
func (g *GameBoy) SaveState() []byte {
	payload := gbSaveState{
		ClockCount: g.clockCount,
		Bus:        gobEncode(g.bus.SaveState()),
		CPU:        gobEncode(g.cpu.SaveState()),
		PPU:        g.ppu.SaveState(),
		APU:        g.apu.SaveState(),
		Timer:      gobEncode(g.timer.SaveState()),
		Joypad:     gobEncode(g.joypad.SaveState()),
		Serial:     gobEncode(g.serial.SaveState()),
		Cart:       g.cart.SaveState(),
	}

	var out bytes.Buffer
	out.Write(savestateMagic[:])
	var versionBuf [2]byte
	binary.LittleEndian.PutUint16(versionBuf[:], savestateVersion)
	out.Write(versionBuf[:])
	_ = gob.NewEncoder(&out).Encode(payload)
	return out.Bytes()
}

// LoadState restores state previously returned by SaveState. It returns
// *gberr.SavestateMismatch if the header's magic or version does not match
// this build, and otherwise propagates any gob/component decode error.
func (g *GameBoy) LoadState(data []byte) error {
	if len(data) < 6 || !bytes.Equal(data[:4], savestateMagic[:]) {
		logging.With(logging.ModGameboy).Warnf("savestate load rejected: missing or malformed magic header")
		return &gberr.SavestateMismatch{Expected: savestateVersion, Got: 0}
	}
	got := binary.LittleEndian.Uint16(data[4:6])
	if got != savestateVersion {
		logging.With(logging.ModGameboy).WithField("got", got).WithField("want", savestateVersion).
			Warnf("savestate version mismatch")
		return &gberr.SavestateMismatch{Expected: savestateVersion, Got: got}
	}

	var s gbSaveState
	if err := gob.NewDecoder(bytes.NewReader(data[6:])).Decode(&s); err != nil {
		return err
	}

	busState := g.bus.SaveState()
	if err := gob.NewDecoder(bytes.NewReader(s.Bus)).Decode(&busState); err != nil {
		return err
	}
	g.bus.LoadState(busState)

	cpuState := g.cpu.SaveState()
	if err := gob.NewDecoder(bytes.NewReader(s.CPU)).Decode(&cpuState); err != nil {
		return err
	}
	g.cpu.LoadState(cpuState)

	timerState := g.timer.SaveState()
	if err := gob.NewDecoder(bytes.NewReader(s.Timer)).Decode(&timerState); err != nil {
		return err
	}
	g.timer.LoadState(timerState)

	joypadState := g.joypad.SaveState()
	if err := gob.NewDecoder(bytes.NewReader(s.Joypad)).Decode(&joypadState); err != nil {
		return err
	}
	g.joypad.LoadState(joypadState)

	serialState := g.serial.SaveState()
	if err := gob.NewDecoder(bytes.NewReader(s.Serial)).Decode(&serialState); err != nil {
		return err
	}
	g.serial.LoadState(serialState)

	if err := g.ppu.LoadState(s.PPU); err != nil {
		return err
	}
	if err := g.apu.LoadState(s.APU); err != nil {
		return err
	}
	if err := g.cart.LoadState(s.Cart); err != nil {
		return err
	}

	g.clockCount = s.ClockCount
	return nil
}

// SaveStateToFile and LoadStateFromFile wrap SaveState/LoadState with file
// IO, the one explicit exception to the core otherwise never touching the
// filesystem (battery RAM and savestates are the two sanctioned sinks).
func (g *GameBoy) SaveStateToFile(path string) error {
	return os.WriteFile(path, g.SaveState(), 0o644)
}

func (g *GameBoy) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return g.LoadState(data)
}
