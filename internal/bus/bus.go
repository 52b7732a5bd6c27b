// Package bus implements the DMG address space: cartridge passthrough,
// work/high RAM, the IO register window, interrupt enable/flag latches, and
// OAM DMA. It is the single point every other component's Tick is driven
// from, and the single writer of the IF register other devices request
// bits into.
package bus

import "github.com/FabianRolfMatthiasNoll/gbcore/internal/cart"

// PPU is the subset of the PPU's surface the bus needs to route CPU access
// and drive timing through, kept minimal so bus does not import package ppu.
type PPU interface {
	ReadVRAM(addr uint16) byte
	WriteVRAM(addr uint16, v byte)
	ReadOAM(addr uint16) byte
	WriteOAM(addr uint16, v byte)
	DMAWriteOAM(addr uint16, v byte)
	ReadReg(addr uint16) byte
	WriteReg(addr uint16, v byte)
	Tick(cycles int)
}

// APU is the subset of the APU's surface the bus routes register access
// and timing through.
type APU interface {
	ReadReg(addr uint16) byte
	WriteReg(addr uint16, v byte)
	Tick(cycles int)
}

// Timer is the subset of internal/timer's surface the bus drives.
type Timer interface {
	ReadDIV() byte
	ReadTIMA() byte
	ReadTMA() byte
	ReadTAC() byte
	WriteDIV()
	WriteTIMA(v byte)
	WriteTMA(v byte)
	WriteTAC(v byte)
	Tick(cycles int)
}

// Joypad is the subset of internal/joypad's surface the bus routes P1
// through.
type Joypad interface {
	Read() byte
	Write(v byte)
}

// Serial is the subset of internal/serial's surface the bus routes SB/SC
// through.
type Serial interface {
	ReadSB() byte
	ReadSC() byte
	WriteSB(v byte)
	WriteSC(v byte)
	Tick(cycles int)
}

const (
	IF_VBlank = 1 << 0
	IF_STAT   = 1 << 1
	IF_Timer  = 1 << 2
	IF_Serial = 1 << 3
	IF_Joypad = 1 << 4

	dmaLengthCycles = 640 // 160 bytes, 4 T-cycles each
)

// Bus wires the CPU's 16-bit address space to every other component. It is
// the sole writer of the IF register: devices call RequestInterrupt instead
// of touching IF directly, keeping interrupt-raise a single-writer
// operation regardless of which subsystem produced it.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 8KB, fixed bank (no WRAM banking outside CGB)
	hram [0x7F]byte

	ppu    PPU
	apuDev APU
	timer  Timer
	joypad Joypad
	serial Serial

	ie    byte
	ifReg byte

	bootROM        []byte
	bootROMEnabled bool

	dmaActive bool
	dmaSrcHi  byte
	dmaCycle  int

	watcher AccessWatcher
}

// AccessWatcher observes every CPU-initiated memory access after it has been
// serviced, for debugger read/write watchpoints. Nil by default so ordinary
// emulation pays no cost.
type AccessWatcher interface {
	WatchRead(addr uint16, val byte)
	WatchWrite(addr uint16, val byte)
}

func New(c cart.Cartridge, ppu PPU, apuDev APU, tm Timer, jp Joypad, sr Serial) *Bus {
	return &Bus{cart: c, ppu: ppu, apuDev: apuDev, timer: tm, joypad: jp, serial: sr}
}

// SetAccessWatcher installs (or clears, with nil) the debugger's read/write
// watchpoint observer.
func (b *Bus) SetAccessWatcher(w AccessWatcher) { b.watcher = w }

// SetBootROM installs a 256-byte boot ROM mapped at 0x0000-0x00FF until the
// CPU writes a nonzero value to 0xFF50.
func (b *Bus) SetBootROM(rom []byte) {
	b.bootROM = rom
	b.bootROMEnabled = len(rom) > 0
}

func (b *Bus) RequestInterrupt(bit byte) {
	b.ifReg |= 1 << bit
}

func (b *Bus) IE() byte { return b.ie }
func (b *Bus) IF() byte { return b.ifReg | 0xE0 }

// PendingInterrupts returns the IE&IF bits the CPU should consider for
// dispatch.
func (b *Bus) PendingInterrupts() byte { return b.ie & b.ifReg & 0x1F }

func (b *Bus) ClearInterrupt(bit byte) { b.ifReg &^= 1 << bit }

func (b *Bus) Read(addr uint16) byte {
	v := b.read(addr)
	if b.watcher != nil {
		b.watcher.WatchRead(addr, v)
	}
	return v
}

// Peek reads addr exactly like Read but never notifies the AccessWatcher,
// for debugger disassembly/lookahead that must not manufacture spurious
// watchpoint hits on bytes the CPU has not actually fetched as data yet.
func (b *Bus) Peek(addr uint16) byte { return b.read(addr) }

func (b *Bus) read(addr uint16) byte {
	if b.dmaActive && !dmaAccessAllowed(addr) {
		return 0xFF
	}
	switch {
	case addr < 0x0100 && b.bootROMEnabled:
		return b.bootROM[addr]
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.ppu.ReadVRAM(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00:
		return b.wram[addr-0xE000] // echo RAM
	case addr < 0xFEA0:
		return b.ppu.ReadOAM(addr)
	case addr < 0xFF00:
		return 0xFF // unusable
	case addr < 0xFF80:
		return b.readIO(addr)
	case addr < 0xFFFF:
		return b.hram[addr-0xFF80]
	default:
		return b.ie
	}
}

func (b *Bus) Write(addr uint16, v byte) {
	b.write(addr, v)
	if b.watcher != nil {
		b.watcher.WatchWrite(addr, v)
	}
}

func (b *Bus) write(addr uint16, v byte) {
	if b.dmaActive && !dmaAccessAllowed(addr) {
		return
	}
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, v)
	case addr < 0xA000:
		b.ppu.WriteVRAM(addr, v)
	case addr < 0xC000:
		b.cart.Write(addr, v)
	case addr < 0xE000:
		b.wram[addr-0xC000] = v
	case addr < 0xFE00:
		b.wram[addr-0xE000] = v
	case addr < 0xFEA0:
		b.ppu.WriteOAM(addr, v)
	case addr < 0xFF00:
		// unusable
	case addr < 0xFF80:
		b.writeIO(addr, v)
	case addr < 0xFFFF:
		b.hram[addr-0xFF80] = v
	default:
		b.ie = v & 0x1F
	}
}

func dmaAccessAllowed(addr uint16) bool {
	return addr >= 0xFF80 && addr <= 0xFFFE || addr == 0xFFFF
}

func (b *Bus) readIO(addr uint16) byte {
	switch addr {
	case 0xFF00:
		return b.joypad.Read()
	case 0xFF01:
		return b.serial.ReadSB()
	case 0xFF02:
		return b.serial.ReadSC()
	case 0xFF04:
		return b.timer.ReadDIV()
	case 0xFF05:
		return b.timer.ReadTIMA()
	case 0xFF06:
		return b.timer.ReadTMA()
	case 0xFF07:
		return b.timer.ReadTAC()
	case 0xFF0F:
		return b.IF()
	case 0xFF10, 0xFF11, 0xFF12, 0xFF13, 0xFF14,
		0xFF16, 0xFF17, 0xFF18, 0xFF19,
		0xFF1A, 0xFF1B, 0xFF1C, 0xFF1D, 0xFF1E,
		0xFF20, 0xFF21, 0xFF22, 0xFF23,
		0xFF24, 0xFF25, 0xFF26:
		return b.apuDev.ReadReg(addr)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return b.apuDev.ReadReg(addr) // wave RAM
	case 0xFF40, 0xFF41, 0xFF42, 0xFF43, 0xFF44, 0xFF45,
		0xFF47, 0xFF48, 0xFF49, 0xFF4A, 0xFF4B:
		return b.ppu.ReadReg(addr)
	case 0xFF46:
		return b.dmaSrcHi
	case 0xFF50:
		if b.bootROMEnabled {
			return 0x00
		}
		return 0x01
	default:
		return 0xFF
	}
}

func (b *Bus) writeIO(addr uint16, v byte) {
	switch addr {
	case 0xFF00:
		b.joypad.Write(v)
	case 0xFF01:
		b.serial.WriteSB(v)
	case 0xFF02:
		b.serial.WriteSC(v)
	case 0xFF04:
		b.timer.WriteDIV()
	case 0xFF05:
		b.timer.WriteTIMA(v)
	case 0xFF06:
		b.timer.WriteTMA(v)
	case 0xFF07:
		b.timer.WriteTAC(v)
	case 0xFF0F:
		b.ifReg = v & 0x1F
	case 0xFF10, 0xFF11, 0xFF12, 0xFF13, 0xFF14,
		0xFF16, 0xFF17, 0xFF18, 0xFF19,
		0xFF1A, 0xFF1B, 0xFF1C, 0xFF1D, 0xFF1E,
		0xFF20, 0xFF21, 0xFF22, 0xFF23,
		0xFF24, 0xFF25, 0xFF26:
		b.apuDev.WriteReg(addr, v)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		b.apuDev.WriteReg(addr, v)
	case 0xFF40, 0xFF41, 0xFF42, 0xFF43, 0xFF44, 0xFF45,
		0xFF47, 0xFF48, 0xFF49, 0xFF4A, 0xFF4B:
		b.ppu.WriteReg(addr, v)
	case 0xFF46:
		b.startDMA(v)
	case 0xFF50:
		if v != 0 {
			b.bootROMEnabled = false
		}
	default:
		// unmapped IO: ignored
	}
}

func (b *Bus) startDMA(srcHi byte) {
	b.dmaSrcHi = srcHi
	b.dmaActive = true
	b.dmaCycle = 0
}

// Tick advances every ticked subsystem by the given T-cycle count and
// services any in-flight OAM DMA copy. The CPU calls it with 4 for every
// M-cycle of an instruction (each bus access and each internal delay).
func (b *Bus) Tick(cycles int) {
	b.timer.Tick(cycles)
	b.serial.Tick(cycles)
	b.ppu.Tick(cycles)
	b.apuDev.Tick(cycles)
	if tk, ok := b.cart.(interface{ Tick(int) }); ok {
		tk.Tick(cycles)
	}
	if b.dmaActive {
		b.tickDMA(cycles)
	}
}

// tickDMA copies one source byte into OAM per 4 T-cycles elapsed, bypassing
// the CPU-access lock that Read/Write enforce during an active DMA.
func (b *Bus) tickDMA(cycles int) {
	for i := 0; i < cycles; i++ {
		b.dmaCycle++
		if b.dmaCycle%4 != 0 {
			continue
		}
		idx := b.dmaCycle/4 - 1
		if idx < 0 || idx >= 160 {
			continue
		}
		src := uint16(b.dmaSrcHi)<<8 | uint16(idx)
		b.ppu.DMAWriteOAM(0xFE00+uint16(idx), b.dmaRead(src))
		if b.dmaCycle >= dmaLengthCycles {
			b.dmaActive = false
			return
		}
	}
}

// dmaRead bypasses the DMA access lock since DMA itself is the reader.
func (b *Bus) dmaRead(src uint16) byte {
	switch {
	case src < 0x8000:
		return b.cart.Read(src)
	case src < 0xA000:
		return b.ppu.ReadVRAM(src)
	case src < 0xC000:
		return b.cart.Read(src)
	case src < 0xE000:
		return b.wram[src-0xC000]
	case src < 0xFE00:
		return b.wram[src-0xE000]
	default:
		return 0xFF
	}
}

func (b *Bus) Cart() cart.Cartridge { return b.cart }

type busState struct {
	WRAM      [0x2000]byte
	HRAM      [0x7F]byte
	IE        byte
	IF        byte
	DMAActive bool
	DMASrcHi  byte
	DMACycle  int
}

func (b *Bus) SaveState() busState {
	return busState{b.wram, b.hram, b.ie, b.ifReg, b.dmaActive, b.dmaSrcHi, b.dmaCycle}
}

func (b *Bus) LoadState(s busState) {
	b.wram, b.hram = s.WRAM, s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.dmaActive, b.dmaSrcHi, b.dmaCycle = s.DMAActive, s.DMASrcHi, s.DMACycle
}
