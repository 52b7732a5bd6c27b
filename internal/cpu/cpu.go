// Package cpu implements the SM83 CPU core: registers, the full opcode and
// CB-prefixed instruction sets, interrupt dispatch, HALT (including the
// halt bug), STOP, and the EI-delay quirk.
//
// Cycle accounting falls out of execution rather than a separate lookup
// table: every bus access and every documented "internal" cycle calls
// tick(), which advances every other ticked subsystem by one M-cycle (4
// T-cycles) through the bus. An instruction's total reported cost is
// whatever that sequence of ticks summed to.
package cpu

import "github.com/FabianRolfMatthiasNoll/gbcore/internal/bus"

const (
	flagZ = 0x80
	flagN = 0x40
	flagH = 0x20
	flagC = 0x10
)

// lockupOpcodes are documented to lock up the CPU on real hardware.
var lockupOpcodes = map[byte]bool{
	0xD3: true, 0xDB: true, 0xDD: true, 0xE3: true, 0xE4: true, 0xEB: true,
	0xEC: true, 0xED: true, 0xF4: true, 0xFC: true, 0xFD: true,
}

type CPU struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16

	IME     bool
	halted  bool
	stopped bool
	locked  bool

	eiDelay int // countdown of instructions before IME takes effect

	haltBugPending bool

	totalTicks int // count of tick() calls, for per-Step cycle reporting

	bus *bus.Bus
}

func New(b *bus.Bus) *CPU {
	return &CPU{bus: b}
}

func (c *CPU) SetPC(pc uint16) { c.PC = pc }
func (c *CPU) Bus() *bus.Bus   { return c.bus }
func (c *CPU) Halted() bool    { return c.halted }
func (c *CPU) Locked() bool    { return c.locked }

// ResetNoBoot sets the documented DMG post-boot register state, for running
// without a boot ROM image.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP, c.PC = 0xFFFE, 0x0100
	c.IME, c.halted, c.stopped, c.locked = false, false, false, false
	c.eiDelay = 0
}

// tick represents one M-cycle (4 T-cycles) of CPU-internal or bus activity.
func (c *CPU) tick() {
	c.bus.Tick(4)
	c.totalTicks++
}

func (c *CPU) read8(addr uint16) byte {
	v := c.bus.Read(addr)
	c.tick()
	return v
}

func (c *CPU) write8(addr uint16, v byte) {
	c.bus.Write(addr, v)
	c.tick()
}

func (c *CPU) fetch8() byte {
	v := c.read8(c.PC)
	if c.haltBugPending {
		c.haltBugPending = false
		return v // PC not incremented: the next opcode re-reads this byte
	}
	c.PC++
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch8()
	hi := c.fetch8()
	return uint16(hi)<<8 | uint16(lo)
}

func (c *CPU) push16(v uint16) {
	c.tick() // internal: SP decrement
	c.SP--
	c.write8(c.SP, byte(v>>8))
	c.SP--
	c.write8(c.SP, byte(v))
}

func (c *CPU) pop16() uint16 {
	lo := c.read8(c.SP)
	c.SP++
	hi := c.read8(c.SP)
	c.SP++
	return uint16(hi)<<8 | uint16(lo)
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) setZNHC(z, n, h, cy bool) {
	c.F = 0
	if z {
		c.F |= flagZ
	}
	if n {
		c.F |= flagN
	}
	if h {
		c.F |= flagH
	}
	if cy {
		c.F |= flagC
	}
}

// getR/setR implement the r[y]/r[z] 8-bit operand table shared by the LD,
// ALU, INC/DEC, and CB groups: 0-5 are B,C,D,E,H,L; 6 is memory at HL; 7 is A.
func (c *CPU) getR(idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) setR(idx, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

// getRP/setRP implement the rp[p] 16-bit group used by LD rp,nn / INC rp /
// DEC rp / ADD HL,rp: BC, DE, HL, SP.
func (c *CPU) getRP(p byte) uint16 {
	switch p {
	case 0:
		return c.getBC()
	case 1:
		return c.getDE()
	case 2:
		return c.getHL()
	default:
		return c.SP
	}
}

func (c *CPU) setRP(p byte, v uint16) {
	switch p {
	case 0:
		c.setBC(v)
	case 1:
		c.setDE(v)
	case 2:
		c.setHL(v)
	default:
		c.SP = v
	}
}

// getRP2/setRP2 implement the rp2[p] group used by PUSH/POP: BC, DE, HL, AF.
func (c *CPU) getRP2(p byte) uint16 {
	if p == 3 {
		return c.getAF()
	}
	return c.getRP(p)
}

func (c *CPU) setRP2(p byte, v uint16) {
	if p == 3 {
		c.setAF(v)
		return
	}
	c.setRP(p, v)
}

func (c *CPU) checkCC(y byte) bool {
	switch y & 0x03 {
	case 0:
		return c.F&flagZ == 0
	case 1:
		return c.F&flagZ != 0
	case 2:
		return c.F&flagC == 0
	default:
		return c.F&flagC != 0
	}
}

// RequestInterrupt lets the CPU satisfy the same InterruptRequester shape
// the other subsystems use, by delegating to the bus's single-writer IF.
func (c *CPU) RequestInterrupt(bit byte) { c.bus.RequestInterrupt(bit) }

// Step executes exactly one instruction (or one halted/stopped/locked idle
// tick) and returns the number of T-cycles it consumed.
func (c *CPU) Step() int {
	start := c.totalTicks

	if c.locked {
		c.tick()
		return (c.totalTicks - start) * 4
	}

	if c.serviceInterruptIfPending() {
		return (c.totalTicks - start) * 4
	}

	if c.stopped {
		if c.bus.PendingInterrupts()&bus.IF_Joypad != 0 {
			c.stopped = false
		} else {
			c.tick()
			return (c.totalTicks - start) * 4
		}
	}

	if c.halted {
		if c.bus.PendingInterrupts() != 0 {
			c.halted = false
		}
		c.tick()
		return (c.totalTicks - start) * 4
	}

	c.execute()
	if c.eiDelay > 0 {
		c.eiDelay--
		if c.eiDelay == 0 {
			c.IME = true
		}
	}
	return (c.totalTicks - start) * 4
}

// serviceInterruptIfPending dispatches the highest-priority pending,
// IME-enabled interrupt (VBlank > STAT > Timer > Serial > Joypad). HALT
// wakes on a pending interrupt regardless of IME, but dispatch itself only
// happens when IME is set.
func (c *CPU) serviceInterruptIfPending() bool {
	pending := c.bus.PendingInterrupts()
	if !c.IME || pending == 0 {
		return false
	}
	for bit := byte(0); bit < 5; bit++ {
		if pending&(1<<bit) == 0 {
			continue
		}
		c.halted = false
		c.IME = false
		c.bus.ClearInterrupt(bit)
		c.tick()
		c.tick()
		c.push16(c.PC)
		c.PC = 0x0040 + uint16(bit)*8
		return true
	}
	return false
}

func (c *CPU) execute() {
	if lockupOpcodes[c.peekOpcode()] {
		c.fetch8()
		c.locked = true
		return
	}

	op := c.fetch8()
	x := op >> 6
	y := (op >> 3) & 0x07
	z := op & 0x07
	p := y >> 1
	q := y & 0x01

	switch x {
	case 0:
		c.executeX0(y, z, p, q)
	case 1:
		c.executeX1(y, z)
	case 2:
		c.applyALU(y, c.getR(z))
	default:
		c.executeX3(y, z, p, q)
	}
}

// peekOpcode reads the next opcode byte without consuming PC, used only to
// detect a lockup opcode before committing to the normal fetch/halt-bug
// path.
func (c *CPU) peekOpcode() byte { return c.bus.Read(c.PC) }

func (c *CPU) executeX0(y, z, p, q byte) {
	switch z {
	case 0:
		switch {
		case y == 0: // NOP
		case y == 1: // LD (nn),SP
			addr := c.fetch16()
			c.write8(addr, byte(c.SP))
			c.write8(addr+1, byte(c.SP>>8))
		case y == 2: // STOP
			c.fetch8()
			c.stopped = true
		case y == 3: // JR d
			d := int8(c.fetch8())
			c.tick()
			c.PC = uint16(int32(c.PC) + int32(d))
		default: // JR cc,d
			d := int8(c.fetch8())
			if c.checkCC(y - 4) {
				c.tick()
				c.PC = uint16(int32(c.PC) + int32(d))
			}
		}
	case 1:
		if q == 0 {
			c.setRP(p, c.fetch16())
		} else {
			c.addHL(c.getRP(p))
		}
	case 2:
		addr := c.indirectAddr(p)
		if q == 0 {
			c.write8(addr, c.A)
		} else {
			c.A = c.read8(addr)
		}
	case 3:
		c.tick()
		if q == 0 {
			c.setRP(p, c.getRP(p)+1)
		} else {
			c.setRP(p, c.getRP(p)-1)
		}
	case 4:
		c.setR(y, c.inc8(c.getR(y)))
	case 5:
		c.setR(y, c.dec8(c.getR(y)))
	case 6:
		c.setR(y, c.fetch8())
	default:
		c.miscAccumOp(y)
	}
}

// indirectAddr resolves the (BC)/(DE)/(HL+)/(HL-) operand used by LD
// A,(..)/(..),A and advances HL for the post-increment/decrement forms.
func (c *CPU) indirectAddr(p byte) uint16 {
	switch p {
	case 0:
		return c.getBC()
	case 1:
		return c.getDE()
	case 2:
		addr := c.getHL()
		c.setHL(addr + 1)
		return addr
	default:
		addr := c.getHL()
		c.setHL(addr - 1)
		return addr
	}
}

func (c *CPU) addHL(rhs uint16) {
	hl := c.getHL()
	res := uint32(hl) + uint32(rhs)
	h := (hl&0x0FFF)+(rhs&0x0FFF) > 0x0FFF
	cy := res > 0xFFFF
	c.setHL(uint16(res))
	c.F = c.F&flagZ | b2f(h, flagH) | b2f(cy, flagC)
	c.tick()
}

func (c *CPU) inc8(v byte) byte {
	res := v + 1
	c.F = c.F&flagC | b2f(res == 0, flagZ) | b2f(v&0x0F == 0x0F, flagH)
	return res
}

func (c *CPU) dec8(v byte) byte {
	res := v - 1
	c.F = c.F&flagC | flagN | b2f(res == 0, flagZ) | b2f(v&0x0F == 0x00, flagH)
	return res
}

func b2f(cond bool, bit byte) byte {
	if cond {
		return bit
	}
	return 0
}

func b2u(cond bool) byte {
	if cond {
		return 1
	}
	return 0
}

func (c *CPU) miscAccumOp(y byte) {
	switch y {
	case 0: // RLCA
		cy := c.A&0x80 != 0
		c.A = c.A<<1 | b2u(cy)
		c.setZNHC(false, false, false, cy)
	case 1: // RRCA
		cy := c.A&0x01 != 0
		c.A = c.A>>1 | (b2u(cy) << 7)
		c.setZNHC(false, false, false, cy)
	case 2: // RLA
		cy := c.A&0x80 != 0
		old := c.F&flagC != 0
		c.A = c.A<<1 | b2u(old)
		c.setZNHC(false, false, false, cy)
	case 3: // RRA
		cy := c.A&0x01 != 0
		old := c.F&flagC != 0
		c.A = c.A>>1 | (b2u(old) << 7)
		c.setZNHC(false, false, false, cy)
	case 4: // DAA
		c.daa()
	case 5: // CPL
		c.A = ^c.A
		c.F |= flagN | flagH
	case 6: // SCF
		c.F = c.F&flagZ | flagC
	default: // CCF
		c.F = c.F&(flagZ|flagC) ^ flagC
	}
}

func (c *CPU) daa() {
	adjust := byte(0)
	cy := c.F&flagC != 0
	if c.F&flagN == 0 {
		if c.F&flagH != 0 || c.A&0x0F > 9 {
			adjust |= 0x06
		}
		if cy || c.A > 0x99 {
			adjust |= 0x60
			cy = true
		}
		c.A += adjust
	} else {
		if c.F&flagH != 0 {
			adjust |= 0x06
		}
		if cy {
			adjust |= 0x60
		}
		c.A -= adjust
	}
	c.F = c.F&(flagN|flagC) | b2f(c.A == 0, flagZ) | b2f(cy, flagC)
}

func (c *CPU) executeX1(y, z byte) {
	if y == 6 && z == 6 { // HALT
		if !c.IME && c.bus.PendingInterrupts() != 0 {
			c.haltBugPending = true // no halt: the next opcode fetch repeats this PC
			return
		}
		c.halted = true
		return
	}
	c.setR(y, c.getR(z))
}

func (c *CPU) executeX3(y, z, p, q byte) {
	switch z {
	case 0:
		switch {
		case y <= 3: // RET cc
			c.tick()
			if c.checkCC(y) {
				c.PC = c.pop16()
				c.tick()
			}
		case y == 4: // LDH (n),A
			addr := 0xFF00 + uint16(c.fetch8())
			c.write8(addr, c.A)
		case y == 5: // ADD SP,d
			c.spPlusD(true)
		case y == 6: // LDH A,(n)
			addr := 0xFF00 + uint16(c.fetch8())
			c.A = c.read8(addr)
		default: // y==7: LD HL,SP+d
			c.spPlusD(false)
		}
	case 1:
		if q == 0 {
			c.setRP2(p, c.pop16())
		} else {
			switch p {
			case 0: // RET
				c.PC = c.pop16()
				c.tick()
			case 1: // RETI
				c.PC = c.pop16()
				c.tick()
				c.IME = true
			case 2: // JP HL
				c.PC = c.getHL()
			default: // LD SP,HL
				c.SP = c.getHL()
				c.tick()
			}
		}
	case 2:
		switch {
		case y <= 3: // JP cc,nn
			addr := c.fetch16()
			if c.checkCC(y) {
				c.PC = addr
				c.tick()
			}
		case y == 4: // LD (C),A
			c.write8(0xFF00+uint16(c.C), c.A)
		case y == 5: // LD (nn),A
			c.write8(c.fetch16(), c.A)
		case y == 6: // LD A,(C)
			c.A = c.read8(0xFF00 + uint16(c.C))
		default: // LD A,(nn)
			c.A = c.read8(c.fetch16())
		}
	case 3:
		switch y {
		case 0: // JP nn
			addr := c.fetch16()
			c.PC = addr
			c.tick()
		case 1: // CB prefix
			c.executeCB()
		case 6: // DI
			c.IME = false
			c.eiDelay = 0
		default: // EI
			if c.eiDelay == 0 {
				c.eiDelay = 2
			}
		}
	case 4: // CALL cc,nn
		addr := c.fetch16()
		if c.checkCC(y) {
			c.push16(c.PC)
			c.PC = addr
		}
	case 5:
		if q == 0 {
			c.push16(c.getRP2(p))
		} else { // CALL nn
			addr := c.fetch16()
			c.push16(c.PC)
			c.PC = addr
		}
	case 6:
		c.applyALU(y, c.fetch8())
	default: // RST y*8
		c.push16(c.PC)
		c.PC = uint16(y) * 8
	}
}

func (c *CPU) spPlusD(toSP bool) {
	d := int8(c.fetch8())
	res := int32(c.SP) + int32(d)
	h := (uint16(c.SP)&0x0F)+(uint16(byte(d))&0x0F) > 0x0F
	cy := (uint16(c.SP)&0xFF)+(uint16(byte(d))&0xFF) > 0xFF
	c.F = b2f(h, flagH) | b2f(cy, flagC)
	c.tick()
	if toSP {
		c.SP = uint16(res)
		c.tick()
	} else {
		c.setHL(uint16(res))
	}
}

// applyALU implements the shared ADD/ADC/SUB/SBC/AND/XOR/OR/CP group
// against A, used by both the register/memory-operand form and the
// immediate form.
func (c *CPU) applyALU(y byte, operand byte) {
	a := c.A
	switch y {
	case 0: // ADD
		res := uint16(a) + uint16(operand)
		h := (a&0x0F)+(operand&0x0F) > 0x0F
		c.A = byte(res)
		c.setZNHC(c.A == 0, false, h, res > 0xFF)
	case 1: // ADC
		carry := byte(0)
		if c.F&flagC != 0 {
			carry = 1
		}
		res := uint16(a) + uint16(operand) + uint16(carry)
		h := (a&0x0F)+(operand&0x0F)+carry > 0x0F
		c.A = byte(res)
		c.setZNHC(c.A == 0, false, h, res > 0xFF)
	case 2: // SUB
		h := a&0x0F < operand&0x0F
		cy := a < operand
		c.A = a - operand
		c.setZNHC(c.A == 0, true, h, cy)
	case 3: // SBC
		carry := int16(0)
		if c.F&flagC != 0 {
			carry = 1
		}
		full := int16(a) - int16(operand) - carry
		h := int16(a&0x0F)-int16(operand&0x0F)-carry < 0
		c.A = byte(full)
		c.setZNHC(c.A == 0, true, h, full < 0)
	case 4: // AND
		c.A &= operand
		c.setZNHC(c.A == 0, false, true, false)
	case 5: // XOR
		c.A ^= operand
		c.setZNHC(c.A == 0, false, false, false)
	case 6: // OR
		c.A |= operand
		c.setZNHC(c.A == 0, false, false, false)
	default: // CP
		h := a&0x0F < operand&0x0F
		cy := a < operand
		c.setZNHC(a == operand, true, h, cy)
	}
}

type cpuState struct {
	A, F, B, C, D, E, H, L       byte
	SP, PC                       uint16
	IME, Halted, Stopped, Locked bool
	EIDelay                      int
	HaltBugPending               bool
}

func (c *CPU) SaveState() cpuState {
	return cpuState{
		c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L, c.SP, c.PC,
		c.IME, c.halted, c.stopped, c.locked, c.eiDelay, c.haltBugPending,
	}
}

func (c *CPU) LoadState(s cpuState) {
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.IME, c.halted, c.stopped, c.locked = s.IME, s.Halted, s.Stopped, s.Locked
	c.eiDelay, c.haltBugPending = s.EIDelay, s.HaltBugPending
}
