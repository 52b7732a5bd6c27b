package cart

import (
	"bytes"
	"encoding/gob"
)

// dmgCyclesPerSecond is the DMG master clock rate the RTC crystal divider is
// driven from.
const dmgCyclesPerSecond = 4194304

// MBC3 implements ROM/RAM banking plus, when hasRTC is set, the MBC3+RTC
// real-time-clock registers (pandocs MBC3). The bank-select write window
// (0x4000-0x5FFF) is shared between RAM-bank-number and RTC-register-select:
// values 0x00-0x03 pick a RAM bank, 0x08-0x0C latch one of S/M/H/DL/DH onto
// the 0xA000-0xBFFF window.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	bankSel    byte // raw value last written to 0x4000-0x5FFF

	hasRTC bool
	rtc    rtcRegs
	// cycleAccum buffers sub-second cycle counts between Tick calls.
	cycleAccum int
	// latchPrev tracks the 0x00-then-0x01 latch handshake.
	latchPrev byte
}

type rtcRegs struct {
	S, M, H byte
	DL, DH  byte // DH: bit0 day-high, bit6 halt, bit7 day-carry

	LatchS, LatchM, LatchH, LatchDL, LatchDH byte
}

func NewMBC3(rom []byte, ramSize int, hasRTC bool) *MBC3 {
	m := &MBC3{rom: rom, romBank: 1, hasRTC: hasRTC}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC3) romBankCount() int {
	n := len(m.rom) / 0x4000
	if n == 0 {
		n = 1
	}
	return n
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank&0x7F) % m.romBankCount()
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if reg, ok := m.rtcRegisterSelected(); ok {
			return m.readLatchedReg(reg)
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		off := (int(m.bankSel&0x03)*0x2000 + int(addr-0xA000)) % len(m.ram)
		return m.ram[off]
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.bankSel = value
	case addr < 0x8000:
		if m.hasRTC && m.latchPrev == 0x00 && value == 0x01 {
			m.latchRegisters()
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if reg, ok := m.rtcRegisterSelected(); ok {
			m.writeLiveReg(reg, value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		off := (int(m.bankSel&0x03)*0x2000 + int(addr-0xA000)) % len(m.ram)
		m.ram[off] = value
	}
}

func (m *MBC3) rtcRegisterSelected() (byte, bool) {
	if !m.hasRTC || m.bankSel < 0x08 || m.bankSel > 0x0C {
		return 0, false
	}
	return m.bankSel, true
}

func (m *MBC3) latchRegisters() {
	m.rtc.LatchS, m.rtc.LatchM, m.rtc.LatchH = m.rtc.S, m.rtc.M, m.rtc.H
	m.rtc.LatchDL, m.rtc.LatchDH = m.rtc.DL, m.rtc.DH
}

func (m *MBC3) readLatchedReg(reg byte) byte {
	switch reg {
	case 0x08:
		return m.rtc.LatchS
	case 0x09:
		return m.rtc.LatchM
	case 0x0A:
		return m.rtc.LatchH
	case 0x0B:
		return m.rtc.LatchDL
	case 0x0C:
		return m.rtc.LatchDH
	default:
		return 0xFF
	}
}

func (m *MBC3) writeLiveReg(reg, value byte) {
	switch reg {
	case 0x08:
		m.rtc.S = value % 60
	case 0x09:
		m.rtc.M = value % 60
	case 0x0A:
		m.rtc.H = value % 24
	case 0x0B:
		m.rtc.DL = value
	case 0x0C:
		m.rtc.DH = value & 0xC1
	}
}

// Tick advances the RTC crystal divider by cpu cycles at the DMG clock rate.
// It is a no-op for carts without an RTC or while the clock is halted
// (DH bit6).
func (m *MBC3) Tick(cycles int) {
	if !m.hasRTC || m.rtc.DH&0x40 != 0 {
		return
	}
	m.cycleAccum += cycles
	for m.cycleAccum >= dmgCyclesPerSecond {
		m.cycleAccum -= dmgCyclesPerSecond
		m.advanceSecond()
	}
}

func (m *MBC3) advanceSecond() {
	m.rtc.S++
	if m.rtc.S < 60 {
		return
	}
	m.rtc.S = 0
	m.rtc.M++
	if m.rtc.M < 60 {
		return
	}
	m.rtc.M = 0
	m.rtc.H++
	if m.rtc.H < 24 {
		return
	}
	m.rtc.H = 0
	day := uint16(m.rtc.DL) | uint16(m.rtc.DH&0x01)<<8
	day++
	if day > 0x1FF {
		day = 0
		m.rtc.DH |= 0x80 // day counter carry
	}
	m.rtc.DL = byte(day & 0xFF)
	m.rtc.DH = (m.rtc.DH &^ 0x01) | byte((day>>8)&0x01)
}

func (m *MBC3) RTCSnapshot() RTCState {
	return RTCState{
		S: m.rtc.S, M: m.rtc.M, H: m.rtc.H, DL: m.rtc.DL, DH: m.rtc.DH,
		LatchS: m.rtc.LatchS, LatchM: m.rtc.LatchM, LatchH: m.rtc.LatchH,
		LatchDL: m.rtc.LatchDL, LatchDH: m.rtc.LatchDH,
	}
}

// RTCRestore restores a persisted RTC snapshot and fast-forwards the clock by
// the wall-clock seconds elapsed since it was captured, matching how
// battery-backed MBC3+RTC saves behave across emulator/host restarts.
func (m *MBC3) RTCRestore(s RTCState, now int64) {
	m.rtc = rtcRegs{
		S: s.S, M: s.M, H: s.H, DL: s.DL, DH: s.DH,
		LatchS: s.LatchS, LatchM: s.LatchM, LatchH: s.LatchH,
		LatchDL: s.LatchDL, LatchDH: s.LatchDH,
	}
	elapsed := now - s.LastUnixSeconds
	for ; elapsed > 0; elapsed-- {
		m.advanceSecond()
	}
}

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) { copy(m.ram, data) }

type mbc3State struct {
	RAM        []byte
	RAMEnabled bool
	ROMBank    byte
	BankSel    byte
	HasRTC     bool
	RTC        rtcRegs
	CycleAccum int
	LatchPrev  byte
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RAM: m.ram, RAMEnabled: m.ramEnabled, ROMBank: m.romBank, BankSel: m.bankSel,
		HasRTC: m.hasRTC, RTC: m.rtc, CycleAccum: m.cycleAccum, LatchPrev: m.latchPrev,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) error {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	copy(m.ram, s.RAM)
	m.ramEnabled, m.romBank, m.bankSel = s.RAMEnabled, s.ROMBank, s.BankSel
	m.hasRTC, m.rtc, m.cycleAccum, m.latchPrev = s.HasRTC, s.RTC, s.CycleAccum, s.LatchPrev
	return nil
}
