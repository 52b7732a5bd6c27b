package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements 5-bit-low/2-bit-high ROM banking plus the banking-mode bit
// that decides whether the high bits also apply to the 0x0000-0x3FFF window
// and to RAM banking (pandocs MBC1).
type MBC1 struct {
	rom []byte
	ram []byte

	romBankLow5       byte // 0 is remapped to 1 on write
	ramBankOrRomHigh2 byte // RAM bank (mode 1) or ROM bank bits 5-6 (mode 0)
	ramEnabled        bool
	modeSelect        byte // 0: ROM banking (default), 1: RAM banking
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom, romBankLow5: 1}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC1) romBankCount() int {
	n := len(m.rom) / 0x4000
	if n == 0 {
		n = 1
	}
	return n
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		bank := 0
		if m.modeSelect == 1 {
			bank = int(m.ramBankOrRomHigh2&0x03) << 5
		}
		bank %= m.romBankCount()
		off := bank*0x4000 + int(addr)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.effectiveROMBank()) % m.romBankCount()
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		ramBank := 0
		if m.modeSelect == 1 {
			ramBank = int(m.ramBankOrRomHigh2 & 0x03)
		}
		off := (ramBank*0x2000 + int(addr-0xA000)) % len(m.ram)
		return m.ram[off]
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		m.romBankLow5 = value & 0x1F
		if m.romBankLow5 == 0 {
			m.romBankLow5 = 1
		}
	case addr < 0x6000:
		m.ramBankOrRomHigh2 = value & 0x03
	case addr < 0x8000:
		m.modeSelect = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		ramBank := 0
		if m.modeSelect == 1 {
			ramBank = int(m.ramBankOrRomHigh2 & 0x03)
		}
		off := (ramBank*0x2000 + int(addr-0xA000)) % len(m.ram)
		m.ram[off] = value
	}
}

// effectiveROMBank combines the high 2 bits (bank register's mode-0 role)
// with the low 5 bits. Low5 is never stored as 0 (Write remaps it to 1), so
// a register write of 0x00/0x20/0x40/0x60 always surfaces bank 1/0x21/0x41/0x61.
func (m *MBC1) effectiveROMBank() byte {
	high := m.ramBankOrRomHigh2 & 0x03
	return m.romBankLow5 | (high << 5)
}

func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) { copy(m.ram, data) }

type mbc1State struct {
	RAM        []byte
	Low5       byte
	High2      byte
	RAMEnabled bool
	ModeSelect byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc1State{
		RAM: m.ram, Low5: m.romBankLow5, High2: m.ramBankOrRomHigh2,
		RAMEnabled: m.ramEnabled, ModeSelect: m.modeSelect,
	})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) error {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	copy(m.ram, s.RAM)
	m.romBankLow5, m.ramBankOrRomHigh2 = s.Low5, s.High2
	m.ramEnabled, m.modeSelect = s.RAMEnabled, s.ModeSelect
	return nil
}
