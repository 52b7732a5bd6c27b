package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 has a single 4-bit ROM bank register and 512x4-bit built-in RAM. The
// same 0x0000-0x3FFF write window both enables RAM and selects the bank,
// discriminated by address bit 8 (pandocs MBC2).
type MBC2 struct {
	rom []byte
	ram [512]byte // only the low nibble of each byte is meaningful

	romBank    byte
	ramEnabled bool
}

func NewMBC2(rom []byte) *MBC2 {
	return &MBC2{rom: rom, romBank: 1}
}

func (m *MBC2) romBankCount() int {
	n := len(m.rom) / 0x4000
	if n == 0 {
		n = 1
	}
	return n
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank) % m.romBankCount()
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[int(addr-0xA000)%512] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address selects RAM-enable vs ROM-bank-select.
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[int(addr-0xA000)%512] = value & 0x0F
	}
}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) { copy(m.ram[:], data) }

type mbc2State struct {
	RAM        [512]byte
	ROMBank    byte
	RAMEnabled bool
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{RAM: m.ram, ROMBank: m.romBank, RAMEnabled: m.ramEnabled})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) error {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.ram = s.RAM
	m.romBank, m.ramEnabled = s.ROMBank, s.RAMEnabled
	return nil
}
