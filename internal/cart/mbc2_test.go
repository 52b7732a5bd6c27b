package cart

import "testing"

func TestMBC2_ROMBanking(t *testing.T) {
	rom := make([]byte, 256*1024)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom)

	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default bank got %02X want 01", got)
	}
	m.Write(0x2100, 0x05) // address bit 8 set selects bank
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}
	m.Write(0x2100, 0x00) // 0 remaps to 1
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC2_BuiltinRAMIsNibbleWide(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom)

	m.Write(0x0000, 0x0A) // address bit 8 clear selects RAM enable
	m.Write(0xA000, 0xFF)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("nibble RAM readback got %02X want FF (upper nibble forced to F)", got)
	}
	m.Write(0xA000, 0x03)
	if got := m.Read(0xA000); got != 0xF3 {
		t.Fatalf("nibble RAM readback got %02X want F3", got)
	}
}

func TestMBC2_RAMDisabledReadsFF(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC2(rom)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}
}
