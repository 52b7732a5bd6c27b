package cart

import "testing"

func TestMBC1_ROMBanking(t *testing.T) {
	rom := make([]byte, 128*1024)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank1 read got %02X want 01", got)
	}

	m.Write(0x2000, 0x03)
	if got := m.Read(0x4000); got != 0x03 {
		t.Fatalf("bank3 read got %02X want 03", got)
	}

	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC1_RAMBanking_Mode1(t *testing.T) {
	rom := make([]byte, 128*1024)
	m := NewMBC1(rom, 32*1024)

	m.Write(0x0000, 0x0A) // RAM enable
	m.Write(0x6000, 0x01) // mode 1: RAM banking
	m.Write(0x4000, 0x02) // RAM bank 2

	m.Write(0xA000, 0x77)
	if got := m.Read(0xA000); got != 0x77 {
		t.Fatalf("RAM bank2 RW failed: got %02X", got)
	}

	// Switching back to bank 0 must not see bank 2's value.
	m.Write(0x4000, 0x00)
	if got := m.Read(0xA000); got == 0x77 {
		t.Fatalf("RAM bank0 unexpectedly aliases bank2's value")
	}
}

func TestMBC1_RAMDisabledReadsFF(t *testing.T) {
	rom := make([]byte, 32*1024)
	m := NewMBC1(rom, 8*1024)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}
}

func TestMBC1_SaveLoadState(t *testing.T) {
	rom := make([]byte, 128*1024)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 8*1024)
	m.Write(0x0000, 0x0A)
	m.Write(0x2000, 0x05)
	m.Write(0xA000, 0x42)

	blob := m.SaveState()
	n := NewMBC1(rom, 8*1024)
	if err := n.LoadState(blob); err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if got := n.Read(0x4000); got != 0x05 {
		t.Fatalf("restored bank got %02X want 05", got)
	}
	if got := n.Read(0xA000); got != 0x42 {
		t.Fatalf("restored RAM got %02X want 42", got)
	}
}
