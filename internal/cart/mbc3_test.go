package cart

import "testing"

func TestMBC3_RTC_LatchAndRead(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)

	m.Write(0x0000, 0x0A) // RAM enable
	m.rtc.S, m.rtc.M, m.rtc.H = 5, 6, 7
	m.rtc.DL, m.rtc.DH = 0x01, 0x01

	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01) // latch handshake

	m.Write(0x4000, 0x08) // select seconds
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched sec got %d want 5", got)
	}

	m.rtc.S = 30 // live register changes; latch must not move
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched sec changed unexpectedly: got %d", got)
	}

	m.Write(0x4000, 0x0B)
	if got := m.Read(0xA000); got != 0x01 {
		t.Fatalf("latched day low got %02X want 01", got)
	}
	m.Write(0x4000, 0x0C)
	if got := m.Read(0xA000); got&0x01 == 0 {
		t.Fatalf("latched day-high bit not set")
	}
}

func TestMBC3_RTC_AdvancesWithCycles(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtc.S, m.rtc.M, m.rtc.H = 30, 59, 23
	m.rtc.DL, m.rtc.DH = 0xFF, 0x01 // day 0x1FF, the max value

	m.Tick(20 * dmgCyclesPerSecond)
	if m.rtc.S != 50 || m.rtc.M != 59 {
		t.Fatalf("rtc +20s got sec=%d min=%d", m.rtc.S, m.rtc.M)
	}

	m.Tick(60 * dmgCyclesPerSecond)
	if m.rtc.S != 50 || m.rtc.M != 0 || m.rtc.H != 0 {
		t.Fatalf("rtc +60s rollover got %02d:%02d:%02d", m.rtc.H, m.rtc.M, m.rtc.S)
	}
	if m.rtc.DH&0x80 == 0 {
		t.Fatalf("day-counter carry flag not set after 0x1FF -> 0 wrap")
	}
}

func TestMBC3_RTC_HaltStopsAdvance(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtc.DH = 0x40 // halt bit set
	m.Tick(10 * dmgCyclesPerSecond)
	if m.rtc.S != 0 {
		t.Fatalf("halted RTC advanced: sec=%d", m.rtc.S)
	}
}

func TestMBC3_RTC_SaveLoadRoundtrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtc.S, m.rtc.M, m.rtc.H = 12, 34, 5

	data := m.SaveState()
	n := NewMBC3(rom, 0x2000, true)
	if err := n.LoadState(data); err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if n.rtc != m.rtc {
		t.Fatalf("rtc state mismatch after round trip: got %+v want %+v", n.rtc, m.rtc)
	}
}

func TestMBC3_NoRTC_RegisterSelectIgnored(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, false)
	m.Write(0x0000, 0x0A)
	m.Write(0x4000, 0x08) // would select RTC seconds if hasRTC
	m.Write(0xA000, 0x99)
	if got := m.Read(0xA000); got != 0x99 {
		t.Fatalf("non-RTC cart did not fall back to RAM bank 0: got %02X", got)
	}
}
